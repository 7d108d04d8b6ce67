package batch

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/partnermap/pkg/database"
	"github.com/Ramsey-B/partnermap/pkg/models"
	"github.com/Ramsey-B/partnermap/pkg/tracing"
)

const table = "batches"

var columns = []string{
	"id", "name", "status", "total_records", "processed_records", "error_records", "error_report",
	"created_by", "created_at", "completed_at",
}

type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

func (r *Repository) Create(ctx context.Context, batch *models.Batch) (*models.Batch, error) {
	ctx, span := tracing.StartSpan(ctx, "batch.Repository.Create")
	defer span.End()

	if batch.ID == "" {
		batch.ID = uuid.New().String()
	}
	if batch.Status == "" {
		batch.Status = models.BatchStatusPending
	}
	batch.CreatedAt = time.Now().UTC()

	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto(table)
	ib.Cols(columns...)
	ib.Values(batch.ID, batch.Name, batch.Status, batch.TotalRecords, batch.ProcessedRecords, batch.ErrorRecords,
		batch.ErrorReport, batch.CreatedBy, batch.CreatedAt, batch.CompletedAt)

	query, args := ib.Build()
	if _, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to create batch")
		return nil, database.QueryError(err, "failed to create batch")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"batch_id": batch.ID,
		"total":    batch.TotalRecords,
		"errors":   batch.ErrorRecords,
	}).Info("Created batch")
	return batch, nil
}

func (r *Repository) Get(ctx context.Context, id string) (*models.Batch, error) {
	ctx, span := tracing.StartSpan(ctx, "batch.Repository.Get")
	defer span.End()

	return r.get(ctx, id, false)
}

// GetForUpdate locks the batch row; decisions and rollback take this lock first.
func (r *Repository) GetForUpdate(ctx context.Context, id string) (*models.Batch, error) {
	ctx, span := tracing.StartSpan(ctx, "batch.Repository.GetForUpdate")
	defer span.End()

	return r.get(ctx, id, true)
}

func (r *Repository) get(ctx context.Context, id string, lock bool) (*models.Batch, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("batch %s not found", id))
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(sb.Equal("id", id))
	if lock {
		database.ForUpdate(sb)
	}

	query, args := sb.Build()
	var batch models.Batch
	if err := database.Conn(ctx, r.db).GetContext(ctx, &batch, query, args...); err != nil {
		if database.IsNoRows(err) {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("batch %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get batch")
		return nil, database.QueryError(err, "failed to get batch")
	}

	return &batch, nil
}

// List returns batches newest first.
func (r *Repository) List(ctx context.Context) ([]models.Batch, error) {
	ctx, span := tracing.StartSpan(ctx, "batch.Repository.List")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.OrderBy("created_at").Desc()

	query, args := sb.Build()
	batches := []models.Batch{}
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &batches, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list batches")
		return nil, database.QueryError(err, "failed to list batches")
	}

	return batches, nil
}

// Transition moves the batch from one status to another. The update is
// conditional on the current status so racing transitions cannot both win.
// A nil report leaves error_report untouched.
func (r *Repository) Transition(ctx context.Context, id string, from, to models.BatchStatus, report *models.ErrorReport) (*models.Batch, error) {
	ctx, span := tracing.StartSpan(ctx, "batch.Repository.Transition")
	defer span.End()

	if !from.CanTransitionTo(to) {
		return nil, httperror.NewHTTPErrorf(http.StatusConflict, "batch cannot move from %s to %s", from, to)
	}

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(table)
	assignments := []string{
		ub.Assign("status", to),
		ub.Assign("completed_at", time.Now().UTC()),
	}
	if report != nil {
		assignments = append(assignments, ub.Assign("error_report", database.NewJSONB(report)))
	}
	ub.Set(assignments...)
	ub.Where(
		ub.Equal("id", id),
		ub.Equal("status", from),
	)

	query, args := ub.Build()
	result, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to update batch status")
		return nil, database.QueryError(err, "failed to update batch status")
	}

	if rows, _ := result.RowsAffected(); rows == 0 {
		return nil, httperror.NewHTTPErrorf(http.StatusConflict, "batch %s is no longer %s", id, from).
			AddMetaValue("batch_id", id)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"batch_id": id, "from": from, "to": to}).Info("Batch status changed")
	return r.Get(ctx, id)
}

// IncrementProcessed counts one decided record. It refuses once the counters
// would exceed total_records or the batch has left pending.
func (r *Repository) IncrementProcessed(ctx context.Context, id string) error {
	ctx, span := tracing.StartSpan(ctx, "batch.Repository.IncrementProcessed")
	defer span.End()

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(table)
	ub.Set(ub.Incr("processed_records"))
	ub.Where(
		ub.Equal("id", id),
		ub.Equal("status", models.BatchStatusPending),
		"processed_records + error_records < total_records",
	)

	query, args := ub.Build()
	result, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to increment processed records")
		return database.QueryError(err, "failed to update batch counters")
	}

	if rows, _ := result.RowsAffected(); rows == 0 {
		return httperror.NewHTTPErrorf(http.StatusConflict, "batch %s is not accepting decisions", id)
	}
	return nil
}

// CompleteIfDone marks a pending batch processed once every record is decided
// or invalid. It reports whether this call performed the transition.
func (r *Repository) CompleteIfDone(ctx context.Context, id string) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "batch.Repository.CompleteIfDone")
	defer span.End()

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(table)
	ub.Set(
		ub.Assign("status", models.BatchStatusProcessed),
		ub.Assign("completed_at", time.Now().UTC()),
	)
	ub.Where(
		ub.Equal("id", id),
		ub.Equal("status", models.BatchStatusPending),
		"processed_records + error_records >= total_records",
	)

	query, args := ub.Build()
	result, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to complete batch")
		return false, database.QueryError(err, "failed to complete batch")
	}

	rows, _ := result.RowsAffected()
	if rows > 0 {
		r.logger.WithContext(ctx).WithField("batch_id", id).Info("Batch fully processed")
	}
	return rows > 0, nil
}
