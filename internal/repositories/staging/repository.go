package staging

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"
	"github.com/lib/pq"

	"github.com/Ramsey-B/partnermap/pkg/database"
	"github.com/Ramsey-B/partnermap/pkg/models"
	"github.com/Ramsey-B/partnermap/pkg/tracing"
)

const table = "staging_nodes"

// rows per INSERT; keeps each statement under the 65535 bind parameter limit
const insertChunkSize = 500

var columns = []string{
	"id", "batch_id", "row_number", "node_name", "website", "entity_name", "node_category", "direction", "notes",
	"connect_targets", "protocols_supported", "data_types_supported", "decision", "decided_at", "decided_by",
	"result_entity_id", "result_node_id", "created_at",
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

// CreateMany inserts the batch's valid rows, assigning ids and a pending decision.
func (r *Repository) CreateMany(ctx context.Context, batchID string, rows []models.StagingNode) ([]models.StagingNode, error) {
	ctx, span := tracing.StartSpan(ctx, "staging.Repository.CreateMany")
	defer span.End()

	now := time.Now().UTC()
	for i := range rows {
		row := &rows[i]
		row.ID = uuid.New().String()
		row.BatchID = batchID
		row.Decision = models.StagingDecisionPending
		row.CreatedAt = now
		for _, arr := range []*pq.StringArray{&row.ConnectTargets, &row.ProtocolsSupported, &row.DataTypesSupported} {
			if *arr == nil {
				*arr = pq.StringArray{}
			}
		}
	}

	for start := 0; start < len(rows); start += insertChunkSize {
		end := min(start+insertChunkSize, len(rows))

		ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
		ib.InsertInto(table)
		ib.Cols(columns...)
		for _, row := range rows[start:end] {
			ib.Values(row.ID, row.BatchID, row.RowNumber, row.NodeName, row.Website, row.EntityName, row.NodeCategory,
				row.Direction, row.Notes, row.ConnectTargets, row.ProtocolsSupported, row.DataTypesSupported,
				row.Decision, row.DecidedAt, row.DecidedBy, row.ResultEntityID, row.ResultNodeID, row.CreatedAt)
		}

		query, args := ib.Build()
		if _, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
			if database.IsUniqueViolation(err) {
				return nil, httperror.NewHTTPError(http.StatusConflict, fmt.Sprintf("batch %s already has staged rows", batchID))
			}
			r.logger.WithContext(ctx).WithError(err).WithField("batch_id", batchID).Error("Failed to insert staging nodes")
			return nil, database.QueryError(err, "failed to create staging nodes")
		}
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"batch_id": batchID, "count": len(rows)}).Debug("Staged rows")
	return rows, nil
}

func (r *Repository) Get(ctx context.Context, id string) (*models.StagingNode, error) {
	ctx, span := tracing.StartSpan(ctx, "staging.Repository.Get")
	defer span.End()

	return r.get(ctx, id, false)
}

// GetForUpdate locks the staging row so concurrent decisions on it serialise.
func (r *Repository) GetForUpdate(ctx context.Context, id string) (*models.StagingNode, error) {
	ctx, span := tracing.StartSpan(ctx, "staging.Repository.GetForUpdate")
	defer span.End()

	return r.get(ctx, id, true)
}

func (r *Repository) get(ctx context.Context, id string, lock bool) (*models.StagingNode, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("staging node %s not found", id))
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(sb.Equal("id", id))
	if lock {
		database.ForUpdate(sb)
	}

	query, args := sb.Build()
	var row models.StagingNode
	if err := database.Conn(ctx, r.db).GetContext(ctx, &row, query, args...); err != nil {
		if database.IsNoRows(err) {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("staging node %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get staging node")
		return nil, database.QueryError(err, "failed to get staging node")
	}

	return &row, nil
}

// ListByBatch returns the batch's staging rows in upload order.
func (r *Repository) ListByBatch(ctx context.Context, batchID string) ([]models.StagingNode, error) {
	ctx, span := tracing.StartSpan(ctx, "staging.Repository.ListByBatch")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(sb.Equal("batch_id", batchID))
	sb.OrderBy("row_number")

	query, args := sb.Build()
	rows := []models.StagingNode{}
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list staging nodes")
		return nil, database.QueryError(err, "failed to list staging nodes")
	}

	return rows, nil
}

// SetOutcome records a decision. It only applies to rows still pending, so a
// replayed decision leaves the first outcome intact and returns 409.
func (r *Repository) SetOutcome(ctx context.Context, id string, outcome models.StagingOutcome) error {
	ctx, span := tracing.StartSpan(ctx, "staging.Repository.SetOutcome")
	defer span.End()

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(table)
	ub.Set(
		ub.Assign("decision", outcome.Decision),
		ub.Assign("decided_at", time.Now().UTC()),
		ub.Assign("decided_by", outcome.DecidedBy),
		ub.Assign("result_entity_id", outcome.ResultEntityID),
		ub.Assign("result_node_id", outcome.ResultNodeID),
	)
	ub.Where(
		ub.Equal("id", id),
		ub.Equal("decision", models.StagingDecisionPending),
	)

	query, args := ub.Build()
	result, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to record staging decision")
		return database.QueryError(err, "failed to record staging decision")
	}

	if rows, _ := result.RowsAffected(); rows == 0 {
		return httperror.NewHTTPError(http.StatusConflict, fmt.Sprintf("staging node %s already decided", id))
	}
	return nil
}

func (r *Repository) DeleteByBatch(ctx context.Context, batchID string) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "staging.Repository.DeleteByBatch")
	defer span.End()

	db := sqlbuilder.PostgreSQL.NewDeleteBuilder()
	db.DeleteFrom(table)
	db.Where(db.Equal("batch_id", batchID))

	query, args := db.Build()
	result, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to delete staging nodes")
		return 0, database.QueryError(err, "failed to delete staging nodes")
	}

	rows, _ := result.RowsAffected()
	return int(rows), nil
}
