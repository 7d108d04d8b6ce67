package entity

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
	"github.com/Ramsey-B/partnermap/pkg/matching"
	"github.com/Ramsey-B/partnermap/pkg/models"
	"github.com/Ramsey-B/partnermap/pkg/tracing"
)

const table = "entities"

var columns = []string{"id", "master_entity_name", "alternate_names", "website", "batch_id", "created_at", "updated_at"}

// Repository handles entity persistence
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

func (r *Repository) Create(ctx context.Context, entity *models.Entity) (*models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.Create")
	defer span.End()

	if entity.ID == "" {
		entity.ID = uuid.New().String()
	}
	if entity.AlternateNames == nil {
		entity.AlternateNames = pq.StringArray{}
	}
	entity.CreatedAt = time.Now().UTC()
	entity.UpdatedAt = entity.CreatedAt

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto(table)
	sb.Cols(columns...)
	sb.Values(entity.ID, entity.MasterEntityName, entity.AlternateNames, entity.Website, entity.BatchID, entity.CreatedAt, entity.UpdatedAt)

	query, args := sb.Build()
	if _, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to create entity")
		return nil, database.QueryError(err, "failed to create entity")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"id": entity.ID, "name": entity.MasterEntityName}).Info("Created entity")
	return entity, nil
}

func (r *Repository) Get(ctx context.Context, id string) (*models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.Get")
	defer span.End()

	return r.get(ctx, id, false)
}

// GetForUpdate locks the entity row for the rest of the transaction on ctx.
func (r *Repository) GetForUpdate(ctx context.Context, id string) (*models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.GetForUpdate")
	defer span.End()

	return r.get(ctx, id, true)
}

func (r *Repository) get(ctx context.Context, id string, lock bool) (*models.Entity, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("entity %s not found", id))
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(sb.Equal("id", id))
	if lock {
		database.ForUpdate(sb)
	}

	query, args := sb.Build()
	var entity models.Entity
	if err := database.Conn(ctx, r.db).GetContext(ctx, &entity, query, args...); err != nil {
		if database.IsNoRows(err) {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("entity %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get entity")
		return nil, database.QueryError(err, "failed to get entity")
	}

	return &entity, nil
}

// FindByExactName returns the oldest entity whose master name equals name, or nil.
func (r *Repository) FindByExactName(ctx context.Context, name string) (*models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.FindByExactName")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(sb.Equal("master_entity_name", name))
	sb.OrderBy("created_at", "id")
	sb.Limit(1)

	query, args := sb.Build()
	var entities []models.Entity
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &entities, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to find entity by name")
		return nil, database.QueryError(err, "failed to find entity")
	}
	if len(entities) == 0 {
		return nil, nil
	}
	return &entities[0], nil
}

// LockName takes a transaction-scoped advisory lock on a master name so two
// transactions cannot both find no entity by that name and create one.
func (r *Repository) LockName(ctx context.Context, name string) error {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.LockName")
	defer span.End()

	if _, err := database.Conn(ctx, r.db).ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", name); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to lock entity name")
		return database.QueryError(err, "failed to lock entity name")
	}
	return nil
}

// List returns every entity ordered by creation.
func (r *Repository) List(ctx context.Context) ([]models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.List")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.OrderBy("created_at", "id")

	query, args := sb.Build()
	entities := []models.Entity{}
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &entities, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list entities")
		return nil, database.QueryError(err, "failed to list entities")
	}

	return entities, nil
}

// ListIDsByBatch returns the entities whose provenance is batchID.
func (r *Repository) ListIDsByBatch(ctx context.Context, batchID string) ([]string, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.ListIDsByBatch")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id")
	sb.From(table)
	sb.Where(sb.Equal("batch_id", batchID))

	query, args := sb.Build()
	ids := []string{}
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &ids, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list batch entities")
		return nil, database.QueryError(err, "failed to list batch entities")
	}
	return ids, nil
}

func (r *Repository) Update(ctx context.Context, id string, req models.UpdateEntityRequest) (*models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.Update")
	defer span.End()

	if req.IsEmpty() {
		return r.Get(ctx, id)
	}

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(table)
	assignments := []string{ub.Assign("updated_at", time.Now().UTC())}
	if req.MasterEntityName != nil {
		assignments = append(assignments, ub.Assign("master_entity_name", *req.MasterEntityName))
	}
	if req.AlternateNames != nil {
		assignments = append(assignments, ub.Assign("alternate_names", pq.StringArray(matching.UnionAliases(nil, "", *req.AlternateNames...))))
	}
	if req.Website != nil {
		assignments = append(assignments, ub.Assign("website", *req.Website))
	}
	ub.Set(assignments...)
	ub.Where(ub.Equal("id", id))

	if err := r.exec(ctx, ub, id, "failed to update entity"); err != nil {
		return nil, err
	}

	return r.Get(ctx, id)
}

// AddAliases appends names missing from the alias set in a single statement, so
// concurrent additions to the same entity all survive. The master name is never
// added as its own alias.
func (r *Repository) AddAliases(ctx context.Context, id string, aliases ...string) (*models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.AddAliases")
	defer span.End()

	aliases = matching.UnionAliases(nil, "", aliases...)
	if len(aliases) == 0 {
		return r.Get(ctx, id)
	}

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(table)
	ub.Set(
		fmt.Sprintf("alternate_names = alternate_names || ARRAY(SELECT a FROM unnest(%s::text[]) WITH ORDINALITY AS t(a, n) WHERE a <> master_entity_name AND NOT (a = ANY(alternate_names)) ORDER BY n)",
			ub.Var(pq.StringArray(aliases))),
		ub.Assign("updated_at", time.Now().UTC()),
	)
	ub.Where(ub.Equal("id", id))

	if err := r.exec(ctx, ub, id, "failed to add entity aliases"); err != nil {
		return nil, err
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"id": id, "aliases": aliases}).Debug("Added entity aliases")
	return r.Get(ctx, id)
}

// Rename sets the master name and replaces the alias set.
func (r *Repository) Rename(ctx context.Context, id, name string, aliases []string) (*models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.Rename")
	defer span.End()

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(table)
	ub.Set(
		ub.Assign("master_entity_name", name),
		ub.Assign("alternate_names", pq.StringArray(matching.UnionAliases(nil, name, aliases...))),
		ub.Assign("updated_at", time.Now().UTC()),
	)
	ub.Where(ub.Equal("id", id))

	if err := r.exec(ctx, ub, id, "failed to rename entity"); err != nil {
		return nil, err
	}

	return r.Get(ctx, id)
}

// Delete hard-deletes entities; their nodes cascade.
func (r *Repository) Delete(ctx context.Context, ids ...string) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.Delete")
	defer span.End()

	if len(ids) == 0 {
		return 0, nil
	}

	db := sqlbuilder.PostgreSQL.NewDeleteBuilder()
	db.DeleteFrom(table)
	db.Where(db.In("id", sqlbuilder.Flatten(ids)...))

	return r.delete(ctx, db, "failed to delete entities")
}

// ReassignShared moves batch entities that still own nodes onto the batch of
// their oldest remaining node, so deleting the batch's entities leaves them in
// place. Run it after the batch's own nodes are gone.
func (r *Repository) ReassignShared(ctx context.Context, batchID string) ([]string, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.ReassignShared")
	defer span.End()

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(table)
	ub.Set(
		"batch_id = (SELECT n.batch_id FROM nodes n WHERE n.entity_id = entities.id ORDER BY n.created_at, n.id LIMIT 1)",
		ub.Assign("updated_at", time.Now().UTC()),
	)
	ub.Where(
		ub.Equal("batch_id", batchID),
		"EXISTS (SELECT 1 FROM nodes n WHERE n.entity_id = entities.id)",
	)
	ub.SQL("RETURNING id")

	query, args := ub.Build()
	ids := []string{}
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &ids, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("batch_id", batchID).Error("Failed to reassign shared entities")
		return nil, database.QueryError(err, "failed to reassign shared entities")
	}

	if len(ids) > 0 {
		r.logger.WithContext(ctx).WithFields(map[string]any{"batch_id": batchID, "entity_ids": ids}).Debug("Reassigned shared entities")
	}
	return ids, nil
}

// DeleteByBatch removes entities created by a batch. Their nodes cascade.
func (r *Repository) DeleteByBatch(ctx context.Context, batchID string) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.DeleteByBatch")
	defer span.End()

	db := sqlbuilder.PostgreSQL.NewDeleteBuilder()
	db.DeleteFrom(table)
	db.Where(db.Equal("batch_id", batchID))

	return r.delete(ctx, db, "failed to delete batch entities")
}

func (r *Repository) exec(ctx context.Context, ub *sqlbuilder.UpdateBuilder, id, message string) error {
	query, args := ub.Build()
	result, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("id", id).Error(message)
		return database.QueryError(err, message)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("entity %s not found", id))
	}
	return nil
}

func (r *Repository) delete(ctx context.Context, db *sqlbuilder.DeleteBuilder, message string) (int, error) {
	query, args := db.Build()
	result, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error(message)
		return 0, database.QueryError(err, message)
	}

	rows, _ := result.RowsAffected()
	return int(rows), nil
}
