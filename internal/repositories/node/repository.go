package node

import (
	"context"
	"fmt"
	"net/http"
	"strings"
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

const table = "nodes"

var columns = []string{
	"id", "node_name", "entity_id", "node_category", "direction", "node_aliases", "connects_to", "is_active",
	"protocols_supported", "data_types_supported", "notes", "batch_id", "created_at", "updated_at",
}

// appends values of $n missing from column, preserving their order
const arrayUnionSQL = "%[1]s = %[1]s || ARRAY(SELECT v FROM unnest(%[2]s::text[]) WITH ORDINALITY AS t(v, n) WHERE %[3]s AND NOT (v = ANY(%[1]s)) ORDER BY n)"

// Repository handles node persistence
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

func (r *Repository) Create(ctx context.Context, node *models.Node) (*models.Node, error) {
	ctx, span := tracing.StartSpan(ctx, "node.Repository.Create")
	defer span.End()

	if node.ID == "" {
		node.ID = uuid.New().String()
	}
	for _, arr := range []*pq.StringArray{&node.NodeAliases, &node.ConnectsTo, &node.ProtocolsSupported, &node.DataTypesSupported} {
		if *arr == nil {
			*arr = pq.StringArray{}
		}
	}
	if node.Direction == "" {
		node.Direction = models.DirectionNone
	}
	node.CreatedAt = time.Now().UTC()
	node.UpdatedAt = node.CreatedAt

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto(table)
	sb.Cols(columns...)
	sb.Values(node.ID, node.NodeName, node.EntityID, node.NodeCategory, node.Direction, node.NodeAliases, node.ConnectsTo,
		node.IsActive, node.ProtocolsSupported, node.DataTypesSupported, node.Notes, node.BatchID, node.CreatedAt, node.UpdatedAt)

	query, args := sb.Build()
	if _, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		if database.IsForeignKeyViolation(err) {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("entity %s not found", node.EntityID))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to create node")
		return nil, database.QueryError(err, "failed to create node")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"id": node.ID, "entity_id": node.EntityID, "name": node.NodeName}).Info("Created node")
	return node, nil
}

func (r *Repository) Get(ctx context.Context, id string) (*models.Node, error) {
	ctx, span := tracing.StartSpan(ctx, "node.Repository.Get")
	defer span.End()

	return r.get(ctx, id, false)
}

// GetForUpdate locks the node row for the rest of the transaction on ctx.
func (r *Repository) GetForUpdate(ctx context.Context, id string) (*models.Node, error) {
	ctx, span := tracing.StartSpan(ctx, "node.Repository.GetForUpdate")
	defer span.End()

	return r.get(ctx, id, true)
}

func (r *Repository) get(ctx context.Context, id string, lock bool) (*models.Node, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("node %s not found", id))
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(sb.Equal("id", id))
	if lock {
		database.ForUpdate(sb)
	}

	query, args := sb.Build()
	var node models.Node
	if err := database.Conn(ctx, r.db).GetContext(ctx, &node, query, args...); err != nil {
		if database.IsNoRows(err) {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("node %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get node")
		return nil, database.QueryError(err, "failed to get node")
	}

	return &node, nil
}

// List returns nodes matching filter ordered by creation.
func (r *Repository) List(ctx context.Context, filter models.NodeFilter) ([]models.Node, error) {
	ctx, span := tracing.StartSpan(ctx, "node.Repository.List")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	var where []string
	if filter.Category != "" {
		where = append(where, sb.Equal("node_category", filter.Category))
	}
	if filter.EntityID != "" {
		where = append(where, sb.Equal("entity_id", filter.EntityID))
	}
	if len(where) > 0 {
		sb.Where(where...)
	}
	sb.OrderBy("created_at", "id")

	query, args := sb.Build()
	nodes := []models.Node{}
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &nodes, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list nodes")
		return nil, database.QueryError(err, "failed to list nodes")
	}

	return nodes, nil
}

// FindByName returns the node under entityID with the given name and category
// (case-insensitive), or nil.
func (r *Repository) FindByName(ctx context.Context, entityID, name string, category models.NodeCategory) (*models.Node, error) {
	ctx, span := tracing.StartSpan(ctx, "node.Repository.FindByName")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(
		sb.Equal("entity_id", entityID),
		sb.Equal("lower(node_name)", strings.ToLower(name)),
		sb.Equal("node_category", category),
	)
	sb.OrderBy("created_at", "id")
	sb.Limit(1)

	query, args := sb.Build()
	var nodes []models.Node
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &nodes, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to find node by name")
		return nil, database.QueryError(err, "failed to find node")
	}
	if len(nodes) == 0 {
		return nil, nil
	}
	return &nodes[0], nil
}

// ResolveNames maps each lowercased name to the id of the oldest node with that
// name. Names with no node are absent from the result.
func (r *Repository) ResolveNames(ctx context.Context, names []string) (map[string]string, error) {
	ctx, span := tracing.StartSpan(ctx, "node.Repository.ResolveNames")
	defer span.End()

	resolved := map[string]string{}
	if len(names) == 0 {
		return resolved, nil
	}

	lowered := make([]string, 0, len(names))
	for _, n := range names {
		lowered = append(lowered, strings.ToLower(n))
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "lower(node_name) AS name")
	sb.From(table)
	sb.Where(sb.In("lower(node_name)", sqlbuilder.Flatten(lowered)...))
	sb.OrderBy("created_at", "id")

	query, args := sb.Build()
	var rows []struct {
		ID   string `db:"id"`
		Name string `db:"name"`
	}
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to resolve node names")
		return nil, database.QueryError(err, "failed to resolve node names")
	}

	for _, row := range rows {
		if _, ok := resolved[row.Name]; !ok {
			resolved[row.Name] = row.ID
		}
	}
	return resolved, nil
}

func (r *Repository) Update(ctx context.Context, id string, req models.UpdateNodeRequest) (*models.Node, error) {
	ctx, span := tracing.StartSpan(ctx, "node.Repository.Update")
	defer span.End()

	if req.IsEmpty() {
		return r.Get(ctx, id)
	}

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(table)
	assignments := []string{ub.Assign("updated_at", time.Now().UTC())}
	if req.NodeName != nil {
		assignments = append(assignments, ub.Assign("node_name", *req.NodeName))
	}
	if req.EntityID != nil {
		assignments = append(assignments, ub.Assign("entity_id", *req.EntityID))
	}
	if req.NodeCategory != nil {
		assignments = append(assignments, ub.Assign("node_category", *req.NodeCategory))
	}
	if req.Direction != nil {
		assignments = append(assignments, ub.Assign("direction", *req.Direction))
	}
	if req.NodeAliases != nil {
		assignments = append(assignments, ub.Assign("node_aliases", pq.StringArray(matching.UnionAliases(nil, "", *req.NodeAliases...))))
	}
	if req.ConnectsTo != nil {
		assignments = append(assignments, ub.Assign("connects_to", pq.StringArray(matching.UnionAliases(nil, id, *req.ConnectsTo...))))
	}
	if req.IsActive != nil {
		assignments = append(assignments, ub.Assign("is_active", *req.IsActive))
	}
	if req.ProtocolsSupported != nil {
		assignments = append(assignments, ub.Assign("protocols_supported", pq.StringArray(matching.UnionAliases(nil, "", *req.ProtocolsSupported...))))
	}
	if req.DataTypesSupported != nil {
		assignments = append(assignments, ub.Assign("data_types_supported", pq.StringArray(matching.UnionAliases(nil, "", *req.DataTypesSupported...))))
	}
	if req.Notes != nil {
		assignments = append(assignments, ub.Assign("notes", *req.Notes))
	}
	ub.Set(assignments...)
	ub.Where(ub.Equal("id", id))

	if err := r.exec(ctx, ub, id, "failed to update node"); err != nil {
		if database.IsForeignKeyViolation(err) {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("entity %s not found", *req.EntityID))
		}
		return nil, err
	}

	return r.Get(ctx, id)
}

// AddAliases unions names into node_aliases in one statement; the node's own
// name is never added.
func (r *Repository) AddAliases(ctx context.Context, id string, aliases ...string) (*models.Node, error) {
	ctx, span := tracing.StartSpan(ctx, "node.Repository.AddAliases")
	defer span.End()

	return r.Union(ctx, id, Additions{Aliases: aliases})
}

// Additions are values unioned into a node's array columns.
type Additions struct {
	Aliases    []string
	ConnectsTo []string
	Protocols  []string
	DataTypes  []string
}

func (a Additions) empty() bool {
	return len(a.Aliases) == 0 && len(a.ConnectsTo) == 0 && len(a.Protocols) == 0 && len(a.DataTypes) == 0
}

// Union appends missing values to the node's array columns atomically.
func (r *Repository) Union(ctx context.Context, id string, add Additions) (*models.Node, error) {
	ctx, span := tracing.StartSpan(ctx, "node.Repository.Union")
	defer span.End()

	add = Additions{
		Aliases:    matching.UnionAliases(nil, "", add.Aliases...),
		ConnectsTo: matching.UnionAliases(nil, id, add.ConnectsTo...),
		Protocols:  matching.UnionAliases(nil, "", add.Protocols...),
		DataTypes:  matching.UnionAliases(nil, "", add.DataTypes...),
	}
	if add.empty() {
		return r.Get(ctx, id)
	}

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(table)
	assignments := []string{}
	if len(add.Aliases) > 0 {
		assignments = append(assignments, fmt.Sprintf(arrayUnionSQL, "node_aliases", ub.Var(pq.StringArray(add.Aliases)), "v <> node_name"))
	}
	if len(add.ConnectsTo) > 0 {
		assignments = append(assignments, fmt.Sprintf(arrayUnionSQL, "connects_to", ub.Var(pq.StringArray(add.ConnectsTo)), "v <> id::text"))
	}
	if len(add.Protocols) > 0 {
		assignments = append(assignments, fmt.Sprintf(arrayUnionSQL, "protocols_supported", ub.Var(pq.StringArray(add.Protocols)), "TRUE"))
	}
	if len(add.DataTypes) > 0 {
		assignments = append(assignments, fmt.Sprintf(arrayUnionSQL, "data_types_supported", ub.Var(pq.StringArray(add.DataTypes)), "TRUE"))
	}
	assignments = append(assignments, ub.Assign("updated_at", time.Now().UTC()))
	ub.Set(assignments...)
	ub.Where(ub.Equal("id", id))

	if err := r.exec(ctx, ub, id, "failed to update node arrays"); err != nil {
		return nil, err
	}

	return r.Get(ctx, id)
}

// Rename sets the node name and replaces its alias set.
func (r *Repository) Rename(ctx context.Context, id, name string, aliases []string) (*models.Node, error) {
	ctx, span := tracing.StartSpan(ctx, "node.Repository.Rename")
	defer span.End()

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(table)
	ub.Set(
		ub.Assign("node_name", name),
		ub.Assign("node_aliases", pq.StringArray(matching.UnionAliases(nil, name, aliases...))),
		ub.Assign("updated_at", time.Now().UTC()),
	)
	ub.Where(ub.Equal("id", id))

	if err := r.exec(ctx, ub, id, "failed to rename node"); err != nil {
		return nil, err
	}

	return r.Get(ctx, id)
}

// Reparent moves every node owned by fromEntityIDs to toEntityID.
func (r *Repository) Reparent(ctx context.Context, fromEntityIDs []string, toEntityID string) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "node.Repository.Reparent")
	defer span.End()

	if len(fromEntityIDs) == 0 {
		return 0, nil
	}

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(table)
	ub.Set(
		ub.Assign("entity_id", toEntityID),
		ub.Assign("updated_at", time.Now().UTC()),
	)
	ub.Where(ub.In("entity_id", sqlbuilder.Flatten(fromEntityIDs)...))

	return r.execCount(ctx, ub, "failed to reparent nodes")
}

// RewriteEdges points every connects_to entry naming one of fromIDs at toID,
// dropping duplicates and self-edges. Returns the number of nodes touched.
func (r *Repository) RewriteEdges(ctx context.Context, fromIDs []string, toID string) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "node.Repository.RewriteEdges")
	defer span.End()

	if len(fromIDs) == 0 {
		return 0, nil
	}

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(table)
	from := ub.Var(pq.StringArray(fromIDs))
	to := ub.Var(toID)
	ub.Set(
		fmt.Sprintf("connects_to = ARRAY(SELECT e FROM (SELECT CASE WHEN c = ANY(%[1]s::text[]) THEN %[2]s::text ELSE c END AS e, MIN(n) AS n FROM unnest(connects_to) WITH ORDINALITY AS t(c, n) GROUP BY 1) s WHERE e <> id::text ORDER BY n)", from, to),
		ub.Assign("updated_at", time.Now().UTC()),
	)
	ub.Where(fmt.Sprintf("connects_to && %s::text[]", ub.Var(pq.StringArray(fromIDs))))

	return r.execCount(ctx, ub, "failed to rewrite node edges")
}

func (r *Repository) Delete(ctx context.Context, ids ...string) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "node.Repository.Delete")
	defer span.End()

	if len(ids) == 0 {
		return 0, nil
	}

	db := sqlbuilder.PostgreSQL.NewDeleteBuilder()
	db.DeleteFrom(table)
	db.Where(db.In("id", sqlbuilder.Flatten(ids)...))

	return r.delete(ctx, db, "failed to delete nodes")
}

// DeleteByBatch removes nodes whose provenance is batchID.
func (r *Repository) DeleteByBatch(ctx context.Context, batchID string) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "node.Repository.DeleteByBatch")
	defer span.End()

	db := sqlbuilder.PostgreSQL.NewDeleteBuilder()
	db.DeleteFrom(table)
	db.Where(db.Equal("batch_id", batchID))

	return r.delete(ctx, db, "failed to delete batch nodes")
}

// ListIDsByBatch returns the nodes whose provenance is batchID.
func (r *Repository) ListIDsByBatch(ctx context.Context, batchID string) ([]string, error) {
	ctx, span := tracing.StartSpan(ctx, "node.Repository.ListIDsByBatch")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id")
	sb.From(table)
	sb.Where(sb.Equal("batch_id", batchID))

	query, args := sb.Build()
	ids := []string{}
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &ids, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list batch nodes")
		return nil, database.QueryError(err, "failed to list batch nodes")
	}
	return ids, nil
}

func (r *Repository) exec(ctx context.Context, ub *sqlbuilder.UpdateBuilder, id, message string) error {
	n, err := r.execCount(ctx, ub, message)
	if err != nil {
		return err
	}
	if n == 0 {
		return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("node %s not found", id))
	}
	return nil
}

func (r *Repository) execCount(ctx context.Context, ub *sqlbuilder.UpdateBuilder, message string) (int, error) {
	query, args := ub.Build()
	result, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return 0, err
		}
		r.logger.WithContext(ctx).WithError(err).Error(message)
		return 0, database.QueryError(err, message)
	}

	rows, _ := result.RowsAffected()
	return int(rows), nil
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
