package graph

import (
	"context"

	"github.com/Gobusters/ectologger"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/Ramsey-B/partnermap/pkg/metrics"
	"github.com/Ramsey-B/partnermap/pkg/models"
	"github.com/Ramsey-B/partnermap/pkg/tracing"
)

const upsertNodesCypher = `
	UNWIND $nodes AS row
	MERGE (e:Entity {id: row.entity_id})
	MERGE (n:PartnerNode {id: row.id})
	SET n.name = row.name,
		n.category = row.category,
		n.direction = row.direction,
		n.aliases = row.aliases,
		n.is_active = row.is_active,
		n.protocols = row.protocols,
		n.data_types = row.data_types
	WITH e, n, row
	OPTIONAL MATCH (:Entity)-[owned:OWNS]->(n)
	DELETE owned
	MERGE (e)-[:OWNS]->(n)
	WITH n, row
	OPTIONAL MATCH (n)-[old:CONNECTS_TO]->()
	DELETE old
	WITH n, row
	UNWIND row.connects_to AS target_id
	MATCH (t:PartnerNode {id: target_id})
	MERGE (n)-[:CONNECTS_TO]->(t)
`

const upsertEntitiesCypher = `
	UNWIND $entities AS row
	MERGE (e:Entity {id: row.id})
	SET e.name = row.name,
		e.aliases = row.aliases,
		e.website = row.website
`

const deleteNodesCypher = `
	MATCH (n:PartnerNode)
	WHERE n.id IN $ids
	DETACH DELETE n
`

const deleteEntitiesCypher = `
	MATCH (e:Entity)
	WHERE e.id IN $ids
	OPTIONAL MATCH (e)-[:OWNS]->(n:PartnerNode)
	DETACH DELETE n, e
`

// Projector mirrors registry writes into the graph.
type Projector interface {
	UpsertEntities(ctx context.Context, entities ...models.Entity) error
	UpsertNodes(ctx context.Context, nodes ...models.Node) error
	DeleteNodes(ctx context.Context, ids ...string) error
	DeleteEntities(ctx context.Context, ids ...string) error
}

// Projection writes the registry graph: (Entity)-[:OWNS]->(PartnerNode) and
// (PartnerNode)-[:CONNECTS_TO]->(PartnerNode). Edges to ids missing from the
// graph are skipped, matching the tolerance of dangling connects_to.
type Projection struct {
	client *Client
	logger ectologger.Logger
}

func NewProjection(client *Client, logger ectologger.Logger) *Projection {
	return &Projection{
		client: client,
		logger: logger,
	}
}

func (p *Projection) UpsertEntities(ctx context.Context, entities ...models.Entity) error {
	ctx, span := tracing.StartSpan(ctx, "graph.Projection.UpsertEntities")
	defer span.End()

	if len(entities) == 0 {
		return nil
	}
	return p.write(ctx, "upsert_entities", upsertEntitiesCypher, map[string]any{"entities": entityParams(entities)})
}

func (p *Projection) UpsertNodes(ctx context.Context, nodes ...models.Node) error {
	ctx, span := tracing.StartSpan(ctx, "graph.Projection.UpsertNodes")
	defer span.End()

	if len(nodes) == 0 {
		return nil
	}
	return p.write(ctx, "upsert_nodes", upsertNodesCypher, map[string]any{"nodes": nodeParams(nodes)})
}

func (p *Projection) DeleteNodes(ctx context.Context, ids ...string) error {
	ctx, span := tracing.StartSpan(ctx, "graph.Projection.DeleteNodes")
	defer span.End()

	if len(ids) == 0 {
		return nil
	}
	return p.write(ctx, "delete_nodes", deleteNodesCypher, map[string]any{"ids": ids})
}

// DeleteEntities removes entities and every node they own.
func (p *Projection) DeleteEntities(ctx context.Context, ids ...string) error {
	ctx, span := tracing.StartSpan(ctx, "graph.Projection.DeleteEntities")
	defer span.End()

	if len(ids) == 0 {
		return nil
	}
	return p.write(ctx, "delete_entities", deleteEntitiesCypher, map[string]any{"ids": ids})
}

func (p *Projection) write(ctx context.Context, operation, cypher string, params map[string]any) error {
	_, err := p.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})
	if err != nil {
		metrics.RecordGraphWrite(operation, "error")
		p.logger.WithContext(ctx).WithError(err).WithField("operation", operation).Error("Failed to write graph projection")
		return err
	}

	metrics.RecordGraphWrite(operation, "success")
	return nil
}

func entityParams(entities []models.Entity) []map[string]any {
	rows := make([]map[string]any, 0, len(entities))
	for _, e := range entities {
		rows = append(rows, map[string]any{
			"id":      e.ID,
			"name":    e.MasterEntityName,
			"aliases": toAny(e.AlternateNames),
			"website": e.Website,
		})
	}
	return rows
}

func nodeParams(nodes []models.Node) []map[string]any {
	rows := make([]map[string]any, 0, len(nodes))
	for _, n := range nodes {
		rows = append(rows, map[string]any{
			"id":          n.ID,
			"entity_id":   n.EntityID,
			"name":        n.NodeName,
			"category":    string(n.NodeCategory),
			"direction":   string(n.Direction),
			"aliases":     toAny(n.NodeAliases),
			"is_active":   n.IsActive,
			"protocols":   toAny(n.ProtocolsSupported),
			"data_types":  toAny(n.DataTypesSupported),
			"connects_to": toAny(n.ConnectsTo),
		})
	}
	return rows
}

// the bolt packer only accepts []any for list parameters nested in maps
func toAny(values []string) []any {
	out := make([]any, 0, len(values))
	for _, v := range values {
		out = append(out, v)
	}
	return out
}

// Noop is used when the graph projection is disabled.
type Noop struct{}

func (Noop) UpsertEntities(context.Context, ...models.Entity) error { return nil }
func (Noop) UpsertNodes(context.Context, ...models.Node) error      { return nil }
func (Noop) DeleteNodes(context.Context, ...string) error           { return nil }
func (Noop) DeleteEntities(context.Context, ...string) error        { return nil }
