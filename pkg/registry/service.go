// Package registry serves direct reads and edits of entities and nodes.
package registry

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/partnermap/pkg/events"
	"github.com/Ramsey-B/partnermap/pkg/graph"
	"github.com/Ramsey-B/partnermap/pkg/models"
	"github.com/Ramsey-B/partnermap/pkg/redis"
	"github.com/Ramsey-B/partnermap/pkg/tracing"
)

type Locker interface {
	WithLock(ctx context.Context, fn func(ctx context.Context) error, keys ...string) error
}

type EntityStore interface {
	List(ctx context.Context) ([]models.Entity, error)
	Get(ctx context.Context, id string) (*models.Entity, error)
	Update(ctx context.Context, id string, req models.UpdateEntityRequest) (*models.Entity, error)
	AddAliases(ctx context.Context, id string, aliases ...string) (*models.Entity, error)
}

type NodeStore interface {
	List(ctx context.Context, filter models.NodeFilter) ([]models.Node, error)
	Get(ctx context.Context, id string) (*models.Node, error)
	Update(ctx context.Context, id string, req models.UpdateNodeRequest) (*models.Node, error)
	AddAliases(ctx context.Context, id string, aliases ...string) (*models.Node, error)
}

type Service struct {
	logger   ectologger.Logger
	locker   Locker
	entities EntityStore
	nodes    NodeStore
	emitter  *events.Emitter
	graph    graph.Projector
}

func NewService(logger ectologger.Logger, locker Locker, entities EntityStore, nodes NodeStore, emitter *events.Emitter, projector graph.Projector) *Service {
	if locker == nil {
		locker = redis.NoopLocker{}
	}
	if projector == nil {
		projector = graph.Noop{}
	}
	return &Service{
		logger:   logger,
		locker:   locker,
		entities: entities,
		nodes:    nodes,
		emitter:  emitter,
		graph:    projector,
	}
}

func (s *Service) ListEntities(ctx context.Context) (*models.EntityListResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "registry.Service.ListEntities")
	defer span.End()

	entities, err := s.entities.List(ctx)
	if err != nil {
		return nil, err
	}
	return &models.EntityListResponse{Items: entities, TotalCount: len(entities)}, nil
}

func (s *Service) GetEntity(ctx context.Context, id string) (*models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "registry.Service.GetEntity")
	defer span.End()

	return s.entities.Get(ctx, id)
}

// UpdateEntity applies a partial update. Supplied alternate_names replace the
// alias set.
func (s *Service) UpdateEntity(ctx context.Context, id string, req models.UpdateEntityRequest) (*models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "registry.Service.UpdateEntity")
	defer span.End()

	var entity *models.Entity
	err := s.locker.WithLock(ctx, func(ctx context.Context) error {
		var err error
		entity, err = s.entities.Update(ctx, id, req)
		return err
	}, redis.TargetKey(id))
	if err != nil {
		return nil, err
	}

	s.entityChanged(ctx, entity)
	return entity, nil
}

// AddEntityAliases unions names into the alias set.
func (s *Service) AddEntityAliases(ctx context.Context, id string, aliases []string) (*models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "registry.Service.AddEntityAliases")
	defer span.End()

	entity, err := s.entities.AddAliases(ctx, id, aliases...)
	if err != nil {
		return nil, err
	}

	s.entityChanged(ctx, entity)
	return entity, nil
}

func (s *Service) ListNodes(ctx context.Context, filter models.NodeFilter) (*models.NodeListResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "registry.Service.ListNodes")
	defer span.End()

	nodes, err := s.nodes.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	return &models.NodeListResponse{Items: nodes, TotalCount: len(nodes)}, nil
}

func (s *Service) GetNode(ctx context.Context, id string) (*models.Node, error) {
	ctx, span := tracing.StartSpan(ctx, "registry.Service.GetNode")
	defer span.End()

	return s.nodes.Get(ctx, id)
}

func (s *Service) UpdateNode(ctx context.Context, id string, req models.UpdateNodeRequest) (*models.Node, error) {
	ctx, span := tracing.StartSpan(ctx, "registry.Service.UpdateNode")
	defer span.End()

	var node *models.Node
	err := s.locker.WithLock(ctx, func(ctx context.Context) error {
		var err error
		node, err = s.nodes.Update(ctx, id, req)
		return err
	}, redis.TargetKey(id))
	if err != nil {
		return nil, err
	}

	s.nodeChanged(ctx, node)
	return node, nil
}

func (s *Service) AddNodeAliases(ctx context.Context, id string, aliases []string) (*models.Node, error) {
	ctx, span := tracing.StartSpan(ctx, "registry.Service.AddNodeAliases")
	defer span.End()

	node, err := s.nodes.AddAliases(ctx, id, aliases...)
	if err != nil {
		return nil, err
	}

	s.nodeChanged(ctx, node)
	return node, nil
}

func (s *Service) entityChanged(ctx context.Context, entity *models.Entity) {
	s.emitter.EntityUpdated(ctx, entity)
	if err := s.graph.UpsertEntities(ctx, *entity); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("entity_id", entity.ID).Warn("Graph projection is behind")
	}
}

func (s *Service) nodeChanged(ctx context.Context, node *models.Node) {
	s.emitter.NodeUpdated(ctx, node)
	if err := s.graph.UpsertNodes(ctx, *node); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("node_id", node.ID).Warn("Graph projection is behind")
	}
}
