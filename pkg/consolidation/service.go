// Package consolidation proposes and applies merges of near-duplicate
// entities and nodes already in the registry.
package consolidation

import (
	"context"
	"net/http"
	"slices"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/partnermap/internal/repositories/node"
	"github.com/Ramsey-B/partnermap/pkg/events"
	"github.com/Ramsey-B/partnermap/pkg/graph"
	"github.com/Ramsey-B/partnermap/pkg/matching"
	"github.com/Ramsey-B/partnermap/pkg/metrics"
	"github.com/Ramsey-B/partnermap/pkg/models"
	"github.com/Ramsey-B/partnermap/pkg/redis"
	"github.com/Ramsey-B/partnermap/pkg/tracing"
)

// DefaultThreshold is the similarity a name must exceed to join a group.
const DefaultThreshold = 0.7

type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Locker interface {
	WithLock(ctx context.Context, fn func(ctx context.Context) error, keys ...string) error
}

type EntityStore interface {
	List(ctx context.Context) ([]models.Entity, error)
	GetForUpdate(ctx context.Context, id string) (*models.Entity, error)
	Rename(ctx context.Context, id, name string, aliases []string) (*models.Entity, error)
	Delete(ctx context.Context, ids ...string) (int, error)
}

type NodeStore interface {
	List(ctx context.Context, filter models.NodeFilter) ([]models.Node, error)
	GetForUpdate(ctx context.Context, id string) (*models.Node, error)
	Rename(ctx context.Context, id, name string, aliases []string) (*models.Node, error)
	Union(ctx context.Context, id string, add node.Additions) (*models.Node, error)
	Reparent(ctx context.Context, fromEntityIDs []string, toEntityID string) (int, error)
	RewriteEdges(ctx context.Context, fromIDs []string, toID string) (int, error)
	Delete(ctx context.Context, ids ...string) (int, error)
}

type Service struct {
	logger    ectologger.Logger
	tx        Transactor
	locker    Locker
	entities  EntityStore
	nodes     NodeStore
	emitter   *events.Emitter
	graph     graph.Projector
	threshold float64
}

func NewService(
	logger ectologger.Logger,
	tx Transactor,
	locker Locker,
	entities EntityStore,
	nodes NodeStore,
	emitter *events.Emitter,
	projector graph.Projector,
	threshold float64,
) *Service {
	if locker == nil {
		locker = redis.NoopLocker{}
	}
	if projector == nil {
		projector = graph.Noop{}
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Service{
		logger:    logger,
		tx:        tx,
		locker:    locker,
		entities:  entities,
		nodes:     nodes,
		emitter:   emitter,
		graph:     projector,
		threshold: threshold,
	}
}

func (s *Service) thresholdOr(threshold float64) float64 {
	if threshold > 0 {
		return threshold
	}
	return s.threshold
}

func entityName(e models.Entity) string              { return e.MasterEntityName }
func nodeName(n models.Node) string                  { return n.NodeName }
func nodeCategory(n models.Node) models.NodeCategory { return n.NodeCategory }

// ProposeEntityGroups groups entities whose master names are similar.
// Nothing is written.
func (s *Service) ProposeEntityGroups(ctx context.Context, threshold float64) ([]models.EntityMergeGroup, error) {
	ctx, span := tracing.StartSpan(ctx, "consolidation.Service.ProposeEntityGroups")
	defer span.End()

	entities, err := s.entities.List(ctx)
	if err != nil {
		return nil, err
	}

	groups := matching.GroupBySimilarity(entities, entityName, s.thresholdOr(threshold))
	out := make([]models.EntityMergeGroup, 0, len(groups))
	for _, g := range groups {
		names, existing := entityNames(g.Members())
		canonical, aliases := matching.ResolveCanonical(names, existing...)
		out = append(out, models.EntityMergeGroup{
			Master:        g.Master,
			Candidates:    g.Candidates,
			CanonicalName: canonical,
			Aliases:       aliases,
		})
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{"entities": len(entities), "groups": len(out)}).Debug("Proposed entity groups")
	return out, nil
}

// ProposeNodeGroups groups similar nodes within each category.
func (s *Service) ProposeNodeGroups(ctx context.Context, threshold float64) ([]models.NodeMergeGroup, error) {
	ctx, span := tracing.StartSpan(ctx, "consolidation.Service.ProposeNodeGroups")
	defer span.End()

	nodes, err := s.nodes.List(ctx, models.NodeFilter{})
	if err != nil {
		return nil, err
	}

	groups := matching.GroupByKey(nodes, nodeCategory, nodeName, s.thresholdOr(threshold))
	out := make([]models.NodeMergeGroup, 0, len(groups))
	for _, g := range groups {
		names, existing := nodeNames(g.Members())
		canonical, aliases := matching.ResolveCanonical(names, existing...)
		out = append(out, models.NodeMergeGroup{
			Category:      g.Master.NodeCategory,
			Master:        g.Master,
			Candidates:    g.Candidates,
			CanonicalName: canonical,
			Aliases:       aliases,
		})
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{"nodes": len(nodes), "groups": len(out)}).Debug("Proposed node groups")
	return out, nil
}

// MergeEntities folds candidates into master: their nodes move to master, their
// names become master aliases, and the candidates are deleted.
func (s *Service) MergeEntities(ctx context.Context, req models.MergeEntitiesRequest) (*models.EntityMergeResult, error) {
	ctx, span := tracing.StartSpan(ctx, "consolidation.Service.MergeEntities")
	defer span.End()

	candidateIDs, err := candidates(req.MasterID, req.CandidateIDs)
	if err != nil {
		return nil, err
	}

	result := &models.EntityMergeResult{}
	err = s.locker.WithLock(ctx, func(ctx context.Context) error {
		return s.tx.WithinTx(ctx, func(ctx context.Context) error {
			members, err := lockAll(ctx, s.entities.GetForUpdate, req.MasterID, candidateIDs)
			if err != nil {
				return err
			}

			names, existing := entityNames(members)
			canonical, aliases := resolve(names, req.CanonicalName, append(existing, req.Aliases...))

			if result.NodesReparented, err = s.nodes.Reparent(ctx, candidateIDs, req.MasterID); err != nil {
				return err
			}
			if result.EntitiesDeleted, err = s.entities.Delete(ctx, candidateIDs...); err != nil {
				return err
			}

			master, err := s.entities.Rename(ctx, req.MasterID, canonical, aliases)
			if err != nil {
				return err
			}
			result.Master = *master
			return nil
		})
	}, targetKeys(req.MasterID, candidateIDs)...)
	if err != nil {
		return nil, err
	}

	metrics.RecordMerge("entity")
	s.emitter.EntityMerged(ctx, events.EntityMergedData{
		MasterID:        req.MasterID,
		MergedIDs:       candidateIDs,
		CanonicalName:   result.Master.MasterEntityName,
		NodesReparented: result.NodesReparented,
	})

	s.project(ctx, s.graph.UpsertEntities(ctx, result.Master))
	if result.NodesReparented > 0 {
		if owned, err := s.nodes.List(ctx, models.NodeFilter{EntityID: req.MasterID}); err == nil {
			s.project(ctx, s.graph.UpsertNodes(ctx, owned...))
		}
	}
	s.project(ctx, s.graph.DeleteEntities(ctx, candidateIDs...))

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"master_id":        req.MasterID,
		"candidate_ids":    candidateIDs,
		"canonical_name":   result.Master.MasterEntityName,
		"nodes_reparented": result.NodesReparented,
	}).Info("Merged entities")

	return result, nil
}

// MergeNodes folds candidates into master. Aliases, tags and outgoing edges
// are unioned into master; edges pointing at a candidate are rewritten to
// master and self-edges dropped.
func (s *Service) MergeNodes(ctx context.Context, req models.MergeNodesRequest) (*models.NodeMergeResult, error) {
	ctx, span := tracing.StartSpan(ctx, "consolidation.Service.MergeNodes")
	defer span.End()

	candidateIDs, err := candidates(req.MasterID, req.CandidateIDs)
	if err != nil {
		return nil, err
	}

	result := &models.NodeMergeResult{}
	err = s.locker.WithLock(ctx, func(ctx context.Context) error {
		return s.tx.WithinTx(ctx, func(ctx context.Context) error {
			members, err := lockAll(ctx, s.nodes.GetForUpdate, req.MasterID, candidateIDs)
			if err != nil {
				return err
			}

			add := node.Additions{}
			for _, m := range members[1:] {
				if m.NodeCategory != members[0].NodeCategory {
					return httperror.NewHTTPErrorf(http.StatusBadRequest, "node %s is %s, master is %s", m.ID, m.NodeCategory, members[0].NodeCategory).
						AddMetaValue("node_id", m.ID)
				}
				add.ConnectsTo = append(add.ConnectsTo, m.ConnectsTo...)
				add.Protocols = append(add.Protocols, m.ProtocolsSupported...)
				add.DataTypes = append(add.DataTypes, m.DataTypesSupported...)
			}

			names, existing := nodeNames(members)
			canonical, aliases := resolve(names, req.CanonicalName, existing)

			if _, err := s.nodes.Rename(ctx, req.MasterID, canonical, aliases); err != nil {
				return err
			}
			if _, err := s.nodes.Union(ctx, req.MasterID, add); err != nil {
				return err
			}
			if result.EdgesRewritten, err = s.nodes.RewriteEdges(ctx, candidateIDs, req.MasterID); err != nil {
				return err
			}
			if result.NodesDeleted, err = s.nodes.Delete(ctx, candidateIDs...); err != nil {
				return err
			}

			master, err := s.nodes.GetForUpdate(ctx, req.MasterID)
			if err != nil {
				return err
			}
			result.Master = *master
			return nil
		})
	}, targetKeys(req.MasterID, candidateIDs)...)
	if err != nil {
		return nil, err
	}

	metrics.RecordMerge("node")
	s.emitter.NodeMerged(ctx, events.NodeMergedData{
		MasterID:       req.MasterID,
		MergedIDs:      candidateIDs,
		CanonicalName:  result.Master.NodeName,
		EdgesRewritten: result.EdgesRewritten,
	})

	s.project(ctx, s.graph.DeleteNodes(ctx, candidateIDs...))
	touched := []models.Node{result.Master}
	if result.EdgesRewritten > 0 {
		if all, err := s.nodes.List(ctx, models.NodeFilter{}); err == nil {
			for _, n := range all {
				if n.ID != req.MasterID && slices.Contains(n.ConnectsTo, req.MasterID) {
					touched = append(touched, n)
				}
			}
		}
	}
	s.project(ctx, s.graph.UpsertNodes(ctx, touched...))

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"master_id":       req.MasterID,
		"candidate_ids":   candidateIDs,
		"canonical_name":  result.Master.NodeName,
		"edges_rewritten": result.EdgesRewritten,
	}).Info("Merged nodes")

	return result, nil
}

// CanonicalizeEntity re-resolves one entity's master name from its own names.
func (s *Service) CanonicalizeEntity(ctx context.Context, id string) (*models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "consolidation.Service.CanonicalizeEntity")
	defer span.End()

	var entity *models.Entity
	err := s.locker.WithLock(ctx, func(ctx context.Context) error {
		return s.tx.WithinTx(ctx, func(ctx context.Context) error {
			current, err := s.entities.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}

			canonical, aliases := matching.ResolveCanonical(current.Names())
			if canonical == current.MasterEntityName && slices.Equal(aliases, []string(current.AlternateNames)) {
				entity = current
				return nil
			}

			entity, err = s.entities.Rename(ctx, id, canonical, aliases)
			return err
		})
	}, redis.TargetKey(id))
	if err != nil {
		return nil, err
	}

	s.emitter.EntityUpdated(ctx, entity)
	s.project(ctx, s.graph.UpsertEntities(ctx, *entity))
	return entity, nil
}

func (s *Service) project(ctx context.Context, err error) {
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Warn("Graph projection is behind")
	}
}

// candidates validates and de-duplicates candidate ids.
func candidates(masterID string, ids []string) ([]string, error) {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == masterID {
			return nil, httperror.NewHTTPError(http.StatusBadRequest, "master_id cannot also be a candidate")
		}
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	if len(out) == 0 {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "at least one candidate is required")
	}
	return out, nil
}

// lockAll row-locks every member in id order so overlapping merges cannot
// deadlock, then returns them master first in request order.
func lockAll[T any](ctx context.Context, get func(context.Context, string) (*T, error), masterID string, candidateIDs []string) ([]T, error) {
	ids := append([]string{masterID}, candidateIDs...)
	locked := make(map[string]T, len(ids))
	for _, id := range slices.Sorted(slices.Values(ids)) {
		m, err := get(ctx, id)
		if err != nil {
			return nil, err
		}
		locked[id] = *m
	}

	members := make([]T, 0, len(ids))
	for _, id := range ids {
		members = append(members, locked[id])
	}
	return members, nil
}

func targetKeys(masterID string, candidateIDs []string) []string {
	keys := []string{redis.TargetKey(masterID)}
	for _, id := range candidateIDs {
		keys = append(keys, redis.TargetKey(id))
	}
	return keys
}

// resolve applies the canonical-name rule unless the caller chose a name. A
// chosen name still keeps every other name as an alias.
func resolve(names []string, chosen string, existing []string) (string, []string) {
	if chosen == "" {
		return matching.ResolveCanonical(names, existing...)
	}
	all := append(slices.Clone(names), existing...)
	return chosen, matching.UnionAliases(nil, chosen, all...)
}

func entityNames(members []models.Entity) (names, aliases []string) {
	for _, m := range members {
		names = append(names, m.MasterEntityName)
		aliases = append(aliases, m.AlternateNames...)
	}
	return names, aliases
}

func nodeNames(members []models.Node) (names, aliases []string) {
	for _, m := range members {
		names = append(names, m.NodeName)
		aliases = append(aliases, m.NodeAliases...)
	}
	return names, aliases
}
