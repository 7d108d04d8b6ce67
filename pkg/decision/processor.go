// Package decision applies reviewer decisions to staged upload rows.
package decision

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/Ramsey-B/partnermap/internal/repositories/node"
	ctxutil "github.com/Ramsey-B/partnermap/pkg/context"
	"github.com/Ramsey-B/partnermap/pkg/database"
	"github.com/Ramsey-B/partnermap/pkg/events"
	"github.com/Ramsey-B/partnermap/pkg/graph"
	"github.com/Ramsey-B/partnermap/pkg/metrics"
	"github.com/Ramsey-B/partnermap/pkg/models"
	"github.com/Ramsey-B/partnermap/pkg/redis"
	"github.com/Ramsey-B/partnermap/pkg/tracing"
)

type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Locker interface {
	WithLock(ctx context.Context, fn func(ctx context.Context) error, keys ...string) error
}

type BatchStore interface {
	GetForUpdate(ctx context.Context, id string) (*models.Batch, error)
	IncrementProcessed(ctx context.Context, id string) error
	CompleteIfDone(ctx context.Context, id string) (bool, error)
	Get(ctx context.Context, id string) (*models.Batch, error)
}

type StagingStore interface {
	Get(ctx context.Context, id string) (*models.StagingNode, error)
	GetForUpdate(ctx context.Context, id string) (*models.StagingNode, error)
	SetOutcome(ctx context.Context, id string, outcome models.StagingOutcome) error
}

type EntityStore interface {
	GetForUpdate(ctx context.Context, id string) (*models.Entity, error)
	LockName(ctx context.Context, name string) error
	FindByExactName(ctx context.Context, name string) (*models.Entity, error)
	Create(ctx context.Context, entity *models.Entity) (*models.Entity, error)
	AddAliases(ctx context.Context, id string, aliases ...string) (*models.Entity, error)
}

type NodeStore interface {
	GetForUpdate(ctx context.Context, id string) (*models.Node, error)
	FindByName(ctx context.Context, entityID, name string, category models.NodeCategory) (*models.Node, error)
	ResolveNames(ctx context.Context, names []string) (map[string]string, error)
	Create(ctx context.Context, node *models.Node) (*models.Node, error)
	Union(ctx context.Context, id string, add node.Additions) (*models.Node, error)
}

// Processor applies decisions one record at a time. Each record runs in its own
// transaction; a failed record is reported and the rest continue.
type Processor struct {
	logger   ectologger.Logger
	tx       Transactor
	locker   Locker
	batches  BatchStore
	staging  StagingStore
	entities EntityStore
	nodes    NodeStore
	emitter  *events.Emitter
	graph    graph.Projector
}

func NewProcessor(
	logger ectologger.Logger,
	tx Transactor,
	locker Locker,
	batches BatchStore,
	staging StagingStore,
	entities EntityStore,
	nodes NodeStore,
	emitter *events.Emitter,
	projector graph.Projector,
) *Processor {
	if locker == nil {
		locker = redis.NoopLocker{}
	}
	if projector == nil {
		projector = graph.Noop{}
	}
	return &Processor{
		logger:   logger,
		tx:       tx,
		locker:   locker,
		batches:  batches,
		staging:  staging,
		entities: entities,
		nodes:    nodes,
		emitter:  emitter,
		graph:    projector,
	}
}

// effects are the post-commit side effects of one applied decision.
type effects struct {
	batchID        string
	outcome        models.StagingOutcome
	entityCreated  *models.Entity
	entityUpdated  *models.Entity
	nodeCreated    *models.Node
	nodeUpdated    *models.Node
	batchCompleted bool
	alreadyDecided bool
}

// Process applies every decision and reports per-record failures. Only a
// registry outage aborts the call; records committed before it stay committed.
func (p *Processor) Process(ctx context.Context, decisions []models.Decision) (*models.ProcessDecisionsResult, error) {
	ctx, span := tracing.StartSpan(ctx, "decision.Processor.Process")
	defer span.End()

	result := &models.ProcessDecisionsResult{Errors: []models.DecisionError{}}
	for _, d := range decisions {
		log := p.logger.WithContext(ctx).WithFields(map[string]any{
			"staging_id": d.StagingID,
			"action":     d.Action,
			"target_id":  d.TargetID,
		})

		fx, err := p.apply(ctx, d)
		if err != nil {
			if database.IsStatus(err, http.StatusServiceUnavailable) {
				log.WithError(err).Error("Registry unavailable while processing decisions")
				return nil, err
			}
			metrics.RecordDecision(string(d.Action), "error")
			log.WithError(err).Warn("Decision failed")
			result.Errors = append(result.Errors, models.DecisionError{StagingID: d.StagingID, Reason: reason(err)})
			continue
		}

		result.Processed++
		if fx.alreadyDecided {
			metrics.RecordDecision(string(d.Action), "noop")
			log.Debug("Decision already applied")
			continue
		}
		metrics.RecordDecision(string(d.Action), "success")
		p.publish(ctx, d, fx)
	}

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"processed": result.Processed,
		"errors":    len(result.Errors),
	}).Info("Processed decisions")

	return result, nil
}

func (p *Processor) apply(ctx context.Context, d models.Decision) (*effects, error) {
	ctx, span := tracing.StartSpan(ctx, "decision.Processor.apply")
	defer span.End()

	outcome := d.Action.Outcome()
	if outcome == "" {
		return nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "unknown action %q", d.Action)
	}
	if d.Action.RequiresTarget() && d.TargetID == "" {
		return nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "%s requires target_id", d.Action)
	}

	// unlocked read to learn the batch and the names to lock on
	row, err := p.staging.Get(ctx, d.StagingID)
	if err != nil {
		return nil, err
	}

	keys := []string{}
	switch d.Action {
	case models.DecisionActionApproveNew:
		keys = append(keys, redis.TargetKey("entity-name:"+strings.ToLower(row.EntityName)))
	case models.DecisionActionMergeWithEntity, models.DecisionActionMergeWithNode:
		keys = append(keys, redis.TargetKey(d.TargetID))
	}

	fx := &effects{batchID: row.BatchID}
	err = p.locker.WithLock(ctx, func(ctx context.Context) error {
		return p.tx.WithinTx(ctx, func(ctx context.Context) error {
			return p.applyLocked(ctx, d, row.BatchID, fx)
		})
	}, keys...)
	if err != nil {
		return nil, err
	}
	return fx, nil
}

// applyLocked locks the batch row before the staging row, the same order
// rollback uses.
func (p *Processor) applyLocked(ctx context.Context, d models.Decision, batchID string, fx *effects) error {
	batch, err := p.batches.GetForUpdate(ctx, batchID)
	if err != nil {
		return err
	}

	row, err := p.staging.GetForUpdate(ctx, d.StagingID)
	if err != nil {
		return err
	}

	if row.Decision.IsTerminal() {
		if row.Decision == d.Action.Outcome() {
			fx.alreadyDecided = true
			return nil
		}
		return httperror.NewHTTPErrorf(http.StatusConflict, "staging node %s was already decided as %s", row.ID, row.Decision)
	}

	if batch.Status != models.BatchStatusPending {
		return httperror.NewHTTPErrorf(http.StatusConflict, "batch %s is %s and no longer accepts decisions", batch.ID, batch.Status)
	}

	fx.outcome = models.StagingOutcome{
		Decision:  d.Action.Outcome(),
		DecidedBy: ctxutil.GetUserID(ctx),
	}

	switch d.Action {
	case models.DecisionActionApproveNew:
		err = p.approveNew(ctx, row, fx)
	case models.DecisionActionMergeWithEntity:
		err = p.mergeWithEntity(ctx, row, d.TargetID, fx)
	case models.DecisionActionMergeWithNode:
		err = p.mergeWithNode(ctx, row, d.TargetID, fx)
	case models.DecisionActionReject:
	}
	if err != nil {
		return err
	}

	if err := p.staging.SetOutcome(ctx, row.ID, fx.outcome); err != nil {
		return err
	}
	if err := p.batches.IncrementProcessed(ctx, batch.ID); err != nil {
		return err
	}
	fx.batchCompleted, err = p.batches.CompleteIfDone(ctx, batch.ID)
	return err
}

// approveNew reuses an entity with the exact master name, or creates one, then
// creates the node unless the entity already has it.
func (p *Processor) approveNew(ctx context.Context, row *models.StagingNode, fx *effects) error {
	if err := p.entities.LockName(ctx, row.EntityName); err != nil {
		return err
	}

	entity, err := p.entities.FindByExactName(ctx, row.EntityName)
	if err != nil {
		return err
	}
	if entity == nil {
		entity, err = p.entities.Create(ctx, &models.Entity{
			MasterEntityName: row.EntityName,
			Website:          row.Website,
			BatchID:          &row.BatchID,
		})
		if err != nil {
			return err
		}
		fx.entityCreated = entity
	}

	connects, err := p.resolveTargets(ctx, row.ConnectTargets)
	if err != nil {
		return err
	}

	existing, err := p.nodes.FindByName(ctx, entity.ID, row.NodeName, row.NodeCategory)
	if err != nil {
		return err
	}

	var n *models.Node
	if existing != nil {
		n, err = p.nodes.Union(ctx, existing.ID, node.Additions{
			ConnectsTo: connects,
			Protocols:  row.ProtocolsSupported,
			DataTypes:  row.DataTypesSupported,
		})
		fx.nodeUpdated = n
	} else {
		n, err = p.nodes.Create(ctx, &models.Node{
			NodeName:           row.NodeName,
			EntityID:           entity.ID,
			NodeCategory:       row.NodeCategory,
			Direction:          row.Direction,
			ConnectsTo:         pq.StringArray(connects),
			IsActive:           true,
			ProtocolsSupported: row.ProtocolsSupported,
			DataTypesSupported: row.DataTypesSupported,
			Notes:              row.Notes,
			BatchID:            &row.BatchID,
		})
		fx.nodeCreated = n
	}
	if err != nil {
		return err
	}

	fx.outcome.ResultEntityID = &entity.ID
	fx.outcome.ResultNodeID = &n.ID
	return nil
}

func (p *Processor) mergeWithEntity(ctx context.Context, row *models.StagingNode, targetID string, fx *effects) error {
	if _, err := p.entities.GetForUpdate(ctx, targetID); err != nil {
		return err
	}

	entity, err := p.entities.AddAliases(ctx, targetID, row.EntityName)
	if err != nil {
		return err
	}

	fx.entityUpdated = entity
	fx.outcome.ResultEntityID = &entity.ID
	return nil
}

func (p *Processor) mergeWithNode(ctx context.Context, row *models.StagingNode, targetID string, fx *effects) error {
	if _, err := p.nodes.GetForUpdate(ctx, targetID); err != nil {
		return err
	}

	n, err := p.nodes.Union(ctx, targetID, node.Additions{
		Aliases:   []string{row.NodeName},
		Protocols: row.ProtocolsSupported,
		DataTypes: row.DataTypesSupported,
	})
	if err != nil {
		return err
	}

	fx.nodeUpdated = n
	fx.outcome.ResultEntityID = &n.EntityID
	fx.outcome.ResultNodeID = &n.ID
	return nil
}

// resolveTargets maps connect_targets to node ids. Values that are already ids
// pass through; names with no node are kept as written.
func (p *Processor) resolveTargets(ctx context.Context, targets []string) ([]string, error) {
	if len(targets) == 0 {
		return nil, nil
	}

	var names []string
	for _, t := range targets {
		if _, err := uuid.Parse(t); err != nil {
			names = append(names, t)
		}
	}

	resolved := map[string]string{}
	if len(names) > 0 {
		var err error
		if resolved, err = p.nodes.ResolveNames(ctx, names); err != nil {
			return nil, err
		}
	}

	out := make([]string, 0, len(targets))
	for _, t := range targets {
		if id, ok := resolved[strings.ToLower(t)]; ok {
			out = append(out, id)
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (p *Processor) publish(ctx context.Context, d models.Decision, fx *effects) {
	var entity *models.Entity
	if fx.entityCreated != nil {
		p.emitter.EntityCreated(ctx, fx.entityCreated)
		entity = fx.entityCreated
	}
	if fx.entityUpdated != nil {
		p.emitter.EntityUpdated(ctx, fx.entityUpdated)
		entity = fx.entityUpdated
	}
	if entity != nil {
		if err := p.graph.UpsertEntities(ctx, *entity); err != nil {
			p.logger.WithContext(ctx).WithError(err).WithField("entity_id", entity.ID).Warn("Graph projection is behind")
		}
	}

	var touched *models.Node
	if fx.nodeCreated != nil {
		p.emitter.NodeCreated(ctx, fx.nodeCreated)
		touched = fx.nodeCreated
	}
	if fx.nodeUpdated != nil {
		p.emitter.NodeUpdated(ctx, fx.nodeUpdated)
		touched = fx.nodeUpdated
	}
	if touched != nil {
		if err := p.graph.UpsertNodes(ctx, *touched); err != nil {
			p.logger.WithContext(ctx).WithError(err).WithField("node_id", touched.ID).Warn("Graph projection is behind")
		}
	}

	p.emitter.DecisionRecorded(ctx, fx.batchID, events.DecisionRecordedData{
		StagingID:      d.StagingID,
		Action:         string(d.Action),
		Decision:       string(fx.outcome.Decision),
		ResultEntityID: fx.outcome.ResultEntityID,
		ResultNodeID:   fx.outcome.ResultNodeID,
	})

	if fx.batchCompleted {
		metrics.RecordBatchTransition(string(models.BatchStatusProcessed))
		if batch, err := p.batches.Get(ctx, fx.batchID); err == nil {
			p.emitter.BatchChanged(ctx, batch)
		}
	}
}

func reason(err error) string {
	var httperr *httperror.HTTPError
	if errors.As(err, &httperr) {
		return httperr.Message
	}
	return "internal error"
}
