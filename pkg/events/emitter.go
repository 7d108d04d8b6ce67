// Package events publishes registry and batch lifecycle changes.
package events

import (
	"context"
	"encoding/json"

	"github.com/Gobusters/ectologger"

	ctxutil "github.com/Ramsey-B/partnermap/pkg/context"
	"github.com/Ramsey-B/partnermap/pkg/kafka"
	"github.com/Ramsey-B/partnermap/pkg/models"
	"github.com/Ramsey-B/partnermap/pkg/tracing"
)

// Publisher writes event envelopes to the broker.
type Publisher interface {
	Publish(ctx context.Context, events ...*kafka.Event) error
}

// Emitter turns registry changes into events. A nil publisher disables
// emission. Publish failures are logged and swallowed: events follow a
// committed change and never undo it.
type Emitter struct {
	publisher Publisher
	logger    ectologger.Logger
}

func NewEmitter(publisher Publisher, logger ectologger.Logger) *Emitter {
	return &Emitter{
		publisher: publisher,
		logger:    logger,
	}
}

func (e *Emitter) EntityCreated(ctx context.Context, entity *models.Entity) {
	e.emit(ctx, EventTypeEntityCreated, "entity", entity.ID, batchOf(entity.BatchID), entity)
}

func (e *Emitter) EntityUpdated(ctx context.Context, entity *models.Entity) {
	e.emit(ctx, EventTypeEntityUpdated, "entity", entity.ID, "", entity)
}

func (e *Emitter) EntityMerged(ctx context.Context, data EntityMergedData) {
	e.emit(ctx, EventTypeEntityMerged, "entity", data.MasterID, "", data)
}

func (e *Emitter) NodeCreated(ctx context.Context, node *models.Node) {
	e.emit(ctx, EventTypeNodeCreated, "node", node.ID, batchOf(node.BatchID), node)
}

func (e *Emitter) NodeUpdated(ctx context.Context, node *models.Node) {
	e.emit(ctx, EventTypeNodeUpdated, "node", node.ID, "", node)
}

func (e *Emitter) NodeMerged(ctx context.Context, data NodeMergedData) {
	e.emit(ctx, EventTypeNodeMerged, "node", data.MasterID, "", data)
}

// BatchChanged emits the event matching the batch's current status.
func (e *Emitter) BatchChanged(ctx context.Context, batch *models.Batch) {
	eventType := EventTypeBatchCreated
	switch batch.Status {
	case models.BatchStatusProcessed:
		eventType = EventTypeBatchProcessed
	case models.BatchStatusError:
		eventType = EventTypeBatchFailed
	case models.BatchStatusCancelled:
		eventType = EventTypeBatchCancelled
	case models.BatchStatusRolledBack:
		eventType = EventTypeBatchRolledBack
	}
	e.emit(ctx, eventType, "batch", batch.ID, batch.ID, batch)
}

func (e *Emitter) DecisionRecorded(ctx context.Context, batchID string, data DecisionRecordedData) {
	e.emit(ctx, EventTypeDecisionRecorded, "staging_node", data.StagingID, batchID, data)
}

func (e *Emitter) emit(ctx context.Context, eventType EventType, aggregate, key, batchID string, payload any) {
	if e == nil || e.publisher == nil {
		return
	}

	ctx, span := tracing.StartSpan(ctx, "events.Emitter.emit")
	defer span.End()

	log := e.logger.WithContext(ctx).WithFields(map[string]any{
		"event_type": eventType,
		"key":        key,
	})

	data, err := json.Marshal(payload)
	if err != nil {
		log.WithError(err).Error("Failed to encode event payload")
		return
	}

	event := &kafka.Event{
		EventType:     string(eventType),
		SchemaVersion: SchemaVersion,
		Key:           key,
		AggregateType: aggregate,
		BatchID:       batchID,
		CorrelationID: ctxutil.GetRequestID(ctx),
		Actor:         ctxutil.GetUserID(ctx),
		Data:          data,
	}

	if err := e.publisher.Publish(ctx, event); err != nil {
		log.WithError(err).Warn("Failed to emit event")
	}
}

func batchOf(id *string) string {
	if id == nil {
		return ""
	}
	return *id
}
