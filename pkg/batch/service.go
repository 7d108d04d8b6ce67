// Package batch owns upload batches: ingestion into staging, status
// transitions and rollback.
package batch

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	ctxutil "github.com/Ramsey-B/partnermap/pkg/context"
	"github.com/Ramsey-B/partnermap/pkg/events"
	"github.com/Ramsey-B/partnermap/pkg/graph"
	"github.com/Ramsey-B/partnermap/pkg/ingest"
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
	Create(ctx context.Context, batch *models.Batch) (*models.Batch, error)
	Get(ctx context.Context, id string) (*models.Batch, error)
	GetForUpdate(ctx context.Context, id string) (*models.Batch, error)
	List(ctx context.Context) ([]models.Batch, error)
	Transition(ctx context.Context, id string, from, to models.BatchStatus, report *models.ErrorReport) (*models.Batch, error)
}

type StagingStore interface {
	CreateMany(ctx context.Context, batchID string, rows []models.StagingNode) ([]models.StagingNode, error)
	ListByBatch(ctx context.Context, batchID string) ([]models.StagingNode, error)
	DeleteByBatch(ctx context.Context, batchID string) (int, error)
}

type EntityStore interface {
	ListIDsByBatch(ctx context.Context, batchID string) ([]string, error)
	ReassignShared(ctx context.Context, batchID string) ([]string, error)
	DeleteByBatch(ctx context.Context, batchID string) (int, error)
}

type NodeStore interface {
	ListIDsByBatch(ctx context.Context, batchID string) ([]string, error)
	DeleteByBatch(ctx context.Context, batchID string) (int, error)
}

type Service struct {
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

func NewService(
	logger ectologger.Logger,
	tx Transactor,
	locker Locker,
	batches BatchStore,
	staging StagingStore,
	entities EntityStore,
	nodes NodeStore,
	emitter *events.Emitter,
	projector graph.Projector,
) *Service {
	if locker == nil {
		locker = redis.NoopLocker{}
	}
	if projector == nil {
		projector = graph.Noop{}
	}
	return &Service{
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

// Upload parses an uploaded sheet and stages its valid rows under a new
// batch. Invalid rows are reported, not fatal; an upload with no valid rows
// leaves an error batch carrying the row errors as its report.
func (s *Service) Upload(ctx context.Context, name, filename string, content io.Reader) (*models.BatchUploadResult, error) {
	ctx, span := tracing.StartSpan(ctx, "batch.Service.Upload")
	defer span.End()

	parsed, err := ingest.Parse(filename, content)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("filename", filename).Warn("Rejected upload")
		return nil, err
	}

	if name == "" {
		name = defaultName(filename)
	}

	batch := &models.Batch{
		Name:         name,
		TotalRecords: parsed.TotalRows,
		ErrorRecords: parsed.InvalidRows(),
		CreatedBy:    ctxutil.GetUserID(ctx),
	}

	var staged []models.StagingNode
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		created, err := s.batches.Create(ctx, batch)
		if err != nil {
			return err
		}
		batch = created

		if len(parsed.Rows) == 0 {
			report := &models.ErrorReport{Message: "upload contains no valid rows", Rows: parsed.Errors}
			batch, err = s.batches.Transition(ctx, batch.ID, models.BatchStatusPending, models.BatchStatusError, report)
			return err
		}

		staged, err = s.staging.CreateMany(ctx, batch.ID, parsed.Rows)
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordBatchRows(len(parsed.Rows), parsed.InvalidRows())
	metrics.RecordBatchTransition(string(batch.Status))
	s.emitter.BatchChanged(ctx, batch)

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"batch_id":     batch.ID,
		"status":       batch.Status,
		"total_rows":   parsed.TotalRows,
		"valid_rows":   len(parsed.Rows),
		"invalid_rows": parsed.InvalidRows(),
	}).Info("Staged upload")

	if staged == nil {
		staged = []models.StagingNode{}
	}
	validationErrors := parsed.Errors
	if validationErrors == nil {
		validationErrors = []models.RowError{}
	}

	return &models.BatchUploadResult{
		BatchID:           batch.ID,
		Status:            batch.Status,
		TotalRows:         parsed.TotalRows,
		ValidRows:         len(parsed.Rows),
		InvalidRows:       parsed.InvalidRows(),
		StagingNodes:      staged,
		ValidationErrors:  validationErrors,
		DuplicateWarnings: parsed.DuplicateWarnings,
	}, nil
}

func defaultName(filename string) string {
	if filename != "" {
		return filename
	}
	return "upload-" + time.Now().UTC().Format("20060102-150405")
}

func (s *Service) Get(ctx context.Context, id string) (*models.Batch, error) {
	ctx, span := tracing.StartSpan(ctx, "batch.Service.Get")
	defer span.End()

	return s.batches.Get(ctx, id)
}

// List returns every batch, newest first.
func (s *Service) List(ctx context.Context) ([]models.Batch, error) {
	ctx, span := tracing.StartSpan(ctx, "batch.Service.List")
	defer span.End()

	return s.batches.List(ctx)
}

// StagingNodes returns a batch's staged rows in upload order.
func (s *Service) StagingNodes(ctx context.Context, id string) ([]models.StagingNode, error) {
	ctx, span := tracing.StartSpan(ctx, "batch.Service.StagingNodes")
	defer span.End()

	if _, err := s.batches.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.staging.ListByBatch(ctx, id)
}

// Cancel stops a pending batch. Its staging rows stay for audit.
func (s *Service) Cancel(ctx context.Context, id string) (*models.Batch, error) {
	ctx, span := tracing.StartSpan(ctx, "batch.Service.Cancel")
	defer span.End()

	return s.transition(ctx, id, models.BatchStatusCancelled, nil)
}

// Fail moves a pending batch to error with a report.
func (s *Service) Fail(ctx context.Context, id string, report *models.ErrorReport) (*models.Batch, error) {
	ctx, span := tracing.StartSpan(ctx, "batch.Service.Fail")
	defer span.End()

	return s.transition(ctx, id, models.BatchStatusError, report)
}

func (s *Service) transition(ctx context.Context, id string, to models.BatchStatus, report *models.ErrorReport) (*models.Batch, error) {
	var batch *models.Batch
	err := s.locker.WithLock(ctx, func(ctx context.Context) error {
		return s.tx.WithinTx(ctx, func(ctx context.Context) error {
			current, err := s.batches.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			batch, err = s.batches.Transition(ctx, id, current.Status, to, report)
			return err
		})
	}, redis.BatchKey(id))
	if err != nil {
		return nil, err
	}

	metrics.RecordBatchTransition(string(to))
	s.emitter.BatchChanged(ctx, batch)
	s.logger.WithContext(ctx).WithFields(map[string]any{"batch_id": id, "status": to}).Info("Batch transitioned")
	return batch, nil
}

// Rollback deletes every entity and node a processed batch created, along with
// its staging rows, and marks the batch rolled_back. An entity that a later
// batch attached nodes to is handed to that batch instead of being deleted.
func (s *Service) Rollback(ctx context.Context, id string) (*models.RollbackResult, error) {
	ctx, span := tracing.StartSpan(ctx, "batch.Service.Rollback")
	defer span.End()

	result := &models.RollbackResult{}
	var batch *models.Batch
	var nodeIDs, entityIDs, kept []string

	err := s.locker.WithLock(ctx, func(ctx context.Context) error {
		return s.tx.WithinTx(ctx, func(ctx context.Context) error {
			current, err := s.batches.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if current.Status != models.BatchStatusProcessed {
				return httperror.NewHTTPErrorf(http.StatusConflict, "batch %s is %s; only processed batches can be rolled back", id, current.Status).
					AddMetaValue("batch_id", id).
					AddMetaValue("status", string(current.Status))
			}

			if nodeIDs, err = s.nodes.ListIDsByBatch(ctx, id); err != nil {
				return err
			}
			if result.NodesDeleted, err = s.nodes.DeleteByBatch(ctx, id); err != nil {
				return err
			}

			// entities still owning nodes from other batches must survive
			if kept, err = s.entities.ReassignShared(ctx, id); err != nil {
				return err
			}
			if entityIDs, err = s.entities.ListIDsByBatch(ctx, id); err != nil {
				return err
			}
			if result.EntitiesDeleted, err = s.entities.DeleteByBatch(ctx, id); err != nil {
				return err
			}
			if result.StagingNodesDeleted, err = s.staging.DeleteByBatch(ctx, id); err != nil {
				return err
			}

			batch, err = s.batches.Transition(ctx, id, models.BatchStatusProcessed, models.BatchStatusRolledBack, nil)
			return err
		})
	}, redis.BatchKey(id))
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("batch_id", id).Warn("Rollback failed")
		return nil, err
	}
	result.Success = true

	if err := s.graph.DeleteNodes(ctx, nodeIDs...); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("batch_id", id).Warn("Graph projection is behind")
	}
	if err := s.graph.DeleteEntities(ctx, entityIDs...); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("batch_id", id).Warn("Graph projection is behind")
	}

	metrics.RecordBatchTransition(string(models.BatchStatusRolledBack))
	s.emitter.BatchChanged(ctx, batch)

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"batch_id":              id,
		"nodes_deleted":         result.NodesDeleted,
		"entities_deleted":      result.EntitiesDeleted,
		"entities_reassigned":   len(kept),
		"staging_nodes_deleted": result.StagingNodesDeleted,
	}).Info("Rolled back batch")

	return result, nil
}
