// Package analyzer scores staged upload rows against the registry and against
// earlier rows of the same upload.
package analyzer

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"golang.org/x/sync/errgroup"

	"github.com/Ramsey-B/partnermap/pkg/matching"
	"github.com/Ramsey-B/partnermap/pkg/metrics"
	"github.com/Ramsey-B/partnermap/pkg/models"
	"github.com/Ramsey-B/partnermap/pkg/normalizers"
	"github.com/Ramsey-B/partnermap/pkg/tracing"
)

type BatchStore interface {
	Get(ctx context.Context, id string) (*models.Batch, error)
}

type StagingStore interface {
	ListByBatch(ctx context.Context, batchID string) ([]models.StagingNode, error)
}

type EntityStore interface {
	List(ctx context.Context) ([]models.Entity, error)
}

type NodeStore interface {
	List(ctx context.Context, filter models.NodeFilter) ([]models.Node, error)
}

// Analyzer produces MatchResults for every staging row of a batch.
type Analyzer struct {
	logger      ectologger.Logger
	batches     BatchStore
	staging     StagingStore
	entities    EntityStore
	nodes       NodeStore
	concurrency int
}

func NewAnalyzer(logger ectologger.Logger, batches BatchStore, staging StagingStore, entities EntityStore, nodes NodeStore, concurrency int) *Analyzer {
	if concurrency <= 0 {
		concurrency = 8
	}
	return &Analyzer{
		logger:      logger,
		batches:     batches,
		staging:     staging,
		entities:    entities,
		nodes:       nodes,
		concurrency: concurrency,
	}
}

// snapshot is the registry as read once at the start of an analysis.
type snapshot struct {
	entities      []models.Entity
	entityDomains map[string]string
	nodesByCat    map[models.NodeCategory][]models.Node
}

// Analyze returns one result per staging row, in row order. Any registry read
// failure fails the whole call.
func (a *Analyzer) Analyze(ctx context.Context, batchID string, cfg models.AnalyzerConfig) ([]models.MatchResult, error) {
	ctx, span := tracing.StartSpan(ctx, "analyzer.Analyzer.Analyze")
	defer span.End()

	cfg = cfg.WithDefaults()
	if !(cfg.Floor() < cfg.MediumThreshold && cfg.MediumThreshold <= cfg.HighThreshold) {
		return nil, httperror.NewHTTPErrorf(http.StatusBadRequest,
			"thresholds must satisfy inclusion_floor < medium_threshold <= high_threshold (got %.2f, %.2f, %.2f)",
			cfg.Floor(), cfg.MediumThreshold, cfg.HighThreshold)
	}

	log := a.logger.WithContext(ctx).WithField("batch_id", batchID)
	start := time.Now()

	if _, err := a.batches.Get(ctx, batchID); err != nil {
		return nil, err
	}

	rows, err := a.staging.ListByBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}

	snap, err := a.loadSnapshot(ctx, cfg)
	if err != nil {
		log.WithError(err).Error("Failed to load registry for analysis")
		return nil, err
	}

	results := make([]models.MatchResult, len(rows))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for i := range rows {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = analyzeRow(cfg, snap, rows, i)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	duplicates := 0
	for _, r := range results {
		if r.HasDuplicates {
			duplicates++
		}
		for _, m := range r.Matches {
			metrics.AnalyzerMatchesTotal.WithLabelValues(string(m.Confidence)).Inc()
		}
	}
	metrics.AnalyzerDuration.Observe(time.Since(start).Seconds())

	log.WithFields(map[string]any{
		"rows":       len(rows),
		"duplicates": duplicates,
		"entities":   len(snap.entities),
		"duration":   time.Since(start),
	}).Info("Analyzed batch for duplicates")

	return results, nil
}

func (a *Analyzer) loadSnapshot(ctx context.Context, cfg models.AnalyzerConfig) (*snapshot, error) {
	snap := &snapshot{
		entityDomains: map[string]string{},
		nodesByCat:    map[models.NodeCategory][]models.Node{},
	}

	// entities are needed for node matches too: a node's domain is its owner's website
	needEntities := cfg.EntitiesEnabled() || cfg.NodesEnabled()

	var nodes []models.Node
	g, gctx := errgroup.WithContext(ctx)
	if needEntities {
		g.Go(func() error {
			var err error
			snap.entities, err = a.entities.List(gctx)
			return err
		})
	}
	if cfg.NodesEnabled() {
		g.Go(func() error {
			var err error
			nodes, err = a.nodes.List(gctx, models.NodeFilter{})
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, e := range snap.entities {
		snap.entityDomains[e.ID] = normalizers.Domain(e.Website)
	}
	for _, n := range nodes {
		snap.nodesByCat[n.NodeCategory] = append(snap.nodesByCat[n.NodeCategory], n)
	}
	if !cfg.EntitiesEnabled() {
		snap.entities = nil
	}
	return snap, nil
}

// candidate is one scored comparison before it becomes a Match.
type candidate struct {
	kind   models.MatchType
	id     string
	name   string
	names  []string
	domain string
	query  string
}

func analyzeRow(cfg models.AnalyzerConfig, snap *snapshot, rows []models.StagingNode, i int) models.MatchResult {
	row := rows[i]
	rowDomain := normalizers.Domain(row.Website)

	var candidates []candidate
	for _, e := range snap.entities {
		candidates = append(candidates, candidate{
			kind:   models.MatchTypeEntity,
			id:     e.ID,
			name:   e.MasterEntityName,
			names:  e.Names(),
			domain: snap.entityDomains[e.ID],
			query:  row.EntityName,
		})
	}
	for _, n := range snap.nodesByCat[row.NodeCategory] {
		candidates = append(candidates, candidate{
			kind:   models.MatchTypeNode,
			id:     n.ID,
			name:   n.NodeName,
			names:  n.Names(),
			domain: snap.entityDomains[n.EntityID],
			query:  row.NodeName,
		})
	}
	if cfg.BatchEnabled() {
		for _, earlier := range rows[:i] {
			if earlier.NodeCategory != row.NodeCategory {
				continue
			}
			candidates = append(candidates, candidate{
				kind:   models.MatchTypeStaging,
				id:     earlier.ID,
				name:   earlier.NodeName,
				names:  []string{earlier.NodeName},
				domain: normalizers.Domain(earlier.Website),
				query:  row.NodeName,
			})
		}
	}

	matches := []models.Match{}
	for _, c := range candidates {
		matchedName, idx, score := matching.BestMatch(c.query, c.names)
		confidence, ok := cfg.ConfidenceFor(score)
		if !ok {
			continue
		}
		matches = append(matches, models.Match{
			MatchType:   c.kind,
			TargetID:    c.id,
			TargetName:  c.name,
			MatchedName: matchedName,
			Score:       score,
			Confidence:  confidence,
			Reasons:     reasons(c.query, matchedName, idx, score, rowDomain, c.domain),
		})
	}

	sort.SliceStable(matches, func(a, b int) bool {
		return matches[a].Score > matches[b].Score
	})

	result := models.MatchResult{
		StagingID:         row.ID,
		RowNumber:         row.RowNumber,
		NodeName:          row.NodeName,
		EntityName:        row.EntityName,
		NodeCategory:      row.NodeCategory,
		HasDuplicates:     len(matches) > 0,
		DuplicateCount:    len(matches),
		RecommendedAction: models.RecommendedActionSeparate,
		Matches:           matches,
	}
	if len(matches) > 0 {
		result.OverallConfidence = matches[0].Score
		result.RecommendedAction = models.RecommendedActionFor(matches[0].Confidence)
	}
	if len(result.Matches) > cfg.MaxMatches {
		result.Matches = result.Matches[:cfg.MaxMatches]
	}
	return result
}

func reasons(query, matchedName string, aliasIdx int, score float64, queryDomain, targetDomain string) []models.MatchReason {
	var out []models.MatchReason
	if score == 1 {
		out = append(out, models.MatchReason{Type: models.MatchReasonExactName, Detail: matchedName})
	} else {
		out = append(out, models.MatchReason{
			Type:   models.MatchReasonSimilarName,
			Detail: fmt.Sprintf("%q ~ %q (%.2f)", query, matchedName, score),
		})
	}
	if aliasIdx > 0 {
		out = append(out, models.MatchReason{Type: models.MatchReasonAliasMatch, Detail: matchedName})
	}
	if queryDomain != "" && queryDomain == targetDomain {
		out = append(out, models.MatchReason{Type: models.MatchReasonSharedDomain, Detail: queryDomain})
	}
	if score < 1 {
		if shared := normalizers.SharedTokens(query, matchedName); len(shared) > 0 {
			out = append(out, models.MatchReason{Type: models.MatchReasonSharedNameTokens, Detail: strings.Join(shared, ", ")})
		}
	}
	return out
}
