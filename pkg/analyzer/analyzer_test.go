package analyzer

import (
	"context"
	"net/http"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/partnermap/pkg/database"
	"github.com/Ramsey-B/partnermap/pkg/models"
)

const batchID = "3c1e4a77-2b9d-4f10-a6c3-9e8d7c6b5a40"

type fakeBatches struct{}

func (fakeBatches) Get(_ context.Context, id string) (*models.Batch, error) {
	if id != batchID {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "batch %s not found", id)
	}
	return &models.Batch{ID: id, Status: models.BatchStatusPending}, nil
}

type fakeStaging struct{ rows []models.StagingNode }

func (f fakeStaging) ListByBatch(context.Context, string) ([]models.StagingNode, error) {
	return f.rows, nil
}

type fakeEntities struct {
	entities []models.Entity
	err      error
}

func (f fakeEntities) List(context.Context) ([]models.Entity, error) { return f.entities, f.err }

type fakeNodes struct {
	nodes []models.Node
	err   error
}

func (f fakeNodes) List(context.Context, models.NodeFilter) ([]models.Node, error) {
	return f.nodes, f.err
}

func newTestAnalyzer(rows []models.StagingNode, entities fakeEntities, nodes fakeNodes) *Analyzer {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	return NewAnalyzer(logger, fakeBatches{}, fakeStaging{rows: rows}, entities, nodes, 4)
}

func stagingRow(id string, row int, node, website, entity string, category models.NodeCategory) models.StagingNode {
	return models.StagingNode{
		ID:           id,
		BatchID:      batchID,
		RowNumber:    row,
		NodeName:     node,
		Website:      website,
		EntityName:   entity,
		NodeCategory: category,
		Direction:    models.DirectionSupply,
	}
}

func reasonTypes(m models.Match) []models.MatchReasonType {
	var out []models.MatchReasonType
	for _, r := range m.Reasons {
		out = append(out, r.Type)
	}
	return out
}

func TestAnalyze_DuplicateWithinUpload(t *testing.T) {
	rows := []models.StagingNode{
		stagingRow("s1", 1, "Example Hotel PMS", "https://example-hotel.com", "Example Hotel", models.NodeCategoryPMS),
		stagingRow("s2", 2, "Example Hotels PMS", "example-hotel.com", "Example Hotel", models.NodeCategoryPMS),
	}
	a := newTestAnalyzer(rows, fakeEntities{}, fakeNodes{})

	results, err := a.Analyze(context.Background(), batchID, models.AnalyzerConfig{})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.False(t, results[0].HasDuplicates)
	assert.Equal(t, models.RecommendedActionSeparate, results[0].RecommendedAction)
	assert.Zero(t, results[0].OverallConfidence)

	second := results[1]
	assert.True(t, second.HasDuplicates)
	assert.Equal(t, 1, second.DuplicateCount)
	assert.InDelta(t, 0.944, second.OverallConfidence, 0.001)
	assert.Equal(t, models.RecommendedActionMerge, second.RecommendedAction)

	match := second.Matches[0]
	assert.Equal(t, models.MatchTypeStaging, match.MatchType)
	assert.Equal(t, "s1", match.TargetID)
	assert.Equal(t, models.ConfidenceHigh, match.Confidence)
	assert.Contains(t, reasonTypes(match), models.MatchReasonSharedDomain)
	assert.Contains(t, reasonTypes(match), models.MatchReasonSimilarName)
}

func TestAnalyze_RegistryMatches(t *testing.T) {
	entities := fakeEntities{entities: []models.Entity{
		{ID: "e1", MasterEntityName: "Acme Travel Group", AlternateNames: pq.StringArray{"Acme Travel"}, Website: "acme.travel"},
		{ID: "e2", MasterEntityName: "Globex", Website: "globex.com"},
	}}
	nodes := fakeNodes{nodes: []models.Node{
		{ID: "n1", NodeName: "Opera PMS", EntityID: "e2", NodeCategory: models.NodeCategoryPMS},
		{ID: "n2", NodeName: "Opera PMS", EntityID: "e2", NodeCategory: models.NodeCategoryCRS},
	}}
	rows := []models.StagingNode{
		stagingRow("s1", 1, "Opera Cloud PMS", "globex.com", "Acme Travels", models.NodeCategoryPMS),
	}
	a := newTestAnalyzer(rows, entities, nodes)

	results, err := a.Analyze(context.Background(), batchID, models.AnalyzerConfig{})
	require.NoError(t, err)
	require.Len(t, results, 1)

	result := results[0]
	require.Len(t, result.Matches, 2)

	entityMatch := result.Matches[0]
	assert.Equal(t, models.MatchTypeEntity, entityMatch.MatchType)
	assert.Equal(t, "e1", entityMatch.TargetID)
	assert.Equal(t, "Acme Travel", entityMatch.MatchedName)
	assert.InDelta(t, 11.0/12.0, entityMatch.Score, 1e-9)
	assert.Contains(t, reasonTypes(entityMatch), models.MatchReasonAliasMatch)
	assert.Contains(t, reasonTypes(entityMatch), models.MatchReasonSharedNameTokens)
	assert.NotContains(t, reasonTypes(entityMatch), models.MatchReasonSharedDomain)

	// only the PMS node is compared; the CRS node of the same name is ignored
	nodeMatch := result.Matches[1]
	assert.Equal(t, models.MatchTypeNode, nodeMatch.MatchType)
	assert.Equal(t, "n1", nodeMatch.TargetID)
	assert.Equal(t, models.ConfidenceMedium, nodeMatch.Confidence)
	assert.Contains(t, reasonTypes(nodeMatch), models.MatchReasonSharedDomain)

	assert.Equal(t, models.RecommendedActionMerge, result.RecommendedAction)
}

func TestAnalyze_ExactMatch(t *testing.T) {
	entities := fakeEntities{entities: []models.Entity{{ID: "e1", MasterEntityName: "SiteMinder"}}}
	rows := []models.StagingNode{stagingRow("s1", 1, "Channel Manager", "", "siteminder ", models.NodeCategoryCM)}
	a := newTestAnalyzer(rows, entities, fakeNodes{})

	results, err := a.Analyze(context.Background(), batchID, models.AnalyzerConfig{})
	require.NoError(t, err)
	require.Len(t, results[0].Matches, 1)
	assert.Equal(t, 1.0, results[0].OverallConfidence)
	assert.Equal(t, []models.MatchReasonType{models.MatchReasonExactName}, reasonTypes(results[0].Matches[0]))
}

func TestAnalyze_Config(t *testing.T) {
	entities := fakeEntities{entities: []models.Entity{{ID: "e1", MasterEntityName: "Acme Travel"}}}
	rows := []models.StagingNode{
		stagingRow("s1", 1, "Acme PMS", "", "Acme Travel", models.NodeCategoryPMS),
		stagingRow("s2", 2, "Acme PMS", "", "Acme Travel", models.NodeCategoryPMS),
	}

	t.Run("sources can be switched off", func(t *testing.T) {
		off := false
		a := newTestAnalyzer(rows, entities, fakeNodes{})
		results, err := a.Analyze(context.Background(), batchID, models.AnalyzerConfig{IncludeEntities: &off, IncludeBatch: &off})
		require.NoError(t, err)
		for _, r := range results {
			assert.False(t, r.HasDuplicates)
		}
	})

	t.Run("max matches truncates but keeps the count", func(t *testing.T) {
		a := newTestAnalyzer(rows, entities, fakeNodes{})
		results, err := a.Analyze(context.Background(), batchID, models.AnalyzerConfig{MaxMatches: 1})
		require.NoError(t, err)
		assert.Equal(t, 2, results[1].DuplicateCount)
		assert.Len(t, results[1].Matches, 1)
	})

	t.Run("inverted thresholds are rejected", func(t *testing.T) {
		a := newTestAnalyzer(rows, entities, fakeNodes{})
		_, err := a.Analyze(context.Background(), batchID, models.AnalyzerConfig{MediumThreshold: 0.9, HighThreshold: 0.8})
		require.Error(t, err)
		assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(err))
	})
}

func TestAnalyze_InclusionFloorIsExclusive(t *testing.T) {
	// "abcdefghij" vs "abcdefgxyz" scores exactly 0.7
	entities := fakeEntities{entities: []models.Entity{{ID: "e1", MasterEntityName: "abcdefgxyz"}}}
	rows := []models.StagingNode{stagingRow("s1", 1, "n", "", "abcdefghij", models.NodeCategoryOther)}
	a := newTestAnalyzer(rows, entities, fakeNodes{})

	floor := 0.7
	results, err := a.Analyze(context.Background(), batchID, models.AnalyzerConfig{InclusionFloor: &floor, MediumThreshold: 0.8, HighThreshold: 0.9})
	require.NoError(t, err)
	assert.False(t, results[0].HasDuplicates)
}

func TestAnalyze_ZeroInclusionFloor(t *testing.T) {
	// "abcdefghij" vs "abcxyzuvwq" scores 0.3
	entities := fakeEntities{entities: []models.Entity{{ID: "e1", MasterEntityName: "abcxyzuvwq"}}}
	rows := []models.StagingNode{stagingRow("s1", 1, "n", "", "abcdefghij", models.NodeCategoryOther)}
	a := newTestAnalyzer(rows, entities, fakeNodes{})

	results, err := a.Analyze(context.Background(), batchID, models.AnalyzerConfig{})
	require.NoError(t, err)
	assert.False(t, results[0].HasDuplicates, "default floor drops the match")

	floor := 0.0
	results, err = a.Analyze(context.Background(), batchID, models.AnalyzerConfig{InclusionFloor: &floor})
	require.NoError(t, err)
	require.True(t, results[0].HasDuplicates)
	assert.Equal(t, models.ConfidenceLow, results[0].Matches[0].Confidence)
	assert.InDelta(t, 0.3, results[0].Matches[0].Score, 1e-9)
}

func TestAnalyze_RegistryUnavailable(t *testing.T) {
	rows := []models.StagingNode{stagingRow("s1", 1, "Opera PMS", "", "Oracle", models.NodeCategoryPMS)}
	nodes := fakeNodes{err: database.QueryError(context.DeadlineExceeded, "failed to list nodes")}
	a := newTestAnalyzer(rows, fakeEntities{}, nodes)

	results, err := a.Analyze(context.Background(), batchID, models.AnalyzerConfig{})
	require.Error(t, err)
	assert.Nil(t, results)
	assert.Equal(t, http.StatusServiceUnavailable, httperror.GetStatusCode(err))
}

func TestAnalyze_UnknownBatch(t *testing.T) {
	a := newTestAnalyzer(nil, fakeEntities{}, fakeNodes{})
	_, err := a.Analyze(context.Background(), "5b0c3c36-5d0e-4c1e-9a55-3f1a8d1f0a01", models.AnalyzerConfig{})
	assert.Equal(t, http.StatusNotFound, httperror.GetStatusCode(err))
}
