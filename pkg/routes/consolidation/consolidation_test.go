package consolidation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/partnermap/pkg/middleware"
	"github.com/Ramsey-B/partnermap/pkg/models"
)

const (
	masterID    = "1a2b3c4d-5e6f-4a8b-9c0d-1e2f3a4b5c6d"
	candidateID = "2b3c4d5e-6f7a-4b9c-8d1e-2f3a4b5c6d7e"
)

type stubService struct {
	threshold    float64
	mergeRequest models.MergeNodesRequest
	mergeErr     error
}

func (s *stubService) ProposeEntityGroups(_ context.Context, threshold float64) ([]models.EntityMergeGroup, error) {
	s.threshold = threshold
	return []models.EntityMergeGroup{}, nil
}

func (s *stubService) ProposeNodeGroups(_ context.Context, threshold float64) ([]models.NodeMergeGroup, error) {
	s.threshold = threshold
	return []models.NodeMergeGroup{}, nil
}

func (s *stubService) MergeEntities(_ context.Context, req models.MergeEntitiesRequest) (*models.EntityMergeResult, error) {
	return &models.EntityMergeResult{Master: models.Entity{ID: req.MasterID}, EntitiesDeleted: len(req.CandidateIDs)}, nil
}

func (s *stubService) MergeNodes(_ context.Context, req models.MergeNodesRequest) (*models.NodeMergeResult, error) {
	s.mergeRequest = req
	if s.mergeErr != nil {
		return nil, s.mergeErr
	}
	return &models.NodeMergeResult{Master: models.Node{ID: req.MasterID}, NodesDeleted: len(req.CandidateIDs)}, nil
}

func serve(service Service, method, target, body string) *httptest.ResponseRecorder {
	e := echo.New()
	e.HTTPErrorHandler = middleware.Error(ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}))
	NewHandler(service).Register(e.Group("/api/v1/consolidation"))

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestEntityGroups_Threshold(t *testing.T) {
	service := &stubService{}

	rec := serve(service, http.MethodGet, "/api/v1/consolidation/entities?threshold=0.8", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0.8, service.threshold)

	rec = serve(service, http.MethodGet, "/api/v1/consolidation/nodes?threshold=1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNodeGroups_DefaultThreshold(t *testing.T) {
	service := &stubService{threshold: -1}

	rec := serve(service, http.MethodGet, "/api/v1/consolidation/nodes", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, service.threshold)
}

func TestMergeEntities(t *testing.T) {
	rec := serve(&stubService{}, http.MethodPost, "/api/v1/consolidation/entities/merge",
		`{"master_id":"`+masterID+`","candidate_ids":["`+candidateID+`"],"canonical_name":"Acme Travel"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"entities_deleted":1`)
}

func TestMergeEntities_NoCandidates(t *testing.T) {
	rec := serve(&stubService{}, http.MethodPost, "/api/v1/consolidation/entities/merge", `{"master_id":"`+masterID+`","candidate_ids":[]}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMergeNodes_CrossCategory(t *testing.T) {
	service := &stubService{mergeErr: httperror.NewHTTPError(http.StatusBadRequest, "nodes in different categories cannot be merged")}

	rec := serve(service, http.MethodPost, "/api/v1/consolidation/nodes/merge",
		`{"master_id":"`+masterID+`","candidate_ids":["`+candidateID+`"]}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, []string{candidateID}, service.mergeRequest.CandidateIDs)
}
