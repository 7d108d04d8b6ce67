package node

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/partnermap/pkg/middleware"
	"github.com/Ramsey-B/partnermap/pkg/models"
)

const (
	nodeID   = "3c4d5e6f-7a8b-4c0d-9e1f-3a4b5c6d7e8f"
	entityID = "0c8e9f2a-1b3d-4e5f-8a9b-0c1d2e3f4a5b"
)

type stubService struct {
	filter models.NodeFilter
	update models.UpdateNodeRequest
}

func (s *stubService) ListNodes(_ context.Context, filter models.NodeFilter) (*models.NodeListResponse, error) {
	s.filter = filter
	return &models.NodeListResponse{}, nil
}

func (s *stubService) GetNode(_ context.Context, id string) (*models.Node, error) {
	return &models.Node{ID: id}, nil
}

func (s *stubService) UpdateNode(_ context.Context, id string, req models.UpdateNodeRequest) (*models.Node, error) {
	s.update = req
	return &models.Node{ID: id}, nil
}

func (s *stubService) AddNodeAliases(_ context.Context, id string, aliases []string) (*models.Node, error) {
	return &models.Node{ID: id, NodeAliases: aliases}, nil
}

func serve(service Service, method, target, body string) *httptest.ResponseRecorder {
	e := echo.New()
	e.HTTPErrorHandler = middleware.Error(ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}))
	NewHandler(service).Register(e.Group("/api/v1/nodes"))

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestList_Filter(t *testing.T) {
	service := &stubService{}

	rec := serve(service, http.MethodGet, "/api/v1/nodes?category=PMS&entity_id="+entityID, "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.NodeCategoryPMS, service.filter.Category)
	assert.Equal(t, entityID, service.filter.EntityID)
}

func TestList_UnknownCategory(t *testing.T) {
	rec := serve(&stubService{}, http.MethodGet, "/api/v1/nodes?category=Spreadsheet", "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdate(t *testing.T) {
	service := &stubService{}

	rec := serve(service, http.MethodPatch, "/api/v1/nodes/"+nodeID, `{"is_active":false,"protocols_supported":["REST"]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, service.update.IsActive)
	assert.False(t, *service.update.IsActive)
	assert.Nil(t, service.update.NodeName)
}

func TestUpdate_InvalidDirection(t *testing.T) {
	rec := serve(&stubService{}, http.MethodPatch, "/api/v1/nodes/"+nodeID, `{"direction":"sideways"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
