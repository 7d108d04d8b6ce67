package decision

import (
	"context"
	"encoding/json"
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

type stubProcessor struct {
	decisions []models.Decision
	result    *models.ProcessDecisionsResult
	err       error
}

func (p *stubProcessor) Process(_ context.Context, decisions []models.Decision) (*models.ProcessDecisionsResult, error) {
	p.decisions = decisions
	return p.result, p.err
}

func post(processor Processor, body string) *httptest.ResponseRecorder {
	e := echo.New()
	e.HTTPErrorHandler = middleware.Error(ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}))
	NewHandler(processor).Register(e.Group("/api/v1/decisions"))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/decisions", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestProcess_PartialFailureIsOK(t *testing.T) {
	processor := &stubProcessor{result: &models.ProcessDecisionsResult{
		Processed: 1,
		Errors:    []models.DecisionError{{StagingID: "b2a0c3c4-5d5e-4f6a-8b7c-9d0e1f2a3b4c", Reason: "staging node not found"}},
	}}

	rec := post(processor, `{"decisions":[
		{"staging_id":"a1f0c3c4-5d5e-4f6a-8b7c-9d0e1f2a3b4c","action":"reject"},
		{"staging_id":"b2a0c3c4-5d5e-4f6a-8b7c-9d0e1f2a3b4c","action":"approve_new"}
	]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, processor.decisions, 2)
	assert.Equal(t, models.DecisionActionReject, processor.decisions[0].Action)

	var result models.ProcessDecisionsResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 1, result.Processed)
	assert.Len(t, result.Errors, 1)
}

func TestProcess_RejectsMalformedRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "empty list", body: `{"decisions":[]}`},
		{name: "unknown action", body: `{"decisions":[{"staging_id":"a1f0c3c4-5d5e-4f6a-8b7c-9d0e1f2a3b4c","action":"merge"}]}`},
		{name: "staging id not a uuid", body: `{"decisions":[{"staging_id":"row-1","action":"reject"}]}`},
		{name: "not json", body: `decisions`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			processor := &stubProcessor{}
			rec := post(processor, tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Nil(t, processor.decisions)
		})
	}
}

func TestProcess_RegistryUnavailable(t *testing.T) {
	processor := &stubProcessor{err: httperror.NewHTTPError(http.StatusServiceUnavailable, "registry unavailable")}

	rec := post(processor, `{"decisions":[{"staging_id":"a1f0c3c4-5d5e-4f6a-8b7c-9d0e1f2a3b4c","action":"reject"}]}`)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "registry unavailable")
}
