package decision

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/partnermap/pkg/models"
	"github.com/Ramsey-B/partnermap/pkg/tracing"
	"github.com/Ramsey-B/partnermap/pkg/utils"
)

type Processor interface {
	Process(ctx context.Context, decisions []models.Decision) (*models.ProcessDecisionsResult, error)
}

type Handler struct {
	processor Processor
}

func NewHandler(processor Processor) *Handler {
	return &Handler{processor: processor}
}

// Register registers decision routes
func (h *Handler) Register(g *echo.Group) {
	g.POST("", h.Process)
}

// Process applies reviewer decisions. Per-record failures are reported in the
// body with 200; only a registry outage fails the request.
func (h *Handler) Process(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "decision.Process")
	defer span.End()

	req, err := utils.BindRequest[models.ProcessDecisionsRequest](c)
	if err != nil {
		return err
	}

	result, err := h.processor.Process(ctx, req.Decisions)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}
