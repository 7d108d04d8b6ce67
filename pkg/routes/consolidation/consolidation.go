package consolidation

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/partnermap/pkg/models"
	"github.com/Ramsey-B/partnermap/pkg/tracing"
	"github.com/Ramsey-B/partnermap/pkg/utils"
)

type Service interface {
	ProposeEntityGroups(ctx context.Context, threshold float64) ([]models.EntityMergeGroup, error)
	ProposeNodeGroups(ctx context.Context, threshold float64) ([]models.NodeMergeGroup, error)
	MergeEntities(ctx context.Context, req models.MergeEntitiesRequest) (*models.EntityMergeResult, error)
	MergeNodes(ctx context.Context, req models.MergeNodesRequest) (*models.NodeMergeResult, error)
}

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Register registers consolidation routes
func (h *Handler) Register(g *echo.Group) {
	g.GET("/entities", h.EntityGroups)
	g.GET("/nodes", h.NodeGroups)
	g.POST("/entities/merge", h.MergeEntities)
	g.POST("/nodes/merge", h.MergeNodes)
}

// proposalRequest overrides the configured grouping threshold when set.
type proposalRequest struct {
	Threshold float64 `query:"threshold" validate:"gte=0,lt=1"`
}

func (h *Handler) EntityGroups(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "consolidation.EntityGroups")
	defer span.End()

	req, err := utils.BindRequest[proposalRequest](c)
	if err != nil {
		return err
	}

	groups, err := h.service.ProposeEntityGroups(ctx, req.Threshold)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, groups)
}

func (h *Handler) NodeGroups(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "consolidation.NodeGroups")
	defer span.End()

	req, err := utils.BindRequest[proposalRequest](c)
	if err != nil {
		return err
	}

	groups, err := h.service.ProposeNodeGroups(ctx, req.Threshold)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, groups)
}

func (h *Handler) MergeEntities(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "consolidation.MergeEntities")
	defer span.End()

	req, err := utils.BindRequest[models.MergeEntitiesRequest](c)
	if err != nil {
		return err
	}

	result, err := h.service.MergeEntities(ctx, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) MergeNodes(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "consolidation.MergeNodes")
	defer span.End()

	req, err := utils.BindRequest[models.MergeNodesRequest](c)
	if err != nil {
		return err
	}

	result, err := h.service.MergeNodes(ctx, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}
