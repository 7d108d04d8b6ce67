package node

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/partnermap/pkg/models"
	"github.com/Ramsey-B/partnermap/pkg/tracing"
	"github.com/Ramsey-B/partnermap/pkg/utils"
)

type Service interface {
	ListNodes(ctx context.Context, filter models.NodeFilter) (*models.NodeListResponse, error)
	GetNode(ctx context.Context, id string) (*models.Node, error)
	UpdateNode(ctx context.Context, id string, req models.UpdateNodeRequest) (*models.Node, error)
	AddNodeAliases(ctx context.Context, id string, aliases []string) (*models.Node, error)
}

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Register registers node routes
func (h *Handler) Register(g *echo.Group) {
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.PATCH("/:id", h.Update)
	g.POST("/:id/aliases", h.AddAliases)
}

type nodeIDRequest struct {
	ID string `param:"id" validate:"required"`
}

type updateNodeRequest struct {
	ID string `param:"id" validate:"required"`
	models.UpdateNodeRequest
}

type addAliasesRequest struct {
	ID string `param:"id" validate:"required"`
	models.AddAliasesRequest
}

// List returns nodes, optionally filtered by category and owning entity.
func (h *Handler) List(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "node.List")
	defer span.End()

	filter, err := utils.BindRequest[models.NodeFilter](c)
	if err != nil {
		return err
	}

	nodes, err := h.service.ListNodes(ctx, filter)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, nodes)
}

func (h *Handler) Get(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "node.Get")
	defer span.End()

	req, err := utils.BindRequest[nodeIDRequest](c)
	if err != nil {
		return err
	}

	node, err := h.service.GetNode(ctx, req.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, node)
}

func (h *Handler) Update(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "node.Update")
	defer span.End()

	req, err := utils.BindRequest[updateNodeRequest](c)
	if err != nil {
		return err
	}

	node, err := h.service.UpdateNode(ctx, req.ID, req.UpdateNodeRequest)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, node)
}

func (h *Handler) AddAliases(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "node.AddAliases")
	defer span.End()

	req, err := utils.BindRequest[addAliasesRequest](c)
	if err != nil {
		return err
	}

	node, err := h.service.AddNodeAliases(ctx, req.ID, req.Aliases)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, node)
}
