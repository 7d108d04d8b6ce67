package entity

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/partnermap/pkg/models"
	"github.com/Ramsey-B/partnermap/pkg/tracing"
	"github.com/Ramsey-B/partnermap/pkg/utils"
)

type Service interface {
	ListEntities(ctx context.Context) (*models.EntityListResponse, error)
	GetEntity(ctx context.Context, id string) (*models.Entity, error)
	UpdateEntity(ctx context.Context, id string, req models.UpdateEntityRequest) (*models.Entity, error)
	AddEntityAliases(ctx context.Context, id string, aliases []string) (*models.Entity, error)
}

type Canonicalizer interface {
	CanonicalizeEntity(ctx context.Context, id string) (*models.Entity, error)
}

type Handler struct {
	service       Service
	canonicalizer Canonicalizer
}

func NewHandler(service Service, canonicalizer Canonicalizer) *Handler {
	return &Handler{
		service:       service,
		canonicalizer: canonicalizer,
	}
}

// Register registers entity routes
func (h *Handler) Register(g *echo.Group) {
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.PATCH("/:id", h.Update)
	g.POST("/:id/aliases", h.AddAliases)
	g.POST("/:id/canonicalize", h.Canonicalize)
}

type entityIDRequest struct {
	ID string `param:"id" validate:"required"`
}

type updateEntityRequest struct {
	ID string `param:"id" validate:"required"`
	models.UpdateEntityRequest
}

type addAliasesRequest struct {
	ID string `param:"id" validate:"required"`
	models.AddAliasesRequest
}

func (h *Handler) List(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "entity.List")
	defer span.End()

	entities, err := h.service.ListEntities(ctx)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, entities)
}

func (h *Handler) Get(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "entity.Get")
	defer span.End()

	req, err := utils.BindRequest[entityIDRequest](c)
	if err != nil {
		return err
	}

	entity, err := h.service.GetEntity(ctx, req.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, entity)
}

// Update applies a partial update; omitted fields are left unchanged.
func (h *Handler) Update(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "entity.Update")
	defer span.End()

	req, err := utils.BindRequest[updateEntityRequest](c)
	if err != nil {
		return err
	}

	entity, err := h.service.UpdateEntity(ctx, req.ID, req.UpdateEntityRequest)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, entity)
}

func (h *Handler) AddAliases(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "entity.AddAliases")
	defer span.End()

	req, err := utils.BindRequest[addAliasesRequest](c)
	if err != nil {
		return err
	}

	entity, err := h.service.AddEntityAliases(ctx, req.ID, req.Aliases)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, entity)
}

// Canonicalize re-picks the entity's master name from its own names.
func (h *Handler) Canonicalize(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "entity.Canonicalize")
	defer span.End()

	req, err := utils.BindRequest[entityIDRequest](c)
	if err != nil {
		return err
	}

	entity, err := h.canonicalizer.CanonicalizeEntity(ctx, req.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, entity)
}
