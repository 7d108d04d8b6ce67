package batch

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/partnermap/pkg/models"
	"github.com/Ramsey-B/partnermap/pkg/tracing"
	"github.com/Ramsey-B/partnermap/pkg/utils"
)

// maxUploadBytes bounds multipart uploads.
const maxUploadBytes = 20 << 20

type Service interface {
	Upload(ctx context.Context, name, filename string, content io.Reader) (*models.BatchUploadResult, error)
	Get(ctx context.Context, id string) (*models.Batch, error)
	List(ctx context.Context) ([]models.Batch, error)
	StagingNodes(ctx context.Context, id string) ([]models.StagingNode, error)
	Cancel(ctx context.Context, id string) (*models.Batch, error)
	Fail(ctx context.Context, id string, report *models.ErrorReport) (*models.Batch, error)
	Rollback(ctx context.Context, id string) (*models.RollbackResult, error)
}

type Analyzer interface {
	Analyze(ctx context.Context, batchID string, cfg models.AnalyzerConfig) ([]models.MatchResult, error)
}

type Handler struct {
	service  Service
	analyzer Analyzer
}

func NewHandler(service Service, analyzer Analyzer) *Handler {
	return &Handler{
		service:  service,
		analyzer: analyzer,
	}
}

// Register registers batch routes
func (h *Handler) Register(g *echo.Group) {
	g.POST("", h.Upload)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.GET("/:id/staging", h.StagingNodes)
	g.POST("/:id/analyze", h.Analyze)
	g.POST("/:id/rollback", h.Rollback)
	g.POST("/:id/cancel", h.Cancel)
	g.POST("/:id/fail", h.Fail)
}

type batchIDRequest struct {
	ID string `param:"id" validate:"required"`
}

// Upload stages a CSV or XLSX upload. Multipart requests carry the sheet in
// "file"; JSON requests carry CSV text in csv_content.
func (h *Handler) Upload(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "batch.Upload")
	defer span.End()

	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
		file, err := c.FormFile("file")
		if err != nil {
			return httperror.NewHTTPError(http.StatusBadRequest, "multipart upload requires a file field")
		}
		if file.Size > maxUploadBytes {
			return httperror.NewHTTPErrorf(http.StatusRequestEntityTooLarge, "file exceeds %d bytes", maxUploadBytes)
		}

		src, err := file.Open()
		if err != nil {
			return httperror.WrapError(http.StatusBadRequest, err)
		}
		defer src.Close()

		result, err := h.service.Upload(ctx, c.FormValue("batch_name"), file.Filename, src)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusCreated, result)
	}

	req, err := utils.BindRequest[models.CreateBatchRequest](c)
	if err != nil {
		return err
	}

	result, err := h.service.Upload(ctx, req.BatchName, "", strings.NewReader(req.CSVContent))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, result)
}

// List returns every batch, newest first.
func (h *Handler) List(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "batch.List")
	defer span.End()

	batches, err := h.service.List(ctx)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, batches)
}

func (h *Handler) Get(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "batch.Get")
	defer span.End()

	req, err := utils.BindRequest[batchIDRequest](c)
	if err != nil {
		return err
	}

	batch, err := h.service.Get(ctx, req.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, batch)
}

func (h *Handler) StagingNodes(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "batch.StagingNodes")
	defer span.End()

	req, err := utils.BindRequest[batchIDRequest](c)
	if err != nil {
		return err
	}

	rows, err := h.service.StagingNodes(ctx, req.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rows)
}

type analyzeRequest struct {
	ID string `param:"id" validate:"required"`
	models.AnalyzerConfig
}

// Analyze scores every staged row against the registry and earlier rows.
// An empty body uses the default thresholds.
func (h *Handler) Analyze(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "batch.Analyze")
	defer span.End()

	req, err := utils.BindRequest[analyzeRequest](c)
	if err != nil {
		return err
	}

	results, err := h.analyzer.Analyze(ctx, req.ID, req.AnalyzerConfig)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, results)
}

func (h *Handler) Rollback(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "batch.Rollback")
	defer span.End()

	req, err := utils.BindRequest[batchIDRequest](c)
	if err != nil {
		return err
	}

	result, err := h.service.Rollback(ctx, req.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) Cancel(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "batch.Cancel")
	defer span.End()

	req, err := utils.BindRequest[batchIDRequest](c)
	if err != nil {
		return err
	}

	batch, err := h.service.Cancel(ctx, req.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, batch)
}

type failRequest struct {
	ID      string `param:"id" validate:"required"`
	Message string `json:"message" validate:"required,max=1024"`
}

// Fail marks a pending batch as failed ingestion with an operator message.
func (h *Handler) Fail(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "batch.Fail")
	defer span.End()

	req, err := utils.BindRequest[failRequest](c)
	if err != nil {
		return err
	}

	batch, err := h.service.Fail(ctx, req.ID, &models.ErrorReport{Message: req.Message})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, batch)
}
