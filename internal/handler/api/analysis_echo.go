package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"FinGuard/internal/domain/models"
	domrepo "FinGuard/internal/domain/repository"
	"FinGuard/internal/service/ratelimit"
	"FinGuard/internal/services/analytics"
	"FinGuard/internal/usecase"
	xhttp "FinGuard/pkg/http"
	xlogger "FinGuard/pkg/logger"
	"FinGuard/pkg/util"
)

// multipartSlack covers multipart framing on top of the file itself.
const multipartSlack = 1 << 20

// AnalysisUsecase is what the handler needs from the analysis service.
type AnalysisUsecase interface {
	AnalyzeUpload(ctx context.Context, filename string, src io.Reader) (*models.AnalysisResult, error)
	EnqueueUpload(ctx context.Context, filename string, data []byte) (string, error)
	AnalyzeLive(ctx context.Context, limit int) (*models.AnalysisResult, error)
	Simulate(ctx context.Context, n int, seed int64) (*models.SimulateResponse, error)
	Get(ctx context.Context, id string) (*models.AnalysisResult, error)
	List(ctx context.Context, f models.AnalysisFilter) ([]*models.AnalysisResult, error)
	LiveWindowLen() int
	Health(ctx context.Context) error
}

var _ AnalysisUsecase = (*usecase.AnalysisService)(nil)

// AnalysisEchoHandler serves the analysis API.
type AnalysisEchoHandler struct {
	logger      *xlogger.Logger
	svc         AnalysisUsecase
	limiter     *ratelimit.Limiter
	maxUpload   int64
	liveDefault int
}

type HandlerConfig struct {
	MaxUploadBytes   int64
	LiveDefaultLimit int
}

func NewAnalysisEchoHandler(logger *xlogger.Logger, svc AnalysisUsecase, limiter *ratelimit.Limiter, cfg HandlerConfig) *AnalysisEchoHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 16 << 20
	}
	if cfg.LiveDefaultLimit <= 0 {
		cfg.LiveDefaultLimit = 100
	}
	return &AnalysisEchoHandler{
		logger:      logger,
		svc:         svc,
		limiter:     limiter,
		maxUpload:   cfg.MaxUploadBytes,
		liveDefault: cfg.LiveDefaultLimit,
	}
}

func (h *AnalysisEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	g := e.Group("/api/analyses")
	g.POST("/upload", h.Upload)
	g.GET("/live", h.Live, h.rateLimit)
	g.POST("/simulate", h.Simulate, h.rateLimit)
	g.GET("/:id", h.Get)
	g.GET("", h.List)
}

// Upload analyses a CSV sent as multipart field "file". With ?async=true the
// analysis is queued and 202 is returned with the future id.
func (h *AnalysisEchoHandler) Upload(c echo.Context) error {
	req := &models.UploadRequest{}
	if err := echo.QueryParamsBinder(c).Bool("async", &req.Async).BindError(); err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("async must be a boolean").WithError(err))
	}

	c.Request().Body = http.MaxBytesReader(c.Response(), c.Request().Body, h.maxUpload+multipartSlack)
	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return xhttp.AppErrorResponse(c, h.tooLarge())
		}
		return xhttp.AppErrorResponse(c, xhttp.FieldError("ERR_REQUIRED", "file", "file is required").WithError(err))
	}
	if !strings.EqualFold(filepath.Ext(fh.Filename), ".csv") {
		return xhttp.AppErrorResponse(c, xhttp.FieldError("ERR_FILE_TYPE", "file", "only .csv files are accepted"))
	}
	if fh.Size > h.maxUpload {
		return xhttp.AppErrorResponse(c, h.tooLarge())
	}

	f, err := fh.Open()
	if err != nil {
		return h.fail(c, "open upload", err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, h.maxUpload+1))
	if err != nil {
		return h.fail(c, "read upload", err)
	}
	if int64(len(data)) > h.maxUpload {
		return xhttp.AppErrorResponse(c, h.tooLarge())
	}

	ctx := c.Request().Context()
	if req.Async {
		id, err := h.svc.EnqueueUpload(ctx, fh.Filename, data)
		if err != nil {
			return h.fail(c, "enqueue upload", err)
		}
		return xhttp.AcceptedResponse(c, &models.QueuedResponse{ID: id, Status: "queued"})
	}

	res, err := h.svc.AnalyzeUpload(ctx, fh.Filename, bytes.NewReader(data))
	if err != nil {
		return h.fail(c, "analyze upload", err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *AnalysisEchoHandler) tooLarge() *xhttp.AppError {
	return xhttp.FileTooLargeError(fmt.Sprintf("file exceeds %d bytes", h.maxUpload)).
		WithParam("max_bytes", h.maxUpload)
}

// Live analyses the latest trades in the live window.
func (h *AnalysisEchoHandler) Live(c echo.Context) error {
	req := &models.LiveRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	limit := req.Limit
	if limit == 0 {
		limit = h.liveDefault
	}

	res, err := h.svc.AnalyzeLive(c.Request().Context(), limit)
	if err != nil {
		return h.fail(c, "analyze live", err)
	}
	return xhttp.SuccessResponse(c, res)
}

// Simulate generates transactions and analyses them.
func (h *AnalysisEchoHandler) Simulate(c echo.Context) error {
	req := &models.SimulateRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	res, err := h.svc.Simulate(c.Request().Context(), req.NumTransactions, req.Seed)
	if err != nil {
		return h.fail(c, "simulate", err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *AnalysisEchoHandler) Get(c echo.Context) error {
	req := &models.GetAnalysisRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	res, err := h.svc.Get(c.Request().Context(), req.ID)
	if err != nil {
		return h.fail(c, "get analysis", err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=60")
	return xhttp.SuccessResponse(c, res)
}

// List returns stored analyses, newest first.
func (h *AnalysisEchoHandler) List(c echo.Context) error {
	req := &models.ListAnalysesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	f := models.AnalysisFilter{Source: models.Source(req.Source), Limit: req.Limit}
	if since, ok := util.ParseTime(req.Since); ok {
		f.Since = since
	}

	rows, err := h.svc.List(c.Request().Context(), f)
	if err != nil {
		return h.fail(c, "list analyses", err)
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *AnalysisEchoHandler) Health(c echo.Context) error {
	body := map[string]interface{}{
		"status":      "ok",
		"live_trades": h.svc.LiveWindowLen(),
	}
	if err := h.svc.Health(c.Request().Context()); err != nil {
		h.logger.Warn("health check failed", xlogger.Error(err))
		body["status"] = "degraded"
		body["error"] = err.Error()
		return xhttp.DataResponse(c, http.StatusServiceUnavailable, body)
	}
	return xhttp.SuccessResponse(c, body)
}

// rateLimit applies the per-address token bucket.
func (h *AnalysisEchoHandler) rateLimit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if h.limiter == nil {
			return next(c)
		}
		key := c.RealIP()
		if !h.limiter.Allow(key) {
			wait := h.limiter.RetryAfter(key)
			c.Response().Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError("rate limit exceeded"))
		}
		return next(c)
	}
}

// fail maps service errors onto the response envelope.
func (h *AnalysisEchoHandler) fail(c echo.Context, op string, err error) error {
	var appErr *xhttp.AppError
	switch {
	case errors.As(err, &appErr):
	case errors.Is(err, analytics.ErrSourceAdapter):
		appErr = xhttp.NewAppError("ERR_SOURCE_ADAPTER", "", err.Error(), http.StatusBadRequest).WithError(err)
	case errors.Is(err, domrepo.ErrNotFound):
		appErr = xhttp.NotFoundError("analysis not found").WithError(err)
	case errors.Is(err, usecase.ErrQueueDisabled):
		appErr = xhttp.ServiceUnavailableError(err.Error()).WithError(err)
	case errors.Is(err, context.DeadlineExceeded):
		appErr = xhttp.ServiceUnavailableError("analysis timed out").WithError(err)
	default:
		h.logger.Error(op+" failed", xlogger.String("path", c.Path()), xlogger.Error(err))
		appErr = xhttp.InternalError("analysis failed").WithError(err)
	}
	return xhttp.AppErrorResponse(c, appErr)
}
