package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinGuard/internal/domain/models"
	domrepo "FinGuard/internal/domain/repository"
	"FinGuard/internal/service/ratelimit"
	"FinGuard/internal/services/analytics"
	xhttp "FinGuard/pkg/http"
)

const knownID = "7b1f3c1e-2d4a-4c55-9b1e-0c6f0f3a9e21"

type fakeUsecase struct {
	uploaded   string
	queued     []byte
	liveLimit  int
	simN       int
	filter     models.AnalysisFilter
	uploadErr  error
	healthErr  error
	windowSize int
}

func (f *fakeUsecase) AnalyzeUpload(_ context.Context, filename string, src io.Reader) (*models.AnalysisResult, error) {
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	b, _ := io.ReadAll(src)
	f.uploaded = string(b)
	return &models.AnalysisResult{ID: knownID, Filename: filename, TotalTransactions: 2}, nil
}

func (f *fakeUsecase) EnqueueUpload(_ context.Context, _ string, data []byte) (string, error) {
	f.queued = data
	return knownID, nil
}

func (f *fakeUsecase) AnalyzeLive(_ context.Context, limit int) (*models.AnalysisResult, error) {
	f.liveLimit = limit
	return &models.AnalysisResult{LiveData: true, TotalTransactions: limit}, nil
}

func (f *fakeUsecase) Simulate(_ context.Context, n int, _ int64) (*models.SimulateResponse, error) {
	f.simN = n
	return &models.SimulateResponse{Analysis: &models.AnalysisResult{SimulatedData: true, TotalTransactions: n}}, nil
}

func (f *fakeUsecase) Get(_ context.Context, id string) (*models.AnalysisResult, error) {
	if id != knownID {
		return nil, domrepo.ErrNotFound
	}
	return &models.AnalysisResult{ID: id}, nil
}

func (f *fakeUsecase) List(_ context.Context, filter models.AnalysisFilter) ([]*models.AnalysisResult, error) {
	f.filter = filter
	return []*models.AnalysisResult{{ID: knownID}}, nil
}

func (f *fakeUsecase) LiveWindowLen() int             { return f.windowSize }
func (f *fakeUsecase) Health(_ context.Context) error { return f.healthErr }

type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newTestServer(f *fakeUsecase, limiter *ratelimit.Limiter, maxUpload int64) *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = xhttp.ErrorHandler(nil)
	h := NewAnalysisEchoHandler(nil, f, limiter, HandlerConfig{MaxUploadBytes: maxUpload, LiveDefaultLimit: 77})
	h.RegisterRoutes(e)
	return e
}

func do(t *testing.T, e *echo.Echo, req *http.Request) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

func uploadRequest(t *testing.T, target, filename, content string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if filename != "" {
		part, err := w.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	return req
}

func errorCode(t *testing.T, env envelope) string {
	t.Helper()
	var errs []struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &errs))
	require.NotEmpty(t, errs)
	return errs[0].Code
}

func TestUploadSync(t *testing.T) {
	f := &fakeUsecase{}
	e := newTestServer(f, nil, 1024)

	rec, env := do(t, e, uploadRequest(t, "/api/analyses/upload", "trades.CSV", "price,qty\n1,2\n"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "price,qty\n1,2\n", f.uploaded)

	var res models.AnalysisResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, "trades.CSV", res.Filename)
}

func TestUploadAsync(t *testing.T) {
	f := &fakeUsecase{}
	e := newTestServer(f, nil, 1024)

	rec, env := do(t, e, uploadRequest(t, "/api/analyses/upload?async=true", "t.csv", "price,qty\n1,2\n"))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	var q models.QueuedResponse
	require.NoError(t, json.Unmarshal(env.Data, &q))
	assert.Equal(t, knownID, q.ID)
	assert.Equal(t, "queued", q.Status)
	assert.NotEmpty(t, f.queued)
}

func TestUploadRejections(t *testing.T) {
	cases := []struct {
		name     string
		filename string
		content  string
		target   string
		code     string
	}{
		{"missing file", "", "", "/api/analyses/upload", "ERR_REQUIRED"},
		{"wrong extension", "t.txt", "price,qty\n", "/api/analyses/upload", "ERR_FILE_TYPE"},
		{"too large", "t.csv", strings.Repeat("1", 100), "/api/analyses/upload", "ERR_FILE_TOO_LARGE"},
		{"bad async flag", "t.csv", "x", "/api/analyses/upload?async=maybe", "ERR_BAD_REQUEST"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newTestServer(&fakeUsecase{}, nil, 50)
			rec, env := do(t, e, uploadRequest(t, tc.target, tc.filename, tc.content))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tc.code, errorCode(t, env))
		})
	}
}

func TestUploadSourceAdapterError(t *testing.T) {
	f := &fakeUsecase{uploadErr: fmt.Errorf("%w: no columns", analytics.ErrSourceAdapter)}
	e := newTestServer(f, nil, 1024)
	rec, env := do(t, e, uploadRequest(t, "/api/analyses/upload", "t.csv", "a\n"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "ERR_SOURCE_ADAPTER", errorCode(t, env))
}

func TestUploadInternalError(t *testing.T) {
	f := &fakeUsecase{uploadErr: errors.New("disk on fire")}
	e := newTestServer(f, nil, 1024)
	rec, _ := do(t, e, uploadRequest(t, "/api/analyses/upload", "t.csv", "price,qty\n"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestLive(t *testing.T) {
	f := &fakeUsecase{}
	e := newTestServer(f, nil, 0)

	rec, _ := do(t, e, httptest.NewRequest(http.MethodGet, "/api/analyses/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 77, f.liveLimit)

	rec, _ = do(t, e, httptest.NewRequest(http.MethodGet, "/api/analyses/live?limit=10", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 10, f.liveLimit)

	rec, _ = do(t, e, httptest.NewRequest(http.MethodGet, "/api/analyses/live?limit=5000", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSimulate(t *testing.T) {
	f := &fakeUsecase{}
	e := newTestServer(f, nil, 0)

	req := httptest.NewRequest(http.MethodPost, "/api/analyses/simulate", strings.NewReader(`{}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec, _ := do(t, e, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 50, f.simN)

	req = httptest.NewRequest(http.MethodPost, "/api/analyses/simulate", strings.NewReader(`{"num_transactions":20000}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec, _ = do(t, e, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRateLimit(t *testing.T) {
	e := newTestServer(&fakeUsecase{}, ratelimit.New(1, 0.5), 0)

	rec, _ := do(t, e, httptest.NewRequest(http.MethodGet, "/api/analyses/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, env := do(t, e, httptest.NewRequest(http.MethodGet, "/api/analyses/live", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
	assert.Equal(t, "ERR_RATE_LIMITED", errorCode(t, env))

	// get is not limited
	rec, _ = do(t, e, httptest.NewRequest(http.MethodGet, "/api/analyses/"+knownID, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGet(t *testing.T) {
	e := newTestServer(&fakeUsecase{}, nil, 0)

	rec, env := do(t, e, httptest.NewRequest(http.MethodGet, "/api/analyses/"+knownID, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	var res models.AnalysisResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, knownID, res.ID)

	rec, env = do(t, e, httptest.NewRequest(http.MethodGet, "/api/analyses/00000000-0000-4000-8000-000000000000", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "ERR_NOT_FOUND", errorCode(t, env))

	rec, _ = do(t, e, httptest.NewRequest(http.MethodGet, "/api/analyses/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestList(t *testing.T) {
	f := &fakeUsecase{}
	e := newTestServer(f, nil, 0)

	rec, env := do(t, e, httptest.NewRequest(http.MethodGet, "/api/analyses?source=live&limit=5&since=1700000000", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.SourceLive, f.filter.Source)
	assert.Equal(t, 5, f.filter.Limit)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), f.filter.Since.UTC())

	var list struct {
		Rows  []models.AnalysisResult `json:"rows"`
		Total int64                   `json:"total"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Equal(t, int64(1), list.Total)

	rec, _ = do(t, e, httptest.NewRequest(http.MethodGet, "/api/analyses", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 20, f.filter.Limit)

	rec, _ = do(t, e, httptest.NewRequest(http.MethodGet, "/api/analyses?since=yesterday", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, e, httptest.NewRequest(http.MethodGet, "/api/analyses?source=ftp", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	f := &fakeUsecase{windowSize: 12}
	e := newTestServer(f, nil, 0)

	rec, env := do(t, e, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env.Data), `"live_trades":12`)

	f.healthErr = errors.New("clickhouse unreachable")
	rec, env = do(t, e, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, string(env.Data), "degraded")
}
