package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinGuard/pkg/http/middleware"
)

type listQuery struct {
	Source string `query:"source" validate:"omitempty,oneof=upload live"`
	Since  string `query:"since" validate:"omitempty,timestamp"`
	Limit  int    `query:"limit" default:"20" validate:"gte=1,lte=200"`
}

func bindQuery(t *testing.T, rawQuery string) (*listQuery, []ValidationError) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?"+rawQuery, nil)
	c := e.NewContext(req, httptest.NewRecorder())
	q := &listQuery{}
	return q, ReadAndValidateRequest(c, q)
}

func TestReadAndValidateRequest(t *testing.T) {
	q, errs := bindQuery(t, "")
	require.Nil(t, errs)
	assert.Equal(t, 20, q.Limit)

	q, errs = bindQuery(t, "source=live&since=2024-01-02T03:04:05Z&limit=5")
	require.Nil(t, errs)
	assert.Equal(t, "live", q.Source)
	assert.Equal(t, 5, q.Limit)

	_, errs = bindQuery(t, "limit=500&since=yesterday")
	require.Len(t, errs, 2)
	byField := map[string]ValidationError{}
	for _, e := range errs {
		byField[e.Field] = e
	}
	assert.Equal(t, "ERR_LTE", byField["limit"].Code)
	assert.Equal(t, "200", byField["limit"].Params["max"])
	assert.Equal(t, "ERR_TIMESTAMP", byField["since"].Code)

	_, errs = bindQuery(t, "source=ftp")
	require.Len(t, errs, 1)
	assert.Equal(t, "ERR_ONEOF", errs[0].Code)
	assert.Equal(t, []string{"upload", "live"}, errs[0].Params["options"])

	_, errs = bindQuery(t, "limit=abc")
	require.Len(t, errs, 1)
	assert.Equal(t, "ERR_BAD_REQUEST", errs[0].Code)
}

type envelope struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
}

func serve(e *echo.Echo, req *http.Request) (*httptest.ResponseRecorder, envelope) {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	var env envelope
	_ = json.Unmarshal(rec.Body.Bytes(), &env)
	return rec, env
}

func TestErrorHandlerEnvelope(t *testing.T) {
	e := echo.New()
	e.HTTPErrorHandler = ErrorHandler(nil)
	e.GET("/boom", func(c echo.Context) error { return errors.New("db exploded") })
	e.GET("/gone", func(c echo.Context) error { return NotFoundError("no such analysis") })

	rec, env := serve(e, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, string(env.Data), "ERR_NOT_FOUND")

	rec, env = serve(e, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, string(env.Data), "db exploded")

	rec, env = serve(e, httptest.NewRequest(http.MethodGet, "/gone", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, string(env.Data), "no such analysis")
}

func TestAppErrorResponse(t *testing.T) {
	e := echo.New()
	e.GET("/big", func(c echo.Context) error {
		return AppErrorResponse(c, FileTooLargeError("too big").WithParam("max_bytes", 10))
	})
	e.GET("/opaque", func(c echo.Context) error { return AppErrorResponse(c, errors.New("secret")) })

	rec, env := serve(e, httptest.NewRequest(http.MethodGet, "/big", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var errs []AppError
	require.NoError(t, json.Unmarshal(env.Data, &errs))
	require.Len(t, errs, 1)
	assert.Equal(t, "ERR_FILE_TOO_LARGE", errs[0].Code)
	assert.Equal(t, "file", errs[0].Field)
	assert.EqualValues(t, 10, errs[0].Params["max_bytes"])

	rec, env = serve(e, httptest.NewRequest(http.MethodGet, "/opaque", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, string(env.Data), "secret")
}

func TestCORS(t *testing.T) {
	e := echo.New()
	e.Use(middleware.CORS("https://dash.example"))
	e.GET("/x", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set(echo.HeaderOrigin, "https://dash.example")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://dash.example", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
	assert.Contains(t, rec.Header().Get(echo.HeaderAccessControlAllowMethods), http.MethodPost)

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(echo.HeaderOrigin, "https://evil.example")
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
}

func TestClientRetriesRetryableStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := NewClient(WithRetry(3, time.Millisecond))
	var out struct {
		OK bool `json:"ok"`
	}
	require.NoError(t, c.GetJSON(context.Background(), srv.URL, url.Values{"symbol": {"BTCUSDT"}}, &out))
	assert.True(t, out.OK)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Retry-After", "7")
		http.Error(w, "bad symbol", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewClient(WithRetry(3, time.Millisecond)).GetJSON(context.Background(), srv.URL, nil, nil)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.False(t, se.Retryable())
	assert.Equal(t, 7*time.Second, se.RetryAfter)
	assert.True(t, strings.Contains(se.Body, "bad symbol"))
	assert.Equal(t, int32(1), calls.Load())
}

func TestClientPostsJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "finguard", r.Header.Get("User-Agent"))
		var in map[string]int
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		_ = json.NewEncoder(w).Encode(map[string]int{"n": in["n"] * 2})
	}))
	defer srv.Close()

	var out map[string]int
	err := NewClient(WithUserAgent("finguard")).SendAndParse(context.Background(), &RequestOptions{
		Method: MethodPost,
		URL:    srv.URL,
		Body:   map[string]int{"n": 21},
	}, &out)
	require.NoError(t, err)
	assert.Equal(t, 42, out["n"])
}
