package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel(" error "))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestAccessMiddleware(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, slog.LevelDebug, "json")
	h := AccessMiddleware(l)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("tea"))
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/tz?lng=1&lat=2", nil))
	assert.Equal(t, http.StatusTeapot, rr.Code)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "http_access", rec["msg"])
	assert.Equal(t, "tz-api", rec["service"])
	assert.Equal(t, "/api/tz", rec["path"])
	assert.Equal(t, "lng=1&lat=2", rec["query"])
	assert.EqualValues(t, 418, rec["status"])
	assert.EqualValues(t, 3, rec["bytes"])
	assert.Equal(t, "DEBUG", rec["level"])
	id, _ := rec["request_id"].(string)
	assert.Len(t, id, 36, "generated uuid")
	assert.Equal(t, id, rr.Header().Get(RequestIDHeader))
}

func TestAccessMiddlewareRequestID(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, slog.LevelDebug, "json")
	var seen string
	h := AccessMiddleware(l)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
		http.NewResponseController(w).Flush()
		w.WriteHeader(http.StatusBadGateway)
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/tz", nil)
	req.Header.Set(RequestIDHeader, "edge-123")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, "edge-123", seen)
	assert.Equal(t, "edge-123", rr.Header().Get(RequestIDHeader))
	assert.True(t, rr.Flushed)
	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "edge-123", rec["request_id"])
	assert.EqualValues(t, 200, rec["status"], "flush commits the implicit 200")
	assert.Equal(t, "DEBUG", rec["level"])
	assert.Empty(t, RequestID(req.Context()))
}

func TestAccessMiddlewareLevels(t *testing.T) {
	for status, level := range map[int]string{
		http.StatusServiceUnavailable: "WARN",
		http.StatusTooManyRequests:    "INFO",
		http.StatusBadRequest:         "DEBUG",
	} {
		var buf bytes.Buffer
		h := AccessMiddleware(New(&buf, slog.LevelDebug, "json"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
		var rec map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
		assert.Equal(t, level, rec["level"], "status %d", status)
	}
}

func TestSetAndL(t *testing.T) {
	prev := L()
	t.Cleanup(func() { Set(prev) })
	var buf bytes.Buffer
	Set(New(&buf, slog.LevelInfo, "text"))
	L().Info("tzdb_open_ok", "zones", 3)
	assert.Contains(t, buf.String(), "msg=tzdb_open_ok")
	assert.Contains(t, buf.String(), "zones=3")
}
