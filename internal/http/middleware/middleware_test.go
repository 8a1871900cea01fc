package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(mw func(http.Handler) http.Handler, handler http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	mw(handler).ServeHTTP(rec, req)
	return rec
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok"))
	})
}

func TestRequestIDGenerated(t *testing.T) {
	var seen string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	})

	rec := httptest.NewRecorder()
	RequestID(handler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))
}

func TestRequestIDHonorsCaller(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "player-42")

	rec := httptest.NewRecorder()
	RequestID(okHandler()).ServeHTTP(rec, req)
	assert.Equal(t, "player-42", rec.Header().Get(RequestIDHeader))
}

func TestRequestIDRejectsOversize(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, strings.Repeat("x", 200))

	rec := httptest.NewRecorder()
	RequestID(okHandler()).ServeHTTP(rec, req)
	assert.NotEqual(t, strings.Repeat("x", 200), rec.Header().Get(RequestIDHeader))
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
}

func TestRecoveryTurnsPanicInto500(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	handler := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})

	rec := serve(Recovery(logger), handler, httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, buf.String(), "panic recovered")
}

func TestRecoveryPassesThroughAbort(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	handler := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	})

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		rec := httptest.NewRecorder()
		Recovery(logger)(handler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stream/s1/media", nil))
	})
}

func TestCORSExposesRangeHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/stream/s1/media", nil)
	req.Header.Set("Origin", "http://player.local")

	rec := serve(CORS(), okHandler(), req)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Expose-Headers"), "Content-Range")
	assert.Contains(t, rec.Header().Get("Access-Control-Expose-Headers"), "Accept-Ranges")
}

func TestCORSPreflightAllowsRange(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/stream/s1/media", nil)
	req.Header.Set("Origin", "http://player.local")

	rec := serve(CORS(), okHandler(), req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Range")
}

func TestCORSSpecificOriginVaries(t *testing.T) {
	cfg := DefaultCORSConfig()
	cfg.AllowedOrigins = []string{"http://player.local"}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://player.local")
	rec := serve(CORSWithConfig(cfg), okHandler(), req)
	assert.Equal(t, "http://player.local", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Values("Vary"), "Origin")

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://evil.local")
	rec = serve(CORSWithConfig(cfg), okHandler(), req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestLoggingDemotesMediaRoutes(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	mw := NewLoggingMiddleware(logger)

	serve(mw, okHandler(), httptest.NewRequest(http.MethodGet, "/stream/s1/segment/0/1", nil))
	assert.Empty(t, buf.String(), "successful segment fetches stay below info")

	serve(mw, okHandler(), httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil))
	assert.Contains(t, buf.String(), "level=INFO")
	assert.Contains(t, buf.String(), "/api/v1/sessions")
}

func TestLoggingElevatesErrors(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	failing := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	serve(NewLoggingMiddleware(logger), failing, httptest.NewRequest(http.MethodGet, "/stream/s1/media", nil))
	assert.Contains(t, buf.String(), "level=ERROR")
	assert.Contains(t, buf.String(), "status=502")
}

func TestIsRemoteClassification(t *testing.T) {
	tests := []struct {
		addr   string
		remote bool
	}{
		{"127.0.0.1:54321", false},
		{"192.168.1.20:54321", false},
		{"10.0.0.5:1234", false},
		{"203.0.113.9:443", true},
		{"not-an-ip", true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.remote, isRemoteAddr(tt.addr), tt.addr)
	}
}
