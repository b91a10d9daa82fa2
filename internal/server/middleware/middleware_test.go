package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

func TestAuth(t *testing.T) {
	h := Auth("key", "/api/health", "/public/")(ok)
	tests := []struct {
		name   string
		path   string
		header [2]string
		want   int
	}{
		{"public exact", "/api/health", [2]string{}, http.StatusOK},
		{"public prefix", "/public/x", [2]string{}, http.StatusOK},
		{"missing", "/api/bets", [2]string{}, http.StatusUnauthorized},
		{"bearer", "/api/bets", [2]string{"Authorization", "Bearer key"}, http.StatusOK},
		{"header", "/api/bets", [2]string{"X-API-Key", "key"}, http.StatusOK},
		{"wrong", "/api/bets", [2]string{"X-API-Key", "nope"}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header[0] != "" {
				req.Header.Set(tt.header[0], tt.header[1])
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}

	rec := httptest.NewRecorder()
	Auth("")(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/bets", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://betchya.app"})(ok)

	req := httptest.NewRequest(http.MethodOptions, "/api/bets", nil)
	req.Header.Set("Origin", "https://betchya.app")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://betchya.app", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/bets", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

type stubLimiter struct {
	allow bool
	err   error
	keys  []string
}

func (s *stubLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	s.keys = append(s.keys, key)
	return s.allow, s.err
}

func (s *stubLimiter) Wait(context.Context, string) error { return nil }

func TestRateLimit(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("rejects over limit", func(t *testing.T) {
		l := &stubLimiter{}
		req := httptest.NewRequest(http.MethodPost, "/api/bets", nil)
		req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
		rec := httptest.NewRecorder()
		RateLimit(l, 1, time.Second, logger)(ok).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, []string{"ratelimit:api:203.0.113.9"}, l.keys)
	})

	t.Run("fails open", func(t *testing.T) {
		l := &stubLimiter{err: errors.New("redis down")}
		rec := httptest.NewRecorder()
		RateLimit(l, 1, time.Second, logger)(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/bets", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("ignores reads", func(t *testing.T) {
		l := &stubLimiter{}
		rec := httptest.NewRecorder()
		RateLimit(l, 1, time.Second, logger)(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/bets", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, l.keys)
	})
}

func TestLoggingCapturesStatus(t *testing.T) {
	h := Logging(slog.New(slog.NewTextHandler(io.Discard, nil)), nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}
