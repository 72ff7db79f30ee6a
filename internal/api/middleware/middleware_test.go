package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
})

func hit(h http.Handler, method, path, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = ip + ":4321"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestLocalRateLimiter(t *testing.T) {
	rl := NewRateLimiter(nil, zerolog.Nop(), RateLimiterConfig{Whitelist: []string{"10.0.0.0/8"}})
	h := rl.Middleware(ok)

	for i := 0; i < 30; i++ {
		require.Equal(t, http.StatusNoContent, hit(h, http.MethodPost, "/rooms", "192.0.2.1").Code, "request %d", i)
	}
	rec := hit(h, http.MethodPost, "/rooms", "192.0.2.1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// Other clients and other endpoints keep their own budgets.
	assert.Equal(t, http.StatusNoContent, hit(h, http.MethodPost, "/rooms", "192.0.2.2").Code)
	assert.Equal(t, http.StatusNoContent, hit(h, http.MethodPost, "/rooms/lobby/messages", "192.0.2.1").Code)

	for i := 0; i < 40; i++ {
		require.Equal(t, http.StatusNoContent, hit(h, http.MethodPost, "/rooms", "10.1.2.3").Code)
	}
}

func TestRedisRateLimiterAutoBlocks(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	rl := NewRateLimiter(client, zerolog.Nop(), RateLimiterConfig{AutoBlockEnabled: true})
	h := rl.Middleware(ok)

	for i := 0; i < 30; i++ {
		require.Equal(t, http.StatusNoContent, hit(h, http.MethodPost, "/rooms", "192.0.2.1").Code)
	}
	for i := 0; i < 10; i++ {
		assert.Equal(t, http.StatusTooManyRequests, hit(h, http.MethodPost, "/rooms", "192.0.2.1").Code)
	}
	assert.Equal(t, http.StatusForbidden, hit(h, http.MethodGet, "/rooms/lobby", "192.0.2.1").Code)
	assert.Equal(t, http.StatusNoContent, hit(h, http.MethodGet, "/rooms/lobby", "192.0.2.9").Code)
}

func TestFindPatternPrefersLongestPrefix(t *testing.T) {
	rl := NewRateLimiter(nil, zerolog.Nop(), RateLimiterConfig{})

	tests := []struct {
		method, path, want string
	}{
		{http.MethodPost, "/rooms", "POST /rooms"},
		{http.MethodPost, "/rooms/lobby/messages", "POST /rooms/"},
		{http.MethodGet, "/messages/m1/decisions", "GET /messages/"},
		{http.MethodGet, "/health", ""},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, tt.path, nil)
		assert.Equal(t, tt.want, rl.findPattern(req), tt.path)
	}
}

func TestValidateRequest(t *testing.T) {
	h := ValidateRequest(ok)

	req := httptest.NewRequest(http.MethodPost, "/rooms", strings.NewReader(`{"id":"x"}`))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rooms?q=javascript:alert(1)", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"invalid request"}`, rec.Body.String())

	req = httptest.NewRequest(http.MethodPost, "/messages/m1/resolve", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	for _, sender := range []string{"bot:evil", strings.Repeat("a", 65), "tab\there"} {
		req = httptest.NewRequest(http.MethodGet, "/rooms/lobby", nil)
		req.Header.Set(SenderHeader, sender)
		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, sender)
	}
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rooms/lobby", nil))
	assert.Equal(t, "default-src 'none'", rec.Header().Get("Content-Security-Policy"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestLoggerRecordsRouteContext(t *testing.T) {
	var buf bytes.Buffer
	r := chi.NewRouter()
	r.Use(Logger(zerolog.New(&buf)))
	r.Get("/rooms/{id}/participants/{pid}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Post("/messages/{id}/resolve", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{}"))
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/rooms/lobby/participants/alpha", nil))
	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "warn", line["level"])
	assert.Equal(t, "/rooms/{id}/participants/{pid}", line["route"])
	assert.Equal(t, "lobby", line["room_id"])
	assert.Equal(t, "alpha", line["participant_id"])
	assert.EqualValues(t, 404, line["status"])

	buf.Reset()
	req := httptest.NewRequest(http.MethodPost, "/messages/01HX/resolve", nil)
	req.Header.Set(SenderHeader, "moderator-bot")
	r.ServeHTTP(httptest.NewRecorder(), req)
	line = nil
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "info", line["level"])
	assert.Equal(t, "01HX", line["message_id"])
	assert.Equal(t, "moderator-bot", line["sender"])
	assert.EqualValues(t, 2, line["bytes"])
	assert.NotContains(t, line, "room_id")
}

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, "/rooms/:id", normalizePath("/rooms/lobby/messages"))
	assert.Equal(t, "/messages/:id", normalizePath("/messages/01HX"))
	assert.Equal(t, "/rooms/", normalizePath("/rooms/"))
	assert.Equal(t, "/health", normalizePath("/health"))
}

func TestStatusWriterUnwraps(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := &statusWriter{ResponseWriter: rec}
	assert.Same(t, rec, sw.Unwrap())

	sw.Flush()
	assert.True(t, rec.Flushed)
}
