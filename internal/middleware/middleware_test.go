package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/medgemma-tb/internal/application/xray"
	"github.com/bryanwahyu/medgemma-tb/internal/domain/inference"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	_, _ = io.WriteString(w, GetRequestID(r.Context()))
})

func TestRequestID(t *testing.T) {
	t.Run("generated", func(t *testing.T) {
		rec := httptest.NewRecorder()
		RequestID(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		id := rec.Header().Get(RequestIDHeader)
		assert.Len(t, id, 36)
		assert.Equal(t, id, rec.Body.String())
	})

	t.Run("echoed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "abc-123")
		rec := httptest.NewRecorder()

		RequestID(ok).ServeHTTP(rec, req)

		assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
		assert.Equal(t, "abc-123", rec.Body.String())
	})
}

func TestAccessLog(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	h := RequestID(AccessLog(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = io.WriteString(w, "short")
	})))

	req := httptest.NewRequest(http.MethodPost, "/analyze", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	h.ServeHTTP(httptest.NewRecorder(), req)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "POST", line["method"])
	assert.Equal(t, "/analyze", line["path"])
	assert.EqualValues(t, http.StatusTeapot, line["status"])
	assert.EqualValues(t, 5, line["bytes"])
	assert.Equal(t, "req-1", line["request_id"])
}

func TestRateLimiter(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(60, 2)
	rl.now = func() time.Time { return now }

	assert.Zero(t, rl.Reserve("a"))
	assert.Zero(t, rl.Reserve("a"))
	assert.Equal(t, time.Second, rl.Reserve("a"))
	assert.Zero(t, rl.Reserve("b"), "keys are independent")

	now = now.Add(time.Second)
	assert.Zero(t, rl.Reserve("a"))
}

func TestRateLimiter_SweepsIdleVisitors(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(60, 1)
	rl.now = func() time.Time { return now }

	rl.Reserve("a")
	now = now.Add(11 * time.Minute)
	rl.Reserve("b")

	assert.Len(t, rl.visitors, 1)
	assert.Contains(t, rl.visitors, "b")
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	h := RateLimitMiddleware(rl)(ok)

	send := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/analyze", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, send("10.0.0.1:1234").Code)

	rec := send("10.0.0.1:5678")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"detail":"rate limit exceeded, please try again later"}`, rec.Body.String())

	assert.Equal(t, http.StatusOK, send("10.0.0.2:1234").Code)
}

type staticHealth xray.Health

func (s staticHealth) Health() xray.Health { return xray.Health(s) }

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name   string
		health xray.Health
		want   string
	}{
		{"connected", xray.Health{Connected: true, HasToken: true, Model: inference.Status{Deployment: "huggingface_api", Ready: true}}, "connected"},
		{"not connected", xray.Health{Model: inference.Status{Deployment: "huggingface_api"}}, "not_connected"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			HealthHandler(staticHealth(tt.health)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, http.StatusOK, rec.Code)
			var body map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, "healthy", body["status"])
			assert.Equal(t, tt.want, body["model_status"])
			assert.Equal(t, "1.0.0", body["api_version"])
			assert.Equal(t, "huggingface_api", body["deployment"])
			assert.Equal(t, tt.health.HasToken, body["has_api_token"])
			assert.Contains(t, body, "model_info")
		})
	}
}

func TestLimitBody(t *testing.T) {
	var readErr error
	h := LimitBody(4)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", strings.NewReader("too long")))

	var tooLarge *http.MaxBytesError
	assert.ErrorAs(t, readErr, &tooLarge)
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct{ in, want string }{
		{"chest.png", "chest.png"},
		{"../../etc/passwd", "passwd"},
		{`C:\scans\xray.jpg`, "xray.jpg"},
		{"bad\x00\nname.png", "badname.png"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeFilename(tt.in))
		})
	}
}

func TestDeadline(t *testing.T) {
	var deadline time.Time
	var has bool
	h := Deadline(time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deadline, has = r.Context().Deadline()
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/analyze", nil))

	require.True(t, has)
	assert.WithinDuration(t, time.Now().Add(time.Minute), deadline, 5*time.Second)

	has = true
	Deadline(0)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, has = r.Context().Deadline()
	})).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.False(t, has)
}
