package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/bryanwahyu/medgemma-tb/internal/domain/inference"
	"github.com/bryanwahyu/medgemma-tb/internal/infra/imaging"
)

const completion = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1,
  "model": "google/medgemma-4b-it",
  "choices": [{"index": 0, "message": {"role": "assistant", "content": "Right upper lobe cavity."}, "finish_reason": "stop"}]
}`

const loading = `{"error":{"message":"Model google/medgemma-4b-it is currently loading","type":"server_error"}}`

type fakeRouter struct {
	mu     sync.Mutex
	bodies []map[string]any
	reply  func(call int) (int, string)
}

func (f *fakeRouter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/chat/completions" {
		http.NotFound(w, r)
		return
	}
	raw, _ := io.ReadAll(r.Body)
	var body map[string]any
	_ = json.Unmarshal(raw, &body)

	f.mu.Lock()
	f.bodies = append(f.bodies, body)
	call := len(f.bodies)
	f.mu.Unlock()

	status, resp := f.reply(call)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, resp)
}

func newTestClient(t *testing.T, f *fakeRouter) (*Client, *[]time.Duration) {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	c := NewClient(Options{BaseURL: srv.URL + "/v1", Token: "hf_token"})
	waits := &[]time.Duration{}
	c.sleep = func(ctx context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return ctx.Err()
	}
	return c, waits
}

func TestAnalyzeImage_SendsImagePart(t *testing.T) {
	f := &fakeRouter{reply: func(int) (int, string) { return http.StatusOK, completion }}
	c, _ := newTestClient(t, f)
	c.ready.Store(true)

	text, err := c.AnalyzeImage(context.Background(), imaging.Probe())

	require.NoError(t, err)
	assert.Equal(t, "Right upper lobe cavity.", text)
	require.Len(t, f.bodies, 1)

	body := f.bodies[0]
	assert.Equal(t, "google/medgemma-4b-it", body["model"])
	assert.EqualValues(t, 500, body["max_tokens"])
	messages := body["messages"].([]any)
	require.Len(t, messages, 2)
	parts := messages[1].(map[string]any)["content"].([]any)
	require.Len(t, parts, 2)
	imagePart := parts[1].(map[string]any)["image_url"].(map[string]any)
	assert.True(t, strings.HasPrefix(imagePart["url"].(string), "data:image/png;base64,"))
}

func TestAnalyzeImage_RetriesWhileLoading(t *testing.T) {
	f := &fakeRouter{reply: func(call int) (int, string) {
		if call <= 2 {
			return http.StatusServiceUnavailable, loading
		}
		return http.StatusOK, completion
	}}
	c, waits := newTestClient(t, f)
	c.ready.Store(true)

	text, err := c.AnalyzeImage(context.Background(), imaging.Probe())

	require.NoError(t, err)
	assert.Equal(t, "Right upper lobe cavity.", text)
	assert.Equal(t, []time.Duration{30 * time.Second, 30 * time.Second}, *waits)
}

func TestAnalyzeImage_LoadingIsBounded(t *testing.T) {
	f := &fakeRouter{reply: func(int) (int, string) { return http.StatusServiceUnavailable, loading }}
	c, waits := newTestClient(t, f)
	c.ready.Store(true)

	_, err := c.AnalyzeImage(context.Background(), imaging.Probe())

	assert.ErrorIs(t, err, domain.ErrTransientUnavailable)
	assert.Len(t, *waits, 3)
	assert.Len(t, f.bodies, 4)
}

func TestAnalyzeImage_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"quota", http.StatusTooManyRequests, `{"error":{"message":"rate limit","type":"rate_limit"}}`, domain.ErrQuotaExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeRouter{reply: func(int) (int, string) { return tt.status, tt.body }}
			c, _ := newTestClient(t, f)
			c.ready.Store(true)

			_, err := c.AnalyzeImage(context.Background(), imaging.Probe())

			assert.ErrorIs(t, err, tt.want)
		})
	}

	t.Run("server error is wrapped", func(t *testing.T) {
		f := &fakeRouter{reply: func(int) (int, string) {
			return http.StatusBadRequest, `{"error":{"message":"bad image","type":"invalid_request_error"}}`
		}}
		c, _ := newTestClient(t, f)
		c.ready.Store(true)

		_, err := c.AnalyzeImage(context.Background(), imaging.Probe())

		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to create chat completion")
		assert.Len(t, f.bodies, 1)
	})
}

func TestAnalyzeImage_RequiresInitialize(t *testing.T) {
	f := &fakeRouter{reply: func(int) (int, string) { return http.StatusOK, completion }}
	c, _ := newTestClient(t, f)

	_, err := c.AnalyzeImage(context.Background(), imaging.Probe())

	assert.ErrorIs(t, err, domain.ErrNotReady)
	assert.Empty(t, f.bodies)
}

func TestInitialize(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr bool
	}{
		{"ok", http.StatusOK, completion, false},
		{"warming up", http.StatusServiceUnavailable, loading, false},
		{"unauthorized", http.StatusUnauthorized, `{"error":{"message":"invalid token"}}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeRouter{reply: func(int) (int, string) { return tt.status, tt.body }}
			c, _ := newTestClient(t, f)

			err := c.Initialize(context.Background())

			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrConnection)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, !tt.wantErr, c.Status().Ready)
			require.Len(t, f.bodies, 1)
			assert.EqualValues(t, 10, f.bodies[0]["max_tokens"])
		})
	}
}

func TestStatus(t *testing.T) {
	c := NewClient(Options{BaseURL: "https://router.example/v1/"})

	got := c.Status()

	assert.Equal(t, "https://router.example/v1/chat/completions", got.EndpointURL)
	assert.Equal(t, "openai_compatible", got.Deployment)
	assert.Equal(t, 500, got.MaxTokens)
	assert.True(t, got.SupportsMultimodal)
	assert.False(t, got.Ready)
}

func TestIsReasoningModel(t *testing.T) {
	assert.True(t, isReasoningModel("o3-2025-04-16"))
	assert.True(t, isReasoningModel("gpt-5-mini"))
	assert.False(t, isReasoningModel("google/medgemma-4b-it"))
}
