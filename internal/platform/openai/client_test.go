package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/phrazzld/reportgen/internal/config"
	"github.com/phrazzld/reportgen/internal/domain"
	"github.com/phrazzld/reportgen/internal/generation"
	"github.com/phrazzld/reportgen/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGenerator(t *testing.T, handler http.HandlerFunc) *Generator {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	g, err := NewGenerator(logger.Discard(), config.LLMConfig{
		OpenAIAPIKey:  "sk-test",
		OpenAIBaseURL: srv.URL + "/",
	}, srv.Client())
	require.NoError(t, err)
	g.SetRetryPolicy(generation.RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond})
	return g
}

const streamBody = `data: {"model":"gpt-4o-2024","choices":[{"delta":{"role":"assistant","content":""}}]}

data: {"choices":[{"delta":{"content":"Roof "}}]}

: keep-alive

data: {"choices":[{"delta":{"content":"membrane torn"},"finish_reason":"stop"}]}

data: {"choices":[],"usage":{"prompt_tokens":40,"completion_tokens":3,"total_tokens":43}}

data: [DONE]

`

func TestGenerate_AssemblesStream(t *testing.T) {
	t.Parallel()

	var got chatRequest
	g := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, streamBody)
	})

	resp, err := g.Generate(context.Background(), generation.Request{
		SystemPrompt:    "system",
		Prompt:          "describe",
		Model:           "o3-mini",
		MaxTokens:       256,
		ReasoningEffort: domain.ReasoningHigh,
	})
	require.NoError(t, err)
	assert.Equal(t, "Roof membrane torn", resp.Content)
	assert.Equal(t, "gpt-4o-2024", resp.Model)
	assert.Equal(t, domain.Usage{PromptTokens: 40, CompletionTokens: 3, TotalTokens: 43}, resp.Usage)

	assert.True(t, got.Stream)
	assert.Equal(t, "high", got.ReasoningEffort)
	assert.Nil(t, got.Temperature, "reasoning requests omit temperature")
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
}

func TestGenerate_StatusClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status int
		want   error
	}{
		{http.StatusTooManyRequests, generation.ErrQuotaExceeded},
		{http.StatusUnauthorized, generation.ErrInvalidCredentials},
		{http.StatusGatewayTimeout, generation.ErrTimeout},
		{http.StatusBadRequest, generation.ErrProviderFailure},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			t.Parallel()
			var calls atomic.Int32
			g := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, `{"error":{"message":"denied","type":"x"}}`)
			})

			_, err := g.Generate(context.Background(), generation.Request{Prompt: "p", Model: "gpt-4o"})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Contains(t, err.Error(), "denied")
			assert.Equal(t, int32(1), calls.Load())
		})
	}
}

func TestGenerate_RetriesServerError(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	g := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, streamBody)
	})

	resp, err := g.Generate(context.Background(), generation.Request{Prompt: "p", Model: "gpt-4o"})
	require.NoError(t, err)
	assert.Equal(t, "Roof membrane torn", resp.Content)
	assert.Equal(t, int32(3), calls.Load())
}

func TestReadStream_Failures(t *testing.T) {
	t.Parallel()

	_, err := readStream(strings.NewReader("data: {not json}\n\n"), "m")
	assert.ErrorIs(t, err, generation.ErrInvalidResponse)

	_, err = readStream(strings.NewReader("data: [DONE]\n\n"), "m")
	assert.ErrorIs(t, err, generation.ErrInvalidResponse)

	filtered := `data: {"choices":[{"delta":{"content":"x"},"finish_reason":"content_filter"}]}` + "\n\n"
	_, err = readStream(strings.NewReader(filtered), "m")
	assert.ErrorIs(t, err, generation.ErrContentBlocked)

	_, err = readStream(strings.NewReader(`data: {"error":{"message":"overloaded"}}`+"\n\n"), "m")
	assert.ErrorIs(t, err, generation.ErrProviderFailure)
}

func TestBuildRequest_Temperature(t *testing.T) {
	t.Parallel()

	cr := buildRequest(generation.Request{Prompt: "p", Model: "gpt-4o", Temperature: 0.3, JSON: true})
	require.NotNil(t, cr.Temperature)
	assert.InDelta(t, 0.3, float64(*cr.Temperature), 1e-6)
	require.NotNil(t, cr.ResponseFormat)
	assert.Equal(t, "json_object", cr.ResponseFormat.Type)
	assert.Empty(t, cr.ReasoningEffort)
}

func TestNewGenerator_RequiresKey(t *testing.T) {
	t.Parallel()
	_, err := NewGenerator(logger.Discard(), config.LLMConfig{}, nil)
	assert.ErrorIs(t, err, generation.ErrInvalidConfig)
}
