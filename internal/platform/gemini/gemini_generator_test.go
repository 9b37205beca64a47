package gemini

import (
	"context"
	"encoding/json"
	"fmt"
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

// sseChunk renders one streamed response chunk.
func sseChunk(text string, usage bool) string {
	chunk := map[string]any{
		"candidates": []any{map[string]any{
			"content": map[string]any{
				"role":  "model",
				"parts": []any{map[string]any{"text": text}},
			},
		}},
	}
	if usage {
		chunk["usageMetadata"] = map[string]any{
			"promptTokenCount":     12,
			"candidatesTokenCount": 7,
			"totalTokenCount":      19,
		}
	}
	data, _ := json.Marshal(chunk)
	return fmt.Sprintf("data: %s\n\n", data)
}

func newTestGenerator(t *testing.T, handler http.HandlerFunc) *GeminiGenerator {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.LLMConfig{GeminiAPIKey: "test-key", MaxRetries: 2, RetryDelaySeconds: 1}
	g, err := NewGeminiGenerator(context.Background(), logger.Discard(), cfg,
		WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	g.SetRetryPolicy(generation.RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond})
	return g
}

func TestNewGeminiGenerator_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewGeminiGenerator(context.Background(), nil, config.LLMConfig{GeminiAPIKey: "k"})
	assert.Error(t, err)

	_, err = NewGeminiGenerator(context.Background(), logger.Discard(), config.LLMConfig{})
	assert.ErrorIs(t, err, generation.ErrInvalidConfig)
}

func TestGenerate_ConcatenatesStream(t *testing.T) {
	t.Parallel()

	var body map[string]any
	g := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "gemini-2.5-flash:streamGenerateContent")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)

		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, sseChunk("Section 1: ", false))
		_, _ = io.WriteString(w, sseChunk("cracked slab", true))
	})

	resp, err := g.Generate(context.Background(), generation.Request{
		Prompt:          "describe the images",
		SystemPrompt:    "you are an inspector",
		Model:           "gemini-2.5-flash",
		Temperature:     0.2,
		MaxTokens:       512,
		ReasoningEffort: domain.ReasoningMedium,
	})
	require.NoError(t, err)
	assert.Equal(t, "Section 1: cracked slab", resp.Content)
	assert.Equal(t, "gemini-2.5-flash", resp.Model)
	assert.Equal(t, domain.Usage{PromptTokens: 12, CompletionTokens: 7, TotalTokens: 19}, resp.Usage)

	gen, ok := body["generationConfig"].(map[string]any)
	require.True(t, ok, "request carries a generation config")
	assert.EqualValues(t, 512, gen["maxOutputTokens"])
	thinking, ok := gen["thinkingConfig"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, thinkingBudgetMedium, thinking["thinkingBudget"])
	assert.NotNil(t, body["systemInstruction"])
}

func TestGenerate_ClassifiesStatusErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		want   error
		kind   generation.Kind
	}{
		{"quota", http.StatusTooManyRequests, generation.ErrQuotaExceeded, generation.KindQuotaExceeded},
		{"credentials", http.StatusForbidden, generation.ErrInvalidCredentials, generation.KindInvalidCredentials},
		{"bad request", http.StatusBadRequest, generation.ErrProviderFailure, generation.KindOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var calls atomic.Int32
			g := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = fmt.Fprintf(w, `{"error":{"code":%d,"message":"nope","status":"FAILED"}}`, tt.status)
			})

			_, err := g.Generate(context.Background(), generation.Request{Prompt: "p", Model: "gemini-2.5-flash"})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.kind, generation.KindOf(err))
			assert.Equal(t, int32(1), calls.Load(), "non-transient errors are not retried")
		})
	}
}

func TestGenerate_InvalidAPIKeyIsCredentialsError(t *testing.T) {
	t.Parallel()

	bodies := map[string]string{
		"message": `{"error":{"code":400,"message":"API key not valid. Please pass a valid API key.",` +
			`"status":"INVALID_ARGUMENT"}}`,
		"reason": `{"error":{"code":400,"message":"Invalid argument.","status":"INVALID_ARGUMENT",` +
			`"details":[{"@type":"type.googleapis.com/google.rpc.ErrorInfo","reason":"API_KEY_INVALID",` +
			`"domain":"googleapis.com"}]}}`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			var calls atomic.Int32
			g := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				_, _ = io.WriteString(w, body)
			})

			_, err := g.Generate(context.Background(), generation.Request{Prompt: "p", Model: "gemini-2.5-flash"})
			require.Error(t, err)
			assert.ErrorIs(t, err, generation.ErrInvalidCredentials)
			assert.Equal(t, generation.KindInvalidCredentials, generation.KindOf(err))
			assert.Equal(t, int32(1), calls.Load())
		})
	}
}

func TestGenerate_RetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	g := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = io.WriteString(w, `{"error":{"code":503,"message":"overloaded","status":"UNAVAILABLE"}}`)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, sseChunk("recovered", true))
	})

	resp, err := g.Generate(context.Background(), generation.Request{Prompt: "p", Model: "gemini-2.5-flash"})
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Content)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGenerate_SafetyBlock(t *testing.T) {
	t.Parallel()

	g := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, `data: {"promptFeedback":{"blockReason":"SAFETY"}}`+"\n\n")
	})

	_, err := g.Generate(context.Background(), generation.Request{Prompt: "p", Model: "gemini-2.5-flash"})
	require.Error(t, err)
	assert.ErrorIs(t, err, generation.ErrContentBlocked)
}

func TestGenerate_EmptyPrompt(t *testing.T) {
	t.Parallel()

	g := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	_, err := g.Generate(context.Background(), generation.Request{Prompt: "  ", Model: "gemini-2.5-flash"})
	assert.ErrorIs(t, err, generation.ErrInvalidConfig)
}

func TestThinkingBudget(t *testing.T) {
	t.Parallel()

	_, ok := thinkingBudget(domain.ReasoningNone)
	assert.False(t, ok)
	for effort, want := range map[domain.ReasoningEffort]int32{
		domain.ReasoningLow:    thinkingBudgetLow,
		domain.ReasoningMedium: thinkingBudgetMedium,
		domain.ReasoningHigh:   thinkingBudgetHigh,
	} {
		got, ok := thinkingBudget(effort)
		assert.True(t, ok, strings.ToUpper(string(effort)))
		assert.Equal(t, want, got)
	}
}
