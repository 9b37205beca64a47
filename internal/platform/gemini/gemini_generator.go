package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/phrazzld/reportgen/internal/config"
	"github.com/phrazzld/reportgen/internal/domain"
	"github.com/phrazzld/reportgen/internal/generation"
	"google.golang.org/genai"
)

// Thinking budgets, in tokens, per reasoning effort.
const (
	thinkingBudgetLow    int32 = 1024
	thinkingBudgetMedium int32 = 8192
	thinkingBudgetHigh   int32 = 24576
)

// GeminiGenerator implements generation.Generator using the Gemini API.
type GeminiGenerator struct {
	// logger is used for structured logging
	logger *slog.Logger

	// client is the Gemini API client for making requests
	client *genai.Client

	retry generation.RetryPolicy
}

// Option customizes the underlying client.
type Option func(*genai.ClientConfig)

// WithBaseURL points the client at a different API endpoint.
func WithBaseURL(baseURL string) Option {
	return func(cc *genai.ClientConfig) {
		cc.HTTPOptions.BaseURL = baseURL
	}
}

// WithHTTPClient sets the HTTP client used for API calls.
func WithHTTPClient(client *http.Client) Option {
	return func(cc *genai.ClientConfig) {
		cc.HTTPClient = client
	}
}

var _ generation.Generator = (*GeminiGenerator)(nil)

// NewGeminiGenerator creates a generator from the LLM configuration.
func NewGeminiGenerator(
	ctx context.Context,
	logger *slog.Logger,
	cfg config.LLMConfig,
	opts ...Option,
) (*GeminiGenerator, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", generation.ErrInvalidConfig)
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	}
	for _, opt := range opts {
		opt(cc)
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", generation.ErrInvalidConfig, err)
	}

	retry := generation.RetryPolicy{
		MaxRetries: cfg.MaxRetries,
		BaseDelay:  time.Duration(cfg.RetryDelaySeconds) * time.Second,
	}
	if retry.BaseDelay <= 0 {
		logger.WarnContext(ctx, "Invalid retry delay value, using default",
			slog.Duration("base_delay", generation.DefaultRetryPolicy.BaseDelay))
		retry.BaseDelay = generation.DefaultRetryPolicy.BaseDelay
	}

	return &GeminiGenerator{
		logger: logger.With(slog.String("provider", string(domain.ProviderGemini))),
		client: client,
		retry:  retry,
	}, nil
}

// SetRetryPolicy replaces the retry policy; tests use it to avoid real delays.
func (g *GeminiGenerator) SetRetryPolicy(p generation.RetryPolicy) {
	g.retry = p
}

// Generate implements generation.Generator.
func (g *GeminiGenerator) Generate(ctx context.Context, req generation.Request) (*generation.Response, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, &generation.Error{
			Provider: domain.ProviderGemini,
			Message:  "prompt cannot be empty",
			Err:      generation.ErrInvalidConfig,
		}
	}
	if req.Model == "" {
		return nil, &generation.Error{
			Provider: domain.ProviderGemini,
			Message:  "model cannot be empty",
			Err:      generation.ErrInvalidConfig,
		}
	}

	contents := []*genai.Content{genai.NewContentFromText(req.Prompt, genai.RoleUser)}
	gc := buildConfig(req)

	g.logger.DebugContext(ctx, "calling Gemini API",
		slog.String("model", req.Model),
		slog.Int("prompt_length", len(req.Prompt)))

	return g.retry.Do(ctx, g.logger, string(domain.ProviderGemini), func(ctx context.Context) (*generation.Response, error) {
		return g.stream(ctx, req.Model, contents, gc)
	})
}

func buildConfig(req generation.Request) *genai.GenerateContentConfig {
	gc := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(req.Temperature),
	}
	if req.MaxTokens > 0 {
		gc.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.SystemPrompt != "" {
		gc.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if req.JSON {
		gc.ResponseMIMEType = "application/json"
	}
	if budget, ok := thinkingBudget(req.ReasoningEffort); ok {
		gc.ThinkingConfig = &genai.ThinkingConfig{ThinkingBudget: genai.Ptr(budget)}
	}
	return gc
}

func thinkingBudget(effort domain.ReasoningEffort) (int32, bool) {
	switch effort {
	case domain.ReasoningLow:
		return thinkingBudgetLow, true
	case domain.ReasoningMedium:
		return thinkingBudgetMedium, true
	case domain.ReasoningHigh:
		return thinkingBudgetHigh, true
	default:
		return 0, false
	}
}

// stream runs one streamed call and materializes the full text.
func (g *GeminiGenerator) stream(
	ctx context.Context,
	model string,
	contents []*genai.Content,
	gc *genai.GenerateContentConfig,
) (*generation.Response, error) {
	var (
		sb    strings.Builder
		usage domain.Usage
	)
	for chunk, err := range g.client.Models.GenerateContentStream(ctx, model, contents, gc) {
		if err != nil {
			return nil, classifyError(err)
		}
		if chunk == nil {
			continue
		}
		if reason := blockReason(chunk); reason != "" {
			return nil, &generation.Error{
				Provider: domain.ProviderGemini,
				Message:  reason,
				Err:      generation.ErrContentBlocked,
			}
		}
		sb.WriteString(chunk.Text())
		if md := chunk.UsageMetadata; md != nil {
			usage = domain.Usage{
				PromptTokens:     int(md.PromptTokenCount),
				CompletionTokens: int(md.CandidatesTokenCount),
				TotalTokens:      int(md.TotalTokenCount),
			}
		}
	}

	if strings.TrimSpace(sb.String()) == "" {
		return nil, &generation.Error{
			Provider: domain.ProviderGemini,
			Message:  "empty response",
			Err:      generation.ErrInvalidResponse,
		}
	}

	return &generation.Response{
		Content: sb.String(),
		Model:   model,
		Usage:   usage,
	}, nil
}

func blockReason(chunk *genai.GenerateContentResponse) string {
	if fb := chunk.PromptFeedback; fb != nil && fb.BlockReason != "" {
		return fmt.Sprintf("prompt blocked: %s", fb.BlockReason)
	}
	if len(chunk.Candidates) > 0 && chunk.Candidates[0].FinishReason == genai.FinishReasonSafety {
		return "response blocked by safety filters"
	}
	return ""
}

// classifyError maps API failures onto generation error kinds.
func classifyError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if isInvalidAPIKey(apiErr) {
			return &generation.Error{
				Provider:   domain.ProviderGemini,
				Kind:       generation.KindInvalidCredentials,
				StatusCode: apiErr.Code,
				Message:    apiErr.Message,
				Err:        err,
			}
		}
		return generation.NewStatusError(domain.ProviderGemini, apiErr.Code, apiErr.Message, err)
	}
	return generation.Classify(domain.ProviderGemini, err)
}

// isInvalidAPIKey matches Gemini's rejected-key response, which arrives as
// 400 INVALID_ARGUMENT with reason API_KEY_INVALID rather than 401/403.
func isInvalidAPIKey(apiErr genai.APIError) bool {
	if apiErr.Code != http.StatusBadRequest {
		return false
	}
	if strings.Contains(apiErr.Message, "API key") || strings.Contains(apiErr.Message, "API_KEY_INVALID") {
		return true
	}
	for _, d := range apiErr.Details {
		if reason, _ := d["reason"].(string); reason == "API_KEY_INVALID" {
			return true
		}
	}
	return false
}
