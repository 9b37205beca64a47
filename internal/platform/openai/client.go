// Package openai implements generation.Generator over an OpenAI-compatible
// /chat/completions endpoint using server-sent event streaming.
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/phrazzld/reportgen/internal/config"
	"github.com/phrazzld/reportgen/internal/domain"
	"github.com/phrazzld/reportgen/internal/generation"
)

// DefaultBaseURL is used when configuration leaves the base URL empty.
const DefaultBaseURL = "https://api.openai.com/v1"

// Generator streams chat completions and returns the assembled text.
type Generator struct {
	client  *http.Client
	baseURL string
	apiKey  string
	logger  *slog.Logger
	retry   generation.RetryPolicy
}

var _ generation.Generator = (*Generator)(nil)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model           string          `json:"model"`
	Messages        []chatMessage   `json:"messages"`
	Stream          bool            `json:"stream"`
	StreamOptions   *streamOptions  `json:"stream_options,omitempty"`
	MaxTokens       int             `json:"max_completion_tokens,omitempty"`
	Temperature     *float32        `json:"temperature,omitempty"`
	ReasoningEffort string          `json:"reasoning_effort,omitempty"`
	ResponseFormat  *responseFormat `json:"response_format,omitempty"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type streamChunk struct {
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *usage    `json:"usage"`
	Error *apiError `json:"error"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

type errorBody struct {
	Error *apiError `json:"error"`
}

// NewGenerator creates an OpenAI generator. httpClient may be nil.
func NewGenerator(logger *slog.Logger, cfg config.LLMConfig, httpClient *http.Client) (*Generator, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("%w: openai API key cannot be empty", generation.ErrInvalidConfig)
	}
	baseURL := strings.TrimRight(cfg.OpenAIBaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	retry := generation.RetryPolicy{
		MaxRetries: cfg.MaxRetries,
		BaseDelay:  time.Duration(cfg.RetryDelaySeconds) * time.Second,
	}
	if retry.BaseDelay <= 0 {
		retry.BaseDelay = generation.DefaultRetryPolicy.BaseDelay
	}

	return &Generator{
		client:  httpClient,
		baseURL: baseURL,
		apiKey:  cfg.OpenAIAPIKey,
		logger:  logger.With(slog.String("provider", string(domain.ProviderOpenAI))),
		retry:   retry,
	}, nil
}

// SetRetryPolicy replaces the retry policy.
func (g *Generator) SetRetryPolicy(p generation.RetryPolicy) {
	g.retry = p
}

// Generate implements generation.Generator.
func (g *Generator) Generate(ctx context.Context, req generation.Request) (*generation.Response, error) {
	if strings.TrimSpace(req.Prompt) == "" || req.Model == "" {
		return nil, &generation.Error{
			Provider: domain.ProviderOpenAI,
			Message:  "prompt and model are required",
			Err:      generation.ErrInvalidConfig,
		}
	}

	body, err := json.Marshal(buildRequest(req))
	if err != nil {
		return nil, generation.Classify(domain.ProviderOpenAI, fmt.Errorf("marshal request: %w", err))
	}

	return g.retry.Do(ctx, g.logger, string(domain.ProviderOpenAI), func(ctx context.Context) (*generation.Response, error) {
		return g.stream(ctx, req.Model, body)
	})
}

func buildRequest(req generation.Request) chatRequest {
	var messages []chatMessage
	if req.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	cr := chatRequest{
		Model:           req.Model,
		Messages:        messages,
		Stream:          true,
		StreamOptions:   &streamOptions{IncludeUsage: true},
		MaxTokens:       req.MaxTokens,
		ReasoningEffort: string(req.ReasoningEffort),
	}
	// Reasoning models reject a temperature parameter.
	if req.ReasoningEffort == domain.ReasoningNone {
		t := req.Temperature
		cr.Temperature = &t
	}
	if req.JSON {
		cr.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	return cr
}

func (g *Generator) stream(ctx context.Context, model string, body []byte) (*generation.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, generation.Classify(domain.ProviderOpenAI, fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, generation.Classify(domain.ProviderOpenAI, fmt.Errorf("send request: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	return readStream(resp.Body, model)
}

func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	msg := strings.TrimSpace(string(raw))
	var eb errorBody
	if err := json.Unmarshal(raw, &eb); err == nil && eb.Error != nil {
		msg = eb.Error.Message
	}
	return generation.NewStatusError(domain.ProviderOpenAI, resp.StatusCode, msg, nil)
}

// readStream consumes "data: {...}" events until "[DONE]" or EOF.
func readStream(r io.Reader, model string) (*generation.Response, error) {
	var (
		sb     strings.Builder
		u      domain.Usage
		finish string
	)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			break
		}
		if data == "" {
			continue
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return nil, &generation.Error{
				Provider: domain.ProviderOpenAI,
				Message:  "malformed stream event",
				Err:      fmt.Errorf("%w: %v", generation.ErrInvalidResponse, err),
			}
		}
		if chunk.Error != nil {
			return nil, &generation.Error{Provider: domain.ProviderOpenAI, Message: chunk.Error.Message}
		}
		if chunk.Model != "" {
			model = chunk.Model
		}
		for _, c := range chunk.Choices {
			sb.WriteString(c.Delta.Content)
			if c.FinishReason != "" {
				finish = c.FinishReason
			}
		}
		if chunk.Usage != nil {
			u = domain.Usage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, generation.Classify(domain.ProviderOpenAI, fmt.Errorf("read stream: %w", err))
	}

	if finish == "content_filter" {
		return nil, &generation.Error{
			Provider: domain.ProviderOpenAI,
			Message:  "response blocked by content filter",
			Err:      generation.ErrContentBlocked,
		}
	}
	if strings.TrimSpace(sb.String()) == "" {
		return nil, &generation.Error{
			Provider: domain.ProviderOpenAI,
			Message:  "empty response",
			Err:      generation.ErrInvalidResponse,
		}
	}

	return &generation.Response{Content: sb.String(), Model: model, Usage: u}, nil
}
