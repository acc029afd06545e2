package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"github.com/nirmal91/omni-ask/internal/domain"
	"github.com/nirmal91/omni-ask/internal/infra/config"
	"github.com/nirmal91/omni-ask/internal/infra/tracer"
)

// OpenAIStreamer speaks the OpenAI chat-completions SSE dialect. It serves
// two provider identities: chatgpt against api.openai.com and perplexity
// against api.perplexity.ai — the wire format is identical, only base URL
// and model differ.
type OpenAIStreamer struct {
	provider domain.Provider
	model    string
	baseURL  string
	client   *http.Client
	logger   *slog.Logger
}

// NewOpenAIStreamer creates a streamer for an OpenAI-compatible API.
func NewOpenAIStreamer(provider domain.Provider, cfg config.ProviderConfig, logger *slog.Logger) *OpenAIStreamer {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	return &OpenAIStreamer{
		provider: provider,
		model:    cfg.Model,
		baseURL:  baseURL,
		client:   NewHTTPClient(cfg),
		logger:   logger,
	}
}

// Provider implements Streamer.
func (s *OpenAIStreamer) Provider() domain.Provider { return s.provider }

// --- OpenAI API wire types ---

type openaiRequest struct {
	Model    string          `json:"model"`
	Messages []openaiMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiStreamChunk struct {
	Choices []openaiStreamChoice `json:"choices"`
	Error   *openaiError         `json:"error,omitempty"`
}

type openaiStreamChoice struct {
	Delta        openaiStreamDelta `json:"delta"`
	FinishReason *string           `json:"finish_reason"`
}

type openaiStreamDelta struct {
	Content string `json:"content,omitempty"`
}

type openaiError struct {
	Message string `json:"message"`
}

// Stream implements Streamer.
func (s *OpenAIStreamer) Stream(ctx context.Context, apiKey string, turns []domain.Turn) (<-chan domain.StreamEvent, error) {
	ctx, span := tracer.StartSpan(ctx, "llm.stream",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", s.provider.String()),
			tracer.StringAttr("llm.model", s.model),
		),
	)
	defer span.End()

	msgs := make([]openaiMessage, 0, len(turns))
	for _, t := range turns {
		msgs = append(msgs, openaiMessage{Role: t.Role, Content: t.Content})
	}

	body, err := json.Marshal(openaiRequest{
		Model:    s.model,
		Messages: msgs,
		Stream:   true,
	})
	if err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	headers := map[string]string{
		"Authorization": "Bearer " + apiKey,
	}

	httpResp, err := doStreamRequest(ctx, s.client, s.baseURL+"/chat/completions", body, headers)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	tracer.SetOK(span)
	s.logger.Debug("llm stream opened", "provider", s.provider)

	return decodeSSE(ctx, httpResp.Body, parseOpenAIData), nil
}

// parseOpenAIData decodes one chat-completions delta record.
func parseOpenAIData(data []byte) ([]domain.StreamEvent, error) {
	var chunk openaiStreamChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return nil, err
	}

	if chunk.Error != nil {
		return []domain.StreamEvent{domain.ErrorEvent(chunk.Error.Message)}, nil
	}

	if len(chunk.Choices) == 0 {
		return nil, nil
	}
	c := chunk.Choices[0]

	var events []domain.StreamEvent
	if c.Delta.Content != "" {
		events = append(events, domain.Chunk(c.Delta.Content))
	}
	if c.FinishReason != nil && *c.FinishReason != "" {
		events = append(events, domain.Done())
	}
	return events, nil
}
