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

const (
	defaultAnthropicVersion = "2023-06-01"
	anthropicMaxTokens      = 4096
)

// AnthropicStreamer speaks the Anthropic Messages API event-typed SSE
// dialect: each data payload carries a "type" field naming the event.
type AnthropicStreamer struct {
	provider domain.Provider
	model    string
	baseURL  string
	client   *http.Client
	logger   *slog.Logger
	version  string
}

// NewAnthropicStreamer creates a streamer for the Anthropic Messages API.
func NewAnthropicStreamer(provider domain.Provider, cfg config.ProviderConfig, logger *slog.Logger) *AnthropicStreamer {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}

	return &AnthropicStreamer{
		provider: provider,
		model:    cfg.Model,
		baseURL:  baseURL,
		client:   NewHTTPClient(cfg),
		logger:   logger,
		version:  defaultAnthropicVersion,
	}
}

// Provider implements Streamer.
func (s *AnthropicStreamer) Provider() domain.Provider { return s.provider }

// --- Anthropic API wire types ---

type anthropicRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	MaxTokens int                `json:"max_tokens"`
	Stream    bool               `json:"stream"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicStreamEvent struct {
	Type  string          `json:"type"`
	Delta json.RawMessage `json:"delta,omitempty"`
	Error *anthropicError `json:"error,omitempty"`
}

type anthropicDeltaText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Stream implements Streamer.
func (s *AnthropicStreamer) Stream(ctx context.Context, apiKey string, turns []domain.Turn) (<-chan domain.StreamEvent, error) {
	ctx, span := tracer.StartSpan(ctx, "llm.stream",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", s.provider.String()),
			tracer.StringAttr("llm.model", s.model),
		),
	)
	defer span.End()

	msgs := make([]anthropicMessage, 0, len(turns))
	for _, t := range turns {
		// Canonical roles match the Messages API roles directly.
		msgs = append(msgs, anthropicMessage{Role: t.Role, Content: t.Content})
	}

	body, err := json.Marshal(anthropicRequest{
		Model:     s.model,
		Messages:  msgs,
		MaxTokens: anthropicMaxTokens,
		Stream:    true,
	})
	if err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	headers := map[string]string{
		"x-api-key":         apiKey,
		"anthropic-version": s.version,
	}

	httpResp, err := doStreamRequest(ctx, s.client, s.baseURL+"/v1/messages", body, headers)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	tracer.SetOK(span)
	s.logger.Debug("llm stream opened", "provider", s.provider)

	return decodeSSE(ctx, httpResp.Body, parseAnthropicData), nil
}

// parseAnthropicData decodes one Messages API stream event. The SSE
// "event:" line is redundant with the "type" field inside the data JSON,
// so dispatch happens on the payload alone.
func parseAnthropicData(data []byte) ([]domain.StreamEvent, error) {
	var evt anthropicStreamEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, err
	}

	switch evt.Type {
	case "content_block_delta":
		var td anthropicDeltaText
		if err := json.Unmarshal(evt.Delta, &td); err != nil || td.Type != "text_delta" {
			// Non-text deltas (tool input, thinking) carry no answer text.
			return nil, nil
		}
		if td.Text == "" {
			return nil, nil
		}
		return []domain.StreamEvent{domain.Chunk(td.Text)}, nil

	case "message_stop":
		return []domain.StreamEvent{domain.Done()}, nil

	case "error":
		msg := "upstream error"
		if evt.Error != nil && evt.Error.Message != "" {
			msg = evt.Error.Message
		}
		return []domain.StreamEvent{domain.ErrorEvent(msg)}, nil

	default:
		// message_start, content_block_start, ping, message_delta, ...
		return nil, nil
	}
}
