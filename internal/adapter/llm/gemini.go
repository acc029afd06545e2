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

// GeminiStreamer speaks the Google Gemini candidate-delta SSE dialect.
// The assistant role is renamed to "model" on the wire, the credential
// rides in a query parameter and there is no terminal sentinel: the
// stream ends at end-of-body.
type GeminiStreamer struct {
	provider domain.Provider
	model    string
	baseURL  string
	client   *http.Client
	logger   *slog.Logger
}

// NewGeminiStreamer creates a streamer for the Google Gemini API.
func NewGeminiStreamer(provider domain.Provider, cfg config.ProviderConfig, logger *slog.Logger) *GeminiStreamer {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com"
	}

	return &GeminiStreamer{
		provider: provider,
		model:    cfg.Model,
		baseURL:  baseURL,
		client:   NewHTTPClient(cfg),
		logger:   logger,
	}
}

// Provider implements Streamer.
func (s *GeminiStreamer) Provider() domain.Provider { return s.provider }

// --- Gemini API wire types ---

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiStreamChunk struct {
	Candidates []geminiCandidate `json:"candidates"`
	Error      *geminiError      `json:"error,omitempty"`
}

type geminiCandidate struct {
	Content geminiContent `json:"content"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Stream implements Streamer.
func (s *GeminiStreamer) Stream(ctx context.Context, apiKey string, turns []domain.Turn) (<-chan domain.StreamEvent, error) {
	ctx, span := tracer.StartSpan(ctx, "llm.stream",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", s.provider.String()),
			tracer.StringAttr("llm.model", s.model),
		),
	)
	defer span.End()

	contents := make([]geminiContent, 0, len(turns))
	for _, t := range turns {
		role := "user"
		if t.Role == domain.RoleAssistant {
			role = "model"
		}
		contents = append(contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: t.Content}},
		})
	}

	body, err := json.Marshal(geminiRequest{Contents: contents})
	if err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?alt=sse&key=%s",
		s.baseURL, s.model, apiKey)

	httpResp, err := doStreamRequest(ctx, s.client, url, body, nil)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	tracer.SetOK(span)
	s.logger.Debug("llm stream opened", "provider", s.provider)

	return decodeSSE(ctx, httpResp.Body, parseGeminiData), nil
}

// parseGeminiData decodes one candidate-delta record. Text from all parts
// of the first candidate is concatenated into one chunk.
func parseGeminiData(data []byte) ([]domain.StreamEvent, error) {
	var chunk geminiStreamChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return nil, err
	}

	if chunk.Error != nil {
		return []domain.StreamEvent{domain.ErrorEvent(chunk.Error.Message)}, nil
	}

	var text string
	if len(chunk.Candidates) > 0 {
		for _, part := range chunk.Candidates[0].Content.Parts {
			text += part.Text
		}
	}
	if text == "" {
		return nil, nil
	}
	return []domain.StreamEvent{domain.Chunk(text)}, nil
}
