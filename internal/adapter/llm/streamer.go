package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nirmal91/omni-ask/internal/domain"
	"github.com/nirmal91/omni-ask/internal/infra/config"
)

// Streamer is a wire adapter: it translates a canonical turn list into one
// provider's native streaming request and decodes the native event stream
// into canonical events.
//
// Stream issues one streaming POST with the given credential. Failures
// before the connection is established (request build, non-2xx status) are
// returned as an error; after that, all outcomes flow through the channel.
// The channel delivers zero or more chunk events followed by exactly one
// terminal event, then closes. Cancelling ctx aborts the underlying read;
// a cancelled stream may close without a terminal event.
type Streamer interface {
	Stream(ctx context.Context, apiKey string, turns []domain.Turn) (<-chan domain.StreamEvent, error)
	Provider() domain.Provider
}

// BuildStreamers constructs one Streamer per configured provider, keyed by
// provider identity. Provider names must parse to a known identity. When
// the circuit breaker is enabled each streamer is wrapped with one.
func BuildStreamers(cfg config.LLMConfig, logger *slog.Logger) (map[domain.Provider]Streamer, error) {
	streamers := make(map[domain.Provider]Streamer, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		provider, err := domain.ParseProvider(pc.Name)
		if err != nil {
			return nil, fmt.Errorf("build streamers: %w", err)
		}

		var s Streamer
		switch pc.Type {
		case "openai":
			s = NewOpenAIStreamer(provider, pc, logger)
		case "anthropic":
			s = NewAnthropicStreamer(provider, pc, logger)
		case "gemini":
			s = NewGeminiStreamer(provider, pc, logger)
		default:
			return nil, fmt.Errorf("build streamers: provider %q: unknown type %q", pc.Name, pc.Type)
		}

		if cfg.CircuitBreaker.Enabled {
			s = NewBreakerStreamer(s, cfg.CircuitBreaker, logger)
		}
		streamers[provider] = s
	}
	return streamers, nil
}
