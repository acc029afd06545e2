package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/nirmal91/omni-ask/internal/domain"
	"github.com/nirmal91/omni-ask/internal/infra/config"
)

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// BreakerStreamer wraps a Streamer with circuit breaker protection on
// stream initiation. When the upstream fails to connect repeatedly the
// circuit opens and subsequent attempts fail fast without a network call.
// Events after a successful connection never trip the breaker.
type BreakerStreamer struct {
	inner   Streamer
	breaker *gobreaker.CircuitBreaker[<-chan domain.StreamEvent]
	logger  *slog.Logger
}

// NewBreakerStreamer wraps inner with a circuit breaker.
// Zero-valued cfg fields fall back to defaults.
func NewBreakerStreamer(inner Streamer, cfg config.CircuitBreakerConfig, logger *slog.Logger) *BreakerStreamer {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultCBMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultCBTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultCBInterval
	}

	name := inner.Provider().String()
	cb := gobreaker.NewCircuitBreaker[<-chan domain.StreamEvent](gobreaker.Settings{
		Name:        "llm:" + name,
		MaxRequests: 1, // allow 1 probe in half-open state
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
	})

	return &BreakerStreamer{
		inner:   inner,
		breaker: cb,
		logger:  logger,
	}
}

// Stream implements Streamer. Initiation is routed through the breaker.
func (b *BreakerStreamer) Stream(ctx context.Context, apiKey string, turns []domain.Turn) (<-chan domain.StreamEvent, error) {
	ch, err := b.breaker.Execute(func() (<-chan domain.StreamEvent, error) {
		return b.inner.Stream(ctx, apiKey, turns)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, fmt.Errorf("%w: provider %q circuit open", domain.ErrUpstreamHTTP, b.inner.Provider())
		}
		return nil, err
	}
	return ch, nil
}

// Provider implements Streamer.
func (b *BreakerStreamer) Provider() domain.Provider { return b.inner.Provider() }

// State returns the current circuit breaker state for monitoring.
func (b *BreakerStreamer) State() gobreaker.State {
	return b.breaker.State()
}

// Compile-time interface checks.
var (
	_ Streamer = (*BreakerStreamer)(nil)
	_ Streamer = (*OpenAIStreamer)(nil)
	_ Streamer = (*AnthropicStreamer)(nil)
	_ Streamer = (*GeminiStreamer)(nil)
)
