package client

import (
	"context"
	"regexp"
	"time"

	"github.com/nirmal91/omni-ask/internal/domain"
)

// tokenPattern splits a response into words with their trailing
// whitespace so the reassembled stream is byte-identical to the source.
var tokenPattern = regexp.MustCompile(`\S+\s*|\s+`)

var cannedResponses = map[domain.Provider]string{
	domain.ProviderChatGPT:    "That's a thoughtful question. Broadly speaking, the answer depends on the constraints you care about, but the most common approach is to start with the simplest design that satisfies your requirements and iterate from there.",
	domain.ProviderClaude:     "There are a few ways to look at this. First, consider what problem you are actually trying to solve. Second, weigh the trade-offs of each option against that goal. In most cases a straightforward, well-understood solution beats a clever one.",
	domain.ProviderGemini:     "Here's a concise summary: the key factors are correctness, maintainability, and performance, usually in that order. Pick the option that keeps all three acceptable rather than maximizing any single one.",
	domain.ProviderPerplexity: "Based on current sources, opinions vary, but the consensus view favors an incremental approach. Several recent write-ups reach the same conclusion, citing lower risk and faster feedback loops.",
}

// Simulated produces canned streamed answers without network access.
// It mimics real provider pacing with a think delay before the first
// token and a fixed delay between tokens.
type Simulated struct {
	thinkDelay time.Duration
	tokenDelay time.Duration

	// Responses overrides the canned answer per provider when non-nil.
	Responses map[domain.Provider]string
	// FailProviders lists providers that emit an error event instead of
	// an answer.
	FailProviders map[domain.Provider]string
}

// NewSimulated returns a simulator with the given pacing.
func NewSimulated(thinkDelay, tokenDelay time.Duration) *Simulated {
	return &Simulated{thinkDelay: thinkDelay, tokenDelay: tokenDelay}
}

func (s *Simulated) response(provider domain.Provider) (string, bool) {
	if s.Responses != nil {
		if r, ok := s.Responses[provider]; ok {
			return r, true
		}
	}
	r, ok := cannedResponses[provider]
	return r, ok
}

// Open implements Opener.
func (s *Simulated) Open(ctx context.Context, req StreamRequest) (<-chan domain.StreamEvent, error) {
	provider, err := domain.ParseProvider(req.Provider)
	if err != nil {
		return nil, err
	}

	ch := make(chan domain.StreamEvent, 16)
	go func() {
		defer close(ch)

		if msg, ok := s.FailProviders[provider]; ok {
			if !sleep(ctx, s.thinkDelay) {
				return
			}
			emit(ctx, ch, domain.ErrorEvent(msg))
			return
		}

		text, ok := s.response(provider)
		if !ok {
			emit(ctx, ch, domain.ErrorEvent("no simulated response for "+provider.String()))
			return
		}
		if !sleep(ctx, s.thinkDelay) {
			return
		}
		for _, token := range tokenPattern.FindAllString(text, -1) {
			if !emit(ctx, ch, domain.Chunk(token)) {
				return
			}
			if !sleep(ctx, s.tokenDelay) {
				return
			}
		}
		emit(ctx, ch, domain.Done())
	}()
	return ch, nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func emit(ctx context.Context, ch chan<- domain.StreamEvent, ev domain.StreamEvent) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

var _ Opener = (*Simulated)(nil)
