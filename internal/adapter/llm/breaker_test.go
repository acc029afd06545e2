package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nirmal91/omni-ask/internal/domain"
	"github.com/nirmal91/omni-ask/internal/infra/config"
)

// fakeStreamer fails stream initiation until failures is exhausted.
type fakeStreamer struct {
	provider domain.Provider
	failures int
	calls    int
}

func (f *fakeStreamer) Provider() domain.Provider { return f.provider }

func (f *fakeStreamer) Stream(ctx context.Context, apiKey string, turns []domain.Turn) (<-chan domain.StreamEvent, error) {
	f.calls++
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("connect refused")
	}
	ch := make(chan domain.StreamEvent, 1)
	ch <- domain.Done()
	close(ch)
	return ch, nil
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	inner := &fakeStreamer{provider: domain.ProviderChatGPT, failures: 100}
	b := NewBreakerStreamer(inner, config.CircuitBreakerConfig{
		MaxFailures: 2,
		Timeout:     time.Hour,
	}, newTestLogger())

	for i := 0; i < 2; i++ {
		if _, err := b.Stream(context.Background(), "k", userTurns("q")); err == nil {
			t.Fatal("expected failure")
		}
	}
	callsBefore := inner.calls

	_, err := b.Stream(context.Background(), "k", userTurns("q"))
	if err == nil {
		t.Fatal("expected open-circuit error")
	}
	if !errors.Is(err, domain.ErrUpstreamHTTP) || !strings.Contains(err.Error(), "circuit open") {
		t.Errorf("err = %v", err)
	}
	if inner.calls != callsBefore {
		t.Errorf("open circuit still reached upstream: calls %d -> %d", callsBefore, inner.calls)
	}
}

func TestBreakerPassesThroughSuccess(t *testing.T) {
	inner := &fakeStreamer{provider: domain.ProviderClaude}
	b := NewBreakerStreamer(inner, config.CircuitBreakerConfig{}, newTestLogger())

	ch, err := b.Stream(context.Background(), "k", userTurns("q"))
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	events := collect(ch)
	if len(events) != 1 || events[0].Kind != domain.EventDone {
		t.Errorf("events = %v", events)
	}
	if b.Provider() != domain.ProviderClaude {
		t.Errorf("provider = %v", b.Provider())
	}
}
