package usecase

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nirmal91/omni-ask/internal/client"
	"github.com/nirmal91/omni-ask/internal/domain"
)

// FailureNotice replaces the pending assistant turn when a focused
// follow-up fails. The turn stays in the transcript so the user sees
// that the exchange happened.
const FailureNotice = "Something went wrong while generating this response. Please try again."

// FocusedSession is a multi-turn conversation with a single provider,
// seeded from one answer of a fan-out. All exported methods are safe
// for concurrent use.
type FocusedSession struct {
	opener   client.Opener
	recorder domain.ConversationRecorder
	logger   *slog.Logger
	provider domain.Provider
	id       string

	mu        sync.Mutex
	cond      *sync.Cond
	turns     []domain.Turn
	streaming bool
	gen       uint64
	cancel    context.CancelFunc
}

// NewFocusedSession seeds a focused conversation with the original
// question and the provider's completed answer. recorder may be nil.
func NewFocusedSession(opener client.Opener, recorder domain.ConversationRecorder, logger *slog.Logger, provider domain.Provider, question, answer string) *FocusedSession {
	if logger == nil {
		logger = slog.Default()
	}
	f := &FocusedSession{
		opener:   opener,
		recorder: recorder,
		logger:   logger,
		provider: provider,
		id:       newQuestionID(),
		turns: []domain.Turn{
			{Role: domain.RoleUser, Content: question},
			{Role: domain.RoleAssistant, Content: answer},
		},
	}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// Provider returns the provider this session is focused on.
func (f *FocusedSession) Provider() domain.Provider {
	return f.provider
}

// ID returns the session identifier.
func (f *FocusedSession) ID() string {
	return f.id
}

// Ask sends a follow-up question. The full prior transcript is carried
// as context. A previous in-flight answer is superseded; its remaining
// events are dropped by the generation guard.
func (f *FocusedSession) Ask(ctx context.Context, question string) error {
	if question == "" {
		return domain.NewDomainError("usecase.Ask", domain.ErrInvalidInput, "empty question")
	}

	f.mu.Lock()
	if f.cancel != nil {
		f.cancel()
	}
	history := make([]domain.Turn, len(f.turns))
	copy(history, f.turns)
	f.turns = append(f.turns,
		domain.Turn{Role: domain.RoleUser, Content: question},
		domain.Turn{Role: domain.RoleAssistant, Content: ""},
	)
	pending := len(f.turns) - 1
	streamCtx, cancel := context.WithCancel(ctx)
	f.gen++
	f.streaming = true
	f.cancel = cancel
	gen := f.gen
	f.cond.Broadcast()
	f.mu.Unlock()

	go f.stream(streamCtx, question, history, pending, gen)
	return nil
}

// Retry re-sends the most recent follow-up, replacing its assistant
// turn. It is a no-op error before the first Ask.
func (f *FocusedSession) Retry(ctx context.Context) error {
	f.mu.Lock()
	if len(f.turns) < 4 {
		f.mu.Unlock()
		return domain.NewDomainError("usecase.Retry", domain.ErrInvalidInput, "nothing to retry")
	}
	if f.cancel != nil {
		f.cancel()
	}
	pending := len(f.turns) - 1
	question := f.turns[pending-1].Content
	history := make([]domain.Turn, pending-1)
	copy(history, f.turns[:pending-1])
	f.turns[pending].Content = ""
	streamCtx, cancel := context.WithCancel(ctx)
	f.gen++
	f.streaming = true
	f.cancel = cancel
	gen := f.gen
	f.cond.Broadcast()
	f.mu.Unlock()

	go f.stream(streamCtx, question, history, pending, gen)
	return nil
}

func (f *FocusedSession) stream(ctx context.Context, question string, history []domain.Turn, pending int, gen uint64) {
	events, err := f.opener.Open(ctx, client.StreamRequest{
		Provider:            f.provider.String(),
		Question:            question,
		ConversationHistory: history,
	})
	if err != nil {
		f.finish(pending, gen, question, err.Error())
		return
	}

	for ev := range events {
		switch ev.Kind {
		case domain.EventChunk:
			if !f.appendChunk(pending, gen, ev.Content) {
				return
			}
		case domain.EventDone:
			f.finish(pending, gen, question, "")
			return
		case domain.EventError:
			f.finish(pending, gen, question, ev.Message)
			return
		}
	}
	f.finish(pending, gen, question, "")
}

func (f *FocusedSession) appendChunk(pending int, gen uint64, content string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gen != gen {
		return false
	}
	f.turns[pending].Content += content
	f.cond.Broadcast()
	return true
}

func (f *FocusedSession) finish(pending int, gen uint64, question, errMsg string) {
	f.mu.Lock()
	if f.gen != gen {
		f.mu.Unlock()
		return
	}
	f.streaming = false
	f.cancel = nil
	var answer string
	if errMsg != "" {
		f.logger.Warn("focused stream failed", "provider", f.provider.String(), "error", errMsg)
		f.turns[pending].Content = FailureNotice
	} else {
		answer = f.turns[pending].Content
	}
	f.cond.Broadcast()
	record := f.recorder != nil && errMsg == "" && answer != ""
	f.mu.Unlock()

	if record {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := f.recorder.RecordExchange(ctx, f.id, f.provider, question, answer); err != nil {
			f.logger.Warn("record exchange failed", "error", err)
		}
	}
}

// Turns returns a snapshot of the transcript, pending turn included.
func (f *FocusedSession) Turns() []domain.Turn {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Turn, len(f.turns))
	copy(out, f.turns)
	return out
}

// Streaming reports whether a follow-up answer is in flight.
func (f *FocusedSession) Streaming() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streaming
}

// WaitDone blocks until the in-flight follow-up settles or ctx is
// canceled.
func (f *FocusedSession) WaitDone(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			f.cond.Broadcast()
		case <-done:
		}
	}()
	defer close(done)

	f.mu.Lock()
	defer f.mu.Unlock()
	for f.streaming {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.cond.Wait()
	}
	return nil
}
