// Package usecase coordinates the fan-out of one question to every
// provider and the focused follow-up mode on a single provider.
package usecase

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/nirmal91/omni-ask/internal/client"
	"github.com/nirmal91/omni-ask/internal/domain"
)

// Phase is the lifecycle state of one provider's answer.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseStreaming
	PhaseComplete
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseStreaming:
		return "streaming"
	case PhaseComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// AnswerView is a read-only snapshot of one provider's answer.
// CompletedAt is zero until the answer reaches PhaseComplete.
type AnswerView struct {
	Provider    domain.Provider
	Phase       Phase
	Text        string
	ErrMsg      string
	CompletedAt time.Time
}

// Failed reports whether the answer finished with an error.
func (v AnswerView) Failed() bool {
	return v.Phase == PhaseComplete && v.ErrMsg != ""
}

type session struct {
	phase       Phase
	text        string
	errMsg      string
	completedAt time.Time
	gen         uint64
	cancel      context.CancelFunc
}

// Orchestrator fans one question out to every provider and tracks each
// answer independently. All exported methods are safe for concurrent use.
type Orchestrator struct {
	opener   client.Opener
	recorder domain.ConversationRecorder
	logger   *slog.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	sessions map[domain.Provider]*session

	questionID string
	question   string
	recorded   bool
}

// NewOrchestrator builds an orchestrator over the given stream opener.
// recorder may be nil, in which case completed questions are not
// persisted.
func NewOrchestrator(opener client.Opener, recorder domain.ConversationRecorder, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		opener:   opener,
		recorder: recorder,
		logger:   logger,
		sessions: make(map[domain.Provider]*session, len(domain.AllProviders)),
	}
	o.cond = sync.NewCond(&o.mu)
	for _, p := range domain.AllProviders {
		o.sessions[p] = &session{}
	}
	return o
}

// Submit starts a new fan-out for question, replacing any in-flight
// batch. Streams from the previous batch keep running until their
// contexts unwind but can no longer touch session state.
func (o *Orchestrator) Submit(ctx context.Context, question string) error {
	if question == "" {
		return domain.NewDomainError("usecase.Submit", domain.ErrInvalidInput, "empty question")
	}

	o.mu.Lock()
	o.question = question
	o.questionID = newQuestionID()
	o.recorded = false
	for provider, s := range o.sessions {
		if s.cancel != nil {
			s.cancel()
		}
		streamCtx, cancel := context.WithCancel(ctx)
		s.gen++
		s.phase = PhaseStreaming
		s.text = ""
		s.errMsg = ""
		s.completedAt = time.Time{}
		s.cancel = cancel
		go o.stream(streamCtx, provider, question, nil, s.gen)
	}
	o.cond.Broadcast()
	o.mu.Unlock()
	return nil
}

// RetryOne restarts the current question on a single provider. The other
// providers are untouched.
func (o *Orchestrator) RetryOne(ctx context.Context, provider domain.Provider) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	s, ok := o.sessions[provider]
	if !ok {
		return domain.NewDomainError("usecase.RetryOne", domain.ErrInvalidInput, "unknown provider "+provider.String())
	}
	if o.question == "" {
		return domain.NewDomainError("usecase.RetryOne", domain.ErrInvalidInput, "no question submitted")
	}
	if s.cancel != nil {
		s.cancel()
	}
	streamCtx, cancel := context.WithCancel(ctx)
	s.gen++
	s.phase = PhaseStreaming
	s.text = ""
	s.errMsg = ""
	s.completedAt = time.Time{}
	s.cancel = cancel
	go o.stream(streamCtx, provider, o.question, nil, s.gen)
	o.cond.Broadcast()
	return nil
}

// Reset cancels every in-flight stream and returns all providers to the
// idle state.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, s := range o.sessions {
		if s.cancel != nil {
			s.cancel()
			s.cancel = nil
		}
		s.gen++
		s.phase = PhaseIdle
		s.text = ""
		s.errMsg = ""
		s.completedAt = time.Time{}
	}
	o.question = ""
	o.questionID = ""
	o.recorded = false
	o.cond.Broadcast()
}

// stream runs one provider's answer to completion, applying every event
// under the generation guard so writes from a superseded stream are
// dropped.
func (o *Orchestrator) stream(ctx context.Context, provider domain.Provider, question string, history []domain.Turn, gen uint64) {
	events, err := o.opener.Open(ctx, client.StreamRequest{
		Provider:            provider.String(),
		Question:            question,
		ConversationHistory: history,
	})
	if err != nil {
		o.finish(provider, gen, err.Error())
		return
	}

	for ev := range events {
		switch ev.Kind {
		case domain.EventChunk:
			if !o.appendChunk(provider, gen, ev.Content) {
				return
			}
		case domain.EventDone:
			o.finish(provider, gen, "")
			return
		case domain.EventError:
			o.finish(provider, gen, ev.Message)
			return
		}
	}
	// Channel closed without a terminal event, which only a canceled
	// stream does. Cancellation is not a failure, so keep whatever
	// text arrived. Superseded streams are dropped by the guard.
	o.finish(provider, gen, "")
}

func (o *Orchestrator) appendChunk(provider domain.Provider, gen uint64, content string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := o.sessions[provider]
	if s.gen != gen || s.phase != PhaseStreaming {
		return false
	}
	s.text += content
	o.cond.Broadcast()
	return true
}

func (o *Orchestrator) finish(provider domain.Provider, gen uint64, errMsg string) {
	o.mu.Lock()
	s := o.sessions[provider]
	if s.gen != gen || s.phase != PhaseStreaming {
		o.mu.Unlock()
		return
	}
	s.phase = PhaseComplete
	s.errMsg = errMsg
	s.completedAt = time.Now()
	if errMsg != "" {
		o.logger.Warn("provider stream failed", "provider", provider.String(), "error", errMsg)
	}
	o.cond.Broadcast()

	record := o.recorder != nil && !o.recorded && o.allComplete()
	if record {
		o.recorded = true
	}
	questionID, question := o.questionID, o.question
	answers := map[domain.Provider]string{}
	if record {
		for p, sess := range o.sessions {
			if sess.errMsg == "" {
				answers[p] = sess.text
			}
		}
	}
	o.mu.Unlock()

	if record {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := o.recorder.RecordAnswers(ctx, questionID, question, answers); err != nil {
			o.logger.Warn("record answers failed", "error", err)
		}
	}
}

func (o *Orchestrator) allComplete() bool {
	for _, s := range o.sessions {
		if s.phase != PhaseComplete {
			return false
		}
	}
	return true
}

// Snapshot returns the current state of every provider's answer.
func (o *Orchestrator) Snapshot() map[domain.Provider]AnswerView {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[domain.Provider]AnswerView, len(o.sessions))
	for p, s := range o.sessions {
		out[p] = AnswerView{Provider: p, Phase: s.phase, Text: s.text, ErrMsg: s.errMsg, CompletedAt: s.completedAt}
	}
	return out
}

// View returns the current state of one provider's answer.
func (o *Orchestrator) View(provider domain.Provider) (AnswerView, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.sessions[provider]
	if !ok {
		return AnswerView{}, false
	}
	return AnswerView{Provider: provider, Phase: s.phase, Text: s.text, ErrMsg: s.errMsg, CompletedAt: s.completedAt}, true
}

// Question returns the question currently fanned out, or "" when idle.
func (o *Orchestrator) Question() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.question
}

// WaitDone blocks until every provider reaches a terminal state or ctx
// is canceled.
func (o *Orchestrator) WaitDone(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			o.cond.Broadcast()
		case <-done:
		}
	}()
	defer close(done)

	o.mu.Lock()
	defer o.mu.Unlock()
	for !o.allComplete() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		o.cond.Wait()
	}
	return nil
}

// WaitChanged blocks until any session changes or ctx is canceled. UIs
// poll Snapshot between calls.
func (o *Orchestrator) WaitChanged(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			o.cond.Broadcast()
		case <-done:
		}
	}()
	defer close(done)

	o.mu.Lock()
	defer o.mu.Unlock()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	o.cond.Wait()
	return ctx.Err()
}

var entropy = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
var entropyMu sync.Mutex

func newQuestionID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
