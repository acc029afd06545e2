package usecase

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/nirmal91/omni-ask/internal/adapter/recorder"
	"github.com/nirmal91/omni-ask/internal/client"
	"github.com/nirmal91/omni-ask/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// manualStream is one opened stream the test drives by hand.
type manualStream struct {
	req  client.StreamRequest
	in   chan domain.StreamEvent
	done chan struct{}
}

func (m *manualStream) send(t *testing.T, ev domain.StreamEvent) {
	t.Helper()
	select {
	case m.in <- ev:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out feeding event")
	}
}

// manualOpener hands out streams the test controls. Events fed into a
// stream are forwarded until its context ends, then the channel closes
// without a terminal event, like a real aborted connection.
type manualOpener struct {
	mu      sync.Mutex
	streams []*manualStream
	opened  chan *manualStream
}

func newManualOpener() *manualOpener {
	return &manualOpener{opened: make(chan *manualStream, 64)}
}

func (m *manualOpener) Open(ctx context.Context, req client.StreamRequest) (<-chan domain.StreamEvent, error) {
	ms := &manualStream{
		req:  req,
		in:   make(chan domain.StreamEvent, 16),
		done: make(chan struct{}),
	}
	m.mu.Lock()
	m.streams = append(m.streams, ms)
	m.mu.Unlock()
	m.opened <- ms

	out := make(chan domain.StreamEvent, 16)
	go func() {
		defer close(out)
		defer close(ms.done)
		for {
			select {
			case ev := <-ms.in:
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
				if ev.Terminal() {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// next blocks until a stream for the given provider is opened.
func (m *manualOpener) next(t *testing.T, provider domain.Provider) *manualStream {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ms := <-m.opened:
			if ms.req.Provider == provider.String() {
				return ms
			}
			// Not the one we want; keep it available for other waiters.
			m.opened <- ms
			time.Sleep(5 * time.Millisecond)
		case <-deadline:
			t.Fatalf("no stream opened for %s", provider)
		}
	}
}

func TestOrchestratorFanOutCompletes(t *testing.T) {
	rec := recorder.NewMemory()
	orch := NewOrchestrator(client.NewSimulated(0, 0), rec, testLogger())

	if err := orch.Submit(context.Background(), "what is the answer"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := orch.WaitDone(waitCtx(t)); err != nil {
		t.Fatalf("WaitDone: %v", err)
	}

	snapshot := orch.Snapshot()
	if len(snapshot) != len(domain.AllProviders) {
		t.Fatalf("snapshot has %d providers", len(snapshot))
	}
	for p, view := range snapshot {
		if view.Phase != PhaseComplete {
			t.Errorf("%s phase = %v", p, view.Phase)
		}
		if view.Failed() || view.Text == "" {
			t.Errorf("%s view = %+v", p, view)
		}
	}

	sets := rec.AnswerSets()
	if len(sets) != 1 {
		t.Fatalf("recorded %d answer sets, want 1", len(sets))
	}
	if sets[0].QuestionID == "" || sets[0].Question != "what is the answer" {
		t.Errorf("record = %+v", sets[0])
	}
	if len(sets[0].Answers) != len(domain.AllProviders) {
		t.Errorf("recorded %d answers", len(sets[0].Answers))
	}
}

func TestOrchestratorFailureIsolation(t *testing.T) {
	sim := client.NewSimulated(0, 0)
	sim.FailProviders = map[domain.Provider]string{
		domain.ProviderGemini: "upstream exploded",
	}
	rec := recorder.NewMemory()
	orch := NewOrchestrator(sim, rec, testLogger())

	if err := orch.Submit(context.Background(), "q"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := orch.WaitDone(waitCtx(t)); err != nil {
		t.Fatalf("WaitDone: %v", err)
	}

	for p, view := range orch.Snapshot() {
		if p == domain.ProviderGemini {
			if !view.Failed() || view.ErrMsg != "upstream exploded" {
				t.Errorf("gemini view = %+v", view)
			}
			continue
		}
		if view.Failed() || view.Text == "" {
			t.Errorf("%s affected by gemini failure: %+v", p, view)
		}
	}

	// The failed provider is left out of the record; the rest are kept.
	sets := rec.AnswerSets()
	if len(sets) != 1 {
		t.Fatalf("recorded %d sets", len(sets))
	}
	if _, ok := sets[0].Answers[domain.ProviderGemini]; ok {
		t.Error("failed answer was recorded")
	}
	if len(sets[0].Answers) != len(domain.AllProviders)-1 {
		t.Errorf("recorded %d answers", len(sets[0].Answers))
	}
}

func TestOrchestratorRetryOne(t *testing.T) {
	sim := client.NewSimulated(0, 0)
	sim.FailProviders = map[domain.Provider]string{
		domain.ProviderClaude: "flaky",
	}
	rec := recorder.NewMemory()
	orch := NewOrchestrator(sim, rec, testLogger())

	if err := orch.Submit(context.Background(), "q"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := orch.WaitDone(waitCtx(t)); err != nil {
		t.Fatalf("WaitDone: %v", err)
	}

	before := orch.Snapshot()

	sim.FailProviders = nil
	if err := orch.RetryOne(context.Background(), domain.ProviderClaude); err != nil {
		t.Fatalf("RetryOne: %v", err)
	}
	if err := orch.WaitDone(waitCtx(t)); err != nil {
		t.Fatalf("WaitDone: %v", err)
	}

	view, _ := orch.View(domain.ProviderClaude)
	if view.Failed() || view.Text == "" {
		t.Errorf("claude after retry = %+v", view)
	}
	// The other providers kept their answers untouched.
	for p, prev := range before {
		if p == domain.ProviderClaude {
			continue
		}
		now, _ := orch.View(p)
		if now.Text != prev.Text {
			t.Errorf("%s text changed across retry", p)
		}
	}

	// Completion was already handed off once for this question.
	if got := len(rec.AnswerSets()); got != 1 {
		t.Errorf("recorded %d sets, want 1", got)
	}
}

func TestOrchestratorResubmitDropsStaleWrites(t *testing.T) {
	opener := newManualOpener()
	orch := NewOrchestrator(opener, nil, testLogger())

	if err := orch.Submit(context.Background(), "first"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	first := make(map[domain.Provider]*manualStream)
	for _, p := range domain.AllProviders {
		first[p] = opener.next(t, p)
	}
	first[domain.ProviderClaude].send(t, domain.Chunk("old "))

	if err := orch.Submit(context.Background(), "second"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	second := make(map[domain.Provider]*manualStream)
	for _, p := range domain.AllProviders {
		second[p] = opener.next(t, p)
	}

	// Events still sitting in the superseded streams must not surface.
	for _, p := range domain.AllProviders {
		select {
		case first[p].in <- domain.Chunk("stale"):
		default:
		}
	}

	for _, p := range domain.AllProviders {
		second[p].send(t, domain.Chunk("fresh"))
		second[p].send(t, domain.Done())
	}
	if err := orch.WaitDone(waitCtx(t)); err != nil {
		t.Fatalf("WaitDone: %v", err)
	}

	for p, view := range orch.Snapshot() {
		if view.Text != "fresh" {
			t.Errorf("%s text = %q, want fresh only", p, view.Text)
		}
	}
}

func TestOrchestratorReset(t *testing.T) {
	opener := newManualOpener()
	orch := NewOrchestrator(opener, nil, testLogger())

	if err := orch.Submit(context.Background(), "q"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	streams := make(map[domain.Provider]*manualStream)
	for _, p := range domain.AllProviders {
		streams[p] = opener.next(t, p)
	}
	streams[domain.ProviderChatGPT].send(t, domain.Chunk("partial"))

	orch.Reset()

	for p, view := range orch.Snapshot() {
		if view.Phase != PhaseIdle || view.Text != "" || view.ErrMsg != "" {
			t.Errorf("%s after reset = %+v", p, view)
		}
	}
	if orch.Question() != "" {
		t.Errorf("question = %q after reset", orch.Question())
	}

	// Late events from the cancelled batch change nothing.
	select {
	case streams[domain.ProviderChatGPT].in <- domain.Chunk("late"):
	default:
	}
	time.Sleep(20 * time.Millisecond)
	view, _ := orch.View(domain.ProviderChatGPT)
	if view.Text != "" {
		t.Errorf("text = %q after reset", view.Text)
	}
}

func TestOrchestratorCompletedAt(t *testing.T) {
	opener := newManualOpener()
	orch := NewOrchestrator(opener, nil, testLogger())

	before := time.Now()
	if err := orch.Submit(context.Background(), "q"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	streams := make(map[domain.Provider]*manualStream)
	for _, p := range domain.AllProviders {
		streams[p] = opener.next(t, p)
	}

	view, _ := orch.View(domain.ProviderClaude)
	if !view.CompletedAt.IsZero() {
		t.Errorf("CompletedAt = %v while streaming, want zero", view.CompletedAt)
	}

	for _, p := range domain.AllProviders {
		streams[p].send(t, domain.Chunk("a"))
		streams[p].send(t, domain.Done())
	}
	if err := orch.WaitDone(waitCtx(t)); err != nil {
		t.Fatalf("WaitDone: %v", err)
	}
	for p, v := range orch.Snapshot() {
		if v.CompletedAt.IsZero() || v.CompletedAt.Before(before) {
			t.Errorf("%s CompletedAt = %v", p, v.CompletedAt)
		}
	}

	orch.Reset()
	view, _ = orch.View(domain.ProviderClaude)
	if !view.CompletedAt.IsZero() {
		t.Errorf("CompletedAt = %v after reset, want zero", view.CompletedAt)
	}
}

func TestOrchestratorSubmitEmptyQuestion(t *testing.T) {
	orch := NewOrchestrator(client.NewSimulated(0, 0), nil, testLogger())
	if err := orch.Submit(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty question")
	}
}

func TestOrchestratorRetryBeforeSubmit(t *testing.T) {
	orch := NewOrchestrator(client.NewSimulated(0, 0), nil, testLogger())
	if err := orch.RetryOne(context.Background(), domain.ProviderClaude); err == nil {
		t.Fatal("expected error before any submit")
	}
}

func TestOrchestratorOpenFailureBecomesError(t *testing.T) {
	sim := client.NewSimulated(0, 0)
	orch := NewOrchestrator(openerFunc(func(ctx context.Context, req client.StreamRequest) (<-chan domain.StreamEvent, error) {
		if req.Provider == domain.ProviderPerplexity.String() {
			return nil, domain.NewDomainError("test", domain.ErrTransport, "connection refused")
		}
		return sim.Open(ctx, req)
	}), nil, testLogger())

	if err := orch.Submit(context.Background(), "q"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := orch.WaitDone(waitCtx(t)); err != nil {
		t.Fatalf("WaitDone: %v", err)
	}

	view, _ := orch.View(domain.ProviderPerplexity)
	if !view.Failed() {
		t.Errorf("view = %+v, want failure", view)
	}
}

type openerFunc func(ctx context.Context, req client.StreamRequest) (<-chan domain.StreamEvent, error)

func (f openerFunc) Open(ctx context.Context, req client.StreamRequest) (<-chan domain.StreamEvent, error) {
	return f(ctx, req)
}
