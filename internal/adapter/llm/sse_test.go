package llm

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/nirmal91/omni-ask/internal/domain"
)

// echoParse treats each payload as a JSON string and emits it as a chunk.
func echoParse(data []byte) ([]domain.StreamEvent, error) {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return []domain.StreamEvent{domain.Chunk(s)}, nil
}

func collect(ch <-chan domain.StreamEvent) []domain.StreamEvent {
	var events []domain.StreamEvent
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

func TestDecodeSSEBasic(t *testing.T) {
	raw := "data: \"hello\"\n\ndata: \" world\"\n\ndata: [DONE]\n\n"
	body := io.NopCloser(strings.NewReader(raw))

	events := collect(decodeSSE(context.Background(), body, echoParse))

	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d: %v", len(events), events)
	}
	if events[0].Content != "hello" || events[1].Content != " world" {
		t.Errorf("chunks = %q, %q", events[0].Content, events[1].Content)
	}
	if events[2].Kind != domain.EventDone {
		t.Errorf("final event kind = %v, want done", events[2].Kind)
	}
}

func TestDecodeSSESkipsCommentsAndBlankLines(t *testing.T) {
	raw := ": keep-alive\n\n\ndata: \"ok\"\n\nevent: something\ndata: [DONE]\n\n"
	body := io.NopCloser(strings.NewReader(raw))

	events := collect(decodeSSE(context.Background(), body, echoParse))

	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d: %v", len(events), events)
	}
	if events[0].Content != "ok" {
		t.Errorf("chunk = %q, want ok", events[0].Content)
	}
}

func TestDecodeSSESkipsMalformedPayloads(t *testing.T) {
	raw := "data: NOT-JSON\ndata: \"good\"\n\ndata: [DONE]\n\n"
	body := io.NopCloser(strings.NewReader(raw))

	events := collect(decodeSSE(context.Background(), body, echoParse))

	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d: %v", len(events), events)
	}
	if events[0].Content != "good" {
		t.Errorf("chunk = %q, want good", events[0].Content)
	}
	if events[1].Kind != domain.EventDone {
		t.Errorf("final event kind = %v, want done", events[1].Kind)
	}
}

func TestDecodeSSESplitRecordReassembly(t *testing.T) {
	// Deliver one record across many tiny writes. The decoded stream must
	// be identical to a single-write delivery.
	pr, pw := io.Pipe()
	go func() {
		raw := "data: \"split across reads\"\n\ndata: [DONE]\n\n"
		for i := 0; i < len(raw); i += 3 {
			end := i + 3
			if end > len(raw) {
				end = len(raw)
			}
			pw.Write([]byte(raw[i:end]))
		}
		pw.Close()
	}()

	events := collect(decodeSSE(context.Background(), pr, echoParse))

	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d: %v", len(events), events)
	}
	if events[0].Content != "split across reads" {
		t.Errorf("chunk = %q", events[0].Content)
	}
}

func TestDecodeSSEEndOfBodyWithoutSentinel(t *testing.T) {
	raw := "data: \"only\"\n\n"
	body := io.NopCloser(strings.NewReader(raw))

	events := collect(decodeSSE(context.Background(), body, echoParse))

	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d: %v", len(events), events)
	}
	if events[1].Kind != domain.EventDone {
		t.Errorf("final event kind = %v, want done", events[1].Kind)
	}
}

func TestDecodeSSETerminalFromParserStopsReading(t *testing.T) {
	raw := "data: \"err\"\n\ndata: \"after\"\n\n"
	body := io.NopCloser(strings.NewReader(raw))

	parse := func(data []byte) ([]domain.StreamEvent, error) {
		return []domain.StreamEvent{domain.ErrorEvent("boom")}, nil
	}
	events := collect(decodeSSE(context.Background(), body, parse))

	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d: %v", len(events), events)
	}
	if events[0].Kind != domain.EventError || events[0].Message != "boom" {
		t.Errorf("event = %+v, want error boom", events[0])
	}
}

func TestDecodeSSEContextCancel(t *testing.T) {
	pr, pw := io.Pipe()
	go func() {
		for i := 0; i < 100; i++ {
			pw.Write([]byte("data: \"x\"\n\n"))
			time.Sleep(20 * time.Millisecond)
		}
		pw.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()

	events := collect(decodeSSE(ctx, pr, echoParse))

	if len(events) >= 100 {
		t.Fatalf("expected cancel to stop early, got %d events", len(events))
	}
	// A cancelled stream closes without a terminal event.
	for _, ev := range events {
		if ev.Terminal() {
			t.Fatalf("unexpected terminal event after cancel: %+v", ev)
		}
	}
}
