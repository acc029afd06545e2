package relay

import (
	"testing"

	"github.com/nirmal91/omni-ask/internal/domain"
)

func TestEncodeEventChunk(t *testing.T) {
	payload, err := EncodeEvent(domain.Chunk(`quote " and newline`))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	ev, err := DecodeFrame(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Kind != domain.EventChunk || ev.Content != `quote " and newline` {
		t.Errorf("event = %+v", ev)
	}
}

func TestEncodeEventDoneIsSentinel(t *testing.T) {
	payload, err := EncodeEvent(domain.Done())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(payload) != DoneSentinel {
		t.Errorf("payload = %q, want %q", payload, DoneSentinel)
	}
}

func TestDecodeFrameError(t *testing.T) {
	ev, err := DecodeFrame([]byte(`{"type":"error","message":"upstream 500"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Kind != domain.EventError || ev.Message != "upstream 500" {
		t.Errorf("event = %+v", ev)
	}
}

func TestDecodeFrameMalformed(t *testing.T) {
	cases := []string{
		`not json`,
		`{"type":"chunk","content":""}`,
		`{"type":"mystery"}`,
	}
	for _, c := range cases {
		if _, err := DecodeFrame([]byte(c)); err == nil {
			t.Errorf("DecodeFrame(%q) succeeded, want error", c)
		}
	}
}
