package relay

import (
	"encoding/json"
	"fmt"

	"github.com/nirmal91/omni-ask/internal/domain"
)

// DoneSentinel is the literal terminal record of the outbound protocol.
const DoneSentinel = "[DONE]"

// Frame is the JSON payload of one outbound SSE record. A stream is zero
// or more chunk frames followed by exactly one terminal record: either
// the DoneSentinel literal or an error frame.
type Frame struct {
	Type    string `json:"type"` // "chunk" or "error"
	Content string `json:"content,omitempty"`
	Message string `json:"message,omitempty"`
}

// EncodeEvent serializes a canonical event into the outbound data payload.
func EncodeEvent(ev domain.StreamEvent) ([]byte, error) {
	switch ev.Kind {
	case domain.EventChunk:
		return json.Marshal(Frame{Type: "chunk", Content: ev.Content})
	case domain.EventDone:
		return []byte(DoneSentinel), nil
	case domain.EventError:
		return json.Marshal(Frame{Type: "error", Message: ev.Message})
	default:
		return nil, fmt.Errorf("unknown event kind %d", ev.Kind)
	}
}

// DecodeFrame parses one outbound data payload back into a canonical
// event. Unknown frame types and empty chunks are malformed; all decode
// failures wrap domain.ErrUpstreamProtocol.
func DecodeFrame(data []byte) (domain.StreamEvent, error) {
	if string(data) == DoneSentinel {
		return domain.Done(), nil
	}
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return domain.StreamEvent{}, fmt.Errorf("%w: %v", domain.ErrUpstreamProtocol, err)
	}
	switch f.Type {
	case "chunk":
		if f.Content == "" {
			return domain.StreamEvent{}, fmt.Errorf("%w: empty chunk", domain.ErrUpstreamProtocol)
		}
		return domain.Chunk(f.Content), nil
	case "error":
		return domain.ErrorEvent(f.Message), nil
	default:
		return domain.StreamEvent{}, fmt.Errorf("%w: unknown frame type %q", domain.ErrUpstreamProtocol, f.Type)
	}
}
