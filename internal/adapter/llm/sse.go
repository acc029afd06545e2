package llm

import (
	"bufio"
	"bytes"
	"context"
	"io"

	"github.com/nirmal91/omni-ask/internal/domain"
)

// maxSSELine bounds a single SSE record. Provider deltas are small; the
// limit only exists so a misbehaving upstream cannot grow the buffer
// without bound.
const maxSSELine = 1 << 20

// parseFunc converts one complete "data:" payload into zero or more
// canonical events. Returning an error means the payload was malformed
// and is skipped; it never terminates the stream.
type parseFunc func(data []byte) ([]domain.StreamEvent, error)

// decodeSSE reads an SSE-framed body and reduces it to canonical events
// using the provider-specific parse function. It owns the body and closes
// it when done.
//
// Framing rules, shared by all three upstream dialects: records are
// newline-delimited, only "data: " lines carry payloads, blank lines and
// ":" comments are keep-alive noise. bufio.Scanner reassembles payloads
// split across arbitrary read boundaries, so a record arriving in two TCP
// segments decodes identically to one arriving whole.
//
// The returned channel carries zero or more chunks and exactly one
// terminal event, then closes: the literal [DONE] sentinel, a terminal
// event from parse, end-of-body, or a read failure all terminate.
// Cancelling ctx closes the channel without a terminal event.
func decodeSSE(ctx context.Context, body io.ReadCloser, parse parseFunc) <-chan domain.StreamEvent {
	ch := make(chan domain.StreamEvent, 16)
	go func() {
		defer close(ch)
		defer body.Close()

		emit := func(ev domain.StreamEvent) bool {
			select {
			case ch <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 64*1024), maxSSELine)

		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return
			default:
			}

			line := scanner.Bytes()

			// Skip blank lines and comments.
			if len(line) == 0 || line[0] == ':' {
				continue
			}
			if !bytes.HasPrefix(line, []byte("data: ")) {
				continue
			}
			data := bytes.TrimPrefix(line, []byte("data: "))

			// Common termination sentinel.
			if bytes.Equal(data, []byte("[DONE]")) {
				emit(domain.Done())
				return
			}

			events, err := parse(data)
			if err != nil {
				// Malformed payloads are interleaved noise, not failures.
				continue
			}
			for _, ev := range events {
				if !emit(ev) {
					return
				}
				if ev.Terminal() {
					return
				}
			}
		}

		if err := scanner.Err(); err != nil {
			if ctx.Err() != nil {
				return
			}
			emit(domain.ErrorEvent("stream read failed: " + err.Error()))
			return
		}

		// End of body without an explicit sentinel still ends the stream
		// normally (the Gemini dialect has no terminal record).
		emit(domain.Done())
	}()
	return ch
}
