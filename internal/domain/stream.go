package domain

// EventKind discriminates the closed set of canonical stream events.
type EventKind int

const (
	// EventChunk carries an incremental piece of answer text.
	EventChunk EventKind = iota
	// EventDone marks normal stream completion.
	EventDone
	// EventError marks abnormal stream completion.
	EventError
)

// StreamEvent is the canonical vocabulary every wire adapter reduces its
// provider-specific events into. A stream delivers zero or more chunks
// followed by exactly one terminal event (Done or Error); no chunk follows
// a terminal event.
type StreamEvent struct {
	Kind    EventKind
	Content string // chunk text; set only for EventChunk, never empty
	Message string // failure description; set only for EventError
}

// Chunk builds a chunk event.
func Chunk(text string) StreamEvent {
	return StreamEvent{Kind: EventChunk, Content: text}
}

// Done builds the normal terminal event.
func Done() StreamEvent {
	return StreamEvent{Kind: EventDone}
}

// ErrorEvent builds the abnormal terminal event.
func ErrorEvent(message string) StreamEvent {
	return StreamEvent{Kind: EventError, Message: message}
}

// Terminal reports whether the event ends a stream.
func (e StreamEvent) Terminal() bool {
	return e.Kind == EventDone || e.Kind == EventError
}
