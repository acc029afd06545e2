package domain

import "context"

// ConversationRecorder receives completed conversations for persistence.
// The orchestrator calls RecordAnswers at most once per completed question,
// after every provider session has reached its terminal state. Focused
// sessions call RecordExchange once per finished follow-up exchange.
// Whether the recorder is in-memory or durable is its own concern.
type ConversationRecorder interface {
	RecordAnswers(ctx context.Context, questionID, question string, answers map[Provider]string) error
	RecordExchange(ctx context.Context, questionID string, provider Provider, question, answer string) error
}
