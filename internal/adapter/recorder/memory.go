package recorder

import (
	"context"
	"sync"

	"github.com/nirmal91/omni-ask/internal/domain"
)

// AnswerSet is one recorded fan-out result.
type AnswerSet struct {
	QuestionID string
	Question   string
	Answers    map[domain.Provider]string
}

// Exchange is one recorded focused follow-up.
type Exchange struct {
	QuestionID string
	Provider   domain.Provider
	Question   string
	Answer     string
}

// Memory keeps recorded conversations in process memory. Used when no
// recorder database is configured, and by tests.
type Memory struct {
	mu        sync.Mutex
	answerSet []AnswerSet
	exchanges []Exchange
}

// NewMemory returns an empty in-memory recorder.
func NewMemory() *Memory {
	return &Memory{}
}

// RecordAnswers implements domain.ConversationRecorder.
func (m *Memory) RecordAnswers(_ context.Context, questionID, question string, answers map[domain.Provider]string) error {
	copied := make(map[domain.Provider]string, len(answers))
	for k, v := range answers {
		copied[k] = v
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.answerSet = append(m.answerSet, AnswerSet{
		QuestionID: questionID,
		Question:   question,
		Answers:    copied,
	})
	return nil
}

// RecordExchange implements domain.ConversationRecorder.
func (m *Memory) RecordExchange(_ context.Context, questionID string, provider domain.Provider, question, answer string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exchanges = append(m.exchanges, Exchange{
		QuestionID: questionID,
		Provider:   provider,
		Question:   question,
		Answer:     answer,
	})
	return nil
}

// AnswerSets returns a snapshot of all recorded fan-out results.
func (m *Memory) AnswerSets() []AnswerSet {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AnswerSet, len(m.answerSet))
	copy(out, m.answerSet)
	return out
}

// Exchanges returns a snapshot of all recorded focused exchanges.
func (m *Memory) Exchanges() []Exchange {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Exchange, len(m.exchanges))
	copy(out, m.exchanges)
	return out
}

var _ domain.ConversationRecorder = (*Memory)(nil)
