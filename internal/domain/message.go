package domain

// Role constants for conversation turns.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is a single message in a conversation. An ordered slice of turns is
// replayed verbatim to the upstream provider, so ordering and the
// user/assistant alternation must be preserved as received.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the canonical request submitted to a streaming session.
// It is immutable once submitted: PriorTurns is never mutated in place.
type ChatRequest struct {
	Provider   Provider `json:"provider"`
	Question   string   `json:"question"`
	PriorTurns []Turn   `json:"conversationHistory,omitempty"`
}

// Messages returns the full outbound turn list: prior turns followed by the
// new question as a user turn, order unchanged.
func (r ChatRequest) Messages() []Turn {
	msgs := make([]Turn, 0, len(r.PriorTurns)+1)
	msgs = append(msgs, r.PriorTurns...)
	msgs = append(msgs, Turn{Role: RoleUser, Content: r.Question})
	return msgs
}
