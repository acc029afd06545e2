package domain

import (
	"errors"
	"testing"
)

func TestParseProvider(t *testing.T) {
	for _, p := range AllProviders {
		got, err := ParseProvider(p.String())
		if err != nil {
			t.Errorf("ParseProvider(%q): %v", p, err)
		}
		if got != p {
			t.Errorf("ParseProvider(%q) = %v", p, got)
		}
	}

	for _, bad := range []string{"", "gpt", "Claude", "chatgpt "} {
		if _, err := ParseProvider(bad); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("ParseProvider(%q) err = %v, want ErrInvalidInput", bad, err)
		}
	}
}

func TestChatRequestMessages(t *testing.T) {
	req := ChatRequest{
		Provider: ProviderClaude,
		Question: "and then?",
		PriorTurns: []Turn{
			{Role: RoleUser, Content: "start"},
			{Role: RoleAssistant, Content: "beginning"},
		},
	}

	msgs := req.Messages()
	if len(msgs) != 3 {
		t.Fatalf("messages = %d, want 3", len(msgs))
	}
	last := msgs[2]
	if last.Role != RoleUser || last.Content != "and then?" {
		t.Errorf("last = %+v", last)
	}
	// Prior turns keep their order ahead of the new question.
	if msgs[0].Content != "start" || msgs[1].Content != "beginning" {
		t.Errorf("prior turns reordered: %+v", msgs[:2])
	}
}

func TestStreamEventTerminal(t *testing.T) {
	if Chunk("x").Terminal() {
		t.Error("chunk must not be terminal")
	}
	if !Done().Terminal() || !ErrorEvent("boom").Terminal() {
		t.Error("done and error must be terminal")
	}
}
