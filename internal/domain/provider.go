package domain

import "fmt"

// Provider identifies one of the upstream LLM services. The set is closed:
// every map in the system is keyed by one of the four constants below and
// free-text provider names are rejected at the boundary.
type Provider string

const (
	ProviderChatGPT    Provider = "chatgpt"
	ProviderClaude     Provider = "claude"
	ProviderGemini     Provider = "gemini"
	ProviderPerplexity Provider = "perplexity"
)

// AllProviders lists every known provider in stable display order.
var AllProviders = []Provider{
	ProviderChatGPT,
	ProviderClaude,
	ProviderGemini,
	ProviderPerplexity,
}

// ParseProvider validates a wire-level provider tag.
func ParseProvider(s string) (Provider, error) {
	p := Provider(s)
	for _, known := range AllProviders {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: unknown provider %q", ErrInvalidInput, s)
}

// String implements fmt.Stringer.
func (p Provider) String() string { return string(p) }
