package domain

import "context"

// CredentialResolver yields the opaque API key authorizing a call to one
// provider on behalf of one caller. Resolution order is the caller's own
// stored key first, then a shared fallback. Implementations return
// ErrNoCredential when neither exists. The resolved value is forwarded to
// the wire adapter and discarded; it is never logged or echoed.
type CredentialResolver interface {
	Resolve(ctx context.Context, caller string, provider Provider) (string, error)
}

// CredentialStore extends CredentialResolver with management of
// caller-owned keys.
type CredentialStore interface {
	CredentialResolver
	Put(ctx context.Context, caller string, provider Provider, apiKey string) error
	Delete(ctx context.Context, caller string, provider Provider) error
}
