package domain

import "fmt"

// Sentinel errors for the domain layer.
var (
	ErrInvalidInput = fmt.Errorf("invalid input")
	ErrNotFound     = fmt.Errorf("not found")

	// Streaming error taxonomy. All four are normalized into a single
	// outbound error event at the relay boundary; callers that want to
	// distinguish them do so via errors.Is before normalization.
	ErrNoCredential     = fmt.Errorf("no credential configured")
	ErrUpstreamHTTP     = fmt.Errorf("upstream http error")
	ErrUpstreamProtocol = fmt.Errorf("upstream protocol error")
	ErrTransport        = fmt.Errorf("transport error")

	// Relay auth errors.
	ErrAuthInvalid = fmt.Errorf("authentication failed")
)

// DomainError wraps a sentinel error with operation context.
type DomainError struct {
	Op     string // operation name (e.g., "keystore.Resolve")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}
