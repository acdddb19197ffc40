package keypool

import (
	"errors"
	"fmt"
)

var (
	// ErrNoKeysConfigured is returned when the key configuration is missing, unreadable,
	// malformed, or lists no usable key. Recognition cannot proceed until an operator fixes it.
	ErrNoKeysConfigured = errors.New("no OCR API keys configured")

	// ErrCursorStore is returned when the round-robin cursor cannot be read or persisted.
	ErrCursorStore = errors.New("key rotation cursor unavailable")
)

// KeyPoolError wraps key selection failures with the operation that failed.
type KeyPoolError struct {
	// Op is the operation that failed (e.g., "SelectCredential", "Advance").
	Op string

	// Err is the underlying error.
	Err error

	// Details provides additional context about the failure.
	Details string
}

// Error implements the error interface.
func (e *KeyPoolError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("keypool: %s failed: %s: %v", e.Op, e.Details, e.Err)
	}
	return fmt.Sprintf("keypool: %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *KeyPoolError) Unwrap() error {
	return e.Err
}

func wrapError(op string, err error, details string) error {
	if err == nil {
		return nil
	}

	var poolErr *KeyPoolError
	if errors.As(err, &poolErr) {
		return err
	}

	return &KeyPoolError{Op: op, Err: err, Details: details}
}

// IsFatal reports whether err means no credential can be produced without operator
// intervention. Callers should abort instead of retrying.
func IsFatal(err error) bool {
	return errors.Is(err, ErrNoKeysConfigured) || errors.Is(err, ErrCursorStore)
}
