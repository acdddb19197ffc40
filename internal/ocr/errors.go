package ocr

import (
	"errors"
	"fmt"
)

// Common recognition errors
var (
	// ErrTransport is returned when the provider could not be reached, the connection
	// failed mid-request, or no response arrived within the per-request timeout.
	ErrTransport = errors.New("OCR transport failure")

	// ErrProvider is returned when the provider answered but reported an error.
	// The concrete error is a *ProviderError carrying the provider's message.
	ErrProvider = errors.New("OCR provider error")

	// ErrUnsupportedProvider is returned for an unknown OCR_PROVIDER value.
	ErrUnsupportedProvider = errors.New("unsupported OCR provider")
)

// ProviderError carries the provider-reported failure.
type ProviderError struct {
	// StatusCode is the HTTP status (or 0 when the provider does not use HTTP statuses).
	StatusCode int

	Message string
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%v (status %d): %s", ErrProvider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%v: %s", ErrProvider, e.Message)
}

// Unwrap lets errors.Is match ErrProvider.
func (e *ProviderError) Unwrap() error {
	return ErrProvider
}

// OCRError wraps errors with additional context about the recognition failure.
type OCRError struct {
	// Op is the operation that failed (e.g., "Recognize", "decodeResponse").
	Op string

	// Err is the underlying error.
	Err error

	// Details provides additional context about the failure.
	Details string
}

// Error implements the error interface.
func (e *OCRError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("ocr: %s failed: %s: %v", e.Op, e.Details, e.Err)
	}
	return fmt.Sprintf("ocr: %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *OCRError) Unwrap() error {
	return e.Err
}

// Is implements error matching for Go 1.13+ error handling.
func (e *OCRError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewOCRError creates a new OCRError with the specified operation and underlying error.
func NewOCRError(op string, err error, details string) *OCRError {
	return &OCRError{
		Op:      op,
		Err:     err,
		Details: details,
	}
}

// WrapOCRError wraps an error as an OCRError if it isn't already one.
func WrapOCRError(op string, err error, details string) error {
	if err == nil {
		return nil
	}

	var ocrErr *OCRError
	if errors.As(err, &ocrErr) {
		return err
	}

	return NewOCRError(op, err, details)
}

// ProviderMessage extracts the provider's message from err, if any.
func ProviderMessage(err error) string {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Message
	}
	return ""
}
