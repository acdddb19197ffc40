// Package ocr sends one rendered page to an external OCR provider and returns the
// recognized text.
//
// Two backends share the Recognizer contract:
//   - OCR.space (default): form POST to the parse/image endpoint with the page as a
//     base64 JPEG data URL.
//   - Google Cloud Vision: BatchAnnotateImages with DOCUMENT_TEXT_DETECTION.
//
// Every call obtains its API key from a keypool.KeyPool and waits on a shared rate
// limiter before touching the network. Clients never retry; whether a failed page may be
// skipped is the caller's decision.
//
// Outcomes:
//   - transport failure or client-side timeout: error wrapping ErrTransport
//   - provider-reported error (non-2xx, error field): error wrapping ErrProvider, *ProviderError
//   - success without text: Result with empty Text
//   - success with text: Result with Text and detected Language
package ocr

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"docscan/internal/keypool"
)

const (
	ProviderOCRSpace = "ocrspace"
	ProviderVision   = "vision"
)

// Recognizer recognizes the text on one raster page.
type Recognizer interface {
	// Recognize sends image (JPEG bytes) with an optional three-letter language hint.
	// An empty hint falls back to the configured default language.
	Recognize(ctx context.Context, image []byte, languageHint string) (*Result, error)
}

// Result is a successful recognition. Text may be empty.
type Result struct {
	Text string `json:"text"`

	// Language is a three-letter OCR.space style code ("ger", "eng"), empty when unknown.
	Language string `json:"language,omitempty"`
}

// Options configures a recognition backend.
type Options struct {
	Provider        string
	Endpoint        string
	Engine          string
	DefaultLanguage string

	// Timeout bounds a single outbound request.
	Timeout time.Duration

	// RatePerMinute caps outbound requests across all callers sharing the client.
	// Zero disables limiting.
	RatePerMinute int

	HTTPClient *http.Client
}

// New returns the backend named by opts.Provider.
func New(opts Options, keys keypool.KeyPool) (Recognizer, error) {
	switch opts.Provider {
	case "", ProviderOCRSpace:
		return NewOCRSpaceClient(opts, keys), nil
	case ProviderVision:
		return NewVisionClient(opts, keys), nil
	default:
		return nil, NewOCRError("New", ErrUnsupportedProvider, fmt.Sprintf("provider %q", opts.Provider))
	}
}

// newLimiter converts a per-minute budget into a token bucket with burst 1 so
// requests are spread evenly instead of fired in bursts.
func newLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
}

func waitForSlot(ctx context.Context, limiter *rate.Limiter, op string) error {
	if err := limiter.Wait(ctx); err != nil {
		return NewOCRError(op, ErrTransport, fmt.Sprintf("rate limiter: %v", err))
	}
	return nil
}

func defaultLanguage(hint, fallback string) string {
	if hint != "" {
		return hint
	}
	if fallback != "" {
		return fallback
	}
	return DefaultLanguage
}
