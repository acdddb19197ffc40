package ocr

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"docscan/internal/keypool"
	"docscan/internal/logger"
)

const (
	// DefaultEndpoint is the OCR.space parse endpoint.
	DefaultEndpoint = "https://api.ocr.space/parse/image"

	// DefaultLanguage is used when neither a hint nor a configured default is present.
	DefaultLanguage = "ger"

	// DefaultEngine selects OCR.space engine 2, the higher-accuracy variant.
	DefaultEngine = "2"

	maxResponseBytes = 8 << 20
)

// OCRSpaceClient implements Recognizer against the OCR.space HTTP API.
type OCRSpaceClient struct {
	endpoint        string
	engine          string
	defaultLanguage string
	timeout         time.Duration
	keys            keypool.KeyPool
	limiter         *rate.Limiter
	httpClient      *http.Client
	detector        *LanguageDetector
	log             zerolog.Logger
}

// NewOCRSpaceClient creates an OCR.space client drawing keys from keys.
func NewOCRSpaceClient(opts Options, keys keypool.KeyPool) *OCRSpaceClient {
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	engine := opts.Engine
	if engine == "" {
		engine = DefaultEngine
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &OCRSpaceClient{
		endpoint:        endpoint,
		engine:          engine,
		defaultLanguage: opts.DefaultLanguage,
		timeout:         timeout,
		keys:            keys,
		limiter:         newLimiter(opts.RatePerMinute),
		httpClient:      httpClient,
		detector:        NewLanguageDetector(),
		log:             logger.WithComponent("ocr.ocrspace"),
	}
}

// ocrSpaceResponse is the subset of the parse/image response this client reads.
type ocrSpaceResponse struct {
	ParsedResults []struct {
		ParsedText   string          `json:"ParsedText"`
		ErrorMessage providerMessage `json:"ErrorMessage"`
	} `json:"ParsedResults"`
	OCRExitCode           int             `json:"OCRExitCode"`
	IsErroredOnProcessing bool            `json:"IsErroredOnProcessing"`
	ErrorMessage          providerMessage `json:"ErrorMessage"`
	ErrorDetails          string          `json:"ErrorDetails"`
}

// providerMessage accepts the provider's error field as either a string or a list of strings.
type providerMessage []string

func (m *providerMessage) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*m = nil
		return nil
	}

	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		if single != "" {
			*m = providerMessage{single}
		}
		return nil
	}

	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*m = list
	return nil
}

func (m providerMessage) String() string {
	parts := make([]string, 0, len(m))
	for _, s := range m {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "; ")
}

// Recognize sends one JPEG page to OCR.space.
func (c *OCRSpaceClient) Recognize(ctx context.Context, image []byte, languageHint string) (*Result, error) {
	const op = "Recognize"

	if err := waitForSlot(ctx, c.limiter, op); err != nil {
		return nil, err
	}

	cred, err := c.keys.SelectCredential(ctx)
	if err != nil {
		return nil, err
	}

	language := defaultLanguage(languageHint, c.defaultLanguage)

	form := url.Values{}
	form.Set("apikey", cred.Key)
	form.Set("language", language)
	form.Set("isOverlayRequired", "false")
	form.Set("detectOrientation", "true")
	form.Set("scale", "true")
	form.Set("OCREngine", c.engine)
	form.Set("base64Image", "data:image/jpeg;base64,"+base64.StdEncoding.EncodeToString(image))

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, NewOCRError(op, ErrTransport, fmt.Sprintf("build request: %v", err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, NewOCRError(op, ErrTransport, fmt.Sprintf("no response within %v", c.timeout))
		}
		return nil, NewOCRError(op, ErrTransport, err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, NewOCRError(op, ErrTransport, fmt.Sprintf("read response: %v", err))
	}

	c.log.Debug().
		Int("status", resp.StatusCode).
		Int("key_index", cred.Index).
		Str("language", language).
		Dur("elapsed", time.Since(start)).
		Msg("OCR.space response received")

	return c.decodeResponse(resp.StatusCode, body)
}

func (c *OCRSpaceClient) decodeResponse(status int, body []byte) (*Result, error) {
	const op = "decodeResponse"

	var parsed ocrSpaceResponse
	decodeErr := json.Unmarshal(body, &parsed)

	if status < 200 || status > 299 {
		msg := strings.TrimSpace(string(body))
		if decodeErr == nil && parsed.ErrorMessage.String() != "" {
			msg = parsed.ErrorMessage.String()
		}
		if msg == "" {
			msg = http.StatusText(status)
		}
		return nil, NewOCRError(op, &ProviderError{StatusCode: status, Message: truncate(msg, 300)}, "")
	}

	if decodeErr != nil {
		return nil, NewOCRError(op, &ProviderError{StatusCode: status, Message: "malformed response"}, decodeErr.Error())
	}

	if msg := parsed.ErrorMessage.String(); msg != "" || parsed.IsErroredOnProcessing {
		if msg == "" {
			msg = parsed.ErrorDetails
		}
		if msg == "" {
			msg = "processing failed"
		}
		return nil, NewOCRError(op, &ProviderError{StatusCode: status, Message: msg}, "")
	}

	var text strings.Builder
	for _, page := range parsed.ParsedResults {
		text.WriteString(page.ParsedText)
	}

	return &Result{
		Text:     text.String(),
		Language: c.detector.Detect(text.String()),
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
