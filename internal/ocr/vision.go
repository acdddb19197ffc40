package ocr

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"docscan/internal/keypool"
	"docscan/internal/logger"
)

// annotator is the part of the Vision client used here.
type annotator interface {
	BatchAnnotateImages(ctx context.Context, req *visionpb.BatchAnnotateImagesRequest, opts ...gax.CallOption) (*visionpb.BatchAnnotateImagesResponse, error)
	Close() error
}

type dialFunc func(ctx context.Context, apiKey string) (annotator, error)

func dialVision(ctx context.Context, apiKey string) (annotator, error) {
	return vision.NewImageAnnotatorClient(ctx, option.WithAPIKey(apiKey))
}

// VisionClient implements Recognizer with Google Cloud Vision document text detection.
// Vision accepts API keys, so it rotates through the same key pool as OCR.space; one
// gRPC client is kept per key.
type VisionClient struct {
	keys            keypool.KeyPool
	limiter         *rate.Limiter
	timeout         time.Duration
	defaultLanguage string
	dial            dialFunc
	detector        *LanguageDetector
	log             zerolog.Logger

	mu      sync.Mutex
	clients map[string]annotator
}

// NewVisionClient creates a Vision backend drawing keys from keys.
func NewVisionClient(opts Options, keys keypool.KeyPool) *VisionClient {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &VisionClient{
		keys:            keys,
		limiter:         newLimiter(opts.RatePerMinute),
		timeout:         timeout,
		defaultLanguage: opts.DefaultLanguage,
		dial:            dialVision,
		detector:        NewLanguageDetector(),
		log:             logger.WithComponent("ocr.vision"),
		clients:         make(map[string]annotator),
	}
}

// Recognize runs DOCUMENT_TEXT_DETECTION on one page.
func (v *VisionClient) Recognize(ctx context.Context, image []byte, languageHint string) (*Result, error) {
	const op = "Recognize"

	if err := waitForSlot(ctx, v.limiter, op); err != nil {
		return nil, err
	}

	cred, err := v.keys.SelectCredential(ctx)
	if err != nil {
		return nil, err
	}

	client, err := v.client(ctx, cred.Key)
	if err != nil {
		return nil, NewOCRError(op, ErrTransport, fmt.Sprintf("create Vision client: %v", err))
	}

	req := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{
			{
				Image: &visionpb.Image{Content: image},
				Features: []*visionpb.Feature{
					{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION},
				},
			},
		},
	}
	if hint := ToBCP47(defaultLanguage(languageHint, v.defaultLanguage)); hint != "" {
		req.Requests[0].ImageContext = &visionpb.ImageContext{LanguageHints: []string{hint}}
	}

	reqCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	resp, err := client.BatchAnnotateImages(reqCtx, req)
	if err != nil {
		return nil, classifyVisionError(op, err)
	}

	v.log.Debug().Int("key_index", cred.Index).Msg("Vision response received")

	return v.visionResult(resp)
}

func (v *VisionClient) client(ctx context.Context, key string) (annotator, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if c, ok := v.clients[key]; ok {
		return c, nil
	}

	// the client outlives this request
	c, err := v.dial(context.WithoutCancel(ctx), key)
	if err != nil {
		return nil, err
	}
	v.clients[key] = c
	return c, nil
}

// Close closes every cached Vision client.
func (v *VisionClient) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	var errs []error
	for key, c := range v.clients {
		errs = append(errs, c.Close())
		delete(v.clients, key)
	}
	return errors.Join(errs...)
}

// visionResult extracts text and language from the single-image batch response.
func (v *VisionClient) visionResult(resp *visionpb.BatchAnnotateImagesResponse) (*Result, error) {
	const op = "visionResult"

	if resp == nil || len(resp.Responses) == 0 {
		return nil, NewOCRError(op, &ProviderError{Message: "empty response from Vision API"}, "")
	}

	page := resp.Responses[0]
	if page.Error != nil && page.Error.Code != int32(codes.OK) {
		return nil, NewOCRError(op, &ProviderError{Message: page.Error.Message}, fmt.Sprintf("code %d", page.Error.Code))
	}

	annotation := page.FullTextAnnotation
	if annotation == nil {
		return &Result{}, nil
	}

	language := ""
	for _, p := range annotation.Pages {
		if p.Property == nil {
			continue
		}
		var best float32 = -1
		for _, lang := range p.Property.DetectedLanguages {
			if code := FromBCP47(lang.LanguageCode); code != "" && lang.Confidence > best {
				language, best = code, lang.Confidence
			}
		}
		if language != "" {
			break
		}
	}
	if language == "" {
		language = v.detector.Detect(annotation.Text)
	}

	return &Result{Text: annotation.Text, Language: language}, nil
}

func classifyVisionError(op string, err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return NewOCRError(op, ErrTransport, err.Error())
	}

	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled, codes.Unknown:
		return NewOCRError(op, ErrTransport, st.Message())
	default:
		return NewOCRError(op, &ProviderError{Message: st.Message()}, st.Code().String())
	}
}
