// Package server exposes document recognition over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"docscan/internal/logger"
	"docscan/internal/ocr"
	"docscan/internal/recognition"
	"docscan/pkg/models"
	"docscan/pkg/services"
)

// maxImageBody bounds POST /api/ocr bodies; base64 inflates images by a third.
const maxImageBody = 16 << 20

// Processor runs a document through recognition and storage.
type Processor interface {
	Process(ctx context.Context, doc models.Document, progress recognition.ProgressFunc) (*recognition.AggregateResult, error)
}

type Options struct {
	UploadDir       string
	MaxPages        int
	DefaultLanguage string
	AllowedOrigins  []string
}

type Server struct {
	pipeline   Processor
	texts      services.ResultSink
	recognizer ocr.Recognizer
	opts       Options
	log        zerolog.Logger
}

func New(pipeline Processor, texts services.ResultSink, recognizer ocr.Recognizer, opts Options) *Server {
	return &Server{
		pipeline:   pipeline,
		texts:      texts,
		recognizer: recognizer,
		opts:       opts,
		log:        logger.WithComponent("server"),
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	origins := s.opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJson(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/ocr", s.handleOCR)
		r.Post("/documents/{filename}/recognize", s.handleRecognize)
		r.Get("/documents/{filename}/text", s.handleText)
	})

	return r
}

// ListenAndServe serves until ctx is canceled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.log.Info().Msg("Shutting down HTTP server")
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		log := logger.WithRequestID(middleware.GetReqID(r.Context()))
		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

func writeJson(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.Encode(v)
}

type errorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJson(w, code, errorResponse{Success: false, Message: message})
}
