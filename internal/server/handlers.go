package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"docscan/internal/keypool"
	"docscan/internal/ocr"
	"docscan/internal/pagesource"
	"docscan/internal/recognition"
	"docscan/pkg/models"
	"docscan/pkg/services"
)

type recognizeResponse struct {
	*recognition.AggregateResult
	SaveError string `json:"save_error,omitempty"`
}

type textResponse struct {
	Success    bool   `json:"success"`
	DocumentID string `json:"document_id"`
	Text       string `json:"text"`
}

type ocrRequest struct {
	Base64Image string `json:"base64Image"`
	Language    string `json:"language"`
}

type ocrResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
}

func validFilename(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, `/\`)
}

// handleRecognize runs the pipeline on an uploaded file. Optional query parameters:
// language (initial hint) and max_pages, which can only lower the configured ceiling.
func (s *Server) handleRecognize(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")
	if !validFilename(filename) {
		writeError(w, http.StatusBadRequest, "invalid filename")
		return
	}

	path := filepath.Join(s.opts.UploadDir, filename)
	if info, err := os.Stat(path); err != nil || !info.Mode().IsRegular() {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}

	maxPages := s.opts.MaxPages
	if v := r.URL.Query().Get("max_pages"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "max_pages must be a positive integer")
			return
		}
		if maxPages <= 0 || n < maxPages {
			maxPages = n
		}
	}

	doc := models.NewDocument(path, maxPages)
	doc.LanguageHint = r.URL.Query().Get("language")

	result, err := s.pipeline.Process(r.Context(), doc, nil)
	if result == nil {
		s.log.Error().Err(err).Str("file", filename).Msg("Recognition returned no result")
		writeError(w, http.StatusInternalServerError, "recognition failed")
		return
	}

	resp := recognizeResponse{AggregateResult: result}
	if result.SaveErr != nil {
		resp.SaveError = result.SaveErr.Error()
	}
	writeJson(w, recognizeStatus(err), resp)
}

func recognizeStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, pagesource.ErrDocumentUnreadable):
		return http.StatusUnprocessableEntity
	case keypool.IsFatal(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, recognition.ErrSinkWrite):
		return http.StatusInternalServerError
	default:
		// canceled or timed out; the client is usually gone already
		return http.StatusServiceUnavailable
	}
}

func (s *Server) handleText(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")
	if !validFilename(filename) {
		writeError(w, http.StatusBadRequest, "invalid filename")
		return
	}

	id := models.DocumentID(filename)
	text, err := s.texts.Load(r.Context(), id)
	if errors.Is(err, services.ErrTextNotFound) {
		writeError(w, http.StatusNotFound, "no text found")
		return
	}
	if err != nil {
		s.log.Error().Err(err).Str("document_id", id).Msg("Failed to load text")
		writeError(w, http.StatusInternalServerError, "failed to load text")
		return
	}

	writeJson(w, http.StatusOK, textResponse{Success: true, DocumentID: id, Text: text})
}

// handleOCR recognizes one image, sent either as JSON {base64Image, language} or as a
// multipart "image" file with an optional "language" field.
func (s *Server) handleOCR(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImageBody)

	image, language, err := readImage(r)
	if err != nil {
		writeJson(w, http.StatusBadRequest, ocrResponse{Message: err.Error()})
		return
	}
	if language == "" {
		language = s.opts.DefaultLanguage
	}

	result, err := s.recognizer.Recognize(r.Context(), image, language)
	if err != nil {
		code := http.StatusBadGateway
		message := "OCR request failed"
		switch {
		case keypool.IsFatal(err):
			code = http.StatusServiceUnavailable
			message = "no OCR API keys configured"
		case errors.Is(err, ocr.ErrProvider):
			message = "OCR provider error: " + ocr.ProviderMessage(err)
		}
		s.log.Warn().Err(err).Msg("Single image recognition failed")
		writeJson(w, code, ocrResponse{Message: message})
		return
	}

	writeJson(w, http.StatusOK, ocrResponse{
		Success:  true,
		Message:  "text recognized",
		Text:     result.Text,
		Language: result.Language,
	})
}

func readImage(r *http.Request) ([]byte, string, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, _, err := r.FormFile("image")
		if err != nil {
			return nil, "", errors.New("no image file or base64 data found")
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			return nil, "", errors.New("failed to read image")
		}
		return data, r.FormValue("language"), nil
	}

	var req ocrRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Base64Image == "" {
		return nil, "", errors.New("no image file or base64 data found")
	}

	encoded := req.Base64Image
	if _, after, ok := strings.Cut(encoded, ";base64,"); ok {
		encoded = after
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(data) == 0 {
		return nil, "", errors.New("invalid base64 image")
	}
	return data, req.Language, nil
}
