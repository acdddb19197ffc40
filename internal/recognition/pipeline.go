package recognition

import (
	"context"

	"github.com/rs/zerolog"

	"docscan/internal/logger"
	"docscan/pkg/models"
	"docscan/pkg/services"
)

// Pipeline recognizes a document and stores the outcome.
type Pipeline struct {
	recognizer DocumentRecognizer
	sink       services.ResultSink
	languages  services.LanguageRecorder
	log        zerolog.Logger
}

// NewPipeline returns a pipeline. languages may be nil.
func NewPipeline(recognizer DocumentRecognizer, sink services.ResultSink, languages services.LanguageRecorder) *Pipeline {
	return &Pipeline{
		recognizer: recognizer,
		sink:       sink,
		languages:  languages,
		log:        logger.WithComponent("pipeline"),
	}
}

// Process recognizes doc and, when some text was found, saves it and records the
// language. A storage failure is not retried and does not discard the recognition:
// the result is returned with SaveErr set, and the same *SinkWriteError is returned as
// the error.
func (p *Pipeline) Process(ctx context.Context, doc models.Document, progress ProgressFunc) (*AggregateResult, error) {
	result, err := p.recognizer.Recognize(ctx, doc, progress)
	if err != nil || !result.Success {
		return result, err
	}

	if err := p.sink.Save(ctx, doc.ID, result.Text); err != nil {
		result.SaveErr = &SinkWriteError{DocumentID: doc.ID, Op: "save", Err: err}
		p.log.Error().Err(err).Str("document_id", doc.ID).Msg("Failed to save recognized text")
		return result, result.SaveErr
	}

	if p.languages != nil && result.Language != "" {
		if err := p.languages.RecordLanguage(ctx, doc.ID, result.Language); err != nil {
			result.SaveErr = &SinkWriteError{DocumentID: doc.ID, Op: "record language", Err: err}
			p.log.Error().Err(err).Str("document_id", doc.ID).Msg("Failed to record document language")
			return result, result.SaveErr
		}
	}

	p.log.Info().
		Str("document_id", doc.ID).
		Int("chars", len(result.Text)).
		Str("language", result.Language).
		Msg("Recognized text stored")

	return result, nil
}
