package recognition

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"docscan/pkg/models"
	"docscan/pkg/services"
)

type memorySink struct {
	texts     map[string]string
	languages map[string]string
	saveErr   error
	langErr   error
}

func newMemorySink() *memorySink {
	return &memorySink{texts: map[string]string{}, languages: map[string]string{}}
}

func (m *memorySink) Save(_ context.Context, id, text string) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.texts[id] = text
	return nil
}

func (m *memorySink) Load(_ context.Context, id string) (string, error) {
	text, ok := m.texts[id]
	if !ok {
		return "", services.ErrTextNotFound
	}
	return text, nil
}

func (m *memorySink) RecordLanguage(_ context.Context, id, language string) error {
	if m.langErr != nil {
		return m.langErr
	}
	m.languages[id] = language
	return nil
}

type stubRecognizer struct {
	result *AggregateResult
	err    error
}

func (s stubRecognizer) Recognize(context.Context, models.Document, ProgressFunc) (*AggregateResult, error) {
	return s.result, s.err
}

func TestPipelineStoresTextAndLanguage(t *testing.T) {
	sink := newMemorySink()
	src := &fakeSource{pages: 2}
	rec := &fakeRecognizer{replies: map[string]reply{
		"page-1": {text: "Rechnung", lang: "ger"},
		"page-2": {text: "Summe", lang: "ger"},
	}}
	p := NewPipeline(newCoordinator(src, rec), sink, sink)

	result, err := p.Process(context.Background(), doc(), nil)
	require.NoError(t, err)
	require.NoError(t, result.SaveErr)

	require.Equal(t, result.Text, sink.texts["scan_2024"])
	require.Equal(t, "ger", sink.languages["scan_2024"])
}

func TestPipelineSkipsStorageWithoutText(t *testing.T) {
	sink := newMemorySink()
	p := NewPipeline(stubRecognizer{result: &AggregateResult{Status: StatusNoText}}, sink, sink)

	_, err := p.Process(context.Background(), doc(), nil)
	require.NoError(t, err)
	require.Empty(t, sink.texts)
	require.Empty(t, sink.languages)
}

func TestPipelineSkipsStorageOnAbort(t *testing.T) {
	sink := newMemorySink()
	abort := errors.New("aborted")
	p := NewPipeline(stubRecognizer{result: &AggregateResult{Success: true, Text: "partial"}, err: abort}, sink, nil)

	_, err := p.Process(context.Background(), doc(), nil)
	require.ErrorIs(t, err, abort)
	require.Empty(t, sink.texts)
}

func TestPipelineSurfacesSinkWriteError(t *testing.T) {
	diskFull := errors.New("no space left on device")
	sink := newMemorySink()
	sink.saveErr = diskFull

	recognized := &AggregateResult{Success: true, Text: "Rechnung", Language: "ger", Status: StatusComplete}
	p := NewPipeline(stubRecognizer{result: recognized}, sink, sink)

	result, err := p.Process(context.Background(), doc(), nil)
	require.ErrorIs(t, err, ErrSinkWrite)
	require.ErrorIs(t, err, diskFull)

	require.Same(t, recognized, result)
	require.Equal(t, "Rechnung", result.Text)
	require.Equal(t, StatusComplete, result.Status)
	require.ErrorIs(t, result.SaveErr, ErrSinkWrite)
	require.Empty(t, sink.languages)
}

func TestPipelineLanguageRecordFailure(t *testing.T) {
	sink := newMemorySink()
	sink.langErr = errors.New("meta file locked")

	p := NewPipeline(stubRecognizer{result: &AggregateResult{Success: true, Text: "x", Language: "eng"}}, sink, sink)

	result, err := p.Process(context.Background(), doc(), nil)
	require.ErrorIs(t, err, ErrSinkWrite)
	require.Equal(t, "x", sink.texts["scan_2024"])

	var sinkErr *SinkWriteError
	require.ErrorAs(t, result.SaveErr, &sinkErr)
	require.Equal(t, "record language", sinkErr.Op)
}

func TestLanguageTracker(t *testing.T) {
	tr := NewLanguageTracker()

	_, ok := tr.GetHint("a")
	require.False(t, ok)

	require.False(t, tr.RecordIfAbsent("a", ""))
	require.True(t, tr.RecordIfAbsent("a", "fre"))
	require.False(t, tr.RecordIfAbsent("a", "eng"))

	lang, ok := tr.GetHint("a")
	require.True(t, ok)
	require.Equal(t, "fre", lang)

	_, ok = tr.GetHint("b")
	require.False(t, ok)
}
