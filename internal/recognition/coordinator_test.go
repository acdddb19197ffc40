package recognition

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"docscan/internal/keypool"
	"docscan/internal/ocr"
	"docscan/internal/pagesource"
	"docscan/pkg/models"
)

type fakeSource struct {
	pages      int
	openErr    error
	failRender map[int]bool
	rendered   []int
	closed     bool
}

func (s *fakeSource) Open(context.Context) (int, error) {
	return s.pages, s.openErr
}

func (s *fakeSource) RenderPage(_ context.Context, index int) ([]byte, error) {
	s.rendered = append(s.rendered, index)
	if s.failRender[index] {
		return nil, &pagesource.PageRenderError{Page: index, Err: errors.New("corrupt page stream")}
	}
	return []byte(fmt.Sprintf("page-%d", index)), nil
}

func (s *fakeSource) Close() error {
	s.closed = true
	return nil
}

type fakeFactory struct {
	src *fakeSource
}

func (f fakeFactory) For(models.Document) pagesource.PageSource {
	return f.src
}

type reply struct {
	text string
	lang string
	err  error
}

type fakeRecognizer struct {
	replies map[string]reply
	hints   []string
}

func (r *fakeRecognizer) Recognize(_ context.Context, image []byte, hint string) (*ocr.Result, error) {
	r.hints = append(r.hints, hint)
	rep, ok := r.replies[string(image)]
	if !ok {
		return &ocr.Result{}, nil
	}
	if rep.err != nil {
		return nil, rep.err
	}
	return &ocr.Result{Text: rep.text, Language: rep.lang}, nil
}

func providerErr(msg string) error {
	return ocr.NewOCRError("decodeResponse", &ocr.ProviderError{StatusCode: 200, Message: msg}, "")
}

func textReplies(n int) map[string]reply {
	replies := make(map[string]reply, n)
	for i := 1; i <= n; i++ {
		replies[fmt.Sprintf("page-%d", i)] = reply{text: fmt.Sprintf("text of page %d", i), lang: "ger"}
	}
	return replies
}

func newCoordinator(src *fakeSource, rec *fakeRecognizer) *Coordinator {
	return NewCoordinator(fakeFactory{src: src}, rec, Options{MaxPages: 3, DefaultLanguage: "ger"})
}

func collect(events *[]Progress) ProgressFunc {
	return func(p Progress) { *events = append(*events, p) }
}

func doc() models.Document {
	return models.Document{ID: "scan_2024", Path: "uploads/scan_2024.pdf"}
}

func TestSingleFinalProgressEvent(t *testing.T) {
	for pagesInDoc := 1; pagesInDoc <= 3; pagesInDoc++ {
		t.Run(fmt.Sprintf("%d pages", pagesInDoc), func(t *testing.T) {
			src := &fakeSource{pages: pagesInDoc}
			c := newCoordinator(src, &fakeRecognizer{replies: textReplies(pagesInDoc)})

			var events []Progress
			_, err := c.Recognize(context.Background(), doc(), collect(&events))
			require.NoError(t, err)

			require.Len(t, events, pagesInDoc+1)
			require.Equal(t, Progress{Done: 0, Total: pagesInDoc, Message: "starting"}, events[0])

			final := 0
			for i, e := range events {
				require.Equal(t, i, e.Done)
				if e.Done == e.Total {
					final++
				}
			}
			require.Equal(t, 1, final)
			require.Equal(t, pagesInDoc, events[len(events)-1].Done)
			require.Equal(t, fmt.Sprintf("processing page %d of %d", pagesInDoc, pagesInDoc), events[len(events)-1].Message)
		})
	}
}

func TestFullyRecognized(t *testing.T) {
	src := &fakeSource{pages: 3}
	c := newCoordinator(src, &fakeRecognizer{replies: textReplies(3)})

	result, err := c.Recognize(context.Background(), doc(), nil)
	require.NoError(t, err)

	require.True(t, result.Success)
	require.Equal(t, StatusComplete, result.Status)
	require.Equal(t, "Text recognized from 3 pages", result.Message)
	require.Equal(t,
		"=== PAGE 1 ===\n\ntext of page 1\n\n=== PAGE 2 ===\n\ntext of page 2\n\n=== PAGE 3 ===\n\ntext of page 3",
		result.Text)
	require.Equal(t, 3, result.PagesWithText)
	require.True(t, src.closed)
	require.NotEmpty(t, result.RunID)
}

func TestSinglePageHasNoMarker(t *testing.T) {
	src := &fakeSource{pages: 1}
	c := newCoordinator(src, &fakeRecognizer{replies: map[string]reply{"page-1": {text: "  Kassenbon  \n"}}})

	result, err := c.Recognize(context.Background(), doc(), nil)
	require.NoError(t, err)
	require.Equal(t, "Kassenbon", result.Text)
	require.Equal(t, "Text recognized from 1 page", result.Message)
}

func TestPartialFailureKeepsOrder(t *testing.T) {
	tests := []struct {
		name string
		src  *fakeSource
		rec  *fakeRecognizer
	}{
		{
			name: "provider error",
			src:  &fakeSource{pages: 3},
			rec: &fakeRecognizer{replies: map[string]reply{
				"page-1": {text: "one"},
				"page-2": {err: providerErr("E301: Unable to recognize the file type")},
				"page-3": {text: "three"},
			}},
		},
		{
			name: "transport error",
			src:  &fakeSource{pages: 3},
			rec: &fakeRecognizer{replies: map[string]reply{
				"page-1": {text: "one"},
				"page-2": {err: ocr.NewOCRError("Recognize", ocr.ErrTransport, "connection reset")},
				"page-3": {text: "three"},
			}},
		},
		{
			name: "render error",
			src:  &fakeSource{pages: 3, failRender: map[int]bool{2: true}},
			rec: &fakeRecognizer{replies: map[string]reply{
				"page-1": {text: "one"},
				"page-3": {text: "three"},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := newCoordinator(tt.src, tt.rec).Recognize(context.Background(), doc(), nil)
			require.NoError(t, err)

			require.Equal(t, "=== PAGE 1 ===\n\none\n\n=== PAGE 3 ===\n\nthree", result.Text)
			require.Equal(t, 2, strings.Count(result.Text, "=== PAGE"))
			require.True(t, result.Success)
			require.Equal(t, StatusPartial, result.Status)
			require.Equal(t, 1, result.PagesFailed)
			require.Contains(t, result.Message, "1 of 3 pages skipped")
			require.Equal(t, []int{1, 2, 3}, tt.src.rendered)
		})
	}
}

func TestNoPageSucceeds(t *testing.T) {
	src := &fakeSource{pages: 2}
	rec := &fakeRecognizer{replies: map[string]reply{
		"page-1": {err: providerErr("quota")},
		"page-2": {err: providerErr("quota")},
	}}

	result, err := newCoordinator(src, rec).Recognize(context.Background(), doc(), nil)
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Empty(t, result.Text)
	require.Equal(t, StatusNoText, result.Status)
	require.Equal(t, "No text found in 2 pages (2 of 2 pages skipped)", result.Message)
	require.Equal(t, "ger", result.Language)
}

func TestEmptyTextIsNotFailure(t *testing.T) {
	src := &fakeSource{pages: 1}
	rec := &fakeRecognizer{replies: map[string]reply{"page-1": {text: ""}}}

	result, err := newCoordinator(src, rec).Recognize(context.Background(), doc(), nil)
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Equal(t, StatusNoText, result.Status)
	require.Equal(t, "No text found", result.Message)
	require.Zero(t, result.PagesFailed)
	require.True(t, result.Pages[0].Recognized)
}

func TestLanguageHintReused(t *testing.T) {
	src := &fakeSource{pages: 3}
	rec := &fakeRecognizer{replies: map[string]reply{
		"page-1": {text: "bonjour", lang: "fre"},
		"page-2": {text: "hello", lang: "eng"},
		"page-3": {text: "hallo", lang: "ger"},
	}}

	result, err := newCoordinator(src, rec).Recognize(context.Background(), doc(), nil)
	require.NoError(t, err)
	require.Equal(t, []string{"", "fre", "fre"}, rec.hints)
	require.Equal(t, "fre", result.Language)
}

func TestLanguageFromFirstSuccessfulPage(t *testing.T) {
	src := &fakeSource{pages: 3}
	rec := &fakeRecognizer{replies: map[string]reply{
		"page-1": {err: providerErr("timeout")},
		"page-2": {text: "", lang: ""},
		"page-3": {text: "hola", lang: "spa"},
	}}

	result, err := newCoordinator(src, rec).Recognize(context.Background(), doc(), nil)
	require.NoError(t, err)
	require.Equal(t, []string{"", "", ""}, rec.hints)
	require.Equal(t, "spa", result.Language)
}

func TestDocumentHintUntilDetection(t *testing.T) {
	src := &fakeSource{pages: 2}
	rec := &fakeRecognizer{replies: map[string]reply{
		"page-1": {text: "bonjour", lang: "fre"},
		"page-2": {text: "merci", lang: "fre"},
	}}

	d := doc()
	d.LanguageHint = "eng"
	result, err := newCoordinator(src, rec).Recognize(context.Background(), d, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"eng", "fre"}, rec.hints)
	require.Equal(t, "fre", result.Language)
}

func TestDocumentHintWithoutDetection(t *testing.T) {
	src := &fakeSource{pages: 2}
	rec := &fakeRecognizer{replies: map[string]reply{
		"page-1": {text: "hello"},
		"page-2": {text: "world"},
	}}

	d := doc()
	d.LanguageHint = "eng"
	result, err := newCoordinator(src, rec).Recognize(context.Background(), d, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"eng", "eng"}, rec.hints)
	require.Equal(t, "ger", result.Language)
}

func TestPageCap(t *testing.T) {
	src := &fakeSource{pages: 7}
	rec := &fakeRecognizer{replies: textReplies(7)}

	var events []Progress
	result, err := newCoordinator(src, rec).Recognize(context.Background(), doc(), collect(&events))
	require.NoError(t, err)

	require.Equal(t, []int{1, 2, 3}, src.rendered)
	require.Len(t, rec.hints, 3)
	require.Contains(t, result.Message, "3 of 7")
	require.Equal(t, 7, result.PageCount)
	require.Equal(t, 3, result.PagesProcessed)
	for _, e := range events {
		require.LessOrEqual(t, e.Total, 3)
	}
	require.Contains(t, events[0].Message, "3 of 7")
	require.True(t, strings.HasPrefix(result.Text,
		"NOTE: This PDF has 7 pages. Due to API limitations, only the first 3 pages were processed.\n\n=== PAGE 1 ==="))
}

func TestDocumentMaxPagesCannotRaiseCeiling(t *testing.T) {
	src := &fakeSource{pages: 7}
	rec := &fakeRecognizer{replies: textReplies(7)}

	result, err := newCoordinator(src, rec).Recognize(context.Background(), models.NewDocument("uploads/scan.pdf", 50), nil)
	require.NoError(t, err)
	require.Equal(t, []int{1, 2, 3}, src.rendered)
	require.Len(t, rec.hints, 3)
	require.Equal(t, 3, result.PagesProcessed)
	require.Contains(t, result.Message, "3 of 7")
	require.Contains(t, result.Text, "only the first 3 pages were processed")
}

func TestDocumentMaxPagesLowersCeiling(t *testing.T) {
	src := &fakeSource{pages: 7}
	d := doc()
	d.MaxPages = 2

	result, err := newCoordinator(src, &fakeRecognizer{replies: textReplies(7)}).Recognize(context.Background(), d, nil)
	require.NoError(t, err)
	require.Equal(t, []int{1, 2}, src.rendered)
	require.Contains(t, result.Message, "2 of 7")
}

func TestRecognizeIsIdempotent(t *testing.T) {
	rec := &fakeRecognizer{replies: textReplies(3)}

	first, err := newCoordinator(&fakeSource{pages: 3}, rec).Recognize(context.Background(), doc(), nil)
	require.NoError(t, err)
	second, err := newCoordinator(&fakeSource{pages: 3}, rec).Recognize(context.Background(), doc(), nil)
	require.NoError(t, err)

	require.Equal(t, first.Text, second.Text)
	require.NotEqual(t, first.RunID, second.RunID)
}

func TestUnreadableDocument(t *testing.T) {
	src := &fakeSource{openErr: &pagesource.SourceError{Op: "Open", Path: "x.pdf", Err: pagesource.ErrDocumentUnreadable}}
	rec := &fakeRecognizer{}

	var events []Progress
	result, err := newCoordinator(src, rec).Recognize(context.Background(), doc(), collect(&events))
	require.ErrorIs(t, err, pagesource.ErrDocumentUnreadable)

	require.False(t, result.Success)
	require.Equal(t, StatusUnreadable, result.Status)
	require.Equal(t, "document unreadable", result.Message)
	require.Empty(t, src.rendered)
	require.Empty(t, rec.hints)
	require.Empty(t, events)
}

func TestUnclassifiedOpenErrorIsUnreadable(t *testing.T) {
	src := &fakeSource{openErr: errors.New("permission denied")}

	_, err := newCoordinator(src, &fakeRecognizer{}).Recognize(context.Background(), doc(), nil)
	require.ErrorIs(t, err, pagesource.ErrDocumentUnreadable)
}

func TestNoKeysAbortsDocument(t *testing.T) {
	src := &fakeSource{pages: 3}
	rec := &fakeRecognizer{replies: map[string]reply{
		"page-1": {err: fmt.Errorf("select: %w", keypool.ErrNoKeysConfigured)},
	}}

	result, err := newCoordinator(src, rec).Recognize(context.Background(), doc(), nil)
	require.ErrorIs(t, err, keypool.ErrNoKeysConfigured)
	require.Equal(t, StatusNoKeys, result.Status)
	require.False(t, result.Success)
	require.Equal(t, []int{1}, src.rendered)
	require.Len(t, rec.hints, 1)
}

func TestCancellationBetweenPages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &fakeSource{pages: 3}
	rec := &fakeRecognizer{replies: textReplies(3)}

	progress := func(p Progress) {
		if p.Done == 1 {
			cancel()
		}
	}

	result, err := newCoordinator(src, rec).Recognize(ctx, doc(), progress)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, StatusCanceled, result.Status)
	require.Equal(t, []int{1}, src.rendered)
	require.Contains(t, result.Text, "text of page 1")
	require.Equal(t, "recognition canceled after 1 of 3 pages", result.Message)
}

func TestAlreadyCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := &fakeSource{pages: 2}
	result, err := newCoordinator(src, &fakeRecognizer{}).Recognize(ctx, doc(), nil)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, StatusCanceled, result.Status)
	require.Empty(t, src.rendered)
}
