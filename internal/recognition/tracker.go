package recognition

import "sync"

// LanguageTracker remembers the first language detected per document so later pages
// are recognized with the same hint. A tracker lives for one Recognize call.
type LanguageTracker struct {
	mu        sync.Mutex
	languages map[string]string
}

func NewLanguageTracker() *LanguageTracker {
	return &LanguageTracker{languages: make(map[string]string)}
}

// GetHint returns the recorded language for documentID.
func (t *LanguageTracker) GetHint(documentID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	lang, ok := t.languages[documentID]
	return lang, ok
}

// RecordIfAbsent stores language unless one is already recorded or language is empty.
// It reports whether the language was stored.
func (t *LanguageTracker) RecordIfAbsent(documentID, language string) bool {
	if language == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.languages[documentID]; ok {
		return false
	}
	t.languages[documentID] = language
	return true
}
