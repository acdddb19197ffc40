package ocr

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

type languagePattern struct {
	code       string
	characters []string
	words      map[string]struct{}
}

// LanguageDetector guesses the language of recognized text by scoring language-specific
// characters (weight 2, counted once each) and common short words (weight 1 per occurrence).
type LanguageDetector struct {
	patterns []languagePattern
}

// NewLanguageDetector returns a detector for German, English, French and Spanish.
func NewLanguageDetector() *LanguageDetector {
	return &LanguageDetector{
		// order breaks ties
		patterns: []languagePattern{
			{
				code:       "ger",
				characters: []string{"ä", "ö", "ü", "ß"},
				words:      wordSet("der", "die", "das", "und", "ist", "nicht", "mit", "ein", "eine"),
			},
			{
				code:  "eng",
				words: wordSet("the", "and", "for", "that", "with", "you", "this", "have"),
			},
			{
				code:       "fre",
				characters: []string{"é", "è", "ê", "à", "ç"},
				words:      wordSet("le", "la", "et", "des", "les", "un", "une"),
			},
			{
				code:       "spa",
				characters: []string{"ñ", "á", "é", "í", "ó", "ú"},
				words:      wordSet("el", "la", "los", "las", "un", "una", "que"),
			},
		},
	}
}

func wordSet(words ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// Detect returns the best scoring language code, or "" when the text gives no signal.
func (d *LanguageDetector) Detect(text string) string {
	text = strings.ToLower(text)
	if strings.TrimSpace(text) == "" {
		return ""
	}

	scores := make([]int, len(d.patterns))
	for i, p := range d.patterns {
		for _, ch := range p.characters {
			if strings.Contains(text, ch) {
				scores[i] += 2
			}
		}
	}

	words := strings.FieldsFunc(text, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})
	for _, word := range words {
		if utf8.RuneCountInString(word) < 2 {
			continue
		}
		for i, p := range d.patterns {
			if _, ok := p.words[word]; ok {
				scores[i]++
			}
		}
	}

	best, bestScore := "", 0
	for i, p := range d.patterns {
		if scores[i] > bestScore {
			best, bestScore = p.code, scores[i]
		}
	}
	return best
}

// three-letter OCR.space codes to BCP-47 tags used by Cloud Vision
var bcp47Codes = map[string]string{
	"ara": "ar",
	"chs": "zh",
	"cht": "zh-Hant",
	"cze": "cs",
	"dan": "da",
	"dut": "nl",
	"eng": "en",
	"fin": "fi",
	"fre": "fr",
	"ger": "de",
	"gre": "el",
	"hun": "hu",
	"ita": "it",
	"jpn": "ja",
	"kor": "ko",
	"nor": "no",
	"pol": "pl",
	"por": "pt",
	"rus": "ru",
	"spa": "es",
	"swe": "sv",
	"tur": "tr",
}

// ToBCP47 maps a three-letter code to its BCP-47 tag, or "" when unknown.
func ToBCP47(code string) string {
	return bcp47Codes[strings.ToLower(code)]
}

// FromBCP47 maps a BCP-47 tag (region and script subtags ignored except for Chinese)
// back to the three-letter code, or "" when unknown.
func FromBCP47(tag string) string {
	tag = strings.ToLower(strings.ReplaceAll(tag, "_", "-"))
	if tag == "" {
		return ""
	}
	if strings.HasPrefix(tag, "zh-hant") || tag == "zh-tw" || tag == "zh-hk" {
		return "cht"
	}
	primary, _, _ := strings.Cut(tag, "-")
	for code, bcp := range bcp47Codes {
		if code == "cht" {
			continue
		}
		if strings.ToLower(bcp) == primary {
			return code
		}
	}
	return ""
}
