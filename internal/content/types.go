package content

import "errors"

// ErrGeneration is the terminal error of a lesson fetch: the generator was
// unreachable or kept returning unusable output after all retries. Wrapped
// errors carry the underlying cause.
var ErrGeneration = errors.New("content: generation failed")

// Word is one token of a lesson's breakdown.
type Word struct {
	Word    string `json:"word"`
	Meaning string `json:"meaning"`
	Pinyin  string `json:"pinyin"`
}

// Lesson is one generated content unit. Immutable once cached; the cache
// replaces entries wholesale on period rollover.
type Lesson struct {
	ThaiText string `json:"thai_text"`
	English  string `json:"english_translation"`
	Words    []Word `json:"word_breakdown"`
}
