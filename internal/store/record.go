package store

import (
	"errors"
	"fmt"
)

// Moderation category labels. A store accepts any non-empty category so
// datasets with extended taxonomies still load; these constants cover the
// built-in label set.
const (
	CategoryClean     = "clean"
	CategoryHate      = "hate_or_discrimination"
	CategoryViolence  = "violence_or_threats"
	CategoryOffensive = "offensive_language"
	CategoryNSFW      = "nsfw_content"
	CategorySpam      = "spam_or_scams"
)

// Categories lists the built-in moderation labels in canonical order.
var Categories = []string{
	CategoryClean,
	CategoryHate,
	CategoryViolence,
	CategoryOffensive,
	CategoryNSFW,
	CategorySpam,
}

// IsKnownCategory reports whether c is one of the built-in labels.
func IsKnownCategory(c string) bool {
	for _, k := range Categories {
		if c == k {
			return true
		}
	}
	return false
}

// ErrEmptyCategory indicates a record was constructed without a category.
var ErrEmptyCategory = errors.New("record category must not be empty")

// Record is one labeled moderation example: the text, its category, and the
// embedding the text was encoded into. Embedding length must equal the
// owning store's dimensionality; the store is monomorphic in dimension.
type Record struct {
	Text      string    `json:"text"`
	Category  string    `json:"category"`
	Embedding []float32 `json:"-"`
}

// NewRecord validates and constructs a Record. The embedding may not be
// empty and the category may not be blank; dimension agreement against a
// particular store is checked on insert.
func NewRecord(text, category string, embedding []float32) (Record, error) {
	if category == "" {
		return Record{}, ErrEmptyCategory
	}
	if len(embedding) == 0 {
		return Record{}, fmt.Errorf("record %q has empty embedding", truncateForError(text))
	}
	return Record{Text: text, Category: category, Embedding: embedding}, nil
}

// truncateForError shortens text for error messages.
func truncateForError(s string) string {
	const max = 40
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
