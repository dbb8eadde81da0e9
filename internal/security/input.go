package security

import (
	"errors"
	"strings"
	"unicode/utf8"
)

var ErrInputTooLarge = errors.New("text exceeds maximum size")

// TextValidator prepares recognised document text before it leaves the
// machine for an external service.
type TextValidator struct {
	// MaxSize is the largest accepted text in bytes after cleaning.
	MaxSize int
	// MaxRepetition caps runs of one repeated character. OCR renders form
	// lines and dotted leaders as long runs of '_', '.' or '-'.
	MaxRepetition int
}

func NewTextValidator() *TextValidator {
	return &TextValidator{
		MaxSize:       120 * 1024,
		MaxRepetition: 40,
	}
}

// Prepare removes NUL bytes and invalid UTF-8, shortens runs of a repeated
// character to MaxRepetition and fails with ErrInputTooLarge when the result
// is still larger than MaxSize.
func (v *TextValidator) Prepare(text string) (string, error) {
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "")
	}
	text = strings.ReplaceAll(text, "\x00", "")

	if v.MaxRepetition > 0 {
		text = collapseRuns(text, v.MaxRepetition)
	}

	if v.MaxSize > 0 && len(text) > v.MaxSize {
		return "", ErrInputTooLarge
	}
	return text, nil
}

func collapseRuns(s string, max int) string {
	var sb strings.Builder
	sb.Grow(len(s))

	var prev rune
	run := 0
	for i, r := range s {
		if i > 0 && r == prev {
			run++
		} else {
			run = 1
		}
		prev = r
		if run <= max {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// PrepareText runs text through a TextValidator with the default limits.
func PrepareText(text string) (string, error) {
	return NewTextValidator().Prepare(text)
}
