// Package assist talks to the external text services: DeepL for translation
// and Gemini for plain-language explanations.
package assist

import (
	"context"
	"errors"
	"strings"

	"github.com/dani-farcas/autoDocOrganizer/internal/security"

	apperrors "github.com/dani-farcas/autoDocOrganizer/internal/errors"
)

// Translator translates text into the target language.
type Translator interface {
	Translate(ctx context.Context, text, targetLang string) (string, error)
}

// Explainer explains text in plain language in the target language.
type Explainer interface {
	Explain(ctx context.Context, text, targetLang string) (string, error)
}

// Observer receives one outcome per external call.
type Observer interface {
	ObserveAssistCall(service, outcome string)
}

// Call outcomes reported to the Observer.
const (
	OutcomeOK       = "ok"
	OutcomeError    = "error"
	OutcomeRejected = "rejected"
)

// languageMap holds the codes DeepL only accepts in their regional form.
var languageMap = map[string]string{
	"EN": "EN-US",
	"PT": "PT-PT",
}

// NormalizeLang upper-cases a language code and expands the bare codes DeepL
// rejects as a target.
func NormalizeLang(lang string) string {
	lang = strings.ToUpper(strings.TrimSpace(lang))
	if mapped, ok := languageMap[lang]; ok {
		return mapped
	}
	return lang
}

// prepareText cleans document text before it is sent out.
func prepareText(v *security.TextValidator, text string) (string, error) {
	out, err := v.Prepare(text)
	if errors.Is(err, security.ErrInputTooLarge) {
		return "", apperrors.ErrBadRequest.WithMessage("document text is longer than %d bytes", v.MaxSize)
	}
	return out, err
}
