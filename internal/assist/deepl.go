package assist

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/dani-farcas/autoDocOrganizer/internal/errors"
	"github.com/dani-farcas/autoDocOrganizer/internal/security"
)

// DeepLConfig holds DeepL API settings
type DeepLConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// DeepL translates through the DeepL v2 REST API. The source language is
// detected by the service.
type DeepL struct {
	cfg     DeepLConfig
	client  *http.Client
	guard   *guard
	text    *security.TextValidator
	scanner *security.SecretScanner
	logger  *zap.Logger
}

type deeplRequest struct {
	Text       []string `json:"text"`
	TargetLang string   `json:"target_lang"`
}

type deeplResponse struct {
	Translations []struct {
		DetectedSourceLanguage string `json:"detected_source_language"`
		Text                   string `json:"text"`
	} `json:"translations"`
}

// NewDeepL creates a DeepL translator
func NewDeepL(cfg DeepLConfig, guardCfg GuardConfig, observer Observer, logger *zap.Logger) *DeepL {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api-free.deepl.com/v2"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &DeepL{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		guard:   newGuard("deepl", guardCfg, observer, logger),
		text:    security.NewTextValidator(),
		scanner: security.NewSecretScanner(cfg.APIKey),
		logger:  logger,
	}
}

// Translate implements Translator.
func (d *DeepL) Translate(ctx context.Context, text, targetLang string) (string, error) {
	if d.cfg.APIKey == "" {
		return "", apperrors.ErrNotConfigured.WithMessage("DeepL API key missing (set DEEPL_API_KEY)")
	}
	if strings.TrimSpace(text) == "" {
		return "", apperrors.ErrNoText
	}
	lang := NormalizeLang(targetLang)
	if lang == "" {
		return "", apperrors.ErrBadRequest.WithMessage("target language required")
	}
	text, err := prepareText(d.text, text)
	if err != nil {
		return "", err
	}

	return d.guard.call(ctx, func() (string, error) {
		var resp deeplResponse
		err := postJSON(ctx, d.client, strings.TrimSuffix(d.cfg.BaseURL, "/")+"/translate",
			map[string]string{"Authorization": "DeepL-Auth-Key " + d.cfg.APIKey},
			deeplRequest{Text: []string{text}, TargetLang: lang},
			&resp, d.scanner)
		if err != nil {
			return "", err
		}
		if len(resp.Translations) == 0 {
			return "", apperrors.ErrExternalService.WithMessage("DeepL returned no translation")
		}

		d.logger.Debug("Translated text",
			zap.String("source_lang", resp.Translations[0].DetectedSourceLanguage),
			zap.String("target_lang", lang),
			zap.Int("chars", len(text)))
		return resp.Translations[0].Text, nil
	})
}
