package pipeline

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/dani-farcas/autoDocOrganizer/internal/assist"
	"github.com/dani-farcas/autoDocOrganizer/internal/fsutil"

	apperrors "github.com/dani-farcas/autoDocOrganizer/internal/errors"
)

// TranslationPath is where the translation of an archived file is stored:
// <dir>/<base>_übersetzt_<LANG>.txt.
func TranslationPath(finalPath, lang string) string {
	base := strings.TrimSuffix(filepath.Base(finalPath), filepath.Ext(finalPath))
	name := base + "_übersetzt_" + assist.NormalizeLang(lang) + ".txt"
	return filepath.Join(filepath.Dir(finalPath), name)
}

// WriteTranslation translates the text of doc and writes it next to the
// archived file. It returns the path written.
func WriteTranslation(ctx context.Context, t assist.Translator, doc *ArchivedDocument, lang string) (string, error) {
	if strings.TrimSpace(doc.Text) == "" {
		return "", apperrors.ErrNoText.WithMessage("no text recognised in %s", filepath.Base(doc.FinalPath))
	}
	translated, err := t.Translate(ctx, doc.Text, lang)
	if err != nil {
		return "", err
	}
	path := TranslationPath(doc.FinalPath, lang)
	if err := fsutil.WriteFileAtomic(path, []byte(translated), 0o644); err != nil {
		return "", err
	}
	return path, nil
}
