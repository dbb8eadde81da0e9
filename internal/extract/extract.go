// Package extract turns scanned documents into plain text using the
// tesseract and poppler command line tools.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Extractor returns the text of a document, or "" when none could be
// recognised. It never fails.
type Extractor interface {
	Extract(ctx context.Context, path string) string
}

// Config holds the tool locations and OCR settings
type Config struct {
	TesseractPath string
	PdftoppmPath  string
	PdftotextPath string
	Languages     string
	DPI           int
	Timeout       time.Duration
}

var imageExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".tif": true, ".tiff": true,
	".bmp": true, ".gif": true, ".webp": true, ".pnm": true,
}

var textExts = map[string]bool{
	".txt": true, ".md": true,
}

// Supported reports whether path has an extension the OCR can read.
func Supported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".pdf" || imageExts[ext] || textExts[ext]
}

type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// OCR extracts text with tesseract. PDFs use their embedded text layer when
// pdftotext finds one, otherwise the pages are rendered with pdftoppm and
// recognised one by one.
type OCR struct {
	cfg    Config
	logger *zap.Logger
	run    runFunc
}

// NewOCR creates an OCR extractor
func NewOCR(cfg Config, logger *zap.Logger) *OCR {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TesseractPath == "" {
		cfg.TesseractPath = "tesseract"
	}
	if cfg.PdftoppmPath == "" {
		cfg.PdftoppmPath = "pdftoppm"
	}
	if cfg.PdftotextPath == "" {
		cfg.PdftotextPath = "pdftotext"
	}
	if cfg.Languages == "" {
		cfg.Languages = "deu+eng"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	return &OCR{cfg: cfg, logger: logger, run: runCommand}
}

// IsAvailable checks if tesseract is installed
func (o *OCR) IsAvailable() bool {
	_, err := exec.LookPath(o.cfg.TesseractPath)
	return err == nil
}

// Extract implements Extractor. Tool failures are logged and yield "".
func (o *OCR) Extract(ctx context.Context, path string) string {
	if o.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.Timeout)
		defer cancel()
	}

	text, err := o.extract(ctx, path)
	if err != nil {
		o.logger.Warn("Text extraction failed", zap.String("path", path), zap.Error(err))
		return ""
	}
	return strings.TrimSpace(text)
}

func (o *OCR) extract(ctx context.Context, path string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		return "", err
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case textExts[ext]:
		data, err := os.ReadFile(path)
		return string(data), err
	case ext == ".pdf":
		return o.extractPDF(ctx, path)
	case imageExts[ext]:
		return o.recognise(ctx, path)
	default:
		o.logger.Debug("No extractor for file type", zap.String("path", path), zap.String("ext", ext))
		return "", nil
	}
}

func (o *OCR) extractPDF(ctx context.Context, path string) (string, error) {
	out, err := o.run(ctx, o.cfg.PdftotextPath, "-layout", "-nopgbrk", path, "-")
	if err == nil && strings.TrimSpace(string(out)) != "" {
		return string(out), nil
	}
	if err != nil {
		o.logger.Debug("pdftotext unavailable, falling back to OCR", zap.String("path", path), zap.Error(err))
	}

	tmp, err := os.MkdirTemp("", "autodoc-pages-")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(tmp)

	prefix := filepath.Join(tmp, "page")
	if _, err := o.run(ctx, o.cfg.PdftoppmPath, "-png", "-r", strconv.Itoa(o.cfg.DPI), path, prefix); err != nil {
		return "", fmt.Errorf("pdftoppm: %w", err)
	}

	pages, err := filepath.Glob(prefix + "*.png")
	if err != nil {
		return "", err
	}
	sortPages(pages)

	var parts []string
	for _, page := range pages {
		text, err := o.recognise(ctx, page)
		if err != nil {
			return "", err
		}
		parts = append(parts, strings.TrimSpace(text))
	}
	return strings.Join(parts, "\n"), nil
}

func (o *OCR) recognise(ctx context.Context, image string) (string, error) {
	out, err := o.run(ctx, o.cfg.TesseractPath, image, "stdout", "-l", o.cfg.Languages)
	if err != nil {
		return "", fmt.Errorf("tesseract: %w", err)
	}
	return string(out), nil
}

// sortPages orders pdftoppm output numerically; page-10 sorts after page-9.
func sortPages(pages []string) {
	num := func(p string) int {
		base := strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
		if i := strings.LastIndex(base, "-"); i >= 0 {
			if n, err := strconv.Atoi(base[i+1:]); err == nil {
				return n
			}
		}
		return 0
	}
	sort.SliceStable(pages, func(i, j int) bool { return num(pages[i]) < num(pages[j]) })
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w (output: %s)", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// Static returns the same text for every document.
type Static string

func (s Static) Extract(context.Context, string) string {
	return string(s)
}

// Func adapts a function to Extractor.
type Func func(ctx context.Context, path string) string

func (f Func) Extract(ctx context.Context, path string) string {
	return f(ctx, path)
}
