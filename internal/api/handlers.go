package api

import (
	"crypto/subtle"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dani-farcas/autoDocOrganizer/internal/events"
	"github.com/dani-farcas/autoDocOrganizer/internal/pipeline"
	"github.com/dani-farcas/autoDocOrganizer/internal/security"

	apperrors "github.com/dani-farcas/autoDocOrganizer/internal/errors"
)

const tokenTTL = 7 * 24 * time.Hour

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "healthy",
		"version":   s.version,
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) handleMetricsJSON(c *fiber.Ctx) error {
	return c.JSON(s.metrics.Snapshot())
}

func (s *Server) handleLogin(c *fiber.Ctx) error {
	var req struct {
		Password string `json:"password"`
	}
	if err := c.BodyParser(&req); err != nil {
		return apperrors.ErrBadRequest.WithMessage("invalid request")
	}

	want := s.config.Security.AdminPassword
	if want == "" {
		return apperrors.ErrNotConfigured.WithMessage("authentication is disabled")
	}
	if subtle.ConstantTimeCompare([]byte(req.Password), []byte(want)) != 1 {
		return apperrors.ErrUnauthorized.WithMessage("wrong password")
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "admin",
		"iat": now.Unix(),
		"exp": now.Add(tokenTTL).Unix(),
	})
	tokenString, err := token.SignedString([]byte(s.config.Security.JWTSecret))
	if err != nil {
		return apperrors.ErrInternal.WithMessage("failed to generate token")
	}

	return c.JSON(fiber.Map{"token": tokenString})
}

type uploadFailure struct {
	File  string `json:"file"`
	Error string `json:"error"`
}

// handleUpload archives every file of the multipart field "files".
func (s *Server) handleUpload(c *fiber.Ctx) error {
	form, err := c.MultipartForm()
	if err != nil {
		return apperrors.ErrBadRequest.WithMessage("no files uploaded")
	}
	files := form.File["files"]
	if len(files) == 0 {
		return apperrors.ErrBadRequest.WithMessage("no files uploaded")
	}

	ctx := pipeline.WithTrigger(c.UserContext(), pipeline.TriggerUpload)
	var (
		saved    []string
		docs     []*pipeline.ArchivedDocument
		failures []uploadFailure
		lastErr  error
	)
	for _, fh := range files {
		name := security.SanitizeSegment(filepath.Base(filepath.FromSlash(fh.Filename)))
		if name == "" {
			failures = append(failures, uploadFailure{File: fh.Filename, Error: "invalid file name"})
			continue
		}

		staging := filepath.Join(s.uploadDir, uuid.NewString())
		if err := os.MkdirAll(staging, 0o755); err != nil {
			return apperrors.ErrInternal.WithCause(err)
		}
		path := filepath.Join(staging, name)
		if err := c.SaveFile(fh, path); err != nil {
			os.RemoveAll(staging)
			return apperrors.ErrInternal.WithMessage("failed to save %s", name)
		}

		doc, err := s.archiver.Archive(ctx, path)
		if rmErr := os.RemoveAll(staging); rmErr != nil {
			s.logger.Warn("Failed to clean upload staging", zap.String("dir", staging), zap.Error(rmErr))
		}
		if err != nil {
			lastErr = err
			failures = append(failures, uploadFailure{File: name, Error: err.Error()})
			continue
		}
		saved = append(saved, doc.RelPath)
		docs = append(docs, doc)
	}

	if len(docs) == 0 && lastErr != nil {
		return lastErr
	}
	return c.JSON(fiber.Map{
		"status":    "ok",
		"files":     saved,
		"documents": docs,
		"errors":    failures,
	})
}

func (s *Server) handleList(c *fiber.Ctx) error {
	entries, err := s.tree.List(cleanRel(c.Query("path")))
	if err != nil {
		return err
	}
	return c.JSON(entries)
}

func (s *Server) handleSearch(c *fiber.Ctx) error {
	recs, err := s.index.Search(c.Query("query"))
	if err != nil {
		return err
	}
	return c.JSON(recs)
}

func (s *Server) handleDeleteFile(c *fiber.Ctx) error {
	var req struct {
		File string `json:"file"`
	}
	if err := c.BodyParser(&req); err != nil || strings.TrimSpace(req.File) == "" {
		return apperrors.ErrBadRequest.WithMessage("no file path given")
	}

	sp, err := s.tree.DeleteFile(cleanRel(req.File))
	if err != nil {
		return err
	}
	if _, err := s.index.RemovePath(sp.Rel()); err != nil {
		s.logger.Warn("Failed to drop index record", zap.String("path", sp.Rel()), zap.Error(err))
	}
	s.events.Publish(events.Event{Type: events.FileDeleted, Path: sp.Rel()})
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) handleDeleteFolder(c *fiber.Ctx) error {
	var req struct {
		Folder string `json:"folder"`
	}
	if err := c.BodyParser(&req); err != nil || strings.TrimSpace(req.Folder) == "" {
		return apperrors.ErrBadRequest.WithMessage("no folder path given")
	}

	sp, err := s.tree.DeleteFolder(cleanRel(req.Folder))
	if err != nil {
		return err
	}
	if _, err := s.index.RemoveUnder(sp.Rel()); err != nil {
		s.logger.Warn("Failed to drop index records", zap.String("path", sp.Rel()), zap.Error(err))
	}
	s.events.Publish(events.Event{Type: events.FolderDeleted, Path: sp.Rel()})
	return c.JSON(fiber.Map{"status": "ok"})
}

// handleDeleteOriginals removes the source files of a drag-and-drop upload
// from the originals directory. Failures are logged and skipped.
func (s *Server) handleDeleteOriginals(c *fiber.Ctx) error {
	var req struct {
		Filenames []string `json:"filenames"`
	}
	if err := c.BodyParser(&req); err != nil {
		return apperrors.ErrBadRequest.WithMessage("invalid request")
	}

	dir := s.config.Archive.OriginalsDir
	if dir == "" {
		return apperrors.ErrNotConfigured.WithMessage("no originals directory configured")
	}

	deleted := make([]string, 0, len(req.Filenames))
	for _, name := range req.Filenames {
		if name != filepath.Base(name) || strings.ContainsAny(name, `/\`) {
			s.logger.Warn("Refusing to delete original outside its directory", zap.String("file", name))
			continue
		}
		sp, err := security.ValidatePathInRoot(name, dir)
		if err != nil || sp.IsRoot() {
			s.logger.Warn("Refusing to delete original", zap.String("file", name), zap.Error(err))
			continue
		}
		if err := os.Remove(sp.Path()); err != nil {
			s.logger.Warn("Could not delete original", zap.String("file", name), zap.Error(err))
			continue
		}
		deleted = append(deleted, name)
	}
	return c.JSON(fiber.Map{"status": "ok", "deleted": deleted})
}

func (s *Server) handleDownload(c *fiber.Ctx) error {
	sp, err := s.requestedFile(c)
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderContentDisposition, `inline; filename="`+filepath.Base(sp.Path())+`"`)
	return c.SendFile(sp.Path())
}

func (s *Server) handleForceDownload(c *fiber.Ctx) error {
	sp, err := s.requestedFile(c)
	if err != nil {
		return err
	}
	return c.Download(sp.Path(), filepath.Base(sp.Path()))
}

func (s *Server) handleTranslate(c *fiber.Ctx) error {
	if s.translator == nil {
		return apperrors.ErrNotConfigured.WithMessage("translation is not configured")
	}
	text, err := s.documentText(c)
	if err != nil {
		return err
	}
	translated, err := s.translator.Translate(c.UserContext(), text, c.Query("lang", "EN-US"))
	if err != nil {
		return err
	}
	return c.SendString(translated)
}

func (s *Server) handleExplain(c *fiber.Ctx) error {
	if s.explainer == nil {
		return apperrors.ErrNotConfigured.WithMessage("explanations are not configured")
	}
	text, err := s.documentText(c)
	if err != nil {
		return err
	}
	explanation, err := s.explainer.Explain(c.UserContext(), text, c.Query("lang", "DE"))
	if err != nil {
		return err
	}
	return c.SendString(explanation)
}

func (s *Server) handleHistory(c *fiber.Ctx) error {
	if s.history == nil {
		return apperrors.ErrNotConfigured.WithMessage("history is disabled")
	}
	limit := c.QueryInt("limit", 50)
	if limit < 1 || limit > 1000 {
		limit = 50
	}

	runs, err := s.history.Recent(c.UserContext(), limit)
	if err != nil {
		return err
	}
	stats, err := s.history.Stats(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"runs": runs, "stats": stats})
}

// requestedFile resolves the ?file= parameter to an archived file.
func (s *Server) requestedFile(c *fiber.Ctx) (*security.SafePath, error) {
	rel := cleanRel(c.Query("file"))
	if rel == "" {
		return nil, apperrors.ErrBadRequest.WithMessage("no file path given")
	}
	return s.tree.File(rel)
}

func (s *Server) documentText(c *fiber.Ctx) (string, error) {
	sp, err := s.requestedFile(c)
	if err != nil {
		return "", err
	}
	text := s.extractor.Extract(c.UserContext(), sp.Path())
	if strings.TrimSpace(text) == "" {
		return "", apperrors.ErrNoText.WithMessage("no text recognised in %s", sp.Rel())
	}
	return text, nil
}

// cleanRel turns a client path into a root-relative one.
func cleanRel(p string) string {
	return strings.Trim(strings.TrimSpace(p), "/")
}
