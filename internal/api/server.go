// Package api serves the archive over HTTP: upload, browsing, search,
// deletion, downloads and the translate/explain helpers.
package api

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/dani-farcas/autoDocOrganizer/internal/archive"
	"github.com/dani-farcas/autoDocOrganizer/internal/assist"
	"github.com/dani-farcas/autoDocOrganizer/internal/config"
	"github.com/dani-farcas/autoDocOrganizer/internal/events"
	"github.com/dani-farcas/autoDocOrganizer/internal/extract"
	"github.com/dani-farcas/autoDocOrganizer/internal/history"
	"github.com/dani-farcas/autoDocOrganizer/internal/index"
	"github.com/dani-farcas/autoDocOrganizer/internal/metrics"
	"github.com/dani-farcas/autoDocOrganizer/internal/pipeline"
)

// Archiver files one document.
type Archiver interface {
	Archive(ctx context.Context, sourcePath string) (*pipeline.ArchivedDocument, error)
}

// Index is the part of the index store the handlers use.
type Index interface {
	Search(query string) ([]index.Record, error)
	RemovePath(rel string) (int, error)
	RemoveUnder(dir string) (int, error)
}

// History lists past pipeline runs.
type History interface {
	Recent(ctx context.Context, limit int) ([]history.Run, error)
	Stats(ctx context.Context) (*history.Stats, error)
}

// Deps are the components the server is built from. Translator, Explainer,
// History, Events and Metrics may be nil.
type Deps struct {
	Config     *config.Config
	Archiver   Archiver
	Tree       *archive.Tree
	Index      Index
	Extractor  extract.Extractor
	Translator assist.Translator
	Explainer  assist.Explainer
	History    History
	Events     *events.Bus
	Metrics    *metrics.Metrics
	// UploadDir stages uploaded files before they are archived.
	UploadDir string
	Version   string
	Logger    *zap.Logger
}

// Server handles HTTP API and WebSocket
type Server struct {
	app        *fiber.App
	config     *config.Config
	archiver   Archiver
	tree       *archive.Tree
	index      Index
	extractor  extract.Extractor
	translator assist.Translator
	explainer  assist.Explainer
	history    History
	events     *events.Bus
	metrics    *metrics.Metrics
	uploadDir  string
	version    string
	logger     *zap.Logger
}

// New creates a new API server
func New(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		config:     d.Config,
		archiver:   d.Archiver,
		tree:       d.Tree,
		index:      d.Index,
		extractor:  d.Extractor,
		translator: d.Translator,
		explainer:  d.Explainer,
		history:    d.History,
		events:     d.Events,
		metrics:    d.Metrics,
		uploadDir:  d.UploadDir,
		version:    d.Version,
		logger:     logger,
	}

	srv := d.Config.Server
	s.app = fiber.New(fiber.Config{
		AppName:               "autodoc",
		ReadTimeout:           time.Duration(srv.ReadTimeout) * time.Second,
		WriteTimeout:          time.Duration(srv.WriteTimeout) * time.Second,
		IdleTimeout:           120 * time.Second,
		BodyLimit:             srv.BodyLimitMB * 1024 * 1024,
		ErrorHandler:          s.errorHandler,
		DisableStartupMessage: true,
	})

	s.setupRoutes()
	return s
}

// App exposes the fiber application, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start listens on the configured address until Shutdown is called.
func (s *Server) Start() error {
	addr := s.config.ServerAddr()
	s.logger.Info("HTTP server listening", zap.String("addr", addr))
	err := s.app.Listen(addr)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.app.ShutdownWithContext(ctx)
}
