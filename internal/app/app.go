// Package app builds the archival components from the configuration and runs
// the long-lived parts: the HTTP server, the inbox watcher and the scheduler.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/dani-farcas/autoDocOrganizer/internal/api"
	"github.com/dani-farcas/autoDocOrganizer/internal/archive"
	"github.com/dani-farcas/autoDocOrganizer/internal/assist"
	"github.com/dani-farcas/autoDocOrganizer/internal/config"
	"github.com/dani-farcas/autoDocOrganizer/internal/events"
	"github.com/dani-farcas/autoDocOrganizer/internal/extract"
	"github.com/dani-farcas/autoDocOrganizer/internal/history"
	"github.com/dani-farcas/autoDocOrganizer/internal/index"
	"github.com/dani-farcas/autoDocOrganizer/internal/institution"
	"github.com/dani-farcas/autoDocOrganizer/internal/metrics"
	"github.com/dani-farcas/autoDocOrganizer/internal/pipeline"
	"github.com/dani-farcas/autoDocOrganizer/internal/scheduler"
	"github.com/dani-farcas/autoDocOrganizer/internal/watcher"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	Config  *config.Config
	Logger  *zap.Logger
	Version string

	Extractor    extract.Extractor
	Institutions institution.Store
	Resolver     *institution.Resolver
	Placer       *archive.Placer
	Tree         *archive.Tree
	Index        *index.Store
	History      *history.Store
	Events       *events.Bus
	Metrics      *metrics.Metrics
	Translator   assist.Translator
	Explainer    assist.Explainer
	Archiver     *pipeline.Archiver
	Maintenance  *pipeline.Maintenance
	Scheduler    *scheduler.Runner
}

func New(cfg *config.Config, logger *zap.Logger, version string) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{
		Config:  cfg,
		Logger:  logger,
		Version: version,
	}
}

// UploadDir is where uploads are staged before they are archived. It lives
// outside the inbox so the watcher never sees a half-written upload.
func (app *App) UploadDir() string {
	return filepath.Join(app.Config.Storage.DataDir, "uploads")
}

// Init creates the archive layout and builds every component. Calling it
// again is a no-op.
func (app *App) Init() error {
	if app.Archiver != nil {
		return nil
	}
	cfg := app.Config
	if cfg == nil {
		return fmt.Errorf("no configuration loaded")
	}

	if err := archive.EnsureLayout(cfg.Archive.Root, cfg.Archive.InboxDir, cfg.Storage.DataDir, app.UploadDir()); err != nil {
		return err
	}

	app.Metrics = metrics.New()
	app.Events = events.NewBus(app.Logger)

	app.Extractor = extract.NewOCR(extract.Config{
		TesseractPath: cfg.OCR.TesseractPath,
		PdftoppmPath:  cfg.OCR.PdftoppmPath,
		PdftotextPath: cfg.OCR.PdftotextPath,
		Languages:     cfg.OCR.Languages,
		DPI:           cfg.OCR.DPI,
		Timeout:       time.Duration(cfg.OCR.Timeout) * time.Second,
	}, app.Logger)

	catalog, err := institution.DefaultCatalog()
	if err != nil {
		return fmt.Errorf("load institution catalog: %w", err)
	}

	switch cfg.Archive.InstitutionBackend {
	case "badger":
		store, err := institution.OpenBadgerStore(cfg.Archive.BadgerDir, app.Logger)
		if err != nil {
			return err
		}
		app.Institutions = store
	default:
		app.Institutions = institution.NewFileStore(cfg.Archive.InstitutionsFile, app.Logger)
	}

	app.Resolver = institution.NewResolver(catalog, app.Institutions,
		institution.NewHeuristicExtractor(catalog),
		institution.WithObserver(app.Metrics),
		institution.WithLogger(app.Logger))

	app.Placer = archive.NewPlacer(cfg.Archive.Root,
		archive.WithPlacerLogger(app.Logger),
		archive.WithPlacerObserver(app.Metrics))
	app.Tree = archive.NewTree(cfg.Archive.Root, app.Logger, archive.WithProtected(
		cfg.Archive.IndexFile,
		cfg.Archive.InstitutionsFile,
		cfg.Archive.BadgerDir,
		cfg.Storage.HistoryPath,
	))
	app.Index = index.NewStore(cfg.Archive.IndexFile,
		index.WithLogger(app.Logger),
		index.WithObserver(app.Metrics))

	// The archive works without history; a broken database only costs the
	// run log.
	if hist, err := history.Open(cfg.Storage.HistoryPath, app.Logger); err != nil {
		app.Logger.Warn("Run history disabled", zap.String("path", cfg.Storage.HistoryPath), zap.Error(err))
	} else {
		app.History = hist
	}

	guardCfg := assist.GuardConfig{
		RatePerMinute:   cfg.Assist.RatePerMinute,
		Burst:           cfg.Assist.Burst,
		BreakerFailures: cfg.Assist.BreakerFailures,
		BreakerTimeout:  time.Duration(cfg.Assist.BreakerTimeout) * time.Second,
	}
	if cfg.Translate.APIKey != "" {
		app.Translator = assist.NewDeepL(assist.DeepLConfig{
			APIKey:  cfg.Translate.APIKey,
			BaseURL: cfg.Translate.BaseURL,
			Timeout: time.Duration(cfg.Translate.Timeout) * time.Second,
		}, guardCfg, app.Metrics, app.Logger)
	}
	if cfg.Explain.APIKey != "" {
		app.Explainer = assist.NewGemini(assist.GeminiConfig{
			APIKey:  cfg.Explain.APIKey,
			BaseURL: cfg.Explain.BaseURL,
			Model:   cfg.Explain.Model,
			Timeout: time.Duration(cfg.Explain.Timeout) * time.Second,
		}, guardCfg, app.Metrics, app.Logger)
	}

	opts := []pipeline.Option{
		pipeline.WithLogger(app.Logger),
		pipeline.WithEvents(app.Events),
		pipeline.WithMetrics(app.Metrics),
		pipeline.WithYearFromContent(cfg.Archive.YearFromContent),
		pipeline.WithWorkers(cfg.Pipeline.Workers),
		pipeline.WithTimeout(time.Duration(cfg.Pipeline.Timeout) * time.Second),
	}
	if app.History != nil {
		opts = append(opts, pipeline.WithHistory(app.History))
	}
	app.Archiver = pipeline.New(app.Extractor, app.Resolver, app.Placer, app.Index, opts...)
	app.Maintenance = pipeline.NewMaintenance(app.Tree, app.Placer, app.Index, app.Events, app.Logger)

	app.Logger.Debug("Components initialized",
		zap.String("root", cfg.Archive.Root),
		zap.String("inbox", cfg.Archive.InboxDir),
		zap.String("institutions", cfg.Archive.InstitutionBackend),
		zap.Bool("history", app.History != nil),
		zap.Bool("translate", app.Translator != nil),
		zap.Bool("explain", app.Explainer != nil))
	return nil
}

// RunServer serves the web UI and API, watches the inbox and runs the
// scheduled jobs until SIGINT or SIGTERM.
func (app *App) RunServer() error {
	if err := app.Init(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deps := api.Deps{
		Config:     app.Config,
		Archiver:   app.Archiver,
		Tree:       app.Tree,
		Index:      app.Index,
		Extractor:  app.Extractor,
		Translator: app.Translator,
		Explainer:  app.Explainer,
		Events:     app.Events,
		Metrics:    app.Metrics,
		UploadDir:  app.UploadDir(),
		Version:    app.Version,
		Logger:     app.Logger,
	}
	if app.History != nil {
		deps.History = app.History
	}
	server := api.New(deps)

	watchDone := make(chan struct{})
	if app.Config.Watcher.Enabled {
		go func() {
			defer close(watchDone)
			if err := app.newWatcher().Run(ctx); err != nil {
				app.Logger.Error("Inbox watcher stopped", zap.Error(err))
			}
		}()
	} else {
		close(watchDone)
	}

	if app.Config.Scheduler.Enabled {
		if err := app.StartScheduler(); err != nil {
			app.Logger.Error("Failed to start scheduler", zap.Error(err))
		}
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	app.Logger.Info("Server started",
		zap.String("address", app.Config.Server.Address),
		zap.Int("port", app.Config.Server.Port),
		zap.String("url", fmt.Sprintf("http://localhost:%d", app.Config.Server.Port)),
		zap.String("archive", app.Config.Archive.Root),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	var runErr error
	select {
	case <-quit:
	case err := <-serverErr:
		if err != nil {
			runErr = fmt.Errorf("server: %w", err)
		}
	}

	app.Logger.Info("Shutting down...")

	if app.Scheduler != nil {
		app.Scheduler.Stop()
	}

	if err := server.Shutdown(); err != nil {
		app.Logger.Error("Server shutdown error", zap.Error(err))
	}

	cancel()
	select {
	case <-watchDone:
	case <-time.After(shutdownTimeout):
		app.Logger.Warn("Inbox watcher did not stop in time")
	}

	return runErr
}

// RunWatch archives every file that lands in the inbox until SIGINT or
// SIGTERM. Files already waiting are archived first.
func (app *App) RunWatch() error {
	if err := app.Init(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app.Logger.Info("Watching inbox", zap.String("dir", app.Config.Archive.InboxDir))
	return app.newWatcher().Run(ctx)
}

func (app *App) newWatcher() *watcher.Watcher {
	settle := time.Duration(app.Config.Watcher.SettleDelay) * time.Millisecond
	return watcher.New(app.Config.Archive.InboxDir, app.archiveFromInbox,
		watcher.WithSettleDelay(settle),
		watcher.WithIgnore(pipeline.IgnoredName),
		watcher.WithInitialScan(true),
		watcher.WithLogger(app.Logger))
}

func (app *App) archiveFromInbox(ctx context.Context, path string) {
	ctx = pipeline.WithTrigger(ctx, pipeline.TriggerWatch)
	// Failures are logged and recorded by the archiver; the file stays in
	// the inbox for the next sweep.
	_, _ = app.Archiver.Archive(ctx, path)
}

// StartScheduler registers the periodic jobs and starts the runner.
func (app *App) StartScheduler() error {
	if err := app.Init(); err != nil {
		return err
	}
	if app.Scheduler != nil && app.Scheduler.IsRunning() {
		return nil
	}

	runner := scheduler.NewRunner(app.Logger)
	for _, job := range app.Jobs() {
		if err := runner.Add(job); err != nil {
			return err
		}
	}
	if err := runner.Start(); err != nil {
		return err
	}
	app.Scheduler = runner

	for _, e := range runner.Entries() {
		app.Logger.Info("Scheduled job", zap.String("name", e.Name), zap.String("spec", e.Spec), zap.Time("next", e.Next))
	}
	return nil
}

// Jobs returns the periodic maintenance jobs. A job with an empty spec is
// left out.
func (app *App) Jobs() []scheduler.Job {
	cfg := app.Config.Scheduler
	var jobs []scheduler.Job

	if cfg.SweepSpec != "" {
		jobs = append(jobs, scheduler.Job{
			Name: "sweep",
			Spec: cfg.SweepSpec,
			Run: func(ctx context.Context) error {
				ctx = pipeline.WithTrigger(ctx, pipeline.TriggerSweep)
				result, err := app.Archiver.ArchiveInbox(ctx, app.Config.Archive.InboxDir)
				if err != nil {
					return err
				}
				if result.Total > 0 {
					app.Logger.Info("Inbox sweep finished",
						zap.Int("total", result.Total),
						zap.Int("failed", result.Failed))
				}
				return nil
			},
		})
	}

	if cfg.ReindexSpec != "" {
		jobs = append(jobs, scheduler.Job{
			Name: "reindex",
			Spec: cfg.ReindexSpec,
			Run: func(ctx context.Context) error {
				_, err := app.Maintenance.Reindex(ctx)
				return err
			},
		})
	}

	if cfg.PruneSpec != "" && cfg.HistoryRetentionDays > 0 && app.History != nil {
		retention := time.Duration(cfg.HistoryRetentionDays) * 24 * time.Hour
		jobs = append(jobs, scheduler.Job{
			Name: "prune-history",
			Spec: cfg.PruneSpec,
			Run: func(ctx context.Context) error {
				_, err := app.History.Prune(ctx, time.Now().Add(-retention))
				return err
			},
		})
	}

	return jobs
}

// Close releases the stores. It is safe to call on a partly initialized App.
func (app *App) Close() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if app.Scheduler != nil {
		app.Scheduler.Stop()
	}
	if app.Institutions != nil {
		keep(app.Institutions.Close())
		app.Institutions = nil
	}
	if app.History != nil {
		keep(app.History.Close())
		app.History = nil
	}
	if app.Events != nil {
		app.Events.Close()
		app.Events = nil
	}
	return firstErr
}
