// Package pipeline runs documents through text extraction, institution
// resolution, placement and indexing.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/dani-farcas/autoDocOrganizer/internal/events"
	"github.com/dani-farcas/autoDocOrganizer/internal/extract"
	"github.com/dani-farcas/autoDocOrganizer/internal/history"
	"github.com/dani-farcas/autoDocOrganizer/internal/index"
	"github.com/dani-farcas/autoDocOrganizer/internal/institution"
	"github.com/dani-farcas/autoDocOrganizer/internal/metrics"

	apperrors "github.com/dani-farcas/autoDocOrganizer/internal/errors"
)

// Resolver maps document text to an institution.
type Resolver interface {
	ResolveDetailed(text string) institution.Resolution
}

// Placer files a document into the archive tree.
type Placer interface {
	Root() string
	Place(ctx context.Context, sourcePath, institution, year string) (string, error)
}

// Index is the catalogue of archived documents.
type Index interface {
	Upsert(rec index.Record) error
	ReadAll() ([]index.Record, error)
	Replace(recs []index.Record) error
}

// Recorder keeps the run history.
type Recorder interface {
	Record(ctx context.Context, run *history.Run) error
}

// Publisher receives live notifications.
type Publisher interface {
	Publish(e events.Event)
}

// ArchivedDocument is the outcome of one successful run.
type ArchivedDocument struct {
	SourcePath  string             `json:"source_path"`
	FinalPath   string             `json:"final_path"`
	RelPath     string             `json:"path"`
	Institution string             `json:"institution"`
	Year        string             `json:"year"`
	Resolution  institution.Source `json:"resolution"`
	TextExcerpt string             `json:"excerpt,omitempty"`
	Timestamp   time.Time          `json:"timestamp"`

	// Text is the full extracted text, kept for follow-up steps such as
	// translation.
	Text string `json:"-"`
}

// Archiver runs the archival pipeline for single documents and batches.
type Archiver struct {
	extractor extract.Extractor
	resolver  Resolver
	placer    Placer
	index     Index

	history  Recorder
	events   Publisher
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
	timeout  time.Duration
	workers  int
	yearText bool
}

type Option func(*Archiver)

func WithLogger(l *zap.Logger) Option {
	return func(a *Archiver) { a.logger = l }
}

func WithHistory(r Recorder) Option {
	return func(a *Archiver) { a.history = r }
}

func WithEvents(p Publisher) Option {
	return func(a *Archiver) { a.events = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Archiver) { a.metrics = m }
}

// WithYearFromContent takes the year from the document text when it has one.
func WithYearFromContent(enabled bool) Option {
	return func(a *Archiver) { a.yearText = enabled }
}

// WithWorkers sets the number of documents ArchiveAll processes at once.
func WithWorkers(n int) Option {
	return func(a *Archiver) { a.workers = n }
}

// WithTimeout bounds extraction and placement of one document.
func WithTimeout(d time.Duration) Option {
	return func(a *Archiver) { a.timeout = d }
}

func WithClock(now func() time.Time) Option {
	return func(a *Archiver) { a.now = now }
}

func New(extractor extract.Extractor, resolver Resolver, placer Placer, idx Index, opts ...Option) *Archiver {
	a := &Archiver{
		extractor: extractor,
		resolver:  resolver,
		placer:    placer,
		index:     idx,
		logger:    zap.NewNop(),
		now:       time.Now,
		workers:   1,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.workers < 1 {
		a.workers = 1
	}
	return a
}

// Archive extracts, resolves, places and indexes one document. Once the file
// has been moved the index is written even if ctx is cancelled, so the index
// never misses an archived file. Only a missing source and an exhausted lock
// fallback are reported; OCR and resolution problems degrade to Unresolved.
func (a *Archiver) Archive(ctx context.Context, sourcePath string) (*ArchivedDocument, error) {
	start := a.now()
	trigger := TriggerFrom(ctx)

	doc, err := a.archive(ctx, sourcePath, start)
	duration := a.now().Sub(start)
	if err != nil {
		a.fail(ctx, sourcePath, trigger, duration, err)
		return nil, err
	}

	a.logger.Info("Archived document",
		zap.String("source", sourcePath),
		zap.String("path", doc.RelPath),
		zap.String("institution", doc.Institution),
		zap.String("year", doc.Year),
		zap.String("resolution", string(doc.Resolution)),
		zap.String("trigger", trigger),
		zap.Duration("duration", duration))

	a.metrics.RecordArchived(trigger, duration)
	a.record(ctx, &history.Run{
		SourcePath:  sourcePath,
		FinalPath:   doc.FinalPath,
		Institution: doc.Institution,
		Year:        doc.Year,
		Resolution:  string(doc.Resolution),
		Trigger:     trigger,
		Status:      history.StatusArchived,
		DurationMs:  duration.Milliseconds(),
	})
	a.publish(events.Event{
		Type:        events.DocumentArchived,
		Path:        doc.RelPath,
		Source:      sourcePath,
		Institution: doc.Institution,
		Year:        doc.Year,
		Trigger:     trigger,
	})
	return doc, nil
}

func (a *Archiver) archive(ctx context.Context, sourcePath string, start time.Time) (*ArchivedDocument, error) {
	if _, err := os.Stat(sourcePath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperrors.ErrSourceNotFound.WithCause(err)
		}
		return nil, fmt.Errorf("stat source: %w", err)
	}

	workCtx := ctx
	if a.timeout > 0 {
		var cancel context.CancelFunc
		workCtx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	text := a.extractor.Extract(workCtx, sourcePath)
	if text == "" {
		a.logger.Warn("No text recognised, filing as unresolved", zap.String("source", sourcePath))
	}

	res := a.resolver.ResolveDetailed(text)
	year := a.yearFor(text, start)

	if err := workCtx.Err(); err != nil {
		return nil, err
	}

	final, err := a.placer.Place(workCtx, sourcePath, res.Label, year)
	if err != nil {
		return nil, err
	}

	// The file has moved. Everything below runs to completion.
	rel, err := filepath.Rel(a.placer.Root(), final)
	if err != nil {
		rel = filepath.Base(final)
	}
	rel = filepath.ToSlash(rel)

	doc := &ArchivedDocument{
		SourcePath:  sourcePath,
		FinalPath:   final,
		RelPath:     rel,
		Institution: filepath.Base(filepath.Dir(final)),
		Year:        filepath.Base(filepath.Dir(filepath.Dir(final))),
		Resolution:  res.Source,
		TextExcerpt: index.Excerpt(text),
		Timestamp:   a.now(),
		Text:        text,
	}

	rec := index.Record{
		Filename:    filepath.Base(final),
		Year:        doc.Year,
		Institution: doc.Institution,
		Path:        rel,
		Excerpt:     doc.TextExcerpt,
		RecordedAt:  doc.Timestamp,
	}
	if err := a.index.Upsert(rec); err != nil {
		// The next reindex picks the file up again.
		a.logger.Error("Failed to index archived document",
			zap.String("path", rel),
			zap.Error(err))
	}

	return doc, nil
}

func (a *Archiver) yearFor(text string, now time.Time) string {
	if a.yearText {
		if y, ok := ContentYear(text, now); ok {
			return y
		}
	}
	return fmt.Sprintf("%04d", now.Year())
}

func (a *Archiver) fail(ctx context.Context, sourcePath, trigger string, duration time.Duration, err error) {
	a.logger.Error("Failed to archive document",
		zap.String("source", sourcePath),
		zap.String("trigger", trigger),
		zap.Error(err))

	a.metrics.RecordFailed(trigger)
	a.record(ctx, &history.Run{
		SourcePath: sourcePath,
		Trigger:    trigger,
		Status:     history.StatusFailed,
		Error:      err.Error(),
		DurationMs: duration.Milliseconds(),
	})
	a.publish(events.Event{
		Type:    events.DocumentFailed,
		Source:  sourcePath,
		Trigger: trigger,
		Error:   err.Error(),
	})
}

func (a *Archiver) record(ctx context.Context, run *history.Run) {
	if a.history == nil {
		return
	}
	if err := a.history.Record(context.WithoutCancel(ctx), run); err != nil {
		a.logger.Warn("Failed to record run history", zap.Error(err))
	}
}

func (a *Archiver) publish(e events.Event) {
	if a.events != nil {
		a.events.Publish(e)
	}
}

// Triggers name what started a run.
const (
	TriggerUpload  = "upload"
	TriggerWatch   = "watch"
	TriggerRun     = "run"
	TriggerImport  = "import"
	TriggerSweep   = "sweep"
	TriggerMigrate = "migrate"
	TriggerManual  = "manual"
)

type triggerKey struct{}

// WithTrigger tags ctx with what started the run, for logs, metrics and
// history.
func WithTrigger(ctx context.Context, trigger string) context.Context {
	return context.WithValue(ctx, triggerKey{}, trigger)
}

// TriggerFrom returns the trigger stored by WithTrigger, or TriggerManual.
func TriggerFrom(ctx context.Context) string {
	if t, ok := ctx.Value(triggerKey{}).(string); ok && t != "" {
		return t
	}
	return TriggerManual
}
