package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dani-farcas/autoDocOrganizer/internal/archive"
	apperrors "github.com/dani-farcas/autoDocOrganizer/internal/errors"
	"github.com/dani-farcas/autoDocOrganizer/internal/events"
	"github.com/dani-farcas/autoDocOrganizer/internal/extract"
	"github.com/dani-farcas/autoDocOrganizer/internal/history"
	"github.com/dani-farcas/autoDocOrganizer/internal/index"
	"github.com/dani-farcas/autoDocOrganizer/internal/institution"
	"github.com/dani-farcas/autoDocOrganizer/internal/metrics"
)

var fixedNow = time.Date(2024, 5, 10, 9, 30, 0, 0, time.UTC)

type fixture struct {
	root    string
	inbox   string
	index   *index.Store
	learned *institution.FileStore
	history *history.Store
	bus     *events.Bus
	metrics *metrics.Metrics
	placer  *archive.Placer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		root:    filepath.Join(dir, "archive"),
		inbox:   filepath.Join(dir, "inbox"),
		learned: institution.NewFileStore(filepath.Join(dir, "institutions.json"), nil),
		bus:     events.NewBus(nil),
		metrics: metrics.New(),
	}
	require.NoError(t, archive.EnsureLayout(f.root, f.inbox))
	f.index = index.NewStore(filepath.Join(dir, "index.csv"))
	f.placer = archive.NewPlacer(f.root)

	h, err := history.Open(filepath.Join(dir, "history.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	f.history = h
	return f
}

func (f *fixture) archiver(t *testing.T, ex extract.Extractor, orgs institution.OrgExtractor, opts ...Option) *Archiver {
	t.Helper()
	catalog, err := institution.DefaultCatalog()
	require.NoError(t, err)
	resolver := institution.NewResolver(catalog, f.learned, orgs)

	opts = append([]Option{
		WithHistory(f.history),
		WithEvents(f.bus),
		WithMetrics(f.metrics),
		WithClock(func() time.Time { return fixedNow }),
	}, opts...)
	return New(ex, resolver, f.placer, f.index, opts...)
}

func (f *fixture) drop(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(f.inbox, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestArchive_EndToEnd(t *testing.T) {
	f := newFixture(t)
	text := "Bundesagentur für Arbeit\nBescheid über Arbeitslosengeld vom 02.01.2019"
	a := f.archiver(t, extract.Static(text), institution.StaticExtractor{})

	sub, unsub := f.bus.Subscribe(4)
	defer unsub()

	src := f.drop(t, "bescheid.pdf", "%PDF")
	ctx := WithTrigger(context.Background(), TriggerUpload)
	doc, err := a.Archive(ctx, src)
	require.NoError(t, err)

	want := filepath.Join(f.root, "2024", "Bundesagentur für Arbeit", "bescheid.pdf")
	assert.Equal(t, want, doc.FinalPath)
	assert.Equal(t, "2024/Bundesagentur für Arbeit/bescheid.pdf", doc.RelPath)
	assert.Equal(t, "Bundesagentur für Arbeit", doc.Institution)
	assert.Equal(t, "2024", doc.Year)
	assert.Equal(t, institution.SourceWhitelist, doc.Resolution)
	assert.Equal(t, text, doc.Text)
	assert.FileExists(t, want)
	assert.NoFileExists(t, src)

	recs, err := f.index.ReadAll()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "bescheid.pdf", recs[0].Filename)
	assert.Equal(t, "2024", recs[0].Year)
	assert.Equal(t, "Bundesagentur für Arbeit", recs[0].Institution)
	assert.Equal(t, doc.RelPath, recs[0].Path)
	assert.Equal(t, index.Excerpt(text), recs[0].Excerpt)

	runs, err := f.history.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, history.StatusArchived, runs[0].Status)
	assert.Equal(t, TriggerUpload, runs[0].Trigger)
	assert.Equal(t, "whitelist", runs[0].Resolution)

	e := <-sub
	assert.Equal(t, events.DocumentArchived, e.Type)
	assert.Equal(t, doc.RelPath, e.Path)

	assert.Equal(t, int64(1), f.metrics.Snapshot().DocumentsArchived)
	assert.Empty(t, f.learned.Labels())
}

func TestArchive_CollisionsGetSuffix(t *testing.T) {
	f := newFixture(t)
	a := f.archiver(t, extract.Static("Rechnung der Muster Energie GmbH"), institution.StaticExtractor{"Muster Energie GmbH"})

	first, err := a.Archive(context.Background(), f.drop(t, "invoice.pdf", "1"))
	require.NoError(t, err)
	second, err := a.Archive(context.Background(), f.drop(t, "invoice.pdf", "2"))
	require.NoError(t, err)
	third, err := a.Archive(context.Background(), f.drop(t, "invoice.pdf", "3"))
	require.NoError(t, err)

	assert.Equal(t, "invoice.pdf", filepath.Base(first.FinalPath))
	assert.Equal(t, "invoice (1).pdf", filepath.Base(second.FinalPath))
	assert.Equal(t, "invoice (2).pdf", filepath.Base(third.FinalPath))
	assert.Equal(t, "Muster Energie GmbH", first.Institution)
	assert.Equal(t, []string{"Muster Energie GmbH"}, f.learned.Labels())

	recs, err := f.index.ReadAll()
	require.NoError(t, err)
	assert.Len(t, recs, 3)
}

func TestArchive_NoTextFilesUnresolved(t *testing.T) {
	f := newFixture(t)
	a := f.archiver(t, extract.Static(""), institution.StaticExtractor{})

	doc, err := a.Archive(context.Background(), f.drop(t, "scan.jpg", "img"))
	require.NoError(t, err)

	assert.Equal(t, institution.Unresolved, doc.Institution)
	assert.Equal(t, institution.SourceUnresolved, doc.Resolution)
	assert.FileExists(t, filepath.Join(f.root, "2024", institution.Unresolved, "scan.jpg"))
	assert.Empty(t, doc.TextExcerpt)
}

func TestArchive_SourceNotFound(t *testing.T) {
	f := newFixture(t)
	a := f.archiver(t, extract.Static("Finanzamt"), institution.StaticExtractor{})

	sub, unsub := f.bus.Subscribe(4)
	defer unsub()

	_, err := a.Archive(WithTrigger(context.Background(), TriggerWatch), filepath.Join(f.inbox, "gone.pdf"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrSourceNotFound))

	recs, err := f.index.ReadAll()
	require.NoError(t, err)
	assert.Empty(t, recs)

	failures, err := f.history.Failures(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, TriggerWatch, failures[0].Trigger)
	assert.NotEmpty(t, failures[0].Error)

	e := <-sub
	assert.Equal(t, events.DocumentFailed, e.Type)
	assert.Equal(t, int64(1), f.metrics.Snapshot().DocumentsFailed)
}

func TestArchive_CancelledBeforePlacement(t *testing.T) {
	f := newFixture(t)
	a := f.archiver(t, extract.Static("Finanzamt"), institution.StaticExtractor{})
	src := f.drop(t, "steuer.pdf", "x")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := a.Archive(ctx, src)
	require.ErrorIs(t, err, context.Canceled)

	assert.FileExists(t, src)
	recs, err := f.index.ReadAll()
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestArchive_IndexedEvenIfCancelledDuringPlacement(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	placer := placerFunc{root: f.root, place: func(pctx context.Context, src, inst, year string) (string, error) {
		final, err := f.placer.Place(pctx, src, inst, year)
		cancel()
		return final, err
	}}

	catalog, err := institution.DefaultCatalog()
	require.NoError(t, err)
	resolver := institution.NewResolver(catalog, f.learned, institution.StaticExtractor{})
	a := New(extract.Static("Finanzamt Kassel"), resolver, placer, f.index, WithClock(func() time.Time { return fixedNow }))

	doc, err := a.Archive(ctx, f.drop(t, "steuer.pdf", "x"))
	require.NoError(t, err)

	recs, err := f.index.ReadAll()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, doc.RelPath, recs[0].Path)
}

func TestArchive_YearFromContent(t *testing.T) {
	tests := []struct {
		name    string
		enabled bool
		text    string
		want    string
	}{
		{"disabled", false, "Finanzamt Steuerbescheid 2019", "2024"},
		{"enabled", true, "Finanzamt Steuerbescheid 2019", "2019"},
		{"future year ignored", true, "Finanzamt Vorauszahlung 2031", "2024"},
		{"no year", true, "Finanzamt Steuerbescheid", "2024"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			a := f.archiver(t, extract.Static(tt.text), institution.StaticExtractor{}, WithYearFromContent(tt.enabled))

			doc, err := a.Archive(context.Background(), f.drop(t, "bescheid.pdf", "x"))
			require.NoError(t, err)
			assert.Equal(t, tt.want, doc.Year)
			assert.FileExists(t, filepath.Join(f.root, tt.want, "Finanzamt", "bescheid.pdf"))
		})
	}
}

func TestTrigger(t *testing.T) {
	assert.Equal(t, TriggerManual, TriggerFrom(context.Background()))
	assert.Equal(t, TriggerImport, TriggerFrom(WithTrigger(context.Background(), TriggerImport)))
}

type placerFunc struct {
	root  string
	place func(ctx context.Context, src, inst, year string) (string, error)
}

func (p placerFunc) Root() string { return p.root }

func (p placerFunc) Place(ctx context.Context, src, inst, year string) (string, error) {
	return p.place(ctx, src, inst, year)
}
