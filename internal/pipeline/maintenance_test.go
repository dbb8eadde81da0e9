package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dani-farcas/autoDocOrganizer/internal/archive"
	"github.com/dani-farcas/autoDocOrganizer/internal/events"
	"github.com/dani-farcas/autoDocOrganizer/internal/index"
	"github.com/dani-farcas/autoDocOrganizer/internal/institution"
)

func newMaintenance(f *fixture) *Maintenance {
	m := NewMaintenance(archive.NewTree(f.root, nil), f.placer, f.index, f.bus, nil)
	m.now = func() time.Time { return fixedNow }
	return m
}

func writeUnder(t *testing.T, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestMigrate(t *testing.T) {
	f := newFixture(t)
	writeUnder(t, f.root, "0001/scan.pdf", "a")
	writeUnder(t, f.root, "0001/extra/scan.pdf", "b")
	writeUnder(t, f.root, "0002/brief.jpg", "c")
	writeUnder(t, f.root, "2023/Finanzamt/keep.pdf", "d")

	result, err := newMaintenance(f).Migrate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"0001", "0002"}, result.Folders)
	assert.Equal(t, []string{"0001", "0002"}, result.Removed)
	assert.Empty(t, result.Failed)
	assert.ElementsMatch(t, []string{
		"2024/_Unklar/scan.pdf",
		"2024/_Unklar/scan (1).pdf",
		"2024/_Unklar/brief.jpg",
	}, result.Moved)

	assert.NoDirExists(t, filepath.Join(f.root, "0001"))
	assert.NoDirExists(t, filepath.Join(f.root, "0002"))
	assert.FileExists(t, filepath.Join(f.root, "2023", "Finanzamt", "keep.pdf"))

	recs, err := f.index.ReadAll()
	require.NoError(t, err)
	require.Len(t, recs, 3)
	for _, r := range recs {
		assert.Equal(t, institution.Unresolved, r.Institution)
		assert.Equal(t, "2024", r.Year)
	}
}

func TestMigrate_NothingToDo(t *testing.T) {
	f := newFixture(t)
	writeUnder(t, f.root, "2024/Finanzamt/a.pdf", "a")

	result, err := newMaintenance(f).Migrate(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.Folders)
	assert.Empty(t, result.Moved)
}

func TestReindex(t *testing.T) {
	f := newFixture(t)
	writeUnder(t, f.root, "2023/Finanzamt/steuer.pdf", "a")
	writeUnder(t, f.root, "2024/Sparkasse/konto.pdf", "b")
	writeUnder(t, f.root, "2024/Sparkasse/.hidden", "c")
	writeUnder(t, f.root, "0003/legacy.pdf", "d")

	recorded := time.Date(2023, 11, 2, 8, 0, 0, 0, time.Local)
	require.NoError(t, f.index.Upsert(index.Record{
		Filename:    "steuer.pdf",
		Year:        "2023",
		Institution: "Finanzamt",
		Path:        "2023/Finanzamt/steuer.pdf",
		Excerpt:     "Einkommensteuerbescheid",
		RecordedAt:  recorded,
	}))
	require.NoError(t, f.index.Upsert(index.Record{
		Filename:    "deleted.pdf",
		Year:        "2022",
		Institution: "AOK",
		Path:        "2022/AOK/deleted.pdf",
	}))

	sub, unsub := f.bus.Subscribe(2)
	defer unsub()

	result, err := newMaintenance(f).Reindex(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &ReindexResult{Total: 2, Kept: 1, Added: 1, Removed: 1}, result)

	recs, err := f.index.ReadAll()
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, "2023/Finanzamt/steuer.pdf", recs[0].Path)
	assert.Equal(t, "Einkommensteuerbescheid", recs[0].Excerpt)
	assert.True(t, recorded.Equal(recs[0].RecordedAt))

	assert.Equal(t, "2024/Sparkasse/konto.pdf", recs[1].Path)
	assert.Equal(t, "Sparkasse", recs[1].Institution)
	assert.False(t, recs[1].RecordedAt.IsZero())

	e := <-sub
	assert.Equal(t, events.IndexRebuilt, e.Type)
}

func TestReindex_RecoversCorruptIndex(t *testing.T) {
	f := newFixture(t)
	writeUnder(t, f.root, "2024/AOK/beitrag.pdf", "a")
	require.NoError(t, os.WriteFile(f.index.Path(), []byte("not;a;valid\x00header\n\"broken"), 0o644))

	result, err := newMaintenance(f).Reindex(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Added)

	recs, err := f.index.ReadAll()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "2024/AOK/beitrag.pdf", recs[0].Path)
}
