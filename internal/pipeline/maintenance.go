package pipeline

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/dani-farcas/autoDocOrganizer/internal/archive"
	"github.com/dani-farcas/autoDocOrganizer/internal/events"
	"github.com/dani-farcas/autoDocOrganizer/internal/index"
	"github.com/dani-farcas/autoDocOrganizer/internal/institution"
)

// Maintenance repairs the archive: it moves the numbered folders of the old
// layout into the year tree and rebuilds the index from disk.
type Maintenance struct {
	tree   *archive.Tree
	placer Placer
	index  Index
	events Publisher
	logger *zap.Logger
	now    func() time.Time
}

func NewMaintenance(tree *archive.Tree, placer Placer, idx Index, bus Publisher, logger *zap.Logger) *Maintenance {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Maintenance{
		tree:   tree,
		placer: placer,
		index:  idx,
		events: bus,
		logger: logger,
		now:    time.Now,
	}
}

// MigrationResult reports what Migrate did.
type MigrationResult struct {
	Folders []string `json:"folders"`
	Moved   []string `json:"moved"`
	Failed  []string `json:"failed,omitempty"`
	Removed []string `json:"removed"`
}

// Migrate moves every file below a legacy folder into
// <current year>/_Unklar and removes the folder once it has been emptied.
// A folder with a file that could not be moved is left in place.
func (m *Maintenance) Migrate(ctx context.Context) (*MigrationResult, error) {
	folders, err := m.tree.LegacyFolders()
	if err != nil {
		return nil, fmt.Errorf("list legacy folders: %w", err)
	}

	year := fmt.Sprintf("%04d", m.now().Year())
	result := &MigrationResult{}
	for _, folder := range folders {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Folders = append(result.Folders, filepath.Base(folder))

		ok := true
		walkErr := filepath.WalkDir(folder, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				m.logger.Warn("Skipping unreadable entry", zap.String("path", path), zap.Error(err))
				ok = false
				return nil
			}
			if d.IsDir() {
				return nil
			}
			rel, err := m.moveLegacyFile(ctx, path, year)
			if err != nil {
				m.logger.Error("Failed to migrate file", zap.String("path", path), zap.Error(err))
				result.Failed = append(result.Failed, path)
				ok = false
				return nil
			}
			result.Moved = append(result.Moved, rel)
			return nil
		})
		if walkErr != nil || !ok {
			continue
		}

		if err := os.RemoveAll(folder); err != nil {
			m.logger.Warn("Failed to remove legacy folder", zap.String("path", folder), zap.Error(err))
			continue
		}
		result.Removed = append(result.Removed, filepath.Base(folder))
		m.logger.Info("Migrated legacy folder", zap.String("folder", filepath.Base(folder)))
	}
	return result, nil
}

func (m *Maintenance) moveLegacyFile(ctx context.Context, path, year string) (string, error) {
	final, err := m.placer.Place(WithTrigger(ctx, TriggerMigrate), path, institution.Unresolved, year)
	if err != nil {
		return "", err
	}
	rel, err := m.tree.Rel(final)
	if err != nil {
		return "", err
	}
	rec := index.Record{
		Filename:    filepath.Base(final),
		Year:        year,
		Institution: institution.Unresolved,
		Path:        rel,
		RecordedAt:  m.now(),
	}
	if err := m.index.Upsert(rec); err != nil {
		m.logger.Error("Failed to index migrated file", zap.String("path", rel), zap.Error(err))
	}
	return rel, nil
}

// ReindexResult reports what Reindex did.
type ReindexResult struct {
	Total   int `json:"total"`
	Kept    int `json:"kept"`
	Added   int `json:"added"`
	Removed int `json:"removed"`
}

// Reindex rewrites the index so it lists exactly the documents in the year
// tree. Excerpts and timestamps of documents already indexed are kept; new
// ones are stamped with the file's modification time.
func (m *Maintenance) Reindex(ctx context.Context) (*ReindexResult, error) {
	docs, err := m.tree.Documents()
	if err != nil {
		return nil, fmt.Errorf("scan archive: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// A corrupt index reads as empty, which is what a rebuild wants.
	existing, err := m.index.ReadAll()
	if err != nil {
		m.logger.Warn("Rebuilding index without previous records", zap.Error(err))
		existing = nil
	}

	onDisk := make(map[string]archive.Document, len(docs))
	for _, d := range docs {
		onDisk[d.Rel] = d
	}

	result := &ReindexResult{}
	seen := make(map[string]bool, len(docs))
	recs := make([]index.Record, 0, len(docs))
	for _, rec := range existing {
		d, ok := onDisk[rec.Path]
		if !ok || seen[rec.Path] || rec.Filename != d.Name {
			result.Removed++
			continue
		}
		seen[rec.Path] = true
		rec.Year = d.Year
		rec.Institution = d.Institution
		if rec.RecordedAt.IsZero() {
			rec.RecordedAt = d.ModTime
		}
		recs = append(recs, rec)
		result.Kept++
	}

	var added []index.Record
	for _, d := range docs {
		if seen[d.Rel] {
			continue
		}
		added = append(added, index.Record{
			Filename:    d.Name,
			Year:        d.Year,
			Institution: d.Institution,
			Path:        d.Rel,
			RecordedAt:  d.ModTime,
		})
	}
	sort.Slice(added, func(i, j int) bool { return added[i].Path < added[j].Path })
	recs = append(recs, added...)
	result.Added = len(added)
	result.Total = len(recs)

	if err := m.index.Replace(recs); err != nil {
		return nil, fmt.Errorf("write index: %w", err)
	}

	m.logger.Info("Rebuilt index",
		zap.Int("total", result.Total),
		zap.Int("kept", result.Kept),
		zap.Int("added", result.Added),
		zap.Int("removed", result.Removed))
	if m.events != nil {
		m.events.Publish(events.Event{Type: events.IndexRebuilt, Trigger: TriggerFrom(ctx)})
	}
	return result, nil
}
