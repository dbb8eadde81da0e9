package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ItemResult is the outcome for one file of a batch.
type ItemResult struct {
	Source   string            `json:"source"`
	Document *ArchivedDocument `json:"document,omitempty"`
	Success  bool              `json:"success"`
	Error    string            `json:"error,omitempty"`
	Duration time.Duration     `json:"duration"`
}

// BatchResult summarises an ArchiveAll call. Items keep the input order.
type BatchResult struct {
	Total     int           `json:"total"`
	Success   int           `json:"success"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`
	Items     []ItemResult  `json:"items"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
}

// ArchiveAll archives sources with the configured number of workers. A failed
// file does not stop the others. Files not yet started when ctx is cancelled
// are reported as failed with the context error.
func (a *Archiver) ArchiveAll(ctx context.Context, sources []string) *BatchResult {
	result := &BatchResult{
		Total:     len(sources),
		StartTime: a.now(),
		Items:     make([]ItemResult, len(sources)),
	}

	type job struct {
		pos    int
		source string
	}
	jobs := make(chan job, len(sources))
	for i, src := range sources {
		jobs <- job{pos: i, source: src}
	}
	close(jobs)

	workers := a.workers
	if workers > len(sources) {
		workers = len(sources)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				result.Items[j.pos] = a.archiveItem(ctx, j.source)
			}
		}()
	}
	wg.Wait()

	for _, item := range result.Items {
		if item.Success {
			result.Success++
		} else {
			result.Failed++
		}
	}
	result.EndTime = a.now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	a.logger.Info("Batch finished",
		zap.Int("total", result.Total),
		zap.Int("success", result.Success),
		zap.Int("failed", result.Failed),
		zap.Duration("duration", result.Duration))
	return result
}

func (a *Archiver) archiveItem(ctx context.Context, source string) ItemResult {
	item := ItemResult{Source: source}
	if err := ctx.Err(); err != nil {
		item.Error = err.Error()
		return item
	}

	start := time.Now()
	doc, err := a.Archive(ctx, source)
	item.Duration = time.Since(start)
	if err != nil {
		item.Error = err.Error()
		return item
	}
	item.Document = doc
	item.Success = true
	return item
}

// ArchiveInbox archives every pending file in dir.
func (a *Archiver) ArchiveInbox(ctx context.Context, dir string) (*BatchResult, error) {
	files, err := InboxFiles(dir)
	if err != nil {
		return nil, err
	}
	return a.ArchiveAll(ctx, files), nil
}

// InboxFiles lists the regular files directly inside dir, sorted by name.
// Hidden files and unfinished copies are skipped.
func InboxFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read inbox: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.Type().IsRegular() || IgnoredName(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// IgnoredName reports whether a file name belongs to a hidden or temporary
// file that must not be archived.
func IgnoredName(name string) bool {
	switch {
	case strings.HasPrefix(name, "."):
		return true
	case strings.HasSuffix(name, ".partial"),
		strings.HasSuffix(name, ".tmp"),
		strings.HasSuffix(name, ".crdownload"),
		strings.HasSuffix(name, "~"):
		return true
	}
	return false
}

func (r *BatchResult) Summary() string {
	var sb strings.Builder
	sb.WriteString("=== Archive Summary ===\n")
	sb.WriteString(fmt.Sprintf("Total:     %d\n", r.Total))
	sb.WriteString(fmt.Sprintf("Archived:  %d\n", r.Success))
	sb.WriteString(fmt.Sprintf("Failed:    %d\n", r.Failed))
	sb.WriteString(fmt.Sprintf("Duration:  %v\n", r.Duration.Round(time.Millisecond)))
	for _, item := range r.Items {
		if item.Success {
			sb.WriteString(fmt.Sprintf("  ok    %s -> %s\n", filepath.Base(item.Source), item.Document.RelPath))
		} else {
			sb.WriteString(fmt.Sprintf("  fail  %s: %s\n", filepath.Base(item.Source), item.Error))
		}
	}
	return sb.String()
}

func (r *BatchResult) ToJSON() (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
