package index

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/dani-farcas/autoDocOrganizer/internal/errors"
	"github.com/dani-farcas/autoDocOrganizer/internal/fsutil"
)

const delimiter = ';'

// Observer is told when an unreadable index had to be discarded.
type Observer interface {
	ObserveIndexReset()
}

// Store owns one index file. All writes go through a temp file and a rename,
// so readers never see a partial file. Mutations are serialised by mu within
// the process and by an advisory lock on .<index>.lock across processes.
type Store struct {
	path     string
	logger   *zap.Logger
	observer Observer
	now      func() time.Time

	mu sync.RWMutex
}

type Option func(*Store)

func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

func WithObserver(o Observer) Option {
	return func(s *Store) { s.observer = o }
}

func NewStore(path string, opts ...Option) *Store {
	s := &Store{
		path:   path,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the index file location.
func (s *Store) Path() string {
	return s.path
}

// ReadAll returns every record in file order. An unreadable index is logged
// and reads as empty.
func (s *Store) ReadAll() ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs, err := s.read()
	if errors.Is(err, apperrors.ErrCorruptIndex) {
		s.logger.Warn("Index unreadable, treating as empty", zap.String("path", s.path), zap.Error(err))
		return nil, nil
	}
	return recs, err
}

// Search returns the records whose filename, institution or year contains
// query, ignoring case. An empty query returns everything.
func (s *Store) Search(query string) ([]Record, error) {
	recs, err := s.ReadAll()
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(recs))
	for _, r := range recs {
		if r.Matches(query) {
			out = append(out, r)
		}
	}
	return out, nil
}

// Upsert replaces any record with the same filename and path, then appends
// rec. A missing RecordedAt is set to now.
func (s *Store) Upsert(rec Record) error {
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = s.now()
	}
	return s.mutate(func(recs []Record) []Record {
		out := recs[:0]
		for _, r := range recs {
			if r.key() != rec.key() {
				out = append(out, r)
			}
		}
		return append(out, rec)
	})
}

// RemovePath drops the records stored under the relative path rel.
func (s *Store) RemovePath(rel string) (int, error) {
	return s.removeWhere(func(r Record) bool { return r.Path == rel })
}

// RemoveUnder drops every record below the relative directory dir.
func (s *Store) RemoveUnder(dir string) (int, error) {
	prefix := strings.TrimSuffix(dir, "/") + "/"
	return s.removeWhere(func(r Record) bool { return strings.HasPrefix(r.Path, prefix) })
}

// Replace rewrites the index with recs.
func (s *Store) Replace(recs []Record) error {
	return s.mutate(func([]Record) []Record { return recs })
}

func (s *Store) removeWhere(match func(Record) bool) (int, error) {
	removed := 0
	err := s.mutate(func(recs []Record) []Record {
		out := recs[:0]
		for _, r := range recs {
			if match(r) {
				removed++
				continue
			}
			out = append(out, r)
		}
		return out
	})
	return removed, err
}

func (s *Store) mutate(fn func([]Record) []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := fsutil.Lock(s.path)
	if err != nil {
		return err
	}
	defer unlock()

	recs, err := s.read()
	if errors.Is(err, apperrors.ErrCorruptIndex) {
		s.quarantine(err)
		recs, err = nil, nil
	}
	if err != nil {
		return err
	}

	return s.write(fn(recs))
}

// quarantine moves an unreadable index aside so the next write starts fresh.
func (s *Store) quarantine(cause error) {
	backup := fmt.Sprintf("%s.corrupt-%s", s.path, s.now().Format("20060102-150405"))
	s.logger.Warn("Index unreadable, starting a new one",
		zap.String("path", s.path),
		zap.String("backup", backup),
		zap.Error(cause))
	if err := os.Rename(s.path, backup); err != nil {
		s.logger.Warn("Failed to move unreadable index aside", zap.Error(err))
	}
	if s.observer != nil {
		s.observer.ObserveIndexReset()
	}
}

func (s *Store) read() ([]Record, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open index: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(bufio.NewReader(f))
	r.Comma = delimiter
	r.FieldsPerRecord = -1

	cols, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.ErrCorruptIndex.WithCause(err)
	}
	if len(cols) > 0 {
		cols[0] = strings.TrimPrefix(cols[0], "\ufeff")
	}
	if !validHeader(cols) {
		return nil, apperrors.ErrCorruptIndex.WithMessage("unexpected header %q", strings.Join(cols, string(delimiter)))
	}

	var recs []Record
	for line := 2; ; line++ {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, apperrors.ErrCorruptIndex.WithCause(err)
		}
		if len(row) != len(cols) {
			s.logger.Warn("Skipping malformed index row", zap.Int("line", line), zap.Int("fields", len(row)))
			continue
		}
		rec := Record{
			Filename:    row[0],
			Year:        row[1],
			Institution: row[2],
			Path:        row[3],
		}
		if len(row) > 4 {
			rec.Excerpt = row[4]
		}
		if len(row) > 5 && row[5] != "" {
			if ts, err := time.ParseInLocation(TimeLayout, row[5], time.Local); err == nil {
				rec.RecordedAt = ts
			}
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func (s *Store) write(recs []Record) error {
	err := fsutil.WriteAtomic(s.path, 0o644, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		cw.Comma = delimiter
		if err := cw.Write(header); err != nil {
			return err
		}
		for _, r := range recs {
			if err := cw.Write(r.row()); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	})
	if err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	return nil
}

// validHeader accepts the required columns followed by any prefix of the
// optional ones, in declared order.
func validHeader(cols []string) bool {
	if len(cols) < requiredColumns || len(cols) > len(header) {
		return false
	}
	for i, c := range cols {
		if strings.TrimSpace(c) != header[i] {
			return false
		}
	}
	return true
}
