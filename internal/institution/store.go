package institution

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dani-farcas/autoDocOrganizer/internal/fsutil"
	"go.uber.org/zap"
)

// Store is the durable set of labels the resolver has accepted. Labels keep
// first-seen order and case; membership is case-insensitive. Nothing is ever
// removed.
type Store interface {
	// Load reads persisted labels. Calling it again is a no-op.
	Load() error
	// Labels returns a snapshot in stored order.
	Labels() []string
	// Add records label if no case-insensitive equal exists and returns the
	// stored form. The in-memory set is updated even when persisting fails.
	Add(label string) (string, error)
	Close() error
}

// FileStore keeps labels as a JSON array of strings.
type FileStore struct {
	path   string
	logger *zap.Logger

	mu     sync.Mutex
	loaded bool
	labels []string
	byKey  map[string]int
}

// NewFileStore does not touch the filesystem until Load.
func NewFileStore(path string, logger *zap.Logger) *FileStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{
		path:   path,
		logger: logger,
		byKey:  make(map[string]int),
	}
}

func (s *FileStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *FileStore) loadLocked() error {
	if s.loaded {
		return nil
	}

	labels, err := s.readLabels()
	if errors.Is(err, errUnreadable) {
		backup := fmt.Sprintf("%s.corrupt-%s", s.path, time.Now().Format("20060102-150405"))
		s.logger.Warn("Institution store unreadable, starting empty",
			zap.String("path", s.path),
			zap.String("backup", backup),
			zap.Error(err))
		if rerr := os.Rename(s.path, backup); rerr != nil {
			s.logger.Warn("Failed to move unreadable institution store aside", zap.Error(rerr))
		}
		labels, err = nil, nil
	}
	if err != nil {
		return err
	}

	s.mergeLocked(labels)
	s.loaded = true
	return nil
}

var errUnreadable = errors.New("institution store unreadable")

// readLabels returns the labels persisted at path. A missing file is empty.
func (s *FileStore) readLabels() ([]string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read institutions: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}
	var labels []string
	if err := json.Unmarshal(data, &labels); err != nil {
		return nil, fmt.Errorf("%w: %v", errUnreadable, err)
	}
	return labels, nil
}

// mergeLocked appends the labels not known yet, keeping their order.
func (s *FileStore) mergeLocked(labels []string) {
	for _, l := range labels {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		key := strings.ToLower(l)
		if _, ok := s.byKey[key]; ok {
			continue
		}
		s.byKey[key] = len(s.labels)
		s.labels = append(s.labels, l)
	}
}

func (s *FileStore) Labels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.labels))
	copy(out, s.labels)
	return out
}

func (s *FileStore) Add(label string) (string, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return "", fmt.Errorf("empty institution label")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return label, err
	}

	key := strings.ToLower(label)
	if i, ok := s.byKey[key]; ok {
		return s.labels[i], nil
	}
	s.byKey[key] = len(s.labels)
	s.labels = append(s.labels, label)

	err := s.saveLocked()
	return s.labels[s.byKey[key]], err
}

// saveLocked rewrites the file under the cross-process lock. Labels another
// process persisted since Load come first, in their stored order, followed
// by the ones only this process knows.
func (s *FileStore) saveLocked() error {
	unlock, err := fsutil.Lock(s.path)
	if err != nil {
		return fmt.Errorf("persist institutions: %w", err)
	}
	defer unlock()

	onDisk, err := s.readLabels()
	if err != nil {
		s.logger.Warn("Could not re-read institution store before saving", zap.String("path", s.path), zap.Error(err))
	} else if len(onDisk) > 0 {
		mine := s.labels
		s.labels, s.byKey = nil, make(map[string]int)
		s.mergeLocked(onDisk)
		s.mergeLocked(mine)
	}

	data, err := json.MarshalIndent(s.labels, "", "  ")
	if err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(s.path, data, 0o644); err != nil {
		return fmt.Errorf("persist institutions: %w", err)
	}
	return nil
}

func (s *FileStore) Close() error {
	return nil
}
