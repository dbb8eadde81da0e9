package institution

import (
	"fmt"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

const (
	// label:<seq> holds the display form; keys sort in first-seen order.
	orderPrefix = "label:"
	// labelkey:<lowercase> marks membership.
	memberPrefix = "labelkey:"
)

// BadgerStore keeps learned labels in an embedded Badger database.
type BadgerStore struct {
	db     *badger.DB
	logger *zap.Logger

	mu     sync.Mutex
	loaded bool
	labels []string
	byKey  map[string]int
}

// OpenBadgerStore opens (or creates) the database at dir. An empty dir opens
// an in-memory database.
func OpenBadgerStore(dir string, logger *zap.Logger) (*BadgerStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := badger.DefaultOptions(dir).
		WithLogger(nil).
		WithNumVersionsToKeep(1).
		WithCompactL0OnClose(true).
		WithValueLogFileSize(16 << 20).
		WithMemTableSize(16 << 20)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	return &BadgerStore{
		db:     db,
		logger: logger,
		byKey:  make(map[string]int),
	}, nil
}

func (s *BadgerStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *BadgerStore) loadLocked() error {
	if s.loaded {
		return nil
	}

	prefix := []byte(orderPrefix)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var label string
			if err := it.Item().Value(func(v []byte) error {
				label = string(v)
				return nil
			}); err != nil {
				return err
			}
			key := strings.ToLower(label)
			if _, ok := s.byKey[key]; ok {
				continue
			}
			s.byKey[key] = len(s.labels)
			s.labels = append(s.labels, label)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("load institutions: %w", err)
	}

	s.loaded = true
	s.logger.Debug("Loaded learned institutions", zap.Int("count", len(s.labels)))
	return nil
}

func (s *BadgerStore) Labels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.labels))
	copy(out, s.labels)
	return out
}

func (s *BadgerStore) Add(label string) (string, error) {
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
	seq := len(s.labels)
	s.byKey[key] = seq
	s.labels = append(s.labels, label)

	err := s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(fmt.Sprintf("%s%020d", orderPrefix, seq)), []byte(label)); err != nil {
			return err
		}
		return txn.Set([]byte(memberPrefix+key), []byte(label))
	})
	if err != nil {
		return label, fmt.Errorf("persist institution: %w", err)
	}
	return label, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
