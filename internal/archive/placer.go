// Package archive files documents into the <root>/<year>/<institution>/ tree
// and manages that tree.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/dani-farcas/autoDocOrganizer/internal/errors"
	"github.com/dani-farcas/autoDocOrganizer/internal/fsutil"
	"github.com/dani-farcas/autoDocOrganizer/internal/institution"
	"github.com/dani-farcas/autoDocOrganizer/internal/security"
)

// Observer receives placement outcomes, e.g. for metrics.
type Observer interface {
	ObserveCollision()
	ObserveFallback(outcome string)
}

// Placer moves documents into the archive tree without ever overwriting an
// existing file.
type Placer struct {
	root     string
	logger   *zap.Logger
	observer Observer
	locks    *keyedMutex

	// Swappable for tests.
	rename func(oldpath, newpath string) error
	remove func(name string) error
	copy   func(src, dst string) error
}

type PlacerOption func(*Placer)

func WithPlacerLogger(l *zap.Logger) PlacerOption {
	return func(p *Placer) { p.logger = l }
}

func WithPlacerObserver(o Observer) PlacerOption {
	return func(p *Placer) { p.observer = o }
}

func NewPlacer(root string, opts ...PlacerOption) *Placer {
	p := &Placer{
		root:   filepath.Clean(root),
		logger: zap.NewNop(),
		locks:  newKeyedMutex(),
		rename: os.Rename,
		remove: os.Remove,
		copy:   fsutil.CopyFile,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Root returns the archive root.
func (p *Placer) Root() string {
	return p.root
}

// Dir returns the destination directory for institution and year.
func (p *Placer) Dir(institutionLabel, year string) string {
	return filepath.Join(p.root, pathSegment(year, "0000"), pathSegment(institutionLabel, institution.Unresolved))
}

// Place moves sourcePath into <root>/<year>/<institution>/ and returns the
// absolute final path. A taken name gets " (n)" appended before the
// extension, n counting up from 1. Cancellation is honoured until the move
// starts.
//
// The final name is reserved with an exclusive create before anything is
// moved, so a Placer in another process can never pick the same name and
// no existing file is ever replaced.
func (p *Placer) Place(ctx context.Context, sourcePath, institutionLabel, year string) (string, error) {
	if _, err := os.Stat(sourcePath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", apperrors.ErrSourceNotFound.WithCause(err)
		}
		return "", fmt.Errorf("stat source: %w", err)
	}

	dir := p.Dir(institutionLabel, year)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}

	unlock := p.locks.Lock(dir)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}

	final, err := p.reserve(dir, filepath.Base(sourcePath))
	if err != nil {
		return "", err
	}

	// The rename replaces only the empty reservation made above.
	err = p.rename(sourcePath, final)
	if err == nil {
		return filepath.Abs(final)
	}
	if errors.Is(err, fs.ErrNotExist) {
		p.release(final)
		return "", apperrors.ErrSourceNotFound.WithCause(err)
	}
	if !needsCopyFallback(err) {
		p.release(final)
		return "", fmt.Errorf("move %s: %w", sourcePath, err)
	}

	p.logger.Warn("Rename refused, copying instead",
		zap.String("source", sourcePath),
		zap.String("destination", final),
		zap.Error(err))
	return p.copyFallback(sourcePath, final)
}

// copyFallback handles sources that cannot be renamed: copy to a temp name,
// drop the source, then rename the temp into the reserved final name. If the
// source cannot be deleted the temp copy stays and is reported as the final
// path. A copy kept by an earlier attempt for the same source is reused
// rather than copied again.
func (p *Placer) copyFallback(sourcePath, final string) (string, error) {
	tmp, reused := p.keptCopy(sourcePath, filepath.Dir(final))
	if !reused {
		tmp = fmt.Sprintf("%s.%s%s", final, uuid.NewString()[:8], partialSuffix)
		if err := p.copy(sourcePath, tmp); err != nil {
			os.Remove(tmp)
			p.release(final)
			p.observe("copy_failed")
			return "", apperrors.ErrLockedResource.WithCause(err)
		}
	}

	if err := p.remove(sourcePath); err != nil {
		p.logger.Warn("Source still locked, keeping temporary copy",
			zap.String("source", sourcePath),
			zap.String("copy", tmp),
			zap.Bool("reused", reused),
			zap.Error(err))
		p.release(final)
		p.observe("copy_kept")
		return filepath.Abs(tmp)
	}

	if err := p.rename(tmp, final); err != nil {
		p.logger.Warn("Failed to rename temporary copy, keeping it",
			zap.String("copy", tmp),
			zap.Error(err))
		p.release(final)
		p.observe("copy_kept")
		return filepath.Abs(tmp)
	}

	p.observe("copied")
	return filepath.Abs(final)
}

const partialSuffix = ".partial"

// keptCopy looks in dir for a temporary copy left by an earlier attempt to
// place sourcePath. CopyFile preserves the modification time, so a copy
// matches when its name starts with the source's stem and its size and
// modification time equal the source's.
func (p *Placer) keptCopy(sourcePath, dir string) (string, bool) {
	src, err := os.Stat(sourcePath)
	if err != nil {
		return "", false
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	stem, _ := splitExt(filepath.Base(sourcePath))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, partialSuffix) || !strings.HasPrefix(name, stem) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.Size() == src.Size() && info.ModTime().Equal(src.ModTime()) {
			return filepath.Join(dir, name), true
		}
	}
	return "", false
}

// reserve claims the first free "name", "name (1)", "name (2)", ... in dir
// by creating it exclusively. The empty file holds the name until the
// document is moved over it or release is called.
func (p *Placer) reserve(dir, base string) (string, error) {
	stem, ext := splitExt(base)
	candidate := filepath.Join(dir, base)
	for n := 1; ; n++ {
		f, err := os.OpenFile(candidate, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			f.Close()
			if n > 1 && p.observer != nil {
				p.observer.ObserveCollision()
			}
			return candidate, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("reserve %s: %w", candidate, err)
		}
		candidate = filepath.Join(dir, fmt.Sprintf("%s (%d)%s", stem, n, ext))
	}
}

// release drops a reservation that no document was moved onto.
func (p *Placer) release(reserved string) {
	if err := os.Remove(reserved); err != nil && !errors.Is(err, fs.ErrNotExist) {
		p.logger.Warn("Failed to release reserved name", zap.String("path", reserved), zap.Error(err))
	}
}

func (p *Placer) observe(outcome string) {
	if p.observer != nil {
		p.observer.ObserveFallback(outcome)
	}
}

// splitExt keeps dotfiles such as ".profile" whole.
func splitExt(base string) (string, string) {
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if stem == "" {
		return base, ""
	}
	return stem, ext
}

func pathSegment(s, fallback string) string {
	if seg := security.SanitizeSegment(s); seg != "" {
		return seg
	}
	return fallback
}

// needsCopyFallback reports rename errors that a copy can work around:
// locked or busy files and moves across filesystems.
func needsCopyFallback(err error) bool {
	return errors.Is(err, fs.ErrPermission) ||
		isSharingViolation(err) ||
		errors.Is(err, syscall.EBUSY) ||
		errors.Is(err, syscall.ETXTBSY) ||
		errors.Is(err, syscall.EXDEV)
}

// keyedMutex serialises work per key. Entries are dropped when unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
