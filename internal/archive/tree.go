package archive

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/dani-farcas/autoDocOrganizer/internal/errors"
	"github.com/dani-farcas/autoDocOrganizer/internal/security"
)

var (
	yearDirPattern   = regexp.MustCompile(`^\d{4}$`)
	legacyDirPattern = regexp.MustCompile(`^0\d{3}$`)
)

// Entry is one item of a directory listing.
type Entry struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	IsDir   bool      `json:"is_dir"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// Document is a file found at <root>/<year>/<institution>/<name>.
type Document struct {
	Year        string
	Institution string
	Name        string
	Rel         string
	Path        string
	ModTime     time.Time
}

// Tree gives confined access to a directory tree. Every path argument is
// relative to the root; anything resolving outside it is ErrAccessDenied.
type Tree struct {
	root      string
	logger    *zap.Logger
	protected []string
}

type TreeOption func(*Tree)

// WithProtected marks files and directories owned by other stores, such as
// the index, so they cannot be deleted through the tree. Sidecars named
// "<file>.*" and ".<file>.*" and anything below a protected directory are
// covered too.
func WithProtected(paths ...string) TreeOption {
	return func(t *Tree) {
		for _, p := range paths {
			if p == "" {
				continue
			}
			if abs, err := filepath.Abs(p); err == nil {
				t.protected = append(t.protected, abs)
			}
		}
	}
}

func NewTree(root string, logger *zap.Logger, opts ...TreeOption) *Tree {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tree{root: filepath.Clean(root), logger: logger}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// isProtected reports whether path is a protected file or one of its
// sidecars.
func (t *Tree) isProtected(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return true
	}
	dir, name := filepath.Split(abs)
	for _, p := range t.protected {
		if strings.HasPrefix(abs, p+string(filepath.Separator)) {
			return true
		}
		pdir, pname := filepath.Split(p)
		if dir != pdir {
			continue
		}
		if name == pname || strings.HasPrefix(name, pname+".") || strings.HasPrefix(name, "."+pname+".") {
			return true
		}
	}
	return false
}

// holdsProtected reports whether dir is or contains a protected path.
func (t *Tree) holdsProtected(dir string) bool {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return true
	}
	prefix := abs + string(filepath.Separator)
	for _, p := range t.protected {
		if p == abs || strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

func (t *Tree) Root() string {
	return t.root
}

// EnsureLayout creates the given directories. It is idempotent.
func EnsureLayout(dirs ...string) error {
	for _, d := range dirs {
		if d == "" {
			continue
		}
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", d, err)
		}
	}
	return nil
}

// Resolve validates rel and returns the confined path.
func (t *Tree) Resolve(rel string) (*security.SafePath, error) {
	return security.ValidatePathInRoot(rel, t.root)
}

// Rel converts an absolute path inside the root to its slash-separated
// relative form.
func (t *Tree) Rel(abs string) (string, error) {
	sp, err := security.ValidatePathInRoot(abs, t.root)
	if err != nil {
		return "", err
	}
	return sp.Rel(), nil
}

// List returns the entries of the directory rel, directories first.
// Hidden entries are skipped.
func (t *Tree) List(rel string) ([]Entry, error) {
	sp, err := t.Resolve(rel)
	if err != nil {
		return nil, err
	}

	dirEntries, err := os.ReadDir(sp.Path())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperrors.ErrNotFound.WithCause(err)
		}
		return nil, fmt.Errorf("list %s: %w", rel, err)
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if strings.HasPrefix(de.Name(), ".") {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		e := Entry{
			Name:    de.Name(),
			Path:    joinRel(sp.Rel(), de.Name()),
			IsDir:   de.IsDir(),
			ModTime: info.ModTime(),
		}
		if !de.IsDir() {
			e.Size = info.Size()
		}
		entries = append(entries, e)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].IsDir != entries[j].IsDir {
			return entries[i].IsDir
		}
		return strings.ToLower(entries[i].Name) < strings.ToLower(entries[j].Name)
	})
	return entries, nil
}

// File resolves rel to an existing regular file.
func (t *Tree) File(rel string) (*security.SafePath, error) {
	sp, err := t.Resolve(rel)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(sp.Path())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperrors.ErrNotFound.WithCause(err)
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, apperrors.ErrBadRequest.WithMessage("%s is a directory", rel)
	}
	return sp, nil
}

// DeleteFile removes a single file inside the root.
func (t *Tree) DeleteFile(rel string) (*security.SafePath, error) {
	sp, err := t.File(rel)
	if err != nil {
		return nil, err
	}
	if t.isProtected(sp.Path()) {
		return nil, apperrors.ErrAccessDenied.WithMessage("%s belongs to the archive itself", rel)
	}
	if err := os.Remove(sp.Path()); err != nil {
		return nil, fmt.Errorf("delete %s: %w", rel, err)
	}
	t.logger.Info("Deleted file", zap.String("path", sp.Rel()))
	return sp, nil
}

// DeleteFolder removes a directory and everything below it. The root itself
// cannot be deleted.
func (t *Tree) DeleteFolder(rel string) (*security.SafePath, error) {
	sp, err := t.Resolve(rel)
	if err != nil {
		return nil, err
	}
	if sp.IsRoot() {
		return nil, apperrors.ErrAccessDenied.WithMessage("refusing to delete the archive root")
	}
	info, err := os.Stat(sp.Path())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperrors.ErrNotFound.WithCause(err)
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, apperrors.ErrBadRequest.WithMessage("%s is not a directory", rel)
	}
	if t.holdsProtected(sp.Path()) {
		return nil, apperrors.ErrAccessDenied.WithMessage("%s holds files of the archive itself", rel)
	}
	if err := os.RemoveAll(sp.Path()); err != nil {
		return nil, fmt.Errorf("delete folder %s: %w", rel, err)
	}
	t.logger.Info("Deleted folder", zap.String("path", sp.Rel()))
	return sp, nil
}

// Documents walks <root>/<yyyy>/<institution>/<file>. Hidden files and
// anything outside that shape are ignored.
func (t *Tree) Documents() ([]Document, error) {
	years, err := os.ReadDir(t.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var docs []Document
	for _, y := range years {
		if !y.IsDir() || !yearDirPattern.MatchString(y.Name()) || legacyDirPattern.MatchString(y.Name()) {
			continue
		}
		yearPath := filepath.Join(t.root, y.Name())
		insts, err := os.ReadDir(yearPath)
		if err != nil {
			t.logger.Warn("Skipping unreadable year folder", zap.String("path", yearPath), zap.Error(err))
			continue
		}
		for _, inst := range insts {
			if !inst.IsDir() || strings.HasPrefix(inst.Name(), ".") {
				continue
			}
			instPath := filepath.Join(yearPath, inst.Name())
			files, err := os.ReadDir(instPath)
			if err != nil {
				t.logger.Warn("Skipping unreadable folder", zap.String("path", instPath), zap.Error(err))
				continue
			}
			for _, f := range files {
				if f.IsDir() || strings.HasPrefix(f.Name(), ".") {
					continue
				}
				info, err := f.Info()
				if err != nil {
					continue
				}
				docs = append(docs, Document{
					Year:        y.Name(),
					Institution: inst.Name(),
					Name:        f.Name(),
					Rel:         y.Name() + "/" + inst.Name() + "/" + f.Name(),
					Path:        filepath.Join(instPath, f.Name()),
					ModTime:     info.ModTime(),
				})
			}
		}
	}
	return docs, nil
}

// LegacyFolders returns the numbered folders (0001 ... 0999) left directly
// under the root by the old folder-per-scan layout.
func (t *Tree) LegacyFolders() ([]string, error) {
	entries, err := os.ReadDir(t.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() && legacyDirPattern.MatchString(e.Name()) {
			out = append(out, filepath.Join(t.root, e.Name()))
		}
	}
	return out, nil
}

func joinRel(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}
