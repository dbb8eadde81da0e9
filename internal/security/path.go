// Package security confines user-supplied paths to the archive root and
// screens document text before it is sent to an external service.
package security

import (
	"os"
	"path/filepath"
	"strings"

	apperrors "github.com/dani-farcas/autoDocOrganizer/internal/errors"
)

var encodedTraversal = []string{
	"%2e%2e",
	"%252e%252e",
	"..%2f",
	"%2f..",
	"..%5c",
}

type SafePath struct {
	path string
	rel  string
}

// Path is the cleaned absolute path.
func (sp *SafePath) Path() string {
	return sp.path
}

// Rel is the slash-separated path relative to the root ("" for the root).
func (sp *SafePath) Rel() string {
	return sp.rel
}

func (sp *SafePath) String() string {
	return sp.path
}

// IsRoot reports whether the path is the root itself.
func (sp *SafePath) IsRoot() bool {
	return sp.rel == ""
}

// ValidatePathInRoot resolves path (relative to root, or absolute) and
// returns ErrAccessDenied unless it stays inside root after cleaning and
// symlink resolution.
func ValidatePathInRoot(path, root string) (*SafePath, error) {
	if containsTraversal(path) {
		return nil, apperrors.ErrAccessDenied.WithMessage("path traversal detected: %s", path)
	}

	rootPath := filepath.Clean(root)
	if !filepath.IsAbs(rootPath) {
		absRoot, err := filepath.Abs(rootPath)
		if err != nil {
			return nil, apperrors.ErrAccessDenied.WithCause(err)
		}
		rootPath = absRoot
	}

	// Web clients send forward slashes on every platform.
	native := filepath.FromSlash(path)

	var target string
	if filepath.IsAbs(native) {
		target = filepath.Clean(native)
	} else {
		target = filepath.Join(rootPath, native)
	}

	if target != rootPath && !strings.HasPrefix(target, rootPath+string(os.PathSeparator)) {
		return nil, apperrors.ErrAccessDenied.WithMessage("%s is outside the archive root", path)
	}

	if err := checkSymlinkEscape(target, rootPath); err != nil {
		return nil, err
	}

	rel, err := filepath.Rel(rootPath, target)
	if err != nil {
		return nil, apperrors.ErrAccessDenied.WithCause(err)
	}
	if rel == "." {
		rel = ""
	}

	return &SafePath{path: target, rel: filepath.ToSlash(rel)}, nil
}

// containsTraversal flags ".." path elements and their URL-encoded forms.
func containsTraversal(path string) bool {
	lower := strings.ToLower(path)
	for _, pattern := range encodedTraversal {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	for _, part := range strings.FieldsFunc(path, func(r rune) bool { return r == '/' || r == '\\' }) {
		if part == ".." {
			return true
		}
	}
	return false
}

func checkSymlinkEscape(targetPath, rootPath string) error {
	relPath, err := filepath.Rel(rootPath, targetPath)
	if err != nil {
		return nil
	}

	currentPath := rootPath
	for _, part := range strings.Split(relPath, string(os.PathSeparator)) {
		if part == "" || part == "." {
			continue
		}

		currentPath = filepath.Join(currentPath, part)

		info, err := os.Lstat(currentPath)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return apperrors.ErrAccessDenied.WithCause(err)
		}

		if info.Mode()&os.ModeSymlink != 0 {
			resolved, err := filepath.EvalSymlinks(currentPath)
			if err != nil {
				continue
			}
			resolved = filepath.Clean(resolved)
			realRoot, err := filepath.EvalSymlinks(rootPath)
			if err != nil {
				realRoot = rootPath
			}
			if resolved != realRoot && !strings.HasPrefix(resolved, realRoot+string(os.PathSeparator)) {
				return apperrors.ErrAccessDenied.WithMessage("symlink %s leaves the archive root", part)
			}
		}
	}

	return nil
}

// IsPathInRoot reports whether path stays inside root.
func IsPathInRoot(path, root string) bool {
	_, err := ValidatePathInRoot(path, root)
	return err == nil
}

// SanitizeSegment turns an arbitrary label into a single safe path element.
// Separators and traversal elements cannot survive it.
func SanitizeSegment(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', 0:
			return '-'
		}
		if r < 0x20 {
			return -1
		}
		return r
	}, s)
	s = strings.Trim(s, ". ")
	return s
}
