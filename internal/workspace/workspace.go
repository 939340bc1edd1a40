// Package workspace maps between local absolute paths and the
// workspace-relative paths used on the wire.
//
// Only files under the shared root take part in a session. Relative paths
// always use forward slashes regardless of platform.
package workspace

import (
	"errors"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// MaxFileSize is the largest file that is uploaded.
const MaxFileSize = 5 * 1024 * 1024

// Common errors.
var (
	ErrInvalidPath = errors.New("invalid root path")
	ErrNotShared   = errors.New("path is outside the shared root")
)

// Root is the local directory a workspace is synchronized into.
type Root struct {
	dir    string
	ignore *Ignore
}

// NewRoot returns a Root for dir. dir is made absolute and cleaned.
func NewRoot(dir string) (*Root, error) {
	if dir == "" {
		return nil, ErrInvalidPath
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	return &Root{dir: filepath.Clean(abs), ignore: NewDefaultIgnore()}, nil
}

// Dir returns the absolute root directory.
func (r *Root) Dir() string {
	return r.dir
}

// Exists reports whether the root directory exists.
func (r *Root) Exists() bool {
	info, err := os.Stat(r.dir)
	return err == nil && info.IsDir()
}

// Ignore returns the root's ignore rules.
func (r *Root) Ignore() *Ignore {
	return r.ignore
}

// Rel converts an absolute path to a workspace-relative path. It returns
// false when the path is outside the root or is the root itself.
func (r *Root) Rel(abs string) (string, bool) {
	if abs == "" {
		return "", false
	}
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(r.dir, abs)
	}
	rel, err := filepath.Rel(r.dir, filepath.Clean(abs))
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", false
	}
	return rel, true
}

// Abs converts a workspace-relative path to an absolute local path. Relative
// paths that would escape the root are rejected.
func (r *Root) Abs(rel string) (string, error) {
	if up := path.Clean(filepath.ToSlash(rel)); up == ".." || strings.HasPrefix(up, "../") {
		return "", ErrNotShared
	}
	clean := path.Clean("/" + filepath.ToSlash(rel))
	if clean == "/" {
		return "", ErrNotShared
	}
	abs := filepath.Join(r.dir, filepath.FromSlash(clean[1:]))
	if _, ok := r.Rel(abs); !ok {
		return "", ErrNotShared
	}
	return abs, nil
}

// IsShared reports whether abs is inside the root.
func (r *Root) IsShared(abs string) bool {
	_, ok := r.Rel(abs)
	return ok
}

// IsIgnored reports whether abs is excluded from sharing.
func (r *Root) IsIgnored(abs string, isDir bool) bool {
	rel, ok := r.Rel(abs)
	if !ok {
		return true
	}
	return r.ignore.Match(rel, isDir)
}
