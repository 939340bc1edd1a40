package workspace

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// IgnoreFiles are read from every directory while walking the shared root.
var IgnoreFiles = []string{".flooignore", ".gitignore"}

// DefaultIgnores are never shared.
var DefaultIgnores = []string{
	".git/",
	".svn/",
	".hg/",
	".floo",
	".idea/workspace.xml",
	"node_modules/",
	"__pycache__/",
	"*.pyc",
	"*.swp",
	"*~",
	".DS_Store",
}

// Ignore matches workspace-relative paths against gitignore-style rules:
//
//	*.log             files ending in .log at any depth
//	/build/           the build directory at the root only
//	**/gen/**         anything under a gen directory
//	!keep.log         re-include keep.log
//
// Later rules override earlier ones.
type Ignore struct {
	mu    sync.RWMutex
	rules []ignoreRule
}

type ignoreRule struct {
	source  string
	glob    string
	negate  bool
	dirOnly bool
	rooted  bool
	// base is the slash-separated directory the rule was loaded from,
	// relative to the shared root. Empty for root-level rules.
	base string
}

// NewIgnore returns an empty rule set.
func NewIgnore() *Ignore {
	return &Ignore{}
}

// NewDefaultIgnore returns a rule set holding DefaultIgnores.
func NewDefaultIgnore() *Ignore {
	ig := NewIgnore()
	for _, p := range DefaultIgnores {
		ig.Add("", p)
	}
	return ig
}

// Add adds one rule. base is the relative directory the rule applies under.
func (ig *Ignore) Add(base, line string) {
	line = strings.TrimRight(line, " \t\r")
	if line == "" || strings.HasPrefix(line, "#") {
		return
	}

	r := ignoreRule{source: line, base: filepath.ToSlash(base)}
	if strings.HasPrefix(line, "!") {
		r.negate = true
		line = line[1:]
	}
	if strings.HasSuffix(line, "/") {
		r.dirOnly = true
		line = strings.TrimSuffix(line, "/")
	}
	if strings.HasPrefix(line, "/") {
		r.rooted = true
		line = line[1:]
	}
	r.glob = line

	ig.mu.Lock()
	ig.rules = append(ig.rules, r)
	ig.mu.Unlock()
}

// LoadDir reads the ignore files found in dir. rel is dir relative to the
// shared root. Missing files are not an error.
func (ig *Ignore) LoadDir(dir, rel string) error {
	for _, name := range IgnoreFiles {
		f, err := os.Open(filepath.Join(dir, name))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			ig.Add(rel, scanner.Text())
		}
		err = scanner.Err()
		f.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of rules.
func (ig *Ignore) Len() int {
	ig.mu.RLock()
	defer ig.mu.RUnlock()
	return len(ig.rules)
}

// Match reports whether the relative path is ignored.
func (ig *Ignore) Match(rel string, isDir bool) bool {
	rel = filepath.ToSlash(rel)

	ig.mu.RLock()
	defer ig.mu.RUnlock()

	ignored := false
	for _, r := range ig.rules {
		if r.dirOnly && !isDir {
			// A directory rule still ignores files beneath the directory.
			if !r.negate && r.matchesParent(rel) {
				ignored = true
			}
			continue
		}
		if r.matches(rel) || (!r.negate && r.matchesParent(rel)) {
			ignored = !r.negate
		}
	}
	return ignored
}

// local returns rel relative to the rule's base, or false when rel is
// outside it.
func (r ignoreRule) local(rel string) (string, bool) {
	if r.base == "" || r.base == "." {
		return rel, true
	}
	prefix := r.base + "/"
	if !strings.HasPrefix(rel, prefix) {
		return "", false
	}
	return rel[len(prefix):], true
}

func (r ignoreRule) matches(rel string) bool {
	p, ok := r.local(rel)
	if !ok {
		return false
	}

	if strings.Contains(r.glob, "**") {
		return matchDoubleStar(r.glob, p)
	}

	if r.rooted || strings.Contains(r.glob, "/") {
		return globMatch(r.glob, p)
	}

	// Unanchored rules match any path component suffix.
	parts := strings.Split(p, "/")
	return globMatch(r.glob, parts[len(parts)-1])
}

// matchesParent reports whether any parent directory of rel matches.
func (r ignoreRule) matchesParent(rel string) bool {
	parts := strings.Split(rel, "/")
	for i := 1; i < len(parts); i++ {
		parent := strings.Join(parts[:i], "/")
		if r.matchesDir(parent) {
			return true
		}
	}
	return false
}

func (r ignoreRule) matchesDir(dir string) bool {
	p, ok := r.local(dir)
	if !ok {
		return false
	}
	if strings.Contains(r.glob, "**") {
		return matchDoubleStar(r.glob, p)
	}
	if r.rooted || strings.Contains(r.glob, "/") {
		return globMatch(r.glob, p)
	}
	parts := strings.Split(p, "/")
	return globMatch(r.glob, parts[len(parts)-1])
}

func globMatch(pattern, name string) bool {
	ok, _ := filepath.Match(pattern, name)
	return ok
}

// matchDoubleStar handles ** which matches any number of path components.
func matchDoubleStar(pattern, p string) bool {
	parts := strings.Split(p, "/")

	if rest, ok := strings.CutPrefix(pattern, "**/"); ok {
		if middle, ok := strings.CutSuffix(rest, "/**"); ok {
			for _, part := range parts[:len(parts)-1] {
				if globMatch(middle, part) {
					return true
				}
			}
			return false
		}
		for i := range parts {
			if globMatch(rest, strings.Join(parts[i:], "/")) {
				return true
			}
		}
		return false
	}

	prefix, suffix, found := strings.Cut(pattern, "**")
	if !found {
		return globMatch(pattern, p)
	}
	prefix = strings.TrimSuffix(prefix, "/")
	suffix = strings.TrimPrefix(suffix, "/")
	if prefix != "" && p != prefix && !strings.HasPrefix(p, prefix+"/") {
		return false
	}
	if suffix == "" {
		return true
	}
	for i := range parts {
		if globMatch(suffix, strings.Join(parts[i:], "/")) {
			return true
		}
	}
	return false
}
