// Package registry remembers which local directory each workspace was joined
// into, and which workspaces were joined most recently.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/golang/glog"
	"github.com/tidwall/jsonc"

	"github.com/dshills/floo/internal/floourl"
)

// MaxRecent bounds the recent workspace list.
const MaxRecent = 100

// Entry is one known workspace.
type Entry struct {
	URL  string `json:"url"`
	Path string `json:"path"`
}

type document struct {
	Workspaces             map[string]map[string]Entry `json:"workspaces"`
	RecentWorkspaces       []Entry                     `json:"recent_workspaces"`
	AutoGeneratedAccount   bool                        `json:"auto_generated_account"`
	DisableAccountCreation bool                        `json:"disable_account_creation"`
}

// Registry is the persistent workspace registry. It is safe for concurrent
// use.
type Registry struct {
	path string

	mu  sync.Mutex
	doc document
}

// DefaultPath returns ~/floobits/persistent.json.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, "floobits", "persistent.json")
}

// Open reads the registry at path. A missing file yields an empty registry.
// Comments and trailing commas are tolerated.
func Open(path string) (*Registry, error) {
	r := &Registry{path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			r.doc.Workspaces = make(map[string]map[string]Entry)
			return r, nil
		}
		return nil, fmt.Errorf("reading registry: %w", err)
	}
	if err := json.Unmarshal(jsonc.ToJSON(data), &r.doc); err != nil {
		return nil, fmt.Errorf("parsing registry %s: %w", path, err)
	}
	if r.doc.Workspaces == nil {
		r.doc.Workspaces = make(map[string]map[string]Entry)
	}
	return r, nil
}

// Path returns the file the registry is saved to.
func (r *Registry) Path() string {
	return r.path
}

// AddWorkspace records that u lives in dir and moves it to the front of the
// recent list.
func (r *Registry) AddWorkspace(u floourl.URL, dir string) {
	e := Entry{URL: u.String(), Path: dir}

	r.mu.Lock()
	defer r.mu.Unlock()

	byOwner := r.doc.Workspaces[u.Owner]
	if byOwner == nil {
		byOwner = make(map[string]Entry)
		r.doc.Workspaces[u.Owner] = byOwner
	}
	byOwner[u.Workspace] = e

	recent := make([]Entry, 0, len(r.doc.RecentWorkspaces)+1)
	recent = append(recent, e)
	for _, old := range r.doc.RecentWorkspaces {
		if old.URL == e.URL {
			continue
		}
		recent = append(recent, old)
	}
	if len(recent) > MaxRecent {
		recent = recent[:MaxRecent]
	}
	r.doc.RecentWorkspaces = recent
	glog.V(1).Infof("[registry]%s -> %s\n", e.URL, dir)
}

// Lookup returns the local directory u was last joined into.
func (r *Registry) Lookup(u floourl.URL) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.doc.Workspaces[u.Owner][u.Workspace]
	if !ok || e.Path == "" {
		return "", false
	}
	return e.Path, true
}

// Recent returns the most recently joined workspaces, newest first.
func (r *Registry) Recent() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.doc.RecentWorkspaces...)
}

// AccountCreationDisabled reports whether automatic account creation was
// turned off by the user.
func (r *Registry) AccountCreationDisabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc.DisableAccountCreation
}

// AutoGeneratedAccount reports whether the stored credentials were last seen
// belonging to an account created on the user's behalf.
func (r *Registry) AutoGeneratedAccount() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc.AutoGeneratedAccount
}

// SetAutoGeneratedAccount records whether the stored credentials belong to
// an account created on the user's behalf.
func (r *Registry) SetAutoGeneratedAccount(v bool) {
	r.mu.Lock()
	r.doc.AutoGeneratedAccount = v
	r.mu.Unlock()
}

// Save writes the registry, replacing the file atomically.
func (r *Registry) Save() error {
	r.mu.Lock()
	data, err := json.MarshalIndent(&r.doc, "", "    ")
	r.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encoding registry: %w", err)
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".persistent.*.json")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	name := tmp.Name()
	defer os.Remove(name)
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("writing registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing registry: %w", err)
	}
	return os.Rename(name, r.path)
}
