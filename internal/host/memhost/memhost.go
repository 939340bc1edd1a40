// Package memhost is an in-memory host adapter.
//
// Documents and files share one map keyed by absolute path. Writes made
// through the Documents interface notify listeners only with OnChange, tagged
// with the write's origin; the simulated user actions (Edit, Create,
// RenameFile, Remove, RemoveDir, SaveFile, Select) emit the events an editor
// would emit. Every listener call runs on the host's executor.
package memhost

import (
	"errors"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dshills/floo/internal/host"
)

// ErrNotFound is returned for a path with no document.
var ErrNotFound = errors.New("document not found")

// Write records one document write.
type Write struct {
	Path   string
	Text   string
	Origin host.Origin
}

type document struct {
	data     []byte
	readOnly bool
	modTime  time.Time
}

// Host is an in-memory host.
type Host struct {
	*host.SerialExecutor

	mu         sync.Mutex
	docs       map[string]*document
	listeners  map[int]host.Listener
	nextID     int
	writes     []Write
	saved      []string
	highlights []host.Highlight
}

var _ host.Host = (*Host)(nil)

// New returns an empty host with a running executor.
func New() *Host {
	return &Host{
		SerialExecutor: host.NewSerialExecutor(),
		docs:           make(map[string]*document),
		listeners:      make(map[int]host.Listener),
	}
}

// Subscribe implements host.EventSource.
func (h *Host) Subscribe(l host.Listener) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	h.listeners[id] = l
	return func() {
		h.mu.Lock()
		delete(h.listeners, id)
		h.mu.Unlock()
	}
}

func (h *Host) snapshotListeners() []host.Listener {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]int, 0, len(h.listeners))
	for id := range h.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]host.Listener, 0, len(ids))
	for _, id := range ids {
		out = append(out, h.listeners[id])
	}
	return out
}

func (h *Host) each(fn func(l host.Listener)) {
	for _, l := range h.snapshotListeners() {
		fn(l)
	}
}

// Text implements host.Documents.
func (h *Host) Text(p string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	d, ok := h.docs[p]
	if !ok {
		return "", false
	}
	return string(d.data), true
}

// SetText implements host.Documents. A missing document is created.
func (h *Host) SetText(p, text string, origin host.Origin) error {
	h.mu.Lock()
	d, ok := h.docs[p]
	if !ok {
		d = &document{}
		h.docs[p] = d
	}
	d.data = []byte(text)
	d.modTime = time.Now()
	h.writes = append(h.writes, Write{Path: p, Text: text, Origin: origin})
	h.mu.Unlock()

	ev := host.ChangeEvent{Path: p, Text: text, Origin: origin}
	h.each(func(l host.Listener) { l.OnChange(ev) })
	return nil
}

// SetReadOnly implements host.Documents.
func (h *Host) SetReadOnly(p string, readOnly bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if d, ok := h.docs[p]; ok {
		d.readOnly = readOnly
	}
}

// Rename implements host.Documents.
func (h *Host) Rename(oldPath, newPath string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	d, ok := h.docs[oldPath]
	if !ok {
		return ErrNotFound
	}
	delete(h.docs, oldPath)
	h.docs[newPath] = d
	return nil
}

// Delete implements host.Documents.
func (h *Host) Delete(p string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.docs[p]; !ok {
		return ErrNotFound
	}
	delete(h.docs, p)
	return nil
}

// Save implements host.Documents.
func (h *Host) Save(p string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.docs[p]; !ok {
		return ErrNotFound
	}
	h.saved = append(h.saved, p)
	return nil
}

// Highlight implements host.Documents.
func (h *Host) Highlight(hl host.Highlight) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.highlights = append(h.highlights, hl)
}

// ClearHighlights implements host.Documents.
func (h *Host) ClearHighlights() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.highlights = nil
}

// ReadFile implements host.Files.
func (h *Host) ReadFile(p string) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	d, ok := h.docs[p]
	if !ok {
		return nil, &fs.PathError{Op: "read", Path: p, Err: fs.ErrNotExist}
	}
	return append([]byte(nil), d.data...), nil
}

// Stat implements host.Files.
func (h *Host) Stat(p string) (fs.FileInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	d, ok := h.docs[p]
	if !ok {
		return nil, &fs.PathError{Op: "stat", Path: p, Err: fs.ErrNotExist}
	}
	return fileInfo{name: path.Base(p), size: int64(len(d.data)), modTime: d.modTime}, nil
}

// Walk implements host.Files. Files are visited in lexical order.
func (h *Host) Walk(dir string, fn func(p string, info fs.FileInfo) error) error {
	prefix := strings.TrimSuffix(dir, "/") + "/"
	h.mu.Lock()
	var paths []string
	for p := range h.docs {
		if strings.HasPrefix(p, prefix) {
			paths = append(paths, p)
		}
	}
	h.mu.Unlock()
	sort.Strings(paths)

	for _, p := range paths {
		info, err := h.Stat(p)
		if err != nil {
			continue
		}
		if err := fn(p, info); err != nil {
			return err
		}
	}
	return nil
}

// PutFile stores a file without emitting events.
func (h *Host) PutFile(p string, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.docs[p] = &document{data: append([]byte(nil), data...), modTime: time.Now()}
}

// Edit simulates a user typing: listeners see OnBeforeChange with the old
// text, then OnChange with OriginLocal.
func (h *Host) Edit(p, text string) {
	h.Submit(func() {
		old, _ := h.Text(p)
		h.each(func(l host.Listener) { l.OnBeforeChange(p, old) })
		_ = h.SetText(p, text, host.OriginLocal)
	})
}

// Create simulates the user creating a file.
func (h *Host) Create(p string, data []byte) {
	h.Submit(func() {
		h.PutFile(p, data)
		h.each(func(l host.Listener) { l.OnCreate(p) })
	})
}

// RenameFile simulates the user moving a file.
func (h *Host) RenameFile(oldPath, newPath string) {
	h.Submit(func() {
		_ = h.Rename(oldPath, newPath)
		h.each(func(l host.Listener) { l.OnRename(oldPath, newPath) })
	})
}

// Remove simulates the user deleting a file.
func (h *Host) Remove(p string) {
	h.Submit(func() {
		_ = h.Delete(p)
		h.each(func(l host.Listener) { l.OnDelete(p) })
	})
}

// RemoveDir simulates the user deleting a directory.
func (h *Host) RemoveDir(dir string) {
	h.Submit(func() {
		var removed []string
		_ = h.Walk(dir, func(p string, _ fs.FileInfo) error {
			removed = append(removed, p)
			return nil
		})
		for _, p := range removed {
			_ = h.Delete(p)
		}
		h.each(func(l host.Listener) { l.OnDeleteDirectory(removed) })
	})
}

// SaveFile simulates the user saving a file.
func (h *Host) SaveFile(p string) {
	h.Submit(func() {
		h.each(func(l host.Listener) { l.OnSave(p) })
	})
}

// Select simulates the user moving the selection.
func (h *Host) Select(p string, ranges []host.Range) {
	h.Submit(func() {
		h.each(func(l host.Listener) { l.OnSelection(p, ranges) })
	})
}

// IsReadOnly reports a document's read-only flag.
func (h *Host) IsReadOnly(p string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	d, ok := h.docs[p]
	return ok && d.readOnly
}

// Writes returns every document write so far.
func (h *Host) Writes() []Write {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Write(nil), h.writes...)
}

// Saved returns the paths saved through Documents.Save.
func (h *Host) Saved() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.saved...)
}

// Highlights returns the highlights rendered since the last clear.
func (h *Host) Highlights() []host.Highlight {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]host.Highlight(nil), h.highlights...)
}

type fileInfo struct {
	name    string
	size    int64
	modTime time.Time
}

func (fi fileInfo) Name() string { return fi.name }
func (fi fileInfo) Size() int64 { return fi.size }
func (fi fileInfo) Mode() fs.FileMode { return 0o644 }
func (fi fileInfo) ModTime() time.Time { return fi.modTime }
func (fi fileInfo) IsDir() bool { return false }
func (fi fileInfo) Sys() any { return nil }
