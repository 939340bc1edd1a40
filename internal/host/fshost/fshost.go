package fshost

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/dshills/floo/internal/host"
	"github.com/dshills/floo/internal/workspace"
)

// Options configures a Host.
type Options struct {
	// DebounceDelay is how long a path must be quiet before its change is
	// reported. Defaults to DefaultDebounceDelay.
	DebounceDelay time.Duration
	// OnHighlight, when set, is called for every remote highlight.
	OnHighlight func(h host.Highlight)
}

// Host implements host.Host on top of a directory.
type Host struct {
	*host.SerialExecutor

	root *workspace.Root
	opts Options

	mu        sync.Mutex
	known     map[string]string
	readOnly  map[string]bool
	listeners map[int]host.Listener
	nextID    int
	watcher   *watcher
}

var _ host.Host = (*Host)(nil)

// New returns a host for root. Call Start to begin watching.
func New(root *workspace.Root, opts Options) *Host {
	return &Host{
		SerialExecutor: host.NewSerialExecutor(),
		root:           root,
		opts:           opts,
		known:          make(map[string]string),
		readOnly:       make(map[string]bool),
		listeners:      make(map[int]host.Listener),
	}
}

// Start records the current content of every shared file and starts the
// watcher.
func (h *Host) Start() error {
	if err := h.scan(); err != nil {
		return err
	}
	return h.watch()
}

func (h *Host) scan() error {
	err := h.Walk(h.root.Dir(), func(p string, info fs.FileInfo) error {
		if info.Size() > workspace.MaxFileSize {
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil
		}
		h.mu.Lock()
		h.known[p] = string(data)
		h.mu.Unlock()
		return nil
	})
	if err != nil {
		return fmt.Errorf("scanning %s: %w", h.root.Dir(), err)
	}
	return nil
}

func (h *Host) watch() error {
	w, err := newWatcher(h.opts.DebounceDelay, h.root.IsIgnored, func(p string) {
		h.Submit(func() { h.sync(p) })
	})
	if err != nil {
		return fmt.Errorf("starting watcher: %w", err)
	}
	if err := w.watchRecursive(h.root.Dir()); err != nil {
		w.close()
		return err
	}
	h.mu.Lock()
	h.watcher = w
	h.mu.Unlock()
	glog.Infof("[fshost]watching %s\n", h.root.Dir())
	return nil
}

// Flush reports pending watcher changes without waiting for the debounce
// delay.
func (h *Host) Flush() {
	h.mu.Lock()
	w := h.watcher
	h.mu.Unlock()
	if w != nil {
		w.flush()
	}
}

// Close stops the watcher and the executor.
func (h *Host) Close() error {
	h.mu.Lock()
	w := h.watcher
	h.watcher = nil
	h.mu.Unlock()

	var err error
	if w != nil {
		err = w.close()
	}
	h.SerialExecutor.Close()
	return err
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

func (h *Host) each(fn func(l host.Listener)) {
	h.mu.Lock()
	ids := make([]int, 0, len(h.listeners))
	for id := range h.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	ls := make([]host.Listener, 0, len(ids))
	for _, id := range ids {
		ls = append(ls, h.listeners[id])
	}
	h.mu.Unlock()

	for _, l := range ls {
		fn(l)
	}
}

// sync compares p on disk against the last known text and emits the events a
// user change would have produced. It runs on the executor.
func (h *Host) sync(p string) {
	info, err := os.Stat(p)
	switch {
	case err == nil && info.IsDir():
		h.syncDir(p)
	case err == nil:
		h.syncFile(p, info)
	case errors.Is(err, fs.ErrNotExist):
		h.syncRemoved(p)
	default:
		glog.Warningf("[fshost]stat %s error = %s\n", p, err)
	}
}

func (h *Host) syncFile(p string, info fs.FileInfo) {
	if h.root.IsIgnored(p, false) || info.Size() > workspace.MaxFileSize {
		return
	}
	data, err := os.ReadFile(p)
	if err != nil {
		glog.Warningf("[fshost]read %s error = %s\n", p, err)
		return
	}
	text := string(data)

	h.mu.Lock()
	old, ok := h.known[p]
	h.known[p] = text
	h.mu.Unlock()

	switch {
	case !ok:
		h.each(func(l host.Listener) { l.OnCreate(p) })
	case old != text:
		h.each(func(l host.Listener) { l.OnBeforeChange(p, old) })
		ev := host.ChangeEvent{Path: p, Text: text, Origin: host.OriginLocal}
		h.each(func(l host.Listener) { l.OnChange(ev) })
	}
}

func (h *Host) syncDir(dir string) {
	_ = h.Walk(dir, func(p string, info fs.FileInfo) error {
		h.syncFile(p, info)
		return nil
	})
}

func (h *Host) syncRemoved(p string) {
	prefix := p + string(filepath.Separator)

	h.mu.Lock()
	_, file := h.known[p]
	var removed []string
	if file {
		delete(h.known, p)
	} else {
		for k := range h.known {
			if strings.HasPrefix(k, prefix) {
				removed = append(removed, k)
				delete(h.known, k)
			}
		}
	}
	h.mu.Unlock()

	switch {
	case file:
		h.each(func(l host.Listener) { l.OnDelete(p) })
	case len(removed) > 0:
		sort.Strings(removed)
		h.each(func(l host.Listener) { l.OnDeleteDirectory(removed) })
	}
}

// Text implements host.Documents.
func (h *Host) Text(p string) (string, bool) {
	h.mu.Lock()
	text, ok := h.known[p]
	h.mu.Unlock()
	if ok {
		return text, true
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return "", false
	}
	return string(data), true
}

// SetText implements host.Documents. Missing parent directories are created.
func (h *Host) SetText(p, text string, origin host.Origin) error {
	h.mu.Lock()
	h.known[p] = text
	h.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(p, []byte(text), 0o644); err != nil {
		return err
	}
	glog.V(2).Infof("[fshost]%s write %s\n", origin, p)

	ev := host.ChangeEvent{Path: p, Text: text, Origin: origin}
	h.each(func(l host.Listener) { l.OnChange(ev) })
	return nil
}

// SetReadOnly implements host.Documents. The flag is advisory: local edits
// to a read-only file are reverted by the session, not blocked on disk.
func (h *Host) SetReadOnly(p string, readOnly bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if readOnly {
		h.readOnly[p] = true
	} else {
		delete(h.readOnly, p)
	}
}

// IsReadOnly reports the flag set by SetReadOnly.
func (h *Host) IsReadOnly(p string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.readOnly[p]
}

// Rename implements host.Documents.
func (h *Host) Rename(oldPath, newPath string) error {
	if err := os.MkdirAll(filepath.Dir(newPath), 0o755); err != nil {
		return err
	}
	h.mu.Lock()
	text, ok := h.known[oldPath]
	delete(h.known, oldPath)
	if ok {
		h.known[newPath] = text
	}
	if h.readOnly[oldPath] {
		delete(h.readOnly, oldPath)
		h.readOnly[newPath] = true
	}
	h.mu.Unlock()
	return os.Rename(oldPath, newPath)
}

// Delete implements host.Documents.
func (h *Host) Delete(p string) error {
	h.mu.Lock()
	delete(h.known, p)
	delete(h.readOnly, p)
	h.mu.Unlock()
	err := os.Remove(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Save implements host.Documents. Files on disk are always saved.
func (h *Host) Save(string) error {
	return nil
}

// Highlight implements host.Documents.
func (h *Host) Highlight(hl host.Highlight) {
	glog.V(1).Infof("[fshost]highlight %s by %s\n", hl.Path, hl.Username)
	if h.opts.OnHighlight != nil {
		h.opts.OnHighlight(hl)
	}
}

// ClearHighlights implements host.Documents.
func (h *Host) ClearHighlights() {}

// ReadFile implements host.Files.
func (h *Host) ReadFile(p string) ([]byte, error) {
	return os.ReadFile(p)
}

// Stat implements host.Files.
func (h *Host) Stat(p string) (fs.FileInfo, error) {
	return os.Stat(p)
}

// Walk implements host.Files. Ignored directories are not descended into.
func (h *Host) Walk(dir string, fn func(p string, info fs.FileInfo) error) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if p != dir && h.root.IsIgnored(p, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || h.root.IsIgnored(p, false) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		return fn(p, info)
	})
}
