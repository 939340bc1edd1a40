package fshost

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/golang/glog"
)

// ErrWatcherClosed is returned when watching after Close.
var ErrWatcherClosed = errors.New("watcher is closed")

// DefaultDebounceDelay coalesces bursts of events for one path.
const DefaultDebounceDelay = 100 * time.Millisecond

// watcher watches a directory tree and reports, after a quiet period, every
// path that saw any event. Consumers inspect the path themselves: the kind of
// change is not reported since editors save through create, rename and write
// sequences that only make sense once settled.
type watcher struct {
	fsw    *fsnotify.Watcher
	delay  time.Duration
	skip   func(path string, isDir bool) bool
	notify func(path string)

	mu      sync.Mutex
	pending map[string]*time.Timer
	closed  bool
	closeCh chan struct{}
	wg      sync.WaitGroup
}

func newWatcher(delay time.Duration, skip func(string, bool) bool, notify func(string)) (*watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if delay <= 0 {
		delay = DefaultDebounceDelay
	}
	w := &watcher{
		fsw:     fsw,
		delay:   delay,
		skip:    skip,
		notify:  notify,
		pending: make(map[string]*time.Timer),
		closeCh: make(chan struct{}),
	}
	w.wg.Add(1)
	go w.processLoop()
	return w, nil
}

// watchRecursive adds dir and every directory below it that is not skipped.
func (w *watcher) watchRecursive(dir string) error {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return ErrWatcherClosed
	}

	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != dir && w.skip(p, true) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(p); err != nil {
			glog.Warningf("[fshost]watch %s error = %s\n", p, err)
		}
		return nil
	})
}

func (w *watcher) close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.closeCh)
	for p, t := range w.pending {
		t.Stop()
		delete(w.pending, p)
	}
	w.mu.Unlock()

	err := w.fsw.Close()
	w.wg.Wait()
	return err
}

func (w *watcher) processLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.closeCh:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			glog.Warningf("[fshost]watcher error = %s\n", err)
		}
	}
}

func (w *watcher) handle(ev fsnotify.Event) {
	if ev.Op == fsnotify.Chmod {
		return
	}
	info, err := os.Stat(ev.Name)
	isDir := err == nil && info.IsDir()
	if w.skip(ev.Name, isDir) {
		return
	}
	if isDir && ev.Op.Has(fsnotify.Create) {
		if err := w.watchRecursive(ev.Name); err != nil {
			glog.Warningf("[fshost]watch %s error = %s\n", ev.Name, err)
		}
	}
	w.schedule(ev.Name)
}

// schedule delays notification of p, restarting the delay when p is already
// pending.
func (w *watcher) schedule(p string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if t, ok := w.pending[p]; ok {
		t.Reset(w.delay)
		return
	}
	w.pending[p] = time.AfterFunc(w.delay, func() { w.fire(p) })
}

func (w *watcher) fire(p string) {
	w.mu.Lock()
	if _, ok := w.pending[p]; !ok || w.closed {
		w.mu.Unlock()
		return
	}
	delete(w.pending, p)
	w.mu.Unlock()
	w.notify(p)
}

// flush fires every pending path immediately.
func (w *watcher) flush() {
	w.mu.Lock()
	paths := make([]string, 0, len(w.pending))
	for p, t := range w.pending {
		t.Stop()
		paths = append(paths, p)
	}
	w.mu.Unlock()
	for _, p := range paths {
		w.fire(p)
	}
}
