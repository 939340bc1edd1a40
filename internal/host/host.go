package host

import (
	"io/fs"
)

// Origin records who caused a document mutation.
type Origin int

const (
	// OriginLocal is a user edit in the local editor.
	OriginLocal Origin = iota
	// OriginRemote is a write applying remote content.
	OriginRemote
	// OriginRestore is a write reverting a blocked local edit.
	OriginRestore
)

// String returns a human-readable origin.
func (o Origin) String() string {
	switch o {
	case OriginLocal:
		return "local"
	case OriginRemote:
		return "remote"
	case OriginRestore:
		return "restore"
	default:
		return "unknown"
	}
}

// IsLocal reports whether the mutation came from the user.
func (o Origin) IsLocal() bool {
	return o == OriginLocal
}

// Range is a [start, end) character offset pair within a document.
type Range struct {
	Start int
	End   int
}

// ChangeEvent reports a document whose text changed.
type ChangeEvent struct {
	// Path is the absolute path of the document.
	Path string
	// Text is the full document text after the change.
	Text string
	// Origin is the provenance of the write that caused the change.
	Origin Origin
}

// Highlight is a remote user's selection to render locally.
type Highlight struct {
	// Path is the absolute path of the document.
	Path     string
	Ranges   []Range
	UserID   int
	Username string
	// Focus asks the host to open the document and move the viewport.
	Focus bool
}

// Listener receives local editor events.
type Listener interface {
	// OnBeforeChange is called before a user edit is applied to a document,
	// with the document text prior to the edit.
	OnBeforeChange(path, text string)
	OnChange(ev ChangeEvent)
	OnCreate(path string)
	OnRename(oldPath, newPath string)
	OnDelete(path string)
	OnDeleteDirectory(paths []string)
	OnSave(path string)
	OnSelection(path string, ranges []Range)
}

// EventSource delivers local events to listeners on the host's executor.
type EventSource interface {
	// Subscribe registers l and returns a function that unregisters it.
	Subscribe(l Listener) (unsubscribe func())
}

// Documents mutates live documents. Calls must be made on the host's
// executor.
type Documents interface {
	// Text returns the current text of an open or on-disk document.
	Text(path string) (string, bool)
	// SetText replaces the document text. The resulting change event carries
	// origin.
	SetText(path, text string, origin Origin) error
	// SetReadOnly marks a document read-only or writable.
	SetReadOnly(path string, readOnly bool)
	// Rename moves a document.
	Rename(oldPath, newPath string) error
	// Delete removes a document.
	Delete(path string) error
	// Save flushes a document to disk.
	Save(path string) error
	// Highlight renders a remote selection.
	Highlight(h Highlight)
	// ClearHighlights removes every remote selection.
	ClearHighlights()
}

// Files gives read access to files under the shared root.
type Files interface {
	ReadFile(path string) ([]byte, error)
	Stat(path string) (fs.FileInfo, error)
	// Walk calls fn for every regular file under dir.
	Walk(dir string, fn func(path string, info fs.FileInfo) error) error
}

// Executor runs work on the host's single-threaded write context.
type Executor interface {
	// Submit queues fn. It never blocks and preserves submission order.
	Submit(fn func())
}

// Host is the full capability set an adapter provides.
type Host interface {
	EventSource
	Documents
	Files
	Executor
}
