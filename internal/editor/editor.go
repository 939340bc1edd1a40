package editor

import (
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/dshills/floo/internal/buf"
	"github.com/dshills/floo/internal/host"
	"github.com/dshills/floo/internal/outbound"
	"github.com/dshills/floo/internal/presence"
	"github.com/dshills/floo/internal/protocol"
	"github.com/dshills/floo/internal/state"
	"github.com/dshills/floo/internal/workspace"
)

// DefaultRestoreDelay is how long a blocked edit stays visible before it is
// reverted.
const DefaultRestoreDelay = 50 * time.Millisecond

// HighlightApplier renders a remote highlight locally.
type HighlightApplier interface {
	ApplyHighlight(hl protocol.Highlight, focus bool)
}

// Options configures a Handler.
type Options struct {
	State    *state.State
	Outbound *outbound.Handler
	Host     host.Host
	Root     *workspace.Root
	UI       presence.UI
	// Highlights re-applies the last highlight when follow mode is enabled.
	Highlights HighlightApplier
	// RestoreDelay defaults to DefaultRestoreDelay.
	RestoreDelay time.Duration
}

// Handler turns local events into outbound requests.
type Handler struct {
	state      *state.State
	out        *outbound.Handler
	host       host.Host
	root       *workspace.Root
	ui         presence.UI
	highlights HighlightApplier
	delay      time.Duration

	mu          sync.Mutex
	restores    map[string]*time.Timer
	unsubscribe func()
	started     bool
	closed      bool
}

var _ host.Listener = (*Handler)(nil)

// New returns a handler. Call Start to begin receiving events.
func New(opts Options) *Handler {
	h := &Handler{
		state:      opts.State,
		out:        opts.Outbound,
		host:       opts.Host,
		root:       opts.Root,
		ui:         opts.UI,
		highlights: opts.Highlights,
		delay:      opts.RestoreDelay,
		restores:   make(map[string]*time.Timer),
	}
	if h.ui == nil {
		h.ui = presence.Nop{}
	}
	if h.delay <= 0 {
		h.delay = DefaultRestoreDelay
	}
	return h
}

// Start subscribes to the host's events. Calling it again has no effect.
func (h *Handler) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started || h.closed {
		return
	}
	h.started = true
	h.unsubscribe = h.host.Subscribe(h)
}

// Shutdown unsubscribes and cancels pending restores. It is idempotent.
func (h *Handler) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	if h.unsubscribe != nil {
		h.unsubscribe()
		h.unsubscribe = nil
	}
	for path, t := range h.restores {
		t.Stop()
		delete(h.restores, path)
	}
}

func (h *Handler) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// bufAt returns the relative path and buffer for an absolute path. b is nil
// when the path is shared but not tracked.
func (h *Handler) bufAt(abs string) (rel string, b *buf.Buf, shared bool) {
	rel, shared = h.root.Rel(abs)
	if !shared {
		return "", nil, false
	}
	return rel, h.state.BufByPath(rel), true
}

func (h *Handler) canPatch(event string) bool {
	if h.isClosed() {
		return false
	}
	if !h.state.Can(state.PermPatch) {
		glog.V(1).Infof("[editor]%s ignored: no patch permission\n", event)
		return false
	}
	return true
}

// OnChange sends a patch for a local edit.
func (h *Handler) OnChange(ev host.ChangeEvent) {
	if !ev.Origin.IsLocal() {
		return
	}
	if !h.canPatch("change") {
		return
	}
	_, b, shared := h.bufAt(ev.Path)
	if !shared || b == nil {
		return
	}
	err := b.LocalEdit(ev.Text, h.out.Patch)
	switch {
	case err == nil:
	case errors.Is(err, buf.ErrNotPopulated):
		glog.Infof("[editor]buf %d isn't populated yet: %s\n", b.ID(), ev.Path)
	default:
		glog.V(1).Infof("[editor]change to %s not sent: %v\n", ev.Path, err)
	}
}

// OnBeforeChange guards documents the user may not edit yet. The edit is
// allowed to land, then reverted after the restore delay.
func (h *Handler) OnBeforeChange(path, text string) {
	if h.isClosed() {
		return
	}
	_, b, _ := h.bufAt(path)
	if b == nil {
		return
	}
	var msg string
	switch {
	case h.state.ReadOnly():
		msg = "This document is read-only because you don't have edit permission in the workspace."
	case !b.IsPopulated():
		msg = "This document is temporarily read-only while a fresh copy is fetched."
	default:
		return
	}
	h.ui.StatusMessage(msg)
	h.host.SetReadOnly(path, true)
	h.scheduleRestore(path, b, text)
}

func (h *Handler) scheduleRestore(path string, b *buf.Buf, text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	if _, pending := h.restores[path]; pending {
		return
	}
	h.restores[path] = time.AfterFunc(h.delay, func() {
		h.host.Submit(func() { h.restore(path, b, text) })
	})
}

// restore runs on the host executor.
func (h *Handler) restore(path string, b *buf.Buf, text string) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	delete(h.restores, path)
	h.mu.Unlock()

	if !h.state.ReadOnly() && b.IsPopulated() {
		return
	}
	if cur, ok := h.host.Text(path); !ok || cur == text {
		return
	}
	h.host.SetReadOnly(path, false)
	if err := h.host.SetText(path, text, host.OriginRestore); err != nil {
		glog.Warningf("[editor]restore %s: %v\n", path, err)
	}
	h.host.SetReadOnly(path, true)
}

// OnCreate uploads a new file.
func (h *Handler) OnCreate(path string) {
	if !h.canPatch("create") {
		return
	}
	h.Upload(path)
}

// OnRename renames the buffer, or deletes it when it left the shared root.
func (h *Handler) OnRename(oldPath, newPath string) {
	if !h.canPatch("rename") {
		return
	}
	_, b, _ := h.bufAt(oldPath)
	if b == nil {
		glog.V(1).Infof("[editor]rename of untracked %s\n", oldPath)
		return
	}
	newRel, ok := h.root.Rel(newPath)
	if !ok {
		glog.Warningf("[editor]%s was moved to %s, deleting from workspace\n", b.Path(), newPath)
		h.out.DeleteBuf(b, true)
		return
	}
	if b.Path() == newRel {
		return
	}
	h.out.RenameBuf(b, newRel)
}

// OnDelete removes the buffer for a deleted file.
func (h *Handler) OnDelete(path string) {
	if !h.canPatch("delete") {
		return
	}
	h.delete(path)
}

// OnDeleteDirectory removes the buffers for every file in a deleted directory.
func (h *Handler) OnDeleteDirectory(paths []string) {
	if !h.canPatch("delete directory") {
		return
	}
	for _, p := range paths {
		h.delete(p)
	}
}

func (h *Handler) delete(path string) {
	_, b, _ := h.bufAt(path)
	if b == nil {
		return
	}
	h.out.DeleteBuf(b, true)
}

// SoftDelete removes files from the workspace without deleting them on other
// clients.
func (h *Handler) SoftDelete(paths []string) {
	if !h.canPatch("soft delete") {
		return
	}
	for _, p := range paths {
		_, b, _ := h.bufAt(p)
		if b == nil {
			h.ui.StatusMessage(fmt.Sprintf("The file %s is not in the workspace.", p))
			continue
		}
		h.out.DeleteBuf(b, false)
	}
}

// OnSave asks other clients to save.
func (h *Handler) OnSave(path string) {
	if h.isClosed() {
		return
	}
	_, b, _ := h.bufAt(path)
	h.out.SaveBuf(b)
}

// OnSelection broadcasts the local selection.
func (h *Handler) OnSelection(path string, ranges []host.Range) {
	if h.isClosed() {
		return
	}
	_, b, _ := h.bufAt(path)
	h.out.Highlight(b, toProtocolRanges(ranges), false)
}

func toProtocolRanges(ranges []host.Range) []protocol.Range {
	out := make([]protocol.Range, len(ranges))
	for i, r := range ranges {
		out[i] = protocol.Range{r.Start, r.End}
	}
	return out
}

// Follow toggles follow mode and returns the new mode. Enabling it jumps to
// the most recent remote highlight.
func (h *Handler) Follow() bool {
	on, last := h.state.ToggleFollowing()
	if on {
		h.ui.StatusMessage("Enabling follow mode")
	} else {
		h.ui.StatusMessage("Disabling follow mode")
	}
	if on && last != nil && h.highlights != nil {
		h.highlights.ApplyHighlight(*last, true)
	}
	return on
}

// Upload shares one local file. It does nothing for a read-only session, an
// unreadable, ignored or oversized file, or a file already in the workspace.
func (h *Handler) Upload(path string) {
	if h.state.ReadOnly() {
		return
	}
	rel, b, shared := h.bufAt(path)
	if !shared {
		return
	}
	if b != nil {
		glog.V(1).Infof("[editor]already in workspace: %s\n", rel)
		return
	}
	info, err := h.host.Stat(path)
	if err != nil || info.IsDir() {
		return
	}
	h.upload(path, rel, info)
}

func (h *Handler) upload(path, rel string, info fs.FileInfo) {
	if h.root.IsIgnored(path, false) {
		glog.V(1).Infof("[editor]ignored: %s\n", rel)
		return
	}
	if info.Size() > workspace.MaxFileSize {
		h.ui.StatusMessage(fmt.Sprintf("%s is too large to upload (%d bytes).", rel, info.Size()))
		return
	}
	data, err := h.host.ReadFile(path)
	if err != nil {
		glog.Warningf("[editor]read %s: %v\n", path, err)
		return
	}
	h.out.CreateBuf(rel, data)
}

// UploadDir shares every file under dir that is not already tracked. It
// returns the number of files sent.
func (h *Handler) UploadDir(dir string) int {
	if h.state.ReadOnly() {
		return 0
	}
	var n int
	err := h.host.Walk(dir, func(path string, info fs.FileInfo) error {
		rel, b, shared := h.bufAt(path)
		if !shared || b != nil || info.IsDir() {
			return nil
		}
		if h.root.IsIgnored(path, false) || info.Size() > workspace.MaxFileSize {
			return nil
		}
		h.upload(path, rel, info)
		n++
		return nil
	})
	if err != nil {
		glog.Warningf("[editor]walk %s: %v\n", dir, err)
	}
	return n
}

// Message sends a chat message.
func (h *Handler) Message(text string) {
	h.out.Message(text)
}

// Kick disconnects a user when the local user may.
func (h *Handler) Kick(userID int) bool {
	if !h.state.Can(state.PermKick) {
		h.ui.ErrorMessage("You don't have permission to kick users.")
		return false
	}
	h.out.Kick(userID)
	return true
}

// SetPerms replaces a user's permissions when the local user may.
func (h *Handler) SetPerms(userID int, perms []string) bool {
	if !h.state.Can(state.PermSetPerms) {
		h.ui.ErrorMessage("You don't have permission to change permissions.")
		return false
	}
	h.out.SetPerms("set", userID, perms)
	return true
}

// Summon asks everyone to look at offset in the file at abs.
func (h *Handler) Summon(abs string, offset int) {
	rel, ok := h.root.Rel(abs)
	if !ok {
		return
	}
	h.out.Summon(rel, offset)
}

// RequestEdit asks for edit permission.
func (h *Handler) RequestEdit() {
	h.out.RequestEdit()
	h.ui.StatusMessage("Edit permission requested.")
}

// ClearHighlights removes every remote highlight.
func (h *Handler) ClearHighlights() {
	h.host.Submit(h.host.ClearHighlights)
}
