package inbound

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
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

// Host is the part of the host adapter the inbound path writes to.
type Host interface {
	host.Documents
	host.Files
	host.Executor
}

// Options configures a Handler.
type Options struct {
	State    *state.State
	Outbound *outbound.Handler
	Host     Host
	Root     *workspace.Root
	UI       presence.UI

	// OnJoined is called once room_info has been applied.
	OnJoined func()
	// OnDisconnect is called when the service announces it is closing the
	// session.
	OnDisconnect func(reason string)
	// Report receives failures from work run on the host executor, which
	// cannot be returned from Handle.
	Report func(context string, err error)
}

type handlerFunc func(name string, payload json.RawMessage) error

// Handler dispatches inbound messages by name.
type Handler struct {
	state *state.State
	out   *outbound.Handler
	host  Host
	root  *workspace.Root
	ui    presence.UI

	onJoined     func()
	onDisconnect func(reason string)
	report       func(context string, err error)

	handlers map[string]handlerFunc
}

// New returns a handler.
func New(opts Options) *Handler {
	h := &Handler{
		state:        opts.State,
		out:          opts.Outbound,
		host:         opts.Host,
		root:         opts.Root,
		ui:           opts.UI,
		onJoined:     opts.OnJoined,
		onDisconnect: opts.OnDisconnect,
		report:       opts.Report,
	}
	if h.ui == nil {
		h.ui = presence.Nop{}
	}
	h.handlers = map[string]handlerFunc{
		protocol.NameRoomInfo:     on(h.roomInfo),
		protocol.NameGetBuf:       h.bufContent,
		protocol.NameCreateBuf:    h.bufContent,
		protocol.NamePatch:        on(h.patch),
		protocol.NameRenameBuf:    on(h.renameBuf),
		protocol.NameDeleteBuf:    on(h.deleteBuf),
		protocol.NameSaved:        on(h.saved),
		protocol.NameHighlight:    on(h.highlight),
		protocol.NameSummon:       on(h.summon),
		protocol.NameMsg:          on(h.msg),
		protocol.NameJoin:         on(h.join),
		protocol.NamePart:         on(h.part),
		protocol.NamePerms:        on(h.perms),
		protocol.NameRequestPerms: on(h.requestPerms),
		protocol.NameError:        on(h.serviceError),
		protocol.NameDisconnect:   on(h.disconnect),
		protocol.NamePing:         func(string, json.RawMessage) error { h.out.Pong(); return nil },
		protocol.NameAck:          func(string, json.RawMessage) error { return nil },
	}
	return h
}

// on adapts a typed handler to a handlerFunc.
func on[T any](fn func(T) error) handlerFunc {
	return func(name string, payload json.RawMessage) error {
		var msg T
		if err := protocol.Unmarshal(name, payload, &msg); err != nil {
			return err
		}
		return fn(msg)
	}
}

// Handle applies one message. Unknown names are ignored. A payload that does
// not decode returns a *protocol.Error.
func (h *Handler) Handle(name string, payload json.RawMessage) error {
	fn, ok := h.handlers[name]
	if !ok {
		glog.V(1).Infof("[inbound]ignoring %s\n", name)
		return nil
	}
	glog.V(2).Infof("[inbound]%s\n", name)
	return fn(name, payload)
}

func (h *Handler) fail(context string, err error) {
	glog.Errorf("[inbound]%s: %v\n", context, err)
	if h.report != nil {
		h.report(context, err)
	}
}

// submit runs fn on the host executor. A panic in fn is reported under
// context. When id names a buffer, that buffer is invalidated, and with
// resync a fresh copy is requested.
func (h *Handler) submit(context string, id int, resync bool, fn func()) {
	h.host.Submit(func() {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			if id > 0 {
				if b := h.state.BufByID(id); b != nil {
					b.Invalidate()
					if resync {
						h.out.GetBuf(id)
					}
				}
			}
			h.fail(context, fmt.Errorf("panic: %v", r))
		}()
		fn()
	})
}

// write replaces a document's text with remote content. Must run on the
// host executor.
func (h *Handler) write(abs, text string) {
	if cur, ok := h.host.Text(abs); ok && cur == text {
		return
	}
	if err := h.host.SetText(abs, text, host.OriginRemote); err != nil {
		h.fail("write "+abs, err)
	}
}

func (h *Handler) abs(rel string) (string, bool) {
	abs, err := h.root.Abs(rel)
	if err != nil {
		glog.Warningf("[inbound]%q: %v\n", rel, err)
		return "", false
	}
	return abs, true
}

func (h *Handler) roomInfo(ri protocol.RoomInfo) error {
	h.state.Reset()
	h.state.SetUserID(ri.UserID)
	h.state.SetPerms(ri.Perms)

	h.ui.ClearUsers()
	for _, u := range ri.Users {
		h.state.AddUser(u)
	}
	for _, u := range h.state.Users() {
		h.ui.AddUser(u.UserID, u.Username, u.Client)
	}

	infos := make([]protocol.BufInfo, 0, len(ri.Bufs))
	for _, info := range ri.Bufs {
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })

	readOnly := h.state.ReadOnly()
	var fetch int
	for _, info := range infos {
		abs, ok := h.abs(info.Path)
		if !ok {
			continue
		}
		enc := buf.ParseEncoding(info.Encoding)
		if text, ok := h.localCopy(abs, info.MD5); ok {
			h.state.AddBuf(buf.NewPopulated(info.ID, info.Path, text, enc))
			if readOnly {
				h.submit(protocol.NameRoomInfo, 0, false, func() { h.host.SetReadOnly(abs, true) })
			}
			continue
		}
		h.state.AddBuf(buf.New(info.ID, info.Path, enc))
		h.out.GetBuf(info.ID)
		fetch++
	}

	glog.Infof("[inbound]joined %s: %d bufs, %d to fetch\n", h.state.URL(), len(infos), fetch)
	h.ui.StatusMessage(fmt.Sprintf("You successfully joined %s", h.state.URL()))
	if readOnly {
		h.ui.StatusMessage("You don't have permission to edit this workspace. All files are read-only.")
	}
	if h.onJoined != nil {
		h.onJoined()
	}
	return nil
}

// localCopy returns the file at abs when its checksum matches md5.
func (h *Handler) localCopy(abs, md5 string) (string, bool) {
	data, err := h.host.ReadFile(abs)
	if err != nil {
		return "", false
	}
	text := string(data)
	if buf.Checksum(text) != md5 {
		return "", false
	}
	return text, true
}

func (h *Handler) bufContent(name string, payload json.RawMessage) error {
	var c protocol.BufContent
	if err := protocol.Unmarshal(name, payload, &c); err != nil {
		return err
	}
	enc := buf.ParseEncoding(c.Encoding)
	raw, err := buf.DecodeContent(c.Buf, enc)
	if err != nil {
		return &protocol.Error{Name: name, Err: fmt.Errorf("%w: %v", protocol.ErrMalformed, err)}
	}
	abs, ok := h.abs(c.Path)
	if !ok {
		return nil
	}

	text := string(raw)
	h.submit(name, c.ID, false, func() {
		b := h.state.BufByID(c.ID)
		if b == nil || b.Path() != c.Path {
			b = buf.New(c.ID, c.Path, enc)
			h.state.AddBuf(b)
		}
		_ = b.Do(func(tx *buf.Tx) error {
			tx.Populate(text, "", enc)
			h.write(abs, text)
			return nil
		})
		h.host.SetReadOnly(abs, h.state.ReadOnly())
	})

	if name == protocol.NameCreateBuf && c.Username != "" {
		h.ui.StatusMessage(fmt.Sprintf("%s created %s", c.Username, c.Path))
	}
	return nil
}

func (h *Handler) patch(p protocol.Patch) error {
	h.submit(protocol.NamePatch, p.ID, true, func() { h.applyPatch(p) })
	return nil
}

// applyPatch runs on the host executor. Anything short of a clean, verified
// application leaves the text untouched and requests one fresh copy.
func (h *Handler) applyPatch(p protocol.Patch) {
	b := h.state.BufByID(p.ID)
	if b == nil {
		glog.Infof("[inbound]patch for unknown buf %d\n", p.ID)
		h.out.GetBuf(p.ID)
		return
	}
	abs, ok := h.abs(b.Path())
	if !ok {
		return
	}

	_, err := b.ApplyRemote(buf.Patch{
		Text:      p.Patch,
		MD5Before: p.MD5Before,
		MD5After:  p.MD5After,
	}, func(text string) {
		h.write(abs, text)
	})
	if err != nil {
		glog.Warningf("[inbound]patch for buf %d (%s): %v; fetching a fresh copy\n", p.ID, b.Path(), err)
		h.out.GetBuf(p.ID)
	}
}

// renameBuf moves the buffer and its document in one executor task, so a
// patch received earlier still lands on the old path before the move.
func (h *Handler) renameBuf(r protocol.RenameBuf) error {
	newAbs, ok := h.abs(r.Path)
	if !ok {
		return nil
	}
	h.submit(protocol.NameRenameBuf, r.ID, true, func() {
		b := h.state.BufByID(r.ID)
		if b == nil {
			return
		}
		oldAbs, ok := h.abs(b.Path())
		if !ok {
			return
		}
		oldPath, _ := h.state.RenameBuf(r.ID, r.Path)
		if err := h.host.Rename(oldAbs, newAbs); err != nil {
			glog.Warningf("[inbound]rename %s to %s: %v\n", oldPath, r.Path, err)
		}
	})
	return nil
}

func (h *Handler) deleteBuf(d protocol.DeleteBuf) error {
	h.submit(protocol.NameDeleteBuf, 0, false, func() {
		b := h.state.RemoveBuf(d.ID)
		if b == nil {
			return
		}
		path := b.Path()
		if d.Username != "" {
			h.ui.StatusMessage(fmt.Sprintf("%s deleted %s", d.Username, path))
		}
		if !d.Unlink {
			return
		}
		abs, ok := h.abs(path)
		if !ok {
			return
		}
		if err := h.host.Delete(abs); err != nil {
			glog.Warningf("[inbound]delete %s: %v\n", path, err)
		}
	})
	return nil
}

func (h *Handler) saved(s protocol.Saved) error {
	h.submit(protocol.NameSaved, 0, false, func() {
		b := h.state.BufByID(s.ID)
		if b == nil {
			return
		}
		abs, ok := h.abs(b.Path())
		if !ok {
			return
		}
		if err := h.host.Save(abs); err != nil {
			glog.Warningf("[inbound]save %s: %v\n", abs, err)
		}
	})
	return nil
}

func (h *Handler) highlight(hl protocol.Highlight) error {
	h.state.SetLastHighlight(&hl)
	h.ApplyHighlight(hl, h.state.Following() || hl.Summon || hl.Ping)
	return nil
}

func (h *Handler) summon(s protocol.Summon) error {
	h.submit(protocol.NameSummon, 0, false, func() {
		id := s.ID
		if id == 0 {
			b := h.state.BufByPath(s.Path)
			if b == nil {
				return
			}
			id = b.ID()
		}
		h.applyHighlight(protocol.Highlight{
			ID:     id,
			Ranges: []protocol.Range{{s.Offset, s.Offset}},
			Summon: true,
		}, true)
	})
	return nil
}

// ApplyHighlight renders a remote highlight on the host executor. focus moves
// the viewport to it.
func (h *Handler) ApplyHighlight(hl protocol.Highlight, focus bool) {
	h.submit(protocol.NameHighlight, 0, false, func() { h.applyHighlight(hl, focus) })
}

// applyHighlight runs on the host executor.
func (h *Handler) applyHighlight(hl protocol.Highlight, focus bool) {
	b := h.state.BufByID(hl.ID)
	if b == nil {
		return
	}
	abs, ok := h.abs(b.Path())
	if !ok {
		return
	}
	ranges := make([]host.Range, len(hl.Ranges))
	for i, r := range hl.Ranges {
		ranges[i] = host.Range{Start: r[0], End: r[1]}
	}
	username := hl.Username
	if username == "" {
		if u, ok := h.state.User(hl.UserID); ok {
			username = u.Username
		}
	}
	h.host.Highlight(host.Highlight{
		Path:     abs,
		Ranges:   ranges,
		UserID:   hl.UserID,
		Username: username,
		Focus:    focus,
	})
}

func (h *Handler) msg(m protocol.Msg) error {
	h.ui.ChatMessage(m.Username, m.Text, unixTime(m.Time))
	return nil
}

func unixTime(ts float64) time.Time {
	if ts <= 0 {
		return time.Time{}
	}
	sec, frac := math.Modf(ts)
	return time.Unix(int64(sec), int64(frac*1e9))
}

func (h *Handler) join(u protocol.User) error {
	h.state.AddUser(u)
	h.ui.AddUser(u.UserID, u.Username, u.Client)
	return nil
}

func (h *Handler) part(p protocol.Part) error {
	name := p.Username
	if u, ok := h.state.RemoveUser(p.UserID); ok && name == "" {
		name = u.Username
	}
	h.ui.RemoveUser(p.UserID, name)
	return nil
}

func (h *Handler) perms(p protocol.Perms) error {
	if p.UserID != h.state.UserID() {
		if u, ok := h.state.User(p.UserID); ok {
			h.state.SetUserPerms(p.UserID, applyPermsAction(u.Perms, p.Action, p.Perms))
		}
		return nil
	}

	if !h.state.UpdatePerms(p.Action, p.Perms) {
		return nil
	}
	readOnly := h.state.ReadOnly()
	if readOnly {
		h.ui.StatusMessage("You no longer have permission to edit this workspace.")
	} else {
		h.ui.StatusMessage("You can now edit this workspace.")
	}
	h.submit(protocol.NamePerms, 0, false, func() {
		for _, b := range h.state.Bufs() {
			if abs, ok := h.abs(b.Path()); ok {
				h.host.SetReadOnly(abs, readOnly)
			}
		}
	})
	return nil
}

// applyPermsAction returns current after an add, remove or set action.
func applyPermsAction(current []string, action string, perms []string) []string {
	set := make(map[string]bool)
	if action == "add" || action == "remove" {
		for _, p := range current {
			set[p] = true
		}
	}
	for _, p := range perms {
		set[p] = action != "remove"
	}
	out := make([]string, 0, len(set))
	for p, ok := range set {
		if ok {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

func (h *Handler) requestPerms(r protocol.RequestPerms) error {
	name := r.Username
	if u, ok := h.state.User(r.UserID); ok && name == "" {
		name = u.Username
	}
	h.ui.StatusMessage(fmt.Sprintf("%s is requesting %s permission.", name, strings.Join(r.Perms, ", ")))
	return nil
}

func (h *Handler) serviceError(e protocol.ErrorMsg) error {
	glog.Warningf("[inbound]service error: %s\n", e.Msg)
	h.ui.ErrorMessage(e.Msg)
	return nil
}

func (h *Handler) disconnect(d protocol.Disconnect) error {
	glog.Infof("[inbound]disconnected: %s\n", d.Reason)
	h.ui.ErrorMessage(fmt.Sprintf("You were disconnected: %s", d.Reason))
	if h.onDisconnect != nil {
		h.onDisconnect(d.Reason)
	}
	return nil
}
