// Package outbound turns local intents into protocol requests.
//
// Each method builds one message and hands it to the connection writer. No
// method blocks, and none checks permissions: gating happens upstream in the
// editor bridge. Whether the service accepted a request is only visible later,
// through the inbound handler.
package outbound

import (
	"github.com/golang/glog"

	"github.com/dshills/floo/internal/buf"
	"github.com/dshills/floo/internal/protocol"
	"github.com/dshills/floo/internal/state"
)

// Writer enqueues one message for sending.
type Writer interface {
	Write(m protocol.Message)
}

// Client identification sent with auth.
var (
	ClientName    = "floo-go"
	ClientVersion = "0.1.0"
)

// Handler builds and sends outbound requests.
type Handler struct {
	state *state.State
	w     Writer
}

// New returns a handler sending through w.
func New(s *state.State, w Writer) *Handler {
	return &Handler{state: s, w: w}
}

func (h *Handler) send(m protocol.Message) {
	glog.V(2).Infof("[outbound]%s\n", m.MessageName())
	h.w.Write(m)
}

// Auth authenticates the session.
func (h *Handler) Auth(username, apiKey, secret, platform string) {
	u := h.state.URL()
	h.send(protocol.Auth{
		Username:           username,
		APIKey:             apiKey,
		Secret:             secret,
		Owner:              u.Owner,
		Workspace:          u.Workspace,
		Client:             ClientName,
		Platform:           platform,
		Version:            ClientVersion,
		SupportedEncodings: []string{string(buf.EncodingUTF8), string(buf.EncodingBase64)},
	})
}

// CreateBuf uploads a new file. raw is the file content; it is base64
// encoded when it is not valid UTF-8.
func (h *Handler) CreateBuf(path string, raw []byte) {
	content, enc := buf.EncodeContent(raw)
	h.send(protocol.CreateBuf{
		Path:     path,
		Buf:      content,
		MD5:      buf.Checksum(string(raw)),
		Encoding: string(enc),
	})
}

// DeleteBuf removes a buffer. unlink is true when the local file is already
// gone and other clients should delete theirs too.
func (h *Handler) DeleteBuf(b *buf.Buf, unlink bool) {
	if b == nil {
		return
	}
	h.send(protocol.DeleteBuf{ID: b.ID(), Unlink: unlink})
}

// RenameBuf moves a buffer to a new relative path.
func (h *Handler) RenameBuf(b *buf.Buf, newPath string) {
	if b == nil {
		return
	}
	h.send(protocol.RenameBuf{ID: b.ID(), Path: newPath, OldPath: b.Path()})
}

// SaveBuf asks every client to save the buffer.
func (h *Handler) SaveBuf(b *buf.Buf) {
	if b == nil {
		return
	}
	h.send(protocol.SaveBuf{ID: b.ID()})
}

// Patch sends a local edit.
func (h *Handler) Patch(id int, path string, p buf.Patch) {
	h.send(protocol.Patch{
		ID:        id,
		Path:      path,
		Patch:     p.Text,
		MD5Before: p.MD5Before,
		MD5After:  p.MD5After,
	})
}

// GetBuf requests a fresh copy of a buffer.
func (h *Handler) GetBuf(id int) {
	h.send(protocol.GetBuf{ID: id})
}

// Highlight broadcasts the local selection in b. ping asks others to look.
func (h *Handler) Highlight(b *buf.Buf, ranges []protocol.Range, ping bool) {
	if b == nil {
		return
	}
	h.send(protocol.Highlight{
		ID:        b.ID(),
		Ranges:    ranges,
		Ping:      ping,
		Following: h.state.Following(),
	})
}

// Message sends a chat message.
func (h *Handler) Message(text string) {
	h.send(protocol.Msg{Text: text})
}

// Kick disconnects a user.
func (h *Handler) Kick(userID int) {
	h.send(protocol.Kick{UserID: userID})
}

// SetPerms changes a user's permissions.
func (h *Handler) SetPerms(action string, userID int, perms []string) {
	h.send(protocol.SetPerms{Action: action, UserID: userID, Perms: perms})
}

// Summon asks everyone to jump to offset in path.
func (h *Handler) Summon(path string, offset int) {
	id := 0
	if b := h.state.BufByPath(path); b != nil {
		id = b.ID()
	}
	h.send(protocol.Summon{ID: id, Path: path, Offset: offset})
}

// RequestEdit asks the workspace admins for edit permission.
func (h *Handler) RequestEdit() {
	h.send(protocol.RequestEdit{Perms: []string{"edit_room"}})
}

// Pong answers a ping.
func (h *Handler) Pong() {
	h.send(protocol.Pong{})
}

// RequestCredentials starts the account-link flow.
func (h *Handler) RequestCredentials(token string) {
	h.send(protocol.RequestCredentials{Token: token})
}
