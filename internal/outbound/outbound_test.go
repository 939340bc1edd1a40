package outbound

import (
	"sync"
	"testing"

	"github.com/go-playground/assert/v2"

	"github.com/dshills/floo/internal/buf"
	"github.com/dshills/floo/internal/floourl"
	"github.com/dshills/floo/internal/protocol"
	"github.com/dshills/floo/internal/state"
)

type recorder struct {
	mu   sync.Mutex
	msgs []protocol.Message
}

func (r *recorder) Write(m protocol.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, m)
}

func setup() (*Handler, *recorder, *state.State) {
	s := state.New(floourl.MustParse("https://floobits.com/acme/proj"), "alice")
	r := &recorder{}
	return New(s, r), r, s
}

func TestHandler_Auth(t *testing.T) {
	h, r, _ := setup()
	h.Auth("alice", "key", "secret", "linux")

	assert.Equal(t, len(r.msgs), 1)
	auth := r.msgs[0].(protocol.Auth)
	assert.Equal(t, auth.Username, "alice")
	assert.Equal(t, auth.APIKey, "key")
	assert.Equal(t, auth.Secret, "secret")
	assert.Equal(t, auth.Owner, "acme")
	assert.Equal(t, auth.Workspace, "proj")
}

func TestHandler_CreateBuf(t *testing.T) {
	h, r, _ := setup()
	h.CreateBuf("a.txt", []byte("hello"))
	h.CreateBuf("a.bin", []byte{0xff, 0x00})

	text := r.msgs[0].(protocol.CreateBuf)
	assert.Equal(t, text.Path, "a.txt")
	assert.Equal(t, text.Buf, "hello")
	assert.Equal(t, text.Encoding, "utf8")
	assert.Equal(t, text.MD5, buf.Checksum("hello"))

	bin := r.msgs[1].(protocol.CreateBuf)
	assert.Equal(t, bin.Encoding, "base64")
	assert.Equal(t, bin.MD5, buf.Checksum(string([]byte{0xff, 0x00})))
}

func TestHandler_BufRequests(t *testing.T) {
	h, r, _ := setup()
	b := buf.New(7, "a.txt", buf.EncodingUTF8)

	h.DeleteBuf(b, true)
	h.RenameBuf(b, "b.txt")
	h.SaveBuf(b)
	h.GetBuf(7)

	assert.Equal(t, r.msgs[0], protocol.DeleteBuf{ID: 7, Unlink: true})
	assert.Equal(t, r.msgs[1], protocol.RenameBuf{ID: 7, Path: "b.txt", OldPath: "a.txt"})
	assert.Equal(t, r.msgs[2], protocol.SaveBuf{ID: 7})
	assert.Equal(t, r.msgs[3], protocol.GetBuf{ID: 7})
}

func TestHandler_NilBufIgnored(t *testing.T) {
	h, r, _ := setup()
	h.DeleteBuf(nil, false)
	h.RenameBuf(nil, "x")
	h.SaveBuf(nil)
	h.Highlight(nil, nil, false)
	assert.Equal(t, len(r.msgs), 0)
}

func TestHandler_Patch(t *testing.T) {
	h, r, _ := setup()
	p := buf.MakePatch("hello", "hullo")
	h.Patch(1, "a.txt", p)

	msg := r.msgs[0].(protocol.Patch)
	assert.Equal(t, msg.ID, 1)
	assert.Equal(t, msg.Patch, p.Text)
	assert.Equal(t, msg.MD5Before, buf.Checksum("hello"))
	assert.Equal(t, msg.MD5After, buf.Checksum("hullo"))
}

func TestHandler_Presence(t *testing.T) {
	h, r, s := setup()
	s.AddBuf(buf.New(3, "main.go", buf.EncodingUTF8))
	s.SetFollowing(true)

	h.Highlight(s.BufByID(3), []protocol.Range{{1, 2}}, true)
	h.Message("hi")
	h.Kick(9)
	h.SetPerms("add", 9, []string{"patch"})
	h.Summon("main.go", 42)
	h.RequestEdit()
	h.Pong()

	assert.Equal(t, r.msgs[0], protocol.Highlight{ID: 3, Ranges: []protocol.Range{{1, 2}}, Ping: true, Following: true})
	assert.Equal(t, r.msgs[1], protocol.Msg{Text: "hi"})
	assert.Equal(t, r.msgs[2], protocol.Kick{UserID: 9})
	assert.Equal(t, r.msgs[3], protocol.SetPerms{Action: "add", UserID: 9, Perms: []string{"patch"}})
	assert.Equal(t, r.msgs[4], protocol.Summon{ID: 3, Path: "main.go", Offset: 42})
	assert.Equal(t, r.msgs[5].MessageName(), protocol.NameRequestEdit)
	assert.Equal(t, r.msgs[6], protocol.Pong{})
}
