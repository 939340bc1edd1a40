package editor

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"github.com/dshills/floo/internal/buf"
	"github.com/dshills/floo/internal/floourl"
	"github.com/dshills/floo/internal/host"
	"github.com/dshills/floo/internal/host/memhost"
	"github.com/dshills/floo/internal/inbound"
	"github.com/dshills/floo/internal/outbound"
	"github.com/dshills/floo/internal/protocol"
	"github.com/dshills/floo/internal/state"
	"github.com/dshills/floo/internal/workspace"
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

func (r *recorder) named(names ...string) []protocol.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []protocol.Message
	for _, m := range r.msgs {
		for _, n := range names {
			if m.MessageName() == n {
				out = append(out, m)
			}
		}
	}
	return out
}

type fixture struct {
	host  *memhost.Host
	state *state.State
	out   *recorder
	in    *inbound.Handler
	ed    *Handler
}

func newFixture(t *testing.T, perms []string) *fixture {
	t.Helper()
	root, err := workspace.NewRoot("/ws")
	if err != nil {
		t.Fatal(err)
	}
	f := &fixture{
		host:  memhost.New(),
		state: state.New(floourl.MustParse("https://floobits.com/acme/proj"), "alice"),
		out:   &recorder{},
	}
	t.Cleanup(f.host.Close)

	ob := outbound.New(f.state, f.out)
	f.in = inbound.New(inbound.Options{State: f.state, Outbound: ob, Host: f.host, Root: root})
	f.ed = New(Options{
		State:        f.state,
		Outbound:     ob,
		Host:         f.host,
		Root:         root,
		Highlights:   f.in,
		RestoreDelay: 10 * time.Millisecond,
	})
	f.ed.Start()
	t.Cleanup(f.ed.Shutdown)

	f.handle(t, protocol.NameRoomInfo, protocol.RoomInfo{UserID: 5, Perms: perms})
	return f
}

func (f *fixture) handle(t *testing.T, name string, v any) {
	t.Helper()
	payload, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.in.Handle(name, payload); err != nil {
		t.Fatalf("Handle(%s) error = %v", name, err)
	}
	f.host.Sync()
}

func (f *fixture) populate(t *testing.T, id int, path, text string) {
	t.Helper()
	f.handle(t, protocol.NameGetBuf, protocol.BufContent{ID: id, Path: path, Buf: text})
}

func (f *fixture) remotePatch(t *testing.T, id int, before, after string) {
	t.Helper()
	p := buf.MakePatch(before, after)
	f.handle(t, protocol.NamePatch, protocol.Patch{ID: id, Patch: p.Text, MD5Before: p.MD5Before, MD5After: p.MD5After})
}

var changeIntents = []string{
	protocol.NamePatch,
	protocol.NameCreateBuf,
	protocol.NameRenameBuf,
	protocol.NameDeleteBuf,
}

func TestHandler_LocalEditSendsOnePatch(t *testing.T) {
	f := newFixture(t, []string{state.PermPatch})
	f.populate(t, 1, "a.txt", "hello")

	f.host.Edit("/ws/a.txt", "hello world")
	f.host.Sync()

	patches := f.out.named(protocol.NamePatch)
	assert.Equal(t, len(patches), 1)
	p := patches[0].(protocol.Patch)
	assert.Equal(t, p.ID, 1)
	assert.Equal(t, p.Path, "a.txt")
	assert.Equal(t, p.MD5Before, buf.Checksum("hello"))
	assert.Equal(t, p.MD5After, buf.Checksum("hello world"))

	got, _, err := buf.ApplyPatch("hello", p.Patch)
	assert.Equal(t, err, nil)
	assert.Equal(t, got, "hello world")
	assert.Equal(t, f.state.BufByID(1).Text(), "hello world")
}

func TestHandler_RemotePatchIsNotEchoed(t *testing.T) {
	f := newFixture(t, []string{state.PermPatch})
	f.populate(t, 1, "a.txt", "hello")
	f.remotePatch(t, 1, "hello", "hello there")

	text, _ := f.host.Text("/ws/a.txt")
	assert.Equal(t, text, "hello there")
	assert.Equal(t, len(f.out.named(changeIntents...)), 0)
}

func TestHandler_NoPermissionNoIntents(t *testing.T) {
	f := newFixture(t, nil)
	f.populate(t, 1, "a.txt", "hello")
	f.populate(t, 2, "d/b.txt", "bee")

	f.host.Edit("/ws/a.txt", "changed")
	f.host.Create("/ws/new.txt", []byte("new"))
	f.host.RenameFile("/ws/a.txt", "/ws/renamed.txt")
	f.host.RemoveDir("/ws/d")
	f.host.Remove("/ws/renamed.txt")
	f.host.Sync()
	f.ed.SoftDelete([]string{"/ws/a.txt"})
	f.ed.Upload("/ws/new.txt")

	assert.Equal(t, len(f.out.named(changeIntents...)), 0)
}

func TestHandler_Rename(t *testing.T) {
	f := newFixture(t, []string{state.PermPatch})
	f.populate(t, 1, "a.txt", "hello")

	f.ed.OnRename("/ws/a.txt", "/ws/a.txt")
	f.ed.OnRename("/ws/untracked.txt", "/ws/other.txt")
	assert.Equal(t, len(f.out.named(changeIntents...)), 0)

	f.ed.OnRename("/ws/a.txt", "/ws/src/a.txt")
	f.ed.OnRename("/ws/a.txt", "/elsewhere/a.txt")

	assert.Equal(t, f.out.named(changeIntents...), []protocol.Message{
		protocol.RenameBuf{ID: 1, Path: "src/a.txt", OldPath: "a.txt"},
		protocol.DeleteBuf{ID: 1, Unlink: true},
	})
}

func TestHandler_Delete(t *testing.T) {
	f := newFixture(t, []string{state.PermPatch})
	f.populate(t, 1, "a.txt", "a")
	f.populate(t, 2, "d/b.txt", "b")
	f.populate(t, 3, "d/c.txt", "c")

	f.ed.SoftDelete([]string{"/ws/a.txt", "/ws/missing.txt"})
	f.host.RemoveDir("/ws/d")
	f.host.Sync()

	assert.Equal(t, f.out.named(protocol.NameDeleteBuf), []protocol.Message{
		protocol.DeleteBuf{ID: 1, Unlink: false},
		protocol.DeleteBuf{ID: 2, Unlink: true},
		protocol.DeleteBuf{ID: 3, Unlink: true},
	})
}

func TestHandler_SaveAndSelection(t *testing.T) {
	f := newFixture(t, []string{state.PermPatch})
	f.populate(t, 1, "a.txt", "hello")

	f.host.SaveFile("/ws/a.txt")
	f.host.Select("/ws/a.txt", []host.Range{{Start: 0, End: 2}})
	f.host.Select("/ws/untracked.txt", nil)
	f.host.Sync()

	assert.Equal(t, f.out.named(protocol.NameSaveBuf, protocol.NameHighlight), []protocol.Message{
		protocol.SaveBuf{ID: 1},
		protocol.Highlight{ID: 1, Ranges: []protocol.Range{{0, 2}}},
	})
}

func TestHandler_FollowReappliesLastHighlight(t *testing.T) {
	f := newFixture(t, []string{state.PermPatch})
	f.populate(t, 1, "a.txt", "hello")
	f.handle(t, protocol.NameHighlight, protocol.Highlight{ID: 1, UserID: 7, Ranges: []protocol.Range{{2, 4}}})
	assert.Equal(t, f.host.Highlights()[0].Focus, false)

	assert.Equal(t, f.ed.Follow(), true)
	f.host.Sync()

	got := f.host.Highlights()
	assert.Equal(t, len(got), 2)
	assert.Equal(t, got[1].Focus, true)
	assert.Equal(t, got[1].Ranges, []host.Range{{Start: 2, End: 4}})

	assert.Equal(t, f.ed.Follow(), false)
	f.host.Sync()
	assert.Equal(t, len(f.host.Highlights()), 2)
}

func TestHandler_ReadOnlyEditIsRestored(t *testing.T) {
	f := newFixture(t, nil)
	f.populate(t, 1, "a.txt", "hello")

	f.host.Edit("/ws/a.txt", "hacked")
	f.host.Sync()
	assert.Equal(t, f.host.IsReadOnly("/ws/a.txt"), true)

	waitFor(t, f.host, func() bool {
		text, _ := f.host.Text("/ws/a.txt")
		return text == "hello"
	})

	writes := f.host.Writes()
	assert.Equal(t, writes[len(writes)-1].Origin, host.OriginRestore)
	assert.Equal(t, f.host.IsReadOnly("/ws/a.txt"), true)
	assert.Equal(t, len(f.out.named(changeIntents...)), 0)
}

func TestHandler_RestoreSkippedWhenConverged(t *testing.T) {
	f := newFixture(t, []string{state.PermPatch})
	f.populate(t, 1, "a.txt", "fresh")
	b := f.state.BufByID(1)

	f.host.Submit(func() { f.ed.restore("/ws/a.txt", b, "stale") })
	f.host.Sync()

	text, _ := f.host.Text("/ws/a.txt")
	assert.Equal(t, text, "fresh")
}

func TestHandler_ShutdownIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	f.populate(t, 1, "a.txt", "hello")

	// Schedule a restore, then shut down before it fires.
	f.ed.delay = time.Hour
	f.host.Edit("/ws/a.txt", "hacked")
	f.host.Sync()

	f.ed.Shutdown()
	f.ed.Shutdown()
	assert.Equal(t, len(f.ed.restores), 0)

	f.state.SetPerms([]string{state.PermPatch})
	f.host.Edit("/ws/a.txt", "after shutdown")
	f.host.Sync()
	assert.Equal(t, len(f.out.named(changeIntents...)), 0)

	// Start after Shutdown does not resubscribe.
	f.ed.Start()
	f.host.Edit("/ws/a.txt", "again")
	f.host.Sync()
	assert.Equal(t, len(f.out.named(changeIntents...)), 0)
}

func TestHandler_Upload(t *testing.T) {
	f := newFixture(t, []string{state.PermPatch})
	f.populate(t, 1, "tracked.txt", "t")
	f.host.PutFile("/ws/src/main.go", []byte("package main\n"))
	f.host.PutFile("/ws/img.bin", []byte{0xff, 0x00, 0xfe})
	f.host.PutFile("/ws/.git/HEAD", []byte("ref"))
	f.host.PutFile("/ws/big.txt", []byte(strings.Repeat("x", workspace.MaxFileSize+1)))

	n := f.ed.UploadDir("/ws")
	assert.Equal(t, n, 2)

	creates := f.out.named(protocol.NameCreateBuf)
	assert.Equal(t, len(creates), 2)
	bin := creates[0].(protocol.CreateBuf)
	assert.Equal(t, bin.Path, "img.bin")
	assert.Equal(t, bin.Encoding, "base64")
	src := creates[1].(protocol.CreateBuf)
	assert.Equal(t, src.Path, "src/main.go")
	assert.Equal(t, src.Buf, "package main\n")

	f.ed.Upload("/ws/tracked.txt")
	f.ed.Upload("/ws/big.txt")
	f.ed.Upload("/outside/file.txt")
	assert.Equal(t, len(f.out.named(protocol.NameCreateBuf)), 2)

	f.host.Create("/ws/created.txt", []byte("c"))
	f.host.Sync()
	assert.Equal(t, len(f.out.named(protocol.NameCreateBuf)), 3)
}

func TestHandler_AdminActions(t *testing.T) {
	f := newFixture(t, []string{state.PermPatch})
	assert.Equal(t, f.ed.Kick(7), false)
	assert.Equal(t, f.ed.SetPerms(7, []string{"patch"}), false)
	assert.Equal(t, len(f.out.named(protocol.NameKick, protocol.NameSetPerms)), 0)

	f.state.SetPerms([]string{state.PermPatch, state.PermKick, state.PermSetPerms})
	assert.Equal(t, f.ed.Kick(7), true)
	assert.Equal(t, f.ed.SetPerms(7, []string{"patch"}), true)
	assert.Equal(t, f.out.named(protocol.NameKick, protocol.NameSetPerms), []protocol.Message{
		protocol.Kick{UserID: 7},
		protocol.SetPerms{Action: "set", UserID: 7, Perms: []string{"patch"}},
	})

	f.populate(t, 1, "a.txt", "hello")
	f.ed.Summon("/ws/a.txt", 3)
	f.ed.RequestEdit()
	f.ed.Message("hi")
	assert.Equal(t, f.out.named(protocol.NameSummon, protocol.NameRequestEdit, protocol.NameMsg), []protocol.Message{
		protocol.Summon{ID: 1, Path: "a.txt", Offset: 3},
		protocol.RequestEdit{Perms: []string{"edit_room"}},
		protocol.Msg{Text: "hi"},
	})
}

func TestHandler_InterleavedEditsConverge(t *testing.T) {
	f := newFixture(t, []string{state.PermPatch})
	f.populate(t, 1, "a.txt", "start")

	// Local edits and remote patches are queued in one order and must be
	// applied in that order.
	expected := "start"
	var local int
	for i := 0; i < 20; i++ {
		next := expected + string(rune('a'+i))
		if i%3 == 0 {
			f.host.Edit("/ws/a.txt", next)
			local++
		} else {
			p := buf.MakePatch(expected, next)
			payload, _ := json.Marshal(protocol.Patch{ID: 1, Patch: p.Text, MD5Before: p.MD5Before, MD5After: p.MD5After})
			if err := f.in.Handle(protocol.NamePatch, payload); err != nil {
				t.Fatal(err)
			}
		}
		expected = next
	}
	f.host.Sync()

	text, _ := f.host.Text("/ws/a.txt")
	assert.Equal(t, text, expected)
	assert.Equal(t, f.state.BufByID(1).Text(), expected)
	assert.Equal(t, len(f.out.named(protocol.NamePatch)), local)
	assert.Equal(t, len(f.out.named(protocol.NameGetBuf)), 0)
}

func waitFor(t *testing.T, h *memhost.Host, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		h.Sync()
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
