package session

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"github.com/dshills/floo/internal/buf"
	"github.com/dshills/floo/internal/config"
	"github.com/dshills/floo/internal/conn"
	"github.com/dshills/floo/internal/floourl"
	"github.com/dshills/floo/internal/host"
	"github.com/dshills/floo/internal/host/memhost"
	"github.com/dshills/floo/internal/protocol"
	"github.com/dshills/floo/internal/workspace"
)

type pipeDialer struct {
	client net.Conn
}

func (d pipeDialer) Dial(context.Context, floourl.URL) (conn.Transport, error) {
	return conn.NewLineTransport(d.client), nil
}

// server plays the workspace service on the far end of a pipe.
type server struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func newServer(t *testing.T) (*server, conn.Dialer) {
	client, srv := net.Pipe()
	t.Cleanup(func() { srv.Close() })
	return &server{t: t, conn: srv, r: bufio.NewReader(srv)}, pipeDialer{client: client}
}

// expect reads the next frame and checks its name.
func (s *server) expect(name string) map[string]any {
	s.t.Helper()
	s.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	line, err := s.r.ReadBytes('\n')
	if err != nil {
		s.t.Fatalf("reading %s: %v", name, err)
	}
	got, _, err := protocol.Decode(line)
	assert.Equal(s.t, err, nil)
	assert.Equal(s.t, got, name)
	var m map[string]any
	assert.Equal(s.t, json.Unmarshal(line, &m), nil)
	return m
}

func (s *server) send(frame string) {
	s.t.Helper()
	s.conn.SetWriteDeadline(time.Now().Add(3 * time.Second))
	if _, err := s.conn.Write([]byte(frame + "\n")); err != nil {
		s.t.Fatalf("sending %s: %v", frame, err)
	}
}

type fakeUI struct {
	mu     sync.Mutex
	status []string
	errors []string
}

func (u *fakeUI) StatusMessage(msg string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.status = append(u.status, msg)
}

func (u *fakeUI) ErrorMessage(msg string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.errors = append(u.errors, msg)
}

func (u *fakeUI) ChatMessage(string, string, time.Time) {}
func (u *fakeUI) AddUser(int, string, string) {}
func (u *fakeUI) RemoveUser(int, string) {}
func (u *fakeUI) ClearUsers() {}

func (u *fakeUI) errorCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.errors)
}

type fakeReporter struct {
	mu      sync.Mutex
	reports []string
}

func (r *fakeReporter) Report(where string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, where+": "+err.Error())
}

func (r *fakeReporter) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.reports...)
}

type fakeRegistry struct {
	mu    sync.Mutex
	added map[string]string
	saved int
}

func (r *fakeRegistry) AddWorkspace(u floourl.URL, dir string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.added[u.String()] = dir
}

func (r *fakeRegistry) Save() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved++
	return nil
}

type fakeChecker struct {
	exists bool
	err    error
}

func (c fakeChecker) WorkspaceExists(context.Context, floourl.URL) (bool, error) {
	return c.exists, c.err
}

// panicHost panics when the inbound path reads a local file.
type panicHost struct {
	*memhost.Host
}

func (panicHost) ReadFile(string) ([]byte, error) {
	panic("disk on fire")
}

// writePanicHost panics when a remote write reaches a document.
type writePanicHost struct {
	*memhost.Host
}

func (writePanicHost) SetText(string, string, host.Origin) error {
	panic("editor exploded")
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

var (
	testURL   = floourl.MustParse("https://floobits.com/acme/proj")
	testCreds = config.Credentials{Username: "alice", APIKey: "key", Secret: "s3cret"}
)

type fixture struct {
	sess     *Session
	srv      *server
	host     *memhost.Host
	root     *workspace.Root
	ui       *fakeUI
	reporter *fakeReporter
	registry *fakeRegistry
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()
	root, err := workspace.NewRoot(t.TempDir())
	assert.Equal(t, err, nil)
	h := memhost.New()
	t.Cleanup(h.Close)
	srv, dialer := newServer(t)

	f := &fixture{
		srv:      srv,
		host:     h,
		root:     root,
		ui:       &fakeUI{},
		reporter: &fakeReporter{},
		registry: &fakeRegistry{added: map[string]string{}},
	}
	opts := Options{
		URL:          testURL,
		Root:         root,
		Credentials:  testCreds,
		Host:         h,
		Dialer:       dialer,
		UI:           f.ui,
		Registry:     f.registry,
		Reporter:     f.reporter,
		RestoreDelay: 5 * time.Millisecond,
		Platform:     "test",
	}
	if mutate != nil {
		mutate(&opts)
	}
	f.sess = New(opts)
	t.Cleanup(f.sess.Shutdown)
	return f
}

// join starts the session and answers auth with room_info.
func (f *fixture) join(t *testing.T, roomInfo string) {
	t.Helper()
	assert.Equal(t, f.sess.Go(context.Background()), nil)
	auth := f.srv.expect(protocol.NameAuth)
	assert.Equal(t, auth["username"], "alice")
	assert.Equal(t, auth["secret"], "s3cret")
	assert.Equal(t, auth["owner"], "acme")
	assert.Equal(t, auth["workspace"], "proj")
	assert.Equal(t, auth["platform"], "test")
	assert.Equal(t, f.sess.Status(), Authenticating)
	f.srv.send(roomInfo)
}

func roomInfo(perms string, bufs string) string {
	return fmt.Sprintf(`{"name":"room_info","user_id":7,"perms":%s,"bufs":%s,"users":{"7":{"user_id":7,"username":"alice"}}}`, perms, bufs)
}

func TestGo_Preconditions(t *testing.T) {
	missing, err := workspace.NewRoot(filepath.Join(t.TempDir(), "missing"))
	assert.Equal(t, err, nil)

	tests := []struct {
		name   string
		mutate func(*Options)
	}{
		{"bad url", func(o *Options) { o.URL = floourl.URL{Host: "floobits.com", Port: 3448} }},
		{"no credentials", func(o *Options) { o.Credentials = config.Credentials{Username: "alice"} }},
		{"no host", func(o *Options) { o.Host = nil }},
		{"missing root", func(o *Options) { o.Root = missing }},
		{"workspace missing", func(o *Options) { o.Checker = fakeChecker{exists: false} }},
		{"checker error", func(o *Options) { o.Checker = fakeChecker{err: errors.New("offline")} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.mutate)
			err := f.sess.Go(context.Background())
			var perr *PreconditionError
			assert.Equal(t, errors.As(err, &perr), true)
			assert.Equal(t, f.sess.Status(), Unstarted)
			assert.Equal(t, f.ui.errorCount(), 1)
			assert.Equal(t, len(f.registry.added), 0)
		})
	}
}

func TestSession_JoinPopulateEdit(t *testing.T) {
	f := newFixture(t, nil)
	bufs := fmt.Sprintf(`{"1":{"id":1,"path":"a.txt","md5":%q,"encoding":"utf8"}}`, buf.Checksum("hello"))
	f.join(t, roomInfo(`["patch","get_buf","create_buf"]`, bufs))

	getBuf := f.srv.expect(protocol.NameGetBuf)
	assert.Equal(t, getBuf["id"], float64(1))
	waitFor(t, "joined", func() bool { return f.sess.Status() == Joined })
	assert.Equal(t, f.registry.added[testURL.String()], f.root.Dir())
	assert.Equal(t, f.registry.saved, 1)

	f.srv.send(fmt.Sprintf(`{"name":"get_buf","id":1,"path":"a.txt","buf":"hello","md5":%q,"encoding":"utf8"}`, buf.Checksum("hello")))
	abs := filepath.Join(f.root.Dir(), "a.txt")
	waitFor(t, "populate", func() bool {
		f.host.Sync()
		text, ok := f.host.Text(abs)
		return ok && text == "hello"
	})

	f.host.Edit(abs, "hello world")
	patch := f.srv.expect(protocol.NamePatch)
	assert.Equal(t, patch["id"], float64(1))
	assert.Equal(t, patch["path"], "a.txt")
	assert.Equal(t, patch["md5_before"], buf.Checksum("hello"))
	assert.Equal(t, patch["md5_after"], buf.Checksum("hello world"))

	// A ping is answered, so nothing else was queued before the pong.
	f.srv.send(`{"name":"ping"}`)
	f.srv.expect(protocol.NamePong)
}

func TestSession_ShouldUpload(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.ShouldUpload = true })
	abs := filepath.Join(f.root.Dir(), "new.txt")
	f.host.PutFile(abs, []byte("fresh"))

	f.join(t, roomInfo(`["patch","create_buf"]`, `{}`))
	create := f.srv.expect(protocol.NameCreateBuf)
	assert.Equal(t, create["path"], "new.txt")
	assert.Equal(t, create["buf"], "fresh")
}

func TestSession_DispatchBoundary(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Host = panicHost{memhost.New()} })
	bufs := fmt.Sprintf(`{"1":{"id":1,"path":"a.txt","md5":%q,"encoding":"utf8"}}`, buf.Checksum("x"))
	f.join(t, roomInfo(`["patch"]`, bufs))

	// A malformed payload is dropped without a report.
	f.srv.send(`{"name":"patch","id":"one"}`)
	f.srv.send(`{"name":"ping"}`)
	f.srv.expect(protocol.NamePong)

	assert.Equal(t, f.reporter.snapshot(), []string{"room_info: panic: disk on fire"})
	assert.NotEqual(t, f.sess.Status(), Terminated)
}

func TestSession_HostWritePanicIsReported(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		mh := memhost.New()
		t.Cleanup(mh.Close)
		o.Host = writePanicHost{mh}
	})
	f.join(t, roomInfo(`["patch","get_buf"]`, `{}`))
	waitFor(t, "joined", func() bool { return f.sess.Status() == Joined })

	f.srv.send(fmt.Sprintf(`{"name":"get_buf","id":1,"path":"a.txt","buf":"hello","md5":%q,"encoding":"utf8"}`, buf.Checksum("hello")))
	waitFor(t, "report", func() bool { return len(f.reporter.snapshot()) > 0 })
	assert.Equal(t, f.reporter.snapshot(), []string{"get_buf: panic: editor exploded"})

	f.srv.send(`{"name":"ping"}`)
	f.srv.expect(protocol.NamePong)
	assert.Equal(t, f.sess.Status(), Joined)
	assert.Equal(t, f.sess.State().BufByID(1).IsPopulated(), false)
}

func TestSession_Disconnect(t *testing.T) {
	f := newFixture(t, nil)
	f.join(t, roomInfo(`[]`, `{}`))
	f.srv.send(`{"name":"disconnect","reason":"kicked"}`)

	select {
	case <-f.sess.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("session did not terminate")
	}
	assert.Equal(t, f.sess.Status(), Terminated)
	assert.Equal(t, f.sess.Reason(), "kicked")
	assert.Equal(t, f.sess.State().IsShutdown(), true)
}

func TestSession_ConnectionLost(t *testing.T) {
	f := newFixture(t, nil)
	f.join(t, roomInfo(`[]`, `{}`))
	f.srv.conn.Close()

	select {
	case <-f.sess.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("session did not terminate")
	}
	assert.Equal(t, f.sess.Status(), Terminated)
	assert.Equal(t, f.ui.errorCount(), 1)
}

func TestSession_ShutdownIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	f.join(t, roomInfo(`[]`, `{}`))

	f.sess.Shutdown()
	f.sess.Shutdown()
	<-f.sess.Done()
	assert.Equal(t, f.sess.Status(), Terminated)
	assert.Equal(t, f.sess.Reason(), "shutdown")
	assert.Equal(t, f.sess.Go(context.Background()), ErrAlreadyStarted)
}

func TestSession_ShutdownBeforeGo(t *testing.T) {
	f := newFixture(t, nil)
	f.sess.Shutdown()
	<-f.sess.Done()
	assert.Equal(t, f.sess.Go(context.Background()), ErrAlreadyStarted)
	assert.Equal(t, f.sess.State(), nil)
}

func TestLink(t *testing.T) {
	srv, dialer := newServer(t)
	var (
		opened    string
		saved     config.Credentials
		savedHost string
	)
	done := make(chan struct{})
	var creds config.Credentials
	var linkErr error
	go func() {
		defer close(done)
		creds, linkErr = Link(context.Background(), LinkOptions{
			URL:    floourl.New("floobits.com", "", "", 0, true),
			Dialer: dialer,
			Open:   func(url string) { opened = url },
			Save: func(h string, c config.Credentials) error {
				savedHost, saved = h, c
				return nil
			},
		})
	}()

	req := srv.expect(protocol.NameRequestCredentials)
	token, _ := req["token"].(string)
	assert.Equal(t, len(token), 72)
	srv.send(`{"name":"credentials","credentials":{"username":"bob","api_key":"k","secret":"s"}}`)
	<-done

	assert.Equal(t, linkErr, nil)
	assert.Equal(t, creds, config.Credentials{Username: "bob", APIKey: "k", Secret: "s"})
	assert.Equal(t, saved, creds)
	assert.Equal(t, savedHost, "floobits.com")
	assert.Equal(t, opened, LinkURL("floobits.com", token))
}

func TestLink_Incomplete(t *testing.T) {
	srv, dialer := newServer(t)
	done := make(chan error, 1)
	go func() {
		_, err := Link(context.Background(), LinkOptions{
			URL:    floourl.New("floobits.com", "", "", 0, true),
			Dialer: dialer,
		})
		done <- err
	}()
	srv.expect(protocol.NameRequestCredentials)
	srv.send(`{"name":"ping"}`)
	srv.send(`{"name":"credentials","credentials":{"username":"bob"}}`)
	assert.Equal(t, <-done, ErrIncompleteCredentials)
}
