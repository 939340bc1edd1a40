package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/dshills/floo/internal/config"
	"github.com/dshills/floo/internal/conn"
	"github.com/dshills/floo/internal/editor"
	"github.com/dshills/floo/internal/floourl"
	"github.com/dshills/floo/internal/host"
	"github.com/dshills/floo/internal/inbound"
	"github.com/dshills/floo/internal/outbound"
	"github.com/dshills/floo/internal/presence"
	"github.com/dshills/floo/internal/protocol"
	"github.com/dshills/floo/internal/state"
	"github.com/dshills/floo/internal/telemetry"
	"github.com/dshills/floo/internal/workspace"
)

// Status is a session's lifecycle stage.
type Status int

const (
	Unstarted Status = iota
	Connecting
	Authenticating
	Joined
	Terminated
)

// String returns a human-readable status.
func (s Status) String() string {
	switch s {
	case Unstarted:
		return "unstarted"
	case Connecting:
		return "connecting"
	case Authenticating:
		return "authenticating"
	case Joined:
		return "joined"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// ErrAlreadyStarted is returned by Go on a session that was started or shut
// down before.
var ErrAlreadyStarted = errors.New("session already started")

// PreconditionError reports why a session could not start.
type PreconditionError struct {
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *PreconditionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

// Unwrap returns the underlying error.
func (e *PreconditionError) Unwrap() error {
	return e.Err
}

// WorkspaceChecker confirms a workspace exists before joining it.
type WorkspaceChecker interface {
	WorkspaceExists(ctx context.Context, u floourl.URL) (bool, error)
}

// Registry records where each workspace lives locally.
type Registry interface {
	AddWorkspace(u floourl.URL, dir string)
	Save() error
}

// Options configures a Session.
type Options struct {
	URL         floourl.URL
	Root        *workspace.Root
	Credentials config.Credentials
	// ShouldUpload shares every local file missing from the workspace once
	// joined.
	ShouldUpload bool

	Host   host.Host
	Dialer conn.Dialer

	// Optional collaborators.
	UI           presence.UI
	Registry     Registry
	Reporter     telemetry.Reporter
	Checker      WorkspaceChecker
	RestoreDelay time.Duration
	// Platform is sent with auth. Defaults to runtime.GOOS.
	Platform string
}

// Session is one joined workspace.
type Session struct {
	opts     Options
	ui       presence.UI
	reporter telemetry.Reporter

	mu     sync.Mutex
	status Status
	reason string

	state  *state.State
	conn   *conn.Conn
	out    *outbound.Handler
	in     *inbound.Handler
	editor *editor.Handler

	done chan struct{}
}

// New returns an unstarted session.
func New(opts Options) *Session {
	s := &Session{
		opts:     opts,
		ui:       opts.UI,
		reporter: opts.Reporter,
		done:     make(chan struct{}),
	}
	if s.ui == nil {
		s.ui = presence.Nop{}
	}
	if s.reporter == nil {
		s.reporter = telemetry.Nop{}
	}
	if s.opts.Platform == "" {
		s.opts.Platform = runtime.GOOS
	}
	return s
}

// Status returns the lifecycle stage.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Reason returns why the session terminated.
func (s *Session) Reason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Done is closed once the session has terminated.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// State returns the shared session state, or nil before Go.
func (s *Session) State() *state.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Editor returns the handler for user actions, or nil before Go.
func (s *Session) Editor() *editor.Handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.editor
}

func (s *Session) preconditions(ctx context.Context) error {
	if err := s.opts.URL.Validate(); err != nil {
		return &PreconditionError{Reason: "invalid workspace url", Err: err}
	}
	if !s.opts.Credentials.Complete() {
		return &PreconditionError{Reason: fmt.Sprintf("no credentials for %s; run floo link", s.opts.URL.Host)}
	}
	if s.opts.Host == nil {
		return &PreconditionError{Reason: "no editor host"}
	}
	if s.opts.Dialer == nil {
		return &PreconditionError{Reason: "no dialer"}
	}
	if s.opts.Root == nil || !s.opts.Root.Exists() {
		return &PreconditionError{Reason: "shared directory does not exist"}
	}
	if s.opts.Checker != nil {
		ok, err := s.opts.Checker.WorkspaceExists(ctx, s.opts.URL)
		if err != nil {
			return &PreconditionError{Reason: "checking workspace", Err: err}
		}
		if !ok {
			return &PreconditionError{Reason: fmt.Sprintf("the workspace %s does not exist", s.opts.URL)}
		}
	}
	return nil
}

// Go validates the preconditions, then connects in the background. A
// precondition failure is shown through the UI and returned; the session stays
// unstarted.
func (s *Session) Go(ctx context.Context) error {
	if s.Status() != Unstarted {
		return ErrAlreadyStarted
	}
	if err := s.preconditions(ctx); err != nil {
		glog.Warningf("[session]%s: %s\n", s.opts.URL, err)
		s.ui.ErrorMessage(err.Error())
		return err
	}

	creds := s.opts.Credentials
	st := state.New(s.opts.URL, creds.Username)
	c := conn.New(s.opts.URL, s.opts.Dialer, conn.Callbacks{
		OnConnect: s.onConnect,
		OnMessage: s.dispatch,
		OnClose:   s.onClose,
	})
	out := outbound.New(st, c)
	in := inbound.New(inbound.Options{
		State:        st,
		Outbound:     out,
		Host:         s.opts.Host,
		Root:         s.opts.Root,
		UI:           s.ui,
		OnJoined:     s.onJoined,
		OnDisconnect: func(reason string) { s.shutdown(reason) },
		Report:       s.report,
	})
	ed := editor.New(editor.Options{
		State:        st,
		Outbound:     out,
		Host:         s.opts.Host,
		Root:         s.opts.Root,
		UI:           s.ui,
		Highlights:   in,
		RestoreDelay: s.opts.RestoreDelay,
	})

	s.mu.Lock()
	if s.status != Unstarted {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.state, s.conn, s.out, s.in, s.editor = st, c, out, in, ed
	s.status = Connecting
	s.mu.Unlock()

	glog.Infof("[session]joining %s in %s\n", s.opts.URL, s.opts.Root.Dir())
	if s.opts.Registry != nil {
		s.opts.Registry.AddWorkspace(s.opts.URL, s.opts.Root.Dir())
		if err := s.opts.Registry.Save(); err != nil {
			glog.Warningf("[session]saving registry error = %s\n", err)
		}
	}

	ed.Start()
	c.Start(ctx)
	return nil
}

// advance moves to next unless the session already terminated.
func (s *Session) advance(next Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == Terminated {
		return false
	}
	s.status = next
	return true
}

func (s *Session) onConnect() {
	if !s.advance(Authenticating) {
		return
	}
	s.ui.StatusMessage(fmt.Sprintf("Connecting to %s.", s.opts.URL))
	c := s.opts.Credentials
	s.out.Auth(c.Username, c.APIKey, c.Secret, s.opts.Platform)
}

func (s *Session) onJoined() {
	if !s.advance(Joined) {
		return
	}
	if !s.opts.ShouldUpload {
		return
	}
	dir := s.opts.Root.Dir()
	s.opts.Host.Submit(func() {
		if n := s.editor.UploadDir(dir); n > 0 {
			s.ui.StatusMessage(fmt.Sprintf("Uploaded %d files.", n))
		}
	})
}

func (s *Session) onClose(err error) {
	if err == nil {
		return
	}
	s.ui.ErrorMessage(fmt.Sprintf("Connection to %s lost: %v", s.opts.URL, err))
	s.shutdown(err.Error())
}

// dispatch hands one inbound message to the inbound handler and aggregates
// the outcome.
func (s *Session) dispatch(name string, payload json.RawMessage) {
	if s.Status() == Terminated {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.report(name, fmt.Errorf("panic: %v", r))
		}
	}()

	err := s.in.Handle(name, payload)
	switch {
	case err == nil:
	case protocol.IsProtocolError(err):
		glog.Warningf("[session]dropping %s: %s\n", name, err)
	default:
		s.report(name, err)
	}
}

func (s *Session) report(where string, err error) {
	glog.Errorf("[session]%s error = %s\n", where, err)
	s.reporter.Report(where, err)
}

// Shutdown leaves the workspace. It is idempotent and safe to call from any
// goroutine.
func (s *Session) Shutdown() {
	s.shutdown("shutdown")
}

func (s *Session) shutdown(reason string) {
	s.mu.Lock()
	if s.status == Terminated {
		s.mu.Unlock()
		return
	}
	prev := s.status
	s.status = Terminated
	s.reason = reason
	st, c, ed := s.state, s.conn, s.editor
	s.mu.Unlock()

	if prev != Unstarted {
		glog.Infof("[session]leaving %s: %s\n", s.opts.URL, reason)
		s.ui.StatusMessage(fmt.Sprintf("Leaving workspace %s.", s.opts.URL))
		ed.Shutdown()
		c.Shutdown()
		st.Shutdown()
	}
	close(s.done)
}
