// Package state holds the shared mutable state of one joined session.
//
// State is owned by the session and referenced by the inbound and outbound
// handlers and by the editor bridge. Every mutation goes through a method
// here; Buf text is guarded separately by each Buf's own lock.
package state

import (
	"slices"
	"sort"
	"sync"

	"github.com/dshills/floo/internal/buf"
	"github.com/dshills/floo/internal/floourl"
	"github.com/dshills/floo/internal/protocol"
)

// Capabilities checked before state-changing requests.
const (
	PermPatch        = "patch"
	PermKick         = "kick"
	PermSetPerms     = "set_perms"
	PermRequestPerms = "request_perms"
	PermCreateBuf    = "create_buf"
	PermGetBuf       = "get_buf"
)

// State is the per-session aggregate.
type State struct {
	mu sync.RWMutex

	url      floourl.URL
	username string
	userID   int

	perms     map[string]bool
	readOnly  bool
	following bool

	lastHighlight *protocol.Highlight
	users         map[int]protocol.User

	bufsByID   map[int]*buf.Buf
	bufsByPath map[string]*buf.Buf

	closed bool
}

// New creates state for a session joining u as username. The session starts
// read-only until the service grants permissions.
func New(u floourl.URL, username string) *State {
	return &State{
		url:        u,
		username:   username,
		perms:      make(map[string]bool),
		readOnly:   true,
		users:      make(map[int]protocol.User),
		bufsByID:   make(map[int]*buf.Buf),
		bufsByPath: make(map[string]*buf.Buf),
	}
}

// URL returns the workspace identity.
func (s *State) URL() floourl.URL {
	return s.url
}

// Username returns the local user's name.
func (s *State) Username() string {
	return s.username
}

// UserID returns the connection id the service assigned, or 0 before join.
func (s *State) UserID() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

// SetUserID records the connection id.
func (s *State) SetUserID(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.userID = id
}

// Can reports whether the local user holds the capability.
func (s *State) Can(perm string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.closed && s.perms[perm]
}

// ReadOnly reports whether local edits may not be propagated.
func (s *State) ReadOnly() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readOnly
}

// SetPerms replaces the local user's capabilities and recomputes the
// read-only flag. It returns true when read-only changed.
func (s *State) SetPerms(perms []string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.perms = make(map[string]bool, len(perms))
	for _, p := range perms {
		s.perms[p] = true
	}
	return s.updateReadOnly()
}

// UpdatePerms applies an add, remove or set action to the local user's
// capabilities. It returns true when read-only changed.
func (s *State) UpdatePerms(action string, perms []string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	switch action {
	case "add":
		for _, p := range perms {
			s.perms[p] = true
		}
	case "remove":
		for _, p := range perms {
			delete(s.perms, p)
		}
	default:
		s.perms = make(map[string]bool, len(perms))
		for _, p := range perms {
			s.perms[p] = true
		}
	}
	return s.updateReadOnly()
}

func (s *State) updateReadOnly() bool {
	ro := !s.perms[PermPatch]
	changed := ro != s.readOnly
	s.readOnly = ro
	return changed
}

// Perms returns the local user's capabilities, sorted.
func (s *State) Perms() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.perms))
	for p := range s.perms {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Following reports whether follow mode is on.
func (s *State) Following() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.following
}

// SetFollowing sets follow mode.
func (s *State) SetFollowing(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.following = on
}

// ToggleFollowing flips follow mode and returns the new mode together with
// the last highlight, read atomically.
func (s *State) ToggleFollowing() (bool, *protocol.Highlight) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.following = !s.following
	return s.following, s.lastHighlight
}

// LastHighlight returns the most recent remote highlight, or nil.
func (s *State) LastHighlight() *protocol.Highlight {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastHighlight
}

// SetLastHighlight records the most recent remote highlight.
func (s *State) SetLastHighlight(h *protocol.Highlight) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.lastHighlight = h
}

// AddUser records a connected user.
func (s *State) AddUser(u protocol.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.users[u.UserID] = u
}

// RemoveUser forgets a user and returns it.
func (s *State) RemoveUser(id int) (protocol.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	delete(s.users, id)
	return u, ok
}

// User returns a connected user by id.
func (s *State) User(id int) (protocol.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	return u, ok
}

// SetUserPerms updates another user's recorded permissions.
func (s *State) SetUserPerms(id int, perms []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return
	}
	u.Perms = slices.Clone(perms)
	s.users[id] = u
}

// Users returns connected users ordered by id.
func (s *State) Users() []protocol.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]protocol.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// BufByID looks up a buffer by server id.
func (s *State) BufByID(id int) *buf.Buf {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bufsByID[id]
}

// BufByPath looks up a buffer by relative path.
func (s *State) BufByPath(path string) *buf.Buf {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bufsByPath[path]
}

// Bufs returns all buffers ordered by id.
func (s *State) Bufs() []*buf.Buf {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*buf.Buf, 0, len(s.bufsByID))
	for _, b := range s.bufsByID {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// AddBuf indexes b, replacing any buffer with the same id or path.
func (s *State) AddBuf(b *buf.Buf) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if old, ok := s.bufsByID[b.ID()]; ok {
		delete(s.bufsByPath, old.Path())
	}
	path := b.Path()
	if old, ok := s.bufsByPath[path]; ok && old.ID() != b.ID() {
		delete(s.bufsByID, old.ID())
	}
	s.bufsByID[b.ID()] = b
	s.bufsByPath[path] = b
}

// RemoveBuf drops a buffer from both indexes and returns it.
func (s *State) RemoveBuf(id int) *buf.Buf {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bufsByID[id]
	if !ok {
		return nil
	}
	delete(s.bufsByID, id)
	delete(s.bufsByPath, b.Path())
	return b
}

// RenameBuf moves a buffer to a new path and returns the old path.
func (s *State) RenameBuf(id int, newPath string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bufsByID[id]
	if !ok {
		return "", false
	}
	oldPath := b.Path()
	if other, ok := s.bufsByPath[newPath]; ok && other != b {
		delete(s.bufsByID, other.ID())
	}
	delete(s.bufsByPath, oldPath)
	b.SetPath(newPath)
	s.bufsByPath[newPath] = b
	return oldPath, true
}

// Reset clears buffers and users before a fresh room_info is applied.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bufsByID = make(map[int]*buf.Buf)
	s.bufsByPath = make(map[string]*buf.Buf)
	s.users = make(map[int]protocol.User)
}

// IsShutdown reports whether Shutdown was called.
func (s *State) IsShutdown() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Shutdown releases every buffer and user. Later mutations are ignored.
func (s *State) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.bufsByID = make(map[int]*buf.Buf)
	s.bufsByPath = make(map[string]*buf.Buf)
	s.users = make(map[int]protocol.User)
	s.perms = make(map[string]bool)
	s.readOnly = true
	s.lastHighlight = nil
	s.following = false
}
