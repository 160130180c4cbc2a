// Package registry owns the live session map: which username is bound to which
// connection handle. Presence events are emitted while the registry lock is
// held so that every session observes joins and leaves in the same order as
// the roster changes.
package registry

import (
	"sort"
	"sync"
	"time"

	"chathub/models"
	"chathub/protocol"
)

// Handle is one live connection. Send must not block and must not call back
// into the registry; it reports false when the event was dropped.
type Handle interface {
	ID() string
	Send(ev protocol.Event) bool
	Close(reason string)
}

// Observer receives registry side effects (metrics). It is called with the
// registry lock held and must not call back into the registry.
type Observer interface {
	OnlineSessions(n int)
	DroppedEvent(eventType string)
}

type DuplicatePolicy int

const (
	// ReplaceDuplicate binds the username to the newest handle and disconnects
	// the previous one.
	ReplaceDuplicate DuplicatePolicy = iota
	// RejectDuplicate refuses a second registration with ErrAlreadyOnline.
	RejectDuplicate
)

const ReasonReplaced = "replaced"

type entry struct {
	handle   Handle
	joinedAt time.Time
}

type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	policy   DuplicatePolicy
	observer Observer
	now      func() time.Time
}

type Option func(*Registry)

func WithPolicy(p DuplicatePolicy) Option {
	return func(r *Registry) { r.policy = p }
}

func WithObserver(o Observer) Option {
	return func(r *Registry) { r.observer = o }
}

func New(opts ...Option) *Registry {
	r := &Registry{
		sessions: make(map[string]*entry),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register binds username to h. A first registration announces the join to
// every other session. With ReplaceDuplicate an existing binding is swapped
// atomically and the superseded handle is returned after being told why it is
// being closed; no join or leave is announced for a replacement.
func (r *Registry) Register(username string, h Handle) (Handle, error) {
	r.mu.Lock()
	prev, exists := r.sessions[username]
	if exists && prev.handle.ID() == h.ID() {
		r.mu.Unlock()
		return nil, nil
	}
	if exists && r.policy == RejectDuplicate {
		r.mu.Unlock()
		return nil, models.ErrAlreadyOnline
	}

	r.sessions[username] = &entry{handle: h, joinedAt: r.now().UTC()}
	if !exists {
		r.announceJoinLocked(username)
	}
	r.observeOnlineLocked()
	r.mu.Unlock()

	if !exists {
		return nil, nil
	}
	prev.handle.Send(protocol.Event{Type: protocol.EventDisconnected, Data: protocol.Disconnected{Reason: ReasonReplaced}})
	prev.handle.Close(ReasonReplaced)
	return prev.handle, nil
}

// Unregister removes username regardless of which handle holds it.
func (r *Registry) Unregister(username string) bool {
	r.mu.Lock()
	_, ok := r.sessions[username]
	if ok {
		delete(r.sessions, username)
		r.announceLeaveLocked(username)
		r.observeOnlineLocked()
	}
	r.mu.Unlock()
	return ok
}

// Release removes username only while it is still bound to h. A connection
// that was replaced calls this on teardown without evicting its successor.
func (r *Registry) Release(username string, h Handle) bool {
	r.mu.Lock()
	e, ok := r.sessions[username]
	if ok && e.handle.ID() == h.ID() {
		delete(r.sessions, username)
		r.announceLeaveLocked(username)
		r.observeOnlineLocked()
	} else {
		ok = false
	}
	r.mu.Unlock()
	return ok
}

func (r *Registry) Lookup(username string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[username]
	if !ok {
		return nil, false
	}
	return e.handle, true
}

func (r *Registry) IsOnline(username string) bool {
	_, ok := r.Lookup(username)
	return ok
}

// ListOnline returns the roster sorted by username.
func (r *Registry) ListOnline() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listLocked()
}

func (r *Registry) listLocked() []string {
	users := make([]string, 0, len(r.sessions))
	for u := range r.sessions {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}

func (r *Registry) Sessions() []models.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Session, 0, len(r.sessions))
	for u, e := range r.sessions {
		out = append(out, models.Session{Username: u, ConnID: e.handle.ID(), JoinedAt: e.joinedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Snapshot returns every live handle and clears the registry without
// announcing leaves. Used on shutdown.
func (r *Registry) Snapshot() map[string]Handle {
	r.mu.Lock()
	out := make(map[string]Handle, len(r.sessions))
	for u, e := range r.sessions {
		out[u] = e.handle
	}
	r.sessions = make(map[string]*entry)
	r.observeOnlineLocked()
	r.mu.Unlock()
	return out
}

func (r *Registry) observeOnlineLocked() {
	if r.observer != nil {
		r.observer.OnlineSessions(len(r.sessions))
	}
}
