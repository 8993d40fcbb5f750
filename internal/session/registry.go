// Package session tracks per-contact conversation state. A session's
// Active/Inactive state is derived from its last activity timestamp at read
// time; nothing stores or sweeps a state flag.
package session

import (
	"sort"
	"sync"
	"time"
)

type State string

const (
	Active   State = "active"
	Inactive State = "inactive"
)

// Session is the tracked state for one contact. Registry methods return
// copies; callers never share the registry's mutable record.
type Session struct {
	ContactRef     string    `json:"contactRef"`
	DisplayName    string    `json:"displayName"`
	LastMessageAt  time.Time `json:"lastMessageAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
	MessageCount   int       `json:"messageCount"`
}

// StateAt derives the session state for a query time.
func (s Session) StateAt(now time.Time, inactiveTimeout time.Duration) State {
	if now.Sub(s.LastActivityAt) < inactiveTimeout {
		return Active
	}
	return Inactive
}

type Registry struct {
	mu              sync.Mutex
	sessions        map[string]*Session
	inactiveTimeout time.Duration
	now             func() time.Time
}

func NewRegistry(inactiveTimeout time.Duration) *Registry {
	return &Registry{
		sessions:        make(map[string]*Session),
		inactiveTimeout: inactiveTimeout,
		now:             time.Now,
	}
}

// Touch creates the session on first contact, otherwise bumps its message
// count and timestamps. occurredAt feeds LastMessageAt; LastActivityAt is
// always the touch time. Returns the updated snapshot.
func (r *Registry) Touch(contactRef, displayName string, occurredAt time.Time) Session {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.sessions[contactRef]
	if s == nil {
		s = &Session{ContactRef: contactRef}
		r.sessions[contactRef] = s
	}
	if displayName != "" {
		s.DisplayName = displayName
	}
	if occurredAt.After(s.LastMessageAt) {
		s.LastMessageAt = occurredAt
	}
	s.LastActivityAt = now
	s.MessageCount++

	return *s
}

// RefreshLastMessage advances LastMessageAt when a history fetch reveals a
// newer tail, without counting a message or marking activity. No-op when the
// session does not exist or the timestamp is not newer.
func (r *Registry) RefreshLastMessage(contactRef string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.sessions[contactRef]
	if s == nil || !at.After(s.LastMessageAt) {
		return
	}
	s.LastMessageAt = at
}

func (r *Registry) Get(contactRef string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[contactRef]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// List returns sessions ordered most-recently-active first, ties broken by
// contactRef. With activeOnly, inactive sessions are filtered out using the
// registry's timeout.
func (r *Registry) List(activeOnly bool) []Session {
	now := r.now()

	r.mu.Lock()
	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		if activeOnly && s.StateAt(now, r.inactiveTimeout) != Active {
			continue
		}
		out = append(out, *s)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastActivityAt.Equal(out[j].LastActivityAt) {
			return out[i].LastActivityAt.After(out[j].LastActivityAt)
		}
		return out[i].ContactRef < out[j].ContactRef
	})
	return out
}

// State derives the current state of one session.
func (r *Registry) State(s Session) State {
	return s.StateAt(r.now(), r.inactiveTimeout)
}

// Counts returns total and currently active session counts.
func (r *Registry) Counts() (total, active int) {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	total = len(r.sessions)
	for _, s := range r.sessions {
		if s.StateAt(now, r.inactiveTimeout) == Active {
			active++
		}
	}
	return total, active
}
