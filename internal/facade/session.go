// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package facade

import (
	"sync"

	"github.com/openconf/confd/internal/observability"
)

// State is one point in a client session's lifecycle (spec.md §4.F).
type State int

const (
	StateNew State = iota
	StateAuthenticated
	StateProfiled
	StateProbesSent
	StateProbed
	StateServed
)

func (s State) String() string {
	switch s {
	case StateAuthenticated:
		return "authenticated"
	case StateProfiled:
		return "profiled"
	case StateProbesSent:
		return "probes_sent"
	case StateProbed:
		return "probed"
	case StateServed:
		return "served"
	default:
		return "new"
	}
}

// Session is the per-(client-identity, session-nonce) state machine.
// Sessions are stateless on the wire; a stale or missing session is
// re-started transparently by SessionStore.Get.
type Session struct {
	mu sync.Mutex

	ClientName string
	Nonce      string
	State      State
	Version    string
	Profile    string
}

// SetVersion records the client-declared agent version.
func (s *Session) SetVersion(v string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Version = v
}

// SetProfile records the client-asserted profile.
func (s *Session) SetProfile(p string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Profile = p
}

// adoptName fills in ClientName once identity resolution determines it,
// for connections authenticated by certificate alone with no HTTP Basic
// Auth username to key the session by.
func (s *Session) adoptName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ClientName == "" {
		s.ClientName = name
	}
}

// advance moves the session forward to at least `to`, never backward;
// repeated calls to the same RPC (e.g. DeclareVersion twice) are
// idempotent rather than regressions.
func (s *Session) advance(to State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if to > s.State {
		observability.SessionsActive.WithLabelValues(s.State.String()).Dec()
		s.State = to
		observability.SessionsActive.WithLabelValues(to.String()).Inc()
	}
}

func (s *Session) snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.State
}

// SessionStore holds every live Session, keyed by (client identity,
// nonce). It never evicts on its own; administrative action or process
// restart is the only way a session disappears, matching the Client
// lifecycle note in spec.md §3.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewSessionStore constructs an empty SessionStore.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]*Session)}
}

// Get returns the Session for (clientName, nonce), creating and
// registering a fresh NEW-state Session if none exists yet.
func (st *SessionStore) Get(clientName, nonce string) *Session {
	key := clientName + "\x00" + nonce
	st.mu.Lock()
	defer st.mu.Unlock()
	sess, ok := st.sessions[key]
	if !ok {
		sess = &Session{ClientName: clientName, Nonce: nonce, State: StateNew}
		st.sessions[key] = sess
		observability.SessionsActive.WithLabelValues(StateNew.String()).Inc()
	}
	return sess
}

// Count returns the number of live sessions, for tests and diagnostics.
func (st *SessionStore) Count() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}
