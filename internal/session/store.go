// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package session

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	gateerr "github.com/sigil-dev/chatgate/pkg/errors"
)

// NewID returns a fresh opaque session identifier.
func NewID() string {
	return uuid.NewString()
}

// Store maps session ids to Sessions. Sessions live until Close; there is
// no eviction.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	now      func() time.Time
	logger   *slog.Logger
}

// NewStore returns an empty Store.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		sessions: make(map[string]*Session),
		now:      time.Now,
		logger:   logger.With("component", "session-store"),
	}
}

// SetNowFunc overrides the time source (for testing).
func (st *Store) SetNowFunc(fn func() time.Time) {
	st.mu.Lock()
	st.now = fn
	st.mu.Unlock()
}

// GetOrCreate returns the session for id, creating an empty one if absent.
// created reports whether this call created it.
func (st *Store) GetOrCreate(id string) (s *Session, created bool, err error) {
	if id == "" {
		return nil, false, gateerr.New(gateerr.CodeSessionTurnInvalidInput, "session id must not be empty")
	}

	st.mu.RLock()
	s, ok := st.sessions[id]
	st.mu.RUnlock()
	if ok {
		return s, false, nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if s, ok := st.sessions[id]; ok {
		return s, false, nil
	}
	s = newSession(id, st.now)
	st.sessions[id] = s
	st.logger.Debug("session created", "session_id", id)
	return s, true, nil
}

// Get returns an existing session without creating one.
func (st *Store) Get(id string) (*Session, error) {
	st.mu.RLock()
	s, ok := st.sessions[id]
	st.mu.RUnlock()
	if !ok {
		return nil, gateerr.New(gateerr.CodeSessionGetNotFound, "session not found", gateerr.FieldSessionID(id))
	}
	return s, nil
}

// Exists reports whether id names a known session.
func (st *Store) Exists(id string) bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	_, ok := st.sessions[id]
	return ok
}

// AppendSystemOnce adds the system turn to session id unless it has one.
func (st *Store) AppendSystemOnce(id, content string) (bool, error) {
	s, err := st.Get(id)
	if err != nil {
		return false, err
	}
	return s.AppendSystemOnce(content), nil
}

// AppendTurn appends a turn to session id.
func (st *Store) AppendTurn(id string, role Role, content string) error {
	s, err := st.Get(id)
	if err != nil {
		return err
	}
	return gateerr.With(s.Append(role, content), gateerr.FieldSessionID(id))
}

// Snapshot returns a copy of session id's transcript.
func (st *Store) Snapshot(id string) ([]Turn, error) {
	s, err := st.Get(id)
	if err != nil {
		return nil, err
	}
	return s.Snapshot(), nil
}

// Len is the number of sessions.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// IDs returns every session id, sorted.
func (st *Store) IDs() []string {
	st.mu.RLock()
	ids := make([]string, 0, len(st.sessions))
	for id := range st.sessions {
		ids = append(ids, id)
	}
	st.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Close shuts every session's lane, waiting for queued work.
func (st *Store) Close() error {
	st.mu.RLock()
	sessions := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		sessions = append(sessions, s)
	}
	st.mu.RUnlock()

	for _, s := range sessions {
		s.lane.Close()
	}
	return nil
}
