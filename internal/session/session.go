// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package session keeps per-session conversation transcripts in memory.
package session

import (
	"context"
	"sync"
	"time"

	gateerr "github.com/sigil-dev/chatgate/pkg/errors"
)

// Role is the author of a turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Turn is one transcript entry.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Session owns one ordered transcript. Turns are only ever appended, except
// that the single system turn is placed ahead of every user turn.
type Session struct {
	id        string
	createdAt time.Time
	lane      *Lane

	mu        sync.RWMutex
	turns     []Turn
	hasSystem bool
	updatedAt time.Time
	now       func() time.Time
}

func newSession(id string, now func() time.Time) *Session {
	t := now()
	return &Session{id: id, createdAt: t, updatedAt: t, lane: NewLane(id), now: now}
}

func (s *Session) ID() string { return s.id }

func (s *Session) CreatedAt() time.Time { return s.createdAt }

func (s *Session) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

// Do runs fn on the session's lane, serialised with every other Do call
// for this session.
func (s *Session) Do(ctx context.Context, fn func(context.Context) error) error {
	return s.lane.Submit(ctx, fn)
}

// AppendSystemOnce adds the system turn unless one exists. It reports
// whether this call added it. The first caller wins under concurrency.
func (s *Session) AppendSystemOnce(content string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hasSystem {
		return false
	}
	s.hasSystem = true
	s.turns = append([]Turn{{Role: RoleSystem, Content: content}}, s.turns...)
	s.updatedAt = s.now()
	return true
}

// Append adds a user or assistant turn. System turns go through
// AppendSystemOnce.
func (s *Session) Append(role Role, content string) error {
	if !role.Valid() {
		return gateerr.Errorf(gateerr.CodeSessionTurnInvalidInput, "unknown role %q", role)
	}
	if role == RoleSystem {
		if !s.AppendSystemOnce(content) {
			return gateerr.New(gateerr.CodeSessionTurnInvalidInput, "session already has a system turn",
				gateerr.FieldSessionID(s.id))
		}
		return nil
	}

	s.mu.Lock()
	s.turns = append(s.turns, Turn{Role: role, Content: content})
	s.updatedAt = s.now()
	s.mu.Unlock()
	return nil
}

// HasSystem reports whether the system turn exists.
func (s *Session) HasSystem() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasSystem
}

// Snapshot returns a copy of the transcript.
func (s *Session) Snapshot() []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Len is the number of turns.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}
