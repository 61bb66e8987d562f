// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server_test

import (
	"context"
	"sync"
	"testing"

	"github.com/sigil-dev/chatgate/internal/classifier"
	"github.com/sigil-dev/chatgate/internal/relay"
	"github.com/sigil-dev/chatgate/internal/server"
	"github.com/sigil-dev/chatgate/internal/session"
	"github.com/sigil-dev/chatgate/pkg/health"
	"github.com/stretchr/testify/require"
)

type mockClassifier struct {
	results map[classifier.Dimension]classifier.Result
	status  classifier.Status
}

func (m *mockClassifier) Classify(_ context.Context, dim classifier.Dimension, _ string) classifier.Result {
	if r, ok := m.results[dim]; ok {
		return r
	}
	return classifier.Result{Dimension: dim, Outcome: classifier.OutcomeLoading}
}

func (m *mockClassifier) Status() classifier.Status { return m.status }

// mockRelay records submissions into a real store and replays fixed events.
type mockRelay struct {
	sessions *session.Store
	events   []relay.Event
	err      error

	mu        sync.Mutex
	submitted []string
}

func (m *mockRelay) Submit(_ context.Context, sessionID, prompt string) (relay.SubmitResult, error) {
	if m.err != nil {
		return relay.SubmitResult{}, m.err
	}
	m.mu.Lock()
	m.submitted = append(m.submitted, sessionID+":"+prompt)
	m.mu.Unlock()

	_, created, err := m.sessions.GetOrCreate(sessionID)
	if err != nil {
		return relay.SubmitResult{}, err
	}
	if err := m.sessions.AppendTurn(sessionID, session.RoleUser, prompt); err != nil {
		return relay.SubmitResult{}, err
	}
	return relay.SubmitResult{SessionID: sessionID, Created: created, Message: "Message processed."}, nil
}

func (m *mockRelay) Stream(ctx context.Context, _ string, events chan<- relay.Event) error {
	defer close(events)
	for _, ev := range m.events {
		select {
		case events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

type staticHealth struct{ m health.Metrics }

func (s staticHealth) Metrics() health.Metrics { return s.m }

type fixture struct {
	srv        *server.Server
	sessions   *session.Store
	classifier *mockClassifier
	relay      *mockRelay
}

func newFixture(t *testing.T, opts ...func(*fixture)) *fixture {
	t.Helper()
	sessions := session.NewStore(nil)
	t.Cleanup(func() { _ = sessions.Close() })

	f := &fixture{
		sessions:   sessions,
		classifier: &mockClassifier{results: map[classifier.Dimension]classifier.Result{}},
		relay:      &mockRelay{sessions: sessions},
	}
	for _, opt := range opts {
		opt(f)
	}

	svc, err := server.NewServices(f.classifier, f.relay, sessions, staticHealth{m: health.Metrics{Available: true}})
	require.NoError(t, err)
	f.srv, err = server.New(server.Config{ListenAddr: "127.0.0.1:0"}, svc)
	require.NoError(t, err)
	return f
}
