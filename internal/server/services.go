// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import (
	"context"

	"github.com/sigil-dev/chatgate/internal/classifier"
	"github.com/sigil-dev/chatgate/internal/relay"
	"github.com/sigil-dev/chatgate/internal/session"
	gateerr "github.com/sigil-dev/chatgate/pkg/errors"
	"github.com/sigil-dev/chatgate/pkg/health"
)

// ClassifierService labels text and reports readiness.
type ClassifierService interface {
	Classify(ctx context.Context, dim classifier.Dimension, text string) classifier.Result
	Status() classifier.Status
}

// RelayService runs chat turns.
type RelayService interface {
	Submit(ctx context.Context, sessionID, prompt string) (relay.SubmitResult, error)
	Stream(ctx context.Context, sessionID string, events chan<- relay.Event) error
}

// SessionService reads transcripts. It must never create sessions.
type SessionService interface {
	Exists(id string) bool
	Snapshot(id string) ([]session.Turn, error)
}

// HealthReporter reports an upstream dependency's health.
type HealthReporter interface {
	Metrics() health.Metrics
}

// Services holds dependencies injected into route handlers.
// Each field is an interface so subsystems can be mocked in tests.
type Services struct {
	classifier ClassifierService
	relay      RelayService
	sessions   SessionService
	upstream   HealthReporter // optional; nil omits upstream health from status
}

// NewServices creates a Services instance with validation.
func NewServices(c ClassifierService, r RelayService, sessions SessionService, upstream ...HealthReporter) (*Services, error) {
	if c == nil {
		return nil, gateerr.New(gateerr.CodeServerConfigInvalid, "classifier service is required")
	}
	if r == nil {
		return nil, gateerr.New(gateerr.CodeServerConfigInvalid, "relay service is required")
	}
	if sessions == nil {
		return nil, gateerr.New(gateerr.CodeServerConfigInvalid, "session service is required")
	}
	if len(upstream) > 1 {
		return nil, gateerr.New(gateerr.CodeServerConfigInvalid, "at most one upstream health reporter may be supplied")
	}
	s := &Services{classifier: c, relay: r, sessions: sessions}
	if len(upstream) > 0 && upstream[0] != nil {
		s.upstream = upstream[0]
	}
	return s, nil
}
