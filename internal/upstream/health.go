// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package upstream

import (
	"sync"
	"time"

	gateerr "github.com/sigil-dev/chatgate/pkg/errors"
	"github.com/sigil-dev/chatgate/pkg/health"
)

// DefaultHealthCooldown is how long the upstream is reported unavailable
// after a failure.
const DefaultHealthCooldown = 30 * time.Second

// HealthTracker records upstream outcomes for the status endpoint. It never
// blocks requests; a failed upstream is simply reported unavailable until the
// cooldown elapses or a request succeeds.
type HealthTracker struct {
	mu           sync.RWMutex
	healthy      bool
	cooldown     time.Duration
	successCount int64
	failureCount int64
	succeededAt  time.Time
	failedAt     time.Time
	lastErr      string
	nowFunc      func() time.Time
}

// NewHealthTracker returns a healthy tracker. cooldown must be positive.
func NewHealthTracker(cooldown time.Duration) (*HealthTracker, error) {
	if cooldown <= 0 {
		return nil, gateerr.Errorf(gateerr.CodeConfigValidateInvalidValue,
			"health tracker cooldown must be positive, got %s", cooldown)
	}
	return &HealthTracker{healthy: true, cooldown: cooldown, nowFunc: time.Now}, nil
}

// The caller must hold at least h.mu.RLock.
func (h *HealthTracker) isHealthyLocked() bool {
	if h.healthy {
		return true
	}
	return h.nowFunc().Sub(h.failedAt) >= h.cooldown
}

func (h *HealthTracker) IsHealthy() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.isHealthyLocked()
}

func (h *HealthTracker) RecordSuccess() {
	h.mu.Lock()
	h.healthy = true
	h.successCount++
	h.succeededAt = h.nowFunc()
	h.mu.Unlock()
}

func (h *HealthTracker) RecordFailure(err error) {
	h.mu.Lock()
	h.healthy = false
	h.failedAt = h.nowFunc()
	h.failureCount++
	if err != nil {
		h.lastErr = err.Error()
	}
	h.mu.Unlock()
}

// SetNowFunc overrides the time source (for testing).
func (h *HealthTracker) SetNowFunc(fn func() time.Time) {
	h.mu.Lock()
	h.nowFunc = fn
	h.mu.Unlock()
}

// Metrics returns a snapshot that holds no references to tracker state.
func (h *HealthTracker) Metrics() health.Metrics {
	h.mu.RLock()
	defer h.mu.RUnlock()

	m := health.Metrics{
		Available:    h.isHealthyLocked(),
		SuccessCount: h.successCount,
		FailureCount: h.failureCount,
		LastError:    h.lastErr,
	}
	if h.successCount > 0 {
		t := h.succeededAt
		m.LastSuccessAt = &t
	}
	if h.failureCount > 0 {
		t := h.failedAt
		m.LastFailureAt = &t
	}
	if !h.healthy {
		end := h.failedAt.Add(h.cooldown)
		m.CooldownUntil = &end
	}
	return m
}
