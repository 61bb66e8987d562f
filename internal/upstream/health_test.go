// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package upstream_test

import (
	"errors"
	"testing"
	"time"

	"github.com/sigil-dev/chatgate/internal/upstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthTracker_InvalidCooldown(t *testing.T) {
	for _, d := range []time.Duration{0, -time.Second} {
		_, err := upstream.NewHealthTracker(d)
		assert.Error(t, err)
	}
}

func TestHealthTracker_CooldownRecovery(t *testing.T) {
	h, err := upstream.NewHealthTracker(10 * time.Second)
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h.SetNowFunc(func() time.Time { return now })
	assert.True(t, h.IsHealthy())

	h.RecordFailure(errors.New("connection refused"))
	assert.False(t, h.IsHealthy())

	m := h.Metrics()
	assert.False(t, m.Available)
	assert.Equal(t, "connection refused", m.LastError)
	require.NotNil(t, m.CooldownUntil)
	assert.Equal(t, now.Add(10*time.Second), *m.CooldownUntil)

	now = now.Add(10 * time.Second)
	assert.True(t, h.IsHealthy())
	assert.True(t, h.Metrics().Available)

	h.RecordSuccess()
	m = h.Metrics()
	assert.Nil(t, m.CooldownUntil)
	assert.Equal(t, int64(1), m.SuccessCount)
	assert.Equal(t, int64(1), m.FailureCount)
}
