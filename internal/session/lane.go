// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package session

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	gateerr "github.com/sigil-dev/chatgate/pkg/errors"
)

const (
	itemQueued int32 = iota
	itemRunning
	itemAbandoned
)

// workItem represents a unit of work submitted to a Lane. state is claimed
// exactly once, by the worker (running) or by a cancelled submitter
// (abandoned).
type workItem struct {
	fn     func(context.Context) error
	ctx    context.Context
	state  *atomic.Int32
	result chan<- error
}

// Lane serialises work for a single session. Submitted functions run one at
// a time in FIFO order. The worker goroutine exists only while work is
// queued, so idle sessions cost no goroutine.
type Lane struct {
	sessionID string

	mu      sync.Mutex
	queue   []workItem
	running bool
	closed  bool
	wg      sync.WaitGroup
}

// NewLane creates an idle Lane for the given session.
func NewLane(sessionID string) *Lane {
	return &Lane{sessionID: sessionID}
}

// run processes queued items until the queue is empty.
func (l *Lane) run() {
	defer l.wg.Done()
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.running = false
			l.queue = nil
			l.mu.Unlock()
			return
		}
		w := l.queue[0]
		l.queue[0] = workItem{}
		l.queue = l.queue[1:]
		l.mu.Unlock()

		l.executeWork(w)
	}
}

// executeWork runs a work item with panic recovery.
func (l *Lane) executeWork(w workItem) {
	// Skip execution if the submitter gave up while queued.
	if !w.state.CompareAndSwap(itemQueued, itemRunning) {
		return
	}
	if err := w.ctx.Err(); err != nil {
		w.result <- err
		return
	}

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("lane worker panic recovered",
					"session_id", l.sessionID,
					"panic", r,
					"stack", string(debug.Stack()))
				err = gateerr.Errorf(gateerr.CodeSessionLaneFailure, "worker panic: %v", r)
			}
		}()
		err = w.fn(w.ctx)
	}()

	w.result <- err
}

// Submit enqueues fn and blocks until it completes. If ctx ends before fn
// starts, fn is skipped and Submit returns ctx.Err(). Once fn has started,
// Submit always waits for it; fn observes cancellation through its ctx.
func (l *Lane) Submit(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	result := make(chan error, 1)
	state := new(atomic.Int32)

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return gateerr.New(gateerr.CodeSessionLaneClosed, "lane is closed", gateerr.FieldSessionID(l.sessionID))
	}
	l.queue = append(l.queue, workItem{fn: fn, ctx: ctx, state: state, result: result})
	if !l.running {
		l.running = true
		l.wg.Add(1)
		go l.run()
	}
	l.mu.Unlock()

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		if state.CompareAndSwap(itemQueued, itemAbandoned) {
			return ctx.Err()
		}
		return <-result
	}
}

// Pending is the number of queued items not yet started.
func (l *Lane) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Close stops accepting work and waits for queued work to finish. Close is
// idempotent and safe for concurrent calls.
func (l *Lane) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.wg.Wait()
}
