// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package classifier

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sigil-dev/chatgate/internal/vectorindex"
	gateerr "github.com/sigil-dev/chatgate/pkg/errors"
)

// Dimension is one classification axis, each backed by its own index.
type Dimension string

const (
	Topic  Dimension = "topic"
	Intent Dimension = "intent"
)

// Dimensions lists every axis in a stable order.
var Dimensions = []Dimension{Topic, Intent}

// Valid reports whether d is one of Dimensions.
func (d Dimension) Valid() bool {
	return d == Topic || d == Intent
}

// Embedder is the loaded embedding function.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
	Name() string
	Device() string
}

// ModelFunc constructs the embedder. Called once per load attempt while no
// embedder is loaded.
type ModelFunc func(ctx context.Context) (Embedder, error)

// IndexFunc opens the index for one dimension.
type IndexFunc func(ctx context.Context, dim Dimension) (*vectorindex.Loaded, error)

// ArtifactIndexes returns an IndexFunc reading each dimension's artifact pair.
func ArtifactIndexes(artifacts map[Dimension]vectorindex.Artifact, backend vectorindex.Backend) IndexFunc {
	return func(ctx context.Context, dim Dimension) (*vectorindex.Loaded, error) {
		a, ok := artifacts[dim]
		if !ok {
			return nil, gateerr.New(gateerr.CodeIndexArtifactNotFound, "no artifact configured",
				gateerr.FieldDimension(string(dim)))
		}
		return vectorindex.Load(ctx, a, backend)
	}
}

// components is an immutable view published by a finished load attempt.
type components struct {
	model     Embedder
	modelErr  error
	indexes   map[Dimension]*vectorindex.Loaded
	indexErrs map[Dimension]error
}

func (c *components) clone() *components {
	next := &components{
		model:     c.model,
		modelErr:  c.modelErr,
		indexes:   make(map[Dimension]*vectorindex.Loaded, len(c.indexes)),
		indexErrs: make(map[Dimension]error, len(c.indexErrs)),
	}
	for k, v := range c.indexes {
		next.indexes[k] = v
	}
	return next
}

// LoaderConfig tunes a Loader.
type LoaderConfig struct {
	// Timeout bounds a single load attempt. Zero means no bound.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Loader brings up the embedder and both indexes in the background. At most
// one attempt runs at a time; each attempt is a supervised goroutine whose
// completion is observable through Wait.
type Loader struct {
	state     stateCell
	comps     atomic.Pointer[components]
	inflight  atomic.Bool
	retryable atomic.Bool
	attempts  atomic.Int64

	mu   sync.Mutex
	done chan struct{}

	loadModel ModelFunc
	loadIndex IndexFunc
	timeout   time.Duration
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewLoader creates a Loader in StateLoading. Nothing is loaded until Start.
func NewLoader(loadModel ModelFunc, loadIndex IndexFunc, cfg LoaderConfig) *Loader {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	close(done)

	l := &Loader{
		done:      done,
		loadModel: loadModel,
		loadIndex: loadIndex,
		timeout:   cfg.Timeout,
		logger:    logger.With("component", "classifier-loader"),
		ctx:       ctx,
		cancel:    cancel,
	}
	l.comps.Store(&components{
		indexes:   map[Dimension]*vectorindex.Loaded{},
		indexErrs: map[Dimension]error{},
	})
	return l
}

// Start begins a load attempt unless one is in flight or nothing is left to
// retry. Reports whether this call started an attempt. Never blocks.
func (l *Loader) Start() bool {
	if !l.inflight.CompareAndSwap(false, true) {
		return false
	}

	switch l.state.Load() {
	case StateReady:
		l.inflight.Store(false)
		return false
	case StateDegraded:
		if !l.retryable.Load() || l.ctx.Err() != nil {
			l.inflight.Store(false)
			return false
		}
		if err := l.state.TransitionTo(StateDegraded, StateLoading); err != nil {
			l.inflight.Store(false)
			return false
		}
	}

	if l.ctx.Err() != nil {
		l.inflight.Store(false)
		return false
	}

	done := make(chan struct{})
	l.mu.Lock()
	l.done = done
	l.mu.Unlock()

	l.wg.Add(1)
	go l.run(done)
	return true
}

// Wait blocks until the most recent attempt finishes or ctx ends.
func (l *Loader) Wait(ctx context.Context) error {
	l.mu.Lock()
	done := l.done
	l.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loader) State() State { return l.state.Load() }

// InFlight reports whether an attempt is currently running.
func (l *Loader) InFlight() bool { return l.inflight.Load() }

// Attempts is the number of attempts started so far.
func (l *Loader) Attempts() int64 { return l.attempts.Load() }

// Retryable reports whether a Degraded loader will accept another Start.
func (l *Loader) Retryable() bool { return l.retryable.Load() }

func (l *Loader) current() *components { return l.comps.Load() }

// Close cancels any running attempt, waits for it, and releases indexes.
func (l *Loader) Close() error {
	l.cancel()
	l.wg.Wait()

	var errs []error
	for _, idx := range l.current().indexes {
		if err := idx.Index.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return gateerr.Join(errs...)
}

func (l *Loader) run(done chan struct{}) {
	defer l.wg.Done()
	defer close(done)
	defer l.inflight.Store(false)

	attempt := l.attempts.Add(1)
	start := time.Now()
	l.logger.Info("classifier load started", "attempt", attempt)

	ctx := l.ctx
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	next := l.current().clone()
	published := false
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("classifier load panicked", "attempt", attempt, "panic", r)
			if !published {
				if next.model == nil {
					next.modelErr = gateerr.Errorf(gateerr.CodeEmbeddingModelLoadFailure, "panic while loading: %v", r)
				}
				l.publish(next)
			}
		}
	}()

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	if next.model == nil {
		g.Go(func() error {
			m, err := guarded(func() (Embedder, error) { return l.loadModel(ctx) })
			mu.Lock()
			next.model, next.modelErr = m, err
			mu.Unlock()
			return nil
		})
	}
	var missing []Dimension
	for _, dim := range Dimensions {
		if next.indexes[dim] == nil {
			missing = append(missing, dim)
		}
	}
	for _, dim := range missing {
		g.Go(func() error {
			idx, err := guarded(func() (*vectorindex.Loaded, error) { return l.loadIndex(ctx, dim) })
			mu.Lock()
			if err == nil {
				next.indexes[dim] = idx
			} else {
				next.indexErrs[dim] = err
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if next.modelErr != nil {
		next.model = nil
		l.logger.Error("embedding model load failed", "attempt", attempt, "error", next.modelErr)
	}
	if next.model != nil {
		for dim, idx := range next.indexes {
			if idx.Index.Dim() != next.model.Dimension() {
				_ = idx.Index.Close()
				delete(next.indexes, dim)
				next.indexErrs[dim] = gateerr.New(gateerr.CodeIndexArtifactCorrupt,
					fmt.Sprintf("index has %d dimensions, embedder produces %d", idx.Index.Dim(), next.model.Dimension()),
					gateerr.FieldDimension(string(dim)))
			}
		}
	}
	for dim, err := range next.indexErrs {
		l.logger.Warn("classifier dimension unavailable", "attempt", attempt, "dimension", dim, "error", err)
	}

	l.publish(next)
	published = true
	l.logger.Info("classifier load finished",
		"attempt", attempt,
		"state", l.State().String(),
		"embedding_model", next.model != nil,
		"topic_index", next.indexes[Topic] != nil,
		"intent_index", next.indexes[Intent] != nil,
		"elapsed", time.Since(start))
}

// publish makes next visible and moves Loading to its terminal state. The
// components are stored before the state flips so a Ready reader always
// sees them.
func (l *Loader) publish(next *components) {
	l.comps.Store(next)

	to := StateReady
	switch {
	case next.model == nil:
		l.retryable.Store(true)
		to = StateDegraded
	case len(next.indexes) < len(Dimensions):
		l.retryable.Store(false)
		to = StateDegraded
	default:
		l.retryable.Store(false)
	}

	if err := l.state.TransitionTo(StateLoading, to); err != nil {
		l.logger.Error("classifier state transition rejected", "error", err)
	}
}

func guarded[T any](fn func() (T, error)) (out T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = gateerr.Errorf(gateerr.CodeClassifierRuntimeFailure, "panic: %v", r)
		}
	}()
	return fn()
}
