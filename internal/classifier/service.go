// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package classifier

import (
	"context"
	"log/slog"
	"runtime"

	"github.com/panjf2000/ants/v2"

	gateerr "github.com/sigil-dev/chatgate/pkg/errors"
)

// Outcome says how a classification ended.
type Outcome string

const (
	OutcomeLabel       Outcome = "label"
	OutcomeLoading     Outcome = "loading"
	OutcomeUnavailable Outcome = "unavailable"
	OutcomeError       Outcome = "error"
)

// Placeholder labels reported instead of a real label.
const (
	PlaceholderLoading     = "loading"
	PlaceholderUnavailable = "unavailable"
	PlaceholderUnknown     = "unknown"
)

// Result is the value of one classification. Only OutcomeLabel carries a
// real Label.
type Result struct {
	Dimension Dimension
	Outcome   Outcome
	Label     string
	Distance  float32
}

// OK reports whether r carries a real label.
func (r Result) OK() bool { return r.Outcome == OutcomeLabel }

// Text is the label, or the placeholder for a non-label outcome.
func (r Result) Text() string {
	switch r.Outcome {
	case OutcomeLabel:
		return r.Label
	case OutcomeLoading:
		return PlaceholderLoading
	case OutcomeUnavailable:
		return PlaceholderUnavailable
	default:
		return PlaceholderUnknown
	}
}

// Config tunes a Service.
type Config struct {
	// Workers bounds concurrent embed+search work. Defaults to NumCPU.
	Workers int
	// Device is reported in Status before the embedder has loaded.
	Device  string
	Logger  *slog.Logger
}

// Service classifies text along each Dimension. It never returns an error
// and never waits for the Loader; every failure becomes a Result outcome.
type Service struct {
	loader *Loader
	cache  *EmbeddingCache
	pool   *ants.Pool
	device string
	logger *slog.Logger
}

// NewService wraps loader. The caller keeps ownership of the loader's
// lifecycle only until the Service is closed.
func NewService(loader *Loader, cfg Config) (*Service, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	workers := cfg.Workers
	if workers < 1 {
		workers = runtime.NumCPU()
	}

	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, gateerr.Wrap(err, gateerr.CodeClassifierRuntimeFailure, "creating classifier worker pool")
	}

	return &Service{
		loader: loader,
		cache:  NewEmbeddingCache(),
		pool:   pool,
		device: cfg.Device,
		logger: logger.With("component", "classifier"),
	}, nil
}

// Loader exposes the underlying loader.
func (s *Service) Loader() *Loader { return s.loader }

// Cache exposes the embedding cache.
func (s *Service) Cache() *EmbeddingCache { return s.cache }

// Classify returns the nearest label for text in dim. When the embedder or
// the dimension's index is not loaded it kicks the loader and returns
// immediately with OutcomeLoading or OutcomeUnavailable.
func (s *Service) Classify(ctx context.Context, dim Dimension, text string) Result {
	res := Result{Dimension: dim}
	if !dim.Valid() {
		s.logFailure(dim, gateerr.New(gateerr.CodeClassifierDimensionInvalid, "unknown dimension",
			gateerr.FieldDimension(string(dim))))
		res.Outcome = OutcomeError
		return res
	}

	comps := s.loader.current()
	idx := comps.indexes[dim]
	if comps.model == nil || idx == nil {
		if s.loader.Start() || s.loader.InFlight() || s.loader.State() == StateLoading {
			res.Outcome = OutcomeLoading
		} else {
			res.Outcome = OutcomeUnavailable
		}
		return res
	}

	if err := ctx.Err(); err != nil {
		s.logFailure(dim, err)
		res.Outcome = OutcomeError
		return res
	}

	type answer struct {
		label string
		dist  float32
		err   error
	}
	out := make(chan answer, 1)
	task := func() {
		defer func() {
			if r := recover(); r != nil {
				out <- answer{err: gateerr.Errorf(gateerr.CodeClassifierRuntimeFailure, "panic: %v", r)}
			}
		}()
		vec, err := s.cache.GetOrCompute(ctx, text, func(ctx context.Context) ([]float32, error) {
			return comps.model.Embed(ctx, text)
		})
		if err != nil {
			out <- answer{err: err}
			return
		}
		m, err := idx.Index.Nearest(ctx, vec)
		out <- answer{label: m.Label, dist: m.Distance, err: err}
	}

	if err := s.pool.Submit(task); err != nil {
		s.logFailure(dim, gateerr.Wrap(err, gateerr.CodeClassifierRuntimeFailure, "submitting classification"))
		res.Outcome = OutcomeError
		return res
	}

	select {
	case a := <-out:
		if a.err != nil {
			s.logFailure(dim, a.err)
			res.Outcome = OutcomeError
			return res
		}
		res.Outcome, res.Label, res.Distance = OutcomeLabel, a.label, a.dist
	case <-ctx.Done():
		s.logFailure(dim, ctx.Err())
		res.Outcome = OutcomeError
	}
	return res
}

func (s *Service) logFailure(dim Dimension, err error) {
	s.logger.Warn("classification failed", "dimension", dim, "code", gateerr.CodeOf(err), "error", err)
}

// Components reports which parts are loaded.
type Components struct {
	EmbeddingModel bool `json:"embeddingModel"`
	TopicIndex     bool `json:"topicIndex"`
	IntentIndex    bool `json:"intentIndex"`
}

// Stats describes the loaded artifacts.
type Stats struct {
	TopicCount  int        `json:"topicCount"`
	IntentCount int        `json:"intentCount"`
	Device      string     `json:"device"`
	Model       string     `json:"model,omitempty"`
	Dimension   int        `json:"dimension,omitempty"`
	Cache       CacheStats `json:"cache"`
}

// Status is a point-in-time snapshot for the status endpoint. Ready means
// the embedder is loaded; per-dimension availability is in Components.
type Status struct {
	Ready      bool       `json:"ready"`
	State      string     `json:"state"`
	Loading    bool       `json:"loading"`
	Attempts   int64      `json:"attempts"`
	Components Components `json:"components"`
	Stats      Stats      `json:"stats"`
}

// Status returns the current snapshot. It never triggers a load.
func (s *Service) Status() Status {
	comps := s.loader.current()

	st := Status{
		Ready:    comps.model != nil,
		State:    s.loader.State().String(),
		Loading:  s.loader.InFlight(),
		Attempts: s.loader.Attempts(),
		Components: Components{
			EmbeddingModel: comps.model != nil,
			TopicIndex:     comps.indexes[Topic] != nil,
			IntentIndex:    comps.indexes[Intent] != nil,
		},
		Stats: Stats{Device: s.device, Cache: s.cache.Stats()},
	}
	if comps.model != nil {
		if d := comps.model.Device(); d != "" {
			st.Stats.Device = d
		}
		st.Stats.Model = comps.model.Name()
		st.Stats.Dimension = comps.model.Dimension()
	}
	if idx := comps.indexes[Topic]; idx != nil {
		st.Stats.TopicCount = idx.Index.Len()
	}
	if idx := comps.indexes[Intent]; idx != nil {
		st.Stats.IntentCount = idx.Index.Len()
	}
	return st
}

// Close releases the worker pool and the loader.
func (s *Service) Close() error {
	s.pool.Release()
	return s.loader.Close()
}
