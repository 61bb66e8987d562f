// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package classifier_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sigil-dev/chatgate/internal/classifier"
	"github.com/sigil-dev/chatgate/internal/vectorindex"
	"github.com/stretchr/testify/require"
)

// fakeEmbedder maps known texts to fixed vectors.
type fakeEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	calls   atomic.Int32
	err     error
	panics  bool
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.calls.Add(1)
	if f.panics {
		panic("embedder exploded")
	}
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.vectors[text]; ok {
		return append([]float32(nil), v...), nil
	}
	return []float32{0, 0}, nil
}

func (f *fakeEmbedder) Dimension() int { return 2 }
func (f *fakeEmbedder) Name() string   { return "fake-embedder" }
func (f *fakeEmbedder) Device() string { return "cpu" }

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{vectors: map[string][]float32{
		"near billing": {0.9, 0.1},
		"near refunds": {0.1, 0.9},
		"greeting":     {1, 0},
		"complaint":    {0, 1},
	}}
}

func modelFunc(e classifier.Embedder) classifier.ModelFunc {
	return func(context.Context) (classifier.Embedder, error) { return e, nil }
}

func flatIndexes(t *testing.T) classifier.IndexFunc {
	t.Helper()
	topic, err := vectorindex.NewFlat([][]float32{{1, 0}, {0, 1}}, []string{"billing", "refunds"})
	require.NoError(t, err)
	intent, err := vectorindex.NewFlat([][]float32{{1, 0}, {0, 1}, {0.5, 0.5}}, []string{"ask", "complain", "chat"})
	require.NoError(t, err)

	return func(_ context.Context, dim classifier.Dimension) (*vectorindex.Loaded, error) {
		switch dim {
		case classifier.Topic:
			return &vectorindex.Loaded{Index: topic, Samples: &vectorindex.Samples{Labels: []string{"billing", "refunds"}}}, nil
		default:
			return &vectorindex.Loaded{Index: intent, Samples: &vectorindex.Samples{Labels: []string{"ask", "complain", "chat"}}}, nil
		}
	}
}

func newService(t *testing.T, model classifier.ModelFunc, indexes classifier.IndexFunc) *classifier.Service {
	t.Helper()
	loader := classifier.NewLoader(model, indexes, classifier.LoaderConfig{Timeout: 5 * time.Second})
	svc, err := classifier.NewService(loader, classifier.Config{Workers: 2, Device: "cpu"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

// loadAndWait runs one attempt to completion.
func loadAndWait(t *testing.T, svc *classifier.Service) {
	t.Helper()
	svc.Loader().Start()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, svc.Loader().Wait(ctx))
}
