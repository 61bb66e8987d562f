// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package vectorindex

import (
	"context"
	"math"

	gateerr "github.com/sigil-dev/chatgate/pkg/errors"
)

var _ Index = (*Flat)(nil)

// Flat is an exact L2 index held entirely in memory.
type Flat struct {
	dim     int
	vectors [][]float32
	labels  []string
}

// NewFlat builds a Flat index. vectors[i] is labeled labels[i]; all vectors
// must share one dimension.
func NewFlat(vectors [][]float32, labels []string) (*Flat, error) {
	if len(vectors) == 0 {
		return nil, gateerr.New(gateerr.CodeIndexArtifactCorrupt, "index has no vectors")
	}
	if len(vectors) != len(labels) {
		return nil, gateerr.Errorf(gateerr.CodeIndexArtifactCorrupt,
			"index has %d vectors but %d labels", len(vectors), len(labels))
	}

	dim := len(vectors[0])
	if dim == 0 {
		return nil, gateerr.New(gateerr.CodeIndexArtifactCorrupt, "index vectors are empty")
	}
	for i, v := range vectors {
		if len(v) != dim {
			return nil, gateerr.Errorf(gateerr.CodeIndexArtifactCorrupt,
				"vector %d has %d dimensions, expected %d", i, len(v), dim)
		}
	}

	return &Flat{dim: dim, vectors: vectors, labels: labels}, nil
}

// Nearest scans every vector. On equal distance the lowest row wins.
func (f *Flat) Nearest(ctx context.Context, query []float32) (Match, error) {
	if err := checkQuery(query, f.dim); err != nil {
		return Match{}, err
	}

	best := -1
	bestDist := math.Inf(1)
	for i, v := range f.vectors {
		if i%1024 == 0 && ctx.Err() != nil {
			return Match{}, gateerr.Wrap(ctx.Err(), gateerr.CodeIndexQueryFailure, "nearest search interrupted")
		}
		if d := squaredL2(query, v); d < bestDist {
			best, bestDist = i, d
		}
	}

	if best < 0 {
		return Match{}, gateerr.New(gateerr.CodeIndexQueryFailure, "no comparable vector in index")
	}

	return Match{
		Row:      best,
		Label:    f.labels[best],
		Distance: float32(math.Sqrt(bestDist)),
	}, nil
}

func (f *Flat) Dim() int { return f.dim }

func (f *Flat) Len() int { return len(f.vectors) }

func (f *Flat) Close() error { return nil }

func squaredL2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}
