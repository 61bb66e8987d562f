// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package vectorindex answers nearest-neighbour queries over labeled sample
// embeddings. Two backends exist: an exact in-memory scan (Flat) and a
// sqlite-vec database opened read-only (SQLite). Both are safe for
// concurrent queries once constructed.
package vectorindex

import (
	"context"
	"math"

	gateerr "github.com/sigil-dev/chatgate/pkg/errors"
)

// Match is the single nearest sample for a query.
type Match struct {
	Row      int
	Label    string
	Distance float32
}

// Index is a read-only labeled nearest-neighbour index.
type Index interface {
	Nearest(ctx context.Context, query []float32) (Match, error)
	Dim() int
	Len() int
	Close() error
}

// Backend selects the Index implementation used when loading an artifact.
type Backend string

const (
	BackendSQLite Backend = "sqlite"
	BackendFlat   Backend = "flat"
)

func checkQuery(query []float32, dim int) error {
	if len(query) != dim {
		return gateerr.Errorf(gateerr.CodeIndexQueryInvalidInput,
			"query has %d dimensions, index has %d", len(query), dim)
	}
	for _, x := range query {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return gateerr.New(gateerr.CodeIndexQueryInvalidInput, "query contains non-finite values")
		}
	}
	return nil
}
