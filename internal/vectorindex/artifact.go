// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package vectorindex

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	gateerr "github.com/sigil-dev/chatgate/pkg/errors"
)

// Samples is the labels file of an artifact pair. Labels[i] names the
// vector stored in index row i. Embeddings are kept for inspection and for
// rebuilding the index; queries never read them.
type Samples struct {
	Model      string      `json:"model"`
	Device     string      `json:"device,omitempty"`
	Dimension  int         `json:"dimension"`
	Labels     []string    `json:"labels"`
	Texts      []string    `json:"texts,omitempty"`
	Embeddings [][]float32 `json:"embeddings,omitempty"`
}

// LabelCounts returns how many samples carry each label, in first-seen order.
func (s *Samples) LabelCounts() ([]string, map[string]int) {
	counts := make(map[string]int)
	var order []string
	for _, l := range s.Labels {
		if _, ok := counts[l]; !ok {
			order = append(order, l)
		}
		counts[l]++
	}
	return order, counts
}

// Artifact locates the two files that make up one dimension's index.
type Artifact struct {
	Name        string
	SamplesPath string
	IndexPath   string
}

// Loaded is a ready-to-query artifact.
type Loaded struct {
	Index   Index
	Samples *Samples
}

// Load opens an artifact pair. A missing file yields
// CodeIndexArtifactNotFound; an undecodable or inconsistent pair yields
// CodeIndexArtifactCorrupt.
func Load(ctx context.Context, a Artifact, backend Backend) (*Loaded, error) {
	for _, p := range []string{a.SamplesPath, a.IndexPath} {
		if _, err := os.Stat(p); err != nil {
			return nil, gateerr.Wrap(err, gateerr.CodeIndexArtifactNotFound,
				fmt.Sprintf("%s artifact file unavailable", a.Name), gateerr.FieldPath(p))
		}
	}

	samples, err := ReadSamples(a.SamplesPath)
	if err != nil {
		return nil, err
	}

	var idx Index
	switch backend {
	case BackendSQLite, "":
		idx, err = OpenSQLite(ctx, a.IndexPath, samples.Labels)
	case BackendFlat:
		var vectors [][]float32
		vectors, err = ReadVectors(ctx, a.IndexPath)
		if err == nil {
			idx, err = NewFlat(vectors, samples.Labels)
			err = gateerr.With(err, gateerr.FieldPath(a.IndexPath))
		}
	default:
		return nil, gateerr.Errorf(gateerr.CodeIndexBackendUnsupported, "unsupported index backend %q", backend)
	}
	if err != nil {
		return nil, err
	}

	if samples.Dimension != 0 && samples.Dimension != idx.Dim() {
		_ = idx.Close()
		return nil, gateerr.New(gateerr.CodeIndexArtifactCorrupt,
			fmt.Sprintf("samples declare %d dimensions, index has %d", samples.Dimension, idx.Dim()),
			gateerr.FieldPath(a.SamplesPath))
	}

	return &Loaded{Index: idx, Samples: samples}, nil
}

// ReadSamples decodes and sanity-checks a samples file.
func ReadSamples(path string) (*Samples, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, gateerr.Wrap(err, gateerr.CodeIndexArtifactNotFound, "samples file missing", gateerr.FieldPath(path))
		}
		return nil, corrupt(err, path, "reading samples file")
	}

	var s Samples
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, corrupt(err, path, "decoding samples file")
	}
	if len(s.Labels) == 0 {
		return nil, gateerr.New(gateerr.CodeIndexArtifactCorrupt, "samples file has no labels", gateerr.FieldPath(path))
	}
	if len(s.Embeddings) > 0 && len(s.Embeddings) != len(s.Labels) {
		return nil, gateerr.New(gateerr.CodeIndexArtifactCorrupt,
			fmt.Sprintf("samples file has %d embeddings but %d labels", len(s.Embeddings), len(s.Labels)),
			gateerr.FieldPath(path))
	}
	if len(s.Texts) > 0 && len(s.Texts) != len(s.Labels) {
		return nil, gateerr.New(gateerr.CodeIndexArtifactCorrupt,
			fmt.Sprintf("samples file has %d texts but %d labels", len(s.Texts), len(s.Labels)),
			gateerr.FieldPath(path))
	}

	return &s, nil
}

// WriteArtifact persists s as an artifact pair. Both files are written to
// temporary names first and renamed into place so a reader never sees half
// an artifact.
func WriteArtifact(ctx context.Context, a Artifact, s *Samples) error {
	if len(s.Embeddings) == 0 || len(s.Embeddings) != len(s.Labels) {
		return gateerr.Errorf(gateerr.CodeIndexBuildInvalidInput,
			"need one embedding per label, got %d embeddings and %d labels", len(s.Embeddings), len(s.Labels))
	}
	if s.Dimension == 0 {
		s.Dimension = len(s.Embeddings[0])
	}

	for _, p := range []string{a.SamplesPath, a.IndexPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return gateerr.Wrap(err, gateerr.CodeIndexBuildWriteFailure, "creating artifact directory", gateerr.FieldPath(p))
		}
	}

	tmpIndex := a.IndexPath + ".tmp"
	if err := CreateSQLite(ctx, tmpIndex, s.Embeddings); err != nil {
		_ = os.Remove(tmpIndex)
		return err
	}

	data, err := json.Marshal(s)
	if err != nil {
		_ = os.Remove(tmpIndex)
		return gateerr.Wrap(err, gateerr.CodeIndexBuildWriteFailure, "encoding samples")
	}
	tmpSamples := a.SamplesPath + ".tmp"
	if err := os.WriteFile(tmpSamples, data, 0o644); err != nil {
		_ = os.Remove(tmpIndex)
		return gateerr.Wrap(err, gateerr.CodeIndexBuildWriteFailure, "writing samples", gateerr.FieldPath(tmpSamples))
	}

	if err := os.Rename(tmpIndex, a.IndexPath); err != nil {
		return gateerr.Wrap(err, gateerr.CodeIndexBuildWriteFailure, "installing index", gateerr.FieldPath(a.IndexPath))
	}
	if err := os.Rename(tmpSamples, a.SamplesPath); err != nil {
		return gateerr.Wrap(err, gateerr.CodeIndexBuildWriteFailure, "installing samples", gateerr.FieldPath(a.SamplesPath))
	}
	return nil
}
