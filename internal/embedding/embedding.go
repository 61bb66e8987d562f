// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package embedding turns text into fixed-width vectors. A Model wraps one
// backend together with the dimension discovered by its warm-up probe.
package embedding

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/sigil-dev/chatgate/internal/embedding/ollama"
	"github.com/sigil-dev/chatgate/internal/embedding/openai"
	gateerr "github.com/sigil-dev/chatgate/pkg/errors"
)

// Backend is the minimal contract every embedding client satisfies.
type Backend interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Config selects and configures a backend.
type Config struct {
	Backend    string
	BaseURL    string
	Model      string
	APIKey     string
	Device     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

const warmupText = "query: warm-up"

// Model is a loaded embedder. Safe for concurrent use.
type Model struct {
	backend Backend
	name    string
	device  string
	dim     int
	timeout time.Duration
	logger  *slog.Logger
}

// Load constructs the configured backend and embeds one probe text to
// confirm the model answers and to learn its dimension. Any failure is
// reported as CodeEmbeddingModelLoadFailure.
func Load(ctx context.Context, cfg Config) (*Model, error) {
	var (
		backend Backend
		err     error
	)
	switch cfg.Backend {
	case "openai", "":
		backend, err = openai.New(openai.Config{
			BaseURL:    cfg.BaseURL,
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			HTTPClient: cfg.HTTPClient,
		})
	case "ollama":
		backend, err = ollama.New(ollama.Config{
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			HTTPClient: cfg.HTTPClient,
		})
	default:
		return nil, gateerr.Errorf(gateerr.CodeEmbeddingBackendUnsupported, "unsupported embedding backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, gateerr.Wrap(err, gateerr.CodeEmbeddingModelLoadFailure, "constructing embedding backend",
			gateerr.Field("backend", cfg.Backend))
	}

	return FromBackend(ctx, backend, cfg)
}

// FromBackend probes an already constructed backend.
func FromBackend(ctx context.Context, backend Backend, cfg Config) (*Model, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := &Model{
		backend: backend,
		name:    cfg.Model,
		device:  cfg.Device,
		timeout: cfg.Timeout,
		logger:  logger.With("component", "embedding", "model", cfg.Model),
	}

	probe, err := m.embed(ctx, []string{warmupText})
	if err != nil {
		return nil, gateerr.Wrap(err, gateerr.CodeEmbeddingModelLoadFailure, "probing embedding model",
			gateerr.Field("model", cfg.Model))
	}
	if len(probe[0]) == 0 {
		return nil, gateerr.New(gateerr.CodeEmbeddingModelLoadFailure, "embedding model returned an empty vector",
			gateerr.Field("model", cfg.Model))
	}
	m.dim = len(probe[0])

	m.logger.Info("embedding model ready", "dimension", m.dim, "device", m.device)
	return m, nil
}

// Embed returns the vector for a single text.
func (m *Model) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := m.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch returns one vector per input text, in input order.
func (m *Model) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out, err := m.embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	for i, v := range out {
		if len(v) != m.dim {
			return nil, gateerr.Errorf(gateerr.CodeEmbeddingResponseInvalid,
				"embedding %d has %d dimensions, model has %d", i, len(v), m.dim)
		}
	}
	return out, nil
}

func (m *Model) embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, gateerr.New(gateerr.CodeEmbeddingRequestInvalidInput, "no texts to embed")
	}
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	out, err := m.backend.EmbedTexts(ctx, texts)
	if err != nil {
		if gateerr.CodeOf(err) == "" {
			err = gateerr.Wrap(err, gateerr.CodeEmbeddingUpstreamFailure, "embedding request failed")
		}
		return nil, err
	}
	if len(out) != len(texts) {
		return nil, gateerr.Errorf(gateerr.CodeEmbeddingResponseInvalid,
			"backend returned %d embeddings for %d texts", len(out), len(texts))
	}
	return out, nil
}

func (m *Model) Dimension() int { return m.dim }

func (m *Model) Name() string { return m.name }

func (m *Model) Device() string { return m.device }
