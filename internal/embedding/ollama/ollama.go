// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package ollama

import (
	"context"
	"net/http"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"

	gateerr "github.com/sigil-dev/chatgate/pkg/errors"
)

// Config holds the settings for an Ollama server.
type Config struct {
	BaseURL    string
	Model      string
	HTTPClient *http.Client
}

// Client embeds through Ollama's native embedding API.
type Client struct {
	embedder embeddings.Embedder
}

// New creates a Client. No request is made until EmbedTexts.
func New(cfg Config) (*Client, error) {
	if cfg.Model == "" {
		return nil, gateerr.New(gateerr.CodeEmbeddingRequestInvalidInput, "embedding model must not be empty")
	}

	opts := []ollama.Option{ollama.WithModel(cfg.Model)}
	if cfg.BaseURL != "" {
		opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, ollama.WithHTTPClient(cfg.HTTPClient))
	}

	llm, err := ollama.New(opts...)
	if err != nil {
		return nil, gateerr.Wrap(err, gateerr.CodeEmbeddingModelLoadFailure, "creating ollama client")
	}

	embedder, err := embeddings.NewEmbedder(llm, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, gateerr.Wrap(err, gateerr.CodeEmbeddingModelLoadFailure, "creating ollama embedder")
	}

	return &Client{embedder: embedder}, nil
}

// EmbedTexts embeds texts, batching per langchaingo's defaults.
func (c *Client) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out, err := c.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, gateerr.Wrap(err, gateerr.CodeEmbeddingUpstreamFailure, "ollama embeddings request")
	}
	return out, nil
}
