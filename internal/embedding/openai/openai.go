// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package openai

import (
	"context"
	"net/http"
	"sort"
	"strings"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	gateerr "github.com/sigil-dev/chatgate/pkg/errors"
)

// Config holds the settings for an OpenAI-compatible embeddings endpoint.
type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	HTTPClient *http.Client
}

// Client calls POST {BaseURL}/embeddings.
type Client struct {
	client openaisdk.Client
	model  string
}

// New creates a Client. No request is made until EmbedTexts.
func New(cfg Config) (*Client, error) {
	if cfg.Model == "" {
		return nil, gateerr.New(gateerr.CodeEmbeddingRequestInvalidInput, "embedding model must not be empty")
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = "none"
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(1),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")+"/"))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &Client{client: openaisdk.NewClient(opts...), model: cfg.Model}, nil
}

// EmbedTexts embeds texts in one request.
func (c *Client) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := c.client.Embeddings.New(ctx, openaisdk.EmbeddingNewParams{
		Model:          openaisdk.EmbeddingModel(c.model),
		Input:          openaisdk.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		EncodingFormat: openaisdk.EmbeddingNewParamsEncodingFormatFloat,
	})
	if err != nil {
		return nil, gateerr.Wrap(err, gateerr.CodeEmbeddingUpstreamFailure, "openai embeddings request")
	}

	data := resp.Data
	sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	out := make([][]float32, len(data))
	for i, d := range data {
		v := make([]float32, len(d.Embedding))
		for j, x := range d.Embedding {
			v[j] = float32(x)
		}
		out[i] = v
	}
	return out, nil
}
