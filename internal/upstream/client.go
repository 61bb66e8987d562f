// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package upstream streams chat completions from an OpenAI-compatible
// endpoint and reframes its line-oriented body into discrete frames.
package upstream

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	gateerr "github.com/sigil-dev/chatgate/pkg/errors"
)

// Message is one entry of the transcript sent upstream.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Config holds upstream client configuration.
type Config struct {
	BaseURL    string
	Model      string
	APIKey     string
	HTTPClient *http.Client
	Health     *HealthTracker
	Logger     *slog.Logger
}

// Client opens streaming chat completions. Requests are never retried.
type Client struct {
	client  openaisdk.Client
	baseURL string
	model   string
	health  *HealthTracker
	logger  *slog.Logger
}

// New creates a Client. BaseURL is the server root; "/v1" is appended
// unless already present.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, gateerr.New(gateerr.CodeConfigValidateInvalidValue, "upstream base url must not be empty")
	}
	if cfg.Model == "" {
		return nil, gateerr.New(gateerr.CodeConfigValidateInvalidValue, "upstream model must not be empty")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	health := cfg.Health
	if health == nil {
		var err error
		if health, err = NewHealthTracker(DefaultHealthCooldown); err != nil {
			return nil, err
		}
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = "ollama"
	}
	base := apiBase(cfg.BaseURL)
	opts := []option.RequestOption{
		option.WithBaseURL(base),
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &Client{
		client:  openaisdk.NewClient(opts...),
		baseURL: base,
		model:   cfg.Model,
		health:  health,
		logger:  logger.With("component", "upstream"),
	}, nil
}

func apiBase(raw string) string {
	base := strings.TrimRight(raw, "/")
	if !strings.HasSuffix(base, "/v1") {
		base += "/v1"
	}
	return base + "/"
}

func (c *Client) Model() string { return c.model }

func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) Health() *HealthTracker { return c.health }

// Open posts the transcript with stream=true and returns the body as a
// Stream. The caller must Close the stream. ctx bounds the whole exchange,
// including every later read.
func (c *Client) Open(ctx context.Context, messages []Message) (*Stream, error) {
	params, err := c.params(messages)
	if err != nil {
		return nil, err
	}

	var resp *http.Response
	err = c.client.Post(ctx, "chat/completions", params, &resp,
		option.WithJSONSet("stream", true),
		option.WithHeader("Accept", "text/event-stream"),
	)
	if err != nil {
		err = classify(ctx, err)
		c.recordFailure(err)
		return nil, err
	}

	c.logger.Debug("upstream stream opened", "model", c.model, "messages", len(messages))
	return newStream(ctx, resp.Body, c.logger, c.finish), nil
}

func (c *Client) params(messages []Message) (openaisdk.ChatCompletionNewParams, error) {
	if len(messages) == 0 {
		return openaisdk.ChatCompletionNewParams{}, gateerr.New(gateerr.CodeRelayPromptInvalidInput, "transcript must not be empty")
	}

	msgs := make([]openaisdk.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			msgs = append(msgs, openaisdk.SystemMessage(m.Content))
		case "user":
			msgs = append(msgs, openaisdk.UserMessage(m.Content))
		case "assistant":
			msgs = append(msgs, openaisdk.AssistantMessage(m.Content))
		default:
			return openaisdk.ChatCompletionNewParams{}, gateerr.Errorf(gateerr.CodeRelayPromptInvalidInput, "unknown role %q", m.Role)
		}
	}

	return openaisdk.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.model),
		Messages: msgs,
	}, nil
}

// finish is called once when a stream ends.
func (c *Client) finish(err error) {
	switch {
	case err == nil:
		c.health.RecordSuccess()
	case gateerr.IsCancelled(err):
	default:
		c.recordFailure(err)
	}
}

func (c *Client) recordFailure(err error) {
	if gateerr.IsCancelled(err) {
		return
	}
	c.health.RecordFailure(err)
	c.logger.Warn("upstream request failed", "model", c.model, "error", err)
}

// classify maps a transport error onto the upstream taxonomy.
func classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}

	var apiErr *openaisdk.Error
	if errors.As(err, &apiErr) {
		return gateerr.Wrap(err, gateerr.CodeRelayUpstreamStatusFailure,
			"upstream returned "+http.StatusText(apiErr.StatusCode), gateerr.FieldStatus(apiErr.StatusCode))
	}

	switch ctxErr := ctx.Err(); {
	case errors.Is(ctxErr, context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return gateerr.Wrap(err, gateerr.CodeRelayUpstreamTimeout, "upstream timed out")
	case errors.Is(ctxErr, context.Canceled), errors.Is(err, context.Canceled):
		return gateerr.Wrap(err, gateerr.CodeRelayTurnCancelled, "upstream request cancelled")
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return gateerr.Wrap(err, gateerr.CodeRelayUpstreamTimeout, "upstream timed out")
	}
	return gateerr.Wrap(err, gateerr.CodeRelayUpstreamConnectionFailure, "upstream connection failed")
}
