// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	gateerr "github.com/sigil-dev/chatgate/pkg/errors"
)

// defaultHTTPClient is the package-level HTTP client used by gateway commands.
// Overridden in tests via httptest.
var defaultHTTPClient = &http.Client{
	Timeout: 5 * time.Second,
}

// streamHTTPClient has no overall timeout; stream reads end with the SSE body.
var streamHTTPClient = &http.Client{}

// gatewayClient provides HTTP access to a running chatgate gateway.
type gatewayClient struct {
	baseURL string
	http    *http.Client
	stream  *http.Client
}

// newGatewayClient creates a client targeting the given host:port address.
// A full URL is accepted as well.
func newGatewayClient(addr string) *gatewayClient {
	base := addr
	if !strings.Contains(addr, "://") {
		base = "http://" + addr
	}
	return &gatewayClient{
		baseURL: strings.TrimRight(base, "/"),
		http:    defaultHTTPClient,
		stream:  streamHTTPClient,
	}
}

// getJSON performs a GET request and decodes the JSON response into dest.
func (c *gatewayClient) getJSON(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return gateerr.Wrap(err, gateerr.CodeCLIRequestFailure, "building request")
	}
	return c.do(c.http, req, dest)
}

// postJSON sends body as JSON and decodes the JSON response into dest.
func (c *gatewayClient) postJSON(ctx context.Context, path string, body, dest any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return gateerr.Wrap(err, gateerr.CodeCLIRequestFailure, "encoding request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return gateerr.Wrap(err, gateerr.CodeCLIRequestFailure, "building request")
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(c.http, req, dest)
}

func (c *gatewayClient) do(hc *http.Client, req *http.Request, dest any) error {
	resp, err := hc.Do(req)
	if err != nil {
		return requestError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return gateerr.Wrap(err, gateerr.CodeCLIResponseInvalid, "invalid response")
	}
	return nil
}

// sseEvent is one parsed server-sent event.
type sseEvent struct {
	Name string
	Data string
}

// streamEvents opens path as an event stream and calls fn for every event
// until the stream ends, fn returns false, or ctx is cancelled.
func (c *gatewayClient) streamEvents(ctx context.Context, path string, query url.Values, fn func(sseEvent) bool) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return gateerr.Wrap(err, gateerr.CodeCLIRequestFailure, "building request")
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(req)
	if err != nil {
		return requestError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var (
		ev   sseEvent
		data []string
	)
	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "\r")
		switch {
		case line == "":
			if len(data) == 0 && ev.Name == "" {
				continue
			}
			ev.Data = strings.Join(data, "\n")
			if !fn(ev) {
				return nil
			}
			ev, data = sseEvent{}, nil
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			ev.Name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return gateerr.Wrap(err, gateerr.CodeCLIResponseInvalid, "reading event stream")
	}
	return ctx.Err()
}

func requestError(err error) error {
	if isDialError(err) {
		return gateerr.New(gateerr.CodeCLIGatewayNotRunning, "gateway is not running (connection refused)")
	}
	return gateerr.Wrap(err, gateerr.CodeCLIRequestFailure, "request failed")
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(body))
	var parsed struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &parsed) == nil {
		switch {
		case parsed.Error != "":
			msg = parsed.Error
		case parsed.Detail != "":
			msg = parsed.Detail
		}
	}
	return gateerr.New(gateerr.CodeCLIRequestFailure, "gateway returned status "+resp.Status+": "+msg,
		gateerr.FieldStatus(resp.StatusCode))
}

// isDialError returns true if err is a net dial error (connection refused, etc.).
func isDialError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Op == "dial"
	}
	return false
}
