// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sigil-dev/chatgate/internal/classifier"
	"github.com/sigil-dev/chatgate/internal/relay"
	"github.com/sigil-dev/chatgate/internal/server"
	"github.com/sigil-dev/chatgate/internal/session"
	gateerr "github.com/sigil-dev/chatgate/pkg/errors"
)

func main() {
	spec, err := generateSpec()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	outPath := "api/openapi/spec.json"
	if len(os.Args) > 1 {
		outPath = os.Args[1]
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "error creating output dir: %v\n", err)
		os.Exit(1)
	}

	if err := os.WriteFile(outPath, spec, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "error writing spec: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("OpenAPI spec written to %s\n", outPath)
}

// generateSpec creates a server with all routes registered and extracts the
// OpenAPI spec huma generates from the Go type annotations plus the
// hand-registered chat routes.
func generateSpec() ([]byte, error) {
	// No-op stubs; handlers are never invoked during spec generation.
	svc, err := server.NewServices(stubClassifier{}, stubRelay{}, stubSessions{})
	if err != nil {
		return nil, gateerr.Wrap(err, gateerr.CodeCLISetupFailure, "creating services")
	}

	srv, err := server.New(server.Config{ListenAddr: "127.0.0.1:0"}, svc)
	if err != nil {
		return nil, gateerr.Errorf(gateerr.CodeCLISetupFailure, "creating server: %w", err)
	}

	return json.MarshalIndent(srv.API().OpenAPI(), "", "  ")
}

type stubClassifier struct{}

func (stubClassifier) Classify(_ context.Context, dim classifier.Dimension, _ string) classifier.Result {
	return classifier.Result{Dimension: dim}
}
func (stubClassifier) Status() classifier.Status { return classifier.Status{} }

type stubRelay struct{}

func (stubRelay) Submit(context.Context, string, string) (relay.SubmitResult, error) {
	return relay.SubmitResult{}, nil
}

func (stubRelay) Stream(_ context.Context, _ string, events chan<- relay.Event) error {
	close(events)
	return nil
}

type stubSessions struct{}

func (stubSessions) Exists(string) bool                      { return false }
func (stubSessions) Snapshot(string) ([]session.Turn, error) { return nil, nil }
