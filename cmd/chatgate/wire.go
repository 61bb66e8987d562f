// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sigil-dev/chatgate/internal/classifier"
	"github.com/sigil-dev/chatgate/internal/config"
	"github.com/sigil-dev/chatgate/internal/embedding"
	"github.com/sigil-dev/chatgate/internal/relay"
	"github.com/sigil-dev/chatgate/internal/server"
	"github.com/sigil-dev/chatgate/internal/session"
	"github.com/sigil-dev/chatgate/internal/upstream"
	"github.com/sigil-dev/chatgate/internal/vectorindex"
	gateerr "github.com/sigil-dev/chatgate/pkg/errors"
)

// Gateway holds all wired subsystems and manages their lifecycle.
type Gateway struct {
	Server     *server.Server
	Classifier *classifier.Service
	Sessions   *session.Store
	Upstream   *upstream.Client
	Relay      *relay.Relay

	logger *slog.Logger
}

// WireGateway creates all subsystems and wires them together. Nothing is
// loaded or dialled until Start.
func WireGateway(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// 1. Classifier: background loader over the embedding model and both
	//    artifact pairs.
	loader := classifier.NewLoader(
		embeddingModel(cfg.Embedding, logger),
		classifier.ArtifactIndexes(artifacts(cfg.Classifier), vectorindex.Backend(cfg.Classifier.Backend)),
		classifier.LoaderConfig{Logger: logger},
	)
	svc, err := classifier.NewService(loader, classifier.Config{
		Workers: cfg.Classifier.Workers,
		Device:  cfg.Embedding.Device,
		Logger:  logger,
	})
	if err != nil {
		return nil, gateerr.Wrap(err, gateerr.CodeCLISetupFailure, "creating classifier")
	}

	// 2. Sessions.
	sessions := session.NewStore(logger)

	// 3. Upstream chat client.
	health, err := upstream.NewHealthTracker(cfg.Upstream.HealthCooldown)
	if err != nil {
		_ = svc.Close()
		return nil, gateerr.Wrap(err, gateerr.CodeCLISetupFailure, "creating upstream health tracker")
	}
	up, err := upstream.New(upstream.Config{
		BaseURL:    cfg.Upstream.BaseURL,
		Model:      cfg.Upstream.Model,
		APIKey:     cfg.Upstream.APIKey,
		HTTPClient: &http.Client{},
		Health:     health,
		Logger:     logger,
	})
	if err != nil {
		_ = svc.Close()
		return nil, gateerr.Wrap(err, gateerr.CodeCLISetupFailure, "creating upstream client")
	}

	// 4. Relay.
	rl, err := relay.New(svc, sessions, up, relay.Config{Timeout: cfg.Upstream.Timeout, Logger: logger})
	if err != nil {
		_ = svc.Close()
		return nil, gateerr.Wrap(err, gateerr.CodeCLISetupFailure, "creating relay")
	}

	// 5. HTTP server.
	services, err := server.NewServices(svc, rl, sessions, health)
	if err != nil {
		_ = svc.Close()
		return nil, gateerr.Wrap(err, gateerr.CodeCLISetupFailure, "creating services")
	}
	srv, err := server.New(server.Config{
		ListenAddr:   cfg.Server.Listen,
		CORSOrigins:  cfg.Server.CORSOrigins,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		Version:      version,
		Logger:       logger,
	}, services)
	if err != nil {
		_ = svc.Close()
		return nil, gateerr.Wrap(err, gateerr.CodeCLISetupFailure, "creating server")
	}

	return &Gateway{
		Server:     srv,
		Classifier: svc,
		Sessions:   sessions,
		Upstream:   up,
		Relay:      rl,
		logger:     logger,
	}, nil
}

// Start kicks off the classifier load and serves HTTP until ctx ends. The
// server accepts requests while the classifier is still loading.
func (gw *Gateway) Start(ctx context.Context) error {
	if gw.Classifier.Loader().Start() {
		gw.logger.Info("classifier load started")
	}
	return gw.Server.Start(ctx)
}

// Close releases every subsystem.
func (gw *Gateway) Close() error {
	return errors.Join(
		gw.Sessions.Close(),
		gw.Classifier.Close(),
	)
}

func embeddingModel(cfg config.EmbeddingConfig, logger *slog.Logger) classifier.ModelFunc {
	return func(ctx context.Context) (classifier.Embedder, error) {
		m, err := embedding.Load(ctx, embeddingConfig(cfg, logger))
		if err != nil {
			return nil, err
		}
		return m, nil
	}
}

func embeddingConfig(cfg config.EmbeddingConfig, logger *slog.Logger) embedding.Config {
	return embedding.Config{
		Backend: cfg.Backend,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
		APIKey:  cfg.APIKey,
		Device:  cfg.Device,
		Timeout: cfg.Timeout,
		Logger:  logger,
	}
}

func artifacts(cfg config.ClassifierConfig) map[classifier.Dimension]vectorindex.Artifact {
	return map[classifier.Dimension]vectorindex.Artifact{
		classifier.Topic:  artifact(classifier.Topic, cfg.Topic.Resolve(cfg.DataDir)),
		classifier.Intent: artifact(classifier.Intent, cfg.Intent.Resolve(cfg.DataDir)),
	}
}

func artifact(dim classifier.Dimension, a config.ArtifactConfig) vectorindex.Artifact {
	return vectorindex.Artifact{Name: string(dim), SamplesPath: a.Samples, IndexPath: a.Index}
}
