// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sigil-dev/chatgate/internal/config"
)

func newStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the chat gateway",
		Long:  "Load configuration, start the classifier load in the background, and serve HTTP until interrupted.",
		RunE:  runStart,
	}

	cmd.Flags().String("listen", "", "override listen address (host:port)")
	cmd.Flags().String("data-dir", "", "directory holding the classifier artifacts")

	return cmd
}

func runStart(cmd *cobra.Command, _ []string) error {
	v := viper.GetViper()
	for key, flag := range map[string]string{"server.listen": "listen", "classifier.data_dir": "data-dir"} {
		if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
			v.Set(key, f.Value.String())
		}
	}

	cfg, err := config.FromViper(v)
	if err != nil {
		return err
	}

	gw, err := WireGateway(cfg, slog.Default())
	if err != nil {
		return err
	}
	defer func() { _ = gw.Close() }()

	ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := fmt.Fprintf(cmd.OutOrStdout(), "Starting chatgate on %s (upstream %s, model %s)\n",
		cfg.Server.Listen, cfg.Upstream.BaseURL, cfg.Upstream.Model); err != nil {
		return err
	}
	return gw.Start(ctx)
}

// commandContext returns cmd's context, or Background when run outside
// Execute (tests).
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
