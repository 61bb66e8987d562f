// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sigil-dev/chatgate/internal/classifier"
	gateerr "github.com/sigil-dev/chatgate/pkg/errors"
	"github.com/sigil-dev/chatgate/pkg/health"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show gateway status",
		Long:  "Query the running gateway's status endpoint and display classifier readiness and upstream health.",
		RunE:  runStatus,
	}

	cmd.Flags().String("address", "127.0.0.1:8000", "gateway address to check")

	return cmd
}

type statusResponse struct {
	classifier.Status
	Upstream *health.Metrics `json:"upstream,omitempty"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	addr, _ := cmd.Flags().GetString("address")
	out := cmd.OutOrStdout()

	gw := newGatewayClient(addr)
	var body statusResponse
	if err := gw.getJSON(commandContext(cmd), "/api/status", &body); err != nil {
		if gateerr.HasCode(err, gateerr.CodeCLIGatewayNotRunning) {
			_, _ = fmt.Fprintf(out, "Gateway at %s is not running (connection refused)\n", addr)
			return nil
		}
		_, _ = fmt.Fprintf(out, "Gateway at %s: %s\n", addr, err)
		return nil
	}

	_, err := fmt.Fprintln(out, renderStatus(addr, body))
	return err
}

func renderStatus(addr string, st statusResponse) string {
	var b strings.Builder
	row := func(label, value string) {
		fmt.Fprintf(&b, "%s %s\n", labelStyle.Render(fmt.Sprintf("%-16s", label)), value)
	}

	b.WriteString(titleStyle.Render("chatgate "+addr) + "\n")
	row("state", st.State)
	row("ready", yesNo(st.Ready))
	if st.Loading {
		row("loading", dimStyle.Render(fmt.Sprintf("attempt %d", st.Attempts)))
	}
	row("embedding model", yesNo(st.Components.EmbeddingModel))
	row("topic index", fmt.Sprintf("%s %s", yesNo(st.Components.TopicIndex), dimStyle.Render(fmt.Sprintf("(%d samples)", st.Stats.TopicCount))))
	row("intent index", fmt.Sprintf("%s %s", yesNo(st.Components.IntentIndex), dimStyle.Render(fmt.Sprintf("(%d samples)", st.Stats.IntentCount))))
	row("device", st.Stats.Device)
	if st.Stats.Model != "" {
		row("model", fmt.Sprintf("%s %s", st.Stats.Model, dimStyle.Render(fmt.Sprintf("(dim %d)", st.Stats.Dimension))))
	}
	row("cache", fmt.Sprintf("%d entries, %d hits, %d misses", st.Stats.Cache.Entries, st.Stats.Cache.Hits, st.Stats.Cache.Misses))
	if up := st.Upstream; up != nil {
		value := yesNo(up.Available)
		if up.LastError != "" {
			value += " " + errorStyle.Render(up.LastError)
		}
		row("upstream", value)
	}

	return boxStyle.Render(strings.TrimRight(b.String(), "\n"))
}
