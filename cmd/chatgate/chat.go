// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	gateerr "github.com/sigil-dev/chatgate/pkg/errors"
)

func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Chat through a running gateway",
		Long:  "Send a message through the gateway and print the streamed reply. Starts an interactive session reading stdin if no message is provided.",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runChat,
	}

	cmd.Flags().String("address", "127.0.0.1:8000", "gateway address")
	cmd.Flags().StringP("session", "s", "", "resume existing session by ID")

	return cmd
}

type chatReply struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

func runChat(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("address")
	sessionID, _ := cmd.Flags().GetString("session")
	ctx := commandContext(cmd)
	out := cmd.OutOrStdout()
	gw := newGatewayClient(addr)

	if len(args) > 0 {
		_, err := chatTurn(ctx, gw, out, sessionID, args[0])
		return err
	}

	_, _ = fmt.Fprintln(out, dimStyle.Render("Interactive chat. Empty line or EOF to quit."))
	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		_, _ = fmt.Fprint(out, labelStyle.Render("you> "))
		if !scanner.Scan() {
			_, _ = fmt.Fprintln(out)
			return scanner.Err()
		}
		prompt := strings.TrimSpace(scanner.Text())
		if prompt == "" {
			return nil
		}
		id, err := chatTurn(ctx, gw, out, sessionID, prompt)
		if err != nil {
			return err
		}
		sessionID = id
	}
}

// chatTurn submits one prompt, streams the reply to out and returns the
// session id to continue with.
func chatTurn(ctx context.Context, gw *gatewayClient, out io.Writer, sessionID, prompt string) (string, error) {
	var reply chatReply
	if err := gw.postJSON(ctx, "/chat", map[string]string{"prompt": prompt, "session_id": sessionID}, &reply); err != nil {
		return sessionID, err
	}
	_, _ = fmt.Fprintln(out, dimStyle.Render(fmt.Sprintf("[%s] %s", reply.SessionID, reply.Message)))

	var streamErr error
	err := gw.streamEvents(ctx, "/chat-stream", url.Values{"session_id": {reply.SessionID}}, func(ev sseEvent) bool {
		switch {
		case ev.Name == "ping":
			return true
		case ev.Name == "error":
			streamErr = gateerr.New(gateerr.CodeCLIResponseInvalid, ev.Data)
			return false
		case ev.Data == "[DONE]":
			return false
		}
		_, _ = fmt.Fprint(out, deltaText(ev.Data))
		return true
	})
	_, _ = fmt.Fprintln(out)
	if err != nil {
		return reply.SessionID, err
	}
	if streamErr != nil {
		_, _ = fmt.Fprintln(out, errorStyle.Render(streamErr.Error()))
		return reply.SessionID, streamErr
	}
	return reply.SessionID, nil
}

// deltaText extracts the visible text from one forwarded chunk.
func deltaText(data string) string {
	for _, path := range []string{"choices.0.delta.content", "choices.0.message.content", "message.content"} {
		if v := gjson.Get(data, path); v.Exists() {
			return v.String()
		}
	}
	return ""
}
