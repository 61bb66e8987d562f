// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import (
	"io"
	"strings"

	gateerr "github.com/sigil-dev/chatgate/pkg/errors"
)

// SSEEventType is the "event:" field of a server-sent event. Empty means
// the default message event and no field is written.
type SSEEventType string

// SSEEvent represents a single server-sent event.
type SSEEvent struct {
	Event SSEEventType `json:"event"`
	Data  string       `json:"data"`
}

// validateEventType rejects event names that would break framing.
func validateEventType(t SSEEventType) bool {
	return !strings.ContainsAny(string(t), "\r\n")
}

// writeSSE writes one event. Multi-line data becomes several data lines.
func writeSSE(w io.Writer, ev SSEEvent) error {
	if !validateEventType(ev.Event) {
		return gateerr.Errorf(gateerr.CodeServerRequestInvalid, "invalid sse event type %q", ev.Event)
	}

	var b strings.Builder
	if ev.Event != "" {
		b.WriteString("event: ")
		b.WriteString(string(ev.Event))
		b.WriteByte('\n')
	}
	data := strings.ReplaceAll(ev.Data, "\r\n", "\n")
	for _, line := range strings.Split(data, "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')

	_, err := io.WriteString(w, b.String())
	return err
}
