// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package upstream

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
)

// DoneToken is the terminal sentinel of an upstream stream.
const DoneToken = "[DONE]"

const maxLineSize = 1 << 20

// FrameKind distinguishes chunk frames from the terminal frame.
type FrameKind int

const (
	FrameChunk FrameKind = iota
	FrameDone
)

// Frame is one decoded unit of the upstream body. Data is nil for FrameDone.
type Frame struct {
	Kind FrameKind
	Data json.RawMessage
}

// Stream iterates frames of an upstream body:
//
//	for s.Next() {
//		f := s.Current()
//	}
//	if err := s.Err(); err != nil { ... }
//
// Blank lines are skipped, an optional "data:" prefix is stripped and lines
// that are not JSON objects are skipped and counted.
type Stream struct {
	ctx     context.Context
	body    io.ReadCloser
	scanner *bufio.Scanner
	logger  *slog.Logger
	onEnd   func(error)

	cur       Frame
	err       error
	ended     bool
	sawDone   bool
	malformed int
	closeOnce sync.Once
}

// NewStream wraps an already-open body. It is exported for callers that
// obtain the body themselves.
func NewStream(ctx context.Context, body io.ReadCloser, logger *slog.Logger) *Stream {
	if logger == nil {
		logger = slog.Default()
	}
	return newStream(ctx, body, logger, nil)
}

func newStream(ctx context.Context, body io.ReadCloser, logger *slog.Logger, onEnd func(error)) *Stream {
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &Stream{ctx: ctx, body: body, scanner: sc, logger: logger, onEnd: onEnd}
}

// Next advances to the next frame. It returns false at the end of the body,
// after the terminal frame, or on a read error.
func (s *Stream) Next() bool {
	if s.ended {
		return false
	}

	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" {
			continue
		}
		if rest, ok := strings.CutPrefix(line, "data:"); ok {
			line = strings.TrimSpace(rest)
		}
		if line == DoneToken {
			s.cur = Frame{Kind: FrameDone}
			s.sawDone = true
			s.end(nil)
			return true
		}
		if !gjson.Valid(line) || !gjson.Parse(line).IsObject() {
			s.malformed++
			s.logger.Warn("skipping malformed upstream chunk", "line", truncate(line, 120))
			continue
		}
		s.cur = Frame{Kind: FrameChunk, Data: json.RawMessage(line)}
		return true
	}

	s.end(classify(s.ctx, s.scanner.Err()))
	return false
}

func (s *Stream) end(err error) {
	s.ended = true
	s.err = err
	if s.onEnd != nil {
		s.onEnd(err)
	}
}

// Current returns the frame read by the last successful Next.
func (s *Stream) Current() Frame { return s.cur }

// Err returns the read error that ended the stream, if any. A body that ends
// without the sentinel is not an error.
func (s *Stream) Err() error { return s.err }

// SawDone reports whether the terminal sentinel was read.
func (s *Stream) SawDone() bool { return s.sawDone }

// Malformed returns the number of skipped lines.
func (s *Stream) Malformed() int { return s.malformed }

// Close releases the upstream connection. It is safe to call repeatedly.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.body.Close()
	})
	return err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
