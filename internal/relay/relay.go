// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package relay runs chat turns: classify the prompt, record it in the
// session transcript, then stream the upstream reply back as events.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/sigil-dev/chatgate/internal/classifier"
	"github.com/sigil-dev/chatgate/internal/session"
	"github.com/sigil-dev/chatgate/internal/upstream"
	gateerr "github.com/sigil-dev/chatgate/pkg/errors"
)

// DefaultTimeout bounds a whole upstream exchange.
const DefaultTimeout = 60 * time.Second

// PingMessage is the data of the first event of every stream.
const PingMessage = "connected"

// Classifier labels text along one dimension. It never fails; problems are
// expressed in the Result.
type Classifier interface {
	Classify(ctx context.Context, dim classifier.Dimension, text string) classifier.Result
}

// Upstream opens a streaming chat completion for a transcript.
type Upstream interface {
	Open(ctx context.Context, messages []upstream.Message) (*upstream.Stream, error)
}

// EventKind identifies a caller-facing stream event.
type EventKind string

const (
	EventPing  EventKind = "ping"
	EventChunk EventKind = "chunk"
	EventDone  EventKind = "done"
	EventError EventKind = "error"
)

// Event is one caller-facing stream item. Chunk data is the upstream JSON
// object; done data is the sentinel token.
type Event struct {
	Kind EventKind
	Data string
}

// Name is the SSE event name; chunk and done events are unnamed.
func (e Event) Name() string {
	switch e.Kind {
	case EventPing, EventError:
		return string(e.Kind)
	default:
		return ""
	}
}

// Config holds relay configuration.
type Config struct {
	Timeout time.Duration
	Logger  *slog.Logger
}

// Relay drives chat turns over a session store.
type Relay struct {
	classifier Classifier
	sessions   *session.Store
	upstream   Upstream
	timeout    time.Duration
	logger     *slog.Logger
}

// New creates a Relay.
func New(c Classifier, sessions *session.Store, up Upstream, cfg Config) (*Relay, error) {
	if c == nil || sessions == nil || up == nil {
		return nil, gateerr.New(gateerr.CodeServerConfigInvalid, "relay requires a classifier, a session store and an upstream")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		classifier: c,
		sessions:   sessions,
		upstream:   up,
		timeout:    timeout,
		logger:     logger.With("component", "relay"),
	}, nil
}

// SubmitResult describes an accepted user turn.
type SubmitResult struct {
	SessionID   string
	Created     bool
	Topic       classifier.Result
	Intent      classifier.Result
	SystemAdded bool
	Message     string
}

// Submit classifies prompt and records it in the session, creating the
// session if needed. The system turn is added only for the session's first
// submission; the user turn is always appended. The append waits behind any
// stream already running on the session.
func (r *Relay) Submit(ctx context.Context, sessionID, prompt string) (SubmitResult, error) {
	if strings.TrimSpace(prompt) == "" {
		return SubmitResult{}, gateerr.New(gateerr.CodeRelayPromptInvalidInput, "prompt must not be empty")
	}

	s, created, err := r.sessions.GetOrCreate(sessionID)
	if err != nil {
		return SubmitResult{}, err
	}

	t := newTurn(sessionID, StateInit, r.logger)
	if err := t.transitionTo(StateClassifying); err != nil {
		return SubmitResult{}, err
	}
	topic, intent := r.classify(ctx, prompt)
	r.logger.Info("prompt classified",
		"session_id", sessionID,
		"topic", topic.Text(),
		"intent", intent.Text())

	if err := ctx.Err(); err != nil {
		_ = t.transitionTo(StateCancelled)
		return SubmitResult{}, gateerr.Wrap(err, gateerr.CodeRelayTurnCancelled, "submit cancelled", gateerr.FieldSessionID(sessionID))
	}
	if err := t.transitionTo(StateContextualizing); err != nil {
		return SubmitResult{}, err
	}

	res := SubmitResult{
		SessionID: sessionID,
		Created:   created,
		Topic:     topic,
		Intent:    intent,
		Message:   ResponseMessage(topic, intent),
	}
	err = s.Do(ctx, func(context.Context) error {
		res.SystemAdded = s.AppendSystemOnce(SystemMessage(topic, intent))
		return s.Append(session.RoleUser, prompt)
	})
	if err != nil {
		if ctx.Err() != nil {
			_ = t.transitionTo(StateCancelled)
			return SubmitResult{}, gateerr.Wrap(err, gateerr.CodeRelayTurnCancelled, "submit cancelled", gateerr.FieldSessionID(sessionID))
		}
		return SubmitResult{}, err
	}
	return res, nil
}

func (r *Relay) classify(ctx context.Context, prompt string) (topic, intent classifier.Result) {
	var g errgroup.Group
	g.Go(func() error {
		topic = r.classifier.Classify(ctx, classifier.Topic, prompt)
		return nil
	})
	g.Go(func() error {
		intent = r.classifier.Classify(ctx, classifier.Intent, prompt)
		return nil
	})
	_ = g.Wait()
	return topic, intent
}

// Stream relays the upstream reply for the session's transcript into
// events and closes events when done. The sequence is one ping, zero or
// more chunks, then either one done or one error event. On success the
// concatenated reply is appended as an assistant turn; on failure or
// cancellation the transcript is left unchanged.
//
// The caller must keep receiving from events until it is closed or cancel
// ctx.
func (r *Relay) Stream(ctx context.Context, sessionID string, events chan<- Event) error {
	defer close(events)

	s, err := r.sessions.Get(sessionID)
	if err != nil {
		return err
	}

	t := newTurn(sessionID, StateContextualizing, r.logger)
	if !emit(ctx, events, Event{Kind: EventPing, Data: PingMessage}) {
		return r.cancelled(t, ctx.Err())
	}

	err = s.Do(ctx, func(laneCtx context.Context) error {
		return r.stream(laneCtx, t, s, events)
	})
	switch {
	case err == nil:
		return nil
	case t.state.Terminal():
		return err
	case ctx.Err() != nil:
		return r.cancelled(t, ctx.Err())
	default:
		// The lane refused the work before it started.
		r.logger.Warn("stream rejected", "session_id", sessionID, "error", err)
		emit(ctx, events, Event{Kind: EventError, Data: "session unavailable"})
		return err
	}
}

func (r *Relay) stream(ctx context.Context, t *turn, s *session.Session, events chan<- Event) error {
	upCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := t.transitionTo(StateStreaming); err != nil {
		return err
	}

	st, err := r.upstream.Open(upCtx, messages(s.Snapshot()))
	if err != nil {
		return r.fail(ctx, t, events, err)
	}
	defer st.Close()

	var reply strings.Builder
	for st.Next() {
		f := st.Current()
		if f.Kind == upstream.FrameDone {
			break
		}
		reply.WriteString(chunkContent(f.Data))
		if !emit(ctx, events, Event{Kind: EventChunk, Data: string(f.Data)}) {
			return r.cancelled(t, ctx.Err())
		}
	}
	if err := st.Err(); err != nil {
		return r.fail(ctx, t, events, err)
	}
	if !st.SawDone() {
		r.logger.Debug("upstream ended without sentinel", "session_id", t.sessionID)
	}
	if n := st.Malformed(); n > 0 {
		r.logger.Warn("upstream stream had malformed chunks", "session_id", t.sessionID, "skipped", n)
	}

	if err := t.transitionTo(StateFinalizing); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return r.cancelled(t, err)
	}
	if err := s.Append(session.RoleAssistant, reply.String()); err != nil {
		return err
	}
	emit(ctx, events, Event{Kind: EventDone, Data: upstream.DoneToken})
	if err := t.transitionTo(StateDone); err != nil {
		return err
	}
	r.logger.Info("turn completed", "session_id", t.sessionID, "reply_bytes", reply.Len())
	return nil
}

// fail emits the single error event, unless the failure is the caller
// going away.
func (r *Relay) fail(ctx context.Context, t *turn, events chan<- Event, err error) error {
	if gateerr.IsCancelled(err) || ctx.Err() != nil {
		return r.cancelled(t, err)
	}
	_ = t.transitionTo(StateFailed)
	r.logger.Warn("turn failed", "session_id", t.sessionID, "error", err)
	emit(ctx, events, Event{Kind: EventError, Data: ErrorMessage(err)})
	return err
}

func (r *Relay) cancelled(t *turn, cause error) error {
	if !t.state.Terminal() {
		_ = t.transitionTo(StateCancelled)
	}
	r.logger.Info("turn cancelled", "session_id", t.sessionID)
	if gateerr.IsCancelled(cause) {
		return cause
	}
	return gateerr.Wrap(cause, gateerr.CodeRelayTurnCancelled, "turn cancelled", gateerr.FieldSessionID(t.sessionID))
}

// ErrorMessage renders an upstream failure for the error event.
func ErrorMessage(err error) string {
	switch {
	case gateerr.HasCode(err, gateerr.CodeRelayUpstreamStatusFailure):
		if status, ok := gateerr.FieldsOf(err)["status"].(int); ok {
			return fmt.Sprintf("upstream HTTP error: %d", status)
		}
		return "upstream HTTP error"
	case gateerr.IsTimeout(err):
		return "upstream response timed out"
	default:
		return "upstream error: " + err.Error()
	}
}

func emit(ctx context.Context, events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func messages(turns []session.Turn) []upstream.Message {
	out := make([]upstream.Message, len(turns))
	for i, t := range turns {
		out[i] = upstream.Message{Role: string(t.Role), Content: t.Content}
	}
	return out
}

// chunkContent extracts reply text from an OpenAI-style delta, a
// non-streamed choice or an Ollama-native message.
func chunkContent(data []byte) string {
	for _, path := range []string{"choices.0.delta.content", "choices.0.message.content", "message.content"} {
		if v := gjson.GetBytes(data, path); v.Exists() {
			return v.String()
		}
	}
	return ""
}
