// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package relay_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sigil-dev/chatgate/internal/classifier"
	"github.com/sigil-dev/chatgate/internal/relay"
	"github.com/sigil-dev/chatgate/internal/session"
	"github.com/sigil-dev/chatgate/internal/upstream"
	gateerr "github.com/sigil-dev/chatgate/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

type fakeClassifier struct {
	topic  classifier.Result
	intent classifier.Result
	calls  atomic.Int32
}

func (f *fakeClassifier) Classify(_ context.Context, dim classifier.Dimension, _ string) classifier.Result {
	f.calls.Add(1)
	if dim == classifier.Topic {
		return f.topic
	}
	return f.intent
}

func labelled(dim classifier.Dimension, label string) classifier.Result {
	return classifier.Result{Dimension: dim, Outcome: classifier.OutcomeLabel, Label: label}
}

func unavailable(dim classifier.Dimension) classifier.Result {
	return classifier.Result{Dimension: dim, Outcome: classifier.OutcomeUnavailable, Label: classifier.PlaceholderUnavailable}
}

type fixture struct {
	relay    *relay.Relay
	sessions *session.Store
	requests atomic.Int32
	lastBody atomic.Value
}

func newFixture(t *testing.T, c relay.Classifier, timeout time.Duration, handler http.HandlerFunc) *fixture {
	t.Helper()
	f := &fixture{sessions: session.NewStore(nil)}
	t.Cleanup(func() { _ = f.sessions.Close() })

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.requests.Add(1)
		body, _ := io.ReadAll(r.Body)
		f.lastBody.Store(string(body))
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	up, err := upstream.New(upstream.Config{BaseURL: srv.URL, Model: "test-model"})
	require.NoError(t, err)
	f.relay, err = relay.New(c, f.sessions, up, relay.Config{Timeout: timeout})
	require.NoError(t, err)
	return f
}

func sse(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, body)
	}
}

func drain(t *testing.T, f *fixture, ctx context.Context, id string) ([]relay.Event, error) {
	t.Helper()
	events := make(chan relay.Event)
	errc := make(chan error, 1)
	go func() { errc <- f.relay.Stream(ctx, id, events) }()

	var got []relay.Event
	for ev := range events {
		got = append(got, ev)
	}
	return got, <-errc
}

func TestRelay_SubmitAddsSystemOnce(t *testing.T) {
	c := &fakeClassifier{topic: labelled(classifier.Topic, "billing"), intent: labelled(classifier.Intent, "ask")}
	f := newFixture(t, c, time.Second, sse("data: [DONE]\n"))

	res, err := f.relay.Submit(context.Background(), "s1", "how much?")
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.True(t, res.SystemAdded)
	assert.Equal(t, "Message was classified as the 'billing' category, 'ask' intent and processed.", res.Message)

	res, err = f.relay.Submit(context.Background(), "s1", "and again?")
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.False(t, res.SystemAdded)

	turns, err := f.sessions.Snapshot("s1")
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, session.RoleSystem, turns[0].Role)
	assert.Equal(t, "The user's question falls under the 'billing' category, 'ask' intent. Answer in a manner appropriate to that topic and intent.", turns[0].Content)
	assert.Equal(t, session.Turn{Role: session.RoleUser, Content: "how much?"}, turns[1])
	assert.Equal(t, session.Turn{Role: session.RoleUser, Content: "and again?"}, turns[2])
	assert.Equal(t, int32(4), c.calls.Load())
	assert.Equal(t, int32(0), f.requests.Load(), "submit must not call upstream")
}

func TestRelay_SubmitWithoutLabels(t *testing.T) {
	c := &fakeClassifier{topic: unavailable(classifier.Topic), intent: unavailable(classifier.Intent)}
	f := newFixture(t, c, time.Second, sse(""))

	res, err := f.relay.Submit(context.Background(), "s1", "hello")
	require.NoError(t, err)
	assert.Equal(t, "Message processed.", res.Message)

	turns, err := f.sessions.Snapshot("s1")
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, relay.FallbackSystemMessage, turns[0].Content)
	assert.NotContains(t, turns[0].Content, classifier.PlaceholderUnavailable)
}

func TestRelay_SubmitEmptyPrompt(t *testing.T) {
	f := newFixture(t, &fakeClassifier{}, time.Second, sse(""))

	_, err := f.relay.Submit(context.Background(), "s1", "   ")
	require.Error(t, err)
	assert.True(t, gateerr.IsInvalidInput(err))
	assert.False(t, f.sessions.Exists("s1"))
}

func TestRelay_StreamChunkThenDone(t *testing.T) {
	c := &fakeClassifier{topic: unavailable(classifier.Topic), intent: unavailable(classifier.Intent)}
	f := newFixture(t, c, time.Second, sse("data: {\"a\":1}\n\ndata: [DONE]\n\n"))

	_, err := f.relay.Submit(context.Background(), "s1", "hi")
	require.NoError(t, err)
	before, _ := f.sessions.Snapshot("s1")

	events, err := drain(t, f, context.Background(), "s1")
	require.NoError(t, err)

	require.Len(t, events, 3)
	assert.Equal(t, relay.Event{Kind: relay.EventPing, Data: relay.PingMessage}, events[0])
	assert.Equal(t, relay.EventChunk, events[1].Kind)
	assert.JSONEq(t, `{"a":1}`, events[1].Data)
	assert.Equal(t, relay.Event{Kind: relay.EventDone, Data: "[DONE]"}, events[2])

	after, _ := f.sessions.Snapshot("s1")
	require.Len(t, after, len(before)+1)
	assert.Equal(t, session.RoleAssistant, after[len(after)-1].Role)
}

func TestRelay_StreamStoresReply(t *testing.T) {
	body := "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n" +
		"data: not json\n\n" +
		"data: [DONE]\n\n"
	f := newFixture(t, &fakeClassifier{}, time.Second, sse(body))

	_, err := f.relay.Submit(context.Background(), "s1", "greet me")
	require.NoError(t, err)
	events, err := drain(t, f, context.Background(), "s1")
	require.NoError(t, err)
	assert.Len(t, events, 4, "ping, two chunks, done")

	turns, _ := f.sessions.Snapshot("s1")
	assert.Equal(t, session.Turn{Role: session.RoleAssistant, Content: "Hello"}, turns[len(turns)-1])

	sent := gjson.Parse(f.lastBody.Load().(string))
	assert.Equal(t, "test-model", sent.Get("model").String())
	assert.True(t, sent.Get("stream").Bool())
	assert.Equal(t, "greet me", sent.Get("messages.1.content").String())
}

func TestRelay_StreamCleanEOFCompletes(t *testing.T) {
	f := newFixture(t, &fakeClassifier{}, time.Second, sse("data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\n"))

	_, err := f.relay.Submit(context.Background(), "s1", "q")
	require.NoError(t, err)
	events, err := drain(t, f, context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, relay.EventDone, events[2].Kind)
}

func TestRelay_StreamTimeout(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	f := newFixture(t, &fakeClassifier{}, 50*time.Millisecond, func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})

	_, err := f.relay.Submit(context.Background(), "s1", "q")
	require.NoError(t, err)
	before, _ := f.sessions.Snapshot("s1")

	events, err := drain(t, f, context.Background(), "s1")
	require.Error(t, err)
	assert.True(t, gateerr.IsTimeout(err))

	require.Len(t, events, 2)
	assert.Equal(t, relay.EventPing, events[0].Kind)
	assert.Equal(t, relay.Event{Kind: relay.EventError, Data: "upstream response timed out"}, events[1])

	after, _ := f.sessions.Snapshot("s1")
	assert.Equal(t, before, after)
}

func TestRelay_StreamHTTPError(t *testing.T) {
	f := newFixture(t, &fakeClassifier{}, time.Second, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := f.relay.Submit(context.Background(), "s1", "q")
	require.NoError(t, err)

	events, err := drain(t, f, context.Background(), "s1")
	require.Error(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, relay.Event{Kind: relay.EventError, Data: "upstream HTTP error: 503"}, events[1])

	turns, _ := f.sessions.Snapshot("s1")
	assert.Len(t, turns, 2)
}

func TestRelay_StreamCallerCancel(t *testing.T) {
	started := make(chan struct{})
	f := newFixture(t, &fakeClassifier{}, 5*time.Second, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"partial\"}}]}\n\n")
		w.(http.Flusher).Flush()
		close(started)
		<-r.Context().Done()
	})

	_, err := f.relay.Submit(context.Background(), "s1", "q")
	require.NoError(t, err)
	before, _ := f.sessions.Snapshot("s1")

	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan relay.Event)
	errc := make(chan error, 1)
	go func() { errc <- f.relay.Stream(ctx, "s1", events) }()

	assert.Equal(t, relay.EventPing, (<-events).Kind)
	assert.Equal(t, relay.EventChunk, (<-events).Kind)
	<-started
	cancel()

	for ev := range events {
		assert.NotEqual(t, relay.EventError, ev.Kind, "cancel must not produce an error event")
	}
	err = <-errc
	require.Error(t, err)
	assert.True(t, gateerr.IsCancelled(err))

	after, _ := f.sessions.Snapshot("s1")
	assert.Equal(t, before, after)
}

func TestRelay_StreamUnknownSession(t *testing.T) {
	f := newFixture(t, &fakeClassifier{}, time.Second, sse(""))

	events, err := drain(t, f, context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, gateerr.IsNotFound(err))
	assert.Empty(t, events)
	assert.False(t, f.sessions.Exists("missing"))
}

func TestRelay_StreamsSerializePerSession(t *testing.T) {
	var active, peak atomic.Int32
	f := newFixture(t, &fakeClassifier{}, 5*time.Second, func(w http.ResponseWriter, _ *http.Request) {
		n := active.Add(1)
		if n > peak.Load() {
			peak.Store(n)
		}
		time.Sleep(20 * time.Millisecond)
		active.Add(-1)
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: [DONE]\n")
	})
	_, err := f.relay.Submit(context.Background(), "s1", "q")
	require.NoError(t, err)

	done := make(chan struct{}, 3)
	for range 3 {
		go func() {
			_, _ = drain(t, f, context.Background(), "s1")
			done <- struct{}{}
		}()
	}
	for range 3 {
		<-done
	}

	assert.Equal(t, int32(1), peak.Load())
	turns, _ := f.sessions.Snapshot("s1")
	assert.Len(t, turns, 5)
}

func TestValidTransition(t *testing.T) {
	assert.True(t, relay.ValidTransition(relay.StateInit, relay.StateClassifying))
	assert.True(t, relay.ValidTransition(relay.StateStreaming, relay.StateFailed))
	assert.True(t, relay.ValidTransition(relay.StateStreaming, relay.StateCancelled))
	assert.False(t, relay.ValidTransition(relay.StateInit, relay.StateStreaming))
	assert.False(t, relay.ValidTransition(relay.StateDone, relay.StateStreaming))
	assert.False(t, relay.ValidTransition(relay.StateFailed, relay.StateDone))
	assert.True(t, relay.StateCancelled.Terminal())
	assert.False(t, relay.StateFinalizing.Terminal())
}

// blockingStream sends one chunk, then holds the response open until
// release is closed.
func blockingStream(release <-chan struct{}) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n\n")
		w.(http.Flusher).Flush()
		<-release
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}
}

// startBlockedStream begins a stream on id and returns once its first chunk
// has been relayed.
func startBlockedStream(t *testing.T, f *fixture, id string) <-chan error {
	t.Helper()
	events := make(chan relay.Event)
	errc := make(chan error, 1)
	go func() { errc <- f.relay.Stream(context.Background(), id, events) }()

	go func() {
		for range events {
		}
	}()
	require.Eventually(t, func() bool { return f.requests.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	return errc
}

func TestRelay_SubmitWaitsForInFlightStream(t *testing.T) {
	c := &fakeClassifier{topic: labelled(classifier.Topic, "billing"), intent: labelled(classifier.Intent, "ask")}
	release := make(chan struct{})
	f := newFixture(t, c, 5*time.Second, blockingStream(release))

	_, err := f.relay.Submit(context.Background(), "s1", "first")
	require.NoError(t, err)
	streamErr := startBlockedStream(t, f, "s1")

	submitted := make(chan error, 1)
	go func() {
		_, err := f.relay.Submit(context.Background(), "s1", "second")
		submitted <- err
	}()

	assert.Never(t, func() bool { return len(submitted) > 0 }, 150*time.Millisecond, 10*time.Millisecond,
		"submit must queue behind the running stream")

	close(release)
	require.NoError(t, <-streamErr)
	require.NoError(t, <-submitted)

	turns, err := f.sessions.Snapshot("s1")
	require.NoError(t, err)
	require.Len(t, turns, 4)
	assert.Equal(t, session.Turn{Role: session.RoleUser, Content: "first"}, turns[1])
	assert.Equal(t, session.Turn{Role: session.RoleAssistant, Content: "Hi"}, turns[2])
	assert.Equal(t, session.Turn{Role: session.RoleUser, Content: "second"}, turns[3])
}

func TestRelay_SubmitQueuedBehindStreamHonoursContext(t *testing.T) {
	c := &fakeClassifier{topic: labelled(classifier.Topic, "billing"), intent: labelled(classifier.Intent, "ask")}
	release := make(chan struct{})
	f := newFixture(t, c, 5*time.Second, blockingStream(release))

	_, err := f.relay.Submit(context.Background(), "s1", "first")
	require.NoError(t, err)
	streamErr := startBlockedStream(t, f, "s1")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = f.relay.Submit(ctx, "s1", "too late")
	require.Error(t, err)
	assert.True(t, gateerr.IsCancelled(err))

	close(release)
	require.NoError(t, <-streamErr)

	turns, err := f.sessions.Snapshot("s1")
	require.NoError(t, err)
	require.Len(t, turns, 3, "the abandoned prompt is never appended")
	assert.Equal(t, session.RoleAssistant, turns[2].Role)
}
