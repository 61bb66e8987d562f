// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package upstream_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/sigil-dev/chatgate/internal/upstream"
	gateerr "github.com/sigil-dev/chatgate/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, body string) ([]upstream.Frame, *upstream.Stream) {
	t.Helper()
	s := upstream.NewStream(context.Background(), io.NopCloser(strings.NewReader(body)), nil)
	var frames []upstream.Frame
	for s.Next() {
		frames = append(frames, s.Current())
	}
	return frames, s
}

func TestStream_Framing(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantData  []string
		wantDone  bool
		malformed int
	}{
		{
			name:     "chunk then sentinel",
			body:     "data: {\"a\":1}\n\ndata: [DONE]\n\n",
			wantData: []string{`{"a":1}`},
			wantDone: true,
		},
		{
			name:     "unprefixed lines",
			body:     "{\"a\":1}\n{\"b\":2}\n[DONE]\n",
			wantData: []string{`{"a":1}`, `{"b":2}`},
			wantDone: true,
		},
		{
			name:     "prefix without space",
			body:     "data:{\"a\":1}\r\ndata:[DONE]\r\n",
			wantData: []string{`{"a":1}`},
			wantDone: true,
		},
		{
			name:      "malformed lines skipped",
			body:      "data: {broken\ndata: {\"a\":1}\n: keep-alive\ndata: 42\ndata: [DONE]\n",
			wantData:  []string{`{"a":1}`},
			wantDone:  true,
			malformed: 3,
		},
		{
			name:     "clean eof without sentinel",
			body:     "data: {\"a\":1}\n",
			wantData: []string{`{"a":1}`},
		},
		{
			name:     "lines after sentinel ignored",
			body:     "data: [DONE]\ndata: {\"late\":true}\n",
			wantDone: true,
		},
		{
			name: "empty body",
			body: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frames, s := collect(t, tt.body)
			require.NoError(t, s.Err())

			var data []string
			for i, f := range frames {
				if f.Kind == upstream.FrameDone {
					assert.Equal(t, len(frames)-1, i, "sentinel must be the last frame")
					assert.Nil(t, f.Data)
					continue
				}
				data = append(data, string(f.Data))
			}
			assert.Equal(t, tt.wantData, data)
			assert.Equal(t, tt.wantDone, s.SawDone())
			assert.Equal(t, tt.malformed, s.Malformed())
			assert.False(t, s.Next(), "ended stream stays ended")
		})
	}
}

type failingReader struct {
	data string
	err  error
	read bool
}

func (r *failingReader) Read(p []byte) (int, error) {
	if !r.read {
		r.read = true
		return copy(p, r.data), nil
	}
	return 0, r.err
}

func TestStream_ReadErrorIsConnectionFailure(t *testing.T) {
	body := io.NopCloser(&failingReader{data: "data: {\"a\":1}\n", err: errors.New("connection reset by peer")})
	s := upstream.NewStream(context.Background(), body, nil)

	require.True(t, s.Next())
	assert.False(t, s.Next())
	require.Error(t, s.Err())
	assert.True(t, gateerr.HasCode(s.Err(), gateerr.CodeRelayUpstreamConnectionFailure))
}

func TestStream_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	body := io.NopCloser(&failingReader{err: context.Canceled})
	s := upstream.NewStream(ctx, body, nil)

	assert.False(t, s.Next())
	assert.True(t, gateerr.IsCancelled(s.Err()))
}

func TestStream_CloseIdempotent(t *testing.T) {
	s := upstream.NewStream(context.Background(), io.NopCloser(strings.NewReader("")), nil)
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}
