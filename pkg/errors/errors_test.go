// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package errors_test

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	gateerr "github.com/sigil-dev/chatgate/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// New / Errorf
// ---------------------------------------------------------------------------

func TestNewIncludesCodeAndFields(t *testing.T) {
	err := gateerr.New(
		gateerr.CodeIndexArtifactNotFound,
		"samples file missing",
		gateerr.FieldDimension("topic"),
		gateerr.FieldPath("/data/question_categories.json"),
	)

	require.Error(t, err)
	assert.Equal(t, gateerr.CodeIndexArtifactNotFound, gateerr.CodeOf(err))
	assert.True(t, gateerr.HasCode(err, gateerr.CodeIndexArtifactNotFound))

	fields := gateerr.FieldsOf(err)
	assert.Equal(t, "topic", fields["dimension"])
	assert.Equal(t, "/data/question_categories.json", fields["path"])
}

func TestErrorfFormatsMessage(t *testing.T) {
	err := gateerr.Errorf(gateerr.CodeRelayUpstreamStatusFailure, "upstream answered %d", 503)
	require.Error(t, err)
	assert.Equal(t, gateerr.CodeRelayUpstreamStatusFailure, gateerr.CodeOf(err))
	assert.Contains(t, err.Error(), "upstream answered 503")
}

func TestErrorfWrapsInnerError(t *testing.T) {
	inner := stderrors.New("connection refused")
	err := gateerr.Errorf(gateerr.CodeRelayUpstreamConnectionFailure, "dial: %w", inner)
	require.Error(t, err)
	assert.ErrorIs(t, err, inner)
}

// ---------------------------------------------------------------------------
// Wrap / Wrapf / With
// ---------------------------------------------------------------------------

func TestWrapPreservesWrappedErrorAndCode(t *testing.T) {
	root := stderrors.New("no such session")
	err := gateerr.Wrap(root, gateerr.CodeSessionGetNotFound, "loading session",
		gateerr.FieldSessionID("sess-42"))

	require.Error(t, err)
	assert.ErrorIs(t, err, root)
	assert.True(t, gateerr.IsNotFound(err))
	assert.Equal(t, "sess-42", gateerr.FieldsOf(err)["session_id"])
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.NoError(t, gateerr.Wrap(nil, gateerr.CodeServerInternalFailure, "ignored"))
	assert.NoError(t, gateerr.Wrapf(nil, gateerr.CodeServerInternalFailure, "ignored %s", "arg"))
	assert.NoError(t, gateerr.With(nil, gateerr.FieldPath("x")))
}

func TestWithAddsContextWithoutChangingCode(t *testing.T) {
	base := gateerr.New(gateerr.CodeIndexArtifactCorrupt, "bad header")
	withCtx := gateerr.With(base, gateerr.FieldPath("intent.index"))

	assert.Equal(t, gateerr.CodeIndexArtifactCorrupt, gateerr.CodeOf(withCtx))
	assert.Equal(t, "intent.index", gateerr.FieldsOf(withCtx)["path"])
}

func TestWithOnPlainErrorDefaultsToInternalCode(t *testing.T) {
	enriched := gateerr.With(stderrors.New("something broke"), gateerr.FieldStatus(500))
	assert.Equal(t, gateerr.CodeServerInternalFailure, gateerr.CodeOf(enriched))
	assert.Equal(t, 500, gateerr.FieldsOf(enriched)["status"])
}

func TestFieldsWithEmptyKeyAreIgnored(t *testing.T) {
	err := gateerr.New(gateerr.CodeServerInternalFailure, "boom",
		gateerr.Field("", "dropped"),
		gateerr.FieldDimension("intent"),
	)
	fields := gateerr.FieldsOf(err)
	assert.Equal(t, "intent", fields["dimension"])
	assert.NotContains(t, fields, "")
}

// ---------------------------------------------------------------------------
// CodeOf
// ---------------------------------------------------------------------------

func TestCodeOf(t *testing.T) {
	assert.Equal(t, gateerr.Code(""), gateerr.CodeOf(nil))
	assert.Equal(t, gateerr.Code(""), gateerr.CodeOf(stderrors.New("plain")))

	inner := gateerr.New(gateerr.CodeEmbeddingModelLoadFailure, "probe")
	outer := gateerr.Wrap(inner, gateerr.CodeClassifierRuntimeFailure, "classify")
	assert.Equal(t, gateerr.CodeEmbeddingModelLoadFailure, gateerr.CodeOf(outer))
}

func TestErrorIsWithWrappedChain(t *testing.T) {
	sentinel := stderrors.New("root cause")
	mid := fmt.Errorf("mid: %w", sentinel)
	outer := gateerr.Wrap(mid, gateerr.CodeServerInternalFailure, "handler")

	assert.ErrorIs(t, outer, sentinel)
}

// ---------------------------------------------------------------------------
// Classification helpers
// ---------------------------------------------------------------------------

func TestClassificationAndStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		code   gateerr.Code
		status int
		check  func(error) bool
	}{
		{name: "unknown session", code: gateerr.CodeSessionGetNotFound, status: 404, check: gateerr.IsNotFound},
		{name: "artifact missing", code: gateerr.CodeIndexArtifactNotFound, status: 404, check: gateerr.IsNotFound},
		{name: "artifact corrupt", code: gateerr.CodeIndexArtifactCorrupt, status: 400, check: gateerr.IsInvalidInput},
		{name: "invalid value", code: gateerr.CodeConfigValidateInvalidValue, status: 400, check: gateerr.IsInvalidInput},
		{name: "empty prompt", code: gateerr.CodeRelayPromptInvalidInput, status: 400, check: gateerr.IsInvalidInput},
		{name: "upstream timeout", code: gateerr.CodeRelayUpstreamTimeout, status: 504, check: gateerr.IsTimeout},
		{name: "upstream status", code: gateerr.CodeRelayUpstreamStatusFailure, status: 502, check: gateerr.IsUpstreamFailure},
		{name: "upstream connection", code: gateerr.CodeRelayUpstreamConnectionFailure, status: 502, check: gateerr.IsUpstreamFailure},
		{name: "malformed chunk", code: gateerr.CodeRelayUpstreamChunkInvalid, status: 502, check: gateerr.IsInvalidInput},
		{name: "lane closed", code: gateerr.CodeSessionLaneClosed, status: 503, check: gateerr.IsUnavailable},
		{name: "turn cancelled", code: gateerr.CodeRelayTurnCancelled, status: 500, check: gateerr.IsCancelled},
		{name: "internal", code: gateerr.CodeServerInternalFailure, status: 500, check: func(err error) bool { return !gateerr.IsNotFound(err) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := gateerr.New(tt.code, "boom")
			assert.Equal(t, tt.status, gateerr.HTTPStatus(err))
			assert.True(t, tt.check(err))
		})
	}
}

func TestClassificationOnPlainAndNilErrors(t *testing.T) {
	for _, err := range []error{nil, stderrors.New("plain")} {
		assert.False(t, gateerr.IsNotFound(err))
		assert.False(t, gateerr.IsInvalidInput(err))
		assert.False(t, gateerr.IsTimeout(err))
		assert.False(t, gateerr.IsUnavailable(err))
		assert.False(t, gateerr.IsUpstreamFailure(err))
		assert.Equal(t, http.StatusInternalServerError, gateerr.HTTPStatus(err))
	}
}

// ---------------------------------------------------------------------------
// Join
// ---------------------------------------------------------------------------

func TestJoinCombinesErrors(t *testing.T) {
	a := stderrors.New("first")
	b := stderrors.New("second")
	joined := gateerr.Join(a, b)

	require.Error(t, joined)
	assert.ErrorIs(t, joined, a)
	assert.ErrorIs(t, joined, b)
	assert.Equal(t, gateerr.CodeServerInternalFailure, gateerr.CodeOf(joined))
}

func TestJoinAllNilReturnsNil(t *testing.T) {
	assert.NoError(t, gateerr.Join(nil, nil))
}
