// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error.
type Code string

const (
	CodeIndexArtifactNotFound   Code = "index.artifact.not_found"
	CodeIndexArtifactCorrupt    Code = "index.artifact.invalid_format"
	CodeIndexQueryInvalidInput  Code = "index.query.invalid_input"
	CodeIndexQueryFailure       Code = "index.query.failure"
	CodeIndexBuildInvalidInput  Code = "index.build.invalid_input"
	CodeIndexBuildWriteFailure  Code = "index.build.write.failure"
	CodeIndexBackendUnsupported Code = "index.backend.unsupported"

	CodeEmbeddingModelLoadFailure    Code = "embedding.model.load.failure"
	CodeEmbeddingRequestInvalidInput Code = "embedding.request.invalid_input"
	CodeEmbeddingResponseInvalid     Code = "embedding.response.invalid_format"
	CodeEmbeddingBackendUnsupported  Code = "embedding.backend.unsupported"
	CodeEmbeddingUpstreamFailure     Code = "embedding.upstream.failure"

	CodeClassifierRuntimeFailure     Code = "classifier.runtime.failure"
	CodeClassifierDimensionInvalid   Code = "classifier.dimension.invalid_input"
	CodeClassifierStateTransitionBad Code = "classifier.state.transition.invalid"

	CodeSessionGetNotFound      Code = "session.get.not_found"
	CodeSessionTurnInvalidInput Code = "session.turn.invalid_input"
	CodeSessionLaneClosed       Code = "session.lane.unavailable"
	CodeSessionLaneFailure      Code = "session.lane.failure"

	CodeRelayUpstreamStatusFailure     Code = "relay.upstream.status.failure"
	CodeRelayUpstreamTimeout           Code = "relay.upstream.timeout"
	CodeRelayUpstreamConnectionFailure Code = "relay.upstream.connection.failure"
	CodeRelayUpstreamChunkInvalid      Code = "relay.upstream.chunk.invalid_format"
	CodeRelayPromptInvalidInput        Code = "relay.prompt.invalid_input"
	CodeRelayTurnTransitionInvalid     Code = "relay.turn.transition.invalid"
	CodeRelayTurnCancelled             Code = "relay.turn.cancelled"

	CodeConfigLoadReadFailure      Code = "config.load.read.failure"
	CodeConfigParseInvalidFormat   Code = "config.parse.invalid_format"
	CodeConfigValidateInvalidValue Code = "config.validate.invalid_value"

	CodeServerRequestInvalid  Code = "server.request.invalid"
	CodeServerInternalFailure Code = "server.internal.failure"
	CodeServerConfigInvalid   Code = "server.config.invalid"
	CodeServerStartFailure    Code = "server.start.failure"
	CodeServerShutdownFailure Code = "server.shutdown.failure"

	CodeCLIGatewayNotRunning Code = "cli.gateway.not_running"
	CodeCLIRequestFailure    Code = "cli.request.failure"
	CodeCLIResponseInvalid   Code = "cli.response.invalid"
	CodeCLISetupFailure      Code = "cli.setup.failure"
	CodeCLIInputInvalid      Code = "cli.input.invalid"
)

// Attr is a structured key/value context attached to an error.
type Attr struct {
	Key   string
	Value any
}

// Field creates a structured error field.
func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

func FieldSessionID(value string) Attr {
	return Field("session_id", value)
}

func FieldDimension(value string) Attr {
	return Field("dimension", value)
}

func FieldPath(value string) Attr {
	return Field("path", value)
}

func FieldStatus(value int) Attr {
	return Field("status", value)
}

func New(code Code, msg string, fields ...Attr) error {
	return oops.Code(code).With(flatten(fields)...).New(msg)
}

func Errorf(code Code, format string, args ...any) error {
	return oops.Code(code).Errorf(format, args...)
}

func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).Wrapf(err, format, args...)
}

// With adds structured fields to an existing error chain.
func With(err error, fields ...Attr) error {
	if err == nil {
		return nil
	}

	code := CodeOf(err)
	if code == "" {
		code = CodeServerInternalFailure
	}

	return oops.Code(code).With(flatten(fields)...).Wrap(err)
}

// CodeOf returns the innermost code in the chain, or "" for plain errors.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}

	switch code := oopsErr.Code().(type) {
	case Code:
		return code
	case string:
		return Code(code)
	case nil:
		return ""
	default:
		return Code(fmt.Sprintf("%v", code))
	}
}

func FieldsOf(err error) map[string]any {
	if err == nil {
		return nil
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}

	return oopsErr.Context()
}

func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

func IsNotFound(err error) bool {
	return reason(CodeOf(err)) == "not_found"
}

func IsInvalidInput(err error) bool {
	r := reason(CodeOf(err))
	return r == "invalid" || r == "invalid_input" || r == "invalid_value" || r == "invalid_format"
}

func IsTimeout(err error) bool {
	return reason(CodeOf(err)) == "timeout"
}

func IsUnavailable(err error) bool {
	return reason(CodeOf(err)) == "unavailable"
}

func IsCancelled(err error) bool {
	return reason(CodeOf(err)) == "cancelled"
}

func IsUpstreamFailure(err error) bool {
	code := CodeOf(err)
	return strings.Contains(string(code), "upstream") && reason(code) == "failure"
}

func HTTPStatus(err error) int {
	switch {
	case IsNotFound(err):
		return http.StatusNotFound
	case HasCode(err, CodeRelayUpstreamChunkInvalid):
		return http.StatusBadGateway
	case IsInvalidInput(err):
		return http.StatusBadRequest
	case IsUnavailable(err):
		return http.StatusServiceUnavailable
	case IsTimeout(err):
		return http.StatusGatewayTimeout
	case IsUpstreamFailure(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func Join(errs ...error) error {
	joined := stderrors.Join(errs...)
	if joined == nil {
		return nil
	}
	return oops.Code(CodeServerInternalFailure).Wrap(joined)
}

func flatten(fields []Attr) []any {
	pairs := make([]any, 0, len(fields)*2)
	for _, field := range fields {
		if field.Key == "" {
			continue
		}
		pairs = append(pairs, field.Key, field.Value)
	}
	return pairs
}

func reason(code Code) string {
	if code == "" {
		return ""
	}

	raw := string(code)
	idx := strings.LastIndex(raw, ".")
	if idx == -1 || idx == len(raw)-1 {
		return raw
	}
	return raw[idx+1:]
}
