// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestGenerateSpec(t *testing.T) {
	spec, err := generateSpec()
	require.NoError(t, err)
	assert.Contains(t, string(spec), "openapi")
	assert.Contains(t, string(spec), "3.1")
	for _, path := range []string{"/health", "/api/status", "/classify-question", "/classify-intent", "/api/sessions/{id}", "/chat", "/chat-stream"} {
		assert.Contains(t, string(spec), `"`+path+`"`)
	}
}

func TestGenerateSpec_ValidJSON(t *testing.T) {
	spec, err := generateSpec()
	require.NoError(t, err)
	assert.True(t, json.Valid(spec))
	assert.Equal(t, "Chat Gateway", gjson.GetBytes(spec, "info.title").String())
}
