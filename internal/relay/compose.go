// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package relay

import (
	"fmt"

	"github.com/sigil-dev/chatgate/internal/classifier"
)

const (
	// FallbackSystemMessage is the system turn used when neither dimension
	// produced a label.
	FallbackSystemMessage = "Please respond to the user's question."

	contextSuffix = " Answer in a manner appropriate to that topic and intent."
)

// SystemMessage composes the session's system turn from the labels that
// were actually produced. Placeholders never reach the upstream model.
func SystemMessage(topic, intent classifier.Result) string {
	switch {
	case topic.OK() && intent.OK():
		return fmt.Sprintf("The user's question falls under the '%s' category, '%s' intent.", topic.Label, intent.Label) + contextSuffix
	case topic.OK():
		return fmt.Sprintf("The user's question falls under the '%s' category.", topic.Label) + contextSuffix
	case intent.OK():
		return fmt.Sprintf("The user's question falls under the '%s' intent.", intent.Label) + contextSuffix
	default:
		return FallbackSystemMessage
	}
}

// ResponseMessage is the human-readable acknowledgement returned by Submit.
func ResponseMessage(topic, intent classifier.Result) string {
	switch {
	case topic.OK() && intent.OK():
		return fmt.Sprintf("Message was classified as the '%s' category, '%s' intent and processed.", topic.Label, intent.Label)
	case topic.OK():
		return fmt.Sprintf("Message was classified as the '%s' category and processed.", topic.Label)
	case intent.OK():
		return fmt.Sprintf("Message was classified as the '%s' intent and processed.", intent.Label)
	default:
		return "Message processed."
	}
}
