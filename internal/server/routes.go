// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/sigil-dev/chatgate/internal/classifier"
	"github.com/sigil-dev/chatgate/internal/session"
	gateerr "github.com/sigil-dev/chatgate/pkg/errors"
	"github.com/sigil-dev/chatgate/pkg/health"
)

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "gateway-status",
		Method:      http.MethodGet,
		Path:        "/api/status",
		Summary:     "Classifier readiness and artifact statistics",
		Tags:        []string{"system"},
	}, s.handleStatus)

	huma.Register(s.api, huma.Operation{
		OperationID: "classify-question",
		Method:      http.MethodPost,
		Path:        "/classify-question",
		Summary:     "Classify a question's topic",
		Tags:        []string{"classify"},
	}, s.handleClassifyQuestion)

	huma.Register(s.api, huma.Operation{
		OperationID: "classify-intent",
		Method:      http.MethodPost,
		Path:        "/classify-intent",
		Summary:     "Classify a question's intent",
		Tags:        []string{"classify"},
	}, s.handleClassifyIntent)

	huma.Register(s.api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/api/sessions/{id}",
		Summary:     "Get a session transcript",
		Tags:        []string{"sessions"},
	}, s.handleGetSession)
}

// --- Request/Response types for huma ---

type statusBody struct {
	classifier.Status
	Upstream *health.Metrics `json:"upstream,omitempty" doc:"Upstream chat endpoint health"`
}

type statusOutput struct {
	Body statusBody
}

type classifyInput struct {
	Body struct {
		Question string `json:"question" minLength:"1" doc:"Text to classify"`
	}
}

type classifyQuestionOutput struct {
	Body struct {
		Category string `json:"category" doc:"Topic label, or a placeholder when unavailable"`
	}
}

type classifyIntentOutput struct {
	Body struct {
		Intent string `json:"intent" doc:"Intent label, or a placeholder when unavailable"`
	}
}

type getSessionInput struct {
	ID string `path:"id"`
}

type getSessionOutput struct {
	Body struct {
		SessionID string         `json:"session_id"`
		Turns     []session.Turn `json:"turns"`
	}
}

// --- Handlers ---

func (s *Server) handleStatus(_ context.Context, _ *struct{}) (*statusOutput, error) {
	out := &statusOutput{}
	out.Body.Status = s.services.classifier.Status()
	if s.services.upstream != nil {
		m := s.services.upstream.Metrics()
		out.Body.Upstream = &m
	}
	return out, nil
}

func (s *Server) handleClassifyQuestion(ctx context.Context, input *classifyInput) (*classifyQuestionOutput, error) {
	res := s.services.classifier.Classify(ctx, classifier.Topic, input.Body.Question)
	out := &classifyQuestionOutput{}
	out.Body.Category = res.Text()
	return out, nil
}

func (s *Server) handleClassifyIntent(ctx context.Context, input *classifyInput) (*classifyIntentOutput, error) {
	res := s.services.classifier.Classify(ctx, classifier.Intent, input.Body.Question)
	out := &classifyIntentOutput{}
	out.Body.Intent = res.Text()
	return out, nil
}

func (s *Server) handleGetSession(_ context.Context, input *getSessionInput) (*getSessionOutput, error) {
	turns, err := s.services.sessions.Snapshot(input.ID)
	if err != nil {
		if gateerr.IsNotFound(err) {
			return nil, huma.Error404NotFound(fmt.Sprintf("session %q not found", input.ID))
		}
		return nil, huma.Error500InternalServerError("reading session", err)
	}
	out := &getSessionOutput{}
	out.Body.SessionID = input.ID
	out.Body.Turns = turns
	return out, nil
}
