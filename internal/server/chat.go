// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import (
	"context"
	"encoding/json"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/sigil-dev/chatgate/internal/relay"
	"github.com/sigil-dev/chatgate/internal/session"
	gateerr "github.com/sigil-dev/chatgate/pkg/errors"
)

// ChatRequest is the body of POST /chat, as JSON or form fields.
type ChatRequest struct {
	Prompt    string `json:"prompt"`
	SessionID string `json:"session_id"`
}

// ChatResponse is the body of a successful POST /chat.
type ChatResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

func (s *Server) registerChatRoutes() {
	s.router.Post("/chat", s.handleChat)
	s.router.Get("/chat-stream", s.handleChatStream)

	// Both handlers need raw request/response access (form decoding, SSE),
	// so their OpenAPI operations are added by hand.
	minLen := 1
	s.api.OpenAPI().AddOperation(&huma.Operation{
		OperationID: "chat",
		Method:      http.MethodPost,
		Path:        "/chat",
		Summary:     "Submit a user turn",
		Description: "Classifies the prompt and appends it to the session transcript. Accepts form-urlencoded or JSON.",
		Tags:        []string{"chat"},
		RequestBody: &huma.RequestBody{
			Required: true,
			Content: map[string]*huma.MediaType{
				"application/json":                  {Schema: chatRequestSchema(&minLen)},
				"application/x-www-form-urlencoded": {Schema: chatRequestSchema(&minLen)},
			},
		},
		Responses: map[string]*huma.Response{
			"200": {Description: "Turn accepted"},
			"422": {Description: "Validation error (missing prompt)"},
		},
	})
	s.api.OpenAPI().AddOperation(&huma.Operation{
		OperationID: "chat-stream",
		Method:      http.MethodGet,
		Path:        "/chat-stream",
		Summary:     "Stream the assistant reply via SSE",
		Description: "Emits one ping event, the upstream chunks as data events, then [DONE] or a single error event.",
		Tags:        []string{"chat"},
		Parameters: []*huma.Param{{
			Name:     "session_id",
			In:       "query",
			Required: true,
			Schema:   &huma.Schema{Type: "string"},
		}},
		Responses: map[string]*huma.Response{
			"200": {
				Description: "Server-sent event stream",
				Content: map[string]*huma.MediaType{
					"text/event-stream": {Schema: &huma.Schema{Type: "string"}},
				},
			},
			"404": {Description: "Unknown session"},
			"422": {Description: "Missing session_id"},
		},
	})
}

func chatRequestSchema(minLen *int) *huma.Schema {
	return &huma.Schema{
		Type:     "object",
		Required: []string{"prompt"},
		Properties: map[string]*huma.Schema{
			"prompt":     {Type: "string", MinLength: minLen, Description: "User message"},
			"session_id": {Type: "string", Description: "Session to append to; generated when absent"},
		},
	}
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	req, err := decodeChatRequest(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeJSONError(w, http.StatusUnprocessableEntity, "prompt is required")
		return
	}
	if req.SessionID == "" {
		req.SessionID = session.NewID()
	}

	res, err := s.services.relay.Submit(r.Context(), req.SessionID, req.Prompt)
	if err != nil {
		s.logger.Warn("chat submit failed", "session_id", req.SessionID, "error", err)
		writeJSONError(w, gateerr.HTTPStatus(err), publicMessage(err))
		return
	}

	writeJSON(w, http.StatusOK, ChatResponse{
		Status:    "success",
		Message:   res.Message,
		SessionID: res.SessionID,
	})
}

func decodeChatRequest(r *http.Request) (ChatRequest, error) {
	var req ChatRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		err := json.NewDecoder(r.Body).Decode(&req)
		return req, err
	}
	if err := r.ParseForm(); err != nil {
		return req, err
	}
	req.Prompt = r.PostForm.Get("prompt")
	req.SessionID = r.PostForm.Get("session_id")
	return req, nil
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeJSONError(w, http.StatusUnprocessableEntity, "session_id is required")
		return
	}
	if !s.services.sessions.Exists(sessionID) {
		writeJSONError(w, http.StatusNotFound, "session not found")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	rc := http.NewResponseController(w)
	// Streams may outlive the server's write timeout.
	_ = rc.SetWriteDeadline(time.Time{})
	w.WriteHeader(http.StatusOK)
	_ = rc.Flush()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events := make(chan relay.Event, 16)
	errCh := make(chan error, 1)
	go func() { errCh <- s.services.relay.Stream(ctx, sessionID, events) }()

	broken := false
	for ev := range events {
		if broken {
			continue
		}
		if err := writeSSE(w, SSEEvent{Event: SSEEventType(ev.Name()), Data: ev.Data}); err != nil {
			// Client went away; stop the relay and drain.
			broken = true
			cancel()
			continue
		}
		_ = rc.Flush()
	}

	if err := <-errCh; err != nil && !gateerr.IsCancelled(err) {
		s.logger.Debug("chat stream ended with error", "session_id", sessionID, "error", err)
	}
}

// publicMessage is the caller-visible text for err.
func publicMessage(err error) string {
	switch {
	case gateerr.IsNotFound(err):
		return "session not found"
	case gateerr.IsInvalidInput(err):
		return err.Error()
	case gateerr.IsUnavailable(err):
		return "service unavailable"
	default:
		return "internal error"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
