// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import (
	"embed"
	"html/template"
	"io/fs"
	"net/http"

	"github.com/sigil-dev/chatgate/internal/session"
)

//go:embed web/index.html web/static
var webFS embed.FS

var indexTemplate = template.Must(template.ParseFS(webFS, "web/index.html"))

type pageData struct {
	SessionID string
	Query     string
}

func (s *Server) registerPageRoutes() {
	s.router.Get("/", s.handleIndex)
	s.router.Post("/", s.handleIndex)

	static, err := fs.Sub(webFS, "web/static")
	if err != nil {
		panic(err)
	}
	s.router.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(static))))
}

// handleIndex renders the chat page. GET reads session_id from the query;
// POST reads session_id and q from the form and echoes q.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	var data pageData
	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid form")
			return
		}
		data.SessionID = r.PostForm.Get("session_id")
		data.Query = r.PostForm.Get("q")
	} else {
		data.SessionID = r.URL.Query().Get("session_id")
	}
	if data.SessionID == "" {
		data.SessionID = session.NewID()
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, data); err != nil {
		s.logger.Error("rendering index page", "error", err)
	}
}
