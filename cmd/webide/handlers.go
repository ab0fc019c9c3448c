package main

import (
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"

	"github.com/go-chi/chi/v5"
)

// server ties the workspace manager's pieces together. All state is
// explicit and injected; nothing here is ambient or global.
type server struct {
	cfg      config
	git      *gitSync
	hub      *hub
	watchers *watchManager
}

func newServer(cfg config) *server {
	h := newHub()
	wm := newWatchManager(h, cfg.WatchDebounce)
	h.onEmpty = wm.Stop
	return &server{cfg: cfg, git: newGitSync(), hub: h, watchers: wm}
}

// routes wires the HTTP surface. Endpoint names match the browser client.
func (s *server) routes() *chi.Mux {
	r := chi.NewRouter()
	r.Post("/login", s.handleLogin)
	r.Get("/api/files", s.handleFileTree)
	r.Get("/api/file", s.handleFileContent)
	r.Post("/api/save", s.handleSave)
	r.Post("/api/delete", s.handleDelete)
	r.Post("/upload_zip", s.handleUpload)
	r.Post("/clone_repo", s.handleClone)
	r.Post("/api/git_commit", s.handleCommit)
	r.Get("/ws", s.handleRealtime)
	return r
}

// identify resolves the session identity from the request before any I/O
// happens. FormValue reads the query string, form body or multipart form
// as appropriate.
func (s *server) identify(r *http.Request) (identity, error) {
	return resolveIdentity(s.cfg.SessionsRoot,
		r.FormValue("secret_key"), r.FormValue("project_name"))
}

func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	id, err := s.identify(r)
	if err != nil {
		writeError(w, err)
		return
	}
	redirect := fmt.Sprintf("/dashboard?secret_key=%s&project_name=%s",
		url.QueryEscape(r.FormValue("secret_key")),
		url.QueryEscape(r.FormValue("project_name")))
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"session_id": id.SessionID,
		"redirect":   redirect,
	})
}

func (s *server) handleFileTree(w http.ResponseWriter, r *http.Request) {
	id, err := s.identify(r)
	if err != nil {
		writeError(w, err)
		return
	}
	tree, err := newWorkspaceFS(id.Workspace).listTree()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tree)
}

func (s *server) handleFileContent(w http.ResponseWriter, r *http.Request) {
	id, err := s.identify(r)
	if err != nil {
		writeError(w, err)
		return
	}
	content, err := newWorkspaceFS(id.Workspace).readFile(r.URL.Query().Get("path"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, content)
}

func (s *server) handleSave(w http.ResponseWriter, r *http.Request) {
	id, err := s.identify(r)
	if err != nil {
		writeError(w, err)
		return
	}
	p := r.FormValue("path")
	if err := newWorkspaceFS(id.Workspace).writeFile(p, []byte(r.FormValue("content"))); err != nil {
		writeError(w, err)
		return
	}
	s.hub.BroadcastStatus(id.SessionID, "Saved "+p)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := s.identify(r)
	if err != nil {
		writeError(w, err)
		return
	}
	p := r.FormValue("path")
	if err := newWorkspaceFS(id.Workspace).deleteFile(p); err != nil {
		writeError(w, err)
		return
	}
	s.hub.BroadcastStatus(id.SessionID, "Deleted "+p)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *server) handleUpload(w http.ResponseWriter, r *http.Request) {
	id, err := s.identify(r)
	if err != nil {
		writeError(w, err)
		return
	}
	file, header, err := r.FormFile("zip_file")
	if err != nil {
		writeError(w, fmt.Errorf("%w: missing zip_file upload", ErrCorruptArchive))
		return
	}
	defer file.Close()

	if err := importArchive(file, header.Filename, id.Workspace); err != nil {
		writeError(w, err)
		return
	}
	s.hub.Broadcast(id.SessionID, Event{Type: "upload", Payload: "Imported " + filepath.Base(header.Filename)})
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *server) handleClone(w http.ResponseWriter, r *http.Request) {
	id, err := s.identify(r)
	if err != nil {
		writeError(w, err)
		return
	}
	repoURL := r.FormValue("repo_url")
	if repoURL == "" {
		writeError(w, fmt.Errorf("%w: repo_url is required", ErrCloneFailure))
		return
	}
	token := r.FormValue("github_token")
	if err := s.git.Clone(r.Context(), id.SessionID, repoURL, token, id.Workspace); err != nil {
		writeError(w, err)
		return
	}
	s.hub.Broadcast(id.SessionID, Event{Type: "git", Payload: "Cloned " + repoURL})
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *server) handleCommit(w http.ResponseWriter, r *http.Request) {
	id, err := s.identify(r)
	if err != nil {
		writeError(w, err)
		return
	}
	token := r.FormValue("github_token")

	res, err := s.git.Commit(id.SessionID, id.Workspace, r.FormValue("message"))
	if err != nil {
		writeError(w, err)
		return
	}
	if res.Noop {
		s.hub.Broadcast(id.SessionID, Event{Type: "git", Payload: "Nothing to commit"})
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "result": res})
		return
	}

	if token != "" {
		if err := s.git.Push(r.Context(), id.SessionID, id.Workspace, token); err != nil {
			// Partial success: the local commit stands even though the
			// push failed; the response carries both.
			s.hub.Broadcast(id.SessionID, Event{Type: "git",
				Payload: "Committed " + shortHash(res.Hash) + ", push failed"})
			kind, status := errorKind(err)
			writeJSON(w, status, map[string]any{
				"success": false,
				"result":  res,
				"error":   map[string]string{"kind": kind, "detail": err.Error()},
			})
			return
		}
		res.Pushed = true
	}

	s.hub.Broadcast(id.SessionID, Event{Type: "git", Payload: "Committed " + shortHash(res.Hash)})
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "result": res})
}
