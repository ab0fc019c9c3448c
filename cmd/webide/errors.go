package main

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
)

// Failure kinds surfaced to callers. A no-op commit is deliberately not
// here: it is a success variant, reported through CommitResult.
var (
	ErrInvalidIdentity = errors.New("invalid identity")
	ErrPathEscape      = errors.New("path escape")
	ErrNotFound        = errors.New("not found")
	ErrIsDirectory     = errors.New("is a directory")
	ErrCorruptArchive  = errors.New("corrupt archive")
	ErrEscapeAttempt   = errors.New("escape attempt")
	ErrCloneFailure    = errors.New("clone failure")
	ErrPushFailure     = errors.New("push failure")
	ErrWriteFailure    = errors.New("write failure")
	ErrIOFailure       = errors.New("io failure")
)

// errorKind maps a failure to its wire kind and HTTP status.
func errorKind(err error) (string, int) {
	switch {
	case errors.Is(err, ErrInvalidIdentity):
		return "invalid_identity", http.StatusBadRequest
	case errors.Is(err, ErrPathEscape):
		return "path_escape", http.StatusBadRequest
	case errors.Is(err, ErrEscapeAttempt):
		return "escape_attempt", http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return "not_found", http.StatusNotFound
	case errors.Is(err, ErrIsDirectory):
		return "is_a_directory", http.StatusBadRequest
	case errors.Is(err, ErrCorruptArchive):
		return "corrupt_archive", http.StatusBadRequest
	case errors.Is(err, ErrCloneFailure):
		return "clone_failure", http.StatusBadGateway
	case errors.Is(err, ErrPushFailure):
		return "push_failure", http.StatusBadGateway
	case errors.Is(err, ErrWriteFailure):
		return "write_failure", http.StatusInternalServerError
	default:
		return "io_failure", http.StatusInternalServerError
	}
}

// writeError reports a failure as a structured kind plus human-readable
// detail. I/O and write failures wrap raw OS errors that name
// server-absolute paths, so those keep their full text in the server log
// and send a generic detail; every other kind carries text built from
// workspace-relative paths and redacted transport errors.
func writeError(w http.ResponseWriter, err error) {
	kind, status := errorKind(err)
	detail := err.Error()
	if kind == "io_failure" || kind == "write_failure" {
		log.Printf("[HTTP] %s: %v", kind, err)
		detail = strings.ReplaceAll(kind, "_", " ")
	}
	writeJSON(w, status, map[string]any{
		"error": map[string]string{"kind": kind, "detail": detail},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[HTTP] Failed to encode response: %v", err)
	}
}
