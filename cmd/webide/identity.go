package main

import (
	"crypto/md5"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

const secretKeyLen = 10

var projectNameRE = regexp.MustCompile(`[^a-z0-9]+`)

// identity is a resolved (secretKey, projectName) pair: the session ID
// partitioning one user's one project, and the workspace root backing it.
type identity struct {
	SessionID string
	Workspace string
}

// resolveIdentity validates the secret key and derives the canonical
// session ID and workspace root. Pure and deterministic, no I/O.
//
// The secret key is a weak tenant identifier, not a credential: exactly 10
// decimal digits, nothing else is checked.
func resolveIdentity(sessionsRoot, secretKey, projectName string) (identity, error) {
	if len(secretKey) != secretKeyLen {
		return identity{}, fmt.Errorf("%w: secret key must be %d digits", ErrInvalidIdentity, secretKeyLen)
	}
	for _, r := range secretKey {
		if r < '0' || r > '9' {
			return identity{}, fmt.Errorf("%w: secret key must be decimal digits", ErrInvalidIdentity)
		}
	}
	if strings.TrimSpace(projectName) == "" {
		return identity{}, fmt.Errorf("%w: project name is required", ErrInvalidIdentity)
	}
	sessionID := secretKey + "_" + sanitizeProjectName(projectName)
	return identity{
		SessionID: sessionID,
		Workspace: filepath.Join(sessionsRoot, sessionID),
	}, nil
}

// sanitizeProjectName converts a free-form project name into a single safe
// path segment. It lowercases, replaces non-alphanumeric runs with hyphens,
// truncates to 32 chars, and appends the first 8 hex chars of the MD5 of
// the original name so distinct raw names can never alias one workspace.
// Example: "My App/../v2" -> "my-app-v2-{md5-first-8-chars}"
func sanitizeProjectName(name string) string {
	sanitized := projectNameRE.ReplaceAllString(strings.ToLower(name), "-")
	sanitized = strings.Trim(sanitized, "-")
	if len(sanitized) > 32 {
		sanitized = strings.TrimRight(sanitized[:32], "-")
	}
	if sanitized == "" {
		sanitized = "project"
	}
	hash := md5.Sum([]byte(name))
	return fmt.Sprintf("%s-%x", sanitized, hash[:4])
}
