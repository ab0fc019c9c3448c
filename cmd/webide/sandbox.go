package main

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// workspaceFS confines file operations to a single workspace root. Every
// client-supplied path goes through resolve, which fails closed.
type workspaceFS struct {
	root string
}

func newWorkspaceFS(root string) workspaceFS {
	return workspaceFS{root: root}
}

// resolve maps a client-supplied relative path to an absolute path
// guaranteed to lie inside the workspace root.
//
// Two checks, both required. The lexical pass cleans the path and rejects
// absolute paths and any parent-directory segment outright. The second
// pass canonicalizes the deepest existing ancestor (following symlinks)
// and verifies the canonical root is still a prefix of the canonical
// target; lexical rejection alone does not catch symlink-based escapes.
func (w workspaceFS) resolve(rel string) (string, error) {
	cleaned := path.Clean(filepath.ToSlash(rel))
	if cleaned == "" || cleaned == "." {
		return "", fmt.Errorf("%w: empty path", ErrPathEscape)
	}
	if path.IsAbs(cleaned) {
		return "", fmt.Errorf("%w: %q is absolute", ErrPathEscape, rel)
	}
	for _, seg := range strings.Split(cleaned, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: %q contains a parent-directory segment", ErrPathEscape, rel)
		}
	}

	abs := filepath.Join(w.root, filepath.FromSlash(cleaned))
	canonRoot, err := canonicalize(w.root)
	if err != nil {
		return "", err
	}
	canonAbs, err := canonicalize(abs)
	if err != nil {
		return "", err
	}
	if canonAbs != canonRoot && !strings.HasPrefix(canonAbs, canonRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q resolves outside the workspace", ErrPathEscape, rel)
	}
	return abs, nil
}

// canonicalize resolves symlinks on the deepest existing ancestor of abs
// and re-joins the not-yet-existing remainder. Workspaces are created
// lazily, so the target (or the whole workspace) may not exist yet.
func canonicalize(abs string) (string, error) {
	rest := ""
	cur := abs
	for {
		resolved, err := filepath.EvalSymlinks(cur)
		if err == nil {
			return filepath.Join(resolved, rest), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %v", ErrIOFailure, err)
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return "", fmt.Errorf("%w: unresolvable path", ErrIOFailure)
		}
		rest = filepath.Join(filepath.Base(cur), rest)
		cur = parent
	}
}

// fileContent is the wire representation of a file read. Encoding is
// "utf-8" for text and "base64" when the bytes do not decode as text; the
// file bytes themselves are never altered, only how they are represented.
type fileContent struct {
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

func (w workspaceFS) readFile(rel string) (fileContent, error) {
	abs, err := w.resolve(rel)
	if err != nil {
		return fileContent{}, err
	}
	info, err := os.Stat(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return fileContent{}, fmt.Errorf("%w: %s", ErrNotFound, rel)
	}
	if err != nil {
		return fileContent{}, fmt.Errorf("%w: %v", ErrIOFailure, err)
	}
	if info.IsDir() {
		return fileContent{}, fmt.Errorf("%w: %s", ErrIsDirectory, rel)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return fileContent{}, fmt.Errorf("%w: %v", ErrIOFailure, err)
	}
	if utf8.Valid(data) {
		return fileContent{Content: string(data), Encoding: "utf-8"}, nil
	}
	return fileContent{Content: base64.StdEncoding.EncodeToString(data), Encoding: "base64"}, nil
}

// writeFile creates missing parent directories and overwrites atomically:
// content lands in a temp file in the target directory, then renames over
// the destination, so a concurrent read sees either the old or the new
// file but never a torn one.
func (w workspaceFS) writeFile(rel string, content []byte) error {
	abs, err := w.resolve(rel)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailure, err)
	}
	tmp, err := os.CreateTemp(dir, ".webide-*")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailure, err)
	}
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: %v", ErrWriteFailure, err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: %v", ErrWriteFailure, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: %v", ErrWriteFailure, err)
	}
	if err := os.Rename(tmp.Name(), abs); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: %v", ErrWriteFailure, err)
	}
	return nil
}

// deleteFile removes a single file. Directory targets are rejected;
// workspace layout changes only through uploads and clones.
func (w workspaceFS) deleteFile(rel string) error {
	abs, err := w.resolve(rel)
	if err != nil {
		return err
	}
	info, err := os.Stat(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, rel)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIOFailure, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s", ErrIsDirectory, rel)
	}
	if err := os.Remove(abs); err != nil {
		return fmt.Errorf("%w: %v", ErrIOFailure, err)
	}
	return nil
}
