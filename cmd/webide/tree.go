package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// FileTreeNode is one node of the workspace listing, computed fresh from
// disk on every request. It is never cached: the listing always reflects
// current state, and racing a concurrent write is benign.
type FileTreeNode struct {
	Name     string          `json:"name"`
	Kind     string          `json:"kind"`
	Children []*FileTreeNode `json:"children,omitempty"`
}

// listTree builds the tree rooted at the workspace. Unreadable directories
// are skipped rather than failing the listing, entries that vanish
// mid-walk are ignored, and symlinks are never followed, so link cycles
// cannot recurse.
func (w workspaceFS) listTree() (*FileTreeNode, error) {
	info, err := os.Stat(w.root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: workspace does not exist yet", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIOFailure, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: workspace is not a directory", ErrIOFailure)
	}
	root := &FileTreeNode{Name: filepath.Base(w.root), Kind: "directory"}
	walkTree(w.root, root)
	return root, nil
}

func walkTree(dir string, node *FileTreeNode) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		// Permission denied or vanished mid-walk: partial result, not fatal.
		return
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir() != entries[j].IsDir() {
			return entries[i].IsDir()
		}
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		child := &FileTreeNode{Name: entry.Name(), Kind: "file"}
		// DirEntry types come from lstat: a symlinked directory reports as
		// a non-directory here and is listed as a leaf, not descended into.
		if entry.IsDir() {
			child.Kind = "directory"
			walkTree(filepath.Join(dir, entry.Name()), child)
		}
		node.Children = append(node.Children, child)
	}
}
