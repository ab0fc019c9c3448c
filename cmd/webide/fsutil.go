package main

import (
	"fmt"
	"os"
	"path/filepath"
)

// mergeDir moves the contents of src into dst, creating directories as
// needed and replacing existing files. Callers create staging directories
// next to the destination so the renames stay on one filesystem.
func mergeDir(src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		srcPath := filepath.Join(src, entry.Name())
		dstPath := filepath.Join(dst, entry.Name())

		if entry.IsDir() {
			info, err := entry.Info()
			if err != nil {
				return err
			}
			if err := os.MkdirAll(dstPath, info.Mode().Perm()); err != nil {
				return err
			}
			if err := mergeDir(srcPath, dstPath); err != nil {
				return err
			}
			continue
		}

		// Remove existing destination first to handle read-only files
		if _, err := os.Stat(dstPath); err == nil {
			if err := os.Remove(dstPath); err != nil {
				return err
			}
		}
		if err := os.Rename(srcPath, dstPath); err != nil {
			return fmt.Errorf("move %s: %w", entry.Name(), err)
		}
	}
	return nil
}
