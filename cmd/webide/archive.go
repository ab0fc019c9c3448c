package main

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
)

const (
	formatZip   = "zip"
	formatTarGz = "tar.gz"
)

// detectFormat picks the archive format from the uploaded filename.
func detectFormat(filename string) (string, error) {
	name := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(name, ".zip"):
		return formatZip, nil
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return formatTarGz, nil
	}
	return "", fmt.Errorf("%w: unsupported archive %q", ErrCorruptArchive, filepath.Base(filename))
}

// importArchive materializes an uploaded archive inside the workspace.
//
// The upload is persisted to a scratch file (removed on every exit path)
// and extracted into a staging directory next to the workspace. Every
// entry target goes through the sandbox resolve against the staging root,
// so an entry like "../evil.txt" aborts the import before the workspace is
// touched: no failure mode leaves a partially-extracted workspace.
func importArchive(upload io.Reader, filename, workspace string) error {
	format, err := detectFormat(filename)
	if err != nil {
		return err
	}

	scratch, err := os.CreateTemp("", "webide-upload-*")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIOFailure, err)
	}
	defer os.Remove(scratch.Name())

	size, err := io.Copy(scratch, upload)
	if err != nil {
		scratch.Close()
		return fmt.Errorf("%w: %v", ErrIOFailure, err)
	}
	if err := scratch.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrIOFailure, err)
	}

	staging, err := os.MkdirTemp(filepath.Dir(workspace), ".staging-*")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIOFailure, err)
	}
	defer os.RemoveAll(staging)

	switch format {
	case formatZip:
		err = extractZip(scratch.Name(), size, staging)
	case formatTarGz:
		err = extractTarGz(scratch.Name(), staging)
	}
	if err != nil {
		return err
	}

	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrIOFailure, err)
	}
	if err := mergeDir(staging, workspace); err != nil {
		return fmt.Errorf("%w: %v", ErrIOFailure, err)
	}
	log.Printf("[UPLOAD] Imported %s archive (%d bytes)", format, size)
	return nil
}

// entryTarget runs the per-entry containment check against the staging
// root. A traversal name is an escape attempt, not a corrupt container.
func entryTarget(staging workspaceFS, name string) (string, error) {
	target, err := staging.resolve(name)
	if err != nil {
		if errors.Is(err, ErrPathEscape) {
			return "", fmt.Errorf("%w: entry %q", ErrEscapeAttempt, name)
		}
		return "", err
	}
	return target, nil
}

func extractZip(scratchPath string, size int64, dest string) error {
	f, err := os.Open(scratchPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIOFailure, err)
	}
	defer f.Close()

	zr, err := zip.NewReader(f, size)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptArchive, err)
	}
	staging := newWorkspaceFS(dest)
	for _, entry := range zr.File {
		if path.Clean(filepath.ToSlash(entry.Name)) == "." {
			continue
		}
		target, err := entryTarget(staging, entry.Name)
		if err != nil {
			return err
		}
		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("%w: %v", ErrIOFailure, err)
			}
			continue
		}
		rc, err := entry.Open()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCorruptArchive, err)
		}
		err = writeEntry(target, rc)
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func extractTarGz(scratchPath, dest string) error {
	f, err := os.Open(scratchPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIOFailure, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptArchive, err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	staging := newWorkspaceFS(dest)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCorruptArchive, err)
		}
		if path.Clean(filepath.ToSlash(hdr.Name)) == "." {
			continue
		}
		target, err := entryTarget(staging, hdr.Name)
		if err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("%w: %v", ErrIOFailure, err)
			}
		case tar.TypeReg:
			if err := writeEntry(target, tr); err != nil {
				return err
			}
		default:
			// Symlinks, devices and the rest have no place in an upload.
			log.Printf("[UPLOAD] Skipping archive entry %q (type %c)", hdr.Name, hdr.Typeflag)
		}
	}
}

// writeEntry stream-copies one archive entry to its target, creating
// parent directories for entries whose directories were never declared.
func writeEntry(target string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrIOFailure, err)
	}
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIOFailure, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("%w: %v", ErrIOFailure, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrIOFailure, err)
	}
	return nil
}
