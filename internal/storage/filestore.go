// Package storage serializes and deserializes notebooks and their runs
// to a directory layout: one file per notebook, plus a sibling
// "<notebook>.runs" directory holding one file per persisted run.
package storage

import (
	"os"
	"path/filepath"
	"regexp"

	"twinsong/internal/apperr"
)

// Version is embedded in every persisted notebook file. Loading any
// other value fails with apperr.KindVersionMismatch.
const Version = "twinsong 0.0.1"

const runsSidecarSuffix = ".runs"

var sanitizePattern = regexp.MustCompile(`[^A-Za-z0-9_\-+.:]`)

// sanitizeTitle replaces any character outside alphanumerics and
// {_,-,+,.,:} with '_'.
func sanitizeTitle(title string) string {
	return sanitizePattern.ReplaceAllString(title, "_")
}

// runFileName derives a run's on-disk filename from its (sanitized)
// notebook-run title and RunID: the first 8 characters of each, joined
// by '_', with a ".run" suffix.
func runFileName(title string, runID string) string {
	t := sanitizeTitle(title)
	if len(t) > 8 {
		t = t[:8]
	}
	r := runID
	if len(r) > 8 {
		r = r[:8]
	}
	return t + "_" + r + ".run"
}

// runsDir returns the sidecar directory path for a notebook file path.
func runsDir(notebookPath string) string {
	return notebookPath + runsSidecarSuffix
}

// writeFileAtomic writes content to path by first writing to a sibling
// temp file, then renaming over path — the rename is atomic on the same
// filesystem, so readers never observe a partially written file.
func writeFileAtomic(path string, content []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return apperr.IOError("failed to create parent directory", err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return apperr.IOError("failed to create temp file", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return apperr.IOError("failed to write temp file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return apperr.IOError("failed to close temp file", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return apperr.IOError("failed to rename temp file into place", err)
	}
	return nil
}

// replaceDirAtomically writes the contents of files (name -> bytes) into
// a fresh temp directory next to dir, then renames it over dir, deleting
// dir first if it already exists. This is what gives a second save the
// property that only the second save's runs survive.
func replaceDirAtomically(dir string, files map[string][]byte) error {
	parent := filepath.Dir(dir)
	if err := os.MkdirAll(parent, 0755); err != nil {
		return apperr.IOError("failed to create parent directory", err)
	}
	tmpDir, err := os.MkdirTemp(parent, ".tmp-runs-*")
	if err != nil {
		return apperr.IOError("failed to create temp runs directory", err)
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(tmpDir, name), content, 0644); err != nil {
			os.RemoveAll(tmpDir)
			return apperr.IOError("failed to write run file", err)
		}
	}
	if _, err := os.Stat(dir); err == nil {
		if err := os.RemoveAll(dir); err != nil {
			os.RemoveAll(tmpDir)
			return apperr.IOError("failed to remove previous runs directory", err)
		}
	}
	if err := os.Rename(tmpDir, dir); err != nil {
		os.RemoveAll(tmpDir)
		return apperr.IOError("failed to rename temp runs directory into place", err)
	}
	return nil
}
