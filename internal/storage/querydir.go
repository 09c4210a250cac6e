package storage

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// NotebookExtension is the file extension recognized as a notebook by
// QueryDir.
const NotebookExtension = ".ts"

// EntryKind classifies one directory entry for the query_dir reactor
// handler.
type EntryKind string

const (
	EntryNotebook       EntryKind = "notebook"
	EntryLoadedNotebook EntryKind = "loaded_notebook"
	EntryDir            EntryKind = "dir"
	EntryFile           EntryKind = "file"
)

// Entry is one row of a DirList.
type Entry struct {
	Name string    `json:"name"`
	Kind EntryKind `json:"kind"`
}

// QueryDir enumerates dir's immediate children, classifying each per the
// reactor's query_dir contract: directories ending in the sidecar suffix
// ".runs" are skipped entirely; notebook-extension files are Notebook or
// LoadedNotebook depending on isLoaded; everything else is Dir or File.
// The result is sorted by name.
func QueryDir(dir string, isLoaded func(path string) bool) ([]Entry, error) {
	children, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(children))
	for _, child := range children {
		name := child.Name()
		if child.IsDir() {
			if strings.HasSuffix(name, runsSidecarSuffix) {
				continue
			}
			entries = append(entries, Entry{Name: name, Kind: EntryDir})
			continue
		}
		if filepath.Ext(name) == NotebookExtension {
			full := filepath.Join(dir, name)
			if isLoaded(full) {
				entries = append(entries, Entry{Name: name, Kind: EntryLoadedNotebook})
			} else {
				entries = append(entries, Entry{Name: name, Kind: EntryNotebook})
			}
			continue
		}
		entries = append(entries, Entry{Name: name, Kind: EntryFile})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}
