package wordstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FileStore reads entries from a JSON file, or from every .json file in a
// directory. Each file holds {"terms": [Entry, ...]}. It is read-only.
type FileStore struct {
	path string
	inst instruments
}

// NewFileStore returns a store over path, which may be a file or a directory.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: filepath.Clean(path), inst: newInstruments("file")}
}

// Path returns the watched file or directory.
func (f *FileStore) Path() string { return f.path }

// List parses every source file. A malformed file fails the whole load so a
// partial dictionary is never published.
func (f *FileStore) List(ctx context.Context) ([]Entry, error) {
	defer f.inst.read(ctx, "list", time.Now())
	info, err := os.Stat(f.path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		entries, err := ReadTermFile(f.path)
		if err != nil {
			return nil, err
		}
		sortEntries(entries)
		return entries, nil
	}

	dir, err := os.ReadDir(f.path)
	if err != nil {
		return nil, err
	}
	var all []Entry
	for _, de := range dir {
		if de.IsDir() || !isTermFile(de.Name()) {
			continue
		}
		entries, err := ReadTermFile(filepath.Join(f.path, de.Name()))
		if err != nil {
			return nil, err
		}
		all = append(all, entries...)
	}
	sortEntries(all)
	return all, nil
}

func (f *FileStore) ListEnabledTerms(ctx context.Context) ([]string, error) {
	entries, err := f.List(ctx)
	if err != nil {
		return nil, err
	}
	return enabledTerms(entries), nil
}

func (f *FileStore) Close() error { return nil }

func isTermFile(name string) bool {
	return filepath.Ext(name) == ".json" && !strings.HasPrefix(name, ".")
}

type termFile struct {
	Terms []Entry `json:"terms"`
}

// fileEntry is Entry as read from a term file. A hand-written entry that omits
// "enabled" is enabled.
type fileEntry struct {
	Entry
	Enabled *bool `json:"enabled"`
}

// ReadTermFile parses one {"terms": [...]} document.
func ReadTermFile(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc struct {
		Terms []fileEntry `json:"terms"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	entries := make([]Entry, len(doc.Terms))
	for i, fe := range doc.Terms {
		entries[i] = fe.Entry
		entries[i].Enabled = fe.Enabled == nil || *fe.Enabled
	}
	return entries, nil
}

// WriteTermFile writes entries in the format FileStore reads. The file is
// replaced atomically so a concurrent reader never sees a partial document.
func WriteTermFile(path string, entries []Entry) error {
	data, err := json.MarshalIndent(termFile{Terms: entries}, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".terms-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
