// Package cache implements the content-addressed store used for both
// retrieved DNA windows and model prediction payloads.
//
// Keys name their content: a window entry is keyed by its normalized
// genomic descriptor and a prediction entry by the SHA-256 of the exact
// sequence text it was computed from. Entries are gzip-compressed files
// written as a whole-file create-or-replace, so two runs racing to write
// the same key write the same bytes and cannot corrupt each other.
package cache

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/natefinch/atomic"
)

// ErrNotFound is returned by Get when no entry exists for a key.
var ErrNotFound = errors.New("cache entry not found")

// WriteError indicates the store location was not writable. Callers
// treat it as "cache disabled for this run", never as fatal.
type WriteError struct {
	Key string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("cache write for key %s: %v", e.Key, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Store is a flat directory of gzip-compressed entries, one file per key.
type Store struct {
	dir string
}

// NewStore opens a store rooted at dir, creating the directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the directory backing the store.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, key+".gz")
}

// Exists reports whether an entry is present for key. It only stats the
// backing file; the payload is never read or decompressed.
func (s *Store) Exists(key string) bool {
	_, err := os.Stat(s.path(key))
	return err == nil
}

// Get returns the decompressed payload stored under key.
// Returns ErrNotFound when the entry is absent.
func (s *Store) Get(key string) ([]byte, error) {
	f, err := os.Open(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open cache entry %s: %w", key, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("decompress cache entry %s: %w", key, err)
	}
	defer gz.Close()

	payload, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("read cache entry %s: %w", key, err)
	}
	return payload, nil
}

// Put stores payload under key, replacing any existing entry. The write
// goes through a temp file and a rename, never an in-place patch.
func (s *Store) Put(key string, payload []byte) error {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(payload); err != nil {
		return &WriteError{Key: key, Err: err}
	}
	if err := gz.Close(); err != nil {
		return &WriteError{Key: key, Err: err}
	}
	if err := atomic.WriteFile(s.path(key), &buf); err != nil {
		return &WriteError{Key: key, Err: err}
	}
	return nil
}

// Delete removes the entry for key. Missing entries are not an error.
func (s *Store) Delete(key string) error {
	err := os.Remove(s.path(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete cache entry %s: %w", key, err)
	}
	return nil
}

// Entry describes one stored entry.
type Entry struct {
	Key  string
	Size int64 // compressed size on disk
}

// Entries lists all entries in the store, sorted by key.
func (s *Store) Entries() ([]Entry, error) {
	dirents, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list cache dir: %w", err)
	}

	var entries []Entry
	for _, de := range dirents {
		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, ".gz") {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		entries = append(entries, Entry{
			Key:  strings.TrimSuffix(name, ".gz"),
			Size: info.Size(),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}
