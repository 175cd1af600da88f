// Package adapters implements the pluggable adapter-distribution endpoint:
// a read-only directory of framework-listener archives discovered at
// startup and served by name over the HTTP surface.
package adapters

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ArchiveExt is the file suffix recognized as an adapter archive.
const ArchiveExt = ".tar.gz"

// ContentType is served for every archive stream (spec.md §9 Open Question
// resolved: application/gzip, see DESIGN.md).
const ContentType = "application/gzip"

// Store lists and streams adapter archives from a configured directory.
type Store struct {
	dir string

	mu    sync.RWMutex
	names map[string]string // archive name (no extension) -> absolute path
}

// NewStore discovers every *.tar.gz file under dir via filepath.WalkDir and
// indexes it by name. dir may not yet exist; in that case Store starts
// empty and Rescan can be called later once it does.
func NewStore(dir string) (*Store, error) {
	s := &Store{dir: dir, names: make(map[string]string)}
	if err := s.Rescan(); err != nil {
		return nil, err
	}
	return s, nil
}

// Rescan re-walks the configured directory, replacing the in-memory index.
func (s *Store) Rescan() error {
	names := make(map[string]string)
	if s.dir != "" {
		if _, err := os.Stat(s.dir); err == nil {
			err := filepath.WalkDir(s.dir, func(path string, d os.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if d.IsDir() {
					return nil
				}
				if !strings.HasSuffix(d.Name(), ArchiveExt) {
					return nil
				}
				name := strings.TrimSuffix(d.Name(), ArchiveExt)
				names[name] = path
				return nil
			})
			if err != nil {
				return fmt.Errorf("walk adapter directory: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("stat adapter directory: %w", err)
		}
	}
	s.mu.Lock()
	s.names = names
	s.mu.Unlock()
	return nil
}

// List returns the sorted names of every discovered adapter archive.
func (s *Store) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.names))
	for name := range s.names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Open streams the named archive's contents, or (nil, false) if unknown.
// The caller must Close the returned ReadCloser.
func (s *Store) Open(name string) (io.ReadCloser, bool) {
	s.mu.RLock()
	path, ok := s.names[name]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, false
	}
	return f, true
}
