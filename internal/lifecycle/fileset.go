package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"slices"
	"sync"
)

// TransientFileSet holds every filesystem path created for one request.
// Cleanup removes them best-effort and may be called any number of times.
type TransientFileSet struct {
	mx    sync.Mutex
	paths []string
}

func NewTransientFileSet() *TransientFileSet {
	return &TransientFileSet{}
}

// Add registers paths for removal. Directories are removed recursively.
func (s *TransientFileSet) Add(paths ...string) {
	s.mx.Lock()
	defer s.mx.Unlock()
	for _, p := range paths {
		if p != "" && !slices.Contains(s.paths, p) {
			s.paths = append(s.paths, p)
		}
	}
}

// Release forgets path without removing it; ownership moved elsewhere.
func (s *TransientFileSet) Release(path string) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.paths = slices.DeleteFunc(s.paths, func(p string) bool { return p == path })
}

// Paths returns the paths still registered.
func (s *TransientFileSet) Paths() []string {
	s.mx.Lock()
	defer s.mx.Unlock()
	return slices.Clone(s.paths)
}

// Cleanup removes all registered paths, newest first. Failures are logged
// and the path stays registered, a later Cleanup retries it.
func (s *TransientFileSet) Cleanup(ctx context.Context) {
	s.mx.Lock()
	defer s.mx.Unlock()

	var left []string
	for _, p := range slices.Backward(s.paths) {
		err := os.RemoveAll(p)
		if err == nil || errors.Is(err, os.ErrNotExist) {
			continue
		}
		slog.WarnContext(ctx, "cleanup failed", "path", p, "error", err)
		left = append(left, p)
	}
	slices.Reverse(left)
	s.paths = left
}
