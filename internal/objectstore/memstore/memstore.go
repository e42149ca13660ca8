// Package memstore is an in-memory objectstore.Store used by tests that
// exercise the migrator and workers without a live S3 endpoint.
package memstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	cterrors "github.com/ser94mor/cloudtiering/internal/errors"
)

// Store is a thread-safe in-memory object store.
type Store struct {
	mu        sync.Mutex
	objects   map[string][]byte
	connected bool

	// FailUpload/FailDownload, if set, are returned instead of
	// performing the operation, to exercise migrator rollback paths.
	FailUpload   error
	FailDownload error
}

func New() *Store {
	return &Store{objects: make(map[string][]byte)}
}

func (s *Store) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	return nil
}

func (s *Store) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	return nil
}

func (s *Store) Upload(ctx context.Context, f *os.File, objectID string) error {
	if s.FailUpload != nil {
		return s.FailUpload
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return cterrors.New(cterrors.KindFileOpFailed, "memstore", "seek").WithCause(err)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return cterrors.New(cterrors.KindFileOpFailed, "memstore", "read").WithCause(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	s.objects[objectID] = buf
	return nil
}

func (s *Store) Download(ctx context.Context, f *os.File, objectID string) error {
	if s.FailDownload != nil {
		return s.FailDownload
	}
	s.mu.Lock()
	data, ok := s.objects[objectID]
	s.mu.Unlock()
	if !ok {
		return cterrors.New(cterrors.KindObjectStoreFailed, "memstore", fmt.Sprintf("no such object %q", objectID))
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return cterrors.New(cterrors.KindFileOpFailed, "memstore", "seek").WithCause(err)
	}
	if _, err := f.Write(data); err != nil {
		return cterrors.New(cterrors.KindFileOpFailed, "memstore", "write").WithCause(err)
	}
	return nil
}

func (s *Store) ObjectIDFor(path string, dev, ino uint64) (string, error) {
	return fmt.Sprintf("%x-%x-%s", dev, ino, path), nil
}

func (s *Store) ObjectIDMaxLen() int { return 1024 }

// Has reports whether an object with the given id has been uploaded.
// Test-only introspection, not part of objectstore.Store.
func (s *Store) Has(objectID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[objectID]
	return ok
}
