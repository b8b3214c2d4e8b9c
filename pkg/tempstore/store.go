// Package tempstore manages the lifecycle of uploaded temporary files:
// collision-resistant save, leased chunked streaming and TTL-based
// eviction that never deletes a file while a stream holds it.
//
// The lease table is the only mutable shared state: each active stream
// holds one lease on its file, acquired before the file is opened and
// released exactly once when the stream closes, including on error or
// client disconnect. Eviction checks the lease count under the same lock
// it deletes under, so a beginning stream and an eviction pass can never
// race into a deleted-while-open file.
package tempstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrStorageUnavailable indicates the storage directory is not usable.
	ErrStorageUnavailable = errors.New("tempstore: storage unavailable")

	// ErrPathTraversal indicates a file reference that escapes the
	// managed directory.
	ErrPathTraversal = errors.New("tempstore: reference escapes storage directory")
)

const (
	// ChunkSize is the fixed read size for streamed files.
	ChunkSize = 8 * 1024

	deleteRetries    = 3
	deleteRetryDelay = time.Second
)

// Store manages temporary files under a single root directory.
// It is safe for concurrent use.
type Store struct {
	root string

	mu     sync.Mutex
	leases map[string]int
}

// New creates a Store rooted at dir, creating it if needed. The directory
// is probed for writability once here; an unusable directory fails
// construction with ErrStorageUnavailable rather than failing every save.
func New(dir string) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	probe := filepath.Join(abs, ".probe-"+uuid.NewString())
	if err := os.WriteFile(probe, nil, 0o644); err != nil {
		return nil, fmt.Errorf("%w: directory not writable: %v", ErrStorageUnavailable, err)
	}
	_ = os.Remove(probe)

	return &Store{
		root:   abs,
		leases: make(map[string]int),
	}, nil
}

// Root returns the managed directory.
func (s *Store) Root() string {
	return s.root
}

// Save writes data to a fresh uniquely named file preserving the original
// extension, and returns the file name (not the full path).
func (s *Store) Save(data []byte, originalName string) (string, error) {
	ext := strings.ToLower(filepath.Ext(originalName))
	name := uuid.NewString() + ext
	if err := os.WriteFile(filepath.Join(s.root, name), data, 0o644); err != nil {
		return "", fmt.Errorf("tempstore: save %q: %w", originalName, err)
	}
	slog.Info("saved temp file", "name", name, "bytes", len(data))
	return name, nil
}

// Resolve maps a file reference to an absolute path inside the managed
// directory. References that would escape it are rejected with
// ErrPathTraversal.
func (s *Store) Resolve(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.Contains(name, "..") {
		return "", fmt.Errorf("%w: %q", ErrPathTraversal, name)
	}
	path := filepath.Join(s.root, name)
	if !strings.HasPrefix(path, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrPathTraversal, name)
	}
	return path, nil
}

// Stream opens the named file for chunked reading. A lease is registered
// before the file is opened and released exactly once when the returned
// reader is closed. The reader is finite, forward-only and not
// restartable; each Read returns at most ChunkSize bytes.
func (s *Store) Stream(name string) (io.ReadCloser, int64, error) {
	path, err := s.Resolve(name)
	if err != nil {
		return nil, 0, err
	}

	s.acquire(name)

	f, err := os.Open(path)
	if err != nil {
		s.release(name)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, 0, fmt.Errorf("tempstore: %q: %w", name, fs.ErrNotExist)
		}
		return nil, 0, fmt.Errorf("tempstore: open %q: %w", name, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		s.release(name)
		return nil, 0, fmt.Errorf("tempstore: stat %q: %w", name, err)
	}

	return &leasedReader{store: s, name: name, f: f}, st.Size(), nil
}

// EvictExpired deletes every unleased file older than ttl. Deletion uses a
// small bounded retry because some platforms transiently lock files right
// after a stream closes; files that still cannot be removed are logged and
// left for the next pass. The pass itself never fails.
func (s *Store) EvictExpired(ctx context.Context, ttl time.Duration) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		slog.Error("eviction scan failed", "dir", s.root, "error", err)
		return
	}

	now := time.Now()
	for _, entry := range entries {
		if ctx.Err() != nil {
			return
		}
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) <= ttl {
			continue
		}
		s.evictOne(ctx, entry.Name())
	}
}

// Run evicts expired files on a fixed interval until ctx is cancelled. An
// in-flight pass is allowed to finish; no new pass starts afterwards.
func (s *Store) Run(ctx context.Context, interval, ttl time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.EvictExpired(ctx, ttl)
		}
	}
}

// evictOne removes a single expired file, retrying transient failures.
func (s *Store) evictOne(ctx context.Context, name string) {
	for attempt := 1; attempt <= deleteRetries; attempt++ {
		removed, err := s.tryRemove(name)
		if err == nil {
			if removed {
				slog.Info("evicted temp file", "name", name)
			}
			return
		}
		if attempt < deleteRetries {
			slog.Warn("retrying temp file delete", "name", name, "attempt", attempt, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(deleteRetryDelay):
			}
			continue
		}
		slog.Error("could not delete temp file, leaving for next pass",
			"name", name, "attempts", deleteRetries, "error", err)
	}
}

// tryRemove deletes the file unless it is currently leased. The lease
// check and the removal happen under the same lock.
func (s *Store) tryRemove(name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.leases[name] > 0 {
		return false, nil
	}
	err := os.Remove(filepath.Join(s.root, name))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) acquire(name string) {
	s.mu.Lock()
	s.leases[name]++
	s.mu.Unlock()
}

// release decrements the lease count. A release without a matching acquire
// is a programming invariant violation: it is logged loudly and the count
// is not underflowed.
func (s *Store) release(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.leases[name]
	if !ok || n <= 0 {
		slog.Error("lease release without matching acquire", "name", name)
		return
	}
	if n == 1 {
		delete(s.leases, name)
	} else {
		s.leases[name] = n - 1
	}
}

// leaseCount reports the current lease count for a file.
func (s *Store) leaseCount(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leases[name]
}

// leasedReader streams a file in fixed-size chunks and releases its lease
// exactly once on Close, regardless of how the stream ends.
type leasedReader struct {
	store *Store
	name  string
	f     *os.File
	once  sync.Once
}

func (r *leasedReader) Read(p []byte) (int, error) {
	if len(p) > ChunkSize {
		p = p[:ChunkSize]
	}
	return r.f.Read(p)
}

func (r *leasedReader) Close() error {
	var err error
	r.once.Do(func() {
		err = r.f.Close()
		r.store.release(r.name)
	})
	return err
}
