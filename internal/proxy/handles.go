package proxy

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nishaddevendra/pdf-qa-core/internal/apperr"
)

// HandleEntry records one uploaded document. Handle eviction is
// process-lifetime only — no LRU bound, since uploads are small,
// operator-controlled corpora rather than a public multi-tenant service
// (see DESIGN.md).
type HandleEntry struct {
	Handle     string
	Path       string
	Filename   string
	UploadedAt time.Time
}

// HandleRegistry maps opaque document handles to filesystem paths. Every
// issued handle maps to at most one path for its lifetime.
type HandleRegistry struct {
	mu      sync.RWMutex
	entries map[string]*HandleEntry
	dir     string
}

func NewHandleRegistry(uploadDir string) *HandleRegistry {
	return &HandleRegistry{entries: make(map[string]*HandleEntry), dir: uploadDir}
}

// Register persists data under a freshly generated handle and makes it
// visible only once the file is fully written (write-then-register).
func (r *HandleRegistry) Register(filename string, data []byte) (*HandleEntry, error) {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return nil, apperr.Newf(apperr.Internal, "creating upload directory: %v", err)
	}

	handle := uuid.NewString()
	path := filepath.Join(r.dir, handle+".pdf")
	tmp := path + ".tmp"

	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return nil, apperr.Newf(apperr.Internal, "writing upload: %v", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return nil, apperr.Newf(apperr.Internal, "finalizing upload: %v", err)
	}

	entry := &HandleEntry{Handle: handle, Path: path, Filename: filename, UploadedAt: time.Now()}

	r.mu.Lock()
	r.entries[handle] = entry
	r.mu.Unlock()

	return entry, nil
}

func (r *HandleRegistry) Resolve(handle string) (*HandleEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[handle]
	if !ok {
		return nil, apperr.New(apperr.UnknownHandle, fmt.Sprintf("no such pdf_id: %s", handle))
	}
	return e, nil
}

func (r *HandleRegistry) List() []*HandleEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*HandleEntry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}

// Delete removes both the in-memory entry and the underlying file.
func (r *HandleRegistry) Delete(handle string) error {
	r.mu.Lock()
	entry, ok := r.entries[handle]
	if !ok {
		r.mu.Unlock()
		return apperr.New(apperr.UnknownHandle, fmt.Sprintf("no such pdf_id: %s", handle))
	}
	delete(r.entries, handle)
	r.mu.Unlock()

	if err := os.Remove(entry.Path); err != nil && !os.IsNotExist(err) {
		return apperr.Newf(apperr.Internal, "removing upload: %v", err)
	}
	return nil
}
