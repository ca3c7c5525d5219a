package shredder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/oose/oose-sdk-go/pkg/api"
)

// ErrJobNotFound is the cause of the not-found error returned for a
// handle that has no record.
var ErrJobNotFound = errors.New("job not found")

// ErrJobExists is returned by Store.Create for a duplicate handle.
var ErrJobExists = errors.New("job already exists")

// jobNotFound builds the classified not-found error for handle.
func jobNotFound(handle string) error {
	return api.NotFoundError("Job not found: "+handle, ErrJobNotFound)
}

// Store persists job records. RemoteStore, MemoryStore and the postgres
// JobRepository implement it. Updates are last-writer-wins.
type Store interface {
	// Create inserts a new record.
	Create(ctx context.Context, job *Job) error

	// Get returns the record for handle or a not-found error wrapping
	// ErrJobNotFound.
	Get(ctx context.Context, handle string) (*Job, error)

	// Update replaces the stored record with job.
	Update(ctx context.Context, job *Job) error

	// Delete removes the record for handle.
	Delete(ctx context.Context, handle string) error
}

// Preparer yields a session-bound client ready for the next call.
// *session.Manager implements it.
type Preparer interface {
	Prepare(ctx context.Context) (*api.Client, error)
}

// ── RemoteStore ──────────────────────────────────────────────────────────

// RemoteStore keeps job records in the platform's job registry.
type RemoteStore struct {
	prep Preparer
}

// NewRemoteStore returns a RemoteStore issuing its calls through prep.
func NewRemoteStore(prep Preparer) *RemoteStore {
	return &RemoteStore{prep: prep}
}

// Create implements Store.
func (s *RemoteStore) Create(ctx context.Context, job *Job) error {
	return s.call(ctx, "/job/create", job, nil, job.Handle)
}

// Get implements Store.
func (s *RemoteStore) Get(ctx context.Context, handle string) (*Job, error) {
	var job Job
	if err := s.call(ctx, "/job/detail", map[string]string{"handle": handle}, &job, handle); err != nil {
		return nil, err
	}
	return &job, nil
}

// Update implements Store.
func (s *RemoteStore) Update(ctx context.Context, job *Job) error {
	return s.call(ctx, "/job/update", job, nil, job.Handle)
}

// Delete implements Store.
func (s *RemoteStore) Delete(ctx context.Context, handle string) error {
	return s.call(ctx, "/job/remove", map[string]string{"handle": handle}, nil, handle)
}

// call posts in to path. A 404 from the registry becomes a not-found error;
// every other response goes through the regular response contract.
func (s *RemoteStore) call(ctx context.Context, path string, in, out any, handle string) error {
	client, err := s.prep.Prepare(ctx)
	if err != nil {
		return err
	}
	resp, body, err := client.Post(ctx, path, in)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusNotFound {
		return jobNotFound(handle)
	}
	if out == nil {
		_, err = client.Validate(resp, body)
		return err
	}
	return decodeValidated(client, resp, body, out)
}

func decodeJSON(body []byte, out any) error {
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// ── MemoryStore ──────────────────────────────────────────────────────────

// MemoryStore is an in-memory, thread-safe Store. It is useful for tests
// and for single-process use where records need not outlive the process.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*Job)}
}

// Create implements Store.
func (s *MemoryStore) Create(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.Handle]; ok {
		return fmt.Errorf("%w: %s", ErrJobExists, job.Handle)
	}
	s.jobs[job.Handle] = job.Clone()
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, handle string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[handle]
	if !ok {
		return nil, jobNotFound(handle)
	}
	return job.Clone(), nil
}

// Update implements Store.
func (s *MemoryStore) Update(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.Handle]; !ok {
		return jobNotFound(job.Handle)
	}
	s.jobs[job.Handle] = job.Clone()
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[handle]; !ok {
		return jobNotFound(handle)
	}
	delete(s.jobs, handle)
	return nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}
