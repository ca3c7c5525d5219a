package shredder

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"

	"github.com/oose/oose-sdk-go/pkg/api"
)

// ErrNoWorker is returned for job-scoped worker calls on a job that has no
// worker assigned. It is deliberately not a user error.
var ErrNoWorker = errors.New("no worker assigned to this job")

// ErrWorkerNotFound is the cause of the not-found error returned when the
// directory has no record for a worker name.
var ErrWorkerNotFound = errors.New("worker not found")

func workerNotFound(name string) error {
	return api.NotFoundError("Worker not found: "+name, ErrWorkerNotFound)
}

// Worker is a worker directory record.
type Worker struct {
	Name      string `json:"name"`
	Host      string `json:"host"`
	Port      int    `json:"port"`
	Available bool   `json:"available"`
	Active    bool   `json:"active"`
}

// Directory resolves worker names to connection parameters.
type Directory interface {
	// Get returns the worker called name or a not-found error wrapping
	// ErrWorkerNotFound.
	Get(ctx context.Context, name string) (*Worker, error)

	// Available lists the workers that are active and accepting jobs.
	Available(ctx context.Context) ([]Worker, error)
}

// TokenStore holds the session token shared by every worker client of a
// deployment, possibly across processes.
type TokenStore interface {
	// Token returns the shared token, or "" when none is stored.
	Token(ctx context.Context) (string, error)
	SetToken(ctx context.Context, token string) error
}

// ── RemoteDirectory ──────────────────────────────────────────────────────

// RemoteDirectory reads the worker directory from the platform.
type RemoteDirectory struct {
	prep Preparer
}

// NewRemoteDirectory returns a RemoteDirectory issuing its calls through prep.
func NewRemoteDirectory(prep Preparer) *RemoteDirectory {
	return &RemoteDirectory{prep: prep}
}

// Get implements Directory.
func (d *RemoteDirectory) Get(ctx context.Context, name string) (*Worker, error) {
	client, err := d.prep.Prepare(ctx)
	if err != nil {
		return nil, err
	}
	resp, body, err := client.Post(ctx, "/worker/detail", map[string]string{"name": name})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, workerNotFound(name)
	}
	var w Worker
	if err := decodeValidated(client, resp, body, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

// Available implements Directory.
func (d *RemoteDirectory) Available(ctx context.Context) ([]Worker, error) {
	client, err := d.prep.Prepare(ctx)
	if err != nil {
		return nil, err
	}
	var out []Worker
	if err := client.Call(ctx, "/worker/available", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ── MemoryDirectory ──────────────────────────────────────────────────────

// MemoryDirectory is an in-memory Directory.
type MemoryDirectory struct {
	mu      sync.RWMutex
	workers map[string]Worker
}

// NewMemoryDirectory returns a MemoryDirectory holding workers.
func NewMemoryDirectory(workers ...Worker) *MemoryDirectory {
	d := &MemoryDirectory{workers: make(map[string]Worker, len(workers))}
	for _, w := range workers {
		d.workers[w.Name] = w
	}
	return d
}

// Put adds or replaces a worker.
func (d *MemoryDirectory) Put(w Worker) {
	d.mu.Lock()
	d.workers[w.Name] = w
	d.mu.Unlock()
}

// Get implements Directory.
func (d *MemoryDirectory) Get(_ context.Context, name string) (*Worker, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	w, ok := d.workers[name]
	if !ok {
		return nil, workerNotFound(name)
	}
	return &w, nil
}

// Available implements Directory.
func (d *MemoryDirectory) Available(_ context.Context) ([]Worker, error) {
	d.mu.RLock()
	out := make([]Worker, 0, len(d.workers))
	for _, w := range d.workers {
		if w.Available && w.Active {
			out = append(out, w)
		}
	}
	d.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// List returns every worker sorted by name.
func (d *MemoryDirectory) List(_ context.Context) ([]Worker, error) {
	d.mu.RLock()
	out := make([]Worker, 0, len(d.workers))
	for _, w := range d.workers {
		out = append(out, w)
	}
	d.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// SetActive sets the active flag of the worker called name.
func (d *MemoryDirectory) SetActive(_ context.Context, name string, active bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	w, ok := d.workers[name]
	if !ok {
		return workerNotFound(name)
	}
	w.Active = active
	d.workers[name] = w
	return nil
}

// ── MemoryTokenStore ─────────────────────────────────────────────────────

// MemoryTokenStore shares the worker token within one process.
type MemoryTokenStore struct {
	mu    sync.RWMutex
	token string
}

// Token implements TokenStore.
func (s *MemoryTokenStore) Token(context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, nil
}

// SetToken implements TokenStore.
func (s *MemoryTokenStore) SetToken(_ context.Context, token string) error {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	return nil
}

// ── Locator ──────────────────────────────────────────────────────────────

// Locator builds clients for named workers. Clients come from the shared
// cache and carry the shared worker token when one is stored.
type Locator struct {
	cache  *api.Cache
	dir    Directory
	tokens TokenStore
	header string
}

// NewLocator returns a Locator. header names the session token header sent
// to workers.
func NewLocator(cache *api.Cache, dir Directory, tokens TokenStore, header string) *Locator {
	return &Locator{cache: cache, dir: dir, tokens: tokens, header: header}
}

// Client returns the client for the worker called name.
func (l *Locator) Client(ctx context.Context, name string) (*api.Client, error) {
	w, err := l.dir.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	client, err := l.cache.Get(api.TypeWorker, api.Options{Host: w.Host, Port: w.Port})
	if err != nil {
		return nil, err
	}
	token, err := l.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	if token != "" {
		client = l.cache.BindSessionHeader(client, token, l.header)
	}
	return client, nil
}

// Available lists the workers accepting jobs.
func (l *Locator) Available(ctx context.Context) ([]Worker, error) {
	return l.dir.Available(ctx)
}

func decodeValidated(client *api.Client, resp *http.Response, body []byte, out any) error {
	body, err := client.Validate(resp, body)
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	return decodeJSON(body, out)
}
