// Package shredder is the job platform facade. It creates job records,
// moves them through their lifecycle and reaches the worker bound to a job.
//
// Transitions are checked here before the record is written back to the
// Store:
//
//	staged ──JobStart──▶ queued
//	error|timeout|aborted|unknown|complete|processing|archived ──JobRetry──▶ queued_retry
//	processing ──JobAbort──▶ queued_abort
//	any ──JobRemove──▶ removed (or deleted while processing)
//
// Worker processes move queued jobs to processing and on to a final status.
package shredder

import (
	"context"

	"go.uber.org/zap"

	"github.com/oose/oose-sdk-go/pkg/api"
	"github.com/oose/oose-sdk-go/pkg/session"
)

// DefaultTokenHeader is the session header used against the job platform.
const DefaultTokenHeader = "X-SHREDDER-Token"

// RemoveResult acknowledges JobRemove.
type RemoveResult struct {
	Success string `json:"success"`
	Count   int    `json:"count"`
}

// Shredder is the job platform facade.
type Shredder struct {
	*session.Manager

	store   Store
	locator *Locator
	tokens  TokenStore
}

type options struct {
	store    Store
	dir      Directory
	tokens   TokenStore
	sessOpts []session.Option
}

// Option configures a Shredder.
type Option func(*options)

// WithStore replaces the job store. The platform's job registry is used
// by default.
func WithStore(s Store) Option {
	return func(o *options) { o.store = s }
}

// WithDirectory replaces the worker directory. The platform's directory is
// used by default.
func WithDirectory(d Directory) Option {
	return func(o *options) { o.dir = d }
}

// WithTokenStore replaces the store of the shared worker token.
func WithTokenStore(t TokenStore) Option {
	return func(o *options) { o.tokens = t }
}

// WithSession passes options to the session manager.
func WithSession(opts ...session.Option) Option {
	return func(o *options) { o.sessOpts = append(o.sessOpts, opts...) }
}

// New creates a Shredder drawing its clients from cache.
func New(cache *api.Cache, opts ...Option) *Shredder {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	s := &Shredder{}
	// Worker clients carry the shredder session token, so every token
	// change is published to the token store.
	sessOpts := append([]session.Option{
		session.WithTokenHeader(DefaultTokenHeader),
		session.WithTokenHook(func(ctx context.Context, token string) error {
			return s.tokens.SetToken(ctx, token)
		}),
	}, o.sessOpts...)
	s.Manager = session.New(cache, api.TypeShredder, sessOpts...)

	s.store = o.store
	if s.store == nil {
		s.store = NewRemoteStore(s.Manager)
	}
	if o.dir == nil {
		o.dir = NewRemoteDirectory(s.Manager)
	}
	s.tokens = o.tokens
	if s.tokens == nil {
		s.tokens = &MemoryTokenStore{}
	}
	s.locator = NewLocator(cache, o.dir, s.tokens, s.TokenHeader())
	return s
}

// Store returns the job store.
func (s *Shredder) Store() Store { return s.store }

// JobCreate stages a new job.
func (s *Shredder) JobCreate(ctx context.Context, description any, priority int, category string) (*Job, error) {
	if _, err := s.Prepare(ctx); err != nil {
		return nil, err
	}
	desc, err := encodeDescription(description)
	if err != nil {
		return nil, err
	}
	handle, err := NewHandle()
	if err != nil {
		return nil, err
	}
	if category == "" {
		category = DefaultCategory
	}

	job := &Job{
		Handle:            handle,
		Description:       desc,
		Priority:          priority,
		Category:          category,
		Status:            StatusStaged,
		StatusDescription: "Staged",
		StepTotal:         1,
		StepComplete:      0,
		FrameDescription:  "Staged",
		FrameTotal:        1,
		FrameComplete:     0,
	}
	if err := s.store.Create(ctx, job); err != nil {
		return nil, err
	}
	s.Logger().Info("job created", zap.String("handle", handle), zap.String("category", category))
	return job, nil
}

// JobDetail returns the job with handle.
func (s *Shredder) JobDetail(ctx context.Context, handle string) (*Job, error) {
	if _, err := s.Prepare(ctx); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, handle)
}

// JobUpdate edits a staged job. With force, a job in any status is edited
// and changes.Status is applied as well.
func (s *Shredder) JobUpdate(ctx context.Context, handle string, changes JobChanges, force bool) (*Job, error) {
	return s.transition(ctx, handle, func(job *Job) error {
		if job.Status != StatusStaged && !force {
			return api.UserError("Job cannot be updated after being started")
		}
		if changes.Description != nil {
			desc, err := encodeDescription(changes.Description)
			if err != nil {
				return err
			}
			job.Description = desc
		}
		if changes.Priority != 0 {
			job.Priority = changes.Priority
		}
		if changes.Status != "" && force {
			job.Status = changes.Status
		}
		return nil
	})
}

// JobRemove removes a job. A job that is not processing is marked removed
// and kept; a processing job is deleted outright.
func (s *Shredder) JobRemove(ctx context.Context, handle string) (*RemoveResult, error) {
	if _, err := s.Prepare(ctx); err != nil {
		return nil, err
	}
	job, err := s.store.Get(ctx, handle)
	if err != nil {
		return nil, err
	}
	if job.Status != StatusProcessing {
		job.Status = StatusRemoved
		err = s.store.Update(ctx, job)
	} else {
		err = s.store.Delete(ctx, handle)
	}
	if err != nil {
		return nil, err
	}
	s.Logger().Info("job removed",
		zap.String("handle", handle),
		zap.Bool("deleted", job.Status == StatusProcessing),
	)
	return &RemoveResult{Success: "Job removed", Count: 1}, nil
}

// JobStart queues a staged job.
func (s *Shredder) JobStart(ctx context.Context, handle string) (*Job, error) {
	return s.transition(ctx, handle, func(job *Job) error {
		if job.Status != StatusStaged {
			return api.UserError("Job cannot be started after being started")
		}
		job.Status = StatusQueued
		return nil
	})
}

// JobRetry queues a job again. A job that was not processing loses its
// worker so that a new one is assigned.
func (s *Shredder) JobRetry(ctx context.Context, handle string) (*Job, error) {
	return s.transition(ctx, handle, func(job *Job) error {
		if !job.Status.Retryable() {
			return api.UserErrorf("Job cannot be retried with a status of %s", job.Status)
		}
		if job.Status != StatusProcessing {
			job.Worker = ""
		}
		job.Status = StatusQueuedRetry
		return nil
	})
}

// JobAbort asks the worker of a processing job to stop.
func (s *Shredder) JobAbort(ctx context.Context, handle string) (*Job, error) {
	return s.transition(ctx, handle, func(job *Job) error {
		if job.Status != StatusProcessing {
			return api.UserError("Job cannot be aborted when not processing")
		}
		job.Status = StatusQueuedAbort
		return nil
	})
}

// transition loads a job, applies fn and writes the job back. Nothing is
// written when fn fails.
func (s *Shredder) transition(ctx context.Context, handle string, fn func(*Job) error) (*Job, error) {
	if _, err := s.Prepare(ctx); err != nil {
		return nil, err
	}
	job, err := s.store.Get(ctx, handle)
	if err != nil {
		return nil, err
	}
	from := job.Status
	if err := fn(job); err != nil {
		return nil, err
	}
	if err := s.store.Update(ctx, job); err != nil {
		return nil, err
	}
	if from != job.Status {
		s.Logger().Debug("job transition",
			zap.String("handle", handle),
			zap.String("from", string(from)),
			zap.String("to", string(job.Status)),
		)
	}
	return job, nil
}

// ── Worker calls ─────────────────────────────────────────────────────────

// JobContentExists asks the job's worker whether it holds file.
func (s *Shredder) JobContentExists(ctx context.Context, handle, file string) (bool, error) {
	client, err := s.workerClient(ctx, handle)
	if err != nil {
		return false, err
	}
	var out struct {
		Exists bool `json:"exists"`
	}
	err = client.Call(ctx, "/job/content/exists", map[string]string{
		"handle": handle,
		"file":   file,
	}, &out)
	if err != nil {
		return false, err
	}
	return out.Exists, nil
}

// JobContentURL returns the download URL of file on the job's worker. The
// worker itself is not contacted.
func (s *Shredder) JobContentURL(ctx context.Context, handle, file string) (string, error) {
	client, err := s.workerClient(ctx, handle)
	if err != nil {
		return "", err
	}
	return client.URL("/job/content/download/" + handle + "/" + file), nil
}

// AvailableWorkers lists the workers accepting jobs.
func (s *Shredder) AvailableWorkers(ctx context.Context) ([]Worker, error) {
	return s.locator.Available(ctx)
}

func (s *Shredder) workerClient(ctx context.Context, handle string) (*api.Client, error) {
	if _, err := s.Prepare(ctx); err != nil {
		return nil, err
	}
	job, err := s.store.Get(ctx, handle)
	if err != nil {
		return nil, err
	}
	if job.Worker == "" {
		return nil, ErrNoWorker
	}
	return s.locator.Client(ctx, job.Worker)
}
