package shredder_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oose/oose-sdk-go/internal/mock"
	"github.com/oose/oose-sdk-go/pkg/api"
	"github.com/oose/oose-sdk-go/pkg/session"
	"github.com/oose/oose-sdk-go/pkg/shredder"
)

// memShredder returns a Shredder over a MemoryStore with a static session.
// Nothing it does reaches the network.
func memShredder(t *testing.T) (*shredder.Shredder, *shredder.MemoryStore) {
	t.Helper()
	store := shredder.NewMemoryStore()
	s := shredder.New(api.NewCache(api.DefaultConfig(), nil),
		shredder.WithStore(store),
		shredder.WithDirectory(shredder.NewMemoryDirectory()),
	)
	_, err := s.Connect(context.Background(), "127.0.0.1", 5980)
	require.NoError(t, err)
	s.SetSession("static")
	return s, store
}

// seed stores a job in the given status.
func seed(t *testing.T, store shredder.Store, status shredder.Status, worker string) *shredder.Job {
	t.Helper()
	h, err := shredder.NewHandle()
	require.NoError(t, err)
	job := &shredder.Job{
		Handle:      h,
		Description: json.RawMessage(`{}`),
		Category:    shredder.DefaultCategory,
		Status:      status,
		StepTotal:   1,
		FrameTotal:  1,
		Worker:      worker,
	}
	require.NoError(t, store.Create(context.Background(), job))
	return job
}

func TestOperationsNeedSession(t *testing.T) {
	s := shredder.New(api.NewCache(api.DefaultConfig(), nil), shredder.WithStore(shredder.NewMemoryStore()))
	_, err := s.JobCreate(context.Background(), nil, 0, "")
	require.EqualError(t, err, "Not connected")

	_, err = s.Connect(context.Background(), "127.0.0.1", 5980)
	require.NoError(t, err)
	_, err = s.JobDetail(context.Background(), "x")
	require.EqualError(t, err, "Not authenticated")
}

func TestJobCreate(t *testing.T) {
	s, store := memShredder(t)

	job, err := s.JobCreate(context.Background(), map[string]any{"resource": []any{}}, 0, "")
	require.NoError(t, err)
	require.Len(t, job.Handle, shredder.HandleLength)
	require.Equal(t, shredder.StatusStaged, job.Status)
	require.Equal(t, shredder.DefaultCategory, job.Category)
	require.Equal(t, 1, job.StepTotal)
	require.Equal(t, 0, job.StepComplete)
	require.Equal(t, 1, job.FrameTotal)
	require.Equal(t, 0, job.FrameComplete)
	require.Equal(t, 1, store.Len())
}

func TestJobDetail_notFound(t *testing.T) {
	s, _ := memShredder(t)

	_, err := s.JobDetail(context.Background(), "missing")
	require.True(t, api.IsNotFound(err))
	require.False(t, api.IsUser(err))
	require.ErrorIs(t, err, shredder.ErrJobNotFound)
}

func TestJobStart(t *testing.T) {
	s, store := memShredder(t)
	ctx := context.Background()

	staged := seed(t, store, shredder.StatusStaged, "")
	job, err := s.JobStart(ctx, staged.Handle)
	require.NoError(t, err)
	require.Equal(t, shredder.StatusQueued, job.Status)

	_, err = s.JobStart(ctx, staged.Handle)
	require.True(t, api.IsUser(err))
	require.Equal(t, "Job cannot be started after being started", err.Error())

	got, err := store.Get(ctx, staged.Handle)
	require.NoError(t, err)
	require.Equal(t, shredder.StatusQueued, got.Status, "failed start leaves status unchanged")
}

func TestJobRetry(t *testing.T) {
	ctx := context.Background()
	for _, from := range []shredder.Status{
		shredder.StatusError, shredder.StatusTimeout, shredder.StatusAborted, shredder.StatusUnknown,
		shredder.StatusComplete, shredder.StatusProcessing, shredder.StatusArchived,
	} {
		t.Run(from.String(), func(t *testing.T) {
			s, store := memShredder(t)
			seeded := seed(t, store, from, "w1")

			job, err := s.JobRetry(ctx, seeded.Handle)
			require.NoError(t, err)
			require.Equal(t, shredder.StatusQueuedRetry, job.Status)
			if from == shredder.StatusProcessing {
				require.Equal(t, "w1", job.Worker)
			} else {
				require.Empty(t, job.Worker, "worker cleared for reassignment")
			}

			got, err := store.Get(ctx, seeded.Handle)
			require.NoError(t, err)
			require.Equal(t, job, got)
		})
	}
}

func TestJobRetry_illegal(t *testing.T) {
	ctx := context.Background()
	for _, from := range []shredder.Status{shredder.StatusStaged, shredder.StatusQueued, shredder.StatusQueuedAbort} {
		t.Run(from.String(), func(t *testing.T) {
			s, store := memShredder(t)
			seeded := seed(t, store, from, "w1")

			_, err := s.JobRetry(ctx, seeded.Handle)
			require.True(t, api.IsUser(err))
			require.Equal(t, "Job cannot be retried with a status of "+string(from), err.Error())

			got, err := store.Get(ctx, seeded.Handle)
			require.NoError(t, err)
			require.Equal(t, from, got.Status)
			require.Equal(t, "w1", got.Worker)
		})
	}
}

func TestJobAbort(t *testing.T) {
	s, store := memShredder(t)
	ctx := context.Background()

	processing := seed(t, store, shredder.StatusProcessing, "w1")
	job, err := s.JobAbort(ctx, processing.Handle)
	require.NoError(t, err)
	require.Equal(t, shredder.StatusQueuedAbort, job.Status)

	staged := seed(t, store, shredder.StatusStaged, "")
	_, err = s.JobAbort(ctx, staged.Handle)
	require.True(t, api.IsUser(err))
	require.Equal(t, "Job cannot be aborted when not processing", err.Error())
}

func TestJobUpdate(t *testing.T) {
	s, store := memShredder(t)
	ctx := context.Background()

	staged := seed(t, store, shredder.StatusStaged, "")
	job, err := s.JobUpdate(ctx, staged.Handle, shredder.JobChanges{
		Description: map[string]string{"a": "b"},
		Priority:    5,
		Status:      shredder.StatusComplete,
	}, false)
	require.NoError(t, err)
	require.JSONEq(t, `{"a":"b"}`, string(job.Description))
	require.Equal(t, 5, job.Priority)
	require.Equal(t, shredder.StatusStaged, job.Status, "status needs force")

	queued := seed(t, store, shredder.StatusQueued, "")
	_, err = s.JobUpdate(ctx, queued.Handle, shredder.JobChanges{Priority: 5}, false)
	require.True(t, api.IsUser(err))
	require.Equal(t, "Job cannot be updated after being started", err.Error())

	job, err = s.JobUpdate(ctx, queued.Handle, shredder.JobChanges{
		Priority: 7,
		Status:   shredder.StatusError,
	}, true)
	require.NoError(t, err)
	require.Equal(t, 7, job.Priority)
	require.Equal(t, shredder.StatusError, job.Status)
}

func TestJobRemove(t *testing.T) {
	s, store := memShredder(t)
	ctx := context.Background()

	idle := seed(t, store, shredder.StatusComplete, "")
	res, err := s.JobRemove(ctx, idle.Handle)
	require.NoError(t, err)
	require.Equal(t, &shredder.RemoveResult{Success: "Job removed", Count: 1}, res)
	got, err := store.Get(ctx, idle.Handle)
	require.NoError(t, err)
	require.Equal(t, shredder.StatusRemoved, got.Status)

	busy := seed(t, store, shredder.StatusProcessing, "w1")
	res, err = s.JobRemove(ctx, busy.Handle)
	require.NoError(t, err)
	require.Equal(t, 1, res.Count)
	_, err = store.Get(ctx, busy.Handle)
	require.True(t, api.IsNotFound(err), "processing job is deleted outright")
}

func TestJobContent_noWorker(t *testing.T) {
	s, store := memShredder(t)
	job := seed(t, store, shredder.StatusComplete, "")

	_, err := s.JobContentExists(context.Background(), job.Handle, "video.mp4")
	require.True(t, errors.Is(err, shredder.ErrNoWorker))
	require.False(t, api.IsUser(err))

	_, err = s.JobContentURL(context.Background(), job.Handle, "video.mp4")
	require.ErrorIs(t, err, shredder.ErrNoWorker)
}

func TestJobContentURL(t *testing.T) {
	store := shredder.NewMemoryStore()
	s := shredder.New(api.NewCache(api.DefaultConfig(), nil),
		shredder.WithStore(store),
		shredder.WithDirectory(shredder.NewMemoryDirectory(shredder.Worker{
			Name: "w1", Host: "10.1.2.3", Port: 5981, Available: true, Active: true,
		})),
	)
	_, err := s.Connect(context.Background(), "127.0.0.1", 5980)
	require.NoError(t, err)
	s.SetSession("static")

	job := seed(t, store, shredder.StatusComplete, "w1")
	got, err := s.JobContentURL(context.Background(), job.Handle, "video.mp4")
	require.NoError(t, err)
	require.Equal(t, "https://10.1.2.3:5981/job/content/download/"+job.Handle+"/video.mp4", got)

	orphan := seed(t, store, shredder.StatusComplete, "gone")
	_, err = s.JobContentURL(context.Background(), orphan.Handle, "video.mp4")
	require.True(t, api.IsNotFound(err))
	require.ErrorIs(t, err, shredder.ErrWorkerNotFound)

	workers, err := s.AvailableWorkers(context.Background())
	require.NoError(t, err)
	require.Len(t, workers, 1)
}

// ── Against the mock platform ────────────────────────────────────────────

func remoteShredder(t *testing.T) (*shredder.Shredder, *mock.Server, string, int) {
	t.Helper()
	srv, host, port := mock.Start(t, mock.Options{})
	s := shredder.New(api.NewCache(api.DefaultConfig(), nil),
		shredder.WithSession(session.WithCredentials(srv.Username(), srv.Password())),
	)
	ctx := context.Background()
	_, err := s.Connect(ctx, host, port)
	require.NoError(t, err)
	_, err = s.Login(ctx, "", "")
	require.NoError(t, err)
	return s, srv, host, port
}

func TestEndToEnd(t *testing.T) {
	s, srv, _, _ := remoteShredder(t)
	ctx := context.Background()

	description := map[string]any{"resource": []any{map[string]any{"name": "x.html"}}}
	job, err := s.JobCreate(ctx, description, 10, "resource")
	require.NoError(t, err)
	require.Equal(t, shredder.StatusStaged, job.Status)
	require.Equal(t, 1, job.StepTotal)
	require.Equal(t, 0, job.StepComplete)
	require.Len(t, job.Handle, 12)

	detail, err := s.JobDetail(ctx, job.Handle)
	require.NoError(t, err)
	require.JSONEq(t, `{"resource":[{"name":"x.html"}]}`, string(detail.Description))
	require.Equal(t, 10, detail.Priority)

	job, err = s.JobStart(ctx, job.Handle)
	require.NoError(t, err)
	require.Equal(t, shredder.StatusQueued, job.Status)

	_, err = s.JobUpdate(ctx, job.Handle, shredder.JobChanges{Priority: 5}, false)
	require.True(t, api.IsUser(err))
	detail, err = s.JobDetail(ctx, job.Handle)
	require.NoError(t, err)
	require.Equal(t, shredder.StatusQueued, detail.Status)
	require.Equal(t, 10, detail.Priority)

	require.True(t, srv.SetJobStatus(job.Handle, "processing"))
	job, err = s.JobAbort(ctx, job.Handle)
	require.NoError(t, err)
	require.Equal(t, shredder.StatusQueuedAbort, job.Status)

	res, err := s.JobRemove(ctx, job.Handle)
	require.NoError(t, err)
	require.Equal(t, "Job removed", res.Success)
	require.Equal(t, 1, res.Count)

	rec, ok := srv.Job(job.Handle)
	require.True(t, ok, "soft removal keeps the record")
	require.Equal(t, "removed", rec["status"])
}

func TestRemote_hardRemoveAndNotFound(t *testing.T) {
	s, srv, _, _ := remoteShredder(t)
	ctx := context.Background()

	job, err := s.JobCreate(ctx, map[string]any{}, 0, "")
	require.NoError(t, err)
	require.True(t, srv.SetJobStatus(job.Handle, "processing"))

	_, err = s.JobRemove(ctx, job.Handle)
	require.NoError(t, err)
	_, ok := srv.Job(job.Handle)
	require.False(t, ok)

	_, err = s.JobDetail(ctx, job.Handle)
	require.True(t, api.IsNotFound(err))
	require.ErrorIs(t, err, shredder.ErrJobNotFound)
}

func TestRemote_workerContent(t *testing.T) {
	s, srv, host, port := remoteShredder(t)
	ctx := context.Background()

	srv.AddWorker(mock.Worker{Name: "w1", Host: host, Port: port, Available: true, Active: true})
	job, err := s.JobCreate(ctx, map[string]any{}, 0, "")
	require.NoError(t, err)
	require.True(t, srv.SetJobWorker(job.Handle, "w1"))
	srv.AddContent(job.Handle, "video.mp4")

	ok, err := s.JobContentExists(ctx, job.Handle, "video.mp4")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.JobContentExists(ctx, job.Handle, "missing.mp4")
	require.NoError(t, err)
	require.False(t, ok)

	workers, err := s.AvailableWorkers(ctx)
	require.NoError(t, err)
	require.Equal(t, []shredder.Worker{{Name: "w1", Host: host, Port: port, Available: true, Active: true}}, workers)
}

func TestRemote_workerNeedsSharedToken(t *testing.T) {
	srv, host, port := mock.Start(t, mock.Options{})
	ctx := context.Background()
	srv.AddWorker(mock.Worker{Name: "w1", Host: host, Port: port, Available: true, Active: true})

	tokens := &shredder.MemoryTokenStore{}
	s := shredder.New(api.NewCache(api.DefaultConfig(), nil),
		shredder.WithTokenStore(tokens),
		shredder.WithSession(session.WithCredentials(srv.Username(), srv.Password())),
	)
	_, err := s.Connect(ctx, host, port)
	require.NoError(t, err)
	sess, err := s.Login(ctx, "", "")
	require.NoError(t, err)

	shared, err := tokens.Token(ctx)
	require.NoError(t, err)
	require.Equal(t, sess.Token, shared, "login publishes the worker token")

	job, err := s.JobCreate(ctx, map[string]any{}, 0, "")
	require.NoError(t, err)
	require.True(t, srv.SetJobWorker(job.Handle, "w1"))

	// Worker calls carry whatever token is shared, even a stale one.
	require.NoError(t, tokens.SetToken(ctx, "stale"))
	_, err = s.JobContentExists(ctx, job.Handle, "video.mp4")
	require.True(t, api.IsUser(err))
	require.Equal(t, "Invalid session", err.Error())
}

func TestRemote_workerTokenFollowsRenewal(t *testing.T) {
	srv, host, port := mock.Start(t, mock.Options{})
	ctx := context.Background()
	srv.AddWorker(mock.Worker{Name: "w1", Host: host, Port: port, Available: true, Active: true})

	now := time.Now()
	tokens := &shredder.MemoryTokenStore{}
	s := shredder.New(api.NewCache(api.DefaultConfig(), nil),
		shredder.WithTokenStore(tokens),
		shredder.WithSession(
			session.WithCredentials(srv.Username(), srv.Password()),
			session.WithClock(func() time.Time { return now }),
		),
	)
	_, err := s.Connect(ctx, host, port)
	require.NoError(t, err)
	old, err := s.Login(ctx, "", "")
	require.NoError(t, err)

	job, err := s.JobCreate(ctx, map[string]any{}, 0, "")
	require.NoError(t, err)
	require.True(t, srv.SetJobWorker(job.Handle, "w1"))
	srv.AddContent(job.Handle, "video.mp4")

	ok, err := s.JobContentExists(ctx, job.Handle, "video.mp4")
	require.NoError(t, err)
	require.True(t, ok)

	// Inside the renewal margin: the next call renews and the old token is
	// revoked by the platform.
	now = now.Add(mock.DefaultTTL - session.RenewalMargin + 3*time.Minute)
	_, err = s.JobDetail(ctx, job.Handle)
	require.NoError(t, err)
	renewed := s.Session().Token
	require.NotEqual(t, old.Token, renewed)

	shared, err := tokens.Token(ctx)
	require.NoError(t, err)
	require.Equal(t, renewed, shared)

	ok, err = s.JobContentExists(ctx, job.Handle, "video.mp4")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = s.Logout(ctx)
	require.NoError(t, err)
	shared, err = tokens.Token(ctx)
	require.NoError(t, err)
	require.Empty(t, shared, "logout clears the worker token")
}
