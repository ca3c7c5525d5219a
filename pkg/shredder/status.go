package shredder

// Status is the lifecycle state of a job.
type Status string

// Job statuses. Jobs are staged by the caller, queued by JobStart and
// JobRetry and then advanced by worker processes.
const (
	StatusStaged      Status = "staged"
	StatusQueued      Status = "queued"
	StatusQueuedRetry Status = "queued_retry"
	StatusQueuedAbort Status = "queued_abort"
	StatusProcessing  Status = "processing"
	StatusComplete    Status = "complete"
	StatusError       Status = "error"
	StatusTimeout     Status = "timeout"
	StatusAborted     Status = "aborted"
	StatusUnknown     Status = "unknown"
	StatusArchived    Status = "archived"
	StatusRemoved     Status = "removed"
)

// Statuses lists every job status in lifecycle order.
var Statuses = []Status{
	StatusStaged,
	StatusQueued,
	StatusQueuedRetry,
	StatusQueuedAbort,
	StatusProcessing,
	StatusComplete,
	StatusError,
	StatusTimeout,
	StatusAborted,
	StatusUnknown,
	StatusArchived,
	StatusRemoved,
}

var retryable = map[Status]bool{
	StatusError:      true,
	StatusTimeout:    true,
	StatusAborted:    true,
	StatusUnknown:    true,
	StatusComplete:   true,
	StatusProcessing: true,
	StatusArchived:   true,
}

// Retryable reports whether JobRetry accepts a job in status s.
func (s Status) Retryable() bool {
	return retryable[s]
}

// Queued reports whether s waits for a worker to pick the job up.
func (s Status) Queued() bool {
	return s == StatusQueued || s == StatusQueuedRetry || s == StatusQueuedAbort
}

func (s Status) String() string { return string(s) }
