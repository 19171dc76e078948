package uploader

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shuttersync/shuttersync/internal/sink"
)

// Status is the lifecycle state of a transfer job. A job never moves
// backward except by a controlled resubmission through the pool.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusDone      Status = "done"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed || s == StatusCancelled
}

// Job is one file transfer against one sink.
type Job struct {
	ID             string
	SourcePath     string
	Key            string
	Sink           sink.Sink
	Size           int64
	SkipDuplicates bool

	mu          sync.Mutex
	status      Status
	bytesDone   int64
	bytesTotal  int64
	skipped     bool
	remoteRef   string
	err         error
	finishedAt  time.Time
	lastPublish time.Time
	cancel      context.CancelFunc
	done        chan struct{}
}

// NewJob builds a pending job. Size is the source size in bytes.
func NewJob(sourcePath, key string, target sink.Sink, size int64) *Job {
	return &Job{
		ID:         uuid.NewString(),
		SourcePath: sourcePath,
		Key:        key,
		Sink:       target,
		Size:       size,
		status:     StatusPending,
		bytesTotal: size,
		done:       make(chan struct{}),
	}
}

// Status returns the current lifecycle state.
func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Err returns the terminal error, if any.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// Skipped reports whether the job completed by duplicate skip.
func (j *Job) Skipped() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.skipped
}

// RemoteRef returns the provider reference of a DONE job.
func (j *Job) RemoteRef() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.remoteRef
}

// Done is closed when the job reaches a terminal state.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job terminates or ctx is cancelled.
func (j *Job) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-j.done:
		return j.Err()
	}
}

// Progress returns percent complete in [0,100]. A zero-length source
// reports 100 once terminal.
func (j *Job) Progress() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return progressPercent(j.status, j.bytesDone, j.bytesTotal)
}

func progressPercent(status Status, done, total int64) int {
	if total <= 0 {
		if status == StatusDone {
			return 100
		}
		return 0
	}
	pct := int(done * 100 / total)
	if pct > 100 {
		pct = 100
	}
	return pct
}

// View is an immutable snapshot of a job, published on the event bus and
// retained in completion history.
type View struct {
	ID         string
	Key        string
	SourcePath string
	SinkName   string
	Status     Status
	BytesDone  int64
	BytesTotal int64
	Progress   int
	Skipped    bool
	RemoteRef  string
	Error      string
	FinishedAt time.Time
}

// Snapshot captures the job state under its lock.
func (j *Job) Snapshot() View {
	j.mu.Lock()
	defer j.mu.Unlock()
	v := View{
		ID:         j.ID,
		Key:        j.Key,
		SourcePath: j.SourcePath,
		SinkName:   j.Sink.DisplayName(),
		Status:     j.status,
		BytesDone:  j.bytesDone,
		BytesTotal: j.bytesTotal,
		Progress:   progressPercent(j.status, j.bytesDone, j.bytesTotal),
		Skipped:    j.skipped,
		RemoteRef:  j.remoteRef,
		FinishedAt: j.finishedAt,
	}
	if j.err != nil {
		v.Error = j.err.Error()
	}
	return v
}
