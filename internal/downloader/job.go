package downloader

import (
	"context"
	"sync"
	"time"
)

// Status mirrors the upload job lifecycle.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusDone      Status = "done"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed || s == StatusCancelled
}

// Job is one artifact fetch from the relay into the target directory.
type Job struct {
	ID           string
	Name         string
	Size         int64
	MimeType     string
	URL          string
	ThumbnailURL string
	CreatedAt    time.Time

	mu         sync.Mutex
	status     Status
	bytesDone  int64
	bytesTotal int64
	localPath  string
	err        error
	finishedAt time.Time
	cancel     context.CancelFunc
	done       chan struct{}
}

func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// LocalPath returns where the artifact landed, set once DONE.
func (j *Job) LocalPath() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.localPath
}

// Done is closed when the job reaches a terminal state.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

func (j *Job) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-j.done:
		return j.Err()
	}
}

// View is the immutable snapshot published on the bus and kept in history.
type View struct {
	ID         string
	Name       string
	URL        string
	Status     Status
	BytesDone  int64
	BytesTotal int64
	Progress   int
	LocalPath  string
	CreatedAt  time.Time
	Error      string
	FinishedAt time.Time
}

func (j *Job) snapshotLocked() View {
	v := View{
		ID:         j.ID,
		Name:       j.Name,
		URL:        j.URL,
		Status:     j.status,
		BytesDone:  j.bytesDone,
		BytesTotal: j.bytesTotal,
		LocalPath:  j.localPath,
		CreatedAt:  j.CreatedAt,
		FinishedAt: j.finishedAt,
	}
	if j.bytesTotal > 0 {
		v.Progress = int(j.bytesDone * 100 / j.bytesTotal)
	} else if j.status == StatusDone {
		v.Progress = 100
	}
	if v.Progress > 100 {
		v.Progress = 100
	}
	if j.err != nil {
		v.Error = j.err.Error()
	}
	return v
}

// Snapshot captures the job state under its lock.
func (j *Job) Snapshot() View {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.snapshotLocked()
}
