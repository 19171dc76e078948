package importer

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shuttersync/shuttersync/internal/policy"
	"github.com/shuttersync/shuttersync/internal/sink"
)

// FileEntry is one file discovered under the source root.
type FileEntry struct {
	Path     string
	Name     string
	Size     int64
	MimeType string
	ModTime  time.Time
}

// Target pairs a built sink with its destination record.
type Target struct {
	Destination sink.Destination
	Sink        sink.Sink
}

// ImportJob describes one import run. It is immutable once started.
type ImportJob struct {
	SourceRoot     string
	Recurse        bool
	Excludes       []string // doublestar patterns matched against relative paths
	Policy         policy.Policy
	Targets        []Target // enabled destinations only
	SkipDuplicates bool
}

// Status of a run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusPartial   Status = "partial" // some destinations failed
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Progress is the counter set published on import.progress.
type Progress struct {
	RunID              string
	Total              int
	Completed          int
	Failed             int
	CurrentFile        string
	CurrentDestination string
	Status             Status
}

// Run is the handle for an in-flight import.
type Run struct {
	ID  string
	Job ImportJob

	mu         sync.Mutex
	status     Status
	total      int
	completed  int
	failed     int
	curFile    string
	curDest    string
	cancelled  bool
	startedAt  time.Time
	finishedAt time.Time

	cancel func()
	done   chan struct{}
}

func newRun(job ImportJob, cancel func()) *Run {
	return &Run{
		ID:        uuid.NewString(),
		Job:       job,
		status:    StatusRunning,
		startedAt: time.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// Cancel requests cooperative cancellation. Enumeration stops, pending jobs
// are withdrawn and active ones asked to abort.
func (r *Run) Cancel() {
	r.mu.Lock()
	r.cancelled = true
	r.mu.Unlock()
	r.cancel()
}

// Done closes when the run has settled and the pool drained its jobs.
func (r *Run) Done() <-chan struct{} { return r.done }

// Status returns the run state.
func (r *Run) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Progress returns a counter snapshot.
func (r *Run) Progress() Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.progressLocked()
}

func (r *Run) progressLocked() Progress {
	return Progress{
		RunID:              r.ID,
		Total:              r.total,
		Completed:          r.completed,
		Failed:             r.failed,
		CurrentFile:        r.curFile,
		CurrentDestination: r.curDest,
		Status:             r.status,
	}
}
