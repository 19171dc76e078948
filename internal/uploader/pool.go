// Package uploader runs upload jobs against sinks with bounded concurrency.
package uploader

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/shuttersync/shuttersync/internal/events"
	"github.com/shuttersync/shuttersync/internal/sink"
)

const (
	// DefaultConcurrency bounds simultaneously active jobs.
	DefaultConcurrency = 3

	// historySize bounds retained terminal jobs per category.
	historySize = 20

	// progressInterval throttles per-job progress events to 10/s.
	progressInterval = 100 * time.Millisecond
)

// Stats is a point-in-time view of the pool.
type Stats struct {
	Pending      int
	Active       int
	Completed    int
	Failed       int
	Cancelled    int
	IsProcessing bool
}

// QueueEvent is the payload on upload.queue.
type QueueEvent struct {
	Stats
}

// ProgressEvent is the payload on upload.progress.
type ProgressEvent struct {
	JobID      string
	Key        string
	SinkName   string
	Status     Status
	BytesDone  int64
	BytesTotal int64
	Progress   int
	Skipped    bool
	Error      string
}

// Pool executes upload jobs FIFO with at most N concurrently active.
type Pool struct {
	ctx         context.Context
	bus         *events.Bus
	maxFileSize int64

	mu          sync.Mutex
	pending     []*Job
	active      map[string]*Job
	concurrency int
	running     int
	completed   int
	failed      int
	cancelled   int

	doneHistory   *lru.Cache[string, View]
	failedHistory *lru.Cache[string, View]
}

// NewPool creates a pool bound to ctx. maxFileSize of 0 disables the
// submit-time size check.
func NewPool(ctx context.Context, bus *events.Bus, concurrency int, maxFileSize int64) *Pool {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	doneHistory, _ := lru.New[string, View](historySize)
	failedHistory, _ := lru.New[string, View](historySize)

	return &Pool{
		ctx:           ctx,
		bus:           bus,
		maxFileSize:   maxFileSize,
		active:        make(map[string]*Job),
		concurrency:   concurrency,
		doneHistory:   doneHistory,
		failedHistory: failedHistory,
	}
}

// Submit enqueues a pending job. Oversize files are rejected here, before
// any worker touches them.
func (p *Pool) Submit(job *Job) error {
	if p.maxFileSize > 0 && job.Size > p.maxFileSize {
		return fmt.Errorf("uploader: %s exceeds max file size (%d > %d bytes)",
			job.Key, job.Size, p.maxFileSize)
	}

	p.mu.Lock()
	p.pending = append(p.pending, job)
	p.spawnLocked()
	p.mu.Unlock()

	p.publishQueue()
	return nil
}

// Resubmit clones a terminal job into a fresh pending one. This is the only
// sanctioned way a job's work re-enters the queue.
func (p *Pool) Resubmit(job *Job) (*Job, error) {
	if !job.Status().Terminal() {
		return nil, fmt.Errorf("uploader: job %s is not terminal", job.ID)
	}
	clone := NewJob(job.SourcePath, job.Key, job.Sink, job.Size)
	clone.SkipDuplicates = job.SkipDuplicates
	if err := p.Submit(clone); err != nil {
		return nil, err
	}
	return clone, nil
}

// SetConcurrency adjusts the worker bound. Shrinking takes effect as
// workers finish their current job.
func (p *Pool) SetConcurrency(n int) {
	if n <= 0 {
		n = DefaultConcurrency
	}
	p.mu.Lock()
	p.concurrency = n
	p.spawnLocked()
	p.mu.Unlock()
}

// Stats returns a snapshot of queue counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statsLocked()
}

func (p *Pool) statsLocked() Stats {
	return Stats{
		Pending:      len(p.pending),
		Active:       len(p.active),
		Completed:    p.completed,
		Failed:       p.failed,
		Cancelled:    p.cancelled,
		IsProcessing: len(p.pending) > 0 || len(p.active) > 0,
	}
}

// History returns the retained DONE and FAILED views, most recent last.
func (p *Pool) History() (done []View, failed []View) {
	for _, k := range p.doneHistory.Keys() {
		if v, ok := p.doneHistory.Get(k); ok {
			done = append(done, v)
		}
	}
	for _, k := range p.failedHistory.Keys() {
		if v, ok := p.failedHistory.Get(k); ok {
			failed = append(failed, v)
		}
	}
	return done, failed
}

// Cancel removes one job from the queue, or delivers cancellation if it is
// already active. It does not wait for an active job to settle.
func (p *Pool) Cancel(jobID string) {
	p.mu.Lock()
	var target *Job
	for i, job := range p.pending {
		if job.ID == jobID {
			p.pending = append(p.pending[:i], p.pending[i+1:]...)
			target = job
			break
		}
	}
	if target != nil {
		p.mu.Unlock()
		p.finishJob(target, "", context.Canceled)
		return
	}
	active := p.active[jobID]
	p.mu.Unlock()

	if active != nil {
		active.mu.Lock()
		cancel := active.cancel
		active.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	}
}

// CancelAll clears pending jobs and delivers cancellation to active ones.
// It returns once every job has reached a terminal state.
func (p *Pool) CancelAll() {
	p.mu.Lock()
	pending := p.pending
	p.pending = nil
	var activeJobs []*Job
	for _, job := range p.active {
		activeJobs = append(activeJobs, job)
	}
	p.mu.Unlock()

	for _, job := range pending {
		p.finishJob(job, "", context.Canceled)
	}
	for _, job := range activeJobs {
		job.mu.Lock()
		cancel := job.cancel
		job.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	}
	for _, job := range activeJobs {
		<-job.Done()
	}

	p.publishQueue()
}

// spawnLocked starts workers while capacity and work both exist. A spawned
// worker that finds the queue already drained exits immediately.
func (p *Pool) spawnLocked() {
	n := len(p.pending)
	for i := 0; i < n && p.running < p.concurrency; i++ {
		p.running++
		go p.worker()
	}
}

func (p *Pool) worker() {
	for {
		p.mu.Lock()
		if len(p.pending) == 0 || p.running > p.concurrency {
			p.running--
			p.mu.Unlock()
			return
		}
		job := p.pending[0]
		p.pending = p.pending[1:]

		jobCtx, cancel := context.WithCancel(p.ctx)
		job.mu.Lock()
		job.status = StatusActive
		job.cancel = cancel
		job.mu.Unlock()
		p.active[job.ID] = job
		p.mu.Unlock()

		p.publishQueue()
		p.run(jobCtx, job)
		cancel()
	}
}

// run executes one job through its sink.
func (p *Pool) run(ctx context.Context, job *Job) {
	// duplicate short-circuit applies to filesystem sinks only
	if job.SkipDuplicates {
		if checker, ok := job.Sink.(sink.DuplicateChecker); ok && checker.Exists(job.Key) {
			job.mu.Lock()
			job.skipped = true
			job.mu.Unlock()
			p.finishJob(job, checker.LocalPath(job.Key), nil)
			return
		}
	}

	remoteRef, err := job.Sink.Put(ctx, job.SourcePath, job.Key, func(done, total int64) {
		p.reportProgress(job, done, total)
	})
	p.finishJob(job, remoteRef, err)
}

// reportProgress records byte counters and publishes at a throttled rate.
// bytesDone never regresses.
func (p *Pool) reportProgress(job *Job, done, total int64) {
	job.mu.Lock()
	if done > job.bytesDone {
		job.bytesDone = done
	}
	if total > 0 {
		job.bytesTotal = total
	}
	now := time.Now()
	publish := now.Sub(job.lastPublish) >= progressInterval
	if publish {
		job.lastPublish = now
	}
	evt := ProgressEvent{
		JobID:      job.ID,
		Key:        job.Key,
		SinkName:   job.Sink.DisplayName(),
		Status:     job.status,
		BytesDone:  job.bytesDone,
		BytesTotal: job.bytesTotal,
		Progress:   progressPercent(job.status, job.bytesDone, job.bytesTotal),
	}
	job.mu.Unlock()

	if publish && p.bus != nil {
		p.bus.Publish(events.TopicUploadProgress, evt)
	}
}

// finishJob moves a job to its terminal state and publishes it exactly once.
func (p *Pool) finishJob(job *Job, remoteRef string, err error) {
	job.mu.Lock()
	if job.status.Terminal() {
		job.mu.Unlock()
		return
	}

	switch {
	case err == nil:
		job.status = StatusDone
		job.remoteRef = remoteRef
		if !job.skipped {
			job.bytesDone = job.bytesTotal
		}
	case sink.IsCancelled(err):
		job.status = StatusCancelled
		job.err = err
	default:
		job.status = StatusFailed
		job.err = err
	}
	job.finishedAt = time.Now()
	status := job.status
	view := View{
		ID:         job.ID,
		Key:        job.Key,
		SourcePath: job.SourcePath,
		SinkName:   job.Sink.DisplayName(),
		Status:     job.status,
		BytesDone:  job.bytesDone,
		BytesTotal: job.bytesTotal,
		Progress:   progressPercent(job.status, job.bytesDone, job.bytesTotal),
		Skipped:    job.skipped,
		RemoteRef:  job.remoteRef,
		FinishedAt: job.finishedAt,
	}
	if job.err != nil {
		view.Error = job.err.Error()
	}
	job.mu.Unlock()

	p.mu.Lock()
	delete(p.active, job.ID)
	switch status {
	case StatusDone:
		p.completed++
		p.doneHistory.Add(job.ID, view)
	case StatusFailed:
		p.failed++
		p.failedHistory.Add(job.ID, view)
	case StatusCancelled:
		p.cancelled++
	}
	p.mu.Unlock()

	close(job.done)

	if status == StatusFailed {
		slog.Warn("upload failed", "key", job.Key, "sink", view.SinkName, "error", view.Error)
	} else {
		slog.Debug("upload finished", "key", job.Key, "sink", view.SinkName, "status", status, "skipped", view.Skipped)
	}

	if p.bus != nil {
		p.bus.Publish(events.TopicUploadProgress, ProgressEvent{
			JobID:      view.ID,
			Key:        view.Key,
			SinkName:   view.SinkName,
			Status:     view.Status,
			BytesDone:  view.BytesDone,
			BytesTotal: view.BytesTotal,
			Progress:   view.Progress,
			Skipped:    view.Skipped,
			Error:      view.Error,
		})
	}
	p.publishQueue()
}

func (p *Pool) publishQueue() {
	if p.bus == nil {
		return
	}
	p.bus.Publish(events.TopicUploadQueue, QueueEvent{Stats: p.Stats()})
}
