// Package downloader fetches relay artifacts to disk with a bounded pool.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/imroc/req/v3"
	"github.com/shuttersync/shuttersync/internal/events"
	"github.com/shuttersync/shuttersync/internal/relaysdk"
	"github.com/shuttersync/shuttersync/internal/utils"
)

const (
	DefaultConcurrency = 3
	historySize        = 20
	progressInterval   = 100 * time.Millisecond
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

// QueueEvent is the payload on download.queue.
type QueueEvent struct {
	Stats
}

// ProgressEvent is the payload on download.progress.
type ProgressEvent struct {
	JobID      string
	Name       string
	Status     Status
	BytesDone  int64
	BytesTotal int64
	Progress   int
	Error      string
}

// Pool downloads artifacts into targetDir. OnDone, when set, fires after a
// job reaches DONE; the sync poller hangs HWM advancement off it.
type Pool struct {
	ctx       context.Context
	bus       *events.Bus
	http      *req.Client
	targetDir string

	// OnDone is invoked outside any pool lock.
	OnDone func(job *Job)

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

// NewPool creates a pool writing into targetDir. The HTTP client keeps the
// transport's 30s dial timeout as the connect bound and sets no total
// timeout, so long streams survive and cancellation comes from job contexts.
func NewPool(ctx context.Context, bus *events.Bus, targetDir string, concurrency int) *Pool {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	doneHistory, _ := lru.New[string, View](historySize)
	failedHistory, _ := lru.New[string, View](historySize)

	return &Pool{
		ctx:           ctx,
		bus:           bus,
		http:          req.C().SetUserAgent("ShutterSync"),
		targetDir:     targetDir,
		active:        make(map[string]*Job),
		concurrency:   concurrency,
		doneHistory:   doneHistory,
		failedHistory: failedHistory,
	}
}

// Submit enqueues an artifact fetch.
func (p *Pool) Submit(artifact *relaysdk.Artifact) *Job {
	job := &Job{
		ID:           artifact.ID,
		Name:         SanitizeFilename(artifact.Name),
		Size:         artifact.Size,
		MimeType:     artifact.MimeType,
		URL:          artifact.URL,
		ThumbnailURL: artifact.ThumbnailURL,
		CreatedAt:    artifact.CreatedAt,
		status:       StatusPending,
		bytesTotal:   artifact.Size,
		done:         make(chan struct{}),
	}

	p.mu.Lock()
	p.pending = append(p.pending, job)
	p.spawnLocked()
	p.mu.Unlock()

	p.publishQueue()
	return job
}

func (p *Pool) SetConcurrency(n int) {
	if n <= 0 {
		n = DefaultConcurrency
	}
	p.mu.Lock()
	p.concurrency = n
	p.spawnLocked()
	p.mu.Unlock()
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Pending:      len(p.pending),
		Active:       len(p.active),
		Completed:    p.completed,
		Failed:       p.failed,
		Cancelled:    p.cancelled,
		IsProcessing: len(p.pending) > 0 || len(p.active) > 0,
	}
}

// History returns retained DONE and FAILED views, oldest first.
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

// ClearPending cancels queued jobs without touching active ones. Used for
// drain-then-stop.
func (p *Pool) ClearPending() {
	p.mu.Lock()
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()

	for _, job := range pending {
		p.finishJob(job, context.Canceled)
	}
	p.publishQueue()
}

// CancelAll clears pending jobs and delivers cancellation to active ones,
// returning once everything is terminal.
func (p *Pool) CancelAll() {
	p.ClearPending()

	p.mu.Lock()
	var activeJobs []*Job
	for _, job := range p.active {
		activeJobs = append(activeJobs, job)
	}
	p.mu.Unlock()

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

// Drain blocks until the pool is idle or ctx expires.
func (p *Pool) Drain(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if !p.Stats().IsProcessing {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

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
		p.finishJob(job, p.fetch(jobCtx, job))
		cancel()
	}
}

// fetch streams the artifact to disk. On any failure the partial file is
// removed.
func (p *Pool) fetch(ctx context.Context, job *Job) error {
	if err := utils.EnsureDir(p.targetDir); err != nil {
		return fmt.Errorf("download %q: %w", job.Name, err)
	}

	destPath := filepath.Join(p.targetDir, job.Name)

	var lastPublish time.Time
	resp, err := p.http.R().
		DisableAutoReadResponse().
		SetContext(ctx).
		SetOutputFile(destPath).
		SetDownloadCallbackWithInterval(func(info req.DownloadInfo) {
			if info.Response.Response == nil {
				return
			}
			p.reportProgress(job, info.DownloadedSize, info.Response.ContentLength, &lastPublish)
		}, progressInterval).
		Get(job.URL)

	if err != nil {
		os.Remove(destPath)
		return fmt.Errorf("download %q: %w", job.URL, err)
	}

	if resp.IsErrorState() {
		// the error body was dumped into destPath by SetOutputFile
		os.Remove(destPath)
		return fmt.Errorf("download %q: %w", job.URL,
			relaysdk.NewAPIError(relaysdk.CodeSyncFailed, resp.GetStatus(), resp.GetStatusCode()))
	}

	job.mu.Lock()
	job.localPath = destPath
	job.mu.Unlock()
	return nil
}

func (p *Pool) reportProgress(job *Job, done, total int64, lastPublish *time.Time) {
	job.mu.Lock()
	if done > job.bytesDone {
		job.bytesDone = done
	}
	if total > 0 {
		job.bytesTotal = total
	}
	evt := ProgressEvent{
		JobID:      job.ID,
		Name:       job.Name,
		Status:     job.status,
		BytesDone:  job.bytesDone,
		BytesTotal: job.bytesTotal,
	}
	if job.bytesTotal > 0 {
		evt.Progress = int(job.bytesDone * 100 / job.bytesTotal)
	}
	job.mu.Unlock()

	now := time.Now()
	if now.Sub(*lastPublish) < progressInterval {
		return
	}
	*lastPublish = now

	if p.bus != nil {
		p.bus.Publish(events.TopicDownloadProgress, evt)
	}
}

// finishJob settles a job exactly once and runs the OnDone hook.
func (p *Pool) finishJob(job *Job, err error) {
	job.mu.Lock()
	if job.status.Terminal() {
		job.mu.Unlock()
		return
	}

	switch {
	case err == nil:
		job.status = StatusDone
		job.bytesDone = job.bytesTotal
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		job.status = StatusCancelled
		job.err = err
	default:
		job.status = StatusFailed
		job.err = err
	}
	job.finishedAt = time.Now()
	status := job.status
	view := job.snapshotLocked()
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
		slog.Warn("download failed", "name", job.Name, "url", job.URL, "error", view.Error)
	} else {
		slog.Debug("download finished", "name", job.Name, "status", status)
	}

	if p.bus != nil {
		p.bus.Publish(events.TopicDownloadProgress, ProgressEvent{
			JobID:      view.ID,
			Name:       view.Name,
			Status:     view.Status,
			BytesDone:  view.BytesDone,
			BytesTotal: view.BytesTotal,
			Progress:   view.Progress,
			Error:      view.Error,
		})
	}
	p.publishQueue()

	if status == StatusDone && p.OnDone != nil {
		p.OnDone(job)
	}
}

func (p *Pool) publishQueue() {
	if p.bus == nil {
		return
	}
	p.bus.Publish(events.TopicDownloadQueue, QueueEvent{Stats: p.Stats()})
}
