// Package syncer polls the relay for new artifacts and feeds the download
// pool, advancing a persistent high-water mark on confirmed success.
package syncer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shuttersync/shuttersync/internal/downloader"
	"github.com/shuttersync/shuttersync/internal/events"
	"github.com/shuttersync/shuttersync/internal/relaysdk"
)

const (
	// DefaultInterval between sync polls.
	DefaultInterval = 30 * time.Second

	// backlogInterval is used while the server reports X-More-Items.
	backlogInterval = 1 * time.Second
)

var ErrAlreadyRunning = errors.New("syncer: already running")

// HWMStore persists the high-water mark across runs.
type HWMStore interface {
	HWM() (time.Time, error)
	SaveHWM(t time.Time) error
}

// HWMEvent is the payload on download.hwm.
type HWMEvent struct {
	HWM time.Time
}

// Stats is a snapshot of poller state.
type Stats struct {
	HWM       time.Time
	LastPoll  time.Time
	Polls     int64
	Submitted int64
	Running   bool
}

// Poller drives the sync loop. The HWM only ever advances through
// confirmed downloads; concurrent advances take the max.
type Poller struct {
	relay    *relaysdk.Client
	pool     *downloader.Pool
	store    HWMStore
	bus      *events.Bus
	interval time.Duration

	mu        sync.Mutex
	hwm       time.Time
	inflight  map[string]struct{}
	lastPoll  time.Time
	polls     int64
	submitted int64
	running   bool
	stop      context.CancelFunc
	stopped   chan struct{}
}

func New(relay *relaysdk.Client, pool *downloader.Pool, store HWMStore, bus *events.Bus, interval time.Duration) (*Poller, error) {
	if interval <= 0 {
		interval = DefaultInterval
	}

	hwm, err := store.HWM()
	if err != nil {
		return nil, err
	}

	p := &Poller{
		relay:    relay,
		pool:     pool,
		store:    store,
		bus:      bus,
		interval: interval,
		hwm:      hwm,
		inflight: make(map[string]struct{}),
	}
	pool.OnDone = p.onDownloadDone
	return p, nil
}

// HWM returns a snapshot of the current mark.
func (p *Poller) HWM() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hwm
}

// SetHWM advances the mark, enforcing monotonicity. A value at or before
// the current mark is a no-op.
func (p *Poller) SetHWM(v time.Time) error {
	p.mu.Lock()
	if !v.After(p.hwm) {
		p.mu.Unlock()
		return nil
	}
	p.hwm = v
	p.mu.Unlock()
	return p.persistAndAnnounce(v)
}

// ResetHWM explicitly allows regression to a past instant, causing every
// artifact after it to be replayed.
func (p *Poller) ResetHWM(v time.Time) error {
	p.mu.Lock()
	p.hwm = v
	p.mu.Unlock()
	return p.persistAndAnnounce(v)
}

func (p *Poller) persistAndAnnounce(v time.Time) error {
	if err := p.store.SaveHWM(v); err != nil {
		return err
	}
	if p.bus != nil {
		p.bus.Publish(events.TopicDownloadHWM, HWMEvent{HWM: v})
	}
	return nil
}

// Stats returns poller counters.
func (p *Poller) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		HWM:       p.hwm,
		LastPoll:  p.lastPoll,
		Polls:     p.polls,
		Submitted: p.submitted,
		Running:   p.running,
	}
}

// Start runs the poll loop until ctx is cancelled or Stop is called.
// A timer rather than a ticker avoids queued ticks when a poll overruns
// the interval.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.running = true
	p.stop = cancel
	p.stopped = make(chan struct{})
	p.mu.Unlock()

	go func() {
		defer close(p.stopped)
		defer func() {
			p.mu.Lock()
			p.running = false
			p.mu.Unlock()
		}()

		slog.Info("sync poller start", "interval", p.interval, "hwm", p.HWM())

		// first poll immediately, then by timer
		next := time.Duration(0)
		timer := time.NewTimer(next)
		defer timer.Stop()

		for {
			select {
			case <-runCtx.Done():
				return
			case <-timer.C:
			}

			again, fatal := p.poll(runCtx)
			if fatal {
				return
			}
			if again {
				timer.Reset(backlogInterval)
			} else {
				timer.Reset(p.interval)
			}
		}
	}()

	return nil
}

// Stop clears pending downloads, lets active ones drain, then halts the
// loop (drain-then-stop).
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel := p.stop
	stopped := p.stopped
	p.mu.Unlock()

	if cancel == nil {
		return
	}

	p.pool.ClearPending()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), time.Minute)
	defer drainCancel()
	if err := p.pool.Drain(drainCtx); err != nil {
		slog.Warn("sync poller stop: drain timed out, cancelling active downloads")
		p.pool.CancelAll()
	}

	cancel()
	<-stopped
	slog.Info("sync poller stop", "hwm", p.HWM())
}

// poll fetches one sync page. again requests a fast re-poll to drain a
// backlog; fatal stops the loop (auth failure).
func (p *Poller) poll(ctx context.Context) (again bool, fatal bool) {
	p.mu.Lock()
	since := p.hwm
	p.lastPoll = time.Now()
	p.polls++
	p.mu.Unlock()

	page, err := p.relay.Sync(ctx, since)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return false, false
		}
		if relaysdk.IsAuthError(err) {
			slog.Error("sync poll: auth failure, stopping", "error", err)
			if p.bus != nil {
				p.bus.Publish(events.TopicAuthInvalid, err.Error())
			}
			return false, true
		}

		var apiErr *relaysdk.APIError
		if errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500 {
			// non-retryable client error: surface and keep polling
			slog.Warn("sync poll rejected", "status", apiErr.Status, "error", err)
			if p.bus != nil {
				p.bus.Publish(events.TopicSyncError, err.Error())
			}
			return false, false
		}

		// soft network error: HWM unchanged, retry next tick
		slog.Warn("sync poll failed", "error", err)
		return false, false
	}

	for _, artifact := range page.Artifacts {
		p.submit(artifact)
	}

	return page.MoreItems > 0, false
}

// submit hands an artifact to the download pool unless a fetch for it is
// already in flight.
func (p *Poller) submit(artifact *relaysdk.Artifact) {
	p.mu.Lock()
	if _, dup := p.inflight[artifact.ID]; dup {
		p.mu.Unlock()
		return
	}
	p.inflight[artifact.ID] = struct{}{}
	p.submitted++
	p.mu.Unlock()

	job := p.pool.Submit(artifact)
	go func() {
		<-job.Done()
		// DONE jobs are released by onDownloadDone once the HWM covers
		// them, otherwise a poll racing the advance could refetch.
		if job.Status() == downloader.StatusDone {
			return
		}
		p.mu.Lock()
		delete(p.inflight, artifact.ID)
		p.mu.Unlock()
	}()
}

// onDownloadDone advances the HWM for a confirmed download. Failures never
// move the mark.
func (p *Poller) onDownloadDone(job *downloader.Job) {
	if !job.CreatedAt.IsZero() {
		if err := p.SetHWM(job.CreatedAt); err != nil {
			slog.Error("sync poller: persist hwm", "error", err)
		}
	}
	p.mu.Lock()
	delete(p.inflight, job.ID)
	p.mu.Unlock()
}
