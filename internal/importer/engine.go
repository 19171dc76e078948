// Package importer walks a source tree and fans each file out to the
// enabled destinations in priority order, feeding the upload pool.
package importer

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"

	"github.com/shuttersync/shuttersync/internal/events"
	"github.com/shuttersync/shuttersync/internal/queue"
	"github.com/shuttersync/shuttersync/internal/sink"
	"github.com/shuttersync/shuttersync/internal/uploader"
	"github.com/shuttersync/shuttersync/internal/utils"
)

// fileParallelism bounds how many files are orchestrated at once. The
// upload pool bounds actual transfers; this only caps queue pressure.
const fileParallelism = uploader.DefaultConcurrency

// Engine starts import runs against a shared upload pool.
type Engine struct {
	pool *uploader.Pool
	bus  *events.Bus
}

func New(pool *uploader.Pool, bus *events.Bus) *Engine {
	return &Engine{pool: pool, bus: bus}
}

// Start validates the job and launches it. The returned Run settles once
// every submitted upload has reached a terminal state.
func (e *Engine) Start(ctx context.Context, job ImportJob) (*Run, error) {
	root, err := utils.ResolvePath(job.SourceRoot)
	if err != nil {
		return nil, fmt.Errorf("importer: resolve source root: %w", err)
	}
	if !utils.DirExists(root) {
		return nil, fmt.Errorf("importer: source root %q is not a directory", root)
	}
	job.SourceRoot = root

	if err := job.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("importer: %w", err)
	}
	if len(job.Targets) == 0 {
		return nil, fmt.Errorf("importer: no destinations enabled")
	}
	for _, pat := range job.Excludes {
		if !doublestar.ValidatePattern(pat) {
			return nil, fmt.Errorf("importer: invalid exclude pattern %q", pat)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	run := newRun(job, cancel)

	go e.execute(runCtx, run)
	return run, nil
}

func (e *Engine) execute(ctx context.Context, run *Run) {
	defer close(run.done)
	defer run.cancel()

	entries, err := e.enumerate(ctx, run.Job)
	if err != nil {
		run.mu.Lock()
		run.status = StatusFailed
		run.finishedAt = time.Now()
		run.mu.Unlock()
		slog.Error("import enumerate failed", "run", run.ID, "error", err)
		e.publish(events.TopicImportError, run.Progress())
		return
	}

	run.mu.Lock()
	run.total = len(entries)
	run.mu.Unlock()
	e.publish(events.TopicImportProgress, run.Progress())
	slog.Info("import start", "run", run.ID, "files", len(entries), "destinations", len(run.Job.Targets))

	g := &errgroup.Group{}
	g.SetLimit(fileParallelism)
	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		entry := entry
		g.Go(func() error {
			e.processFile(ctx, run, entry)
			return nil
		})
	}
	g.Wait()

	run.mu.Lock()
	switch {
	case run.cancelled:
		run.status = StatusCancelled
	case run.failed > 0 && run.completed > 0:
		run.status = StatusPartial
	case run.failed > 0:
		run.status = StatusFailed
	default:
		run.status = StatusCompleted
	}
	run.finishedAt = time.Now()
	status := run.status
	progress := run.progressLocked()
	run.mu.Unlock()

	slog.Info("import finished", "run", run.ID, "status", status,
		"completed", progress.Completed, "failed", progress.Failed)

	switch status {
	case StatusCancelled:
		e.publish(events.TopicImportCancelled, progress)
	case StatusFailed:
		e.publish(events.TopicImportError, progress)
	default:
		e.publish(events.TopicImportCompleted, progress)
	}
}

// enumerate lists importable files under the source root. Hidden and
// system entries are skipped, as is anything matching an exclude pattern.
func (e *Engine) enumerate(ctx context.Context, job ImportJob) ([]FileEntry, error) {
	var entries []FileEntry

	appendEntry := func(path string, info fs.FileInfo) {
		entries = append(entries, FileEntry{
			Path:     path,
			Name:     info.Name(),
			Size:     info.Size(),
			MimeType: utils.DetectContentType(info.Name()),
			ModTime:  info.ModTime(),
		})
	}

	excluded := func(rel string) bool {
		rel = filepath.ToSlash(rel)
		for _, pat := range job.Excludes {
			if ok, _ := doublestar.Match(pat, rel); ok {
				return true
			}
		}
		return false
	}

	if !job.Recurse {
		dirEntries, err := os.ReadDir(job.SourceRoot)
		if err != nil {
			return nil, err
		}
		for _, de := range dirEntries {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if de.IsDir() || utils.IsHiddenEntry(de.Name()) || excluded(de.Name()) {
				continue
			}
			info, err := de.Info()
			if err != nil {
				return nil, err
			}
			appendEntry(filepath.Join(job.SourceRoot, de.Name()), info)
		}
		return entries, nil
	}

	err := filepath.WalkDir(job.SourceRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		rel, relErr := filepath.Rel(job.SourceRoot, path)
		if relErr != nil {
			return relErr
		}
		if d.IsDir() {
			if path != job.SourceRoot && (utils.IsHiddenEntry(d.Name()) || excluded(rel)) {
				return fs.SkipDir
			}
			return nil
		}
		if utils.IsHiddenEntry(d.Name()) || excluded(rel) {
			return nil
		}
		info, infoErr := d.Info()
		if infoErr != nil {
			return infoErr
		}
		appendEntry(path, info)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// processFile submits one file's jobs in destination priority order and
// waits for all of them to settle. Relay jobs are held back until the
// local copy is confirmed so they can re-read it.
func (e *Engine) processFile(ctx context.Context, run *Run, entry FileEntry) {
	key := run.Job.Policy.Key(entry.Name, entry.ModTime)

	ordered := queue.NewPriorityQueue[Target]()
	for _, t := range run.Job.Targets {
		ordered.Enqueue(t, t.Sink.Priority())
	}

	var (
		jobs     []*uploader.Job
		localJob *uploader.Job
		local    Target
		relays   []Target
	)

	submit := func(t Target, sourcePath string, size int64) *uploader.Job {
		uj := uploader.NewJob(sourcePath, key, t.Sink, size)
		uj.SkipDuplicates = run.Job.SkipDuplicates

		run.mu.Lock()
		run.curFile = entry.Name
		run.curDest = t.Sink.DisplayName()
		progress := run.progressLocked()
		run.mu.Unlock()
		e.publish(events.TopicImportProgress, progress)

		if err := e.pool.Submit(uj); err != nil {
			// submit-time rejection (oversize) counts as a failed transfer
			slog.Warn("import submit rejected", "file", entry.Name, "sink", t.Sink.DisplayName(), "error", err)
			e.log("warn", fmt.Sprintf("%s → %s rejected: %v", entry.Name, t.Sink.DisplayName(), err))
			return nil
		}
		jobs = append(jobs, uj)
		return uj
	}

	rejected := 0
	for {
		t, ok := ordered.Dequeue()
		if !ok {
			break
		}
		if t.Destination.Type == sink.TypeRelay {
			relays = append(relays, t)
			continue
		}
		uj := submit(t, entry.Path, entry.Size)
		if uj == nil {
			rejected++
			continue
		}
		if t.Destination.Type == sink.TypeLocal {
			localJob, local = uj, t
		}
	}

	// relay reads the local copy once the local transfer is confirmed
	if len(relays) > 0 && ctx.Err() == nil {
		relaySource, relaySize := entry.Path, entry.Size
		skipRelay := false
		if localJob != nil {
			e.awaitJob(ctx, localJob)
			switch localJob.Status() {
			case uploader.StatusDone:
				if checker, ok := local.Sink.(sink.DuplicateChecker); ok {
					relaySource = checker.LocalPath(key)
				}
			case uploader.StatusCancelled:
				skipRelay = true
			}
		}
		if !skipRelay {
			for _, t := range relays {
				if submit(t, relaySource, relaySize) == nil {
					rejected++
				}
			}
		}
	}

	for _, uj := range jobs {
		e.awaitJob(ctx, uj)
	}

	failed := rejected
	cancelled := 0
	for _, uj := range jobs {
		switch uj.Status() {
		case uploader.StatusFailed:
			failed++
		case uploader.StatusCancelled:
			cancelled++
		case uploader.StatusDone:
			if uj.Skipped() {
				e.log("info", fmt.Sprintf("%s → %s skipped (already present)", entry.Name, uj.Sink.DisplayName()))
			}
		}
	}

	run.mu.Lock()
	switch {
	case failed > 0:
		run.failed++
	case cancelled > 0:
		// neither counter moves for a cancelled file
	default:
		run.completed++
	}
	progress := run.progressLocked()
	run.mu.Unlock()
	e.publish(events.TopicImportProgress, progress)
}

// awaitJob blocks until the job settles. When the run is cancelled it
// withdraws the job from the pool first, then still waits for the
// terminal state.
func (e *Engine) awaitJob(ctx context.Context, uj *uploader.Job) {
	select {
	case <-uj.Done():
		return
	case <-ctx.Done():
		e.pool.Cancel(uj.ID)
		<-uj.Done()
	}
}

func (e *Engine) publish(topic events.Topic, data any) {
	if e.bus != nil {
		e.bus.Publish(topic, data)
	}
}

func (e *Engine) log(level, msg string) {
	if e.bus != nil {
		e.bus.Publish(events.TopicImportLog, events.LogEvent{Level: level, Message: msg})
	}
}
