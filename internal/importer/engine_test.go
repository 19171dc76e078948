package importer

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shuttersync/shuttersync/internal/events"
	"github.com/shuttersync/shuttersync/internal/policy"
	"github.com/shuttersync/shuttersync/internal/sink"
	"github.com/shuttersync/shuttersync/internal/uploader"
	"github.com/shuttersync/shuttersync/internal/utils"
)

func writeSource(t *testing.T, dir, name, content string, modTime time.Time) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	require.NoError(t, os.Chtimes(path, modTime, modTime))
	return path
}

func localTarget(t *testing.T, root string) Target {
	t.Helper()
	dst := sink.Destination{Type: sink.TypeLocal, Enabled: true, Root: root}
	s, err := sink.Build(dst, sink.Deps{})
	require.NoError(t, err)
	return Target{Destination: dst, Sink: s}
}

func backupTarget(t *testing.T, root string) Target {
	t.Helper()
	dst := sink.Destination{Type: sink.TypeBackup, Enabled: true, Root: root}
	s, err := sink.Build(dst, sink.Deps{})
	require.NoError(t, err)
	return Target{Destination: dst, Sink: s}
}

// recordingRelaySink captures what a relay upload would have read, hashing
// the source at Put time so ordering against the local copy is observable.
type recordingRelaySink struct {
	mu      sync.Mutex
	sources map[string]string // key -> source path
	hashes  map[string]string // key -> sha256 of source at Put time
	started map[string]time.Time
	block   chan struct{} // when set, Put waits on it
}

func newRecordingRelaySink() *recordingRelaySink {
	return &recordingRelaySink{
		sources: map[string]string{},
		hashes:  map[string]string{},
		started: map[string]time.Time{},
	}
}

func (s *recordingRelaySink) DisplayName() string                      { return "Relay" }
func (s *recordingRelaySink) Priority() int                            { return sink.PriorityRelay }
func (s *recordingRelaySink) TestConnection(ctx context.Context) error { return nil }

func (s *recordingRelaySink) Put(ctx context.Context, localPath, key string, progress sink.ProgressFunc) (string, error) {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	hash, err := utils.FileHash(localPath)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.sources[key] = localPath
	s.hashes[key] = hash
	s.started[key] = time.Now()
	s.mu.Unlock()
	return "relay://" + key, nil
}

func relayTarget(s sink.Sink) Target {
	return Target{Destination: sink.Destination{Type: sink.TypeRelay, Enabled: true}, Sink: s}
}

func startRun(t *testing.T, job ImportJob) *Run {
	t.Helper()
	pool := uploader.NewPool(context.Background(), nil, 3, 0)
	engine := New(pool, nil)
	run, err := engine.Start(context.Background(), job)
	require.NoError(t, err)
	return run
}

func waitRun(t *testing.T, run *Run) {
	t.Helper()
	select {
	case <-run.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("import run did not settle")
	}
}

func TestImport_LocalOnlyByDate(t *testing.T) {
	src := t.TempDir()
	mod := time.Date(2025, 3, 4, 14, 30, 0, 0, time.Local)
	writeSource(t, src, "a.jpg", "jpeg bytes", mod)
	writeSource(t, src, "b.cr2", "raw bytes", mod)

	root := t.TempDir()
	run := startRun(t, ImportJob{
		SourceRoot: src,
		Policy:     policy.ByDate(policy.PatternYearMonthDay),
		Targets:    []Target{localTarget(t, root)},
	})
	waitRun(t, run)

	assert.Equal(t, StatusCompleted, run.Status())
	progress := run.Progress()
	assert.Equal(t, 2, progress.Total)
	assert.Equal(t, 2, progress.Completed)
	assert.Zero(t, progress.Failed)

	for name, content := range map[string]string{"a.jpg": "jpeg bytes", "b.cr2": "raw bytes"} {
		path := filepath.Join(root, "2025", "03", "04", name)
		data, err := os.ReadFile(path)
		require.NoError(t, err, "expected %s", path)
		assert.Equal(t, content, string(data))
	}
}

func TestImport_SkipDuplicatesIsIdempotent(t *testing.T) {
	src := t.TempDir()
	mod := time.Date(2025, 3, 4, 14, 30, 0, 0, time.Local)
	writeSource(t, src, "a.jpg", "jpeg bytes", mod)

	root := t.TempDir()
	job := ImportJob{
		SourceRoot:     src,
		Policy:         policy.ByDate(policy.PatternYearMonthDay),
		Targets:        []Target{localTarget(t, root)},
		SkipDuplicates: true,
	}

	run := startRun(t, job)
	waitRun(t, run)
	require.Equal(t, StatusCompleted, run.Status())

	dest := filepath.Join(root, "2025", "03", "04", "a.jpg")
	firstStat, err := os.Stat(dest)
	require.NoError(t, err)

	// rerun over the same source: no bytes move
	rerun := startRun(t, job)
	waitRun(t, rerun)
	assert.Equal(t, StatusCompleted, rerun.Status())
	assert.Equal(t, 1, rerun.Progress().Completed)

	secondStat, err := os.Stat(dest)
	require.NoError(t, err)
	assert.Equal(t, firstStat.ModTime(), secondStat.ModTime(), "destination must be untouched")
}

func TestImport_RelayReadsLocalCopy(t *testing.T) {
	src := t.TempDir()
	mod := time.Date(2025, 3, 4, 14, 30, 0, 0, time.Local)
	srcPath := writeSource(t, src, "a.jpg", "jpeg bytes", mod)

	root := t.TempDir()
	relay := newRecordingRelaySink()
	run := startRun(t, ImportJob{
		SourceRoot: src,
		Policy:     policy.ByDate(policy.PatternYearMonthDay),
		Targets:    []Target{localTarget(t, root), relayTarget(relay)},
	})
	waitRun(t, run)
	require.Equal(t, StatusCompleted, run.Status())

	key := "2025/03/04/a.jpg"
	localCopy := filepath.Join(root, "2025", "03", "04", "a.jpg")
	assert.Equal(t, localCopy, relay.sources[key], "relay must read the local copy")

	srcHash, err := utils.FileHash(srcPath)
	require.NoError(t, err)
	assert.Equal(t, srcHash, relay.hashes[key], "relay bytes must match the source")
}

func TestImport_RelayReadsSourceWhenLocalDisabled(t *testing.T) {
	src := t.TempDir()
	srcPath := writeSource(t, src, "a.jpg", "jpeg bytes", time.Now())

	relay := newRecordingRelaySink()
	run := startRun(t, ImportJob{
		SourceRoot: src,
		Policy:     policy.None(),
		Targets:    []Target{relayTarget(relay)},
	})
	waitRun(t, run)

	require.Equal(t, StatusCompleted, run.Status())
	assert.Equal(t, srcPath, relay.sources["a.jpg"])
}

func TestImport_FailedDestinationDoesNotCancelSiblings(t *testing.T) {
	src := t.TempDir()
	writeSource(t, src, "a.jpg", "jpeg bytes", time.Now())

	localRoot := t.TempDir()
	// backup root points at a file, so every backup write fails
	badRoot := filepath.Join(t.TempDir(), "occupied")
	require.NoError(t, os.WriteFile(badRoot, []byte("x"), 0o644))

	run := startRun(t, ImportJob{
		SourceRoot: src,
		Policy:     policy.None(),
		Targets:    []Target{localTarget(t, localRoot), backupTarget(t, badRoot)},
	})
	waitRun(t, run)

	assert.Equal(t, StatusFailed, run.Status())
	progress := run.Progress()
	assert.Equal(t, 1, progress.Failed)

	// the local copy still landed
	assert.FileExists(t, filepath.Join(localRoot, "a.jpg"))
}

func TestImport_EnumerateSkipsHiddenAndExcluded(t *testing.T) {
	src := t.TempDir()
	now := time.Now()
	writeSource(t, src, "keep.jpg", "x", now)
	writeSource(t, src, ".hidden.jpg", "x", now)
	writeSource(t, src, "Thumbs.db", "x", now)
	writeSource(t, src, "skipme.tmp", "x", now)
	writeSource(t, src, filepath.Join("nested", "deep.jpg"), "x", now)

	root := t.TempDir()
	run := startRun(t, ImportJob{
		SourceRoot: src,
		Recurse:    true,
		Excludes:   []string{"*.tmp"},
		Policy:     policy.None(),
		Targets:    []Target{localTarget(t, root)},
	})
	waitRun(t, run)

	require.Equal(t, StatusCompleted, run.Status())
	assert.Equal(t, 2, run.Progress().Total)
	assert.FileExists(t, filepath.Join(root, "keep.jpg"))
	assert.FileExists(t, filepath.Join(root, "deep.jpg"))
	assert.NoFileExists(t, filepath.Join(root, ".hidden.jpg"))
	assert.NoFileExists(t, filepath.Join(root, "Thumbs.db"))
	assert.NoFileExists(t, filepath.Join(root, "skipme.tmp"))
}

func TestImport_NoRecurseReadsTopLevelOnly(t *testing.T) {
	src := t.TempDir()
	now := time.Now()
	writeSource(t, src, "top.jpg", "x", now)
	writeSource(t, src, filepath.Join("nested", "deep.jpg"), "x", now)

	root := t.TempDir()
	run := startRun(t, ImportJob{
		SourceRoot: src,
		Policy:     policy.None(),
		Targets:    []Target{localTarget(t, root)},
	})
	waitRun(t, run)

	assert.Equal(t, 1, run.Progress().Total)
	assert.FileExists(t, filepath.Join(root, "top.jpg"))
	assert.NoFileExists(t, filepath.Join(root, "deep.jpg"))
}

func TestImport_CancelStopsPendingWork(t *testing.T) {
	src := t.TempDir()
	now := time.Now()
	for _, name := range []string{"a.jpg", "b.jpg", "c.jpg", "d.jpg"} {
		writeSource(t, src, name, "bytes", now)
	}

	relay := newRecordingRelaySink()
	relay.block = make(chan struct{})
	defer close(relay.block)

	pool := uploader.NewPool(context.Background(), nil, 1, 0)
	engine := New(pool, nil)
	run, err := engine.Start(context.Background(), ImportJob{
		SourceRoot: src,
		Policy:     policy.None(),
		Targets:    []Target{relayTarget(relay)},
	})
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	run.Cancel()
	waitRun(t, run)

	assert.Equal(t, StatusCancelled, run.Status())
	progress := run.Progress()
	assert.Zero(t, progress.Completed)
}

func TestImport_ValidatesJobUpFront(t *testing.T) {
	pool := uploader.NewPool(context.Background(), nil, 1, 0)
	engine := New(pool, nil)

	_, err := engine.Start(context.Background(), ImportJob{
		SourceRoot: "/does/not/exist",
		Policy:     policy.None(),
		Targets:    []Target{relayTarget(newRecordingRelaySink())},
	})
	assert.Error(t, err)

	src := t.TempDir()
	_, err = engine.Start(context.Background(), ImportJob{
		SourceRoot: src,
		Policy:     policy.None(),
	})
	assert.Error(t, err, "no destinations")

	_, err = engine.Start(context.Background(), ImportJob{
		SourceRoot: src,
		Policy:     policy.Custom("   "),
		Targets:    []Target{relayTarget(newRecordingRelaySink())},
	})
	assert.Error(t, err, "blank custom folder")
}

func TestImport_PublishesLifecycleEvents(t *testing.T) {
	src := t.TempDir()
	writeSource(t, src, "a.jpg", "bytes", time.Now())

	bus := events.NewBus()
	done, unsub := bus.Subscribe(8, events.TopicImportCompleted)
	defer unsub()

	pool := uploader.NewPool(context.Background(), bus, 1, 0)
	engine := New(pool, bus)
	run, err := engine.Start(context.Background(), ImportJob{
		SourceRoot: src,
		Policy:     policy.None(),
		Targets:    []Target{localTarget(t, t.TempDir())},
	})
	require.NoError(t, err)
	waitRun(t, run)

	select {
	case evt := <-done:
		progress := evt.Data.(Progress)
		assert.Equal(t, run.ID, progress.RunID)
		assert.Equal(t, 1, progress.Completed)
	case <-time.After(time.Second):
		t.Fatal("expected import.completed")
	}
}
