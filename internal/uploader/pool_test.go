package uploader

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shuttersync/shuttersync/internal/events"
	"github.com/shuttersync/shuttersync/internal/sink"
)

// stubSink is a controllable sink for pool tests.
type stubSink struct {
	name     string
	priority int
	delay    time.Duration
	err      error

	mu       sync.Mutex
	existing map[string]bool
	puts     int32
}

func newStubSink(name string) *stubSink {
	return &stubSink{name: name, priority: sink.PriorityLocal, existing: map[string]bool{}}
}

func (s *stubSink) DisplayName() string { return s.name }
func (s *stubSink) Priority() int       { return s.priority }

func (s *stubSink) TestConnection(ctx context.Context) error { return nil }

func (s *stubSink) Put(ctx context.Context, localPath, key string, progress sink.ProgressFunc) (string, error) {
	atomic.AddInt32(&s.puts, 1)
	deadline := time.After(s.delay)
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-deadline:
			if s.err != nil {
				return "", s.err
			}
			if progress != nil {
				progress(1, 1)
			}
			return "stub://" + key, nil
		}
	}
}

func (s *stubSink) Exists(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.existing[key]
}

func (s *stubSink) LocalPath(key string) string { return "/stub/" + key }

var (
	_ sink.Sink             = (*stubSink)(nil)
	_ sink.DuplicateChecker = (*stubSink)(nil)
)

func TestPool_RunsJobToDone(t *testing.T) {
	pool := NewPool(context.Background(), nil, 1, 0)
	target := newStubSink("Local")

	job := NewJob("/src/a.jpg", "a.jpg", target, 100)
	require.NoError(t, pool.Submit(job))
	require.NoError(t, job.Wait(context.Background()))

	assert.Equal(t, StatusDone, job.Status())
	assert.Equal(t, "stub://a.jpg", job.RemoteRef())
	assert.Equal(t, 100, job.Progress())
}

func TestPool_ZeroByteFileIsDoneAtFullProgress(t *testing.T) {
	pool := NewPool(context.Background(), nil, 1, 0)
	job := NewJob("/src/empty.jpg", "empty.jpg", newStubSink("Local"), 0)

	require.NoError(t, pool.Submit(job))
	require.NoError(t, job.Wait(context.Background()))

	assert.Equal(t, StatusDone, job.Status())
	assert.Equal(t, 100, job.Progress())
}

func TestPool_RejectsOversizeAtSubmit(t *testing.T) {
	pool := NewPool(context.Background(), nil, 1, 1024)
	target := newStubSink("Local")

	big := NewJob("/src/big.raw", "big.raw", target, 2048)
	err := pool.Submit(big)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max file size")
	assert.Zero(t, atomic.LoadInt32(&target.puts), "oversize job must never reach the sink")

	ok := NewJob("/src/ok.jpg", "ok.jpg", target, 1024)
	require.NoError(t, pool.Submit(ok))
	require.NoError(t, ok.Wait(context.Background()))
}

func TestPool_ConcurrencyBound(t *testing.T) {
	pool := NewPool(context.Background(), nil, 3, 0)
	target := newStubSink("Local")
	target.delay = 200 * time.Millisecond

	var jobs []*Job
	for i := 0; i < 10; i++ {
		job := NewJob("/src/f", fmt.Sprintf("f%d.jpg", i), target, 1)
		require.NoError(t, pool.Submit(job))
		jobs = append(jobs, job)
	}

	time.Sleep(50 * time.Millisecond)
	stats := pool.Stats()
	assert.LessOrEqual(t, stats.Active, 3)
	assert.True(t, stats.IsProcessing)

	for _, job := range jobs {
		require.NoError(t, job.Wait(context.Background()))
		assert.Equal(t, StatusDone, job.Status())
	}
	assert.False(t, pool.Stats().IsProcessing)
}

func TestPool_CancelAll(t *testing.T) {
	pool := NewPool(context.Background(), nil, 3, 0)
	target := newStubSink("Local")
	target.delay = 5 * time.Second

	var jobs []*Job
	for i := 0; i < 10; i++ {
		job := NewJob("/src/f", fmt.Sprintf("f%d.jpg", i), target, 1)
		require.NoError(t, pool.Submit(job))
		jobs = append(jobs, job)
	}

	time.Sleep(100 * time.Millisecond)
	start := time.Now()
	pool.CancelAll()
	assert.Less(t, time.Since(start), 2*time.Second, "cancellation must not wait out the transfers")

	for _, job := range jobs {
		assert.Equal(t, StatusCancelled, job.Status())
	}
	stats := pool.Stats()
	assert.Zero(t, stats.Pending)
	assert.Zero(t, stats.Active)
	assert.False(t, stats.IsProcessing)
	assert.Equal(t, 10, stats.Cancelled)
}

func TestPool_SkipDuplicatesOnFilesystemSink(t *testing.T) {
	pool := NewPool(context.Background(), nil, 1, 0)
	target := newStubSink("Local")
	target.existing["already.jpg"] = true

	job := NewJob("/src/already.jpg", "already.jpg", target, 42)
	job.SkipDuplicates = true
	require.NoError(t, pool.Submit(job))
	require.NoError(t, job.Wait(context.Background()))

	assert.Equal(t, StatusDone, job.Status())
	assert.True(t, job.Skipped())
	assert.Zero(t, atomic.LoadInt32(&target.puts), "no bytes may move for a skipped duplicate")
	assert.Equal(t, "/stub/already.jpg", job.RemoteRef())
}

func TestPool_FailedJobDoesNotRetry(t *testing.T) {
	pool := NewPool(context.Background(), nil, 1, 0)
	target := newStubSink("Relay")
	target.err = sink.Errf(sink.KindUnreachable, "connection refused")

	job := NewJob("/src/a.jpg", "a.jpg", target, 1)
	require.NoError(t, pool.Submit(job))
	require.NoError(t, job.Wait(context.Background()))

	assert.Equal(t, StatusFailed, job.Status())
	assert.Equal(t, int32(1), atomic.LoadInt32(&target.puts))
	assert.Equal(t, 1, pool.Stats().Failed)
}

func TestPool_ResubmitClonesTerminalJob(t *testing.T) {
	pool := NewPool(context.Background(), nil, 1, 0)
	target := newStubSink("Relay")
	target.err = sink.Errf(sink.KindUnauthenticated, "token expired")

	job := NewJob("/src/a.jpg", "a.jpg", target, 1)
	require.NoError(t, pool.Submit(job))
	require.NoError(t, job.Wait(context.Background()))
	require.Equal(t, StatusFailed, job.Status())

	_, err := pool.Resubmit(job)
	require.NoError(t, err)

	// a running job cannot be resubmitted
	target.err = nil
	fresh := NewJob("/src/b.jpg", "b.jpg", target, 1)
	_, err = pool.Resubmit(fresh)
	assert.Error(t, err)
}

func TestPool_RetryAfterAuthRecoveryCompletes(t *testing.T) {
	pool := NewPool(context.Background(), nil, 1, 0)
	target := newStubSink("Relay")
	target.err = sink.Errf(sink.KindUnauthenticated, "token expired")

	job := NewJob("/src/a.jpg", "a.jpg", target, 1)
	require.NoError(t, pool.Submit(job))
	require.NoError(t, job.Wait(context.Background()))
	require.Equal(t, StatusFailed, job.Status())
	require.Equal(t, sink.KindUnauthenticated, sink.KindOf(job.Err()))

	// the token source recovered; the caller resubmits once
	target.err = nil
	retry, err := pool.Resubmit(job)
	require.NoError(t, err)
	require.NoError(t, retry.Wait(context.Background()))
	assert.Equal(t, StatusDone, retry.Status())
}

func TestPool_ProgressIsMonotone(t *testing.T) {
	bus := events.NewBus()
	ch, unsub := bus.Subscribe(128, events.TopicUploadProgress)
	defer unsub()

	pool := NewPool(context.Background(), bus, 1, 0)
	job := NewJob("/src/a.jpg", "a.jpg", newStubSink("Local"), 1)
	require.NoError(t, pool.Submit(job))
	require.NoError(t, job.Wait(context.Background()))

	var last int64 = -1
	deadline := time.After(time.Second)
	for {
		select {
		case evt := <-ch:
			p := evt.Data.(ProgressEvent)
			require.GreaterOrEqual(t, p.BytesDone, last)
			last = p.BytesDone
			if p.Status.Terminal() {
				return
			}
		case <-deadline:
			t.Fatal("no terminal progress event seen")
		}
	}
}

func TestPool_History(t *testing.T) {
	pool := NewPool(context.Background(), nil, 1, 0)
	good := newStubSink("Local")
	bad := newStubSink("Relay")
	bad.err = sink.Errf(sink.KindIO, "disk full")

	for i := 0; i < 25; i++ {
		job := NewJob("/src/f", fmt.Sprintf("ok%d.jpg", i), good, 1)
		require.NoError(t, pool.Submit(job))
		require.NoError(t, job.Wait(context.Background()))
	}
	fail := NewJob("/src/f", "bad.jpg", bad, 1)
	require.NoError(t, pool.Submit(fail))
	require.NoError(t, fail.Wait(context.Background()))

	done, failed := pool.History()
	assert.Len(t, done, 20, "history keeps at most 20 completed jobs")
	assert.Len(t, failed, 1)
	assert.Equal(t, "bad.jpg", failed[0].Key)
}
