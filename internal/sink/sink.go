// Package sink implements the upload backends: local and backup folders,
// S3-compatible stores, Azure block blobs, Google Cloud Storage and the
// relay service.
package sink

import "context"

// Destination priorities. Lower submits earlier. Relay is last because it
// re-reads the file the local copy produced.
const (
	PriorityLocal  = 100
	PriorityBackup = 120
	PriorityObject = 150
	PriorityRelay  = 200
)

// ProgressFunc receives byte counters while a transfer runs. Implementations
// call it at I/O boundaries; it doubles as the cancellation checkpoint.
type ProgressFunc func(done int64, total int64)

// Sink accepts a local file under a logical key. Implementations perform no
// retries; retry policy belongs to the pool.
type Sink interface {
	// TestConnection verifies credentials and reachability.
	TestConnection(ctx context.Context) error

	// Put uploads localPath under key and returns a provider reference.
	Put(ctx context.Context, localPath string, key string, progress ProgressFunc) (string, error)

	// DisplayName is a human-readable backend label.
	DisplayName() string

	// Priority orders this sink's jobs within a file.
	Priority() int
}

// DuplicateChecker is implemented by filesystem sinks. The pool consults it
// before transferring bytes when skip-duplicates is on. Cloud sinks do not
// implement it.
type DuplicateChecker interface {
	// Exists reports whether a regular file already sits at the derived key.
	Exists(key string) bool
	// LocalPath resolves the on-disk path a key maps to.
	LocalPath(key string) string
}
