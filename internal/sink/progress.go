package sink

import (
	"context"
	"io"
)

// progressReader wraps a reader with byte accounting and a cancellation
// checkpoint at every read. Progress is monotone in read order.
type progressReader struct {
	ctx      context.Context
	reader   io.Reader
	done     int64
	total    int64
	progress ProgressFunc
}

func newProgressReader(ctx context.Context, r io.Reader, total int64, progress ProgressFunc) *progressReader {
	return &progressReader{
		ctx:      ctx,
		reader:   r,
		total:    total,
		progress: progress,
	}
}

func (pr *progressReader) Read(p []byte) (int, error) {
	if err := pr.ctx.Err(); err != nil {
		return 0, err
	}

	n, err := pr.reader.Read(p)
	if n > 0 {
		pr.done += int64(n)
		if pr.progress != nil {
			pr.progress(pr.done, pr.total)
		}
	}
	return n, err
}
