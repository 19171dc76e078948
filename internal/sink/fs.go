package sink

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/shuttersync/shuttersync/internal/utils"
)

const copyChunkSize = 256 * 1024

// fsSink copies files into a directory tree. It backs both the LOCAL and
// BACKUP destinations, which differ only in label and priority.
type fsSink struct {
	root     string
	name     string
	priority int
}

func newLocalSink(dst Destination, _ Deps) (Sink, error) {
	return newFSSink(dst.Root, "Local", PriorityLocal)
}

func newBackupSink(dst Destination, _ Deps) (Sink, error) {
	return newFSSink(dst.Root, "Backup", PriorityBackup)
}

func newFSSink(root, name string, priority int) (Sink, error) {
	if root == "" {
		return nil, Errf(KindConfigInvalid, "%s destination has no root", name)
	}
	resolved, err := utils.ResolvePath(root)
	if err != nil {
		return nil, Errf(KindConfigInvalid, "%s root: %v", name, err)
	}
	return &fsSink{
		root:     resolved,
		name:     name,
		priority: priority,
	}, nil
}

func (s *fsSink) DisplayName() string { return s.name }
func (s *fsSink) Priority() int       { return s.priority }

func (s *fsSink) TestConnection(ctx context.Context) error {
	if err := utils.EnsureDir(s.root); err != nil {
		return wrapErr(KindIO, err)
	}
	probe, err := os.CreateTemp(s.root, ".shuttersync-probe-*")
	if err != nil {
		return wrapErr(KindIO, err)
	}
	probe.Close()
	os.Remove(probe.Name())
	return nil
}

func (s *fsSink) LocalPath(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

func (s *fsSink) Exists(key string) bool {
	return utils.FileExists(s.LocalPath(key))
}

// Put copies the file in chunks, checking for cancellation between chunks.
func (s *fsSink) Put(ctx context.Context, localPath string, key string, progress ProgressFunc) (string, error) {
	src, err := os.Open(localPath)
	if err != nil {
		return "", wrapErr(KindIO, err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return "", wrapErr(KindIO, err)
	}
	total := info.Size()

	destPath := s.LocalPath(key)
	if err := utils.EnsureParent(destPath); err != nil {
		return "", wrapErr(KindIO, err)
	}

	dst, err := os.Create(destPath)
	if err != nil {
		return "", wrapErr(KindIO, err)
	}
	defer dst.Close()

	var done int64
	buf := make([]byte, copyChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			os.Remove(destPath)
			return "", wrapErr(KindCancelled, err)
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				os.Remove(destPath)
				return "", wrapErr(KindIO, err)
			}
			done += int64(n)
			if progress != nil {
				progress(done, total)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			os.Remove(destPath)
			return "", wrapErr(KindIO, readErr)
		}
	}

	if progress != nil {
		progress(total, total)
	}
	return destPath, nil
}

var (
	_ Sink             = (*fsSink)(nil)
	_ DuplicateChecker = (*fsSink)(nil)
)
