package place

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/franz/music-librarian/internal/util"
)

// copyFile copies src to dest through a .part temp file, preserving mode and
// modification time. The temp file never survives a failure.
func (p *Placer) copyFile(ctx context.Context, srcPath, destPath string) (int64, error) {
	srcInfo, err := util.RetryableStat(ctx, srcPath, p.retryConfig)
	if err != nil {
		return 0, fmt.Errorf("failed to stat source: %w", err)
	}

	src, err := util.RetryableOpen(ctx, srcPath, p.retryConfig)
	if err != nil {
		return 0, fmt.Errorf("failed to open source: %w", err)
	}
	defer src.Close()

	tempPath := destPath + ".part"
	dest, err := util.RetryableCreate(ctx, tempPath, srcInfo.Mode().Perm(), p.retryConfig)
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}

	bytesWritten, err := copyWithContext(ctx, dest, src, p.bufferSize)
	if err == nil {
		err = dest.Sync()
	}
	if closeErr := dest.Close(); err == nil {
		err = closeErr
	}
	if err == nil && bytesWritten != srcInfo.Size() {
		err = fmt.Errorf("size mismatch: wrote %d of %d bytes", bytesWritten, srcInfo.Size())
	}
	if err != nil {
		p.removeTemp(ctx, tempPath)
		return 0, fmt.Errorf("failed to copy: %w", err)
	}

	if err := os.Chmod(tempPath, srcInfo.Mode().Perm()); err != nil {
		util.DebugLog("Failed to preserve mode on %s: %v", destPath, err)
	}
	if err := os.Chtimes(tempPath, time.Now(), srcInfo.ModTime()); err != nil {
		util.DebugLog("Failed to preserve mtime on %s: %v", destPath, err)
	}

	if err := util.RetryableRename(ctx, tempPath, destPath, p.retryConfig); err != nil {
		p.removeTemp(ctx, tempPath)
		return 0, fmt.Errorf("failed to rename: %w", err)
	}

	util.DebugLog("Copied: %s -> %s (%s)", srcPath, destPath, util.FormatBytes(bytesWritten))
	return bytesWritten, nil
}

// linkFile creates a symlink at dest pointing at the absolute source path.
// The link is made under a temp name and renamed so dest appears atomically.
func (p *Placer) linkFile(ctx context.Context, srcPath, destPath string) error {
	absSrc, err := filepath.Abs(srcPath)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}

	tempPath := destPath + ".link-tmp"
	p.removeTemp(ctx, tempPath)
	if err := util.Retry(ctx, p.retryConfig, "symlink("+tempPath+")", func() error {
		return os.Symlink(absSrc, tempPath)
	}); err != nil {
		return fmt.Errorf("failed to create symlink: %w", err)
	}

	if err := util.RetryableRename(ctx, tempPath, destPath, p.retryConfig); err != nil {
		p.removeTemp(ctx, tempPath)
		return fmt.Errorf("failed to rename symlink: %w", err)
	}

	util.DebugLog("Symlinked: %s -> %s", srcPath, destPath)
	return nil
}

// removeTemp deletes a temp file, retrying transient errors. Cleanup runs
// even when ctx is already cancelled.
func (p *Placer) removeTemp(ctx context.Context, path string) {
	if err := util.RetryableRemove(context.WithoutCancel(ctx), path, p.retryConfig); err != nil {
		util.WarnLog("Failed to remove temp file %s: %v", path, err)
	}
}

// copyWithContext copies data with context cancellation support
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader, bufferSize int) (int64, error) {
	if bufferSize <= 0 {
		bufferSize = 128 * 1024
	}

	buf := make([]byte, bufferSize)
	var written int64

	for {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
		}

		nr, er := src.Read(buf)
		if nr > 0 {
			nw, ew := dst.Write(buf[0:nr])
			if nw < 0 || nr < nw {
				nw = 0
				if ew == nil {
					ew = fmt.Errorf("invalid write result")
				}
			}
			written += int64(nw)
			if ew != nil {
				return written, ew
			}
			if nr != nw {
				return written, io.ErrShortWrite
			}
		}
		if er != nil {
			if er != io.EOF {
				return written, er
			}
			break
		}
	}
	return written, nil
}
