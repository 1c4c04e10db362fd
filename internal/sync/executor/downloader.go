package executor

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/notPlancha/CanvasSync/internal/logging"
	"github.com/notPlancha/CanvasSync/internal/remote"
	"github.com/notPlancha/CanvasSync/internal/types"
	"github.com/notPlancha/CanvasSync/internal/utils"
)

// Downloader writes remote leaves to disk atomically: content goes to a
// temporary file next to the destination and is renamed into place only
// after it has been verified.
type Downloader struct {
	client remote.Client
	logger logging.Logger

	stagingDir string
	prepare    func(dir string) error
}

func NewDownloader(client remote.Client, logger logging.Logger) *Downloader {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	return &Downloader{client: client, logger: logger}
}

// Staging keeps temporary files in dir, which must be on the same
// filesystem as every destination, and calls prepare with the
// destination directory just before the rename. A failed download then
// leaves no directories behind.
func (d *Downloader) Staging(dir string, prepare func(dir string) error) {
	d.stagingDir = dir
	d.prepare = prepare
}

// Fetch downloads node to dest and returns the number of bytes written.
// Without staging the directory of dest must exist. On any failure, including
// cancellation, the temporary file is removed and dest is left untouched.
func (d *Downloader) Fetch(ctx context.Context, node types.RemoteNode, dest string) (written int64, err error) {
	content, err := d.client.OpenContent(ctx, node)
	if err != nil {
		return 0, err
	}
	defer content.Body.Close()

	tmpDir := filepath.Dir(dest)
	if d.stagingDir != "" {
		tmpDir = d.stagingDir
	}
	tmp, err := os.CreateTemp(tmpDir, utils.TempFilePattern)
	if err != nil {
		return 0, utils.NewFilesystemError("create temp file", dest, err)
	}
	tmpPath := tmp.Name()
	renamed := false
	defer func() {
		if !renamed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	hasher := md5.New()
	written, err = io.Copy(&fileWriter{f: tmp, h: hasher}, &ctxReader{ctx: ctx, r: content.Body})
	if err != nil {
		var we *writeError
		switch {
		case errors.As(err, &we):
			return written, utils.NewFilesystemError("write", dest, we.err)
		case ctx.Err() != nil:
			return written, ctx.Err()
		default:
			return written, utils.WrapAppError(utils.NewCLIError(utils.ErrCodeNetworkError,
				fmt.Sprintf("reading %s: %v", node.Name, err)).
				WithRetryable(true).
				WithContext("nodeId", node.ID).
				Build(), err)
		}
	}

	if err := verify(node, content, written, hasher); err != nil {
		return written, err
	}

	if err := tmp.Close(); err != nil {
		return written, utils.NewFilesystemError("close", tmpPath, err)
	}
	if !node.ModifiedTime.IsZero() {
		if err := os.Chtimes(tmpPath, node.ModifiedTime, node.ModifiedTime); err != nil {
			d.logger.Debug("Could not set modification time",
				logging.F("path", dest),
				logging.F("error", err.Error()),
			)
		}
	}
	if d.prepare != nil {
		if err := d.prepare(filepath.Dir(dest)); err != nil {
			return written, err
		}
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return written, utils.NewFilesystemError("rename", dest, err)
	}
	renamed = true
	return written, nil
}

func verify(node types.RemoteNode, content *remote.Content, written int64, h hash.Hash) error {
	if content.Size >= 0 && written != content.Size {
		return checksumError(node, fmt.Sprintf("size mismatch: got %d bytes, expected %d", written, content.Size))
	}
	if content.MD5 != "" {
		got := hex.EncodeToString(h.Sum(nil))
		if !strings.EqualFold(got, content.MD5) {
			return checksumError(node, fmt.Sprintf("md5 mismatch: got %s, expected %s", got, content.MD5))
		}
	}
	return nil
}

func checksumError(node types.RemoteNode, msg string) error {
	return utils.NewAppError(utils.NewCLIError(utils.ErrCodeChecksumMismatch, msg).
		WithRetryable(true).
		WithContext("nodeId", node.ID).
		Build())
}

type writeError struct{ err error }

func (e *writeError) Error() string { return e.err.Error() }
func (e *writeError) Unwrap() error { return e.err }

// fileWriter tags write failures so they are not mistaken for network errors
type fileWriter struct {
	f *os.File
	h hash.Hash
}

func (w *fileWriter) Write(p []byte) (int, error) {
	n, err := w.f.Write(p)
	w.h.Write(p[:n])
	if err != nil {
		return n, &writeError{err: err}
	}
	return n, nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
