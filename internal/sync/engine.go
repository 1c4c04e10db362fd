package sync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	gosync "sync"
	"time"

	"github.com/notPlancha/CanvasSync/internal/logging"
	"github.com/notPlancha/CanvasSync/internal/remote"
	"github.com/notPlancha/CanvasSync/internal/sync/exclude"
	"github.com/notPlancha/CanvasSync/internal/sync/executor"
	"github.com/notPlancha/CanvasSync/internal/sync/index"
	"github.com/notPlancha/CanvasSync/internal/sync/pathmap"
	"github.com/notPlancha/CanvasSync/internal/sync/walker"
	"github.com/notPlancha/CanvasSync/internal/types"
	"github.com/notPlancha/CanvasSync/internal/utils"
	"golang.org/x/sync/singleflight"
)

// Options is the immutable configuration of one run
type Options struct {
	// Root is the local directory the remote tree is mirrored into
	Root    string
	Include []string
	Exclude []string
	// Concurrency bounds simultaneous downloads
	Concurrency int
	// MaterializeEmpty creates a directory for every container, even empty ones
	MaterializeEmpty bool
	Retry            executor.RetryPolicy
	// DryRun lists and compares but writes nothing
	DryRun bool
}

// DefaultOptions returns options for root with default limits
func DefaultOptions(root string) Options {
	return Options{
		Root:        root,
		Concurrency: utils.DefaultConcurrency,
		Retry:       executor.DefaultRetryPolicy(),
	}
}

// Engine mirrors a remote tree into a local directory
type Engine struct {
	client remote.Client
	logger logging.Logger
	mapper *pathmap.Mapper
	now    func() time.Time
}

func NewEngine(client remote.Client, logger logging.Logger) *Engine {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	return &Engine{
		client: client,
		logger: logger,
		mapper: pathmap.New(),
		now:    time.Now,
	}
}

// run holds the per-invocation state shared by the walker loop and the
// download tasks
type run struct {
	opts       Options
	root       string
	state      *index.State
	downloader *executor.Downloader
	logger     logging.Logger
	dirs       singleflight.Group
	now        func() time.Time

	mu     gosync.Mutex
	report *types.SyncReport
}

// Run performs one synchronization. Per-item failures are collected in the
// report; the returned error is non-nil only when the run could not start
// (root listing, unreadable sync root) or was aborted by an auth failure.
// A cancelled ctx ends the run early with Interrupted set and a nil error.
func (e *Engine) Run(ctx context.Context, opts Options) (*types.SyncReport, error) {
	logger := e.logger.WithContext(ctx)
	report := &types.SyncReport{StartedAt: e.now().UTC(), DryRun: opts.DryRun, Failures: []types.SyncFailure{}}
	finish := func() *types.SyncReport {
		report.FinishedAt = e.now().UTC()
		return report
	}

	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return finish(), utils.NewFilesystemError("resolve", opts.Root, err)
	}
	if !opts.DryRun {
		if err := os.MkdirAll(root, 0755); err != nil {
			return finish(), utils.NewFilesystemError("create sync root", root, err)
		}
	}

	state, err := index.OpenState(ctx, root, opts.DryRun, logger)
	if err != nil {
		return finish(), err
	}
	defer state.Close()

	r := &run{
		opts:       opts,
		root:       root,
		state:      state,
		downloader: executor.NewDownloader(e.client, logger),
		logger:     logger,
		report:     report,
		now:        e.now,
	}
	if !opts.DryRun {
		staging, err := prepareStaging(root, logger)
		if err != nil {
			return finish(), err
		}
		r.downloader.Staging(staging, r.ensureDir)
	}

	nodes, err := e.client.ListRootContainers(ctx)
	if err != nil {
		if ctx.Err() != nil {
			report.Interrupted = true
			return finish(), nil
		}
		logger.Error("Listing root containers failed", logging.F("error", err.Error()))
		return finish(), err
	}

	w := walker.New(e.client, e.mapper, exclude.New(opts.Include, opts.Exclude), logger)
	roots := w.Roots(nodes)
	report.Roots = len(roots)
	logger.Info("Sync starting",
		logging.F("root", root),
		logging.F("containers", len(roots)),
		logging.F("dryRun", opts.DryRun),
	)

	var fatal error
	for _, entry := range roots {
		if ctx.Err() != nil {
			break
		}
		fatal = r.syncRoot(ctx, w, entry)
		if err := r.checkpoint(ctx); err != nil && fatal == nil {
			fatal = err
		}
		if fatal != nil {
			break
		}
	}

	if err := r.checkpoint(ctx); err != nil && fatal == nil {
		fatal = err
	}
	if fatal != nil {
		logger.Error("Sync aborted", logging.F("error", fatal.Error()))
		return finish(), fatal
	}
	if ctx.Err() != nil {
		report.Interrupted = true
		logger.Warn("Sync interrupted", logging.F("created", report.Created), logging.F("updated", report.Updated))
	}
	finish()
	logger.Info("Sync finished",
		logging.F("created", report.Created),
		logging.F("updated", report.Updated),
		logging.F("skipped", report.Skipped),
		logging.F("failed", report.Failed),
		logging.F("duration_ms", report.Duration().Milliseconds()),
	)
	return report, nil
}

// checkpoint flushes state even when ctx is already cancelled
func (r *run) checkpoint(ctx context.Context) error {
	if r.opts.DryRun {
		return nil
	}
	if err := r.state.Flush(context.WithoutCancel(ctx)); err != nil {
		r.logger.Error("Saving sync state failed", logging.F("error", err.Error()))
		return err
	}
	return nil
}

// syncRoot walks one root container and downloads what changed. It
// returns only fatal errors.
func (r *run) syncRoot(ctx context.Context, w *walker.Walker, root walker.Entry) error {
	pool := executor.NewPool(ctx, r.opts.Concurrency)
	var fatal error

	for entry, err := range w.Walk(pool.Context(), []walker.Entry{root}) {
		if err != nil {
			if isCancellation(err) && pool.Context().Err() != nil {
				break
			}
			if utils.IsAuthError(err) {
				fatal = err
				break
			}
			r.fail(entry, types.SyncStageListing, walker.Code(err), err, 1)
			continue
		}

		if entry.Node.IsContainer() {
			if r.opts.MaterializeEmpty && !r.opts.DryRun {
				if err := r.ensureDir(r.abs(entry.LocalPath)); err != nil {
					r.fail(entry, types.SyncStageDownload, utils.ErrCodeFilesystem, err, 1)
				}
			}
			continue
		}

		if !r.state.NeedsUpdate(entry.Node, entry.LocalPath) {
			r.count(func(rep *types.SyncReport) { rep.Skipped++ })
			continue
		}
		if r.opts.DryRun {
			r.logger.Debug("Would download", logging.F("path", entry.LocalPath))
			r.count(func(rep *types.SyncReport) { rep.Pending++ })
			continue
		}

		entry := entry
		if !pool.Go(func(ctx context.Context) error { return r.download(ctx, entry) }) {
			break
		}
	}

	if err := pool.Wait(); err != nil && fatal == nil {
		fatal = err
	}
	return fatal
}

// download fetches one leaf with retries. Only an auth failure is returned.
func (r *run) download(ctx context.Context, entry walker.Entry) error {
	dest := r.abs(entry.LocalPath)
	_, hadEntry := r.state.Lookup(entry.Node.ID)
	_, statErr := os.Stat(dest)
	existed := statErr == nil

	var written int64
	attempts, err := r.opts.Retry.Do(ctx, func(attempt int) error {
		if attempt > 1 {
			r.logger.Debug("Retrying download", logging.F("path", entry.LocalPath), logging.F("attempt", attempt))
		}
		n, err := r.downloader.Fetch(ctx, entry.Node, dest)
		written = n
		return err
	})

	switch {
	case err == nil:
		r.state.Record(entry.Node.ID, index.LocalEntry{
			LocalPath:   entry.LocalPath,
			Fingerprint: string(entry.Node.Fingerprint),
			Size:        written,
			LastSync:    r.now().UTC(),
		})
		if hadEntry && existed {
			r.count(func(rep *types.SyncReport) { rep.Updated++ })
		} else {
			r.count(func(rep *types.SyncReport) { rep.Created++ })
		}
		r.logger.Debug("Downloaded", logging.F("path", entry.LocalPath), logging.F("bytes", written))
	case isCancellation(err) && ctx.Err() != nil:
	case utils.IsAuthError(err):
		r.fail(entry, types.SyncStageDownload, utils.ErrorCode(err), err, attempts)
		return err
	case utils.IsNotFound(err):
		r.state.Remove(entry.Node.ID)
		r.count(func(rep *types.SyncReport) {
			rep.Skipped++
			if hadEntry {
				rep.Removed++
			}
		})
		r.logger.Info("Remote file disappeared", logging.F("path", entry.RemotePath))
	default:
		r.fail(entry, types.SyncStageDownload, utils.ErrorCode(err), err, attempts)
	}
	return nil
}

// ensureDir creates dir and any missing parents below the sync root. Only
// creates, never removes; concurrent callers share one mkdir per path.
func (r *run) ensureDir(dir string) error {
	if dir == r.root || len(dir) < len(r.root) {
		return nil
	}
	if info, err := os.Stat(dir); err == nil {
		if !info.IsDir() {
			return utils.NewFilesystemError("mkdir", dir, fmt.Errorf("a file is in the way"))
		}
		return nil
	}
	if err := r.ensureDir(filepath.Dir(dir)); err != nil {
		return err
	}
	_, err, _ := r.dirs.Do(dir, func() (interface{}, error) {
		err := os.Mkdir(dir, 0755)
		switch {
		case err == nil:
			r.count(func(rep *types.SyncReport) { rep.Directories++ })
			return nil, nil
		case errors.Is(err, os.ErrExist):
			return nil, nil
		default:
			return nil, utils.NewFilesystemError("mkdir", dir, err)
		}
	})
	return err
}

// prepareStaging creates the directory downloads are written to before
// they are renamed into place, and clears temp files an earlier run left
func prepareStaging(root string, logger logging.Logger) (string, error) {
	dir := filepath.Join(root, utils.StateDirName, utils.StagingDirName)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", utils.NewFilesystemError("create staging directory", dir, err)
	}
	stale, _ := filepath.Glob(filepath.Join(dir, utils.TempFilePattern))
	for _, p := range stale {
		if err := os.Remove(p); err != nil {
			logger.Debug("Could not remove stale temp file", logging.F("path", p), logging.F("error", err.Error()))
		}
	}
	return dir, nil
}

func (r *run) abs(rel string) string {
	return filepath.Join(r.root, filepath.FromSlash(rel))
}

func (r *run) count(update func(*types.SyncReport)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	update(r.report)
}

func (r *run) fail(entry walker.Entry, stage types.SyncStage, code string, err error, attempts int) {
	r.logger.Warn("Sync item failed",
		logging.F("path", entry.RemotePath),
		logging.F("stage", stage),
		logging.F("code", code),
		logging.F("error", err.Error()),
	)
	r.count(func(rep *types.SyncReport) {
		rep.Failed++
		rep.Failures = append(rep.Failures, types.SyncFailure{
			NodeID:   entry.Node.ID,
			Name:     entry.Node.Name,
			Path:     entry.LocalPath,
			Stage:    stage,
			Code:     code,
			Cause:    err.Error(),
			Attempts: attempts,
		})
	})
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
