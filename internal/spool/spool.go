// Package spool watches an outbox directory and hands settled files to a
// transfer function. It sits between the filesystem and the session in the
// daemon pipeline: users drop files into the outbox, spool debounces the
// write burst, waits for the size to stop changing, and dispatches. Sent
// files move to sent/, failures to failed/.
package spool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	defaultDebounce = 500 * time.Millisecond
	defaultSettle   = 250 * time.Millisecond
	defaultSweep    = time.Minute

	dirPerm = 0o700

	sentDirName   = "sent"
	failedDirName = "failed"
)

// excludedSuffixes lists file extensions that indicate a file is still
// being produced and must not be dispatched.
var excludedSuffixes = []string{
	".partial", ".tmp", ".swp", ".crdownload",
}

// ErrRetry tells the watcher a transfer failed for a transient reason.
// The file stays in the outbox and gets picked up on the next cycle.
var ErrRetry = errors.New("spool: retry later")

// TransferFunc hands one settled outbox file to the session. A nil error
// moves the file to sent/, an error wrapping ErrRetry leaves it in the
// outbox, any other error moves it to failed/.
type TransferFunc func(ctx context.Context, path string) error

// Config holds the watcher settings. Dir is required; zero durations fall
// back to package defaults.
type Config struct {
	Dir      string        // outbox directory to watch
	Debounce time.Duration // quiet period after the last write event
	Settle   time.Duration // how long the file size must hold steady
	Sweep    time.Duration // periodic rescan interval for missed events
	Logger   *slog.Logger
}

// Watcher owns one outbox directory. Run drives it; the pending set is
// touched only from Run's goroutine.
type Watcher struct {
	dir       string
	sentDir   string
	failedDir string
	debounce  time.Duration
	settle    time.Duration
	sweep     time.Duration
	transfer  TransferFunc
	logger    *slog.Logger

	pending map[string]struct{}
}

// New validates the config and returns a Watcher ready to Run.
func New(cfg Config, transfer TransferFunc) (*Watcher, error) {
	if cfg.Dir == "" {
		return nil, errors.New("spool: outbox directory required")
	}

	if transfer == nil {
		return nil, errors.New("spool: transfer function required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	w := &Watcher{
		dir:       cfg.Dir,
		sentDir:   filepath.Join(cfg.Dir, sentDirName),
		failedDir: filepath.Join(cfg.Dir, failedDirName),
		debounce:  cfg.Debounce,
		settle:    cfg.Settle,
		sweep:     cfg.Sweep,
		transfer:  transfer,
		logger:    logger,
		pending:   make(map[string]struct{}),
	}

	if w.debounce <= 0 {
		w.debounce = defaultDebounce
	}

	if w.settle <= 0 {
		w.settle = defaultSettle
	}

	if w.sweep <= 0 {
		w.sweep = defaultSweep
	}

	return w, nil
}

// Run creates the directory layout, sweeps pre-existing files, and watches
// until the context is canceled. Returns nil on clean shutdown.
func (w *Watcher) Run(ctx context.Context) error {
	for _, dir := range []string{w.dir, w.sentDir, w.failedDir} {
		if err := os.MkdirAll(dir, dirPerm); err != nil {
			return fmt.Errorf("spool: creating %s: %w", dir, err)
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("spool: creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("spool: watching %s: %w", w.dir, err)
	}

	swept := w.sweepDir()

	w.logger.Info("spool watching outbox",
		slog.String("dir", w.dir),
		slog.Int("preexisting", swept),
	)

	return w.watchLoop(ctx, watcher, swept > 0)
}

// watchLoop is the select loop behind Run. All pending-set mutation happens
// here, so no locking is needed.
func (w *Watcher) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, armed bool) error {
	timer := time.NewTimer(w.debounce)
	defer timer.Stop()

	if !armed {
		timer.Stop() // start idle unless the sweep found files
	}

	timerActive := armed

	sweepTicker := time.NewTicker(w.sweep)
	defer sweepTicker.Stop()

	arm := func() {
		if !timer.Stop() && timerActive {
			<-timer.C
		}

		timer.Reset(w.debounce)
		timerActive = true
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case fsEvent, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if w.noteEvent(fsEvent) {
				arm()
			}

		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			w.logger.Warn("outbox watcher error", slog.String("error", watchErr.Error()))

		case <-sweepTicker.C:
			if w.sweepDir() > 0 {
				arm()
			}

		case <-timer.C:
			timerActive = false

			w.flush(ctx)

			// Files still being written got re-queued; try again
			// after another quiet period.
			if len(w.pending) > 0 {
				arm()
			}
		}
	}
}

// noteEvent records or drops a pending path for one fsnotify event and
// reports whether the debounce timer should reset.
func (w *Watcher) noteEvent(fsEvent fsnotify.Event) bool {
	// Mode changes alone are noise.
	if fsEvent.Has(fsnotify.Chmod) && !fsEvent.Has(fsnotify.Create) && !fsEvent.Has(fsnotify.Write) {
		return false
	}

	name := filepath.Base(fsEvent.Name)
	if !isCandidateName(name) {
		w.logger.Debug("spool: skipping excluded file", slog.String("name", name))
		return false
	}

	if fsEvent.Has(fsnotify.Remove) || fsEvent.Has(fsnotify.Rename) {
		delete(w.pending, fsEvent.Name)
		return false
	}

	if fsEvent.Has(fsnotify.Create) || fsEvent.Has(fsnotify.Write) {
		w.pending[fsEvent.Name] = struct{}{}
		return true
	}

	return false
}

// sweepDir scans the outbox for candidate files not yet pending. Catches
// files that predate the watch and events the kernel dropped.
func (w *Watcher) sweepDir() int {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Warn("outbox sweep failed", slog.String("error", err.Error()))
		return 0
	}

	added := 0

	for _, entry := range entries {
		if entry.IsDir() || !isCandidateName(entry.Name()) {
			continue
		}

		path := filepath.Join(w.dir, entry.Name())
		if _, ok := w.pending[path]; ok {
			continue
		}

		w.pending[path] = struct{}{}
		added++
	}

	if added > 0 {
		w.logger.Debug("outbox sweep queued files", slog.Int("added", added))
	}

	return added
}

// flush takes the pending snapshot and dispatches every file whose size has
// settled. Files still changing are re-queued for the next cycle.
func (w *Watcher) flush(ctx context.Context) {
	batch := make([]string, 0, len(w.pending))
	for path := range w.pending {
		batch = append(batch, path)
	}

	w.pending = make(map[string]struct{})

	for _, path := range batch {
		if ctx.Err() != nil {
			return
		}

		ready, err := w.settled(ctx, path)
		if err != nil {
			// File vanished between the event and the flush.
			w.logger.Debug("spool: skipping unreadable file",
				slog.String("path", path), slog.String("error", err.Error()))

			continue
		}

		if !ready {
			w.logger.Debug("spool: file still changing", slog.String("path", path))
			w.pending[path] = struct{}{}

			continue
		}

		w.dispatch(ctx, path)
	}
}

// settled reports whether the file's size and mtime held steady across the
// settle window. Directories are never ready.
func (w *Watcher) settled(ctx context.Context, path string) (bool, error) {
	before, err := os.Stat(path)
	if err != nil {
		return false, err
	}

	if before.IsDir() {
		return false, errors.New("spool: not a regular file")
	}

	if err := sleepCtx(ctx, w.settle); err != nil {
		return false, err
	}

	after, err := os.Stat(path)
	if err != nil {
		return false, err
	}

	return after.Size() == before.Size() && after.ModTime().Equal(before.ModTime()), nil
}

// dispatch hands one settled file to the transfer function and moves it to
// the matching disposition directory.
func (w *Watcher) dispatch(ctx context.Context, path string) {
	w.logger.Info("outbox file ready", slog.String("path", path))

	if err := w.transfer(ctx, path); err != nil {
		// Shutdown mid-transfer: leave the file in place so the next
		// run's sweep retries it.
		if ctx.Err() != nil {
			return
		}

		if errors.Is(err, ErrRetry) {
			w.logger.Info("outbox transfer deferred",
				slog.String("path", path), slog.String("error", err.Error()))
			w.pending[path] = struct{}{}

			return
		}

		w.logger.Warn("outbox transfer failed",
			slog.String("path", path), slog.String("error", err.Error()))
		w.moveTo(w.failedDir, path)

		return
	}

	w.logger.Info("outbox file sent", slog.String("path", path))
	w.moveTo(w.sentDir, path)
}

// moveTo relocates a processed file, suffixing the name on collision.
func (w *Watcher) moveTo(dir, path string) {
	dest := uniqueDest(filepath.Join(dir, filepath.Base(path)))

	if err := os.Rename(path, dest); err != nil {
		w.logger.Warn("moving outbox file",
			slog.String("path", path), slog.String("error", err.Error()))
	}
}

// isCandidateName filters out hidden files, editor temporaries, and partial
// downloads.
func isCandidateName(name string) bool {
	if name == "" || name[0] == '.' || name[0] == '~' {
		return false
	}

	lower := strings.ToLower(name)
	for _, suffix := range excludedSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return false
		}
	}

	return true
}

// uniqueDest returns path, or the first "name (n).ext" variant that does
// not exist yet.
func uniqueDest(path string) string {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}

	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)

	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s (%d)%s", stem, i, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

// sleepCtx sleeps for d or until the context is canceled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
