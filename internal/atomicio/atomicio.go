// Package atomicio provides durable file writes with bounded retry and
// optional fsync, plus a process-wide registry of in-flight writes that a
// clean shutdown can drain.
package atomicio

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/term"
)

// Result describes the outcome of a single Write call.
type Result struct {
	Success bool
	Retries int
	Err     error
}

// Opts controls a single write.
type Opts struct {
	// ForceFsync forces an fsync after write regardless of interactive mode.
	ForceFsync bool
}

// Writer performs retried, optionally-fsynced writes and tracks in-flight
// work so a caller can flush everything before exiting.
type Writer struct {
	mu              sync.Mutex
	nonInteractive  bool
	nonInteractiveSet bool
	wg              sync.WaitGroup
	maxRetries      uint64
	initialInterval time.Duration
}

// New constructs a Writer with the default retry policy: 3 retries,
// starting at 100ms and doubling.
func New() *Writer {
	return &Writer{maxRetries: 3, initialInterval: 100 * time.Millisecond}
}

// SetNonInteractive explicitly overrides non-interactive detection.
func (w *Writer) SetNonInteractive(v bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nonInteractive = v
	w.nonInteractiveSet = true
}

// NonInteractive reports whether the process should treat itself as
// non-interactive: either explicitly set, or stdin has no controlling
// terminal.
func (w *Writer) NonInteractive() bool {
	w.mu.Lock()
	set, val := w.nonInteractiveSet, w.nonInteractive
	w.mu.Unlock()
	if set {
		return val
	}
	return !term.IsTerminal(int(os.Stdin.Fd()))
}

// Write durably writes bytes to path, creating parent directories as
// needed, retrying transient IO errors with exponential backoff, and
// fsyncing when in non-interactive mode or when opts.ForceFsync is set.
// It never panics or returns through anything but the returned Result;
// the caller decides whether a failed write was critical.
func (w *Writer) Write(ctx context.Context, path string, data []byte, opts Opts) Result {
	w.wg.Add(1)
	defer w.wg.Done()

	retries := 0
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = w.initialInterval
	bo.Multiplier = 2
	bounded := backoff.WithContext(backoff.WithMaxRetries(bo, w.maxRetries), ctx)

	fsync := opts.ForceFsync || w.NonInteractive()

	var finalErr error
	err := backoff.Retry(func() error {
		e := w.writeOnce(path, data, fsync)
		if e != nil {
			retries++
		}
		finalErr = e
		return e
	}, bounded)

	if err != nil {
		return Result{Success: false, Retries: retries, Err: finalErr}
	}
	return Result{Success: true, Retries: retries}
}

func (w *Writer) writeOnce(path string, data []byte, fsync bool) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if fsync {
		if err := f.Sync(); err != nil {
			f.Close()
			return err
		}
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}

	if fsync {
		df, err := os.Open(path)
		if err != nil {
			return err
		}
		defer df.Close()
		if err := df.Sync(); err != nil {
			return err
		}
	}
	return nil
}

// FlushAll waits for every write currently tracked by this Writer to
// complete. Call it on clean shutdown.
func (w *Writer) FlushAll(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
