package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Trigger starts a pipeline run.
type Trigger interface {
	Run(ctx context.Context, trigger string) (string, error)
}

// Watcher starts a run after a burst of new images lands in a directory.
type Watcher struct {
	dir      string
	debounce time.Duration
	trigger  Trigger
	logger   *zap.Logger
}

// NewWatcher watches dir and calls trigger once writes have been quiet for
// debounce.
func NewWatcher(dir string, debounce time.Duration, trigger Trigger, logger *zap.Logger) *Watcher {
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	return &Watcher{dir: dir, debounce: debounce, trigger: trigger, logger: logger.Named("watcher")}
}

// Watch blocks until ctx is done.
func (w *Watcher) Watch(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return err
	}
	w.logger.Info("watching input directory", zap.String("dir", w.dir), zap.Duration("debounce", w.debounce))

	// fire is nil while nothing is pending; each event restarts the quiet period
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if !IsImageFile(ev.Name) {
				continue
			}
			w.logger.Debug("input changed", zap.String("path", ev.Name), zap.String("op", ev.Op.String()))
			fire = time.After(w.debounce)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", zap.Error(err))

		case <-fire:
			fire = nil
			runID, err := w.trigger.Run(ctx, "watch")
			switch {
			case errors.Is(err, ErrRunInProgress):
				// the active run may be past extract; try again after another quiet period
				w.logger.Info("run already in progress, retrying trigger later", zap.Duration("delay", w.debounce))
				fire = time.After(w.debounce)
			case err != nil:
				w.logger.Error("watch-triggered run failed", zap.String("run_id", runID), zap.Error(err))
			default:
				w.logger.Info("watch-triggered run finished", zap.String("run_id", runID))
			}
		}
	}
}
