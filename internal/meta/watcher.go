package meta

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/m-mizutani/goerr/v2"
	"go.uber.org/zap"
)

// DefaultDebounce is how long the watcher waits for writes to settle.
const DefaultDebounce = 300 * time.Millisecond

// minTick bounds how often pending changes are checked.
const minTick = time.Millisecond

// Watcher reloads the active playbooks when files in the active directory
// change, so an operator promotion takes effect without a restart.
type Watcher struct {
	dir      string
	reload   func(ctx context.Context) error
	debounce time.Duration
	logger   *zap.Logger
}

// NewWatcher creates a watcher over dir that calls reload after changes
// settle.
func NewWatcher(dir string, reload func(ctx context.Context) error, debounce time.Duration, logger *zap.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{dir: dir, reload: reload, debounce: debounce, logger: logger.Named("watcher")}
}

// Run watches until ctx is done. It returns nil on cancellation.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return goerr.Wrap(err, "create active playbook dir", goerr.V("dir", w.dir))
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return goerr.Wrap(err, "create fsnotify watcher")
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		return goerr.Wrap(err, "watch active playbook dir", goerr.V("dir", w.dir))
	}
	w.logger.Debug("watching", zap.String("dir", w.dir))

	tick := time.NewTicker(max(w.debounce/3, minTick))
	defer tick.Stop()

	var pending time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !relevant(ev) {
				continue
			}
			w.logger.Debug("playbook change", zap.String("path", ev.Name), zap.String("op", ev.Op.String()))
			pending = time.Now()

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", zap.Error(err))

		case <-tick.C:
			if pending.IsZero() || time.Since(pending) < w.debounce {
				continue
			}
			pending = time.Time{}
			if err := w.reload(ctx); err != nil {
				w.logger.Warn("reload failed", zap.Error(err))
				continue
			}
			w.logger.Info("active playbooks reloaded")
		}
	}
}

func relevant(ev fsnotify.Event) bool {
	name := filepath.Base(ev.Name)
	if !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
		return false
	}
	return ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0
}
