// Package watch reloads the rule directory into the generation swap
// when files change, with debouncing so an editor writing several files
// triggers one rebuild, plus an optional periodic rescan.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"

	"github.com/sentra-hq/sentra/pkg/engine/swap"
	"github.com/sentra-hq/sentra/pkg/rules"
)

const defaultDebounce = 250 * time.Millisecond

// Watcher drives rule hot reload for one directory tree.
type Watcher struct {
	dir      string
	swap     *swap.Swappable
	logger   *slog.Logger
	debounce time.Duration

	// cron spec for periodic rescans, e.g. "@every 5m"; empty disables
	rescanSpec string
}

type Option func(*Watcher)

// WithDebounce overrides the reload debounce interval.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// WithRescanSchedule adds a periodic full rescan on a cron schedule,
// catching changes fsnotify cannot see (e.g. bind-mount updates).
func WithRescanSchedule(spec string) Option {
	return func(w *Watcher) { w.rescanSpec = spec }
}

func New(dir string, sw *swap.Swappable, logger *slog.Logger, opts ...Option) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Watcher{dir: dir, swap: sw, logger: logger, debounce: defaultDebounce}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Reload loads every rule file under the directory and replaces the
// rule set. A failed load or build leaves the active generation
// untouched.
func (w *Watcher) Reload() error {
	files, err := rules.LoadDir(w.dir)
	if err != nil {
		return fmt.Errorf("scan %s: %w", w.dir, err)
	}
	if err := w.swap.Replace(files); err != nil {
		return err
	}
	w.logger.Info("rules reloaded", "dir", w.dir, "files", len(files))
	return nil
}

// Run watches until the context is cancelled. Reload failures are
// logged, not fatal: the previous generation keeps serving.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fsw.Close()

	if err := addRecursive(fsw, w.dir); err != nil {
		return err
	}

	var sched *cron.Cron
	if w.rescanSpec != "" {
		sched = cron.New()
		if _, err := sched.AddFunc(w.rescanSpec, func() {
			if err := w.Reload(); err != nil {
				w.logger.Error("scheduled rescan failed", "error", err)
			}
		}); err != nil {
			return fmt.Errorf("rescan schedule %q: %w", w.rescanSpec, err)
		}
		sched.Start()
		defer sched.Stop()
	}

	w.logger.Info("watching rules directory", "dir", w.dir, "debounce", w.debounce)

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fsw.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if !relevant(ev) {
				continue
			}
			// New subdirectories need to be watched too.
			if ev.Op.Has(fsnotify.Create) {
				_ = addRecursive(fsw, ev.Name)
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			if err := w.Reload(); err != nil {
				w.logger.Error("rule reload failed, keeping previous rule set", "error", err)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			w.logger.Error("watch error", "error", err)
		}
	}
}

func relevant(ev fsnotify.Event) bool {
	if ev.Op.Has(fsnotify.Chmod) {
		return false
	}
	l := strings.ToLower(ev.Name)
	if strings.HasSuffix(l, ".yaml") || strings.HasSuffix(l, ".yml") {
		return true
	}
	// Directory create/remove also changes the visible rule set.
	return ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Remove)
}

func addRecursive(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// The path may have vanished between event and walk.
			return nil
		}
		if d.IsDir() {
			return fsw.Add(p)
		}
		return nil
	})
}
