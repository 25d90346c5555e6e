package app

import (
	"context"
	"path/filepath"
	"reflect"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"toolgate/internal/domain"
	"toolgate/internal/infra/catalog"
)

const reloadDebounce = 250 * time.Millisecond

// catalogWatcher applies config file changes to the running gateway. Only the
// backend set is live-reloaded; runtime knob changes take effect on restart.
type catalogWatcher struct {
	loader  *catalog.Loader
	gateway *Gateway
	path    string
	current domain.Catalog
	logger  *zap.Logger
}

func newCatalogWatcher(loader *catalog.Loader, gateway *Gateway, path string, current domain.Catalog, logger *zap.Logger) *catalogWatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &catalogWatcher{
		loader:  loader,
		gateway: gateway,
		path:    path,
		current: current,
		logger:  logger.Named("reload"),
	}
}

// Run watches the config file until ctx is canceled. Events are debounced:
// editors produce bursts of writes and renames per save.
func (w *catalogWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory, not the file: save-via-rename replaces the inode
	// and a file watch would go stale after the first save.
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(reloadDebounce)
			}
		case <-timerC:
			timer = nil
			timerC = nil
			w.reload(ctx)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watch error", zap.Error(err))
		}
	}
}

func (w *catalogWatcher) reload(ctx context.Context) {
	next, err := w.loader.Load(ctx, w.path)
	if err != nil {
		// Keep running on the last good catalog.
		w.logger.Warn("config reload rejected", zap.Error(err))
		return
	}

	added, removed, changed := diffBackends(w.current.Backends, next.Backends)
	if len(added)+len(removed)+len(changed) == 0 {
		w.logger.Debug("config reload produced no backend changes")
		w.current = next
		return
	}

	for _, name := range removed {
		if err := w.gateway.DeregisterBackend(ctx, name); err != nil {
			w.logger.Warn("reload: deregister failed", zap.String("backend", name), zap.Error(err))
		}
	}
	for _, name := range changed {
		if err := w.gateway.DeregisterBackend(ctx, name); err != nil {
			w.logger.Warn("reload: deregister failed", zap.String("backend", name), zap.Error(err))
			continue
		}
		if _, err := w.gateway.RegisterBackend(ctx, next.Backends[name]); err != nil {
			w.logger.Warn("reload: relaunch failed", zap.String("backend", name), zap.Error(err))
		}
	}
	for _, name := range added {
		if _, err := w.gateway.RegisterBackend(ctx, next.Backends[name]); err != nil {
			w.logger.Warn("reload: register failed", zap.String("backend", name), zap.Error(err))
		}
	}

	w.logger.Info("config reloaded",
		zap.Strings("added", added),
		zap.Strings("removed", removed),
		zap.Strings("changed", changed),
	)
	w.current = next
}

func diffBackends(current, next map[string]domain.BackendSpec) (added, removed, changed []string) {
	for name, spec := range next {
		old, ok := current[name]
		switch {
		case !ok:
			added = append(added, name)
		case !reflect.DeepEqual(old, spec):
			changed = append(changed, name)
		}
	}
	for name := range current {
		if _, ok := next[name]; !ok {
			removed = append(removed, name)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	sort.Strings(changed)
	return added, removed, changed
}
