package plugin

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher hot-reloads plugins when their files change on disk. A reload
// that fails keeps the previous instance live and surfaces the failure
// through the warning callback.
type Watcher struct {
	host    *Host
	watcher *fsnotify.Watcher
	byPath  map[string]*Plugin
	onWarn  func(error)
	done    chan struct{}
}

// Watch starts watching every currently-loaded plugin's file. onWarn
// receives reload failures; a nil callback discards them.
func Watch(ctx context.Context, host *Host, onWarn func(error)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create plugin watcher: %w", err)
	}
	w := &Watcher{
		host:    host,
		watcher: fsw,
		byPath:  make(map[string]*Plugin),
		onWarn:  onWarn,
		done:    make(chan struct{}),
	}

	host.mu.Lock()
	plugins := append([]*Plugin(nil), host.plugins...)
	host.mu.Unlock()

	for _, p := range plugins {
		abs, err := filepath.Abs(p.Path)
		if err != nil {
			_ = fsw.Close()
			return nil, fmt.Errorf("failed to resolve plugin path %s: %w", p.Path, err)
		}
		// Watch the directory, not the file: editors and compilers often
		// replace the file wholesale, which drops a file-level watch.
		if err := fsw.Add(filepath.Dir(abs)); err != nil {
			_ = fsw.Close()
			return nil, fmt.Errorf("failed to watch %s: %w", abs, err)
		}
		w.byPath[abs] = p
	}

	go w.run(ctx)
	return w, nil
}

// Close stops watching. Loaded plugins stay live.
func (w *Watcher) Close() error {
	err := w.watcher.Close()
	<-w.done
	return err
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			abs, err := filepath.Abs(event.Name)
			if err != nil {
				continue
			}
			p, watched := w.byPath[abs]
			if !watched {
				continue
			}
			if err := w.host.reload(ctx, p); err != nil {
				w.warn(fmt.Errorf("reload of plugin %s failed, keeping previous instance: %w", p.Name, err))
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.warn(fmt.Errorf("plugin watcher: %w", err))
		}
	}
}

func (w *Watcher) warn(err error) {
	if w.onWarn != nil {
		w.onWarn(err)
	}
}
