// Package reload watches the config file for changes and re-runs a
// caller-supplied reload function, debounced the same way mosdns's
// certificate watcher (pkg/server/tls.go) debounces cert
// file events: a timer that keeps getting reset on every event, so a
// burst of writes from an editor's save-as-rename dance triggers one
// reload, not several.
package reload

import (
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/swiftdns/swiftdns/internal/mlog"
)

const debounce = 500 * time.Millisecond

// Watcher reloads onChange whenever any of the watched files changes.
type Watcher struct {
	watcher  *fsnotify.Watcher
	stop     chan struct{}
	onChange func()
}

// Watch starts watching paths and calling onChange (debounced) whenever
// one of them is written, renamed, or removed. The returned Watcher must
// be closed with Close when no longer needed.
func Watch(paths []string, onChange func()) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, p := range paths {
		if err := fw.Add(p); err != nil {
			mlog.L().Warn("reload: failed to watch path", zap.String("path", p), zap.Error(err))
		}
	}

	w := &Watcher{watcher: fw, stop: make(chan struct{}), onChange: onChange}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-w.stop:
			timer.Stop()
			return
		case e, ok := <-w.watcher.Events:
			if !ok {
				timer.Stop()
				return
			}
			if e.Has(fsnotify.Chmod) {
				continue
			}
			mlog.L().Info("reload: watched file changed", zap.String("file", e.Name), zap.Stringer("op", e.Op))
			resetTimer(timer, debounce)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			mlog.L().Warn("reload: watcher error", zap.Error(err))
		case <-timer.C:
			w.onChange()
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

// Close stops the watcher goroutine and releases the underlying
// fsnotify.Watcher.
func (w *Watcher) Close() error {
	close(w.stop)
	return w.watcher.Close()
}
