package disklog

import (
	"log/slog"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/henricavalcante/tungsten-replicator-sub005/internal/logger"
)

// notifier wakes every blocked reader at once. Each waiter takes the
// current channel and blocks on it; broadcast closes that channel and
// installs a fresh one.
type notifier struct {
	mu sync.Mutex
	ch chan struct{}
}

func newNotifier() *notifier {
	return &notifier{ch: make(chan struct{})}
}

// wait returns a channel that is closed by the next broadcast. Callers
// must take it before checking for data to avoid missing a wake-up.
func (n *notifier) wait() <-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ch
}

func (n *notifier) broadcast() {
	n.mu.Lock()
	close(n.ch)
	n.ch = make(chan struct{})
	n.mu.Unlock()
}

// dirWatcher broadcasts on every change to a log directory. Read-only logs
// use it to follow a writer running in another process.
type dirWatcher struct {
	w    *fsnotify.Watcher
	done chan struct{}
	wg   sync.WaitGroup
}

func watchDir(dir string, n *notifier, log *slog.Logger) (*dirWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, err
	}

	dw := &dirWatcher{w: w, done: make(chan struct{})}
	dw.wg.Add(1)
	go func() {
		defer dw.wg.Done()
		for {
			select {
			case <-dw.done:
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					n.broadcast()
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Debug("directory watch error", logger.Err(err))
			}
		}
	}()
	return dw, nil
}

func (dw *dirWatcher) close() error {
	close(dw.done)
	err := dw.w.Close()
	dw.wg.Wait()
	return err
}
