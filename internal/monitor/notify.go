package monitor

import (
	"log"
	"sync"

	"github.com/agent-racer/runwatch/internal/run"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
)

// Notifier watches the runs directory and every run directory in it and
// signals Wake on any change. Bursts of events coalesce into one pending
// signal. Polling still drives correctness; the notifier only shortens
// latency.
type Notifier struct {
	fsw       *fsnotify.Watcher
	wake      chan struct{}
	mu        sync.Mutex
	watched   map[string]bool
	closeOnce sync.Once
}

func NewNotifier() (*Notifier, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "create fsnotify watcher")
	}
	n := &Notifier{
		fsw:     fsw,
		wake:    make(chan struct{}, 1),
		watched: make(map[string]bool),
	}
	go n.loop()
	return n, nil
}

// Wake returns a channel that receives a value after watched paths change.
// It is closed when the notifier stops.
func (n *Notifier) Wake() <-chan struct{} {
	return n.wake
}

// Sync makes the watch set the root plus the given run directories. Paths
// that cannot be watched yet (a root that does not exist) are retried on
// the next call.
func (n *Notifier) Sync(root string, runs []run.Run) {
	want := make(map[string]bool, len(runs)+1)
	want[root] = true
	for _, r := range runs {
		want[r.Dir] = true
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	for path := range n.watched {
		if !want[path] {
			// Removed directories drop their watch on their own; ignore the error.
			_ = n.fsw.Remove(path)
			delete(n.watched, path)
		}
	}
	for path := range want {
		if n.watched[path] {
			continue
		}
		if err := n.fsw.Add(path); err != nil {
			continue
		}
		n.watched[path] = true
	}
}

// Close stops the watcher. It is safe to call more than once.
func (n *Notifier) Close() error {
	var err error
	n.closeOnce.Do(func() {
		err = n.fsw.Close()
	})
	return err
}

func (n *Notifier) loop() {
	defer close(n.wake)
	for {
		select {
		case _, ok := <-n.fsw.Events:
			if !ok {
				return
			}
			select {
			case n.wake <- struct{}{}:
			default:
			}
		case err, ok := <-n.fsw.Errors:
			if !ok {
				return
			}
			log.Printf("[notify] watcher error: %v", err)
		}
	}
}
