package watch

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/samber/lo"
)

// Waker turns filesystem events into poll requests. Events are coalesced:
// however many arrive between two polls, C delivers at most one signal.
//
// The poll loop stays authoritative; a missed or spurious event only moves
// the next poll earlier or leaves it at its regular interval.
type Waker struct {
	fsw    *fsnotify.Watcher
	c      chan struct{}
	done   chan struct{}
	logger *slog.Logger
}

// NewWaker watches the directories containing paths. Paths that are
// directories themselves are watched directly. Directories that do not
// exist are skipped.
func NewWaker(paths []string, logger *slog.Logger) (*Waker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	dirs := lo.Uniq(lo.Map(paths, func(p string, _ int) string {
		if fi, err := os.Stat(p); err == nil && fi.IsDir() {
			return filepath.Clean(p)
		}
		return filepath.Dir(p)
	}))
	for _, dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			logger.Warn("watch: cannot watch directory", "dir", dir, "error", err)
		}
	}

	w := &Waker{
		fsw:    fsw,
		c:      make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: logger,
	}
	go w.loop()
	return w, nil
}

// C fires after filesystem activity in a watched directory.
func (w *Waker) C() <-chan struct{} { return w.c }

// Close stops watching.
func (w *Waker) Close() error {
	err := w.fsw.Close()
	<-w.done
	return err
}

func (w *Waker) loop() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) {
				continue
			}
			w.logger.Debug("watch: filesystem event", "name", ev.Name, "op", ev.Op.String())
			select {
			case w.c <- struct{}{}:
			default:
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch: filesystem watcher error", "error", err)
		}
	}
}
