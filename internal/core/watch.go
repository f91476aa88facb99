package core

import (
	"context"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/cryophile/cryophile/internal/cryoerr"
)

// WatchEvent is a single filesystem notification forwarded to the
// consumer, plus a sentinel Shutdown flag set when the event observed was
// a create inside the watcher's private shutdown directory.
type WatchEvent struct {
	Path     string
	Op       fsnotify.Op
	Shutdown bool
}

// Watch wraps fsnotify with a private "shutdown directory": any writer
// (this process or another) signals graceful shutdown by creating a file
// inside it, which the event loop recognizes and surfaces as a
// WatchEvent with Shutdown set, instead of a special control channel.
// This keeps the shutdown signal a plain filesystem fact, observable by
// any process with access to the spool, in addition to Go-native
// context cancellation.
type Watch struct {
	watcher     *fsnotify.Watcher
	shutdownDir string
	events      chan WatchEvent
	errs        chan error
	log         logrus.FieldLogger
}

// NewWatch creates a recursive watcher rooted at watchDir plus a private
// shutdown directory under stateDir (typically the spool's state
// subdirectory, so it survives alongside the backup it is supervising).
func NewWatch(ctx context.Context, watchDir, stateDir string, log logrus.FieldLogger) (*Watch, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, cryoerr.New(cryoerr.KindInvalidInput, "fsnotify.NewWatcher", err)
	}

	shutdownDir, err := os.MkdirTemp(stateDir, "shutdown-")
	if err != nil {
		_ = watcher.Close()
		return nil, cryoerr.New(cryoerr.KindInvalidInput, "mkdtemp shutdown dir", err)
	}

	w := &Watch{
		watcher:     watcher,
		shutdownDir: shutdownDir,
		events:      make(chan WatchEvent, 256),
		errs:        make(chan error, 16),
		log:         log,
	}

	if err := w.addRecursive(watchDir); err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := watcher.Add(shutdownDir); err != nil {
		_ = w.Close()
		return nil, cryoerr.New(cryoerr.KindInvalidInput, "watch shutdown dir", err)
	}

	go w.loop(ctx)

	return w, nil
}

// addRecursive registers watchDir and every existing subdirectory beneath
// it; new subdirectories created later are picked up as Create events
// arrive (see loop).
func (w *Watch) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if addErr := w.watcher.Add(path); addErr != nil {
				return addErr
			}
		}
		return nil
	})
}

// Events returns the channel of observed filesystem events, including
// the terminal Shutdown event.
func (w *Watch) Events() <-chan WatchEvent {
	return w.events
}

// Errors returns the channel of non-fatal fsnotify errors encountered
// during the watch loop (e.g. a watched directory removed out from under
// the watcher).
func (w *Watch) Errors() <-chan error {
	return w.errs
}

// ShutdownDir returns the path a separate process can create a file in
// to request graceful shutdown of this Watch's consumer.
func (w *Watch) ShutdownDir() string {
	return w.shutdownDir
}

// RequestShutdown is the in-process convenience for triggering the same
// shutdown condition an external writer would by touching a file in the
// shutdown directory.
func (w *Watch) RequestShutdown() error {
	f, err := os.CreateTemp(w.shutdownDir, "stop-")
	if err != nil {
		return cryoerr.New(cryoerr.KindInvalidInput, "request shutdown", err)
	}
	return f.Close()
}

func (w *Watch) loop(ctx context.Context) {
	defer close(w.events)
	defer close(w.errs)

	for {
		select {
		case <-ctx.Done():
			w.log.Debug("watch: context cancelled")
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if ev.Op&fsnotify.Create == fsnotify.Create {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := w.watcher.Add(ev.Name); addErr != nil {
						w.log.WithError(addErr).Warn("watch: failed to add new subdirectory")
					}
				}
			}

			if filepath.Dir(ev.Name) == w.shutdownDir && ev.Op&fsnotify.Create == fsnotify.Create {
				w.log.WithField("path", ev.Name).Debug("watch: shutdown signal observed")
				select {
				case w.events <- WatchEvent{Path: ev.Name, Op: ev.Op, Shutdown: true}:
				case <-ctx.Done():
				}
				return
			}

			select {
			case w.events <- WatchEvent{Path: ev.Name, Op: ev.Op}:
			case <-ctx.Done():
				return
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errs <- err:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Close releases the underlying fsnotify watcher and removes the private
// shutdown directory. The event/error channels are closed by the running
// loop goroutine once it observes the watcher's channels closing.
func (w *Watch) Close() error {
	err := w.watcher.Close()
	if rmErr := os.RemoveAll(w.shutdownDir); rmErr != nil && err == nil {
		err = rmErr
	}
	if err != nil {
		return cryoerr.New(cryoerr.KindInvalidInput, "watch.close", err)
	}
	return nil
}
