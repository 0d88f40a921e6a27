// Package watch implements the watch loop (§4.10): a debounced,
// fsnotify-backed file watcher feeding a bounded rerun loop for a single
// resolved task.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is used when a caller configures no debounce window.
const DefaultDebounce = 300 * time.Millisecond

// FileWatcher watches a directory tree for changes matching a Matcher,
// collapsing bursts of events into a single debounced batch per Wait call.
// It satisfies pkg/interfaces.Watcher.
type FileWatcher struct {
	fsw      *fsnotify.Watcher
	matcher  *Matcher
	debounce time.Duration
}

// New walks root, registering every non-skipped directory with fsnotify,
// and returns a FileWatcher ready for Wait.
func New(root string, matcher *Matcher, debounce time.Duration) (*FileWatcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := addTreeRecursive(fsw, root); err != nil {
		fsw.Close()
		return nil, err
	}

	return &FileWatcher{fsw: fsw, matcher: matcher, debounce: debounce}, nil
}

func addTreeRecursive(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() != filepath.Base(root) && skipDirNames[d.Name()] {
			return filepath.SkipDir
		}
		return fsw.Add(path)
	})
}

// Wait blocks until a debounced batch of matcher-relevant changed paths is
// ready, ctx is done, or the underlying watcher errors out. A newly created
// directory is registered with fsnotify immediately so changes inside it
// are not missed.
func (w *FileWatcher) Wait(ctx context.Context) ([]string, error) {
	var timer *time.Timer
	var timerC <-chan time.Time
	pending := map[string]bool{}

	resetTimer := func() {
		if timer != nil {
			timer.Stop()
		}
		timer = time.NewTimer(w.debounce)
		timerC = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil, ctx.Err()

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil, nil
			}
			if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() && ev.Op&fsnotify.Create != 0 {
				_ = addTreeRecursive(w.fsw, ev.Name)
			}
			if !w.matcher.Matches(filepath.ToSlash(ev.Name)) {
				continue
			}
			pending[ev.Name] = true
			resetTimer()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil, nil
			}
			return nil, err

		case <-timerC:
			changed := make([]string, 0, len(pending))
			for p := range pending {
				changed = append(changed, p)
			}
			return changed, nil
		}
	}
}

// Close releases the underlying fsnotify watcher.
func (w *FileWatcher) Close() error {
	return w.fsw.Close()
}
