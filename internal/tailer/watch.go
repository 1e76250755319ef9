package tailer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/nxadm/tail/watch"
	"go.uber.org/zap"
	"gopkg.in/tomb.v1"
)

// Op is the kind of filesystem notification
type Op int

const (
	OpAdded Op = iota + 1
	OpChanged
	OpRemoved
	OpError
)

func (o Op) String() string {
	switch o {
	case OpAdded:
		return "added"
	case OpChanged:
		return "changed"
	case OpRemoved:
		return "removed"
	case OpError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one notification from a watch service
type Event struct {
	Op   Op
	Path string
	Err  error
}

// Watcher emits notifications for log files in a directory. Watch blocks until
// ctx is cancelled or the subscription fails. It reports every existing file as
// added before any other event.
type Watcher interface {
	Watch(ctx context.Context, events chan<- Event) error
}

const logGlob = "*.txt"

// listLogs returns the files in dir matching the log glob, sorted by name
func listLogs(dir string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, logGlob))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

func isLogPath(path string) bool {
	ok, _ := filepath.Match(logGlob, filepath.Base(path))
	return ok
}

func emit(ctx context.Context, events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// NotifyWatcher uses inotify (or the platform equivalent) on the directory
type NotifyWatcher struct {
	dir    string
	logger *zap.Logger
}

// NewNotifyWatcher creates a notification based watcher for dir
func NewNotifyWatcher(dir string, logger *zap.Logger) *NotifyWatcher {
	return &NotifyWatcher{dir: dir, logger: logger}
}

// Watch implements Watcher
func (w *NotifyWatcher) Watch(ctx context.Context, events chan<- Event) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}

	existing, err := listLogs(w.dir)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", w.dir, err)
	}
	for _, path := range existing {
		if !emit(ctx, events, Event{Op: OpAdded, Path: path}) {
			return ctx.Err()
		}
	}

	w.logger.Debug("Watching directory", zap.String("dir", w.dir), zap.String("mode", "notify"))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case fe, ok := <-fsw.Events:
			if !ok {
				return fmt.Errorf("fsnotify event channel closed")
			}
			if !isLogPath(fe.Name) {
				continue
			}

			var op Op
			switch {
			case fe.Has(fsnotify.Create):
				op = OpAdded
			case fe.Has(fsnotify.Write):
				op = OpChanged
			case fe.Has(fsnotify.Remove), fe.Has(fsnotify.Rename):
				op = OpRemoved
			default:
				continue
			}
			if !emit(ctx, events, Event{Op: op, Path: fe.Name}) {
				return ctx.Err()
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return fmt.Errorf("fsnotify error channel closed")
			}
			if !emit(ctx, events, Event{Op: OpError, Err: err}) {
				return ctx.Err()
			}
		}
	}
}

// PollWatcher rescans the directory on an interval and follows each file with
// a stat-polling change watcher. It works on filesystems without inotify
// support, such as network mounts and some Wine prefixes. The per-file poll
// rate comes from SetFilePollInterval.
type PollWatcher struct {
	dir      string
	interval time.Duration
	logger   *zap.Logger
}

// NewPollWatcher creates a polling watcher for dir
func NewPollWatcher(dir string, interval time.Duration, logger *zap.Logger) *PollWatcher {
	return &PollWatcher{dir: dir, interval: interval, logger: logger}
}

// SetFilePollInterval sets how often followed files are stat-polled. The
// setting is process-wide and must be applied before any PollWatcher starts.
func SetFilePollInterval(d time.Duration) {
	watch.POLL_DURATION = d
}

// Watch implements Watcher
func (w *PollWatcher) Watch(ctx context.Context, events chan<- Event) error {
	tracked := make(map[string]*tomb.Tomb)
	gone := make(chan string, 16)
	defer func() {
		for _, t := range tracked {
			t.Kill(nil)
		}
	}()

	scan := func() bool {
		paths, err := listLogs(w.dir)
		if err != nil {
			return emit(ctx, events, Event{Op: OpError, Err: fmt.Errorf("failed to scan %s: %w", w.dir, err)})
		}

		present := make(map[string]struct{}, len(paths))
		for _, path := range paths {
			present[path] = struct{}{}
			if _, ok := tracked[path]; ok {
				continue
			}
			t, err := w.follow(ctx, path, events, gone)
			if err != nil {
				// Removed between the scan and the stat; the next scan settles it.
				w.logger.Debug("Failed to follow file", zap.String("file", path), zap.Error(err))
				continue
			}
			tracked[path] = t
			if !emit(ctx, events, Event{Op: OpAdded, Path: path}) {
				return false
			}
		}

		for path, t := range tracked {
			if _, ok := present[path]; ok {
				continue
			}
			t.Kill(nil)
			delete(tracked, path)
			if !emit(ctx, events, Event{Op: OpRemoved, Path: path}) {
				return false
			}
		}
		return true
	}

	if !scan() {
		return ctx.Err()
	}

	w.logger.Debug("Watching directory",
		zap.String("dir", w.dir),
		zap.String("mode", "poll"),
		zap.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case path := <-gone:
			if t, ok := tracked[path]; ok {
				t.Kill(nil)
				delete(tracked, path)
			}

		case <-ticker.C:
			if !scan() {
				return ctx.Err()
			}
		}
	}
}

// follow starts a change watcher for one file. Modifications and truncations
// become changed events; deletion or replacement becomes a removed event and
// the path is handed back through gone so the next scan can pick up a new file
// under the same name.
func (w *PollWatcher) follow(ctx context.Context, path string, events chan<- Event, gone chan<- string) (*tomb.Tomb, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	t := &tomb.Tomb{}
	changes, err := watch.NewPollingFileWatcher(path).ChangeEvents(t, info.Size())
	if err != nil {
		return nil, err
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.Dying():
				return
			case <-changes.Modified:
				if !emit(ctx, events, Event{Op: OpChanged, Path: path}) {
					return
				}
			case <-changes.Truncated:
				if !emit(ctx, events, Event{Op: OpChanged, Path: path}) {
					return
				}
			case <-changes.Deleted:
				if !emit(ctx, events, Event{Op: OpRemoved, Path: path}) {
					return
				}
				select {
				case gone <- path:
				case <-ctx.Done():
				}
				return
			}
		}
	}()

	return t, nil
}
