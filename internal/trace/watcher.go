package trace

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "ttiwatch/pkg/logx"
)

// Handler processes one spooled recording. It is called at most once per file.
type Handler func(ctx context.Context, path string)

// SpoolWatcher replays recordings dropped into a directory. Files are picked
// up on create/write with a short debounce so a recording still being written
// is not read half-way.
type SpoolWatcher struct {
	dir     string
	log     logx.Logger
	handler Handler

	mu     sync.Mutex
	seen   map[string]bool
	timers map[string]*time.Timer
}

func NewSpoolWatcher(dir string, log logx.Logger, handler Handler) *SpoolWatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &SpoolWatcher{
		dir:     dir,
		log:     log,
		handler: handler,
		seen:    map[string]bool{},
		timers:  map[string]*time.Timer{},
	}
}

// Run watches the spool directory until ctx is done. Recordings already
// present at startup are processed first. The fsnotify watcher is recreated
// with a jittered backoff when it fails, same self-heal approach as the
// config watcher.
func (w *SpoolWatcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	w.sweep(ctx)

	const (
		restartBackoffBase = 250 * time.Millisecond
		restartBackoffMax  = 5 * time.Second
	)
	backoff := restartBackoffBase
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	for {
		if ctx.Err() != nil {
			return nil
		}

		fw, err := fsnotify.NewWatcher()
		if err == nil {
			err = fw.Add(w.dir)
			if err != nil {
				_ = fw.Close()
			}
		}
		if err != nil {
			w.log.Warn("spool watch init failed", logx.Any("err", err), logx.String("dir", w.dir))
			wait := backoff + time.Duration(rng.Int63n(int64(backoff/2)+1))
			if backoff < restartBackoffMax {
				backoff *= 2
				if backoff > restartBackoffMax {
					backoff = restartBackoffMax
				}
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
				continue
			}
		}
		backoff = restartBackoffBase

		// catch files dropped while the watcher was down
		w.sweep(ctx)

		broken := w.loop(ctx, fw)
		_ = fw.Close()
		if !broken {
			return nil
		}
		w.log.Warn("spool watcher stopped; restarting", logx.String("dir", w.dir))
	}
}

// loop consumes watcher events. Returns true if the watcher broke and should
// be recreated, false on context cancellation.
func (w *SpoolWatcher) loop(ctx context.Context, fw *fsnotify.Watcher) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-fw.Events:
			if !ok {
				return true
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if !IsTraceFile(filepath.Base(ev.Name)) {
				continue
			}
			w.schedule(ctx, ev.Name)
		case err, ok := <-fw.Errors:
			if !ok {
				return true
			}
			if err != nil {
				w.log.Warn("spool watch error", logx.Any("err", err))
				if errors.Is(err, fsnotify.ErrEventOverflow) {
					w.sweep(ctx)
				}
			}
		}
	}
}

// sweep processes every unseen recording already in the directory.
func (w *SpoolWatcher) sweep(ctx context.Context) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.log.Warn("spool scan failed", logx.Any("err", err), logx.String("dir", w.dir))
		return
	}
	for _, ent := range entries {
		if ent.IsDir() || !IsTraceFile(ent.Name()) {
			continue
		}
		w.schedule(ctx, filepath.Join(w.dir, ent.Name()))
	}
}

// schedule arms (or re-arms) the per-file debounce. The handler fires once
// the file has been quiet for the debounce interval.
func (w *SpoolWatcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.seen[path] {
		return
	}
	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(250*time.Millisecond, func() {
		w.mu.Lock()
		if w.seen[path] {
			w.mu.Unlock()
			return
		}
		w.seen[path] = true
		delete(w.timers, path)
		w.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		w.log.Debug("replaying spooled trace", logx.String("path", path))
		w.handler(ctx, path)
	})
}
