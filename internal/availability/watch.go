package availability

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher logs when the configured model file appears in or disappears from
// the search directories, e.g. when a download finishes. It only informs
// operators; every request still runs the Checker itself.
type Watcher struct {
	checker *Checker
	log     zerolog.Logger

	ready     chan struct{}
	available atomic.Bool
	events    atomic.Int64
}

// NewWatcher creates a watcher over checker's search directories.
func NewWatcher(checker *Checker, log zerolog.Logger) *Watcher {
	return &Watcher{
		checker: checker,
		log:     log.With().Str("component", "watcher").Logger(),
		ready:   make(chan struct{}),
	}
}

// Ready is closed once the directories are being watched.
func (w *Watcher) Ready() <-chan struct{} { return w.ready }

// Available reports the model state as last seen by the watcher.
func (w *Watcher) Available() bool { return w.available.Load() }

// Run watches until ctx is done. Directories that do not exist are skipped.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	watched := 0
	for _, dir := range w.checker.SearchDirs() {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			w.log.Debug().Str("dir", dir).Msg("model directory missing, not watching")
			continue
		}
		if err := fw.Add(dir); err != nil {
			w.log.Warn().Err(err).Str("dir", dir).Msg("failed to watch model directory")
			continue
		}
		watched++
	}

	w.available.Store(w.checker.ModelAvailable())
	w.log.Info().
		Int("directories", watched).
		Str("model_file", w.checker.ModelFilename()).
		Bool("model_found", w.available.Load()).
		Msg("model watcher started")
	close(w.ready)

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Int64("events", w.events.Load()).Msg("model watcher stopped")
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn().Err(err).Msg("model watcher error")
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if filepath.Base(ev.Name) != w.checker.ModelFilename() {
		return
	}
	w.events.Add(1)

	now := w.checker.ModelAvailable()
	if prev := w.available.Swap(now); prev == now {
		return
	}
	if now {
		path, _ := w.checker.ResolveModel()
		w.log.Info().Str("path", path).Str("op", ev.Op.String()).Msg("model file available")
	} else {
		w.log.Warn().Str("path", ev.Name).Str("op", ev.Op.String()).Msg("model file no longer available")
	}
}
