package account

import (
	"context"
	"path/filepath"
	"reflect"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// debounce window for editors that emit several write events per save.
const reloadDebounce = 250 * time.Millisecond

// Watch reloads the roster whenever its file changes on disk. It blocks until
// the context is cancelled. Watching the parent directory keeps the watch
// alive across atomic-rename saves.
func Watch(ctx context.Context, roster *Roster, logger zerolog.Logger) error {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(roster.path)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	target := filepath.Clean(roster.path)

	var timer *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-reload:
			if err := roster.Reload(); err != nil {
				logger.Error().Err(err).Str("file", roster.path).Msg("account roster reload failed; keeping previous roster")
				continue
			}
			logger.Info().Str("file", roster.path).Int("accounts", roster.Len()).Msg("account roster reloaded")

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDebounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error().Err(err).Msg("account roster watcher error")
		}
	}
}
