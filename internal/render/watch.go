package render

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/robb-j/husky-cms/internal/xerrors"
)

// debounce groups editor save bursts into one reload.
const debounce = 150 * time.Millisecond

// Watch reloads the templates whenever an .html file in dir changes. It blocks
// until ctx is cancelled. Used in dev mode only.
func (r *Renderer) Watch(ctx context.Context, dir string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return xerrors.Wrap(err, "create template watcher")
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		return xerrors.Wrapf(err, "watch %s", dir)
	}
	r.opts.Logger.Info(ctx, "watching templates", "dir", dir)

	var (
		timer   *time.Timer
		pending string
		fire    <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !relevant(ev) {
				continue
			}
			pending = filepath.Base(ev.Name)
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			r.logReload(ctx, pending)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			r.opts.Logger.Warn(ctx, "template watcher error", "err", err)
		}
	}
}

func relevant(ev fsnotify.Event) bool {
	if !strings.HasSuffix(ev.Name, ext) {
		return false
	}
	return ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0
}
