package intake

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// settleDelay is how long a file must be quiet before it is reported,
// so half-written files are not picked up mid-copy.
const settleDelay = 200 * time.Millisecond

// Handler receives the path of each settled graph file, or a watcher
// error with an empty path.
type Handler func(path string, err error)

// Watch monitors a directory for new .yaml graph files and invokes the
// handler for each one after it settles. Blocking; runs until the
// context is cancelled.
func Watch(ctx context.Context, dir string, handler Handler) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		return err
	}

	pending := make(map[string]*time.Timer)
	fire := make(chan string, 16)

	for {
		select {
		case <-ctx.Done():
			for _, t := range pending {
				t.Stop()
			}
			return ctx.Err()

		case path := <-fire:
			delete(pending, path)
			handler(path, nil)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			ext := strings.ToLower(filepath.Ext(ev.Name))
			if ext != ".yaml" && ext != ".yml" {
				continue
			}
			path := ev.Name
			if t, exists := pending[path]; exists {
				t.Reset(settleDelay)
				continue
			}
			pending[path] = time.AfterFunc(settleDelay, func() {
				select {
				case fire <- path:
				case <-ctx.Done():
				}
			})

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			handler("", err)
		}
	}
}
