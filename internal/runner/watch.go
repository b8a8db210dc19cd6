/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package runner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"

	"github.com/chazu/modport/pkg/cuehost"
	"github.com/chazu/modport/pkg/luahost"
	"github.com/chazu/modport/pkg/moduleloader"
)

// Watch runs entry, then re-runs it in a fresh realm whenever a file in a
// directory of a loaded module changes. Load errors are printed and do not
// stop the loop. Watch returns when ctx is cancelled.
func (r *Runner) Watch(ctx context.Context, entry string) error {
	logger := logr.FromContextOrDiscard(ctx)

	w, err := newWatcher(r.cfg.WatchDebounce, logger)
	if err != nil {
		return err
	}
	defer w.stop()

	h := r.newHosts()
	defer h.shutdown()
	eh := h.forEntry(entry)

	entryPath, err := moduleloader.Canonicalize(entry, "", r.getwd)
	if err != nil {
		return err
	}

	for {
		rl := eh.NewSession(ctx)
		dirs := []string{filepath.Dir(entryPath)}

		module, err := r.load(ctx, rl, entry)
		if err != nil {
			dirs = append(dirs, r.failedDirs(err, filepath.Dir(entryPath))...)
		}
		for _, rec := range eh.Records(moduleloader.ForRealm(rl.registryRealm())) {
			dirs = append(dirs, rec.BaseDir())
		}

		// Directories are watched before the report is printed
		w.add(dirs)
		if err != nil {
			fmt.Fprintf(r.out, "error: %v\n", err)
		} else {
			fmt.Fprintln(r.out, summary(rl, module))
		}

		select {
		case <-ctx.Done():
			rl.Close()
			return nil
		case <-w.changes:
			released := rl.Close()
			logger.Info("Change detected, reloading", "entry", entry, "released", released)
		}
	}
}

// failedDirs returns the directories of the modules named in the chain of
// err. Specifiers that failed to parse are resolved against the directory of
// the module that imported them, starting from base.
func (r *Runner) failedDirs(err error, base string) []string {
	var dirs []string
	addSpecifier := func(specifier, from string) {
		if path, err := moduleloader.Canonicalize(specifier, from, r.getwd); err == nil {
			dirs = append(dirs, filepath.Dir(path))
		}
	}

	for err != nil {
		switch e := err.(type) {
		case *moduleloader.Error:
			if e.Path != "" {
				dirs = append(dirs, filepath.Dir(e.Path))
			}
		case *luahost.EvalError:
			base = filepath.Dir(e.Path)
			dirs = append(dirs, base)
		case *luahost.SyntaxError:
			addSpecifier(e.ResourceName, base)
		case *cuehost.ImportError:
			base = filepath.Dir(e.Path)
			addSpecifier(e.Specifier, base)
		}
		err = errors.Unwrap(err)
	}
	return dirs
}

// watcher debounces file system events into change notifications
type watcher struct {
	fs       *fsnotify.Watcher
	debounce time.Duration
	watched  map[string]bool
	changes  chan struct{}
	done     chan struct{}
	log      logr.Logger
}

func newWatcher(debounce time.Duration, logger logr.Logger) (*watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	w := &watcher{
		fs:       fsw,
		debounce: debounce,
		watched:  make(map[string]bool),
		changes:  make(chan struct{}, 1),
		done:     make(chan struct{}),
		log:      logger,
	}
	go w.loop()
	return w, nil
}

// add watches every directory not already watched
func (w *watcher) add(dirs []string) {
	for _, dir := range dirs {
		dir = filepath.Clean(dir)
		if w.watched[dir] {
			continue
		}
		if err := w.fs.Add(dir); err != nil {
			w.log.Error(err, "Failed to watch directory", "dir", dir)
			continue
		}
		w.watched[dir] = true
		w.log.V(1).Info("Watching directory", "dir", dir)
	}
}

func (w *watcher) stop() {
	close(w.done)
	if err := w.fs.Close(); err != nil {
		w.log.Error(err, "Failed to close watcher")
	}
}

func (w *watcher) loop() {
	var (
		timer   *time.Timer
		pending bool
	)

	for {
		select {
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !isRelevantEvent(event) {
				continue
			}

			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			pending = true

		case <-func() <-chan time.Time {
			if timer != nil {
				return timer.C
			}
			return nil
		}():
			if pending {
				// Drop if a change is already queued
				select {
				case w.changes <- struct{}{}:
				default:
				}
				pending = false
			}

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.log.Error(err, "Watch error")

		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

// isRelevantEvent ignores attribute changes and hidden files such as editor
// swap files
func isRelevantEvent(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	return !strings.HasPrefix(filepath.Base(event.Name), ".")
}
