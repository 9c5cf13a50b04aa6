// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"context"
	"crypto/sha1"
	"hash"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileDebounce is the default duration we wait for the contents to have
// stabilised to work around some editors writing an empty file and then the
// buffer.
const FileDebounce = 10 * time.Millisecond

// Change is a configuration change identified by a Watcher. A Change with
// a nil Config and a nil Err indicates that the configuration file was
// removed.
type Change struct {
	Event  []fsnotify.Event
	Config *Config
	Err    error
}

// Op returns an aggregated fsnotify.Op for all elements of the receivers'
// Event field.
func (c Change) Op() fsnotify.Op {
	var op fsnotify.Op
	for _, e := range c.Event {
		op |= e.Op
	}
	return op
}

// Watcher watches a single configuration file, sending semantically
// meaningful changes. The file's directory is watched so that editors
// that replace the file by rename are followed.
type Watcher struct {
	path     string
	debounce time.Duration
	watcher  *fsnotify.Watcher
	changes  chan<- Change
	hash     hash.Hash
	sum      Sum
	log      *slog.Logger
}

// NewWatcher returns a Watcher for the configuration file at path, sending
// change events on the changes channel. The debounce parameter specifies
// how long to wait after an fsnotify.Event before reading the file to
// ensure that writes will be reflected in the state checksum. If it is
// less than zero, FileDebounce is used. The current configuration, if
// the file is valid, is used as the baseline for changes.
func NewWatcher(path string, changes chan<- Change, debounce time.Duration, log *slog.Logger) (*Watcher, error) {
	path, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	err = watcher.Add(filepath.Dir(path))
	if err != nil {
		watcher.Close()
		return nil, err
	}
	if debounce < 0 {
		debounce = FileDebounce
	}
	w := &Watcher{
		path:     path,
		debounce: debounce,
		watcher:  watcher,
		changes:  changes,
		hash:     sha1.New(),
		log:      log.With(slog.String("component", "config_watcher")),
	}
	cfg, err := Load(path)
	if err == nil {
		w.sum, _ = sum(w.hash, cfg)
	}
	return w, nil
}

// Watch sends changes until ctx is cancelled. The underlying fsnotify
// watcher is closed when Watch returns.
func (w *Watcher) Watch(ctx context.Context) error {
	defer w.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			switch {
			case ev.Has(fsnotify.Write), ev.Has(fsnotify.Create):
				w.log.LogAttrs(ctx, slog.LevelDebug, "write", slog.String("name", ev.Name), slog.String("op", ev.Op.String()))
				time.Sleep(w.debounce)

				fi, err := os.Stat(w.path)
				if err != nil {
					w.send(ctx, Change{Event: []fsnotify.Event{ev}, Err: err})
					continue
				}
				if fi.IsDir() {
					continue
				}
				cfg, err := Load(w.path)
				if err != nil {
					w.log.LogAttrs(ctx, slog.LevelWarn, "invalid config", slog.Any("error", err))
					w.send(ctx, Change{Event: []fsnotify.Event{ev}, Err: err})
					continue
				}
				sum, err := sum(w.hash, cfg)
				if err != nil {
					w.send(ctx, Change{Event: []fsnotify.Event{ev}, Err: err})
					continue
				}
				if sum == w.sum {
					w.log.LogAttrs(ctx, slog.LevelDebug, "no change", slog.String("sum", sum.String()))
					continue
				}
				w.log.LogAttrs(ctx, slog.LevelDebug, "set hash", slog.String("sum", sum.String()), slog.String("previous", w.sum.String()))
				w.sum = sum
				w.send(ctx, Change{Event: []fsnotify.Event{ev}, Config: cfg})

			case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
				w.log.LogAttrs(ctx, slog.LevelDebug, "remove", slog.String("name", ev.Name), slog.String("op", ev.Op.String()))
				// A replacement file will not match the previous
				// sum, even if it is identical.
				w.sum = Sum{}
				w.send(ctx, Change{Event: []fsnotify.Event{ev}})
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.send(ctx, Change{Err: err})
		}
	}
}

func (w *Watcher) send(ctx context.Context, c Change) {
	select {
	case <-ctx.Done():
	case w.changes <- c:
	}
}
