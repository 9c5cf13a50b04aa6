// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The radar executable serves animated radar loop GIFs built from the
// static map layers and the most recent scans held in a remote store.
//
// By default the server listens on :9009 and serves the loop for the
// default product at the root path. Named products are served at
// /radar/{product}.gif and, when history is enabled, recent renders are
// listed at /history/{product}.
//
// The configuration is read from the file given by the -config flag or
// radar/radar.toml in the user's configuration directory, and is reloaded
// when the file changes. With -render the loop for a single product is
// written to the -out file, or stdout, and the program exits.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/kortschak/radar/internal/config"
	"github.com/kortschak/radar/internal/history"
	"github.com/kortschak/radar/internal/radar"
	"github.com/kortschak/radar/internal/sink"
	"github.com/kortschak/radar/internal/slogext"
	"github.com/kortschak/radar/internal/version"
	"github.com/kortschak/radar/internal/xdg"
)

// Exit status codes.
const (
	success       = 0
	internalError = 1 << (iota - 1)
	invocationError
)

func main() { os.Exit(Main()) }

func Main() int {
	cfgPath := flag.String("config", "", "configuration file (default radar/radar.toml in the user config directory)")
	addr := flag.String("addr", "", "server address (overrides config)")
	product := flag.String("render", "", "render the loop for the product to -out and exit")
	out := flag.String("out", "", "output path for -render (default stdout)")
	logging := flag.String("log", "", "logging level (debug, info, warn or error; default from config)")
	lines := flag.Bool("lines", false, "display source line details in logs")
	v := flag.Bool("version", false, "print version and exit")
	flag.Parse()
	if *v {
		err := version.Fprint(os.Stdout)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return internalError
		}
		return success
	}
	if flag.NArg() != 0 {
		flag.Usage()
		return invocationError
	}

	cfg, path, err := loadConfig(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return invocationError
	}

	var level slog.LevelVar
	lvl := cfg.Log.Level
	if *logging != "" {
		lvl = *logging
	}
	err = level.UnmarshalText([]byte(lvl))
	if err != nil {
		flag.Usage()
		return invocationError
	}
	addSource := slogext.NewAtomicBool(*lines || cfg.Log.AddSource)

	// log is the root logger.
	log := slog.New(slogext.GoID{Handler: slogext.NewJSONHandler(os.Stderr, &slogext.HandlerOptions{
		Level:     &level,
		AddSource: addSource,
	})})
	// mlog is the logger for main.
	mlog := log.With(slog.String("component", "radar.main"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		log.LogAttrs(ctx, slog.LevelInfo, "terminating")
		cancel()
	}()

	if path != "" {
		mlog.LogAttrs(ctx, slog.LevelInfo, "config", slog.String("path", path))
	} else {
		mlog.LogAttrs(ctx, slog.LevelInfo, "default config")
	}

	var hist *history.DB
	if cfg.History.Path != "" {
		histPath, err := statePath(cfg.History.Path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to find history store: %v\n", err)
			return internalError
		}
		hist, err = history.Open(histPath, log)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open history store: %v\n", err)
			return internalError
		}
		defer hist.Close()
		mlog.LogAttrs(ctx, slog.LevelInfo, "history", slog.String("path", histPath))
	}

	snap, err := newSnapshot(cfg, nil, hist, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		return invocationError
	}

	if *product != "" {
		return render(ctx, snap, *product, *out)
	}

	srv := newServer(snap, hist, log)
	if path != "" {
		changes := make(chan config.Change)
		w, err := config.NewWatcher(path, changes, -1, log)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to watch config: %v\n", err)
			return internalError
		}
		go func() {
			err := w.Watch(ctx)
			if err != nil {
				mlog.LogAttrs(ctx, slog.LevelError, "config watcher", slog.Any("error", err))
			}
		}()
		go srv.reload(ctx, changes, func(cfg *config.Config) {
			if *logging == "" {
				err := level.UnmarshalText([]byte(cfg.Log.Level))
				if err != nil {
					mlog.LogAttrs(ctx, slog.LevelWarn, "invalid log level", slog.Any("error", err))
				}
			}
			addSource.Store(*lines || cfg.Log.AddSource)
		})
	}

	tlsCfg, err := tlsConfig(cfg.Server)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid tls configuration: %v\n", err)
		return invocationError
	}
	listen := cfg.Server.Addr
	if *addr != "" {
		listen = *addr
	}
	_, shutdown, done, err := srv.serve(ctx, listen, tlsCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start server: %v\n", err)
		return internalError
	}
	select {
	case <-ctx.Done():
		shutdown()
		<-done
		return success
	case <-done:
		return internalError
	}
}

// loadConfig returns the configuration at path. If path is empty, the
// user's radar configuration file is used if it exists, otherwise the
// default configuration is returned with an empty path.
func loadConfig(path string) (*config.Config, string, error) {
	if path == "" {
		var err error
		path, err = xdg.Config(filepath.Join("radar", "radar.toml"), false)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, "", err
			}
			return config.Default(), "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// statePath returns path resolved against the user's radar state
// directory if it is relative, creating the directory if necessary.
func statePath(path string) (string, error) {
	if filepath.IsAbs(path) {
		return path, nil
	}
	dir, err := xdg.State("radar")
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		home, ok := xdg.StateHome()
		if !ok {
			return "", errors.New("no state directory")
		}
		dir = filepath.Join(home, "radar")
		err = os.MkdirAll(dir, 0o755)
		if err != nil {
			return "", err
		}
	}
	return filepath.Join(dir, path), nil
}

// render writes the loop for the product id to out or to stdout if out is
// empty.
func render(ctx context.Context, snap *snapshot, id, out string) int {
	p, ok := snap.product(id)
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown product: %s\n", id)
		return invocationError
	}
	res, err := snap.renderer.Render(ctx, p)
	if err != nil {
		fmt.Fprintf(os.Stderr, "render failed: %s: %v\n", radar.KindOf(err), err)
		return internalError
	}
	if out == "" {
		_, err = os.Stdout.Write(res.GIF)
	} else {
		err = sink.Persist(ctx, out, res.GIF)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to write loop: %v\n", err)
		return internalError
	}
	return success
}
