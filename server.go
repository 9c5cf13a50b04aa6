// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kortschak/radar/internal/config"
	"github.com/kortschak/radar/internal/history"
	"github.com/kortschak/radar/internal/mtls"
	"github.com/kortschak/radar/internal/radar"
	"github.com/kortschak/radar/internal/remote"
	"github.com/kortschak/radar/internal/slogext"
)

// snapshot is an immutable configuration and the renderer built from it.
type snapshot struct {
	cfg      *config.Config
	renderer *radar.Renderer
}

// newSnapshot returns a snapshot for cfg. If dial is nil, the store is
// opened from the configured URL.
func newSnapshot(cfg *config.Config, dial remote.Dialer, hist *history.DB, log *slog.Logger) (*snapshot, error) {
	if dial == nil {
		var err error
		dial, err = remote.Open(cfg.Store.URL, remote.Options{
			User:     cfg.Store.User,
			Password: cfg.Store.Password,
			Timeout:  cfg.Store.TimeoutDuration(),
		})
		if err != nil {
			return nil, err
		}
	}
	var rec radar.Recorder
	if hist != nil {
		rec = hist
	}
	r, err := radar.NewRenderer(dial, radar.Options{
		LayerDir: cfg.Render.LayerDir,
		ScanDir:  cfg.Render.ScanDir,
		Frames:   cfg.Render.Frames,
		Delay:    cfg.Render.DelayDuration(),
		OnError:  radar.Policy(cfg.Render.OnError),
		Label:    cfg.Render.Label,
	}, rec, log)
	if err != nil {
		return nil, err
	}
	return &snapshot{cfg: cfg, renderer: r}, nil
}

// product returns the configured product with the given ID.
func (s *snapshot) product(id string) (radar.Product, bool) {
	p, ok := s.cfg.Product[id]
	if !ok {
		return radar.Product{}, false
	}
	return radar.Product{ID: id, Token: p.Token, Match: p.Match, Output: p.Output}, true
}

// server is the radar loop HTTP server.
type server struct {
	current atomic.Pointer[snapshot]
	hist    *history.DB
	log     *slog.Logger
	root    *slog.Logger
}

func newServer(snap *snapshot, hist *history.DB, log *slog.Logger) *server {
	s := &server{
		hist: hist,
		log:  log.With(slog.String("component", "server")),
		root: log,
	}
	s.current.Store(snap)
	return s
}

// handler returns the server's HTTP routes.
func (s *server) handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		s.serveLoop(w, req, s.current.Load().cfg.Default)
	})
	r.Get("/radar/{product}.gif", func(w http.ResponseWriter, req *http.Request) {
		s.serveLoop(w, req, chi.URLParam(req, "product"))
	})
	r.Get("/history/{product}", s.serveHistory)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, "ok")
	})
	return r
}

func (s *server) serveLoop(w http.ResponseWriter, req *http.Request, id string) {
	ctx := req.Context()
	snap := s.current.Load()
	s.log.LogAttrs(ctx, slog.LevelDebug, "request", slog.Any("req", slogext.Request{Request: req}))
	p, ok := snap.product(id)
	if !ok {
		s.log.LogAttrs(ctx, slog.LevelWarn, "unknown product", slog.String("product", id))
		http.Error(w, "unknown product", http.StatusNotFound)
		return
	}
	res, err := snap.renderer.Render(ctx, p)
	if err != nil {
		kind := radar.KindOf(err)
		http.Error(w, kind.String(), statusFor(kind))
		return
	}
	if keep := snap.cfg.History.Keep; s.hist != nil && keep > 0 {
		n, err := s.hist.Prune(context.WithoutCancel(ctx), p.ID, keep)
		if err != nil {
			s.log.LogAttrs(ctx, slog.LevelWarn, "failed to prune history", slog.Any("error", err))
		} else if n != 0 {
			s.log.LogAttrs(ctx, slog.LevelDebug, "pruned history", slog.String("product", p.ID), slog.Int64("n", n))
		}
	}
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Content-Length", strconv.Itoa(len(res.GIF)))
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Render-Id", res.ID)
	_, err = w.Write(res.GIF)
	if err != nil {
		s.log.LogAttrs(ctx, slog.LevelWarn, "failed to write response", slog.String("request_id", res.ID), slog.Any("error", err))
	}
}

// statusFor returns the HTTP status for a render failure kind.
func statusFor(k radar.Kind) int {
	switch k {
	case radar.NoFramesAvailable:
		return http.StatusNotFound
	case radar.ConnectionFailure, radar.AuthFailure, radar.ListingFailure, radar.RetrievalFailure,
		radar.DecodeFailure, radar.DimensionMismatch:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// defaultHistory is the number of history records returned when the
// request does not specify n.
const defaultHistory = 20

func (s *server) serveHistory(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	if s.hist == nil {
		http.Error(w, "history not enabled", http.StatusNotFound)
		return
	}
	id := chi.URLParam(req, "product")
	if _, ok := s.current.Load().product(id); !ok {
		http.Error(w, "unknown product", http.StatusNotFound)
		return
	}
	n := defaultHistory
	if q := req.URL.Query().Get("n"); q != "" {
		var err error
		n, err = strconv.Atoi(q)
		if err != nil || n < 1 {
			s.log.LogAttrs(ctx, slog.LevelWarn, "web server", slog.String("error", "invalid n"), slog.String("url", req.RequestURI))
			http.Error(w, "invalid n", http.StatusBadRequest)
			return
		}
	}
	recs, err := s.hist.Recent(ctx, id, n)
	if err != nil {
		s.log.LogAttrs(ctx, slog.LevelWarn, "web server", slog.Any("error", err), slog.String("url", req.RequestURI))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if recs == nil {
		recs = []history.Render{}
	}
	b, err := json.Marshal(recs)
	if err != nil {
		s.log.LogAttrs(ctx, slog.LevelWarn, "web server", slog.Any("error", err), slog.String("url", req.RequestURI))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(b)
}

// tlsConfig returns the TLS configuration described by cfg. It returns nil
// if no TLS files are configured.
func tlsConfig(cfg config.Server) (*tls.Config, error) {
	return mtls.ServerConfig(mtls.Files{
		CA:          cfg.CA,
		Certificate: cfg.Certificate,
		Key:         cfg.Key,
	})
}

// serve starts the HTTP server on addr. It returns the address the server
// is listening on, a function to shut the server down, and a channel that
// is closed when the server has stopped.
func (s *server) serve(ctx context.Context, addr string, tlsCfg *tls.Config) (string, context.CancelFunc, <-chan struct{}, error) {
	srv := &http.Server{
		Addr:      addr,
		Handler:   s.handler(),
		TLSConfig: tlsCfg,
		ErrorLog:  slog.NewLogLogger(s.log.Handler(), slog.LevelError),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, nil, err
	}
	addr = ln.Addr().String()
	if tlsCfg != nil {
		ln = tls.NewListener(ln, tlsCfg)
	}

	s.log.LogAttrs(ctx, slog.LevelInfo, "web server listening", slog.String("addr", addr), slog.Bool("tls", tlsCfg != nil))
	done := make(chan struct{})
	go func() {
		defer close(done)
		err := srv.Serve(ln)
		var lvl slog.Level
		switch {
		case err == nil:
			return
		case errors.Is(err, http.ErrServerClosed):
			lvl = slog.LevelInfo
		default:
			lvl = slog.LevelError
		}
		s.log.LogAttrs(ctx, lvl, "web server closed", slog.Any("error", err))
	}()
	cancel := func() { srv.Shutdown(context.WithoutCancel(ctx)) }

	return addr, cancel, done, nil
}

// reload applies configuration changes to the server until changes is
// closed or ctx is cancelled. Invalid configurations are logged and the
// current configuration is retained.
func (s *server) reload(ctx context.Context, changes <-chan config.Change, apply func(*config.Config)) {
	for {
		var c config.Change
		select {
		case <-ctx.Done():
			return
		case c = <-changes:
		}
		if c.Err != nil {
			s.log.LogAttrs(ctx, slog.LevelWarn, "config stream error", slog.Any("error", c.Err))
			continue
		}
		if c.Config == nil {
			s.log.LogAttrs(ctx, slog.LevelWarn, "config removed, retaining current configuration")
			continue
		}
		s.log.LogAttrs(ctx, slog.LevelDebug, "config stream element", slog.Any("change", config.ChangeValue{Change: c}))
		prev := s.current.Load()
		snap, err := newSnapshot(c.Config, nil, s.hist, s.root)
		if err != nil {
			s.log.LogAttrs(ctx, slog.LevelWarn, "invalid configuration", slog.Any("error", err))
			continue
		}
		if prev.cfg.Server != snap.cfg.Server {
			s.log.LogAttrs(ctx, slog.LevelWarn, "server configuration changes require restart")
		}
		if prev.cfg.History.Path != snap.cfg.History.Path {
			s.log.LogAttrs(ctx, slog.LevelWarn, "history path changes require restart")
		}
		s.current.Store(snap)
		if apply != nil {
			apply(snap.cfg)
		}
		s.log.LogAttrs(ctx, slog.LevelInfo, "configuration updated")
	}
}
