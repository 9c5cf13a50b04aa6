// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/kortschak/radar/internal/animation"
	"github.com/kortschak/radar/internal/config"
	"github.com/kortschak/radar/internal/history"
	"github.com/kortschak/radar/internal/layer"
	"github.com/kortschak/radar/internal/locked"
	"github.com/kortschak/radar/internal/radar"
	"github.com/kortschak/radar/internal/remote"
	"github.com/kortschak/radar/internal/remote/remotetest"
	"github.com/kortschak/radar/internal/slogext"
)

var (
	verbose = flag.Bool("verbose_log", false, "print full logging")
	lines   = flag.Bool("show_lines", false, "log source code position")
)

func newLogger(t *testing.T) *slog.Logger {
	t.Helper()
	var logBuf locked.BytesBuffer
	t.Cleanup(func() {
		if *verbose && logBuf.Len() != 0 {
			t.Logf("log:\n%s\n", &logBuf)
		}
	})
	return slog.New(slogext.NewJSONHandler(&logBuf, &slogext.HandlerOptions{
		Level:     slog.LevelDebug,
		AddSource: slogext.NewAtomicBool(*lines),
	}))
}

// storeFiles returns the contents of a store holding the static layers
// for the product id and n scans named with token. If mismatch is true
// the final scan is smaller than the layers.
func storeFiles(id, token string, size, n int, mismatch bool) (map[string][]byte, error) {
	files := make(map[string][]byte)
	for i, l := range layer.Order {
		img := image.NewRGBA(image.Rect(0, 0, size, size))
		if l == layer.Background {
			for j := range img.Pix {
				img.Pix[j] = 0xff
			}
		} else {
			img.SetRGBA(i, size/2, color.RGBA{B: 0xff, A: 0xff})
		}
		b, err := encodePNG(img)
		if err != nil {
			return nil, err
		}
		files["anon/gen/radar_transparencies/"+l.File(id)] = b
	}
	for i := range n {
		s := size
		if mismatch && i == n-1 {
			s /= 2
		}
		img := image.NewRGBA(image.Rect(0, 0, s, s))
		img.SetRGBA(i%s, 0, color.RGBA{R: 0xff, A: 0xff})
		b, err := encodePNG(img)
		if err != nil {
			return nil, err
		}
		files[fmt.Sprintf("anon/gen/radar/%s.T.2023060813%02d.png", token, i)] = b
	}
	files["anon/gen/radar/readme.txt"] = []byte("radar scans\n")
	return files, nil
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	err := png.Encode(&buf, img)
	return buf.Bytes(), err
}

// memDialer returns a Dialer that opens a new in-memory store over files
// for each session.
func memDialer(files map[string][]byte) remote.Dialer {
	return func(ctx context.Context) (remote.Store, error) {
		return &remotetest.Mem{Files: files}, nil
	}
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Product = map[string]config.Product{
		"IDR713": {Token: "IDR71B"},
		"IDR023": {Token: "IDR02B"},
		"IDR663": {Token: "IDR66B"},
	}
	return cfg
}

func newTestServer(t *testing.T, hist *history.DB, keep int) *httptest.Server {
	t.Helper()
	files, err := storeFiles("IDR713", "IDR71B", 32, 9, false)
	if err != nil {
		t.Fatalf("failed to make store: %v", err)
	}
	bad, err := storeFiles("IDR663", "IDR66B", 32, 3, true)
	if err != nil {
		t.Fatalf("failed to make store: %v", err)
	}
	for k, v := range bad {
		if _, ok := files[k]; !ok {
			files[k] = v
		}
	}
	// IDR023 has layers but no scans.
	noScans, err := storeFiles("IDR023", "IDR02B", 32, 0, false)
	if err != nil {
		t.Fatalf("failed to make store: %v", err)
	}
	for k, v := range noScans {
		if _, ok := files[k]; !ok {
			files[k] = v
		}
	}

	log := newLogger(t)
	cfg := testConfig()
	cfg.History.Keep = keep
	snap, err := newSnapshot(cfg, memDialer(files), hist, log)
	if err != nil {
		t.Fatalf("failed to make snapshot: %v", err)
	}
	srv := httptest.NewServer(newServer(snap, hist, log).handler())
	t.Cleanup(srv.Close)
	return srv
}

func httpGet(t *testing.T, url string) (int, http.Header, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("failed get: %v", err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed read: %v", err)
	}
	return resp.StatusCode, resp.Header, b
}

var serveTests = []struct {
	name       string
	path       string
	wantStatus int
	wantFrames int
	wantBody   string
}{
	{name: "root", path: "/", wantStatus: http.StatusOK, wantFrames: 7},
	{name: "named", path: "/radar/IDR713.gif", wantStatus: http.StatusOK, wantFrames: 7},
	{name: "unknown", path: "/radar/IDR999.gif", wantStatus: http.StatusNotFound, wantBody: "unknown product\n"},
	{name: "no_frames", path: "/radar/IDR023.gif", wantStatus: http.StatusNotFound, wantBody: "NoFramesAvailable\n"},
	{name: "mismatch", path: "/radar/IDR663.gif", wantStatus: http.StatusBadGateway, wantBody: "DimensionMismatch\n"},
	{name: "health", path: "/healthz", wantStatus: http.StatusOK, wantBody: "ok\n"},
	{name: "history_disabled", path: "/history/IDR713", wantStatus: http.StatusNotFound, wantBody: "history not enabled\n"},
}

func TestServe(t *testing.T) {
	srv := newTestServer(t, nil, 0)
	for _, test := range serveTests {
		t.Run(test.name, func(t *testing.T) {
			status, header, body := httpGet(t, srv.URL+test.path)
			if status != test.wantStatus {
				t.Errorf("unexpected status: got:%d want:%d: %s", status, test.wantStatus, body)
			}
			if test.wantBody != "" && string(body) != test.wantBody {
				t.Errorf("unexpected body: got:%q want:%q", body, test.wantBody)
			}
			if test.wantFrames == 0 {
				return
			}
			if ct := header.Get("Content-Type"); ct != "image/gif" {
				t.Errorf("unexpected content type: %q", ct)
			}
			g, err := animation.DecodeGIF(bytes.NewReader(body))
			if err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if len(g.Image) != test.wantFrames {
				t.Errorf("unexpected number of frames: got:%d want:%d", len(g.Image), test.wantFrames)
			}
			for i, d := range g.Delay {
				if d != 40 {
					t.Errorf("unexpected delay for frame %d: got:%d want:40", i, d)
				}
			}
			if g.LoopCount != 0 {
				t.Errorf("unexpected loop count: got:%d want:0", g.LoopCount)
			}
		})
	}
}

func TestServeHistory(t *testing.T) {
	log := newLogger(t)
	hist, err := history.Open(filepath.Join(t.TempDir(), "history.db"), log)
	if err != nil {
		t.Fatalf("failed to open history: %v", err)
	}
	defer hist.Close()

	const keep = 2
	srv := newTestServer(t, hist, keep)
	for range 3 {
		status, _, body := httpGet(t, srv.URL+"/")
		if status != http.StatusOK {
			t.Fatalf("unexpected status: %d: %s", status, body)
		}
	}
	// Failures are recorded but do not trigger pruning.
	httpGet(t, srv.URL+"/radar/IDR023.gif")

	status, header, body := httpGet(t, srv.URL+"/history/IDR713")
	if status != http.StatusOK {
		t.Fatalf("unexpected status: %d: %s", status, body)
	}
	if ct := header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("unexpected content type: %q", ct)
	}
	var recs []history.Render
	err = json.Unmarshal(body, &recs)
	if err != nil {
		t.Fatalf("failed to unmarshal history: %v", err)
	}
	if len(recs) != keep {
		t.Errorf("unexpected number of records after pruning: got:%d want:%d", len(recs), keep)
	}
	for _, r := range recs {
		if r.Kind != "" || r.Size == 0 || len(r.Frames) != 7 {
			t.Errorf("unexpected record: %+v", r)
		}
	}

	status, _, body = httpGet(t, srv.URL+"/history/IDR023?n=1")
	if status != http.StatusOK {
		t.Fatalf("unexpected status: %d: %s", status, body)
	}
	recs = nil
	err = json.Unmarshal(body, &recs)
	if err != nil {
		t.Fatalf("failed to unmarshal history: %v", err)
	}
	if len(recs) != 1 || recs[0].Kind != radar.NoFramesAvailable.String() {
		t.Errorf("unexpected failure history: %+v", recs)
	}

	status, _, _ = httpGet(t, srv.URL+"/history/IDR713?n=zero")
	if status != http.StatusBadRequest {
		t.Errorf("unexpected status for invalid n: got:%d want:%d", status, http.StatusBadRequest)
	}
	status, _, _ = httpGet(t, srv.URL+"/history/IDR999")
	if status != http.StatusNotFound {
		t.Errorf("unexpected status for unknown product: got:%d want:%d", status, http.StatusNotFound)
	}
}

func TestStatusFor(t *testing.T) {
	want := map[radar.Kind]int{
		radar.Unknown:            http.StatusInternalServerError,
		radar.ConnectionFailure:  http.StatusBadGateway,
		radar.AuthFailure:        http.StatusBadGateway,
		radar.ListingFailure:     http.StatusBadGateway,
		radar.RetrievalFailure:   http.StatusBadGateway,
		radar.DecodeFailure:      http.StatusBadGateway,
		radar.DimensionMismatch:  http.StatusBadGateway,
		radar.EncodeFailure:      http.StatusInternalServerError,
		radar.PersistenceFailure: http.StatusInternalServerError,
		radar.NoFramesAvailable:  http.StatusNotFound,
	}
	got := make(map[radar.Kind]int)
	for k := range want {
		got[k] = statusFor(k)
	}
	if !cmp.Equal(want, got) {
		t.Errorf("unexpected status mapping:\n--- want:\n+++ got:\n%s", cmp.Diff(want, got))
	}
}

func TestReload(t *testing.T) {
	log := newLogger(t)
	cfg := testConfig()
	snap, err := newSnapshot(cfg, memDialer(nil), nil, log)
	if err != nil {
		t.Fatalf("failed to make snapshot: %v", err)
	}
	srv := newServer(snap, nil, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes := make(chan config.Change)
	applied := make(chan *config.Config, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.reload(ctx, changes, func(cfg *config.Config) { applied <- cfg })
	}()

	// Errors and removals retain the current configuration.
	changes <- config.Change{Err: fmt.Errorf("invalid")}
	changes <- config.Change{}
	bad := testConfig()
	bad.Store.URL = "gopher://example.com"
	changes <- config.Change{Config: bad}

	next := testConfig()
	next.Render.Frames = 3
	next.Store.URL = "file://" + filepath.ToSlash(t.TempDir())
	changes <- config.Change{Config: next}

	select {
	case got := <-applied:
		if got != next {
			t.Errorf("unexpected applied config: %+v", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("configuration not applied")
	}
	if got := srv.current.Load().cfg; got != next {
		t.Errorf("unexpected current config: got frames=%d store=%s", got.Render.Frames, got.Store.URL)
	}

	cancel()
	<-done
}

func TestTLSConfig(t *testing.T) {
	got, err := tlsConfig(config.Server{Addr: ":0"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("unexpected tls config for plain server: %+v", got)
	}

	_, err = tlsConfig(config.Server{Certificate: filepath.Join(t.TempDir(), "missing.pem")})
	if err == nil || !strings.Contains(err.Error(), "missing.pem") {
		t.Errorf("expected missing file error: %v", err)
	}
}
