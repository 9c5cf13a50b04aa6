// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"flag"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

var (
	verbose = flag.Bool("verbose_log", false, "print full logging")
	lines   = flag.Bool("show_lines", false, "log source code position")
)

var parseTests = []struct {
	name    string
	config  string
	want    func() *Config
	wantErr string
}{
	{
		name:   "empty",
		config: "",
		want:   Default,
	},
	{
		name: "render",
		config: `
[render]
frames = 5
delay = "250ms"
on_error = "skip"
label = true
`,
		want: func() *Config {
			cfg := Default()
			cfg.Render.Frames = 5
			cfg.Render.Delay = "250ms"
			cfg.Render.OnError = "skip"
			cfg.Render.Label = true
			return cfg
		},
	},
	{
		name: "product",
		config: `
default = "IDR023"

[product.IDR023]
token = "IDR023"
output = "/srv/radar/sydney.gif"

[product.IDR663]
token = "IDR663"
match = 'name.startsWith(token + ".T.")'
`,
		want: func() *Config {
			cfg := Default()
			cfg.Default = "IDR023"
			cfg.Product = map[string]Product{
				"IDR023": {Token: "IDR023", Output: "/srv/radar/sydney.gif"},
				"IDR663": {Token: "IDR663", Match: `name.startsWith(token + ".T.")`},
			}
			return cfg
		},
	},
	{
		name: "store",
		config: `
[store]
url = "file:///var/lib/radar"
timeout = "1m30s"

[history]
path = "/var/lib/radar/history.db"
keep = 100
`,
		want: func() *Config {
			cfg := Default()
			cfg.Store.URL = "file:///var/lib/radar"
			cfg.Store.Timeout = "1m30s"
			cfg.History = History{Path: "/var/lib/radar/history.db", Keep: 100}
			return cfg
		},
	},
	{
		name: "unknown_key",
		config: `
[render]
frams = 5
`,
		wantErr: "unknown configuration keys: render.frams",
	},
	{
		name: "invalid_frames",
		config: `
[render]
frames = 0
`,
		wantErr: "render.frames",
	},
	{
		name: "zero_delay",
		config: `
[render]
delay = "0m0s"
`,
		wantErr: "render.delay",
	},
	{
		name: "missing_default",
		config: `
default = "IDR023"
`,
		wantErr: `default product "IDR023" not configured`,
	},
	{
		name:    "bad_toml",
		config:  `[render`,
		wantErr: "toml",
	},
}

func TestParse(t *testing.T) {
	for _, test := range parseTests {
		t.Run(test.name, func(t *testing.T) {
			got, err := Parse([]byte(test.config))
			if test.wantErr != "" {
				if err == nil {
					t.Fatalf("expected error containing %q", test.wantErr)
				}
				if !strings.Contains(err.Error(), test.wantErr) {
					t.Errorf("unexpected error: got:%v want:%s", err, test.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			want := test.want()
			if !cmp.Equal(want, got) {
				t.Errorf("unexpected config:\n--- want:\n+++ got:\n%s", cmp.Diff(want, got))
			}
		})
	}
}

func TestDurations(t *testing.T) {
	cfg := Default()
	if got := cfg.Render.DelayDuration(); got.Milliseconds() != 400 {
		t.Errorf("unexpected delay: got:%v want:400ms", got)
	}
	if got := cfg.Store.TimeoutDuration(); got.Seconds() != 30 {
		t.Errorf("unexpected timeout: got:%v want:30s", got)
	}
}

func TestSum(t *testing.T) {
	a, err := Default().Sum()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := Default().Sum()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a != b {
		t.Errorf("unexpected sum mismatch for identical configs: %s != %s", a, b)
	}

	cfg := Default()
	cfg.Render.Frames++
	c, err := cfg.Sum()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a == c {
		t.Errorf("unexpected sum match for different configs: %s", a)
	}

	var null *Config
	_, err = null.Sum()
	if err != ErrNoConfig {
		t.Errorf("unexpected error for nil config: got:%v want:%v", err, ErrNoConfig)
	}
}

func TestRedacted(t *testing.T) {
	cfg := Default()
	cfg.Store.Password = "hunter2"
	got := Redacted(cfg)
	if got.Store.Password != "*****" {
		t.Errorf("password not redacted: %q", got.Store.Password)
	}
	if cfg.Store.Password != "hunter2" {
		t.Errorf("original config modified: %q", cfg.Store.Password)
	}
	if Redacted(nil) != nil {
		t.Error("expected nil for nil config")
	}
}
