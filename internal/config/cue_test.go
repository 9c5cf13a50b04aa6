// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

var validateTests = []struct {
	name      string
	config    func() *Config
	wantPaths [][]string
}{
	{
		name:   "default",
		config: Default,
	},
	{
		name: "frames",
		config: func() *Config {
			cfg := Default()
			cfg.Render.Frames = 0
			return cfg
		},
		wantPaths: [][]string{
			{"render", "frames"},
		},
	},
	{
		name: "zero_delay",
		config: func() *Config {
			cfg := Default()
			cfg.Render.Delay = "0.0s"
			return cfg
		},
		wantPaths: [][]string{
			{"render", "delay"},
		},
	},
	{
		name: "short_delay",
		config: func() *Config {
			cfg := Default()
			cfg.Render.Delay = "10ms"
			return cfg
		},
	},
	{
		name: "store_scheme",
		config: func() *Config {
			cfg := Default()
			cfg.Store.URL = "http://example.com/radar"
			return cfg
		},
		wantPaths: [][]string{
			{"store", "url"},
		},
	},
	{
		name: "multiple",
		config: func() *Config {
			cfg := Default()
			cfg.Render.Frames = -1
			cfg.Log.Level = "loud"
			cfg.History.Keep = -1
			return cfg
		},
		wantPaths: [][]string{
			{"history", "keep"},
			{"log", "level"},
			{"render", "frames"},
		},
	},
}

func TestValidate(t *testing.T) {
	for _, test := range validateTests {
		t.Run(test.name, func(t *testing.T) {
			paths, err := Validate(Schema, test.config())
			if (err == nil) != (test.wantPaths == nil) {
				t.Errorf("unexpected error: %v", err)
			}
			if !cmp.Equal(test.wantPaths, paths) {
				t.Errorf("unexpected paths:\n--- want:\n+++ got:\n%s", cmp.Diff(test.wantPaths, paths))
			}
		})
	}
}

var uniqueTests = []struct {
	paths [][]string
	want  [][]string
}{
	{paths: nil, want: nil},
	{paths: [][]string{{}}, want: nil},
	{
		paths: [][]string{{"b"}, {"a", "b"}, {"a"}, {"a", "b"}, {}},
		want:  [][]string{{"a"}, {"a", "b"}, {"b"}},
	},
}

func TestUnique(t *testing.T) {
	for _, test := range uniqueTests {
		got := unique(test.paths)
		if !cmp.Equal(test.want, got) {
			t.Errorf("unexpected result:\n--- want:\n+++ got:\n%s", cmp.Diff(test.want, got))
		}
	}
}
