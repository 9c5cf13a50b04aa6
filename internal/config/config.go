// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config provides configuration loading, validation and live
// reloading for the radar server.
package config

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the complete server configuration.
type Config struct {
	// Default is the product served at the root path.
	Default string             `toml:"default" json:"default"`
	Server  Server             `toml:"server" json:"server"`
	Store   Store              `toml:"store" json:"store"`
	Render  Render             `toml:"render" json:"render"`
	Product map[string]Product `toml:"product" json:"product"`
	History History            `toml:"history" json:"history"`
	Log     Log                `toml:"log" json:"log"`
}

// Server is the HTTP server configuration. If Certificate and Key are set
// the server uses TLS, and if CA is also set clients must present a
// certificate signed by the CA.
type Server struct {
	Addr        string `toml:"addr" json:"addr"`
	Certificate string `toml:"certificate" json:"certificate"`
	Key         string `toml:"key" json:"key"`
	CA          string `toml:"ca" json:"ca"`
}

// Store is the remote object store configuration.
type Store struct {
	URL      string `toml:"url" json:"url"`
	User     string `toml:"user" json:"user"`
	Password string `toml:"password" json:"password"`
	Timeout  string `toml:"timeout" json:"timeout"`
}

// TimeoutDuration returns the parsed store timeout.
func (s Store) TimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(s.Timeout)
	return d
}

// Render is the loop rendering configuration.
type Render struct {
	Frames   int    `toml:"frames" json:"frames"`
	Delay    string `toml:"delay" json:"delay"`
	OnError  string `toml:"on_error" json:"on_error"`
	Label    bool   `toml:"label" json:"label"`
	LayerDir string `toml:"layer_dir" json:"layer_dir"`
	ScanDir  string `toml:"scan_dir" json:"scan_dir"`
}

// DelayDuration returns the parsed frame delay.
func (r Render) DelayDuration() time.Duration {
	d, _ := time.ParseDuration(r.Delay)
	return d
}

// Product is a radar product configuration. The product ID is the key of
// the product table.
type Product struct {
	Token  string `toml:"token" json:"token"`
	Match  string `toml:"match" json:"match"`
	Output string `toml:"output" json:"output"`
}

// History is the render history configuration. An empty Path disables
// history recording.
type History struct {
	Path string `toml:"path" json:"path"`
	// Keep is the number of records kept for each product.
	// Zero keeps all records.
	Keep int `toml:"keep" json:"keep"`
}

// Log is the logging configuration.
type Log struct {
	Level     string `toml:"level" json:"level"`
	AddSource bool   `toml:"add_source" json:"add_source"`
}

// Default product and store values.
const (
	DefaultProduct = "IDR713"
	DefaultToken   = "IDR71B"
	DefaultStore   = "ftp://ftp.bom.gov.au"
	DefaultAddr    = ":9009"
)

// Default returns the default configuration. The default product is
// persisted to radar.gif in the system temporary directory.
func Default() *Config {
	return &Config{
		Default: DefaultProduct,
		Server:  Server{Addr: DefaultAddr},
		Store: Store{
			URL:     DefaultStore,
			Timeout: "30s",
		},
		Render: Render{
			Frames:   7,
			Delay:    "400ms",
			OnError:  "fail",
			LayerDir: "anon/gen/radar_transparencies",
			ScanDir:  "anon/gen/radar",
		},
		Product: map[string]Product{
			DefaultProduct: {
				Token:  DefaultToken,
				Output: filepath.Join(os.TempDir(), "radar.gif"),
			},
		},
		Log: Log{Level: "info"},
	}
}

// Schema is the CUE schema for a valid configuration.
const Schema = `
{
	default: _#name
	server: {
		addr:        string & !=""
		certificate: string
		key:         string
		ca:          string
		if certificate != "" {
			key: !=""
		}
		if key != "" {
			certificate: !=""
		}
		if ca != "" {
			certificate: !=""
		}
	}
	store: {
		url:      =~"^(?:ftp://|file:)"
		user:     string
		password: string
		timeout:  _#duration
	}
	render: {
		frames:    int & >=1 & <=100
		delay:     _#duration & !~"^(?:0+(?:\\.0+)?(?:ns|us|µs|ms|s|m|h))+$"
		on_error:  "fail" | "skip"
		label:     bool
		layer_dir: string
		scan_dir:  string
	}
	product: {[_#name]: _#product}
	history: {
		path: string
		keep: int & >=0
	}
	log: {
		level:      =~"(?i)^(?:debug|info|warn|error)$"
		add_source: bool
	}
}

_#name: =~"^[A-Za-z0-9_]+$"

_#product: {
	token:  string & !=""
	match:  string
	output: string
}

_#duration: =~"^(?:[0-9]+(?:\\.[0-9]+)?(?:ns|us|µs|ms|s|m|h))+$"
`

// Parse returns the configuration held in the TOML data b. Values not set
// in b take their default values. If b holds any product table, the
// default product is not included unless it is also specified in b.
func Parse(b []byte) (*Config, error) {
	cfg := Default()
	cfg.Product = nil
	md, err := toml.NewDecoder(bytes.NewReader(b)).Decode(cfg)
	if err != nil {
		return nil, err
	}
	if keys := md.Undecoded(); len(keys) != 0 {
		names := make([]string, len(keys))
		for i, k := range keys {
			names[i] = k.String()
		}
		sort.Strings(names)
		return nil, fmt.Errorf("unknown configuration keys: %s", strings.Join(names, ", "))
	}
	if len(cfg.Product) == 0 {
		cfg.Product = Default().Product
	}
	err = cfg.Validate()
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load returns the configuration held in the TOML file at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks cfg against Schema and checks that the default product
// is configured.
func (cfg *Config) Validate() error {
	_, err := Validate(Schema, cfg)
	if err != nil {
		return err
	}
	if _, ok := cfg.Product[cfg.Default]; !ok {
		return fmt.Errorf("default product %q not configured", cfg.Default)
	}
	return nil
}

// ErrNoConfig is returned by Sum for a nil configuration.
var ErrNoConfig = errors.New("no configuration")

// Sum returns the semantic hash of cfg.
func (cfg *Config) Sum() (Sum, error) {
	return sum(sha1.New(), cfg)
}

func sum(h hash.Hash, cfg *Config) (Sum, error) {
	var s Sum
	if cfg == nil {
		return s, ErrNoConfig
	}
	err := json.NewEncoder(h).Encode(cfg)
	if err != nil {
		return s, err
	}
	s = ([sha1.Size]byte)(h.Sum(nil))
	h.Reset()
	return s, nil
}

// Sum is a comparable SHA-1 sum.
type Sum [sha1.Size]byte

func (s Sum) String() string {
	return hex.EncodeToString(s[:])
}
