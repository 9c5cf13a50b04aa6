// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package remotetest provides an in-memory remote store for tests.
package remotetest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/kortschak/radar/internal/remote"
)

// Mem is an in-memory remote.Store. The keys of Files are slash-separated paths
// relative to the store root. Mem records whether it has been closed.
type Mem struct {
	// Files holds the store contents.
	Files map[string][]byte
	// Order optionally specifies the listing order for a directory.
	// Directories without an entry list in lexical order.
	Order map[string][]string

	// Fail holds names that fail retrieval.
	Fail map[string]error

	cwd    string
	closed bool
}

var _ remote.WorkingDirer = (*Mem)(nil)

// ChangeDir implements the remote.Store interface.
func (m *Mem) ChangeDir(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", remote.ErrConnection, err)
	}
	if m.cwd == "" {
		m.cwd = "."
	}
	dst := resolve(m.cwd, p)
	if dst != "." {
		prefix := dst + "/"
		var found bool
		for name := range m.Files {
			if strings.HasPrefix(name, prefix) {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: cwd %s: %w", remote.ErrListing, p, fs.ErrNotExist)
		}
	}
	m.cwd = dst
	return nil
}

// List implements the remote.Store interface.
func (m *Mem) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", remote.ErrConnection, err)
	}
	dir := m.cwd
	if dir == "" {
		dir = "."
	}
	if order, ok := m.Order[dir]; ok {
		return append([]string(nil), order...), nil
	}
	var names []string
	for name := range m.Files {
		if path.Dir(name) == dir {
			names = append(names, path.Base(name))
		}
	}
	sort.Strings(names)
	return names, nil
}

// Retrieve implements the remote.Store interface.
func (m *Mem) Retrieve(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", remote.ErrConnection, err)
	}
	dir := m.cwd
	if dir == "" {
		dir = "."
	}
	p := resolve(dir, name)
	if err, ok := m.Fail[p]; ok {
		return nil, fmt.Errorf("%w: %s: %w", remote.ErrRetrieval, name, err)
	}
	b, ok := m.Files[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s: %w", remote.ErrRetrieval, name, fs.ErrNotExist)
	}
	return append([]byte(nil), b...), nil
}

// Close implements the remote.Store interface.
func (m *Mem) Close() error {
	if m.closed {
		return errors.New("session already closed")
	}
	m.closed = true
	return nil
}

// WorkingDir returns the current working directory.
func (m *Mem) WorkingDir(ctx context.Context) (string, error) {
	return absolute(m.cwd), nil
}

// Closed returns whether Close has been called.
func (m *Mem) Closed() bool { return m.closed }

func absolute(cwd string) string {
	if cwd == "" || cwd == "." {
		return "/"
	}
	return "/" + cwd
}

// resolve returns the store path for p relative to cwd. Paths can not
// escape the root.
func resolve(cwd, p string) string {
	if strings.HasPrefix(p, "/") {
		cwd = "."
	}
	dst := path.Clean(path.Join("/", cwd, p))
	dst = strings.TrimPrefix(dst, "/")
	if dst == "" {
		return "."
	}
	return dst
}
