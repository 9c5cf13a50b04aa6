// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package remote

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"
)

// Dir is a Store backed by a file system tree. It is intended for local
// mirrors of a remote store and for testing.
type Dir struct {
	fsys fs.FS
	cwd  string
}

// OpenDir returns a Dir rooted at the provided directory.
func OpenDir(root string) (*Dir, error) {
	fi, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("%w: not a directory: %s", ErrConnection, root)
	}
	return NewFS(os.DirFS(root)), nil
}

// NewFS returns a Dir using fsys as its root.
func NewFS(fsys fs.FS) *Dir {
	return &Dir{fsys: fsys, cwd: "."}
}

// ChangeDir implements the Store interface.
func (d *Dir) ChangeDir(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}
	dst := resolve(d.cwd, p)
	fi, err := fs.Stat(d.fsys, dst)
	if err != nil {
		return fmt.Errorf("%w: cwd %s: %w", ErrListing, p, err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("%w: cwd %s: not a directory", ErrListing, p)
	}
	d.cwd = dst
	return nil
}

// List implements the Store interface. Directory entries are omitted and
// names are returned in lexical order.
func (d *Dir) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}
	de, err := fs.ReadDir(d.fsys, d.cwd)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrListing, err)
	}
	names := make([]string, 0, len(de))
	for _, e := range de {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

// Retrieve implements the Store interface.
func (d *Dir) Retrieve(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}
	b, err := fs.ReadFile(d.fsys, resolve(d.cwd, name))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrRetrieval, name, err)
	}
	return b, nil
}

// Close implements the Store interface.
func (d *Dir) Close() error { return nil }

// WorkingDir returns the current working directory.
func (d *Dir) WorkingDir(ctx context.Context) (string, error) {
	return absolute(d.cwd), nil
}

func absolute(cwd string) string {
	if cwd == "" || cwd == "." {
		return "/"
	}
	return "/" + cwd
}

// resolve returns the fs.FS path for p relative to cwd. Paths can not
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
