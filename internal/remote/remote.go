// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package remote provides directory listing and retrieval stores for radar
// image assets.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"
)

var (
	ErrConnection = errors.New("connection failure")
	ErrAuth       = errors.New("authentication failure")
	ErrListing    = errors.New("listing failure")
	ErrRetrieval  = errors.New("retrieval failure")
)

// Store is a remote object store session. A Store is not safe for
// concurrent use; each request should hold its own session.
type Store interface {
	// ChangeDir changes the working directory. Relative paths are
	// resolved against the current working directory and absolute
	// paths against the store root.
	ChangeDir(ctx context.Context, path string) error
	// List returns the names of the files in the working directory
	// in the order provided by the store.
	List(ctx context.Context) ([]string, error)
	// Retrieve returns the contents of the named file in the working
	// directory.
	Retrieve(ctx context.Context, name string) ([]byte, error)
	// Close releases the session.
	Close() error
}

// WorkingDirer is a Store that can report its working directory.
type WorkingDirer interface {
	WorkingDir(ctx context.Context) (string, error)
}

// Dialer opens a new Store session.
type Dialer func(ctx context.Context) (Store, error)

// With opens a session using dial and calls fn with it. The session is
// closed on every return path from fn, including panics, and any close
// error is joined with the error returned by fn.
func With(ctx context.Context, dial Dialer, fn func(Store) error) (err error) {
	s, err := dial(ctx)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, s.Close())
	}()
	return fn(s)
}

// Options holds connection parameters for stores opened with Open.
type Options struct {
	User     string
	Password string
	Timeout  time.Duration
}

// Open returns a Dialer for the store at the provided URL. Supported schemes
// are ftp and file. User information in an ftp URL takes precedence over the
// credentials in opts.
func Open(rawURL string, opts Options) (Dialer, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "ftp":
		host := u.Host
		if u.Port() == "" {
			host += ":21"
		}
		user, pass := opts.User, opts.Password
		if u.User != nil {
			user = u.User.Username()
			if p, ok := u.User.Password(); ok {
				pass = p
			}
		}
		if user == "" {
			user, pass = "anonymous", "guest"
		}
		return func(ctx context.Context) (Store, error) {
			return DialFTP(ctx, host, user, pass, opts.Timeout)
		}, nil
	case "file":
		root := u.Path
		if u.Opaque != "" {
			root = u.Opaque
		}
		if root == "" {
			return nil, fmt.Errorf("missing path in store url: %s", rawURL)
		}
		return func(ctx context.Context) (Store, error) {
			return OpenDir(root)
		}, nil
	default:
		return nil, fmt.Errorf("unsupported store scheme: %q", u.Scheme)
	}
}
