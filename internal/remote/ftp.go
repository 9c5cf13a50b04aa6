// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"time"

	"github.com/jlaffaye/ftp"
)

// FTP is an FTP server session.
type FTP struct {
	conn *ftp.ServerConn
}

// DialFTP connects to the FTP server at addr and logs in with the provided
// credentials. If timeout is positive it is used as the dial and command
// timeout.
func DialFTP(ctx context.Context, addr, user, password string, timeout time.Duration) (*FTP, error) {
	opts := []ftp.DialOption{ftp.DialWithContext(ctx)}
	if timeout > 0 {
		opts = append(opts, ftp.DialWithTimeout(timeout))
	}
	conn, err := ftp.Dial(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrConnection, addr, err)
	}
	err = conn.Login(user, password)
	if err != nil {
		kind := ErrConnection
		// 530 is "Not logged in".
		var perr *textproto.Error
		if errors.As(err, &perr) && perr.Code == ftp.StatusNotLoggedIn {
			kind = ErrAuth
		}
		return nil, errors.Join(fmt.Errorf("%w: login %s: %w", kind, user, err), conn.Quit())
	}
	return &FTP{conn: conn}, nil
}

// ChangeDir implements the Store interface.
func (s *FTP) ChangeDir(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}
	err := s.conn.ChangeDir(path)
	if err != nil {
		return fmt.Errorf("%w: cwd %s: %w", ErrListing, path, err)
	}
	return nil
}

// WorkingDir returns the current working directory.
func (s *FTP) WorkingDir(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrConnection, err)
	}
	return s.conn.CurrentDir()
}

// List implements the Store interface.
func (s *FTP) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}
	names, err := s.conn.NameList("")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrListing, err)
	}
	return names, nil
}

// Retrieve implements the Store interface.
func (s *FTP) Retrieve(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}
	resp, err := s.conn.Retr(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrRetrieval, name, err)
	}
	b, err := io.ReadAll(resp)
	err = errors.Join(err, resp.Close())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrRetrieval, name, err)
	}
	return b, nil
}

// Close implements the Store interface. It sends QUIT to the server.
func (s *FTP) Close() error {
	return s.conn.Quit()
}
