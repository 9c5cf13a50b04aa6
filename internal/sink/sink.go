// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sink provides the output sink for rendered animations.
package sink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

var (
	ErrPersist = errors.New("persistence failure")
	ErrDrained = errors.New("buffer drained")
)

// Buffer is an in-memory output sink. Data written to a Buffer may be
// read back exactly once by Bytes, after which the Buffer accepts no
// further writes.
type Buffer struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	drained bool
}

// Write appends p to the buffer.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.drained {
		return 0, ErrDrained
	}
	return b.buf.Write(p)
}

// Len returns the number of bytes written to the buffer.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

// Bytes returns the complete contents of the buffer from the start.
// It may only be called once, subsequent calls return ErrDrained.
func (b *Buffer) Bytes() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.drained {
		return nil, ErrDrained
	}
	b.drained = true
	return b.buf.Bytes(), nil
}

// Persist writes the contents of the buffer to path. It does not drain
// the buffer.
func (b *Buffer) Persist(ctx context.Context, path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Persist(ctx, path, b.buf.Bytes())
}

// lockRetry is the interval between attempts to take the persistence lock.
const lockRetry = 10 * time.Millisecond

// Persist atomically replaces the file at path with data. Concurrent
// writers are serialized by a lock file at path+".lock".
func Persist(ctx context.Context, path string, data []byte) (err error) {
	fl := flock.New(path + ".lock")
	ok, err := fl.TryLockContext(ctx, lockRetry)
	if err != nil {
		return fmt.Errorf("%w: lock %s: %w", ErrPersist, path, err)
	}
	if !ok {
		return fmt.Errorf("%w: could not lock %s", ErrPersist, path)
	}
	defer func() {
		err = errors.Join(err, fl.Unlock())
	}()

	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			os.Remove(tmp)
		}
	}()
	_, err = f.Write(data)
	if err != nil {
		f.Close()
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	err = f.Chmod(0o644)
	if err != nil {
		f.Close()
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	err = f.Close()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	err = os.Rename(tmp, path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	return nil
}
