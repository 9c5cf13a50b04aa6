// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package locked provides concurrency-safe helpers.
package locked

import (
	"bytes"
	"sync"
)

// BytesBuffer is a locked bytes.Buffer. It is used to collect log output
// written by concurrently running handlers.
type BytesBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *BytesBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// Len returns the number of bytes held by the buffer.
func (b *BytesBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

func (b *BytesBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
