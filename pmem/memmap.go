// Copyright 2014 The nvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// A memory-only implementation of Mapping.

package pmem

import (
	"io"
)

var _ Mapping = (*MemMapping)(nil) // Ensure MemMapping is a Mapping.

// MemMapping is a memory backed Mapping. It implements Flush and Drain as
// no-ops. MemMapping is not automatically persistent, but it has ReadFrom and
// WriteTo methods allowing tests to snapshot and restore a region.
type MemMapping struct {
	b    []byte
	name string
}

// NewMemMapping returns a new MemMapping of size bytes, zero filled.
func NewMemMapping(size int) *MemMapping {
	return &MemMapping{b: make([]byte, size), name: "MemMapping"}
}

// Bytes implements Mapping.
func (m *MemMapping) Bytes() []byte { return m.b }

// Name implements Mapping.
func (m *MemMapping) Name() string { return m.name }

// Flush implements Mapping. It's a nop.
func (m *MemMapping) Flush(off, n int) error { return nil }

// Drain implements Mapping. It's a nop.
func (m *MemMapping) Drain() error { return nil }

// Close implements Mapping. It's a nop; the region stays valid so tests can
// reuse it to model a re-opened pool.
func (m *MemMapping) Close() error { return nil }

// WriteTo writes the whole region to w.
func (m *MemMapping) WriteTo(w io.Writer) (n int64, err error) {
	wn, err := w.Write(m.b)
	return int64(wn), err
}

// ReadFrom replaces the region's content by reading r until io.EOF. The
// region size does not change; shorter content leaves a zero filled tail.
func (m *MemMapping) ReadFrom(r io.Reader) (n int64, err error) {
	for i := range m.b {
		m.b[i] = 0
	}

	for {
		rn, e := r.Read(m.b[n:])
		n += int64(rn)
		if e == io.EOF {
			return n, nil
		}

		if e != nil {
			return n, e
		}

		if n == int64(len(m.b)) {
			return n, nil
		}
	}
}
