// Copyright 2014 The nvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cto

import (
	"github.com/cznic/nvm/balloc"
)

// A Box owns one chain of pool memory holding a single value of a fixed
// size. It is the simplest allocator client: no counters, no sharing.
type Box struct {
	pool *balloc.Pool
	ptr  balloc.Ptr
	size int
}

// NewBox allocates size bytes in pool, runs init on the zeroed-ownership
// bytes and persists them. A failing init rolls the allocation back and the
// error comes back wrapped in balloc.ErrInitialization.
func NewBox(pool *balloc.Pool, size int, init func(b []byte) error) (*Box, error) {
	ptr, err := pool.Allocate(size)
	if err != nil {
		return nil, err
	}

	b := pool.Bytes(ptr)[:size]
	if init != nil {
		if err = init(b); err != nil {
			pool.Free(ptr)
			return nil, &balloc.ErrInitialization{Err: err}
		}
	}

	if err = pool.Flush(ptr, 0, size); err != nil {
		pool.Free(ptr)
		return nil, err
	}

	if err = pool.Drain(); err != nil {
		pool.Free(ptr)
		return nil, err
	}

	return &Box{pool: pool.Acquire(), ptr: ptr, size: size}, nil
}

// BoxAt re-binds a Box persisted at ptr, typically while reconstructing a
// root after Open.
func BoxAt(pool *balloc.Pool, ptr balloc.Ptr, size int) *Box {
	return &Box{pool: pool.Acquire(), ptr: ptr, size: size}
}

// Ptr returns the head of the Box's chain, suitable for storing in a parent
// object or as the pool root.
func (b *Box) Ptr() balloc.Ptr { return b.ptr }

// Bytes returns the value bytes. The caller flushes what it modifies.
func (b *Box) Bytes() []byte { return b.pool.Bytes(b.ptr)[:b.size] }

// Flush persists the byte range [off, off+n) of the value.
func (b *Box) Flush(off, n int) error {
	if err := b.pool.Flush(b.ptr, off, n); err != nil {
		return err
	}

	return b.pool.Drain()
}

// Free returns the chain to the pool and drops the Box's pool reference.
// The Box must not be used afterwards.
func (b *Box) Free() error {
	if err := b.pool.Free(b.ptr); err != nil {
		return err
	}

	return b.pool.Release()
}

// CtoPoolOpened implements Safe. The stale pre-restart handle, if any, is
// simply forgotten; its mapping is gone.
func (b *Box) CtoPoolOpened(pool *balloc.Pool) {
	if b.pool != pool {
		b.pool = pool.Acquire()
	}
}
