// Copyright 2014 The nvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Atomically reference counted cells.

package cto

import (
	"sync/atomic"

	"github.com/cznic/nvm/balloc"
)

// An Arc is the multi goroutine variant of Rc: the persistent strong and
// weak counters are manipulated with atomic operations, so clones may be
// used and dropped concurrently. The cell layout is identical to Rc's.
type Arc struct {
	pool *balloc.Pool
	ptr  balloc.Ptr
	size int
}

// NewArc allocates a cell for size value bytes, runs init on them, persists,
// and returns a handle with a strong count of one.
func NewArc(pool *balloc.Pool, size int, init func(b []byte) error) (*Arc, error) {
	r, err := NewRc(pool, size, init)
	if err != nil {
		return nil, err
	}

	a := &Arc{pool: r.pool, ptr: r.ptr, size: r.size}
	return a, nil
}

// ArcAt re-binds an Arc persisted at ptr.
func ArcAt(pool *balloc.Pool, ptr balloc.Ptr, size int) *Arc {
	return &Arc{pool: pool.Acquire(), ptr: ptr, size: size}
}

func (a *Arc) strong() *uint32 { return word(a.pool.Bytes(a.ptr), rcStrongOff) }
func (a *Arc) weak() *uint32   { return word(a.pool.Bytes(a.ptr), rcWeakOff) }

// Ptr returns the head of the cell's chain.
func (a *Arc) Ptr() balloc.Ptr { return a.ptr }

// Bytes returns the value bytes.
func (a *Arc) Bytes() []byte { return a.pool.Bytes(a.ptr)[rcValueOff : rcValueOff+a.size] }

// StrongCount returns the persistent strong count.
func (a *Arc) StrongCount() int { return int(atomic.LoadUint32(a.strong())) }

// Clone returns a new strong handle.
func (a *Arc) Clone() *Arc {
	atomic.AddUint32(a.strong(), 1)
	return &Arc{pool: a.pool.Acquire(), ptr: a.ptr, size: a.size}
}

// Drop gives up this strong handle; the thread observing the final decrement
// frees the chain.
func (a *Arc) Drop() (err error) {
	if atomic.AddUint32(a.strong(), ^uint32(0)) == 0 {
		if atomic.AddUint32(a.weak(), ^uint32(0)) == 0 {
			err = a.pool.Free(a.ptr)
		}
	}
	if e := a.pool.Release(); err == nil {
		err = e
	}
	return err
}

// CtoPoolOpened implements Safe.
func (a *Arc) CtoPoolOpened(pool *balloc.Pool) {
	if a.pool != pool {
		a.pool = pool.Acquire()
	}
}
