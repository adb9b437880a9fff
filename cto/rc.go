// Copyright 2014 The nvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Reference counted cells with counters in persistent memory.

package cto

import (
	"encoding/binary"

	"github.com/cznic/nvm/balloc"
)

// Persistent layout of a counted cell: strong count, weak count, then the
// value, 8 byte aligned.
const (
	rcStrongOff = 0
	rcWeakOff   = 4
	rcValueOff  = 8
)

// An Rc is a single threaded reference counted cell: the value and both
// counters live in pool memory and survive restarts, the handle itself is a
// cheap volatile wrapper. Clones of one Rc must all be used from one
// goroutine; use Arc for shared ownership across goroutines.
//
// The weak count carries one extra reference owned collectively by the
// strong handles, so the chain is freed exactly once, when both counts
// reach zero.
type Rc struct {
	pool *balloc.Pool
	ptr  balloc.Ptr
	size int
}

// A WeakRc is a non owning handle to an Rc cell: it keeps the chain alive
// but not the value, and can attempt to Upgrade back into an Rc.
type WeakRc struct {
	pool *balloc.Pool
	ptr  balloc.Ptr
	size int
}

// NewRc allocates a cell for size value bytes, runs init on them, persists,
// and returns a handle with a strong count of one. A failing init rolls the
// allocation back.
func NewRc(pool *balloc.Pool, size int, init func(b []byte) error) (*Rc, error) {
	ptr, err := pool.Allocate(rcValueOff + size)
	if err != nil {
		return nil, err
	}

	b := pool.Bytes(ptr)
	binary.LittleEndian.PutUint32(b[rcStrongOff:], 1)
	binary.LittleEndian.PutUint32(b[rcWeakOff:], 1)
	if init != nil {
		if err = init(b[rcValueOff : rcValueOff+size]); err != nil {
			pool.Free(ptr)
			return nil, &balloc.ErrInitialization{Err: err}
		}
	}

	if err = pool.Flush(ptr, 0, rcValueOff+size); err != nil {
		pool.Free(ptr)
		return nil, err
	}

	if err = pool.Drain(); err != nil {
		pool.Free(ptr)
		return nil, err
	}

	return &Rc{pool: pool.Acquire(), ptr: ptr, size: size}, nil
}

// RcAt re-binds an Rc persisted at ptr. The persisted counters are trusted;
// the caller asserts one live strong handle per count.
func RcAt(pool *balloc.Pool, ptr balloc.Ptr, size int) *Rc {
	return &Rc{pool: pool.Acquire(), ptr: ptr, size: size}
}

func (r *Rc) strong() []byte { return r.pool.Bytes(r.ptr)[rcStrongOff:] }
func (r *Rc) weak() []byte   { return r.pool.Bytes(r.ptr)[rcWeakOff:] }

// Ptr returns the head of the cell's chain.
func (r *Rc) Ptr() balloc.Ptr { return r.ptr }

// Bytes returns the value bytes.
func (r *Rc) Bytes() []byte { return r.pool.Bytes(r.ptr)[rcValueOff : rcValueOff+r.size] }

// StrongCount returns the persistent strong count.
func (r *Rc) StrongCount() int { return int(binary.LittleEndian.Uint32(r.strong())) }

// Clone returns a new strong handle, incrementing the persistent strong
// count.
func (r *Rc) Clone() *Rc {
	b := r.strong()
	binary.LittleEndian.PutUint32(b, binary.LittleEndian.Uint32(b)+1)
	return &Rc{pool: r.pool.Acquire(), ptr: r.ptr, size: r.size}
}

// Downgrade returns a weak handle, incrementing the persistent weak count.
func (r *Rc) Downgrade() *WeakRc {
	b := r.weak()
	binary.LittleEndian.PutUint32(b, binary.LittleEndian.Uint32(b)+1)
	return &WeakRc{pool: r.pool.Acquire(), ptr: r.ptr, size: r.size}
}

// Drop gives up this strong handle. When the last strong handle goes, the
// collective weak reference goes with it; when the last weak reference goes,
// the chain returns to the pool.
func (r *Rc) Drop() (err error) {
	b := r.strong()
	n := binary.LittleEndian.Uint32(b) - 1
	binary.LittleEndian.PutUint32(b, n)
	if n == 0 {
		w := r.weak()
		wn := binary.LittleEndian.Uint32(w) - 1
		binary.LittleEndian.PutUint32(w, wn)
		if wn == 0 {
			err = r.pool.Free(r.ptr)
		}
	}
	if e := r.pool.Release(); err == nil {
		err = e
	}
	return err
}

// CtoPoolOpened implements Safe.
func (r *Rc) CtoPoolOpened(pool *balloc.Pool) {
	if r.pool != pool {
		r.pool = pool.Acquire()
	}
}

// Upgrade attempts to recover a strong handle. It returns nil when the value
// is gone (strong count reached zero).
func (w *WeakRc) Upgrade() *Rc {
	b := w.pool.Bytes(w.ptr)
	n := binary.LittleEndian.Uint32(b[rcStrongOff:])
	if n == 0 {
		return nil
	}

	binary.LittleEndian.PutUint32(b[rcStrongOff:], n+1)
	return &Rc{pool: w.pool.Acquire(), ptr: w.ptr, size: w.size}
}

// Drop gives up the weak handle, freeing the chain if it was the last
// reference of any kind.
func (w *WeakRc) Drop() (err error) {
	b := w.pool.Bytes(w.ptr)
	n := binary.LittleEndian.Uint32(b[rcWeakOff:]) - 1
	binary.LittleEndian.PutUint32(b[rcWeakOff:], n)
	if n == 0 {
		err = w.pool.Free(w.ptr)
	}
	if e := w.pool.Release(); err == nil {
		err = e
	}
	return err
}

// CtoPoolOpened implements Safe.
func (w *WeakRc) CtoPoolOpened(pool *balloc.Pool) {
	if w.pool != pool {
		w.pool = pool.Acquire()
	}
}
