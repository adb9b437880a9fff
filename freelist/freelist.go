// Copyright 2014 The nvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*

Package freelist implements a lock free pool of reusable objects: a Treiber
style stack with an elimination array in front of it and auto tuned
exponential backoff behind it.

Elements once pushed are never garbage: a popped Element may be refilled and
pushed again, into the same or any other FreeList. The stack's top word pairs
the pointer with a counter incremented on every successful swap, so a
recycled element cannot cause an ABA false positive. Go has no 16 byte
atomic, so the pair is kept consistent by a tiny spin locked critical
section; the correctness argument does not change.

Most contended operations never touch the top word at all: they meet a
matching operation in a random slot of the cache line sized elimination
array, which also doubles as a small cache of parked elements. Contention on
the remaining direct path is absorbed by exponential backoff whose magnitude
is re-tuned at runtime from observed contention frequency.

*/
package freelist

import (
	"sync/atomic"

	"github.com/cznic/nvm/balloc"
)

// An Element is a node of a FreeList. Once pushed, an Element lives until
// the whole FreeList is dropped; Value is the reusable payload slot.
type Element struct {
	next  *Element // free list linkage; owned by the list while pushed
	Value interface{}
}

// A FreeList is a lock free LIFO pool of Elements. The zero value is not
// usable; see New.
type FreeList struct {
	lock    uint32 // spin lock emulating a double width CAS on (top, counter)
	top     *Element
	counter uint64

	elim    eliminationArray
	backoff backOffState
	pool    *balloc.Pool // optional; keeps a mapping alive while elements reference it
}

// New returns a FreeList sized for the given number of concurrent threads
// (goroutines). The elimination array gets max(2, next power of two of
// threads) cache lines.
//
// pool may be nil. When it is not, the free list takes a reference on the
// pool handle, released by Close, so that Elements whose Values point into
// the pool's region keep the mapping alive.
//
// provider may be nil. When it is not, it is called once per elimination
// array entry and may return an Element to seed the entry with (or nil).
func New(threads int, pool *balloc.Pool, provider func() *Element) *FreeList {
	f := &FreeList{}
	f.elim.init(threads, provider)
	f.backoff.metric = 1
	if pool != nil {
		f.pool = pool.Acquire()
	}
	return f
}

// Close drops the free list's reference on its pool handle, if any. The
// elements themselves are ordinary garbage collected values.
func (f *FreeList) Close() error {
	if f.pool == nil {
		return nil
	}

	p := f.pool
	f.pool = nil
	return p.Release()
}

// tryPushTop attempts the direct push: one shot at the top word's critical
// section. A false return plays the role of a failed double width CAS.
func (f *FreeList) tryPushTop(e *Element) bool {
	if !atomic.CompareAndSwapUint32(&f.lock, 0, 1) {
		return false
	}

	e.next = f.top
	f.top = e
	f.counter++
	atomic.StoreUint32(&f.lock, 0)
	return true
}

// tryPopTop attempts the direct pop. ok distinguishes a failed attempt
// (contended, retry) from a successful attempt against an empty stack
// (e == nil).
func (f *FreeList) tryPopTop() (e *Element, ok bool) {
	if !atomic.CompareAndSwapUint32(&f.lock, 0, 1) {
		return nil, false
	}

	if e = f.top; e != nil {
		f.top = e.next
		f.counter++
		e.next = nil
	}
	atomic.StoreUint32(&f.lock, 0)
	return e, true
}

// Push adds e to the free list. e must not be in any free list.
func (f *FreeList) Push(e *Element) {
	if f.tryPushTop(e) {
		f.backoff.operationCompleted(0)
		return
	}

	bo := exponentialBackOff{state: &f.backoff}
	for {
		if f.elim.tryPush(e) {
			break
		}

		if f.tryPushTop(e) {
			break
		}

		bo.spin()
	}
	bo.done()
}

// Pop removes and returns some Element, or nil when the free list is
// genuinely empty. Emptiness accounts for elements parked in the elimination
// array.
func (f *FreeList) Pop() *Element {
	if e, ok := f.tryPopTop(); ok {
		if e == nil {
			// The stack is empty; only parked elements remain, if
			// any. One full scan settles it.
			e = f.elim.popAny()
		}
		f.backoff.operationCompleted(0)
		return e
	}

	bo := exponentialBackOff{state: &f.backoff}
	for {
		if e := f.elim.tryPop(); e != nil {
			bo.done()
			return e
		}

		if e, ok := f.tryPopTop(); ok {
			if e == nil {
				e = f.elim.popAny()
			}
			bo.done()
			return e
		}

		bo.spin()
	}
}
