// Copyright 2014 The nvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The elimination array.

package freelist

import (
	"math/rand"
	"sync/atomic"
	"unsafe"
)

// atomicIsolationSize is the byte distance below which two atomic variables
// are considered to interfere with each other on current hardware. 128
// covers the adjacent cache line prefetcher of common 64 bit parts.
const atomicIsolationSize = 128

// entriesPerLine is how many Element pointers fit in one isolation unit.
const entriesPerLine = atomicIsolationSize / 8

// An eliminationLine is one isolation unit of rendezvous slots. A slot holds
// either nil or a parked *Element.
type eliminationLine struct {
	entries [entriesPerLine]unsafe.Pointer // *Element; atomic
}

// The eliminationArray spreads matching push/pop pairs over
// len(lines)*entriesPerLine independent slots so they can exchange an
// Element without touching the stack's top word. A pushed Element resting in
// a slot is part of the free list's content.
type eliminationArray struct {
	lines []eliminationLine
	mask  int // len(lines)*entriesPerLine - 1
}

func (a *eliminationArray) init(threads int, provider func() *Element) {
	n := 2
	for n < threads {
		n <<= 1
	}
	a.lines = make([]eliminationLine, n)
	a.mask = n*entriesPerLine - 1
	if provider == nil {
		return
	}

	for i := range a.lines {
		for j := range a.lines[i].entries {
			if e := provider(); e != nil {
				e.next = nil
				a.lines[i].entries[j] = unsafe.Pointer(e)
			}
		}
	}
}

func (a *eliminationArray) slot(i int) *unsafe.Pointer {
	return &a.lines[i/entriesPerLine].entries[i%entriesPerLine]
}

// randomIndex selects a uniformly random entry over the whole array.
func (a *eliminationArray) randomIndex() int { return int(rand.Uint64()) & a.mask }

// tryPush parks e in one random slot if that slot is empty.
func (a *eliminationArray) tryPush(e *Element) bool {
	e.next = nil
	return atomic.CompareAndSwapPointer(a.slot(a.randomIndex()), nil, unsafe.Pointer(e))
}

// tryPop takes the Element parked in one random slot, if any.
func (a *eliminationArray) tryPop() *Element {
	return (*Element)(atomic.SwapPointer(a.slot(a.randomIndex()), nil))
}

// popAny sweeps every slot once and returns the first parked Element found.
func (a *eliminationArray) popAny() *Element {
	for i := 0; i <= a.mask; i++ {
		if e := (*Element)(atomic.SwapPointer(a.slot(i), nil)); e != nil {
			return e
		}
	}
	return nil
}
