// Copyright 2014 The nvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Lock free bags of free chains.

package balloc

import (
	"sync/atomic"
)

const (
	// MaxChainLength is the maximum number of consecutive blocks forming
	// one chain. The limit comes from the 10 bit chain length encoding in
	// the block metadata.
	MaxChainLength = 1024

	// bagStripes is the number of doubly linked lists every bag is
	// sharded into.
	bagStripes = 32

	// removeAttempts bounds how many times bag.remove retries a stripe's
	// head CAS before moving to the next stripe.
	removeAttempts = 4
)

// pause is a CPU relaxation hint used in CAS retry loops.
func pause() {
	for i := 0; i < 32; i++ {
	}
}

// A bagStripe heads one doubly linked list of free chain head blocks. The
// list links themselves live in the block metadata table; only the head
// pointer and a removal counter are volatile. The padding keeps stripes on
// separate cache lines.
type bagStripe struct {
	head     uint32 // Ptr; atomic
	removals uint64 // atomic, helping/progress detection only
	_        [52]byte
}

// A bag holds all free chains of one particular length, spread over
// bagStripes stripes. The round robin counter spreads inserts and removal
// scans across stripes.
type bag struct {
	stripes [bagStripes]bagStripe
	rr      uint64 // atomic
}

// bags is the per pool set of 1024 bags; bags[L-1] holds the free chains of
// length L. It is volatile state, rebuilt from the metadata table when a
// pool is opened.
type bags struct {
	bags [MaxChainLength]bag
}

func newBags() *bags {
	b := &bags{}
	for i := range b.bags {
		for j := range b.bags[i].stripes {
			b.bags[i].stripes[j].head = uint32(Null)
		}
	}
	return b
}

// add publishes the free chain headed by h, of the given length, into a
// stripe of the length's bag. The chain must be exclusively owned by the
// caller and h's tail back pointer, if any, already written.
func (b *bags) add(tab *metaTable, length int, h Ptr) {
	bg := &b.bags[length-1]
	s := int(atomic.AddUint64(&bg.rr, 1) - 1) % bagStripes
	stripe := &bg.stripes[s]

	// Publish length and stripe before the chain becomes reachable.
	tab.storeCls(h, makeCls(length, s, true))

	for {
		old := Ptr(atomic.LoadUint32(&stripe.head))
		tab.storeNext(h, old)
		tab.storePrev(h, Null)
		if !old.IsNull() {
			// Tolerated race: another inserter may overwrite this
			// with its own pointer; tryToCut double checks via CAS.
			tab.storePrev(old, h)
		}
		if atomic.CompareAndSwapUint32(&stripe.head, uint32(old), uint32(h)) {
			return
		}

		pause()
	}
}

// remove claims some free chain of the given length from the length's bag
// and returns its head, or Null when no stripe yielded a chain within the
// attempt bounds. The returned chain is exclusively owned by the caller.
func (b *bags) remove(tab *metaTable, length int) Ptr {
	bg := &b.bags[length-1]
	start := int(atomic.AddUint64(&bg.rr, 1) - 1) % bagStripes
	for i := 0; i < bagStripes; i++ {
		s := (start + i) % bagStripes
		stripe := &bg.stripes[s]
		for attempt := 0; attempt < removeAttempts; attempt++ {
			h := Ptr(atomic.LoadUint32(&stripe.head))
			if h.IsNull() {
				break
			}

			n := tab.loadNext(h)
			if !atomic.CompareAndSwapUint32(&stripe.head, uint32(h), uint32(n)) {
				pause()
				continue
			}

			if !n.IsNull() {
				// Observers tolerate a stale prev; they double
				// check via tryToCut.
				tab.storePrev(n, Null)
			}

			// Claim ownership. Losing this CAS means a cutter got
			// the chain between our loads and now; the stripe head
			// has already moved past it, so just keep trying.
			if !tab.casCls(h, makeCls(length, s, true), makeCls(length, 0, false)) {
				continue
			}

			atomic.AddUint64(&stripe.removals, 1)
			return h
		}
	}
	return Null
}

// tryToCut excises the specific chain headed by p from whichever stripe it
// is published in. It returns (length, true) when the caller won ownership
// of the chain and (0, false) when the chain had already been claimed by
// another thread. Used by the coalescer to pull a neighbouring free chain
// out of its bag before merging.
func (b *bags) tryToCut(tab *metaTable, p Ptr) (length int, ok bool) {
	for {
		v := tab.loadCls(p)
		s, inBag := clsStripe(v)
		if !inBag {
			return 0, false
		}

		length = clsLength(v)
		stripe := &b.bags[length-1].stripes[s]
		next := tab.loadNext(p)
		prev := tab.loadPrev(p)

		// The in_bag bit plus the stripe index act as a generation:
		// failing here means either the chain was claimed (in_bag
		// now 0, next load sees it) or it went through a full
		// remove/add cycle and must be re-read.
		if !tab.casCls(p, v, makeCls(length, 0, false)) {
			pause()
			continue
		}

		if prev.IsNull() {
			if atomic.CompareAndSwapUint32(&stripe.head, uint32(p), uint32(next)) {
				if !next.IsNull() {
					tab.casPrev(next, p, Null)
				}
				return length, true
			}

			// The head moved. Either a remover popped p - then p
			// is already unlinked - or an inserter pushed in front
			// of p and wrote p's prev before its head CAS.
			prev = tab.loadPrev(p)
			if prev.IsNull() {
				return length, true
			}
		}

		if tab.casNext(prev, p, next) && !next.IsNull() {
			tab.casPrev(next, p, prev)
		}
		return length, true
	}
}
