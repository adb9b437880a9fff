// Copyright 2014 The nvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The block chain allocator.

/*

Package balloc implements a lock free block allocator for byte addressable
persistent memory pools.

A pool's data region is an array of fixed size blocks; the block size is a
power of two chosen at pool creation. Clients allocate chains: maximal runs
of consecutive blocks behaving as one allocation. Only the head block of a
chain carries metadata - its length and, while the chain is free, its
position in the free chain bags. Chains are at most MaxChainLength blocks
long; larger requests fail rather than fragment.

Free chains of each length are kept in a bag, a set of 32 striped lock free
doubly linked lists threaded through the block metadata table. Allocation
claims a chain of at least the required length, splitting off and
re-publishing any excess. Deallocation attempts to coalesce the freed chain
with its immediate left and right neighbours before re-publishing it, so a
quiescent pool converges to one free chain per span of at most MaxChainLength
consecutive blocks.

All allocator operations are non blocking: no operation holds a lock, and
after any finite number of failed compare and swap attempts some thread has
made progress. Publication of a free chain happens-before its claim; a chain
returned by Allocate is exclusively owned by the caller until it is passed to
Free.

The free list shape is not crash consistent: re-opening a pool rebuilds the
bags from a sequential scan of the metadata table. Allocated chains and the
pool root survive re-opening; see Open.

*/
package balloc

// Allocate claims a chain of enough blocks to hold size bytes and returns
// its head. A zero size still claims one block; the caller gets the chain's
// whole capacity (ChainLen times BlockSize), of which the trailing part
// beyond size is simply unused.
//
// The returned chain is exclusively owned by the caller; no concurrent
// allocator operation observes its blocks until Free.
func (p *Pool) Allocate(size int) (Ptr, error) {
	if size < 0 {
		return Null, &ErrINVAL{"Allocator.Allocate: negative size", size}
	}

	required := (size + p.blockSize - 1) / p.blockSize
	if required == 0 {
		required = 1
	}
	if required > MaxChainLength {
		return Null, &ErrRequestTooLarge{size, required}
	}

	for l := required; l <= MaxChainLength; l++ {
		h := p.bags.remove(&p.meta, l)
		if h.IsNull() {
			continue
		}

		p.meta.storeCls(h, makeCls(required, 0, false))
		if l > required {
			p.publishFree(h+Ptr(required), l-required)
		}
		return h, nil
	}
	return Null, &ErrOutOfCapacity{size}
}

// AllocateAligned is Allocate for clients needing a particular alignment.
// Alignments up to the block size are free because every chain starts on a
// block boundary; larger ones fail with ErrAlignmentTooLarge.
func (p *Pool) AllocateAligned(align, size int) (Ptr, error) {
	if align <= 0 || align&(align-1) != 0 {
		return Null, &ErrINVAL{"Allocator.AllocateAligned: alignment not a power of two", align}
	}

	if align > p.blockSize {
		return Null, &ErrAlignmentTooLarge{align, p.blockSize}
	}

	return p.Allocate(size)
}

// Free returns the chain headed by h to the pool. The chain must have been
// obtained from Allocate of this pool and must still be owned by the caller;
// after Free returns, h is invalid.
//
// Free attempts to merge the chain with its right and left neighbouring
// chains if those are free, skipping a merge that would exceed
// MaxChainLength.
func (p *Pool) Free(h Ptr) error {
	if h.IsNull() || uint32(h) >= p.count {
		return &ErrINVAL{"Allocator.Free: block pointer out of limits", h}
	}

	v := p.meta.loadCls(h)
	if _, inBag := clsStripe(v); inBag {
		return &ErrINVAL{"Allocator.Free: attempt to free a free chain at block", h}
	}

	l := clsLength(v)

	// Right join.
	if r := h + Ptr(l); uint32(r) < p.count {
		rv := p.meta.loadCls(r)
		if _, inBag := clsStripe(rv); inBag && l+clsLength(rv) <= MaxChainLength {
			if n, ok := p.bags.tryToCut(&p.meta, r); ok {
				if l+n <= MaxChainLength {
					l += n
				} else {
					// The neighbour grew between the load and
					// the cut; give it back unmerged.
					p.publishFree(r, n)
				}
			}
		}
	}

	// Left join.
	if h > 0 {
		if c, n, ok := p.cutLeft(h, MaxChainLength-l); ok {
			h = c
			l += n
		}
	}

	p.publishFree(h, l)
	return nil
}

// cutLeft tries to claim the free chain immediately preceding block h, if
// any, with length at most maxLen. On success the claimed chain [c, c+n)
// satisfies c+n == h and is exclusively owned by the caller.
//
// The left neighbour's head is found in O(1): either block h-1 itself (a
// single block chain) or through the back pointer its head wrote into the
// tail block's metadata before publishing. A stale back pointer is harmless;
// every candidate is validated and the cut result re-verified.
func (p *Pool) cutLeft(h Ptr, maxLen int) (head Ptr, length int, ok bool) {
	t := h - 1
	cands := [2]Ptr{t, p.meta.loadNext(t)}
	if cands[1] == cands[0] {
		cands[1] = Null
	}
	for _, c := range cands {
		if c.IsNull() || uint32(c) >= p.count || c >= h {
			continue
		}

		v := p.meta.loadCls(c)
		if _, inBag := clsStripe(v); !inBag {
			continue
		}

		if n := clsLength(v); n > maxLen || c+Ptr(n) != h {
			continue
		}

		n, ok2 := p.bags.tryToCut(&p.meta, c)
		if !ok2 {
			continue
		}

		if c+Ptr(n) != h || n > maxLen {
			// The chain changed identity between validation and
			// the cut. It is ours now, so just re-publish it.
			p.publishFree(c, n)
			continue
		}

		return c, n, true
	}
	return Null, 0, false
}
