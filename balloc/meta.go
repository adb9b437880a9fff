// Copyright 2014 The nvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The per block metadata table.

package balloc

import (
	"sync/atomic"
	"unsafe"
)

// Every block of a pool has one fixed size metadata record in a table laid
// out between the superblock and the data region. A record is three 32 bit
// words:
//
//	+0 chain_length_and_stripe
//	+4 next (compressed pointer)
//	+8 prev (compressed pointer)
//
// Only chain head blocks carry meaningful records; the records of the other
// blocks of a chain are unused, except that the tail block's next word holds
// a back pointer to the head while the chain is free (see Pool.publishFree).
//
// chain_length_and_stripe packs, in its low 16 bits,
//
//	bits 0-9   chain length - 1 (lengths 1..1024)
//	bits 10-14 bag stripe index (0..31), meaningful iff bit 15 is set
//	bit  15    in_bag: the chain is free and published in a bag stripe
//
// The high 16 bits are always zero; the word is 32 bits wide only because
// that is the smallest size with atomic compare and swap support. A thread
// observing in_bag == 0 must not further interpret next/prev.
const (
	metaRecordSize = 12

	clsOff  = 0
	nextOff = 4
	prevOff = 8

	clsLengthMask  = 0x03ff
	clsStripeShift = 10
	clsStripeMask  = 0x7c00
	clsInBag       = 0x8000
)

// makeCls packs a chain length (1..MaxChainLength) and, when inBag, a stripe
// index (0..bagStripes-1).
func makeCls(length, stripe int, inBag bool) uint32 {
	v := uint32(length - 1)
	if inBag {
		v |= uint32(stripe)<<clsStripeShift | clsInBag
	}
	return v
}

// clsLength unpacks the chain length.
func clsLength(v uint32) int { return int(v&clsLengthMask) + 1 }

// clsStripe unpacks the stripe index and the in_bag flag.
func clsStripe(v uint32) (stripe int, inBag bool) {
	if v&clsInBag == 0 {
		return 0, false
	}

	return int((v & clsStripeMask) >> clsStripeShift), true
}

// metaTable is the window onto the metadata region of a mapped pool. All
// accessors are atomic; plain loads/stores of record words are never
// performed once a pool is shared between goroutines.
type metaTable struct {
	b []byte // the metadata region, len >= n*metaRecordSize
	n uint32 // number of records == number of blocks
}

func (t *metaTable) word(p Ptr, off int) *uint32 {
	return (*uint32)(unsafe.Pointer(&t.b[int(p)*metaRecordSize+off]))
}

func (t *metaTable) loadCls(p Ptr) uint32     { return atomic.LoadUint32(t.word(p, clsOff)) }
func (t *metaTable) storeCls(p Ptr, v uint32) { atomic.StoreUint32(t.word(p, clsOff), v) }

func (t *metaTable) casCls(p Ptr, old, new uint32) bool {
	return atomic.CompareAndSwapUint32(t.word(p, clsOff), old, new)
}

func (t *metaTable) loadNext(p Ptr) Ptr     { return Ptr(atomic.LoadUint32(t.word(p, nextOff))) }
func (t *metaTable) storeNext(p Ptr, v Ptr) { atomic.StoreUint32(t.word(p, nextOff), uint32(v)) }

func (t *metaTable) casNext(p Ptr, old, new Ptr) bool {
	return atomic.CompareAndSwapUint32(t.word(p, nextOff), uint32(old), uint32(new))
}

func (t *metaTable) loadPrev(p Ptr) Ptr     { return Ptr(atomic.LoadUint32(t.word(p, prevOff))) }
func (t *metaTable) storePrev(p Ptr, v Ptr) { atomic.StoreUint32(t.word(p, prevOff), uint32(v)) }

func (t *metaTable) casPrev(p Ptr, old, new Ptr) bool {
	return atomic.CompareAndSwapUint32(t.word(p, prevOff), uint32(old), uint32(new))
}

// init writes every record as a quiescent single block chain: length 1, not
// in any bag, null links.
func (t *metaTable) init() {
	for i := Ptr(0); i < Ptr(t.n); i++ {
		t.storeCls(i, makeCls(1, 0, false))
		t.storeNext(i, Null)
		t.storePrev(i, Null)
	}
}
