// Copyright 2014 The nvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package balloc

import (
	"sync/atomic"
	"testing"
)

func TestBagRoundTrip(t *testing.T) {
	p := newTestPool(t, 64, 16) // one free chain of 16 blocks

	h := p.bags.remove(&p.meta, 16)
	if g, e := h, Ptr(0); g != e {
		t.Fatal(g, e)
	}

	if h = p.bags.remove(&p.meta, 16); !h.IsNull() {
		t.Fatal(h)
	}

	p.bags.add(&p.meta, 16, 0)
	if h = p.bags.remove(&p.meta, 16); h != 0 {
		t.Fatal(h)
	}

	p.bags.add(&p.meta, 16, 0)
	verify(t, p)
}

func TestBagTryToCut(t *testing.T) {
	p := newTestPool(t, 64, 16)

	n, ok := p.bags.tryToCut(&p.meta, 0)
	if !ok {
		t.Fatal(ok)
	}

	if g, e := n, 16; g != e {
		t.Fatal(g, e)
	}

	// Already claimed.
	if _, ok = p.bags.tryToCut(&p.meta, 0); ok {
		t.Fatal(ok)
	}

	p.publishFree(0, 16)
	verify(t, p)
}

// Inserting a chain whose right neighbour is already the current head of the
// same stripe is a benign race of the insert protocol; both chains must stay
// individually claimable.
func TestBagAdjacentChains(t *testing.T) {
	p := newTestPool(t, 64, 16)

	if _, ok := p.bags.tryToCut(&p.meta, 0); !ok {
		t.Fatal(ok)
	}

	p.publishFree(8, 8)
	// Rewind the round robin counter so the left chain lands in the stripe
	// now headed by its right neighbour.
	atomic.StoreUint64(&p.bags.bags[7].rr, 0)
	p.publishFree(0, 8)

	a := p.bags.remove(&p.meta, 8)
	b := p.bags.remove(&p.meta, 8)
	if a.IsNull() || b.IsNull() || a == b {
		t.Fatal(a, b)
	}

	if a > b {
		a, b = b, a
	}
	if g, e := a, Ptr(0); g != e {
		t.Fatal(g, e)
	}

	if g, e := b, Ptr(8); g != e {
		t.Fatal(g, e)
	}

	p.publishFree(0, 8)
	p.publishFree(8, 8)
	s := verify(t, p)
	if g, e := s.FreeChains, 2; g != e {
		t.Fatal(g, e)
	}
}

func TestClsEncoding(t *testing.T) {
	for _, tc := range []struct {
		length, stripe int
		inBag          bool
	}{
		{1, 0, false},
		{1, 0, true},
		{1, 31, true},
		{2, 7, true},
		{1024, 0, false},
		{1024, 31, true},
		{513, 16, true},
	} {
		v := makeCls(tc.length, tc.stripe, tc.inBag)
		if g, e := clsLength(v), tc.length; g != e {
			t.Fatal(tc, g, e)
		}

		s, inBag := clsStripe(v)
		if g, e := inBag, tc.inBag; g != e {
			t.Fatal(tc, g, e)
		}

		if tc.inBag {
			if g, e := s, tc.stripe; g != e {
				t.Fatal(tc, g, e)
			}
		}
	}
}
