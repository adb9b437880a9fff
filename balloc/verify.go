// Copyright 2014 The nvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Structural consistency checking.

package balloc

import (
	"fmt"
	"sync/atomic"
)

// Stats records statistics about a Pool. It is filled by Verify, if
// successful.
type Stats struct {
	TotalBlocks      int // == BlockCount
	FreeBlocks       int // blocks in free chains
	FreeChains       int // number of free chains over all bags
	AllocatedBlocks  int // blocks in allocated chains
	AllocatedChains  int // number of allocated chains
	LongestFreeChain int // blocks
}

// Verify performs a full sweep structural check of the metadata table and
// the bags. The pool must be quiescent: no concurrent allocator operation
// may run while Verify does. It checks that
//
//	- every block is part of exactly one chain,
//	- every chain length is in [1, MaxChainLength],
//	- a chain is marked in a bag iff it is reachable from exactly one
//	  stripe head, with matching length and stripe,
//
// and returns statistics on success.
func (p *Pool) Verify() (s Stats, err error) {
	s.TotalBlocks = int(p.count)

	// Phase 1: walk every stripe of every bag, collecting reachable heads.
	reach := make(map[Ptr]struct{})
	for l := 1; l <= MaxChainLength; l++ {
		bg := &p.bags.bags[l-1]
		for si := range bg.stripes {
			budget := int(p.count) + 1
			for h := Ptr(atomic.LoadUint32(&bg.stripes[si].head)); !h.IsNull(); h = p.meta.loadNext(h) {
				if budget--; budget < 0 {
					return s, &ErrCorruptMetadata{uint32(h), 0, fmt.Sprintf("cycle in bag %d stripe %d", l, si)}
				}

				if uint32(h) >= p.count {
					return s, &ErrCorruptMetadata{uint32(h), 0, fmt.Sprintf("bag %d stripe %d links out of limits", l, si)}
				}

				v := p.meta.loadCls(h)
				str, inBag := clsStripe(v)
				if !inBag || str != si || clsLength(v) != l {
					return s, &ErrCorruptMetadata{uint32(h), v, fmt.Sprintf("linked in bag %d stripe %d but labeled otherwise", l, si)}
				}

				if _, ok := reach[h]; ok {
					return s, &ErrCorruptMetadata{uint32(h), v, "reachable from more than one stripe position"}
				}

				reach[h] = struct{}{}
			}
		}
	}

	// Phase 2: sequential sweep of the chain structure.
	freeSeen := 0
	for h := Ptr(0); uint32(h) < p.count; {
		v := p.meta.loadCls(h)
		l := clsLength(v)
		if uint32(h)+uint32(l) > p.count {
			return s, &ErrCorruptMetadata{uint32(h), v, "chain extends past the region"}
		}

		if _, inBag := clsStripe(v); inBag {
			if _, ok := reach[h]; !ok {
				return s, &ErrCorruptMetadata{uint32(h), v, "marked in a bag but unreachable from any stripe"}
			}

			freeSeen++
			s.FreeChains++
			s.FreeBlocks += l
			if l > s.LongestFreeChain {
				s.LongestFreeChain = l
			}
		} else {
			s.AllocatedChains++
			s.AllocatedBlocks += l
		}
		h += Ptr(l)
	}

	if freeSeen != len(reach) {
		return s, &ErrCorruptMetadata{0, 0, fmt.Sprintf("%d stripe reachable heads, %d of them chain heads", len(reach), freeSeen)}
	}

	return s, nil
}
