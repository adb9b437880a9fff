// Copyright 2014 The nvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*

Package cto provides persistent container primitives - Box, Rc, Arc, Vec,
String and lock wrappers - built as thin clients of the balloc block
allocator, together with the "cto safe" re-opening protocol.

A container keeps its payload (and, for the counted types, its counters) in
pool memory and only volatile bookkeeping - the pool handle and the head
pointer of its chain - in ordinary Go memory. The volatile part is
meaningless after a restart; re-opening a pool therefore traverses the live
persistent roots and calls CtoPoolOpened on each, which re-binds the volatile
fields against the freshly acquired pool handle. Values wanting to live
under a root implement Safe.

Every container holds one reference on its pool handle (see balloc.Pool
Acquire/Release), so the mapping stays alive while any container still
references memory inside it.

*/
package cto

import (
	"unsafe"

	"github.com/cznic/nvm/balloc"
)

// Safe is the capability required of values reachable from a persistent
// root: after a pool was re-opened, CtoPoolOpened re-establishes any
// volatile fields (pool handles, locks, cached pointers) against the new
// pool handle. Implementations must forward the call to every Safe value
// they contain.
type Safe interface {
	CtoPoolOpened(pool *balloc.Pool)
}

// OpenRoot reads the pool's root pointer and, when one is set, calls bind to
// reconstruct the volatile wrapper of the persistent root object, then runs
// the re-opening protocol on it: CtoPoolOpened is called exactly once per
// live reachable root (the root forwards to its children).
//
// A pool with no root set yields (nil, nil).
func OpenRoot(pool *balloc.Pool, bind func(root balloc.Ptr) (Safe, error)) (Safe, error) {
	root := pool.GetRoot()
	if root.IsNull() {
		return nil, nil
	}

	v, err := bind(root)
	if err != nil {
		return nil, err
	}

	v.CtoPoolOpened(pool)
	return v, nil
}

// word gives atomic-capable access to a 32 bit little endian counter stored
// in pool memory. off must be 4 byte aligned within b, which holds for all
// layouts in this package because chains start on block boundaries.
func word(b []byte, off int) *uint32 {
	return (*uint32)(unsafe.Pointer(&b[off]))
}
