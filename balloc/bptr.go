// Copyright 2014 The nvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package balloc

// A Ptr is a compressed block pointer: a 32 bit index of a block within a
// pool's data region. The all-ones value is the null sentinel; a pool holds
// at most 1<<32 - 2 blocks, so both the block indexes and the block count
// stay below it. Non null values of a Ptr obtained
// from a Pool are always valid block indexes of that pool.
//
// A Ptr expands in two ways: to the block's bytes in the data region
// (Pool.Bytes) and to the block's metadata record (metaTable methods). All
// Ptr arithmetic and comparisons are plain operations on the 32 bit index.
type Ptr uint32

// Null is the null block pointer.
const Null Ptr = 1<<32 - 1

// IsNull returns whether p is the null pointer.
func (p Ptr) IsNull() bool { return p == Null }
