// Copyright 2014 The nvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*

Package pmem abstracts byte-addressable, optionally file-backed persistent
memory regions.

A Mapping is a contiguous byte range whose stores can be made durable with an
explicit Flush followed by Drain. The package provides two implementations: a
file-backed mapping (mmap + msync) and a volatile, memory-only mapping useful
for tests and for consumers which do not need persistence.

A Mapping is safe for concurrent access to its bytes; the synchronisation of
those accesses is entirely the client's business. Flush, Drain and Close must
not race with each other.

*/
package pmem

// A Mapping is a byte-addressable region [base, base+len) with explicit
// durability control. The byte slice returned by Bytes is stable for the
// whole life of the Mapping; clients may retain pointers into it until Close.
type Mapping interface {
	// Bytes returns the mapped region. The result is valid until Close.
	Bytes() []byte

	// Name returns the name of the backing entity, if any. It's used only
	// in error messages.
	Name() string

	// Flush schedules the byte range [off, off+n) for writing to the
	// backing store. Flush provides no ordering guarantee on its own;
	// durability is reached only after a subsequent Drain returns.
	Flush(off, n int) error

	// Drain blocks until all previously flushed ranges are durable.
	Drain() error

	// Close makes the whole region durable and releases it. The slice
	// obtained from Bytes must not be used afterwards.
	Close() error
}

// roundDown returns the largest multiple of m not greater than n. m must be a
// power of two.
func roundDown(n, m int) int { return n &^ (m - 1) }

// roundUp returns the smallest multiple of m not less than n. m must be a
// power of two.
func roundUp(n, m int) int { return (n + m - 1) &^ (m - 1) }
