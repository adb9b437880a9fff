// Copyright 2014 The nvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Error types.

package balloc

import (
	"fmt"
)

// ErrINVAL reports invalid values passed as API arguments, for example an out
// of limits block pointer. More details in the error message.
type ErrINVAL struct {
	Src string
	Val interface{}
}

// Error implements the built in error type.
func (e *ErrINVAL) Error() string { return fmt.Sprintf("%s: %v", e.Src, e.Val) }

// ErrOutOfCapacity is returned by Allocate when no free chain of sufficient
// length exists in the pool.
type ErrOutOfCapacity struct {
	Size int // the requested size in bytes
}

// Error implements the built in error type.
func (e *ErrOutOfCapacity) Error() string {
	return fmt.Sprintf("Allocator.Allocate: out of capacity allocating %d bytes", e.Size)
}

// ErrRequestTooLarge is returned by Allocate when the request would need a
// chain longer than MaxChainLength blocks.
type ErrRequestTooLarge struct {
	Size   int // the requested size in bytes
	Blocks int // the number of blocks the request rounds to
}

// Error implements the built in error type.
func (e *ErrRequestTooLarge) Error() string {
	return fmt.Sprintf("Allocator.Allocate: %d bytes need a chain of %d blocks, limit is %d", e.Size, e.Blocks, MaxChainLength)
}

// ErrAlignmentTooLarge is returned by AllocateAligned when the requested
// alignment exceeds the pool's block size. Alignments up to the block size
// are honored for free because every chain starts on a block boundary.
type ErrAlignmentTooLarge struct {
	Align     int
	BlockSize int
}

// Error implements the built in error type.
func (e *ErrAlignmentTooLarge) Error() string {
	return fmt.Sprintf("Allocator.AllocateAligned: alignment %d exceeds block size %d", e.Align, e.BlockSize)
}

// ErrCorruptMetadata reports a block metadata value violating the pool
// invariants. Instances are produced by Verify and by pool opening; the lock
// free operation protocols themselves never interpret invalid metadata.
type ErrCorruptMetadata struct {
	Block  uint32 // the block index of the offending metadata record
	Val    uint32 // the observed chain_length_and_stripe value
	Reason string
}

// Error implements the built in error type.
func (e *ErrCorruptMetadata) Error() string {
	return fmt.Sprintf("corrupt metadata at block %#x (value %#x): %s", e.Block, e.Val, e.Reason)
}

// ErrPoolOpen wraps a failure to map or validate the backing region of a
// pool.
type ErrPoolOpen struct {
	Name string
	Err  error
}

// Error implements the built in error type.
func (e *ErrPoolOpen) Error() string { return fmt.Sprintf("open pool %q: %v", e.Name, e.Err) }

// Unwrap returns the underlying error.
func (e *ErrPoolOpen) Unwrap() error { return e.Err }

// ErrPoolValidation reports that an opened pool did not pass its consistency
// check.
type ErrPoolValidation struct {
	Name string
	Err  error
}

// Error implements the built in error type.
func (e *ErrPoolValidation) Error() string {
	return fmt.Sprintf("validate pool %q: %v", e.Name, e.Err)
}

// Unwrap returns the underlying error.
func (e *ErrPoolValidation) Unwrap() error { return e.Err }

// ErrInitialization wraps an error returned by a user supplied initializer
// for a freshly allocated object. The provisional allocation is rolled back
// before this error is returned.
type ErrInitialization struct {
	Err error
}

// Error implements the built in error type.
func (e *ErrInitialization) Error() string { return fmt.Sprintf("initializer failed: %v", e.Err) }

// Unwrap returns the underlying error.
func (e *ErrInitialization) Unwrap() error { return e.Err }
