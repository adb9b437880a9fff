// Copyright 2014 The nvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// A growable byte vector in pool memory.

package cto

import (
	"encoding/binary"

	"github.com/cznic/nvm/balloc"
)

// Persistent layout of a Vec header chain: element count, capacity in
// bytes, head of the data chain (Null while the capacity is zero).
const (
	vecLenOff  = 0
	vecCapOff  = 4
	vecDataOff = 8

	vecHeaderSize = 12
)

// A Vec is a growable byte vector whose header and data both live in pool
// memory. Growing reallocates the data chain and copies; the ordering of the
// persists (data, then header) keeps the header consistent with some fully
// written data state. A Vec is not safe for concurrent use.
type Vec struct {
	pool *balloc.Pool
	hdr  balloc.Ptr
}

// NewVec allocates an empty vector.
func NewVec(pool *balloc.Pool) (*Vec, error) {
	hdr, err := pool.Allocate(vecHeaderSize)
	if err != nil {
		return nil, err
	}

	b := pool.Bytes(hdr)
	binary.LittleEndian.PutUint32(b[vecLenOff:], 0)
	binary.LittleEndian.PutUint32(b[vecCapOff:], 0)
	binary.LittleEndian.PutUint32(b[vecDataOff:], uint32(balloc.Null))
	if err = pool.Flush(hdr, 0, vecHeaderSize); err != nil {
		pool.Free(hdr)
		return nil, err
	}

	if err = pool.Drain(); err != nil {
		pool.Free(hdr)
		return nil, err
	}

	return &Vec{pool: pool.Acquire(), hdr: hdr}, nil
}

// VecAt re-binds a Vec whose header chain is at hdr.
func VecAt(pool *balloc.Pool, hdr balloc.Ptr) *Vec {
	return &Vec{pool: pool.Acquire(), hdr: hdr}
}

// Ptr returns the head of the header chain, suitable for storing in a
// parent object or as the pool root.
func (v *Vec) Ptr() balloc.Ptr { return v.hdr }

func (v *Vec) header() []byte { return v.pool.Bytes(v.hdr) }

func (v *Vec) data() balloc.Ptr {
	return balloc.Ptr(binary.LittleEndian.Uint32(v.header()[vecDataOff:]))
}

// Len returns the number of bytes in the vector.
func (v *Vec) Len() int { return int(binary.LittleEndian.Uint32(v.header()[vecLenOff:])) }

// Cap returns the vector's capacity in bytes.
func (v *Vec) Cap() int { return int(binary.LittleEndian.Uint32(v.header()[vecCapOff:])) }

// Bytes returns the vector's content. The slice aliases pool memory and is
// invalidated by Append and Free.
func (v *Vec) Bytes() []byte {
	n := v.Len()
	if n == 0 {
		return nil
	}

	return v.pool.Bytes(v.data())[:n]
}

func (v *Vec) setHeader(length, capacity int, data balloc.Ptr) error {
	b := v.header()
	binary.LittleEndian.PutUint32(b[vecLenOff:], uint32(length))
	binary.LittleEndian.PutUint32(b[vecCapOff:], uint32(capacity))
	binary.LittleEndian.PutUint32(b[vecDataOff:], uint32(data))
	if err := v.pool.Flush(v.hdr, 0, vecHeaderSize); err != nil {
		return err
	}

	return v.pool.Drain()
}

// Append appends p to the vector, growing the data chain as needed.
func (v *Vec) Append(p []byte) error {
	if len(p) == 0 {
		return nil
	}

	n, c, data := v.Len(), v.Cap(), v.data()
	if n+len(p) > c {
		newCap := 2 * c
		if newCap < n+len(p) {
			newCap = n + len(p)
		}
		newData, err := v.pool.Allocate(newCap)
		if err != nil {
			return err
		}

		newCap = v.pool.ChainLen(newData) * v.pool.BlockSize()
		if n > 0 {
			copy(v.pool.Bytes(newData), v.pool.Bytes(data)[:n])
			if err = v.pool.Flush(newData, 0, n); err != nil {
				return err
			}

			if err = v.pool.Drain(); err != nil {
				return err
			}
		}
		old := data
		data, c = newData, newCap
		if err = v.setHeader(n, c, data); err != nil {
			return err
		}

		if !old.IsNull() {
			if err = v.pool.Free(old); err != nil {
				return err
			}
		}
	}

	copy(v.pool.Bytes(data)[n:], p)
	if err := v.pool.Flush(data, n, len(p)); err != nil {
		return err
	}

	if err := v.pool.Drain(); err != nil {
		return err
	}

	return v.setHeader(n+len(p), c, data)
}

// Truncate shortens the vector to n bytes. Capacity is retained.
func (v *Vec) Truncate(n int) error {
	if n < 0 || n > v.Len() {
		return &balloc.ErrINVAL{Src: "Vec.Truncate: length out of limits", Val: n}
	}

	return v.setHeader(n, v.Cap(), v.data())
}

// Free returns the data and header chains to the pool and drops the Vec's
// pool reference.
func (v *Vec) Free() (err error) {
	if data := v.data(); !data.IsNull() {
		err = v.pool.Free(data)
	}
	if e := v.pool.Free(v.hdr); err == nil {
		err = e
	}
	if e := v.pool.Release(); err == nil {
		err = e
	}
	return err
}

// CtoPoolOpened implements Safe.
func (v *Vec) CtoPoolOpened(pool *balloc.Pool) {
	if v.pool != pool {
		v.pool = pool.Acquire()
	}
}
