// Copyright 2014 The nvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*

Package logpool implements an append only log over a persistent memory
region.

The region is a header followed by a sequence of records:

	+0  magic [8]byte "nvmlpool"
	+8  version u32
	+12 reserved u32
	+16 tail u64 (offset of the first free byte)
	+24 .. dataOff-1 reserved, zero

Every record is framed as {raw length u32, stored length u32, payload}. The
payload is the raw bytes or, when that is shorter, their zappy compressed
form; bit 31 of the stored length marks compression. Frames are padded to 8
byte boundaries.

Append persists the frame before advancing the persisted tail, so a crash
mid-append loses at most the record being written; everything below the tail
is always well formed. All integers are little endian.

Appending and walking are safe for one writer with any number of concurrent
readers of already appended records; multiple writers must coordinate
externally.

*/
package logpool

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/cznic/nvm/balloc"
	"github.com/cznic/nvm/pmem"
	"github.com/cznic/zappy"
)

const (
	logVersion = 1

	tailOff = 16
	dataOff = 64

	frameHeaderSize = 8
	compressedBit   = 1 << 31
)

var logMagic = []byte("nvmlpool")

// A Pool is an open log pool.
type Pool struct {
	m    pmem.Mapping
	name string
}

// Create formats the region of m as an empty log and returns it open.
func Create(m pmem.Mapping, name string) (*Pool, error) {
	b := m.Bytes()
	if len(b) < dataOff+frameHeaderSize {
		return nil, &balloc.ErrPoolOpen{Name: name, Err: fmt.Errorf("region too small: %d bytes", len(b))}
	}

	copy(b, logMagic)
	binary.LittleEndian.PutUint32(b[8:], logVersion)
	binary.LittleEndian.PutUint32(b[12:], 0)
	binary.LittleEndian.PutUint64(b[tailOff:], dataOff)
	for i := 24; i < dataOff; i++ {
		b[i] = 0
	}
	if err := m.Flush(0, dataOff); err != nil {
		return nil, &balloc.ErrPoolOpen{Name: name, Err: err}
	}

	if err := m.Drain(); err != nil {
		return nil, &balloc.ErrPoolOpen{Name: name, Err: err}
	}

	return &Pool{m: m, name: name}, nil
}

// Open maps an existing log from the region of m, validating the header and
// the record framing up to the persisted tail.
func Open(m pmem.Mapping, name string) (*Pool, error) {
	b := m.Bytes()
	if len(b) < dataOff || string(b[:len(logMagic)]) != string(logMagic) {
		return nil, &balloc.ErrPoolValidation{Name: name, Err: fmt.Errorf("bad magic")}
	}

	if v := binary.LittleEndian.Uint32(b[8:]); v != logVersion {
		return nil, &balloc.ErrPoolValidation{Name: name, Err: fmt.Errorf("unsupported version %d", v)}
	}

	p := &Pool{m: m, name: name}
	tail := p.tail()
	if tail < dataOff || tail > uint64(len(b)) {
		return nil, &balloc.ErrPoolValidation{Name: name, Err: fmt.Errorf("tail %#x out of limits", tail)}
	}

	// Replay the framing.
	off := uint64(dataOff)
	for off < tail {
		if tail-off < frameHeaderSize {
			return nil, &balloc.ErrPoolValidation{Name: name, Err: fmt.Errorf("truncated frame at %#x", off)}
		}

		stored := binary.LittleEndian.Uint32(b[off+4:]) &^ compressedBit
		off += frameHeaderSize + uint64(pad8(int(stored)))
		if off > tail {
			return nil, &balloc.ErrPoolValidation{Name: name, Err: fmt.Errorf("frame extends past tail at %#x", off)}
		}
	}
	return p, nil
}

func pad8(n int) int { return (n + 7) &^ 7 }

func (p *Pool) tailWord() *uint64 {
	return (*uint64)(unsafe.Pointer(&p.m.Bytes()[tailOff]))
}

func (p *Pool) tail() uint64 { return atomic.LoadUint64(p.tailWord()) }

func (p *Pool) setTail(v uint64) error {
	atomic.StoreUint64(p.tailWord(), v)
	if err := p.m.Flush(tailOff, 8); err != nil {
		return err
	}

	return p.m.Drain()
}

// Name returns the pool's name.
func (p *Pool) Name() string { return p.name }

// Tell returns the offset at which the next record will be appended.
func (p *Pool) Tell() int64 { return int64(p.tail()) }

// Append adds one record holding data. The record is compressed when that
// makes it smaller. Append returns balloc.ErrOutOfCapacity when the region
// cannot hold the record.
func (p *Pool) Append(data []byte) error {
	payload := data
	stored := uint32(len(data))
	if c, err := zappy.Encode(nil, data); err == nil && len(c) < len(data) {
		payload = c
		stored = uint32(len(c)) | compressedBit
	}

	b := p.m.Bytes()
	tail := p.tail()
	need := uint64(frameHeaderSize + pad8(len(payload)))
	if tail+need > uint64(len(b)) {
		return &balloc.ErrOutOfCapacity{Size: len(data)}
	}

	binary.LittleEndian.PutUint32(b[tail:], uint32(len(data)))
	binary.LittleEndian.PutUint32(b[tail+4:], stored)
	copy(b[tail+frameHeaderSize:], payload)
	if err := p.m.Flush(int(tail), int(need)); err != nil {
		return err
	}

	if err := p.m.Drain(); err != nil {
		return err
	}

	return p.setTail(tail + need)
}

// Walk calls fn for every record in append order, stopping early when fn
// returns false. The byte slice passed to fn is valid only during the call
// for uncompressed records and is otherwise freshly decoded.
func (p *Pool) Walk(fn func(data []byte) bool) error {
	b := p.m.Bytes()
	tail := p.tail()
	for off := uint64(dataOff); off < tail; {
		raw := binary.LittleEndian.Uint32(b[off:])
		stored := binary.LittleEndian.Uint32(b[off+4:])
		n := stored &^ compressedBit
		payload := b[off+frameHeaderSize : off+frameHeaderSize+uint64(n)]
		if stored&compressedBit != 0 {
			d, err := zappy.Decode(nil, payload)
			if err != nil {
				return &balloc.ErrPoolValidation{Name: p.name, Err: err}
			}

			if uint32(len(d)) != raw {
				return &balloc.ErrPoolValidation{Name: p.name, Err: fmt.Errorf("record at %#x decodes to %d bytes, want %d", off, len(d), raw)}
			}

			payload = d
		}
		if !fn(payload) {
			return nil
		}

		off += frameHeaderSize + uint64(pad8(int(n)))
	}
	return nil
}

// Rewind discards all records.
func (p *Pool) Rewind() error { return p.setTail(dataOff) }

// Close makes the log durable and releases the mapping.
func (p *Pool) Close() error { return p.m.Close() }
