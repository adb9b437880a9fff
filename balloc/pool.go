// Copyright 2014 The nvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Pool lifecycle: superblock, create, open, the reference counted handle.

package balloc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/cznic/mathutil"
	"github.com/cznic/nvm/pmem"
)

// The superblock is the first superblockSize bytes of a pool region:
//
//	+0  magic  [8]byte "nvmbpool"
//	+8  version u32
//	+12 block size u32
//	+16 block count u32
//	+20 root (compressed pointer) u32
//	+24 reserved, zero
//
// The metadata table starts at the first block size boundary after the
// superblock, the data region at the first block size boundary after the
// metadata table. All integers are little endian.
const (
	superblockSize = 64

	verOff   = 8
	bsOff    = 12
	countOff = 16
	rootOff  = 20

	poolVersion = 1

	// MinBlockSize is the smallest supported block size.
	MinBlockSize = 64

	maxBlockCount = 1<<32 - 2 // all-ones is the null pointer
)

var poolMagic = []byte("nvmbpool")

// A Pool is an open, mapped persistent memory block pool. All methods are
// safe for concurrent use by multiple goroutines.
//
// A Pool is also the reference counted handle to its mapping (the strong
// arc): objects which retain pointers into the region take a reference with
// Acquire and drop it with Release; the final Release closes the mapping.
type Pool struct {
	m         pmem.Mapping
	name      string
	blockSize int
	count     uint32
	metaOff   int
	dataOff   int
	meta      metaTable
	data      []byte
	bags      *bags
	refs      int64 // atomic
}

func poolGeometry(regionLen, blockSize int) (metaOff, dataOff, count int) {
	metaOff = roundUp(superblockSize, blockSize)
	count = (regionLen - metaOff) / (metaRecordSize + blockSize)
	if count > maxBlockCount {
		count = maxBlockCount
	}
	for count > 0 {
		dataOff = metaOff + roundUp(count*metaRecordSize, blockSize)
		if dataOff+count*blockSize <= regionLen {
			break
		}

		count--
	}
	return metaOff, dataOff, count
}

func roundUp(n, m int) int { return (n + m - 1) / m * m }

// Create formats the region of m as a fresh pool with the given block size
// and returns it open. Every block is made part of a free chain: maximal
// runs of MaxChainLength blocks plus one remainder chain.
//
// blockSize must be a power of two and at least MinBlockSize.
func Create(m pmem.Mapping, name string, blockSize int) (*Pool, error) {
	if blockSize < MinBlockSize || blockSize >= 1<<32 || blockSize&(blockSize-1) != 0 {
		return nil, &ErrINVAL{"Create: invalid block size", blockSize}
	}

	b := m.Bytes()
	metaOff, dataOff, count := poolGeometry(len(b), blockSize)
	if count < 1 {
		return nil, &ErrINVAL{"Create: region too small for one block", len(b)}
	}

	copy(b, poolMagic)
	binary.LittleEndian.PutUint32(b[verOff:], poolVersion)
	binary.LittleEndian.PutUint32(b[bsOff:], uint32(blockSize))
	binary.LittleEndian.PutUint32(b[countOff:], uint32(count))
	binary.LittleEndian.PutUint32(b[rootOff:], uint32(Null))
	for i := rootOff + 4; i < superblockSize; i++ {
		b[i] = 0
	}

	p := &Pool{
		m:         m,
		name:      name,
		blockSize: blockSize,
		count:     uint32(count),
		metaOff:   metaOff,
		dataOff:   dataOff,
		meta:      metaTable{b: b[metaOff:dataOff], n: uint32(count)},
		data:      b[dataOff:],
		bags:      newBags(),
		refs:      1,
	}
	p.meta.init()
	for off := 0; off < count; {
		l := mathutil.Min(MaxChainLength, count-off)
		p.publishFree(Ptr(off), l)
		off += l
	}

	if err := m.Flush(0, dataOff); err != nil {
		return nil, &ErrPoolOpen{name, err}
	}

	if err := m.Drain(); err != nil {
		return nil, &ErrPoolOpen{name, err}
	}

	return p, nil
}

// Open maps an existing pool from the region of m. The free chain bags are
// volatile and are rebuilt by a sequential scan of the metadata table: any
// chain whose head was marked in a bag is re-published, everything else is
// considered allocated and left alone.
func Open(m pmem.Mapping, name string) (*Pool, error) {
	b := m.Bytes()
	if len(b) < superblockSize {
		return nil, &ErrPoolValidation{name, fmt.Errorf("region too small: %d bytes", len(b))}
	}

	if !bytes.Equal(b[:len(poolMagic)], poolMagic) {
		return nil, &ErrPoolValidation{name, fmt.Errorf("bad magic %q", b[:len(poolMagic)])}
	}

	if v := binary.LittleEndian.Uint32(b[verOff:]); v != poolVersion {
		return nil, &ErrPoolValidation{name, fmt.Errorf("unsupported version %d", v)}
	}

	blockSize := int(binary.LittleEndian.Uint32(b[bsOff:]))
	count := int(binary.LittleEndian.Uint32(b[countOff:]))
	if blockSize < MinBlockSize || blockSize&(blockSize-1) != 0 {
		return nil, &ErrPoolValidation{name, fmt.Errorf("bad block size %d", blockSize)}
	}

	metaOff, dataOff, maxCount := poolGeometry(len(b), blockSize)
	if count < 1 || count > maxCount {
		return nil, &ErrPoolValidation{name, fmt.Errorf("block count %d does not fit the region", count)}
	}

	dataOff = metaOff + roundUp(count*metaRecordSize, blockSize)
	p := &Pool{
		m:         m,
		name:      name,
		blockSize: blockSize,
		count:     uint32(count),
		metaOff:   metaOff,
		dataOff:   dataOff,
		meta:      metaTable{b: b[metaOff:dataOff], n: uint32(count)},
		data:      b[dataOff:],
		bags:      newBags(),
		refs:      1,
	}

	if root := p.GetRoot(); !root.IsNull() && uint32(root) >= p.count {
		return nil, &ErrPoolValidation{name, fmt.Errorf("root pointer %#x out of limits", uint32(root))}
	}

	// Rebuild the bags. The persisted free list shape is advisory only;
	// what is trusted is the per head chain length and the in_bag bit.
	for h := Ptr(0); uint32(h) < p.count; {
		v := p.meta.loadCls(h)
		l := clsLength(v)
		if uint32(h)+uint32(l) > p.count {
			return nil, &ErrPoolValidation{name, &ErrCorruptMetadata{uint32(h), v, "chain extends past the region"}}
		}

		if _, inBag := clsStripe(v); inBag {
			p.publishFree(h, l)
		}
		h += Ptr(l)
	}

	return p, nil
}

// Name returns the pool's name.
func (p *Pool) Name() string { return p.name }

// BlockSize returns the pool's block size in bytes.
func (p *Pool) BlockSize() int { return p.blockSize }

// BlockCount returns the number of blocks in the pool's data region.
func (p *Pool) BlockCount() int { return int(p.count) }

// Acquire takes one reference on the pool handle and returns the pool. Every
// Acquire must be balanced by exactly one Release.
func (p *Pool) Acquire() *Pool {
	atomic.AddInt64(&p.refs, 1)
	return p
}

// Release drops one reference. The caller observing the count transition to
// zero closes the underlying mapping; using the pool or any pointer into its
// region after that is invalid.
func (p *Pool) Release() error {
	if atomic.AddInt64(&p.refs, -1) == 0 {
		return p.m.Close()
	}

	return nil
}

func (p *Pool) rootWord() *uint32 {
	return (*uint32)(unsafe.Pointer(&p.m.Bytes()[rootOff]))
}

// GetRoot returns the pool's persistent root pointer, Null if never set.
func (p *Pool) GetRoot() Ptr { return Ptr(atomic.LoadUint32(p.rootWord())) }

// SetRoot durably stores the pool's persistent root pointer.
func (p *Pool) SetRoot(root Ptr) error {
	atomic.StoreUint32(p.rootWord(), uint32(root))
	if err := p.m.Flush(rootOff, 4); err != nil {
		return err
	}

	return p.m.Drain()
}

// ChainLen returns the length, in blocks, of the chain headed by h. h must
// head a chain owned by the caller or be otherwise quiescent.
func (p *Pool) ChainLen(h Ptr) int { return clsLength(p.meta.loadCls(h)) }

// Bytes returns the data bytes of the chain headed by h: the full capacity,
// chain length times block size. h must head a chain owned by the caller.
func (p *Pool) Bytes(h Ptr) []byte {
	off := int(h) * p.blockSize
	return p.data[off : off+p.ChainLen(h)*p.blockSize : off+p.ChainLen(h)*p.blockSize]
}

// Flush schedules the byte range [off, off+n) of the chain headed by h for
// persistence.
func (p *Pool) Flush(h Ptr, off, n int) error {
	return p.m.Flush(p.dataOff+int(h)*p.blockSize+off, n)
}

// Drain blocks until all previously flushed ranges are durable.
func (p *Pool) Drain() error { return p.m.Drain() }

// publishFree records the tail back pointer of the chain [h, h+length) and
// publishes the chain in a bag. The chain must be exclusively owned.
func (p *Pool) publishFree(h Ptr, length int) {
	if length > 1 {
		p.meta.storeNext(h+Ptr(length-1), h)
	}
	p.bags.add(&p.meta, length, h)
}
