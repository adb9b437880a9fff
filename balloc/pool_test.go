// Copyright 2014 The nvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package balloc

import (
	"path/filepath"
	"testing"

	"github.com/cznic/nvm/pmem"
)

type closeCounter struct {
	*pmem.MemMapping
	closes int
}

func (c *closeCounter) Close() error {
	c.closes++
	return c.MemMapping.Close()
}

func TestHandleRefCounting(t *testing.T) {
	m := &closeCounter{MemMapping: pmem.NewMemMapping(1 << 16)}
	p, err := Create(m, "test", 64)
	if err != nil {
		t.Fatal(err)
	}

	q := p.Acquire()
	if q != p {
		t.Fatal("Acquire must return the same handle")
	}

	if err = p.Release(); err != nil {
		t.Fatal(err)
	}

	if g, e := m.closes, 0; g != e {
		t.Fatal(g, e)
	}

	if err = q.Release(); err != nil {
		t.Fatal(err)
	}

	if g, e := m.closes, 1; g != e {
		t.Fatal(g, e)
	}
}

func TestRoot(t *testing.T) {
	p := newTestPool(t, 64, 16)
	if g := p.GetRoot(); !g.IsNull() {
		t.Fatal(g)
	}

	h, err := p.Allocate(1)
	if err != nil {
		t.Fatal(err)
	}

	if err = p.SetRoot(h); err != nil {
		t.Fatal(err)
	}

	if g, e := p.GetRoot(), h; g != e {
		t.Fatal(g, e)
	}
}

func TestReopenFile(t *testing.T) {
	name := filepath.Join(t.TempDir(), "pool")
	m, err := pmem.MapFile(name, &pmem.FileOptions{Create: true, Size: 1 << 20})
	if err != nil {
		t.Fatal(err)
	}

	p, err := Create(m, "pool", 128)
	if err != nil {
		t.Fatal(err)
	}

	h, err := p.Allocate(10)
	if err != nil {
		t.Fatal(err)
	}

	copy(p.Bytes(h), "rootvalue!")
	if err = p.Flush(h, 0, 10); err != nil {
		t.Fatal(err)
	}

	if err = p.Drain(); err != nil {
		t.Fatal(err)
	}

	if err = p.SetRoot(h); err != nil {
		t.Fatal(err)
	}

	if err = p.Release(); err != nil {
		t.Fatal(err)
	}

	m, err = pmem.MapFile(name, nil)
	if err != nil {
		t.Fatal(err)
	}

	q, err := Open(m, "pool")
	if err != nil {
		t.Fatal(err)
	}

	root := q.GetRoot()
	if g, e := root, h; g != e {
		t.Fatal(g, e)
	}

	if g, e := string(q.Bytes(root)[:10]), "rootvalue!"; g != e {
		t.Fatal(g, e)
	}

	verify(t, q)
	if err = q.Release(); err != nil {
		t.Fatal(err)
	}
}

func TestGeometry(t *testing.T) {
	for _, tc := range []struct {
		regionLen, blockSize int
		count                int
	}{
		{1280, 64, 16},
		{1279, 64, 15},
		{64 + 192 + 1024 + 63, 64, 16},
		{4096, 4096, 0},
		{3 * 4096, 4096, 1},
	} {
		_, dataOff, count := poolGeometry(tc.regionLen, tc.blockSize)
		if g, e := count, tc.count; g != e {
			t.Fatal(tc, g, e)
		}

		if count > 0 {
			if dataOff%tc.blockSize != 0 {
				t.Fatal(tc, dataOff)
			}

			if dataOff+count*tc.blockSize > tc.regionLen {
				t.Fatal(tc, dataOff, count)
			}
		}
	}
}
