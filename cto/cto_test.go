// Copyright 2014 The nvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cto

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cznic/nvm/balloc"
	"github.com/cznic/nvm/pmem"
)

func newTestPool(t testing.TB) (*balloc.Pool, *pmem.MemMapping) {
	m := pmem.NewMemMapping(1 << 18)
	p, err := balloc.Create(m, "test", 64)
	if err != nil {
		t.Fatal(err)
	}

	return p, m
}

func poolStats(t testing.TB, p *balloc.Pool) balloc.Stats {
	s, err := p.Verify()
	if err != nil {
		t.Fatal(err)
	}

	return s
}

func TestBox(t *testing.T) {
	p, _ := newTestPool(t)
	before := poolStats(t, p)

	b, err := NewBox(p, 10, func(v []byte) error {
		copy(v, "0123456789")
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	if g, e := string(b.Bytes()), "0123456789"; g != e {
		t.Fatal(g, e)
	}

	if err = b.Free(); err != nil {
		t.Fatal(err)
	}

	after := poolStats(t, p)
	if g, e := after.FreeBlocks, before.FreeBlocks; g != e {
		t.Fatal(g, e)
	}
}

func TestBoxInitRollback(t *testing.T) {
	p, _ := newTestPool(t)
	before := poolStats(t, p)

	boom := errors.New("boom")
	_, err := NewBox(p, 10, func([]byte) error { return boom })
	if err == nil {
		t.Fatal("expected error")
	}

	var ie *balloc.ErrInitialization
	if !errors.As(err, &ie) || !errors.Is(err, boom) {
		t.Fatalf("%T %v", err, err)
	}

	// The provisional allocation was rolled back.
	after := poolStats(t, p)
	if g, e := after.FreeBlocks, before.FreeBlocks; g != e {
		t.Fatal(g, e)
	}
}

func TestRc(t *testing.T) {
	p, _ := newTestPool(t)
	before := poolStats(t, p)

	r, err := NewRc(p, 4, func(v []byte) error {
		copy(v, "abcd")
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	if g, e := r.StrongCount(), 1; g != e {
		t.Fatal(g, e)
	}

	r2 := r.Clone()
	if g, e := r.StrongCount(), 2; g != e {
		t.Fatal(g, e)
	}

	w := r.Downgrade()
	if err = r.Drop(); err != nil {
		t.Fatal(err)
	}

	if g, e := string(r2.Bytes()), "abcd"; g != e {
		t.Fatal(g, e)
	}

	if err = r2.Drop(); err != nil {
		t.Fatal(err)
	}

	// All strongs gone; the weak cannot upgrade.
	if u := w.Upgrade(); u != nil {
		t.Fatal(u)
	}

	if err = w.Drop(); err != nil {
		t.Fatal(err)
	}

	after := poolStats(t, p)
	if g, e := after.FreeBlocks, before.FreeBlocks; g != e {
		t.Fatal(g, e)
	}
}

func TestArcConcurrent(t *testing.T) {
	p, _ := newTestPool(t)
	before := poolStats(t, p)

	a, err := NewArc(p, 8, nil)
	if err != nil {
		t.Fatal(err)
	}

	const workers = 8
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		c := a.Clone()
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				c2 := c.Clone()
				if err := c2.Drop(); err != nil {
					panic(err)
				}
			}
			if err := c.Drop(); err != nil {
				panic(err)
			}
		}()
	}
	wg.Wait()

	if g, e := a.StrongCount(), 1; g != e {
		t.Fatal(g, e)
	}

	if err = a.Drop(); err != nil {
		t.Fatal(err)
	}

	after := poolStats(t, p)
	if g, e := after.FreeBlocks, before.FreeBlocks; g != e {
		t.Fatal(g, e)
	}
}

func TestVec(t *testing.T) {
	p, _ := newTestPool(t)
	before := poolStats(t, p)

	v, err := NewVec(p)
	if err != nil {
		t.Fatal(err)
	}

	var want []byte
	for i := 0; i < 100; i++ {
		chunk := bytes.Repeat([]byte{byte(i)}, 17)
		if err = v.Append(chunk); err != nil {
			t.Fatal(i, err)
		}

		want = append(want, chunk...)
	}
	if g, e := v.Len(), len(want); g != e {
		t.Fatal(g, e)
	}

	if !bytes.Equal(v.Bytes(), want) {
		t.Fatal("content mismatch")
	}

	if err = v.Truncate(5); err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(v.Bytes(), want[:5]) {
		t.Fatal("content mismatch after Truncate")
	}

	if err = v.Truncate(100); err == nil {
		t.Fatal("expected error")
	}

	if err = v.Free(); err != nil {
		t.Fatal(err)
	}

	after := poolStats(t, p)
	if g, e := after.FreeBlocks, before.FreeBlocks; g != e {
		t.Fatal(g, e)
	}
}

func TestString(t *testing.T) {
	p, _ := newTestPool(t)
	s, err := NewString(p, "persistent memory")
	if err != nil {
		t.Fatal(err)
	}

	if g, e := s.String(), "persistent memory"; g != e {
		t.Fatal(g, e)
	}

	s2 := StringAt(p, s.Ptr())
	if g, e := s2.String(), "persistent memory"; g != e {
		t.Fatal(g, e)
	}

	if err = s.Free(); err != nil {
		t.Fatal(err)
	}
}

func TestMutexLockFor(t *testing.T) {
	var m Mutex
	m.Lock()
	if m.LockFor(10 * time.Millisecond) {
		t.Fatal("lock acquired while held")
	}

	m.Unlock()
	if !m.LockFor(10 * time.Millisecond) {
		t.Fatal("lock not acquired while free")
	}

	m.Unlock()
}

func TestRWLock(t *testing.T) {
	var l RWLock
	l.RLock()
	if l.TryLock() {
		t.Fatal("write lock acquired while read held")
	}

	if !l.TryRLock() {
		t.Fatal("read lock not acquired while read held")
	}

	l.RUnlock()
	l.RUnlock()
	if !l.LockFor(10 * time.Millisecond) {
		t.Fatal("write lock not acquired while free")
	}

	l.Unlock()
}

// A root value written before closing a pool reads back identically after
// re-opening, and the re-binding hook runs exactly once per live root.
func TestReopenHook(t *testing.T) {
	m := pmem.NewMemMapping(1 << 18)
	p, err := balloc.Create(m, "test", 64)
	if err != nil {
		t.Fatal(err)
	}

	b, err := NewBox(p, 10, func(v []byte) error {
		copy(v, "rootvalue!")
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	if err = p.SetRoot(b.Ptr()); err != nil {
		t.Fatal(err)
	}

	if err = p.Release(); err != nil {
		t.Fatal(err)
	}

	// Restart: the MemMapping region survives, the volatile wrappers do
	// not.
	q, err := balloc.Open(m, "test")
	if err != nil {
		t.Fatal(err)
	}

	hooks := 0
	root, err := OpenRoot(q, func(r balloc.Ptr) (Safe, error) {
		return &hookCounter{Box: BoxAt(q, r, 10), n: &hooks}, nil
	})
	if err != nil {
		t.Fatal(err)
	}

	if g, e := hooks, 1; g != e {
		t.Fatal(g, e)
	}

	box := root.(*hookCounter).Box
	if g, e := string(box.Bytes()), "rootvalue!"; g != e {
		t.Fatal(g, e)
	}
}

type hookCounter struct {
	*Box
	n *int
}

func (h *hookCounter) CtoPoolOpened(pool *balloc.Pool) {
	*h.n++
	h.Box.CtoPoolOpened(pool)
}

func TestOpenRootEmpty(t *testing.T) {
	p, _ := newTestPool(t)
	v, err := OpenRoot(p, func(balloc.Ptr) (Safe, error) { return nil, nil })
	if err != nil {
		t.Fatal(err)
	}

	if v != nil {
		t.Fatal(v)
	}
}
