// Copyright 2014 The nvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package logpool

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/cznic/nvm/balloc"
	"github.com/cznic/nvm/pmem"
)

func TestAppendWalk(t *testing.T) {
	m := pmem.NewMemMapping(1 << 16)
	p, err := Create(m, "test")
	if err != nil {
		t.Fatal(err)
	}

	rng := rand.New(rand.NewSource(42))
	var want [][]byte
	for i := 0; i < 50; i++ {
		var rec []byte
		if i%2 == 0 {
			// Highly compressible.
			rec = bytes.Repeat([]byte{'x'}, 10+rng.Intn(200))
		} else {
			// Incompressible.
			rec = make([]byte, 10+rng.Intn(200))
			rng.Read(rec)
		}
		if err = p.Append(rec); err != nil {
			t.Fatal(i, err)
		}

		want = append(want, rec)
	}

	i := 0
	err = p.Walk(func(data []byte) bool {
		if !bytes.Equal(data, want[i]) {
			t.Fatal(i)
		}

		i++
		return true
	})
	if err != nil {
		t.Fatal(err)
	}

	if g, e := i, len(want); g != e {
		t.Fatal(g, e)
	}
}

func TestReopen(t *testing.T) {
	m := pmem.NewMemMapping(1 << 14)
	p, err := Create(m, "test")
	if err != nil {
		t.Fatal(err)
	}

	if err = p.Append([]byte("first")); err != nil {
		t.Fatal(err)
	}

	if err = p.Append([]byte("second")); err != nil {
		t.Fatal(err)
	}

	tell := p.Tell()
	if err = p.Close(); err != nil {
		t.Fatal(err)
	}

	q, err := Open(m, "test")
	if err != nil {
		t.Fatal(err)
	}

	if g, e := q.Tell(), tell; g != e {
		t.Fatal(g, e)
	}

	var got []string
	if err = q.Walk(func(data []byte) bool {
		got = append(got, string(data))
		return true
	}); err != nil {
		t.Fatal(err)
	}

	if g, e := len(got), 2; g != e {
		t.Fatal(g, e)
	}

	if got[0] != "first" || got[1] != "second" {
		t.Fatal(got)
	}
}

func TestRewind(t *testing.T) {
	m := pmem.NewMemMapping(1 << 14)
	p, err := Create(m, "test")
	if err != nil {
		t.Fatal(err)
	}

	if err = p.Append([]byte("gone")); err != nil {
		t.Fatal(err)
	}

	if err = p.Rewind(); err != nil {
		t.Fatal(err)
	}

	n := 0
	if err = p.Walk(func([]byte) bool { n++; return true }); err != nil {
		t.Fatal(err)
	}

	if n != 0 {
		t.Fatal(n)
	}
}

func TestFull(t *testing.T) {
	m := pmem.NewMemMapping(256)
	p, err := Create(m, "test")
	if err != nil {
		t.Fatal(err)
	}

	rec := make([]byte, 100)
	rand.New(rand.NewSource(1)).Read(rec)
	if err = p.Append(rec); err != nil {
		t.Fatal(err)
	}

	if err = p.Append(rec); err == nil {
		t.Fatal("expected error")
	} else if _, ok := err.(*balloc.ErrOutOfCapacity); !ok {
		t.Fatalf("%T", err)
	}
}

func TestOpenGarbage(t *testing.T) {
	m := pmem.NewMemMapping(1 << 12)
	if _, err := Open(m, "test"); err == nil {
		t.Fatal("expected error")
	} else if _, ok := err.(*balloc.ErrPoolValidation); !ok {
		t.Fatalf("%T", err)
	}
}

func TestWalkStop(t *testing.T) {
	m := pmem.NewMemMapping(1 << 14)
	p, err := Create(m, "test")
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5; i++ {
		if err = p.Append([]byte{byte(i)}); err != nil {
			t.Fatal(err)
		}
	}
	n := 0
	if err = p.Walk(func([]byte) bool { n++; return n < 3 }); err != nil {
		t.Fatal(err)
	}

	if g, e := n, 3; g != e {
		t.Fatal(g, e)
	}
}
