// Copyright 2014 The nvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package freelist

import (
	"flag"
	"sync"
	"testing"

	"github.com/cznic/nvm/balloc"
	"github.com/cznic/nvm/pmem"
)

var (
	testThreads = flag.Int("threads", 16, "FreeList concurrency test goroutines")
	testPerT    = flag.Int("perT", 10000, "FreeList concurrency test elements per goroutine")
)

func TestPushPopIdle(t *testing.T) {
	f := New(1, nil, nil)
	if e := f.Pop(); e != nil {
		t.Fatal(e)
	}

	x := &Element{Value: 42}
	f.Push(x)
	if g := f.Pop(); g != x {
		t.Fatal(g, x)
	}

	if g, e := x.Value.(int), 42; g != e {
		t.Fatal(g, e)
	}

	if e := f.Pop(); e != nil {
		t.Fatal(e)
	}
}

func TestPushPopOrder(t *testing.T) {
	f := New(1, nil, nil)
	for i := 0; i < 10; i++ {
		f.Push(&Element{Value: i})
	}
	for i := 9; i >= 0; i-- {
		e := f.Pop()
		if e == nil {
			t.Fatal(i)
		}

		if g := e.Value.(int); g != i {
			t.Fatal(g, i)
		}
	}
}

func TestProviderSeeding(t *testing.T) {
	n := 0
	f := New(4, nil, func() *Element {
		n++
		return &Element{Value: n}
	})

	// Every seeded element must be retrievable.
	seen := map[int]bool{}
	for {
		e := f.Pop()
		if e == nil {
			break
		}

		v := e.Value.(int)
		if seen[v] {
			t.Fatal(v)
		}

		seen[v] = true
	}
	if g, e := len(seen), n; g != e {
		t.Fatal(g, e)
	}
}

func TestConcurrentMultiset(t *testing.T) {
	threads, perT := *testThreads, *testPerT
	if testing.Short() {
		threads, perT = 8, 1000
	}

	f := New(threads, nil, nil)
	popped := make([][]int, threads)
	var wg sync.WaitGroup
	for w := 0; w < threads; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := 0; i < perT; i++ {
				f.Push(&Element{Value: id*perT + i})
				if e := f.Pop(); e != nil {
					popped[id] = append(popped[id], e.Value.(int))
				}
			}
		}(w)
	}
	wg.Wait()

	// Drain what is left on the stack and in the elimination array.
	var rest []int
	for {
		e := f.Pop()
		if e == nil {
			break
		}

		rest = append(rest, e.Value.(int))
	}

	seen := make([]bool, threads*perT)
	total := 0
	for _, batch := range popped {
		for _, v := range batch {
			if seen[v] {
				t.Fatal(v)
			}

			seen[v] = true
			total++
		}
	}
	for _, v := range rest {
		if seen[v] {
			t.Fatal(v)
		}

		seen[v] = true
		total++
	}
	if g, e := total, threads*perT; g != e {
		t.Fatal(g, e)
	}
}

func TestAutoTune(t *testing.T) {
	f := New(2, nil, nil)
	for i := 0; i < 3*autoTuneOperations; i++ {
		f.Push(&Element{})
		f.Pop()
	}

	// Uncontended single goroutine use must keep the metric at its floor.
	if g, e := f.backoff.metric, uint64(1); g != e {
		t.Fatal(g, e)
	}
}

func TestPoolHandle(t *testing.T) {
	m := pmem.NewMemMapping(1 << 16)
	p, err := balloc.Create(m, "test", 64)
	if err != nil {
		t.Fatal(err)
	}

	f := New(2, p, nil)
	if err = p.Release(); err != nil { // the free list still holds one reference
		t.Fatal(err)
	}

	if err = f.Close(); err != nil {
		t.Fatal(err)
	}

	if err = f.Close(); err != nil { // idempotent
		t.Fatal(err)
	}
}

func BenchmarkPushPop(b *testing.B) {
	f := New(1, nil, nil)
	e := &Element{}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Push(e)
		f.Pop()
	}
}
