// Copyright 2014 The nvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Auto tuned exponential backoff.

package freelist

import (
	"sync/atomic"
)

const (
	backOffIterationLimit = 10
	autoTuneOperations    = 10000
)

// backOffState is the shared tuning state of one FreeList. metric scales
// every spin; it is re-derived from the observed frequency of operations
// that needed zero versus one backoff rounds: when second rounds are rarer
// than 1/100th of first rounds, contention is low and the metric shrinks,
// otherwise it grows.
type backOffState struct {
	lock   uint32    // spin lock guarding the re-tune
	freq   [2]uint64 // atomic; operations whose final backoff iteration was 0 resp. 1
	metric uint64    // atomic; current backoff multiplier, minimum 1
	total  uint64    // atomic; operations since the last re-tune
}

// operationCompleted records that an operation finished having reached
// backoff iteration it, and occasionally re-tunes the metric.
func (s *backOffState) operationCompleted(it int) {
	if it < 2 {
		atomic.AddUint64(&s.freq[it], 1)
	}

	if atomic.AddUint64(&s.total, 1) < autoTuneOperations {
		return
	}

	if !atomic.CompareAndSwapUint32(&s.lock, 0, 1) {
		return
	}

	f0 := atomic.LoadUint64(&s.freq[0])
	f1 := atomic.LoadUint64(&s.freq[1])
	m := atomic.LoadUint64(&s.metric)
	if f1 < f0/100 {
		if m > 10 {
			m -= 10
		} else {
			m = 1
		}
	} else {
		m += 10
	}
	atomic.StoreUint64(&s.metric, m)
	atomic.StoreUint64(&s.freq[0], 0)
	atomic.StoreUint64(&s.freq[1], 0)
	atomic.StoreUint64(&s.total, 0)
	atomic.StoreUint32(&s.lock, 0)
}

// exponentialBackOff is the per operation view of a backOffState.
type exponentialBackOff struct {
	state     *backOffState
	iteration int
}

// spin busy waits for 2^iteration times the current metric and advances the
// iteration, wrapping at the limit.
func (b *exponentialBackOff) spin() {
	if b.iteration == backOffIterationLimit {
		b.iteration = 0
	} else {
		end := (uint64(1) << uint(b.iteration)) * atomic.LoadUint64(&b.state.metric)
		for counter := uint64(0); counter < end; counter++ {
		}
	}
	b.iteration++
}

// done reports the operation's outcome to the shared state.
func (b *exponentialBackOff) done() { b.state.operationCompleted(b.iteration) }
