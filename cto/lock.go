// Copyright 2014 The nvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Lock wrappers for values kept in persistent memory.

package cto

import (
	"sync"
	"time"

	"github.com/cznic/nvm/balloc"
)

// A Mutex guards a value kept in persistent memory. The lock state itself is
// volatile - a lock held across a crash would otherwise never be released -
// and is re-armed, unlocked, by CtoPoolOpened.
type Mutex struct {
	mu   sync.Mutex
	pool *balloc.Pool
}

// Lock locks m.
func (m *Mutex) Lock() { m.mu.Lock() }

// Unlock unlocks m.
func (m *Mutex) Unlock() { m.mu.Unlock() }

// TryLock tries to lock m and reports whether it succeeded.
func (m *Mutex) TryLock() bool { return m.mu.TryLock() }

// LockFor tries to lock m until the timeout elapses. The false return is the
// timed-out indicator; it is not an error.
func (m *Mutex) LockFor(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if m.mu.TryLock() {
			return true
		}

		if time.Now().After(deadline) {
			return false
		}

		time.Sleep(time.Microsecond)
	}
}

// CtoPoolOpened implements Safe.
func (m *Mutex) CtoPoolOpened(pool *balloc.Pool) {
	m.mu = sync.Mutex{}
	if m.pool != pool {
		m.pool = pool.Acquire()
	}
}

// An RWLock is the reader/writer variant of Mutex.
type RWLock struct {
	mu   sync.RWMutex
	pool *balloc.Pool
}

// Lock locks l for writing.
func (l *RWLock) Lock() { l.mu.Lock() }

// Unlock unlocks l for writing.
func (l *RWLock) Unlock() { l.mu.Unlock() }

// RLock locks l for reading.
func (l *RWLock) RLock() { l.mu.RLock() }

// RUnlock unlocks l for reading.
func (l *RWLock) RUnlock() { l.mu.RUnlock() }

// TryLock tries to lock l for writing.
func (l *RWLock) TryLock() bool { return l.mu.TryLock() }

// TryRLock tries to lock l for reading.
func (l *RWLock) TryRLock() bool { return l.mu.TryRLock() }

// LockFor tries to write lock l until the timeout elapses. The false return
// is the timed-out indicator.
func (l *RWLock) LockFor(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if l.mu.TryLock() {
			return true
		}

		if time.Now().After(deadline) {
			return false
		}

		time.Sleep(time.Microsecond)
	}
}

// CtoPoolOpened implements Safe.
func (l *RWLock) CtoPoolOpened(pool *balloc.Pool) {
	l.mu = sync.RWMutex{}
	if l.pool != pool {
		l.pool = pool.Acquire()
	}
}
