// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kthread

import (
	"math"
	"slices"
)

// A Semaphore is a counting semaphore. It is the only primitive that
// blocks threads; locks and condition variables are built on it.
//
// Down and Up need not be called by the same thread.
type Semaphore struct {
	k       *Kernel
	value   uint
	waiters []Tid // oldest first
}

// NewSemaphore returns a semaphore with initial value n.
func (k *Kernel) NewSemaphore(n uint) *Semaphore {
	return &Semaphore{k: k, value: n}
}

// Down waits until the value is positive and decrements it.
func (s *Semaphore) Down() {
	k := s.k
	c := k.enter()
	defer c.exit()

	cur := k.current
	// Recheck after every wakeup: a thread that ran first
	// may have taken the value.
	for s.value == 0 {
		s.waiters = append(s.waiters, cur.id)
		k.block()
	}
	s.value--
}

// Up increments the value and wakes the most urgent waiter, the
// longest-waiting one among equals. If the woken thread outranks the
// caller, the caller yields to it before Up returns.
func (s *Semaphore) Up() {
	k := s.k
	c := k.enter()
	defer c.exit()

	if s.value == math.MaxUint {
		panic("kthread: semaphore overflow")
	}
	s.value++
	if len(s.waiters) == 0 {
		return
	}
	i := s.maxPriority()
	t := k.thread(s.waiters[i])
	s.waiters = slices.Delete(s.waiters, i, i+1)
	k.wakeUp(t)
	if t.Priority() > k.current.Priority() {
		k.schedule()
	}
}

// Value returns the current value.
func (s *Semaphore) Value() uint {
	return s.value
}

// Waiters returns the number of threads blocked in Down.
func (s *Semaphore) Waiters() int {
	return len(s.waiters)
}

// maxPriority returns the index of the first waiter with the highest
// priority, or -1 if there are none.
func (s *Semaphore) maxPriority() int {
	best, bestPri := -1, uint32(0)
	for i, id := range s.waiters {
		if p := s.k.thread(id).Priority(); best < 0 || p > bestPri {
			best, bestPri = i, p
		}
	}
	return best
}
