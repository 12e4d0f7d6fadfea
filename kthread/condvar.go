// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kthread

// A Condvar lets threads wait for a condition guarded by a lock.
//
// The usual pattern is
//
//	l.Acquire()
//	for !cond {
//		cv.Wait(l)
//	}
//	...
//	l.Release()
//
// Notifiers should hold the same lock; Condvar does not check.
type Condvar struct {
	k       *Kernel
	waiters []condWaiter
}

type condWaiter struct {
	tid  Tid
	sema *Semaphore
}

func (k *Kernel) NewCondvar() *Condvar {
	return &Condvar{k: k}
}

// Wait releases l, sleeps until notified, and reacquires l.
func (cv *Condvar) Wait(l Locker) {
	k := cv.k
	s := k.NewSemaphore(0)
	c := k.enter()
	cv.waiters = append(cv.waiters, condWaiter{k.current.id, s})
	c.exit()

	l.Release()
	s.Down()
	l.Acquire()
}

// NotifyOne wakes the most urgent waiter, the longest-waiting one
// among equals. It does nothing if no thread is waiting.
func (cv *Condvar) NotifyOne() {
	k := cv.k
	c := k.enter()
	defer c.exit()

	if len(cv.waiters) == 0 {
		return
	}
	best, bestPri := 0, uint32(0)
	for i, w := range cv.waiters {
		if p := k.thread(w.tid).Priority(); i == 0 || p > bestPri {
			best, bestPri = i, p
		}
	}
	w := cv.waiters[best]
	cv.waiters = append(cv.waiters[:best], cv.waiters[best+1:]...)
	w.sema.Up()
}

// NotifyAll wakes every waiter.
func (cv *Condvar) NotifyAll() {
	k := cv.k
	c := k.enter()
	defer c.exit()

	ws := cv.waiters
	cv.waiters = nil
	for _, w := range ws {
		w.sema.Up()
	}
}

// Len returns the number of waiting threads.
func (cv *Condvar) Len() int {
	return len(cv.waiters)
}
