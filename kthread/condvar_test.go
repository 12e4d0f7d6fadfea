// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kthread

import (
	"slices"
	"testing"
)

// waiters spawns one thread per priority, each waiting on cv, and
// lets each block before spawning the next. The returned slice
// collects the priorities in the order the threads wake.
func waiters(k *Kernel, l *SleepLock, cv *Condvar, pris ...uint32) *[]uint32 {
	order := new([]uint32)
	for _, pri := range pris {
		pri := pri
		k.Spawn("waiter", pri, func() {
			l.Acquire()
			cv.Wait(l)
			*order = append(*order, pri)
			l.Release()
		})
		k.Sleep(1)
	}
	return order
}

func TestNotifyOne(t *testing.T) {
	k := newKernel(t, Config{})
	l := k.NewSleepLock()
	cv := k.NewCondvar()
	var order *[]uint32
	k.Spawn("ctl", 40, func() {
		order = waiters(k, l, cv, 5, 10, 20)
		if cv.Len() != 3 {
			t.Errorf("Len() = %d, want 3", cv.Len())
		}
		for i := 0; i < 3; i++ {
			l.Acquire()
			cv.NotifyOne()
			l.Release()
			k.Sleep(1)
		}
	})
	run(t, k)
	if want := []uint32{20, 10, 5}; !slices.Equal(*order, want) {
		t.Errorf("wake order = %v, want %v", *order, want)
	}
}

func TestNotifyAll(t *testing.T) {
	k := newKernel(t, Config{})
	l := k.NewSleepLock()
	cv := k.NewCondvar()
	var order *[]uint32
	k.Spawn("ctl", 40, func() {
		order = waiters(k, l, cv, 5, 20, 10)
		l.Acquire()
		cv.NotifyAll()
		if cv.Len() != 0 {
			t.Errorf("Len() = %d after NotifyAll, want 0", cv.Len())
		}
		l.Release()
		k.Sleep(1)
	})
	run(t, k)
	if want := []uint32{20, 10, 5}; !slices.Equal(*order, want) {
		t.Errorf("wake order = %v, want %v", *order, want)
	}
}

func TestNotifyNobody(t *testing.T) {
	k := newKernel(t, Config{})
	cv := k.NewCondvar()
	k.Spawn("x", PriDefault, func() {
		cv.NotifyOne()
		cv.NotifyAll()
	})
	run(t, k)
	if k.Switches() != 2 {
		t.Errorf("%d switches, want 2 (to x and back to idle)", k.Switches())
	}
}

func TestWaitIntrLock(t *testing.T) {
	k := newKernel(t, Config{})
	l := k.NewIntrLock()
	cv := k.NewCondvar()
	ready := false
	var saw bool
	k.Spawn("waiter", 10, func() {
		l.Acquire()
		for !ready {
			cv.Wait(l)
		}
		saw = ready
		l.Release()
	})
	k.Spawn("setter", 20, func() {
		k.Sleep(1) // let waiter block
		l.Acquire()
		ready = true
		cv.NotifyOne()
		l.Release()
	})
	run(t, k)
	if !saw {
		t.Errorf("waiter did not see the condition")
	}
}

func TestProducerConsumer(t *testing.T) {
	k := newKernel(t, Config{})
	l := k.NewSleepLock()
	notFull, notEmpty := k.NewCondvar(), k.NewCondvar()
	const n, size = 10, 2
	var buf, got []int
	k.Spawn("producer", PriDefault, func() {
		for i := 1; i <= n; i++ {
			l.Acquire()
			for len(buf) == size {
				notFull.Wait(l)
			}
			buf = append(buf, i)
			notEmpty.NotifyOne()
			l.Release()
		}
	})
	k.Spawn("consumer", PriDefault, func() {
		for i := 0; i < n; i++ {
			l.Acquire()
			for len(buf) == 0 {
				notEmpty.Wait(l)
			}
			got = append(got, buf[0])
			buf = buf[1:]
			notFull.NotifyOne()
			l.Release()
		}
	})
	run(t, k)
	for i, v := range got {
		if v != i+1 {
			t.Fatalf("consumed %v, want 1 through %d in order", got, n)
		}
	}
	if len(got) != n {
		t.Errorf("consumed %d items, want %d", len(got), n)
	}
}
