// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kthread

import (
	"slices"
	"testing"
)

func TestLockExcludes(t *testing.T) {
	k := newKernel(t, Config{})
	l := k.NewSleepLock()
	counter := 0
	for _, name := range []string{"a", "b", "c"} {
		k.Spawn(name, PriDefault, func() {
			for i := 0; i < 3; i++ {
				l.Acquire()
				v := counter
				k.Spin(2) // other threads run and pile up on l
				counter = v + 1
				l.Release()
			}
		})
	}
	run(t, k)
	if counter != 9 {
		t.Errorf("counter = %d, want 9", counter)
	}
	if l.Holder() != nil {
		t.Errorf("lock still held by %v", l.Holder())
	}
}

// Threads of priority 1, 5 and 10 contend for one lock held by the
// first. The holder runs at 10 until it releases, and the lock goes
// to the priority 10 thread before the priority 5 one.
func TestDonation(t *testing.T) {
	k := newKernel(t, Config{})
	l := k.NewSleepLock()
	var order []string
	var during, after uint32
	k.Spawn("t1", 1, func() {
		l.Acquire()
		k.Spawn("t5", 5, func() {
			l.Acquire()
			order = append(order, "t5")
			l.Release()
		})
		if p := k.GetPriority(); p != 5 {
			t.Errorf("t1 priority %d after t5 blocked, want 5", p)
		}
		k.Spawn("t10", 10, func() {
			l.Acquire()
			order = append(order, "t10")
			l.Release()
		})
		during = k.GetPriority()
		if n := len(k.Current().Donations()); n != 2 {
			t.Errorf("t1 has %d donation records, want 2", n)
		}
		l.Release()
		after = k.GetPriority()
		if n := len(k.Current().Donations()); n != 0 {
			t.Errorf("t1 has %d donation records after release, want 0", n)
		}
		order = append(order, "t1")
	})
	run(t, k)
	if during != 10 || after != 1 {
		t.Errorf("t1 priority %d while holding, %d after release; want 10, 1", during, after)
	}
	if want := []string{"t10", "t5", "t1"}; !slices.Equal(order, want) {
		t.Errorf("order = %v, want %v", order, want)
	}
}

// chain builds a -L1- b -L2- c -L3- d: each thread holds one lock and
// waits for the next, and d (priority 10) waits on c's lock.
// It reports the priorities a saw while d was blocked and the
// priority each thread ended with.
func chain(t *testing.T, cfg Config) (seen [3]uint32, final map[string]uint32) {
	k := newKernel(t, cfg)
	l1, l2, l3 := k.NewSleepLock(), k.NewSleepLock(), k.NewSleepLock()
	final = make(map[string]uint32)
	k.Spawn("a", 1, func() {
		l1.Acquire()
		b := k.Spawn("b", 2, func() {
			l2.Acquire()
			l1.Acquire()
			l1.Release()
			l2.Release()
			final["b"] = k.GetPriority()
		})
		c := k.Spawn("c", 3, func() {
			l3.Acquire()
			l2.Acquire()
			l2.Release()
			l3.Release()
			final["c"] = k.GetPriority()
		})
		k.Spawn("d", 10, func() {
			l3.Acquire()
			l3.Release()
			final["d"] = k.GetPriority()
		})
		seen = [3]uint32{k.GetPriority(), b.Priority(), c.Priority()}
		l1.Release()
		final["a"] = k.GetPriority()
	})
	run(t, k)
	return seen, final
}

func TestDonationChain(t *testing.T) {
	seen, final := chain(t, Config{})
	if want := [3]uint32{10, 10, 10}; seen != want {
		t.Errorf("priorities of a, b, c while d waits = %v, want %v", seen, want)
	}
	want := map[string]uint32{"a": 1, "b": 2, "c": 3, "d": 10}
	for name, p := range want {
		if final[name] != p {
			t.Errorf("%s ended at priority %d, want %d", name, final[name], p)
		}
	}
}

func TestDonationDepthOne(t *testing.T) {
	seen, final := chain(t, Config{MaxDonationDepth: 1})
	if want := [3]uint32{2, 3, 10}; seen != want {
		t.Errorf("priorities of a, b, c while d waits = %v, want %v", seen, want)
	}
	if final["a"] != 1 || final["d"] != 10 {
		t.Errorf("final priorities %v", final)
	}
}

// Releasing one of two donated-to locks keeps the donation owed
// through the other.
func TestDonationMultipleLocks(t *testing.T) {
	k := newKernel(t, Config{})
	la, lb := k.NewSleepLock(), k.NewSleepLock()
	var prio []uint32
	var order []string
	k.Spawn("lo", 1, func() {
		la.Acquire()
		lb.Acquire()
		k.Spawn("mid", 5, func() {
			la.Acquire()
			order = append(order, "mid")
			la.Release()
		})
		k.Spawn("hi", 10, func() {
			lb.Acquire()
			order = append(order, "hi")
			lb.Release()
		})
		prio = append(prio, k.GetPriority())
		lb.Release()
		prio = append(prio, k.GetPriority())
		la.Release()
		prio = append(prio, k.GetPriority())
		order = append(order, "lo")
	})
	run(t, k)
	if want := []uint32{10, 5, 1}; !slices.Equal(prio, want) {
		t.Errorf("lo priorities = %v, want %v", prio, want)
	}
	if want := []string{"hi", "mid", "lo"}; !slices.Equal(order, want) {
		t.Errorf("order = %v, want %v", order, want)
	}
}

// A thread already raised by one donation must still record a second,
// equal one, or it falls back to its base when the first is returned.
func TestDonationEqualPriority(t *testing.T) {
	k := newKernel(t, Config{})
	la, lb := k.NewSleepLock(), k.NewSleepLock()
	var prio uint32
	var order []string
	waiter := func(name string, l *SleepLock) func() {
		return func() {
			l.Acquire()
			order = append(order, name)
			l.Release()
		}
	}
	k.Spawn("lo", 1, func() {
		la.Acquire()
		lb.Acquire()
		k.Spawn("x", 10, waiter("x", la))
		k.Spawn("y", 10, waiter("y", lb))
		k.Schedule()
		k.Spawn("mid", 5, func() { order = append(order, "mid") })
		if n := len(k.Current().Donations()); n != 2 {
			t.Errorf("lo holds %d donations, want 2", n)
		}
		la.Release()
		prio = k.GetPriority()
		order = append(order, "lo")
		lb.Release()
	})
	run(t, k)
	if prio != 10 {
		t.Errorf("lo priority after releasing la = %d, want 10", prio)
	}
	if want := []string{"x", "lo", "y", "mid"}; !slices.Equal(order, want) {
		t.Errorf("order = %v, want %v", order, want)
	}
}

func TestSetPriorityWhileDonated(t *testing.T) {
	k := newKernel(t, Config{})
	l := k.NewSleepLock()
	var prio []uint32
	k.Spawn("lo", 10, func() {
		l.Acquire()
		k.Spawn("hi", 30, func() {
			l.Acquire()
			l.Release()
		})
		k.SetPriority(20)
		prio = append(prio, k.GetPriority())
		l.Release()
		prio = append(prio, k.GetPriority())
	})
	run(t, k)
	if want := []uint32{30, 20}; !slices.Equal(prio, want) {
		t.Errorf("priorities = %v, want %v", prio, want)
	}
}

func TestNoDonationToHigher(t *testing.T) {
	k := newKernel(t, Config{})
	l := k.NewSleepLock()
	var prio uint32
	k.Spawn("hi", 20, func() {
		l.Acquire()
		k.Spawn("lo", 5, func() {
			l.Acquire()
			l.Release()
		})
		k.Sleep(1) // lo blocks on l
		prio = k.GetPriority()
		if n := len(k.Current().Donations()); n != 0 {
			t.Errorf("%d donations to a more urgent holder", n)
		}
		l.Release()
	})
	run(t, k)
	if prio != 20 {
		t.Errorf("holder priority %d, want 20", prio)
	}
}

func TestReleaseNotHeld(t *testing.T) {
	k := newKernel(t, Config{})
	l := k.NewSleepLock()
	k.Spawn("x", PriDefault, func() { l.Release() })
	mustPanic(t, k, "releasing lock")
}

func TestReleaseOtherHolder(t *testing.T) {
	k := newKernel(t, Config{})
	l := k.NewSleepLock()
	k.Spawn("owner", 20, func() {
		l.Acquire()
		k.Sleep(5)
	})
	k.Spawn("thief", 10, func() { l.Release() })
	mustPanic(t, k, "releasing lock")
}

func TestAcquireTwice(t *testing.T) {
	k := newKernel(t, Config{})
	l := k.NewSleepLock()
	k.Spawn("x", PriDefault, func() {
		l.Acquire()
		l.Acquire()
	})
	mustPanic(t, k, "already holds")
}

func TestLockIDs(t *testing.T) {
	k := newKernel(t, Config{})
	a, b := k.NewSleepLock(), k.NewSleepLock()
	if a.ID() == b.ID() {
		t.Errorf("two locks share id %d", a.ID())
	}
}

func TestIntrLock(t *testing.T) {
	k := newKernel(t, Config{})
	l := k.NewIntrLock()
	var states []bool
	k.Spawn("x", PriDefault, func() {
		states = append(states, k.hart.Enabled())
		l.Acquire()
		states = append(states, k.hart.Enabled())
		l.Release()
		states = append(states, k.hart.Enabled())
	})
	run(t, k)
	if want := []bool{true, false, true}; !slices.Equal(states, want) {
		t.Errorf("interrupt states = %v, want %v", states, want)
	}
}

func TestIntrLockTwice(t *testing.T) {
	k := newKernel(t, Config{})
	l := k.NewIntrLock()
	k.Spawn("x", PriDefault, func() {
		l.Acquire()
		l.Acquire()
	})
	mustPanic(t, k, "acquired twice")
}
