// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kthread

import "fmt"

// A Locker is a lock a Condvar can release while waiting.
type Locker interface {
	Acquire()
	Release()
}

// A LockID identifies a SleepLock within its kernel.
type LockID uint32

// DefaultDonationDepth bounds how far a donation is passed along a
// chain of lock holders.
const DefaultDonationDepth = 8

// A Donation records that Donor is blocked on Lock, held by Acceptor,
// and lent Acceptor its priority. Both threads keep a copy; IsDonor
// tells which side holds it.
type Donation struct {
	Donor         Tid
	Acceptor      Tid
	DonorPriority uint32
	PrevPriority  uint32 // acceptor's priority before the donation
	IsDonor       bool
	Lock          LockID
}

// A SleepLock is a mutual-exclusion lock that sleeps while waiting.
// A thread that blocks on a SleepLock held by a less urgent thread
// donates its priority to the holder, and through the holder to
// whatever lock the holder is itself waiting for.
type SleepLock struct {
	k      *Kernel
	id     LockID
	inner  *Semaphore
	holder Tid
}

// NewSleepLock returns an unlocked SleepLock with a fresh id.
func (k *Kernel) NewSleepLock() *SleepLock {
	k.nextLock++
	return &SleepLock{
		k:      k,
		id:     k.nextLock,
		inner:  k.NewSemaphore(1),
		holder: noTid,
	}
}

func (l *SleepLock) ID() LockID { return l.id }

// Holder returns the thread holding l, or nil.
func (l *SleepLock) Holder() *Thread {
	if l.holder == noTid {
		return nil
	}
	return l.k.Lookup(l.holder)
}

// Acquire waits until l is free and takes it. Acquiring a lock the
// current thread already holds is fatal.
func (l *SleepLock) Acquire() {
	k := l.k
	c := k.enter()
	defer c.exit()

	cur := k.current
	if l.holder == cur.id {
		panic(fmt.Sprintf("kthread: %v acquiring lock %d it already holds", cur, l.id))
	}
	cur.waitingOn = l
	if l.holder != noTid {
		k.donate(cur, l)
	}
	l.inner.Down()
	cur.waitingOn = nil
	l.holder = cur.id
	k.tracef(cur, "acquire lock %d", l.id)

	// Threads still queued on l now wait for cur.
	for _, id := range l.inner.waiters {
		k.donate(k.thread(id), l)
	}
}

// Release gives up l. Donations received through l are returned and
// the holder's priority drops to the highest of its baseline (or
// SetPriority request) and the donations it is still owed through
// other locks. Releasing a lock the current thread does not hold is
// fatal.
func (l *SleepLock) Release() {
	k := l.k
	c := k.enter()
	defer c.exit()

	cur := k.current
	if l.holder != cur.id {
		panic(fmt.Sprintf("kthread: %v releasing lock %d it does not hold", cur, l.id))
	}
	for _, d := range cur.dropDonations(l.id) {
		if donor := k.Lookup(d.Donor); donor != nil {
			donor.removeDonation(d)
		}
	}
	old := cur.Priority()
	p := cur.restore()
	cur.priority.Store(p)
	if p != old {
		k.tracef(cur, "restore priority %d -> %d", old, p)
	}
	k.tracef(cur, "release lock %d", l.id)

	l.holder = noTid
	l.inner.Up()
	k.schedule()
}

// donate lends donor's priority to the holder of l, then on along the
// chain of locks each holder is waiting for, stopping at the first
// holder that is already as urgent or after maxDepth hops.
//
// A holder that is already as urgent only through other donations
// still gets a record, so it stays raised when those are returned.
func (k *Kernel) donate(donor *Thread, l *SleepLock) {
	for depth := 0; depth < k.maxDepth && l != nil && l.holder != noTid; depth++ {
		h := k.thread(l.holder)
		pri := donor.Priority()
		if pri <= h.floor() {
			return
		}
		k.recordDonation(donor, h, l.id, pri)
		k.tracef(h, "donated priority %d by %v via lock %d", pri, donor, l.id)
		if pri <= h.Priority() {
			return
		}
		h.priority.Store(pri)
		donor, l = h, h.waitingOn
	}
}

// recordDonation adds the donor→acceptor edge for lock to both
// threads, or raises the donated priority if the edge exists.
func (k *Kernel) recordDonation(donor, acceptor *Thread, lock LockID, pri uint32) {
	if i := acceptor.findDonation(donor.id, acceptor.id, lock); i >= 0 {
		acceptor.donations[i].DonorPriority = pri
		if j := donor.findDonation(donor.id, acceptor.id, lock); j >= 0 {
			donor.donations[j].DonorPriority = pri
		}
		return
	}
	d := Donation{
		Donor:         donor.id,
		Acceptor:      acceptor.id,
		DonorPriority: pri,
		PrevPriority:  acceptor.Priority(),
		IsDonor:       true,
		Lock:          lock,
	}
	donor.donations = append(donor.donations, d)
	d.IsDonor = false
	acceptor.donations = append(acceptor.donations, d)
}

// An IntrLock is a Locker that disables the timer interrupt while
// held. It is the cheapest lock, and also the bluntest.
type IntrLock struct {
	k    *Kernel
	old  bool
	held bool
}

func (k *Kernel) NewIntrLock() *IntrLock {
	return &IntrLock{k: k}
}

func (l *IntrLock) Acquire() {
	old := l.k.hart.Set(false)
	if l.held {
		panic("kthread: interrupt lock acquired twice")
	}
	l.old, l.held = old, true
}

func (l *IntrLock) Release() {
	if !l.held {
		panic("kthread: interrupt lock released before acquire")
	}
	l.held = false
	l.k.hart.Set(l.old)
}
