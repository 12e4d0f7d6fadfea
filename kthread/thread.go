// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kthread

import (
	"fmt"

	"go.uber.org/atomic"
)

// A Tid identifies a thread. Tids are never reused.
type Tid int32

const (
	noTid   Tid = -1
	idleTid Tid = 0 // the first thread New creates
)

/*
 * priorities
 * larger is more urgent
 */
const (
	PriMin     = 0
	PriDefault = 31
	PriMax     = 63
)

type Status int8

const (
	Running Status = iota
	Ready
	Blocked
	Dying
)

func (s Status) String() string {
	switch s {
	case Running:
		return "Running"
	case Ready:
		return "Ready"
	case Blocked:
		return "Blocked"
	case Dying:
		return "Dying"
	}
	return fmt.Sprintf("Status(%d)", s)
}

// A Thread is a kernel thread. Threads are created by Kernel.Spawn
// and live in the kernel's thread table until they exit.
type Thread struct {
	id     Tid
	name   string
	status Status

	// priority is the effective priority. It is only changed with
	// interrupts disabled, but other threads' lock paths read it.
	priority atomic.Uint32
	base     uint32 // priority at spawn
	override uint32 // set by SetPriority
	setted   bool

	donations []Donation
	waitingOn *SleepLock // lock this thread is blocked acquiring

	entry func()
	sched chan struct{}
}

func (t *Thread) ID() Tid          { return t.id }
func (t *Thread) Name() string     { return t.name }
func (t *Thread) Status() Status   { return t.status }
func (t *Thread) Priority() uint32 { return t.priority.Load() }

func (t *Thread) String() string {
	return fmt.Sprintf("%s#%d", t.name, t.id)
}

// Donations returns a copy of the donation records t takes part in,
// as donor or as acceptor.
func (t *Thread) Donations() []Donation {
	return append([]Donation(nil), t.donations...)
}

// floor returns the priority t runs at when owed no donations.
func (t *Thread) floor() uint32 {
	if t.setted {
		return t.override
	}
	return t.base
}

// restore returns the priority t should run at given the donations it
// is still owed: its baseline, replaced by an explicit SetPriority
// request if there was one, raised by every pending donation.
func (t *Thread) restore() uint32 {
	p := t.floor()
	for _, d := range t.donations {
		if !d.IsDonor && d.DonorPriority > p {
			p = d.DonorPriority
		}
	}
	return p
}

func (t *Thread) findDonation(donor, acceptor Tid, lock LockID) int {
	for i, d := range t.donations {
		if d.Donor == donor && d.Acceptor == acceptor && d.Lock == lock {
			return i
		}
	}
	return -1
}

// dropDonations removes the records in which t accepted a donation
// through lock and returns them.
func (t *Thread) dropDonations(lock LockID) []Donation {
	var dropped []Donation
	keep := t.donations[:0]
	for _, d := range t.donations {
		if d.Lock == lock && !d.IsDonor && d.Acceptor == t.id {
			dropped = append(dropped, d)
			continue
		}
		keep = append(keep, d)
	}
	t.donations = keep
	return dropped
}

func (t *Thread) removeDonation(d Donation) {
	i := t.findDonation(d.Donor, d.Acceptor, d.Lock)
	if i < 0 {
		panic(fmt.Sprintf("kthread: %v has no donation record for lock %d", t, d.Lock))
	}
	t.donations = append(t.donations[:i], t.donations[i+1:]...)
}

func checkPriority(p uint32) {
	if p > PriMax {
		panic(fmt.Sprintf("kthread: priority %d out of range", p))
	}
}
