// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kthread

import (
	"fmt"
	"runtime"
)

// A critical section runs with the timer interrupt disabled.
// Every enter is paired with a deferred exit, which restores the
// interrupt state found on entry.
//
// Once the kernel has halted, the idle goroutine owns the hart and
// thread goroutines unwind through Goexit, so their exits leave the
// hart alone.
type critical struct {
	k   *Kernel
	old bool
}

func (k *Kernel) enter() critical {
	return critical{k, k.hart.Set(false)}
}

func (c critical) exit() {
	if c.k.halted() {
		return
	}
	c.k.hart.Set(c.old)
}

// Schedule gives the processor to another thread if the scheduler
// picks one.
func (k *Kernel) Schedule() {
	c := k.enter()
	defer c.exit()
	k.schedule()
}

/*
 * Ask the scheduler for the next thread and switch to it.
 * The current thread goes back on the ready queue unless
 * it is blocked or dying. Interrupts must be off.
 */
func (k *Kernel) schedule() {
	if k.hart.Enabled() {
		panic("kthread: schedule with interrupts enabled")
	}
	prev := k.current
	next := k.sched.Schedule(prev)
	if next == nil {
		if prev.status != Running {
			panic("swtch")
		}
		return
	}
	if next == prev {
		panic(fmt.Sprintf("kthread: %v scheduled while running", prev))
	}

	if prev.status == Running {
		prev.status = Ready
		k.sched.Register(prev)
	}
	dying := prev.status == Dying
	if dying {
		delete(k.threads, prev.id)
		k.live--
	}
	next.status = Running
	k.current = next
	k.switches++
	k.tracef(next, "switch from %v", prev)

	// Once next holds the baton, prev must not touch kernel state.
	next.sched <- struct{}{}
	if dying {
		runtime.Goexit()
	}
	k.park(prev)
}

// park waits until t is handed the baton again.
func (k *Kernel) park(t *Thread) {
	select {
	case <-t.sched:
	case <-k.halt:
		if t != k.idle {
			runtime.Goexit()
		}
		if k.fault != nil {
			panic(k.fault)
		}
		panic("kthread: halted")
	}
}

// Block marks the current thread Blocked and switches away.
// It returns after another thread calls WakeUp on it.
func (k *Kernel) Block() {
	c := k.enter()
	defer c.exit()
	k.block()
}

func (k *Kernel) block() {
	cur := k.current
	if cur == k.idle {
		panic("kthread: idle thread cannot block")
	}
	cur.status = Blocked
	k.tracef(cur, "block")
	k.schedule()
}

// WakeUp makes a blocked thread Ready. It does not switch to it.
func (k *Kernel) WakeUp(t *Thread) {
	c := k.enter()
	defer c.exit()
	k.wakeUp(t)
}

func (k *Kernel) wakeUp(t *Thread) {
	if t.status != Blocked {
		panic(fmt.Sprintf("kthread: wake up %v: status %v, want Blocked", t, t.status))
	}
	t.status = Ready
	k.tracef(t, "wake up")
	k.sched.Register(t)
}

// Exit ends the current thread. It does not return.
func (k *Kernel) Exit() {
	k.hart.Set(false)
	cur := k.current
	if cur == k.idle {
		panic("kthread: idle thread cannot exit")
	}
	if len(cur.donations) > 0 {
		k.tracef(cur, "exit with %d donations outstanding", len(cur.donations))
	} else {
		k.tracef(cur, "exit")
	}
	cur.status = Dying
	k.schedule()
	panic("kthread: dying thread scheduled again")
}
