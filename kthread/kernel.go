// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package kthread implements the thread core of a single-hart kernel:
// a 64-level priority scheduler, counting semaphores, sleep locks with
// priority donation, condition variables, and a timer sleep queue.
//
// Every kernel thread runs on its own goroutine, but only one of them
// runs at a time: the running thread holds a baton that a context
// switch hands to the next thread. Mutual exclusion inside the kernel
// comes from disabling the hart's timer interrupt, as on real
// single-core hardware.
package kthread

import (
	"fmt"
	"io"
	"runtime/debug"
	"sort"
	"strings"
	"sync"

	"rsc.io/kcore/riscv"
)

// A Kernel owns the threads of one simulated hart and everything that
// schedules them. It is created once with New and driven by Run.
type Kernel struct {
	Trace io.Writer // if non-nil, kernel events are logged here

	hart     *riscv.Hart
	sched    Scheduler
	threads  map[Tid]*Thread
	current  *Thread
	idle     *Thread
	sleepq   *sleepQueue
	nextTid  Tid
	nextLock LockID
	live     int // spawned threads that have not exited
	switches int64

	maxDepth   int
	defaultPri uint32

	running  bool
	halt     chan struct{}
	haltOnce sync.Once
	fault    *Panic
}

// New returns a kernel configured by cfg. The calling goroutine
// becomes the kernel's idle thread once it calls Run.
func New(cfg Config) (*Kernel, error) {
	if err := cfg.check(); err != nil {
		return nil, err
	}
	k := &Kernel{
		threads:    make(map[Tid]*Thread),
		sleepq:     newSleepQueue(),
		maxDepth:   cfg.MaxDonationDepth,
		defaultPri: cfg.DefaultPriority,
		halt:       make(chan struct{}),
	}
	if k.maxDepth == 0 {
		k.maxDepth = DefaultDonationDepth
	}
	if k.defaultPri == 0 {
		k.defaultPri = PriDefault
	}
	switch cfg.Scheduler {
	case "", "priority":
		k.sched = NewPriorityScheduler(k)
	case "fcfs":
		k.sched = NewFCFSScheduler(k)
	}
	k.hart = riscv.NewHart(k.timerInterrupt)
	k.idle = k.newThread("idle", PriMin, nil)
	k.idle.status = Running
	k.current = k.idle
	return k, nil
}

func (k *Kernel) newThread(name string, pri uint32, entry func()) *Thread {
	t := &Thread{
		id:    k.nextTid,
		name:  name,
		base:  pri,
		entry: entry,
		sched: make(chan struct{}),
	}
	t.priority.Store(pri)
	k.nextTid++
	k.threads[t.id] = t
	return t
}

// Spawn creates a Ready thread that will run fn and then exit.
// If the kernel is running and the new thread outranks the caller,
// the caller yields to it before Spawn returns.
func (k *Kernel) Spawn(name string, priority uint32, fn func()) *Thread {
	checkPriority(priority)
	c := k.enter()
	defer c.exit()

	t := k.newThread(name, priority, fn)
	t.status = Ready
	k.live++
	go k.start(t)
	k.tracef(t, "spawn priority %d", priority)
	k.sched.Register(t)
	if k.running && priority > k.current.Priority() {
		k.schedule()
	}
	return t
}

func (k *Kernel) start(t *Thread) {
	defer func() {
		if e := recover(); e != nil {
			k.crash(t, e)
		}
	}()
	k.park(t)
	k.hart.Set(true)
	t.entry()
	k.Exit()
}

// Run turns the calling goroutine into the idle thread and runs the
// kernel until every spawned thread has exited. Whenever nothing else
// is ready, idle advances the timer, skipping straight to the next
// sleeper's deadline.
//
// Run returns a *DeadlockError if threads remain blocked with no
// sleeper left to wake them. If a kernel thread panics, Run panics
// with a *Panic describing it.
func (k *Kernel) Run() error {
	if k.running {
		panic("kthread: Run called twice")
	}
	k.running = true
	defer k.shutdown()

	for {
		c := k.enter()
		if k.live == 0 {
			c.exit()
			return nil
		}
		if k.sched.Len() == 0 {
			wake, ok := k.sleepq.next()
			if !ok {
				err := k.deadlock()
				c.exit()
				return err
			}
			if d := wake - k.hart.Ticks() - 1; d > 0 {
				k.hart.Advance(d)
			}
		}
		c.exit()
		k.hart.Tick()
	}
}

// Current returns the running thread.
func (k *Kernel) Current() *Thread {
	return k.current
}

// Lookup returns the live thread with the given id, or nil.
func (k *Kernel) Lookup(id Tid) *Thread {
	return k.threads[id]
}

func (k *Kernel) thread(id Tid) *Thread {
	t := k.threads[id]
	if t == nil {
		panic(fmt.Sprintf("kthread: no thread %d", id))
	}
	return t
}

// Threads returns the live threads, idle included, in Tid order.
func (k *Kernel) Threads() []*Thread {
	list := make([]*Thread, 0, len(k.threads))
	for _, t := range k.threads {
		list = append(list, t)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].id < list[j].id })
	return list
}

// Ticks returns the timer ticks since boot.
func (k *Kernel) Ticks() int64 {
	return k.hart.Ticks()
}

// Switches returns the number of context switches so far.
func (k *Kernel) Switches() int64 {
	return k.switches
}

// DefaultPriority returns the configured priority for threads that
// do not ask for one.
func (k *Kernel) DefaultPriority() uint32 {
	return k.defaultPri
}

// Spin keeps the current thread busy for n timer ticks. Each tick
// takes the timer interrupt, so the thread may be preempted.
func (k *Kernel) Spin(n int64) {
	for i := int64(0); i < n; i++ {
		k.hart.Tick()
	}
}

// SetPriority records p as the current thread's requested priority.
// Donations the thread is still owed keep it at least as high as the
// donors; if its priority drops, it yields.
func (k *Kernel) SetPriority(p uint32) {
	checkPriority(p)
	c := k.enter()
	defer c.exit()

	cur := k.current
	cur.override, cur.setted = p, true
	old := cur.Priority()
	np := cur.restore()
	cur.priority.Store(np)
	k.tracef(cur, "set priority %d (effective %d)", p, np)
	if np < old {
		k.schedule()
	}
}

// GetPriority returns the current thread's effective priority.
func (k *Kernel) GetPriority() uint32 {
	return k.current.Priority()
}

func (k *Kernel) timerInterrupt() {
	for _, id := range k.sleepq.popDue(k.hart.Ticks()) {
		t := k.thread(id)
		k.tracef(t, "timer wakeup")
		k.wakeUp(t)
	}
	k.schedule()
}

func (k *Kernel) deadlock() error {
	var blocked []string
	for _, t := range k.Threads() {
		if t.status == Blocked {
			blocked = append(blocked, t.String())
		}
	}
	k.shutdown()
	return &DeadlockError{Blocked: blocked}
}

func (k *Kernel) crash(t *Thread, e any) {
	k.fault = &Panic{Tid: t.id, Thread: t.name, Value: e, Stack: debug.Stack()}
	k.shutdown()
}

// shutdown releases every parked thread goroutine.
func (k *Kernel) shutdown() {
	k.haltOnce.Do(func() { close(k.halt) })
}

func (k *Kernel) halted() bool {
	select {
	case <-k.halt:
		return true
	default:
		return false
	}
}

func (k *Kernel) tracef(t *Thread, format string, args ...any) {
	if k.Trace == nil {
		return
	}
	fmt.Fprintf(k.Trace, "%6d [tid %d %s] %s\n", k.hart.Ticks(), t.id, t.name, fmt.Sprintf(format, args...))
}

// A DeadlockError reports threads left blocked forever.
type DeadlockError struct {
	Blocked []string
}

func (e *DeadlockError) Error() string {
	return "kthread: deadlock: blocked threads: " + strings.Join(e.Blocked, ", ")
}

// A Panic is a fatal kernel error raised on a kernel thread.
// Run re-panics with it on the idle thread.
type Panic struct {
	Tid    Tid
	Thread string
	Value  any
	Stack  []byte
}

func (p *Panic) Error() string {
	return fmt.Sprintf("kernel panic in %s#%d: %v", p.Thread, p.Tid, p.Value)
}
