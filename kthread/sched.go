// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kthread

import (
	"fmt"
	"slices"

	"github.com/Workiva/go-datastructures/bitarray"
)

// A Scheduler decides which Ready thread runs next.
// Schedulers are only called with interrupts disabled.
type Scheduler interface {
	// Register adds a Ready thread.
	Register(t *Thread)

	// Schedule returns the thread to switch to, removing it from
	// the scheduler, or nil if cur should keep running.
	Schedule(cur *Thread) *Thread

	// Len returns the number of registered threads.
	Len() int
}

// A ThreadTable resolves the thread ids stored in queues.
type ThreadTable interface {
	Lookup(id Tid) *Thread
}

func mustLookup(tab ThreadTable, id Tid) *Thread {
	t := tab.Lookup(id)
	if t == nil {
		panic(fmt.Sprintf("kthread: stale thread %d in ready queue", id))
	}
	if t.status != Ready {
		panic(fmt.Sprintf("kthread: %v in ready queue with status %v", t, t.status))
	}
	return t
}

// A PriorityScheduler keeps one FIFO queue per priority level and
// always runs the most urgent Ready thread. A running thread is never
// preempted by a less urgent one; threads of equal priority take
// turns.
type PriorityScheduler struct {
	tab   ThreadTable
	q     [PriMax + 1][]Tid
	n     int
	ready bitarray.BitArray // bit p set iff q[p] is non-empty
}

func NewPriorityScheduler(tab ThreadTable) *PriorityScheduler {
	return &PriorityScheduler{tab: tab, ready: bitarray.NewBitArray(PriMax + 1)}
}

func (s *PriorityScheduler) Register(t *Thread) {
	p := t.Priority()
	s.q[p] = append(s.q[p], t.id)
	s.n++
	s.mark(uint64(p))
}

func (s *PriorityScheduler) Len() int {
	return s.n
}

// Queue returns the thread ids waiting at priority p, oldest first.
func (s *PriorityScheduler) Queue(p uint32) []Tid {
	return append([]Tid(nil), s.q[p]...)
}

// Schedule picks the oldest thread at the highest ready priority.
// A running cur keeps the processor only when that thread is strictly
// less urgent, so threads of equal priority take turns.
func (s *PriorityScheduler) Schedule(cur *Thread) *Thread {
	s.requeue()
	levels := s.ready.ToNums()
	if len(levels) == 0 {
		return nil
	}
	p := levels[len(levels)-1]
	q := s.q[p]
	t := mustLookup(s.tab, q[0])
	if cur.status == Running && t.Priority() < cur.Priority() {
		return nil
	}
	s.q[p] = q[1:]
	s.n--
	s.mark(p)
	return t
}

// requeue moves threads whose priority changed since they were
// registered, donations mostly, to the queue they now belong in.
// Threads that stay keep their relative order.
func (s *PriorityScheduler) requeue() {
	for p := range s.q {
		keep := s.q[p][:0]
		for _, id := range s.q[p] {
			t := s.tab.Lookup(id)
			if t == nil {
				panic(fmt.Sprintf("kthread: stale thread %d in ready queue", id))
			}
			if np := int(t.Priority()); np != p {
				s.q[np] = append(s.q[np], id)
				continue
			}
			keep = append(keep, id)
		}
		s.q[p] = keep
	}
	for p := range s.q {
		s.mark(uint64(p))
	}
}

// mark updates the ready bit for level p.
func (s *PriorityScheduler) mark(p uint64) {
	var err error
	if len(s.q[p]) > 0 {
		err = s.ready.SetBit(p)
	} else {
		err = s.ready.ClearBit(p)
	}
	if err != nil {
		panic(fmt.Sprintf("kthread: ready bitmap: %v", err))
	}
}

// An FCFSScheduler runs Ready threads in the order they became ready,
// ignoring priority. Every scheduling point switches to the oldest
// Ready thread if there is one. The idle thread only runs when no
// other thread can.
type FCFSScheduler struct {
	tab ThreadTable
	q   []Tid
}

func NewFCFSScheduler(tab ThreadTable) *FCFSScheduler {
	return &FCFSScheduler{tab: tab}
}

func (s *FCFSScheduler) Register(t *Thread) {
	s.q = append(s.q, t.id)
}

func (s *FCFSScheduler) Len() int {
	return len(s.q)
}

func (s *FCFSScheduler) Schedule(cur *Thread) *Thread {
	i := slices.IndexFunc(s.q, func(id Tid) bool { return id != idleTid })
	if i < 0 {
		if len(s.q) == 0 || cur.status == Running {
			return nil
		}
		i = 0
	}
	t := mustLookup(s.tab, s.q[i])
	s.q = slices.Delete(s.q, i, i+1)
	return t
}
