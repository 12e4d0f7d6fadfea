// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kthread

import (
	"fmt"

	"github.com/Workiva/go-datastructures/queue"
)

// Sleep blocks the current thread for ticks timer ticks. The thread
// becomes Ready on the first timer interrupt at or after
// Ticks()+ticks. Sleep returns at once if ticks <= 0.
func (k *Kernel) Sleep(ticks int64) {
	if ticks <= 0 {
		return
	}
	c := k.enter()
	defer c.exit()

	cur := k.current
	wake := k.hart.Ticks() + ticks
	k.sleepq.push(wake, cur.id)
	k.tracef(cur, "sleep until %d", wake)
	k.block()
}

// Sleepers returns the number of threads in the sleep queue.
func (k *Kernel) Sleepers() int {
	return k.sleepq.Len()
}

type sleeper struct {
	wake int64
	seq  uint64
	tid  Tid
}

// Compare orders sleepers by wake tick, earliest first,
// then by the order they went to sleep.
func (s sleeper) Compare(other queue.Item) int {
	o := other.(sleeper)
	switch {
	case s.wake < o.wake:
		return -1
	case s.wake > o.wake:
		return 1
	case s.seq < o.seq:
		return -1
	case s.seq > o.seq:
		return 1
	}
	return 0
}

// A sleepQueue is a min-heap of sleeping threads keyed by wake tick.
type sleepQueue struct {
	pq  *queue.PriorityQueue
	seq uint64
}

func newSleepQueue() *sleepQueue {
	return &sleepQueue{pq: queue.NewPriorityQueue(16, true)}
}

func (q *sleepQueue) push(wake int64, id Tid) {
	q.seq++
	if err := q.pq.Put(sleeper{wake: wake, seq: q.seq, tid: id}); err != nil {
		panic(fmt.Sprintf("kthread: sleep queue: %v", err))
	}
}

// next returns the earliest wake tick.
func (q *sleepQueue) next() (int64, bool) {
	it := q.pq.Peek()
	if it == nil {
		return 0, false
	}
	return it.(sleeper).wake, true
}

// popDue removes and returns the threads due at or before now,
// earliest first.
func (q *sleepQueue) popDue(now int64) []Tid {
	var due []Tid
	for {
		wake, ok := q.next()
		if !ok || wake > now {
			return due
		}
		items, err := q.pq.Get(1)
		if err != nil {
			panic(fmt.Sprintf("kthread: sleep queue: %v", err))
		}
		due = append(due, items[0].(sleeper).tid)
	}
}

func (q *sleepQueue) Len() int {
	return q.pq.Len()
}
