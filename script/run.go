// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package script

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"rsc.io/kcore/kthread"
)

type runner struct {
	s     *Script
	k     *kthread.Kernel
	locks map[string]kthread.Locker
	semas map[string]*kthread.Semaphore
	conds map[string]*kthread.Condvar
	out   strings.Builder
}

// Run boots a kernel configured by s.Config, runs the scenario to
// completion, and returns its transcript. Kernel events are traced to
// trace if it is non-nil.
//
// A deadlock or kernel panic ends the transcript; it is not an error.
func (s *Script) Run(trace io.Writer) (string, error) {
	k, err := kthread.New(s.Config)
	if err != nil {
		return "", err
	}
	k.Trace = trace
	r := &runner{
		s:     s,
		k:     k,
		locks: make(map[string]kthread.Locker),
		semas: make(map[string]*kthread.Semaphore),
		conds: make(map[string]*kthread.Condvar),
	}
	for _, o := range s.objects {
		switch o.kind {
		case kindLock:
			r.locks[o.name] = k.NewSleepLock()
		case kindIntr:
			r.locks[o.name] = k.NewIntrLock()
		case kindSema:
			r.semas[o.name] = k.NewSemaphore(o.value)
		case kindCond:
			r.conds[o.name] = k.NewCondvar()
		}
	}
	for _, t := range s.threads {
		if !t.spawned {
			r.spawn(t)
		}
	}
	r.run()
	return r.out.String(), nil
}

// Check runs s and compares the transcript with s.Want.
func (s *Script) Check(trace io.Writer) error {
	if !s.HasWant {
		return fmt.Errorf("%s: no want file", s.Name)
	}
	got, err := s.Run(trace)
	if err != nil {
		return err
	}
	if got != s.Want {
		return fmt.Errorf("%s: transcript mismatch:\nhave:\n%swant:\n%s", s.Name, got, s.Want)
	}
	return nil
}

func (r *runner) run() {
	defer func() {
		e := recover()
		if e == nil {
			return
		}
		p, ok := e.(*kthread.Panic)
		if !ok {
			panic(e)
		}
		r.logf("kernel", "panic in %s#%d: %v", p.Thread, p.Tid, p.Value)
	}()

	err := r.k.Run()
	var de *kthread.DeadlockError
	switch {
	case errors.As(err, &de):
		r.logf("kernel", "deadlock %s", strings.Join(de.Blocked, " "))
	case err != nil:
		r.logf("kernel", "%v", err)
	}
}

func (r *runner) spawn(t *thread) {
	r.k.Spawn(t.name, t.priority, func() {
		for _, st := range t.steps {
			r.step(t, st)
		}
	})
}

func (r *runner) step(t *thread, st step) {
	k := r.k
	switch st.op {
	case "acquire":
		r.locks[st.args[0]].Acquire()
	case "release":
		r.locks[st.args[0]].Release()
	case "down":
		r.semas[st.args[0]].Down()
	case "up":
		r.semas[st.args[0]].Up()
	case "wait":
		r.conds[st.args[0]].Wait(r.locks[st.args[1]])
	case "notify":
		r.conds[st.args[0]].NotifyOne()
	case "notifyall":
		r.conds[st.args[0]].NotifyAll()
	case "sleep":
		k.Sleep(st.n)
	case "spin":
		k.Spin(st.n)
	case "setpri":
		k.SetPriority(uint32(st.n))
	case "priority":
		r.logf(t.name, "priority %d", k.GetPriority())
	case "print":
		r.logf(t.name, "%s", strings.Join(st.args, " "))
	case "spawn":
		r.spawn(r.s.thread(st.args[0]))
	case "yield":
		k.Schedule()
	case "exit":
		k.Exit()
	default:
		panic(fmt.Sprintf("%s:%d: unknown step %s", r.s.Name, st.line, st.op))
	}
}

func (r *runner) logf(who, format string, args ...any) {
	fmt.Fprintf(&r.out, "%d %s: %s\n", r.k.Ticks(), who, fmt.Sprintf(format, args...))
}
