// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package script runs scheduling scenarios written as txtar archives.
//
// An archive has a "script" file, an optional "config.yaml" file holding
// a kthread.Config, and an optional "want" file holding the expected
// transcript. For example:
//
//	-- script --
//	lock L
//	thread t1 1
//		acquire L
//		spawn t5
//		priority
//		release L
//	thread t5 5
//		acquire L
//		print got L
//		release L
//	-- want --
//	1 t1: priority 5
//	1 t5: got L
//
// Lines starting in column one declare kernel objects:
//
//	lock NAME          sleep lock
//	intr NAME          interrupt lock
//	sema NAME VALUE    semaphore
//	cond NAME          condition variable
//	thread NAME PRI    thread, followed by its indented steps
//
// A thread starts when the kernel boots unless some step spawns it.
// Steps are
//
//	acquire LOCK, release LOCK
//	down SEMA, up SEMA
//	wait COND LOCK, notify COND, notifyall COND
//	sleep TICKS, spin TICKS
//	setpri PRI, priority
//	print TEXT...
//	spawn THREAD
//	yield, exit
//
// Lines are split into words with shell quoting rules, and # starts
// a comment.
//
// The transcript has one line for each print and priority step, in the
// form "TICK THREAD: TEXT". If the kernel deadlocks or panics, a final
// line from "kernel" says so.
package script

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/shlex"
	"golang.org/x/tools/txtar"
	"rsc.io/kcore/kthread"
)

// A Script is a parsed scenario.
type Script struct {
	Name    string
	Config  kthread.Config
	Want    string // expected transcript
	HasWant bool

	objects []object
	threads []*thread
}

type kind int

const (
	kindLock kind = iota
	kindIntr
	kindSema
	kindCond
	kindThread
)

var kindNames = map[string]kind{
	"lock":   kindLock,
	"intr":   kindIntr,
	"sema":   kindSema,
	"cond":   kindCond,
	"thread": kindThread,
}

type object struct {
	kind  kind
	name  string
	value uint
}

type thread struct {
	name     string
	priority uint32
	steps    []step
	spawned  bool // started by a spawn step, not at boot
}

type step struct {
	line int
	op   string
	args []string
	n    int64
}

// Argument shapes for each step.
// "lock" matches both sleep and interrupt locks.
var ops = map[string][]string{
	"acquire":   {"lock"},
	"release":   {"lock"},
	"down":      {"sema"},
	"up":        {"sema"},
	"wait":      {"cond", "lock"},
	"notify":    {"cond"},
	"notifyall": {"cond"},
	"sleep":     {"int"},
	"spin":      {"int"},
	"setpri":    {"pri"},
	"priority":  {},
	"print":     nil, // any text
	"spawn":     {"thread"},
	"yield":     {},
	"exit":      {},
}

// A SyntaxError reports a malformed scenario.
type SyntaxError struct {
	File string
	Line int // 0 if the error is not tied to a script line
	Msg  string
}

func (e *SyntaxError) Error() string {
	if e.Line == 0 {
		return e.File + ": " + e.Msg
	}
	return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Msg)
}

// ParseFile reads and parses the scenario archive in file.
func ParseFile(file string) (*Script, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	return Parse(file, data)
}

// Parse parses a scenario archive. The name is used in error messages.
func Parse(name string, data []byte) (*Script, error) {
	s := &Script{Name: name}
	ar := txtar.Parse(data)
	var text []byte
	haveScript := false
	for _, f := range ar.Files {
		switch f.Name {
		case "script":
			text, haveScript = f.Data, true
		case "config.yaml":
			cfg, err := kthread.ParseConfig(f.Data)
			if err != nil {
				return nil, &SyntaxError{File: name, Msg: err.Error()}
			}
			s.Config = cfg
		case "want":
			s.Want, s.HasWant = string(f.Data), true
		default:
			return nil, &SyntaxError{File: name, Msg: fmt.Sprintf("unexpected file %q in archive", f.Name)}
		}
	}
	if !haveScript {
		return nil, &SyntaxError{File: name, Msg: "missing script file"}
	}
	if err := s.parse(string(text)); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Script) parse(text string) error {
	kinds := make(map[string]kind)
	type ref struct {
		line int
		name string
	}
	var spawns []ref
	var cur *thread

	for i, line := range strings.Split(text, "\n") {
		lineno := i + 1
		errorf := func(format string, args ...any) error {
			return &SyntaxError{File: s.Name, Line: lineno, Msg: fmt.Sprintf(format, args...)}
		}
		f, err := shlex.Split(line)
		if err != nil {
			return errorf("%v", err)
		}
		if len(f) == 0 {
			continue
		}

		if line[0] != ' ' && line[0] != '\t' {
			// Declaration.
			k, ok := kindNames[f[0]]
			if !ok {
				return errorf("unknown declaration %q", f[0])
			}
			want := 2
			if k == kindSema || k == kindThread {
				want = 3
			}
			if len(f) != want {
				return errorf("%s takes %d arguments", f[0], want-1)
			}
			name := f[1]
			if _, dup := kinds[name]; dup {
				return errorf("%s redeclared", name)
			}
			kinds[name] = k
			switch k {
			case kindThread:
				pri, err := parsePri(f[2])
				if err != nil {
					return errorf("%v", err)
				}
				cur = &thread{name: name, priority: pri}
				s.threads = append(s.threads, cur)
			case kindSema:
				v, err := strconv.ParseUint(f[2], 10, 0)
				if err != nil {
					return errorf("bad semaphore value %q", f[2])
				}
				s.objects = append(s.objects, object{kind: k, name: name, value: uint(v)})
				cur = nil
			default:
				s.objects = append(s.objects, object{kind: k, name: name})
				cur = nil
			}
			continue
		}

		// Step.
		if cur == nil {
			return errorf("step outside thread")
		}
		shape, ok := ops[f[0]]
		if !ok {
			return errorf("unknown step %q", f[0])
		}
		st := step{line: lineno, op: f[0], args: f[1:]}
		if shape != nil && len(st.args) != len(shape) {
			return errorf("%s takes %d arguments", st.op, len(shape))
		}
		for j, want := range shape {
			arg := st.args[j]
			switch want {
			case "int":
				n, err := strconv.ParseInt(arg, 10, 64)
				if err != nil {
					return errorf("bad tick count %q", arg)
				}
				st.n = n
			case "pri":
				p, err := parsePri(arg)
				if err != nil {
					return errorf("%v", err)
				}
				st.n = int64(p)
			case "thread":
				// May be declared later.
				spawns = append(spawns, ref{lineno, arg})
			default:
				k, ok := kinds[arg]
				if !ok {
					return errorf("undeclared %s %s", want, arg)
				}
				if k != kindNames[want] && !(want == "lock" && k == kindIntr) {
					return errorf("%s is not a %s", arg, want)
				}
			}
		}
		cur.steps = append(cur.steps, st)
	}

	for _, r := range spawns {
		t := s.thread(r.name)
		if t == nil {
			return &SyntaxError{File: s.Name, Line: r.line, Msg: fmt.Sprintf("undeclared thread %s", r.name)}
		}
		t.spawned = true
	}
	return nil
}

func (s *Script) thread(name string) *thread {
	for _, t := range s.threads {
		if t.name == name {
			return t
		}
	}
	return nil
}

func parsePri(arg string) (uint32, error) {
	p, err := strconv.ParseUint(arg, 10, 32)
	if err != nil || p > kthread.PriMax {
		return 0, fmt.Errorf("bad priority %q", arg)
	}
	return uint32(p), nil
}
