// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Kthrun runs kernel scheduling scenarios and prints their transcripts.
//
// Usage:
//
//	kthrun [-check] [-config file.yaml] [-trace] scenario.txtar...
//
// Each scenario is a txtar archive in the format described by the
// rsc.io/kcore/script package.
//
// The -check flag compares each transcript with the archive's want file
// instead of printing it, and exits with status 1 if any differ.
//
// The -config flag replaces the kernel configuration of every scenario
// with the YAML configuration in file.
//
// The -trace flag logs every kernel event to standard error. When standard
// error is a terminal, the trace is dimmed so that it stands apart from
// the transcript.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"runtime/pprof"

	"github.com/fatih/color"
	"github.com/mattn/go-colorable"
	"golang.org/x/term"
	"rsc.io/kcore/kthread"
	"rsc.io/kcore/script"
)

var (
	check      = flag.Bool("check", false, "compare transcripts with want files")
	configFile = flag.String("config", "", "read kernel configuration from `file`")
	trace      = flag.Bool("trace", false, "trace kernel events to standard error")
	cpuprofile = flag.String("cpuprofile", "", "write cpuprofile to `file`")
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: kthrun [-check] [-config file.yaml] [-trace] scenario.txtar...\n")
	os.Exit(2)
}

func main() {
	log.SetPrefix("kthrun: ")
	log.SetFlags(0)
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() == 0 {
		usage()
	}

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			log.Fatal(err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal(err)
		}
		defer pprof.StopCPUProfile()
	}

	var cfg *kthread.Config
	if *configFile != "" {
		data, err := os.ReadFile(*configFile)
		if err != nil {
			log.Fatal(err)
		}
		c, err := kthread.ParseConfig(data)
		if err != nil {
			log.Fatalf("%s: %v", *configFile, err)
		}
		cfg = &c
	}

	var tw io.Writer
	if *trace {
		tw = traceWriter()
	}

	failed := false
	for _, file := range flag.Args() {
		s, err := script.ParseFile(file)
		if err != nil {
			log.Fatal(err)
		}
		if cfg != nil {
			s.Config = *cfg
		}
		if *check {
			if err := s.Check(tw); err != nil {
				log.Print(err)
				failed = true
			}
			continue
		}
		out, err := s.Run(tw)
		if err != nil {
			log.Fatalf("%s: %v", file, err)
		}
		if flag.NArg() > 1 {
			fmt.Printf("-- %s --\n", file)
		}
		os.Stdout.WriteString(out)
	}
	if failed {
		pprof.StopCPUProfile()
		os.Exit(1)
	}
}

func traceWriter() io.Writer {
	if !term.IsTerminal(int(os.Stderr.Fd())) {
		return os.Stderr
	}
	faint := color.New(color.Faint)
	faint.EnableColor()
	return &dimWriter{w: colorable.NewColorableStderr(), c: faint}
}

// A dimWriter writes each line in faint text. It colors with Sprint,
// which obeys only the Color's own setting, so the escapes are written
// even when color.NoColor is set because standard output is redirected.
type dimWriter struct {
	w io.Writer
	c *color.Color
}

func (d *dimWriter) Write(p []byte) (int, error) {
	for _, line := range bytes.SplitAfter(p, []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		text, nl := bytes.CutSuffix(line, []byte("\n"))
		if _, err := io.WriteString(d.w, d.c.Sprint(string(text))); err != nil {
			return 0, err
		}
		if nl {
			if _, err := io.WriteString(d.w, "\n"); err != nil {
				return 0, err
			}
		}
	}
	return len(p), nil
}
