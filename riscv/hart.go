// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package riscv models the parts of a single RISC-V hart that a
// kernel's thread core depends on: the supervisor interrupt-enable
// bit and the machine timer.
package riscv

// A Hart is a single hardware thread with one timer interrupt source.
//
// The zero Hart has interrupts disabled, a timer at tick 0, and no
// trap handler. A Hart is not safe for concurrent use; the kernel
// guarantees that only one goroutine drives it at a time.
type Hart struct {
	sie     bool  // supervisor interrupt enable
	pending bool  // timer interrupt raised while sie was clear
	mtime   int64 // timer ticks since reset

	// Trap is called on every timer interrupt, with interrupts
	// disabled. It may switch away and return much later.
	Trap func()

	traps int64
}

// NewHart returns a hart with interrupts enabled whose timer
// interrupts are delivered to trap.
func NewHart(trap func()) *Hart {
	return &Hart{sie: true, Trap: trap}
}

// Set sets the interrupt-enable state and returns the previous one.
// Enabling interrupts delivers a pending timer interrupt immediately.
func (h *Hart) Set(enabled bool) bool {
	old := h.sie
	h.sie = enabled
	if enabled && h.pending {
		h.pending = false
		h.trap()
	}
	return old
}

// Enabled reports whether interrupts are enabled.
func (h *Hart) Enabled() bool {
	return h.sie
}

// Ticks returns the number of timer ticks since reset.
func (h *Hart) Ticks() int64 {
	return h.mtime
}

// Traps returns the number of timer interrupts taken.
func (h *Hart) Traps() int64 {
	return h.traps
}

// Tick advances the timer by one tick. If interrupts are enabled the
// timer trap is taken before Tick returns; otherwise the interrupt
// stays pending until the next Set(true).
func (h *Hart) Tick() {
	h.mtime++
	if !h.sie {
		h.pending = true
		return
	}
	h.trap()
}

// Advance moves the timer forward n ticks without raising an
// interrupt, as if the hart had been waiting for interrupt.
func (h *Hart) Advance(n int64) {
	if n < 0 {
		panic("riscv: negative advance")
	}
	h.mtime += n
}

func (h *Hart) trap() {
	h.traps++
	if h.Trap == nil {
		return
	}
	old := h.sie
	h.sie = false
	h.Trap()
	h.sie = old
}
