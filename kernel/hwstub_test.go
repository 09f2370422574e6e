package main

import "testing"

// fakeMstatus backs r_mstatus/w_mstatus under test: a plain word in test
// memory standing in for the real CSR, so intr_off/intr_on/intr_get (and
// everything built on critical()) run the same code path they do on real
// hardware without needing one.
var fakeMstatusWord uintptr

// TestMain swaps every go:linkname-backed variable this package's tests
// reach through for a host-safe fake, the same seam gopher-os uses for
// frameAllocator/readCR2Fn/translateFn. Everything NOT listed here (PLIC,
// UART, virtio-blk MMIO, do_syscall, get_end, GetTrapVectorAddr) is only
// ever called from bootKernel/KMain/the trap vector, none of which any test
// in this package calls, so those symbols stay unresolved and simply never
// need linking -- exactly the situation the teacher's own kernel is in,
// since it ships no tests at all for the same reason.
func TestMain(m *testing.M) {
	putcFn = func(byte) {}

	r_mstatus = func() uintptr { return fakeMstatusWord }
	w_mstatus = func(v uintptr) { fakeMstatusWord = v }

	wfi = func() {}

	GetForkretAddr = func() uintptr { return 0xf0f0 }

	// A fake context switch: real switch_context is a non-local jump that
	// never returns to its own call site once the switched-to process is
	// terminal (see proc.go's procExit), but a host test has no hardware
	// stack to jump through, so the fake just returns normally. This is
	// enough to exercise schedule()'s queue bookkeeping (which process runs
	// next, who gets re-enqueued) even though it can't simulate the new
	// process actually executing.
	switch_context = func(old, next *RegState) {}

	m.Run()
}
