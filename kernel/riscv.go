package main

import _ "unsafe"

const PGSIZE = uintptr(4096)

// External flags accepted by vmm_map/vmm_map_page (spec.md §4.B); mirrors
// internal/kcore's FlagPresent/FlagRW/FlagUser bit-for-bit, since those
// cross the package boundary as plain ints (see vm.go).
const (
	FLAG_PRESENT = 1 << 0
	FLAG_RW      = 1 << 1
	FLAG_USER    = 1 << 2
)

// mstatus bits this kernel cares about. Per the Open Question in spec.md
// §9, processes are created with MPP=Machine rather than a true U-mode
// split (see DESIGN.md for the rationale this repo keeps).
const (
	MSTATUS_MIE  = 1 << 3
	MSTATUS_MPIE = 1 << 7
	MSTATUS_MPP_M = 3 << 11
)

// mcause values this kernel recognizes. The top bit distinguishes
// interrupts (1) from exceptions (0); the rest is the cause code.
const (
	mcauseIntrBit = uintptr(1) << 63

	// exception codes
	excInstrMisaligned = 0
	excInstrFault       = 1
	excIllegalInstr     = 2
	excBreakpoint       = 3
	excLoadMisaligned   = 4
	excLoadFault        = 5
	excStoreMisaligned  = 6
	excStoreFault       = 7
	excEcallU           = 8
	excEcallM           = 11
	excInstrPageFault   = 12
	excLoadPageFault     = 13
	excStorePageFault    = 15

	// interrupt codes
	intrMachineSoftware = 3
	intrMachineTimer    = 7
	intrMachineExternal = 11
)

func mcauseIsInterrupt(cause uintptr) bool { return cause&mcauseIntrBit != 0 }
func mcauseCode(cause uintptr) uintptr     { return cause &^ mcauseIntrBit }

// Quantum is the fixed tick count between timer interrupts driving
// preemption (spec.md §4.C).
const Quantum = uintptr(1000000)

// Trap frame layout: 128 bytes on the trapped stack, the first 96 holding
// ra, t0, t1, t2, a0..a5, a6, a7 in that order (spec.md §3, §6).
const (
	TrapFrameSize = 128

	tfRa = 0
	tfT0 = 1
	tfT1 = 2
	tfT2 = 3
	tfA0 = 4
	tfA1 = 5
	tfA2 = 6
	tfA3 = 7
	tfA4 = 8
	tfA5 = 9
	tfA6 = 10
	tfA7 = 11
)

// CSR accessors. On real hardware these are `csrr`/`csrw` one-liners; the
// assembly bodies live outside this package's source (spec.md's "assembly
// boundary", §9) and are reached through go:linkname, mirroring the
// teacher's kvminithart/get_etext pattern in kernel/vm.go and kernel/kalloc.go.
//
// Each is a package-level var rather than a bare func, the same swappable-
// function-variable seam gopher-os uses for frameAllocator/readCR2Fn/
// translateFn (other_examples/gopher-os-gopher-os__vmm.go, __pmm.go): a host
// test overrides the handful it actually drives through (r_mstatus,
// w_mstatus, wfi) so critical/intr_off/intr_on and the scheduler built on
// top of them run under plain `go test`, while production code never
// reassigns them and gets exactly the teacher's direct-call behavior.

//go:linkname r_mcause_hw r_mcause
func r_mcause_hw() uintptr

var r_mcause = r_mcause_hw

//go:linkname r_mepc_hw r_mepc
func r_mepc_hw() uintptr

var r_mepc = r_mepc_hw

//go:linkname w_mepc_hw w_mepc
func w_mepc_hw(uintptr)

var w_mepc = w_mepc_hw

//go:linkname r_mtval_hw r_mtval
func r_mtval_hw() uintptr

var r_mtval = r_mtval_hw

//go:linkname r_mstatus_hw r_mstatus
func r_mstatus_hw() uintptr

var r_mstatus = r_mstatus_hw

//go:linkname w_mstatus_hw w_mstatus
func w_mstatus_hw(uintptr)

var w_mstatus = w_mstatus_hw

//go:linkname w_mtvec_hw w_mtvec
func w_mtvec_hw(uintptr)

var w_mtvec = w_mtvec_hw

//go:linkname w_satp_hw w_satp
func w_satp_hw(uintptr)

var w_satp = w_satp_hw

//go:linkname sfence_vma_hw sfence_vma
func sfence_vma_hw()

var sfence_vma = sfence_vma_hw

//go:linkname r_mtime_hw r_mtime
func r_mtime_hw() uint64

var r_mtime = r_mtime_hw

//go:linkname w_mtimecmp_hw w_mtimecmp
func w_mtimecmp_hw(hart int, v uint64)

var w_mtimecmp = w_mtimecmp_hw

//go:linkname wfi_hw wfi
func wfi_hw()

var wfi = wfi_hw

// r_mscratch/w_mscratch access the per-hart scratch CSR, which this kernel
// uses the standard riscv way: it holds a pointer to the current trap
// frame, set up once per process by the assembly trap vector before it
// tail-calls into Go (spec.md §4.C "SAVE_FRAME").

//go:linkname r_mscratch_hw r_mscratch
func r_mscratch_hw() uintptr

var r_mscratch = r_mscratch_hw

//go:linkname w_mscratch_hw w_mscratch
func w_mscratch_hw(uintptr)

var w_mscratch = w_mscratch_hw

// intr_off/intr_on toggle the mstatus MIE bit, the single global gate
// described in spec.md §5.
func intr_off() { w_mstatus(r_mstatus() &^ uintptr(MSTATUS_MIE)) }
func intr_on()  { w_mstatus(r_mstatus() | uintptr(MSTATUS_MIE)) }
func intr_get() bool { return r_mstatus()&MSTATUS_MIE != 0 }
