package main

import "unsafe"

// TrapFrame is the 128-byte frame the assembly trap vector saves the 12
// caller-saved registers into before tail-calling Kerneltrap (spec.md §3,
// §4.C). Slot order and indices are the tfRa..tfA7 constants in riscv.go;
// the last four uintptr slots are padding to round out the 128 bytes.
type TrapFrame [TrapFrameSize / 8]uintptr

// GetTrapVectorAddr mirrors GetForkretAddr in proc.go: the address of the
// assembly trap vector, handed back by an externally implemented helper
// since Go code has no portable way to take it directly.
//
//go:linkname getTrapVectorAddr_hw GetTrapVectorAddr
func getTrapVectorAddr_hw() uintptr

var GetTrapVectorAddr = getTrapVectorAddr_hw

// bootTrapFrame is the one trap frame this kernel needs: traps never nest
// (MIE is the single global gate, spec.md §5) and there is exactly one
// hart, so a single shared buffer referenced through mscratch suffices.
var bootTrapFrame TrapFrame

// TrapCore implements the dispatcher half of spec.md §4.C: everything
// after the assembly vector has saved the frame and before it restores it
// and mrets.
type TrapCore struct {
	sched    *Scheduler
	plic     *PLICController
	blk      *BlockDevice
	uart     *UART
	syscalls *SyscallLayer
}

// theTrapCore lets Kerneltrap -- exported with no parameters, called
// directly by the assembly vector -- reach the kernel world, the same way
// theScheduler lets forkret do it.
var theTrapCore *TrapCore

// newTrapCore installs the trap vector immediately (spec.md §2's boot
// sequence runs trap_init right after UART, well before the scheduler,
// block driver, or filesystem exist) and returns a TrapCore whose dispatch
// fields are still nil. wire attaches them once those subsystems are built;
// Kerneltrap is never reached before then, since interrupts stay masked
// until run()'s intr_on().
func newTrapCore() *TrapCore {
	t := &TrapCore{}
	theTrapCore = t
	t.trapinithart()
	return t
}

// wire attaches the subsystems Kerneltrap's dispatch needs. trap_init
// proper (mtvec/mscratch/timer) already happened in newTrapCore and needs
// none of them.
func (t *TrapCore) wire(sched *Scheduler, plic *PLICController, blk *BlockDevice, uart *UART, syscalls *SyscallLayer) {
	t.sched = sched
	t.plic = plic
	t.blk = blk
	t.uart = uart
	t.syscalls = syscalls
}

// trapinithart writes mtvec in direct mode (low two bits clear), points
// mscratch at the single shared trap frame, and arms the first timer
// interrupt (spec.md §4.C).
func (t *TrapCore) trapinithart() {
	w_mtvec(GetTrapVectorAddr() &^ uintptr(3))
	w_mscratch(uintptr(unsafe.Pointer(&bootTrapFrame)))
	w_mtimecmp(0, r_mtime()+uint64(Quantum))
	logInfo("trap: vector installed")
}

// Kerneltrap is the Go-side dispatcher every trap lands in after the
// assembly vector saves the frame (spec.md §4.C's DISPATCH state). It has
// no parameters -- the vector calls it directly, the same shape as the
// teacher's own exported Kerneltrap -- and reaches the frame through
// mscratch and the kernel world through theTrapCore.
//
//go:nosplit
//export Kerneltrap
func Kerneltrap() {
	t := theTrapCore
	tf := (*TrapFrame)(unsafe.Pointer(r_mscratch()))

	cause := r_mcause()
	mepc := r_mepc()

	if mcauseIsInterrupt(cause) {
		t.dispatchInterrupt(mcauseCode(cause))
		return
	}

	switch mcauseCode(cause) {
	case excEcallU, excEcallM:
		mepc = t.dispatchEcall(tf, mepc)
		w_mepc(mepc)
	default:
		t.dispatchException(mcauseCode(cause), mepc)
	}
}

// dispatchInterrupt handles the two interrupt sources this kernel cares
// about (spec.md §4.C): the machine timer, which reprograms mtimecmp and
// reschedules, and machine external, which claims from the PLIC and routes
// to the block or UART ISR. Anything else is logged and the hart halts.
func (t *TrapCore) dispatchInterrupt(code uintptr) {
	switch code {
	case intrMachineTimer:
		w_mtimecmp(0, r_mtime()+uint64(Quantum))
		t.sched.schedule()
	case intrMachineExternal:
		irq := t.plic.plicClaim()
		if irq == 0 {
			return
		}
		switch {
		case irq >= VIRTIO0IRQlo && irq <= VIRTIO0IRQhi:
			t.blk.blkIntr()
		case irq == UART0IRQ:
			t.uart.uartIntr()
		default:
			logError("trap: unknown external IRQ")
		}
		t.plic.plicComplete(irq)
	default:
		logError("trap: unexpected interrupt code")
		for {
			wfi()
		}
	}
}

// dispatchEcall mirrors the trap frame into the current PCB's RegState
// (so a fork from inside this syscall observes live state, spec.md §4.C),
// decodes the syscall number and arguments, and returns the mepc the
// vector should resume at, which is always mepc+4. A successful exec does
// not rewrite mepc: it switches cur into a fresh context via
// execReplaceImage, and dispatchEcall returns only if that switch does.
func (t *TrapCore) dispatchEcall(tf *TrapFrame, mepc uintptr) uintptr {
	cur := t.sched.current
	if cur != nil {
		mirrorFrame(cur, tf, mepc)
	}

	num := int64(tf[tfA7])
	a0, a1, a2, a3, a4, a5 := tf[tfA0], tf[tfA1], tf[tfA2], tf[tfA3], tf[tfA4], tf[tfA5]

	if num == SysExec {
		if entry, ok := t.syscalls.sysExecLookup(a0); ok && cur != nil {
			// There is no raw program-counter to rewrite in this kernel's
			// Go-closure dispatch model (spec.md §4.C's "mepc rewritten to
			// entry" is realized here as a context switch instead, since
			// Go offers no portable way to retarget a live call stack's
			// return address): discard the ecall caller's frame entirely
			// and switch cur into a freshly reset context that lands in
			// forkret for the new program, exactly as a brand new PCB
			// would. This never returns on real hardware -- the assembly
			// vector's restore-frame-and-mret for *this* trap never runs,
			// which is fine since forkret itself re-enables interrupts and
			// never returns either. A host test's faked switch_context does
			// return, though, so the success path must not fall through
			// into the failure return below: a0 has to stay 0 per spec.md
			// §8 property 8, not get clobbered with -1.
			execReplaceImage(t.sched, cur, entry)
			return mepc + 4
		}
		negOne := int64(-1)
		tf[tfA0] = uintptr(negOne)
		if cur != nil {
			cur.Regstat.X10 = tf[tfA0]
		}
		return mepc + 4
	}

	ret := t.syscalls.run(num, a0, a1, a2, a3, a4, a5, mepc)
	tf[tfA0] = uintptr(ret)
	if cur != nil {
		cur.Regstat.X10 = tf[tfA0]
		cur.Regstat.Sepc = mepc + 4
	}
	return mepc + 4
}

// mirrorFrame copies the trap frame's caller-saved slots into cur's
// RegState, along with the pre-trap sp (frame pointer + 128, i.e. what sp
// was before the vector pushed the frame) and pre-trap mstatus, per
// spec.md §4.C.
func mirrorFrame(cur *PCB, tf *TrapFrame, mepc uintptr) {
	cur.Regstat.X1 = tf[tfRa]
	cur.Regstat.X5 = tf[tfT0]
	cur.Regstat.X6 = tf[tfT1]
	cur.Regstat.X7 = tf[tfT2]
	cur.Regstat.X10 = tf[tfA0]
	cur.Regstat.X11 = tf[tfA1]
	cur.Regstat.X12 = tf[tfA2]
	cur.Regstat.X13 = tf[tfA3]
	cur.Regstat.X14 = tf[tfA4]
	cur.Regstat.X15 = tf[tfA5]
	cur.Regstat.X16 = tf[tfA6]
	cur.Regstat.X17 = tf[tfA7]
	cur.Regstat.Sp = uintptr(unsafe.Pointer(tf)) + TrapFrameSize
	cur.Regstat.Sepc = mepc
	cur.Regstat.Mstatus = r_mstatus()
}

// dispatchException terminates the current process for any exception this
// kernel does not special-case (illegal instruction, misalignment, access
// or page faults, breakpoint); with no current process, the hart halts
// (spec.md §4.C).
func (t *TrapCore) dispatchException(code, mepc uintptr) {
	logError("trap: exception, terminating process")
	if t.sched.current == nil {
		for {
			wfi()
		}
	}
	t.sched.procExit()
}

// execReplaceImage resets cur to a freshly created process's initial
// context targeting entry, unmaps and frees any existing user heap (a
// fresh program image starts with brk_size 0, same as proc_create), and
// switches into it immediately. See the call site in dispatchEcall for why
// this, not a mepc rewrite, is how this kernel's exec works.
func execReplaceImage(sched *Scheduler, cur *PCB, entry uintptr) {
	if cur.BrkBase != 0 && cur.BrkSize > 0 {
		pages := (cur.BrkSize + PGSIZE - 1) / PGSIZE
		for i := uintptr(0); i < pages; i++ {
			sched.vmm.vmmUnmap(cur.BrkBase+i*PGSIZE, true)
		}
	}
	// sp carries forward unchanged (spec.md §8 property 8): the original's
	// SYS_EXEC handler only ever rewrites mepc/a0/a1 and returns through the
	// ordinary trap-return path, never touching sp
	// (original_source/kernel/trap/trap.c's SYS_EXEC case), so exec must
	// leave the caller's stack pointer exactly where it was.
	prevSp := cur.Regstat.Sp
	cur.Entrypoint = entry
	cur.BrkBase = 0
	cur.BrkSize = 0
	cur.Regstat = RegState{
		X1:      GetForkretAddr(),
		Sp:      prevSp,
		Mstatus: MSTATUS_MPP_M | MSTATUS_MPIE,
	}

	var discarded RegState
	switch_context(&discarded, &cur.Regstat)
}
