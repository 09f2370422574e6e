package main

import _ "unsafe"

// get_end is provided by the linker script, same as the teacher's
// kernel/kalloc.go: the first byte past the kernel's text/data/bss, and
// therefore the first byte the page allocator may hand out.
//
//go:linkname get_end_hw get_end
func get_end_hw() uintptr

var get_end = get_end_hw

// Kernel is the "kernel world" spec.md §9's design notes ask for: every
// subsystem this repo's boot sequence creates, held in one value and
// threaded explicitly into the trap core and syscall layer, instead of the
// scattered package globals the teacher's kernel/proc.go and kernel/vm.go
// use (`proc`, `current_proc`, `kernel_pagetable`, `kmem`). Two narrow
// exceptions (theScheduler, theTrapCore) exist only because the assembly
// boundary calls into forkret/Kerneltrap with no arguments at all; see
// their doc comments in proc.go/trap.go.
type Kernel struct {
	alloc    *PageAllocator
	vmm      *VMM
	programs *ProgramTable
	fs       *FileSystem
	blk      *BlockDevice
	uart     *UART
	plic     *PLICController
	sched    *Scheduler
	syscalls *SyscallLayer
	trap     *TrapCore
}

// bootKernel runs the boot sequence spec.md §2 specifies up to the shell:
// UART -> trap_init -> PLIC init -> page allocator init -> VMM
// init/activation -> scheduler init -> block driver init -> filesystem
// init -> create shell PCB. The last two steps, enable interrupts and the
// idle loop, are run's.
func bootKernel() *Kernel {
	k := &Kernel{}

	k.programs = newProgramTable()

	k.uart = newUART(nil) // sched wired in below, after newScheduler
	k.uart.uartInit()

	k.trap = newTrapCore()

	k.plic = newPLIC()
	k.plic.plicInit()

	k.alloc = &PageAllocator{}
	logInfo("kalloc: init")
	k.alloc.kinit(get_end(), PHYSTOP)

	k.vmm = &VMM{}
	if err := k.vmm.vmmInit(k.alloc); err != nil {
		logError(err.Error())
		panic("bootKernel: vmm init failed")
	}
	k.vmm.vmmActivate()

	k.sched = newScheduler(k.alloc, k.vmm, k.programs)
	k.uart.sched = k.sched

	if err := k.sched.schedulerInit(); err != nil {
		logError(err.Error())
		panic("bootKernel: scheduler init failed")
	}

	k.blk = newBlockDevice(k.alloc)
	if err := k.blk.blkInit(VirtioLegacy); err != nil {
		logError(err.Error())
	}

	k.fs = newFileSystem(k.blk, k.programs)
	if err := k.fs.fsInit(); err != nil {
		logError(err.Error())
	}

	registerShellPrograms(k.fs)

	k.syscalls = newSyscallLayer(k.sched, k.uart, k.fs)
	k.trap.wire(k.sched, k.plic, k.blk, k.uart, k.syscalls)

	shellEntry, _ := k.fs.fsLookup("shell")
	if _, err := k.sched.procCreate("shell", shellEntry, 1); err != nil {
		logError(err.Error())
		panic("bootKernel: could not create shell process")
	}

	logInfo("kernel: boot complete, entering scheduler")
	return k
}

// run does not return in practice: the single schedule() call below
// switches away from this boot call frame into whichever process -- shell
// or idle -- is runnable, via switch_context, and nothing ever switches
// back into it. The trailing wfi loop is a safety net for the one case
// that would make schedule() return here: no process at all being ready,
// which schedulerInit's creation of IDLE rules out.
func (k *Kernel) run() {
	intr_on()
	k.sched.schedule()
	for {
		wfi()
	}
}
