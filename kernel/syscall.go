package main

import "unsafe"

// Syscall numbers, read from a7 by the trap core (spec.md §4.E).
const (
	SysWrite  = 1
	SysRead   = 2
	SysExit   = 3
	SysGetpid = 4
	SysFork   = 5
	SysWait   = 6
	SysExec   = 7
	SysSbrk   = 8
	SysPs     = 9
	SysKill   = 10
)

// SyscallLayer decodes a numbered syscall from the trap frame, validates
// arguments, invokes the right core operation, and returns the 64-bit
// value the trap core writes back into a0 (spec.md §4.E). Exec is not
// dispatched through run: its entry-lookup is exposed separately
// (sysExecLookup) because on success the trap core replaces the caller's
// image via execReplaceImage instead of writing a return value into a0.
type SyscallLayer struct {
	sched *Scheduler
	uart  *UART
	fs    *FileSystem
}

func newSyscallLayer(sched *Scheduler, uart *UART, fs *FileSystem) *SyscallLayer {
	return &SyscallLayer{sched: sched, uart: uart, fs: fs}
}

// run dispatches every syscall number except SysExec, which the trap core
// handles specially via sysExecLookup. mepc is needed only by SysFork.
func (sc *SyscallLayer) run(num int64, a0, a1, a2, a3, a4, a5 uintptr, mepc uintptr) int64 {
	switch num {
	case SysWrite:
		return sc.sysWrite(a0, a1)
	case SysRead:
		return sc.sysRead(a0, a1)
	case SysExit:
		sc.sched.procExit()
		return 0 // not reached
	case SysGetpid:
		return sc.sysGetpid()
	case SysFork:
		return sc.sysFork(mepc)
	case SysWait:
		return sc.sysWait()
	case SysSbrk:
		return sc.sysSbrk(a0)
	case SysPs:
		return sc.sysPs()
	case SysKill:
		return sc.sysKill(a0)
	default:
		logError("syscall: unknown number")
		return -1
	}
}

// sysWrite writes n bytes from a user buffer (identity-mapped, so buf is
// usable directly -- spec.md's Non-goals exclude cross-privilege MMU
// enforcement) to the UART, and returns the count written.
func (sc *SyscallLayer) sysWrite(bufVA, n uintptr) int64 {
	buf := unsafe.Slice((*byte)(unsafe.Pointer(bufVA)), int(n))
	for _, b := range buf {
		uart_putc(b)
	}
	return int64(n)
}

// sysRead blocks for up to n bytes from the UART into a user buffer,
// returning the count actually read.
func (sc *SyscallLayer) sysRead(bufVA, n uintptr) int64 {
	buf := unsafe.Slice((*byte)(unsafe.Pointer(bufVA)), int(n))
	i := 0
	for i < len(buf) {
		buf[i] = sc.uart.uartGetcBlocking()
		i++
		if buf[i-1] == '\n' || buf[i-1] == '\r' {
			break
		}
	}
	return int64(i)
}

func (sc *SyscallLayer) sysGetpid() int64 {
	if sc.sched.current == nil {
		return -1
	}
	return int64(sc.sched.current.Pid)
}

func (sc *SyscallLayer) sysFork(mepc uintptr) int64 {
	child, err := sc.sched.procFork(mepc)
	if err != nil {
		return -1
	}
	return int64(child.Pid)
}

func (sc *SyscallLayer) sysWait() int64 {
	pid, err := sc.sched.procWaitAndReap()
	if err != nil {
		return -1
	}
	return int64(pid)
}

// sysExecLookup backs syscall 7 for the trap core directly (spec.md §4.C,
// §4.E): on success the trap dispatcher passes the returned entry to
// execReplaceImage, which resets the caller's context (a0/a1 zero) and
// switches into it; mepc is not rewritten and run/a0 is not used.
func (sc *SyscallLayer) sysExecLookup(nameVA uintptr) (uintptr, bool) {
	name := cStringAt(nameVA)
	if entry, ok := sc.fs.fsLookup(name); ok {
		return entry, true
	}
	return 0, false
}

// sysSbrk grows the caller's heap by n bytes, one page at a time, via
// vmm_map_page, and returns the old break (spec.md §4.D/§4.E). BrkSize is
// kept rounded up to whole pages, and a request that would take the heap
// past its PER_PROC_HEAP window returns -1.
func (sc *SyscallLayer) sysSbrk(n uintptr) int64 {
	cur := sc.sched.current
	if cur == nil {
		return -1
	}
	old := cur.BrkBase + cur.BrkSize
	if cur.BrkBase == 0 {
		cur.BrkBase = heapBase(cur.Pid)
		old = cur.BrkBase
	}

	newSize := cur.BrkSize + n
	oldPages := (cur.BrkSize + PGSIZE - 1) / PGSIZE
	newPages := (newSize + PGSIZE - 1) / PGSIZE
	if newPages*PGSIZE > PER_PROC_HEAP {
		return -1
	}

	for i := oldPages; i < newPages; i++ {
		va := cur.BrkBase + i*PGSIZE
		if err := sc.sched.vmm.vmmMapPage(va, FLAG_RW|FLAG_USER); err != nil {
			return -1
		}
	}
	cur.BrkSize = newPages * PGSIZE
	return int64(old)
}

func (sc *SyscallLayer) sysPs() int64 {
	sc.sched.procDump()
	return 0
}

func (sc *SyscallLayer) sysKill(pid uintptr) int64 {
	if err := sc.sched.procKill(int(int64(pid))); err != nil {
		return -1
	}
	return 0
}

// cStringAt reads a NUL-terminated string out of identity-mapped memory at
// va; used only by exec, whose argument is a program name.
func cStringAt(va uintptr) string {
	if va == 0 {
		return ""
	}
	n := 0
	for *(*byte)(unsafe.Pointer(va + uintptr(n))) != 0 {
		n++
		if n > 255 {
			break
		}
	}
	buf := unsafe.Slice((*byte)(unsafe.Pointer(va)), n)
	return string(buf)
}
