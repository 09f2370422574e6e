package main

import "unsafe"

// do_syscall is the one piece of the user-program syscall stub that must
// be real assembly (spec.md §9's assembly boundary, same category as
// switch_context/GetForkretAddr): it loads num into a7, the six arguments
// into a0-a5, executes ecall, and returns whatever the trap core wrote
// back into a0. This stands in for the per-syscall `li a7, N; ecall; ret`
// stubs xv6's usys.S generates one of per syscall number; here one generic
// trampoline suffices since Go can pass num as a normal argument.
//
//go:linkname do_syscall_hw do_syscall
func do_syscall_hw(num int64, a0, a1, a2, a3, a4, a5 uintptr) int64

var do_syscall = do_syscall_hw

func write(buf []byte) int64 {
	if len(buf) == 0 {
		return 0
	}
	return do_syscall(SysWrite, uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)), 0, 0, 0, 0)
}

func writeString(s string) int64 {
	return write([]byte(s))
}

func read(buf []byte) int64 {
	if len(buf) == 0 {
		return 0
	}
	return do_syscall(SysRead, uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)), 0, 0, 0, 0)
}

func sysExit() {
	do_syscall(SysExit, 0, 0, 0, 0, 0, 0)
}

func getpid() int64 {
	return do_syscall(SysGetpid, 0, 0, 0, 0, 0, 0)
}

func fork() int64 {
	return do_syscall(SysFork, 0, 0, 0, 0, 0, 0)
}

func wait() int64 {
	return do_syscall(SysWait, 0, 0, 0, 0, 0, 0)
}

func exec(name string) int64 {
	buf := append([]byte(name), 0)
	return do_syscall(SysExec, uintptr(unsafe.Pointer(&buf[0])), 0, 0, 0, 0, 0)
}

func sbrk(n uintptr) uintptr {
	return uintptr(do_syscall(SysSbrk, n, 0, 0, 0, 0, 0))
}

func ps() int64 {
	return do_syscall(SysPs, 0, 0, 0, 0, 0, 0)
}

func kill(pid int) int64 {
	return do_syscall(SysKill, uintptr(pid), 0, 0, 0, 0, 0)
}
