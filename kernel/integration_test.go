package main

import (
	"testing"
	"unsafe"
)

// heapByte reads or writes one byte of a process's mapped heap page by
// translating va through the VMM first: va itself (heapBase's fixed
// qemu-address-shaped constant) is never a valid host pointer on its own,
// only the physical frame VmmMapPage actually backed it with is, the same
// way real hardware only makes va dereferenceable once satp routes it
// through the page table.
func heapByte(t *testing.T, s *Scheduler, va uintptr) *byte {
	t.Helper()
	pa, err := s.vmm.vmmTranslate(va)
	if err != nil {
		t.Fatalf("vmmTranslate(%#x): %v", va, err)
	}
	return (*byte)(unsafe.Pointer(pa))
}

// TestForkDuplicatesHeapIntoChild exercises the fork-with-heap path of
// spec.md §4.D: a parent that has called sbrk gets its heap pages copied,
// not shared, into the child at the child's own deterministic heapBase.
func TestForkDuplicatesHeapIntoChild(t *testing.T) {
	sc, s := newTestSyscallLayer(t, 256)
	token := s.programs.register("noop", func() {})
	parent, err := s.procCreate("parent", token, 0)
	if err != nil {
		t.Fatalf("procCreate: %v", err)
	}
	s.readyQueue.removeByPid(parent.Pid)
	s.current = parent

	sc.sysSbrk(10)
	marker := byte(0x42)
	*heapByte(t, s, parent.BrkBase) = marker

	child, err := s.procFork(0)
	if err != nil {
		t.Fatalf("procFork: %v", err)
	}
	if child.BrkBase == parent.BrkBase {
		t.Fatalf("child heap base %#x collides with parent's", child.BrkBase)
	}
	if child.BrkSize != parent.BrkSize {
		t.Fatalf("child BrkSize = %d, want parent's %d", child.BrkSize, parent.BrkSize)
	}
	if got := *heapByte(t, s, child.BrkBase); got != marker {
		t.Fatalf("child heap byte 0 = %#x, want copied parent value %#x", got, marker)
	}

	// Writing through the child's heap must not affect the parent's frame.
	*heapByte(t, s, child.BrkBase) = 0x99
	if got := *heapByte(t, s, parent.BrkBase); got != marker {
		t.Fatalf("parent heap byte 0 changed to %#x after writing the child's copy", got)
	}
}

// TestExitWaitLifecycleAcrossTwoChildren exercises spec.md §8 property 5: a
// parent forks two children, each exits, and two wait() calls reap exactly
// those two pids with no leaked PCB pages.
func TestExitWaitLifecycleAcrossTwoChildren(t *testing.T) {
	sc, s := newTestSyscallLayer(t, 256)
	token := s.programs.register("noop", func() {})

	parent, err := s.procCreate("parent", token, 0)
	if err != nil {
		t.Fatalf("procCreate(parent): %v", err)
	}
	s.readyQueue.removeByPid(parent.Pid)
	s.current = parent

	freeBeforeChildren := s.alloc.core.Free()

	var childPids [2]int
	for i := range childPids {
		s.current = parent
		child, err := s.procFork(0)
		if err != nil {
			t.Fatalf("procFork #%d: %v", i, err)
		}
		childPids[i] = child.Pid
		s.readyQueue.removeByPid(child.Pid)
		s.current = child
		sc.sched.procExit()
	}

	s.current = parent
	seen := map[int]bool{}
	for i := 0; i < 2; i++ {
		pid := sc.sysWait()
		if pid < 0 {
			t.Fatalf("sysWait() #%d failed", i)
		}
		seen[int(pid)] = true
	}
	for _, pid := range childPids {
		if !seen[pid] {
			t.Fatalf("child pid %d was never reaped", pid)
		}
	}
	if _, err := s.procWaitAndReap(); err != ErrNoChild {
		t.Fatalf("procWaitAndReap() after both children reaped = %v, want ErrNoChild", err)
	}
	if got := s.alloc.core.Free(); got != freeBeforeChildren {
		t.Fatalf("Free() after both children reaped = %d, want back to %d (leak)", got, freeBeforeChildren)
	}
}
