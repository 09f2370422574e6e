package main

import (
	"testing"
	"unsafe"
)

// testFixture builds a Scheduler backed by ordinary Go memory: a
// PageAllocator over a byte arena standing in for physical RAM, and a VMM
// whose root table exists but carries none of the real identity ranges
// (those only matter once a process actually touches its heap, which the
// scheduler-bookkeeping tests below never do).
func testFixture(t *testing.T, pages int) *Scheduler {
	t.Helper()
	buf := make([]byte, (pages+2)*int(PGSIZE))
	t.Cleanup(func() { _ = buf[0] })
	base := (uintptr(unsafe.Pointer(&buf[0])) + PGSIZE - 1) &^ (PGSIZE - 1)

	alloc := &PageAllocator{}
	alloc.kinit(base, base+uintptr(pages)*PGSIZE)

	v := &VMM{}
	if err := v.core.VmmInit(&alloc.core, nil, heapBase(0)); err != nil {
		t.Fatalf("VmmInit: %v", err)
	}

	programs := newProgramTable()
	s := newScheduler(alloc, v, programs)
	if err := s.schedulerInit(); err != nil {
		t.Fatalf("schedulerInit: %v", err)
	}
	return s
}

func TestProcCreateEnqueuesReady(t *testing.T) {
	s := testFixture(t, 64)
	token := s.programs.register("noop", func() {})

	p, err := s.procCreate("noop", token, 5)
	if err != nil {
		t.Fatalf("procCreate: %v", err)
	}
	if p.State != READY {
		t.Fatalf("new process state = %v, want READY", p.State)
	}
	if p.Pid == 0 {
		t.Fatal("procCreate assigned pid 0, which is reserved for idle")
	}
	if s.readyQueue.count != 1 {
		t.Fatalf("readyQueue.count = %d, want 1", s.readyQueue.count)
	}
}

func TestProcCreateAssignsDistinctPids(t *testing.T) {
	s := testFixture(t, 64)
	token := s.programs.register("noop", func() {})

	seen := map[int]bool{}
	for i := 0; i < 5; i++ {
		p, err := s.procCreate("noop", token, 0)
		if err != nil {
			t.Fatalf("procCreate #%d: %v", i, err)
		}
		if seen[p.Pid] {
			t.Fatalf("pid %d issued twice", p.Pid)
		}
		seen[p.Pid] = true
	}
}

func TestHasChildReflectsReadyBlockedAndZombie(t *testing.T) {
	s := testFixture(t, 64)
	token := s.programs.register("noop", func() {})

	if s.hasChild(1) {
		t.Fatal("hasChild(1) true before any child exists")
	}

	child, err := s.procCreate("noop", token, 0)
	if err != nil {
		t.Fatalf("procCreate: %v", err)
	}
	child.Ppid = 1
	if !s.hasChild(1) {
		t.Fatal("hasChild(1) false with a ready child present")
	}

	s.readyQueue.removeByPid(child.Pid)
	s.blocked.push(child)
	if !s.hasChild(1) {
		t.Fatal("hasChild(1) false with a blocked child present")
	}

	s.blocked.remove(func(p *PCB) bool { return p.Pid == child.Pid })
	s.zombies.push(child)
	if !s.hasChild(1) {
		t.Fatal("hasChild(1) false with a zombie child present")
	}
}

func TestProcWaitAndReapNoChildren(t *testing.T) {
	s := testFixture(t, 64)
	token := s.programs.register("noop", func() {})
	cur, err := s.procCreate("noop", token, 0)
	if err != nil {
		t.Fatalf("procCreate: %v", err)
	}
	s.readyQueue.removeByPid(cur.Pid)
	cur.State = RUNNING
	s.current = cur

	if _, err := s.procWaitAndReap(); err != ErrNoChild {
		t.Fatalf("procWaitAndReap() with no children = %v, want ErrNoChild", err)
	}
}

func TestProcWaitAndReapReapsExistingZombie(t *testing.T) {
	s := testFixture(t, 64)
	token := s.programs.register("noop", func() {})

	parent, err := s.procCreate("parent", token, 0)
	if err != nil {
		t.Fatalf("procCreate(parent): %v", err)
	}
	s.readyQueue.removeByPid(parent.Pid)
	parent.State = RUNNING
	s.current = parent

	child, err := s.procCreate("child", token, 0)
	if err != nil {
		t.Fatalf("procCreate(child): %v", err)
	}
	s.readyQueue.removeByPid(child.Pid)
	child.Ppid = parent.Pid
	child.State = TERMINATED
	s.zombies.push(child)

	free := s.alloc.core.Free()
	pid, err := s.procWaitAndReap()
	if err != nil {
		t.Fatalf("procWaitAndReap: %v", err)
	}
	if pid != child.Pid {
		t.Fatalf("procWaitAndReap() = %d, want child pid %d", pid, child.Pid)
	}
	if got := s.alloc.core.Free(); got <= free {
		t.Fatalf("Free() after reap = %d, want more than %d (reap must free frames)", got, free)
	}
}

func TestProcExitMakesChildAZombieAndWakesParent(t *testing.T) {
	s := testFixture(t, 64)
	token := s.programs.register("noop", func() {})

	parent, err := s.procCreate("parent", token, 0)
	if err != nil {
		t.Fatalf("procCreate(parent): %v", err)
	}
	s.readyQueue.removeByPid(parent.Pid)
	parent.State = BLOCKED
	s.blocked.push(parent)

	child, err := s.procCreate("child", token, 0)
	if err != nil {
		t.Fatalf("procCreate(child): %v", err)
	}
	s.readyQueue.removeByPid(child.Pid)
	child.Ppid = parent.Pid
	child.State = RUNNING
	s.current = child

	s.procExit()

	if child.State != TERMINATED {
		t.Fatalf("exited process state = %v, want TERMINATED", child.State)
	}
	if s.zombies.head != child {
		t.Fatal("procExit did not push the exiting process onto zombies")
	}
	// procExit ends in schedule(), which dequeues the woken parent (the only
	// ready process) and makes it current.
	if s.current != parent || parent.State != RUNNING {
		t.Fatal("procExit did not wake the blocked parent and switch to it")
	}
}

func TestProcKillRefusesIdle(t *testing.T) {
	s := testFixture(t, 64)
	if err := s.procKill(s.idle.Pid); err != ErrNoSuchProc {
		t.Fatalf("procKill(idle) = %v, want ErrNoSuchProc", err)
	}
}

func TestProcKillRemovesFromReadyQueue(t *testing.T) {
	s := testFixture(t, 64)
	token := s.programs.register("noop", func() {})
	p, err := s.procCreate("noop", token, 0)
	if err != nil {
		t.Fatalf("procCreate: %v", err)
	}

	if err := s.procKill(p.Pid); err != nil {
		t.Fatalf("procKill: %v", err)
	}
	for cur := s.readyQueue.head; cur != nil; cur = cur.next {
		if cur.Pid == p.Pid {
			t.Fatal("procKill left the process on readyQueue")
		}
	}
	if err := s.procKill(p.Pid); err != ErrNoSuchProc {
		t.Fatalf("procKill(already-dead pid) = %v, want ErrNoSuchProc", err)
	}
}

// TestScheduleRoundRobin exercises schedule()'s queue bookkeeping (spec.md
// §4.D, testable property 6): with one ready process and a running
// current, one schedule() call must move current to the back of the ready
// queue and promote the process that was at the front.
func TestScheduleRoundRobin(t *testing.T) {
	s := testFixture(t, 64)
	token := s.programs.register("noop", func() {})

	a, _ := s.procCreate("a", token, 0)
	b, _ := s.procCreate("b", token, 0)

	s.readyQueue.removeByPid(a.Pid)
	a.State = RUNNING
	s.current = a

	s.schedule()

	if s.current != b {
		t.Fatalf("schedule() picked pid %d, want b's pid %d", s.current.Pid, b.Pid)
	}
	if s.current.State != RUNNING {
		t.Fatalf("new current state = %v, want RUNNING", s.current.State)
	}
	foundA := false
	for p := s.readyQueue.head; p != nil; p = p.next {
		if p == a {
			foundA = true
		}
	}
	if !foundA {
		t.Fatal("schedule() did not re-enqueue the preempted process")
	}
	if a.State != READY {
		t.Fatalf("preempted process state = %v, want READY", a.State)
	}
}

func TestScheduleFallsBackToIdle(t *testing.T) {
	s := testFixture(t, 64)
	token := s.programs.register("noop", func() {})
	a, _ := s.procCreate("a", token, 0)
	s.readyQueue.removeByPid(a.Pid)
	a.State = TERMINATED
	s.current = a

	s.schedule()

	if s.current != s.idle {
		t.Fatalf("schedule() with nothing ready picked pid %d, want idle", s.current.Pid)
	}
}
