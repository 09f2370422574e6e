package main

import "unsafe"

// switch_context is the irreducible assembly boundary (spec.md §9) that
// saves the callee-saved register set (ra, sp, s0-s11) out of *old and
// restores the same set from *next, returning into whatever *next.X1 was
// left pointing at. It is declared exactly the way the teacher's
// kernel/proc.go declares `swtch`, and GetForkretAddr mirrors
// GetTaskStubAddr: a tiny externally-implemented helper that hands back the
// address of a Go-side entry function, since this package has no portable
// way to take a function's address directly.
//
//go:linkname switch_context_hw switch_context
func switch_context_hw(old, next *RegState)

var switch_context = switch_context_hw

//go:linkname getForkretAddr_hw GetForkretAddr
func getForkretAddr_hw() uintptr

var GetForkretAddr = getForkretAddr_hw

// theScheduler lets forkret -- which, like the teacher's exported TaskStub,
// is called from outside this package's normal call graph and so can take
// no arguments -- reach the kernel world. Every other operation in this
// file threads *Scheduler explicitly; this is the one unavoidable
// exception, same as the teacher's own reliance on the package-level
// `current_proc` inside TaskStub.
var theScheduler *Scheduler

// forkret is the first return address of every freshly created PCB. It
// re-enables interrupts, runs the process's registered entry function, and
// falls through to procExit if that function ever returns -- matching the
// teacher's TaskStub (release lock; intr_on(); current_proc.task(); ...)
// with procExit standing in for TaskStub's terminal panic.
//
//go:nosplit
//export forkret
func forkret() {
	s := theScheduler
	cur := s.current
	fn := s.programs.call(cur.Entrypoint)
	intr_on()
	if fn != nil {
		fn()
	}
	s.procExit()
}

// Scheduler owns the process lifecycle and the ready/blocked/zombie sets
// (spec.md §4.D). It is the "kernel world" value spec.md §9's design notes
// ask for: every piece of shared, process-wide state (queues, current,
// next_pid) lives here and is threaded explicitly into every operation,
// rather than as package-level globals the way the teacher's kernel/proc.go
// keeps `proc`, `current_proc`.
type Scheduler struct {
	alloc    *PageAllocator
	vmm      *VMM
	programs *ProgramTable

	readyQueue procQueue
	blocked    procList
	zombies    procList

	current *PCB
	idle    *PCB

	nextPid int

	bootCtx RegState // transient context used for the very first switch
}

func newScheduler(alloc *PageAllocator, vmm *VMM, programs *ProgramTable) *Scheduler {
	s := &Scheduler{alloc: alloc, vmm: vmm, programs: programs, nextPid: 1}
	theScheduler = s
	return s
}

func (s *Scheduler) newPCB(name string, entry uintptr, priority int) (*PCB, *Error) {
	page, err := s.alloc.kallocZero()
	if err != nil {
		return nil, err
	}
	pcb := (*PCB)(unsafe.Pointer(page))
	*pcb = PCB{}
	pcb.setName(name)
	pcb.State = READY
	pcb.Priority = priority
	pcb.Entrypoint = entry

	stk, err := s.alloc.kalloc()
	if err != nil {
		s.alloc.kfree(page)
		return nil, err
	}
	pcb.Stacktop = stk + PGSIZE

	pcb.Regstat.X1 = GetForkretAddr()
	pcb.Regstat.Sp = pcb.Stacktop
	pcb.Regstat.Mstatus = MSTATUS_MPP_M | MSTATUS_MPIE

	return pcb, nil
}

// schedulerInit registers and creates the idle process, pid 0, which never
// sits on readyQueue; schedule() falls back to it whenever nothing else is
// runnable.
func (s *Scheduler) schedulerInit() *Error {
	logInfo("scheduler: init")
	token := s.programs.register("idle", idleLoop)
	idle, err := s.newPCB("IDLE", token, 0)
	if err != nil {
		return err
	}
	idle.Pid = 0
	s.idle = idle
	logInfo("scheduler: idle process ready")
	return nil
}

// idleLoop never returns: wfi until the next timer or external interrupt.
func idleLoop() {
	for {
		wfi()
	}
}

// procCreate allocates a PCB, a kernel stack, and enqueues the new process
// on readyQueue (spec.md §4.D "Creation"). entry is a token previously
// returned by ProgramTable.register/lookup.
func (s *Scheduler) procCreate(name string, entry uintptr, priority int) (*PCB, *Error) {
	pcb, err := s.newPCB(name, entry, priority)
	if err != nil {
		return nil, err
	}
	var pid int
	critical(func() {
		pid = s.nextPid
		s.nextPid++
		s.readyQueue.enqueue(pcb)
	})
	pcb.Pid = pid
	return pcb, nil
}

// freePCBResources frees a PCB's kernel stack, unmaps and frees its user
// heap pages (if any), and frees the PCB page itself. Must never be called
// on the currently running process.
func (s *Scheduler) freePCBResources(p *PCB) {
	stackBase := p.Stacktop - PGSIZE
	s.alloc.kfree(stackBase)

	if p.BrkBase != 0 && p.BrkSize > 0 {
		pages := (p.BrkSize + PGSIZE - 1) / PGSIZE
		for i := uintptr(0); i < pages; i++ {
			s.vmm.vmmUnmap(p.BrkBase+i*PGSIZE, true)
		}
	}

	s.alloc.kfree(uintptr(unsafe.Pointer(p)))
}

// procFork duplicates the caller into a new child PCB, copying register
// state, stack, and (if present) the user heap (spec.md §4.D "Fork"). mepc
// is the trapped pc read out of the parent's mepc at the ecall site; the
// child resumes at mepc+4, the instruction after the ecall, exactly as the
// parent itself will once the trap returns.
func (s *Scheduler) procFork(mepc uintptr) (*PCB, *Error) {
	var result *PCB
	var ferr *Error

	critical(func() {
		parent := s.current
		if parent == nil {
			ferr = ErrForkFailed
			return
		}

		childPage, err := s.alloc.kallocZero()
		if err != nil {
			ferr = err
			return
		}
		child := (*PCB)(unsafe.Pointer(childPage))
		*child = PCB{}
		child.Pid = s.nextPid
		s.nextPid++
		child.State = READY
		child.Priority = parent.Priority
		child.Entrypoint = parent.Entrypoint
		child.setName(parent.NameString())
		child.Ppid = parent.Pid

		stk, err := s.alloc.kalloc()
		if err != nil {
			s.alloc.kfree(childPage)
			ferr = err
			return
		}
		memcpy(stk, parent.Stacktop-PGSIZE, PGSIZE)
		child.Stacktop = stk + PGSIZE

		child.Regstat = parent.Regstat
		spOffset := parent.Stacktop - parent.Regstat.Sp
		child.Regstat.Sp = child.Stacktop - spOffset
		child.Regstat.X10 = 0 // a0 = 0 in the child
		child.Regstat.Sepc = mepc + 4

		if parent.BrkBase != 0 && parent.BrkSize > 0 {
			child.BrkBase = heapBase(child.Pid)
			child.BrkSize = parent.BrkSize

			pages := (parent.BrkSize + PGSIZE - 1) / PGSIZE
			var mapped uintptr
			for i := uintptr(0); i < pages; i++ {
				cva := child.BrkBase + i*PGSIZE
				pva := parent.BrkBase + i*PGSIZE
				if err := s.vmm.vmmMapPage(cva, FLAG_RW|FLAG_USER); err != nil {
					for j := uintptr(0); j < mapped; j++ {
						s.vmm.vmmUnmap(child.BrkBase+j*PGSIZE, true)
					}
					s.alloc.kfree(child.Stacktop - PGSIZE)
					s.alloc.kfree(childPage)
					ferr = err
					return
				}
				mapped++
				memcpy(cva, pva, PGSIZE)
			}
		}

		s.readyQueue.enqueue(child)
		result = child
	})

	return result, ferr
}

// procDump writes the process table to the console; backs syscall 9 (ps).
func (s *Scheduler) procDump() {
	printString("==== process table ====\n")
	if s.current != nil {
		dumpOne("current", s.current)
	}
	if s.idle != nil {
		dumpOne("idle", s.idle)
	}
	for p := s.readyQueue.head; p != nil; p = p.next {
		dumpOne("ready", p)
	}
	s.blocked.each(func(p *PCB) { dumpOne("blocked", p) })
	s.zombies.each(func(p *PCB) { dumpOne("zombie", p) })
}

func dumpOne(tag string, p *PCB) {
	printString(tag)
	printString(" pid=")
	printInt(p.Pid)
	printString(" state=")
	printString(p.State.String())
	printString(" name=")
	printString(p.NameString())
	printString("\n")
}

// hasChild reports whether any process known to the scheduler -- ready,
// blocked, or zombie -- has ppid == pid.
func (s *Scheduler) hasChild(pid int) bool {
	for p := s.readyQueue.head; p != nil; p = p.next {
		if p.Ppid == pid {
			return true
		}
	}
	found := false
	s.blocked.each(func(p *PCB) {
		if p.Ppid == pid {
			found = true
		}
	})
	if found {
		return true
	}
	s.zombies.each(func(p *PCB) {
		if p.Ppid == pid {
			found = true
		}
	})
	return found
}

// procWaitAndReap scans zombies for a child of current; if found, reaps it
// and returns its pid. If current has no children at all, returns
// ErrNoChild immediately. Otherwise it blocks current and retries once
// woken by a future exit (spec.md §4.D "Exit and reaping").
func (s *Scheduler) procWaitAndReap() (int, *Error) {
	for {
		var childPid int
		var reaped bool
		var noChild bool

		critical(func() {
			cur := s.current
			if cur == nil {
				noChild = true
				return
			}
			if zombie := s.zombies.remove(func(p *PCB) bool { return p.Ppid == cur.Pid }); zombie != nil {
				childPid = zombie.Pid
				s.freePCBResources(zombie)
				reaped = true
				return
			}
			if !s.hasChild(cur.Pid) {
				noChild = true
				return
			}
			cur.State = BLOCKED
			s.blocked.push(cur)
		})

		if reaped {
			return childPid, nil
		}
		if noChild {
			return -1, ErrNoChild
		}
		s.schedule()
	}
}

// procExit terminates current: marks it TERMINATED, prepends it to
// zombies, wakes its parent if the parent is blocked in wait, schedules
// away, and never returns (spec.md §4.D "Exit and reaping").
func (s *Scheduler) procExit() {
	critical(func() {
		cur := s.current
		if cur == nil {
			return
		}
		cur.State = TERMINATED
		s.zombies.push(cur)
		logProc("exited, zombie", cur.Pid)

		if cur.Ppid != 0 {
			if parent := s.blocked.remove(func(p *PCB) bool { return p.Pid == cur.Ppid }); parent != nil {
				parent.State = READY
				s.readyQueue.enqueue(parent)
			}
		}
	})

	// schedule() switches away to some other runnable process and, on real
	// hardware, never returns here: switch_context loaded a different
	// context's saved ra/sp, so this call stack is simply abandoned, the
	// same way the teacher's scheduler() abandons TaskStub's frame. There is
	// deliberately no halt loop after this call (unlike dispatchException's
	// no-current-process case): a terminated process is never switched back
	// into, so nothing after schedule() would ever run anyway.
	s.schedule()
}

// zombiesFree reaps zombies whose ppid == 0: orphans no process will ever
// wait() for. Parented zombies are left for an explicit wait.
func (s *Scheduler) zombiesFree() {
	for {
		cur := s.zombies.remove(func(p *PCB) bool { return p.Ppid == 0 })
		if cur == nil {
			return
		}
		s.freePCBResources(cur)
	}
}

// procSuspendCurrent marks current BLOCKED and schedules away; used by the
// UART blocking-read path (spec.md §4.G).
func (s *Scheduler) procSuspendCurrent() {
	critical(func() {
		if s.current == nil || s.current == s.idle {
			return
		}
		s.current.State = BLOCKED
		s.blocked.push(s.current)
	})
	s.schedule()
}

// procWake moves a blocked PCB by pid back onto readyQueue; used by drivers
// (UART rx, block completion) to resume a process parked on an event.
func (s *Scheduler) procWake(pid int) {
	critical(func() {
		if p := s.blocked.remove(func(p *PCB) bool { return p.Pid == pid }); p != nil {
			p.State = READY
			s.readyQueue.enqueue(p)
		}
	})
}

// procKill refuses pid 0 (idle), delegates to procExit if pid is current,
// else searches ready, then blocked, then zombie, and frees the first
// match (spec.md §4.D "Kill").
func (s *Scheduler) procKill(pid int) *Error {
	if s.idle != nil && s.idle.Pid == pid {
		return ErrNoSuchProc
	}
	if s.current != nil && s.current.Pid == pid {
		s.procExit()
		return nil // not reached
	}

	killErr := ErrNoSuchProc
	critical(func() {
		if cur := s.readyQueue.removeByPid(pid); cur != nil {
			s.freePCBResources(cur)
			killErr = nil
			return
		}
		if cur := s.blocked.remove(func(p *PCB) bool { return p.Pid == pid }); cur != nil {
			s.freePCBResources(cur)
			killErr = nil
			return
		}
		if cur := s.zombies.remove(func(p *PCB) bool { return p.Pid == pid }); cur != nil {
			s.freePCBResources(cur)
			killErr = nil
			return
		}
	})
	return killErr
}

// procShutdownAll frees every PCB other than idle and current. The caller
// must already have interrupts disabled and must not call schedule
// afterward (spec.md §4.D "Shutdown").
func (s *Scheduler) procShutdownAll() {
	self := s.current

	for p := s.readyQueue.dequeue(); p != nil; p = s.readyQueue.dequeue() {
		if p != s.idle && p != self {
			s.freePCBResources(p)
		}
	}

	s.blocked.each(func(p *PCB) {
		if p != s.idle && p != self {
			s.freePCBResources(p)
		}
	})
	s.blocked.head = nil

	s.zombies.each(func(p *PCB) {
		if p != s.idle && p != self {
			s.freePCBResources(p)
		}
	})
	s.zombies.head = nil
}

// schedule is the round-robin scheduler loop (spec.md §4.D "Scheduler
// loop"): invoked from the timer ISR and voluntarily from blocking calls.
// It always runs with interrupts disabled and leaves them enabled on
// return, matching the teacher's scheduler()'s intr_on()/acquire/release
// discipline collapsed onto the single global gate.
func (s *Scheduler) schedule() {
	intr_off()

	next := s.readyQueue.dequeue()
	if next == nil {
		if s.current != nil && s.current.State == RUNNING && s.current != s.idle {
			next = s.current
		} else {
			next = s.idle
		}
	}

	old := s.current

	if next == old && old.State == RUNNING {
		s.zombiesFree()
		intr_on()
		return
	}

	if old == nil {
		next.State = RUNNING
		s.current = next
		switch_context(&s.bootCtx, &next.Regstat)
		intr_on()
		return
	}

	if old.State == RUNNING {
		old.State = READY
		if old != s.idle {
			s.readyQueue.enqueue(old)
		}
	}

	next.State = RUNNING
	s.current = next
	switch_context(&old.Regstat, &next.Regstat)

	s.zombiesFree()
	intr_on()
}

// removeByPid unlinks and returns the first queued PCB with the given pid.
func (q *procQueue) removeByPid(pid int) *PCB {
	var prev *PCB
	for cur := q.head; cur != nil; cur = cur.next {
		if cur.Pid == pid {
			if prev != nil {
				prev.next = cur.next
			} else {
				q.head = cur.next
			}
			if cur == q.tail {
				q.tail = prev
			}
			cur.next = nil
			q.count--
			return cur
		}
		prev = cur
	}
	return nil
}
