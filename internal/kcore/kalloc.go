package kcore

import "unsafe"

const PageSize = uintptr(4096)

func pgRoundUp(a uintptr) uintptr { return (a + PageSize - 1) &^ (PageSize - 1) }

func memsetPage(dst uintptr, c byte, n uintptr) {
	for i := uintptr(0); i < n; i++ {
		*(*byte)(unsafe.Pointer(dst + i)) = c
	}
}

// PageAllocator hands out and reclaims 4 KiB physical frames from a
// linker-defined heap region (spec.md §4.A). It owns a singly linked free
// list threaded through the first bytes of each free frame, exactly as the
// teacher's kernel/kalloc.go does with its package-level `kmem`; the only
// change is that the free list now lives on a value threaded explicitly
// through the kernel world (spec.md §9's "global mutable state" note)
// instead of a package global, which also makes it possible to run two
// independent allocators side by side in a test.
type PageAllocator struct {
	freelist uintptr
	start    uintptr
	end      uintptr
}

type freeRun struct {
	next uintptr
}

// Kinit aligns start up to the next page boundary and threads every whole
// page up to end onto the free list in ascending order.
func (a *PageAllocator) Kinit(start, end uintptr) {
	a.start = pgRoundUp(start)
	a.end = end
	a.freelist = 0
	for p := a.start; p+PageSize <= a.end; p += PageSize {
		a.Kfree(p)
	}
}

// Kalloc pops the head of the free list and returns a page-aligned pointer
// whose contents are unspecified. Returns (0, ErrOutOfMemory) when the free
// list is empty -- there is no exception path, per spec.md §4.A.
func (a *PageAllocator) Kalloc() (uintptr, *Error) {
	r := a.freelist
	if r == 0 {
		return 0, ErrOutOfMemory
	}
	run := (*freeRun)(unsafe.Pointer(r))
	a.freelist = run.next
	return r, nil
}

// Kfree pushes frame onto the free list. The caller must guarantee frame
// was previously returned by Kalloc and is not currently referenced by
// anything else; Kfree does not (and, being freestanding, cannot cheaply)
// verify this.
func (a *PageAllocator) Kfree(frame uintptr) {
	run := (*freeRun)(unsafe.Pointer(frame))
	run.next = a.freelist
	a.freelist = frame
}

// KallocZero is a convenience used throughout the VMM and scheduler: a
// fresh frame, zeroed, matching the teacher's repeated
// `memset(uintptr(page), 0, PGSIZE)` idiom in kernel/vm.go.
func (a *PageAllocator) KallocZero() (uintptr, *Error) {
	p, err := a.Kalloc()
	if err != nil {
		return 0, err
	}
	memsetPage(p, 0, PageSize)
	return p, nil
}

// Free reports the number of frames currently on the free list, used by
// tests to sanity-check for leaks.
func (a *PageAllocator) Free() int {
	n := 0
	for p := a.freelist; p != 0; {
		n++
		p = (*freeRun)(unsafe.Pointer(p)).next
	}
	return n
}
