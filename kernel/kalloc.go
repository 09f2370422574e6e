package main

import "lrix/internal/kcore"

// PageAllocator is a thin wrapper around kcore.PageAllocator: the free-list
// logic itself is pure pointer arithmetic and lives in internal/kcore,
// where it can run under plain `go test` (spec.md §4.A); this wrapper just
// gives the rest of the kernel the lowercase method names and the *Error
// sentinels (ErrOutOfMemory etc.) the rest of the package compares against.
type PageAllocator struct {
	core kcore.PageAllocator
}

// kinit aligns start up to the next page boundary and threads every whole
// page up to end onto the free list in ascending order.
func (a *PageAllocator) kinit(start, end uintptr) {
	a.core.Kinit(start, end)
}

// kalloc pops the head of the free list and returns a page-aligned pointer
// whose contents are unspecified. Returns (0, ErrOutOfMemory) when the free
// list is empty -- there is no exception path, per spec.md §4.A.
func (a *PageAllocator) kalloc() (uintptr, *Error) {
	p, err := a.core.Kalloc()
	if err != nil {
		return 0, ErrOutOfMemory
	}
	return p, nil
}

// kfree pushes frame onto the free list. The caller must guarantee frame
// was previously returned by kalloc and is not currently referenced by
// anything else; kfree does not (and, being freestanding, cannot cheaply)
// verify this.
func (a *PageAllocator) kfree(frame uintptr) {
	a.core.Kfree(frame)
}

// kallocZero is a convenience used throughout the VMM and scheduler: a
// fresh frame, zeroed, matching the teacher's repeated
// `memset(uintptr(page), 0, PGSIZE)` idiom in kernel/vm.go.
func (a *PageAllocator) kallocZero() (uintptr, *Error) {
	p, err := a.core.KallocZero()
	if err != nil {
		return 0, ErrOutOfMemory
	}
	return p, nil
}
