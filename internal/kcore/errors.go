// Package kcore holds the parts of the kernel's memory management that are
// pure pointer arithmetic over caller-supplied address ranges: the physical
// page allocator and the Sv39 page table walker. Nothing in this package
// touches a CSR or any other piece of real hardware, which is what makes it
// the one part of this repo runnable under plain `go test` -- everything
// else lives behind the go:linkname assembly boundary in package main and
// can only be exercised once linked against that boundary's real
// implementation, the same constraint the teacher's own kernel carries.
package kcore

// Error is a small sentinel error type for the kernel's internal API,
// grounded on gopher-os's *kernel.Error (other_examples/gopher-os-gopher-os__pmm.go,
// __vmm.go): freestanding code has no fmt.Errorf, so errors are plain
// structs naming which subsystem failed and why, comparable with ==.
type Error struct {
	Module  string
	Message string
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	return e.Module + ": " + e.Message
}

func newError(module, message string) *Error {
	return &Error{Module: module, Message: message}
}

var (
	ErrOutOfMemory = newError("kalloc", "no free frames")
	ErrMisaligned  = newError("vmm", "address not page-aligned")
	ErrWalkFailed  = newError("vmm", "page table walk failed")
	ErrNotMapped   = newError("vmm", "virtual address not mapped")
)
