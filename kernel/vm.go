package main

import "lrix/internal/kcore"

// VMM wraps kcore.VMM, the hardware-agnostic Sv39 walker (spec.md §4.B):
// building/mutating the root page table, mapping/unmapping pages, and
// translating addresses are pure pointer arithmetic and live in
// internal/kcore, grounded on the teacher's kernel/vm.go (walk/mappages/
// kvmmap) and on original_source/kernel/mem/vmm.c. This wrapper supplies
// the one piece that genuinely needs to be in package main: activating
// translation by writing satp, which only the CSR accessors behind the
// go:linkname boundary can do.
type VMM struct {
	core kcore.VMM
}

func wrapVMMErr(err *kcore.Error) *Error {
	switch err {
	case nil:
		return nil
	case kcore.ErrOutOfMemory:
		return ErrOutOfMemory
	case kcore.ErrMisaligned:
		return ErrMisaligned
	case kcore.ErrWalkFailed:
		return ErrWalkFailed
	case kcore.ErrNotMapped:
		return ErrNotMapped
	default:
		return newError(err.Module, err.Message)
	}
}

func (v *VMM) vmmMap(va, pa uintptr, flags int) *Error {
	return wrapVMMErr(v.core.VmmMap(va, pa, flags))
}

func (v *VMM) vmmMapPage(va uintptr, flags int) *Error {
	return wrapVMMErr(v.core.VmmMapPage(va, flags))
}

func (v *VMM) vmmUnmap(va uintptr, freePhys bool) *Error {
	return wrapVMMErr(v.core.VmmUnmap(va, freePhys))
}

func (v *VMM) vmmTranslate(va uintptr) (uintptr, *Error) {
	pa, err := v.core.VmmTranslate(va)
	return pa, wrapVMMErr(err)
}

// vmmActivate writes satp (MODE=8 Sv39, ASID=0, PPN=root>>12) and issues an
// sfence.vma, per spec.md §3/§4.B.
func (v *VMM) vmmActivate() {
	ppn := v.core.Root() >> 12
	satp := (uintptr(8) << 60) | (ppn & ((uintptr(1) << 44) - 1))
	w_satp(satp)
	sfence_vma()
}

// vmmInit builds the identity mappings spec.md §4.B requires for RAM and
// every MMIO window this kernel drives (UART, virtio-blk, CLINT, PLIC),
// delegating the walk/map/self-test mechanics to kcore.VMM.VmmInit.
func (v *VMM) vmmInit(alloc *PageAllocator) *Error {
	logInfo("vmm: Sv39 root page table created")

	ranges := []kcore.Range{
		{Start: KERNBASE, End: PHYSTOP, Flags: FLAG_RW | FLAG_USER},
		{Start: UART0, End: UART0 + UART0Len, Flags: FLAG_RW},
		{Start: VIRTIO0, End: VIRTIO0End, Flags: FLAG_RW},
		{Start: CLINT, End: CLINT + CLINTLen, Flags: FLAG_RW},
		{Start: PLIC, End: PLIC + PLICWindowLen, Flags: FLAG_RW},
	}
	if err := wrapVMMErr(v.core.VmmInit(&alloc.core, ranges, heapBase(0))); err != nil {
		return err
	}
	logInfo("vmm: self-test passed")
	return nil
}
