package kcore

import "unsafe"

const MaxVA = uintptr(1) << 38

// Sv39 PTE bits.
const (
	pteV = 1 << 0
	pteR = 1 << 1
	pteW = 1 << 2
	pteX = 1 << 3
	pteU = 1 << 4
	pteA = 1 << 6
	pteD = 1 << 7
)

type PTE uintptr
type PageTable uintptr

// External flags accepted by VmmMap/VmmMapPage (spec.md §4.B). These are
// translated internally to Sv39 PTE bits; callers never see the PTE bits
// directly.
const (
	FlagPresent = 1 << 0
	FlagRW      = 1 << 1
	FlagUser    = 1 << 2
)

func px(level int, va uintptr) uintptr { return (va >> (12 + uintptr(level)*9)) & 0x1FF }
func pte2pa(p PTE) uintptr             { return (uintptr(p) >> 10) << 12 }
func pa2pte(pa uintptr) PTE            { return PTE((pa >> 12) << 10) }

func pgRoundDown(a uintptr) uintptr { return a &^ (PageSize - 1) }

func tableSlot(pt PageTable, idx uintptr) *PTE {
	return (*PTE)(unsafe.Pointer(uintptr(pt) + idx*8))
}

// Aligned reports whether a is on a page boundary.
func Aligned(a uintptr) bool { return a&(PageSize-1) == 0 }

func flagsToPTE(flags int) PTE {
	var f PTE
	if flags&FlagPresent != 0 {
		f |= pteV
	}
	if flags&FlagRW != 0 {
		f |= pteR | pteW | pteX
	}
	if flags&FlagUser != 0 {
		f |= pteU
	}
	f |= pteA | pteD
	return f
}

// VMM implements Sv39 three-level translation over an address space it
// does not otherwise know anything about: it builds and mutates a root page
// table, maps/unmaps pages and translates addresses (spec.md §4.B).
// Grounded on the teacher's kernel/vm.go (walk/mappages/kvmmap) and on
// original_source/kernel/mem/vmm.c, whose vmm_map/vmm_map_page/vmm_unmap/
// vmm_translate signatures this type's methods mirror one-to-one. Activating
// translation (writing satp) is the one step that touches real hardware and
// so lives outside this package, in the caller that holds the CSR
// accessors.
type VMM struct {
	root  PageTable
	alloc *PageAllocator
}

// Root returns the physical address of the root page table, for a caller
// that needs to compute satp.
func (v *VMM) Root() uintptr { return uintptr(v.root) }

func (v *VMM) newTable() (PageTable, *Error) {
	p, err := v.alloc.KallocZero()
	if err != nil {
		return 0, err
	}
	return PageTable(p), nil
}

// walk descends the three Sv39 levels for va, allocating intermediate L1/L0
// tables on demand when alloc is true. It returns a pointer to the leaf PTE
// slot, or nil if the walk can't be completed (no entry and alloc is false,
// or an allocation failed). It panics on an out-of-range va, exactly like
// the teacher's kernel/vm.go walk -- this is a programmer-invariant
// violation, not a runtime condition callers are expected to recover from.
func (v *VMM) walk(pagetable PageTable, va uintptr, alloc bool) *PTE {
	if va >= MaxVA {
		panic("vmm: walk: va out of range")
	}

	for level := 2; level > 0; level-- {
		idx := px(level, va)
		ptePtr := tableSlot(pagetable, idx)

		if *ptePtr&pteV != 0 {
			pagetable = PageTable(pte2pa(*ptePtr))
			continue
		}

		if !alloc {
			return nil
		}
		next, err := v.newTable()
		if err != nil {
			return nil
		}
		// Non-leaf PTE: V only, never R/W/X, per the walk invariant in
		// spec.md §3/§4.B.
		*ptePtr = pa2pte(uintptr(next)) | pteV
		pagetable = next
	}

	return tableSlot(pagetable, px(0, va))
}

// VmmMap requires va and pa to both be 4 KiB-aligned; it walks L2->L1->L0,
// allocating intermediate tables on demand, and writes the leaf PTE.
func (v *VMM) VmmMap(va, pa uintptr, flags int) *Error {
	if !Aligned(va) || !Aligned(pa) {
		return ErrMisaligned
	}
	pte := v.walk(v.root, va, true)
	if pte == nil {
		return ErrWalkFailed
	}
	*pte = pa2pte(pa) | flagsToPTE(flags|FlagPresent)
	return nil
}

// VmmMapPage allocates a fresh zeroed frame and maps it at va, rolling back
// the allocation if the map fails.
func (v *VMM) VmmMapPage(va uintptr, flags int) *Error {
	phys, err := v.alloc.KallocZero()
	if err != nil {
		return err
	}
	if err := v.VmmMap(va, phys, flags); err != nil {
		v.alloc.Kfree(phys)
		return err
	}
	return nil
}

// VmmUnmap walks without allocating, clears the leaf PTE, and, if freePhys,
// returns the frame to the allocator. It does not prune empty intermediate
// tables (spec.md §4.B).
func (v *VMM) VmmUnmap(va uintptr, freePhys bool) *Error {
	if !Aligned(va) {
		return ErrMisaligned
	}
	pte := v.walk(v.root, va, false)
	if pte == nil || *pte&pteV == 0 {
		return ErrNotMapped
	}
	phys := pte2pa(*pte)
	*pte = 0
	if freePhys {
		v.alloc.Kfree(phys)
	}
	return nil
}

// VmmTranslate returns (pte.ppn<<12)|(va&0xFFF), or (0, ErrNotMapped).
func (v *VMM) VmmTranslate(va uintptr) (uintptr, *Error) {
	pte := v.walk(v.root, va, false)
	if pte == nil || *pte&pteV == 0 {
		return 0, ErrNotMapped
	}
	return pte2pa(*pte) | (va & 0xFFF), nil
}

// Range is one identity-mapped window VmmInit installs, e.g. RAM or a
// device's MMIO window; package main supplies these from memlayout.go so
// this package never needs to know qemu's "virt" machine addresses.
type Range struct {
	Start, End uintptr
	Flags      int
}

// VmmInit allocates and zeroes the root page table, installs every range in
// ranges as an identity mapping, and runs the map/translate/unmap
// self-test (spec.md §4.B, testable properties 1/2 in §8).
func (v *VMM) VmmInit(alloc *PageAllocator, ranges []Range, selfTestVA uintptr) *Error {
	v.alloc = alloc
	root, err := v.newTable()
	if err != nil {
		return err
	}
	v.root = root

	for _, r := range ranges {
		if err := v.identityRange(r.Start, r.End, r.Flags); err != nil {
			return err
		}
	}

	return v.selfTest(selfTestVA)
}

func (v *VMM) identityRange(start, end uintptr, flags int) *Error {
	for a := pgRoundDown(start); a < end; a += PageSize {
		if err := v.VmmMap(a, a, flags); err != nil {
			return err
		}
	}
	return nil
}

// selfTest maps a test VA to a fresh frame, translates it, unmaps it, and
// translates again; it must produce the mapped frame and then ErrNotMapped.
func (v *VMM) selfTest(testVA uintptr) *Error {
	if err := v.VmmMapPage(testVA, FlagRW|FlagUser); err != nil {
		return err
	}
	if _, err := v.VmmTranslate(testVA); err != nil {
		return err
	}
	if err := v.VmmUnmap(testVA, true); err != nil {
		return err
	}
	if _, err := v.VmmTranslate(testVA); err == nil {
		return newError("vmm", "self-test: translate succeeded after unmap")
	}
	return nil
}
