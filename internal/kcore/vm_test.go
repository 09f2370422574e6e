package kcore

import (
	"testing"
	"unsafe"
)

func newTestVMM(t *testing.T, pages int) (*VMM, *PageAllocator) {
	t.Helper()
	buf := make([]byte, (pages+2)*int(PageSize))
	base := pgRoundUp(uintptr(unsafe.Pointer(&buf[0])))
	a := &PageAllocator{}
	a.Kinit(base, base+uintptr(pages)*PageSize)

	// Keep buf reachable for the lifetime of the test so the GC never moves
	// or frees the arena out from under raw uintptr arithmetic.
	t.Cleanup(func() { _ = buf[0] })

	v := &VMM{}
	if err := v.VmmInit(a, nil, 0); err != nil {
		t.Fatalf("VmmInit(): %v", err)
	}
	return v, a
}

// Identity ranges aren't needed for these tests (selfTestVA=0 with no
// ranges maps and unmaps VA 0, which VmmInit's own self-test already
// exercises); the tests below drive VmmMap/VmmUnmap/VmmTranslate directly
// instead of relying on VmmInit's built-in self-test VA.

func TestVmmMapTranslateRoundTrip(t *testing.T) {
	v, a := newTestVMM(t, 16)

	phys, err := a.KallocZero()
	if err != nil {
		t.Fatalf("KallocZero(): %v", err)
	}
	const va = uintptr(0x1000)
	if err := v.VmmMap(va, phys, FlagRW|FlagUser); err != nil {
		t.Fatalf("VmmMap(): %v", err)
	}

	got, err := v.VmmTranslate(va + 0x123)
	if err != nil {
		t.Fatalf("VmmTranslate(): %v", err)
	}
	if want := phys + 0x123; got != want {
		t.Fatalf("VmmTranslate(va+0x123) = %#x, want %#x", got, want)
	}
}

func TestVmmUnmapThenTranslateFails(t *testing.T) {
	v, _ := newTestVMM(t, 16)
	const va = uintptr(0x2000)

	if err := v.VmmMapPage(va, FlagRW); err != nil {
		t.Fatalf("VmmMapPage(): %v", err)
	}
	if err := v.VmmUnmap(va, true); err != nil {
		t.Fatalf("VmmUnmap(): %v", err)
	}
	if _, err := v.VmmTranslate(va); err != ErrNotMapped {
		t.Fatalf("VmmTranslate() after unmap = %v, want ErrNotMapped", err)
	}
}

func TestVmmUnmapFreesTheFrame(t *testing.T) {
	v, a := newTestVMM(t, 16)
	before := a.Free()

	const va = uintptr(0x3000)
	if err := v.VmmMapPage(va, FlagRW); err != nil {
		t.Fatalf("VmmMapPage(): %v", err)
	}
	if got := a.Free(); got != before-1 {
		t.Fatalf("Free() after VmmMapPage = %d, want %d", got, before-1)
	}

	if err := v.VmmUnmap(va, true); err != nil {
		t.Fatalf("VmmUnmap(): %v", err)
	}
	if got := a.Free(); got != before {
		t.Fatalf("Free() after VmmUnmap(freePhys=true) = %d, want %d (leak)", got, before)
	}
}

func TestVmmMapRejectsMisalignedAddresses(t *testing.T) {
	v, a := newTestVMM(t, 4)
	phys, _ := a.KallocZero()

	if err := v.VmmMap(0x1001, phys, FlagRW); err != ErrMisaligned {
		t.Fatalf("VmmMap(unaligned va) = %v, want ErrMisaligned", err)
	}
	if err := v.VmmMap(0x1000, phys+1, FlagRW); err != ErrMisaligned {
		t.Fatalf("VmmMap(unaligned pa) = %v, want ErrMisaligned", err)
	}
}

func TestVmmDoubleMapOverwritesMapping(t *testing.T) {
	v, _ := newTestVMM(t, 16)
	const va = uintptr(0x5000)

	if err := v.VmmMapPage(va, FlagRW); err != nil {
		t.Fatalf("first VmmMapPage(): %v", err)
	}
	first, err := v.VmmTranslate(va)
	if err != nil {
		t.Fatalf("VmmTranslate(): %v", err)
	}

	if err := v.VmmMapPage(va, FlagRW); err != nil {
		t.Fatalf("second VmmMapPage(): %v", err)
	}
	second, err := v.VmmTranslate(va)
	if err != nil {
		t.Fatalf("VmmTranslate(): %v", err)
	}
	if second == first {
		t.Fatalf("remapping va still translates to the old frame %#x, want the new frame", first)
	}
}

func TestVmmInitInstallsIdentityRanges(t *testing.T) {
	buf := make([]byte, 64*int(PageSize))
	base := pgRoundUp(uintptr(unsafe.Pointer(&buf[0])))
	a := &PageAllocator{}
	a.Kinit(base, base+32*PageSize)

	// Identity-mapped addresses only ever land in PTEs, never get
	// dereferenced, so they need not be host memory -- but they must be
	// below MaxVA, which a host heap address is not.
	ramStart := uintptr(0x80000000)
	ramEnd := ramStart + 8*PageSize

	v := &VMM{}
	ranges := []Range{{Start: ramStart, End: ramEnd, Flags: FlagRW | FlagUser}}
	if err := v.VmmInit(a, ranges, ramStart); err != nil {
		t.Fatalf("VmmInit(): %v", err)
	}

	// VmmInit's self-test unmaps its own VA (ramStart) again afterward, so
	// translating it now should fail; a different page in the range should
	// still be identity-mapped.
	probe := ramStart + PageSize
	got, err := v.VmmTranslate(probe)
	if err != nil {
		t.Fatalf("VmmTranslate(identity page): %v", err)
	}
	if got != probe {
		t.Fatalf("VmmTranslate(identity page) = %#x, want %#x (identity)", got, probe)
	}
}

func TestWalkPanicsOnOutOfRangeVA(t *testing.T) {
	v, _ := newTestVMM(t, 4)
	defer func() {
		if recover() == nil {
			t.Fatal("VmmMap(va >= MaxVA) did not panic")
		}
	}()
	_ = v.VmmMap(MaxVA, 0x1000, FlagRW)
}
