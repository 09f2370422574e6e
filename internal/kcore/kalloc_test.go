package kcore

import (
	"testing"
	"unsafe"
)

// arena backs a PageAllocator with ordinary Go memory so these tests never
// touch a real physical address.
func arena(t *testing.T, pages int) (start, end uintptr) {
	t.Helper()
	buf := make([]byte, (pages+2)*int(PageSize))
	base := uintptr(unsafe.Pointer(&buf[0]))
	start = pgRoundUp(base)
	end = start + uintptr(pages)*PageSize
	return start, end
}

func TestKallocExhaustsThenFails(t *testing.T) {
	start, end := arena(t, 4)
	var a PageAllocator
	a.Kinit(start, end)

	if got := a.Free(); got != 4 {
		t.Fatalf("Free() after Kinit = %d, want 4", got)
	}

	seen := map[uintptr]bool{}
	for i := 0; i < 4; i++ {
		p, err := a.Kalloc()
		if err != nil {
			t.Fatalf("Kalloc() #%d: %v", i, err)
		}
		if !Aligned(p) {
			t.Fatalf("Kalloc() #%d returned unaligned %#x", i, p)
		}
		if seen[p] {
			t.Fatalf("Kalloc() returned %#x twice", p)
		}
		seen[p] = true
	}

	if _, err := a.Kalloc(); err != ErrOutOfMemory {
		t.Fatalf("Kalloc() after exhaustion = %v, want ErrOutOfMemory", err)
	}
}

func TestKfreeMakesFrameReusable(t *testing.T) {
	start, end := arena(t, 2)
	var a PageAllocator
	a.Kinit(start, end)

	p1, _ := a.Kalloc()
	p2, _ := a.Kalloc()
	if _, err := a.Kalloc(); err != ErrOutOfMemory {
		t.Fatalf("expected exhaustion, got %v", err)
	}

	a.Kfree(p1)
	p3, err := a.Kalloc()
	if err != nil {
		t.Fatalf("Kalloc() after Kfree: %v", err)
	}
	if p3 != p1 {
		t.Fatalf("Kalloc() after single Kfree = %#x, want the freed frame %#x", p3, p1)
	}
	_ = p2
}

func TestKallocZeroIsZeroed(t *testing.T) {
	start, end := arena(t, 1)
	var a PageAllocator
	a.Kinit(start, end)

	p, err := a.Kalloc()
	if err != nil {
		t.Fatalf("Kalloc(): %v", err)
	}
	for i := uintptr(0); i < PageSize; i++ {
		*(*byte)(unsafe.Pointer(p + i)) = 0xAA
	}
	a.Kfree(p)

	p2, err := a.KallocZero()
	if err != nil {
		t.Fatalf("KallocZero(): %v", err)
	}
	if p2 != p {
		t.Fatalf("KallocZero() returned %#x, want the reused frame %#x", p2, p)
	}
	for i := uintptr(0); i < PageSize; i++ {
		if b := *(*byte)(unsafe.Pointer(p2 + i)); b != 0 {
			t.Fatalf("KallocZero() left byte %d = %#x, want 0", i, b)
		}
	}
}
