package main

// Physical memory layout for the QEMU "virt" RISC-V64 machine.
//
// qemu -machine virt is set up like this, per qemu's hw/riscv/virt.c:
//
//	00001000 -- boot ROM, provided by qemu
//	02000000 -- CLINT
//	0c000000 -- PLIC
//	10000000 -- uart0
//	10001000 -- virtio mmio disk
//	80000000 -- firmware jumps here in machine mode; -kernel loads us here
//	unused RAM after 80000000, sized by -m
//
// The page allocator hands out frames from the linker's end-of-kernel
// symbol (get_end in kernel.go, the first byte after text/data/bss) up to
// PHYSTOP, the top of the RAM window below.

const (
	UART0    = uintptr(0x10000000)
	UART0Len = uintptr(0x1000)
	UART0IRQ = 10
)

const (
	VIRTIO0      = uintptr(0x10001000)
	VIRTIO0End   = uintptr(0x10009000)
	VIRTIO0IRQlo = 1
	VIRTIO0IRQhi = 8
)

// Core-local interruptor: mtime plus, per hart, mtimecmp.
const (
	CLINT          = uintptr(0x02000000)
	CLINTLen       = uintptr(0x00010000)
	CLINT_MTIME    = CLINT + 0xBFF8
	clintMTimeCmp0 = CLINT + 0x4000
)

func CLINT_MTIMECMP(hartid int) uintptr { return clintMTimeCmp0 + 8*uintptr(hartid) }

// Platform-level interrupt controller.
const (
	PLIC           = uintptr(0x0c000000)
	PLICWindowLen  = uintptr(0x200000)
	PLIC_PRIORITY  = PLIC + 0x0
	PLIC_PENDING   = PLIC + 0x1000
)

func PLIC_MENABLE(hart int) uintptr        { return PLIC + 0x2000 + uintptr(hart)*0x100 }
func PLIC_MPRIORITY(hart int) uintptr      { return PLIC + 0x200000 + uintptr(hart)*0x2000 }
func PLIC_MCLAIM(hart int) uintptr         { return PLIC + 0x200004 + uintptr(hart)*0x2000 }

// RAM window the kernel and every user process live in; identity-mapped in
// full by the VMM (§4.B).
const (
	KERNBASE = uintptr(0x80000000)
	RAMSize  = uintptr(128 * 1024 * 1024)
	PHYSTOP  = KERNBASE + RAMSize
)

// Per-process user heap layout (sbrk). Deterministic: pid selects a
// disjoint-by-construction 8 KiB window, and sysSbrk refuses to grow a heap
// past it, so no two live processes' heaps ever overlap.
const (
	HEAP_USER_BASE = uintptr(0x80400000)
	PER_PROC_HEAP  = uintptr(8 * 1024)
)

// heapBase returns the virtual base of pid's user heap.
func heapBase(pid int) uintptr {
	return HEAP_USER_BASE + uintptr(pid)*PER_PROC_HEAP
}
