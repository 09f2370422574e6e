package main

import "unsafe"

func plicReg(addr uintptr) *uint32 {
	return (*uint32)(unsafe.Pointer(addr))
}

// PLIC wraps the platform-level interrupt controller windows defined in
// memlayout.go (spec.md §4.F). There is exactly one hart (hart 0) in this
// kernel, so every method below operates on hart 0's M-mode context
// windows unconditionally.
type PLICController struct{}

func newPLIC() *PLICController { return &PLICController{} }

// plicInit sets UART0's and every virtio-mmio IRQ's priority to 1 (the
// lowest non-zero priority, i.e. "enabled"), enables them in hart 0's
// M-mode context, and sets that context's priority threshold to 0 so
// nothing is masked (spec.md §4.F).
func (p *PLICController) plicInit() {
	*plicReg(PLIC_PRIORITY + UART0IRQ*4) = 1
	for irq := VIRTIO0IRQlo; irq <= VIRTIO0IRQhi; irq++ {
		*plicReg(PLIC_PRIORITY + uintptr(irq)*4) = 1
	}

	enable := *plicReg(PLIC_MENABLE(0))
	enable |= 1 << UART0IRQ
	for irq := VIRTIO0IRQlo; irq <= VIRTIO0IRQhi; irq++ {
		enable |= 1 << uint(irq)
	}
	*plicReg(PLIC_MENABLE(0)) = enable

	*plicReg(PLIC_MPRIORITY(0)) = 0
	logInfo("plic: initialized")
}

// plicClaim reads hart 0's claim register, which both tells the CPU which
// IRQ fired and implicitly acknowledges it to the PLIC (spec.md §4.F).
// Returns 0 if nothing is pending.
func (p *PLICController) plicClaim() uint32 {
	return *plicReg(PLIC_MCLAIM(0))
}

// plicComplete writes irq back to the claim/complete register, telling the
// PLIC this hart is done handling it and it may be claimed again.
func (p *PLICController) plicComplete(irq uint32) {
	*plicReg(PLIC_MCLAIM(0)) = irq
}
