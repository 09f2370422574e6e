package main

import "unsafe"

// 16550-compatible register offsets from UART0 (spec.md §4.G).
const (
	uartRHR = 0 // receiver holding register (read)
	uartTHR = 0 // transmitter holding register (write)
	uartIER = 1 // interrupt enable register
	uartFCR = 2 // FIFO control register
	uartLCR = 3 // line control register
	uartLSR = 5 // line status register
)

const (
	uartIERRxEnable = 1 << 0
	uartIERTxEnable = 1 << 1

	uartFCRFIFOEnable = 1 << 0
	uartFCRFIFOClear  = 3 << 1

	uartLCREightBits = 3

	uartLSRRxReady = 1 << 0
	uartLSRTxIdle  = 1 << 5
)

func uartReg(off uintptr) *byte {
	return (*byte)(unsafe.Pointer(UART0 + off))
}

// uart_putc is the stateless byte-sink every printf/printk call in this
// kernel writes through (printf.go's putcFn), and also the TX half of
// syscall 1 (write). It busy-polls LSR.THRE, matching the original source's
// uart_putc and the teacher's own printf.go linkname of the same name --
// except here it's a real Go function, not an external assembly symbol,
// since the register access itself is a plain MMIO store.
func uart_putc(c byte) {
	for *uartReg(uartLSR)&uartLSRTxIdle == 0 {
	}
	*uartReg(uartTHR) = c
}

// rxRingSize is generous relative to typical line lengths; the RX ISR
// drops bytes silently if the ring is ever full rather than blocking a
// non-process interrupt context.
const rxRingSize = 128

// UART owns the RX ring buffer and the set of processes parked waiting on
// input (spec.md §4.G, suspension point 5). TX has no state worth keeping
// here since uart_putc above is synchronous and stateless.
type UART struct {
	sched *Scheduler

	rx       [rxRingSize]byte
	rxHead   int
	rxTail   int
	rxCount  int

	waiterPid int // pid of the process parked in uartGetcBlocking, or -1
}

func newUART(sched *Scheduler) *UART {
	return &UART{sched: sched, waiterPid: -1}
}

// uartInit enables the RX FIFO and RX-ready interrupts; TX is always
// polled, so no TX interrupt is requested (spec.md §4.G).
func (u *UART) uartInit() {
	*uartReg(uartIER) = 0
	*uartReg(uartLCR) = uartLCREightBits
	*uartReg(uartFCR) = uartFCRFIFOEnable | uartFCRFIFOClear
	*uartReg(uartIER) = uartIERRxEnable
	logInfo("uart: initialized")
}

// uartGetcBoot busy-polls LSR.RxReady, a read that works before interrupts
// are enabled (spec.md §4.G). Nothing in this package calls it.
func (u *UART) uartGetcBoot() byte {
	for *uartReg(uartLSR)&uartLSRRxReady == 0 {
	}
	return *uartReg(uartRHR)
}

// uartIntr drains the hardware RX FIFO into the ring buffer and wakes the
// waiting reader, if any. Called by the trap core on claimed IRQ
// UART0IRQ (spec.md §4.F/§4.G).
func (u *UART) uartIntr() {
	for *uartReg(uartLSR)&uartLSRRxReady != 0 {
		c := *uartReg(uartRHR)
		if u.rxCount < rxRingSize {
			u.rx[u.rxTail] = c
			u.rxTail = (u.rxTail + 1) % rxRingSize
			u.rxCount++
		}
	}
	if u.rxCount > 0 && u.waiterPid >= 0 {
		pid := u.waiterPid
		u.waiterPid = -1
		u.sched.procWake(pid)
	}
}

// uartGetcBlocking backs syscall 2 (read): if the ring buffer already has a
// byte, it's consumed immediately; otherwise the calling process parks on
// blocked_list via procSuspendCurrent until the RX IRQ wakes it, then
// retries (spec.md §4.G).
func (u *UART) uartGetcBlocking() byte {
	for {
		var c byte
		var got bool
		critical(func() {
			if u.rxCount > 0 {
				c = u.rx[u.rxHead]
				u.rxHead = (u.rxHead + 1) % rxRingSize
				u.rxCount--
				got = true
			} else if u.sched.current != nil {
				u.waiterPid = u.sched.current.Pid
			}
		})
		if got {
			return c
		}
		u.sched.procSuspendCurrent()
	}
}

// uartWriteString writes a whole string by looping uart_putc per byte, as
// the original source's write() does. sysWrite does not use it; it loops
// uart_putc over the user buffer itself.
func (u *UART) uartWriteString(s string) {
	for i := 0; i < len(s); i++ {
		uart_putc(s[i])
	}
}
