package main

import "unsafe"

// virtio-mmio register offsets from the base window (spec.md §4.H), common
// to both the legacy and modern layouts except where noted.
const (
	vioMagicValue       = 0x000
	vioVersion          = 0x004
	vioDeviceID         = 0x008
	vioDeviceFeatures   = 0x010
	vioDeviceFeatSel    = 0x014
	vioDriverFeatures   = 0x020
	vioDriverFeatSel    = 0x024
	vioQueueSel         = 0x030
	vioQueueNumMax      = 0x034
	vioQueueNum         = 0x038
	vioQueueAlignLegacy = 0x03c // legacy only
	vioQueuePFNLegacy   = 0x040 // legacy only
	vioQueueReadyModern = 0x044 // modern only
	vioQueueNotify      = 0x050
	vioInterruptStatus  = 0x060
	vioInterruptACK     = 0x064
	vioStatus           = 0x070
	vioQueueDescLow     = 0x080 // modern only
	vioQueueDescHigh    = 0x084
	vioQueueDriverLow   = 0x090
	vioQueueDriverHigh  = 0x094
	vioQueueDeviceLow   = 0x0a0
	vioQueueDeviceHigh  = 0x0a4
)

const (
	vioStatusAcknowledge = 1
	vioStatusDriver      = 2
	vioStatusDriverOK    = 4
	vioStatusFeaturesOK  = 8

	VirtioLegacy = 1
	VirtioModern = 2

	virtQueueSize = 8 // descriptors; small and fixed, matching §4.H

	virtqDescFlagNext  = 1
	virtqDescFlagWrite = 2

	blkReqOut = 0
	blkReqIn  = 1

	sectorSize = 512
)

func mmioRead32(base uintptr, off uintptr) uint32 {
	return *(*uint32)(unsafe.Pointer(base + off))
}

func mmioWrite32(base uintptr, off uintptr, v uint32) {
	*(*uint32)(unsafe.Pointer(base + off)) = v
}

// virtqDesc/virtqAvail/virtqUsed mirror the virtio 1.x split queue layout
// (spec.md §4.H); legacy mode uses the same descriptor/avail/used shapes,
// differing only in how the queue address is told to the device (QueuePFN
// vs QueueDesc/Driver/Device).
type virtqDesc struct {
	addr  uint64
	len   uint32
	flags uint16
	next  uint16
}

type virtqAvail struct {
	flags uint16
	idx   uint16
	ring  [virtQueueSize]uint16
}

type virtqUsedElem struct {
	id  uint32
	len uint32
}

type virtqUsed struct {
	flags uint16
	idx   uint16
	ring  [virtQueueSize]virtqUsedElem
}

// BlockDevice drives the virtio-mmio block device at VIRTIO0 (spec.md
// §4.H). It owns one descriptor/avail/used ring, allocated from the page
// allocator like everything else in this kernel -- there is no separate
// "DMA-capable" pool since RAM is identity-mapped throughout.
type BlockDevice struct {
	alloc *PageAllocator
	mode  int
	ready bool

	descPage  uintptr
	availPage uintptr
	usedPage  uintptr

	desc  *[virtQueueSize]virtqDesc
	avail *virtqAvail
	used  *virtqUsed

	lastUsedIdx uint16
	freeHead    uint16
}

func newBlockDevice(alloc *PageAllocator) *BlockDevice {
	return &BlockDevice{alloc: alloc}
}

// blkInit negotiates the base block-device feature set (none beyond what
// the spec needs), sets up the ring, and tells the device about it via the
// layout selected by mode. It registers no PLIC handler itself -- plicInit
// does that once, for the whole IRQ range 1..8, per spec.md §4.F.
func (b *BlockDevice) blkInit(mode int) *Error {
	b.mode = mode

	if mmioRead32(VIRTIO0, vioMagicValue) != 0x74726976 {
		logInfo("blk: no virtio-mmio device present")
		return nil
	}
	if mmioRead32(VIRTIO0, vioDeviceID) != 2 {
		logInfo("blk: device present but not a block device")
		return nil
	}

	mmioWrite32(VIRTIO0, vioStatus, 0)
	mmioWrite32(VIRTIO0, vioStatus, vioStatusAcknowledge)
	mmioWrite32(VIRTIO0, vioStatus, vioStatusAcknowledge|vioStatusDriver)

	mmioWrite32(VIRTIO0, vioDriverFeatSel, 0)
	mmioWrite32(VIRTIO0, vioDriverFeatures, 0)
	mmioWrite32(VIRTIO0, vioStatus, vioStatusAcknowledge|vioStatusDriver|vioStatusFeaturesOK)

	if err := b.setupQueue(); err != nil {
		return err
	}

	mmioWrite32(VIRTIO0, vioStatus, vioStatusAcknowledge|vioStatusDriver|vioStatusFeaturesOK|vioStatusDriverOK)
	b.ready = true
	logInfo("blk: virtio-mmio block device ready")
	return nil
}

func (b *BlockDevice) setupQueue() *Error {
	descPage, err := b.alloc.kallocZero()
	if err != nil {
		return err
	}
	availPage, err := b.alloc.kallocZero()
	if err != nil {
		b.alloc.kfree(descPage)
		return err
	}
	usedPage, err := b.alloc.kallocZero()
	if err != nil {
		b.alloc.kfree(descPage)
		b.alloc.kfree(availPage)
		return err
	}

	b.descPage, b.availPage, b.usedPage = descPage, availPage, usedPage
	b.desc = (*[virtQueueSize]virtqDesc)(unsafe.Pointer(descPage))
	b.avail = (*virtqAvail)(unsafe.Pointer(availPage))
	b.used = (*virtqUsed)(unsafe.Pointer(usedPage))

	for i := uint16(0); i < virtQueueSize-1; i++ {
		b.desc[i].next = i + 1
	}

	mmioWrite32(VIRTIO0, vioQueueSel, 0)
	mmioWrite32(VIRTIO0, vioQueueNum, virtQueueSize)

	if b.mode == VirtioModern {
		mmioWrite32(VIRTIO0, vioQueueDescLow, uint32(descPage))
		mmioWrite32(VIRTIO0, vioQueueDescHigh, uint32(uint64(descPage)>>32))
		mmioWrite32(VIRTIO0, vioQueueDriverLow, uint32(availPage))
		mmioWrite32(VIRTIO0, vioQueueDriverHigh, uint32(uint64(availPage)>>32))
		mmioWrite32(VIRTIO0, vioQueueDeviceLow, uint32(usedPage))
		mmioWrite32(VIRTIO0, vioQueueDeviceHigh, uint32(uint64(usedPage)>>32))
		mmioWrite32(VIRTIO0, vioQueueReadyModern, 1)
	} else {
		mmioWrite32(VIRTIO0, vioQueueAlignLegacy, PGSIZE32())
		mmioWrite32(VIRTIO0, vioQueuePFNLegacy, uint32(descPage/PGSIZE))
	}

	return nil
}

func PGSIZE32() uint32 { return uint32(PGSIZE) }

// submit builds a 3-descriptor chain (header, data, status) for one
// request and spins until the used ring advances (spec.md §4.H: "spin-wait,
// no blocking needed at this sector count").
func (b *BlockDevice) submit(sector uint64, buf []byte, write bool) *Error {
	if !b.ready {
		return newError("blk", "device not initialized")
	}
	if len(buf) < sectorSize {
		return newError("blk", "buffer smaller than one sector")
	}

	type blkReqHeader struct {
		typ      uint32
		reserved uint32
		sector   uint64
	}
	hdr := &blkReqHeader{sector: sector}
	if write {
		hdr.typ = blkReqOut
	} else {
		hdr.typ = blkReqIn
	}
	status := byte(0xff)

	i0 := b.freeHead
	i1 := (i0 + 1) % virtQueueSize
	i2 := (i1 + 1) % virtQueueSize

	b.desc[i0] = virtqDesc{addr: uint64(uintptr(unsafe.Pointer(hdr))), len: uint32(unsafe.Sizeof(*hdr)), flags: virtqDescFlagNext, next: i1}

	dataFlags := uint16(virtqDescFlagNext)
	if !write {
		dataFlags |= virtqDescFlagWrite
	}
	b.desc[i1] = virtqDesc{addr: uint64(uintptr(unsafe.Pointer(&buf[0]))), len: sectorSize, flags: dataFlags, next: i2}
	b.desc[i2] = virtqDesc{addr: uint64(uintptr(unsafe.Pointer(&status))), len: 1, flags: virtqDescFlagWrite}

	b.freeHead = (i2 + 1) % virtQueueSize

	b.avail.ring[b.avail.idx%virtQueueSize] = i0
	b.avail.idx++

	mmioWrite32(VIRTIO0, vioQueueNotify, 0)

	for b.used.idx == b.lastUsedIdx {
	}
	b.lastUsedIdx = b.used.idx

	if status != 0 {
		return newError("blk", "device reported request failure")
	}
	return nil
}

// blkRead/blkWrite back the filesystem's sector I/O (spec.md §4.H).
func (b *BlockDevice) blkRead(sector uint64, buf []byte) *Error {
	return b.submit(sector, buf, false)
}

func (b *BlockDevice) blkWrite(sector uint64, buf []byte) *Error {
	return b.submit(sector, buf, true)
}

// blkIntr acknowledges the virtio interrupt-status register; called by the
// trap core on any claimed PLIC IRQ in [1,8] (spec.md §4.F/§4.H). Completion
// itself is observed synchronously by submit's spin-wait, matching the
// original source's trap.c calling blk_intr() unconditionally without
// threading a result back through the scheduler.
func (b *BlockDevice) blkIntr() {
	status := mmioRead32(VIRTIO0, vioInterruptStatus)
	mmioWrite32(VIRTIO0, vioInterruptACK, status)
}
