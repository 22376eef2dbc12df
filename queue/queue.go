// Package queue implements NVMe Submission Queue and Completion Queue
// primitives: fixed-size rings in DMA memory, MMIO doorbells, and, for
// submission queues, a parallel vector of per-slot completion
// continuations. Grounded on the same head/tail/mask ring arithmetic the
// teacher's io_uring client uses for its own SQ/CQ pair, generalized from
// an in-kernel ring to an NVMe device's MMIO-doorbelled one.
package queue

import (
	"github.com/behrlich/nvmehost/dma"
)

// MMIO is the narrow doorbell-writing surface a Queue needs from the
// controller's register block. Kept separate from the full register set so
// a queue never needs anything but doorbell access.
type MMIO interface {
	Write32(offset uint32, value uint32)
}

// Queue holds the state common to submission and completion queues: size,
// own index, doorbell stride, the MMIO handle, the head pointer, and the
// backing DMA ring.
type Queue struct {
	size  uint16
	y     uint32 // queue index (0 = admin)
	dstrd uint8
	mmio  MMIO
	head  uint16
	ring  *dma.Buffer

	entrySize int
}

func (q *Queue) wrapAround(i uint16) uint16 {
	return i % q.size
}

// Size returns the number of entries in the ring.
func (q *Queue) Size() uint16 { return q.size }

// PhysBase returns the ring's bus address, for ASQ/ACQ/PRP1 registration.
func (q *Queue) PhysBase() uint64 { return q.ring.Phys() }

// Close releases the ring's DMA buffer.
func (q *Queue) Close() error { return q.ring.Unref() }
