package queue

import (
	"unsafe"

	nvmehost "github.com/behrlich/nvmehost"
	"github.com/behrlich/nvmehost/dma"
	"github.com/behrlich/nvmehost/regs"
)

// CompletionQueue is a ring of regs.CQE entries in DMA memory with an
// expected phase bit that flips every time the head wraps.
type CompletionQueue struct {
	Queue

	phase bool // expected phase, starts true per §3
}

// NewCompletionQueue allocates a CQ ring of size entries at queue index y.
func NewCompletionQueue(space dma.Space, mmio MMIO, y uint32, dstrd uint8, size uint16) (*CompletionQueue, error) {
	ringBytes := int(size) * int(unsafe.Sizeof(regs.CQE{}))
	ring, err := dma.Alloc(space, ringBytes, dma.DirFromDevice)
	if err != nil {
		return nil, nvmehost.WrapError("CREATE_CQ", err)
	}

	return &CompletionQueue{
		Queue: Queue{
			size:      size,
			y:         y,
			dstrd:     dstrd,
			mmio:      mmio,
			ring:      ring,
			entrySize: int(unsafe.Sizeof(regs.CQE{})),
		},
		phase: true,
	}, nil
}

func (cq *CompletionQueue) entryAt(i uint16) *regs.CQE {
	off := int(i) * cq.entrySize
	return (*regs.CQE)(unsafe.Pointer(&cq.ring.Virt()[off]))
}

// EntryAt exposes the raw ring slot at index i, for tests that need to
// poke phase-tagged entries the way the device would.
func (cq *CompletionQueue) EntryAt(i uint16) *regs.CQE { return cq.entryAt(i) }

// Head returns the queue's current head index, for test harnesses that
// need to know which ring slot the next device-posted completion belongs
// in.
func (cq *CompletionQueue) Head() uint16 { return cq.head }

// ExpectedPhase returns the phase tag Consume currently expects, for test
// harnesses posting synthetic completions.
func (cq *CompletionQueue) ExpectedPhase() bool { return cq.phase }

// Consume reads the entry at the current head; if its phase tag matches
// the CQ's expected phase, advances the head (flipping the expected phase
// on wraparound) and returns the entry. Otherwise returns nil — there is
// nothing new to consume yet. This is the only synchronization NVMe
// completions use: no lock, just a volatile phase-bit compare.
func (cq *CompletionQueue) Consume() *regs.CQE {
	cqe := cq.entryAt(cq.head)
	if cqe.Phase() != cq.phase {
		return nil
	}
	cq.head = cq.wrapAround(cq.head + 1)
	if cq.head == 0 {
		cq.phase = !cq.phase
	}
	return cqe
}

// RingDoorbell writes the current head to the completion-head doorbell,
// telling the device these slots may be reused.
func (cq *CompletionQueue) RingDoorbell() {
	cq.mmio.Write32(cq.hdbl(), uint32(cq.head))
}

func (cq *CompletionQueue) hdbl() uint32 {
	return regs.CQDoorbellOffset(cq.y, cq.dstrd)
}
