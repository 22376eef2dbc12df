package queue

import (
	"unsafe"

	nvmehost "github.com/behrlich/nvmehost"
	"github.com/behrlich/nvmehost/dma"
	"github.com/behrlich/nvmehost/regs"
)

// Continuation is a one-shot command completion callback, invoked with the
// raw completion status field (0 = success). It is detached from its slot
// before being invoked and may itself call Produce/Submit on the same SQ —
// re-entrancy is well-defined precisely because the slot has already been
// vacated by the time the continuation runs.
type Continuation func(status uint16)

// SubmissionQueue is a ring of regs.SQE entries in DMA memory plus a
// parallel vector of per-slot continuations, indexed by CID (which always
// equals the slot index — see regs.SQE.Reset).
type SubmissionQueue struct {
	Queue

	tail        uint16
	callbacks   []Continuation
	sglScratch  *dma.Buffer // nil unless SGLs are enabled for this queue
	sglsPerCmd  int
}

// NewSubmissionQueue allocates an SQ ring of size entries (indexed at y,
// stride dstrd) in the given DMA space, seeding every slot's CID to its
// index. If sglsPerCmd > 0, a size*sglsPerCmd*16-byte SGL scratch table is
// also allocated and indexed by CID, per §4.4.
func NewSubmissionQueue(space dma.Space, mmio MMIO, y uint32, dstrd uint8, size uint16, sglsPerCmd int) (*SubmissionQueue, error) {
	ringBytes := int(size) * int(unsafe.Sizeof(regs.SQE{}))
	ring, err := dma.Alloc(space, ringBytes, dma.DirToDevice)
	if err != nil {
		return nil, nvmehost.WrapError("CREATE_SQ", err)
	}

	sq := &SubmissionQueue{
		Queue: Queue{
			size:      size,
			y:         y,
			dstrd:     dstrd,
			mmio:      mmio,
			ring:      ring,
			entrySize: int(unsafe.Sizeof(regs.SQE{})),
		},
		callbacks: make([]Continuation, size),
	}

	for i := uint16(0); i < size; i++ {
		sq.entryAt(i).SetCID(i)
	}

	if sglsPerCmd > 0 {
		sglBytes := int(size) * sglsPerCmd * regs.SGLDescriptorSize
		scratch, err := dma.Alloc(space, sglBytes, dma.DirToDevice)
		if err != nil {
			ring.Unref()
			return nil, nvmehost.WrapError("CREATE_SQ", err)
		}
		sq.sglScratch = scratch
		sq.sglsPerCmd = sglsPerCmd
	}

	return sq, nil
}

func (sq *SubmissionQueue) entryAt(i uint16) *regs.SQE {
	off := int(i) * sq.entrySize
	return (*regs.SQE)(unsafe.Pointer(&sq.ring.Virt()[off]))
}

// IsFull reports the fullness predicate from §3: head == (tail+1) mod N.
func (sq *SubmissionQueue) IsFull() bool {
	return sq.head == sq.wrapAround(sq.tail+1)
}

// Depth returns the number of commands currently outstanding (submitted but
// not yet completed), for queue-depth sampling.
func (sq *SubmissionQueue) Depth() uint32 {
	if sq.tail >= sq.head {
		return uint32(sq.tail - sq.head)
	}
	return uint32(sq.size) - uint32(sq.head-sq.tail)
}

// Produce returns the next free SQE (with all fields but CID reset), or nil
// if the queue is full or the slot's previous continuation has not yet
// fired. Callers must fill in the returned entry and call Submit with a
// continuation before the tail doorbell write becomes visible to the
// device — Produce alone does not advance any doorbell.
func (sq *SubmissionQueue) Produce() *regs.SQE {
	if sq.IsFull() {
		return nil
	}
	if sq.callbacks[sq.tail] != nil {
		// The slot's previous completion has not yet been detached and
		// invoked; it is not safe to reuse.
		return nil
	}
	sqe := sq.entryAt(sq.tail)
	sq.tail = sq.wrapAround(sq.tail + 1)
	sqe.Reset()
	return sqe
}

// EntryAt exposes the raw ring slot at index i, for tests that need to
// inspect a produced command's fields (e.g. its PRP1 target) before
// posting a synthetic completion.
func (sq *SubmissionQueue) EntryAt(i uint16) *regs.SQE { return sq.entryAt(i) }

// SGLTableAddr returns the bus address of the SGL scratch region reserved
// for the given CID, per §4.5's `SGL_table_phys + cid * Ioq_sgls *
// sizeof(SGL_desc)` formula.
func (sq *SubmissionQueue) SGLTableAddr(cid uint16) uint64 {
	return sq.sglScratch.PhysAt(int(cid) * sq.sglsPerCmd * regs.SGLDescriptorSize)
}

// SGLTableEntries returns the writable SGL descriptor slots reserved for
// the given CID.
func (sq *SubmissionQueue) SGLTableEntries(cid uint16) []regs.SGLDescriptor {
	off := int(cid) * sq.sglsPerCmd * regs.SGLDescriptorSize
	buf := sq.sglScratch.Virt()[off : off+sq.sglsPerCmd*regs.SGLDescriptorSize]
	return unsafe.Slice((*regs.SGLDescriptor)(unsafe.Pointer(&buf[0])), sq.sglsPerCmd)
}

// SGLsPerCommand reports how many SGL descriptor slots are reserved per
// command, or 0 if SGLs are not enabled on this queue.
func (sq *SubmissionQueue) SGLsPerCommand() int { return sq.sglsPerCmd }

// Submit installs cb as the continuation for the slot most recently
// returned by Produce (identified by its CID) and writes the tail doorbell.
// The command is now owned by the device; Submit itself never fails.
func (sq *SubmissionQueue) Submit(cid uint16, cb Continuation) {
	sq.callbacks[cid] = cb
	sq.mmio.Write32(sq.tdbl(), uint32(sq.tail))
}

// Complete detaches and returns the continuation registered for cid,
// clearing the slot so it can be reused by a future Produce. Returns nil if
// no continuation was registered (a spurious or duplicate completion).
func (sq *SubmissionQueue) Complete(cid uint16) Continuation {
	if int(cid) >= len(sq.callbacks) {
		return nil
	}
	cb := sq.callbacks[cid]
	sq.callbacks[cid] = nil
	return cb
}

// AdvanceHead moves the SQ head to match the device-reported SQHD from a
// completion, freeing slots the device has consumed.
func (sq *SubmissionQueue) AdvanceHead(sqhd uint16) {
	sq.head = sqhd
}

func (sq *SubmissionQueue) tdbl() uint32 {
	return regs.SQDoorbellOffset(sq.y, sq.dstrd)
}

// Close releases the ring and, if present, the SGL scratch table.
func (sq *SubmissionQueue) Close() error {
	if sq.sglScratch != nil {
		sq.sglScratch.Unref()
	}
	return sq.Queue.Close()
}
