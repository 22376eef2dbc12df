package namespace

import (
	"fmt"
	"time"

	nvmehost "github.com/behrlich/nvmehost"
	"github.com/behrlich/nvmehost/regs"
)

// Segment describes one scatter/gather input segment for an SGL-mode
// Read/Write: a DMA bus address and a sector count at this namespace's LBA
// size.
type Segment struct {
	DMAAddr    uint64
	NumSectors uint32
}

// Continuation reports one command's outcome: the raw completion status
// (0 = success) and, for reads/writes, the byte count transferred.
type Continuation func(status uint16, bytesTransferred int)

// preparePRP implements the §4.5 PRP classifier (invariant 5 / scenarios
// S1-S3): a transfer must fit in at most two adjacent host pages, since
// this driver never builds a PRP list.
func preparePRP(paddr uint64, sz int, pageSize uint32) (prp1, prp2 uint64, err error) {
	page := uint64(pageSize)
	first := paddr &^ (page - 1)
	last := (paddr + uint64(sz) - 1) &^ (page - 1)

	switch {
	case first == last:
		return paddr, 0, nil
	case last == first+page:
		return paddr, last, nil
	default:
		return 0, 0, nvmehost.NewError("PREPARE_PRP", nvmehost.ErrCodePrecondition,
			"transfer spans more than two adjacent pages, which requires a PRP list this driver does not build")
	}
}

// prepareSGL writes segments into this command's reserved SGL scratch
// table and returns the inline SGL1 descriptor pointing at that table
// (§4.5, scenario S4). It returns the total sector count so the caller can
// finish NLB encoding.
func (ns *Namespace) prepareSGL(cid uint16, segments []Segment) (regs.SGLDescriptor, uint32, error) {
	maxSegs := ns.iosq.SGLsPerCommand()
	if len(segments) == 0 || len(segments) > maxSegs {
		return regs.SGLDescriptor{}, 0, nvmehost.NewError("PREPARE_SGL", nvmehost.ErrCodePrecondition,
			fmt.Sprintf("segment count %d exceeds table capacity %d", len(segments), maxSegs))
	}

	table := ns.iosq.SGLTableEntries(cid)
	var totalSectors uint32
	for i, seg := range segments {
		table[i] = regs.SGLDescriptor{
			ID:   regs.SGLIDData,
			Addr: seg.DMAAddr,
			Len:  seg.NumSectors * ns.lbaSize,
		}
		totalSectors += seg.NumSectors
	}

	sgl1 := regs.SGLDescriptor{
		ID:   regs.SGLIDLastSegment,
		Addr: ns.iosq.SGLTableAddr(cid),
		Len:  uint32(len(segments)) * regs.SGLDescriptorSize,
	}
	return sgl1, totalSectors, nil
}

// submitPRP fills and submits a Read/Write command addressed by a single
// physical buffer, per the PRP mode of §4.5.
func (ns *Namespace) submitPRP(opcode uint8, slba uint64, paddr uint64, sz int, cb Continuation) error {
	prp1, prp2, err := preparePRP(paddr, sz, ns.host.HostPageSize())
	if err != nil {
		return err
	}

	sectors := uint32(sz) / ns.lbaSize
	if sectors == 0 {
		return nvmehost.NewNamespaceError("SUBMIT_RW", ns.host.CtrlID(), ns.nsid, nvmehost.ErrCodePrecondition, "transfer smaller than one LBA")
	}

	sqe := ns.iosq.Produce()
	if sqe == nil {
		return nvmehost.NewNamespaceError("SUBMIT_RW", ns.host.CtrlID(), ns.nsid, nvmehost.ErrCodeQueueFull, "I/O submission queue has no free slot")
	}

	sqe.SetOpcode(opcode)
	sqe.NSID = ns.nsid
	sqe.SetPSDT(regs.PSDTUsePRPs)
	sqe.SetPRP1(prp1)
	sqe.SetPRP2(prp2)
	sqe.SetSLBA(slba)
	sqe.SetNLB(uint16(sectors - 1))

	ns.log.IOStart(opcodeName(opcode), slba, sqe.NLB())
	cid := sqe.CID()
	start := time.Now()
	ns.iosq.Submit(cid, func(status uint16) {
		ns.observeRW(opcode, uint64(sz), time.Since(start), status == 0)
		cb(status, sz)
	})
	ns.obs.ObserveQueueDepth(ns.iosq.Depth())
	return nil
}

// submitSGL fills and submits a Read/Write command addressed by a
// scatter/gather list, per the SGL mode of §4.5.
func (ns *Namespace) submitSGL(opcode uint8, slba uint64, segments []Segment, cb Continuation) error {
	// Reject a bad segment count before Produce, so a rejected request does
	// not take a ring slot that a later Submit would publish to the device.
	if maxSegs := ns.iosq.SGLsPerCommand(); len(segments) == 0 || len(segments) > maxSegs {
		return nvmehost.NewError("PREPARE_SGL", nvmehost.ErrCodePrecondition,
			fmt.Sprintf("segment count %d exceeds table capacity %d", len(segments), maxSegs))
	}

	sqe := ns.iosq.Produce()
	if sqe == nil {
		return nvmehost.NewNamespaceError("SUBMIT_RW", ns.host.CtrlID(), ns.nsid, nvmehost.ErrCodeQueueFull, "I/O submission queue has no free slot")
	}
	cid := sqe.CID()

	sgl1, sectors, err := ns.prepareSGL(cid, segments)
	if err != nil {
		// prepareSGL only rejects a segment count, which was checked above
		// before the slot was produced.
		return err
	}

	sqe.SetOpcode(opcode)
	sqe.NSID = ns.nsid
	sqe.SetPSDT(regs.PSDTUseSGLs)
	sqe.SetSGL1(sgl1)
	sqe.SetSLBA(slba)
	sqe.SetNLB(uint16(sectors - 1))

	ns.log.IOStart(opcodeName(opcode), slba, sqe.NLB())
	start := time.Now()
	ns.iosq.Submit(cid, func(status uint16) {
		sz := int(sectors * ns.lbaSize)
		ns.observeRW(opcode, uint64(sz), time.Since(start), status == 0)
		cb(status, sz)
	})
	ns.obs.ObserveQueueDepth(ns.iosq.Depth())
	return nil
}

// observeRW records a completed Read or Write into the namespace's metrics
// observer, keyed off the opcode shared by submitPRP/submitSGL.
func (ns *Namespace) observeRW(opcode uint8, bytes uint64, latency time.Duration, success bool) {
	if opcode == regs.OpNVMWrite {
		ns.obs.ObserveWrite(bytes, uint64(latency.Nanoseconds()), success)
	} else {
		ns.obs.ObserveRead(bytes, uint64(latency.Nanoseconds()), success)
	}
}

// Read submits a read starting at slba into a single physical buffer via
// PRP. ReadSGL is the scatter/gather counterpart.
func (ns *Namespace) Read(slba uint64, paddr uint64, sz int, cb Continuation) error {
	return ns.submitPRP(regs.OpNVMRead, slba, paddr, sz, cb)
}

// ReadSGL submits a scatter/gather read.
func (ns *Namespace) ReadSGL(slba uint64, segments []Segment, cb Continuation) error {
	return ns.submitSGL(regs.OpNVMRead, slba, segments, cb)
}

// Write submits a write starting at slba from a single physical buffer via PRP.
func (ns *Namespace) Write(slba uint64, paddr uint64, sz int, cb Continuation) error {
	return ns.submitPRP(regs.OpNVMWrite, slba, paddr, sz, cb)
}

// WriteSGL submits a scatter/gather write.
func (ns *Namespace) WriteSGL(slba uint64, segments []Segment, cb Continuation) error {
	return ns.submitSGL(regs.OpNVMWrite, slba, segments, cb)
}

// MaxWriteZeroesSectors is the capability this namespace advertises upstream
// for Write-Zeroes requests (§4.6): NLB is a 16-bit zero-based field, so the
// largest expressible request is 2^16 sectors.
const MaxWriteZeroesSectors = 65536

// WriteZeroes submits a Write-Zeroes command over [slba, slba+nlb) (§4.6).
// deallocate requests the device treat the range as deallocated, which only
// guarantees a deterministic zero read-back when
// MayDeallocateOnWriteZeroes() is true. True discard (TRIM) is not
// supported by this driver; nlb is a hard 65536-sector ceiling.
func (ns *Namespace) WriteZeroes(slba uint64, nlb uint32, deallocate bool, cb func(status uint16)) error {
	if nlb == 0 || nlb > MaxWriteZeroesSectors {
		return nvmehost.NewNamespaceError("WRITE_ZEROES", ns.host.CtrlID(), ns.nsid, nvmehost.ErrCodePrecondition,
			fmt.Sprintf("nlb %d out of range (1..%d)", nlb, MaxWriteZeroesSectors))
	}

	sqe := ns.iosq.Produce()
	if sqe == nil {
		return nvmehost.NewNamespaceError("WRITE_ZEROES", ns.host.CtrlID(), ns.nsid, nvmehost.ErrCodeQueueFull, "I/O submission queue has no free slot")
	}

	sqe.SetOpcode(regs.OpNVMWriteZeroes)
	sqe.NSID = ns.nsid
	sqe.SetSLBA(slba)
	sqe.SetNLB(uint16(nlb - 1))
	sqe.SetDEAC(deallocate)

	ns.log.IOStart("WRITE_ZEROES", slba, sqe.NLB())
	cid := sqe.CID()
	start := time.Now()
	bytes := uint64(nlb) * uint64(ns.lbaSize)
	ns.iosq.Submit(cid, func(status uint16) {
		ns.obs.ObserveWriteZeroes(bytes, uint64(time.Since(start).Nanoseconds()), status == 0)
		cb(status)
	})
	ns.obs.ObserveQueueDepth(ns.iosq.Depth())
	return nil
}

// Discard always fails: this driver only supports Write-Zeroes-style
// deallocation hints, never a true TRIM-style discard (§4.6, §7d).
func (ns *Namespace) Discard(slba uint64, nlb uint32) error {
	return nvmehost.NewNamespaceError("DISCARD", ns.host.CtrlID(), ns.nsid, nvmehost.ErrCodePrecondition,
		"true discard is not supported, use WriteZeroes with deallocate=true")
}

// Flush is a no-op success: this driver never enables the controller's
// volatile write cache and maintains no host-side cache (§4.7).
func (ns *Namespace) Flush(cb func(status uint16)) {
	start := time.Now()
	ns.obs.ObserveFlush(uint64(time.Since(start).Nanoseconds()), true)
	cb(0)
}

// MaxTransferBytes returns the per-request byte cap this namespace enforces
// (§4.5's MDTS rule): in SGL mode with a nonzero MDTS, the MDTS limit
// spread across the queue's SGL segment budget, capped at 4 MiB; in PRP
// mode, one host page; with MDTS == 0, the 4 MiB software ceiling alone.
func (ns *Namespace) MaxTransferBytes() uint32 {
	const softCeiling = 4 << 20
	mdts := ns.host.MDTS()
	if ns.SGLSegmentsPerCommand() == 0 {
		return ns.host.HostPageSize()
	}
	if mdts == 0 {
		return softCeiling
	}
	limit := uint64(ns.host.HostPageSize()) << mdts / uint64(ns.SGLSegmentsPerCommand())
	if limit > softCeiling {
		return softCeiling
	}
	return uint32(limit)
}

// MaxSegments reports the block-device adapter's max_segments capability
// (§4.8): the SGL table depth in SGL mode, or 1 in PRP mode.
func (ns *Namespace) MaxSegments() int {
	if n := ns.SGLSegmentsPerCommand(); n > 0 {
		return n
	}
	return 1
}

func opcodeName(opcode uint8) string {
	switch opcode {
	case regs.OpNVMRead:
		return "READ"
	case regs.OpNVMWrite:
		return "WRITE"
	case regs.OpNVMWriteZeroes:
		return "WRITE_ZEROES"
	default:
		return fmt.Sprintf("OPCODE_0x%02x", opcode)
	}
}
