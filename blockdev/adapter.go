// Package blockdev implements the adapter surface (§4.8) a client-facing
// block-device management layer consumes to expose one NVMe namespace as a
// disk: capacity/geometry reporting, discard capability advertisement, and
// a single inout_data entry point that picks PRP or SGL mode per request.
// The management layer itself (partition discovery, per-client request
// queues, request arbitration) is out of scope, per spec.md §1's Non-goals.
package blockdev

import (
	"fmt"
	"unsafe"

	nvmehost "github.com/behrlich/nvmehost"
	"github.com/behrlich/nvmehost/dma"
	"github.com/behrlich/nvmehost/namespace"
)

// Manager is the consumer-side collaborator this adapter is handed to: the
// single method spec.md §6 names, kept intentionally minimal.
type Manager interface {
	AddDisk(dev Device, onReady func(error))
}

// Device is the geometry/capability surface a Manager needs before it will
// accept a disk.
type Device interface {
	Identifier() string
	Capacity() uint64
	SectorSize() uint32
	MaxTransferBytes() uint32
	MaxSegments() int
	ReadOnly() bool
	MaxWriteZeroesSectors() uint32
	MayUnmap() bool
}

// IOResult is what an inout_data completion continuation reports upstream:
// OK is false when the completion status is nonzero (-IO), and
// BytesTransferred is the request's byte length in either case.
type IOResult struct {
	OK               bool
	BytesTransferred int
}

// Adapter wraps one namespace.Namespace with the §4.8 reporting and
// request-dispatch surface. serialNumber comes from the owning controller's
// Identify-Controller response.
type Adapter struct {
	ns           *namespace.Namespace
	serialNumber string
	dmaSpace     dma.Space
}

// New wraps ns as a block device identified by "<controller_sn>:n<nsid>".
func New(ns *namespace.Namespace, controllerSerialNumber string, dmaSpace dma.Space) *Adapter {
	return &Adapter{ns: ns, serialNumber: controllerSerialNumber, dmaSpace: dmaSpace}
}

// Identifier implements Device: "<controller_sn>:n<nsid>".
func (a *Adapter) Identifier() string {
	return fmt.Sprintf("%s:n%d", a.serialNumber, a.ns.NSID())
}

// Capacity implements Device: NSZE * lba_size.
func (a *Adapter) Capacity() uint64 { return a.ns.SizeBytes() }

// SectorSize implements Device.
func (a *Adapter) SectorSize() uint32 { return a.ns.LBASize() }

// MaxTransferBytes implements Device, per §4.5's MDTS rule.
func (a *Adapter) MaxTransferBytes() uint32 { return a.ns.MaxTransferBytes() }

// MaxSegments implements Device: Ioq_sgls in SGL mode, 1 in PRP mode.
func (a *Adapter) MaxSegments() int { return a.ns.MaxSegments() }

// ReadOnly implements Device.
func (a *Adapter) ReadOnly() bool { return a.ns.ReadOnly() }

// MaxWriteZeroesSectors implements Device: fixed at the NLB field's range.
func (a *Adapter) MaxWriteZeroesSectors() uint32 { return namespace.MaxWriteZeroesSectors }

// MayUnmap implements Device: whether Write-Zeroes with deallocate=true is
// guaranteed to read back as zero (DLFEAT.DEALLOCWZ).
func (a *Adapter) MayUnmap() bool { return a.ns.MayDeallocateOnWriteZeroes() }

// MapDMA delegates to the owning controller's DMA space, per §4.8.
func (a *Adapter) MapDMA(virt []byte, dir dma.Direction) (uint64, error) {
	if len(virt) == 0 {
		return 0, nvmehost.NewError("MAP_DMA", nvmehost.ErrCodePrecondition, "empty buffer")
	}
	bus, err := a.dmaSpace.Map(unsafe.Pointer(&virt[0]), len(virt), dir)
	if err != nil {
		return 0, nvmehost.WrapError("MAP_DMA", err)
	}
	return bus, nil
}

// UnmapDMA delegates to the owning controller's DMA space.
func (a *Adapter) UnmapDMA(bus uint64) error {
	if err := a.dmaSpace.Unmap(bus); err != nil {
		return nvmehost.WrapError("UNMAP_DMA", err)
	}
	return nil
}

// Read uses PRP mode for a single segment on a namespace whose MaxSegments
// is 1 and SGL mode otherwise, and dispatches to the namespace, capping PRP-mode sector counts to MaxTransferBytes/lba_size,
// per §4.8's inout_data contract. report is called exactly once.
func (a *Adapter) Read(slba uint64, segments []namespace.Segment, report func(IOResult)) error {
	return a.inoutData(slba, segments, report, a.ns.Read, a.ns.ReadSGL)
}

// Write is Read's write-path counterpart.
func (a *Adapter) Write(slba uint64, segments []namespace.Segment, report func(IOResult)) error {
	return a.inoutData(slba, segments, report, a.ns.Write, a.ns.WriteSGL)
}

func (a *Adapter) inoutData(
	slba uint64,
	segments []namespace.Segment,
	report func(IOResult),
	prpOp func(slba uint64, paddr uint64, sz int, cb namespace.Continuation) error,
	sglOp func(slba uint64, segments []namespace.Segment, cb namespace.Continuation) error,
) error {
	if len(segments) == 0 {
		return nvmehost.NewError("INOUT_DATA", nvmehost.ErrCodePrecondition, "no segments given")
	}

	cb := func(status uint16, bytesTransferred int) {
		report(IOResult{OK: status == 0, BytesTransferred: bytesTransferred})
	}

	if len(segments) == 1 && a.ns.MaxSegments() == 1 {
		seg := segments[0]
		maxSectors := a.MaxTransferBytes() / a.SectorSize()
		sectors := seg.NumSectors
		if sectors > maxSectors {
			sectors = maxSectors
		}
		return prpOp(slba, seg.DMAAddr, int(sectors*a.SectorSize()), cb)
	}

	return sglOp(slba, segments, cb)
}
