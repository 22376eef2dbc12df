// Package dma implements reference-counted, DMA-mappable I/O buffers: a
// virtual mapping plus a physical (bus) address, used for queue rings, SGL
// scratch tables, and Identify command payloads.
package dma

import (
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	nvmehost "github.com/behrlich/nvmehost"
)

// Direction mirrors the DMA-space collaborator's transfer direction, so a
// Buffer can be mapped read-only, write-only, or bidirectionally.
type Direction int

const (
	// DirToDevice: host writes, device reads (submission queues, write payloads).
	DirToDevice Direction = iota
	// DirFromDevice: device writes, host reads (completion queues, read payloads,
	// Identify responses).
	DirFromDevice
	// DirBidirectional is used for scratch regions touched by both sides.
	DirBidirectional
)

// Space is the DMA-space collaborator interface this package's Buffer
// delegates to for the actual host<->bus address translation. A real
// implementation asks the kernel/hypervisor to pin and translate memory; a
// test implementation can just invent bus addresses.
type Space interface {
	// Map translates a virtual range into a bus address valid for dir.
	Map(virt unsafe.Pointer, size int, dir Direction) (bus uint64, err error)
	// Unmap releases a previously mapped bus address.
	Unmap(bus uint64) error
}

// Buffer is a reference-counted region of DMA-coherent, cache-uncached
// memory with both a virtual mapping and a physical (bus) address.
//
// It is obtained via unix.Mmap with MAP_SHARED|MAP_ANONYMOUS so the region
// is page-aligned and zero-filled, then handed to the Space collaborator to
// obtain a bus address the controller can be given directly in PRP/SGL
// fields. Ref/Unref let a buffer outlive the call that created it (an SGL
// scratch table is referenced by every in-flight command that indexes it)
// without the driver's single-threaded model needing a lock around the
// counter itself — Unref is only ever called from the one event loop.
type Buffer struct {
	space Space
	virt  []byte
	bus   uint64
	refs  atomic.Int32
}

// Alloc mmaps size bytes (rounded up to a page) of anonymous, zeroed memory
// and maps it into the given DMA space for dir. The returned Buffer starts
// with one reference.
func Alloc(space Space, size int, dir Direction) (*Buffer, error) {
	rounded := roundPage(size)
	virt, err := unix.Mmap(-1, 0, rounded, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, nvmehost.WrapError("DMA_ALLOC", err)
	}

	bus, err := space.Map(unsafe.Pointer(&virt[0]), rounded, dir)
	if err != nil {
		unix.Munmap(virt)
		return nil, nvmehost.WrapError("DMA_ALLOC", err)
	}

	b := &Buffer{space: space, virt: virt, bus: bus}
	b.refs.Store(1)
	return b, nil
}

func roundPage(size int) int {
	const page = 4096
	return (size + page - 1) &^ (page - 1)
}

// Virt returns the buffer's host-virtual bytes.
func (b *Buffer) Virt() []byte { return b.virt }

// Phys returns the buffer's bus address, valid as a PRP or SGL pointer.
func (b *Buffer) Phys() uint64 { return b.bus }

// PhysAt returns the bus address of a byte offset within the buffer, used
// for SGL scratch tables indexed by command identifier.
func (b *Buffer) PhysAt(offset int) uint64 { return b.bus + uint64(offset) }

// Ref increments the reference count.
func (b *Buffer) Ref() { b.refs.Add(1) }

// Unref decrements the reference count, releasing the mapping and munmapping
// the region when it reaches zero.
func (b *Buffer) Unref() error {
	if b.refs.Add(-1) > 0 {
		return nil
	}
	if err := b.space.Unmap(b.bus); err != nil {
		return nvmehost.WrapError("DMA_UNMAP", err)
	}
	return unix.Munmap(b.virt)
}
