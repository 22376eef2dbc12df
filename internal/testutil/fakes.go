// Package testutil provides fakes for the external collaborators the
// nvmehost driver core consumes (MMIO register block, DMA space, PCI bus,
// interrupt controller), so packages can be unit tested without real
// hardware. Modeled after the teacher's MockBackend: track calls, mimic
// just enough behavior to drive the code under test, nothing more.
package testutil

import (
	"encoding/binary"
	"sync"
	"unsafe"

	"github.com/behrlich/nvmehost/dma"
	"github.com/behrlich/nvmehost/irq"
)

// FakeMMIO backs a controller's register block with a plain byte slice big
// enough to hold every register this driver touches, including the
// doorbell region.
type FakeMMIO struct {
	mu   sync.Mutex
	regs [0x2000]byte

	// Writes records every Write32 (doorbell writes included) in order, for
	// tests asserting on doorbell arithmetic (invariant 4).
	Writes []DoorbellWrite
}

// DoorbellWrite records one MMIO write for test assertions.
type DoorbellWrite struct {
	Offset uint32
	Value  uint32
}

func NewFakeMMIO() *FakeMMIO { return &FakeMMIO{} }

func (m *FakeMMIO) Read32(offset uint32) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return binary.LittleEndian.Uint32(m.regs[offset : offset+4])
}

func (m *FakeMMIO) Read64(offset uint32) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return binary.LittleEndian.Uint64(m.regs[offset : offset+8])
}

func (m *FakeMMIO) Write32(offset uint32, value uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	binary.LittleEndian.PutUint32(m.regs[offset:offset+4], value)
	m.Writes = append(m.Writes, DoorbellWrite{Offset: offset, Value: value})
}

func (m *FakeMMIO) Write64(offset uint32, value uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	binary.LittleEndian.PutUint64(m.regs[offset:offset+8], value)
}

// SetRegister32 and SetRegister64 let a test preload a register value
// (e.g. CAP) before bring-up runs.
func (m *FakeMMIO) SetRegister32(offset uint32, value uint32) { m.Write32(offset, value) }
func (m *FakeMMIO) SetRegister64(offset uint32, value uint64) { m.Write64(offset, value) }

// FakeDMASpace hands out fabricated bus addresses by bumping a counter —
// good enough for tests that only need Phys()/Map() to round-trip
// consistently, not to match real IOMMU behavior.
type FakeDMASpace struct {
	mu   sync.Mutex
	next uint64
	live map[uint64]unsafe.Pointer
}

func NewFakeDMASpace() *FakeDMASpace {
	return &FakeDMASpace{next: 0x4_0000_0000, live: make(map[uint64]unsafe.Pointer)}
}

func (s *FakeDMASpace) Map(virt unsafe.Pointer, size int, dir dma.Direction) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bus := s.next
	s.next += uint64(size)
	s.live[bus] = virt
	return bus, nil
}

func (s *FakeDMASpace) Unmap(bus uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.live, bus)
	return nil
}

// VirtFor returns the virtual bytes backing a previously mapped bus
// address, letting a test populate a DMA buffer the way a device's write
// would, keyed by the physical address the code under test put in a
// PRP/SGL field. size must not exceed the originally mapped region.
func (s *FakeDMASpace) VirtFor(bus uint64, size int) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	ptr, ok := s.live[bus]
	if !ok {
		return nil
	}
	return unsafe.Slice((*byte)(ptr), size)
}

// FakePCIBus mimics one PCI function's config/BAR-map surface (pci.Device)
// with in-memory config space, for tests of PCI discovery helpers. It has
// no Enumerate method and does not implement pci.Bus.
type FakePCIBus struct {
	Config [256]byte
	BAR    []byte // fake MMIO backing store returned by MapBAR
}

func NewFakePCIBus(class, subclass, progIF uint8) *FakePCIBus {
	b := &FakePCIBus{}
	binary.LittleEndian.PutUint32(b.Config[8:12], uint32(class)<<24|uint32(subclass)<<16|uint32(progIF)<<8)
	return b
}

func (b *FakePCIBus) ConfigRead32(offset uint32) uint32 {
	return binary.LittleEndian.Uint32(b.Config[offset : offset+4])
}

func (b *FakePCIBus) ConfigWrite32(offset uint32, v uint32) {
	binary.LittleEndian.PutUint32(b.Config[offset:offset+4], v)
}

func (b *FakePCIBus) ConfigRead16(offset uint32) uint16 {
	return binary.LittleEndian.Uint16(b.Config[offset : offset+2])
}

func (b *FakePCIBus) ConfigWrite16(offset uint32, v uint16) {
	binary.LittleEndian.PutUint16(b.Config[offset:offset+2], v)
}

// MapBAR implements pci.Device by returning the fake MMIO backing store,
// allocating it on first use.
func (b *FakePCIBus) MapBAR(bar int) ([]byte, error) {
	if b.BAR == nil {
		b.BAR = make([]byte, 0x2000)
	}
	return b.BAR, nil
}

// FakeIRQ lets a test fire synthetic interrupts and records bind/unmask calls.
type FakeIRQ struct {
	mu       sync.Mutex
	Bound    bool
	Unmasked int
	trigger  irq.TriggerType
	handler  func()
}

func NewFakeIRQ() *FakeIRQ { return &FakeIRQ{} }

// Bind implements irq.Controller.
func (f *FakeIRQ) Bind(irqNum int, trigger irq.TriggerType, handler func()) (irq.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Bound = true
	f.trigger = trigger
	f.handler = handler
	return f, nil
}

// Unmask implements irq.Handle.
func (f *FakeIRQ) Unmask() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Unmasked++
}

// Trigger implements irq.Handle.
func (f *FakeIRQ) Trigger() irq.TriggerType { return f.trigger }

// Fire synchronously invokes the bound handler, simulating an interrupt.
func (f *FakeIRQ) Fire() {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		h()
	}
}
