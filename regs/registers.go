// Package regs defines the NVMe controller register layout, the fixed-size
// submission/completion queue entries, and the admin/NVM opcode tables this
// driver core exchanges with the device.
package regs

// Controller register offsets, relative to BAR0/BAR1 (§6 of the driver spec).
const (
	OffCAP    = 0x00 // Controller Capabilities, 64-bit
	OffVS     = 0x08 // Version
	OffINTMS  = 0x0C // Interrupt Mask Set
	OffINTMC  = 0x10 // Interrupt Mask Clear
	OffCC     = 0x14 // Controller Configuration
	OffCSTS   = 0x1C // Controller Status
	OffAQA    = 0x24 // Admin Queue Attributes
	OffASQ    = 0x28 // Admin Submission Queue Base Address, 64-bit
	OffACQ    = 0x30 // Admin Completion Queue Base Address, 64-bit
	OffDoorbellBase = 0x1000
)

// PCI config-space offsets used to discover and bind the device.
const (
	PCIOffClassCode = 0x08 // upper 24 bits of dword: class/subclass/prog-if
	PCIOffBAR0Low   = 0x10
	PCIOffBAR0High  = 0x14
	PCIOffCommand   = 0x04
)

// NVMe mass-storage class/subclass/prog-if triple.
const (
	PCIClassMassStorage   = 0x01
	PCIClassNVM           = 0x08
	PCIClassNVMeProgIF    = 0x02
)

// PCICommandBusMaster is bit 2 of the 16-bit PCI command register.
const PCICommandBusMaster = 1 << 2

// Cap is the 64-bit Controller Capabilities register (CAP), read once at
// bring-up and cached — the device never changes it while EN=1.
type Cap uint64

func (c Cap) MQES() uint16   { return uint16(c & 0xFFFF) }
func (c Cap) CQR() bool      { return c&(1<<16) != 0 }
func (c Cap) AMS() uint8     { return uint8((c >> 17) & 0x3) }
func (c Cap) Timeout() uint8 { return uint8((c >> 24) & 0xFF) }
func (c Cap) DSTRD() uint8   { return uint8((c >> 32) & 0xF) }

// CSS returns the raw 8-bit command-set-supported field. Bit 0 of this
// field (CSS.NVM) must be set for this driver to proceed.
func (c Cap) CSS() uint8 { return uint8((c >> 37) & 0xFF) }

// SupportsNVMCommandSet reports CSS bit 0.
func (c Cap) SupportsNVMCommandSet() bool { return c.CSS()&0x1 != 0 }

func (c Cap) MPSMIN() uint8 { return uint8((c >> 48) & 0xF) }
func (c Cap) MPSMAX() uint8 { return uint8((c >> 52) & 0xF) }

// DoorbellStride returns D = 4 << DSTRD, the byte spacing between adjacent
// doorbell registers.
func (c Cap) DoorbellStride() uint32 { return 4 << c.DSTRD() }

// AMS values for CC.AMS / CAP.AMS.
const (
	AMSRoundRobin = 0
)

// CSS values for CC.CSS.
const (
	CSSNVMCommandSet = 0
)

// Cc is the 32-bit Controller Configuration register, written by the host
// during bring-up.
type Cc uint32

func (c Cc) EN() bool  { return c&0x1 != 0 }
func (c Cc) CSS() uint8 { return uint8((c >> 4) & 0x7) }
func (c Cc) MPS() uint8 { return uint8((c >> 7) & 0xF) }
func (c Cc) AMS() uint8 { return uint8((c >> 11) & 0x7) }
func (c Cc) IOSQES() uint8 { return uint8((c >> 16) & 0xF) }
func (c Cc) IOCQES() uint8 { return uint8((c >> 20) & 0xF) }

// BuildCC assembles a Controller Configuration value per §4.1(h): the host
// page-size shift, round-robin arbitration, the NVM command set, and the
// fixed I/O entry-size exponents this core requires (IOSQES=6 -> 64B,
// IOCQES=4 -> 16B), with EN left clear so the caller sets it last.
func BuildCC(mps uint8) Cc {
	var cc Cc
	cc |= Cc(CSSNVMCommandSet) << 4
	cc |= Cc(mps&0xF) << 7
	cc |= Cc(AMSRoundRobin) << 11
	cc |= Cc(6) << 16 // IOSQES: 64-byte submission entries
	cc |= Cc(4) << 20 // IOCQES: 16-byte completion entries
	return cc
}

// WithEnable returns cc with the EN bit set or cleared.
func (c Cc) WithEnable(en bool) Cc {
	if en {
		return c | 0x1
	}
	return c &^ 0x1
}

// Csts is the 32-bit Controller Status register.
type Csts uint32

func (c Csts) RDY() bool  { return c&0x1 != 0 }
func (c Csts) CFS() bool  { return c&0x2 != 0 }
func (c Csts) SHST() uint8 { return uint8((c >> 2) & 0x3) }

// Aqa is the 32-bit Admin Queue Attributes register: both queue sizes
// encoded as N-1, in 12-bit fields.
type Aqa uint32

// BuildAQA packs admin submission/completion queue sizes (N, not N-1) into
// an AQA value.
func BuildAQA(sqSize, cqSize uint16) Aqa {
	return Aqa(uint32(sqSize-1)&0xFFF) | Aqa((uint32(cqSize-1)&0xFFF)<<16)
}

// SQDoorbellOffset returns the tail-doorbell MMIO offset for queue index y,
// per §3: 0x1000 + 2*y*D.
func SQDoorbellOffset(y uint32, dstrd uint8) uint32 {
	d := uint32(4) << dstrd
	return OffDoorbellBase + 2*y*d
}

// CQDoorbellOffset returns the head-doorbell MMIO offset for queue index y,
// per §3: 0x1000 + (2*y+1)*D.
func CQDoorbellOffset(y uint32, dstrd uint8) uint32 {
	d := uint32(4) << dstrd
	return OffDoorbellBase + (2*y+1)*d
}

// IsNVMeController reports whether the given PCI class/subclass/prog-if
// triple (as packed into the upper 24 bits of config dword 0x08) identifies
// an NVMe mass-storage controller.
func IsNVMeController(classDword uint32) bool {
	class := uint8(classDword >> 24)
	subclass := uint8(classDword >> 16)
	progIF := uint8(classDword >> 8)
	return class == PCIClassMassStorage && subclass == PCIClassNVM && progIF == PCIClassNVMeProgIF
}
