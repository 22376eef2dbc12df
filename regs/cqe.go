package regs

import "unsafe"

// CQE is a 16-byte Completion Queue Entry.
type CQE struct {
	DW0 uint32 // command-specific
	DW1 uint32 // reserved
	DW2 uint32 // SQ head pointer, SQ identifier
	DW3 uint32 // command identifier, phase tag, status field
}

// Compile-time size check - must be exactly 16 bytes per the NVMe spec.
var _ [16]byte = [unsafe.Sizeof(CQE{})]byte{}

// SQID extracts bits 16-31 of dw2, the identifier of the SQ this
// completion refers to.
func (c *CQE) SQID() uint16 { return uint16(c.DW2 >> 16) }

// SQHD extracts bits 0-15 of dw2, the SQ head pointer the device is
// reporting as freed.
func (c *CQE) SQHD() uint16 { return uint16(c.DW2 & 0xFFFF) }

// CID extracts bits 0-15 of dw3, the Command Identifier this completion
// answers.
func (c *CQE) CID() uint16 { return uint16(c.DW3 & 0xFFFF) }

// Phase extracts bit 16 of dw3, the Phase Tag.
func (c *CQE) Phase() bool { return c.DW3&(1<<16) != 0 }

// Status extracts bits 17-31 of dw3, the Status Field.
func (c *CQE) Status() uint16 { return uint16((c.DW3 >> 17) & 0x7FFF) }

// SetSQID sets bits 16-31 of dw2. Used by test harnesses posting synthetic
// completions; a real device fills this field itself.
func (c *CQE) SetSQID(sqid uint16) { c.DW2 = (c.DW2 & 0xFFFF) | (uint32(sqid) << 16) }

// SetSQHD sets bits 0-15 of dw2.
func (c *CQE) SetSQHD(sqhd uint16) { c.DW2 = (c.DW2 &^ 0xFFFF) | uint32(sqhd) }

// SetCID sets bits 0-15 of dw3.
func (c *CQE) SetCID(cid uint16) { c.DW3 = (c.DW3 &^ 0xFFFF) | uint32(cid) }

// SetPhase sets bit 16 of dw3.
func (c *CQE) SetPhase(p bool) {
	if p {
		c.DW3 |= 1 << 16
	} else {
		c.DW3 &^= 1 << 16
	}
}

// SetStatus sets bits 17-31 of dw3.
func (c *CQE) SetStatus(status uint16) {
	c.DW3 = (c.DW3 &^ (0x7FFF << 17)) | (uint32(status&0x7FFF) << 17)
}

// Fill populates every field of a synthetic completion at once, for test
// harnesses posting completions the way a device would.
func (c *CQE) Fill(sqid, sqhd, cid, status uint16, phase bool) {
	c.DW0 = 0
	c.DW1 = 0
	c.SetSQID(sqid)
	c.SetSQHD(sqhd)
	c.SetCID(cid)
	c.SetPhase(phase)
	c.SetStatus(status)
}
