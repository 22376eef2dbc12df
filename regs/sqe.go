package regs

import (
	"encoding/binary"
	"unsafe"
)

// SQE is a 64-byte Submission Queue Entry, laid out to match the wire
// format exactly: no Go-side padding may change its size or field offsets.
// PRP and SGL descriptors alias the same 16 bytes (offset 24..40), matching
// the union in the device's own queue definition.
type SQE struct {
	CDW0  uint32 // opcode, PSDT, CID
	NSID  uint32
	_res  uint64
	MPTR  uint64
	// PRP1/PRP2 or SGL1, aliased — see PRP1/PRP2/SGL1 accessors below.
	Payload [16]byte
	CDW10   uint32
	CDW11   uint32
	CDW12   uint32
	CDW13   uint32
	CDW14   uint32
	CDW15   uint32
}

// Compile-time size check - must be exactly 64 bytes per the NVMe spec.
var _ [64]byte = [unsafe.Sizeof(SQE{})]byte{}

// Opcode extracts bits 0-7 of CDW0.
func (s *SQE) Opcode() uint8 { return uint8(s.CDW0 & 0xFF) }

// SetOpcode sets bits 0-7 of CDW0, leaving PSDT/CID untouched.
func (s *SQE) SetOpcode(op uint8) { s.CDW0 = (s.CDW0 &^ 0xFF) | uint32(op) }

// PSDT extracts bits 14-15 of CDW0 (PRP or SGL Data Transfer selector).
func (s *SQE) PSDT() uint8 { return uint8((s.CDW0 >> 14) & 0x3) }

// SetPSDT sets bits 14-15 of CDW0.
func (s *SQE) SetPSDT(v uint8) { s.CDW0 = (s.CDW0 &^ (0x3 << 14)) | (uint32(v&0x3) << 14) }

// CID extracts bits 16-31 of CDW0, the Command Identifier.
func (s *SQE) CID() uint16 { return uint16(s.CDW0 >> 16) }

// SetCID sets bits 16-31 of CDW0. Slot i's CID is fixed to i for the SQ's
// lifetime; only queue.NewSubmissionQueue and Reset (the SQ's
// reset-on-produce path) call this.
func (s *SQE) SetCID(cid uint16) { s.CDW0 = (s.CDW0 & 0xFFFF) | (uint32(cid) << 16) }

// PSDT selector values.
const (
	PSDTUsePRPs = 0
	PSDTUseSGLs = 2
)

// PRP1 returns the first PRP pointer.
func (s *SQE) PRP1() uint64 { return binary.LittleEndian.Uint64(s.Payload[0:8]) }

// SetPRP1 sets the first PRP pointer.
func (s *SQE) SetPRP1(v uint64) { binary.LittleEndian.PutUint64(s.Payload[0:8], v) }

// PRP2 returns the second PRP pointer (0 = reserved / unused).
func (s *SQE) PRP2() uint64 { return binary.LittleEndian.Uint64(s.Payload[8:16]) }

// SetPRP2 sets the second PRP pointer.
func (s *SQE) SetPRP2(v uint64) { binary.LittleEndian.PutUint64(s.Payload[8:16], v) }

// SGLDescriptor mirrors the 16-byte NVMe SGL descriptor: an address, a
// 32-bit length, 3 reserved bytes, and a 1-byte SGL identifier/type.
type SGLDescriptor struct {
	Addr uint64
	Len  uint32
	_res [3]byte
	ID   uint8
}

// Compile-time size check - SGL descriptors are 16 bytes on the wire.
var _ [16]byte = [unsafe.Sizeof(SGLDescriptor{})]byte{}

// SGL descriptor type identifiers (upper nibble of the ID byte).
const (
	SGLIDData          = 0x00
	SGLIDLastSegment   = 0x30
)

// SGL1 decodes the SQE's inline SGL descriptor from the payload union.
func (s *SQE) SGL1() SGLDescriptor {
	return SGLDescriptor{
		Addr: binary.LittleEndian.Uint64(s.Payload[0:8]),
		Len:  binary.LittleEndian.Uint32(s.Payload[8:12]),
		ID:   s.Payload[15],
	}
}

// SetSGL1 encodes an SGL descriptor into the payload union.
func (s *SQE) SetSGL1(d SGLDescriptor) {
	binary.LittleEndian.PutUint64(s.Payload[0:8], d.Addr)
	binary.LittleEndian.PutUint32(s.Payload[8:12], d.Len)
	s.Payload[12], s.Payload[13], s.Payload[14] = 0, 0, 0
	s.Payload[15] = d.ID
}

// Identify command fields (cdw10).
func (s *SQE) CNS() uint8      { return uint8(s.CDW10 & 0xFF) }
func (s *SQE) SetCNS(v uint8)  { s.CDW10 = (s.CDW10 &^ 0xFF) | uint32(v) }
func (s *SQE) CNTID() uint16   { return uint16(s.CDW10 >> 16) }

// Create I/O Completion/Submission Queue command fields (cdw10).
func (s *SQE) QID() uint16 { return uint16(s.CDW10 & 0xFFFF) }
func (s *SQE) SetQID(v uint16) { s.CDW10 = (s.CDW10 &^ 0xFFFF) | uint32(v) }
func (s *SQE) QSize() uint16 { return uint16(s.CDW10 >> 16) }
func (s *SQE) SetQSize(v uint16) { s.CDW10 = (s.CDW10 & 0xFFFF) | (uint32(v) << 16) }

// Create I/O Completion/Submission Queue command fields (cdw11).
func (s *SQE) PC() bool     { return s.CDW11&0x1 != 0 }
func (s *SQE) SetPC(v bool) {
	if v {
		s.CDW11 |= 0x1
	} else {
		s.CDW11 &^= 0x1
	}
}
func (s *SQE) IEN() bool { return s.CDW11&0x2 != 0 }
func (s *SQE) SetIEN(v bool) {
	if v {
		s.CDW11 |= 0x2
	} else {
		s.CDW11 &^= 0x2
	}
}
func (s *SQE) CQID() uint16     { return uint16(s.CDW11 >> 16) }
func (s *SQE) SetCQID(v uint16) { s.CDW11 = (s.CDW11 & 0xFFFF) | (uint32(v) << 16) }

// Read/Write/Write-Zeroes command fields (cdw10, cdw11, cdw12).
func (s *SQE) SetSLBA(slba uint64) {
	s.CDW10 = uint32(slba & 0xFFFFFFFF)
	s.CDW11 = uint32(slba >> 32)
}
func (s *SQE) SLBA() uint64 { return uint64(s.CDW10) | uint64(s.CDW11)<<32 }

// NLB extracts the Number of Logical Blocks (encoded as count-1) from cdw12.
func (s *SQE) NLB() uint16     { return uint16(s.CDW12 & 0xFFFF) }
func (s *SQE) SetNLB(v uint16) { s.CDW12 = (s.CDW12 &^ 0xFFFF) | uint32(v) }

// DEAC is the Write-Zeroes deallocate bit, bit 25 of cdw12.
func (s *SQE) DEAC() bool { return s.CDW12&(1<<25) != 0 }
func (s *SQE) SetDEAC(v bool) {
	if v {
		s.CDW12 |= 1 << 25
	} else {
		s.CDW12 &^= 1 << 25
	}
}

// Reset clears every field except CID, matching the SQ's produce()
// discipline: a slot's CID is fixed for its lifetime, everything else is
// scratch that must not leak between commands.
func (s *SQE) Reset() {
	cid := s.CID()
	*s = SQE{}
	s.SetCID(cid)
}
