package controller

import "encoding/binary"

// mmio wraps the controller's mapped BAR bytes with the register accessors
// the bring-up sequence and the queue package's doorbell writes need. Every
// access here is a device-visible memory operation; callers must not
// assume writes can be reordered or merged across register offsets.
type mmio struct {
	bar []byte
}

func (m *mmio) Read32(offset uint32) uint32 {
	return binary.LittleEndian.Uint32(m.bar[offset : offset+4])
}

func (m *mmio) Write32(offset uint32, v uint32) {
	binary.LittleEndian.PutUint32(m.bar[offset:offset+4], v)
}

func (m *mmio) Read64(offset uint32) uint64 {
	return binary.LittleEndian.Uint64(m.bar[offset : offset+8])
}

func (m *mmio) Write64(offset uint32, v uint64) {
	binary.LittleEndian.PutUint64(m.bar[offset:offset+8], v)
}
