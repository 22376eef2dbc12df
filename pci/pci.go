// Package pci defines the PCI bus collaborator interface the controller
// consumes for device discovery, config-space access, and BAR mapping. The
// bus enumeration facility itself, and any real sysfs-backed implementation
// of Bus, live outside this driver core's scope — this package only
// defines the contract and the class-code predicate from §6.
package pci

import "github.com/behrlich/nvmehost/regs"

// ConfigSpace is the narrow read/write surface over one device's PCI
// configuration space that this driver needs.
type ConfigSpace interface {
	ConfigRead32(offset uint32) uint32
	ConfigWrite32(offset uint32, v uint32)
	ConfigRead16(offset uint32) uint16
	ConfigWrite16(offset uint32, v uint16)
}

// Bus enumerates PCI devices and hands back their config space and BAR
// mappings. A real implementation walks /sys/bus/pci/devices.
type Bus interface {
	Enumerate() ([]Device, error)
}

// Device is one enumerated PCI function.
type Device interface {
	ConfigSpace
	// MapBAR maps the given base-address-register range as MMIO and
	// returns the mapped bytes. bar identifies BAR0 (0) here since this
	// driver only uses a single 64-bit BAR pair (BAR0/BAR1).
	MapBAR(bar int) ([]byte, error)
}

// IsNVMeController reports whether dev's class/subclass/prog-if triple
// identifies an NVMe mass-storage controller, per §6.
func IsNVMeController(dev ConfigSpace) bool {
	classDword := dev.ConfigRead32(regs.PCIOffClassCode)
	return regs.IsNVMeController(classDword)
}

// BAR64 reads and reassembles a 64-bit BAR from its low/high 32-bit config
// dwords, masking the low 12 bits per §6.
func BAR64(dev ConfigSpace, lowOffset uint32) uint64 {
	low := dev.ConfigRead32(lowOffset)
	high := dev.ConfigRead32(lowOffset + 4)
	addr := uint64(low) | uint64(high)<<32
	return addr &^ 0xFFF
}

// EnsureBusMaster reads the PCI command register and, if the bus-master
// bit is clear, sets it. Returns whether a write was necessary.
func EnsureBusMaster(dev ConfigSpace) bool {
	cmd := dev.ConfigRead16(regs.PCIOffCommand)
	if cmd&regs.PCICommandBusMaster != 0 {
		return false
	}
	dev.ConfigWrite16(regs.PCIOffCommand, cmd|regs.PCICommandBusMaster)
	return true
}
