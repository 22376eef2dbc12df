package regs

// Admin command opcodes.
const (
	OpAdminCreateIOSQ = 0x01
	OpAdminIdentify   = 0x06
	OpAdminCreateIOCQ = 0x05
)

// NVM command opcodes.
const (
	OpNVMWrite       = 0x01
	OpNVMRead        = 0x02
	OpNVMWriteZeroes = 0x08
)

// CNS (Controller or Namespace Structure) values for the Identify command.
const (
	CNSIdentifyNamespace  = 0x00
	CNSIdentifyController = 0x01
)

// Identify-Controller structure byte offsets used by this driver.
const (
	IdentifyCtrlOffSerialNumber = 4   // SN, 20 bytes, ASCII, space-padded
	IdentifyCtrlOffModelNumber  = 24  // MN, 40 bytes
	IdentifyCtrlOffFirmwareRev  = 64  // FR, 8 bytes
	IdentifyCtrlOffMDTS         = 77  // 1 byte
	IdentifyCtrlOffControllerID = 78  // CNTLID, 2 bytes
	IdentifyCtrlOffSGLS         = 536 // 4 bytes
	IdentifyCtrlOffNN           = 516 // Number of Namespaces, 4 bytes
)

// Identify-Namespace structure byte offsets used by this driver.
const (
	IdentifyNSOffNSZE   = 0   // 8 bytes
	IdentifyNSOffNCAP   = 8   // 8 bytes
	IdentifyNSOffNUSE   = 16  // 8 bytes
	IdentifyNSOffNSFEAT = 24  // 1 byte
	IdentifyNSOffNLBAF  = 25  // 1 byte
	IdentifyNSOffFLBAS  = 26  // 1 byte
	IdentifyNSOffDLFEAT = 29  // 1 byte
	IdentifyNSOffNSATTR = 30  // 2 bytes (spec text: 1 byte used, WP bit)
	IdentifyNSOffLBAF0  = 128 // 4 bytes per LBAF entry
	LBAFEntrySize       = 4
)

// NSATTR.WP marks the namespace read-only ("write protected").
const NSATTRWriteProtect = 0x1

// DLFEAT.DEALLOCWZ (bit 3) reports whether Write-Zeroes with DEAC set
// deterministically reads back as zero after deallocation.
const DLFEATDeallocWZ = 1 << 3

// SGLS bit 0-1 nonzero means the controller supports SGLs for NVM commands.
func SGLSSupported(sgls uint32) bool { return sgls&0x3 != 0 }

// SGL descriptor size in bytes.
const SGLDescriptorSize = 16
