package regs

import (
	"testing"
	"unsafe"
)

func TestStructSizes(t *testing.T) {
	tests := []struct {
		name     string
		size     uintptr
		expected int
	}{
		{"SQE", unsafe.Sizeof(SQE{}), 64},
		{"CQE", unsafe.Sizeof(CQE{}), 16},
		{"SGLDescriptor", unsafe.Sizeof(SGLDescriptor{}), 16},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if int(tt.size) != tt.expected {
				t.Errorf("%s size = %d, want %d", tt.name, tt.size, tt.expected)
			}
		})
	}
}

// TestCIDIdentity covers invariant 1: slot i's CID equals i across Reset().
func TestCIDIdentity(t *testing.T) {
	var s SQE
	s.SetCID(7)
	s.SetOpcode(OpNVMRead)
	s.NSID = 3
	s.Reset()
	if s.CID() != 7 {
		t.Fatalf("CID() = %d after Reset(), want 7", s.CID())
	}
	if s.Opcode() != 0 || s.NSID != 0 {
		t.Fatalf("Reset() left stale fields: opcode=%d nsid=%d", s.Opcode(), s.NSID)
	}
}

// TestDoorbellArithmetic covers invariant 4.
func TestDoorbellArithmetic(t *testing.T) {
	cases := []struct {
		y      uint32
		dstrd  uint8
		sqWant uint32
		cqWant uint32
	}{
		{0, 0, 0x1000, 0x1004},
		{1, 0, 0x1008, 0x100C},
		{2, 1, 0x1020, 0x1028},
	}
	for _, c := range cases {
		if got := SQDoorbellOffset(c.y, c.dstrd); got != c.sqWant {
			t.Errorf("SQDoorbellOffset(%d,%d) = 0x%x, want 0x%x", c.y, c.dstrd, got, c.sqWant)
		}
		if got := CQDoorbellOffset(c.y, c.dstrd); got != c.cqWant {
			t.Errorf("CQDoorbellOffset(%d,%d) = 0x%x, want 0x%x", c.y, c.dstrd, got, c.cqWant)
		}
	}
}

func TestNLBEncoding(t *testing.T) {
	var s SQE
	s.SetNLB(11)
	if s.NLB() != 11 {
		t.Fatalf("NLB() = %d, want 11", s.NLB())
	}
}

func TestSLBASplit(t *testing.T) {
	var s SQE
	s.SetSLBA(0x1_0000_0000 | 0x1234)
	if s.CDW10 != 0x1234 || s.CDW11 != 1 {
		t.Fatalf("cdw10=0x%x cdw11=0x%x, want 0x1234 / 1", s.CDW10, s.CDW11)
	}
	if s.SLBA() != 0x1_0000_1234 {
		t.Fatalf("SLBA() = 0x%x", s.SLBA())
	}
}

func TestIsNVMeController(t *testing.T) {
	// class=0x01 subclass=0x08 progif=0x02 packed into the upper 24 bits.
	classDword := uint32(0x01)<<24 | uint32(0x08)<<16 | uint32(0x02)<<8
	if !IsNVMeController(classDword) {
		t.Fatal("expected NVMe class triple to match")
	}
	if IsNVMeController(classDword ^ (1 << 24)) {
		t.Fatal("expected mismatched class to be rejected")
	}
}

func TestBuildCCAndCSTS(t *testing.T) {
	cc := BuildCC(0).WithEnable(true)
	if !cc.EN() {
		t.Fatal("expected EN set")
	}
	if cc.IOSQES() != 6 || cc.IOCQES() != 4 {
		t.Fatalf("IOSQES=%d IOCQES=%d, want 6/4", cc.IOSQES(), cc.IOCQES())
	}
	csts := Csts(0x1)
	if !csts.RDY() || csts.CFS() {
		t.Fatal("expected CSTS=0x1 to decode as RDY set, CFS clear")
	}
}
