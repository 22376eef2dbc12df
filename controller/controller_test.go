package controller

import (
	"encoding/binary"
	"testing"

	"github.com/behrlich/nvmehost/internal/testutil"
	"github.com/behrlich/nvmehost/irq"
	"github.com/behrlich/nvmehost/regs"
)

// newReadyBus returns a FakePCIBus whose BAR already reports CAP (NVM
// command set supported, MPSMIN=0, DSTRD=0) and CSTS.RDY=1, so
// Controller.bringUp's busy-wait on RDY resolves on its first read instead
// of needing a second goroutine to flip the bit mid-poll.
func newReadyBus() *testutil.FakePCIBus {
	bus := testutil.NewFakePCIBus(0x01, 0x08, 0x02) // mass storage / NVM / NVMe
	bar, _ := bus.MapBAR(0)

	var cap uint64
	cap |= 1 << 37 // CSS bit 0: NVM command set supported
	binary.LittleEndian.PutUint64(bar[regs.OffCAP:regs.OffCAP+8], cap)

	binary.LittleEndian.PutUint32(bar[regs.OffCSTS:regs.OffCSTS+4], 0x1) // RDY
	binary.LittleEndian.PutUint32(bar[regs.OffVS:regs.OffVS+4], 0x00010300) // NVMe 1.3.0
	return bus
}

func newTestController(t *testing.T) (*Controller, *testutil.FakePCIBus, *testutil.FakeIRQ) {
	t.Helper()
	bus := newReadyBus()
	fakeIRQ := testutil.NewFakeIRQ()
	c, err := New(Config{
		PCIDevice: bus,
		DMASpace:  testutil.NewFakeDMASpace(),
		IRQCtrl:   fakeIRQ,
		IRQNum:    11,
		Trigger:   irq.TriggerLevel,
		ID:        1,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, bus, fakeIRQ
}

func TestNew_BringsUpAndIdentifies(t *testing.T) {
	c, _, fakeIRQ := newTestController(t)

	if !fakeIRQ.Bound {
		t.Error("expected IRQ to be bound during bring-up")
	}
	if fakeIRQ.Unmasked == 0 {
		t.Error("expected the IRQ line to be unmasked during registration")
	}
	if c.adminSQ == nil || c.adminCQ == nil {
		t.Fatal("expected the admin queue pair to be allocated")
	}
	if c.mps != c.cap.MPSMIN() {
		t.Errorf("mps = %d, want MPSMIN %d", c.mps, c.cap.MPSMIN())
	}
	if major, minor, tertiary := c.Version(); major != 1 || minor != 3 || tertiary != 0 {
		t.Errorf("Version() = %d.%d.%d, want 1.3.0", major, minor, tertiary)
	}
}

func TestNew_RejectsControllerWithoutNVMCommandSet(t *testing.T) {
	bus := testutil.NewFakePCIBus(0x01, 0x08, 0x02)
	bar, _ := bus.MapBAR(0)
	binary.LittleEndian.PutUint64(bar[regs.OffCAP:regs.OffCAP+8], 0) // CSS clear

	_, err := New(Config{
		PCIDevice: bus,
		DMASpace:  testutil.NewFakeDMASpace(),
		IRQCtrl:   testutil.NewFakeIRQ(),
		IRQNum:    11,
		Trigger:   irq.TriggerLevel,
		ID:        1,
	})
	if err == nil {
		t.Fatal("expected New to reject a controller that doesn't advertise the NVM command set")
	}
}

func TestNew_EnsuresBusMaster(t *testing.T) {
	bus := newReadyBus()
	_, err := New(Config{
		PCIDevice: bus,
		DMASpace:  testutil.NewFakeDMASpace(),
		IRQCtrl:   testutil.NewFakeIRQ(),
		IRQNum:    11,
		Trigger:   irq.TriggerEdge,
		ID:        1,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cmd := bus.ConfigRead16(regs.PCIOffCommand)
	if cmd&regs.PCICommandBusMaster == 0 {
		t.Error("expected bring-up to set the bus-master enable bit")
	}
}

func TestTrimASCII(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"HELLO   ", "HELLO"},
		{"HELLO\x00\x00\x00", "HELLO"},
		{"        ", ""},
		{"NOPAD", "NOPAD"},
		{"ABC 123          ", "ABC"},
		{" LEADINGSPACE", ""},
	}
	for _, tt := range tests {
		if got := trimASCII([]byte(tt.in)); got != tt.want {
			t.Errorf("trimASCII(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLeUint32At(t *testing.T) {
	b := []byte{0x78, 0x56, 0x34, 0x12}
	if got := leUint32At(b, 0); got != 0x12345678 {
		t.Errorf("leUint32At = 0x%x, want 0x12345678", got)
	}
}

func TestLeUint64At(t *testing.T) {
	b := []byte{0x01, 0x00, 0x00, 0x00, 0x02, 0x00, 0x00, 0x00}
	if got := leUint64At(b, 0); got != 0x0000000200000001 {
		t.Errorf("leUint64At = 0x%x, want 0x0000000200000001", got)
	}
}
