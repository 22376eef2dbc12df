package namespace

import (
	"testing"

	"github.com/behrlich/nvmehost/internal/logging"
	"github.com/behrlich/nvmehost/internal/testutil"
	"github.com/behrlich/nvmehost/queue"
	"github.com/behrlich/nvmehost/regs"
)

const testPageSize = 4096

// fakeHost is a minimal Host implementation for readwrite tests, which
// never need it to actually create queues or advance discovery.
type fakeHost struct {
	mdts         uint8
	hostPageSize uint32
}

func (f *fakeHost) CreateIOCQ(qid, size uint16, cb queue.Continuation) (*queue.CompletionQueue, error) {
	return nil, nil
}
func (f *fakeHost) CreateIOSQ(qid, cqid, size uint16, sgls int, cb queue.Continuation) (*queue.SubmissionQueue, error) {
	return nil, nil
}
func (f *fakeHost) SupportsSGL() bool          { return true }
func (f *fakeHost) IdentifyNamespace(nsid uint32) {}
func (f *fakeHost) CtrlID() uint32             { return 1 }
func (f *fakeHost) MDTS() uint8                { return f.mdts }
func (f *fakeHost) HostPageSize() uint32       { return f.hostPageSize }

func newTestNamespaceWithSGL(t *testing.T, sglsPerCmd int) *Namespace {
	t.Helper()
	space := testutil.NewFakeDMASpace()
	mmio := testutil.NewFakeMMIO()
	sq, err := queue.NewSubmissionQueue(space, mmio, 1, 0, 4, sglsPerCmd)
	if err != nil {
		t.Fatalf("NewSubmissionQueue: %v", err)
	}
	ns := New(&fakeHost{hostPageSize: testPageSize}, logging.Default(), 1, 512, 1<<20, 1<<20, 0, false, 0, nil)
	ns.iosq = sq
	return ns
}

// TestPreparePRP_SamePage covers scenario S1: a transfer entirely within
// one host page needs only prp1.
func TestPreparePRP_SamePage(t *testing.T) {
	prp1, prp2, err := preparePRP(0x4_0000_0100, 128, testPageSize)
	if err != nil {
		t.Fatalf("preparePRP: %v", err)
	}
	if prp1 != 0x4_0000_0100 || prp2 != 0 {
		t.Errorf("prp1=0x%x prp2=0x%x, want prp1=0x400000100 prp2=0", prp1, prp2)
	}
}

// TestPreparePRP_TwoAdjacentPages covers scenario S2.
func TestPreparePRP_TwoAdjacentPages(t *testing.T) {
	prp1, prp2, err := preparePRP(0x4_0000_0F00, 0x200, testPageSize)
	if err != nil {
		t.Fatalf("preparePRP: %v", err)
	}
	if prp1 != 0x4_0000_0F00 || prp2 != 0x4_0000_1000 {
		t.Errorf("prp1=0x%x prp2=0x%x, want prp1=0x400000F00 prp2=0x400001000", prp1, prp2)
	}
}

// TestPreparePRP_ThreePagesRejected covers scenario S3: a transfer
// spanning more than two adjacent pages has no PRP1/PRP2 representation
// this driver builds, since it never constructs a PRP list.
func TestPreparePRP_ThreePagesRejected(t *testing.T) {
	_, _, err := preparePRP(0x4_0000_0F00, 0x2100, testPageSize)
	if err == nil {
		t.Fatal("expected preparePRP to reject a three-page transfer")
	}
}

// TestPrepareSGL_TwoSegments covers scenario S4 exactly: two segments at a
// 512-byte LBA size produce the documented sgl1 descriptor, scratch table
// contents, and total sector count.
func TestPrepareSGL_TwoSegments(t *testing.T) {
	ns := newTestNamespaceWithSGL(t, 32)

	segments := []Segment{
		{DMAAddr: 0xA000, NumSectors: 8},
		{DMAAddr: 0xB000, NumSectors: 4},
	}

	const cid = 2
	sgl1, totalSectors, err := ns.prepareSGL(cid, segments)
	if err != nil {
		t.Fatalf("prepareSGL: %v", err)
	}

	wantAddr := ns.iosq.SGLTableAddr(cid)
	if sgl1.ID != regs.SGLIDLastSegment {
		t.Errorf("sgl1.ID = %d, want SGLIDLastSegment", sgl1.ID)
	}
	if sgl1.Addr != wantAddr {
		t.Errorf("sgl1.Addr = 0x%x, want scratch+cid*32*16 = 0x%x", sgl1.Addr, wantAddr)
	}
	if sgl1.Len != 32 {
		t.Errorf("sgl1.Len = %d, want 32", sgl1.Len)
	}
	if totalSectors != 12 {
		t.Errorf("totalSectors = %d, want 12 (NLB=11)", totalSectors)
	}

	table := ns.iosq.SGLTableEntries(cid)
	if table[0].ID != regs.SGLIDData || table[0].Addr != 0xA000 || table[0].Len != 4096 {
		t.Errorf("table[0] = %+v, want {Data,0xA000,4096}", table[0])
	}
	if table[1].ID != regs.SGLIDData || table[1].Addr != 0xB000 || table[1].Len != 2048 {
		t.Errorf("table[1] = %+v, want {Data,0xB000,2048}", table[1])
	}
}

func TestPrepareSGL_RejectsOverCapacity(t *testing.T) {
	ns := newTestNamespaceWithSGL(t, 1)
	_, _, err := ns.prepareSGL(0, []Segment{{DMAAddr: 0xA000, NumSectors: 1}, {DMAAddr: 0xB000, NumSectors: 1}})
	if err == nil {
		t.Fatal("expected prepareSGL to reject a segment count over the table capacity")
	}
}

func TestWriteZeroes_RejectsOutOfRangeNLB(t *testing.T) {
	ns := newTestNamespaceWithSGL(t, 0)
	if err := ns.WriteZeroes(0, 0, false, nil); err == nil {
		t.Error("expected WriteZeroes(nlb=0) to be rejected")
	}
	if err := ns.WriteZeroes(0, MaxWriteZeroesSectors+1, false, nil); err == nil {
		t.Error("expected WriteZeroes(nlb=MaxWriteZeroesSectors+1) to be rejected")
	}
}

func TestWriteZeroes_AtCeilingSucceeds(t *testing.T) {
	ns := newTestNamespaceWithSGL(t, 0)
	called := false
	err := ns.WriteZeroes(0, MaxWriteZeroesSectors, true, func(status uint16) { called = true })
	if err != nil {
		t.Fatalf("WriteZeroes at ceiling: %v", err)
	}
	if called {
		t.Error("callback should not fire until the device completes the command")
	}
}

func TestDiscard_AlwaysRejected(t *testing.T) {
	ns := newTestNamespaceWithSGL(t, 0)
	if err := ns.Discard(0, 1); err == nil {
		t.Fatal("Discard must always return an error: true TRIM is not supported")
	}
}

func TestFlush_CompletesImmediately(t *testing.T) {
	ns := newTestNamespaceWithSGL(t, 0)
	var gotStatus uint16 = 0xFFFF
	ns.Flush(func(status uint16) { gotStatus = status })
	if gotStatus != 0 {
		t.Errorf("Flush callback status = %d, want 0", gotStatus)
	}
}

func TestMaxTransferBytes_PRPModeIsOneHostPage(t *testing.T) {
	ns := New(&fakeHost{hostPageSize: 4096, mdts: 5}, logging.Default(), 1, 512, 0, 0, 0, false, 0, nil)
	if got := ns.MaxTransferBytes(); got != 4096 {
		t.Errorf("MaxTransferBytes() = %d, want 4096 (PRP mode ignores MDTS)", got)
	}
}

func TestMaxTransferBytes_SGLModeAppliesMDTS(t *testing.T) {
	ns := newTestNamespaceWithSGL(t, 4)
	ns.host = &fakeHost{hostPageSize: 4096, mdts: 5}
	// (4096 << 5) / 4 = 32768
	if got := ns.MaxTransferBytes(); got != 32768 {
		t.Errorf("MaxTransferBytes() = %d, want 32768", got)
	}
}

func TestMaxTransferBytes_ZeroMDTSIsSoftCeiling(t *testing.T) {
	ns := newTestNamespaceWithSGL(t, 4)
	ns.host = &fakeHost{hostPageSize: 4096, mdts: 0}
	if got := ns.MaxTransferBytes(); got != 4<<20 {
		t.Errorf("MaxTransferBytes() = %d, want 4 MiB software ceiling", got)
	}
}

func TestMaxSegments_PRPModeIsOne(t *testing.T) {
	ns := newTestNamespaceWithSGL(t, 0)
	if got := ns.MaxSegments(); got != 1 {
		t.Errorf("MaxSegments() = %d, want 1 in PRP mode", got)
	}
}

func TestMaxSegments_SGLModeIsTableDepth(t *testing.T) {
	ns := newTestNamespaceWithSGL(t, 32)
	if got := ns.MaxSegments(); got != 32 {
		t.Errorf("MaxSegments() = %d, want 32", got)
	}
}
