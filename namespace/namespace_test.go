package namespace

import (
	"testing"

	"github.com/behrlich/nvmehost/internal/logging"
	"github.com/behrlich/nvmehost/internal/testutil"
	"github.com/behrlich/nvmehost/queue"
)

// mockChainHost drives AsyncLoopInit's continuation chain under test
// control: CreateIOCQ/CreateIOSQ allocate a real (fake-backed) queue and
// stash the continuation instead of invoking it, so the test can fire it
// at the moment of its choosing -- the same way a real admin completion
// would arrive asynchronously over MSI-X.
type mockChainHost struct {
	space *testutil.FakeDMASpace
	mmio  *testutil.FakeMMIO

	pendingIOCQCb queue.Continuation
	pendingIOSQCb queue.Continuation

	identified []uint32
}

func newMockChainHost() *mockChainHost {
	return &mockChainHost{space: testutil.NewFakeDMASpace(), mmio: testutil.NewFakeMMIO()}
}

func (m *mockChainHost) CreateIOCQ(qid, size uint16, cb queue.Continuation) (*queue.CompletionQueue, error) {
	cq, err := queue.NewCompletionQueue(m.space, m.mmio, uint32(qid), 0, size)
	if err != nil {
		return nil, err
	}
	m.pendingIOCQCb = cb
	return cq, nil
}

func (m *mockChainHost) CreateIOSQ(qid, cqid, size uint16, sgls int, cb queue.Continuation) (*queue.SubmissionQueue, error) {
	sq, err := queue.NewSubmissionQueue(m.space, m.mmio, uint32(qid), 0, size, sgls)
	if err != nil {
		return nil, err
	}
	m.pendingIOSQCb = cb
	return sq, nil
}

func (m *mockChainHost) SupportsSGL() bool             { return false }
func (m *mockChainHost) IdentifyNamespace(nsid uint32) { m.identified = append(m.identified, nsid) }
func (m *mockChainHost) CtrlID() uint32                { return 1 }
func (m *mockChainHost) MDTS() uint8                   { return 0 }
func (m *mockChainHost) HostPageSize() uint32          { return 4096 }

func newChainedNamespace(nsid uint32, host Host) *Namespace {
	return New(host, logging.Default(), nsid, 512, 1<<20, 1<<20, 0, false, 0, nil)
}

// TestAsyncLoopInit_HappyPath checks that both queues are created and
// onReady fires exactly once, with the chain advancing to nsid+1 from
// inside the (unconditional) I/O-SQ completion branch.
func TestAsyncLoopInit_HappyPath(t *testing.T) {
	host := newMockChainHost()
	ns := newChainedNamespace(1, host)

	var ready *Namespace
	ns.AsyncLoopInit(3, func(n *Namespace) { ready = n })

	if host.pendingIOCQCb == nil {
		t.Fatal("expected CreateIOCQ to have been called with a pending continuation")
	}
	host.pendingIOCQCb(0) // I/O-CQ created successfully

	if host.pendingIOSQCb == nil {
		t.Fatal("expected CreateIOSQ to have been called after I/O-CQ success")
	}
	host.pendingIOSQCb(0) // I/O-SQ created successfully

	if ready != ns {
		t.Fatal("expected onReady to fire with this namespace")
	}
	if len(host.identified) != 1 || host.identified[0] != 2 {
		t.Fatalf("identified = %v, want [2]", host.identified)
	}
}

// TestAsyncLoopInit_IOCQFailure_ChainsOnlyInFailureBranch covers the §4.4/§9
// asymmetry: on I/O-CQ creation failure, the next namespace is identified
// from within the failure branch, and onReady never fires.
func TestAsyncLoopInit_IOCQFailure_ChainsOnlyInFailureBranch(t *testing.T) {
	host := newMockChainHost()
	ns := newChainedNamespace(1, host)

	var readyCalled bool
	ns.AsyncLoopInit(3, func(n *Namespace) { readyCalled = true })

	host.pendingIOCQCb(0x0006) // simulate a device-reported failure status

	if readyCalled {
		t.Fatal("onReady must not fire when I/O-CQ creation fails")
	}
	if len(host.identified) != 1 || host.identified[0] != 2 {
		t.Fatalf("identified = %v, want [2] (chained from the failure branch)", host.identified)
	}
	if host.pendingIOSQCb != nil {
		t.Fatal("CreateIOSQ must never be called after I/O-CQ creation failed")
	}
}

// TestAsyncLoopInit_IOSQFailure_ChainsUnconditionally covers the other half
// of the asymmetry: the I/O-SQ completion branch identifies nsid+1 before
// checking status, so the chain still advances even though this namespace
// itself fails.
func TestAsyncLoopInit_IOSQFailure_ChainsUnconditionally(t *testing.T) {
	host := newMockChainHost()
	ns := newChainedNamespace(1, host)

	var readyCalled bool
	ns.AsyncLoopInit(3, func(n *Namespace) { readyCalled = true })
	host.pendingIOCQCb(0)
	host.pendingIOSQCb(0x0006)

	if readyCalled {
		t.Fatal("onReady must not fire when I/O-SQ creation fails")
	}
	if len(host.identified) != 1 || host.identified[0] != 2 {
		t.Fatalf("identified = %v, want [2] (chained unconditionally)", host.identified)
	}
}

// TestAsyncLoopInit_LastNamespaceDoesNotChain checks the nsid+1<=NN
// tie-break boundary: the last valid namespace (nsid==NN) must not trigger
// a further IdentifyNamespace call.
func TestAsyncLoopInit_LastNamespaceDoesNotChain(t *testing.T) {
	host := newMockChainHost()
	ns := newChainedNamespace(3, host)

	ns.AsyncLoopInit(3, func(*Namespace) {})
	host.pendingIOCQCb(0)
	host.pendingIOSQCb(0)

	if len(host.identified) != 0 {
		t.Fatalf("identified = %v, want none: nsid 3 is the last of NN=3", host.identified)
	}
}
