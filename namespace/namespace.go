// Package namespace implements one NVMe namespace: its I/O queue pair, the
// PRP/SGL Read/Write preparers, Write-Zeroes submission, and the flush
// no-op. Grounded on original_source/server/src/ns.cc's async_loop_init /
// readwrite_prepare_prp / readwrite_prepare_sgl / write_zeroes sequence.
package namespace

import (
	"fmt"

	nvmehost "github.com/behrlich/nvmehost"
	"github.com/behrlich/nvmehost/internal/constants"
	"github.com/behrlich/nvmehost/internal/logging"
	"github.com/behrlich/nvmehost/metrics"
	"github.com/behrlich/nvmehost/queue"
	"github.com/behrlich/nvmehost/regs"
)

// Host is the back-reference surface a Namespace needs from its owning
// Controller: create the I/O queue pair through the (serialized) admin
// queue, report SGL support, and advance the Identify-Namespace discovery
// chain to the next candidate. Defined here (not in package controller) so
// namespace has no import-time dependency on controller — Controller
// implements Host and holds *Namespace directly, avoiding a cycle.
type Host interface {
	// CreateIOCQ allocates an I/O completion queue in DMA memory and issues
	// the Create I/O Completion Queue admin command. cb fires with the
	// command's completion status once the admin queue drains it.
	CreateIOCQ(qid uint16, size uint16, cb queue.Continuation) (*queue.CompletionQueue, error)

	// CreateIOSQ allocates an I/O submission queue (with an SGL scratch
	// table if sgls > 0) bound to cqid, and issues the Create I/O
	// Submission Queue admin command.
	CreateIOSQ(qid uint16, cqid uint16, size uint16, sgls int, cb queue.Continuation) (*queue.SubmissionQueue, error)

	// SupportsSGL reports the controller's effective SGL gate (process
	// configuration AND controller capability).
	SupportsSGL() bool

	// IdentifyNamespace issues Identify-Namespace for nsid, continuing the
	// discovery chain. Called by a Namespace's own creation continuations
	// per the §4.4 tie-break rule, never re-entered by the Namespace itself
	// once it has called this for its successor.
	IdentifyNamespace(nsid uint32)

	// CtrlID returns the owning controller's identifier, for error/log context.
	CtrlID() uint32

	// MDTS returns the controller's advertised Maximum Data Transfer Size
	// exponent, or 0 if the controller advertises no limit.
	MDTS() uint8

	// HostPageSize returns the negotiated host page size in bytes (4096 << CC.MPS).
	HostPageSize() uint32
}

// Namespace is one active, metadata-free NVMe namespace.
type Namespace struct {
	host Host
	log  *logging.Logger
	obs  metrics.Observer

	nsid    uint32
	lbaSize uint32
	nsze    uint64
	ncap    uint64
	nuse    uint64
	ro      bool
	dlfeat  uint8

	iocq *queue.CompletionQueue
	iosq *queue.SubmissionQueue
}

// New constructs a Namespace from parsed Identify-Namespace fields. It does
// not yet own any I/O queues — call AsyncLoopInit to create them. obs may be
// nil, in which case every I/O this namespace serves is unobserved.
func New(host Host, log *logging.Logger, nsid uint32, lbaSize uint32, nsze, ncap, nuse uint64, ro bool, dlfeat uint8, obs metrics.Observer) *Namespace {
	if obs == nil {
		obs = metrics.NoOpObserver{}
	}
	return &Namespace{
		host: host, log: log, obs: obs,
		nsid: nsid, lbaSize: lbaSize, nsze: nsze, ncap: ncap, nuse: nuse,
		ro: ro, dlfeat: dlfeat,
	}
}

// NSID returns the namespace identifier, which per §3 also equals the I/O
// queue pair's queue id.
func (ns *Namespace) NSID() uint32 { return ns.nsid }

// LBASize returns the byte size of one logical block.
func (ns *Namespace) LBASize() uint32 { return ns.lbaSize }

// SizeBytes returns the namespace's total addressable size in bytes.
func (ns *Namespace) SizeBytes() uint64 { return ns.nsze * uint64(ns.lbaSize) }

// Capacity returns NCAP (LBA count), the namespace's provisioned capacity —
// captured for diagnostics per the original source, unused by the block
// device adapter itself.
func (ns *Namespace) Capacity() uint64 { return ns.ncap }

// Utilized returns NUSE (LBA count), the namespace's current utilization.
func (ns *Namespace) Utilized() uint64 { return ns.nuse }

// ReadOnly reports the NSATTR.WP flag.
func (ns *Namespace) ReadOnly() bool { return ns.ro }

// MayDeallocateOnWriteZeroes reports DLFEAT.DEALLOCWZ: whether a
// Write-Zeroes with the deallocate bit set is guaranteed to read back as
// zero.
func (ns *Namespace) MayDeallocateOnWriteZeroes() bool {
	return ns.dlfeat&regs.DLFEATDeallocWZ != 0
}

// SGLSegmentsPerCommand reports the number of SGL descriptor slots
// reserved per command on this namespace's I/O SQ, or 0 if SGLs are not in
// use.
func (ns *Namespace) SGLSegmentsPerCommand() int {
	if ns.iosq == nil {
		return 0
	}
	return ns.iosq.SGLsPerCommand()
}

// AsyncLoopInit creates this namespace's I/O CQ then I/O SQ, chaining to
// the identification of nsid+1 per the exact ordering and asymmetry §4.4
// and §9's Open Question require: on I/O-CQ failure the chain advances
// only in the failure branch; on I/O-SQ completion the chain advances
// unconditionally before the status check. onReady is invoked with
// permanent ownership transferred to the caller iff both queues are
// created successfully; on any failure the namespace releases what it
// allocated and is otherwise dropped by its caller.
func (ns *Namespace) AsyncLoopInit(nn uint32, onReady func(*Namespace)) {
	cqid := uint16(ns.nsid)
	iocq, err := ns.host.CreateIOCQ(cqid, constants.DefaultIOQueueSize, func(status uint16) {
		if status != 0 {
			ns.log.AdminError("CREATE_IOCQ", nvmehost.NewCompletionError("CREATE_IOCQ", ns.host.CtrlID(), ns.nsid, status))

			// Start identifying the next NSID -- only on this failure branch.
			if ns.nsid+1 <= nn {
				ns.host.IdentifyNamespace(ns.nsid + 1)
			}
			ns.selfDestruct()
			return
		}

		sgls := 0
		if ns.host.SupportsSGL() {
			sgls = constants.DefaultIOQueueSGLs
		}
		iosq, err := ns.host.CreateIOSQ(cqid, cqid, constants.DefaultIOQueueSize, sgls, func(status uint16) {
			// Unconditionally advance the chain before checking status --
			// this asymmetry versus the I/O-CQ branch above is normative,
			// not a bug: see DESIGN.md's Open Question decision.
			if ns.nsid+1 <= nn {
				ns.host.IdentifyNamespace(ns.nsid + 1)
			}

			if status != 0 {
				ns.log.AdminError("CREATE_IOSQ", nvmehost.NewCompletionError("CREATE_IOSQ", ns.host.CtrlID(), ns.nsid, status))
				ns.selfDestruct()
				return
			}

			ns.log.AdminSuccess(fmt.Sprintf("namespace %d ready", ns.nsid))
			onReady(ns)
		})
		if err != nil {
			ns.log.AdminError("CREATE_IOSQ", err)
			if ns.nsid+1 <= nn {
				ns.host.IdentifyNamespace(ns.nsid + 1)
			}
			ns.selfDestruct()
			return
		}
		ns.iosq = iosq
	})
	if err != nil {
		ns.log.AdminError("CREATE_IOCQ", err)
		if ns.nsid+1 <= nn {
			ns.host.IdentifyNamespace(ns.nsid + 1)
		}
		return
	}
	ns.iocq = iocq
}

// selfDestruct releases any queues this namespace allocated. It is called
// from within the creation continuations above when a namespace is
// abandoned before onReady, and from Close at shutdown for a namespace that
// was published.
func (ns *Namespace) selfDestruct() {
	if ns.iosq != nil {
		ns.iosq.Close()
		ns.iosq = nil
	}
	if ns.iocq != nil {
		ns.iocq.Close()
		ns.iocq = nil
	}
}

// HandleIRQ fully drains this namespace's I/O completion queue, per §4.2's
// "I/O CQs must be fully drained because they are deep and may coalesce".
func (ns *Namespace) HandleIRQ() {
	for {
		cqe := ns.iocq.Consume()
		if cqe == nil {
			return
		}
		ns.iosq.AdvanceHead(cqe.SQHD())
		ns.obs.ObserveQueueDepth(ns.iosq.Depth())
		cb := ns.iosq.Complete(cqe.CID())
		status := cqe.Status()
		// The continuation runs before the CQ head doorbell is rung, so a
		// continuation that itself submits a new command sees a queue whose
		// completed slot is already free -- same ordering as dispatch().
		if cb != nil {
			cb(status)
		}
		ns.iocq.RingDoorbell()
	}
}

// Close releases the namespace's I/O queue pair. Used during controller
// shutdown.
func (ns *Namespace) Close() {
	ns.selfDestruct()
}
