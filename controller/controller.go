// Package controller implements NVMe controller bring-up, the admin queue
// pair, the Identify-driven namespace discovery chain, and per-namespace
// I/O queue-pair creation. Grounded on original_source/server/src/ctrl.cc's
// init()/handle_irq() sequence and this driver's own single-threaded,
// continuation-chained event model — no goroutines, no internal locks.
package controller

import (
	"fmt"
	"time"

	nvmehost "github.com/behrlich/nvmehost"
	"github.com/behrlich/nvmehost/dma"
	"github.com/behrlich/nvmehost/internal/constants"
	"github.com/behrlich/nvmehost/internal/logging"
	"github.com/behrlich/nvmehost/irq"
	"github.com/behrlich/nvmehost/metrics"
	"github.com/behrlich/nvmehost/namespace"
	"github.com/behrlich/nvmehost/pci"
	"github.com/behrlich/nvmehost/queue"
	"github.com/behrlich/nvmehost/regs"
)

// Config gathers the collaborators and tunables a Controller needs. Every
// field but PCIDevice/DMASpace/IRQCtrl has a workable zero-value default.
type Config struct {
	// PCIDevice is the enumerated NVMe function to bring up.
	PCIDevice pci.Device
	// DMASpace translates this controller's I/O buffers to bus addresses.
	DMASpace dma.Space
	// IRQCtrl binds this controller's completion dispatch to an interrupt line.
	IRQCtrl irq.Controller
	// IRQNum is the interrupt line to bind, and Trigger its signaling mode.
	IRQNum  int
	Trigger irq.TriggerType

	// ID identifies this controller in logs and errors; callers assign it
	// when running more than one controller in a process.
	ID uint32

	// PreferSGL gates SGL use on top of the controller's own SGLS
	// capability bit — set false to force PRP-only operation even when the
	// device supports SGLs.
	PreferSGL bool

	Logger *logging.Logger

	// Metrics, if non-nil, receives per-command counters, byte counts, and
	// latency samples for every namespace this controller publishes. Left
	// nil, the controller records nothing.
	Metrics *metrics.Metrics
}

// Controller owns one NVMe controller's admin queue pair and every
// namespace discovered under it. All methods run on a single goroutine —
// there is no locking anywhere in this package, matching the driver's
// cooperative, continuation-chained concurrency model.
type Controller struct {
	cfg Config
	log *logging.Logger

	bar  []byte
	mmio *mmio

	cap regs.Cap
	cc  regs.Cc
	mps uint8
	vs  uint32

	dmaSpace dma.Space
	pool     *dma.Pool
	obs      metrics.Observer

	adminSQ *queue.SubmissionQueue
	adminCQ *queue.CompletionQueue

	sglSupported bool
	nn           uint32
	mdts         uint8

	serialNumber string
	modelNumber  string
	firmwareRev  string
	cntlid       uint16

	namespaces map[uint32]*namespace.Namespace
	order      []uint32 // namespace ids in discovery order, for deterministic iteration

	irqHandle irq.Handle
}

// New brings up the controller (§4.1), then asynchronously starts the
// Identify-Controller / Identify-Namespace discovery chain (§4.3). Each
// namespace the chain publishes becomes visible through Namespace/Namespaces
// as its own admin completion arrives; there is no single "fully discovered"
// callback since the chain length depends on NN, which is only known after
// the first admin round trip.
func New(cfg Config) (*Controller, error) {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	log := cfg.Logger.WithController(cfg.ID)

	var obs metrics.Observer = metrics.NoOpObserver{}
	if cfg.Metrics != nil {
		obs = metrics.NewMetricsObserver(cfg.Metrics, time.Now)
	}

	bar, err := cfg.PCIDevice.MapBAR(0)
	if err != nil {
		return nil, nvmehost.NewControllerError("MAP_BAR", cfg.ID, nvmehost.ErrCodeUnsupportedConfig, "failed to map BAR0")
	}

	c := &Controller{
		cfg:        cfg,
		log:        log,
		bar:        bar,
		mmio:       &mmio{bar: bar},
		dmaSpace:   cfg.DMASpace,
		pool:       dma.NewPool(cfg.DMASpace, dma.DirFromDevice),
		obs:        obs,
		namespaces: make(map[uint32]*namespace.Namespace),
	}

	if err := c.bringUp(); err != nil {
		return nil, err
	}

	if err := c.registerIRQ(); err != nil {
		return nil, err
	}

	c.identifyController()

	return c, nil
}

// bringUp executes §4.1 steps (a) through (j): map BAR (done by caller),
// read capabilities, reject unsupported command sets, disable, size and
// place the admin queue pair, enable, and wait for readiness.
func (c *Controller) bringUp() error {
	c.cap = regs.Cap(c.mmio.Read64(regs.OffCAP))

	if !c.cap.SupportsNVMCommandSet() {
		return nvmehost.NewControllerError("BRING_UP", c.cfg.ID, nvmehost.ErrCodeUnsupportedConfig, "controller does not advertise the NVM command set")
	}

	c.mps = c.cap.MPSMIN()
	c.vs = c.mmio.Read32(regs.OffVS)

	// (d) Disable the controller before touching queue configuration.
	c.mmio.Write32(regs.OffCC, 0)

	// (e) Admin queue attributes: sizes encoded as N-1.
	c.mmio.Write32(regs.OffAQA, uint32(regs.BuildAQA(constants.AdminQueueSize, constants.AdminQueueSize)))

	// (f) Allocate the admin submission and completion queues.
	adminCQ, err := queue.NewCompletionQueue(c.dmaSpace, c.mmio, 0, c.cap.DSTRD(), constants.AdminQueueSize)
	if err != nil {
		return nvmehost.WrapError("BRING_UP", err)
	}
	adminSQ, err := queue.NewSubmissionQueue(c.dmaSpace, c.mmio, 0, c.cap.DSTRD(), constants.AdminQueueSize, 0)
	if err != nil {
		adminCQ.Close()
		return nvmehost.WrapError("BRING_UP", err)
	}
	c.adminCQ, c.adminSQ = adminCQ, adminSQ

	// (g) Register the queues' physical base addresses.
	c.mmio.Write64(regs.OffASQ, adminSQ.PhysBase())
	c.mmio.Write64(regs.OffACQ, adminCQ.PhysBase())

	// (h) Configure and enable.
	c.cc = regs.BuildCC(c.mps).WithEnable(true)
	c.mmio.Write32(regs.OffCC, uint32(c.cc))

	// (i) Poll CSTS.RDY. This is the one deliberate unbounded busy-wait in
	// the whole driver core -- bring-up is inherently synchronous and has
	// nothing else to interleave with.
	for {
		csts := regs.Csts(c.mmio.Read32(regs.OffCSTS))
		if csts.CFS() {
			return nvmehost.NewControllerError("BRING_UP", c.cfg.ID, nvmehost.ErrCodeDeviceCommandFailure, "controller fatal status set during enable")
		}
		if csts.RDY() {
			break
		}
	}

	// (j) Ensure the controller can master the bus for DMA.
	pci.EnsureBusMaster(c.cfg.PCIDevice)

	major, minor, tertiary := c.Version()
	c.log.Info("controller ready", "mps", c.mps, "dstrd", c.cap.DSTRD(), "version", fmt.Sprintf("%d.%d.%d", major, minor, tertiary))
	return nil
}

// registerIRQ binds completion dispatch to the configured interrupt line
// per §4.2: mask first, bind, then unmask both the vector and the hardware
// line (the line is unmasked once here, whatever its trigger type).
func (c *Controller) registerIRQ() error {
	c.mmio.Write32(regs.OffINTMS, 0x1)

	handle, err := c.cfg.IRQCtrl.Bind(c.cfg.IRQNum, c.cfg.Trigger, c.dispatch)
	if err != nil {
		return nvmehost.NewControllerError("REGISTER_IRQ", c.cfg.ID, nvmehost.ErrCodeUnsupportedConfig, "failed to bind interrupt")
	}
	c.irqHandle = handle

	c.mmio.Write32(regs.OffINTMC, 0x1)
	handle.Unmask()
	return nil
}

// dispatch is the interrupt handler installed via registerIRQ. Per §4.2 it
// consumes exactly one admin completion (the admin queue only ever has one
// command outstanding, so there is at most one to find), then fully drains
// every namespace's I/O completion queue in discovery order, then
// re-unmasks the hardware line if it is level-triggered.
func (c *Controller) dispatch() {
	if cqe := c.adminCQ.Consume(); cqe != nil {
		if cqe.SQID() != 0 {
			c.log.Error("admin completion carries unexpected SQID", "sqid", cqe.SQID())
		} else {
			c.adminSQ.AdvanceHead(cqe.SQHD())
			cb := c.adminSQ.Complete(cqe.CID())
			// The continuation runs before the CQ head doorbell is rung,
			// so a continuation that itself submits a new admin command
			// sees a queue whose completed slot is already free.
			if cb != nil {
				cb(cqe.Status())
			}
			c.adminCQ.RingDoorbell()
		}
	}

	for _, nsid := range c.order {
		if ns, ok := c.namespaces[nsid]; ok {
			ns.HandleIRQ()
		}
	}

	if c.irqHandle.Trigger() == irq.TriggerLevel {
		c.irqHandle.Unmask()
	}
}

// adminSubmit produces the next admin SQE, lets fill populate its
// command-specific fields, and submits it with cb as the completion
// continuation. Returns ErrCodeQueueFull if the (depth-2) admin queue's one
// usable slot is occupied -- callers at discovery time never expect this
// since the chain never has two admin commands outstanding at once.
func (c *Controller) adminSubmit(fill func(*regs.SQE), cb queue.Continuation) error {
	sqe := c.adminSQ.Produce()
	if sqe == nil {
		return nvmehost.NewControllerError("ADMIN_SUBMIT", c.cfg.ID, nvmehost.ErrCodeQueueFull, "admin queue has no free slot")
	}
	fill(sqe)
	cid := sqe.CID()
	c.adminSQ.Submit(cid, cb)
	return nil
}

// identifyController issues Identify with CNS=Identify_controller (§4.3),
// parses SGLS/MDTS/NN from the 4KiB response, and starts namespace
// discovery at NSID 1.
func (c *Controller) identifyController() {
	buf, err := c.pool.Get(constants.PageSize)
	if err != nil {
		c.log.AdminError("IDENTIFY_CONTROLLER", err)
		return
	}

	c.log.AdminStart("IDENTIFY_CONTROLLER")
	err = c.adminSubmit(func(sqe *regs.SQE) {
		sqe.SetOpcode(regs.OpAdminIdentify)
		sqe.NSID = 0
		sqe.SetPSDT(regs.PSDTUsePRPs)
		sqe.SetPRP1(buf.Phys())
		sqe.SetCNS(regs.CNSIdentifyController)
	}, func(status uint16) {
		defer c.pool.Put(buf)
		if status != 0 {
			c.log.AdminError("IDENTIFY_CONTROLLER", nvmehost.NewCompletionError("IDENTIFY_CONTROLLER", c.cfg.ID, 0, status))
			return
		}

		data := buf.Virt()
		c.serialNumber = trimASCII(data[regs.IdentifyCtrlOffSerialNumber : regs.IdentifyCtrlOffSerialNumber+20])
		c.modelNumber = trimASCII(data[regs.IdentifyCtrlOffModelNumber : regs.IdentifyCtrlOffModelNumber+40])
		c.firmwareRev = trimASCII(data[regs.IdentifyCtrlOffFirmwareRev : regs.IdentifyCtrlOffFirmwareRev+8])
		c.cntlid = leUint16At(data, regs.IdentifyCtrlOffControllerID)
		c.mdts = data[regs.IdentifyCtrlOffMDTS]
		sgls := leUint32At(data, regs.IdentifyCtrlOffSGLS)
		c.sglSupported = c.cfg.PreferSGL && regs.SGLSSupported(sgls)
		c.nn = leUint32At(data, regs.IdentifyCtrlOffNN)

		c.log.AdminSuccess("IDENTIFY_CONTROLLER")
		c.log.Info("controller identified", "sn", c.serialNumber, "model", c.modelNumber, "nn", c.nn, "sgls", c.sglSupported, "mdts", c.mdts)

		if c.nn == 0 {
			return
		}
		c.IdentifyNamespace(1)
	})
	if err != nil {
		c.pool.Put(buf)
		c.log.AdminError("IDENTIFY_CONTROLLER", err)
	}
}

// IdentifyNamespace issues Identify with CNS=Identify_namespace for nsid
// (§4.3, §4.4). A nonzero completion status ends the chain for this branch
// without publishing a namespace and without visiting nsid+1: the original
// source treats an Identify-Namespace failure as terminal for the whole
// scan, not merely a skip, since it likely indicates the controller does
// not have nsid+1..NN either.
func (c *Controller) IdentifyNamespace(nsid uint32) {
	buf, err := c.pool.Get(constants.PageSize)
	if err != nil {
		c.log.AdminError("IDENTIFY_NAMESPACE", err)
		return
	}

	log := c.log.WithNamespace(nsid)
	log.AdminStart("IDENTIFY_NAMESPACE")
	err = c.adminSubmit(func(sqe *regs.SQE) {
		sqe.SetOpcode(regs.OpAdminIdentify)
		sqe.NSID = nsid
		sqe.SetPSDT(regs.PSDTUsePRPs)
		sqe.SetPRP1(buf.Phys())
		sqe.SetCNS(regs.CNSIdentifyNamespace)
	}, func(status uint16) {
		defer c.pool.Put(buf)
		if status != 0 {
			log.AdminError("IDENTIFY_NAMESPACE", nvmehost.NewCompletionError("IDENTIFY_NAMESPACE", c.cfg.ID, nsid, status))
			return
		}

		data := buf.Virt()
		nsze := leUint64At(data, regs.IdentifyNSOffNSZE)
		ncap := leUint64At(data, regs.IdentifyNSOffNCAP)
		nuse := leUint64At(data, regs.IdentifyNSOffNUSE)
		nlbaf := data[regs.IdentifyNSOffNLBAF]
		flbas := data[regs.IdentifyNSOffFLBAS]
		dlfeat := data[regs.IdentifyNSOffDLFEAT]
		nsattr := data[regs.IdentifyNSOffNSATTR]
		ro := nsattr&regs.NSATTRWriteProtect != 0

		if nsze == 0 {
			// An inactive namespace slot: skip it but keep scanning, this is
			// not a device failure.
			log.Info("namespace inactive, skipping")
			if nsid+1 <= c.nn {
				c.IdentifyNamespace(nsid + 1)
			}
			return
		}

		lbafIndex := flbas & 0xF
		if uint32(lbafIndex) >= uint32(nlbaf)+1 {
			log.Error("FLBAS selects an LBA format index beyond NLBAF, skipping namespace")
			if nsid+1 <= c.nn {
				c.IdentifyNamespace(nsid + 1)
			}
			return
		}
		lbafOff := regs.IdentifyNSOffLBAF0 + int(lbafIndex)*regs.LBAFEntrySize
		lbaf := leUint32At(data, lbafOff)
		msFlag := uint16(lbaf & 0xFFFF)
		lbaDS := uint8((lbaf >> 16) & 0xFF)
		if msFlag != 0 {
			// Metadata-bearing namespaces are out of scope for this driver.
			log.Info("namespace carries metadata bytes, skipping", "ms", msFlag)
			if nsid+1 <= c.nn {
				c.IdentifyNamespace(nsid + 1)
			}
			return
		}

		lbaSize := uint32(1) << lbaDS
		ns := namespace.New(c, log, nsid, lbaSize, nsze, ncap, nuse, ro, dlfeat, c.obs)
		c.order = append(c.order, nsid)
		ns.AsyncLoopInit(c.nn, func(ready *namespace.Namespace) {
			c.namespaces[nsid] = ready
			log.Info("namespace published", "lba_size", lbaSize, "sectors", nsze)
		})
	})
	if err != nil {
		c.pool.Put(buf)
		log.AdminError("IDENTIFY_NAMESPACE", err)
	}
}

// CreateIOCQ implements namespace.Host.
func (c *Controller) CreateIOCQ(qid uint16, size uint16, cb queue.Continuation) (*queue.CompletionQueue, error) {
	cq, err := queue.NewCompletionQueue(c.dmaSpace, c.mmio, uint32(qid), c.cap.DSTRD(), size)
	if err != nil {
		return nil, nvmehost.WrapError("CREATE_IOCQ", err)
	}

	err = c.adminSubmit(func(sqe *regs.SQE) {
		sqe.SetOpcode(regs.OpAdminCreateIOCQ)
		sqe.SetPSDT(regs.PSDTUsePRPs)
		sqe.SetPRP1(cq.PhysBase())
		sqe.SetQID(qid)
		sqe.SetQSize(size - 1)
		sqe.SetPC(true)
		sqe.SetIEN(true)
	}, cb)
	if err != nil {
		cq.Close()
		return nil, err
	}
	return cq, nil
}

// CreateIOSQ implements namespace.Host.
func (c *Controller) CreateIOSQ(qid uint16, cqid uint16, size uint16, sgls int, cb queue.Continuation) (*queue.SubmissionQueue, error) {
	sq, err := queue.NewSubmissionQueue(c.dmaSpace, c.mmio, uint32(qid), c.cap.DSTRD(), size, sgls)
	if err != nil {
		return nil, nvmehost.WrapError("CREATE_IOSQ", err)
	}

	err = c.adminSubmit(func(sqe *regs.SQE) {
		sqe.SetOpcode(regs.OpAdminCreateIOSQ)
		sqe.SetPSDT(regs.PSDTUsePRPs)
		sqe.SetPRP1(sq.PhysBase())
		sqe.SetQID(qid)
		sqe.SetQSize(size - 1)
		sqe.SetPC(true)
		sqe.SetCQID(cqid)
	}, cb)
	if err != nil {
		sq.Close()
		return nil, err
	}
	return sq, nil
}

// SupportsSGL implements namespace.Host.
func (c *Controller) SupportsSGL() bool { return c.sglSupported }

// CtrlID implements namespace.Host.
func (c *Controller) CtrlID() uint32 { return c.cfg.ID }

// MDTS implements namespace.Host: the Maximum Data Transfer Size, in units
// of (host_page_size << MDTS) bytes; 0 means no device-advertised limit.
func (c *Controller) MDTS() uint8 { return c.mdts }

// HostPageSize implements namespace.Host: 4096 << CC.MPS.
func (c *Controller) HostPageSize() uint32 { return uint32(constants.PageSize) << c.mps }

// SerialNumber returns the trimmed Identify-Controller serial number.
func (c *Controller) SerialNumber() string { return c.serialNumber }

// ModelNumber returns the trimmed Identify-Controller model number.
func (c *Controller) ModelNumber() string { return c.modelNumber }

// FirmwareRevision returns the trimmed Identify-Controller firmware revision.
func (c *Controller) FirmwareRevision() string { return c.firmwareRev }

// Version decodes the VS register read during bring-up into its
// major/minor/tertiary components, for diagnostics only -- nothing in this
// driver core branches on NVMe version.
func (c *Controller) Version() (major, minor, tertiary uint16) {
	return uint16(c.vs >> 16), uint16(c.vs>>8) & 0xFF, uint16(c.vs) & 0xFF
}

// ControllerID returns CNTLID from Identify-Controller.
func (c *Controller) ControllerID() uint16 { return c.cntlid }

// Namespace returns the published namespace for nsid, or nil if it has not
// (yet, or ever) been published.
func (c *Controller) Namespace(nsid uint32) *namespace.Namespace { return c.namespaces[nsid] }

// Namespaces returns every published namespace in discovery order.
func (c *Controller) Namespaces() []*namespace.Namespace {
	out := make([]*namespace.Namespace, 0, len(c.order))
	for _, nsid := range c.order {
		if ns, ok := c.namespaces[nsid]; ok {
			out = append(out, ns)
		}
	}
	return out
}

// DMASpace exposes the controller's DMA space to callers building their own
// buffers (e.g. a block-device adapter's I/O payloads).
func (c *Controller) DMASpace() dma.Space { return c.dmaSpace }

// MPS returns the negotiated host page size shift (CC.MPS).
func (c *Controller) MPS() uint8 { return c.mps }

func leUint32At(b []byte, off int) uint32 {
	return uint32(b[off]) | uint32(b[off+1])<<8 | uint32(b[off+2])<<16 | uint32(b[off+3])<<24
}

func leUint64At(b []byte, off int) uint64 {
	lo := leUint32At(b, off)
	hi := leUint32At(b, off+4)
	return uint64(lo) | uint64(hi)<<32
}

func leUint16At(b []byte, off int) uint16 {
	return uint16(b[off]) | uint16(b[off+1])<<8
}

// trimASCII truncates a fixed-width ASCII Identify field at its first space
// or NUL, per §4.3's "serial number ... trimmed at first space" (matching
// original_source/server/src/ctl.cc's `_sn.erase(_sn.find(' '))`).
func trimASCII(b []byte) string {
	end := len(b)
	for i, c := range b {
		if c == ' ' || c == 0 {
			end = i
			break
		}
	}
	return string(b[:end])
}
