// Command nvmehostd demonstrates the one-event-loop-per-controller pattern
// described in SPEC_FULL.md §5: nvmehost's Controller and Namespace types
// are single-threaded internally, so a process that owns several NVMe
// functions runs one goroutine per Controller, each driving its own
// bring-up, IRQ dispatch, and shutdown without ever touching another
// controller's state.
//
// This driver core has no real /sys/bus/pci-backed pci.Bus or IOMMU-backed
// dma.Space implementation in scope (see pci.Bus's doc comment) — both
// are external facilities a production block-device manager supplies. In
// their place, nvmehostd simulates -count controllers against
// internal/testutil's fakes, so bring-up and shutdown run without real
// hardware. Nothing in the simulation posts admin completions, so the
// Identify-Controller command issued at bring-up never completes and no
// namespaces are discovered.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/behrlich/nvmehost/controller"
	"github.com/behrlich/nvmehost/internal/logging"
	"github.com/behrlich/nvmehost/internal/testutil"
	"github.com/behrlich/nvmehost/irq"
	"github.com/behrlich/nvmehost/metrics"
	"github.com/behrlich/nvmehost/regs"
)

func main() {
	var (
		count     = flag.Int("count", 1, "number of simulated NVMe controllers to bring up")
		verbose   = flag.Bool("v", false, "verbose output")
		preferSGL = flag.Bool("sgl", true, "prefer SGL data transfer over PRP when the controller supports it")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	if *count < 1 {
		logger.Error("count must be at least 1", "count", *count)
		os.Exit(1)
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})

	for i := 0; i < *count; i++ {
		id := uint32(i + 1)
		wg.Add(1)
		go func() {
			defer wg.Done()
			runControllerLoop(id, *preferSGL, logger, stop)
		}()
	}

	fmt.Printf("nvmehostd: %d simulated controller(s) running, press Ctrl+C to stop\n", *count)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")
	close(stop)
	wg.Wait()
	logger.Info("all controllers stopped")
}

// runControllerLoop owns exactly one Controller for its entire lifetime:
// bring-up, IRQ-driven namespace discovery, and teardown all happen on this
// goroutine and this goroutine alone, matching the no-internal-locks model
// SPEC_FULL.md §5 requires of Controller and Namespace.
func runControllerLoop(id uint32, preferSGL bool, logger *logging.Logger, stop <-chan struct{}) {
	log := logger.WithController(id)

	bus := simulatedNVMeBus()
	fakeIRQ := testutil.NewFakeIRQ()
	m := metrics.NewMetrics(time.Now())

	c, err := controller.New(controller.Config{
		PCIDevice: bus,
		DMASpace:  testutil.NewFakeDMASpace(),
		IRQCtrl:   fakeIRQ,
		IRQNum:    int(id) + 10,
		Trigger:   irq.TriggerLevel,
		ID:        id,
		PreferSGL: preferSGL,
		Logger:    logger,
		Metrics:   m,
	})
	if err != nil {
		log.Error("controller bring-up failed", "error", err)
		return
	}

	log.Info("controller ready", "serial", c.SerialNumber(), "namespaces", len(c.Namespaces()))
	for _, ns := range c.Namespaces() {
		log.Info("namespace discovered",
			"nsid", ns.NSID(),
			"size_bytes", ns.SizeBytes(),
			"lba_size", ns.LBASize(),
			"read_only", ns.ReadOnly())
	}

	<-stop
	for _, ns := range c.Namespaces() {
		ns.Close()
	}
	m.Stop(time.Now())
	snap := m.Snapshot(time.Now())
	log.Info("controller stopped",
		"read_ops", snap.ReadOps, "write_ops", snap.WriteOps,
		"read_bytes", snap.ReadBytes, "write_bytes", snap.WriteBytes,
		"avg_latency_ns", snap.AvgLatencyNs)
}

// simulatedNVMeBus returns a fake PCI function already reporting an
// NVM-command-set-capable, ready controller, so bring-up's CSTS.RDY poll
// resolves immediately instead of racing a hardware timeout that does not
// exist in simulation.
func simulatedNVMeBus() *testutil.FakePCIBus {
	bus := testutil.NewFakePCIBus(0x01, 0x08, 0x02) // mass storage / NVM / NVMe
	bar, _ := bus.MapBAR(0)

	var cap uint64
	cap |= 1 << 37 // CSS bit 0: NVM command set supported
	binary.LittleEndian.PutUint64(bar[regs.OffCAP:regs.OffCAP+8], cap)
	binary.LittleEndian.PutUint32(bar[regs.OffCSTS:regs.OffCSTS+4], 0x1) // RDY
	return bus
}
