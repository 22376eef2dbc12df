// Package irq defines the interrupt-controller collaborator interface the
// controller binds its completion dispatch to. The actual hardware
// interrupt binding (MSI-X vector allocation, epoll wait loop, ...) is an
// external facility; this driver core only needs to register a handler and
// unmask the line afterward for level-triggered interrupts.
package irq

// TriggerType distinguishes edge- from level-triggered interrupt lines, per
// §4.2: only level-triggered lines are re-unmasked after dispatch.
type TriggerType int

const (
	TriggerEdge TriggerType = iota
	TriggerLevel
)

// Controller is the narrow interrupt-binding surface this driver needs.
type Controller interface {
	// Bind registers handler to be invoked once per interrupt on irqNum,
	// and returns a Handle for unmasking. handler runs on whatever thread
	// the collaborator delivers interrupts on — the driver core assumes it
	// is the single event-loop thread.
	Bind(irqNum int, trigger TriggerType, handler func()) (Handle, error)
}

// Handle lets the driver unmask the hardware line and its own vectors.
type Handle interface {
	// Unmask clears the interrupt mask for the bound line. Called once
	// during registration (§4.2) and, for level-triggered lines, again
	// after each dispatch.
	Unmask()
	Trigger() TriggerType
}
