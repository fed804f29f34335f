// Package machine emulates the interrupt controller of the board: a set of
// interrupt lines that can be masked, and that run the handlers of their
// interrupt event in interrupt context when raised.
package machine

import (
	"fmt"

	"go.uber.org/atomic"

	"github.com/cahirwpz/wifire-os/src/internal/task"
	"github.com/cahirwpz/wifire-os/src/interrupt"
)

// Dispatcher is what an interrupt line delivers to.
type Dispatcher interface {
	RunHandlers(td *task.Task)
}

type dispatcherRef struct {
	d Dispatcher
}

type line struct {
	dispatcher atomic.Pointer[dispatcherRef]
	masked     atomic.Bool
	pending    atomic.Bool
	raised     atomic.Uint64
	delivered  atomic.Uint64
}

// Controller is an interrupt controller with a fixed number of lines.
type Controller struct {
	lines []line
}

// NewController creates a controller with n lines, all of them unmasked and
// connected to nothing. Interrupts left pending because the raising thread
// had them disabled are delivered as soon as some thread enables them.
func NewController(n int) *Controller {
	c := &Controller{lines: make([]line, n)}
	task.OnInterruptsEnabled(c.Poll)
	return c
}

func (c *Controller) line(irq int) *line {
	if irq < 0 || irq >= len(c.lines) {
		panic(fmt.Sprintf("machine: no interrupt line %d", irq))
	}
	return &c.lines[irq]
}

// Connect makes irq deliver to d.
func (c *Controller) Connect(irq int, d Dispatcher) {
	c.line(irq).dispatcher.Store(&dispatcherRef{d})
}

// NewEvent creates and registers an interrupt event for irq. The event masks
// the line while one of its handlers is delegated.
func (c *Controller) NewEvent(td *task.Task, irq int, name string) *interrupt.Event {
	ie := interrupt.NewEvent(irq, name,
		func(td *task.Task, ie *interrupt.Event) { c.Mask(ie.IRQ) },
		func(td *task.Task, ie *interrupt.Event) { c.Unmask(td, ie.IRQ) },
		c)
	interrupt.Register(td, ie)
	c.Connect(irq, ie)
	return ie
}

// Mask stops irq from being delivered. Raising it leaves it pending.
func (c *Controller) Mask(irq int) {
	c.line(irq).masked.Store(true)
}

// Unmask lets irq be delivered again, and delivers it right away if it is
// pending and td has interrupts enabled. Otherwise it is delivered when td
// enables interrupts.
func (c *Controller) Unmask(td *task.Task, irq int) {
	l := c.line(irq)
	l.masked.Store(false)
	c.deliverPending(td, l)
}

// Masked reports whether irq is masked.
func (c *Controller) Masked(irq int) bool {
	return c.line(irq).masked.Load()
}

// Pending reports whether irq was raised and not delivered yet.
func (c *Controller) Pending(irq int) bool {
	return c.line(irq).pending.Load()
}

// Raised returns how many times irq was raised and delivered.
func (c *Controller) Raised(irq int) (raised, delivered uint64) {
	l := c.line(irq)
	return l.raised.Load(), l.delivered.Load()
}

// Raise signals irq on behalf of td. Unless the line is masked or td has
// interrupts disabled, its dispatcher runs right away in interrupt context.
// Otherwise the interrupt stays pending.
func (c *Controller) Raise(td *task.Task, irq int) {
	l := c.line(irq)
	l.raised.Inc()
	l.pending.Store(true)
	c.deliverPending(td, l)
}

// Poll delivers every pending interrupt on unmasked lines. It runs whenever
// a thread enables interrupts.
func (c *Controller) Poll(td *task.Task) {
	for i := range c.lines {
		c.deliverPending(td, &c.lines[i])
	}
}

func (c *Controller) deliverPending(td *task.Task, l *line) {
	if l.masked.Load() || td.InterruptsDisabled() {
		return
	}
	if !l.pending.CompareAndSwap(true, false) {
		return
	}
	ref := l.dispatcher.Load()
	if ref == nil {
		// Nobody listens: the interrupt is lost.
		return
	}
	l.delivered.Inc()
	td.EnterInterrupt()
	ref.d.RunHandlers(td)
	td.ExitInterrupt()
}
