// Package interrupt dispatches hardware interrupts to the handlers drivers
// register for them.
//
// Handlers are run by the dispatcher in interrupt context, where nothing may
// sleep. A handler that needs to sleep has its filter ask for delegation:
// its interrupt source is disabled and the handler is run later by the
// interrupt worker thread, after which the source is enabled again.
package interrupt

import (
	"gvisor.dev/gvisor/pkg/log"

	"github.com/cahirwpz/wifire-os/src/internal/task"
	"github.com/cahirwpz/wifire-os/src/sync"
)

// Disable masks interrupts for td. Calls nest.
func Disable(td *task.Task) {
	td.DisableInterrupts()
}

// Enable undoes one call to Disable.
func Enable(td *task.Task) {
	if !Disabled(td) {
		panic("interrupt: enable with interrupts enabled")
	}
	td.EnableInterrupts()
}

// Disabled reports whether interrupts are masked for td.
func Disabled(td *task.Task) bool {
	return td.InterruptsDisabled()
}

// FilterResult is what a filter makes of an interrupt.
type FilterResult int

const (
	Stray    FilterResult = iota // not ours, try the next handler
	Filtered                     // handled, stop
	Delegate                     // run the handler in the interrupt thread
)

// Handler is a driver's handler of an interrupt event.
type Handler struct {
	Name string
	// Filter runs in interrupt context.
	Filter func(td *task.Task, arg any) FilterResult
	// Handler runs in the interrupt thread if Filter returns Delegate.
	Handler func(td *task.Task, arg any)
	Arg     any
	// Handlers of higher priority are asked first.
	Prio int

	event *Event
	// Set while the handler is queued for or runs in the interrupt thread.
	// Guarded by the lock of event.
	delegated bool
}

// Event returns the event h is attached to.
func (h *Handler) Event() *Event {
	return h.event
}

// Action disables or enables the source of an interrupt event.
type Action func(td *task.Task, ie *Event)

// Event is an interrupt line together with the handlers attached to it.
type Event struct {
	IRQ    int
	Name   string
	Source any

	disable Action
	enable  Action

	lock eventMutex
	// Sorted by non-increasing priority. Delegated handlers are not here.
	handlers []*Handler
	count    int
	stray    task.Uint64
}

// NewEvent creates an interrupt event. disable and enable may be nil.
func NewEvent(irq int, name string, disable, enable Action, source any) *Event {
	return &Event{
		IRQ:     irq,
		Name:    name,
		Source:  source,
		disable: disable,
		enable:  enable,
	}
}

var (
	allEventsLock sync.Mutex
	allEvents     []*Event
)

// Register makes ie known to the system.
func Register(td *task.Task, ie *Event) {
	allEventsLock.Lock(td)
	allEvents = append(allEvents, ie)
	allEventsLock.Unlock(td)
}

// Events returns all registered events.
func Events(td *task.Task) []*Event {
	allEventsLock.Lock(td)
	defer allEventsLock.Unlock(td)
	return append([]*Event(nil), allEvents...)
}

// Add new handler according to its priority.
func (ie *Event) insert(h *Handler) {
	i := len(ie.handlers)
	for j, it := range ie.handlers {
		if h.Prio > it.Prio {
			i = j
			break
		}
	}
	ie.handlers = append(ie.handlers, nil)
	copy(ie.handlers[i+1:], ie.handlers[i:])
	ie.handlers[i] = h
	h.event = ie
	ie.count++
}

func (ie *Event) remove(h *Handler) {
	for i, it := range ie.handlers {
		if it == h {
			ie.handlers = append(ie.handlers[:i], ie.handlers[i+1:]...)
			ie.count--
			return
		}
	}
	panic("interrupt: handler " + h.Name + " not attached to " + ie.Name)
}

// AddHandler attaches h to ie.
func (ie *Event) AddHandler(td *task.Task, h *Handler) {
	if h.Filter == nil {
		panic("interrupt: handler " + h.Name + " has no filter")
	}
	ie.lock.Lock(td)
	ie.insert(h)
	ie.lock.Unlock(td)
}

// RemoveHandler detaches h from its event. h must not be delegated to the
// interrupt thread at the time.
func RemoveHandler(td *task.Task, h *Handler) {
	ie := h.event
	if ie == nil {
		panic("interrupt: handler " + h.Name + " not attached")
	}
	ie.lock.Lock(td)
	if h.delegated {
		ie.lock.Unlock(td)
		panic("interrupt: handler " + h.Name + " removed while delegated to the interrupt thread")
	}
	ie.remove(h)
	h.event = nil
	ie.lock.Unlock(td)
}

// Handlers returns the names of the handlers attached to ie, in the order
// they are asked.
func (ie *Event) Handlers(td *task.Task) []string {
	ie.lock.Lock(td)
	defer ie.lock.Unlock(td)
	names := make([]string, 0, len(ie.handlers))
	for _, h := range ie.handlers {
		names = append(names, h.Name)
	}
	return names
}

// Count returns the number of handlers attached to ie, delegated ones not
// included.
func (ie *Event) Count(td *task.Task) int {
	ie.lock.Lock(td)
	defer ie.lock.Unlock(td)
	return ie.count
}

// Stray returns the number of interrupts nobody claimed.
func (ie *Event) Stray() uint64 {
	return ie.stray.Load()
}

func (ie *Event) disableSource(td *task.Task) {
	if ie.disable != nil {
		ie.disable(td, ie)
	}
}

func (ie *Event) enableSource(td *task.Task) {
	if ie.enable != nil {
		ie.enable(td, ie)
	}
}

// RunHandlers asks the handlers of ie, highest priority first, to handle an
// interrupt, until one of them filters it or asks for delegation. It must be
// called in interrupt context.
func (ie *Event) RunHandlers(td *task.Task) {
	if !td.InInterrupt() {
		panic("interrupt: handlers of " + ie.Name + " run outside of interrupt context")
	}

	ie.lock.Lock(td)
	defer ie.lock.Unlock(td)

	for _, h := range ie.handlers {
		switch h.Filter(td, h.Arg) {
		case Filtered:
			return
		case Delegate:
			if h.Handler == nil {
				panic("interrupt: handler " + h.Name + " delegated without a handler")
			}
			ie.disableSource(td)
			ie.remove(h)
			h.delegated = true
			delegate(td, h)
			return
		}
	}

	ie.stray.Inc()
	log.Warningf("Spurious %s interrupt!", ie.Name)
}
