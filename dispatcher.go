package asiotest

import (
	"log/slog"
	"unsafe"
)

// MessageHandler answers a single message selector.
type MessageHandler func(selector Selector, value int32, message unsafe.Pointer, opt *float64) int32

type messageEntry struct {
	selector Selector
	handler  MessageHandler
}

// Dispatcher answers driver messages from a fixed table.
// The table is built by NewDispatcher and never changes afterwards.
type Dispatcher struct {
	entries []messageEntry
	logger  *slog.Logger
}

// NewDispatcher returns a dispatcher that supports SelectorSupported and SupportsTimeInfo.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	d := &Dispatcher{logger: loggerOrDefault(logger)}

	d.entries = []messageEntry{
		{SelectorSupported, d.selectorSupported},
		{SupportsTimeInfo, supportsTimeInfo},
	}

	return d
}

// Dispatch runs the handler registered for selector, unknown selectors return 0.
func (d *Dispatcher) Dispatch(selector Selector, value int32, message unsafe.Pointer, opt *float64) int32 {
	handler := d.find(selector)
	if handler == nil {
		return 0
	}

	return handler(selector, value, message, opt)
}

// Selectors returns the registered selectors in table order.
func (d *Dispatcher) Selectors() []Selector {
	selectors := make([]Selector, 0, len(d.entries))
	for _, e := range d.entries {
		selectors = append(selectors, e.selector)
	}

	return selectors
}

func (d *Dispatcher) find(selector Selector) MessageHandler {
	for _, e := range d.entries {
		if e.selector == selector {
			return e.handler
		}
	}

	return nil
}

func (d *Dispatcher) selectorSupported(_ Selector, value int32, _ unsafe.Pointer, _ *float64) int32 {
	d.logger.Debug("Being queried for message selector", "selector", Selector(value))

	if d.find(Selector(value)) != nil {
		return 1
	}

	return 0
}

func supportsTimeInfo(Selector, int32, unsafe.Pointer, *float64) int32 {
	return 1
}
