package reporter

import (
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/dustin/go-humanize"

	"gosync/internal/util"
)

// ConsoleReporter publishes every event onto an EventBus.Bus and drives a
// single built-in subscriber that prints a human-readable line per event,
// serialized through util.Default the way the teacher's goroutines all
// serialize through its SafePrinter.
type ConsoleReporter struct {
	bus     EventBus.Bus
	printer *util.SafePrinter
}

// NewConsoleReporter creates a ConsoleReporter and wires its built-in
// console subscriber.
func NewConsoleReporter() *ConsoleReporter {
	c := &ConsoleReporter{bus: EventBus.New(), printer: util.Default}
	c.bus.Subscribe(EventScanStarted, c.onScanStarted)
	c.bus.Subscribe(EventScanDone, c.onScanDone)
	c.bus.Subscribe(EventActionDecided, c.onActionDecided)
	c.bus.Subscribe(EventBatchStarted, c.onBatchStarted)
	c.bus.Subscribe(EventBatchDone, c.onBatchDone)
	c.bus.Subscribe(EventConflict, c.onConflict)
	c.bus.Subscribe(EventWarn, c.onWarn)
	c.bus.Subscribe(EventError, c.onError)
	c.bus.Subscribe(EventSessionDone, c.onSessionDone)
	return c
}

// Subscribe lets additional observers (e.g. a progress-bar UI, a test
// spy) listen for an event without the core ever knowing they exist.
func (c *ConsoleReporter) Subscribe(event string, fn interface{}) error {
	return c.bus.Subscribe(event, fn)
}

// Emit implements Reporter.
func (c *ConsoleReporter) Emit(event string, fields Fields) {
	c.bus.Publish(event, fields)
}

func (c *ConsoleReporter) onScanStarted(f Fields) {
	c.printer.Printf("scan started: %v\n", f["side"])
}

func (c *ConsoleReporter) onScanDone(f Fields) {
	c.printer.Printf("scan done: %v (%v entries)\n", f["side"], f["count"])
}

func (c *ConsoleReporter) onActionDecided(f Fields) {
	c.printer.Printf("  %-14s %v\n", f["kind"], f["path"])
}

func (c *ConsoleReporter) onBatchStarted(f Fields) {
	bytes, _ := f["bytes"].(int64)
	c.printer.Printf("batch started: %v (%v paths, %s)\n", f["kind"], f["count"], humanize.Bytes(uint64(bytes)))
}

func (c *ConsoleReporter) onBatchDone(f Fields) {
	if errMsg, ok := f["error"]; ok {
		c.printer.Printf("batch failed: %v (%v paths): %v\n", f["kind"], f["count"], errMsg)
		return
	}
	c.printer.Printf("batch done: %v (%v paths)\n", f["kind"], f["count"])
}

func (c *ConsoleReporter) onConflict(f Fields) {
	c.printer.Printf("conflict: %v\n", f["path"])
}

func (c *ConsoleReporter) onWarn(f Fields) {
	c.printer.Printf("warning: %v\n", f["message"])
}

func (c *ConsoleReporter) onError(f Fields) {
	c.printer.Printf("error: %v\n", f["error"])
}

func (c *ConsoleReporter) onSessionDone(f Fields) {
	status := "done"
	if aborted, _ := f["aborted"].(bool); aborted {
		status = "aborted"
	}
	c.printer.Printf("session %v: %s at %s\n", f["session"], status, time.Now().UTC().Format(time.RFC3339))
}
