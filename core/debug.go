package core

import (
	"io"

	"go.uber.org/zap"
)

// Event captures a driver event raised in interrupt context for post-mortem
// analysis. Handlers must not log, so they record events instead.
type Event struct {
	Kind   EventKind // Event type code
	Bus    uint8     // Bus (instance) number
	Seq    uint32    // Monotonic sequence number
	Value1 uint32    // Context-dependent value
	Value2 uint32    // Context-dependent value
}

// EventKind is the type code of an Event.
type EventKind uint8

// Event type codes
const (
	EvtISR       EventKind = 1 // handler entry, v1=interrupt status
	EvtTxRefill  EventKind = 2 // bytes pushed, v1=count v2=bytes left
	EvtRxDrain   EventKind = 3 // bytes drained, v1=count v2=bytes left
	EvtReadCmds  EventKind = 4 // read commands queued, v1=count v2=commands left
	EvtComplete  EventKind = 5 // transfer complete, v1=transfer size
	EvtAbort     EventKind = 6 // transfer aborted, v1=abort source
	EvtCancel    EventKind = 7 // transfer cancelled from task context
	EvtSpurious  EventKind = 8 // handler ran with no transfer published
	EvtUnhandled EventKind = 9 // status bits nobody owns, v1=status
)

func (k EventKind) String() string {
	switch k {
	case EvtISR:
		return "ISR"
	case EvtTxRefill:
		return "TX_REFILL"
	case EvtRxDrain:
		return "RX_DRAIN"
	case EvtReadCmds:
		return "READ_CMDS"
	case EvtComplete:
		return "COMPLETE"
	case EvtAbort:
		return "ABORT!"
	case EvtCancel:
		return "CANCEL"
	case EvtSpurious:
		return "SPURIOUS"
	case EvtUnhandled:
		return "UNHANDLED"
	default:
		return "UNKNOWN"
	}
}

const (
	EventRingSize = 64 // Keep last 64 events for post-mortem
)

var (
	logger = zap.NewNop().Sugar()

	// Event capture ring buffer (non-blocking, for post-mortem)
	eventRing     [EventRingSize]Event
	eventRingHead uint8
	eventSeq      uint32
	eventsEnabled = true
)

// SetLogger installs the process logger. Passing nil restores the no-op logger.
func SetLogger(l *zap.SugaredLogger) {
	if l == nil {
		l = zap.NewNop().Sugar()
	}
	logger = l
}

// Logger returns the process logger. Never call it from interrupt context.
func Logger() *zap.SugaredLogger {
	return logger
}

// SetEventsEnabled turns event capture on or off
func SetEventsEnabled(enabled bool) {
	state := disableInterrupts()
	eventsEnabled = enabled
	restoreInterrupts(state)
}

// RecordEvent captures an event in the ring buffer.
// Safe from interrupt context; it never blocks on anything but the
// interrupt mask.
func RecordEvent(kind EventKind, bus uint8, value1, value2 uint32) {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	if !eventsEnabled {
		return
	}
	eventSeq++
	idx := eventRingHead
	eventRing[idx] = Event{
		Kind:   kind,
		Bus:    bus,
		Seq:    eventSeq,
		Value1: value1,
		Value2: value2,
	}
	eventRingHead = (idx + 1) % EventRingSize
}

// Events returns the captured events, oldest first
func Events() []Event {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	out := make([]Event, 0, EventRingSize)
	start := eventRingHead
	for i := uint8(0); i < EventRingSize; i++ {
		evt := eventRing[(start+i)%EventRingSize]
		if evt.Kind == 0 {
			continue // Empty slot
		}
		out = append(out, evt)
	}
	return out
}

// DumpEvents writes the event ring to w, oldest first
func DumpEvents(w io.Writer) error {
	events := Events()
	if _, err := io.WriteString(w, "=== event ring ("+itoa(len(events))+") ===\n"); err != nil {
		return err
	}
	for _, evt := range events {
		line := "#" + utoa(evt.Seq) +
			" bus=" + itoa(int(evt.Bus)) +
			" " + evt.Kind.String() +
			" v1=" + hex32(evt.Value1) +
			" v2=" + utoa(evt.Value2) + "\n"
		if _, err := io.WriteString(w, line); err != nil {
			return err
		}
	}
	return nil
}

// ClearEvents clears the event ring
func ClearEvents() {
	state := disableInterrupts()
	defer restoreInterrupts(state)
	for i := range eventRing {
		eventRing[i] = Event{}
	}
	eventRingHead = 0
}
