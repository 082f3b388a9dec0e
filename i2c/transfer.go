package i2c

import (
	"sync/atomic"

	"hpsbsp/core"
)

type direction uint8

const (
	dirWrite direction = iota
	dirRead
)

func (d direction) String() string {
	if d == dirRead {
		return "read"
	}
	return "write"
}

// transfer is the state of one request. Until it is published through
// Bus.xfer only the claiming task touches it; afterwards only the interrupt
// handler does, and done decides who finishes it.
type transfer struct {
	dir        direction
	buf        []byte
	size       int
	bytesLeft  int
	rdCmdsLeft int
	unsent     int // pushed bytes an abort kept from the target
	noStop     bool
	async      bool
	completer  Completer
	signal     chan Status
	abortSrc   uint32

	done atomic.Bool
}

// WriteSync writes buf to the target and blocks until the interrupt handler
// finishes. An abort is reported as *AbortError.
func (b *Bus) WriteSync(buf []byte) error {
	t, err := b.start(dirWrite, buf, false)
	if err != nil {
		return err
	}
	return b.wait(t)
}

// ReadSync fills buf from the target and blocks until done.
func (b *Bus) ReadSync(buf []byte) error {
	t, err := b.start(dirRead, buf, false)
	if err != nil {
		return err
	}
	return b.wait(t)
}

// WriteAsync starts a write and returns. The Completer installed with
// SetCallback is called once with the outcome. buf must stay untouched
// until then.
func (b *Bus) WriteAsync(buf []byte) error {
	_, err := b.start(dirWrite, buf, true)
	return err
}

// ReadAsync starts a read and returns; see WriteAsync.
func (b *Bus) ReadAsync(buf []byte) error {
	_, err := b.start(dirRead, buf, true)
	return err
}

// start checks preconditions, claims the bus and primes it. Priming runs
// under mu so Cancel never sees a claimed but unpublished transfer.
func (b *Bus) start(dir direction, buf []byte, async bool) (*transfer, error) {
	if b == nil || !b.open.Load() || len(buf) == 0 {
		return nil, ErrInvalidArgument
	}

	b.mu.Lock()
	if b.addr == 0 {
		b.mu.Unlock()
		return nil, ErrAddressNotSet
	}
	if !b.open.Load() {
		b.mu.Unlock()
		return nil, ErrInvalidArgument
	}
	if async && b.completer == nil {
		b.mu.Unlock()
		return nil, ErrInvalidArgument
	}
	t := &transfer{
		dir:        dir,
		buf:        buf,
		size:       len(buf),
		bytesLeft:  len(buf),
		rdCmdsLeft: len(buf),
		noStop:     b.noStop.Load(),
		async:      async,
		completer:  b.completer,
	}
	if !async {
		t.signal = make(chan Status, 1)
	}
	if !b.owner.CompareAndSwap(nil, t) {
		b.mu.Unlock()
		return nil, ErrBusy
	}
	b.aborted.Store(false)
	b.prime(t)
	b.mu.Unlock()
	return t, nil
}

// prime clears leftovers of the previous transfer, fills the TX FIFO and
// hands t to the interrupt handler.
func (b *Bus) prime(t *transfer) {
	l := b.ll
	l.flushRx()
	l.clearIntr()

	var m uint32
	switch t.dir {
	case dirWrite:
		n := l.pushWrite(t.buf, t.noStop)
		t.bytesLeft -= n
		m = IntrTxEmpty | IntrTxAbrt
	case dirRead:
		n := l.pushReadCmds(t.rdCmdsLeft, l.depth, t.noStop)
		t.rdCmdsLeft -= n
		m = IntrRxFull | IntrTxAbrt
	}
	b.xfer.Store(t)
	l.unmask(m)
}

// wait blocks for the completion of a synchronous transfer and releases
// the bus.
func (b *Bus) wait(t *transfer) error {
	st := <-t.signal
	b.release(t)
	switch st {
	case StatusSuccess:
		return nil
	case StatusNack:
		return &AbortError{Source: t.abortSrc}
	default:
		return ErrCanceled
	}
}

// release drops the busy token if t still holds it, consuming the no-stop
// request with it.
func (b *Bus) release(t *transfer) {
	if b.owner.CompareAndSwap(t, nil) {
		b.noStop.Store(false)
	}
}

// finish hands the outcome to whoever waits for t. Only the first call for
// a transfer has any effect.
func (b *Bus) finish(t *transfer, st Status) {
	if !t.done.CompareAndSwap(false, true) {
		return
	}
	if !t.async {
		t.signal <- st
		return
	}
	b.release(t)
	if t.completer != nil {
		t.completer.OnComplete(st)
	}
}

// Cancel stops the transfer in flight. The interrupt line is held off while
// the transfer is torn down, so a completion cannot race the cancel. A
// synchronous caller gets ErrCanceled, a Completer StatusOperationFailed.
// Cancel waits for a running interrupt handler, so it must not be called
// from a Completer while a transfer on the same bus is in flight.
func (b *Bus) Cancel() error {
	if b == nil || !b.open.Load() {
		return ErrInvalidArgument
	}
	if b.owner.Load() == nil {
		return ErrPermissionDenied
	}
	line, prio := b.desc.IRQ, b.ctl.prio
	irq := b.ctl.irq

	// Disable waits for a running handler, which may itself be starting
	// the next transfer through b.mu, so it must come before the lock.
	if err := irq.Disable(line); err != nil {
		return err
	}
	defer func() {
		if err := irq.Enable(line, prio); err != nil {
			b.ctl.logger.Errorw("i2c irq re-enable failed", "bus", b.id, "error", err)
		}
	}()

	b.mu.Lock()
	t := b.owner.Load()
	if t == nil {
		b.mu.Unlock()
		return ErrPermissionDenied
	}
	b.ll.maskAll()
	b.ll.requestAbort()
	b.aborted.Store(false)
	b.release(t)
	b.mu.Unlock()

	core.RecordEvent(core.EvtCancel, uint8(b.id), uint32(t.size-t.bytesLeft), uint32(t.bytesLeft))
	b.ctl.logger.Infow("i2c transfer canceled", "bus", b.id, "dir", t.dir, "left", t.bytesLeft)

	b.finish(t, StatusOperationFailed)
	return nil
}
