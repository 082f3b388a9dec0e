package i2c

import (
	"hpsbsp/core"
)

// handleInterrupt runs in interrupt context. It never logs or blocks; the
// event ring is the only trace it leaves.
func (b *Bus) handleInterrupt() {
	l := b.ll
	bus := uint8(b.id)

	stat := l.intrStatus()
	core.RecordEvent(core.EvtISR, bus, stat, 0)

	// IC_CLR_INTR also resets the abort source.
	var src uint32
	if stat&IntrTxAbrt != 0 {
		src = l.abortSource()
	}
	l.clearIntr()

	t := b.xfer.Load()
	if t == nil || t.done.Load() {
		core.RecordEvent(core.EvtSpurious, bus, stat, 0)
		return
	}

	switch {
	case stat&IntrTxAbrt != 0:
		b.abort(t, src)
	case stat&IntrTxEmpty != 0 && t.dir == dirWrite:
		b.refill(t)
	case stat&IntrRxFull != 0 && t.dir == dirRead:
		b.drainRx(t)
	default:
		core.RecordEvent(core.EvtUnhandled, bus, stat, l.intrMask())
	}
}

func (b *Bus) abort(t *transfer, src uint32) {
	b.ll.mask(intrTransfer)

	// Bytes the abort flushed, and a refused data byte, never reached the
	// target. An address NACK means nothing did. bytesLeft keeps counting
	// what was handed to the FIFO.
	if t.dir == dirWrite {
		pushed := t.size - t.bytesLeft
		switch {
		case src&AbrtAddrNoack != 0:
			t.unsent = pushed
		default:
			t.unsent = int(src>>AbrtFlushCntPos) & AbrtFlushCntMsk
			if src&AbrtTxDataNoack != 0 {
				t.unsent++
			}
			t.unsent = min(t.unsent, pushed)
		}
	}

	t.abortSrc = src
	b.lastSrc.Store(src)
	b.aborted.Store(true)
	core.RecordEvent(core.EvtAbort, uint8(b.id), src, uint32(t.bytesLeft+t.unsent))
	b.finish(t, StatusNack)
}

// refill runs on TX_EMPTY. The TX threshold is zero, so the FIFO is empty:
// either push the next chunk or, with nothing left, the write has gone out.
func (b *Bus) refill(t *transfer) {
	if t.bytesLeft > 0 {
		off := t.size - t.bytesLeft
		n := b.ll.pushWrite(t.buf[off:], t.noStop)
		t.bytesLeft -= n
		core.RecordEvent(core.EvtTxRefill, uint8(b.id), uint32(n), uint32(t.bytesLeft))
		return
	}
	b.ll.mask(intrTransfer)
	core.RecordEvent(core.EvtComplete, uint8(b.id), uint32(t.size), 0)
	b.finish(t, StatusSuccess)
}

// drainRx runs on RX_FULL. Read commands are queued ahead of the data, as
// many as the TX FIFO takes without letting the responses overrun the RX FIFO.
func (b *Bus) drainRx(t *transfer) {
	b.queueReads(t)

	off := t.size - t.bytesLeft
	n := b.ll.drain(t.buf[off:])
	t.bytesLeft -= n
	core.RecordEvent(core.EvtRxDrain, uint8(b.id), uint32(n), uint32(t.bytesLeft))

	if t.bytesLeft == 0 {
		b.ll.mask(intrTransfer)
		core.RecordEvent(core.EvtComplete, uint8(b.id), uint32(t.size), 0)
		b.finish(t, StatusSuccess)
		return
	}
	// Draining freed RX room; keep commands in flight so RX_FULL fires again.
	b.queueReads(t)
}

func (b *Bus) queueReads(t *transfer) {
	if t.rdCmdsLeft == 0 {
		return
	}
	outstanding := t.bytesLeft - t.rdCmdsLeft
	n := b.ll.pushReadCmds(t.rdCmdsLeft, b.ll.depth-outstanding, t.noStop)
	if n > 0 {
		t.rdCmdsLeft -= n
		core.RecordEvent(core.EvtReadCmds, uint8(b.id), uint32(n), uint32(t.rdCmdsLeft))
	}
}
