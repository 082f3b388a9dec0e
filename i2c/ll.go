package i2c

import (
	"hpsbsp/hal"
)

// enablePolls bounds the IC_ENABLE_STATUS poll after toggling IC_ENABLE.
const enablePolls = 1000

// SCL count floors from the DesignWare databook.
const (
	minHcnt = 6
	minLcnt = 8
)

// ll is the register-level view of one controller block. It holds no state
// besides the block address and FIFO depth, so copies are cheap and safe.
type ll struct {
	regs  hal.Registers
	base  uintptr
	depth int
}

func newLL(regs hal.Registers, base uintptr) ll {
	l := ll{regs: regs, base: base}
	l.depth = l.fifoDepth()
	return l
}

func (l ll) read(off uintptr) uint32     { return l.regs.Read32(l.base + off) }
func (l ll) write(off uintptr, v uint32) { l.regs.Write32(l.base+off, v) }

// fifoDepth reads the TX FIFO depth from IC_COMP_PARAM_1. Blocks built
// without the parameter register read zero there.
func (l ll) fifoDepth() int {
	p := l.read(regCompParam1)
	if p == 0 {
		return DefaultFIFODepth
	}
	return int((p>>ParamTxDepthPos)&ParamDepthMsk) + 1
}

// setEnabled toggles IC_ENABLE and reports whether IC_ENABLE_STATUS
// followed within enablePolls reads.
func (l ll) setEnabled(on bool) bool {
	var v uint32
	if on {
		v = EnableEnable
	}
	l.write(regEnable, v)
	for i := 0; i < enablePolls; i++ {
		if (l.read(regEnableStatus)&EnableEnable != 0) == on {
			return true
		}
	}
	return false
}

// reconfigure runs fn with the block disabled. IC_CON and IC_TAR writes are
// dropped while the block is enabled, so fn is skipped if it won't stop.
func (l ll) reconfigure(fn func()) error {
	if !l.setEnabled(false) {
		l.setEnabled(true)
		return errEnableStuck
	}
	fn()
	if !l.setEnabled(true) {
		return errEnableStuck
	}
	return nil
}

// initMaster puts the block into 7-bit master mode at standard speed with
// every interrupt masked and both FIFO thresholds at zero.
func (l ll) initMaster(clockHz uint32) error {
	return l.reconfigure(func() {
		l.write(regCon, conDefaultMaster|uint32(SpeedStandard)<<ConSpeedPos)
		l.write(regTxTl, 0)
		l.write(regRxTl, 0)
		l.write(regIntrMask, 0)
		l.programSCL(SpeedStandard, clockHz, StandardRate)
		l.read(regClrIntr)
	})
}

// setTarget programs IC_TAR.
func (l ll) setTarget(addr uint16) error {
	return l.reconfigure(func() {
		l.write(regTar, uint32(addr)&0x7f)
	})
}

func (l ll) target() uint16 {
	return uint16(l.read(regTar) & 0x3ff)
}

// setSpeed switches the speed class and programs the SCL counts for rateHz.
func (l ll) setSpeed(mode SpeedMode, clockHz, rateHz uint32) error {
	return l.reconfigure(func() {
		hal.ReplaceBits(l.regs, l.base+regCon, uint32(mode), ConSpeedMsk, ConSpeedPos)
		l.programSCL(mode, clockHz, rateHz)
	})
}

func (l ll) speed() SpeedMode {
	return SpeedMode((l.read(regCon) >> ConSpeedPos) & ConSpeedMsk)
}

func (l ll) programSCL(mode SpeedMode, clockHz, rateHz uint32) {
	hcnt, lcnt := sclCounts(clockHz, rateHz)
	switch mode {
	case SpeedHigh:
		l.write(regHSSclHcnt, hcnt)
		l.write(regHSSclLcnt, lcnt)
	case SpeedFast:
		l.write(regFSSclHcnt, hcnt)
		l.write(regFSSclLcnt, lcnt)
	default:
		l.write(regSSSclHcnt, hcnt)
		l.write(regSSSclLcnt, lcnt)
	}
}

// sclCounts splits one SCL period into high and low counts of the block
// clock, 40/60.
func sclCounts(clockHz, rateHz uint32) (hcnt, lcnt uint32) {
	if rateHz == 0 {
		rateHz = StandardRate
	}
	period := (clockHz + rateHz/2) / rateHz
	lcnt = period * 3 / 5
	hcnt = period - lcnt
	if hcnt < minHcnt {
		hcnt = minHcnt
	}
	if lcnt < minLcnt {
		lcnt = minLcnt
	}
	return hcnt, lcnt
}

func (l ll) txFree() int {
	free := l.depth - int(l.read(regTxflr))
	if free < 0 {
		return 0
	}
	return free
}

func (l ll) rxLevel() int {
	return int(l.read(regRxflr))
}

// pushWrite queues as many bytes of data as the TX FIFO has room for and
// returns the count. data holds the remaining bytes of the request, so its
// last byte carries STOP unless noStop is set.
func (l ll) pushWrite(data []byte, noStop bool) int {
	n := min(len(data), l.txFree())
	for i := 0; i < n; i++ {
		v := uint32(data[i])
		if i == len(data)-1 && !noStop {
			v |= DataCmdStop
		}
		l.write(regDataCmd, v)
	}
	return n
}

// pushReadCmds queues up to limit read commands out of left remaining, bounded
// by TX FIFO room. The command for the last byte of the request carries STOP
// unless noStop is set.
func (l ll) pushReadCmds(left, limit int, noStop bool) int {
	n := min(left, limit, l.txFree())
	for i := 0; i < n; i++ {
		v := uint32(DataCmdRead)
		if left-i == 1 && !noStop {
			v |= DataCmdStop
		}
		l.write(regDataCmd, v)
	}
	return max(n, 0)
}

// drain copies received bytes into dst and returns the count.
func (l ll) drain(dst []byte) int {
	n := min(len(dst), l.rxLevel())
	for i := 0; i < n; i++ {
		dst[i] = byte(l.read(regDataCmd) & DataCmdDatMsk)
	}
	return n
}

// flushRx discards whatever a previous transfer left in the RX FIFO.
func (l ll) flushRx() {
	for i := l.rxLevel(); i > 0; i-- {
		l.read(regDataCmd)
	}
}

func (l ll) unmask(m uint32) { hal.SetBits(l.regs, l.base+regIntrMask, m) }
func (l ll) mask(m uint32)   { hal.ClearBits(l.regs, l.base+regIntrMask, m) }
func (l ll) maskAll()        { l.write(regIntrMask, 0) }
func (l ll) intrMask() uint32 {
	return l.read(regIntrMask)
}

func (l ll) intrStatus() uint32 { return l.read(regIntrStat) }

// clearIntr acknowledges every software-clearable interrupt, TX_ABRT included.
// TX_EMPTY and RX_FULL follow the FIFO levels and cannot be cleared.
func (l ll) clearIntr() { l.read(regClrIntr) }

// abortSource must be read before TX_ABRT is cleared; clearing resets it.
func (l ll) abortSource() uint32 { return l.read(regTxAbrtSource) }

// requestAbort asks the block to stop the current transfer. Hardware clears
// the bit once the STOP has gone out and raises TX_ABRT with USER_ABRT.
func (l ll) requestAbort() { hal.SetBits(l.regs, l.base+regEnable, EnableAbort) }

func (l ll) active() bool { return l.read(regStatus)&StatusActivity != 0 }
