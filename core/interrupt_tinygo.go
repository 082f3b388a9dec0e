//go:build tinygo

package core

import "runtime/interrupt"

// disableInterrupts masks interrupts on the current core so the event ring
// can be updated from both task and handler context.
func disableInterrupts() interrupt.State {
	return interrupt.Disable()
}

// restoreInterrupts restores the mask saved by disableInterrupts
func restoreInterrupts(state interrupt.State) {
	interrupt.Restore(state)
}
