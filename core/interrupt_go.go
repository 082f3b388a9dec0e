//go:build !tinygo

package core

import "sync"

// State is a placeholder for interrupt state on regular Go
type State uintptr

// Simulated interrupt handlers run on their own goroutines, so the critical
// section is a mutex instead of masking interrupts.
var irqMu sync.Mutex

// disableInterrupts enters the critical section shared with handlers
func disableInterrupts() State {
	irqMu.Lock()
	return 0
}

// restoreInterrupts leaves the critical section
func restoreInterrupts(state State) {
	irqMu.Unlock()
}
