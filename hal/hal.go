// Package hal is the boundary between board drivers and the SoC: register
// access, the interrupt controller and the reset manager.
//
// Drivers only ever talk to these interfaces. Target builds back them with
// memory-mapped registers; host builds back them with the software
// implementations in this package and the simulated peripherals under i2c/dwsim.
package hal

// Registers reads and writes 32-bit peripheral registers. Accesses are
// atomic with respect to each other and never block.
type Registers interface {
	Read32(addr uintptr) uint32
	Write32(addr uintptr, v uint32)
}

// SetBits sets mask in the register at addr (read-modify-write).
func SetBits(r Registers, addr uintptr, mask uint32) {
	r.Write32(addr, r.Read32(addr)|mask)
}

// ClearBits clears mask in the register at addr (read-modify-write).
func ClearBits(r Registers, addr uintptr, mask uint32) {
	r.Write32(addr, r.Read32(addr)&^mask)
}

// HasBits reports whether any bit of mask is set in the register at addr.
func HasBits(r Registers, addr uintptr, mask uint32) bool {
	return r.Read32(addr)&mask != 0
}

// ReplaceBits replaces the field (mask << pos) in the register at addr with value.
func ReplaceBits(r Registers, addr uintptr, value, mask uint32, pos uint8) {
	r.Write32(addr, r.Read32(addr)&^(mask<<pos)|(value&mask)<<pos)
}

// IRQ is an interrupt line number on the interrupt controller.
type IRQ uint16

// Handler runs in interrupt context. It must not block.
type Handler func()

// InterruptController installs handlers and gates interrupt lines.
type InterruptController interface {
	// Register installs h for line, replacing any previous handler.
	Register(line IRQ, h Handler) error
	// Enable unmasks line at the given priority.
	Enable(line IRQ, priority uint8) error
	// Disable masks line. When it returns, no handler for line is running.
	Disable(line IRQ) error
}

// Peripheral identifies a reset line in the reset manager.
type Peripheral uint8

// ResetManager exposes per-peripheral reset control.
type ResetManager interface {
	// InReset reports whether p is currently held in reset.
	InReset(p Peripheral) (bool, error)
	// Release de-asserts the reset of p.
	Release(p Peripheral) error
}
