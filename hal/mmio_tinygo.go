//go:build tinygo

package hal

import (
	"runtime/volatile"
	"unsafe"
)

// MMIO accesses registers at their physical addresses.
type MMIO struct{}

func (MMIO) Read32(addr uintptr) uint32 {
	return (*volatile.Register32)(unsafe.Pointer(addr)).Get()
}

func (MMIO) Write32(addr uintptr, v uint32) {
	(*volatile.Register32)(unsafe.Pointer(addr)).Set(v)
}
