package i2c

import (
	"errors"
	"fmt"
	"strings"
)

// Errors returned by the bus API. Callers match them with errors.Is.
var (
	ErrInvalidArgument     = errors.New("i2c: invalid argument")
	ErrAlreadyOpen         = errors.New("i2c: bus already open")
	ErrAddressNotSet       = errors.New("i2c: target address not set")
	ErrBusy                = errors.New("i2c: bus busy")
	ErrResourceUnavailable = errors.New("i2c: resource unavailable")
	ErrIO                  = errors.New("i2c: i/o error")
	ErrPermissionDenied    = errors.New("i2c: no transfer in flight")

	// ErrResourceExhausted is kept so callers can match every code the bus
	// API defines. Open never returns it: the exclusion lock and completion
	// channel are plain Go values and cannot fail to allocate.
	ErrResourceExhausted = errors.New("i2c: resource exhausted")

	// ErrCanceled is returned by a synchronous transfer released by Cancel.
	ErrCanceled = fmt.Errorf("%w: transfer canceled", ErrIO)

	errEnableStuck = errors.New("IC_ENABLE_STATUS did not follow IC_ENABLE")
)

// Status is the outcome handed to a Completer.
type Status uint8

const (
	StatusSuccess Status = iota
	StatusOperationFailed
	StatusNack
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusOperationFailed:
		return "operation failed"
	case StatusNack:
		return "nack"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// AbortError reports a transfer the controller aborted. It matches ErrIO.
type AbortError struct {
	// Source is IC_TX_ABRT_SOURCE as latched when the abort was taken.
	Source uint32
}

var abortReasons = []struct {
	bit  uint32
	text string
}{
	{AbrtAddrNoack, "address nack"},
	{AbrtTxDataNoack, "data nack"},
	{AbrtGcallNoack, "general call nack"},
	{AbrtSbyteAckdet, "start byte acked"},
	{AbrtHsNorstrt, "high speed with restart disabled"},
	{AbrtMasterDis, "master disabled"},
	{AbrtArbLost, "arbitration lost"},
	{AbrtUserAbrt, "user abort"},
}

func (e *AbortError) Error() string {
	var reasons []string
	for _, r := range abortReasons {
		if e.Source&r.bit != 0 {
			reasons = append(reasons, r.text)
		}
	}
	if len(reasons) == 0 {
		return fmt.Sprintf("i2c: transfer aborted (source %#x)", e.Source)
	}
	return "i2c: transfer aborted: " + strings.Join(reasons, ", ")
}

func (e *AbortError) Is(target error) bool { return target == ErrIO }

// Nack reports whether the target refused the address or a data byte.
func (e *AbortError) Nack() bool { return e.Source&abrtNackMask != 0 }

// Flushed is the number of TX FIFO entries the abort discarded.
func (e *AbortError) Flushed() int {
	return int(e.Source>>AbrtFlushCntPos) & AbrtFlushCntMsk
}
