package hal

import (
	"errors"
	"sync"
)

var (
	ErrNoHandler   = errors.New("hal: no handler registered for line")
	ErrInvalidLine = errors.New("hal: invalid interrupt line")
)

// SoftInterruptController is an interrupt controller for host builds.
// Simulated peripherals call Raise; the handler of a line runs on the
// raising goroutine and never concurrently with itself.
type SoftInterruptController struct {
	mu    sync.Mutex
	lines map[IRQ]*softLine

	// MaxLine bounds valid line numbers. Zero means no bound.
	MaxLine IRQ
}

type softLine struct {
	// run is held for the duration of a handler invocation.
	run      sync.Mutex
	handler  Handler
	enabled  bool
	priority uint8
}

// NewSoftInterruptController returns a controller with no lines registered.
func NewSoftInterruptController() *SoftInterruptController {
	return &SoftInterruptController{lines: make(map[IRQ]*softLine)}
}

func (c *SoftInterruptController) line(n IRQ, create bool) (*softLine, error) {
	if c.MaxLine != 0 && n > c.MaxLine {
		return nil, ErrInvalidLine
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.lines[n]
	if !ok {
		if !create {
			return nil, ErrNoHandler
		}
		l = &softLine{}
		c.lines[n] = l
	}
	return l, nil
}

func (c *SoftInterruptController) Register(n IRQ, h Handler) error {
	if h == nil {
		return ErrNoHandler
	}
	l, err := c.line(n, true)
	if err != nil {
		return err
	}
	l.run.Lock()
	l.handler = h
	l.run.Unlock()
	return nil
}

func (c *SoftInterruptController) Enable(n IRQ, priority uint8) error {
	l, err := c.line(n, false)
	if err != nil {
		return err
	}
	l.run.Lock()
	l.enabled = true
	l.priority = priority
	l.run.Unlock()
	return nil
}

// Disable masks the line, waiting for a running handler to return first.
func (c *SoftInterruptController) Disable(n IRQ) error {
	l, err := c.line(n, false)
	if err != nil {
		return err
	}
	l.run.Lock()
	l.enabled = false
	l.run.Unlock()
	return nil
}

// Raise delivers an interrupt on line n. It reports whether a handler ran;
// a masked or unregistered line drops the interrupt.
func (c *SoftInterruptController) Raise(n IRQ) bool {
	c.mu.Lock()
	l, ok := c.lines[n]
	c.mu.Unlock()
	if !ok {
		return false
	}
	l.run.Lock()
	defer l.run.Unlock()
	if !l.enabled || l.handler == nil {
		return false
	}
	l.handler()
	return true
}

// Enabled reports whether line n is unmasked.
func (c *SoftInterruptController) Enabled(n IRQ) bool {
	c.mu.Lock()
	l, ok := c.lines[n]
	c.mu.Unlock()
	if !ok {
		return false
	}
	l.run.Lock()
	defer l.run.Unlock()
	return l.enabled
}

// Priority returns the priority line n was last enabled with.
func (c *SoftInterruptController) Priority(n IRQ) uint8 {
	c.mu.Lock()
	l, ok := c.lines[n]
	c.mu.Unlock()
	if !ok {
		return 0
	}
	l.run.Lock()
	defer l.run.Unlock()
	return l.priority
}
