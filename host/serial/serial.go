// Package serial carries the board shell over a serial line.
package serial

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/tarm/serial"
)

// Port represents a serial port interface
type Port interface {
	io.ReadWriteCloser

	// Flush flushes any buffered data
	Flush() error
}

// Config holds serial port configuration
type Config struct {
	// Device path (e.g., "/dev/ttyUSB0", "COM3")
	Device string

	// Baud rate of the HPS UART console
	Baud int

	// Read timeout in milliseconds (0 = blocking)
	ReadTimeout int
}

// DefaultConfig returns the HPS console settings, 115200 8N1, blocking reads.
func DefaultConfig(device string) *Config {
	return &Config{
		Device: device,
		Baud:   115200,
	}
}

// NativePort wraps the tarm/serial implementation
type NativePort struct {
	port *serial.Port
	cfg  *Config
}

// Open opens a native serial port
func Open(cfg *Config) (Port, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	serialConfig := &serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: time.Duration(cfg.ReadTimeout) * time.Millisecond,
	}

	port, err := serial.OpenPort(serialConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Device, err)
	}

	return &NativePort{
		port: port,
		cfg:  cfg,
	}, nil
}

func (p *NativePort) Read(b []byte) (int, error) {
	return p.port.Read(b)
}

func (p *NativePort) Write(b []byte) (int, error) {
	return p.port.Write(b)
}

func (p *NativePort) Close() error {
	if p.port != nil {
		return p.port.Close()
	}
	return nil
}

// Flush discards unread input.
func (p *NativePort) Flush() error {
	return p.port.Flush()
}

// Console adapts a Port to line-oriented use: terminals send CR for Enter
// and expect CRLF line endings back.
type Console struct {
	port   Port
	lastCR bool
}

// NewConsole wraps port.
func NewConsole(port Port) *Console {
	return &Console{port: port}
}

// Read returns input with every CR turned into LF and the LF of a CRLF
// pair dropped.
func (c *Console) Read(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	for {
		n, err := c.port.Read(b)
		out := b[:0]
		for _, ch := range b[:n] {
			switch {
			case ch == '\r':
				out = append(out, '\n')
			case ch == '\n' && c.lastCR:
			default:
				out = append(out, ch)
			}
			c.lastCR = ch == '\r'
		}
		// A read timeout yields 0 bytes and no error; keep waiting.
		if len(out) > 0 || err != nil {
			return len(out), err
		}
	}
}

// Write expands LF to CRLF. The returned count refers to b.
func (c *Console) Write(b []byte) (int, error) {
	if _, err := c.port.Write(bytes.ReplaceAll(b, []byte("\n"), []byte("\r\n"))); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (c *Console) Close() error {
	return c.port.Close()
}
