// Package board describes the HPS I2C wiring of a board and boots the
// driver stack on top of it.
package board

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"

	"hpsbsp/i2c"
)

// Target kinds a simulated bus can carry.
const (
	TargetEEPROM24 = "eeprom24"
	TargetRegFile  = "regfile"
	TargetADXL345  = "adxl345"
)

// Config is the JSON board description.
type Config struct {
	Board       string      `json:"board"`
	IRQPriority uint8       `json:"irq_priority"`
	Buses       []BusConfig `json:"buses"`
}

// BusConfig places one I2C master. Zero fields take the value of the
// same-numbered master of the default map.
type BusConfig struct {
	Name      string         `json:"name"`
	Base      uint64         `json:"base"`
	IRQ       uint16         `json:"irq"`
	Reset     uint8          `json:"reset"`
	ClockHz   uint32         `json:"clock_hz"`
	FIFODepth int            `json:"fifo_depth"`
	Open      bool           `json:"open"`
	Targets   []TargetConfig `json:"targets"`
}

// TargetConfig is a device attached to a simulated bus.
type TargetConfig struct {
	Kind     string  `json:"kind"`
	Addr     uint16  `json:"addr"`
	Size     int     `json:"size"`
	PageSize int     `json:"page_size"`
	Init     []uint8 `json:"init"` // regfile contents from register 0
}

// Agilex HPS I2C masters: l4_sp clocked, GIC SPI 103..107, per0modrst bits 8..12.
var agilexBuses = []BusConfig{
	{Name: "i2c0", Base: 0xffc02800, IRQ: 135, Reset: 8},
	{Name: "i2c1", Base: 0xffc02900, IRQ: 136, Reset: 9},
	{Name: "i2c2", Base: 0xffc02a00, IRQ: 137, Reset: 10},
	{Name: "i2c3", Base: 0xffc02b00, IRQ: 138, Reset: 11},
	{Name: "i2c4", Base: 0xffc02c00, IRQ: 139, Reset: 12},
}

const (
	defaultBoard   = "agilex"
	defaultClockHz = 100_000_000
)

// Load parses a JSON board description and fills in defaults.
func Load(data []byte) (*Config, error) {
	var config Config

	if err := json.Unmarshal(data, &config); err != nil {
		return nil, errors.Wrap(err, "parse board config")
	}

	applyDefaults(&config)
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// LoadFile reads and parses the board description at path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read board config %s", path)
	}
	return Load(data)
}

// applyDefaults fills in missing configuration values from the Agilex map
func applyDefaults(config *Config) {
	if config.Board == "" {
		config.Board = defaultBoard
	}
	if config.IRQPriority == 0 {
		config.IRQPriority = i2c.DefaultIRQPriority
	}
	if len(config.Buses) == 0 {
		config.Buses = append([]BusConfig(nil), agilexBuses...)
	}

	for i := range config.Buses {
		bus := &config.Buses[i]
		if i < len(agilexBuses) {
			def := agilexBuses[i]
			if bus.Name == "" {
				bus.Name = def.Name
			}
			if bus.Base == 0 {
				bus.Base = def.Base
			}
			if bus.IRQ == 0 {
				bus.IRQ = def.IRQ
			}
			if bus.Reset == 0 {
				bus.Reset = def.Reset
			}
		}
		if bus.ClockHz == 0 {
			bus.ClockHz = defaultClockHz
		}
		if bus.FIFODepth == 0 {
			bus.FIFODepth = i2c.DefaultFIFODepth
		}
		for j := range bus.Targets {
			tgt := &bus.Targets[j]
			if tgt.Kind == TargetEEPROM24 && tgt.Size == 0 {
				tgt.Size = 256
			}
			if tgt.Kind == TargetEEPROM24 && tgt.PageSize == 0 {
				tgt.PageSize = 8
			}
		}
	}
}

// Validate rejects descriptions the driver cannot honor.
func (c *Config) Validate() error {
	if len(c.Buses) > i2c.MaxInstances {
		return errors.Errorf("%d buses configured, at most %d", len(c.Buses), i2c.MaxInstances)
	}
	seen := make(map[uint64]string)
	for _, bus := range c.Buses {
		if other, dup := seen[bus.Base]; dup {
			return errors.Errorf("%s and %s share base %#x", other, bus.Name, bus.Base)
		}
		seen[bus.Base] = bus.Name
		if bus.FIFODepth < 2 || bus.FIFODepth > 256 {
			return errors.Errorf("%s: fifo depth %d out of range", bus.Name, bus.FIFODepth)
		}
		addrs := make(map[uint16]bool)
		for _, tgt := range bus.Targets {
			switch tgt.Kind {
			case TargetEEPROM24, TargetRegFile, TargetADXL345:
			default:
				return errors.Errorf("%s: unknown target kind %q", bus.Name, tgt.Kind)
			}
			if tgt.Addr == 0 || tgt.Addr > 0x7f {
				return errors.Errorf("%s: target address %#x is not a 7-bit address", bus.Name, tgt.Addr)
			}
			if addrs[tgt.Addr] {
				return errors.Errorf("%s: two targets at %#x", bus.Name, tgt.Addr)
			}
			addrs[tgt.Addr] = true
		}
	}
	return nil
}

// DefaultAgilexConfig returns the five HPS masters with an EEPROM and an
// ADXL345 on I2C0.
func DefaultAgilexConfig() *Config {
	config := &Config{
		Buses: append([]BusConfig(nil), agilexBuses...),
	}
	config.Buses[0].Targets = []TargetConfig{
		{Kind: TargetEEPROM24, Addr: 0x50},
		{Kind: TargetADXL345, Addr: 0x53},
	}
	applyDefaults(config)
	return config
}
