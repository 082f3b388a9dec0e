package board

import (
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"hpsbsp/hal"
	"hpsbsp/i2c"
	"hpsbsp/i2c/dwsim"
)

// ADXL345 register map, enough for the TinyGo driver to configure and
// sample it.
const (
	adxlDevID      = 0x00
	adxlDevIDValue = 0xe5
	adxlDataX0     = 0x32
)

// Board is a booted host board: simulated controllers behind the software
// interrupt controller and reset manager, with the I2C driver on top.
type Board struct {
	Config *Config
	IRQ    *hal.SoftInterruptController
	Resets *hal.SoftResetManager
	Regs   *dwsim.Map
	I2C    *i2c.Controller

	blocks []*dwsim.Block
	logger *zap.SugaredLogger
}

// Boot builds the board described by config. Every peripheral starts in
// reset, as after a cold boot; buses marked open are opened and registered
// with periph.io.
func Boot(config *Config, logger *zap.SugaredLogger) (*Board, error) {
	if config == nil {
		config = DefaultAgilexConfig()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	b := &Board{
		Config: config,
		IRQ:    hal.NewSoftInterruptController(),
		Resets: hal.NewSoftResetManager(),
		Regs:   dwsim.NewMap(),
		logger: logger,
	}

	var insts []i2c.Instance
	for _, bus := range config.Buses {
		blk := dwsim.New(dwsim.Config{
			Base:  uintptr(bus.Base),
			Depth: bus.FIFODepth,
			IRQ:   b.IRQ,
			Line:  hal.IRQ(bus.IRQ),
		})
		for _, tgt := range bus.Targets {
			blk.Attach(tgt.Addr, newTarget(tgt))
		}
		b.Regs.Add(blk)
		b.blocks = append(b.blocks, blk)
		insts = append(insts, i2c.Instance{
			Base:    uintptr(bus.Base),
			Reset:   hal.Peripheral(bus.Reset),
			IRQ:     hal.IRQ(bus.IRQ),
			ClockHz: bus.ClockHz,
		})
		logger.Debugw("i2c master mapped",
			"bus", bus.Name,
			"base", bus.Base,
			"irq", bus.IRQ,
			"targets", len(bus.Targets),
		)
	}

	ctl, err := i2c.NewController(i2c.Config{
		Instances:   insts,
		Regs:        b.Regs,
		IRQ:         b.IRQ,
		Resets:      b.Resets,
		IRQPriority: config.IRQPriority,
		Logger:      logger,
	})
	if err != nil {
		b.Regs.Close()
		return nil, errors.Wrap(err, "create i2c controller")
	}
	b.I2C = ctl

	for id, bus := range config.Buses {
		if !bus.Open {
			continue
		}
		h, err := ctl.Open(id)
		if err != nil {
			return nil, multierr.Append(errors.Wrapf(err, "open %s", bus.Name), b.Shutdown())
		}
		if err := i2c.RegisterPeriph(h); err != nil {
			logger.Warnw("periph registration failed", "bus", bus.Name, "error", err)
		}
	}

	logger.Infow("board booted", "board", config.Board, "buses", len(config.Buses))
	return b, nil
}

func newTarget(tgt TargetConfig) dwsim.Target {
	switch tgt.Kind {
	case TargetEEPROM24:
		return dwsim.NewEEPROM24(dwsim.EEPROM24Config{Size: tgt.Size, PageSize: tgt.PageSize})
	case TargetADXL345:
		// At rest on a level bench: 0 g on X and Y, +1 g (256 LSB) on Z.
		return dwsim.NewRegFile(map[byte]byte{
			adxlDevID:      adxlDevIDValue,
			adxlDataX0 + 5: 0x01,
		}, adxlDevID)
	default:
		init := make(map[byte]byte, len(tgt.Init))
		for i, v := range tgt.Init {
			init[byte(i)] = v
		}
		return dwsim.NewRegFile(init)
	}
}

// Block returns the simulated controller of bus id.
func (b *Board) Block(id int) (*dwsim.Block, bool) {
	if id < 0 || id >= len(b.blocks) {
		return nil, false
	}
	return b.blocks[id], true
}

// BusID resolves a bus by name ("i2c0").
func (b *Board) BusID(name string) (int, bool) {
	for id, bus := range b.Config.Buses {
		if bus.Name == name {
			return id, true
		}
	}
	return 0, false
}

// Shutdown tears down the driver and stops the simulated controllers.
func (b *Board) Shutdown() error {
	var err error
	if b.I2C != nil {
		err = b.I2C.Teardown()
	}
	b.Regs.Close()
	if err != nil {
		b.logger.Warnw("board shutdown", "error", err)
	}
	return err
}
