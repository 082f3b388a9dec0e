package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"hpsbsp/board"
	"hpsbsp/core"
	"hpsbsp/host/serial"
	"hpsbsp/shell"
)

var (
	configPath = flag.String("config", "", "Board description (JSON); default is the Agilex map")
	console    = flag.String("console", "", "Serial device to run the shell on instead of stdin")
	baud       = flag.Int("baud", 115200, "Console baud rate")
	verbose    = flag.Bool("verbose", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	logger, err := newLogger(*verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	core.SetLogger(logger)

	if err := run(logger); err != nil {
		logger.Errorw("bspsh failed", "error", err)
		logger.Sync()
		os.Exit(1)
	}
}

func newLogger(debug bool) (*zap.SugaredLogger, error) {
	cfg := zap.NewDevelopmentConfig()
	if !debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	l, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return l.Sugar(), nil
}

func run(logger *zap.SugaredLogger) error {
	config := board.DefaultAgilexConfig()
	if *configPath != "" {
		var err error
		if config, err = board.LoadFile(*configPath); err != nil {
			return err
		}
	}

	b, err := board.Boot(config, logger)
	if err != nil {
		return err
	}
	defer b.Shutdown()

	var (
		in  io.Reader = os.Stdin
		out io.Writer = os.Stdout
	)
	if *console != "" {
		cfg := serial.DefaultConfig(*console)
		cfg.Baud = *baud
		port, err := serial.Open(cfg)
		if err != nil {
			return err
		}
		con := serial.NewConsole(port)
		defer con.Close()
		in, out = con, con
		logger.Infow("shell on serial console", "device", *console, "baud", *baud)
	}

	fmt.Fprintf(out, "%s board, %d I2C masters. Type 'help' for commands.\n",
		config.Board, len(config.Buses))
	return shell.New(b, logger).Run(in, out)
}
