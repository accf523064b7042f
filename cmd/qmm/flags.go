package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/qmatmul/internal/device"
	"github.com/samcharles93/qmatmul/internal/logger"
)

var (
	configFile  string
	cfg         Config
	logLevel    string
	logFormat   string
	debug       bool
	aiCoreNum   int64
	memoryLimit int64
	blockNum    int64
	outFormat   string
)

func configFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Usage:       "path to config.yaml",
			Value:       configPath(),
			Destination: &configFile,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

func deviceFlags() []cli.Flag {
	return []cli.Flag{
		&cli.Int64Flag{
			Name:        "cores",
			Usage:       "emulated AI cores executing blocks concurrently (0 = auto)",
			Destination: &aiCoreNum,
		},
		&cli.Int64Flag{
			Name:        "memory-limit",
			Usage:       "global memory limit in bytes (0 = unlimited)",
			Destination: &memoryLimit,
		},
	}
}

func launchFlags() []cli.Flag {
	return []cli.Flag{
		&cli.Int64Flag{
			Name:        "block-num",
			Aliases:     []string{"b"},
			Usage:       "compute blocks per launch (0 = one per core)",
			Destination: &blockNum,
		},
	}
}

func formatFlag(usage string) cli.Flag {
	return &cli.StringFlag{
		Name:        "format",
		Aliases:     []string{"f"},
		Usage:       usage,
		Value:       "text",
		Destination: &outFormat,
	}
}

// setup loads the config file and installs the logger.
func setup(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	loaded, err := LoadConfig(configFile)
	if err != nil {
		return ctx, err
	}
	cfg = loaded
	applyLoggingConfig(cmd, cfg)

	if debug {
		logLevel = "debug"
	}
	level, err := logger.ParseLevel(logLevel)
	if err != nil {
		return ctx, cli.Exit(fmt.Sprintf("error: %v", err), 1)
	}
	log, err := logger.NewWithFormat(os.Stderr, logger.Format(logFormat), level)
	if err != nil {
		return ctx, cli.Exit(fmt.Sprintf("error: %v", err), 1)
	}
	return logger.WithContext(ctx, log), nil
}

func newDevice() *device.Device {
	return device.New(device.Options{
		AICoreNum:   int(aiCoreNum),
		MemoryLimit: memoryLimit,
	})
}

func resolveBlockNum(dev *device.Device) int {
	if blockNum > 0 {
		return int(blockNum)
	}
	return dev.CoreNum()
}
