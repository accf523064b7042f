package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/qmatmul/internal/device"
)

func infoCmd() *cli.Command {
	return &cli.Command{
		Name:  "info",
		Usage: "Describe the emulated device and its host",
		Flags: append(deviceFlags(), formatFlag("output format (text, json, yaml)")),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyDeviceConfig(cmd, cfg)
			info := newDevice().Info()
			return writeReport(os.Stdout, outFormat, info, func(w io.Writer) error {
				return writeDeviceText(w, info)
			})
		},
	}
}

func writeDeviceText(w io.Writer, info device.Info) error {
	fmt.Fprintf(w, "ai cores:    %d (%d vector sub-blocks each)\n", info.AICoreNum, info.AIVPerAIC)
	fmt.Fprintf(w, "L1:          %d bytes\n", info.L1Bytes)
	fmt.Fprintf(w, "L0A/L0B/L0C: %d / %d / %d bytes\n", info.L0ABytes, info.L0BBytes, info.L0CBytes)
	fmt.Fprintf(w, "UB:          %d bytes\n", info.UBBytes)
	fmt.Fprintf(w, "host:        %s, %d CPUs\n", info.HostArch, info.HostCPUs)
	names := make([]string, 0, len(info.HostFeature))
	for name := range info.HostFeature {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-11s %v\n", name, info.HostFeature[name])
	}
	return nil
}
