package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/qmatmul/internal/version"
)

func versionCmd() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print version information",
		Flags: []cli.Flag{formatFlag("output format (text, json, yaml)")},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			info := version.Resolve()
			if outFormat != "text" && outFormat != "" {
				return writeReport(os.Stdout, outFormat, info, nil)
			}
			fmt.Printf("version:    %s\n", info.Version)
			if info.Commit != "" {
				fmt.Printf("commit:     %s\n", info.Commit)
			}
			if info.BuildTime != "" {
				fmt.Printf("build time: %s\n", info.BuildTime)
			}
			fmt.Printf("go:         %s (%s)\n", info.GoVersion, info.Platform)
			return nil
		},
	}
}
