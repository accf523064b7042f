package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/qmatmul/internal/device"
	"github.com/samcharles93/qmatmul/internal/dispatch"
	"github.com/samcharles93/qmatmul/internal/kernel"
	"github.com/samcharles93/qmatmul/internal/layout"
	"github.com/samcharles93/qmatmul/internal/logger"
	"github.com/samcharles93/qmatmul/internal/tensor"
)

// runReport is the result of one verified launch.
type runReport struct {
	ID        string    `json:"id" yaml:"id"`
	Shape     string    `json:"shape" yaml:"shape"`
	Variant   string    `json:"variant" yaml:"variant"`
	BlockNum  int       `json:"block_num" yaml:"block_num"`
	Tiles     int64     `json:"tiles" yaml:"tiles"`
	ElapsedMS float64   `json:"elapsed_ms" yaml:"elapsed_ms"`
	Exact     bool      `json:"exact" yaml:"exact"`
	Golden    string    `json:"golden" yaml:"golden"`
	Output    []float32 `json:"output,omitempty" yaml:"output,omitempty"`
}

// printLimit is the largest output printed in full.
const printLimit = 64

// randomProblem checks a command line shape before any host buffer is
// allocated for it.
func randomProblem(m, n, k, seed int64) (*dispatch.Problem, error) {
	shape := layout.GemmCoord{M: int(m), N: int(n), K: int(k)}
	if int64(shape.M) != m || int64(shape.N) != n || int64(shape.K) != k {
		return nil, fmt.Errorf("problem shape %dx%dx%d does not fit in an int", m, n, k)
	}
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	return dispatch.NewRandomProblem(shape.M, shape.N, shape.K, seed), nil
}

func runCmd() *cli.Command {
	var (
		m, n, k int64
		seed    int64
		demo    bool
	)

	flags := append([]cli.Flag{}, deviceFlags()...)
	flags = append(flags, launchFlags()...)
	flags = append(flags,
		&cli.Int64Flag{Name: "m", Usage: "rows of A and D", Value: 256, Destination: &m},
		&cli.Int64Flag{Name: "n", Usage: "columns of B and D", Value: 512, Destination: &n},
		&cli.Int64Flag{Name: "k", Usage: "reduction dimension", Value: 1024, Destination: &k},
		&cli.Int64Flag{Name: "seed", Usage: "random seed for operands and scales", Value: 1, Destination: &seed},
		&cli.BoolFlag{Name: "demo", Usage: "run the 2x2x2 worked example instead of random data", Destination: &demo},
		formatFlag("output format (text, json, yaml)"),
	)

	return &cli.Command{
		Name:  "run",
		Usage: "Launch the kernel once and verify it against the host reference",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyDeviceConfig(cmd, cfg)
			applySeedConfig(cmd, cfg, &seed)

			var p *dispatch.Problem
			if demo {
				p = dispatch.DemoProblem()
			} else {
				var err error
				if p, err = randomProblem(m, n, k, seed); err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
			}

			dev := newDevice()
			report, err := runOnce(ctx, dev, p, resolveBlockNum(dev))
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if err := writeReport(os.Stdout, outFormat, report, report.writeText); err != nil {
				return err
			}
			if !report.Exact {
				return cli.Exit("output differs from the host reference", 1)
			}
			return nil
		},
	}
}

func runOnce(ctx context.Context, dev *device.Device, p *dispatch.Problem, blocks int) (*runReport, error) {
	log := logger.FromContext(ctx)
	shape := p.Shape()
	report := &runReport{
		ID:       uuid.NewString(),
		Shape:    fmt.Sprintf("%dx%dx%d", shape.M, shape.N, shape.K),
		Variant:  kernel.SelectVariant(shape).String(),
		BlockNum: blocks,
	}

	staged, err := dispatch.Stage(dev, p, blocks)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := staged.Free(); err != nil {
			log.Warn("free device buffers", "error", err)
		}
	}()

	var tiles atomic.Int64
	countTiles := kernel.ObserverFunc(func(_ int, _ layout.GemmCoord, s kernel.State) {
		if s == kernel.StateWritingBack {
			tiles.Add(1)
		}
	})
	start := time.Now()
	if err := dispatch.Run(ctx, dev, blocks, staged.Info, dispatch.WithObserver(countTiles)); err != nil {
		return nil, err
	}
	elapsed := time.Since(start)
	report.ElapsedMS = float64(elapsed.Microseconds()) / 1000
	report.Tiles = tiles.Load()
	log.Info("launch complete", "id", report.ID, "shape", report.Shape, "elapsed", elapsed)

	out, err := staged.ReadOutput()
	if err != nil {
		return nil, err
	}
	want, err := p.Reference()
	if err != nil {
		return nil, err
	}
	report.Exact = equalBF16(out, want)
	golden, err := p.Golden()
	if err != nil {
		return nil, err
	}
	report.Golden = tensor.VerifyBF16(out, golden, tensor.BF16Tolerance()).String()
	if len(out) <= printLimit {
		report.Output = tensor.Float32Slice(out)
	}
	return report, nil
}

func equalBF16(a, b []tensor.BFloat16) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (r *runReport) writeText(w io.Writer) error {
	fmt.Fprintf(w, "run:       %s\n", r.ID)
	fmt.Fprintf(w, "shape:     %s (variant %s)\n", r.Shape, r.Variant)
	fmt.Fprintf(w, "blocks:    %d, %d tiles\n", r.BlockNum, r.Tiles)
	fmt.Fprintf(w, "elapsed:   %.3f ms\n", r.ElapsedMS)
	fmt.Fprintf(w, "reference: %s\n", map[bool]string{true: "bit-exact", false: "MISMATCH"}[r.Exact])
	fmt.Fprintf(w, "golden:    %s\n", r.Golden)
	if r.Output != nil {
		_, _ = fmt.Fprintf(w, "output:    %v\n", r.Output)
	}
	return nil
}
