package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/qmatmul/internal/dispatch"
	"github.com/samcharles93/qmatmul/internal/gemm"
	"github.com/samcharles93/qmatmul/internal/kernel"
	"github.com/samcharles93/qmatmul/internal/layout"
	"github.com/samcharles93/qmatmul/internal/logger"
)

type benchReport struct {
	Shape    string    `json:"shape" yaml:"shape"`
	Variant  string    `json:"variant" yaml:"variant"`
	BlockNum int       `json:"block_num" yaml:"block_num"`
	Tiles    int       `json:"tiles" yaml:"tiles"`
	RunsMS   []float64 `json:"runs_ms" yaml:"runs_ms"`
	MeanMS   float64   `json:"mean_ms" yaml:"mean_ms"`
	BestMS   float64   `json:"best_ms" yaml:"best_ms"`
	TilesPS  float64   `json:"tiles_per_second" yaml:"tiles_per_second"`
	GOPS     float64   `json:"gops" yaml:"gops"`
}

func benchCmd() *cli.Command {
	var (
		m, n, k    int64
		seed       int64
		warmupRuns int64
		benchRuns  int64
	)

	flags := append([]cli.Flag{}, deviceFlags()...)
	flags = append(flags, launchFlags()...)
	flags = append(flags,
		&cli.Int64Flag{Name: "m", Usage: "rows of A and D", Value: 256, Destination: &m},
		&cli.Int64Flag{Name: "n", Usage: "columns of B and D", Value: 512, Destination: &n},
		&cli.Int64Flag{Name: "k", Usage: "reduction dimension", Value: 1024, Destination: &k},
		&cli.Int64Flag{Name: "seed", Usage: "random seed", Value: 1, Destination: &seed},
		&cli.Int64Flag{Name: "warmup", Usage: "number of warmup runs", Value: 1, Destination: &warmupRuns},
		&cli.Int64Flag{Name: "runs", Usage: "number of benchmark runs", Value: 3, Destination: &benchRuns},
		formatFlag("output format (text, json, yaml)"),
	)

	return &cli.Command{
		Name:    "bench",
		Aliases: []string{"benchmark"},
		Usage:   "Measure emulated kernel throughput",
		Flags:   flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyDeviceConfig(cmd, cfg)
			applySeedConfig(cmd, cfg, &seed)

			if benchRuns < 1 {
				return cli.Exit("error: --runs must be at least 1", 1)
			}
			problem, err := randomProblem(m, n, k, seed)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			shape := problem.Shape()

			dev := newDevice()
			blocks := resolveBlockNum(dev)
			staged, err := dispatch.Stage(dev, problem, blocks)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: stage: %v", err), 1)
			}
			defer func() {
				if err := staged.Free(); err != nil {
					log.Warn("free device buffers", "error", err)
				}
			}()

			log.Info("benchmarking", "shape", shape.String(), "block_num", blocks, "warmup", warmupRuns, "runs", benchRuns)
			for i := int64(0); i < warmupRuns; i++ {
				if err := dispatch.Run(ctx, dev, blocks, staged.Info); err != nil {
					return cli.Exit(fmt.Sprintf("error: warmup run %d: %v", i+1, err), 1)
				}
			}
			runs := make([]time.Duration, 0, benchRuns)
			for i := int64(0); i < benchRuns; i++ {
				start := time.Now()
				if err := dispatch.Run(ctx, dev, blocks, staged.Info); err != nil {
					return cli.Exit(fmt.Sprintf("error: run %d: %v", i+1, err), 1)
				}
				runs = append(runs, time.Since(start))
				log.Debug("bench run", "run", i+1, "elapsed", runs[len(runs)-1])
			}

			report := summarizeBench(shape, blocks, runs)
			return writeReport(os.Stdout, outFormat, report, report.writeText)
		},
	}
}

func summarizeBench(shape layout.GemmCoord, blocks int, runs []time.Duration) *benchReport {
	tiles := layout.CeilDiv(shape.M, gemm.L1TileShape.M) * layout.CeilDiv(shape.N, gemm.L1TileShape.N)
	r := &benchReport{
		Shape:    fmt.Sprintf("%dx%dx%d", shape.M, shape.N, shape.K),
		Variant:  kernel.SelectVariant(shape).String(),
		BlockNum: blocks,
		Tiles:    tiles,
	}
	var total, best time.Duration
	for i, d := range runs {
		r.RunsMS = append(r.RunsMS, ms(d))
		total += d
		if i == 0 || d < best {
			best = d
		}
	}
	mean := total / time.Duration(len(runs))
	r.MeanMS, r.BestMS = ms(mean), ms(best)
	if sec := mean.Seconds(); sec > 0 {
		r.TilesPS = float64(tiles) / sec
		r.GOPS = 2 * float64(shape.M) * float64(shape.N) * float64(shape.K) / sec / 1e9
	}
	return r
}

func ms(d time.Duration) float64 { return float64(d.Microseconds()) / 1000 }

func (r *benchReport) writeText(w io.Writer) error {
	fmt.Fprintf(w, "shape:      %s (variant %s)\n", r.Shape, r.Variant)
	fmt.Fprintf(w, "blocks:     %d, %d tiles\n", r.BlockNum, r.Tiles)
	for i, v := range r.RunsMS {
		fmt.Fprintf(w, "run %-3d     %.3f ms\n", i+1, v)
	}
	fmt.Fprintf(w, "mean:       %.3f ms (best %.3f ms)\n", r.MeanMS, r.BestMS)
	_, err := fmt.Fprintf(w, "throughput: %.1f tiles/s, %.3f GOPS\n", r.TilesPS, r.GOPS)
	return err
}
