package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/qmatmul/internal/arch"
	"github.com/samcharles93/qmatmul/internal/dispatch"
	"github.com/samcharles93/qmatmul/internal/epilogue"
	"github.com/samcharles93/qmatmul/internal/gemm"
	"github.com/samcharles93/qmatmul/internal/kernel"
	"github.com/samcharles93/qmatmul/internal/layout"
)

// bufferUse is the bytes a launch reserves at one on-chip position.
type bufferUse struct {
	Position string `json:"position" yaml:"position"`
	Bytes    int    `json:"bytes" yaml:"bytes"`
	Capacity int    `json:"capacity" yaml:"capacity"`
}

// launchPlan describes how a problem is tiled and scheduled. Blocks lists
// the tile coordinates each block computes, in order.
type launchPlan struct {
	Shape          string      `json:"shape" yaml:"shape"`
	Variant        string      `json:"variant" yaml:"variant"`
	BlockNum       int         `json:"block_num" yaml:"block_num"`
	L1Tile         string      `json:"l1_tile" yaml:"l1_tile"`
	L0Tile         string      `json:"l0_tile" yaml:"l0_tile"`
	EpilogueTile   string      `json:"epilogue_tile" yaml:"epilogue_tile"`
	TileGrid       string      `json:"tile_grid" yaml:"tile_grid"`
	Tiles          int         `json:"tiles" yaml:"tiles"`
	KChunks        int         `json:"k_chunks" yaml:"k_chunks"`
	WorkspaceBytes int         `json:"workspace_bytes" yaml:"workspace_bytes"`
	Buffers        []bufferUse `json:"buffers" yaml:"buffers"`
	Blocks         [][]string  `json:"blocks" yaml:"blocks"`
}

func planCmd() *cli.Command {
	var m, n, k int64

	flags := append([]cli.Flag{}, launchFlags()...)
	flags = append(flags,
		&cli.Int64Flag{Name: "m", Usage: "rows of A and D", Value: 256, Destination: &m},
		&cli.Int64Flag{Name: "n", Usage: "columns of B and D", Value: 512, Destination: &n},
		&cli.Int64Flag{Name: "k", Usage: "reduction dimension", Value: 1024, Destination: &k},
		formatFlag("output format (text, json, yaml)"),
	)

	return &cli.Command{
		Name:  "plan",
		Usage: "Print the tiling, buffer budget and block schedule of a launch",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyDeviceConfig(cmd, cfg)
			blocks := int(blockNum)
			if blocks <= 0 {
				blocks = newDevice().CoreNum()
			}
			p, err := buildPlan(layout.GemmCoord{M: int(m), N: int(n), K: int(k)}, blocks)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			return writeReport(os.Stdout, outFormat, p, p.writeText)
		},
	}
}

func buildPlan(shape layout.GemmCoord, blocks int) (*launchPlan, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	if blocks < 1 || blocks > dispatch.MaxBlockNum {
		return nil, fmt.Errorf("block num must be in [1, %d], got %d", dispatch.MaxBlockNum, blocks)
	}
	mmad := gemm.DefaultMmadPolicy()
	if err := mmad.Validate(gemm.L1TileShape, gemm.L0TileShape); err != nil {
		return nil, err
	}
	ep := epilogue.DefaultEpiloguePolicy()
	if err := ep.Validate(epilogue.TileShape); err != nil {
		return nil, err
	}
	buf := mmad.Plan(gemm.L1TileShape, gemm.L0TileShape)
	ub := ep.Plan(epilogue.TileShape)

	variant := kernel.SelectVariant(shape)
	var schedule [][]string
	var grid layout.MatrixCoord
	switch variant {
	case kernel.VariantAxis0:
		grid, schedule = blockSchedule(gemm.NewIdentityBlockSwizzle[gemm.SwizzleZn](shape, gemm.L1TileShape.MN(), gemm.DefaultSwizzleOffset), blocks)
	default:
		grid, schedule = blockSchedule(gemm.NewIdentityBlockSwizzle[gemm.SwizzleNz](shape, gemm.L1TileShape.MN(), gemm.DefaultSwizzleOffset), blocks)
	}

	return &launchPlan{
		Shape:          fmt.Sprintf("%dx%dx%d", shape.M, shape.N, shape.K),
		Variant:        variant.String(),
		BlockNum:       blocks,
		L1Tile:         gemm.L1TileShape.String(),
		L0Tile:         gemm.L0TileShape.String(),
		EpilogueTile:   epilogue.TileShape.String(),
		TileGrid:       fmt.Sprintf("%dx%d", grid.Row, grid.Column),
		Tiles:          grid.Count(),
		KChunks:        layout.CeilDiv(shape.K, gemm.L1TileShape.K),
		WorkspaceBytes: kernel.WorkspaceSize(blocks),
		Buffers: []bufferUse{
			use(arch.PositionL1, buf.L1, 1),
			use(arch.PositionL0A, buf.L0A, 1),
			use(arch.PositionL0B, buf.L0B, 1),
			use(arch.PositionL0C, buf.L0C, 1),
			use(arch.PositionUB, ub.Total, arch.AIVPerAIC),
		},
		Blocks: schedule,
	}, nil
}

// use reports a per-core footprint; UB is counted once per vector sub-block.
func use(pos arch.Position, bytes, copies int) bufferUse {
	return bufferUse{Position: pos.String(), Bytes: bytes * copies, Capacity: pos.Capacity() * copies}
}

func blockSchedule[D gemm.SwizzleDirection](sched gemm.IdentityBlockSwizzle[D], blocks int) (layout.MatrixCoord, [][]string) {
	out := make([][]string, blocks)
	for task := 0; task < sched.CoreLoops(); task++ {
		c := sched.BlockCoord(task)
		out[task%blocks] = append(out[task%blocks], fmt.Sprintf("(%d,%d)", c.M, c.N))
	}
	return sched.Loops(), out
}

func (p *launchPlan) writeText(w io.Writer) error {
	fmt.Fprintf(w, "shape:      %s (variant %s)\n", p.Shape, p.Variant)
	fmt.Fprintf(w, "tiles:      L1 %s, L0 %s, epilogue %s\n", p.L1Tile, p.L0Tile, p.EpilogueTile)
	fmt.Fprintf(w, "grid:       %s = %d tiles, %d K chunks each\n", p.TileGrid, p.Tiles, p.KChunks)
	fmt.Fprintf(w, "workspace:  %d bytes over %d blocks\n", p.WorkspaceBytes, p.BlockNum)
	fmt.Fprintln(w, "buffers:")
	for _, b := range p.Buffers {
		fmt.Fprintf(w, "  %-4s %8d / %8d bytes (%5.1f%%)\n", b.Position, b.Bytes, b.Capacity, 100*float64(b.Bytes)/float64(b.Capacity))
	}
	fmt.Fprintln(w, "schedule:")
	for i, tiles := range p.Blocks {
		if len(tiles) == 0 {
			fmt.Fprintf(w, "  block %-3d idle\n", i)
			continue
		}
		fmt.Fprintf(w, "  block %-3d %v\n", i, tiles)
	}
	return nil
}
