// Package gemm holds the block-level building blocks of the int8 matmul: the
// pipelined block compute unit, the tile copies that feed it, the cube
// multiply-accumulate primitive, and the block scheduler swizzle.
package gemm

import (
	"fmt"

	"github.com/samcharles93/qmatmul/internal/arch"
	"github.com/samcharles93/qmatmul/internal/layout"
)

// MmadAtlasA2PreloadAsyncWithCallback configures BlockMmad: how many tiles
// are preloaded ahead of the one being computed, how many slots each buffer
// ring holds, and whether K chunks are shuffled per block.
type MmadAtlasA2PreloadAsyncWithCallback struct {
	PreloadStages int
	L1Stages      int
	L0AStages     int
	L0BStages     int
	L0CStages     int
	// EnableUnitFlag lets the fixpipe start on partial L0C fractals on
	// hardware. The emulated fixpipe always waits for the whole tile.
	EnableUnitFlag bool
	EnableShuffleK bool
}

// DefaultMmadPolicy is the configuration the quantized matmul kernel is
// built with.
func DefaultMmadPolicy() MmadAtlasA2PreloadAsyncWithCallback {
	return MmadAtlasA2PreloadAsyncWithCallback{
		PreloadStages:  1,
		L1Stages:       2,
		L0AStages:      2,
		L0BStages:      2,
		L0CStages:      1,
		EnableUnitFlag: false,
		EnableShuffleK: true,
	}
}

// Tile shapes of the quantized matmul kernel.
var (
	L1TileShape = layout.GemmShape{M: 128, N: 256, K: 512}
	L0TileShape = layout.GemmShape{M: 128, N: 256, K: 128}
)

// BufferPlan is the number of bytes a configuration reserves at each
// on-chip position.
type BufferPlan struct {
	L1  int
	L0A int
	L0B int
	L0C int
}

// Plan computes the on-chip footprint of a policy and tile shapes.
func (p MmadAtlasA2PreloadAsyncWithCallback) Plan(l1, l0 layout.GemmShape) BufferPlan {
	return BufferPlan{
		L1:  p.L1Stages * (l1.M*l1.K + l1.N*l1.K),
		L0A: p.L0AStages * l0.M * l0.K,
		L0B: p.L0BStages * l0.N * l0.K,
		L0C: p.L0CStages * l1.M * l1.N * arch.SizeOf[int32](),
	}
}

// Validate checks the policy and tile shapes against each other and
// against the core's buffer capacities.
func (p MmadAtlasA2PreloadAsyncWithCallback) Validate(l1, l0 layout.GemmShape) error {
	if p.PreloadStages < 0 {
		return fmt.Errorf("mmad policy: negative preload stages %d", p.PreloadStages)
	}
	if p.L1Stages < 1 || p.L0AStages < 1 || p.L0BStages < 1 || p.L0CStages < 1 {
		return fmt.Errorf("mmad policy: every ring needs at least one stage (%+v)", p)
	}
	if l1.M <= 0 || l1.N <= 0 || l1.K <= 0 || l0.K <= 0 {
		return fmt.Errorf("mmad policy: tile shapes %s / %s must be positive", l1, l0)
	}
	if l0.M != l1.M || l0.N != l1.N {
		return fmt.Errorf("mmad policy: L0 tile %s must cover the L1 tile's M and N %s", l0, l1)
	}
	if l1.K%l0.K != 0 || l0.K%arch.BytesPerC0 != 0 {
		return fmt.Errorf("mmad policy: L1 K %d must be a multiple of L0 K %d, itself a multiple of %d",
			l1.K, l0.K, arch.BytesPerC0)
	}
	plan := p.Plan(l1, l0)
	checks := []struct {
		pos  arch.Position
		need int
	}{
		{arch.PositionL1, plan.L1},
		{arch.PositionL0A, plan.L0A},
		{arch.PositionL0B, plan.L0B},
		{arch.PositionL0C, plan.L0C},
	}
	for _, c := range checks {
		if c.need > c.pos.Capacity() {
			return fmt.Errorf("%w: %s needs %d bytes, capacity %d",
				arch.ErrLocalMemoryExhausted, c.pos, c.need, c.pos.Capacity())
		}
	}
	return nil
}
