package epilogue

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/samcharles93/qmatmul/internal/arch"
	"github.com/samcharles93/qmatmul/internal/layout"
	"github.com/samcharles93/qmatmul/internal/tensor"
)

// EpilogueAtlasA2PerTokenDequant configures BlockEpilogue: UBStages is the
// number of UB stages shared between the vector pipe and the MTE3 writer.
type EpilogueAtlasA2PerTokenDequant struct {
	UBStages int
}

// DefaultEpiloguePolicy is the configuration the quantized matmul kernel is
// built with.
func DefaultEpiloguePolicy() EpilogueAtlasA2PerTokenDequant {
	return EpilogueAtlasA2PerTokenDequant{UBStages: 2}
}

// TileShape is the epilogue tile of the quantized matmul kernel.
var TileShape = layout.MatrixCoord{Row: 32, Column: 256}

// UBPlan is the UB footprint of a policy and tile shape, in bytes.
type UBPlan struct {
	PerStage int
	Shared   int
	Total    int
}

func alignBlock(n int) int { return layout.RoundUp(n, arch.BytesPerBlock) }

// Plan computes the UB footprint of p for the given tile.
func (p EpilogueAtlasA2PerTokenDequant) Plan(tile layout.MatrixCoord) UBPlan {
	n := tile.Count()
	perStage := alignBlock(n*arch.SizeOf[int32]()) +
		alignBlock(n*arch.SizeOf[uint16]()) +
		alignBlock(tile.Column*arch.SizeOf[uint16]()) +
		alignBlock(tile.Row*arch.SizeOf[uint16]())
	shared := 2*alignBlock(n*arch.SizeOf[float32]()) +
		alignBlock(tile.Column*arch.SizeOf[float32]()) +
		alignBlock(tile.Row*arch.SizeOf[float32]()) +
		alignBlock(tile.Row*BlockLanes*arch.SizeOf[float32]())
	return UBPlan{PerStage: perStage, Shared: shared, Total: p.UBStages*perStage + shared}
}

// Validate checks the policy against the UB capacity.
func (p EpilogueAtlasA2PerTokenDequant) Validate(tile layout.MatrixCoord) error {
	if p.UBStages < 1 {
		return fmt.Errorf("epilogue policy: UB stages must be at least 1, got %d", p.UBStages)
	}
	if tile.Row <= 0 || tile.Column <= 0 {
		return fmt.Errorf("epilogue policy: tile %s must be positive", tile)
	}
	if plan := p.Plan(tile); plan.Total > arch.UBSize {
		return fmt.Errorf("%w: UB needs %d bytes, capacity %d", arch.ErrLocalMemoryExhausted, plan.Total, arch.UBSize)
	}
	return nil
}

// Params are the global tensors the epilogue reads and writes.
type Params struct {
	Scale               arch.GlobalTensor[tensor.BFloat16]
	LayoutScale         layout.VectorLayout
	PerTokenScale       arch.GlobalTensor[tensor.BFloat16]
	LayoutPerTokenScale layout.VectorLayout
	D                   arch.GlobalTensor[tensor.BFloat16]
	LayoutD             layout.RowMajor
}

type ubStage struct {
	c        arch.LocalTensor[int32]
	d        arch.LocalTensor[tensor.BFloat16]
	scale    arch.LocalTensor[tensor.BFloat16]
	perToken arch.LocalTensor[tensor.BFloat16]

	origin layout.MatrixCoord // in D
	extent layout.MatrixCoord
	eos    bool
}

// BlockEpilogue dequantises accumulator tiles for one vector sub-block. The
// caller's goroutine acts as the vector pipe; Run starts an MTE3 writer that
// drains finished UB stages to D.
type BlockEpilogue struct {
	policy      EpilogueAtlasA2PerTokenDequant
	tile        layout.MatrixCoord
	subBlockIdx int
	subBlockNum int
	params      Params

	stages []ubStage

	cFp32        arch.LocalTensor[float32]
	mul          arch.LocalTensor[float32]
	scaleFp32    arch.LocalTensor[float32]
	perTokenFp32 arch.LocalTensor[float32]
	brcb         arch.LocalTensor[float32]

	// OnWriteBack, when set, runs on the MTE3 writer before the first copy
	// of each Run.
	OnWriteBack func()
}

// NewBlockEpilogue carves the UB buffers of one vector sub-block.
func NewBlockEpilogue(policy EpilogueAtlasA2PerTokenDequant, tile layout.MatrixCoord,
	subBlockIdx, subBlockNum int, params Params) (*BlockEpilogue, error) {
	if err := policy.Validate(tile); err != nil {
		return nil, err
	}
	if subBlockNum < 1 || subBlockIdx < 0 || subBlockIdx >= subBlockNum {
		return nil, fmt.Errorf("epilogue: sub-block %d of %d", subBlockIdx, subBlockNum)
	}
	be := &BlockEpilogue{
		policy:      policy,
		tile:        tile,
		subBlockIdx: subBlockIdx,
		subBlockNum: subBlockNum,
		params:      params,
		stages:      make([]ubStage, policy.UBStages),
	}

	ub := arch.NewLocalArena(arch.PositionUB)
	n := tile.Count()
	var err error
	for i := range be.stages {
		st := &be.stages[i]
		if st.c, err = arch.AllocLocal[int32](ub, n); err != nil {
			return nil, err
		}
		if st.d, err = arch.AllocLocal[tensor.BFloat16](ub, n); err != nil {
			return nil, err
		}
		if st.scale, err = arch.AllocLocal[tensor.BFloat16](ub, tile.Column); err != nil {
			return nil, err
		}
		if st.perToken, err = arch.AllocLocal[tensor.BFloat16](ub, tile.Row); err != nil {
			return nil, err
		}
	}
	if be.cFp32, err = arch.AllocLocal[float32](ub, n); err != nil {
		return nil, err
	}
	if be.mul, err = arch.AllocLocal[float32](ub, n); err != nil {
		return nil, err
	}
	if be.scaleFp32, err = arch.AllocLocal[float32](ub, tile.Column); err != nil {
		return nil, err
	}
	if be.perTokenFp32, err = arch.AllocLocal[float32](ub, tile.Row); err != nil {
		return nil, err
	}
	if be.brcb, err = arch.AllocLocal[float32](ub, tile.Row*BlockLanes); err != nil {
		return nil, err
	}
	return be, nil
}

// SubBlockRows returns the row range [start, start+rows) of an actual block
// that this sub-block owns. Blocks are split by the nominal block shape, so
// the last sub-block of a short block may own no rows.
func (be *BlockEpilogue) SubBlockRows(blockShape, actualBlockShape layout.MatrixCoord) (start, rows int) {
	per := layout.CeilDiv(blockShape.Row, be.subBlockNum)
	start = be.subBlockIdx * per
	rows = max(0, min(per, actualBlockShape.Row-start))
	return start, rows
}

// Run dequantises this sub-block's share of one accumulator block.
// gmBlockC holds the block's int32 tile through layoutBlockC; blockCoord is
// the block's position in the output tile grid.
func (be *BlockEpilogue) Run(ctx context.Context, blockShape, blockCoord, actualBlockShape layout.MatrixCoord,
	gmBlockC arch.GlobalTensor[int32], layoutBlockC layout.RowMajor) error {
	start, rows := be.SubBlockRows(blockShape, actualBlockShape)
	if rows == 0 {
		return nil
	}
	subShape := layout.MatrixCoord{Row: rows, Column: actualBlockShape.Column}
	subOrigin := blockCoord.Mul(blockShape).Add(layout.MatrixCoord{Row: start})
	if need := layoutBlockC.Offset(layout.MatrixCoord{Row: start + rows - 1, Column: subShape.Column - 1}); need >= gmBlockC.Len() {
		return fmt.Errorf("epilogue: block %s needs workspace element %d, have %d", blockCoord, need, gmBlockC.Len())
	}
	if last := subOrigin.Add(subShape); last.Row > be.params.LayoutD.Shape().Row || last.Column > be.params.LayoutD.Shape().Column {
		return fmt.Errorf("epilogue: block %s ends at %s outside output %s", blockCoord, last, be.params.LayoutD.Shape())
	}

	slots := make([]*ubStage, len(be.stages))
	for i := range be.stages {
		slots[i] = &be.stages[i]
	}
	ring := arch.NewRing(slots)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = arch.PipeError("mte3", rec)
			}
		}()
		return be.mte3(gctx, ring)
	})
	g.Go(func() (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = arch.PipeError("vector", rec)
			}
		}()
		swizzle := NewEpilogueHorizontalTileSwizzle(subShape, be.tile)
		for idx := 0; idx < swizzle.LoopCount(); idx++ {
			coord := swizzle.TileCoord(idx)
			off := swizzle.TileOffset(coord)
			extent := swizzle.ActualTileShape(coord)

			i, st, err := ring.Acquire(gctx)
			if err != nil {
				return err
			}
			stage := *st
			CopyGmToUb(stage.c.Data(), be.tile.Column, gmBlockC, layoutBlockC,
				layout.MatrixCoord{Row: start + off.Row, Column: off.Column}, extent)
			tileOrigin := subOrigin.Add(off)
			CopyGmToUbVector(stage.scale.Data(), be.params.Scale, be.params.LayoutScale, tileOrigin.Column, extent.Column)
			CopyGmToUbVector(stage.perToken.Data(), be.params.PerTokenScale, be.params.LayoutPerTokenScale, tileOrigin.Row, extent.Row)
			be.dequant(stage, extent)
			stage.origin, stage.extent, stage.eos = tileOrigin, extent, false
			ring.Commit(i)
		}
		i, st, err := ring.Acquire(gctx)
		if err != nil {
			return err
		}
		(*st).eos = true
		ring.Commit(i)
		return nil
	})
	return g.Wait()
}

// dequant computes bf16(float32(c) * scale[j] * perToken[i]) for one tile.
func (be *BlockEpilogue) dequant(st *ubStage, extent layout.MatrixCoord) {
	ld := be.tile.Column
	n := extent.Row * ld
	if extent.Row > 0 {
		n = (extent.Row-1)*ld + extent.Column
	}
	cFp32, mul := be.cFp32.Data(), be.mul.Data()

	CastInt32ToFloat32(cFp32, st.c.Data(), n)
	CastBF16ToFloat32(be.scaleFp32.Data(), st.scale.Data(), extent.Column)
	CastBF16ToFloat32(be.perTokenFp32.Data(), st.perToken.Data(), extent.Row)

	RowBroadcastMul(mul, cFp32, be.scaleFp32.Data(), extent.Row, extent.Column, ld)
	BroadcastOneBlk(be.brcb.Data(), be.perTokenFp32.Data(), extent.Row)
	OneBlkColumnBroadcastMul(cFp32, mul, be.brcb.Data(), extent.Row, extent.Column, ld)

	CastFloat32ToBF16(st.d.Data(), cFp32, n)
}

func (be *BlockEpilogue) mte3(ctx context.Context, ring *arch.Ring[*ubStage]) error {
	first := true
	for {
		i, st, err := ring.Wait(ctx)
		if err != nil {
			return err
		}
		stage := *st
		if stage.eos {
			ring.Release(i)
			return nil
		}
		if first && be.OnWriteBack != nil {
			be.OnWriteBack()
		}
		first = false
		CopyUbToGm(be.params.D, be.params.LayoutD, stage.origin, stage.d.Data(), be.tile.Column, stage.extent)
		ring.Release(i)
	}
}
