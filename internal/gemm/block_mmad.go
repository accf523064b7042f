package gemm

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/samcharles93/qmatmul/internal/arch"
	"github.com/samcharles93/qmatmul/internal/layout"
)

// MmadRequest asks BlockMmad for one output tile.
type MmadRequest struct {
	// BlockCoord is the tile coordinate in the output tile grid.
	BlockCoord layout.GemmCoord
	// ActualShape is the clipped tile shape; K is the full problem K.
	ActualShape layout.GemmCoord
	// Dst receives the int32 accumulator through DstLayout.
	Dst       arch.GlobalTensor[int32]
	DstLayout layout.RowMajor
	// OnCompute runs on the cube pipe before the first multiply of the tile.
	OnCompute func()
	// Callback runs on the fixpipe after the tile is in Dst.
	Callback func()
}

type l1Slot struct {
	a, b  arch.LocalTensor[int8]
	chunk kChunk
}

type l0ASlot struct {
	a     arch.LocalTensor[int8]
	chunk kChunk
}

type l0BSlot struct {
	b arch.LocalTensor[int8]
}

type l0CSlot struct {
	c   arch.LocalTensor[int32]
	req *MmadRequest
	eos bool
}

// kChunk describes the K window held by an L1 or L0 slot.
type kChunk struct {
	req   *MmadRequest
	kLen  int // padded to C0
	first bool
	last  bool
	eos   bool
}

// BlockMmad computes int32 output tiles for one compute block. Four pipe
// goroutines run concurrently: MTE2 copies K chunks from global memory into
// the L1 ring, MTE1 splits them into the L0A/L0B rings, the cube
// accumulates into the L0C ring and the fixpipe writes finished tiles out.
// Requests are processed strictly in issue order.
type BlockMmad struct {
	policy   MmadAtlasA2PreloadAsyncWithCallback
	l1Tile   layout.GemmShape
	l0Tile   layout.GemmShape
	blockIdx int

	a       arch.GlobalTensor[int8]
	layoutA layout.Matrix
	b       arch.GlobalTensor[int8]
	layoutB layout.Matrix

	requests chan *MmadRequest
	l1       *arch.Ring[l1Slot]
	l0A      *arch.Ring[l0ASlot]
	l0B      *arch.Ring[l0BSlot]
	l0C      *arch.Ring[l0CSlot]

	group *errgroup.Group
	ctx   context.Context
}

// Operand pairs a global tensor with its layout.
type Operand struct {
	Tensor arch.GlobalTensor[int8]
	Layout layout.Matrix
}

// NewBlockMmad allocates the block's L1/L0 rings. It fails with
// arch.ErrLocalMemoryExhausted when the policy's stages do not fit.
func NewBlockMmad(policy MmadAtlasA2PreloadAsyncWithCallback, l1Tile, l0Tile layout.GemmShape,
	blockIdx int, a, b Operand) (*BlockMmad, error) {
	if err := policy.Validate(l1Tile, l0Tile); err != nil {
		return nil, err
	}
	bm := &BlockMmad{
		policy:   policy,
		l1Tile:   l1Tile,
		l0Tile:   l0Tile,
		blockIdx: blockIdx,
		a:        a.Tensor,
		layoutA:  a.Layout,
		b:        b.Tensor,
		layoutB:  b.Layout,
		requests: make(chan *MmadRequest, policy.PreloadStages),
	}

	l1 := arch.NewLocalArena(arch.PositionL1)
	l1Slots := make([]l1Slot, policy.L1Stages)
	for i := range l1Slots {
		var err error
		if l1Slots[i].a, err = arch.AllocLocal[int8](l1, l1Tile.M*l1Tile.K); err != nil {
			return nil, err
		}
		if l1Slots[i].b, err = arch.AllocLocal[int8](l1, l1Tile.N*l1Tile.K); err != nil {
			return nil, err
		}
	}

	l0a := arch.NewLocalArena(arch.PositionL0A)
	l0ASlots := make([]l0ASlot, policy.L0AStages)
	for i := range l0ASlots {
		var err error
		if l0ASlots[i].a, err = arch.AllocLocal[int8](l0a, l0Tile.M*l0Tile.K); err != nil {
			return nil, err
		}
	}

	l0b := arch.NewLocalArena(arch.PositionL0B)
	l0BSlots := make([]l0BSlot, policy.L0BStages)
	for i := range l0BSlots {
		var err error
		if l0BSlots[i].b, err = arch.AllocLocal[int8](l0b, l0Tile.N*l0Tile.K); err != nil {
			return nil, err
		}
	}

	l0c := arch.NewLocalArena(arch.PositionL0C)
	l0CSlots := make([]l0CSlot, policy.L0CStages)
	for i := range l0CSlots {
		var err error
		if l0CSlots[i].c, err = arch.AllocLocal[int32](l0c, l1Tile.M*l1Tile.N); err != nil {
			return nil, err
		}
	}

	bm.l1 = arch.NewRing(l1Slots)
	bm.l0A = arch.NewRing(l0ASlots)
	bm.l0B = arch.NewRing(l0BSlots)
	bm.l0C = arch.NewRing(l0CSlots)
	return bm, nil
}

// Start launches the pipe goroutines. They stop when Close is called or
// ctx ends.
func (bm *BlockMmad) Start(ctx context.Context) {
	bm.group, bm.ctx = errgroup.WithContext(ctx)
	bm.goPipe("mte2", bm.mte2)
	bm.goPipe("mte1", bm.mte1)
	bm.goPipe("cube", bm.cube)
	bm.goPipe("fixpipe", bm.fixpipe)
}

func (bm *BlockMmad) goPipe(name string, fn func(ctx context.Context) error) {
	bm.group.Go(func() (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = arch.PipeError(name, rec)
			}
		}()
		return fn(bm.ctx)
	})
}

// Context is cancelled when a pipe fails or the context given to Start ends.
func (bm *BlockMmad) Context() context.Context { return bm.ctx }

// Issue queues one tile. It blocks once PreloadStages requests are waiting
// behind the one MTE2 is loading.
func (bm *BlockMmad) Issue(req *MmadRequest) error {
	select {
	case bm.requests <- req:
		return nil
	case <-bm.ctx.Done():
		return context.Cause(bm.ctx)
	}
}

// Close signals that no more requests follow, waits for every issued tile
// to reach global memory and returns the first pipe error.
func (bm *BlockMmad) Close() error {
	close(bm.requests)
	return bm.group.Wait()
}

func (bm *BlockMmad) kTiles(k int) int {
	return layout.CeilDiv(k, bm.l1Tile.K)
}

// kStart returns the first K chunk this block processes. Shuffling spreads
// the blocks' first global reads over different K offsets.
func (bm *BlockMmad) kStart(kTiles int) int {
	if !bm.policy.EnableShuffleK {
		return 0
	}
	return bm.blockIdx % kTiles
}

func (bm *BlockMmad) mte2(ctx context.Context) error {
	for {
		var req *MmadRequest
		select {
		case r, ok := <-bm.requests:
			if !ok {
				return bm.pushL1EOS(ctx)
			}
			req = r
		case <-ctx.Done():
			return context.Cause(ctx)
		}

		tileOrigin := layout.MatrixCoord{
			Row:    req.BlockCoord.M * bm.l1Tile.M,
			Column: req.BlockCoord.N * bm.l1Tile.N,
		}
		kTiles := bm.kTiles(req.ActualShape.K)
		start := bm.kStart(kTiles)
		for i := 0; i < kTiles; i++ {
			kOff := ((start + i) % kTiles) * bm.l1Tile.K
			kLen := min(bm.l1Tile.K, req.ActualShape.K-kOff)
			kPad := layout.RoundUp(kLen, arch.BytesPerC0)

			idx, slot, err := bm.l1.Acquire(ctx)
			if err != nil {
				return err
			}
			CopyGmToL1A(slot.a.Data(), bm.l1Tile.K, bm.a, bm.layoutA,
				layout.MatrixCoord{Row: tileOrigin.Row, Column: kOff},
				layout.MatrixCoord{Row: req.ActualShape.M, Column: kLen}, kPad)
			CopyGmToL1B(slot.b.Data(), bm.l1Tile.K, bm.b, bm.layoutB,
				layout.MatrixCoord{Row: kOff, Column: tileOrigin.Column},
				layout.MatrixCoord{Row: kLen, Column: req.ActualShape.N}, kPad)
			slot.chunk = kChunk{req: req, kLen: kPad, first: i == 0, last: i == kTiles-1}
			bm.l1.Commit(idx)
		}
	}
}

func (bm *BlockMmad) pushL1EOS(ctx context.Context) error {
	idx, slot, err := bm.l1.Acquire(ctx)
	if err != nil {
		return err
	}
	slot.chunk = kChunk{eos: true}
	bm.l1.Commit(idx)
	return nil
}

func (bm *BlockMmad) mte1(ctx context.Context) error {
	for {
		idx, slot, err := bm.l1.Wait(ctx)
		if err != nil {
			return err
		}
		chunk := slot.chunk
		if chunk.eos {
			bm.l1.Release(idx)
			return bm.pushL0EOS(ctx)
		}

		m, n := chunk.req.ActualShape.M, chunk.req.ActualShape.N
		subTiles := layout.CeilDiv(chunk.kLen, bm.l0Tile.K)
		for s := 0; s < subTiles; s++ {
			kOff := s * bm.l0Tile.K
			kLen := min(bm.l0Tile.K, chunk.kLen-kOff)

			ai, aSlot, err := bm.l0A.Acquire(ctx)
			if err != nil {
				return err
			}
			bi, bSlot, err := bm.l0B.Acquire(ctx)
			if err != nil {
				return err
			}
			CopyL1ToL0(aSlot.a.Data(), bm.l0Tile.K, slot.a.Data(), bm.l1Tile.K, m, kOff, kLen)
			CopyL1ToL0(bSlot.b.Data(), bm.l0Tile.K, slot.b.Data(), bm.l1Tile.K, n, kOff, kLen)
			aSlot.chunk = kChunk{
				req:   chunk.req,
				kLen:  kLen,
				first: chunk.first && s == 0,
				last:  chunk.last && s == subTiles-1,
			}
			bm.l0A.Commit(ai)
			bm.l0B.Commit(bi)
		}
		bm.l1.Release(idx)
	}
}

func (bm *BlockMmad) pushL0EOS(ctx context.Context) error {
	ai, aSlot, err := bm.l0A.Acquire(ctx)
	if err != nil {
		return err
	}
	bi, _, err := bm.l0B.Acquire(ctx)
	if err != nil {
		return err
	}
	aSlot.chunk = kChunk{eos: true}
	bm.l0A.Commit(ai)
	bm.l0B.Commit(bi)
	return nil
}

func (bm *BlockMmad) cube(ctx context.Context) error {
	var (
		cIdx  int
		cSlot *l0CSlot
	)
	for {
		ai, aSlot, err := bm.l0A.Wait(ctx)
		if err != nil {
			return err
		}
		bi, bSlot, err := bm.l0B.Wait(ctx)
		if err != nil {
			return err
		}
		chunk := aSlot.chunk
		if chunk.eos {
			bm.l0A.Release(ai)
			bm.l0B.Release(bi)
			idx, slot, err := bm.l0C.Acquire(ctx)
			if err != nil {
				return err
			}
			slot.req, slot.eos = nil, true
			bm.l0C.Commit(idx)
			return nil
		}

		if chunk.first {
			if cIdx, cSlot, err = bm.l0C.Acquire(ctx); err != nil {
				return err
			}
			cSlot.req, cSlot.eos = chunk.req, false
			if chunk.req.OnCompute != nil {
				chunk.req.OnCompute()
			}
		}
		if cSlot == nil {
			return errors.New("cube: K chunk arrived before the first chunk of its tile")
		}

		shape := chunk.req.ActualShape
		Mmad(cSlot.c.Data(), aSlot.a.Data(), bSlot.b.Data(),
			shape.M, shape.N, chunk.kLen, bm.l0Tile.K, bm.l0Tile.K, bm.l1Tile.N, chunk.first)
		bm.l0A.Release(ai)
		bm.l0B.Release(bi)

		if chunk.last {
			bm.l0C.Commit(cIdx)
			cSlot = nil
		}
	}
}

func (bm *BlockMmad) fixpipe(ctx context.Context) error {
	for {
		idx, slot, err := bm.l0C.Wait(ctx)
		if err != nil {
			return err
		}
		if slot.eos {
			bm.l0C.Release(idx)
			return nil
		}
		req := slot.req
		need := req.DstLayout.Tile(req.ActualShape.MN()).Span()
		if need > req.Dst.Len() {
			return fmt.Errorf("fixpipe: tile %v needs %d workspace elements, have %d",
				req.BlockCoord, need, req.Dst.Len())
		}
		CopyL0CToGm(req.Dst, req.DstLayout, slot.c.Data(), bm.l1Tile.N, req.ActualShape.MN())
		bm.l0C.Release(idx)
		if req.Callback != nil {
			req.Callback()
		}
	}
}
