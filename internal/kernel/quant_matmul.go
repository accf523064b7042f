package kernel

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/samcharles93/qmatmul/internal/arch"
	"github.com/samcharles93/qmatmul/internal/epilogue"
	"github.com/samcharles93/qmatmul/internal/gemm"
	"github.com/samcharles93/qmatmul/internal/layout"
	"github.com/samcharles93/qmatmul/internal/logger"
)

// Cross-core flag IDs. The AIC signals "tile ready in stage s" with
// flagAICFinish+s; each AIV answers "stage s free" with flagAIVFinish+s.
const (
	flagAICFinish = 0
	flagAIVFinish = WorkspaceStages
)

// Kernel is one instantiated variant of the quantized matmul kernel.
type Kernel interface {
	Variant() Variant
	Run(ctx context.Context, inv *arch.Invocation, params Params, blockIdx, blockNum int) error
}

// QuantMatmulMultiStageWorkspace is the per-token dequantising int8 matmul.
// The cube side computes int32 tiles into a double-buffered workspace and
// the vector sub-blocks dequantise them to bf16 while the next tile is
// being computed.
type QuantMatmulMultiStageWorkspace[D gemm.SwizzleDirection] struct {
	MmadPolicy     gemm.MmadAtlasA2PreloadAsyncWithCallback
	EpiloguePolicy epilogue.EpilogueAtlasA2PerTokenDequant
	L1Tile         layout.GemmShape
	L0Tile         layout.GemmShape
	EpilogueTile   layout.MatrixCoord
	SwizzleOffset  int
	Observer       Observer
}

// New returns the kernel with its production policies and tile shapes.
func New[D gemm.SwizzleDirection]() *QuantMatmulMultiStageWorkspace[D] {
	return &QuantMatmulMultiStageWorkspace[D]{
		MmadPolicy:     gemm.DefaultMmadPolicy(),
		EpiloguePolicy: epilogue.DefaultEpiloguePolicy(),
		L1Tile:         gemm.L1TileShape,
		L0Tile:         gemm.L0TileShape,
		EpilogueTile:   epilogue.TileShape,
		SwizzleOffset:  gemm.DefaultSwizzleOffset,
	}
}

// ForVariant returns the kernel instantiation of v reporting to obs. A nil
// obs discards state transitions.
func ForVariant(v Variant, obs Observer) (Kernel, error) {
	switch v {
	case VariantAxis0:
		k := New[gemm.SwizzleZn]()
		k.Observer = obs
		return k, nil
	case VariantAxis1:
		k := New[gemm.SwizzleNz]()
		k.Observer = obs
		return k, nil
	default:
		return nil, fmt.Errorf("kernel: unknown variant %s", v)
	}
}

// blockFlags holds the cross-core flags of one block indexed by
// [stage][sub], resolved once so the tile loops never touch the invocation.
type blockFlags struct {
	aicFinish [WorkspaceStages][arch.AIVPerAIC]*arch.CrossCoreFlag
	aivFinish [WorkspaceStages][arch.AIVPerAIC]*arch.CrossCoreFlag
}

func resolveFlags(inv *arch.Invocation, blockIdx int) *blockFlags {
	var f blockFlags
	for stage := range WorkspaceStages {
		for sub := range arch.AIVPerAIC {
			f.aicFinish[stage][sub] = inv.CrossCoreFlag(blockIdx, sub, flagAICFinish+stage)
			f.aivFinish[stage][sub] = inv.CrossCoreFlag(blockIdx, sub, flagAIVFinish+stage)
		}
	}
	return &f
}

func (k *QuantMatmulMultiStageWorkspace[D]) Variant() Variant {
	var d D
	if d.Axis() == 0 {
		return VariantAxis0
	}
	return VariantAxis1
}

// Scheduler returns the block swizzle the kernel uses for a problem.
func (k *QuantMatmulMultiStageWorkspace[D]) Scheduler(problem layout.GemmCoord) gemm.IdentityBlockSwizzle[D] {
	return gemm.NewIdentityBlockSwizzle[D](problem, k.L1Tile.MN(), k.SwizzleOffset)
}

func (k *QuantMatmulMultiStageWorkspace[D]) observer() Observer {
	if k.Observer == nil {
		return nopObserver{}
	}
	return k.Observer
}

// Run executes block blockIdx of a launch over blockNum blocks. It returns
// once every tile assigned to the block is in D.
func (k *QuantMatmulMultiStageWorkspace[D]) Run(ctx context.Context, inv *arch.Invocation, params Params,
	blockIdx, blockNum int) error {
	if inv == nil {
		return arch.ErrSyncUnavailable
	}
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	if blockNum < 1 || blockIdx < 0 || blockIdx >= blockNum {
		return fmt.Errorf("kernel: block %d of %d", blockIdx, blockNum)
	}
	if k.L1Tile != gemm.L1TileShape {
		return fmt.Errorf("kernel: workspace slots are sized for %s tiles, got %s", gemm.L1TileShape, k.L1Tile)
	}
	if err := params.Validate(blockNum); err != nil {
		return err
	}

	log := logger.Block(ctx, blockIdx)
	obs := k.observer()
	sched := k.Scheduler(params.ProblemShape)
	flags := resolveFlags(inv, blockIdx)

	bm, err := gemm.NewBlockMmad(k.MmadPolicy, k.L1Tile, k.L0Tile, blockIdx,
		gemm.Operand{Tensor: params.A, Layout: params.LayoutA},
		gemm.Operand{Tensor: params.B, Layout: params.LayoutB})
	if err != nil {
		return err
	}
	epParams := epilogue.Params{
		Scale:               params.Scale,
		LayoutScale:         params.LayoutScale,
		PerTokenScale:       params.PerTokenScale,
		LayoutPerTokenScale: params.LayoutPerTokenScale,
		D:                   params.D,
		LayoutD:             params.LayoutD,
	}
	epilogues := make([]*epilogue.BlockEpilogue, arch.AIVPerAIC)
	for sub := range epilogues {
		if epilogues[sub], err = epilogue.NewBlockEpilogue(k.EpiloguePolicy, k.EpilogueTile, sub, arch.AIVPerAIC, epParams); err != nil {
			return err
		}
	}

	obs.OnState(blockIdx, layout.GemmCoord{}, StateIdle)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return k.runAIC(gctx, flags, params, bm, sched, blockIdx, blockNum)
	})
	for sub, ep := range epilogues {
		g.Go(func() (err error) {
			defer func() {
				if rec := recover(); rec != nil {
					err = arch.PipeError(fmt.Sprintf("aiv%d", sub), rec)
				}
			}()
			return k.runAIV(gctx, flags, params, ep, sched, blockIdx, blockNum, sub)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("block %d: %w", blockIdx, err)
	}
	obs.OnState(blockIdx, layout.GemmCoord{}, StateDone)
	log.Debug("block finished", "tiles", layout.CeilDiv(max(sched.CoreLoops()-blockIdx, 0), blockNum))
	return nil
}

func (k *QuantMatmulMultiStageWorkspace[D]) runAIC(ctx context.Context, flags *blockFlags, params Params,
	bm *gemm.BlockMmad, sched gemm.IdentityBlockSwizzle[D], blockIdx, blockNum int) error {
	obs := k.observer()
	bm.Start(ctx)

	// Waiting on the pipes' context lets a pipe failure release the wait.
	pipeCtx := bm.Context()
	stage, issued := 0, 0
	for task := blockIdx; task < sched.CoreLoops(); task += blockNum {
		// The first WorkspaceStages tiles find their slots empty.
		if issued >= WorkspaceStages {
			for _, f := range flags.aivFinish[stage] {
				if err := f.Wait(pipeCtx); err != nil {
					return k.abort(bm, err)
				}
			}
		}

		coord := sched.BlockCoord(task)
		actual := sched.ActualBlockShape(coord)
		ws, wsLayout := workspaceSlot(params.Workspace, blockIdx, stage)
		ready := flags.aicFinish[stage]
		obs.OnState(blockIdx, coord, StatePrefetching)
		req := &gemm.MmadRequest{
			BlockCoord:  coord,
			ActualShape: actual,
			Dst:         ws,
			DstLayout:   wsLayout,
			OnCompute: func() {
				obs.OnState(blockIdx, coord, StateComputing)
			},
			Callback: func() {
				for _, f := range ready {
					// A failed set means ctx is done and the launch is already failing.
					_ = f.Set(ctx)
				}
			},
		}
		if err := bm.Issue(req); err != nil {
			return k.abort(bm, err)
		}
		stage = (stage + 1) % WorkspaceStages
		issued++
	}
	return bm.Close()
}

// abort drains the block compute unit after a failure, preferring the pipe
// error that caused it.
func (k *QuantMatmulMultiStageWorkspace[D]) abort(bm *gemm.BlockMmad, err error) error {
	if closeErr := bm.Close(); closeErr != nil {
		return closeErr
	}
	return err
}

func (k *QuantMatmulMultiStageWorkspace[D]) runAIV(ctx context.Context, flags *blockFlags, params Params,
	ep *epilogue.BlockEpilogue, sched gemm.IdentityBlockSwizzle[D], blockIdx, blockNum, sub int) error {
	obs := k.observer()
	var current layout.GemmCoord
	// Sub-block 0 always owns rows of a tile, so it reports for the block.
	if sub == 0 {
		ep.OnWriteBack = func() { obs.OnState(blockIdx, current, StateWritingBack) }
	}

	stage := 0
	for task := blockIdx; task < sched.CoreLoops(); task += blockNum {
		if err := flags.aicFinish[stage][sub].Wait(ctx); err != nil {
			return err
		}
		current = sched.BlockCoord(task)
		actual := sched.ActualBlockShape(current)
		if sub == 0 {
			obs.OnState(blockIdx, current, StateDequantizing)
		}

		ws, wsLayout := workspaceSlot(params.Workspace, blockIdx, stage)
		if err := ep.Run(ctx, k.L1Tile.MN(), current.MN(), actual.MN(), ws, wsLayout); err != nil {
			return err
		}
		if err := flags.aivFinish[stage][sub].Set(ctx); err != nil {
			return err
		}
		stage = (stage + 1) % WorkspaceStages
	}
	return nil
}
