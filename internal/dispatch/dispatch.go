// Package dispatch is the host side of the quantized matmul: it checks a
// kernel description against the device, picks the kernel variant, binds
// device addresses to kernel parameters and enqueues the launch.
package dispatch

import (
	"context"
	"time"

	"github.com/samcharles93/qmatmul/internal/arch"
	"github.com/samcharles93/qmatmul/internal/device"
	"github.com/samcharles93/qmatmul/internal/kernel"
	"github.com/samcharles93/qmatmul/internal/layout"
	"github.com/samcharles93/qmatmul/internal/logger"
	"github.com/samcharles93/qmatmul/internal/tensor"
)

// Input slots of KernelInfo.InputAddr.
const (
	InputA = iota
	InputB
	InputScale
	InputPerTokenScale
	numInputs
)

// KernelInfo describes one quantized matmul launch. A is int8 M×K row-major,
// B is int8 K×N column-major, the scales are bf16 vectors of length N and M,
// and the output is bf16 M×N row-major.
type KernelInfo struct {
	InputDataType  DataType
	OutputDataType DataType

	// InputAddr holds A, B, scale and per-token scale, in that order.
	InputAddr     []device.Addr
	OutputAddr    []device.Addr
	WorkspaceAddr device.Addr

	M, N, K int
}

// Shape returns the problem shape.
func (info *KernelInfo) Shape() layout.GemmCoord {
	return layout.GemmCoord{M: info.M, N: info.N, K: info.K}
}

// MaxBlockNum bounds the blocks of one launch so the workspace size fits
// in an int.
const MaxBlockNum = 1 << 20

type buffer struct {
	field string
	addr  device.Addr
	bytes int
	align int
}

func (info *KernelInfo) buffers(blockNum int) []buffer {
	m, n, k := info.M, info.N, info.K
	return []buffer{
		{"InputAddr[0] (A)", info.InputAddr[InputA], m * k, 1},
		{"InputAddr[1] (B)", info.InputAddr[InputB], k * n, 1},
		{"InputAddr[2] (scale)", info.InputAddr[InputScale], n * 2, 2},
		{"InputAddr[3] (perTokenScale)", info.InputAddr[InputPerTokenScale], m * 2, 2},
		{"OutputAddr[0] (D)", info.OutputAddr[0], m * n * 2, 2},
		{"WorkspaceAddr", info.WorkspaceAddr, kernel.WorkspaceSize(blockNum), 4},
	}
}

// Validate checks info without touching device memory contents. Every
// failure wraps ErrConfiguration.
func (info *KernelInfo) Validate(dev *device.Device, blockNum int) error {
	if blockNum < 1 {
		return configError(ErrInvalidBlockNum, "blockNum", "got %d, need at least 1", blockNum)
	}
	if blockNum > MaxBlockNum {
		return configError(ErrInvalidBlockNum, "blockNum", "got %d, at most %d blocks are supported", blockNum, MaxBlockNum)
	}
	if len(info.InputAddr) != numInputs {
		return configError(ErrInputCount, "InputAddr", "got %d inputs, need exactly %d (A, B, scale, perTokenScale)",
			len(info.InputAddr), numInputs)
	}
	if len(info.OutputAddr) < 1 {
		return configError(ErrOutputCount, "OutputAddr", "no output address")
	}
	if info.WorkspaceAddr == 0 {
		return configError(ErrNullWorkspace, "WorkspaceAddr", "workspace address is null")
	}
	if info.InputDataType != DataTypeInt8 {
		return configError(ErrUnsupportedDataType, "InputDataType", "%s inputs are not supported, need int8", info.InputDataType)
	}
	if info.OutputDataType != DataTypeBFloat16 {
		return configError(ErrUnsupportedDataType, "OutputDataType", "%s outputs are not supported, need bf16", info.OutputDataType)
	}
	if err := info.Shape().Validate(); err != nil {
		return configError(ErrInvalidShape, "M/N/K", "%v", err)
	}

	for _, b := range info.buffers(blockNum) {
		mem, err := dev.Resolve(b.addr)
		if err != nil {
			return configError(ErrBufferTooSmall, b.field, "%v", err)
		}
		if uint64(b.addr)%uint64(b.align) != 0 {
			return configError(ErrBufferTooSmall, b.field, "address %#x is not %d-byte aligned", uint64(b.addr), b.align)
		}
		if len(mem) < b.bytes {
			kind := ErrBufferTooSmall
			if b.field == "WorkspaceAddr" {
				kind = ErrWorkspaceTooSmall
			}
			return configError(kind, b.field, "need %d bytes, region holds %d", b.bytes, len(mem))
		}
	}
	return nil
}

// Params binds the device buffers of info to kernel parameters. info must
// have passed Validate.
func (info *KernelInfo) Params(dev *device.Device, blockNum int) (kernel.Params, error) {
	views := make([][]byte, 0, 6)
	for _, b := range info.buffers(blockNum) {
		mem, err := dev.Resolve(b.addr)
		if err != nil {
			return kernel.Params{}, err
		}
		views = append(views, mem[:b.bytes])
	}
	m, n, k := info.M, info.N, info.K
	return kernel.Params{
		ProblemShape:        info.Shape(),
		A:                   arch.NewGlobalTensor[int8](views[0]),
		LayoutA:             layout.NewRowMajor(m, k),
		B:                   arch.NewGlobalTensor[int8](views[1]),
		LayoutB:             layout.NewColumnMajor(k, n),
		Scale:               arch.NewGlobalTensor[tensor.BFloat16](views[2]),
		LayoutScale:         layout.NewVectorLayout(n),
		PerTokenScale:       arch.NewGlobalTensor[tensor.BFloat16](views[3]),
		LayoutPerTokenScale: layout.NewVectorLayout(m),
		D:                   arch.NewGlobalTensor[tensor.BFloat16](views[4]),
		LayoutD:             layout.NewRowMajor(m, n),
		Workspace:           arch.NewGlobalTensor[int32](views[5]),
	}, nil
}

type launchOptions struct {
	observer kernel.Observer
}

// Option customises a launch.
type Option func(*launchOptions)

// WithObserver reports every block's state transitions to obs.
func WithObserver(obs kernel.Observer) Option {
	return func(o *launchOptions) { o.observer = obs }
}

// QuantMatmul validates info and enqueues the kernel on stream over
// blockNum compute blocks. Configuration errors are returned before
// anything is enqueued; execution errors surface from
// stream.Synchronize.
func QuantMatmul(ctx context.Context, dev *device.Device, blockNum int, stream *device.Stream,
	info KernelInfo, opts ...Option) error {
	var o launchOptions
	for _, opt := range opts {
		opt(&o)
	}
	if err := info.Validate(dev, blockNum); err != nil {
		return err
	}

	syncBase, _ := dev.C2CCtrlAddr()
	inv, err := arch.NewInvocation(syncBase, blockNum)
	if err != nil {
		return err
	}
	params, err := info.Params(dev, blockNum)
	if err != nil {
		return err
	}

	variant := kernel.SelectVariant(info.Shape())
	k, err := kernel.ForVariant(variant, o.observer)
	if err != nil {
		return err
	}

	log := logger.FromContext(ctx)
	log.Info("launching quant matmul",
		"shape", info.Shape().String(),
		"variant", variant.String(),
		"block_num", blockNum,
	)
	start := time.Now()
	if err := dev.Launch(ctx, stream, blockNum, func(ctx context.Context, blockIdx int) error {
		return k.Run(ctx, inv, params, blockIdx, blockNum)
	}); err != nil {
		return err
	}
	stream.Submit(ctx, func(context.Context) error {
		log.Debug("quant matmul finished", "shape", info.Shape().String(), "elapsed", time.Since(start))
		return nil
	})
	return nil
}

// Run launches on a private stream and waits for completion.
func Run(ctx context.Context, dev *device.Device, blockNum int, info KernelInfo, opts ...Option) error {
	stream := dev.NewStream()
	defer stream.Close()
	if err := QuantMatmul(ctx, dev, blockNum, stream, info, opts...); err != nil {
		return err
	}
	return stream.Synchronize()
}
