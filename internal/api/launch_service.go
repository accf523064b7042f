package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samcharles93/qmatmul/internal/device"
	"github.com/samcharles93/qmatmul/internal/dispatch"
	"github.com/samcharles93/qmatmul/internal/kernel"
	"github.com/samcharles93/qmatmul/internal/layout"
	"github.com/samcharles93/qmatmul/internal/logger"
	"github.com/samcharles93/qmatmul/internal/tensor"
)

// MaxBlockNum bounds the block count a request may ask for; every block
// owns a workspace slot pair.
const MaxBlockNum = 256

// LaunchService stages request tensors on the device, runs the kernel and
// reads the result back.
type LaunchService struct {
	dev   *device.Device
	clock func() time.Time
}

func NewLaunchService(dev *device.Device) *LaunchService {
	return &LaunchService{dev: dev, clock: time.Now}
}

// Device returns the device the service launches on.
func (s *LaunchService) Device() *device.Device { return s.dev }

func (req *QuantMatmulRequest) problem() (*dispatch.Problem, error) {
	if err := (layout.GemmCoord{M: req.M, N: req.N, K: req.K}).Validate(); err != nil {
		return nil, newInvalidRequest(err.Error())
	}
	if req.BlockNum < 0 || req.BlockNum > MaxBlockNum {
		return nil, newInvalidRequest(fmt.Sprintf("block_num: %d is outside [0, %d]", req.BlockNum, MaxBlockNum))
	}
	a, err := tensor.NewInt8MatFromData(req.M, req.K, req.A)
	if err != nil {
		return nil, newInvalidRequest(fmt.Sprintf("a: %v (want %d values)", err, req.M*req.K))
	}
	if len(req.B) != req.K*req.N {
		return nil, newInvalidRequest(fmt.Sprintf("b: got %d values, want %d", len(req.B), req.K*req.N))
	}
	var b tensor.Int8Mat
	switch req.BLayout {
	case "", "column_major":
		b = tensor.Int8Mat{R: req.K, C: req.N, Stride: req.K, ColMajor: true, Data: req.B}
	case "row_major":
		b, _ = tensor.NewInt8MatFromData(req.K, req.N, req.B)
	default:
		return nil, newInvalidRequest(fmt.Sprintf("b_layout: unknown layout %q", req.BLayout))
	}
	if len(req.Scale) != req.N {
		return nil, newInvalidRequest(fmt.Sprintf("scale: got %d values, want %d", len(req.Scale), req.N))
	}
	if len(req.PerTokenScale) != req.M {
		return nil, newInvalidRequest(fmt.Sprintf("per_token_scale: got %d values, want %d", len(req.PerTokenScale), req.M))
	}
	return &dispatch.Problem{
		A:             a,
		B:             b,
		Scale:         tensor.BF16Slice(req.Scale),
		PerTokenScale: tensor.BF16Slice(req.PerTokenScale),
	}, nil
}

// Launch runs one request. The returned run is filled in even when err is
// not nil. Request errors wrap ErrInvalidRequest and refused launches wrap
// both ErrLaunchRefused and dispatch.ErrConfiguration.
func (s *LaunchService) Launch(ctx context.Context, req *QuantMatmulRequest) (RunResponse, error) {
	run := RunResponse{
		ID:        newRunID(),
		Object:    "quant_matmul.run",
		CreatedAt: s.clock().Unix(),
		Status:    RunStatusFailed,
		Shape:     fmt.Sprintf("%dx%dx%d", req.M, req.N, req.K),
	}
	p, err := req.problem()
	if err != nil {
		_, body := errorResponse(err)
		run.Error = &body
		return run, err
	}
	run.BlockNum = req.BlockNum
	if run.BlockNum <= 0 {
		run.BlockNum = s.dev.CoreNum()
	}
	run.Variant = kernel.SelectVariant(p.Shape()).String()

	out, elapsed, err := s.execute(ctx, p, run.BlockNum)
	run.ElapsedMS = float64(elapsed.Microseconds()) / 1000
	if err != nil {
		err = refuseLaunch(err)
		_, body := errorResponse(err)
		run.Error = &body
		logger.FromContext(ctx).Warn("quant matmul run failed", "id", run.ID, "error", err)
		return run, err
	}

	run.Status = RunStatusCompleted
	run.Output = tensor.Float32Slice(out)
	if req.Verify {
		want, err := p.Reference()
		if err != nil {
			return run, err
		}
		ok := true
		for i := range want {
			if want[i] != out[i] {
				ok = false
				break
			}
		}
		run.Verified = &ok
	}
	return run, nil
}

func (s *LaunchService) execute(ctx context.Context, p *dispatch.Problem, blockNum int) (out []tensor.BFloat16, elapsed time.Duration, err error) {
	staged, err := dispatch.Stage(s.dev, p, blockNum)
	if err != nil {
		return nil, 0, err
	}
	defer func() {
		err = errors.Join(err, staged.Free())
	}()

	start := s.clock()
	if err := dispatch.Run(ctx, s.dev, blockNum, staged.Info); err != nil {
		return nil, s.clock().Sub(start), err
	}
	elapsed = s.clock().Sub(start)
	out, err = staged.ReadOutput()
	return out, elapsed, err
}
