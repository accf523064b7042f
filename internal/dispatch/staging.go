package dispatch

import (
	"errors"
	"fmt"

	"github.com/samcharles93/qmatmul/internal/device"
	"github.com/samcharles93/qmatmul/internal/kernel"
	"github.com/samcharles93/qmatmul/internal/layout"
	"github.com/samcharles93/qmatmul/internal/tensor"
)

// Problem is a quantized matmul held in host memory.
type Problem struct {
	A             tensor.Int8Mat
	B             tensor.Int8Mat
	Scale         []tensor.BFloat16
	PerTokenScale []tensor.BFloat16
}

// Shape returns the problem shape.
func (p *Problem) Shape() layout.GemmCoord {
	return layout.GemmCoord{M: p.A.R, N: p.B.C, K: p.A.C}
}

// NewRandomProblem builds a reproducible problem with int8 operands over
// the full range and scales in [0, 1).
func NewRandomProblem(m, n, k int, seed int64) *Problem {
	p := &Problem{
		A:             tensor.NewInt8Mat(m, k),
		B:             tensor.NewInt8MatColMajor(k, n),
		Scale:         make([]tensor.BFloat16, n),
		PerTokenScale: make([]tensor.BFloat16, m),
	}
	tensor.FillRandInt8(&p.A, seed, -128, 128)
	tensor.FillRandInt8(&p.B, seed+1, -128, 128)
	tensor.FillRandBF16(p.Scale, seed+2)
	tensor.FillRandBF16(p.PerTokenScale, seed+3)
	return p
}

// DemoProblem is the 2x2x2 problem whose output is [[4, 2], [3.25, 1]].
// B is given as its row-major (N, K) transpose, the way weights are stored.
func DemoProblem() *Problem {
	a, _ := tensor.NewInt8MatFromData(2, 2, []int8{1, 2, 3, 4})
	bT, _ := tensor.NewInt8MatFromData(2, 2, []int8{10, -1, 0, 1})
	return &Problem{
		A:             a,
		B:             bT.Transposed(),
		Scale:         tensor.BF16Slice([]float32{0.5, 1}),
		PerTokenScale: tensor.BF16Slice([]float32{1, 0.25}),
	}
}

// Golden computes the unrounded float64 output on the host.
func (p *Problem) Golden() ([]float64, error) {
	return tensor.QuantMatmulGolden(&p.A, &p.B, p.Scale, p.PerTokenScale)
}

// Reference computes the expected output on the host.
func (p *Problem) Reference() ([]tensor.BFloat16, error) {
	return tensor.QuantMatmulRef(&p.A, &p.B, p.Scale, p.PerTokenScale)
}

// Staged is a problem copied to device memory together with its output
// and workspace buffers.
type Staged struct {
	dev    *device.Device
	Info   KernelInfo
	allocs []device.Addr
}

// Stage allocates and fills every buffer a launch of p over blockNum blocks
// needs. A is uploaded row-major and B column-major, repacking as needed.
func Stage(dev *device.Device, p *Problem, blockNum int) (*Staged, error) {
	shape := p.Shape()
	if p.B.R != shape.K {
		return nil, fmt.Errorf("stage: A is %dx%d but B is %dx%d", p.A.R, p.A.C, p.B.R, p.B.C)
	}
	s := &Staged{dev: dev}
	alloc := func(bytes int) (device.Addr, error) {
		addr, err := dev.Malloc(bytes)
		if err != nil {
			return 0, err
		}
		s.allocs = append(s.allocs, addr)
		return addr, nil
	}

	a := p.A.RowMajorCopy()
	b := p.B.ColMajorCopy()

	type upload struct {
		bytes int
		fill  func(device.Addr) error
	}
	uploads := []upload{
		{len(a.Data), func(addr device.Addr) error { return device.CopyToDevice(dev, addr, a.Data) }},
		{len(b.Data), func(addr device.Addr) error { return device.CopyToDevice(dev, addr, b.Data) }},
		{2 * len(p.Scale), func(addr device.Addr) error { return device.CopyToDevice(dev, addr, p.Scale) }},
		{2 * len(p.PerTokenScale), func(addr device.Addr) error { return device.CopyToDevice(dev, addr, p.PerTokenScale) }},
	}
	inputs := make([]device.Addr, 0, len(uploads))
	for _, u := range uploads {
		addr, err := alloc(max(u.bytes, 1))
		if err != nil {
			return nil, errors.Join(err, s.Free())
		}
		if u.bytes > 0 {
			if err := u.fill(addr); err != nil {
				return nil, errors.Join(err, s.Free())
			}
		}
		inputs = append(inputs, addr)
	}
	out, err := alloc(max(shape.M*shape.N*2, 1))
	if err != nil {
		return nil, errors.Join(err, s.Free())
	}
	ws, err := alloc(max(kernel.WorkspaceSize(blockNum), 1))
	if err != nil {
		return nil, errors.Join(err, s.Free())
	}

	s.Info = KernelInfo{
		InputDataType:  DataTypeInt8,
		OutputDataType: DataTypeBFloat16,
		InputAddr:      inputs,
		OutputAddr:     []device.Addr{out},
		WorkspaceAddr:  ws,
		M:              shape.M,
		N:              shape.N,
		K:              shape.K,
	}
	return s, nil
}

// ReadOutput copies D back to the host.
func (s *Staged) ReadOutput() ([]tensor.BFloat16, error) {
	out := make([]tensor.BFloat16, s.Info.M*s.Info.N)
	if err := device.CopyFromDevice(s.dev, out, s.Info.OutputAddr[0]); err != nil {
		return nil, err
	}
	return out, nil
}

// Free releases every buffer Stage allocated.
func (s *Staged) Free() error {
	var errs []error
	for _, addr := range s.allocs {
		if err := s.dev.Free(addr); err != nil {
			errs = append(errs, err)
		}
	}
	s.allocs = nil
	return errors.Join(errs...)
}
