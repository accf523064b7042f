// Package kernel assembles the quantized matmul kernel from the block
// compute unit, the block scheduler and the dequantising epilogue, and runs
// it for one compute block at a time.
package kernel

import (
	"fmt"

	"github.com/samcharles93/qmatmul/internal/arch"
	"github.com/samcharles93/qmatmul/internal/gemm"
	"github.com/samcharles93/qmatmul/internal/layout"
	"github.com/samcharles93/qmatmul/internal/tensor"
)

// WorkspaceStages is the number of accumulator slots each block owns in the
// global workspace. The cube fills one while the vector units drain the
// other.
const WorkspaceStages = 2

// Params are the tensors of one launch. A is M×K, B is K×N, D is M×N.
type Params struct {
	ProblemShape layout.GemmCoord

	A       arch.GlobalTensor[int8]
	LayoutA layout.Matrix
	B       arch.GlobalTensor[int8]
	LayoutB layout.Matrix

	Scale               arch.GlobalTensor[tensor.BFloat16]
	LayoutScale         layout.VectorLayout
	PerTokenScale       arch.GlobalTensor[tensor.BFloat16]
	LayoutPerTokenScale layout.VectorLayout

	D       arch.GlobalTensor[tensor.BFloat16]
	LayoutD layout.RowMajor

	Workspace arch.GlobalTensor[int32]
}

// WorkspaceElements returns the number of int32 workspace elements a launch
// over blockNum blocks needs.
func WorkspaceElements(blockNum int) int {
	return gemm.L1TileShape.M * gemm.L1TileShape.N * WorkspaceStages * blockNum
}

// WorkspaceSize returns the workspace size in bytes.
func WorkspaceSize(blockNum int) int {
	return WorkspaceElements(blockNum) * arch.SizeOf[int32]()
}

// workspaceSlot returns the workspace view and layout of one (block, stage)
// slot.
func workspaceSlot(ws arch.GlobalTensor[int32], blockIdx, stage int) (arch.GlobalTensor[int32], layout.RowMajor) {
	tile := gemm.L1TileShape.M * gemm.L1TileShape.N
	off := (blockIdx*WorkspaceStages + stage) * tile
	return ws.At(off), layout.NewRowMajor(gemm.L1TileShape.M, gemm.L1TileShape.N)
}

// Validate checks the tensors against the problem shape.
func (p *Params) Validate(blockNum int) error {
	if err := p.ProblemShape.Validate(); err != nil {
		return err
	}
	s := p.ProblemShape
	checks := []struct {
		name       string
		shape      layout.MatrixCoord
		want       layout.MatrixCoord
		span, have int
	}{
		{"A", p.LayoutA.Shape(), s.MK(), p.LayoutA.Span(), p.A.Len()},
		{"B", p.LayoutB.Shape(), s.KN(), p.LayoutB.Span(), p.B.Len()},
		{"D", p.LayoutD.Shape(), s.MN(), p.LayoutD.Span(), p.D.Len()},
	}
	for _, c := range checks {
		if c.shape != c.want {
			return fmt.Errorf("kernel: %s layout %s, want %s", c.name, c.shape, c.want)
		}
		if c.span > c.have {
			return fmt.Errorf("kernel: %s needs %d elements, have %d", c.name, c.span, c.have)
		}
	}
	if p.LayoutScale.Len() != s.N || p.LayoutScale.Span() > p.Scale.Len() {
		return fmt.Errorf("kernel: scale covers %d of %d columns", min(p.LayoutScale.Len(), p.Scale.Len()), s.N)
	}
	if p.LayoutPerTokenScale.Len() != s.M || p.LayoutPerTokenScale.Span() > p.PerTokenScale.Len() {
		return fmt.Errorf("kernel: per-token scale covers %d of %d rows",
			min(p.LayoutPerTokenScale.Len(), p.PerTokenScale.Len()), s.M)
	}
	if need := WorkspaceElements(blockNum); p.Workspace.Len() < need {
		return fmt.Errorf("kernel: workspace has %d elements, %d blocks need %d", p.Workspace.Len(), blockNum, need)
	}
	return nil
}

// Variant is the closed set of kernel instantiations, one per swizzle
// direction.
type Variant int

const (
	// VariantAxis0 walks row groups (SwizzleZn). It is used when M > N.
	VariantAxis0 Variant = iota
	// VariantAxis1 walks column groups (SwizzleNz). It is used when M <= N.
	VariantAxis1
)

func (v Variant) String() string {
	switch v {
	case VariantAxis0:
		return "axis0"
	case VariantAxis1:
		return "axis1"
	default:
		return fmt.Sprintf("Variant(%d)", int(v))
	}
}

// SelectVariant picks the variant for a problem shape.
func SelectVariant(shape layout.GemmCoord) Variant {
	if shape.M > shape.N {
		return VariantAxis0
	}
	return VariantAxis1
}
