package tensor

import (
	"math/rand"

	"github.com/samcharles93/qmatmul/internal/layout"
)

// Int8Mat is a host-side int8 matrix.
//
// R and C are the logical rows and columns. ColMajor selects the storage
// order: row-major matrices keep rows contiguous (Stride == C) and
// column-major matrices keep columns contiguous (Stride == R). Data holds
// the flattened values.
type Int8Mat struct {
	R, C     int
	Stride   int
	ColMajor bool
	Data     []int8
}

// NewInt8Mat allocates a zeroed row-major matrix.
func NewInt8Mat(r, c int) Int8Mat {
	if r < 0 || c < 0 {
		panic("negative dimension for matrix")
	}
	return Int8Mat{R: r, C: c, Stride: c, Data: make([]int8, r*c)}
}

// NewInt8MatColMajor allocates a zeroed column-major matrix.
func NewInt8MatColMajor(r, c int) Int8Mat {
	if r < 0 || c < 0 {
		panic("negative dimension for matrix")
	}
	return Int8Mat{R: r, C: c, Stride: r, ColMajor: true, Data: make([]int8, r*c)}
}

// NewInt8MatFromData wraps existing row-major data.
func NewInt8MatFromData(r, c int, data []int8) (Int8Mat, error) {
	if r < 0 || c < 0 {
		return Int8Mat{}, errNegativeDim
	}
	if len(data) != r*c {
		return Int8Mat{}, errDataSizeMismatch
	}
	return Int8Mat{R: r, C: c, Stride: c, Data: data}, nil
}

// Layout returns the memory layout matching the storage order.
func (m *Int8Mat) Layout() layout.Matrix {
	if m.ColMajor {
		return layout.NewColumnMajorStride(m.R, m.C, m.Stride)
	}
	return layout.NewRowMajorStride(m.R, m.C, m.Stride)
}

func (m *Int8Mat) index(i, j int) int {
	if i < 0 || i >= m.R || j < 0 || j >= m.C {
		panic("matrix index out of range")
	}
	if m.ColMajor {
		return j*m.Stride + i
	}
	return i*m.Stride + j
}

// At returns element (i, j).
func (m *Int8Mat) At(i, j int) int8 { return m.Data[m.index(i, j)] }

// Set stores v at (i, j).
func (m *Int8Mat) Set(i, j int, v int8) { m.Data[m.index(i, j)] = v }

// Transposed returns a column-major copy of a row-major matrix holding the
// transpose, or the reverse. It mirrors how a (N, K) row-major tensor is
// viewed as a (K, N) column-major operand without moving bytes.
func (m *Int8Mat) Transposed() Int8Mat {
	return Int8Mat{R: m.C, C: m.R, Stride: m.Stride, ColMajor: !m.ColMajor, Data: m.Data}
}

// ColMajorCopy returns a column-major copy of m. Column-major matrices are
// returned as is.
func (m *Int8Mat) ColMajorCopy() Int8Mat {
	if m.ColMajor && m.Stride == m.R {
		return *m
	}
	out := NewInt8MatColMajor(m.R, m.C)
	for j := 0; j < m.C; j++ {
		for i := 0; i < m.R; i++ {
			out.Data[j*m.R+i] = m.At(i, j)
		}
	}
	return out
}

// RowMajorCopy returns a row-major copy of m. Row-major matrices with a
// packed stride are returned as is.
func (m *Int8Mat) RowMajorCopy() Int8Mat {
	if !m.ColMajor && m.Stride == m.C {
		return *m
	}
	out := NewInt8Mat(m.R, m.C)
	for i := 0; i < m.R; i++ {
		for j := 0; j < m.C; j++ {
			out.Data[i*m.C+j] = m.At(i, j)
		}
	}
	return out
}

// FillRandInt8 fills the matrix with reproducible values in [lo, hi).
func FillRandInt8(m *Int8Mat, seed int64, lo, hi int) {
	if hi <= lo {
		panic("FillRandInt8: empty range")
	}
	rng := rand.New(rand.NewSource(seed))
	for i := range m.Data {
		m.Data[i] = int8(lo + rng.Intn(hi-lo))
	}
}

// FillRandBF16 fills v with reproducible values in [0, 1), rounded to bf16.
func FillRandBF16(v []BFloat16, seed int64) {
	rng := rand.New(rand.NewSource(seed))
	for i := range v {
		v[i] = BF16FromFloat32(rng.Float32())
	}
}

// FillBF16 sets every element of v to x.
func FillBF16(v []BFloat16, x float32) {
	b := BF16FromFloat32(x)
	for i := range v {
		v[i] = b
	}
}

var (
	errNegativeDim      = fmtError("negative dimension for matrix")
	errDataSizeMismatch = fmtError("data length mismatch")
)

type fmtError string

func (e fmtError) Error() string { return string(e) }
