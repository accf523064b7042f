package layout

import "fmt"

// Matrix is a 2-D layout. Offset maps a logical (row, column) to a linear
// element index.
type Matrix interface {
	Shape() MatrixCoord
	Offset(c MatrixCoord) int
	// Span is the number of elements a buffer must hold for every logical
	// element of the layout to be addressable.
	Span() int
	String() string
}

// RowMajor stores rows contiguously. Stride is the distance between the
// starts of consecutive rows and may exceed the column count for sub-tiles.
type RowMajor struct {
	rows, cols int
	stride     int
}

// NewRowMajor returns a dense row-major layout.
func NewRowMajor(rows, cols int) RowMajor {
	return RowMajor{rows: rows, cols: cols, stride: cols}
}

// NewRowMajorStride returns a row-major layout with an explicit leading dimension.
func NewRowMajorStride(rows, cols, stride int) RowMajor {
	if stride < cols {
		panic(fmt.Sprintf("layout: row stride %d below column count %d", stride, cols))
	}
	return RowMajor{rows: rows, cols: cols, stride: stride}
}

func (l RowMajor) Shape() MatrixCoord { return MatrixCoord{Row: l.rows, Column: l.cols} }
func (l RowMajor) Stride() int        { return l.stride }

func (l RowMajor) Offset(c MatrixCoord) int {
	return c.Row*l.stride + c.Column
}

func (l RowMajor) Span() int {
	if l.rows == 0 || l.cols == 0 {
		return 0
	}
	return (l.rows-1)*l.stride + l.cols
}

// Tile returns the layout of a sub-matrix of the given shape that keeps this
// layout's stride.
func (l RowMajor) Tile(shape MatrixCoord) RowMajor {
	return RowMajor{rows: shape.Row, cols: shape.Column, stride: l.stride}
}

func (l RowMajor) String() string {
	return fmt.Sprintf("RowMajor(%dx%d, ld=%d)", l.rows, l.cols, l.stride)
}

// ColumnMajor stores columns contiguously.
type ColumnMajor struct {
	rows, cols int
	stride     int
}

// NewColumnMajor returns a dense column-major layout.
func NewColumnMajor(rows, cols int) ColumnMajor {
	return ColumnMajor{rows: rows, cols: cols, stride: rows}
}

// NewColumnMajorStride returns a column-major layout with an explicit leading dimension.
func NewColumnMajorStride(rows, cols, stride int) ColumnMajor {
	if stride < rows {
		panic(fmt.Sprintf("layout: column stride %d below row count %d", stride, rows))
	}
	return ColumnMajor{rows: rows, cols: cols, stride: stride}
}

func (l ColumnMajor) Shape() MatrixCoord { return MatrixCoord{Row: l.rows, Column: l.cols} }
func (l ColumnMajor) Stride() int        { return l.stride }

func (l ColumnMajor) Offset(c MatrixCoord) int {
	return c.Column*l.stride + c.Row
}

func (l ColumnMajor) Span() int {
	if l.rows == 0 || l.cols == 0 {
		return 0
	}
	return (l.cols-1)*l.stride + l.rows
}

func (l ColumnMajor) Tile(shape MatrixCoord) ColumnMajor {
	return ColumnMajor{rows: shape.Row, cols: shape.Column, stride: l.stride}
}

func (l ColumnMajor) String() string {
	return fmt.Sprintf("ColumnMajor(%dx%d, ld=%d)", l.rows, l.cols, l.stride)
}

// VectorLayout describes a 1-D vector such as a per-row or per-column scale.
type VectorLayout struct {
	length int
	stride int
}

// NewVectorLayout returns a dense vector layout of n elements.
func NewVectorLayout(n int) VectorLayout {
	return VectorLayout{length: n, stride: 1}
}

func (l VectorLayout) Len() int { return l.length }

// OffsetOf maps a logical index to a linear element index.
func (l VectorLayout) OffsetOf(i int) int { return i * l.stride }

func (l VectorLayout) Span() int {
	if l.length == 0 {
		return 0
	}
	return (l.length-1)*l.stride + 1
}

func (l VectorLayout) String() string {
	return fmt.Sprintf("Vector(%d)", l.length)
}

var (
	_ Matrix = RowMajor{}
	_ Matrix = ColumnMajor{}
)
