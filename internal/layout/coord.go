// Package layout describes matrix shapes, coordinates and the mapping of
// logical 2-D and 1-D indices onto linear memory.
package layout

import (
	"fmt"
	"math"
)

// MatrixCoord addresses one element or one tile of a 2-D matrix.
type MatrixCoord struct {
	Row    int
	Column int
}

// Add returns the element-wise sum of two coordinates.
func (c MatrixCoord) Add(o MatrixCoord) MatrixCoord {
	return MatrixCoord{Row: c.Row + o.Row, Column: c.Column + o.Column}
}

// Mul returns the element-wise product of two coordinates. It is used to turn
// a tile index into an element offset.
func (c MatrixCoord) Mul(o MatrixCoord) MatrixCoord {
	return MatrixCoord{Row: c.Row * o.Row, Column: c.Column * o.Column}
}

// Count returns Row*Column.
func (c MatrixCoord) Count() int {
	return c.Row * c.Column
}

func (c MatrixCoord) String() string {
	return fmt.Sprintf("(%d,%d)", c.Row, c.Column)
}

// GemmCoord is an (M, N, K) triple. It is used for problem shapes, for the
// actual (possibly ragged) shape of a block, and for block tile coordinates,
// in which case K is always zero.
type GemmCoord struct {
	M int
	N int
	K int
}

// MN drops K.
func (c GemmCoord) MN() MatrixCoord { return MatrixCoord{Row: c.M, Column: c.N} }

// MK returns the shape of the A operand.
func (c GemmCoord) MK() MatrixCoord { return MatrixCoord{Row: c.M, Column: c.K} }

// KN returns the shape of the B operand.
func (c GemmCoord) KN() MatrixCoord { return MatrixCoord{Row: c.K, Column: c.N} }

// maxElementBytes is the widest element any operand or the output uses.
const maxElementBytes = 4

// Validate reports whether every dimension is positive and every operand,
// at the widest element size, has a byte count that fits in an int.
func (c GemmCoord) Validate() error {
	if c.M <= 0 || c.N <= 0 || c.K <= 0 {
		return fmt.Errorf("problem shape %s: all dimensions must be positive", c)
	}
	for _, op := range []MatrixCoord{c.MK(), c.KN(), c.MN()} {
		if !fitsInt(op.Row, op.Column, maxElementBytes) {
			return fmt.Errorf("problem shape %s: %s operand overflows the address space", c, op)
		}
	}
	return nil
}

// fitsInt reports whether the product of positive factors fits in an int.
func fitsInt(factors ...int) bool {
	p := 1
	for _, f := range factors {
		if f > math.MaxInt/p {
			return false
		}
		p *= f
	}
	return true
}

func (c GemmCoord) String() string {
	return fmt.Sprintf("%dx%dx%d", c.M, c.N, c.K)
}

// GemmShape is a fixed tile shape. Tile shapes never change after a kernel
// variant is constructed.
type GemmShape struct {
	M int
	N int
	K int
}

func (s GemmShape) MN() MatrixCoord { return MatrixCoord{Row: s.M, Column: s.N} }
func (s GemmShape) MK() MatrixCoord { return MatrixCoord{Row: s.M, Column: s.K} }
func (s GemmShape) KN() MatrixCoord { return MatrixCoord{Row: s.K, Column: s.N} }

func (s GemmShape) String() string {
	return fmt.Sprintf("%dx%dx%d", s.M, s.N, s.K)
}

// CeilDiv returns ceil(a/b) for positive b.
func CeilDiv(a, b int) int {
	return (a + b - 1) / b
}

// RoundUp rounds a up to a multiple of align.
func RoundUp(a, align int) int {
	return CeilDiv(a, align) * align
}
