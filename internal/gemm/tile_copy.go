package gemm

import (
	"github.com/samcharles93/qmatmul/internal/arch"
	"github.com/samcharles93/qmatmul/internal/layout"
)

// On-chip operand tiles are stored K-contiguous: an A tile is rows×k with
// row stride ld, and a B tile is cols×k with column stride ld. Elements
// between the actual K extent and the padded extent are zeroed so the cube
// can always consume whole C0 groups.

// CopyGmToL1A copies the A sub-matrix starting at origin (row, k) with the
// given actual extent into dst, padding K with zeros up to kPad.
func CopyGmToL1A(dst []int8, ld int, src arch.GlobalTensor[int8], srcLayout layout.Matrix,
	origin, extent layout.MatrixCoord, kPad int) {
	data := src.Data()
	if rm, ok := srcLayout.(layout.RowMajor); ok {
		for r := 0; r < extent.Row; r++ {
			off := rm.Offset(layout.MatrixCoord{Row: origin.Row + r, Column: origin.Column})
			row := dst[r*ld : r*ld+kPad]
			copy(row, data[off:off+extent.Column])
			clear(row[extent.Column:])
		}
		return
	}
	for r := 0; r < extent.Row; r++ {
		row := dst[r*ld : r*ld+kPad]
		for k := 0; k < extent.Column; k++ {
			row[k] = data[srcLayout.Offset(layout.MatrixCoord{Row: origin.Row + r, Column: origin.Column + k})]
		}
		clear(row[extent.Column:])
	}
}

// CopyGmToL1B copies the B sub-matrix starting at origin (k, col) with the
// given actual extent (k, cols) into dst stored column by column, padding K
// with zeros up to kPad.
func CopyGmToL1B(dst []int8, ld int, src arch.GlobalTensor[int8], srcLayout layout.Matrix,
	origin, extent layout.MatrixCoord, kPad int) {
	data := src.Data()
	if cm, ok := srcLayout.(layout.ColumnMajor); ok {
		for c := 0; c < extent.Column; c++ {
			off := cm.Offset(layout.MatrixCoord{Row: origin.Row, Column: origin.Column + c})
			col := dst[c*ld : c*ld+kPad]
			copy(col, data[off:off+extent.Row])
			clear(col[extent.Row:])
		}
		return
	}
	for c := 0; c < extent.Column; c++ {
		col := dst[c*ld : c*ld+kPad]
		for k := 0; k < extent.Row; k++ {
			col[k] = data[srcLayout.Offset(layout.MatrixCoord{Row: origin.Row + k, Column: origin.Column + c})]
		}
		clear(col[extent.Row:])
	}
}

// CopyL1ToL0 moves the K window [kOff, kOff+kLen) of `rows` K-contiguous
// rows from an L1 tile (stride srcLd) into an L0 tile (stride dstLd).
func CopyL1ToL0(dst []int8, dstLd int, src []int8, srcLd int, rows, kOff, kLen int) {
	for r := 0; r < rows; r++ {
		copy(dst[r*dstLd:r*dstLd+kLen], src[r*srcLd+kOff:r*srcLd+kOff+kLen])
	}
}

// CopyL0CToGm writes an m×n int32 accumulator (stride srcLd) to global
// memory through dstLayout.
func CopyL0CToGm(dst arch.GlobalTensor[int32], dstLayout layout.RowMajor, src []int32, srcLd int, extent layout.MatrixCoord) {
	data := dst.Data()
	for r := 0; r < extent.Row; r++ {
		off := dstLayout.Offset(layout.MatrixCoord{Row: r})
		copy(data[off:off+extent.Column], src[r*srcLd:r*srcLd+extent.Column])
	}
}
