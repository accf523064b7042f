package epilogue

import (
	"github.com/samcharles93/qmatmul/internal/arch"
	"github.com/samcharles93/qmatmul/internal/layout"
)

// CopyGmToUb copies an extent-sized sub-matrix of src starting at origin
// into a UB tile with row stride ld.
func CopyGmToUb[T arch.Element](dst []T, ld int, src arch.GlobalTensor[T], srcLayout layout.RowMajor,
	origin, extent layout.MatrixCoord) {
	data := src.Data()
	for r := 0; r < extent.Row; r++ {
		off := srcLayout.Offset(layout.MatrixCoord{Row: origin.Row + r, Column: origin.Column})
		copy(dst[r*ld:r*ld+extent.Column], data[off:off+extent.Column])
	}
}

// CopyUbToGm writes an extent-sized UB tile (row stride ld) to dst at origin.
func CopyUbToGm[T arch.Element](dst arch.GlobalTensor[T], dstLayout layout.RowMajor, origin layout.MatrixCoord,
	src []T, ld int, extent layout.MatrixCoord) {
	data := dst.Data()
	for r := 0; r < extent.Row; r++ {
		off := dstLayout.Offset(layout.MatrixCoord{Row: origin.Row + r, Column: origin.Column})
		copy(data[off:off+extent.Column], src[r*ld:r*ld+extent.Column])
	}
}

// CopyGmToUbVector copies n elements of a vector starting at element idx.
func CopyGmToUbVector[T arch.Element](dst []T, src arch.GlobalTensor[T], srcLayout layout.VectorLayout, idx, n int) {
	data := src.Data()
	for i := 0; i < n; i++ {
		dst[i] = data[srcLayout.OffsetOf(idx+i)]
	}
}
