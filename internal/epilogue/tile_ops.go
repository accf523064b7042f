// Package epilogue implements the vector-side epilogue of the quantized
// matmul: per-channel and per-token dequantisation of the int32 accumulator
// tiles the cube leaves in the workspace, and the bf16 write-back.
package epilogue

import (
	"github.com/samcharles93/qmatmul/internal/arch"
	"github.com/samcharles93/qmatmul/internal/tensor"
)

// BlockLanes is the number of float32 lanes in one 32-byte UB block.
const BlockLanes = arch.BytesPerBlock / 4

// CastInt32ToFloat32 converts n accumulator values.
func CastInt32ToFloat32(dst []float32, src []int32, n int) {
	src = src[:n]
	dst = dst[:n]
	for i, v := range src {
		dst[i] = float32(v)
	}
}

// CastBF16ToFloat32 widens n bf16 values exactly.
func CastBF16ToFloat32(dst []float32, src []tensor.BFloat16, n int) {
	src = src[:n]
	dst = dst[:n]
	for i, v := range src {
		dst[i] = v.Float32()
	}
}

// CastFloat32ToBF16 narrows n values with round-to-nearest-even.
func CastFloat32ToBF16(dst []tensor.BFloat16, src []float32, n int) {
	src = src[:n]
	dst = dst[:n]
	for i, v := range src {
		dst[i] = tensor.BF16FromFloat32(v)
	}
}

// RowBroadcastMul multiplies every row of a rows×cols tile (row stride ld)
// by the row vector vec: dst[i][j] = src[i][j] * vec[j].
func RowBroadcastMul(dst, src, vec []float32, rows, cols, ld int) {
	vec = vec[:cols]
	for i := 0; i < rows; i++ {
		d := dst[i*ld : i*ld+cols]
		s := src[i*ld : i*ld+cols]
		for j, v := range vec {
			d[j] = s[j] * v
		}
	}
}

// BroadcastOneBlk expands each of the n scalars in src to a full block of
// BlockLanes identical lanes in dst.
func BroadcastOneBlk(dst, src []float32, n int) {
	for i, v := range src[:n] {
		blk := dst[i*BlockLanes : (i+1)*BlockLanes]
		for l := range blk {
			blk[l] = v
		}
	}
}

// OneBlkColumnBroadcastMul multiplies row i of a rows×cols tile by the
// per-row block brcb[i], lane by lane: dst[i][j] = src[i][j] * brcb[i][j%BlockLanes].
func OneBlkColumnBroadcastMul(dst, src, brcb []float32, rows, cols, ld int) {
	for i := 0; i < rows; i++ {
		blk := brcb[i*BlockLanes : (i+1)*BlockLanes]
		d := dst[i*ld : i*ld+cols]
		s := src[i*ld : i*ld+cols]
		for j := range d {
			d[j] = s[j] * blk[j%BlockLanes]
		}
	}
}
