package tensor

import "fmt"

// Int8MatMul computes the exact int32 product of a (M×K) and b (K×N) into a
// row-major M×N slice.
func Int8MatMul(a, b *Int8Mat) ([]int32, error) {
	if a.C != b.R {
		return nil, fmt.Errorf("matmul: inner dimension mismatch %d vs %d", a.C, b.R)
	}
	m, k, n := a.R, a.C, b.C
	out := make([]int32, m*n)
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			var sum int32
			for kk := 0; kk < k; kk++ {
				sum += int32(a.At(i, kk)) * int32(b.At(kk, j))
			}
			out[i*n+j] = sum
		}
	}
	return out, nil
}

// QuantMatmulRef computes bf16(float32(A·B) * scale[j] * perTokenScale[i])
// with float32 intermediates applied in the same order as the kernel
// epilogue, so results are bit-identical to a correct kernel run.
func QuantMatmulRef(a, b *Int8Mat, scale, perTokenScale []BFloat16) ([]BFloat16, error) {
	if len(scale) != b.C {
		return nil, fmt.Errorf("matmul: scale length %d, want %d", len(scale), b.C)
	}
	if len(perTokenScale) != a.R {
		return nil, fmt.Errorf("matmul: per-token scale length %d, want %d", len(perTokenScale), a.R)
	}
	acc, err := Int8MatMul(a, b)
	if err != nil {
		return nil, err
	}
	m, n := a.R, b.C
	out := make([]BFloat16, m*n)
	for i := 0; i < m; i++ {
		rowScale := perTokenScale[i].Float32()
		for j := 0; j < n; j++ {
			v := float32(acc[i*n+j]) * scale[j].Float32()
			out[i*n+j] = BF16FromFloat32(v * rowScale)
		}
	}
	return out, nil
}

// QuantMatmulGolden computes the float64 golden value of the dequantised
// product, applying the per-token scale first and the column scale second.
// It is not rounded to bf16.
func QuantMatmulGolden(a, b *Int8Mat, scale, perTokenScale []BFloat16) ([]float64, error) {
	acc, err := Int8MatMul(a, b)
	if err != nil {
		return nil, err
	}
	if len(scale) != b.C || len(perTokenScale) != a.R {
		return nil, fmt.Errorf("matmul: scale vectors do not match %dx%d", a.R, b.C)
	}
	m, n := a.R, b.C
	out := make([]float64, m*n)
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			v := float64(acc[i*n+j]) * float64(perTokenScale[i].Float32())
			out[i*n+j] = v * float64(scale[j].Float32())
		}
	}
	return out, nil
}
