package gemm

// Mmad is the cube primitive: c[i][j] (+)= sum_k a[i][k] * b[j][k] for an
// m×n output over k, with K-contiguous operands. When init is true the
// accumulator is overwritten instead of accumulated. Integer overflow wraps,
// so the result does not depend on the order K chunks are fed in.
func Mmad(c []int32, a, b []int8, m, n, k, lda, ldb, ldc int, init bool) {
	for i := 0; i < m; i++ {
		aRow := a[i*lda : i*lda+k]
		cRow := c[i*ldc : i*ldc+n]
		for j := 0; j < n; j++ {
			bRow := b[j*ldb : j*ldb+k]
			bRow = bRow[:len(aRow)]

			var s0, s1, s2, s3 int32
			kk := 0
			for ; kk+3 < len(aRow); kk += 4 {
				s0 += int32(aRow[kk+0]) * int32(bRow[kk+0])
				s1 += int32(aRow[kk+1]) * int32(bRow[kk+1])
				s2 += int32(aRow[kk+2]) * int32(bRow[kk+2])
				s3 += int32(aRow[kk+3]) * int32(bRow[kk+3])
			}
			for ; kk < len(aRow); kk++ {
				s0 += int32(aRow[kk]) * int32(bRow[kk])
			}
			sum := s0 + s1 + s2 + s3
			if init {
				cRow[j] = sum
			} else {
				cRow[j] += sum
			}
		}
	}
}
