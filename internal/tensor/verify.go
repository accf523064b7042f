package tensor

import (
	"fmt"
	"math"
)

// Tolerance bounds the accepted difference between an output and its golden
// value: |got - want| <= AbsTol + RelTol*|want|.
type Tolerance struct {
	AbsTol float64
	RelTol float64
}

// BF16Tolerance accepts one bf16 rounding step on each side of the golden
// value.
func BF16Tolerance() Tolerance {
	return Tolerance{AbsTol: 1e-6, RelTol: 1.0 / 128}
}

// VerificationResult summarises an element-wise comparison.
type VerificationResult struct {
	TotalItems  int
	NumErrors   int
	FirstError  int // -1 if none
	MaxAbsError float64
	MaxRelError float64
}

// Ok reports whether every element was within tolerance.
func (r VerificationResult) Ok() bool {
	return r.NumErrors == 0
}

func (r VerificationResult) String() string {
	if r.NumErrors == 0 {
		return fmt.Sprintf("PASS: %d values within tolerance (max abs %.3g, max rel %.3g)",
			r.TotalItems, r.MaxAbsError, r.MaxRelError)
	}
	return fmt.Sprintf("FAIL: %d/%d values differ, first at %d (max abs %.3g, max rel %.3g)",
		r.NumErrors, r.TotalItems, r.FirstError, r.MaxAbsError, r.MaxRelError)
}

// VerifyBF16 compares bf16 outputs against float64 golden values.
func VerifyBF16(got []BFloat16, want []float64, tol Tolerance) VerificationResult {
	res := VerificationResult{TotalItems: len(want), FirstError: -1}
	if len(got) != len(want) {
		res.NumErrors = len(want)
		res.FirstError = 0
		return res
	}
	for i := range want {
		g := float64(got[i].Float32())
		w := want[i]
		diff := math.Abs(g - w)
		if diff > res.MaxAbsError {
			res.MaxAbsError = diff
		}
		if w != 0 {
			if rel := diff / math.Abs(w); rel > res.MaxRelError {
				res.MaxRelError = rel
			}
		}
		if diff > tol.AbsTol+tol.RelTol*math.Abs(w) || math.IsNaN(g) != math.IsNaN(w) {
			res.NumErrors++
			if res.FirstError < 0 {
				res.FirstError = i
			}
		}
	}
	return res
}
