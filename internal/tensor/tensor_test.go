package tensor

import (
	"math"
	"testing"
)

func TestBF16FromFloat32Rounding(t *testing.T) {
	cases := []struct {
		in   float32
		want BFloat16
	}{
		{0, 0x0000},
		{1, 0x3F80},
		{-2, 0xC000},
		{0.5, 0x3F00},
		// 1 + 2^-8 is exactly halfway between 1 and 1+2^-7: ties to even.
		{1 + 1.0/256, 0x3F80},
		// 1 + 3*2^-8 is halfway between 1+2^-7 and 1+2^-6: ties to even rounds up.
		{1 + 3.0/256, 0x3F82},
		{float32(math.Inf(1)), 0x7F80},
	}
	for _, tc := range cases {
		if got := BF16FromFloat32(tc.in); got != tc.want {
			t.Fatalf("BF16FromFloat32(%v): got %#04x want %#04x", tc.in, uint16(got), uint16(tc.want))
		}
	}
}

func TestBF16NaNStaysNaN(t *testing.T) {
	nan := float32(math.NaN())
	if got := BF16FromFloat32(nan).Float32(); !math.IsNaN(float64(got)) {
		t.Fatalf("expected NaN, got %v", got)
	}
	// Largest-mantissa NaN must not round into Inf.
	odd := math.Float32frombits(0x7FFFFFFF)
	if got := BF16FromFloat32(odd).Float32(); !math.IsNaN(float64(got)) {
		t.Fatalf("expected NaN, got %v", got)
	}
}

func TestBF16RoundTripExact(t *testing.T) {
	for _, v := range []float32{0.25, 3.25, -6.5, 1024, 0.0078125} {
		if got := BF16FromFloat32(v).Float32(); got != v {
			t.Fatalf("round trip %v: got %v", v, got)
		}
	}
}

func TestTransposedViewSharesData(t *testing.T) {
	nk := NewInt8Mat(3, 5)
	FillRandInt8(&nk, 1, -16, 16)
	kn := nk.Transposed()
	if !kn.ColMajor || kn.R != 5 || kn.C != 3 {
		t.Fatalf("unexpected transposed view %+v", kn)
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 5; j++ {
			if nk.At(i, j) != kn.At(j, i) {
				t.Fatalf("element (%d,%d) mismatch", i, j)
			}
		}
	}
}

func TestQuantMatmulRefWorkedExample(t *testing.T) {
	a, err := NewInt8MatFromData(2, 2, []int8{1, 2, 3, 4})
	if err != nil {
		t.Fatal(err)
	}
	// B is built as a (N, K) row-major tensor and viewed transposed.
	bPre, err := NewInt8MatFromData(2, 2, []int8{10, -1, 0, 1})
	if err != nil {
		t.Fatal(err)
	}
	b := bPre.Transposed()

	scale := BF16Slice([]float32{0.5, 1.0})
	perToken := BF16Slice([]float32{1.0, 0.25})

	got, err := QuantMatmulRef(&a, &b, scale, perToken)
	if err != nil {
		t.Fatal(err)
	}
	want := []float32{4, 2, 3.25, 1}
	for i, w := range want {
		if got[i].Float32() != w {
			t.Fatalf("element %d: got %v want %v", i, got[i].Float32(), w)
		}
	}

	golden, err := QuantMatmulGolden(&a, &b, scale, perToken)
	if err != nil {
		t.Fatal(err)
	}
	if res := VerifyBF16(got, golden, BF16Tolerance()); !res.Ok() {
		t.Fatal(res)
	}
}

func TestVerifyBF16ReportsFirstError(t *testing.T) {
	got := BF16Slice([]float32{1, 2, 3})
	res := VerifyBF16(got, []float64{1, 2.5, 3}, BF16Tolerance())
	if res.Ok() || res.NumErrors != 1 || res.FirstError != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if res := VerifyBF16(got[:2], []float64{1, 2, 3}, BF16Tolerance()); res.Ok() {
		t.Fatal("length mismatch must fail")
	}
}

func TestInt8MatMulDimensionMismatch(t *testing.T) {
	a := NewInt8Mat(2, 3)
	b := NewInt8Mat(4, 2)
	if _, err := Int8MatMul(&a, &b); err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}
