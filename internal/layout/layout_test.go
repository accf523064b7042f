package layout

import (
	"math"
	"testing"
)

func TestRowMajorOffset(t *testing.T) {
	l := NewRowMajor(4, 6)
	if got := l.Offset(MatrixCoord{Row: 2, Column: 3}); got != 15 {
		t.Fatalf("offset: got %d want 15", got)
	}
	if got := l.Span(); got != 24 {
		t.Fatalf("span: got %d want 24", got)
	}

	tile := l.Tile(MatrixCoord{Row: 2, Column: 2})
	if tile.Stride() != 6 {
		t.Fatalf("tile stride: got %d want 6", tile.Stride())
	}
	if got := tile.Span(); got != 8 {
		t.Fatalf("tile span: got %d want 8", got)
	}
}

func TestColumnMajorOffset(t *testing.T) {
	l := NewColumnMajor(5, 3)
	if got := l.Offset(MatrixCoord{Row: 4, Column: 2}); got != 14 {
		t.Fatalf("offset: got %d want 14", got)
	}
	if got := l.Span(); got != 15 {
		t.Fatalf("span: got %d want 15", got)
	}
}

func TestStridedLayoutsRejectShortStride(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for stride below column count")
		}
	}()
	_ = NewRowMajorStride(2, 8, 4)
}

func TestVectorLayout(t *testing.T) {
	v := NewVectorLayout(7)
	if v.Len() != 7 || v.OffsetOf(3) != 3 || v.Span() != 7 {
		t.Fatalf("unexpected vector layout %v", v)
	}
	if NewVectorLayout(0).Span() != 0 {
		t.Fatal("empty vector should have zero span")
	}
}

func TestGemmCoordValidate(t *testing.T) {
	cases := []struct {
		shape GemmCoord
		ok    bool
	}{
		{GemmCoord{M: 1, N: 1, K: 1}, true},
		{GemmCoord{M: 128, N: 256, K: 512}, true},
		{GemmCoord{M: 0, N: 1, K: 1}, false},
		{GemmCoord{M: 1, N: -1, K: 1}, false},
		{GemmCoord{M: 1, N: 1, K: 0}, false},
		{GemmCoord{M: 1 << 62, N: 2, K: 2}, false},
		{GemmCoord{M: 2, N: math.MaxInt / 2, K: 1}, false},
		{GemmCoord{M: 1, N: 1 << 20, K: math.MaxInt / 4}, false},
		{GemmCoord{M: 1 << 20, N: 1 << 20, K: 1 << 20}, true},
	}
	for _, tc := range cases {
		err := tc.shape.Validate()
		if (err == nil) != tc.ok {
			t.Fatalf("%s: validate err=%v, want ok=%v", tc.shape, err, tc.ok)
		}
	}
}

func TestCeilDiv(t *testing.T) {
	if CeilDiv(10, 3) != 4 || CeilDiv(9, 3) != 3 || CeilDiv(1, 128) != 1 {
		t.Fatal("CeilDiv mismatch")
	}
	if RoundUp(33, 32) != 64 {
		t.Fatal("RoundUp mismatch")
	}
}
