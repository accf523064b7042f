package epilogue

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/samcharles93/qmatmul/internal/arch"
	"github.com/samcharles93/qmatmul/internal/layout"
	"github.com/samcharles93/qmatmul/internal/tensor"
)

func TestTileOps(t *testing.T) {
	src := []float32{1, 2, 3, 0, 4, 5, 6, 0}
	dst := make([]float32, len(src))
	RowBroadcastMul(dst, src, []float32{10, 100, 1000}, 2, 3, 4)
	if diff := cmp.Diff([]float32{10, 200, 3000, 0, 40, 500, 6000, 0}, dst); diff != "" {
		t.Fatalf("RowBroadcastMul (-want +got):\n%s", diff)
	}

	brcb := make([]float32, 2*BlockLanes)
	BroadcastOneBlk(brcb, []float32{2, 0.5}, 2)
	for l := 0; l < BlockLanes; l++ {
		if brcb[l] != 2 || brcb[BlockLanes+l] != 0.5 {
			t.Fatalf("BroadcastOneBlk lane %d: %v", l, brcb)
		}
	}

	out := make([]float32, len(src))
	OneBlkColumnBroadcastMul(out, src, brcb, 2, 3, 4)
	if diff := cmp.Diff([]float32{2, 4, 6, 0, 2, 2.5, 3, 0}, out); diff != "" {
		t.Fatalf("OneBlkColumnBroadcastMul (-want +got):\n%s", diff)
	}

	f := make([]float32, 3)
	CastInt32ToFloat32(f, []int32{-3, 0, 1 << 20}, 3)
	if diff := cmp.Diff([]float32{-3, 0, 1 << 20}, f); diff != "" {
		t.Fatalf("CastInt32ToFloat32 (-want +got):\n%s", diff)
	}
	b := make([]tensor.BFloat16, 2)
	CastFloat32ToBF16(b, []float32{1.5, -2}, 2)
	if b[0] != 0x3FC0 || b[1] != 0xC000 {
		t.Fatalf("CastFloat32ToBF16: %#x %#x", b[0], b[1])
	}
	CastBF16ToFloat32(f, b, 2)
	if f[0] != 1.5 || f[1] != -2 {
		t.Fatalf("CastBF16ToFloat32: %v", f)
	}
}

func TestHorizontalTileSwizzle(t *testing.T) {
	s := NewEpilogueHorizontalTileSwizzle(layout.MatrixCoord{Row: 70, Column: 300}, TileShape)
	if got := s.Loops(); got != (layout.MatrixCoord{Row: 3, Column: 2}) {
		t.Fatalf("loops: %v", got)
	}
	var coords []layout.MatrixCoord
	total := 0
	for i := 0; i < s.LoopCount(); i++ {
		c := s.TileCoord(i)
		coords = append(coords, c)
		total += s.ActualTileShape(c).Count()
	}
	want := []layout.MatrixCoord{
		{Row: 0, Column: 0}, {Row: 0, Column: 1},
		{Row: 1, Column: 0}, {Row: 1, Column: 1},
		{Row: 2, Column: 0}, {Row: 2, Column: 1},
	}
	if diff := cmp.Diff(want, coords); diff != "" {
		t.Fatalf("tile order (-want +got):\n%s", diff)
	}
	if total != 70*300 {
		t.Fatalf("tiles cover %d elements, want %d", total, 70*300)
	}
	if got := s.ActualTileShape(layout.MatrixCoord{Row: 2, Column: 1}); got != (layout.MatrixCoord{Row: 6, Column: 44}) {
		t.Fatalf("edge tile: %v", got)
	}
}

func TestPolicyUBBudget(t *testing.T) {
	p := DefaultEpiloguePolicy()
	if err := p.Validate(TileShape); err != nil {
		t.Fatalf("default policy must fit: %v", err)
	}
	plan := p.Plan(TileShape)
	if plan.PerStage != 32768+16384+512+64 || plan.Shared != 2*32768+1024+128+1024 {
		t.Fatalf("unexpected plan %+v", plan)
	}
	p.UBStages = 3
	if err := p.Validate(TileShape); !errors.Is(err, arch.ErrLocalMemoryExhausted) {
		t.Fatalf("expected ErrLocalMemoryExhausted, got %v", err)
	}
	if _, err := NewBlockEpilogue(p, TileShape, 0, 2, Params{}); !errors.Is(err, arch.ErrLocalMemoryExhausted) {
		t.Fatalf("expected ErrLocalMemoryExhausted from constructor, got %v", err)
	}
	if _, err := NewBlockEpilogue(DefaultEpiloguePolicy(), TileShape, 2, 2, Params{}); err == nil {
		t.Fatal("expected error for out-of-range sub-block")
	}
}

func TestSubBlockRows(t *testing.T) {
	block := layout.MatrixCoord{Row: 128, Column: 256}
	cases := []struct {
		sub, actualRows     int
		wantStart, wantRows int
	}{
		{0, 128, 0, 64},
		{1, 128, 64, 64},
		{0, 70, 0, 64},
		{1, 70, 64, 6},
		{0, 2, 0, 2},
		{1, 2, 64, 0},
	}
	for _, tc := range cases {
		be, err := NewBlockEpilogue(DefaultEpiloguePolicy(), TileShape, tc.sub, 2, Params{})
		if err != nil {
			t.Fatal(err)
		}
		start, rows := be.SubBlockRows(block, layout.MatrixCoord{Row: tc.actualRows, Column: 256})
		if start != tc.wantStart || rows != tc.wantRows {
			t.Fatalf("sub %d actual %d: got (%d,%d) want (%d,%d)",
				tc.sub, tc.actualRows, start, rows, tc.wantStart, tc.wantRows)
		}
	}
}

func randBF16(rng *rand.Rand, n int) []tensor.BFloat16 {
	out := make([]tensor.BFloat16, n)
	for i := range out {
		out[i] = tensor.BF16FromFloat32(rng.Float32()*2 - 0.5)
	}
	return out
}

// TestBlockEpilogueDequantisesBlocks runs both sub-blocks over every block
// of a ragged output and checks each element bit for bit.
func TestBlockEpilogueDequantisesBlocks(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	m, n := 200, 300
	block := layout.MatrixCoord{Row: 128, Column: 256}
	acc := make([]int32, m*n)
	for i := range acc {
		acc[i] = int32(rng.Intn(1<<20) - 1<<19)
	}
	scale := randBF16(rng, n)
	perToken := randBF16(rng, m)
	d := make([]tensor.BFloat16, m*n)

	params := Params{
		Scale:               arch.GlobalTensorOf(scale),
		LayoutScale:         layout.NewVectorLayout(n),
		PerTokenScale:       arch.GlobalTensorOf(perToken),
		LayoutPerTokenScale: layout.NewVectorLayout(m),
		D:                   arch.GlobalTensorOf(d),
		LayoutD:             layout.NewRowMajor(m, n),
	}

	writeBacks := make([]int, arch.AIVPerAIC)
	for sub := 0; sub < arch.AIVPerAIC; sub++ {
		be, err := NewBlockEpilogue(DefaultEpiloguePolicy(), TileShape, sub, arch.AIVPerAIC, params)
		if err != nil {
			t.Fatal(err)
		}
		be.OnWriteBack = func() { writeBacks[sub]++ }

		for br := 0; br < layout.CeilDiv(m, block.Row); br++ {
			for bc := 0; bc < layout.CeilDiv(n, block.Column); bc++ {
				coord := layout.MatrixCoord{Row: br, Column: bc}
				origin := coord.Mul(block)
				actual := layout.MatrixCoord{Row: min(block.Row, m-origin.Row), Column: min(block.Column, n-origin.Column)}

				// Stage the block in a workspace slot the way the fixpipe does.
				ws := make([]int32, block.Count())
				wsLayout := layout.NewRowMajor(block.Row, block.Column)
				for i := 0; i < actual.Row; i++ {
					for j := 0; j < actual.Column; j++ {
						ws[wsLayout.Offset(layout.MatrixCoord{Row: i, Column: j})] = acc[(origin.Row+i)*n+origin.Column+j]
					}
				}
				if err := be.Run(context.Background(), block, coord, actual, arch.GlobalTensorOf(ws), wsLayout); err != nil {
					t.Fatal(err)
				}
			}
		}
	}

	// The 72-row bottom blocks still leave 8 rows to sub-block 1.
	if diff := cmp.Diff([]int{4, 4}, writeBacks); diff != "" {
		t.Fatalf("write-backs per sub-block (-want +got):\n%s", diff)
	}

	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			v := float32(acc[i*n+j]) * scale[j].Float32()
			want := tensor.BF16FromFloat32(v * perToken[i].Float32())
			if got := d[i*n+j]; got != want {
				t.Fatalf("d[%d][%d]: got %#x want %#x", i, j, got, want)
			}
		}
	}
}

func TestBlockEpilogueRejectsShortWorkspace(t *testing.T) {
	d := make([]tensor.BFloat16, 4)
	params := Params{
		Scale:               arch.GlobalTensorOf(make([]tensor.BFloat16, 2)),
		LayoutScale:         layout.NewVectorLayout(2),
		PerTokenScale:       arch.GlobalTensorOf(make([]tensor.BFloat16, 2)),
		LayoutPerTokenScale: layout.NewVectorLayout(2),
		D:                   arch.GlobalTensorOf(d),
		LayoutD:             layout.NewRowMajor(2, 2),
	}
	be, err := NewBlockEpilogue(DefaultEpiloguePolicy(), TileShape, 0, 2, params)
	if err != nil {
		t.Fatal(err)
	}
	err = be.Run(context.Background(), layout.MatrixCoord{Row: 128, Column: 256}, layout.MatrixCoord{},
		layout.MatrixCoord{Row: 2, Column: 2}, arch.GlobalTensorOf(make([]int32, 3)), layout.NewRowMajor(128, 256))
	if err == nil {
		t.Fatal("expected workspace bounds error")
	}
}
