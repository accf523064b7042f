package gemm

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"

	"github.com/samcharles93/qmatmul/internal/arch"
	"github.com/samcharles93/qmatmul/internal/layout"
)

// testRNG returns a seeded random number generator for reproducible tests.
func testRNG() *rand.Rand {
	return rand.New(rand.NewSource(7))
}

func randInt8(rng *rand.Rand, n int) []int8 {
	out := make([]int8, n)
	for i := range out {
		out[i] = int8(rng.Intn(256) - 128)
	}
	return out
}

// referenceTile computes the int32 product of the tile at coord for a
// row-major A (M×K) and column-major B (K×N).
func referenceTile(a, b []int8, problem layout.GemmCoord, origin, extent layout.MatrixCoord) []int32 {
	out := make([]int32, extent.Count())
	for i := 0; i < extent.Row; i++ {
		for j := 0; j < extent.Column; j++ {
			var sum int32
			row, col := origin.Row+i, origin.Column+j
			for k := 0; k < problem.K; k++ {
				sum += int32(a[row*problem.K+k]) * int32(b[col*problem.K+k])
			}
			out[i*extent.Column+j] = sum
		}
	}
	return out
}

func TestMmadMatchesScalar(t *testing.T) {
	rng := testRNG()
	m, n, k := 5, 7, 37
	a := randInt8(rng, m*k)
	b := randInt8(rng, n*k)
	c := make([]int32, m*n)
	Mmad(c, a, b, m, n, k, k, k, n, true)
	Mmad(c, a, b, m, n, k, k, k, n, false)
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			var want int32
			for kk := 0; kk < k; kk++ {
				want += int32(a[i*k+kk]) * int32(b[j*k+kk])
			}
			if c[i*n+j] != 2*want {
				t.Fatalf("c[%d][%d]: got %d want %d", i, j, c[i*n+j], 2*want)
			}
		}
	}
}

func TestPolicyValidateCapacity(t *testing.T) {
	if err := DefaultMmadPolicy().Validate(L1TileShape, L0TileShape); err != nil {
		t.Fatalf("default policy must fit: %v", err)
	}

	plan := DefaultMmadPolicy().Plan(L1TileShape, L0TileShape)
	if plan.L0C != arch.L0CSize || plan.L0B != arch.L0BSize {
		t.Fatalf("unexpected default plan %+v", plan)
	}

	cases := []func(p *MmadAtlasA2PreloadAsyncWithCallback){
		func(p *MmadAtlasA2PreloadAsyncWithCallback) { p.L1Stages = 3 },
		func(p *MmadAtlasA2PreloadAsyncWithCallback) { p.L0AStages = 5 },
		func(p *MmadAtlasA2PreloadAsyncWithCallback) { p.L0BStages = 3 },
		func(p *MmadAtlasA2PreloadAsyncWithCallback) { p.L0CStages = 2 },
	}
	for i, mutate := range cases {
		p := DefaultMmadPolicy()
		mutate(&p)
		if err := p.Validate(L1TileShape, L0TileShape); !errors.Is(err, arch.ErrLocalMemoryExhausted) {
			t.Fatalf("case %d: expected ErrLocalMemoryExhausted, got %v", i, err)
		}
	}

	bad := DefaultMmadPolicy()
	bad.L1Stages = 0
	if err := bad.Validate(L1TileShape, L0TileShape); err == nil {
		t.Fatal("expected error for zero stages")
	}
	if err := DefaultMmadPolicy().Validate(L1TileShape, layout.GemmShape{M: 128, N: 256, K: 96}); err == nil {
		t.Fatal("expected error for L0 K that does not divide L1 K")
	}
}

func TestNewBlockMmadRejectsOversizedRings(t *testing.T) {
	p := DefaultMmadPolicy()
	p.L0CStages = 2
	if _, err := NewBlockMmad(p, L1TileShape, L0TileShape, 0, Operand{}, Operand{}); !errors.Is(err, arch.ErrLocalMemoryExhausted) {
		t.Fatalf("expected ErrLocalMemoryExhausted, got %v", err)
	}
}

func runBlockMmad(t *testing.T, policy MmadAtlasA2PreloadAsyncWithCallback, l1, l0 layout.GemmShape,
	problem layout.GemmCoord, blockIdx int) {
	t.Helper()
	rng := testRNG()
	a := randInt8(rng, problem.M*problem.K)
	b := randInt8(rng, problem.K*problem.N)

	bm, err := NewBlockMmad(policy, l1, l0, blockIdx,
		Operand{Tensor: arch.GlobalTensorOf(a), Layout: layout.NewRowMajor(problem.M, problem.K)},
		Operand{Tensor: arch.GlobalTensorOf(b), Layout: layout.NewColumnMajor(problem.K, problem.N)})
	if err != nil {
		t.Fatal(err)
	}
	bm.Start(context.Background())

	sched := NewIdentityBlockSwizzle[SwizzleNz](problem, l1.MN(), DefaultSwizzleOffset)
	tileLayout := layout.NewRowMajor(l1.M, l1.N)
	outputs := make([][]int32, sched.CoreLoops())

	var mu sync.Mutex
	var order []int
	for task := 0; task < sched.CoreLoops(); task++ {
		coord := sched.BlockCoord(task)
		outputs[task] = make([]int32, l1.M*l1.N)
		req := &MmadRequest{
			BlockCoord:  coord,
			ActualShape: sched.ActualBlockShape(coord),
			Dst:         arch.GlobalTensorOf(outputs[task]),
			DstLayout:   tileLayout,
			Callback: func() {
				mu.Lock()
				order = append(order, task)
				mu.Unlock()
			},
		}
		if err := bm.Issue(req); err != nil {
			t.Fatal(err)
		}
	}
	if err := bm.Close(); err != nil {
		t.Fatal(err)
	}

	for i, task := range order {
		if i != task {
			t.Fatalf("callbacks out of issue order: %v", order)
		}
	}
	if len(order) != sched.CoreLoops() {
		t.Fatalf("callbacks: got %d want %d", len(order), sched.CoreLoops())
	}

	for task := 0; task < sched.CoreLoops(); task++ {
		coord := sched.BlockCoord(task)
		actual := sched.ActualBlockShape(coord)
		origin := layout.MatrixCoord{Row: coord.M * l1.M, Column: coord.N * l1.N}
		want := referenceTile(a, b, problem, origin, actual.MN())
		for i := 0; i < actual.M; i++ {
			for j := 0; j < actual.N; j++ {
				got := outputs[task][tileLayout.Offset(layout.MatrixCoord{Row: i, Column: j})]
				if got != want[i*actual.N+j] {
					t.Fatalf("tile %v element (%d,%d): got %d want %d", coord, i, j, got, want[i*actual.N+j])
				}
			}
		}
	}
}

func TestBlockMmadSmallTilesRagged(t *testing.T) {
	l1 := layout.GemmShape{M: 16, N: 32, K: 64}
	l0 := layout.GemmShape{M: 16, N: 32, K: 32}
	for _, problem := range []layout.GemmCoord{
		{M: 16, N: 32, K: 64},
		{M: 37, N: 70, K: 150},
		{M: 3, N: 5, K: 7},
	} {
		for _, blockIdx := range []int{0, 1, 2} {
			runBlockMmad(t, DefaultMmadPolicy(), l1, l0, problem, blockIdx)
		}
	}
}

func TestBlockMmadWithoutShuffleOrPreload(t *testing.T) {
	p := DefaultMmadPolicy()
	p.EnableShuffleK = false
	p.PreloadStages = 0
	p.L1Stages = 1
	p.L0AStages = 1
	p.L0BStages = 1
	runBlockMmad(t, p, layout.GemmShape{M: 16, N: 32, K: 64}, layout.GemmShape{M: 16, N: 32, K: 32},
		layout.GemmCoord{M: 40, N: 40, K: 200}, 5)
}

func TestBlockMmadDefaultTiles(t *testing.T) {
	runBlockMmad(t, DefaultMmadPolicy(), L1TileShape, L0TileShape, layout.GemmCoord{M: 130, N: 260, K: 600}, 1)
}

func TestKStartShuffle(t *testing.T) {
	bm := &BlockMmad{policy: DefaultMmadPolicy(), blockIdx: 7}
	if got := bm.kStart(3); got != 1 {
		t.Fatalf("shuffled start: got %d want 1", got)
	}
	bm.policy.EnableShuffleK = false
	if got := bm.kStart(3); got != 0 {
		t.Fatalf("unshuffled start: got %d want 0", got)
	}
}

func TestBlockMmadPipeFailureSurfaces(t *testing.T) {
	problem := layout.GemmCoord{M: 16, N: 32, K: 64}
	l1 := layout.GemmShape{M: 16, N: 32, K: 64}
	l0 := layout.GemmShape{M: 16, N: 32, K: 32}
	a := make([]int8, problem.M*problem.K)
	b := make([]int8, problem.K*problem.N)
	bm, err := NewBlockMmad(DefaultMmadPolicy(), l1, l0, 0,
		Operand{Tensor: arch.GlobalTensorOf(a), Layout: layout.NewRowMajor(problem.M, problem.K)},
		Operand{Tensor: arch.GlobalTensorOf(b), Layout: layout.NewColumnMajor(problem.K, problem.N)})
	if err != nil {
		t.Fatal(err)
	}
	bm.Start(context.Background())
	// Workspace too small for the tile: the fixpipe must fail the block.
	err = bm.Issue(&MmadRequest{
		ActualShape: problem,
		Dst:         arch.GlobalTensorOf(make([]int32, 8)),
		DstLayout:   layout.NewRowMajor(l1.M, l1.N),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := bm.Close(); err == nil {
		t.Fatal("expected fixpipe error")
	}
}
