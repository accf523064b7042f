package gemm

import "github.com/samcharles93/qmatmul/internal/layout"

// DefaultSwizzleOffset is the number of tile rows (or columns) grouped
// together by the block swizzle.
const DefaultSwizzleOffset = 3

// SwizzleDirection selects how the identity block swizzle walks the tile
// grid. Implementations are zero-size types so each direction gets its own
// instantiation of IdentityBlockSwizzle.
type SwizzleDirection interface {
	// Axis is 0 for SwizzleZn and 1 for SwizzleNz.
	Axis() int
	blockCoord(idx int, loops layout.MatrixCoord, offset int) layout.MatrixCoord
}

// SwizzleZn groups `offset` tile rows and walks each group column by column,
// reversing direction on every other group. Used when M > N.
type SwizzleZn struct{}

func (SwizzleZn) Axis() int { return 0 }

func (SwizzleZn) blockCoord(idx int, loops layout.MatrixCoord, offset int) layout.MatrixCoord {
	groups := layout.CeilDiv(loops.Row, offset)
	group := idx / (offset * loops.Column)
	inGroup := idx % (offset * loops.Column)

	rows := offset
	if group == groups-1 {
		rows = loops.Row - offset*group
	}
	m := group*offset + inGroup%rows
	n := inGroup / rows
	if group%2 == 1 {
		n = loops.Column - n - 1
	}
	return layout.MatrixCoord{Row: m, Column: n}
}

// SwizzleNz groups `offset` tile columns and walks each group row by row,
// reversing direction on every other group. Used when M <= N.
type SwizzleNz struct{}

func (SwizzleNz) Axis() int { return 1 }

func (SwizzleNz) blockCoord(idx int, loops layout.MatrixCoord, offset int) layout.MatrixCoord {
	groups := layout.CeilDiv(loops.Column, offset)
	group := idx / (offset * loops.Row)
	inGroup := idx % (offset * loops.Row)

	cols := offset
	if group == groups-1 {
		cols = loops.Column - offset*group
	}
	m := inGroup / cols
	n := group*offset + inGroup%cols
	if group%2 == 1 {
		m = loops.Row - m - 1
	}
	return layout.MatrixCoord{Row: m, Column: n}
}

// IdentityBlockSwizzle maps a linear task index to an output tile
// coordinate. Every compute block evaluates the same mapping, so tasks
// blockIdx, blockIdx+blockNum, ... partition the tile grid exactly.
type IdentityBlockSwizzle[D SwizzleDirection] struct {
	problem layout.GemmCoord
	tile    layout.MatrixCoord
	loops   layout.MatrixCoord
	offset  int
}

// NewIdentityBlockSwizzle builds the scheduler for a problem and an output
// tile shape.
func NewIdentityBlockSwizzle[D SwizzleDirection](problem layout.GemmCoord, tileMN layout.MatrixCoord, offset int) IdentityBlockSwizzle[D] {
	if offset < 1 {
		offset = 1
	}
	return IdentityBlockSwizzle[D]{
		problem: problem,
		tile:    tileMN,
		loops: layout.MatrixCoord{
			Row:    layout.CeilDiv(problem.M, tileMN.Row),
			Column: layout.CeilDiv(problem.N, tileMN.Column),
		},
		offset: offset,
	}
}

// Axis reports the swizzle direction.
func (s IdentityBlockSwizzle[D]) Axis() int {
	var d D
	return d.Axis()
}

// Loops returns the tile grid dimensions.
func (s IdentityBlockSwizzle[D]) Loops() layout.MatrixCoord { return s.loops }

// CoreLoops returns the number of output tiles.
func (s IdentityBlockSwizzle[D]) CoreLoops() int { return s.loops.Count() }

// BlockCoord returns the tile coordinate for task taskIdx. K is zero.
func (s IdentityBlockSwizzle[D]) BlockCoord(taskIdx int) layout.GemmCoord {
	var d D
	c := d.blockCoord(taskIdx%s.CoreLoops(), s.loops, s.offset)
	return layout.GemmCoord{M: c.Row, N: c.Column}
}

// ActualBlockShape returns the shape of the tile at coord, clipped at the
// problem edges. K is the full problem K.
func (s IdentityBlockSwizzle[D]) ActualBlockShape(coord layout.GemmCoord) layout.GemmCoord {
	m := min(s.tile.Row, s.problem.M-coord.M*s.tile.Row)
	n := min(s.tile.Column, s.problem.N-coord.N*s.tile.Column)
	return layout.GemmCoord{M: m, N: n, K: s.problem.K}
}
