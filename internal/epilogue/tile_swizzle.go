package epilogue

import "github.com/samcharles93/qmatmul/internal/layout"

// EpilogueHorizontalTileSwizzle walks the epilogue tiles of a sub-block row
// by row, left to right.
type EpilogueHorizontalTileSwizzle struct {
	shape layout.MatrixCoord
	tile  layout.MatrixCoord
	loops layout.MatrixCoord
}

func NewEpilogueHorizontalTileSwizzle(shape, tile layout.MatrixCoord) EpilogueHorizontalTileSwizzle {
	return EpilogueHorizontalTileSwizzle{
		shape: shape,
		tile:  tile,
		loops: layout.MatrixCoord{
			Row:    layout.CeilDiv(shape.Row, tile.Row),
			Column: layout.CeilDiv(shape.Column, tile.Column),
		},
	}
}

func (s EpilogueHorizontalTileSwizzle) Loops() layout.MatrixCoord { return s.loops }

// LoopCount returns the number of tiles.
func (s EpilogueHorizontalTileSwizzle) LoopCount() int { return s.loops.Count() }

// TileCoord maps a loop index to a tile coordinate.
func (s EpilogueHorizontalTileSwizzle) TileCoord(idx int) layout.MatrixCoord {
	return layout.MatrixCoord{Row: idx / s.loops.Column, Column: idx % s.loops.Column}
}

// TileOffset returns the element origin of a tile inside the sub-block.
func (s EpilogueHorizontalTileSwizzle) TileOffset(coord layout.MatrixCoord) layout.MatrixCoord {
	return coord.Mul(s.tile)
}

// ActualTileShape clips the tile at coord to the sub-block edge.
func (s EpilogueHorizontalTileSwizzle) ActualTileShape(coord layout.MatrixCoord) layout.MatrixCoord {
	off := s.TileOffset(coord)
	return layout.MatrixCoord{
		Row:    min(s.tile.Row, s.shape.Row-off.Row),
		Column: min(s.tile.Column, s.shape.Column-off.Column),
	}
}
