// Package arch models the on-chip resources of an Atlas A2 style AI core:
// the memory positions and their capacities, typed global and local tensors,
// and the signalling primitives the hardware pipes use to hand buffers to
// each other.
package arch

import "fmt"

// Capacities of one AI core, in bytes.
const (
	L1Size  = 512 * 1024
	L0ASize = 64 * 1024
	L0BSize = 64 * 1024
	L0CSize = 128 * 1024
	UBSize  = 192 * 1024

	// BytesPerBlock is the width of one vector block (one "blk").
	BytesPerBlock = 32
	// BytesPerC0 is the K granularity of the cube unit for 8-bit operands.
	BytesPerC0 = 32

	// AIVPerAIC is the number of vector sub-blocks paired with each cube core.
	AIVPerAIC = 2

	// crossCoreFlagMax is the depth of a hardware cross-core counter.
	crossCoreFlagMax = 15
)

// Position identifies a level of the memory hierarchy.
type Position int

const (
	PositionGM Position = iota
	PositionL1
	PositionL0A
	PositionL0B
	PositionL0C
	PositionUB
)

func (p Position) String() string {
	switch p {
	case PositionGM:
		return "GM"
	case PositionL1:
		return "L1"
	case PositionL0A:
		return "L0A"
	case PositionL0B:
		return "L0B"
	case PositionL0C:
		return "L0C"
	case PositionUB:
		return "UB"
	default:
		return fmt.Sprintf("Position(%d)", int(p))
	}
}

// Capacity returns the size of an on-chip position. Global memory has no
// fixed capacity and reports zero.
func (p Position) Capacity() int {
	switch p {
	case PositionL1:
		return L1Size
	case PositionL0A:
		return L0ASize
	case PositionL0B:
		return L0BSize
	case PositionL0C:
		return L0CSize
	case PositionUB:
		return UBSize
	default:
		return 0
	}
}
