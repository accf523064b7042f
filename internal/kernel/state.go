package kernel

import (
	"fmt"

	"github.com/samcharles93/qmatmul/internal/layout"
)

// State is the progress of one output tile through a block.
type State int

const (
	StateIdle State = iota
	StatePrefetching
	StateComputing
	StateDequantizing
	StateWritingBack
	StateDone
)

var stateNames = [...]string{"idle", "prefetching", "computing", "dequantizing", "writing_back", "done"}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Observer receives state transitions. Idle and Done are reported once per
// block with a zero tile; the other states once per tile in order. Calls
// come from several pipe goroutines, so implementations must be safe for
// concurrent use.
type Observer interface {
	OnState(blockIdx int, tile layout.GemmCoord, state State)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(blockIdx int, tile layout.GemmCoord, state State)

func (f ObserverFunc) OnState(blockIdx int, tile layout.GemmCoord, state State) {
	f(blockIdx, tile, state)
}

type nopObserver struct{}

func (nopObserver) OnState(int, layout.GemmCoord, State) {}
