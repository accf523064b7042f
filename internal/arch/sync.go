package arch

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrSyncUnavailable is returned when an invocation is created without a
// hardware synchronisation base address.
var ErrSyncUnavailable = errors.New("hardware synchronization unavailable")

// Invocation is the state shared by every block of one kernel launch. It
// replaces the process-wide sync base address of the hardware and is passed
// explicitly to every component that signals across cores.
type Invocation struct {
	blockNum int

	mu    sync.Mutex
	flags map[flagKey]*CrossCoreFlag
}

type flagKey struct {
	block, sub, id int
}

// NewInvocation binds a launch to its synchronisation base address.
func NewInvocation(syncBaseAddr uint64, blockNum int) (*Invocation, error) {
	if syncBaseAddr == 0 {
		return nil, ErrSyncUnavailable
	}
	if blockNum <= 0 {
		return nil, fmt.Errorf("invocation: block count %d must be positive", blockNum)
	}
	return &Invocation{
		blockNum: blockNum,
		flags:    make(map[flagKey]*CrossCoreFlag),
	}, nil
}

// CrossCoreFlag returns the counter with the given id between the cube core
// of block and its vector sub-block sub. Repeated calls return the same flag.
// Callers on the data path resolve their flags once and keep the pointers.
func (inv *Invocation) CrossCoreFlag(block, sub, id int) *CrossCoreFlag {
	if block < 0 || block >= inv.blockNum {
		panic(fmt.Sprintf("arch: block %d outside launch of %d blocks", block, inv.blockNum))
	}
	inv.mu.Lock()
	defer inv.mu.Unlock()
	key := flagKey{block: block, sub: sub, id: id}
	f, ok := inv.flags[key]
	if !ok {
		f = &CrossCoreFlag{id: id, ch: make(chan struct{}, crossCoreFlagMax)}
		inv.flags[key] = f
	}
	return f
}

// CrossCoreFlag is a counting signal between a cube core and one vector
// sub-block. Each Set is consumed by exactly one Wait.
type CrossCoreFlag struct {
	id int
	ch chan struct{}
}

func (f *CrossCoreFlag) ID() int { return f.id }

// Set increments the counter. Setting a saturated counter blocks until the
// peer consumes a signal or ctx ends.
func (f *CrossCoreFlag) Set(ctx context.Context) error {
	select {
	case f.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("cross-core flag %d: %w", f.id, context.Cause(ctx))
	}
}

// Wait decrements the counter, blocking until a signal is available.
func (f *CrossCoreFlag) Wait(ctx context.Context) error {
	select {
	case <-f.ch:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("cross-core flag %d: %w", f.id, context.Cause(ctx))
	}
}

// Event is a binary flag between two pipes of the same core.
type Event struct {
	ch chan struct{}
}

// NewEvent returns a cleared event. If set is true the event starts set.
func NewEvent(set bool) Event {
	e := Event{ch: make(chan struct{}, 1)}
	if set {
		e.ch <- struct{}{}
	}
	return e
}

// Set marks the event. Setting an already set event is a pipeline bug.
func (e Event) Set() {
	select {
	case e.ch <- struct{}{}:
	default:
		panic("arch: event set twice without wait")
	}
}

// Wait blocks until the event is set and clears it.
func (e Event) Wait(ctx context.Context) error {
	select {
	case <-e.ch:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

// PipeError converts a recovered panic from a pipe goroutine into an error.
func PipeError(pipe string, rec any) error {
	if recErr, ok := rec.(error); ok {
		return fmt.Errorf("%s pipe failed: %w", pipe, recErr)
	}
	return fmt.Errorf("%s pipe failed: %v", pipe, rec)
}
