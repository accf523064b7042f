package arch

import "context"

// Ring is a fixed set of buffer slots handed between one producer pipe and
// one consumer pipe. Each slot has its own ready/free event pair, so the
// producer only waits for the slot it is about to overwrite and the consumer
// only waits for the slot it is about to read.
type Ring[T any] struct {
	slots []T
	ready []Event
	free  []Event

	prod int
	cons int
}

// NewRing builds a ring over the given slots. All slots start free.
func NewRing[T any](slots []T) *Ring[T] {
	r := &Ring[T]{
		slots: slots,
		ready: make([]Event, len(slots)),
		free:  make([]Event, len(slots)),
	}
	for i := range slots {
		r.ready[i] = NewEvent(false)
		r.free[i] = NewEvent(true)
	}
	return r
}

// Acquire waits until the producer's next slot is free and returns it.
// Only the producer goroutine may call Acquire and Commit.
func (r *Ring[T]) Acquire(ctx context.Context) (int, *T, error) {
	i := r.prod
	if err := r.free[i].Wait(ctx); err != nil {
		return 0, nil, err
	}
	r.prod = (i + 1) % len(r.slots)
	return i, &r.slots[i], nil
}

// Commit publishes slot i to the consumer.
func (r *Ring[T]) Commit(i int) { r.ready[i].Set() }

// Wait blocks until the consumer's next slot is ready and returns it.
// Only the consumer goroutine may call Wait and Release.
func (r *Ring[T]) Wait(ctx context.Context) (int, *T, error) {
	i := r.cons
	if err := r.ready[i].Wait(ctx); err != nil {
		return 0, nil, err
	}
	r.cons = (i + 1) % len(r.slots)
	return i, &r.slots[i], nil
}

// Release returns slot i to the producer.
func (r *Ring[T]) Release(i int) { r.free[i].Set() }
