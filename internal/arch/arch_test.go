package arch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestAllocLocalRespectsCapacity(t *testing.T) {
	a := NewLocalArenaSize(PositionL0A, 1024)
	if _, err := AllocLocal[int8](a, 500); err != nil {
		t.Fatalf("first alloc: %v", err)
	}
	// 500 rounds up to 512, leaving exactly 512 bytes.
	buf, err := AllocLocal[int32](a, 128)
	if err != nil {
		t.Fatalf("second alloc: %v", err)
	}
	if buf.Len() != 128 || buf.Position() != PositionL0A {
		t.Fatalf("unexpected buffer len=%d pos=%s", buf.Len(), buf.Position())
	}
	if _, err := AllocLocal[int8](a, 1); !errors.Is(err, ErrLocalMemoryExhausted) {
		t.Fatalf("expected ErrLocalMemoryExhausted, got %v", err)
	}
}

func TestArenaCapacities(t *testing.T) {
	cases := map[Position]int{
		PositionL1:  512 * 1024,
		PositionL0A: 64 * 1024,
		PositionL0B: 64 * 1024,
		PositionL0C: 128 * 1024,
		PositionUB:  192 * 1024,
		PositionGM:  0,
	}
	for pos, want := range cases {
		if got := NewLocalArena(pos).Capacity(); got != want {
			t.Fatalf("%s capacity: got %d want %d", pos, got, want)
		}
	}
}

func TestViewRoundTrip(t *testing.T) {
	a := NewLocalArenaSize(PositionUB, 64)
	buf, err := AllocLocal[int32](a, 4)
	if err != nil {
		t.Fatal(err)
	}
	copy(buf.Data(), []int32{1, -2, 3, -4})
	raw := Bytes(buf.Data())
	if len(raw) != 16 {
		t.Fatalf("bytes len: got %d want 16", len(raw))
	}
	back := View[int32](raw)
	if back[1] != -2 || back[3] != -4 {
		t.Fatalf("unexpected view %v", back)
	}
	g := NewGlobalTensor[int32](raw)
	if g.At(2).Data()[0] != 3 || g.Len() != 4 {
		t.Fatalf("unexpected global tensor %v", g.Data())
	}
}

func TestNewInvocationRequiresSyncBase(t *testing.T) {
	if _, err := NewInvocation(0, 4); !errors.Is(err, ErrSyncUnavailable) {
		t.Fatalf("expected ErrSyncUnavailable, got %v", err)
	}
	if _, err := NewInvocation(0x1000, 0); err == nil {
		t.Fatal("expected error for zero block count")
	}
	inv, err := NewInvocation(0x1000, 4)
	if err != nil {
		t.Fatal(err)
	}
	if inv.CrossCoreFlag(1, 0, 2) != inv.CrossCoreFlag(1, 0, 2) {
		t.Fatal("flags must be stable per key")
	}
	if inv.CrossCoreFlag(1, 0, 2) == inv.CrossCoreFlag(1, 1, 2) {
		t.Fatal("sub-blocks must not share flags")
	}
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for a block outside the launch")
		}
	}()
	inv.CrossCoreFlag(4, 0, 0)
}

func TestCrossCoreFlagCounts(t *testing.T) {
	inv, err := NewInvocation(0x1000, 1)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	f := inv.CrossCoreFlag(0, 0, 0)
	for range 3 {
		if err := f.Set(ctx); err != nil {
			t.Fatal(err)
		}
	}
	for range 3 {
		if err := f.Wait(ctx); err != nil {
			t.Fatal(err)
		}
	}
	cctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	if err := f.Wait(cctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestEventDoubleSetPanics(t *testing.T) {
	e := NewEvent(true)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	e.Set()
}

func TestRingPreservesOrderAndBoundsInFlight(t *testing.T) {
	const stages = 2
	const items = 50
	r := NewRing(make([]int, stages))
	ctx := context.Background()

	var inFlight, maxInFlight atomic.Int32
	done := make(chan []int)
	go func() {
		var got []int
		for range items {
			i, v, err := r.Wait(ctx)
			if err != nil {
				t.Error(err)
				return
			}
			got = append(got, *v)
			inFlight.Add(-1)
			r.Release(i)
		}
		done <- got
	}()

	for n := range items {
		i, v, err := r.Acquire(ctx)
		if err != nil {
			t.Fatal(err)
		}
		*v = n
		cur := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if cur <= m || maxInFlight.CompareAndSwap(m, cur) {
				break
			}
		}
		r.Commit(i)
	}

	got := <-done
	for n, v := range got {
		if v != n {
			t.Fatalf("item %d: got %d", n, v)
		}
	}
	if m := maxInFlight.Load(); m > stages {
		t.Fatalf("in-flight slots %d exceed ring stages %d", m, stages)
	}
}

func TestRingAcquireHonoursContext(t *testing.T) {
	r := NewRing(make([]int, 1))
	ctx, cancel := context.WithCancel(context.Background())
	i, _, err := r.Acquire(ctx)
	if err != nil {
		t.Fatal(err)
	}
	r.Commit(i)
	cancel()
	if _, _, err := r.Acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func TestPipeError(t *testing.T) {
	base := errors.New("boom")
	if err := PipeError("mte2", base); !errors.Is(err, base) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
	if err := PipeError("cube", "text"); err.Error() != "cube pipe failed: text" {
		t.Fatalf("unexpected message %q", err)
	}
}
