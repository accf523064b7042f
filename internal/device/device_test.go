package device

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestMallocResolveAndCopy(t *testing.T) {
	d := New(Options{})
	addr, err := d.Malloc(10)
	if err != nil {
		t.Fatal(err)
	}
	if err := CopyToDevice(d, addr, []int8{1, 2, 3, 4, 5}); err != nil {
		t.Fatal(err)
	}
	got := make([]int8, 3)
	if err := CopyFromDevice(d, got, addr+2); err != nil {
		t.Fatal(err)
	}
	if got[0] != 3 || got[2] != 5 {
		t.Fatalf("interior read: got %v", got)
	}
	if err := CopyToDevice(d, addr, make([]int32, 3)); err == nil {
		t.Fatal("expected overflow error for 12 bytes into 10")
	}
}

func TestResolveRejectsBadAddresses(t *testing.T) {
	d := New(Options{})
	addr, err := d.Malloc(16)
	if err != nil {
		t.Fatal(err)
	}
	for _, a := range []Addr{0, addr - 1, addr + 16, addr + 4096} {
		if _, err := d.Resolve(a); !errors.Is(err, ErrInvalidAddress) {
			t.Fatalf("resolve %#x: expected ErrInvalidAddress, got %v", uint64(a), err)
		}
	}
	if err := d.Free(addr); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Resolve(addr); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("resolve after free: got %v", err)
	}
	if err := d.Free(addr); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("double free: got %v", err)
	}
}

func TestMemoryLimit(t *testing.T) {
	d := New(Options{MemoryLimit: 1024})
	if _, err := d.Malloc(1000); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Malloc(100); !errors.Is(err, ErrOutOfMemory) {
		t.Fatalf("expected ErrOutOfMemory, got %v", err)
	}
	if d.Used() != 1000 {
		t.Fatalf("used: got %d", d.Used())
	}
}

func TestC2CCtrlAddr(t *testing.T) {
	if addr, n := New(Options{}).C2CCtrlAddr(); addr == 0 || n == 0 {
		t.Fatal("expected a control address")
	}
	if addr, _ := New(Options{DisableC2C: true}).C2CCtrlAddr(); addr != 0 {
		t.Fatal("disabled device must report a null control address")
	}
}

func TestLaunchRunsEveryBlockOnce(t *testing.T) {
	d := New(Options{AICoreNum: 3})
	s := d.NewStream()
	defer s.Close()

	const blocks = 17
	var mu sync.Mutex
	seen := make(map[int]int)
	var running, peak atomic.Int32
	err := d.Launch(context.Background(), s, blocks, func(ctx context.Context, blockIdx int) error {
		cur := running.Add(1)
		defer running.Add(-1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		mu.Lock()
		seen[blockIdx]++
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Synchronize(); err != nil {
		t.Fatal(err)
	}
	if len(seen) != blocks {
		t.Fatalf("blocks executed: got %d want %d", len(seen), blocks)
	}
	for b, n := range seen {
		if n != 1 {
			t.Fatalf("block %d ran %d times", b, n)
		}
	}
	if peak.Load() > 3 {
		t.Fatalf("peak concurrency %d exceeds core count", peak.Load())
	}
}

func TestLaunchPropagatesBlockFailure(t *testing.T) {
	d := New(Options{AICoreNum: 2})
	s := d.NewStream()
	defer s.Close()

	boom := errors.New("boom")
	if err := d.Launch(context.Background(), s, 4, func(ctx context.Context, blockIdx int) error {
		if blockIdx == 2 {
			return boom
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.Synchronize(); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	// Errors are cleared by Synchronize.
	if err := s.Synchronize(); err != nil {
		t.Fatalf("expected clean stream, got %v", err)
	}
}

func TestLaunchRecoversPanics(t *testing.T) {
	d := New(Options{AICoreNum: 1})
	s := d.NewStream()
	defer s.Close()
	if err := d.Launch(context.Background(), s, 1, func(ctx context.Context, blockIdx int) error {
		panic("bad block")
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.Synchronize(); err == nil {
		t.Fatal("expected panic to surface as an error")
	}
}

func TestLaunchRejectsEmptyGrid(t *testing.T) {
	d := New(Options{})
	s := d.NewStream()
	defer s.Close()
	if err := d.Launch(context.Background(), s, 0, nil); err == nil {
		t.Fatal("expected error for zero blocks")
	}
}
