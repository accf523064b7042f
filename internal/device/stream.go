package device

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/samcharles93/qmatmul/internal/arch"
)

// KernelFunc is the body of a kernel, executed once per compute block.
type KernelFunc func(ctx context.Context, blockIdx int) error

type streamTask struct {
	ctx  context.Context
	fn   func(ctx context.Context) error
	done chan struct{}
}

// Stream executes submitted work in order on a dedicated goroutine. Errors
// are collected until the next Synchronize.
type Stream struct {
	tasks     chan streamTask
	closeOnce sync.Once

	mu  sync.Mutex
	err error
}

// NewStream creates a stream bound to the device.
func (d *Device) NewStream() *Stream {
	s := &Stream{tasks: make(chan streamTask, 16)}
	go s.run()
	return s
}

func (s *Stream) run() {
	for t := range s.tasks {
		if t.fn != nil {
			if err := t.fn(t.ctx); err != nil {
				s.mu.Lock()
				if s.err == nil {
					s.err = err
				}
				s.mu.Unlock()
			}
		}
		if t.done != nil {
			close(t.done)
		}
	}
}

// Submit enqueues fn. It returns immediately.
func (s *Stream) Submit(ctx context.Context, fn func(ctx context.Context) error) {
	s.tasks <- streamTask{ctx: ctx, fn: fn}
}

// Synchronize blocks until all previously submitted work has completed and
// returns the first error raised since the last Synchronize.
func (s *Stream) Synchronize() error {
	done := make(chan struct{})
	s.tasks <- streamTask{done: done}
	<-done
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.err
	s.err = nil
	return err
}

// Close stops the stream after pending work drains. The stream must not be
// used afterwards.
func (s *Stream) Close() {
	s.closeOnce.Do(func() { close(s.tasks) })
}

// Launch enqueues fn on stream for blockNum compute blocks. At most CoreNum
// blocks run at once; the first block error cancels the remaining blocks and
// fails the whole launch.
func (d *Device) Launch(ctx context.Context, stream *Stream, blockNum int, fn KernelFunc) error {
	if blockNum <= 0 {
		return fmt.Errorf("launch: block count %d must be positive", blockNum)
	}
	stream.Submit(ctx, func(ctx context.Context) error {
		return d.runBlocks(ctx, blockNum, fn)
	})
	return nil
}

func (d *Device) runBlocks(ctx context.Context, blockNum int, fn KernelFunc) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.coreNum)
	for b := range blockNum {
		g.Go(func() (err error) {
			defer func() {
				if rec := recover(); rec != nil {
					err = arch.PipeError(fmt.Sprintf("block %d", b), rec)
				}
			}()
			return fn(gctx, b)
		})
	}
	return g.Wait()
}
