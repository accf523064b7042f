package arch

import (
	"errors"
	"fmt"
	"unsafe"
)

// ErrLocalMemoryExhausted is returned when a buffer plan does not fit in an
// on-chip position.
var ErrLocalMemoryExhausted = errors.New("local memory exhausted")

// Element is the set of element types the kernel moves between positions.
// uint16 carries bfloat16 bit patterns.
type Element interface {
	~int8 | ~int32 | ~uint16 | ~float32
}

// SizeOf returns the element size of T in bytes.
func SizeOf[T Element]() int {
	var z T
	return int(unsafe.Sizeof(z))
}

// View reinterprets raw bytes as a slice of T. raw must be aligned to the
// element size and its length must be a multiple of it.
func View[T Element](raw []byte) []T {
	size := SizeOf[T]()
	if len(raw) == 0 {
		return nil
	}
	if len(raw)%size != 0 {
		panic(fmt.Sprintf("arch: %d bytes is not a multiple of element size %d", len(raw), size))
	}
	if uintptr(unsafe.Pointer(&raw[0]))%uintptr(size) != 0 {
		panic("arch: misaligned view")
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&raw[0])), len(raw)/size)
}

// Bytes reinterprets a slice of T as raw bytes.
func Bytes[T Element](data []T) []byte {
	if len(data) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&data[0])), len(data)*SizeOf[T]())
}

// GlobalTensor is a typed view of a global memory region.
type GlobalTensor[T Element] struct {
	data []T
}

// NewGlobalTensor wraps raw global memory.
func NewGlobalTensor[T Element](raw []byte) GlobalTensor[T] {
	return GlobalTensor[T]{data: View[T](raw)}
}

// GlobalTensorOf wraps an already typed slice.
func GlobalTensorOf[T Element](data []T) GlobalTensor[T] {
	return GlobalTensor[T]{data: data}
}

// Len returns the number of addressable elements.
func (g GlobalTensor[T]) Len() int { return len(g.data) }

// At returns a view starting at element offset off.
func (g GlobalTensor[T]) At(off int) GlobalTensor[T] {
	return GlobalTensor[T]{data: g.data[off:]}
}

// Data exposes the backing elements.
func (g GlobalTensor[T]) Data() []T { return g.data }

// LocalTensor is a buffer carved out of an on-chip arena.
type LocalTensor[T Element] struct {
	pos  Position
	data []T
}

func (l LocalTensor[T]) Position() Position { return l.pos }
func (l LocalTensor[T]) Len() int           { return len(l.data) }
func (l LocalTensor[T]) Data() []T          { return l.data }

// LocalArena is the on-chip memory of one position for one core. Buffers are
// carved linearly at construction; there is no free.
type LocalArena struct {
	pos  Position
	mem  []byte
	used int
}

// NewLocalArena allocates an arena with the capacity of pos.
func NewLocalArena(pos Position) *LocalArena {
	return NewLocalArenaSize(pos, pos.Capacity())
}

// NewLocalArenaSize allocates an arena with an explicit capacity.
func NewLocalArenaSize(pos Position, capacity int) *LocalArena {
	words := make([]uint64, (capacity+7)/8)
	var mem []byte
	if len(words) > 0 {
		mem = unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), capacity)
	}
	return &LocalArena{pos: pos, mem: mem}
}

func (a *LocalArena) Position() Position { return a.pos }
func (a *LocalArena) Capacity() int      { return len(a.mem) }
func (a *LocalArena) Used() int          { return a.used }

// AllocLocal carves n elements of T from the arena. Allocations are aligned
// to BytesPerBlock.
func AllocLocal[T Element](a *LocalArena, n int) (LocalTensor[T], error) {
	start := (a.used + BytesPerBlock - 1) / BytesPerBlock * BytesPerBlock
	size := n * SizeOf[T]()
	if n < 0 || start+size > len(a.mem) {
		return LocalTensor[T]{}, fmt.Errorf("%w: %s needs %d bytes at offset %d, capacity %d",
			ErrLocalMemoryExhausted, a.pos, size, start, len(a.mem))
	}
	a.used = start + size
	return LocalTensor[T]{pos: a.pos, data: View[T](a.mem[start : start+size])}, nil
}
