// Package device emulates the runtime of an AI accelerator: global memory
// addressed by opaque device addresses, host/device copies, the cross-core
// control address used for synchronisation, streams, and kernel launch
// across a grid of compute blocks.
package device

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"unsafe"

	"golang.org/x/sys/cpu"

	"github.com/samcharles93/qmatmul/internal/arch"
)

// Addr is a device global-memory address. Zero is the null address.
type Addr uint64

var (
	ErrInvalidAddress = errors.New("invalid device address")
	ErrOutOfMemory    = errors.New("device out of memory")
)

const (
	// DefaultAICoreNum matches the cube core count of an Atlas A2 part.
	DefaultAICoreNum = 24

	heapBase  Addr = 0x1_0000_0000
	addrAlign      = 512
	c2cCtrl   Addr = 0x0800_0000
	c2cLen         = 4096
)

// Options configures an emulated device.
type Options struct {
	// MemoryLimit caps global memory in bytes. Zero means unlimited.
	MemoryLimit int64
	// AICoreNum is the number of compute blocks that execute concurrently.
	// Zero selects DefaultAICoreNum, capped to GOMAXPROCS*4.
	AICoreNum int
	// DisableC2C emulates a runtime that cannot provide a cross-core control
	// address.
	DisableC2C bool
}

// Device owns global memory and executes kernel launches.
type Device struct {
	opts    Options
	coreNum int

	mu     sync.Mutex
	next   Addr
	used   int64
	allocs map[Addr][]byte
	bases  []Addr // sorted
}

// New creates an emulated device.
func New(opts Options) *Device {
	cores := opts.AICoreNum
	if cores <= 0 {
		cores = min(DefaultAICoreNum, runtime.GOMAXPROCS(0)*4)
	}
	return &Device{
		opts:    opts,
		coreNum: cores,
		next:    heapBase,
		allocs:  make(map[Addr][]byte),
	}
}

// CoreNum returns the number of compute blocks that run concurrently.
func (d *Device) CoreNum() int { return d.coreNum }

// C2CCtrlAddr returns the cross-core synchronisation control address and its
// length. A device without one reports a zero address.
func (d *Device) C2CCtrlAddr() (uint64, uint32) {
	if d.opts.DisableC2C {
		return 0, 0
	}
	return uint64(c2cCtrl), c2cLen
}

// Malloc reserves size bytes of global memory. The memory is zeroed.
func (d *Device) Malloc(size int) (Addr, error) {
	if size <= 0 {
		return 0, fmt.Errorf("malloc %d bytes: size must be positive", size)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.opts.MemoryLimit > 0 && d.used+int64(size) > d.opts.MemoryLimit {
		return 0, fmt.Errorf("%w: %d bytes requested, %d of %d in use",
			ErrOutOfMemory, size, d.used, d.opts.MemoryLimit)
	}
	words := make([]uint64, (size+7)/8)
	mem := unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), size)

	addr := d.next
	d.next += Addr((size + addrAlign - 1) / addrAlign * addrAlign)
	d.allocs[addr] = mem
	d.bases = append(d.bases, addr)
	d.used += int64(size)
	return addr, nil
}

// Free releases an allocation made by Malloc.
func (d *Device) Free(addr Addr) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	mem, ok := d.allocs[addr]
	if !ok {
		return fmt.Errorf("%w: free %#x", ErrInvalidAddress, uint64(addr))
	}
	delete(d.allocs, addr)
	i := sort.Search(len(d.bases), func(i int) bool { return d.bases[i] >= addr })
	d.bases = append(d.bases[:i], d.bases[i+1:]...)
	d.used -= int64(len(mem))
	return nil
}

// Resolve returns the global memory from addr to the end of its
// allocation. addr may point inside an allocation.
func (d *Device) Resolve(addr Addr) ([]byte, error) {
	if addr == 0 {
		return nil, fmt.Errorf("%w: null address", ErrInvalidAddress)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	i := sort.Search(len(d.bases), func(i int) bool { return d.bases[i] > addr }) - 1
	if i < 0 {
		return nil, fmt.Errorf("%w: %#x", ErrInvalidAddress, uint64(addr))
	}
	base := d.bases[i]
	mem := d.allocs[base]
	off := int(addr - base)
	if off >= len(mem) {
		return nil, fmt.Errorf("%w: %#x", ErrInvalidAddress, uint64(addr))
	}
	return mem[off:], nil
}

// Used returns the number of allocated bytes.
func (d *Device) Used() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.used
}

// CopyToDevice copies host elements to global memory at dst.
func CopyToDevice[T arch.Element](d *Device, dst Addr, src []T) error {
	mem, err := d.Resolve(dst)
	if err != nil {
		return err
	}
	raw := arch.Bytes(src)
	if len(raw) > len(mem) {
		return fmt.Errorf("copy to device: %d bytes into %d byte region", len(raw), len(mem))
	}
	copy(mem, raw)
	return nil
}

// CopyFromDevice copies global memory at src into host elements.
func CopyFromDevice[T arch.Element](d *Device, dst []T, src Addr) error {
	mem, err := d.Resolve(src)
	if err != nil {
		return err
	}
	raw := arch.Bytes(dst)
	if len(raw) > len(mem) {
		return fmt.Errorf("copy from device: %d bytes from %d byte region", len(raw), len(mem))
	}
	copy(raw, mem)
	return nil
}

// Info describes the emulated device and its host.
type Info struct {
	AICoreNum   int             `json:"ai_core_num" yaml:"ai_core_num"`
	AIVPerAIC   int             `json:"aiv_per_aic" yaml:"aiv_per_aic"`
	L1Bytes     int             `json:"l1_bytes" yaml:"l1_bytes"`
	L0ABytes    int             `json:"l0a_bytes" yaml:"l0a_bytes"`
	L0BBytes    int             `json:"l0b_bytes" yaml:"l0b_bytes"`
	L0CBytes    int             `json:"l0c_bytes" yaml:"l0c_bytes"`
	UBBytes     int             `json:"ub_bytes" yaml:"ub_bytes"`
	MemoryUsed  int64           `json:"memory_used" yaml:"memory_used"`
	HostArch    string          `json:"host_arch" yaml:"host_arch"`
	HostCPUs    int             `json:"host_cpus" yaml:"host_cpus"`
	HostFeature map[string]bool `json:"host_features" yaml:"host_features"`
}

// Info reports capacities and host features.
func (d *Device) Info() Info {
	return Info{
		AICoreNum:   d.coreNum,
		AIVPerAIC:   arch.AIVPerAIC,
		L1Bytes:     arch.L1Size,
		L0ABytes:    arch.L0ASize,
		L0BBytes:    arch.L0BSize,
		L0CBytes:    arch.L0CSize,
		UBBytes:     arch.UBSize,
		MemoryUsed:  d.Used(),
		HostArch:    runtime.GOARCH,
		HostCPUs:    runtime.NumCPU(),
		HostFeature: hostFeatures(),
	}
}

func hostFeatures() map[string]bool {
	switch runtime.GOARCH {
	case "amd64":
		return map[string]bool{
			"AVX2":       cpu.X86.HasAVX2,
			"AVX512F":    cpu.X86.HasAVX512F,
			"AVX512VNNI": cpu.X86.HasAVX512VNNI,
			"AVX512BF16": cpu.X86.HasAVX512BF16,
			"FMA":        cpu.X86.HasFMA,
		}
	case "arm64":
		return map[string]bool{
			"ASIMD":   cpu.ARM64.HasASIMD,
			"ASIMDDP": cpu.ARM64.HasASIMDDP,
			"SVE":     cpu.ARM64.HasSVE,
			"FPHP":    cpu.ARM64.HasFPHP,
		}
	default:
		return map[string]bool{}
	}
}
