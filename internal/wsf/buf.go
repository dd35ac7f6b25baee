package wsf

import (
	"fmt"
	"unsafe"
)

// BufAlignment is the boundary every block length is rounded up to.
const BufAlignment = 8

// PoolDesc describes one size class: Num blocks of Len bytes each.
type PoolDesc struct {
	Len int `json:"len" yaml:"len"`
	Num int `json:"num" yaml:"num"`
}

// DefaultPoolDescs is the layout used when a stack is built without an
// explicit pool configuration.
var DefaultPoolDescs = []PoolDesc{
	{Len: 32, Num: 16},
	{Len: 64, Num: 8},
	{Len: 128, Num: 8},
	{Len: 256, Num: 4},
}

// PoolStats is a diagnostic snapshot of one pool.
type PoolStats struct {
	Len       int `json:"len"`
	Num       int `json:"num"`
	NumAlloc  int `json:"num_alloc"`
	MaxAlloc  int `json:"max_alloc"`
	MaxReqLen int `json:"max_req_len"`
	Failed    int `json:"failed"`
}

const noBlock int32 = -1

type pool struct {
	len   int
	num   int
	mem   []byte
	base  uintptr
	next  []int32 // free-list links, indexed by block
	inUse []bool
	free  int32

	numAlloc  int
	maxAlloc  int
	maxReqLen int
	failed    int
}

func (p *pool) owns(addr uintptr) bool {
	return addr >= p.base && addr < p.base+uintptr(p.len*p.num)
}

// BufPool is a fixed-size-class allocator. Blocks never move between
// classes, which keeps both Alloc and Free O(1) per pool.
type BufPool struct {
	cs    CriticalSection
	pools []pool
	used  int
}

// NewBufPool allocates backing memory for descs and initializes a pool on it.
func NewBufPool(descs ...PoolDesc) (*BufPool, error) {
	mem := make([]byte, RequiredMemory(descs)+BufAlignment)
	bp := &BufPool{}
	if _, err := bp.Init(mem, descs); err != nil {
		return nil, err
	}
	return bp, nil
}

// RequiredMemory returns the bytes Init consumes for descs, excluding any
// padding needed to align the start of mem.
func RequiredMemory(descs []PoolDesc) int {
	total := 0
	for _, d := range descs {
		total += alignLen(d.Len) * d.Num
	}
	return total
}

func alignLen(n int) int {
	return (n + BufAlignment - 1) &^ (BufAlignment - 1)
}

// Init carves mem into one region per descriptor and returns the number of
// bytes consumed. Descriptors must be listed in ascending Len order. On
// failure it returns 0 and leaves the pool empty.
func (bp *BufPool) Init(mem []byte, descs []PoolDesc) (int, error) {
	bp.cs.Enter()
	defer bp.cs.Exit()

	bp.pools = nil
	bp.used = 0

	if len(descs) == 0 {
		return 0, ErrBufPoolConfig
	}
	for i, d := range descs {
		if d.Len <= 0 || d.Num <= 0 {
			return 0, fmt.Errorf("%w: pool %d has len=%d num=%d", ErrBufPoolConfig, i, d.Len, d.Num)
		}
		if i > 0 && d.Len < descs[i-1].Len {
			return 0, fmt.Errorf("%w: pool %d len %d below pool %d", ErrBufPoolConfig, i, d.Len, i-1)
		}
	}
	if len(mem) == 0 {
		return 0, ErrBufPoolTooSmall
	}

	start := uintptr(unsafe.Pointer(unsafe.SliceData(mem)))
	pad := int((BufAlignment - start%BufAlignment) % BufAlignment)
	need := pad + RequiredMemory(descs)
	if need > len(mem) {
		return 0, fmt.Errorf("%w: need %d bytes, have %d", ErrBufPoolTooSmall, need, len(mem))
	}

	pools := make([]pool, len(descs))
	off := pad
	for i, d := range descs {
		blockLen := alignLen(d.Len)
		size := blockLen * d.Num
		region := mem[off : off+size : off+size]

		p := &pools[i]
		p.len = blockLen
		p.num = d.Num
		p.mem = region
		p.base = uintptr(unsafe.Pointer(unsafe.SliceData(region)))
		p.next = make([]int32, d.Num)
		p.inUse = make([]bool, d.Num)
		for b := 0; b < d.Num-1; b++ {
			p.next[b] = int32(b + 1)
		}
		p.next[d.Num-1] = noBlock
		p.free = 0

		off += size
	}

	bp.pools = pools
	bp.used = need
	return need, nil
}

// Alloc returns a block of length n from the smallest pool whose block size
// fits n and that still has a free block. The returned slice has the full
// block as its capacity. It returns nil when nothing fits; callers must not
// retry in a loop.
func (bp *BufPool) Alloc(n int) []byte {
	if n < 0 {
		return nil
	}

	bp.cs.Enter()
	defer bp.cs.Exit()

	var firstFit *pool
	for i := range bp.pools {
		p := &bp.pools[i]
		if p.len < n {
			continue
		}
		if firstFit == nil {
			firstFit = p
		}
		if p.free == noBlock {
			continue
		}

		idx := p.free
		p.free = p.next[idx]
		p.next[idx] = noBlock
		p.inUse[idx] = true

		p.numAlloc++
		if p.numAlloc > p.maxAlloc {
			p.maxAlloc = p.numAlloc
		}
		if n > p.maxReqLen {
			p.maxReqLen = n
		}

		off := int(idx) * p.len
		return p.mem[off : off+n : off+p.len]
	}

	if firstFit != nil {
		firstFit.failed++
	}
	return nil
}

// Free returns a block handed out by Alloc. Pool membership is decided by
// address range. Freeing foreign memory, an interior pointer or a block that
// is already free is misuse and asserts.
func (bp *BufPool) Free(b []byte) {
	Assert(cap(b) > 0, ErrBufNotOwned, "zero-capacity slice")
	addr := uintptr(unsafe.Pointer(unsafe.SliceData(b)))

	bp.cs.Enter()
	defer bp.cs.Exit()

	for i := range bp.pools {
		p := &bp.pools[i]
		if !p.owns(addr) {
			continue
		}

		off := int(addr - p.base)
		Assert(off%p.len == 0, ErrBufNotOwned, "pointer %#x is inside block of pool %d", addr, i)

		idx := int32(off / p.len)
		Assert(p.inUse[idx], ErrBufDoubleFree, "pool %d block %d", i, idx)

		p.inUse[idx] = false
		p.next[idx] = p.free
		p.free = idx
		p.numAlloc--
		return
	}

	Assert(false, ErrBufNotOwned, "pointer %#x", addr)
}

// NumPools returns the number of configured size classes.
func (bp *BufPool) NumPools() int {
	bp.cs.Enter()
	defer bp.cs.Exit()
	return len(bp.pools)
}

// Used returns the bytes consumed by the last successful Init.
func (bp *BufPool) Used() int {
	bp.cs.Enter()
	defer bp.cs.Exit()
	return bp.used
}

// GetNumAlloc returns the blocks currently allocated from pool.
func (bp *BufPool) GetNumAlloc(pool int) int {
	bp.cs.Enter()
	defer bp.cs.Exit()
	return bp.pools[pool].numAlloc
}

// GetMaxAlloc returns the allocation watermark of pool.
func (bp *BufPool) GetMaxAlloc(pool int) int {
	bp.cs.Enter()
	defer bp.cs.Exit()
	return bp.pools[pool].maxAlloc
}

// FreeCount returns the blocks currently on the free list of pool.
func (bp *BufPool) FreeCount(pool int) int {
	bp.cs.Enter()
	defer bp.cs.Exit()
	p := &bp.pools[pool]
	return p.num - p.numAlloc
}

// Stats returns a snapshot of every pool.
func (bp *BufPool) Stats() []PoolStats {
	bp.cs.Enter()
	defer bp.cs.Exit()

	out := make([]PoolStats, len(bp.pools))
	for i := range bp.pools {
		p := &bp.pools[i]
		out[i] = PoolStats{
			Len:       p.len,
			Num:       p.num,
			NumAlloc:  p.numAlloc,
			MaxAlloc:  p.maxAlloc,
			MaxReqLen: p.maxReqLen,
			Failed:    p.failed,
		}
	}
	return out
}
