package dma

import "sync"

// Pool recycles DMA buffers by size bucket so repeated Identify/read/write
// staging allocations don't pay a fresh mmap+Space.Map round trip every
// time. Adapted from the teacher's internal/queue.BufferPool: same
// power-of-2 bucketing and *Buffer-in-a-pool pattern, generalized from
// ublk's fixed-tag mmap arena to this driver's DMA-space-backed Buffer.
//
// Buckets are sized for this driver's traffic: one host page (Identify
// payloads, single-LBA I/O) up through 1 MiB (large SGL transfers). A
// request larger than the top bucket falls back to a fresh, unpooled Alloc.
const (
	bucket4k   = 4 * 1024
	bucket64k  = 64 * 1024
	bucket256k = 256 * 1024
	bucket1m   = 1024 * 1024
)

var bucketSizes = [...]int{bucket4k, bucket64k, bucket256k, bucket1m}

// Pool hands out *Buffer values mapped into one Space, bucketed by
// requested size. It is not itself safe for concurrent use across
// goroutines, matching this driver's single-event-loop model — callers on
// the same controller's loop share one Pool without locking.
type Pool struct {
	space Space
	dir   Direction
	pools [len(bucketSizes)]sync.Pool
}

// NewPool creates a Pool that maps buffers into space for the given
// direction.
func NewPool(space Space, dir Direction) *Pool {
	p := &Pool{space: space, dir: dir}
	for i := range p.pools {
		size := bucketSizes[i]
		p.pools[i].New = func() any {
			b, err := Alloc(space, size, dir)
			if err != nil {
				return nil
			}
			return b
		}
	}
	return p
}

func bucketFor(size int) int {
	for i, b := range bucketSizes {
		if size <= b {
			return i
		}
	}
	return -1
}

// Get returns a buffer of at least size bytes, freshly zeroed. Buffers
// larger than the top bucket are allocated directly and not returned to
// the pool by Put.
func (p *Pool) Get(size int) (*Buffer, error) {
	i := bucketFor(size)
	if i < 0 {
		return Alloc(p.space, size, p.dir)
	}
	v := p.pools[i].Get()
	if v == nil {
		return Alloc(p.space, bucketSizes[i], p.dir)
	}
	b := v.(*Buffer)
	for j := range b.virt {
		b.virt[j] = 0
	}
	b.refs.Store(1)
	return b, nil
}

// Put returns b to its size bucket for reuse, or unmaps it outright if its
// capacity doesn't match a bucket exactly (e.g. it came from an
// over-size Get that bypassed the pool).
func (p *Pool) Put(b *Buffer) {
	i := bucketFor(len(b.virt))
	if i < 0 || bucketSizes[i] != len(b.virt) {
		b.Unref()
		return
	}
	p.pools[i].Put(b)
}
