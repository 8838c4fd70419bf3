// Package vcache implements the victim cache for base-array buffers: a bounded FIFO
// that recycles exact-size allocations across batches to amortize allocator cost.
package vcache

import (
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/bh-ve/vengine/view"
)

// DefaultSize is the victim cache's default capacity (spec §4.1, "default 10").
const DefaultSize = 10

type entry struct {
	size int
	buf  []byte
}

// VCache recycles freed base-array buffers by exact byte size. Nothing here is
// concurrency-safe: per spec §5, it is mutated only by the engine's single execution
// thread.
type VCache struct {
	capacity int
	entries  []entry // FIFO, oldest first
}

// New returns a VCache with the given capacity. A capacity of 0 disables recycling:
// every free releases its buffer immediately.
func New(capacity int) *VCache {
	if capacity < 0 {
		capacity = 0
	}
	return &VCache{capacity: capacity}
}

// Malloc ensures b has a realized buffer. A no-op if b already owns one. Otherwise it
// looks for an exact-size match in the cache; on a hit the buffer is detached and
// handed to b; on a miss, a fresh buffer is allocated.
func (c *VCache) Malloc(b *view.BaseArray) error {
	if b.Realized() {
		return nil
	}
	size := b.Bytes()
	for i, e := range c.entries {
		if e.size == size {
			b.Data = e.buf
			c.entries = append(c.entries[:i], c.entries[i+1:]...)
			return nil
		}
	}
	buf, err := allocate(size)
	if err != nil {
		return errors.Wrapf(err, "vcache: OUT_OF_MEMORY allocating %s for base#%d", humanize.Bytes(uint64(size)), b.ID)
	}
	b.Data = buf
	return nil
}

// allocate is the system allocator hot path vcache exists to avoid re-hitting. Broken
// out so a test double can simulate exhaustion without actually consuming memory.
func allocate(size int) (buf []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("allocation of %d bytes failed: %v", size, r)
		}
	}()
	return make([]byte, size), nil
}

// Free detaches b's buffer and returns it to the cache. If the cache is at capacity,
// the oldest entry is evicted and actually released (left for the GC). If the cache's
// capacity is 0, b's buffer is simply dropped.
func (c *VCache) Free(b *view.BaseArray) {
	if !b.Realized() {
		return
	}
	buf := b.Data
	b.Data = nil
	if c.capacity == 0 {
		return
	}
	if len(c.entries) >= c.capacity {
		evicted := c.entries[0]
		c.entries = c.entries[1:]
		klog.V(2).Infof("vcache: evicting %s entry to admit a new free", humanize.Bytes(uint64(evicted.size)))
	}
	c.entries = append(c.entries, entry{size: b.Bytes(), buf: buf})
}

// Clear releases every cached entry (called at engine shutdown).
func (c *VCache) Clear() {
	c.entries = nil
}

// Len reports how many buffers are currently cached, for tests and diagnostics.
func (c *VCache) Len() int { return len(c.entries) }
