// Package texturepool implements the bucketed GPU texture pool: reuse
// memory across frames, hand off resources across threads safely, and apply
// one of three exhaustion policies when a bucket runs dry. Grounded on the
// teacher's container pool manager (pre-warm, available/active bookkeeping,
// Get/Put, Stats()) — the recyclable unit changes from a Docker container to
// a GPU texture slot, and the blocking acquire changes from a buffered
// channel pop to a CAS-scan over a bucket plus a sync.Cond wait, because
// here acquisition must find *any* free slot in a bucket rather than pop a
// single FIFO.
package texturepool

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/fluxcore/streamgraph/errs"
	"github.com/fluxcore/streamgraph/internal/gpu"
	"github.com/fluxcore/streamgraph/internal/metrics"
)

// Policy selects what Acquire does when a bucket is exhausted.
type Policy interface{ isPolicy() }

// Block waits on a condition variable until a slot frees up anywhere in the
// bucket, retrying the scan; it fails with PoolExhausted after Timeout.
type Block struct{ Timeout time.Duration }

// GrowPool allocates beyond InitialCap up to Max before failing.
type GrowPool struct{ Max int }

// ReturnError fails immediately without waiting or growing.
type ReturnError struct{}

func (Block) isPolicy()       {}
func (GrowPool) isPolicy()    {}
func (ReturnError) isPolicy() {}

// BucketConfig configures one descriptor bucket.
type BucketConfig struct {
	InitialCap int
	Policy     Policy
	// Allocate is called under the bucket lock to materialize the backing
	// texture/memory for a freshly created slot; it stands in for whatever
	// the platform collaborator does to back a real GPU texture. A nil
	// Allocate is a pure bookkeeping slot, useful in tests.
	Allocate func(desc gpu.Descriptor) error
}

func defaultBucketConfig() BucketConfig {
	return BucketConfig{InitialCap: 4, Policy: ReturnError{}}
}

type slot struct {
	id     uint64
	desc   gpu.Descriptor
	inUse  atomic.Bool
	bucket *bucket
}

type bucket struct {
	mu     sync.Mutex
	cond   *sync.Cond
	cfg    BucketConfig
	slots  []*slot
	maxCap int // effective ceiling: InitialCap unless GrowPool raises it
}

func newBucket(cfg BucketConfig) *bucket {
	b := &bucket{cfg: cfg, maxCap: cfg.InitialCap}
	b.cond = sync.NewCond(&b.mu)
	if g, ok := cfg.Policy.(GrowPool); ok && g.Max > b.maxCap {
		b.maxCap = g.Max
	}
	return b
}

// Pool is the process-wide bucketed texture pool, shared by clone-of-handle
// across every processor.
type Pool struct {
	mu      sync.Mutex
	buckets map[gpu.Descriptor]*bucket
	nextID  atomic.Uint64
	metrics *metrics.Recorder
}

// New creates an empty pool. metrics may be nil in tests.
func New(m *metrics.Recorder) *Pool {
	return &Pool{buckets: make(map[gpu.Descriptor]*bucket), metrics: m}
}

// Configure pre-declares the policy/capacity for a descriptor's bucket
// before first use. Calling Configure after the bucket already exists via a
// prior Acquire is a no-op for already-allocated slots but updates the
// policy/ceiling going forward.
func (p *Pool) Configure(desc gpu.Descriptor, cfg BucketConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.buckets[desc]
	if !ok {
		p.buckets[desc] = newBucket(cfg)
		return
	}
	b.mu.Lock()
	b.cfg = cfg
	b.maxCap = cfg.InitialCap
	if g, ok := cfg.Policy.(GrowPool); ok && g.Max > b.maxCap {
		b.maxCap = g.Max
	}
	b.mu.Unlock()
}

func (p *Pool) bucketFor(desc gpu.Descriptor) *bucket {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.buckets[desc]
	if !ok {
		b = newBucket(defaultBucketConfig())
		p.buckets[desc] = b
	}
	return b
}

func bucketKeyString(desc gpu.Descriptor) string {
	return desc.Format + "/" + desc.Usage
}

// Prewarm allocates n slots of the given descriptor up front, for callers
// that want to pay allocation cost before the first frame rather than during
// it.
func (p *Pool) Prewarm(desc gpu.Descriptor, n int) error {
	b := p.bucketFor(desc)
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := 0; i < n && len(b.slots) < b.maxCap; i++ {
		s, err := p.newSlotLocked(b, desc)
		if err != nil {
			return err
		}
		b.slots = append(b.slots, s)
	}
	return nil
}

func (p *Pool) newSlotLocked(b *bucket, desc gpu.Descriptor) (*slot, error) {
	if b.cfg.Allocate != nil {
		if err := b.cfg.Allocate(desc); err != nil {
			return nil, errs.Wrap(errs.PoolExhausted, bucketKeyString(desc), "texture allocation failed", err)
		}
	}
	return &slot{id: p.nextID.Add(1), desc: desc, bucket: b}, nil
}

// Acquire returns a Handle wrapping a free slot in desc's bucket, per the
// four-step algorithm in §4.9: scan for a free slot, grow under InitialCap,
// then apply the bucket's exhaustion policy.
func (p *Pool) Acquire(desc gpu.Descriptor) (gpu.Handle, error) {
	b := p.bucketFor(desc)
	b.mu.Lock()

	if s := scanLocked(b); s != nil {
		b.mu.Unlock()
		p.report(desc)
		return &handle{slot: s, released: new(atomic.Bool)}, nil
	}

	if len(b.slots) < b.cfg.InitialCap {
		s, err := p.newSlotLocked(b, desc)
		if err != nil {
			b.mu.Unlock()
			return nil, err
		}
		s.inUse.Store(true)
		b.slots = append(b.slots, s)
		b.mu.Unlock()
		p.report(desc)
		return &handle{slot: s, released: new(atomic.Bool)}, nil
	}

	switch pol := b.cfg.Policy.(type) {
	case Block:
		s, err := p.blockAcquire(b, desc, pol.Timeout)
		b.mu.Unlock()
		if err != nil {
			if p.metrics != nil {
				p.metrics.PoolExhausted(bucketKeyString(desc))
			}
			return nil, err
		}
		p.report(desc)
		return &handle{slot: s, released: new(atomic.Bool)}, nil
	case GrowPool:
		if len(b.slots) < b.maxCap {
			s, err := p.newSlotLocked(b, desc)
			if err != nil {
				b.mu.Unlock()
				return nil, err
			}
			s.inUse.Store(true)
			b.slots = append(b.slots, s)
			b.mu.Unlock()
			p.report(desc)
			return &handle{slot: s, released: new(atomic.Bool)}, nil
		}
		b.mu.Unlock()
		if p.metrics != nil {
			p.metrics.PoolExhausted(bucketKeyString(desc))
		}
		return nil, errs.New(errs.PoolExhausted, bucketKeyString(desc), "bucket at max capacity")
	default: // ReturnError
		b.mu.Unlock()
		if p.metrics != nil {
			p.metrics.PoolExhausted(bucketKeyString(desc))
		}
		return nil, errs.New(errs.PoolExhausted, bucketKeyString(desc), "bucket exhausted")
	}
}

// scanLocked does the CAS flip-the-first-free-slot scan. Caller holds b.mu.
func scanLocked(b *bucket) *slot {
	for _, s := range b.slots {
		if s.inUse.CompareAndSwap(false, true) {
			return s
		}
	}
	return nil
}

// blockAcquire waits on b.cond until a slot frees or timeout elapses. Caller
// holds b.mu and retains it on return.
func (p *Pool) blockAcquire(b *bucket, desc gpu.Descriptor, timeout time.Duration) (*slot, error) {
	deadline := time.Now().Add(timeout)
	for {
		if s := scanLocked(b); s != nil {
			return s, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, errs.New(errs.PoolExhausted, bucketKeyString(desc), "acquire timed out")
		}
		timer := time.AfterFunc(remaining, func() {
			b.mu.Lock()
			b.cond.Broadcast()
			b.mu.Unlock()
		})
		b.cond.Wait()
		timer.Stop()
	}
}

func (p *Pool) report(desc gpu.Descriptor) {
	if p.metrics == nil {
		return
	}
	b := p.bucketFor(desc)
	b.mu.Lock()
	inUse, avail := occupancyLocked(b)
	b.mu.Unlock()
	p.metrics.PoolOccupancy(bucketKeyString(desc), inUse, avail)
}

func occupancyLocked(b *bucket) (inUse, available int) {
	for _, s := range b.slots {
		if s.inUse.Load() {
			inUse++
		} else {
			available++
		}
	}
	return
}

// Stats aggregates occupancy across every bucket.
func (p *Pool) Stats() gpu.PoolStats {
	p.mu.Lock()
	buckets := make([]*bucket, 0, len(p.buckets))
	for _, b := range p.buckets {
		buckets = append(buckets, b)
	}
	p.mu.Unlock()

	var st gpu.PoolStats
	st.BucketCount = len(buckets)
	for _, b := range buckets {
		b.mu.Lock()
		inUse, avail := occupancyLocked(b)
		b.mu.Unlock()
		st.InUseSlots += inUse
		st.AvailableSlots += avail
		st.TotalSlots += inUse + avail
	}
	return st
}

// handle is the ref-counted borrow returned by Acquire. Release is
// idempotent: only the first call flips the slot back to Available and
// wakes one waiter.
type handle struct {
	slot     *slot
	released *atomic.Bool
}

func (h *handle) Kind() gpu.HandleKind        { return gpu.PooledSlot }
func (h *handle) Descriptor() gpu.Descriptor  { return h.slot.desc }

func (h *handle) Release() {
	if !h.released.CompareAndSwap(false, true) {
		return
	}
	s := h.slot
	s.inUse.Store(false)
	b := s.bucket
	b.mu.Lock()
	b.cond.Signal()
	b.mu.Unlock()
}
