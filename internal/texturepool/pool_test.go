package texturepool_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fluxcore/streamgraph/internal/gpu"
	"github.com/fluxcore/streamgraph/internal/texturepool"
)

func desc() gpu.Descriptor {
	return gpu.Descriptor{Width: 1920, Height: 1080, Format: "rgba8", Usage: "render-target"}
}

func TestAcquireReturnErrorExhaustsAtInitialCap(t *testing.T) {
	p := texturepool.New(nil)
	d := desc()
	p.Configure(d, texturepool.BucketConfig{InitialCap: 1, Policy: texturepool.ReturnError{}})

	h1, err := p.Acquire(d)
	require.NoError(t, err)

	_, err = p.Acquire(d)
	require.Error(t, err)

	h1.Release()
	h2, err := p.Acquire(d)
	require.NoError(t, err)
	h2.Release()
}

func TestAcquireGrowPoolGrowsUpToMax(t *testing.T) {
	p := texturepool.New(nil)
	d := desc()
	p.Configure(d, texturepool.BucketConfig{InitialCap: 1, Policy: texturepool.GrowPool{Max: 2}})

	h1, err := p.Acquire(d)
	require.NoError(t, err)
	h2, err := p.Acquire(d)
	require.NoError(t, err)

	_, err = p.Acquire(d)
	require.Error(t, err)

	h1.Release()
	h2.Release()
}

func TestAcquireBlockWaitsForRelease(t *testing.T) {
	p := texturepool.New(nil)
	d := desc()
	p.Configure(d, texturepool.BucketConfig{InitialCap: 1, Policy: texturepool.Block{Timeout: time.Second}})

	h1, err := p.Acquire(d)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	var h2 gpu.Handle
	var acquireErr error
	go func() {
		defer wg.Done()
		h2, acquireErr = p.Acquire(d)
	}()

	time.Sleep(20 * time.Millisecond)
	h1.Release()
	wg.Wait()

	require.NoError(t, acquireErr)
	require.NotNil(t, h2)
	h2.Release()
}

func TestReleaseWakesExactlyOneWaiter(t *testing.T) {
	p := texturepool.New(nil)
	d := desc()
	p.Configure(d, texturepool.BucketConfig{InitialCap: 1, Policy: texturepool.Block{Timeout: time.Second}})

	h1, err := p.Acquire(d)
	require.NoError(t, err)

	var wg sync.WaitGroup
	woken := make(chan int, 2)
	hold := make(chan struct{})
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := p.Acquire(d)
			if err == nil {
				woken <- 1
				<-hold
				h.Release()
			}
		}()
	}

	time.Sleep(20 * time.Millisecond)
	h1.Release()

	// Only one slot is ever free at a time, so only one blocked goroutine
	// should wake and acquire it; the other stays parked until that handle
	// is released in turn (after hold closes), at which point it wakes and
	// acquires as well. Within this window exactly one must have made it
	// through.
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, 1, len(woken), "release must wake exactly one waiter, not both")

	close(hold)
	wg.Wait()
	close(woken)
	require.Equal(t, 2, len(woken))
}

func TestAcquireBlockTimesOut(t *testing.T) {
	p := texturepool.New(nil)
	d := desc()
	p.Configure(d, texturepool.BucketConfig{InitialCap: 1, Policy: texturepool.Block{Timeout: 20 * time.Millisecond}})

	h1, err := p.Acquire(d)
	require.NoError(t, err)
	defer h1.Release()

	_, err = p.Acquire(d)
	require.Error(t, err)
}

func TestReleaseIsIdempotent(t *testing.T) {
	p := texturepool.New(nil)
	d := desc()
	p.Configure(d, texturepool.BucketConfig{InitialCap: 1, Policy: texturepool.ReturnError{}})

	h1, err := p.Acquire(d)
	require.NoError(t, err)
	h1.Release()
	h1.Release() // second release must not double-free or panic

	h2, err := p.Acquire(d)
	require.NoError(t, err)
	h2.Release()
}

func TestPrewarmAllocatesUpFront(t *testing.T) {
	p := texturepool.New(nil)
	d := desc()
	p.Configure(d, texturepool.BucketConfig{InitialCap: 4, Policy: texturepool.ReturnError{}})
	require.NoError(t, p.Prewarm(d, 2))

	st := p.Stats()
	require.Equal(t, 2, st.TotalSlots)
	require.Equal(t, 2, st.AvailableSlots)
}

func TestStatsAggregatesAcrossBuckets(t *testing.T) {
	p := texturepool.New(nil)
	d1 := desc()
	d2 := gpu.Descriptor{Width: 640, Height: 480, Format: "rgba8", Usage: "render-target"}
	p.Configure(d1, texturepool.BucketConfig{InitialCap: 2, Policy: texturepool.ReturnError{}})
	p.Configure(d2, texturepool.BucketConfig{InitialCap: 2, Policy: texturepool.ReturnError{}})

	h1, err := p.Acquire(d1)
	require.NoError(t, err)
	defer h1.Release()
	h2, err := p.Acquire(d2)
	require.NoError(t, err)
	defer h2.Release()

	st := p.Stats()
	require.Equal(t, 2, st.BucketCount)
	require.Equal(t, 2, st.InUseSlots)
}
