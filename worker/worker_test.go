package worker

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"palrx/ringbuffer"
)

type recorder struct {
	mu    sync.Mutex
	data  []byte
	sizes []int
}

func (r *recorder) ProcessBytes(iq []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data = append(r.data, iq...)
	r.sizes = append(r.sizes, len(iq))
}

func (r *recorder) snapshot() ([]byte, []int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]byte(nil), r.data...), append([]int(nil), r.sizes...)
}

func quiet() Option { return WithLogger(log.New(io.Discard)) }

func TestWorker_DeliversEverythingInOrder(t *testing.T) {
	rb := ringbuffer.New(1 << 12)
	rec := &recorder{}
	w := New(rb, rec, quiet(), WithChunkSize(512), WithIdleSleep(10*time.Microsecond))
	w.Start()
	defer w.Stop()

	want := make([]byte, 1<<16)
	for i := range want {
		want[i] = byte(i * 7)
	}
	for off := 0; off < len(want); {
		n := min(300, len(want)-off)
		if rb.Write(want[off : off+n]) {
			off += n
		} else {
			time.Sleep(50 * time.Microsecond)
		}
	}

	require.Eventually(t, func() bool {
		return w.Processed() == uint64(len(want)/2)
	}, 5*time.Second, time.Millisecond)

	got, sizes := rec.snapshot()
	assert.Equal(t, want, got)
	for _, n := range sizes {
		assert.LessOrEqual(t, n, 512)
		assert.Zero(t, n%2, "reads must keep I/Q pairs together")
	}
}

func TestWorker_TakesFullChunksFirst(t *testing.T) {
	rb := ringbuffer.New(4096)
	require.True(t, rb.Write(make([]byte, 1000)))

	rec := &recorder{}
	w := New(rb, rec, quiet(), WithChunkSize(256))
	w.Start()
	require.Eventually(t, func() bool { return w.Processed() == 500 }, 5*time.Second, time.Millisecond)
	w.Stop()

	_, sizes := rec.snapshot()
	assert.Equal(t, []int{256, 256, 256, 232}, sizes)
}

func TestWorker_LeavesOddByte(t *testing.T) {
	rb := ringbuffer.New(64)
	require.True(t, rb.Write([]byte{1, 2, 3}))

	rec := &recorder{}
	w := New(rb, rec, quiet())
	w.Start()
	require.Eventually(t, func() bool { return w.Processed() == 1 }, 5*time.Second, time.Millisecond)
	w.Stop()

	got, _ := rec.snapshot()
	assert.Equal(t, []byte{1, 2}, got)
	assert.Equal(t, 1, rb.Available())
}

func TestWorker_ReportsStats(t *testing.T) {
	rb := ringbuffer.New(16)
	require.False(t, rb.Write(make([]byte, 32)))

	var mu sync.Mutex
	var reports []BufferStats
	w := New(rb, &recorder{}, quiet(),
		WithIdleSleep(time.Microsecond),
		WithStatsObserver(5, func(s BufferStats) {
			mu.Lock()
			reports = append(reports, s)
			mu.Unlock()
		}))
	w.Start()
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(reports) >= 3
	}, 5*time.Second, time.Millisecond)
	w.Stop()

	mu.Lock()
	defer mu.Unlock()
	last := reports[len(reports)-1]
	assert.Equal(t, 16, last.Capacity)
	assert.Equal(t, 0, last.Available)
	assert.Equal(t, uint64(1), last.DroppedFrames)
	assert.Equal(t, uint64(32), last.DroppedBytes)
	assert.Zero(t, last.Fill())
}

func TestWorker_StopJoins(t *testing.T) {
	rb := ringbuffer.New(64)
	rec := &recorder{}
	w := New(rb, rec, quiet())

	w.Stop() // not started: no-op
	w.Start()
	w.Start()
	w.Stop()

	require.True(t, rb.Write([]byte{1, 2}))
	time.Sleep(5 * time.Millisecond)
	assert.Zero(t, w.Processed(), "a stopped worker must not consume data")
	assert.Equal(t, 2, rb.Available())

	// A stopped worker can be restarted.
	w.Start()
	require.Eventually(t, func() bool { return w.Processed() == 1 }, 5*time.Second, time.Millisecond)
	w.Stop()
}

func TestWorker_RunHonoursContext(t *testing.T) {
	rb := ringbuffer.New(64)
	w := New(rb, &recorder{}, quiet())

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- w.Run(ctx) }()
	cancel()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestBufferStats_Fill(t *testing.T) {
	assert.Zero(t, BufferStats{}.Fill())
	assert.InDelta(t, 0.25, BufferStats{Available: 4, Capacity: 16}.Fill(), 1e-12)
}
