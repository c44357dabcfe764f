// Package worker drains the sample ring on a dedicated goroutine and feeds
// the bytes to the decoder.
package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

// Defaults for the acquisition loop. The chunk size matches one HackRF USB
// transfer.
const (
	DefaultChunkSize  = 262144
	DefaultIdleSleep  = 100 * time.Microsecond
	DefaultStatsEvery = 100
)

// Buffer is the consumer side of the sample ring.
type Buffer interface {
	Cap() int
	Available() int
	Read(dst []byte) int
	DroppedFrames() uint64
	DroppedBytes() uint64
}

// Processor consumes interleaved signed 8-bit I/Q bytes.
type Processor interface {
	ProcessBytes(iq []byte)
}

// BufferStats reports the state of the ring as seen by the worker.
type BufferStats struct {
	Available     int
	Capacity      int
	DroppedFrames uint64
	DroppedBytes  uint64
	Processed     uint64 // I/Q samples handed to the processor
}

// Fill returns the fraction of the ring currently holding unread data.
func (s BufferStats) Fill() float64 {
	if s.Capacity == 0 {
		return 0
	}
	return float64(s.Available) / float64(s.Capacity)
}

// Option configures a Worker.
type Option func(*Worker)

// WithChunkSize sets the largest read handed to the processor at once. Odd
// sizes are rounded down so that I/Q pairs are never split.
func WithChunkSize(n int) Option {
	return func(w *Worker) { w.chunkSize = n }
}

// WithIdleSleep sets how long the loop sleeps when the ring is empty.
func WithIdleSleep(d time.Duration) Option {
	return func(w *Worker) { w.idle = d }
}

// WithStatsObserver registers fn to be called every n loop iterations with
// the current buffer state. fn runs on the worker goroutine.
func WithStatsObserver(n int, fn func(BufferStats)) Option {
	return func(w *Worker) {
		w.statsEvery = n
		w.observer = fn
	}
}

// WithLogger sets the logger used for lifecycle messages.
func WithLogger(l *log.Logger) Option {
	return func(w *Worker) { w.logger = l }
}

// Worker is the single consumer of a Buffer.
type Worker struct {
	buf  Buffer
	proc Processor

	chunkSize  int
	idle       time.Duration
	statsEvery int
	observer   func(BufferStats)
	logger     *log.Logger

	chunk     []byte
	processed atomic.Uint64
	stop      atomic.Bool
	running   atomic.Bool
	wg        sync.WaitGroup
}

// New creates a Worker reading from buf into proc. It does not start it.
func New(buf Buffer, proc Processor, opts ...Option) *Worker {
	w := &Worker{
		buf:        buf,
		proc:       proc,
		chunkSize:  DefaultChunkSize,
		idle:       DefaultIdleSleep,
		statsEvery: DefaultStatsEvery,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = log.Default()
	}
	w.chunkSize &^= 1
	if w.chunkSize < 2 {
		w.chunkSize = 2
	}
	if w.statsEvery < 1 {
		w.statsEvery = DefaultStatsEvery
	}
	w.chunk = make([]byte, w.chunkSize)
	return w
}

// Start launches the acquisition loop on its own goroutine. Calling Start on
// a running worker does nothing.
func (w *Worker) Start() {
	if w.running.Swap(true) {
		return
	}
	w.stop.Store(false)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer w.running.Store(false)
		_ = w.Run(context.Background())
	}()
}

// Stop asks the loop to exit after the current chunk and waits for it.
func (w *Worker) Stop() {
	w.stop.Store(true)
	w.wg.Wait()
}

// Run executes the acquisition loop on the calling goroutine until Stop is
// called or ctx is done. It returns ctx.Err() when cancelled and nil when
// stopped.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Debug("acquisition started", "chunk", w.chunkSize)
	defer func() {
		w.logger.Debug("acquisition stopped", "processed_samples", w.processed.Load())
	}()

	for iter := 1; !w.stop.Load(); iter++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if n := w.readChunk(); n > 0 {
			w.proc.ProcessBytes(w.chunk[:n])
			w.processed.Add(uint64(n / 2))
		} else {
			time.Sleep(w.idle)
		}

		if w.observer != nil && iter%w.statsEvery == 0 {
			w.observer(w.Stats())
		}
	}
	return nil
}

// readChunk takes a full chunk when one is ready and otherwise whatever whole
// I/Q pairs are waiting.
func (w *Worker) readChunk() int {
	avail := w.buf.Available()
	if avail >= len(w.chunk) {
		return w.buf.Read(w.chunk)
	}
	avail &^= 1
	if avail == 0 {
		return 0
	}
	return w.buf.Read(w.chunk[:avail])
}

// Processed returns the number of I/Q samples handed to the processor.
func (w *Worker) Processed() uint64 { return w.processed.Load() }

// Stats returns the current buffer state. Safe to call from any goroutine.
func (w *Worker) Stats() BufferStats {
	return BufferStats{
		Available:     w.buf.Available(),
		Capacity:      w.buf.Cap(),
		DroppedFrames: w.buf.DroppedFrames(),
		DroppedBytes:  w.buf.DroppedBytes(),
		Processed:     w.processed.Load(),
	}
}
