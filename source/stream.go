// Package source feeds recorded or synthetic I/Q into the receive chain
// the same way a radio driver does: fixed-size chunks handed to a sink from
// a background goroutine, paced to the nominal sample rate.
package source

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"palrx/sdr"
)

// DefaultChunkSize matches the HackRF USB transfer size.
const DefaultChunkSize = 262144

// ErrRunning is returned by Start when the source is already streaming.
var ErrRunning = errors.New("source: already streaming")

type options struct {
	chunk  int
	loop   bool
	paced  bool
	logger *log.Logger
}

// Option configures a source.
type Option func(*options)

// WithChunkSize sets the number of bytes handed to the sink per write. Odd
// sizes are rounded down.
func WithChunkSize(n int) Option {
	return func(o *options) {
		if n &^= 1; n >= 2 {
			o.chunk = n
		}
	}
}

// WithLoop restarts finite inputs from the beginning when they run out.
func WithLoop(loop bool) Option {
	return func(o *options) { o.loop = loop }
}

// Unpaced delivers chunks as fast as the sink takes them.
func Unpaced() Option {
	return func(o *options) { o.paced = false }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(opts []Option) options {
	o := options{chunk: DefaultChunkSize, paced: true}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = log.Default()
	}
	return o
}

// fillFunc writes up to len(buf) bytes of I/Q, always an even count. It
// returns io.EOF once the input is exhausted.
type fillFunc func(buf []byte) (int, error)

// stream runs a fillFunc on its own goroutine and pushes the results into a
// sink at rate complex samples per second.
type stream struct {
	name string
	rate float64
	opts options
	fill fillFunc

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
	err  error

	written atomic.Uint64
	dropped atomic.Uint64
}

func newStream(name string, rate float64, o options, fill fillFunc) *stream {
	return &stream{name: name, rate: rate, opts: o, fill: fill}
}

// Start begins streaming into sink.
func (s *stream) Start(sink sdr.Sink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return ErrRunning
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.err = nil
	go s.run(sink, s.stop, s.done)

	s.opts.logger.Info("source streaming", "source", s.name,
		"rate_msps", s.rate/1e6, "chunk", s.opts.chunk, "loop", s.opts.loop)
	return nil
}

func (s *stream) run(sink sdr.Sink, stop, done chan struct{}) {
	defer close(done)

	buf := make([]byte, s.opts.chunk)
	var tick <-chan time.Time
	if s.opts.paced && s.rate > 0 {
		interval := time.Duration(float64(len(buf)/2) / s.rate * float64(time.Second))
		t := time.NewTicker(max(interval, time.Microsecond))
		defer t.Stop()
		tick = t.C
	}

	for {
		n, err := s.fill(buf)
		if n > 0 {
			if tick != nil {
				select {
				case <-stop:
					return
				case <-tick:
				}
			} else {
				select {
				case <-stop:
					return
				default:
				}
			}
			if sink.Write(buf[:n]) {
				s.written.Add(uint64(n))
			} else {
				s.dropped.Add(1)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.opts.logger.Info("end of input", "source", s.name, "bytes", s.written.Load())
			} else {
				s.opts.logger.Error("source failed", "source", s.name, "err", err)
				s.mu.Lock()
				s.err = err
				s.mu.Unlock()
			}
			return
		}
	}
}

// Stop halts streaming and waits for the goroutine to exit.
func (s *stream) Stop() error {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop = nil
	s.mu.Unlock()
	if stop == nil {
		return nil
	}
	close(stop)
	<-done
	return nil
}

// Done is closed when the current run ends, either through Stop or because
// the input ran out. It is nil before the first Start.
func (s *stream) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Err returns the read error that ended the last run, if any.
func (s *stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Written returns the number of bytes the sink accepted.
func (s *stream) Written() uint64 { return s.written.Load() }

// Dropped returns the number of chunks the sink refused.
func (s *stream) Dropped() uint64 { return s.dropped.Load() }
