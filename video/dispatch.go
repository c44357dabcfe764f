package video

import (
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"palrx/decoder"
)

// Sink consumes decoded frames. WriteFrame may block; the dispatcher keeps
// slow sinks from holding up the decoder.
type Sink interface {
	Name() string
	WriteFrame(f *decoder.Frame) error
	Close() error
}

// SinkStats counts frames per sink.
type SinkStats struct {
	Sent    uint64
	Dropped uint64
	Errors  uint64
}

type sinkSlot struct {
	sink    Sink
	ch      chan *decoder.Frame
	sent    atomic.Uint64
	dropped atomic.Uint64
	errors  atomic.Uint64
}

// Dispatcher hands frames to sinks without ever blocking the publisher. A
// sink that is still busy with an earlier frame misses the new one.
type Dispatcher struct {
	logger *log.Logger
	slots  []*sinkSlot
	wg     sync.WaitGroup
	closed atomic.Bool
}

// NewDispatcher starts one goroutine per sink. Each sink may have depth
// frames waiting before new ones are dropped.
func NewDispatcher(logger *log.Logger, depth int, sinks ...Sink) *Dispatcher {
	if depth < 1 {
		depth = 1
	}
	d := &Dispatcher{logger: logger}
	for _, s := range sinks {
		slot := &sinkSlot{sink: s, ch: make(chan *decoder.Frame, depth)}
		d.slots = append(d.slots, slot)
		d.wg.Add(1)
		go d.drain(slot)
	}
	return d
}

func (d *Dispatcher) drain(slot *sinkSlot) {
	defer d.wg.Done()
	failing := false
	for f := range slot.ch {
		if err := slot.sink.WriteFrame(f); err != nil {
			slot.errors.Add(1)
			if !failing {
				d.logger.Warn("frame sink failed", "sink", slot.sink.Name(), "err", err)
				failing = true
			}
			continue
		}
		failing = false
		slot.sent.Add(1)
	}
}

// Publish offers f to every sink. Sinks share f and must not modify it.
func (d *Dispatcher) Publish(f *decoder.Frame) {
	if d.closed.Load() {
		return
	}
	for _, slot := range d.slots {
		select {
		case slot.ch <- f:
		default:
			slot.dropped.Add(1)
		}
	}
}

// Stats returns per-sink counters keyed by sink name.
func (d *Dispatcher) Stats() map[string]SinkStats {
	out := make(map[string]SinkStats, len(d.slots))
	for _, slot := range d.slots {
		out[slot.sink.Name()] = SinkStats{
			Sent:    slot.sent.Load(),
			Dropped: slot.dropped.Load(),
			Errors:  slot.errors.Load(),
		}
	}
	return out
}

// Close waits for queued frames to be written and closes every sink.
// Publish must not be called concurrently with Close.
func (d *Dispatcher) Close() error {
	if d.closed.Swap(true) {
		return nil
	}
	for _, slot := range d.slots {
		close(slot.ch)
	}
	d.wg.Wait()

	var first error
	for _, slot := range d.slots {
		if err := slot.sink.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
