// Package decoder turns raw PAL-B/G I/Q samples into grayscale frames.
package decoder

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"palrx/dsp"
)

// Stats is a point-in-time view of the decoder's counters.
type Stats struct {
	Samples    uint64
	Lines      uint64
	Syncs      uint64
	Frames     uint64
	SyncRate   float64 // percentage of lines closed by a detected pulse
	AGCPeak    float64
	AGCTrough  float64
	LinePeriod float64 // current line period estimate in working samples
	Confidence float64
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithLogger sets the logger used for status messages.
func WithLogger(l *log.Logger) Option {
	return func(d *Decoder) { d.logger = l }
}

// WithTuning shares an existing set of tunables with the decoder.
func WithTuning(t *Tuning) Option {
	return func(d *Decoder) { d.tuning = t }
}

// WithFrameHandler registers fn to receive every completed frame.
func WithFrameHandler(fn func(*Frame)) Option {
	return func(d *Decoder) { d.onFrame = fn }
}

// Decoder processes I/Q samples into video frames. All processing happens
// on the caller's goroutine; only Stats and Tuning may be used concurrently.
type Decoder struct {
	geo       Geometry
	cond      *dsp.Conditioner
	tracker   *SyncTracker
	assembler *FrameAssembler
	tuning    *Tuning
	onFrame   func(*Frame)
	logger    *log.Logger

	samples atomic.Uint64
	lines   atomic.Uint64
	syncs   atomic.Uint64
	frames  atomic.Uint64

	agcPeak    atomic.Uint64
	agcTrough  atomic.Uint64
	linePeriod atomic.Uint64
	confidence atomic.Uint64
}

// New creates a Decoder. All configuration errors surface here.
func New(cfg dsp.ConditionerConfig, opts ...Option) (*Decoder, error) {
	cond, err := dsp.NewConditioner(cfg)
	if err != nil {
		return nil, fmt.Errorf("signal conditioner: %w", err)
	}
	geo, err := NewGeometry(cfg.OutputRate())
	if err != nil {
		return nil, err
	}

	d := &Decoder{
		geo:       geo,
		cond:      cond,
		assembler: NewFrameAssembler(geo.SamplesPerLine),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.tuning == nil {
		d.tuning = NewTuning()
	}
	if d.logger == nil {
		d.logger = log.Default()
	}
	d.tracker = NewSyncTracker(geo, d.tuning)
	d.publish()

	d.logger.Info("decoder initialized",
		"sample_rate", cfg.SampleRate,
		"working_rate", cfg.OutputRate(),
		"samples_per_line", geo.SamplesPerLine,
		"hsync_width", geo.SyncWidth,
		"frame", fmt.Sprintf("%dx%d", geo.SamplesPerLine, VisibleLines))
	return d, nil
}

// OnFrame replaces the frame handler. It must be set before processing
// starts; the handler runs on the processing goroutine and must copy or
// hand off the frame quickly.
func (d *Decoder) OnFrame(fn func(*Frame)) { d.onFrame = fn }

// Tuning returns the decoder's live tunables.
func (d *Decoder) Tuning() *Tuning { return d.tuning }

// Geometry returns the line timing in working-rate samples.
func (d *Decoder) Geometry() Geometry { return d.geo }

// ProcessBytes decodes interleaved signed 8-bit I/Q pairs and runs them
// through the demodulator. A trailing odd byte is ignored.
func (d *Decoder) ProcessBytes(iq []byte) {
	n := len(iq) / 2
	for i := 0; i < n; i++ {
		re := float64(int8(iq[2*i])) / 128
		im := float64(int8(iq[2*i+1])) / 128
		d.process(complex(re, im))
	}
	d.samples.Add(uint64(n))
	d.publish()
}

// ProcessSamples runs already-decoded complex samples through the demodulator.
func (d *Decoder) ProcessSamples(samples []complex128) {
	for _, s := range samples {
		d.process(s)
	}
	d.samples.Add(uint64(len(samples)))
	d.publish()
}

func (d *Decoder) process(s complex128) {
	luma, ok := d.cond.Process(s)
	if !ok {
		return
	}

	switch d.tracker.Process(luma) {
	case SyncDetected:
		d.syncs.Add(1)
		d.finalizeLine()
	case SyncTimeout:
		d.finalizeLine()
	default:
		if d.tracker.InLine() {
			d.assembler.Append(luma)
		}
	}
}

func (d *Decoder) finalizeLine() {
	d.lines.Add(1)
	frame := d.assembler.FinalizeLine(d.tuning)
	if frame == nil {
		return
	}
	d.frames.Add(1)
	if d.onFrame != nil {
		d.onFrame(frame)
	}
	if frame.Seq%25 == 0 {
		st := d.Stats()
		d.logger.Debug("frame complete",
			"seq", frame.Seq,
			"sync_rate", fmt.Sprintf("%.1f%%", st.SyncRate),
			"line_period", fmt.Sprintf("%.2f", st.LinePeriod),
			"confidence", fmt.Sprintf("%.2f", st.Confidence))
	}
}

func (d *Decoder) publish() {
	peak, trough := d.cond.Levels()
	d.agcPeak.Store(math.Float64bits(peak))
	d.agcTrough.Store(math.Float64bits(trough))
	d.linePeriod.Store(math.Float64bits(d.tracker.ExpectedPosition()))
	d.confidence.Store(math.Float64bits(d.tracker.Confidence()))
}

// Stats returns the current counters. Safe to call from any goroutine.
func (d *Decoder) Stats() Stats {
	st := Stats{
		Samples:    d.samples.Load(),
		Lines:      d.lines.Load(),
		Syncs:      d.syncs.Load(),
		Frames:     d.frames.Load(),
		AGCPeak:    math.Float64frombits(d.agcPeak.Load()),
		AGCTrough:  math.Float64frombits(d.agcTrough.Load()),
		LinePeriod: math.Float64frombits(d.linePeriod.Load()),
		Confidence: math.Float64frombits(d.confidence.Load()),
	}
	if st.Lines > 0 {
		st.SyncRate = 100 * float64(st.Syncs) / float64(st.Lines)
	}
	return st
}
