package decoder

import (
	"fmt"
	"math"
)

// PAL line timing.
const (
	LineFrequency     = 15625.0
	HSyncDuration     = 4.7e-6
	BackPorchDuration = 5.7e-6
)

const (
	// trailingSamples must sit above threshold after a pulse so that a long
	// noise dip is not mistaken for a sync.
	trailingSamples = 3
	// loopDivisor is the share of the timing error fed back per detection.
	loopDivisor = 16
	// lockBand bounds the line period estimate around its nominal value.
	lockBand = 0.05

	confidenceGain  = 0.1
	confidenceDecay = 0.9
)

// Geometry is the line timing expressed in working-rate samples.
type Geometry struct {
	SamplesPerLine int
	SyncWidth      int
	SearchWindow   int
	TimeoutMargin  int
	BackPorch      int
}

// NewGeometry derives the line timing for a working sample rate.
func NewGeometry(rate float64) (Geometry, error) {
	g := Geometry{
		SamplesPerLine: int(math.Round(rate / LineFrequency)),
		SyncWidth:      int(math.Round(HSyncDuration * rate)),
		BackPorch:      int(math.Round(BackPorchDuration * rate)),
	}
	g.SearchWindow = g.SamplesPerLine / 12
	g.TimeoutMargin = g.SearchWindow / 2

	if g.SyncWidth < 2 || g.SearchWindow < 1 {
		return Geometry{}, fmt.Errorf("decoder: working rate %.0f Hz is too low to resolve sync pulses", rate)
	}
	return g, nil
}

// SyncEvent says whether a sample closed the current line.
type SyncEvent int

const (
	// SyncNone means the line continues.
	SyncNone SyncEvent = iota
	// SyncDetected means a horizontal sync pulse was found inside the search window.
	SyncDetected
	// SyncTimeout means no pulse arrived in time and the line is forced through.
	SyncTimeout
)

func (e SyncEvent) String() string {
	switch e {
	case SyncDetected:
		return "detected"
	case SyncTimeout:
		return "timeout"
	default:
		return "none"
	}
}

// SyncTracker finds horizontal sync pulses in conditioned luminance and
// keeps a running estimate of where the next one is due. There is no line
// clock to lean on: the estimate is nudged by a fraction of every observed
// error and only pulses close to it are believed.
type SyncTracker struct {
	geo    Geometry
	tuning *Tuning

	history []float64
	pos     int

	nominal    float64
	expected   float64
	sinceSync  int
	confidence float64
}

// NewSyncTracker creates a tracker for geo. The sync threshold is read from
// tuning on every sample.
func NewSyncTracker(geo Geometry, tuning *Tuning) *SyncTracker {
	return &SyncTracker{
		geo:      geo,
		tuning:   tuning,
		history:  make([]float64, geo.SyncWidth+trailingSamples),
		nominal:  float64(geo.SamplesPerLine),
		expected: float64(geo.SamplesPerLine),
	}
}

// Process consumes one conditioned sample.
func (t *SyncTracker) Process(x float64) SyncEvent {
	t.history[t.pos] = x
	t.pos++
	if t.pos == len(t.history) {
		t.pos = 0
	}
	t.sinceSync++

	offset := float64(t.sinceSync) - t.expected
	window := float64(t.geo.SearchWindow)

	if math.Abs(offset) <= window && t.pulsePresent() {
		t.expected += offset / loopDivisor
		t.expected = math.Min(math.Max(t.expected, t.nominal*(1-lockBand)), t.nominal*(1+lockBand))
		t.confidence = math.Min(1, t.confidence+confidenceGain*(1-t.confidence))
		t.sinceSync = 0
		return SyncDetected
	}

	if offset > window+float64(t.geo.TimeoutMargin) {
		t.confidence *= confidenceDecay
		t.sinceSync = 0
		return SyncTimeout
	}
	return SyncNone
}

// pulsePresent reports whether the oldest SyncWidth samples in the history
// are mostly below threshold and the newest few are not.
func (t *SyncTracker) pulsePresent() bool {
	threshold := t.tuning.SyncThreshold()
	n := len(t.history)

	idx := t.pos // oldest sample
	below := 0
	for i := 0; i < t.geo.SyncWidth; i++ {
		if t.history[idx] < threshold {
			below++
		}
		idx++
		if idx == n {
			idx = 0
		}
	}
	if 2*below < t.geo.SyncWidth {
		return false
	}

	for i := 0; i < trailingSamples; i++ {
		if t.history[idx] < threshold {
			return false
		}
		idx++
		if idx == n {
			idx = 0
		}
	}
	return true
}

// InLine reports whether the most recent sample lies past the back porch
// and so belongs to the picture part of the line.
func (t *SyncTracker) InLine() bool { return t.sinceSync > t.geo.BackPorch }

// ExpectedPosition returns the current line period estimate in samples.
func (t *SyncTracker) ExpectedPosition() float64 { return t.expected }

// Confidence returns a score in [0, 1] of how reliably pulses are arriving.
func (t *SyncTracker) Confidence() float64 { return t.confidence }

// SamplesSinceSync returns the number of samples since the line was last closed.
func (t *SyncTracker) SamplesSinceSync() int { return t.sinceSync }
