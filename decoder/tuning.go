package decoder

import (
	"math"
	"sync/atomic"
)

// Default values for the runtime tunables.
const (
	DefaultVideoGain     = 1.5
	DefaultVideoOffset   = 0.0
	DefaultSyncThreshold = -0.2
)

// Tuning holds the parameters a UI may change while the decoder runs. Every
// field is read on next use; there is no guarantee that a gain and an offset
// set together land on the same line.
type Tuning struct {
	gain      atomic.Uint64
	offset    atomic.Uint64
	threshold atomic.Uint64
	invert    atomic.Bool
}

// NewTuning returns a Tuning holding the defaults.
func NewTuning() *Tuning {
	t := &Tuning{}
	t.SetGain(DefaultVideoGain)
	t.SetOffset(DefaultVideoOffset)
	t.SetSyncThreshold(DefaultSyncThreshold)
	return t
}

func (t *Tuning) Gain() float64          { return math.Float64frombits(t.gain.Load()) }
func (t *Tuning) SetGain(v float64)      { t.gain.Store(math.Float64bits(v)) }
func (t *Tuning) Offset() float64        { return math.Float64frombits(t.offset.Load()) }
func (t *Tuning) SetOffset(v float64)    { t.offset.Store(math.Float64bits(v)) }
func (t *Tuning) Invert() bool           { return t.invert.Load() }
func (t *Tuning) SetInvert(v bool)       { t.invert.Store(v) }
func (t *Tuning) SyncThreshold() float64 { return math.Float64frombits(t.threshold.Load()) }

// SetSyncThreshold sets the normalized level below which a sample counts
// towards a sync pulse.
func (t *Tuning) SetSyncThreshold(v float64) { t.threshold.Store(math.Float64bits(v)) }

// lineTuning is the snapshot the frame assembler works from for one line.
type lineTuning struct {
	gain   float64
	offset float64
	invert bool
}

func (t *Tuning) snapshot() lineTuning {
	return lineTuning{gain: t.Gain(), offset: t.Offset(), invert: t.Invert()}
}
