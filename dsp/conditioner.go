package dsp

import (
	"errors"
	"fmt"
	"math"
)

// DCBlocker is a single-pole high-pass filter:
// y[n] = x[n] - x[n-1] + alpha*y[n-1].
type DCBlocker struct {
	alpha  float64
	x1, y1 float64
}

// NewDCBlocker creates a DC blocker. An alpha of 1 passes the input through
// untouched.
func NewDCBlocker(alpha float64) *DCBlocker {
	return &DCBlocker{alpha: alpha}
}

// Filter applies the blocker to a single sample.
func (d *DCBlocker) Filter(x float64) float64 {
	y := x - d.x1 + d.alpha*d.y1
	d.x1 = x
	d.y1 = y
	return y
}

const (
	agcPeakFloor    = 0.01
	agcTroughCeil   = -0.01
	agcMinimumRange = 0.1
)

// AGC maps its input into [-1, 1] using a tracked peak and trough. New
// extremes are followed quickly (attack), otherwise both levels relax
// towards zero (decay).
type AGC struct {
	attack float64
	decay  float64
	peak   float64
	trough float64
}

// NewAGC creates an AGC starting from its floor levels.
func NewAGC(attack, decay float64) *AGC {
	return &AGC{
		attack: attack,
		decay:  decay,
		peak:   agcPeakFloor,
		trough: agcTroughCeil,
	}
}

// Process updates the tracked levels with x and returns the normalized sample.
func (a *AGC) Process(x float64) float64 {
	if mag := math.Abs(x); mag > a.peak {
		a.peak += a.attack * (mag - a.peak)
	} else {
		a.peak *= a.decay
	}
	if x < a.trough {
		a.trough += a.attack * (x - a.trough)
	} else {
		a.trough *= a.decay
	}

	a.peak = math.Max(a.peak, agcPeakFloor)
	a.trough = math.Min(a.trough, agcTroughCeil)

	span := math.Max(a.peak-a.trough, agcMinimumRange)
	return clip(2*(x-a.trough)/span-1, -1, 1)
}

// Peak returns the tracked peak level.
func (a *AGC) Peak() float64 { return a.peak }

// Trough returns the tracked trough level.
func (a *AGC) Trough() float64 { return a.trough }

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ConditionerConfig describes the filter chain of a Conditioner.
type ConditionerConfig struct {
	SampleRate   float64 // input I/Q rate in Hz
	Decimation   int     // keep one of every Decimation samples
	VideoCutoff  float64 // complex video filter cutoff in Hz at SampleRate
	VideoTaps    int
	LumaCutoff   float64 // luma filter cutoff in Hz at SampleRate/Decimation
	LumaTaps     int
	DCBlockAlpha float64
	AGCAttack    float64
	AGCDecay     float64
}

// DefaultConditionerConfig returns the PAL-B/G chain used with an 18 MHz
// HackRF stream: 5 MHz video filter, decimation to 6 MHz and a 2.5 MHz luma
// filter.
func DefaultConditionerConfig() ConditionerConfig {
	return ConditionerConfig{
		SampleRate:   18_000_000,
		Decimation:   3,
		VideoCutoff:  5_000_000,
		VideoTaps:    65,
		LumaCutoff:   2_500_000,
		LumaTaps:     65,
		DCBlockAlpha: 0.98,
		AGCAttack:    0.05,
		AGCDecay:     0.999,
	}
}

// OutputRate returns the rate of the samples Process emits.
func (c ConditionerConfig) OutputRate() float64 {
	return c.SampleRate / float64(c.Decimation)
}

// Conditioner turns raw complex samples into normalized luminance at the
// decimated working rate.
type Conditioner struct {
	video *ComplexFIR
	luma  *RealFIR
	dc    *DCBlocker
	agc   *AGC

	decimation int
	counter    int
}

// NewConditioner validates cfg and designs both filters.
func NewConditioner(cfg ConditionerConfig) (*Conditioner, error) {
	if cfg.Decimation < 1 {
		return nil, fmt.Errorf("dsp: decimation must be at least 1, got %d", cfg.Decimation)
	}
	if cfg.DCBlockAlpha <= 0 || cfg.DCBlockAlpha > 1 {
		return nil, errors.New("dsp: DC blocker alpha must be in (0, 1]")
	}
	if cfg.AGCAttack <= 0 || cfg.AGCAttack > 1 || cfg.AGCDecay <= 0 || cfg.AGCDecay > 1 {
		return nil, errors.New("dsp: AGC attack and decay must be in (0, 1]")
	}

	videoTaps, err := DesignLowPassFIR(cfg.VideoCutoff, cfg.SampleRate, cfg.VideoTaps)
	if err != nil {
		return nil, fmt.Errorf("video filter: %w", err)
	}
	lumaTaps, err := DesignLowPassFIR(cfg.LumaCutoff, cfg.OutputRate(), cfg.LumaTaps)
	if err != nil {
		return nil, fmt.Errorf("luma filter: %w", err)
	}

	return &Conditioner{
		video:      NewComplexFIR(videoTaps),
		luma:       NewRealFIR(lumaTaps),
		dc:         NewDCBlocker(cfg.DCBlockAlpha),
		agc:        NewAGC(cfg.AGCAttack, cfg.AGCDecay),
		decimation: cfg.Decimation,
	}, nil
}

// Process runs one input sample through the chain. The DC blocker and AGC
// see every sample; only every Nth sample reaches the luma filter, and only
// then is ok true.
func (c *Conditioner) Process(s complex128) (out float64, ok bool) {
	filtered := c.video.Filter(s)
	envelope := math.Sqrt(real(filtered)*real(filtered) + imag(filtered)*imag(filtered))
	normalized := c.agc.Process(c.dc.Filter(envelope))

	c.counter++
	if c.counter < c.decimation {
		return 0, false
	}
	c.counter = 0
	return c.luma.Filter(normalized), true
}

// Levels returns the AGC's current peak and trough.
func (c *Conditioner) Levels() (peak, trough float64) {
	return c.agc.Peak(), c.agc.Trough()
}
