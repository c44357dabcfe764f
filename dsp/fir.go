package dsp

import (
	"errors"
	"fmt"
	"math"

	"github.com/mjibson/go-dsp/window"
	"gonum.org/v1/gonum/floats"
)

var (
	// ErrInvalidTaps is returned for a tap count that is not a positive odd number.
	ErrInvalidTaps = errors.New("dsp: tap count must be a positive odd number")
	// ErrInvalidCutoff is returned for a cutoff outside (0, sampleRate/2).
	ErrInvalidCutoff = errors.New("dsp: cutoff must be between 0 and the Nyquist frequency")
)

// Taps is an immutable set of FIR coefficients.
type Taps struct {
	c []float64
}

// Len returns the number of coefficients.
func (t Taps) Len() int { return len(t.c) }

// At returns coefficient i.
func (t Taps) At(i int) float64 { return t.c[i] }

// Sum returns the DC gain of the filter.
func (t Taps) Sum() float64 { return floats.Sum(t.c) }

// Coefficients returns a copy of the coefficients.
func (t Taps) Coefficients() []float64 {
	out := make([]float64, len(t.c))
	copy(out, t.c)
	return out
}

// DesignLowPassFIR creates a low-pass FIR filter using the windowed-sinc
// method with a Hamming window, normalized for unity gain at DC.
func DesignLowPassFIR(cutoffHz, sampleRateHz float64, numTaps int) (Taps, error) {
	if numTaps <= 0 || numTaps%2 == 0 {
		return Taps{}, fmt.Errorf("%w: got %d", ErrInvalidTaps, numTaps)
	}
	if sampleRateHz <= 0 || cutoffHz <= 0 || cutoffHz >= sampleRateHz/2 {
		return Taps{}, fmt.Errorf("%w: cutoff %.0f Hz at %.0f Hz", ErrInvalidCutoff, cutoffHz, sampleRateHz)
	}

	taps := make([]float64, numTaps)
	if numTaps == 1 {
		taps[0] = 1
		return Taps{c: taps}, nil
	}

	fc := cutoffHz / sampleRateHz
	M := float64(numTaps - 1)
	for n := range taps {
		m := float64(n) - M/2
		if m == 0 {
			taps[n] = 2 * fc
		} else {
			taps[n] = math.Sin(2*math.Pi*fc*m) / (math.Pi * m)
		}
	}
	window.Apply(taps, window.Hamming)

	// A sum this close to zero means a degenerate design; leave it alone
	// rather than blow the taps up.
	if sum := floats.Sum(taps); math.Abs(sum) > 1e-12 {
		floats.Scale(1/sum, taps)
	}
	return Taps{c: taps}, nil
}

// ComplexFIR filters complex samples one at a time. The delay line is kept
// most-recent-first so history[i] lines up with tap i.
type ComplexFIR struct {
	taps    []float64
	history []complex128
	filled  int
	head    int
}

// NewComplexFIR creates a filter over the given taps.
func NewComplexFIR(taps Taps) *ComplexFIR {
	return &ComplexFIR{
		taps:    taps.c,
		history: make([]complex128, len(taps.c)),
	}
}

// Filter pushes x into the delay line and returns one output sample. Until
// the delay line is full only the samples seen so far contribute.
func (f *ComplexFIR) Filter(x complex128) complex128 {
	n := len(f.history)
	f.head--
	if f.head < 0 {
		f.head = n - 1
	}
	f.history[f.head] = x
	if f.filled < n {
		f.filled++
	}

	var re, im float64
	idx := f.head
	for i := 0; i < f.filled; i++ {
		h := f.history[idx]
		re += real(h) * f.taps[i]
		im += imag(h) * f.taps[i]
		idx++
		if idx == n {
			idx = 0
		}
	}
	return complex(re, im)
}

// RealFIR is the real-valued counterpart of ComplexFIR.
type RealFIR struct {
	taps    []float64
	history []float64
	filled  int
	head    int
}

// NewRealFIR creates a filter over the given taps.
func NewRealFIR(taps Taps) *RealFIR {
	return &RealFIR{
		taps:    taps.c,
		history: make([]float64, len(taps.c)),
	}
}

// Filter pushes x into the delay line and returns one output sample.
func (f *RealFIR) Filter(x float64) float64 {
	n := len(f.history)
	f.head--
	if f.head < 0 {
		f.head = n - 1
	}
	f.history[f.head] = x
	if f.filled < n {
		f.filled++
	}

	var acc float64
	idx := f.head
	for i := 0; i < f.filled; i++ {
		acc += f.history[idx] * f.taps[i]
		idx++
		if idx == n {
			idx = 0
		}
	}
	return acc
}
