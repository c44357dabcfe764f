// Package video generates PAL test signals and delivers decoded frames to
// displays.
package video

import (
	"image"
	"image/color"
	"image/draw"
	"math"
	"sync"
)

// Size of the picture the generator scans out.
const (
	FrameWidth  = 720
	FrameHeight = 576
)

// Modulation selects how video level maps onto carrier amplitude.
type Modulation int

const (
	// NegativeModulation is the broadcast form: sync tips at full carrier,
	// white at the residual carrier.
	NegativeModulation Modulation = iota
	// PositiveModulation puts sync at the carrier minimum, the polarity the
	// decoder's sync detector looks for.
	PositiveModulation
)

// PAL renders a luminance-only 625-line PAL frame from a grayscale picture
// and modulates it onto a baseband I/Q carrier.
type PAL struct {
	sampleRate         float64
	frameRate          float64
	linesPerFrame      int
	activeVideoLines   int
	lineSamples        int
	hSyncSamples       int
	vSyncPulseSamples  int
	eqPulseSamples     int
	activeStartSamples int
	activeSamples      int
	levelSync          float64
	levelBlanking      float64
	levelBlack         float64
	levelWhite         float64
	modulation         Modulation

	picture      []byte
	pictureMutex sync.RWMutex
	frame        []float64
	frameMutex   sync.RWMutex
}

// NewPAL creates a generator for sampleRate with a black picture.
func NewPAL(sampleRate float64, m Modulation) *PAL {
	p := &PAL{
		sampleRate:       sampleRate,
		frameRate:        25.0,
		linesPerFrame:    625,
		activeVideoLines: 576,
		levelSync:        -40.0,
		levelBlanking:    0.0,
		levelBlack:       0.0,
		levelWhite:       100.0,
		modulation:       m,
	}
	lineDuration := 1.0 / (p.frameRate * float64(p.linesPerFrame))
	p.lineSamples = int(math.Round(lineDuration * p.sampleRate))
	p.hSyncSamples = int(4.7e-6 * p.sampleRate)
	p.vSyncPulseSamples = int(27.3e-6 * p.sampleRate)
	p.eqPulseSamples = int(2.35e-6 * p.sampleRate)
	p.activeStartSamples = int(10.5e-6 * p.sampleRate)
	p.activeSamples = int(52.0e-6 * p.sampleRate)
	p.picture = make([]byte, FrameWidth*FrameHeight)
	p.frame = make([]float64, p.lineSamples*p.linesPerFrame)
	return p
}

// LineSamples returns the number of samples in one line.
func (p *PAL) LineSamples() int { return p.lineSamples }

// FrameSamples returns the number of samples in one frame.
func (p *PAL) FrameSamples() int { return len(p.frame) }

// SetPicture replaces the picture with img scaled to FrameWidth x
// FrameHeight and converted to luminance.
func (p *PAL) SetPicture(img image.Image) {
	gray := image.NewGray(image.Rect(0, 0, FrameWidth, FrameHeight))
	b := img.Bounds()
	if b.Dx() == FrameWidth && b.Dy() == FrameHeight {
		draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Src)
	} else {
		for y := 0; y < FrameHeight; y++ {
			for x := 0; x < FrameWidth; x++ {
				sx := b.Min.X + x*b.Dx()/FrameWidth
				sy := b.Min.Y + y*b.Dy()/FrameHeight
				gray.SetGray(x, y, color.GrayModel.Convert(img.At(sx, sy)).(color.Gray))
			}
		}
	}

	p.pictureMutex.Lock()
	copy(p.picture, gray.Pix)
	p.pictureMutex.Unlock()
}

// FillTestPattern loads the gray bars test card.
func (p *PAL) FillTestPattern() {
	p.pictureMutex.Lock()
	FillGrayBars(p.picture, FrameWidth, FrameHeight)
	p.pictureMutex.Unlock()
}

// GenerateFullFrame renders all 625 lines from the current picture.
func (p *PAL) GenerateFullFrame() {
	p.pictureMutex.RLock()
	defer p.pictureMutex.RUnlock()
	p.frameMutex.Lock()
	defer p.frameMutex.Unlock()

	for line := 1; line <= p.linesPerFrame; line++ {
		offset := (line - 1) * p.lineSamples
		p.generateLine(line, p.frame[offset:offset+p.lineSamples])
	}
}

func (p *PAL) isVBI(line int) bool {
	return line >= 624 || line <= 23 || (line >= 311 && line <= 336)
}

// generateLine writes one line in IRE. Lines are numbered from 1.
func (p *PAL) generateLine(line int, buf []float64) {
	for s := range buf {
		buf[s] = p.levelBlanking
	}
	half := p.lineSamples / 2

	switch {
	case line <= 2 || (line >= 314 && line <= 315):
		// Broad pulses on both half lines.
		p.pulse(buf, 0, p.vSyncPulseSamples)
		p.pulse(buf, half, p.vSyncPulseSamples)
	case line == 3:
		p.pulse(buf, 0, p.vSyncPulseSamples)
		p.pulse(buf, half, p.eqPulseSamples)
	case line == 313:
		p.pulse(buf, 0, p.eqPulseSamples)
		p.pulse(buf, half, p.vSyncPulseSamples)
	case line <= 5 || (line >= 311 && line <= 318) || line >= 623:
		// Equalizing pulses.
		p.pulse(buf, 0, p.eqPulseSamples)
		p.pulse(buf, half, p.eqPulseSamples)
	default:
		p.pulse(buf, 0, p.hSyncSamples)
	}

	if p.isVBI(line) {
		return
	}
	for s := 0; s < p.activeSamples; s++ {
		buf[p.activeStartSamples+s] = p.pixelLevel(line, s)
	}
}

func (p *PAL) pulse(buf []float64, start, width int) {
	for s := start; s < start+width && s < len(buf); s++ {
		buf[s] = p.levelSync
	}
}

// pixelLevel returns the IRE level of active sample s on line. The first
// field carries the top half of the picture, the second the bottom half.
func (p *PAL) pixelLevel(line, s int) float64 {
	var videoLine int
	switch {
	case line >= 24 && line <= 310:
		videoLine = line - 24
	case line >= 337 && line <= 623:
		videoLine = line - 337 + p.activeVideoLines/2
	default:
		return p.levelBlack
	}

	pixelX := s * FrameWidth / p.activeSamples
	if videoLine >= FrameHeight || pixelX >= FrameWidth {
		return p.levelBlack
	}
	y := float64(p.picture[videoLine*FrameWidth+pixelX])
	return p.levelBlack + y/255.0*(p.levelWhite-p.levelBlack)
}

// IreToAmplitude maps a video level onto carrier amplitude in [0, 1].
func (p *PAL) IreToAmplitude(ire float64) float64 {
	span := p.levelWhite - p.levelSync
	if p.modulation == PositiveModulation {
		return (ire-p.levelSync)/span*(1.0-0.3) + 0.3
	}
	return ((ire-p.levelWhite)/-span)*(1.0-0.125) + 0.125
}

// ModulateIQ fills buf with interleaved signed 8-bit I/Q starting at frame
// sample pos, wrapping at the end of the frame, and returns the position
// after the last sample written. The carrier sits at 0 Hz.
func (p *PAL) ModulateIQ(buf []byte, pos int) int {
	p.frameMutex.RLock()
	defer p.frameMutex.RUnlock()

	for i := 0; i+1 < len(buf); i += 2 {
		amplitude := p.IreToAmplitude(p.frame[pos])
		buf[i] = byte(int8(amplitude * 127.0))
		buf[i+1] = 0
		pos++
		if pos >= len(p.frame) {
			pos = 0
		}
	}
	return pos
}

// Frame returns the rendered frame in IRE. The slice is shared; callers
// must not modify it or hold it across GenerateFullFrame.
func (p *PAL) Frame() []float64 {
	p.frameMutex.RLock()
	defer p.frameMutex.RUnlock()
	return p.frame
}
