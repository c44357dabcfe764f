package decoder

import (
	"image"
	"time"
)

// PAL frame structure.
const (
	LinesPerFrame    = 625
	VisibleLines     = 576
	FirstVisibleLine = 49
)

// Frame is a completed 8-bit grayscale picture. It is a copy and belongs to
// whoever receives it.
type Frame struct {
	Width  int
	Height int
	Pix    []byte
	Seq    uint64
	Time   time.Time
}

// Row returns the pixels of row y.
func (f *Frame) Row(y int) []byte {
	return f.Pix[y*f.Width : (y+1)*f.Width]
}

// Gray wraps the frame's pixels in an image.Gray without copying.
func (f *Frame) Gray() *image.Gray {
	return &image.Gray{
		Pix:    f.Pix,
		Stride: f.Width,
		Rect:   image.Rect(0, 0, f.Width, f.Height),
	}
}

// FrameAssembler collects one line of samples at a time and writes it into
// a raster that is reused for every frame.
type FrameAssembler struct {
	width  int
	line   []float64
	raster []byte

	currentLine int
	frames      uint64
}

// NewFrameAssembler creates an assembler producing frames width pixels wide.
func NewFrameAssembler(width int) *FrameAssembler {
	return &FrameAssembler{
		width:  width,
		line:   make([]float64, 0, width),
		raster: make([]byte, width*VisibleLines),
	}
}

// Append adds a sample to the current line. Samples beyond one line's worth
// are ignored.
func (a *FrameAssembler) Append(x float64) {
	if len(a.line) < a.width {
		a.line = append(a.line, x)
	}
}

// Buffered returns the number of samples waiting in the current line.
func (a *FrameAssembler) Buffered() int { return len(a.line) }

// CurrentLine returns the index of the last finalized line within the frame.
func (a *FrameAssembler) CurrentLine() int { return a.currentLine }

// FinalizeLine closes the current line. Visible lines are rendered into the
// raster; after the last line of the frame a copy of the raster is returned.
// Otherwise the result is nil.
func (a *FrameAssembler) FinalizeLine(tuning *Tuning) *Frame {
	a.currentLine++

	if a.currentLine >= FirstVisibleLine && a.currentLine < FirstVisibleLine+VisibleLines {
		a.renderRow(a.currentLine-FirstVisibleLine, tuning.snapshot())
	}
	a.line = a.line[:0]

	if a.currentLine < LinesPerFrame {
		return nil
	}
	a.currentLine = 0
	a.frames++

	pix := make([]byte, len(a.raster))
	copy(pix, a.raster)
	return &Frame{
		Width:  a.width,
		Height: VisibleLines,
		Pix:    pix,
		Seq:    a.frames,
		Time:   time.Now(),
	}
}

func (a *FrameAssembler) renderRow(y int, t lineTuning) {
	row := a.raster[y*a.width : (y+1)*a.width]

	for x, s := range a.line {
		v := (s+1)/2*t.gain + t.offset
		if v < 0 {
			v = 0
		} else if v > 1 {
			v = 1
		}
		if t.invert {
			v = 1 - v
		}
		row[x] = byte(v * 255)
	}

	var fill byte
	if t.invert {
		fill = 255
	}
	for x := len(a.line); x < a.width; x++ {
		row[x] = fill
	}
}
