package video

import (
	"image"
	"image/color"
	"io"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"palrx/decoder"
	"palrx/dsp"
)

const testRate = 6_000_000

func TestPAL_LineStructure(t *testing.T) {
	p := NewPAL(testRate, PositiveModulation)
	p.FillTestPattern()
	p.GenerateFullFrame()

	require.Equal(t, 384, p.LineSamples())
	require.Equal(t, 384*625, p.FrameSamples())
	frame := p.Frame()
	line := func(n int) []float64 { return frame[(n-1)*384 : n*384] }

	// A picture line: sync, blanking, then the bars from black to white.
	l := line(100)
	for s := 0; s < 28; s++ {
		assert.Equal(t, -40.0, l[s], "sample %d", s)
	}
	for s := 28; s < 63; s++ {
		assert.Equal(t, 0.0, l[s], "sample %d", s)
	}
	assert.Equal(t, 0.0, l[63])
	assert.InDelta(t, 100.0, l[63+311], 1e-9)
	for s := 64; s < 63+312; s++ {
		assert.GreaterOrEqual(t, l[s], l[s-1], "bars must not get darker to the right")
	}
	assert.Equal(t, 0.0, l[383], "front porch")

	// Field sync: broad pulses on both halves of line 1.
	l = line(1)
	assert.Equal(t, -40.0, l[0])
	assert.Equal(t, -40.0, l[162])
	assert.Equal(t, 0.0, l[163])
	assert.Equal(t, -40.0, l[192])
	assert.Equal(t, 0.0, l[192+163])

	// Blanked lines carry no picture.
	l = line(20)
	for s := 63; s < 375; s++ {
		assert.Equal(t, 0.0, l[s])
	}
}

func TestPAL_IreToAmplitude(t *testing.T) {
	neg := NewPAL(testRate, NegativeModulation)
	assert.InDelta(t, 1.0, neg.IreToAmplitude(-40), 1e-12)
	assert.InDelta(t, 0.125, neg.IreToAmplitude(100), 1e-12)

	pos := NewPAL(testRate, PositiveModulation)
	assert.InDelta(t, 0.3, pos.IreToAmplitude(-40), 1e-12)
	assert.InDelta(t, 0.5, pos.IreToAmplitude(0), 1e-12)
	assert.InDelta(t, 1.0, pos.IreToAmplitude(100), 1e-12)
}

func TestPAL_ModulateIQWraps(t *testing.T) {
	p := NewPAL(testRate, PositiveModulation)
	p.GenerateFullFrame()

	buf := make([]byte, 2*(p.FrameSamples()+10))
	pos := p.ModulateIQ(buf, 0)
	assert.Equal(t, 10, pos)

	assert.Equal(t, int8(38), int8(buf[0]), "sync at 0.3 of full scale")
	assert.Equal(t, byte(0), buf[1])
	// The frame repeats after the wrap.
	assert.Equal(t, buf[:20], buf[2*p.FrameSamples():])
}

func TestPAL_SetPicture(t *testing.T) {
	p := NewPAL(testRate, PositiveModulation)

	img := image.NewRGBA(image.Rect(0, 0, 4, 2))
	for x := 0; x < 4; x++ {
		img.Set(x, 0, color.White)
		img.Set(x, 1, color.Black)
	}
	p.SetPicture(img)
	p.GenerateFullFrame()

	frame := p.Frame()
	top := frame[(24-1)*384+63+100]
	bottom := frame[(623-1)*384+63+100]
	assert.InDelta(t, 100.0, top, 1e-9)
	assert.InDelta(t, 0.0, bottom, 1e-9)
}

func TestFillGrayBars(t *testing.T) {
	buf := make([]byte, 16*2)
	FillGrayBars(buf, 16, 2)
	assert.Equal(t, []byte{0, 0, 36, 36, 72, 72, 109, 109, 145, 145, 182, 182, 218, 218, 255, 255}, buf[16:])
}

// The generator's output must decode into the same bars it was given.
func TestPAL_DecodesThroughReceiver(t *testing.T) {
	p := NewPAL(testRate, PositiveModulation)
	p.FillTestPattern()
	p.GenerateFullFrame()

	tuning := decoder.NewTuning()
	tuning.SetGain(1)
	var frames []*decoder.Frame
	d, err := decoder.New(dsp.ConditionerConfig{
		SampleRate:   testRate,
		Decimation:   3,
		VideoCutoff:  2_500_000,
		VideoTaps:    65,
		LumaCutoff:   800_000,
		LumaTaps:     65,
		DCBlockAlpha: 1,
		AGCAttack:    0.05,
		AGCDecay:     0.999999,
	},
		decoder.WithLogger(log.New(io.Discard)),
		decoder.WithTuning(tuning),
		decoder.WithFrameHandler(func(f *decoder.Frame) { frames = append(frames, f) }))
	require.NoError(t, err)

	chunk := make([]byte, 262144)
	pos := 0
	for total := 0; total < 3*2*p.FrameSamples(); total += len(chunk) {
		pos = p.ModulateIQ(chunk, pos)
		d.ProcessBytes(chunk)
	}

	require.GreaterOrEqual(t, len(frames), 2)
	assert.Greater(t, d.Stats().SyncRate, 85.0)

	// Bar centres in decoded columns; the active line starts 10.5 us after
	// sync and each bar lasts 6.5 us at 2 samples per us.
	frame := frames[1]
	ordered := 0
	for y := 0; y < frame.Height; y++ {
		row := frame.Row(y)
		prev := -1
		ok := true
		for k := 1; k < GrayBars-1; k++ {
			c := 4 + 13*k
			v := (int(row[c-1]) + int(row[c]) + int(row[c+1])) / 3
			if v <= prev {
				ok = false
				break
			}
			prev = v
		}
		if ok {
			ordered++
		}
	}
	assert.Greater(t, ordered, 450, "rows showing the bars in order")
}

// The receiver's shipped conditioning settings must lock onto the test card.
func TestPAL_LocksWithDefaultConditioning(t *testing.T) {
	cfg := dsp.DefaultConditionerConfig()
	p := NewPAL(cfg.SampleRate, PositiveModulation)
	p.FillTestPattern()
	p.GenerateFullFrame()

	d, err := decoder.New(cfg, decoder.WithLogger(log.New(io.Discard)))
	require.NoError(t, err)
	geo := d.Geometry()
	require.Equal(t, 384, geo.SamplesPerLine)

	chunk := make([]byte, 262144)
	pos := 0
	for total := 0; total < 4*2*p.FrameSamples(); total += len(chunk) {
		pos = p.ModulateIQ(chunk, pos)
		d.ProcessBytes(chunk)
	}

	st := d.Stats()
	assert.GreaterOrEqual(t, st.Frames, uint64(3))
	assert.Greater(t, st.SyncRate, 98.0)
	assert.InDelta(t, float64(geo.SamplesPerLine), st.LinePeriod, 3.0)
	assert.Greater(t, st.Confidence, 0.95)
}
