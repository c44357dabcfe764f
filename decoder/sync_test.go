package decoder

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testRate gives 128 samples per line, short enough to run many lines quickly.
const testRate = 2_000_000

func testGeometry(t *testing.T) Geometry {
	t.Helper()
	geo, err := NewGeometry(testRate)
	require.NoError(t, err)
	return geo
}

// pulseTrain returns lines of period samples each starting with a sync pulse
// of width samples.
func pulseTrain(lines, period, width int) []float64 {
	out := make([]float64, 0, lines*period)
	for l := 0; l < lines; l++ {
		for i := 0; i < period; i++ {
			if i < width {
				out = append(out, -1)
			} else {
				out = append(out, 0.5)
			}
		}
	}
	return out
}

type syncRecord struct {
	at    int
	event SyncEvent
}

func runTracker(tr *SyncTracker, samples []float64) []syncRecord {
	var events []syncRecord
	for i, s := range samples {
		if ev := tr.Process(s); ev != SyncNone {
			events = append(events, syncRecord{at: i, event: ev})
		}
	}
	return events
}

func TestNewGeometry(t *testing.T) {
	geo := testGeometry(t)
	assert.Equal(t, 128, geo.SamplesPerLine)
	assert.Equal(t, 9, geo.SyncWidth)
	assert.Equal(t, 10, geo.SearchWindow)
	assert.Equal(t, 5, geo.TimeoutMargin)
	assert.Equal(t, 11, geo.BackPorch)

	geo, err := NewGeometry(6_000_000)
	require.NoError(t, err)
	assert.Equal(t, 384, geo.SamplesPerLine)
	assert.Equal(t, 28, geo.SyncWidth)

	_, err = NewGeometry(100_000)
	assert.Error(t, err)
}

func TestSyncTracker_Converges(t *testing.T) {
	geo := testGeometry(t)
	tr := NewSyncTracker(geo, NewTuning())

	// A transmitter running slightly slow relative to the nominal line rate.
	const period = 132
	events := runTracker(tr, pulseTrain(300, period, geo.SyncWidth))

	assert.InDelta(t, period, tr.ExpectedPosition(), 1.0)
	assert.Greater(t, tr.Confidence(), 0.95)

	require.Greater(t, len(events), 100)
	tail := events[len(events)-100:]
	for i, rec := range tail {
		require.Equal(t, SyncDetected, rec.event, "event %d", i)
		if i > 0 {
			assert.Equal(t, period, rec.at-tail[i-1].at)
		}
	}
}

func TestSyncTracker_LockedAtNominalRate(t *testing.T) {
	geo := testGeometry(t)
	tr := NewSyncTracker(geo, NewTuning())

	runTracker(tr, pulseTrain(200, geo.SamplesPerLine, geo.SyncWidth))
	assert.InDelta(t, float64(geo.SamplesPerLine), tr.ExpectedPosition(), 0.5)
	assert.Greater(t, tr.Confidence(), 0.95)
}

func TestSyncTracker_TimesOutWithoutSignal(t *testing.T) {
	geo := testGeometry(t)
	tr := NewSyncTracker(geo, NewTuning())

	// Lock first so there is confidence to lose.
	runTracker(tr, pulseTrain(100, geo.SamplesPerLine, geo.SyncWidth))
	locked := tr.Confidence()
	require.Greater(t, locked, 0.9)

	flat := make([]float64, 20*geo.SamplesPerLine)
	for i := range flat {
		flat[i] = 0.5
	}
	events := runTracker(tr, flat)

	require.NotEmpty(t, events)
	// First whole sample count past expected + window + margin.
	timeout := int(math.Floor(tr.ExpectedPosition()+float64(geo.SearchWindow+geo.TimeoutMargin))) + 1
	for i, rec := range events {
		assert.Equal(t, SyncTimeout, rec.event)
		if i > 0 {
			assert.Equal(t, timeout, rec.at-events[i-1].at)
		}
	}
	assert.Less(t, tr.Confidence(), locked*0.5)
	assert.InDelta(t, float64(geo.SamplesPerLine), tr.ExpectedPosition(), 1.0, "timeouts must not move the estimate")
}

func TestSyncTracker_IgnoresPulsesOutsideWindow(t *testing.T) {
	geo := testGeometry(t)
	tr := NewSyncTracker(geo, NewTuning())
	runTracker(tr, pulseTrain(100, geo.SamplesPerLine, geo.SyncWidth))

	// Same train with a sync-like dip in the middle of every line.
	samples := pulseTrain(50, geo.SamplesPerLine, geo.SyncWidth)
	for l := 0; l < 50; l++ {
		start := l*geo.SamplesPerLine + geo.SamplesPerLine/2
		for i := 0; i < geo.SyncWidth; i++ {
			samples[start+i] = -1
		}
	}
	events := runTracker(tr, samples)

	require.Len(t, events, 50)
	for i, rec := range events {
		assert.Equal(t, SyncDetected, rec.event)
		if i > 0 {
			assert.Equal(t, geo.SamplesPerLine, rec.at-events[i-1].at)
		}
	}
}

func TestSyncTracker_RejectsLongDips(t *testing.T) {
	geo := testGeometry(t)
	tr := NewSyncTracker(geo, NewTuning())

	// A dip filling nearly the whole line never leaves enough clean samples
	// behind it to count as a pulse.
	samples := pulseTrain(30, geo.SamplesPerLine, geo.SamplesPerLine-2)
	for _, rec := range runTracker(tr, samples) {
		assert.Equal(t, SyncTimeout, rec.event)
	}
}

func TestSyncTracker_ThresholdIsTunable(t *testing.T) {
	geo := testGeometry(t)
	tuning := NewTuning()
	tuning.SetSyncThreshold(-2) // nothing is ever below this
	tr := NewSyncTracker(geo, tuning)

	for _, rec := range runTracker(tr, pulseTrain(20, geo.SamplesPerLine, geo.SyncWidth)) {
		assert.Equal(t, SyncTimeout, rec.event)
	}

	tuning.SetSyncThreshold(DefaultSyncThreshold)
	events := runTracker(tr, pulseTrain(40, geo.SamplesPerLine, geo.SyncWidth))
	assert.Equal(t, SyncDetected, events[len(events)-1].event)
}

func TestSyncTracker_InLine(t *testing.T) {
	geo := testGeometry(t)
	tr := NewSyncTracker(geo, NewTuning())

	for i := 1; i <= geo.BackPorch; i++ {
		tr.Process(0.5)
		assert.False(t, tr.InLine(), "sample %d is inside the back porch", i)
	}
	tr.Process(0.5)
	assert.True(t, tr.InLine())
}

func TestSyncEvent_String(t *testing.T) {
	assert.Equal(t, "none", SyncNone.String())
	assert.Equal(t, "detected", SyncDetected.String())
	assert.Equal(t, "timeout", SyncTimeout.String())
}
