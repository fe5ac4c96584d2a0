package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// meterForTest returns a mono meter with a 50-frame window (50ms at a
// 1kHz test rate) so window arithmetic stays readable.
func meterForTest() *Meter {
	actx := NewContext(1000, 1)
	return NewMeter(actx, CurveCubic)
}

// constPlane returns one mono plane of frames samples at amp.
func constPlane(amp float32, frames int) [][]float32 {
	p := make([]float32, frames)
	for i := range p {
		p[i] = amp
	}
	return [][]float32{p}
}

func TestMeterWindowFinalizesExactlyPerFrameCount(t *testing.T) {
	t.Parallel()

	m := meterForTest()
	require.Equal(t, 50, m.updateFrames)

	// 2.5 windows in one delivery: exactly two finalizations, the
	// remainder stays buffered for the next call
	m.ProcessAudio(constPlane(0.5, 125), 125, false)
	assert.Equal(t, int64(2), m.windowCount)
	assert.Equal(t, 25, m.ivalFrames)

	// the carried remainder completes the third window
	m.ProcessAudio(constPlane(0.5, 25), 25, false)
	assert.Equal(t, int64(3), m.windowCount)
	assert.Equal(t, 0, m.ivalFrames)
}

func TestMeterMaxSnapsUpAndDecays(t *testing.T) {
	t.Parallel()

	m := meterForTest()

	// a loud window snaps the max up immediately
	m.ProcessAudio(constPlane(0.8, 50), 50, false)
	assert.InDelta(t, 0.8, m.volMax, 1e-6)

	// a quiet one decays it through the IIR filter
	m.ProcessAudio(constPlane(0.2, 50), 50, false)
	assert.InDelta(t, 0.15*0.8+0.85*0.2, m.volMax, 1e-6)
}

func TestMeterMagnitudeAlwaysDecays(t *testing.T) {
	t.Parallel()

	m := meterForTest()

	m.ProcessAudio(constPlane(0.8, 50), 50, false)
	assert.InDelta(t, 0.15*0.8, m.volMag, 1e-6, "magnitude never snaps")

	m.ProcessAudio(constPlane(0.8, 50), 50, false)
	assert.InDelta(t, 0.15*0.8+0.85*0.15*0.8, m.volMag, 1e-6)
}

func TestMeterPeakHold(t *testing.T) {
	t.Parallel()

	m := meterForTest()
	m.SetPeakHold(100) // two windows at the test rate

	m.ProcessAudio(constPlane(0.8, 50), 50, false)
	require.InDelta(t, 0.8, m.volPeak, 1e-6)

	// quieter windows leave the peak pinned while the hold timer runs
	m.ProcessAudio(constPlane(0.1, 50), 50, false)
	assert.InDelta(t, 0.8, m.volPeak, 1e-6)
	m.ProcessAudio(constPlane(0.1, 50), 50, false)
	assert.InDelta(t, 0.8, m.volPeak, 1e-6)
	m.ProcessAudio(constPlane(0.1, 50), 50, false)
	assert.InDelta(t, 0.8, m.volPeak, 1e-6)

	// once the hold duration is exceeded the peak snaps to the current max
	m.ProcessAudio(constPlane(0.1, 50), 50, false)
	assert.InDelta(t, m.volMax, m.volPeak, 1e-9)
	assert.Equal(t, 0, m.peakholdCount)
}

func TestMeterEmitsOneEventPerDelivery(t *testing.T) {
	t.Parallel()

	m := meterForTest()

	var events []Levels
	m.OnLevelsUpdated(func(l Levels) { events = append(events, l) })

	// no window completed, no event
	m.ProcessAudio(constPlane(0.5, 30), 30, false)
	require.Empty(t, events)

	// two windows complete in one call but still a single event
	m.ProcessAudio(constPlane(0.5, 100), 100, true)
	require.Len(t, events, 1)
	assert.True(t, events[0].Muted, "muted flag passes through unchanged")
}

func TestMeterAppliesGainThroughCurve(t *testing.T) {
	t.Parallel()

	m := meterForTest()
	src := NewMixSource()
	src.SetVolume(0.5)
	m.Attach(src)

	var got Levels
	m.OnLevelsUpdated(func(l Levels) { got = l })

	m.ProcessAudio(constPlane(0.8, 50), 50, false)

	// the accumulator squares float32 samples, so compare against the
	// float32 rendition of the input level
	in := float64(float32(0.8))
	wantLevel := CurveCubic.DBToDef(MulToDB(in * 0.5))
	assert.InDelta(t, wantLevel, got.Level, 1e-6)
	wantPeak := CurveCubic.DBToDef(MulToDB(m.volPeak * 0.5))
	assert.InDelta(t, wantPeak, got.Peak, 1e-6)
}

func TestMeterStereoAveragesAcrossChannels(t *testing.T) {
	t.Parallel()

	actx := NewContext(1000, 2)
	m := NewMeter(actx, CurveCubic)

	left := make([]float32, 50)
	right := make([]float32, 50)
	for i := range left {
		left[i] = 0.6
		right[i] = 0.0
	}
	m.ProcessAudio([][]float32{left, right}, 50, false)

	// rms over frames*channels: sqrt(50*0.36 / 100)
	assert.InDelta(t, 0.15*0.42426406871, m.volMag, 1e-6)
	assert.InDelta(t, 0.6, m.volMax, 1e-6)
}

func TestMeterReconfigureKeepsInProgressWindow(t *testing.T) {
	t.Parallel()

	m := meterForTest()

	m.ProcessAudio(constPlane(0.5, 30), 30, false)
	require.Equal(t, 30, m.ivalFrames)

	// a longer interval does not reset the partial window; it finalizes
	// once the new frame count is reached
	m.SetUpdateInterval(100)
	require.Equal(t, 30, m.ivalFrames)

	m.ProcessAudio(constPlane(0.5, 70), 70, false)
	assert.Equal(t, int64(1), m.windowCount)
	assert.Equal(t, 0, m.ivalFrames)
}
