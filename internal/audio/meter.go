package audio

import (
	"math"
	"sync"
)

// Meter defaults, in milliseconds.
const (
	DefaultUpdateInterval = 50
	DefaultPeakHold       = 1500
)

// meterAlpha is the smoothing coefficient of the level IIR filters. Its
// effect depends on the update interval and sample rate; the value is
// tuned for the defaults and must be re-validated against reference meter
// output if changed.
const meterAlpha = 0.15

// Levels is one meter reading, already converted to deflection units
// through the meter's curve with the bound source's gain applied.
type Levels struct {
	Level     float64 // smoothed max
	Magnitude float64 // smoothed RMS
	Peak      float64 // peak with hold
	Muted     bool
}

// Meter accumulates raw audio buffers into fixed-size windows of
// sum-of-squares and peak statistics, smooths the finalized windows, and
// emits one Levels reading per delivery that completed at least one
// window. Audio is pushed to it from the mix thread via ProcessAudio.
//
// Reconfiguring the update or peak-hold interval re-derives the frame
// thresholds from the audio context but does not adjust a window already
// in progress; that window finalizes at its original size.
type Meter struct {
	mu        sync.Mutex
	curve     Curve
	actx      *Context
	source    Source
	unsubVol  func()
	unsubDest func()
	curDB     float64

	channels       int
	updateMS       int
	updateFrames   int
	peakholdMS     int
	peakholdFrames int

	peakholdCount int
	ivalFrames    int
	ivalSum       float64
	ivalMax       float64

	volPeak float64
	volMag  float64
	volMax  float64

	windowCount int64

	nextID    int
	levelsFns map[int]func(Levels)
}

// NewMeter creates a meter using the given deflection curve, reading its
// frame thresholds from the audio context.
func NewMeter(actx *Context, curve Curve) *Meter {
	m := &Meter{
		curve:     curve,
		actx:      actx,
		levelsFns: make(map[int]func(Levels)),
	}
	m.SetUpdateInterval(DefaultUpdateInterval)
	m.SetPeakHold(DefaultPeakHold)
	return m
}

// OnLevelsUpdated registers a listener for meter readings.
func (m *Meter) OnLevelsUpdated(fn func(Levels)) (remove func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.levelsFns[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.levelsFns, id)
		m.mu.Unlock()
	}
}

// Attach binds the meter to a source so readings reflect the source's
// current gain. Any previous binding is detached first.
func (m *Meter) Attach(source Source) {
	if source == nil {
		return
	}
	m.Detach()

	m.mu.Lock()
	m.source = source
	m.unsubVol = source.OnVolumeChanged(m.sourceVolumeChanged)
	m.unsubDest = source.OnDestroy(m.Detach)
	m.curDB = MulToDB(source.Volume())
	m.mu.Unlock()
}

// Detach unbinds the meter from its source. Idempotent.
func (m *Meter) Detach() {
	m.mu.Lock()
	unsubVol, unsubDest := m.unsubVol, m.unsubDest
	m.source = nil
	m.unsubVol = nil
	m.unsubDest = nil
	m.mu.Unlock()

	if unsubVol != nil {
		unsubVol()
	}
	if unsubDest != nil {
		unsubDest()
	}
}

// SetUpdateInterval sets the window length in milliseconds and re-derives
// the frame thresholds from the audio context.
func (m *Meter) SetUpdateInterval(ms int) {
	if ms <= 0 {
		return
	}
	m.mu.Lock()
	m.updateMS = ms
	m.updateAudioSettings()
	m.mu.Unlock()
}

// UpdateInterval returns the window length in milliseconds.
func (m *Meter) UpdateInterval() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateMS
}

// SetPeakHold sets the peak-hold duration in milliseconds.
func (m *Meter) SetPeakHold(ms int) {
	if ms < 0 {
		return
	}
	m.mu.Lock()
	m.peakholdMS = ms
	m.updateAudioSettings()
	m.mu.Unlock()
}

// PeakHold returns the peak-hold duration in milliseconds.
func (m *Meter) PeakHold() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peakholdMS
}

// updateAudioSettings re-derives frame thresholds from the audio context.
// Caller must hold m.mu.
func (m *Meter) updateAudioSettings() {
	f := m.actx.Format()
	m.channels = f.Channels
	m.updateFrames = m.updateMS * f.SampleRate / 1000
	m.peakholdFrames = m.peakholdMS * f.SampleRate / 1000
}

// ProcessAudio consumes one planar buffer of frames frames. Each plane is
// one channel; nil or missing planes terminate the plane scan. If at
// least one window is finalized, a single Levels reading is emitted with
// the bound source's gain applied and the muted flag passed through.
func (m *Meter) ProcessAudio(planes [][]float32, frames int, muted bool) {
	m.mu.Lock()

	updated := m.processLocked(planes, frames)

	var levels Levels
	var fns []func(Levels)
	if updated {
		mul := DBToMul(m.curDB)
		levels = Levels{
			Level:     m.curve.DBToDef(MulToDB(m.volMax * mul)),
			Magnitude: m.curve.DBToDef(MulToDB(m.volMag * mul)),
			Peak:      m.curve.DBToDef(MulToDB(m.volPeak * mul)),
			Muted:     muted,
		}
		fns = make([]func(Levels), 0, len(m.levelsFns))
		for _, fn := range m.levelsFns {
			fns = append(fns, fn)
		}
	}

	m.mu.Unlock()

	for _, fn := range fns {
		fn(levels)
	}
}

// processLocked runs the window accumulation loop. Returns true if at
// least one window was finalized. Caller must hold m.mu.
func (m *Meter) processLocked(planes [][]float32, frames int) bool {
	updated := false
	left := frames
	off := 0

	for left > 0 {
		n := left
		if m.ivalFrames+left > m.updateFrames {
			n = m.updateFrames - m.ivalFrames
		}

		m.sumAndMax(planes, off, n)

		m.ivalFrames += n
		off += n
		left -= n

		// stop if we did not reach the end of the window
		if m.ivalFrames != m.updateFrames {
			break
		}

		m.finalizeWindow()
		updated = true
	}

	return updated
}

// sumAndMax accumulates sum of squares and max of squares for n frames of
// every plane starting at off.
func (m *Meter) sumAndMax(planes [][]float32, off, n int) {
	sum := m.ivalSum
	maxSq := m.ivalMax

	for _, plane := range planes {
		if plane == nil {
			break
		}
		end := off + n
		if end > len(plane) {
			end = len(plane)
		}
		for _, s := range plane[off:end] {
			sq := float64(s) * float64(s)
			sum += sq
			if sq > maxSq {
				maxSq = sq
			}
		}
	}

	m.ivalSum = sum
	m.ivalMax = maxSq
}

// finalizeWindow folds the completed window into the published levels and
// resets the accumulators. The max level snaps up immediately on a louder
// window and decays through the IIR filter otherwise; the peak holds its
// value for peakholdFrames before snapping back to the max. Caller must
// hold m.mu.
func (m *Meter) finalizeWindow() {
	samples := m.ivalFrames * m.channels
	ivalMax := math.Sqrt(m.ivalMax)
	ivalRMS := math.Sqrt(m.ivalSum / float64(samples))

	if ivalMax > m.volMax {
		m.volMax = ivalMax
	} else {
		m.volMax = meterAlpha*m.volMax + (1-meterAlpha)*ivalMax
	}

	if m.volMax > m.volPeak || m.peakholdCount > m.peakholdFrames {
		m.volPeak = m.volMax
		m.peakholdCount = 0
	} else {
		m.peakholdCount += m.ivalFrames
	}

	m.volMag = meterAlpha*ivalRMS + m.volMag*(1-meterAlpha)

	m.windowCount++
	m.ivalFrames = 0
	m.ivalSum = 0
	m.ivalMax = 0
}

// sourceVolumeChanged tracks the bound source's gain so readings reflect
// the gain in effect when the window closed.
func (m *Meter) sourceVolumeChanged(mul float64) {
	m.mu.Lock()
	m.curDB = MulToDB(mul)
	m.mu.Unlock()
}
