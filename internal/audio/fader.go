package audio

import (
	"math"
	"sync"
)

// Fader binds a user-facing volume control to a Source's linear gain.
// The canonical value is curDB; deflection and multiplier accessors are
// defined purely through the curve conversions. A fader is attached to at
// most one source at a time.
//
// All methods are safe for concurrent use. Listeners are invoked with the
// fader lock released.
type Fader struct {
	mu         sync.Mutex
	curve      Curve
	source     Source
	unsubVol   func()
	unsubDest  func()
	maxDB      float64
	minDB      float64
	curDB      float64
	ignoreNext bool

	nextID    int
	changedFns map[int]func(db float64)
}

// NewFader creates a fader using the given deflection curve. The fader
// starts unattached at 0 dB.
func NewFader(curve Curve) *Fader {
	return &Fader{
		curve:      curve,
		maxDB:      0,
		minDB:      curve.MinDB(),
		changedFns: make(map[int]func(float64)),
	}
}

// OnVolumeChanged registers a listener invoked with the new dB value when
// the bound source's gain changes externally. Self-originated changes
// (through SetDB and friends) do not fire it.
func (f *Fader) OnVolumeChanged(fn func(db float64)) (remove func()) {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.changedFns[id] = fn
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		delete(f.changedFns, id)
		f.mu.Unlock()
	}
}

// Attach binds the fader to a source, detaching any previous binding, and
// initializes the fader's dB value from the source's current gain.
func (f *Fader) Attach(source Source) {
	if source == nil {
		return
	}
	f.Detach()

	f.mu.Lock()
	f.source = source
	f.unsubVol = source.OnVolumeChanged(f.sourceVolumeChanged)
	f.unsubDest = source.OnDestroy(f.Detach)
	f.curDB = MulToDB(source.Volume())
	f.mu.Unlock()
}

// Detach unbinds the fader from its source. Idempotent.
func (f *Fader) Detach() {
	f.mu.Lock()
	unsubVol, unsubDest := f.unsubVol, f.unsubDest
	f.source = nil
	f.unsubVol = nil
	f.unsubDest = nil
	f.mu.Unlock()

	if unsubVol != nil {
		unsubVol()
	}
	if unsubDest != nil {
		unsubDest()
	}
}

// SetDB sets the fader level in dB, clamped to [minDB, maxDB]; values
// below minDB clamp to -Inf. The resulting linear gain is pushed to the
// bound source, and the notification that push produces is suppressed so
// the fader does not observe its own change. Returns true if the value
// was applied without clamping.
func (f *Fader) SetDB(db float64) bool {
	f.mu.Lock()

	clamped := false
	f.curDB = db

	if f.curDB > f.maxDB {
		f.curDB = f.maxDB
		clamped = true
	}
	if f.curDB < f.minDB {
		f.curDB = math.Inf(-1)
		clamped = true
	}

	f.ignoreNext = true
	src := f.source
	mul := DBToMul(f.curDB)

	f.mu.Unlock()

	if src != nil {
		src.SetVolume(mul)
	}

	return !clamped
}

// DB returns the current fader level in dB.
func (f *Fader) DB() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.curDB
}

// SetDeflection sets the fader from a deflection in [0, 1].
func (f *Fader) SetDeflection(def float64) bool {
	return f.SetDB(f.curve.DefToDB(def))
}

// Deflection returns the current level as a deflection in [0, 1].
func (f *Fader) Deflection() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.curve.DBToDef(f.curDB)
}

// SetMul sets the fader from a linear gain multiplier.
func (f *Fader) SetMul(mul float64) bool {
	return f.SetDB(MulToDB(mul))
}

// Mul returns the current level as a linear gain multiplier.
func (f *Fader) Mul() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return DBToMul(f.curDB)
}

// sourceVolumeChanged handles gain-change notifications from the bound
// source. The first notification after SetDB is the fader's own push and
// is dropped; the suppression flag clears on that notification regardless
// of which goroutine delivers it.
func (f *Fader) sourceVolumeChanged(mul float64) {
	f.mu.Lock()

	if f.ignoreNext {
		f.ignoreNext = false
		f.mu.Unlock()
		return
	}

	db := MulToDB(mul)
	f.curDB = db
	fns := make([]func(float64), 0, len(f.changedFns))
	for _, fn := range f.changedFns {
		fns = append(fns, fn)
	}
	f.mu.Unlock()

	for _, fn := range fns {
		fn(db)
	}
}
