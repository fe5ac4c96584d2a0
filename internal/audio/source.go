package audio

import "sync"

// Source is the narrow view of the gain subsystem that faders and meters
// bind to: a mutable linear gain plus typed change and teardown
// notifications. Listener registration returns a remove function; calling
// it more than once is harmless.
type Source interface {
	// Volume returns the current linear gain multiplier.
	Volume() float64
	// SetVolume sets the linear gain multiplier and notifies listeners.
	SetVolume(mul float64)
	// OnVolumeChanged registers a listener invoked with the new linear
	// gain after every SetVolume.
	OnVolumeChanged(fn func(mul float64)) (remove func())
	// OnDestroy registers a listener invoked when the source is torn down.
	OnDestroy(fn func()) (remove func())
}

// MixSource is a plain in-process Source: the gain node of a mix bus
// channel. Listeners are invoked with the lock released.
type MixSource struct {
	mu         sync.Mutex
	volume     float64
	destroyed  bool
	nextID     int
	volumeFns  map[int]func(float64)
	destroyFns map[int]func()
}

// NewMixSource creates a MixSource at unity gain.
func NewMixSource() *MixSource {
	return &MixSource{
		volume:     1.0,
		volumeFns:  make(map[int]func(float64)),
		destroyFns: make(map[int]func()),
	}
}

// Volume returns the current linear gain multiplier.
func (s *MixSource) Volume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

// SetVolume sets the linear gain and notifies volume listeners.
func (s *MixSource) SetVolume(mul float64) {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.volume = mul
	fns := make([]func(float64), 0, len(s.volumeFns))
	for _, fn := range s.volumeFns {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(mul)
	}
}

// OnVolumeChanged registers a gain-change listener.
func (s *MixSource) OnVolumeChanged(fn func(mul float64)) (remove func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.volumeFns[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.volumeFns, id)
		s.mu.Unlock()
	}
}

// OnDestroy registers a teardown listener.
func (s *MixSource) OnDestroy(fn func()) (remove func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.destroyFns[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.destroyFns, id)
		s.mu.Unlock()
	}
}

// Destroy notifies destroy listeners and drops all registrations. Further
// SetVolume calls are ignored. Idempotent.
func (s *MixSource) Destroy() {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.destroyed = true
	fns := make([]func(), 0, len(s.destroyFns))
	for _, fn := range s.destroyFns {
		fns = append(fns, fn)
	}
	s.volumeFns = make(map[int]func(float64))
	s.destroyFns = make(map[int]func())
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
