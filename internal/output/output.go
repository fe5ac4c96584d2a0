package output

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Default reconnect tuning, matching the configuration surface defaults.
const (
	DefaultRetryBaseDelay = 2 * time.Second
	DefaultRetryMax       = 20
)

// Driver is the sink contract an output drives: a file writer, a network
// publisher, or anything else that consumes the interleaved packet
// stream. Start is expected to call BeginDataCapture on the owning output
// once the sink is ready; mid-stream failures are reported back through
// SignalStop.
type Driver interface {
	Start() error
	Stop()
	EncodedPacket(pkt *Packet)
}

// RawDriver is implemented by drivers that consume unencoded frames
// instead of encoder packets.
type RawDriver interface {
	Driver
	RawVideo(frame *VideoFrame)
	RawAudio(data *AudioData)
}

// DroppedFramesReporter is implemented by drivers that track frames they
// had to drop (congestion, slow sink).
type DroppedFramesReporter interface {
	DroppedFrames() int
}

// VideoFrame is one unencoded video frame handed to a RawDriver.
type VideoFrame struct {
	Timestamp uint64
	Planes    [][]byte
}

// AudioData is one unencoded audio buffer handed to a RawDriver.
type AudioData struct {
	Timestamp uint64
	Frames    int
	Planes    [][]float32
}

// Output owns one sink driver and the interleaver feeding it, and runs
// the reconnect state machine across the driver's failures. Encoders are
// external; they are attached by identity and deliver packets through
// DeliverPacket.
type Output struct {
	name   string
	driver Driver

	// mu guards the interleave state in interleave.go.
	mu             sync.Mutex
	packets        []*Packet
	receivedVideo  bool
	receivedAudio  bool
	videoOffset    int64
	audioOffsets   [MaxAudioTracks]int64
	highestVideoTS int64
	highestAudioTS int64

	// stateMu guards lifecycle, encoder slots, reconnect state and event
	// listeners.
	stateMu         sync.Mutex
	videoEncoderID  string
	audioEncoderIDs [MaxAudioTracks]string
	active          bool
	stopped         bool
	totalFrames     int

	reconnecting    bool
	retryBase       time.Duration
	retryMax        int
	retryCur        time.Duration
	retries         int
	reconnectStop   chan struct{}
	reconnectWG     sync.WaitGroup
	reconnectActive bool

	nextID   int
	eventFns map[int]func(Event)
}

// New creates an output around a driver with default reconnect settings.
func New(name string, driver Driver) *Output {
	return &Output{
		name:      name,
		driver:    driver,
		retryBase: DefaultRetryBaseDelay,
		retryMax:  DefaultRetryMax,
		eventFns:  make(map[int]func(Event)),
	}
}

// Name returns the output's name.
func (o *Output) Name() string {
	return o.name
}

// OnEvent registers a lifecycle event listener.
func (o *Output) OnEvent(fn func(Event)) (remove func()) {
	o.stateMu.Lock()
	id := o.nextID
	o.nextID++
	o.eventFns[id] = fn
	o.stateMu.Unlock()

	return func() {
		o.stateMu.Lock()
		delete(o.eventFns, id)
		o.stateMu.Unlock()
	}
}

// emit delivers an event to all listeners with no locks held.
func (o *Output) emit(ev Event) {
	ev.Output = o.name

	o.stateMu.Lock()
	fns := make([]func(Event), 0, len(o.eventFns))
	for _, fn := range o.eventFns {
		fns = append(fns, fn)
	}
	o.stateMu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// SetReconnectSettings configures the retry budget and base delay.
// Non-positive values keep the defaults.
func (o *Output) SetReconnectSettings(maxRetries int, baseDelay time.Duration) {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	if maxRetries > 0 {
		o.retryMax = maxRetries
	}
	if baseDelay > 0 {
		o.retryBase = baseDelay
	}
}

// SetVideoEncoder attaches the video encoder identity.
func (o *Output) SetVideoEncoder(encoderID string) {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	o.videoEncoderID = encoderID
}

// SetAudioEncoder attaches an audio encoder identity to a track slot.
func (o *Output) SetAudioEncoder(track int, encoderID string) error {
	if track < 0 || track >= MaxAudioTracks {
		return fmt.Errorf("audio track %d out of range (max %d)", track, MaxAudioTracks-1)
	}
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	o.audioEncoderIDs[track] = encoderID
	return nil
}

// numAudioTracks counts the contiguous configured audio slots.
func (o *Output) numAudioTracks() int {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	n := 0
	for _, id := range o.audioEncoderIDs {
		if id == "" {
			break
		}
		n++
	}
	return n
}

// interleaving reports whether packets go through the interleave buffer:
// only when the output carries both a video and at least one audio
// encoder do the streams need merging.
func (o *Output) interleaving() bool {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	hasAudio := o.audioEncoderIDs[0] != ""
	return o.videoEncoderID != "" && hasAudio
}

// Start asks the driver to begin. The driver calls BeginDataCapture once
// its sink is ready; a start error is returned without engaging the
// reconnect machinery (the caller decides whether to signal a stop code).
func (o *Output) Start() error {
	o.stateMu.Lock()
	o.stopped = false
	o.stateMu.Unlock()

	if err := o.driver.Start(); err != nil {
		return fmt.Errorf("failed to start output %q: %w", o.name, err)
	}
	return nil
}

// CanBeginDataCapture reports whether the output has the encoder slots it
// needs to activate.
func (o *Output) CanBeginDataCapture() bool {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	if o.active {
		return false
	}
	return o.videoEncoderID != "" || o.audioEncoderIDs[0] != ""
}

// BeginDataCapture activates the output: interleave state is fully reset,
// the frame counter restarts, and either a start or a reconnect-success
// event fires depending on whether a retry brought us here.
func (o *Output) BeginDataCapture() bool {
	if !o.CanBeginDataCapture() {
		return false
	}

	o.mu.Lock()
	o.resetInterleave()
	o.mu.Unlock()

	o.stateMu.Lock()
	o.totalFrames = 0
	o.active = true
	wasReconnecting := o.reconnecting
	o.reconnecting = false
	o.stateMu.Unlock()

	if wasReconnecting {
		slog.Info("output reconnected", "output", o.name)
		o.emit(Event{Kind: EventReconnectSuccess})
	} else {
		slog.Info("output started", "output", o.name)
		o.emit(Event{Kind: EventStart})
	}

	return true
}

// EndDataCapture deactivates the output. Packets delivered afterwards are
// ignored by the stopped check in emission.
func (o *Output) EndDataCapture() {
	o.stateMu.Lock()
	o.active = false
	o.stateMu.Unlock()
}

// Active reports whether the output is capturing or waiting to reconnect.
func (o *Output) Active() bool {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	return o.active || o.reconnecting
}

// Reconnecting reports whether the output is between connection attempts.
func (o *Output) Reconnecting() bool {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	return o.reconnecting
}

// TotalFrames returns the number of video packets released downstream
// during the current activation.
func (o *Output) TotalFrames() int {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	return o.totalFrames
}

// FramesDropped returns the driver's dropped-frame count, if it reports
// one.
func (o *Output) FramesDropped() int {
	if r, ok := o.driver.(DroppedFramesReporter); ok {
		return r.DroppedFrames()
	}
	return 0
}

// Stop stops the output for good. It cancels any in-flight reconnect wait
// and blocks until that goroutine has exited, so no late restart can race
// with teardown. Safe to call in any state; idempotent.
func (o *Output) Stop() {
	o.stateMu.Lock()
	o.stopped = true
	if o.reconnectStop != nil {
		select {
		case <-o.reconnectStop:
		default:
			close(o.reconnectStop)
		}
	}
	o.reconnecting = false
	o.stateMu.Unlock()

	o.reconnectWG.Wait()

	o.driver.Stop()
	o.EndDataCapture()
	o.emit(Event{Kind: EventStop, Code: StopSuccess})
	o.logFrameInfo()
}

// SignalStop is called by the driver when capture ends. A clean code
// emits the stop event; a failure routes into the reconnect machine,
// which on success re-activates the same output.
func (o *Output) SignalStop(code StopCode) {
	o.EndDataCapture()

	o.stateMu.Lock()
	reconnecting := o.reconnecting
	o.stateMu.Unlock()

	if (reconnecting && code != StopSuccess) || code == StopDisconnected {
		o.reconnect()
	} else {
		o.emit(Event{Kind: EventStop, Code: code})
	}
}

// DeliverRawVideo hands an unencoded frame to a raw driver.
func (o *Output) DeliverRawVideo(frame *VideoFrame) {
	o.stateMu.Lock()
	stopped := o.stopped
	o.totalFrames++
	o.stateMu.Unlock()

	if stopped {
		return
	}
	if rd, ok := o.driver.(RawDriver); ok {
		rd.RawVideo(frame)
	}
}

// DeliverRawAudio hands an unencoded buffer to a raw driver.
func (o *Output) DeliverRawAudio(data *AudioData) {
	o.stateMu.Lock()
	stopped := o.stopped
	o.stateMu.Unlock()

	if stopped {
		return
	}
	if rd, ok := o.driver.(RawDriver); ok {
		rd.RawAudio(data)
	}
}

// logFrameInfo logs per-activation frame statistics at stop time.
func (o *Output) logFrameInfo() {
	total := o.TotalFrames()
	dropped := o.FramesDropped()

	slog.Info("output stopping", "output", o.name, "total_frames", total)
	if dropped > 0 && total > 0 {
		pct := float64(dropped) / float64(total) * 100
		slog.Info("output dropped frames", "output", o.name,
			"dropped", dropped, "percent", fmt.Sprintf("%.1f", pct))
	}
}
