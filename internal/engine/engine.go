// Package engine wires the audio control plane to the configured stream
// outputs: one mix source with its fader and meter, a test signal
// feeding them, and a managed output per configured destination.
package engine

import (
	"fmt"
	"sync"

	"github.com/avkit/streamcore/internal/audio"
	"github.com/avkit/streamcore/internal/config"
	"github.com/avkit/streamcore/internal/notify"
	"github.com/avkit/streamcore/internal/output"
	"golang.org/x/sync/errgroup"
)

// State represents the current state of the engine.
type State string

const (
	// StateStopped indicates the engine is not running.
	StateStopped State = "stopped"
	// StateRunning indicates the engine is actively processing audio.
	StateRunning State = "running"
)

// encoderID identifies the engine's PCM packetizer to its outputs.
const encoderID = "pcm-0"

// Engine owns the audio pipeline and the output fleet.
type Engine struct {
	cfg      *config.Config
	actx     *audio.Context
	source   *audio.MixSource
	fader    *audio.Fader
	meter    *audio.Meter
	outputs  *output.Manager
	notifier *notify.StreamNotifier

	mu       sync.RWMutex
	state    State
	stopChan chan struct{}
	wg       sync.WaitGroup
	muted    bool
	levels   audio.Levels
}

// New builds an engine from configuration. Outputs are created lazily
// when Start runs, so config edits before startup are picked up.
func New(cfg *config.Config) *Engine {
	snap := cfg.Snapshot()
	curve := audio.ParseCurve(snap.FaderCurve)

	actx := audio.NewContext(snap.SampleRate, snap.Channels)
	source := audio.NewMixSource()

	fader := audio.NewFader(curve)
	fader.Attach(source)

	meter := audio.NewMeter(actx, curve)
	meter.SetUpdateInterval(snap.MeterUpdateMS)
	meter.SetPeakHold(snap.PeakHoldMS)
	meter.Attach(source)

	e := &Engine{
		cfg:      cfg,
		actx:     actx,
		source:   source,
		fader:    fader,
		meter:    meter,
		outputs:  output.NewManager(),
		notifier: notify.NewStreamNotifier(cfg),
		state:    StateStopped,
	}

	e.meter.OnLevelsUpdated(func(l audio.Levels) {
		e.mu.Lock()
		e.levels = l
		e.mu.Unlock()
	})

	e.outputs.OnEvent(e.notifier.HandleEvent)

	return e
}

// State returns the engine's current state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Levels returns the most recent meter reading.
func (e *Engine) Levels() audio.Levels {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.levels
}

// Fader returns the engine's fader for volume control.
func (e *Engine) Fader() *audio.Fader {
	return e.fader
}

// SetMuted mutes or unmutes the audio line.
func (e *Engine) SetMuted(muted bool) {
	e.mu.Lock()
	e.muted = muted
	e.mu.Unlock()
}

// Muted reports whether the audio line is muted.
func (e *Engine) Muted() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.muted
}

// Outputs returns the output manager.
func (e *Engine) Outputs() *output.Manager {
	return e.outputs
}

// Start brings up all configured outputs and starts the signal loop.
func (e *Engine) Start() error {
	e.mu.Lock()
	if e.state == StateRunning {
		e.mu.Unlock()
		return nil
	}
	e.state = StateRunning
	e.stopChan = make(chan struct{})
	stop := e.stopChan
	e.mu.Unlock()

	snap := e.cfg.Snapshot()
	var g errgroup.Group
	for _, o := range snap.Outputs {
		if err := e.addManagedOutput(&o, &snap); err != nil {
			return err
		}
		id := o.ID
		g.Go(func() error {
			return e.outputs.Start(id)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runSignal(stop)
	}()

	return nil
}

// addManagedOutput builds a file-sink output for one configured
// destination and places it under management.
func (e *Engine) addManagedOutput(o *config.Output, snap *config.Snapshot) error {
	sink := output.NewFileSink(o.URL)
	out := output.New(o.ID, sink)
	sink.Bind(out)

	if err := out.SetAudioEncoder(0, encoderID); err != nil {
		return fmt.Errorf("attach encoder to %s: %w", o.ID, err)
	}
	out.SetReconnectSettings(snap.MaxRetries, snap.RetryBase)

	return e.outputs.Add(out)
}

// StartOutput adds and starts a single configured output at runtime.
func (e *Engine) StartOutput(id string) error {
	snap := e.cfg.Snapshot()

	if e.outputs.Output(id) == nil {
		o := e.cfg.Output(id)
		if o == nil {
			return fmt.Errorf("output not configured: %s", id)
		}
		if err := e.addManagedOutput(o, &snap); err != nil {
			return err
		}
	}
	return e.outputs.Start(id)
}

// StopOutput stops a single managed output.
func (e *Engine) StopOutput(id string) error {
	return e.outputs.Stop(id)
}

// RemoveOutput stops an output and drops it from management.
func (e *Engine) RemoveOutput(id string) error {
	if e.outputs.Output(id) == nil {
		return nil
	}
	return e.outputs.Remove(id)
}

// Stop shuts the engine down: signal loop first, then every output.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.state != StateRunning {
		e.mu.Unlock()
		return
	}
	e.state = StateStopped
	close(e.stopChan)
	e.mu.Unlock()

	e.wg.Wait()
	e.outputs.StopAll()
}
