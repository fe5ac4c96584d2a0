package output

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// eventRecorder collects output events and lets tests wait for specific
// kinds without sleeping.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
	ch     chan Event
}

func newEventRecorder(out *Output) *eventRecorder {
	r := &eventRecorder{ch: make(chan Event, 64)}
	out.OnEvent(func(ev Event) {
		r.mu.Lock()
		r.events = append(r.events, ev)
		r.mu.Unlock()
		r.ch <- ev
	})
	return r
}

func (r *eventRecorder) waitFor(t *testing.T, kind EventKind) Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-r.ch:
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event kind %d", kind)
		}
	}
}

func (r *eventRecorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (d *sinkDriver) setStartErr(err error) {
	d.mu.Lock()
	d.startErr = err
	d.mu.Unlock()
}

func TestReconnectBackoffDoubles(t *testing.T) {
	t.Parallel()

	drv := &sinkDriver{}
	out := New("test", drv)
	drv.out = out
	out.SetVideoEncoder("venc")
	require.NoError(t, out.SetAudioEncoder(0, "aenc"))
	out.SetReconnectSettings(5, 4*time.Millisecond)

	rec := newEventRecorder(out)

	require.NoError(t, out.Start())
	rec.waitFor(t, EventStart)

	// every restart fails, so the machine walks the whole schedule
	drv.setStartErr(errors.New("connection refused"))
	out.SignalStop(StopDisconnected)

	stop := rec.waitFor(t, EventStop)
	assert.Equal(t, StopDisconnected, stop.Code)

	var waits []time.Duration
	for _, ev := range rec.all() {
		if ev.Kind == EventReconnect {
			waits = append(waits, ev.Timeout)
		}
	}
	require.Len(t, waits, 5)
	base := 4 * time.Millisecond
	assert.Equal(t, []time.Duration{base, 2 * base, 4 * base, 8 * base, 16 * base}, waits)
}

func TestReconnectGivesUpWithoutSpawningWait(t *testing.T) {
	t.Parallel()

	drv := &sinkDriver{}
	out := New("test", drv)
	drv.out = out
	out.SetVideoEncoder("venc")
	out.SetReconnectSettings(1, time.Millisecond)

	rec := newEventRecorder(out)

	require.NoError(t, out.Start())
	rec.waitFor(t, EventStart)

	drv.setStartErr(errors.New("connection refused"))
	started := drv.startCount()
	out.SignalStop(StopDisconnected)

	stop := rec.waitFor(t, EventStop)
	assert.Equal(t, StopDisconnected, stop.Code)

	// budget of one: exactly one wait happened, and the terminal failure
	// produced no further restart attempt
	var waits int
	for _, ev := range rec.all() {
		if ev.Kind == EventReconnect {
			waits++
		}
	}
	assert.Equal(t, 1, waits)
	assert.Equal(t, started, drv.startCount())
	assert.False(t, out.Active())
}

func TestReconnectSuccessReactivates(t *testing.T) {
	t.Parallel()

	drv := &sinkDriver{}
	out := New("test", drv)
	drv.out = out
	out.SetVideoEncoder("venc")
	out.SetReconnectSettings(5, time.Millisecond)

	rec := newEventRecorder(out)

	require.NoError(t, out.Start())
	rec.waitFor(t, EventStart)

	// the restart succeeds; the machine returns to active and announces
	// the recovery rather than a fresh start
	out.SignalStop(StopDisconnected)
	rec.waitFor(t, EventReconnectSuccess)

	assert.True(t, out.Active())
	for _, ev := range rec.all() {
		if ev.Kind == EventStop {
			t.Fatalf("unexpected stop event: %+v", ev)
		}
	}
}

func TestStopDuringWaitCancelsRestart(t *testing.T) {
	t.Parallel()

	drv := &sinkDriver{}
	out := New("test", drv)
	drv.out = out
	out.SetVideoEncoder("venc")
	out.SetReconnectSettings(5, time.Hour)

	rec := newEventRecorder(out)

	require.NoError(t, out.Start())
	rec.waitFor(t, EventStart)
	started := drv.startCount()

	out.SignalStop(StopDisconnected)
	rec.waitFor(t, EventReconnect)

	// Stop must wake the hour-long wait immediately and join it
	done := make(chan struct{})
	go func() {
		out.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not cancel the reconnect wait")
	}

	stop := rec.waitFor(t, EventStop)
	assert.Equal(t, StopSuccess, stop.Code)
	assert.Equal(t, started, drv.startCount(), "cancelled wait must not restart")
	assert.False(t, out.Active())
}

func TestReconnectFailureWhileWaitingIsNoOp(t *testing.T) {
	t.Parallel()

	drv := &sinkDriver{}
	out := New("test", drv)
	drv.out = out
	out.SetVideoEncoder("venc")
	out.SetReconnectSettings(5, time.Hour)

	rec := newEventRecorder(out)

	require.NoError(t, out.Start())
	rec.waitFor(t, EventStart)

	out.SignalStop(StopDisconnected)
	rec.waitFor(t, EventReconnect)

	// a second failure while the wait is outstanding changes nothing
	out.SignalStop(StopError)

	var waits int
	for _, ev := range rec.all() {
		if ev.Kind == EventReconnect {
			waits++
		}
	}
	assert.Equal(t, 1, waits)

	out.Stop()
}

func TestStopIdempotent(t *testing.T) {
	t.Parallel()

	drv := &sinkDriver{}
	out := New("test", drv)
	drv.out = out
	out.SetVideoEncoder("venc")

	require.NoError(t, out.Start())
	out.Stop()
	out.Stop()

	assert.False(t, out.Active())
}

func TestCleanStopEmitsSuccess(t *testing.T) {
	t.Parallel()

	drv := &sinkDriver{}
	out := New("test", drv)
	drv.out = out
	out.SetVideoEncoder("venc")

	rec := newEventRecorder(out)

	require.NoError(t, out.Start())
	rec.waitFor(t, EventStart)

	out.Stop()
	stop := rec.waitFor(t, EventStop)
	assert.Equal(t, StopSuccess, stop.Code)
}

func TestSignalStopCleanCodeDoesNotReconnect(t *testing.T) {
	t.Parallel()

	drv := &sinkDriver{}
	out := New("test", drv)
	drv.out = out
	out.SetVideoEncoder("venc")

	rec := newEventRecorder(out)

	require.NoError(t, out.Start())
	rec.waitFor(t, EventStart)

	// a non-disconnect failure outside a retry episode surfaces directly
	out.SignalStop(StopBadPath)
	stop := rec.waitFor(t, EventStop)
	assert.Equal(t, StopBadPath, stop.Code)
	assert.False(t, out.Active())
}
