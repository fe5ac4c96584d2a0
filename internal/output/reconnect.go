package output

import (
	"log/slog"
	"time"
)

// The reconnect state machine. A failed activation routes here through
// SignalStop; each episode doubles the wait (after the first), spawns one
// cancellable timed wait, and re-invokes the driver's start on timeout.
// Explicit Stop cancels the wait immediately and prevents the restart.

// reconnect schedules the next retry attempt, or gives up with a
// disconnected stop event once the retry budget is spent. A failure
// reported while a wait is already outstanding is a no-op; the existing
// backoff continues.
func (o *Output) reconnect() {
	o.stateMu.Lock()

	if !o.reconnecting {
		o.retryCur = o.retryBase
		o.retries = 0
	}

	if o.retries >= o.retryMax {
		o.reconnecting = false
		o.stateMu.Unlock()
		slog.Warn("output retry budget exhausted", "output", o.name, "retries", o.retryMax)
		o.emit(Event{Kind: EventStop, Code: StopDisconnected})
		return
	}

	if !o.reconnecting {
		o.reconnecting = true
		o.reconnectStop = make(chan struct{})
	}

	if o.reconnectActive {
		o.stateMu.Unlock()
		return
	}

	if o.retries > 0 {
		o.retryCur *= 2
	}
	o.retries++

	wait := o.retryCur
	stop := o.reconnectStop
	o.reconnectActive = true
	o.reconnectWG.Add(1)
	o.stateMu.Unlock()

	go o.reconnectWait(wait, stop)

	slog.Info("output reconnecting", "output", o.name, "wait", wait,
		"attempt", o.retryAttempt(), "max", o.maxRetries())
	o.emit(Event{Kind: EventReconnect, Timeout: wait})
}

// reconnectWait blocks for the backoff duration on a dedicated goroutine
// and restarts the output on timeout. Cancellation through the stop
// channel wakes it immediately and suppresses the restart.
func (o *Output) reconnectWait(wait time.Duration, stop <-chan struct{}) {
	defer o.reconnectWG.Done()

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-stop:
		o.stateMu.Lock()
		o.reconnectActive = false
		o.stateMu.Unlock()
		return
	case <-timer.C:
	}

	o.stateMu.Lock()
	o.reconnectActive = false
	stopped := o.stopped
	o.stateMu.Unlock()

	if stopped {
		return
	}

	if err := o.Start(); err != nil {
		slog.Warn("output restart failed", "output", o.name, "error", err)
		o.SignalStop(StopConnectFailed)
	}
}

func (o *Output) retryAttempt() int {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	return o.retries
}

func (o *Output) maxRetries() int {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	return o.retryMax
}
