package notify

import (
	"sync"

	"github.com/avkit/streamcore/internal/config"
	"github.com/avkit/streamcore/internal/output"
	"github.com/avkit/streamcore/internal/util"
)

// StreamNotifier orchestrates notifications for output connection events.
// It tracks which notifications have been sent per output to avoid
// duplicates across the retry storm of a single outage, and independently
// triggers webhook, email, and log notifications based on configuration.
//
// This separates notification concerns from the Output itself, which only
// reports lifecycle events.
type StreamNotifier struct {
	cfg *config.Config

	// mu protects the outage state map below
	mu sync.Mutex

	outages map[string]*outageState
}

// outageState tracks which notifications went out for one output's
// current outage.
type outageState struct {
	webhookSent bool
	emailSent   bool
	logSent     bool
}

// NewStreamNotifier returns a StreamNotifier configured with the given config.
func NewStreamNotifier(cfg *config.Config) *StreamNotifier {
	return &StreamNotifier{
		cfg:     cfg,
		outages: make(map[string]*outageState),
	}
}

// HandleEvent processes an output lifecycle event and triggers notifications.
// Wire this to Output.OnEvent with the output's configured name.
func (n *StreamNotifier) HandleEvent(name string, event output.Event) {
	switch event.Kind {
	case output.EventReconnect:
		n.handleDisconnect(name, event.Timeout.Seconds())
	case output.EventReconnectSuccess:
		n.handleRecovered(name)
	case output.EventStop:
		if event.Code == output.StopDisconnected {
			n.handleGiveUp(name)
		}
	}
}

// handleDisconnect triggers notifications when an output first drops.
// Later reconnect attempts within the same outage are not re-announced.
func (n *StreamNotifier) handleDisconnect(name string, waitSec float64) {
	cfg := n.cfg.Snapshot()
	state := n.outage(name)

	n.trySend(&state.webhookSent, cfg.HasWebhook(), func() { n.sendDisconnectWebhook(name, waitSec) })
	n.trySend(&state.emailSent, cfg.HasEmail(), func() { n.sendDisconnectEmail(name) })
	n.trySend(&state.logSent, cfg.HasLogPath(), func() { n.logDisconnect(name) })
}

// outage returns the outage state for an output, creating it if absent.
func (n *StreamNotifier) outage(name string) *outageState {
	n.mu.Lock()
	defer n.mu.Unlock()
	state, ok := n.outages[name]
	if !ok {
		state = &outageState{}
		n.outages[name] = state
	}
	return state
}

// trySend atomically checks and sets a notification flag, then spawns the sender if needed.
func (n *StreamNotifier) trySend(sent *bool, condition bool, sender func()) {
	n.mu.Lock()
	shouldSend := !*sent && condition
	if shouldSend {
		*sent = true
	}
	n.mu.Unlock()
	if shouldSend {
		go sender()
	}
}

// handleRecovered triggers recovery notifications when an output reconnects.
func (n *StreamNotifier) handleRecovered(name string) {
	// Only send recovery notifications if we announced the outage
	n.mu.Lock()
	state := n.outages[name]
	delete(n.outages, name)
	n.mu.Unlock()
	if state == nil {
		return
	}

	if state.webhookSent {
		go n.sendRecoveredWebhook(name)
	}
	if state.emailSent {
		go n.sendRecoveredEmail(name)
	}
	if state.logSent {
		go n.logRecovered(name)
	}
}

// handleGiveUp triggers final notifications when the retry budget runs out.
func (n *StreamNotifier) handleGiveUp(name string) {
	cfg := n.cfg.Snapshot()

	n.mu.Lock()
	delete(n.outages, name)
	n.mu.Unlock()

	if cfg.HasWebhook() {
		go n.sendGiveUpWebhook(name)
	}
	if cfg.HasEmail() {
		go n.sendGiveUpEmail(name)
	}
	if cfg.HasLogPath() {
		go n.logGiveUp(name)
	}
}

// Reset clears all outage state.
func (n *StreamNotifier) Reset() {
	n.mu.Lock()
	n.outages = make(map[string]*outageState)
	n.mu.Unlock()
}

// Notification senders.

func (n *StreamNotifier) sendDisconnectWebhook(name string, waitSec float64) {
	cfg := n.cfg.Snapshot()
	util.LogNotifyResult(
		func() error { return SendDisconnectWebhook(cfg.WebhookURL, name, waitSec) },
		"disconnect webhook",
		true,
	)
}

func (n *StreamNotifier) sendRecoveredWebhook(name string) {
	cfg := n.cfg.Snapshot()
	util.LogNotifyResult(
		func() error { return SendRecoveredWebhook(cfg.WebhookURL, name) },
		"recovery webhook",
		true,
	)
}

func (n *StreamNotifier) sendGiveUpWebhook(name string) {
	cfg := n.cfg.Snapshot()
	util.LogNotifyResult(
		func() error { return SendGiveUpWebhook(cfg.WebhookURL, name, cfg.MaxRetries) },
		"give-up webhook",
		true,
	)
}

func (n *StreamNotifier) sendDisconnectEmail(name string) {
	cfg := n.cfg.Snapshot()
	util.LogNotifyResult(
		func() error { return SendDisconnectAlert(emailConfig(&cfg), name) },
		"disconnect email",
		true,
	)
}

func (n *StreamNotifier) sendRecoveredEmail(name string) {
	cfg := n.cfg.Snapshot()
	util.LogNotifyResult(
		func() error { return SendRecoveredAlert(emailConfig(&cfg), name) },
		"recovery email",
		true,
	)
}

func (n *StreamNotifier) sendGiveUpEmail(name string) {
	cfg := n.cfg.Snapshot()
	util.LogNotifyResult(
		func() error { return SendGiveUpAlert(emailConfig(&cfg), name, cfg.MaxRetries) },
		"give-up email",
		true,
	)
}

func (n *StreamNotifier) logDisconnect(name string) {
	cfg := n.cfg.Snapshot()
	util.LogNotifyResult(
		func() error { return LogDisconnect(cfg.LogPath, name) },
		"disconnect log",
		true,
	)
}

func (n *StreamNotifier) logRecovered(name string) {
	cfg := n.cfg.Snapshot()
	util.LogNotifyResult(
		func() error { return LogRecovered(cfg.LogPath, name) },
		"recovery log",
		true,
	)
}

func (n *StreamNotifier) logGiveUp(name string) {
	cfg := n.cfg.Snapshot()
	util.LogNotifyResult(
		func() error { return LogGiveUp(cfg.LogPath, name, cfg.MaxRetries) },
		"give-up log",
		true,
	)
}

// emailConfig builds an EmailConfig from a config snapshot.
func emailConfig(cfg *config.Snapshot) *EmailConfig {
	return &EmailConfig{
		Host:       cfg.EmailSMTPHost,
		Port:       cfg.EmailSMTPPort,
		FromName:   cfg.EmailFromName,
		Username:   cfg.EmailUsername,
		Password:   cfg.EmailPassword,
		Recipients: cfg.EmailRecipients,
	}
}
