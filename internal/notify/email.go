// Package notify provides notification services for stream outage alerts.
package notify

import (
	"fmt"
	"strings"

	"github.com/avkit/streamcore/internal/util"
	"github.com/wneessen/go-mail"
)

// EmailConfig contains SMTP server settings for email notifications.
type EmailConfig struct {
	Host       string
	Port       int
	FromName   string
	Username   string
	Password   string
	Recipients string
}

// SendDisconnectAlert sends an email notification when a stream output drops.
func SendDisconnectAlert(cfg *EmailConfig, outputName string) error {
	if !util.IsConfigured(cfg.Host, cfg.Username, cfg.Recipients) {
		return nil // Silently skip if not configured
	}

	subject := fmt.Sprintf("[ALERT] Stream Disconnected - %s", outputName)
	body := fmt.Sprintf(
		"A stream output lost its connection and is retrying.\n\n"+
			"Output: %s\n"+
			"Time:   %s\n\n"+
			"Reconnect attempts are in progress.",
		outputName, util.HumanTime(),
	)

	return sendEmail(cfg, subject, body)
}

// SendRecoveredAlert sends an email notification when a stream output reconnects.
func SendRecoveredAlert(cfg *EmailConfig, outputName string) error {
	if !util.IsConfigured(cfg.Host, cfg.Username, cfg.Recipients) {
		return nil // Silently skip if not configured
	}

	subject := fmt.Sprintf("[OK] Stream Recovered - %s", outputName)
	body := fmt.Sprintf(
		"A stream output reconnected successfully.\n\n"+
			"Output: %s\n"+
			"Time:   %s",
		outputName, util.HumanTime(),
	)

	return sendEmail(cfg, subject, body)
}

// SendGiveUpAlert sends an email notification when an output exhausts its
// retry budget and stops.
func SendGiveUpAlert(cfg *EmailConfig, outputName string, maxRetries int) error {
	if !util.IsConfigured(cfg.Host, cfg.Username, cfg.Recipients) {
		return nil // Silently skip if not configured
	}

	subject := fmt.Sprintf("[ALERT] Stream Stopped - %s", outputName)
	body := fmt.Sprintf(
		"A stream output exhausted its retry budget and stopped.\n\n"+
			"Output:      %s\n"+
			"Max retries: %d\n"+
			"Time:        %s\n\n"+
			"Manual intervention is required to restart the output.",
		outputName, maxRetries, util.HumanTime(),
	)

	return sendEmail(cfg, subject, body)
}

// SendTestEmail sends a test email to verify SMTP configuration.
func SendTestEmail(cfg *EmailConfig) error {
	if cfg.Host == "" {
		return fmt.Errorf("SMTP host not configured")
	}
	if cfg.Username == "" {
		return fmt.Errorf("email username not configured")
	}
	if cfg.Recipients == "" {
		return fmt.Errorf("email recipients not configured")
	}

	subject := "[TEST] streamcore"
	body := fmt.Sprintf(
		"Test email from streamcore.\n\n"+
			"Time: %s\n\n"+
			"SMTP configuration is working correctly.",
		util.HumanTime(),
	)

	return sendEmail(cfg, subject, body)
}

// sendEmail delivers an email message to configured recipients.
func sendEmail(cfg *EmailConfig, subject, body string) error {
	var recipients []string
	for _, r := range strings.Split(cfg.Recipients, ",") {
		if r = strings.TrimSpace(r); r != "" {
			recipients = append(recipients, r)
		}
	}
	if len(recipients) == 0 {
		return fmt.Errorf("no valid recipients")
	}

	m := mail.NewMsg()
	if cfg.FromName != "" {
		if err := m.FromFormat(cfg.FromName, cfg.Username); err != nil {
			return util.WrapError("set from address", err)
		}
	} else {
		if err := m.From(cfg.Username); err != nil {
			return util.WrapError("set from address", err)
		}
	}
	if err := m.To(recipients...); err != nil {
		return util.WrapError("set recipient address", err)
	}
	m.Subject(subject)
	m.SetBodyString(mail.TypeTextPlain, body)

	// Build client options with port-appropriate TLS settings
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthAutoDiscover),
		mail.WithUsername(cfg.Username),
		mail.WithPassword(cfg.Password),
	}

	switch cfg.Port {
	case 465: // SMTPS - implicit TLS
		opts = append(opts, mail.WithSSL())
	case 587: // Submission - STARTTLS required
		opts = append(opts, mail.WithTLSPortPolicy(mail.TLSMandatory))
	default: // Port 25 or custom - opportunistic TLS
		opts = append(opts, mail.WithTLSPortPolicy(mail.TLSOpportunistic))
	}

	c, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return util.WrapError("create SMTP client", err)
	}

	if err := c.DialAndSend(m); err != nil {
		return util.WrapError("send email", err)
	}

	return nil
}
