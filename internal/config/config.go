// Package config provides application configuration management.
package config

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/avkit/streamcore/internal/util"
)

// Configuration defaults.
const (
	DefaultWebPort       = 8080
	DefaultWebUsername   = "admin"
	DefaultWebPassword   = "streamcore"
	DefaultSampleRate    = 48000
	DefaultChannels      = 2
	DefaultMeterUpdateMS = 50
	DefaultPeakHoldMS    = 1500
	DefaultFaderCurve    = "cubic"
	DefaultRetryBaseSec  = 2
	DefaultMaxRetries    = 20
	DefaultEmailSMTPPort = 587
	DefaultEmailFromName = "streamcore"
)

// WebConfig contains web server configuration.
type WebConfig struct {
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// AudioConfig contains the audio line format.
type AudioConfig struct {
	SampleRate int `json:"sample_rate,omitempty"`
	Channels   int `json:"channels,omitempty"`
}

// MeteringConfig contains level meter and fader configuration.
type MeteringConfig struct {
	UpdateIntervalMS int    `json:"update_interval_ms,omitempty"`
	PeakHoldMS       int    `json:"peak_hold_ms,omitempty"`
	FaderCurve       string `json:"fader_curve,omitempty"`
}

// ReconnectConfig contains output retry configuration.
type ReconnectConfig struct {
	RetryBaseSec int `json:"retry_base_sec,omitempty"`
	MaxRetries   int `json:"max_retries,omitempty"`
}

// EmailConfig contains email notification configuration.
type EmailConfig struct {
	Host       string `json:"host,omitempty"`
	Port       int    `json:"port,omitempty"`
	FromName   string `json:"from_name,omitempty"`
	Username   string `json:"username,omitempty"`
	Password   string `json:"password,omitempty"`
	Recipients string `json:"recipients,omitempty"`
}

// NotificationsConfig contains all notification configuration.
type NotificationsConfig struct {
	WebhookURL string      `json:"webhook_url,omitempty"`
	LogPath    string      `json:"log_path,omitempty"`
	Email      EmailConfig `json:"email,omitempty"`
}

// Output describes one configured stream destination.
type Output struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	CreatedAt int64  `json:"created_at"`
}

// Config holds all application configuration. It is safe for concurrent use.
type Config struct {
	Web           WebConfig           `json:"web"`
	Audio         AudioConfig         `json:"audio,omitempty"`
	Metering      MeteringConfig      `json:"metering,omitempty"`
	Reconnect     ReconnectConfig     `json:"reconnect,omitempty"`
	Notifications NotificationsConfig `json:"notifications,omitempty"`
	Outputs       []Output            `json:"outputs"`

	mu       sync.RWMutex
	filePath string
}

// New creates a new Config with default values.
func New(filePath string) *Config {
	return &Config{
		Web: WebConfig{
			Port:     DefaultWebPort,
			Username: DefaultWebUsername,
			Password: DefaultWebPassword,
		},
		Outputs:  []Output{},
		filePath: filePath,
	}
}

// Load reads config from file, creating a default if none exists.
func (c *Config) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.filePath)
	if os.IsNotExist(err) {
		return c.saveLocked()
	}
	if err != nil {
		return util.WrapError("read config", err)
	}

	if err := json.Unmarshal(data, c); err != nil {
		return util.WrapError("parse config", err)
	}

	c.applyDefaults()
	return nil
}

// applyDefaults sets default values for zero-value fields.
func (c *Config) applyDefaults() {
	if c.Web.Port == 0 {
		c.Web.Port = DefaultWebPort
	}
	if c.Web.Username == "" {
		c.Web.Username = DefaultWebUsername
	}
	if c.Web.Password == "" {
		c.Web.Password = DefaultWebPassword
	}
	if c.Outputs == nil {
		c.Outputs = []Output{}
	}
	for i := range c.Outputs {
		if c.Outputs[i].CreatedAt == 0 {
			c.Outputs[i].CreatedAt = time.Now().UnixMilli()
		}
	}
}

// Save writes the configuration to file.
func (c *Config) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveLocked()
}

// saveLocked persists configuration. Caller must hold c.mu.
func (c *Config) saveLocked() error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return util.WrapError("marshal config", err)
	}

	dir := filepath.Dir(c.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return util.WrapError("create config directory", err)
	}

	if err := os.WriteFile(c.filePath, data, 0o600); err != nil {
		return util.WrapError("write config", err)
	}

	return nil
}

// ConfiguredOutputs returns a copy of all outputs.
func (c *Config) ConfiguredOutputs() []Output {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.Outputs)
}

// Output returns a copy of the output with the given ID, or nil if not found.
func (c *Config) Output(id string) *Output {
	c.mu.RLock()
	defer c.mu.RUnlock()

	i := c.findOutputIndex(id)
	if i == -1 {
		return nil
	}
	output := c.Outputs[i]
	return &output
}

// findOutputIndex returns the index of the output with the given ID, or -1 if not found.
// Caller must hold c.mu (read or write lock).
func (c *Config) findOutputIndex(id string) int {
	for i, o := range c.Outputs {
		if o.ID == id {
			return i
		}
	}
	return -1
}

// AddOutput adds a new output and saves the configuration.
func (c *Config) AddOutput(output *Output) error {
	if v := util.ValidateRequired("url", output.URL); v != nil {
		return errors.New(v.Message)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if output.ID == "" {
		output.ID = fmt.Sprintf("output-%d", len(c.Outputs)+1)
	}
	output.CreatedAt = time.Now().UnixMilli()

	c.Outputs = append(c.Outputs, *output)
	return c.saveLocked()
}

// RemoveOutput removes an output by ID and saves the configuration.
func (c *Config) RemoveOutput(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.findOutputIndex(id)
	if i == -1 {
		return fmt.Errorf("output not found: %s", id)
	}

	c.Outputs = append(c.Outputs[:i], c.Outputs[i+1:]...)
	return c.saveLocked()
}

// MeterUpdateInterval returns the meter window length in milliseconds.
func (c *Config) MeterUpdateInterval() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cmp.Or(c.Metering.UpdateIntervalMS, DefaultMeterUpdateMS)
}

// PeakHold returns the meter peak-hold duration in milliseconds.
func (c *Config) PeakHold() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cmp.Or(c.Metering.PeakHoldMS, DefaultPeakHoldMS)
}

// FaderCurve returns the configured fader curve family name.
func (c *Config) FaderCurve() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cmp.Or(c.Metering.FaderCurve, DefaultFaderCurve)
}

// SetMeterSettings updates the meter tuning and saves the configuration.
func (c *Config) SetMeterSettings(updateMS, peakHoldMS int, curve string) error {
	if v := util.ValidateRange("update_interval_ms", updateMS, 10, 1000); v != nil {
		return errors.New(v.Message)
	}
	if v := util.ValidateRange("peak_hold_ms", peakHoldMS, 0, 60000); v != nil {
		return errors.New(v.Message)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.Metering.UpdateIntervalMS = updateMS
	c.Metering.PeakHoldMS = peakHoldMS
	c.Metering.FaderCurve = curve
	return c.saveLocked()
}

// RetryBase returns the reconnect base delay.
func (c *Config) RetryBase() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(cmp.Or(c.Reconnect.RetryBaseSec, DefaultRetryBaseSec)) * time.Second
}

// MaxRetries returns the reconnect retry budget.
func (c *Config) MaxRetries() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cmp.Or(c.Reconnect.MaxRetries, DefaultMaxRetries)
}

// SetReconnectSettings updates the retry tuning and saves the configuration.
func (c *Config) SetReconnectSettings(baseSec, maxRetries int) error {
	if v := util.ValidateRange("retry_base_sec", baseSec, 1, 600); v != nil {
		return errors.New(v.Message)
	}
	if v := util.ValidateRange("max_retries", maxRetries, 0, 10000); v != nil {
		return errors.New(v.Message)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.Reconnect.RetryBaseSec = baseSec
	c.Reconnect.MaxRetries = maxRetries
	return c.saveLocked()
}

// SetWebhookURL updates the webhook URL and saves the configuration.
func (c *Config) SetWebhookURL(url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Notifications.WebhookURL = url
	return c.saveLocked()
}

// SetLogPath updates the log file path and saves the configuration.
func (c *Config) SetLogPath(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Notifications.LogPath = path
	return c.saveLocked()
}

// SetEmailConfig updates all email configuration fields and saves.
func (c *Config) SetEmailConfig(host string, port int, fromName, username, password, recipients string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Notifications.Email.Host = host
	c.Notifications.Email.Port = port
	c.Notifications.Email.FromName = fromName
	c.Notifications.Email.Username = username
	c.Notifications.Email.Password = password
	c.Notifications.Email.Recipients = recipients
	return c.saveLocked()
}

// Snapshot contains a point-in-time copy of all configuration values.
// Use this instead of multiple individual getters to reduce mutex contention.
type Snapshot struct {
	// Web
	WebPort     int
	WebUser     string
	WebPassword string

	// Audio
	SampleRate int
	Channels   int

	// Metering
	MeterUpdateMS int
	PeakHoldMS    int
	FaderCurve    string

	// Reconnect
	RetryBase  time.Duration
	MaxRetries int

	// Notifications
	WebhookURL string
	LogPath    string

	// Email
	EmailSMTPHost   string
	EmailSMTPPort   int
	EmailFromName   string
	EmailUsername   string
	EmailPassword   string
	EmailRecipients string

	// Outputs (copy)
	Outputs []Output
}

// Snapshot returns a point-in-time copy of all configuration values.
func (c *Config) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		// Web
		WebPort:     c.Web.Port,
		WebUser:     c.Web.Username,
		WebPassword: c.Web.Password,

		// Audio (with defaults)
		SampleRate: cmp.Or(c.Audio.SampleRate, DefaultSampleRate),
		Channels:   cmp.Or(c.Audio.Channels, DefaultChannels),

		// Metering (with defaults)
		MeterUpdateMS: cmp.Or(c.Metering.UpdateIntervalMS, DefaultMeterUpdateMS),
		PeakHoldMS:    cmp.Or(c.Metering.PeakHoldMS, DefaultPeakHoldMS),
		FaderCurve:    cmp.Or(c.Metering.FaderCurve, DefaultFaderCurve),

		// Reconnect (with defaults)
		RetryBase:  time.Duration(cmp.Or(c.Reconnect.RetryBaseSec, DefaultRetryBaseSec)) * time.Second,
		MaxRetries: cmp.Or(c.Reconnect.MaxRetries, DefaultMaxRetries),

		// Notifications
		WebhookURL: c.Notifications.WebhookURL,
		LogPath:    c.Notifications.LogPath,

		// Email (with defaults)
		EmailSMTPHost:   c.Notifications.Email.Host,
		EmailSMTPPort:   cmp.Or(c.Notifications.Email.Port, DefaultEmailSMTPPort),
		EmailFromName:   cmp.Or(c.Notifications.Email.FromName, DefaultEmailFromName),
		EmailUsername:   c.Notifications.Email.Username,
		EmailPassword:   c.Notifications.Email.Password,
		EmailRecipients: c.Notifications.Email.Recipients,

		// Outputs
		Outputs: slices.Clone(c.Outputs),
	}
}

// HasWebhook returns true if a webhook URL is configured.
func (s *Snapshot) HasWebhook() bool {
	return s.WebhookURL != ""
}

// HasEmail returns true if email notifications are configured.
func (s *Snapshot) HasEmail() bool {
	return s.EmailSMTPHost != "" && s.EmailRecipients != ""
}

// HasLogPath returns true if a log path is configured.
func (s *Snapshot) HasLogPath() bool {
	return s.LogPath != ""
}
