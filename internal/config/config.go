// Package config provides application configuration management.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/oszuidwest/zwfm-loopback/internal/util"
)

// Configuration defaults are used when values are not specified.
const (
	DefaultCaptureDevice  = "sysdefault:CARD=system"
	DefaultPlaybackDevice = "default"
	DefaultFormat         = "S16_LE"
	DefaultChannels       = 2
	DefaultRate           = 48000
	DefaultPeriodFrames   = 1024

	DefaultSensitivityDB       = -60.0
	DefaultIdleIntervalMs      = 500
	DefaultFollowIntervalMs    = 1000
	DefaultStreamIntervalMs    = 2000
	DefaultHibernateIntervalMs = 15000
	DefaultStartCount          = 1
	DefaultStopCount           = 10
	DefaultSampleSize          = 8

	DefaultWebPort = 8090
	DefaultWebBind = "127.0.0.1"

	DefaultZabbixPort = 10051
)

// validate is the shared validator instance for config validation.
var validate = validator.New(validator.WithRequiredStructEnabled())

// AudioConfig holds device and stream geometry settings. Changing them
// requires a restart; the transports are opened once.
type AudioConfig struct {
	Backend        string `json:"backend" validate:"omitempty,oneof=alsa portaudio"` // transport backend
	CaptureDevice  string `json:"capture_device"`                                    // capture PCM name
	PlaybackDevice string `json:"playback_device"`                                   // playback PCM name
	Format         string `json:"format"`                                            // sample format, e.g. S16_LE
	Channels       int    `json:"channels" validate:"omitempty,gte=1,lte=8"`
	Rate           int    `json:"rate" validate:"omitempty,gte=8000,lte=192000"`
	PeriodFrames   int    `json:"period_frames" validate:"omitempty,gte=64,lte=16384"`
}

// ProbeConfig holds the activity-detection tuning. All fields reload
// at runtime on SIGHUP or a config file change.
type ProbeConfig struct {
	SensitivityDB       float64 `json:"sensitivity_db" validate:"omitempty,gte=-120,lte=0"`
	IdleIntervalMs      int64   `json:"idle_interval_ms" validate:"omitempty,gte=50,lte=60000"`
	FollowIntervalMs    int64   `json:"follow_interval_ms" validate:"omitempty,gte=50,lte=60000"`
	StreamIntervalMs    int64   `json:"stream_interval_ms" validate:"omitempty,gte=50,lte=60000"`
	HibernateIntervalMs int64   `json:"hibernate_interval_ms" validate:"omitempty,gte=1000,lte=3600000"`
	StartCount          int     `json:"start_count" validate:"omitempty,gte=1,lte=1000"`
	StopCount           int     `json:"stop_count" validate:"omitempty,gte=1,lte=1000"`
	SampleSize          int     `json:"sample_size" validate:"omitempty,gte=1,lte=4096"`
}

// SystemConfig holds control-surface settings that require restart.
type SystemConfig struct {
	Bind string `json:"bind"` // web control listen address
	Port int    `json:"port" validate:"omitempty,gte=1,lte=65535"`
	Log  string `json:"log"` // event log path, empty disables
}

// MPRISConfig holds the D-Bus control plane settings.
type MPRISConfig struct {
	Enabled bool   `json:"enabled"`
	Bus     string `json:"bus" validate:"omitempty,oneof=session system"`
}

// WebhookConfig holds webhook notification settings.
type WebhookConfig struct {
	URL string `json:"url" validate:"omitempty,url,max=2048"`
}

// EmailConfig holds Microsoft Graph email notification settings.
type EmailConfig struct {
	TenantID     string `json:"tenant_id"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	FromAddress  string `json:"from_address"`
	Recipients   string `json:"recipients"` // comma separated
}

// ZabbixConfig holds Zabbix trapper settings.
type ZabbixConfig struct {
	Server string `json:"server"` // empty disables
	Port   int    `json:"port" validate:"omitempty,gte=1,lte=65535"`
	Host   string `json:"host"` // monitored host name as known to Zabbix
	Key    string `json:"key"`  // trapper item key
}

// NotificationsConfig holds all notification channel settings.
type NotificationsConfig struct {
	Webhook WebhookConfig `json:"webhook"`
	Email   EmailConfig   `json:"email"`
	Zabbix  ZabbixConfig  `json:"zabbix"`
}

// Config holds all application configuration. It is safe for
// concurrent use.
type Config struct {
	Audio         AudioConfig         `json:"audio"`
	Probe         ProbeConfig         `json:"probe"`
	System        SystemConfig        `json:"system"`
	MPRIS         MPRISConfig         `json:"mpris"`
	Notifications NotificationsConfig `json:"notifications"`

	mu       sync.RWMutex
	filePath string
}

// New creates a new Config with default values.
func New(filePath string) *Config {
	cfg := &Config{filePath: filePath}
	cfg.applyDefaults()
	return cfg
}

// Load reads the config from file. A missing file writes the defaults
// back; an unparsable or invalid file falls back to defaults with a
// warning instead of failing the process.
func (c *Config) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.filePath)
	if os.IsNotExist(err) {
		slog.Info("config file missing, writing defaults", "path", c.filePath)
		return c.saveLocked()
	}
	if err != nil {
		return util.WrapError("read config", err)
	}

	loaded := Config{}
	if err := json.Unmarshal(data, &loaded); err != nil {
		slog.Warn("config file unparsable, using defaults", "path", c.filePath, "error", err)
		c.resetLocked()
		return nil
	}
	loaded.applyDefaults()

	if err := validate.Struct(&loaded); err != nil {
		slog.Warn("config file invalid, using defaults", "path", c.filePath, "error", err)
		c.resetLocked()
		return nil
	}

	c.Audio = loaded.Audio
	c.Probe = loaded.Probe
	c.System = loaded.System
	c.MPRIS = loaded.MPRIS
	c.Notifications = loaded.Notifications
	return nil
}

// Save persists the configuration.
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

// resetLocked discards all loaded values and restores the built-in
// defaults. Caller must hold c.mu.
func (c *Config) resetLocked() {
	c.Audio = AudioConfig{}
	c.Probe = ProbeConfig{}
	c.System = SystemConfig{}
	c.MPRIS = MPRISConfig{}
	c.Notifications = NotificationsConfig{}
	c.applyDefaults()
}

// applyDefaults sets default values for zero-value fields.
func (c *Config) applyDefaults() {
	if c.Audio.Backend == "" {
		c.Audio.Backend = "alsa"
	}
	if c.Audio.CaptureDevice == "" {
		c.Audio.CaptureDevice = DefaultCaptureDevice
	}
	if c.Audio.PlaybackDevice == "" {
		c.Audio.PlaybackDevice = DefaultPlaybackDevice
	}
	if c.Audio.Format == "" {
		c.Audio.Format = DefaultFormat
	}
	if c.Audio.Channels == 0 {
		c.Audio.Channels = DefaultChannels
	}
	if c.Audio.Rate == 0 {
		c.Audio.Rate = DefaultRate
	}
	if c.Audio.PeriodFrames == 0 {
		c.Audio.PeriodFrames = DefaultPeriodFrames
	}

	if c.Probe.SensitivityDB == 0 {
		c.Probe.SensitivityDB = DefaultSensitivityDB
	}
	if c.Probe.IdleIntervalMs == 0 {
		c.Probe.IdleIntervalMs = DefaultIdleIntervalMs
	}
	if c.Probe.FollowIntervalMs == 0 {
		c.Probe.FollowIntervalMs = DefaultFollowIntervalMs
	}
	if c.Probe.StreamIntervalMs == 0 {
		c.Probe.StreamIntervalMs = DefaultStreamIntervalMs
	}
	if c.Probe.HibernateIntervalMs == 0 {
		c.Probe.HibernateIntervalMs = DefaultHibernateIntervalMs
	}
	if c.Probe.StartCount == 0 {
		c.Probe.StartCount = DefaultStartCount
	}
	if c.Probe.StopCount == 0 {
		c.Probe.StopCount = DefaultStopCount
	}
	if c.Probe.SampleSize == 0 {
		c.Probe.SampleSize = DefaultSampleSize
	}

	if c.System.Bind == "" {
		c.System.Bind = DefaultWebBind
	}
	if c.System.Port == 0 {
		c.System.Port = DefaultWebPort
	}
	if c.MPRIS.Bus == "" {
		c.MPRIS.Bus = "system"
	}
	if c.Notifications.Zabbix.Port == 0 {
		c.Notifications.Zabbix.Port = DefaultZabbixPort
	}
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.filePath
}

// AudioSettings returns a copy of the audio section.
func (c *Config) AudioSettings() AudioConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Audio
}

// ProbeSettings returns a copy of the probe section.
func (c *Config) ProbeSettings() ProbeConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Probe
}

// SystemSettings returns a copy of the system section.
func (c *Config) SystemSettings() SystemConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.System
}

// MPRISSettings returns a copy of the MPRIS section.
func (c *Config) MPRISSettings() MPRISConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.MPRIS
}

// NotificationSettings returns a copy of the notifications section.
func (c *Config) NotificationSettings() NotificationsConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Notifications
}

// ProbeUpdate is a partial probe-section update. Nil fields keep their
// current values.
type ProbeUpdate struct {
	SensitivityDB       *float64
	IdleIntervalMs      *int64
	FollowIntervalMs    *int64
	StreamIntervalMs    *int64
	HibernateIntervalMs *int64
	StartCount          *int
	StopCount           *int
	SampleSize          *int
}

// UpdateProbe merges the update into the probe section, validates the
// result, and persists it.
func (c *Config) UpdateProbe(update ProbeUpdate) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	merged := c.Probe
	update.apply(&merged)

	if err := validate.Struct(&merged); err != nil {
		return fmt.Errorf("invalid probe settings: %w", err)
	}

	c.Probe = merged
	return c.saveLocked()
}

// UpdateWebhook replaces the webhook settings and persists them.
func (c *Config) UpdateWebhook(w WebhookConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := validate.Struct(&w); err != nil {
		return fmt.Errorf("invalid webhook settings: %w", err)
	}
	c.Notifications.Webhook = w
	return c.saveLocked()
}

// UpdateEmail replaces the email settings and persists them. An empty
// client secret keeps the stored one so updates need not resend it.
func (c *Config) UpdateEmail(e EmailConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e.ClientSecret == "" {
		e.ClientSecret = c.Notifications.Email.ClientSecret
	}
	c.Notifications.Email = e
	return c.saveLocked()
}

// UpdateZabbix replaces the Zabbix settings and persists them.
func (c *Config) UpdateZabbix(z ZabbixConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if z.Port == 0 {
		z.Port = DefaultZabbixPort
	}
	if err := validate.Struct(&z); err != nil {
		return fmt.Errorf("invalid zabbix settings: %w", err)
	}
	c.Notifications.Zabbix = z
	return c.saveLocked()
}

func (u ProbeUpdate) apply(p *ProbeConfig) {
	if u.SensitivityDB != nil {
		p.SensitivityDB = *u.SensitivityDB
	}
	if u.IdleIntervalMs != nil {
		p.IdleIntervalMs = *u.IdleIntervalMs
	}
	if u.FollowIntervalMs != nil {
		p.FollowIntervalMs = *u.FollowIntervalMs
	}
	if u.StreamIntervalMs != nil {
		p.StreamIntervalMs = *u.StreamIntervalMs
	}
	if u.HibernateIntervalMs != nil {
		p.HibernateIntervalMs = *u.HibernateIntervalMs
	}
	if u.StartCount != nil {
		p.StartCount = *u.StartCount
	}
	if u.StopCount != nil {
		p.StopCount = *u.StopCount
	}
	if u.SampleSize != nil {
		p.SampleSize = *u.SampleSize
	}
}
