// Package notify fans loopback events out to the configured channels:
// an HTTP webhook, Microsoft Graph email, and a Zabbix trapper item.
// Every channel is optional and best-effort; failures are logged and
// never reach the loop machine.
package notify

import (
	"fmt"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-loopback/internal/config"
	"github.com/oszuidwest/zwfm-loopback/internal/util"
)

// Notifier fans redirection and device events out to all configured
// channels. It tracks the running redirection so the stop notification
// can report how long audio flowed.
type Notifier struct {
	cfg *config.Config

	// mu protects the fields below.
	mu sync.Mutex

	// streamStart is the wall time the current redirection began, zero
	// when idle.
	streamStart time.Time

	// Cached Graph client; rebuilt after InvalidateGraphClient.
	graphClient *GraphClient
}

// NewNotifier returns a Notifier reading channel settings from cfg on
// every event, so config reloads take effect without a restart.
func NewNotifier(cfg *config.Config) *Notifier {
	return &Notifier{cfg: cfg}
}

// InvalidateGraphClient clears the cached Graph client.
// Call this when Graph configuration changes.
func (n *Notifier) InvalidateGraphClient() {
	n.mu.Lock()
	n.graphClient = nil
	n.mu.Unlock()
}

// getOrCreateGraphClient returns the cached Graph client, creating it if needed.
func (n *Notifier) getOrCreateGraphClient(cfg *GraphConfig) (*GraphClient, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.graphClient != nil {
		return n.graphClient, nil
	}

	client, err := NewGraphClient(cfg)
	if err != nil {
		return nil, err
	}
	n.graphClient = client
	return client, nil
}

// StreamStarted reports that signal activity began a redirection.
// level is the classified median level that crossed the threshold.
func (n *Notifier) StreamStarted(level float64) {
	n.mu.Lock()
	n.streamStart = time.Now()
	n.mu.Unlock()

	channels := n.cfg.NotificationSettings()
	threshold := n.cfg.ProbeSettings().SensitivityDB

	if channels.Webhook.URL != "" {
		go util.LogNotifyResult(func() error {
			return SendStreamStartWebhook(channels.Webhook.URL, level, threshold)
		}, "stream-start webhook")
	}
	if IsConfigured(&channels.Email) {
		go util.LogNotifyResult(func() error {
			subject, body := streamStartMail(level, threshold)
			return n.sendEmail(&channels.Email, subject, body)
		}, "stream-start email")
	}
	if channels.Zabbix.Server != "" {
		go util.LogNotifyResult(func() error {
			return SendStreamStartZabbix(channels.Zabbix, level, threshold)
		}, "stream-start zabbix")
	}
}

// StreamStopped reports that the redirection ended.
func (n *Notifier) StreamStopped(level float64) {
	n.mu.Lock()
	var durationMs int64
	if !n.streamStart.IsZero() {
		durationMs = time.Since(n.streamStart).Milliseconds()
	}
	n.streamStart = time.Time{}
	n.mu.Unlock()

	channels := n.cfg.NotificationSettings()
	threshold := n.cfg.ProbeSettings().SensitivityDB

	if channels.Webhook.URL != "" {
		go util.LogNotifyResult(func() error {
			return SendStreamStopWebhook(channels.Webhook.URL, level, threshold, durationMs)
		}, "stream-stop webhook")
	}
	if IsConfigured(&channels.Email) {
		go util.LogNotifyResult(func() error {
			subject, body := streamStopMail(level, threshold, durationMs)
			return n.sendEmail(&channels.Email, subject, body)
		}, "stream-stop email")
	}
	if channels.Zabbix.Server != "" {
		go util.LogNotifyResult(func() error {
			return SendStreamStopZabbix(channels.Zabbix, level, threshold, durationMs)
		}, "stream-stop zabbix")
	}
}

// DeviceFailure reports a fatal device fault.
func (n *Notifier) DeviceFailure(device string, err error) {
	channels := n.cfg.NotificationSettings()
	message := err.Error()

	if channels.Webhook.URL != "" {
		go util.LogNotifyResult(func() error {
			return SendDeviceWebhook(channels.Webhook.URL, device, message)
		}, "device webhook")
	}
	if IsConfigured(&channels.Email) {
		go util.LogNotifyResult(func() error {
			subject, body := deviceFaultMail(device, message)
			return n.sendEmail(&channels.Email, subject, body)
		}, "device email")
	}
	if channels.Zabbix.Server != "" {
		go util.LogNotifyResult(func() error {
			return SendDeviceZabbix(channels.Zabbix, device, message)
		}, "device zabbix")
	}
}

// sendEmail handles the common email sending infrastructure.
func (n *Notifier) sendEmail(cfg *GraphConfig, subject, body string) error {
	if !IsConfigured(cfg) {
		return nil
	}

	client, err := n.getOrCreateGraphClient(cfg)
	if err != nil {
		return util.WrapError("create Graph client", err)
	}

	recipients := ParseRecipients(cfg.Recipients)
	if len(recipients) == 0 {
		return fmt.Errorf("no valid recipients")
	}

	if err := client.SendMail(recipients, subject, body); err != nil {
		return util.WrapError("send email via Graph", err)
	}

	return nil
}
