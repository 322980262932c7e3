package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/oszuidwest/zwfm-loopback/internal/util"
)

// WebhookPayload represents the data sent to webhook endpoints.
type WebhookPayload struct {
	Event          string  `json:"event"`
	Level          float64 `json:"level,omitempty"`
	ThresholdDB    float64 `json:"threshold_db,omitempty"`
	StreamDuration int64   `json:"stream_duration_ms,omitempty"`
	Device         string  `json:"device,omitempty"`
	Message        string  `json:"message,omitempty"`
	Timestamp      string  `json:"timestamp"`
}

// SendStreamStartWebhook notifies the configured webhook that signal
// activity started a redirection.
func SendStreamStartWebhook(webhookURL string, level, thresholdDB float64) error {
	return sendWebhook(webhookURL, &WebhookPayload{
		Event:       "stream_started",
		Level:       level,
		ThresholdDB: thresholdDB,
		Timestamp:   timestampUTC(),
	})
}

// SendStreamStopWebhook notifies the configured webhook that the
// redirection ended.
func SendStreamStopWebhook(webhookURL string, level, thresholdDB float64, durationMs int64) error {
	return sendWebhook(webhookURL, &WebhookPayload{
		Event:          "stream_stopped",
		Level:          level,
		ThresholdDB:    thresholdDB,
		StreamDuration: durationMs,
		Timestamp:      timestampUTC(),
	})
}

// SendDeviceWebhook notifies the configured webhook of a device fault.
func SendDeviceWebhook(webhookURL, device, message string) error {
	return sendWebhook(webhookURL, &WebhookPayload{
		Event:     "device_error",
		Device:    device,
		Message:   message,
		Timestamp: timestampUTC(),
	})
}

// SendTestWebhook sends a test webhook notification.
func SendTestWebhook(webhookURL string) error {
	if webhookURL == "" {
		return fmt.Errorf("webhook URL not configured")
	}

	return sendWebhook(webhookURL, &WebhookPayload{
		Event:     "test",
		Message:   "This is a test notification from " + AppName,
		Timestamp: timestampUTC(),
	})
}

// sendWebhook delivers a notification to the configured webhook endpoint.
func sendWebhook(webhookURL string, payload *WebhookPayload) error {
	if !util.IsConfigured(webhookURL) {
		return nil // Silently skip if not configured
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return util.WrapError("marshal payload", err)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(webhookURL, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return util.WrapError("send webhook request", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}
