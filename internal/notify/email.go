package notify

import (
	"fmt"

	"github.com/oszuidwest/zwfm-loopback/internal/util"
)

// streamStartSubject and friends build the alert mails. The loopback
// only mails on redirection edges and device faults; probe chatter
// stays in the event log.

func streamStartMail(level, thresholdDB float64) (subject, body string) {
	subject = "[INFO] Stream Started - " + AppName
	body = fmt.Sprintf(
		"Signal activity detected, audio redirection started.\n\n"+
			"Level:     %.0f\n"+
			"Threshold: %.1f dB\n"+
			"Time:      %s",
		level, thresholdDB, util.HumanTime(),
	)
	return subject, body
}

func streamStopMail(level, thresholdDB float64, durationMs int64) (subject, body string) {
	subject = "[INFO] Stream Stopped - " + AppName
	body = fmt.Sprintf(
		"Signal activity ended, audio redirection stopped.\n\n"+
			"Level:      %.0f\n"+
			"Threshold:  %.1f dB\n"+
			"Streamed:   %s\n"+
			"Time:       %s",
		level, thresholdDB, util.FormatDuration(durationMs), util.HumanTime(),
	)
	return subject, body
}

func deviceFaultMail(device, message string) (subject, body string) {
	subject = "[ALERT] Device Fault - " + AppName
	body = fmt.Sprintf(
		"An audio device failed.\n\n"+
			"Device: %s\n"+
			"Error:  %s\n"+
			"Time:   %s\n\n"+
			"The loopback may have shut down. Please check the hardware.",
		device, message, util.HumanTime(),
	)
	return subject, body
}

// SendTestEmail sends a test email to verify email configuration.
func SendTestEmail(cfg *GraphConfig) error {
	if err := ValidateConfig(cfg); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	client, err := NewGraphClient(cfg)
	if err != nil {
		return fmt.Errorf("create Graph client: %w", err)
	}

	if err := client.ValidateAuth(); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	subject := "[TEST] " + AppName
	body := fmt.Sprintf(
		"Test email from the audio loopback.\n\n"+
			"Time: %s\n\n"+
			"Microsoft Graph configuration is working correctly.",
		util.HumanTime(),
	)

	recipients := ParseRecipients(cfg.Recipients)
	if err := client.SendMail(recipients, subject, body); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	return nil
}
