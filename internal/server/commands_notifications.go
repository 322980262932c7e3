package server

import (
	"log/slog"

	"github.com/oszuidwest/zwfm-loopback/internal/config"
	"github.com/oszuidwest/zwfm-loopback/internal/notify"
)

// handleNotifications routes notifications/*/* commands
func (h *CommandHandler) handleNotifications(action, subaction string, cmd WSCommand, send chan<- any) {
	switch action {
	case "webhook":
		switch subaction {
		case "update":
			h.handleWebhookUpdate(cmd, send)
		case "test":
			h.handleWebhookTest(cmd, send)
		case "get":
			SendSuccess(send, cmd.Type, h.cfg.NotificationSettings().Webhook)
		default:
			slog.Warn("unknown webhook action", "subaction", subaction)
		}
	case "email":
		switch subaction {
		case "update":
			h.handleEmailUpdate(cmd, send)
		case "test":
			h.handleEmailTest(cmd, send)
		case "get":
			h.handleEmailGet(cmd, send)
		default:
			slog.Warn("unknown email action", "subaction", subaction)
		}
	case "zabbix":
		switch subaction {
		case "update":
			h.handleZabbixUpdate(cmd, send)
		case "test":
			h.handleZabbixTest(cmd, send)
		case "get":
			SendSuccess(send, cmd.Type, h.cfg.NotificationSettings().Zabbix)
		default:
			slog.Warn("unknown zabbix action", "subaction", subaction)
		}
	default:
		slog.Warn("unknown notifications action", "action", action)
	}
}

// handleWebhookUpdate processes a notifications/webhook/update command.
func (h *CommandHandler) handleWebhookUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(cmd, send, func(req *WebhookUpdateRequest) error {
		return h.cfg.UpdateWebhook(config.WebhookConfig{URL: req.URL})
	})
}

// handleWebhookTest processes a notifications/webhook/test command.
func (h *CommandHandler) handleWebhookTest(cmd WSCommand, send chan<- any) {
	HandleActionAsync(cmd, send, func() (any, error) {
		return nil, notify.SendTestWebhook(h.cfg.NotificationSettings().Webhook.URL)
	})
}

// handleEmailUpdate processes a notifications/email/update command.
// The cached Graph client is invalidated so the next mail uses the new
// credentials.
func (h *CommandHandler) handleEmailUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(cmd, send, func(req *EmailUpdateRequest) error {
		if err := h.cfg.UpdateEmail(config.EmailConfig{
			TenantID:     req.TenantID,
			ClientID:     req.ClientID,
			ClientSecret: req.ClientSecret,
			FromAddress:  req.FromAddress,
			Recipients:   req.Recipients,
		}); err != nil {
			return err
		}
		h.notifier.InvalidateGraphClient()
		return nil
	})
}

// handleEmailTest processes a notifications/email/test command.
func (h *CommandHandler) handleEmailTest(cmd WSCommand, send chan<- any) {
	HandleActionAsync(cmd, send, func() (any, error) {
		email := h.cfg.NotificationSettings().Email
		return nil, notify.SendTestEmail(&email)
	})
}

// handleEmailGet processes a notifications/email/get command with the
// client secret masked.
func (h *CommandHandler) handleEmailGet(cmd WSCommand, send chan<- any) {
	email := h.cfg.NotificationSettings().Email
	if email.ClientSecret != "" {
		email.ClientSecret = "configured"
	}
	SendSuccess(send, cmd.Type, email)
}

// handleZabbixUpdate processes a notifications/zabbix/update command.
func (h *CommandHandler) handleZabbixUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(cmd, send, func(req *ZabbixUpdateRequest) error {
		return h.cfg.UpdateZabbix(config.ZabbixConfig{
			Server: req.Server,
			Port:   req.Port,
			Host:   req.Host,
			Key:    req.Key,
		})
	})
}

// handleZabbixTest processes a notifications/zabbix/test command.
func (h *CommandHandler) handleZabbixTest(cmd WSCommand, send chan<- any) {
	HandleActionAsync(cmd, send, func() (any, error) {
		return nil, notify.SendTestZabbix(h.cfg.NotificationSettings().Zabbix)
	})
}
