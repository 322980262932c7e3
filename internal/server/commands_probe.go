package server

import (
	"log/slog"

	"github.com/oszuidwest/zwfm-loopback/internal/config"
	"github.com/oszuidwest/zwfm-loopback/internal/eventlog"
	"github.com/oszuidwest/zwfm-loopback/internal/loop"
	"github.com/oszuidwest/zwfm-loopback/internal/types"
)

// handleProbeUpdate processes a probe/update command. Changed fields
// are persisted and the machine reloads them, restarting into idle.
func (h *CommandHandler) handleProbeUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(cmd, send, func(req *ProbeUpdateRequest) error {
		update := config.ProbeUpdate{
			SensitivityDB:       req.SensitivityDB,
			IdleIntervalMs:      req.IdleIntervalMs,
			FollowIntervalMs:    req.FollowIntervalMs,
			StreamIntervalMs:    req.StreamIntervalMs,
			HibernateIntervalMs: req.HibernateIntervalMs,
			StartCount:          req.StartCount,
			StopCount:           req.StopCount,
			SampleSize:          req.SampleSize,
		}

		if err := h.cfg.UpdateProbe(update); err != nil {
			return err
		}

		slog.Info("probe/update: settings changed, reloading loop")
		h.machine.Enqueue(loop.CommandReload)
		return nil
	})
}

// handleConfigGet processes a config/get command. The email client
// secret is masked; only its presence is reported.
func (h *CommandHandler) handleConfigGet(send chan<- any) {
	notifications := h.cfg.NotificationSettings()
	if notifications.Email.ClientSecret != "" {
		notifications.Email.ClientSecret = "configured"
	}

	SendData(send, types.WSConfigResponse{
		Type: "config",
		Config: map[string]any{
			"audio":         h.cfg.AudioSettings(),
			"probe":         h.cfg.ProbeSettings(),
			"system":        h.cfg.SystemSettings(),
			"mpris":         h.cfg.MPRISSettings(),
			"notifications": notifications,
		},
	})
}

// handleEvents routes events/* commands
func (h *CommandHandler) handleEvents(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "get":
		h.handleEventsGet(cmd, send)
	default:
		slog.Warn("unknown events action", "action", action)
	}
}

// handleEventsGet processes an events/get command against the JSONL
// event log.
func (h *CommandHandler) handleEventsGet(cmd WSCommand, send chan<- any) {
	var req EventsRequest
	if len(cmd.Data) > 0 && !DecodeAndValidate(cmd, send, &req) {
		return
	}
	if req.Limit == 0 {
		req.Limit = 50
	}

	if h.logPath == "" {
		SendSuccess(send, cmd.Type, map[string]any{"events": []eventlog.Event{}, "has_more": false})
		return
	}

	events, hasMore, err := eventlog.ReadLast(h.logPath, req.Limit, req.Offset, eventlog.TypeFilter(req.Filter))
	if err != nil {
		SendError(send, cmd.Type, err)
		return
	}

	SendSuccess(send, cmd.Type, map[string]any{"events": events, "has_more": hasMore})
}
