package server

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/oszuidwest/zwfm-loopback/internal/config"
	"github.com/oszuidwest/zwfm-loopback/internal/loop"
	"github.com/oszuidwest/zwfm-loopback/internal/notify"
)

// WSCommand is a command received from a WebSocket client.
type WSCommand struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// CommandHandler processes WebSocket commands.
type CommandHandler struct {
	cfg      *config.Config
	machine  *loop.Machine
	notifier *notify.Notifier
	logPath  string // event log path, empty when disabled
}

// NewCommandHandler creates a new command handler.
func NewCommandHandler(cfg *config.Config, machine *loop.Machine, notifier *notify.Notifier, logPath string) *CommandHandler {
	return &CommandHandler{
		cfg:      cfg,
		machine:  machine,
		notifier: notifier,
		logPath:  logPath,
	}
}

// Handle processes a WebSocket command and performs the requested action.
// Commands use slash-style format: namespace/action (e.g., "loop/play",
// "probe/update", "notifications/webhook/test").
func (h *CommandHandler) Handle(cmd WSCommand, send chan<- any, triggerStatusUpdate func()) {
	parts := strings.SplitN(cmd.Type, "/", 3)
	namespace := parts[0]
	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}
	subaction := ""
	if len(parts) > 2 {
		subaction = parts[2]
	}

	switch namespace {
	case "loop":
		h.handleLoop(action, cmd, send)
	case "probe":
		h.handleProbe(action, cmd, send)
	case "notifications":
		h.handleNotifications(action, subaction, cmd, send)
	case "events":
		h.handleEvents(action, cmd, send)
	case "config":
		h.handleConfig(action, send)
	case "status":
		h.handleStatus(action)
	default:
		slog.Warn("unknown WebSocket command", "type", cmd.Type)
	}

	triggerStatusUpdate()
}

// --- Namespace handlers ---

// handleLoop routes loop/* commands into the machine's queue. The
// queue is the single entry point for transitions, so the command
// plane never races the probes.
func (h *CommandHandler) handleLoop(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "play":
		h.machine.Enqueue(loop.CommandPlay)
		SendSuccess(send, cmd.Type, nil)
	case "pause", "stop":
		h.machine.Enqueue(loop.CommandStop)
		SendSuccess(send, cmd.Type, nil)
	case "reload":
		h.machine.Enqueue(loop.CommandReload)
		SendSuccess(send, cmd.Type, nil)
	default:
		slog.Warn("unknown loop action", "action", action)
	}
}

// handleProbe routes probe/* commands
func (h *CommandHandler) handleProbe(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "get":
		SendSuccess(send, cmd.Type, h.cfg.ProbeSettings())
	case "update":
		h.handleProbeUpdate(cmd, send)
	default:
		slog.Warn("unknown probe action", "action", action)
	}
}

// handleConfig routes config/* commands
func (h *CommandHandler) handleConfig(action string, send chan<- any) {
	switch action {
	case "get":
		h.handleConfigGet(send)
	default:
		slog.Warn("unknown config action", "action", action)
	}
}

// handleStatus routes status/* commands
func (h *CommandHandler) handleStatus(action string) {
	switch action {
	case "get":
		// Status is sent automatically, but explicit get triggers immediate update
		slog.Debug("status/get received, status update will be triggered")
	default:
		slog.Warn("unknown status action", "action", action)
	}
}
