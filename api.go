package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/oszuidwest/zwfm-loopback/internal/config"
	"github.com/oszuidwest/zwfm-loopback/internal/eventlog"
	"github.com/oszuidwest/zwfm-loopback/internal/loop"
)

// REST surface mirroring the WebSocket command plane for callers that
// just want curl. Routes are registered in SetupRoutes.

// apiError is the JSON error envelope for all REST endpoints.
type apiError struct {
	Error string `json:"error"`
}

// writeJSON serializes v to the response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, apiError{Error: msg})
}

// readJSON decodes the request body into v, rejecting unknown fields.
func readJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// handleAPIStatus returns the same snapshot the WebSocket pushes.
func (s *Server) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, s.buildWSStatus())
}

// handleAPIConfig returns the full configuration with secrets masked.
func (s *Server) handleAPIConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	notifications := s.config.NotificationSettings()
	if notifications.Email.ClientSecret != "" {
		notifications.Email.ClientSecret = "configured"
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"audio":         s.config.AudioSettings(),
		"probe":         s.config.ProbeSettings(),
		"system":        s.config.SystemSettings(),
		"mpris":         s.config.MPRISSettings(),
		"notifications": notifications,
	})
}

// probePatch is the request body for PATCH /api/probe. Nil fields keep
// their current values.
type probePatch struct {
	SensitivityDB       *float64 `json:"sensitivity_db"`
	IdleIntervalMs      *int64   `json:"idle_interval_ms"`
	FollowIntervalMs    *int64   `json:"follow_interval_ms"`
	StreamIntervalMs    *int64   `json:"stream_interval_ms"`
	HibernateIntervalMs *int64   `json:"hibernate_interval_ms"`
	StartCount          *int     `json:"start_count"`
	StopCount           *int     `json:"stop_count"`
	SampleSize          *int     `json:"sample_size"`
}

// handleAPIProbe reads or updates the detection settings.
func (s *Server) handleAPIProbe(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, s.config.ProbeSettings())
	case http.MethodPatch, http.MethodPut:
		var req probePatch
		if err := readJSON(r, &req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
			return
		}
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
		if err := s.config.UpdateProbe(update); err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.machine.Enqueue(loop.CommandReload)
		s.writeJSON(w, http.StatusOK, s.config.ProbeSettings())
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleAPIEvents returns recent event log entries.
// Query parameters: limit (default 50), offset, filter (state|stream|activity|device).
func (s *Server) handleAPIEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > eventlog.MaxReadLimit {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	offset := 0
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		offset = n
	}

	filter := eventlog.TypeFilter(r.URL.Query().Get("filter"))
	switch filter {
	case eventlog.FilterAll, eventlog.FilterState, eventlog.FilterStream,
		eventlog.FilterActivity, eventlog.FilterDevice:
	default:
		s.writeError(w, http.StatusBadRequest, "invalid filter")
		return
	}

	if s.logPath == "" {
		s.writeJSON(w, http.StatusOK, map[string]any{"events": []eventlog.Event{}, "has_more": false})
		return
	}

	events, hasMore, err := eventlog.ReadLast(s.logPath, limit, offset, filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"events": events, "has_more": hasMore})
}

// handleAPILoop dispatches POST /api/loop/{play,pause,stop,reload}.
func (s *Server) handleAPILoop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	action := strings.TrimPrefix(r.URL.Path, "/api/loop/")
	switch action {
	case "play":
		s.machine.Enqueue(loop.CommandPlay)
	case "pause", "stop":
		s.machine.Enqueue(loop.CommandStop)
	case "reload":
		s.machine.Enqueue(loop.CommandReload)
	default:
		s.writeError(w, http.StatusNotFound, "unknown action: "+action)
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]any{"queued": action, "state": s.machine.State()})
}
