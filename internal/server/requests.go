package server

// Request types for WebSocket commands with validation tags.
// These types define the expected input for each command and use
// go-playground/validator struct tags for automatic validation.

// --- Probe settings ---

// ProbeUpdateRequest is the request body for probe/update. Nil fields
// keep their current values.
type ProbeUpdateRequest struct {
	SensitivityDB       *float64 `json:"sensitivity_db" validate:"omitempty,gte=-120,lte=0"`
	IdleIntervalMs      *int64   `json:"idle_interval_ms" validate:"omitempty,gte=50,lte=60000"`
	FollowIntervalMs    *int64   `json:"follow_interval_ms" validate:"omitempty,gte=50,lte=60000"`
	StreamIntervalMs    *int64   `json:"stream_interval_ms" validate:"omitempty,gte=50,lte=60000"`
	HibernateIntervalMs *int64   `json:"hibernate_interval_ms" validate:"omitempty,gte=1000,lte=3600000"`
	StartCount          *int     `json:"start_count" validate:"omitempty,gte=1,lte=1000"`
	StopCount           *int     `json:"stop_count" validate:"omitempty,gte=1,lte=1000"`
	SampleSize          *int     `json:"sample_size" validate:"omitempty,gte=1,lte=4096"`
}

// --- Notification settings ---

// WebhookUpdateRequest is the request body for notifications/webhook/update.
type WebhookUpdateRequest struct {
	URL string `json:"url" validate:"omitempty,max=2048"`
}

// EmailUpdateRequest is the request body for notifications/email/update.
type EmailUpdateRequest struct {
	TenantID     string `json:"tenant_id" validate:"omitempty,max=100"`
	ClientID     string `json:"client_id" validate:"omitempty,max=100"`
	ClientSecret string `json:"client_secret" validate:"omitempty,max=500"`
	FromAddress  string `json:"from_address" validate:"omitempty,max=254"`
	Recipients   string `json:"recipients" validate:"omitempty,max=1000"`
}

// ZabbixUpdateRequest is the request body for notifications/zabbix/update.
type ZabbixUpdateRequest struct {
	Server string `json:"server" validate:"omitempty,max=253"`
	Port   int    `json:"port" validate:"omitempty,gte=1,lte=65535"`
	Host   string `json:"host" validate:"omitempty,max=253"`
	Key    string `json:"key" validate:"omitempty,max=256"`
}

// --- Event log ---

// EventsRequest is the request body for events/get.
type EventsRequest struct {
	Limit  int    `json:"limit" validate:"omitempty,gte=1,lte=500"`
	Offset int    `json:"offset" validate:"omitempty,gte=0"`
	Filter string `json:"filter" validate:"omitempty,oneof=state stream activity device"`
}
