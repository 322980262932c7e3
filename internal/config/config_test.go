package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func tempConfig(t *testing.T) *Config {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "config.json"))
}

func TestLoadMissingFileWritesDefaults(t *testing.T) {
	cfg := tempConfig(t)

	if err := cfg.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	data, err := os.ReadFile(cfg.Path())
	if err != nil {
		t.Fatalf("defaults not written back: %v", err)
	}

	var onDisk map[string]any
	if err := json.Unmarshal(data, &onDisk); err != nil {
		t.Fatalf("written config unparsable: %v", err)
	}
	for _, section := range []string{"audio", "probe", "system", "mpris", "notifications"} {
		if _, ok := onDisk[section]; !ok {
			t.Errorf("written config missing %q section", section)
		}
	}

	probe := cfg.ProbeSettings()
	if probe.SensitivityDB != DefaultSensitivityDB {
		t.Errorf("SensitivityDB = %v, want %v", probe.SensitivityDB, DefaultSensitivityDB)
	}
	if probe.StopCount != DefaultStopCount {
		t.Errorf("StopCount = %v, want %v", probe.StopCount, DefaultStopCount)
	}
	if got := cfg.SystemSettings().Port; got != DefaultWebPort {
		t.Errorf("Port = %d, want %d", got, DefaultWebPort)
	}
}

func TestLoadAppliesDefaultsToPartialFile(t *testing.T) {
	cfg := tempConfig(t)
	partial := `{"audio": {"capture_device": "hw:1,0"}, "probe": {"sensitivity_db": -40}}`
	if err := os.WriteFile(cfg.Path(), []byte(partial), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := cfg.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	audio := cfg.AudioSettings()
	if audio.CaptureDevice != "hw:1,0" {
		t.Errorf("CaptureDevice = %q, want %q", audio.CaptureDevice, "hw:1,0")
	}
	if audio.PlaybackDevice != DefaultPlaybackDevice {
		t.Errorf("PlaybackDevice = %q, want default %q", audio.PlaybackDevice, DefaultPlaybackDevice)
	}
	probe := cfg.ProbeSettings()
	if probe.SensitivityDB != -40 {
		t.Errorf("SensitivityDB = %v, want -40", probe.SensitivityDB)
	}
	if probe.IdleIntervalMs != DefaultIdleIntervalMs {
		t.Errorf("IdleIntervalMs = %v, want default %v", probe.IdleIntervalMs, DefaultIdleIntervalMs)
	}
}

func TestLoadUnparsableFallsBack(t *testing.T) {
	cfg := tempConfig(t)
	if err := os.WriteFile(cfg.Path(), []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := cfg.Load(); err != nil {
		t.Fatalf("Load should not fail on an unparsable file: %v", err)
	}
	if got := cfg.ProbeSettings().SensitivityDB; got != DefaultSensitivityDB {
		t.Errorf("SensitivityDB = %v, want default %v", got, DefaultSensitivityDB)
	}
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	cfg := tempConfig(t)
	invalid := `{"probe": {"sensitivity_db": 50}}`
	if err := os.WriteFile(cfg.Path(), []byte(invalid), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := cfg.Load(); err != nil {
		t.Fatalf("Load should not fail on an invalid file: %v", err)
	}
	if got := cfg.ProbeSettings().SensitivityDB; got != DefaultSensitivityDB {
		t.Errorf("SensitivityDB = %v, want default %v", got, DefaultSensitivityDB)
	}
}

func TestUpdateProbe(t *testing.T) {
	cfg := tempConfig(t)
	if err := cfg.Load(); err != nil {
		t.Fatal(err)
	}

	sensitivity := -45.0
	stopCount := 20
	err := cfg.UpdateProbe(ProbeUpdate{SensitivityDB: &sensitivity, StopCount: &stopCount})
	if err != nil {
		t.Fatalf("UpdateProbe: %v", err)
	}

	probe := cfg.ProbeSettings()
	if probe.SensitivityDB != -45 || probe.StopCount != 20 {
		t.Errorf("probe = %+v, want sensitivity -45 stop count 20", probe)
	}
	if probe.StartCount != DefaultStartCount {
		t.Errorf("StartCount changed to %d, want untouched default", probe.StartCount)
	}

	// The update must persist.
	fresh := New(cfg.Path())
	if err := fresh.Load(); err != nil {
		t.Fatal(err)
	}
	if got := fresh.ProbeSettings().SensitivityDB; got != -45 {
		t.Errorf("persisted SensitivityDB = %v, want -45", got)
	}
}

func TestUpdateProbeRejectsOutOfRange(t *testing.T) {
	cfg := tempConfig(t)
	if err := cfg.Load(); err != nil {
		t.Fatal(err)
	}

	bad := 10.0
	if err := cfg.UpdateProbe(ProbeUpdate{SensitivityDB: &bad}); err == nil {
		t.Fatal("expected validation error for positive sensitivity")
	}
	if got := cfg.ProbeSettings().SensitivityDB; got != DefaultSensitivityDB {
		t.Errorf("SensitivityDB = %v after rejected update, want %v", got, DefaultSensitivityDB)
	}
}

func TestUpdateWebhookRejectsBadURL(t *testing.T) {
	cfg := tempConfig(t)
	if err := cfg.Load(); err != nil {
		t.Fatal(err)
	}

	if err := cfg.UpdateWebhook(WebhookConfig{URL: "not a url"}); err == nil {
		t.Fatal("expected validation error")
	}
	if err := cfg.UpdateWebhook(WebhookConfig{URL: "https://example.com/hook"}); err != nil {
		t.Fatalf("UpdateWebhook: %v", err)
	}
	if got := cfg.NotificationSettings().Webhook.URL; got != "https://example.com/hook" {
		t.Errorf("URL = %q", got)
	}
}

func TestUpdateEmailKeepsSecret(t *testing.T) {
	cfg := tempConfig(t)
	if err := cfg.Load(); err != nil {
		t.Fatal(err)
	}

	first := EmailConfig{TenantID: "t", ClientID: "c", ClientSecret: "hunter2", FromAddress: "a@b.c"}
	if err := cfg.UpdateEmail(first); err != nil {
		t.Fatal(err)
	}

	// Updating without a secret keeps the stored one.
	second := first
	second.ClientSecret = ""
	second.Recipients = "x@y.z"
	if err := cfg.UpdateEmail(second); err != nil {
		t.Fatal(err)
	}

	email := cfg.NotificationSettings().Email
	if email.ClientSecret != "hunter2" {
		t.Errorf("ClientSecret = %q, want the stored secret", email.ClientSecret)
	}
	if email.Recipients != "x@y.z" {
		t.Errorf("Recipients = %q, want %q", email.Recipients, "x@y.z")
	}
}

func TestUpdateZabbixDefaultsPort(t *testing.T) {
	cfg := tempConfig(t)
	if err := cfg.Load(); err != nil {
		t.Fatal(err)
	}

	if err := cfg.UpdateZabbix(ZabbixConfig{Server: "zbx.example.com", Host: "loopback", Key: "audio.state"}); err != nil {
		t.Fatal(err)
	}
	if got := cfg.NotificationSettings().Zabbix.Port; got != DefaultZabbixPort {
		t.Errorf("Port = %d, want %d", got, DefaultZabbixPort)
	}
}

func TestAccessorsReturnCopies(t *testing.T) {
	cfg := tempConfig(t)
	if err := cfg.Load(); err != nil {
		t.Fatal(err)
	}

	probe := cfg.ProbeSettings()
	probe.StopCount = 999
	if got := cfg.ProbeSettings().StopCount; got == 999 {
		t.Error("mutating the returned copy leaked into the config")
	}
}
