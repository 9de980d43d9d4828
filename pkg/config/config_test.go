package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/glucolink/glucolink-go/pkg/model"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
generation: gen2
device_id: dev-42
state_path: /var/lib/glucolink/state.json
log_level: debug
accept_new_sensors: false
retention: 45m
max_reconnect_attempts: 5
backoff_initial: 2s
backoff_max: 30s
scan_timeout: 10s
poll_interval: 3m
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	gen, err := cfg.SensorGeneration()
	if err != nil {
		t.Fatal(err)
	}
	if gen != model.Gen2 {
		t.Errorf("generation = %v, want Gen2", gen)
	}
	if cfg.DeviceID != "dev-42" {
		t.Errorf("device_id = %q", cfg.DeviceID)
	}
	if cfg.AcceptNewSensors {
		t.Error("accept_new_sensors should be false")
	}

	sc := cfg.SessionConfig()
	if sc.DeviceID != "dev-42" {
		t.Errorf("session device_id = %q", sc.DeviceID)
	}
	if sc.Retention != 45*time.Minute {
		t.Errorf("retention = %v, want 45m", sc.Retention)
	}
	if sc.BackoffInitial != 2*time.Second {
		t.Errorf("backoff_initial = %v, want 2s", sc.BackoffInitial)
	}
	if sc.MaxReconnectAttempts != 5 {
		t.Errorf("max_reconnect_attempts = %d, want 5", sc.MaxReconnectAttempts)
	}
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "generation: gen3\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.StatePath != "glucolink-state.json" {
		t.Errorf("state_path = %q", cfg.StatePath)
	}
	if lvl, err := cfg.SlogLevel(); err != nil || lvl.String() != "INFO" {
		t.Errorf("log level = %v, %v", lvl, err)
	}

	sc := cfg.SessionConfig()
	if sc.Generation != model.Gen3 {
		t.Errorf("generation = %v, want Gen3", sc.Generation)
	}
	// Zero durations fall back to session defaults downstream.
	if sc.Retention != 0 {
		t.Errorf("retention = %v, want 0", sc.Retention)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"bad generation": "generation: gen9\n",
		"bad log level":  "log_level: loud\n",
		"bad duration":   "retention: soon\n",
		"empty state":    "state_path: \"\"\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, content)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error")
	}
}
