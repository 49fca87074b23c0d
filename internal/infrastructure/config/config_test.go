package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Runtime.ExecTimeoutSeconds != 5 {
		t.Errorf("exec timeout default = %d", cfg.Runtime.ExecTimeoutSeconds)
	}
	if cfg.Runtime.CheckpointSeconds != 60 {
		t.Errorf("checkpoint default = %d", cfg.Runtime.CheckpointSeconds)
	}
	if cfg.API.Port != 8080 {
		t.Errorf("api port default = %d", cfg.API.Port)
	}
	if !cfg.Database.WALMode {
		t.Error("WAL mode should default on")
	}
	if cfg.GetExecTimeout() != 5*time.Second {
		t.Errorf("GetExecTimeout = %v", cfg.GetExecTimeout())
	}
}

func TestLoadOverridesFromFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
runtime:
  exec_timeout_seconds: 2
  failure_limit: 5
logic:
  config_path: /tmp/logic.json
knx:
  enabled: true
  connection: unix:///run/knxd
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Runtime.ExecTimeoutSeconds != 2 || cfg.Runtime.FailureLimit != 5 {
		t.Errorf("runtime overrides lost: %+v", cfg.Runtime)
	}
	if cfg.Logic.ConfigPath != "/tmp/logic.json" {
		t.Errorf("logic path = %q", cfg.Logic.ConfigPath)
	}
	if !cfg.KNX.Enabled || cfg.KNX.Connection != "unix:///run/knxd" {
		t.Errorf("knx config = %+v", cfg.KNX)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("GRAYLOGIC_DATABASE_PATH", "/var/lib/runtime.db")
	t.Setenv("GRAYLOGIC_KNX_CONNECTION", "tcp://knxd:6720")

	cfg, err := Load(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Path != "/var/lib/runtime.db" {
		t.Errorf("database path = %q", cfg.Database.Path)
	}
	if cfg.KNX.Connection != "tcp://knxd:6720" {
		t.Errorf("knx connection = %q", cfg.KNX.Connection)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad port", "api:\n  port: 0\n"},
		{"bad qos", "mqtt:\n  qos: 3\n"},
		{"bad failure limit", "runtime:\n  failure_limit: -1\n"},
		{"influx without url", "influxdb:\n  enabled: true\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.content)); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
