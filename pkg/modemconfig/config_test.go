package modemconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/comx-labs/modemsim/pkg/modemerr"
)

func TestBuildSerialConfigDefaults(t *testing.T) {
	cfg, err := BuildSerialConfig("/dev/ttyUSB0", DefaultBaud, DefaultFraming)
	if err != nil {
		t.Fatalf("BuildSerialConfig: %v", err)
	}
	if cfg.BaudRate != 9600 || cfg.DataBits != 8 || cfg.Parity != 'N' || cfg.StopBits != 1 {
		t.Fatalf("got %+v", cfg)
	}
}

func TestBuildSerialConfigRejectsUnsupportedBaud(t *testing.T) {
	_, err := BuildSerialConfig("/dev/ttyUSB0", 1337, DefaultFraming)
	if err == nil || !modemerr.Is(err, modemerr.KindConfig) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}

func TestBuildSerialConfigRejectsBadFraming(t *testing.T) {
	cases := []string{"", "8", "8N", "8N12", "XXN"}
	for _, f := range cases {
		if _, err := BuildSerialConfig("/dev/ttyUSB0", DefaultBaud, f); err == nil {
			t.Errorf("framing %q: expected error", f)
		}
	}
}

func TestLoadMonitorConfigEmptyPath(t *testing.T) {
	cfg, err := LoadMonitorConfig("")
	if err != nil {
		t.Fatalf("LoadMonitorConfig: %v", err)
	}
	if cfg.Enabled {
		t.Fatalf("expected disabled zero-value config")
	}
}

func TestLoadMonitorConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "monitor.yaml")
	body := "enabled: true\naddr: \"127.0.0.1:8080\"\nlog_level: debug\n"
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := LoadMonitorConfig(path)
	if err != nil {
		t.Fatalf("LoadMonitorConfig: %v", err)
	}
	if !cfg.Enabled || cfg.Addr != "127.0.0.1:8080" || cfg.LogLevel != "debug" {
		t.Fatalf("got %+v", cfg)
	}
}

func TestLoadMonitorConfigRejectsMissingAddr(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "monitor.yaml")
	if err := os.WriteFile(path, []byte("enabled: true\n"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := LoadMonitorConfig(path); err == nil {
		t.Fatalf("expected validation error")
	}
}
