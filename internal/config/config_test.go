package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/lightswarm/internal/feedback"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestEmptyNodeConfigDefaults(t *testing.T) {
	cfg := EmptyNodeConfig()

	if got := cfg.GetCapacity(); got != 10 {
		t.Errorf("GetCapacity() = %d, want 10", got)
	}
	if got := cfg.GetPort(); got != 4210 {
		t.Errorf("GetPort() = %d, want 4210", got)
	}
	if got := cfg.GetSilenceWindow(); got != 200*time.Millisecond {
		t.Errorf("GetSilenceWindow() = %v, want 200ms", got)
	}
	if got := cfg.GetQuiescencePeriod(); got != 3*time.Second {
		t.Errorf("GetQuiescencePeriod() = %v, want 3s", got)
	}
	if got := cfg.GetBroadcastIP(); got != "255.255.255.255" {
		t.Errorf("GetBroadcastIP() = %q", got)
	}
	if got := cfg.GetBoardPath(); got != "" {
		t.Errorf("GetBoardPath() = %q, want empty", got)
	}
	if got := cfg.GetBoardOptions().BaudRate; got != 115200 {
		t.Errorf("GetBoardOptions().BaudRate = %d, want 115200", got)
	}
	if cfg.GetIndicatorChannel() != "0" || cfg.GetLeaderChannel() != "1" {
		t.Errorf("LED channels = %q/%q", cfg.GetIndicatorChannel(), cfg.GetLeaderChannel())
	}

	cal, err := cfg.Calibration()
	if err != nil {
		t.Fatalf("Calibration() error = %v", err)
	}
	if got := cal.Interval(24); got != 2010*time.Millisecond {
		t.Errorf("Interval(24) = %v, want 2010ms", got)
	}
}

func TestDefaultNodeConfigMatchesGetters(t *testing.T) {
	def := DefaultNodeConfig()
	if err := def.Validate(); err != nil {
		t.Fatalf("DefaultNodeConfig().Validate() = %v", err)
	}
	empty := EmptyNodeConfig()

	if def.NodeTimings() != empty.NodeTimings() {
		t.Errorf("timings differ: %+v vs %+v", def.NodeTimings(), empty.NodeTimings())
	}
	if def.GetListenAddr() != empty.GetListenAddr() {
		t.Errorf("listen addr differs")
	}
	a, _ := def.Calibration()
	b, _ := empty.Calibration()
	for _, r := range []int{0, 24, 500, 1024, 2000} {
		if a.Interval(r) != b.Interval(r) {
			t.Errorf("Interval(%d) differs: %v vs %v", r, a.Interval(r), b.Interval(r))
		}
	}
}

func TestLoadNodeConfig(t *testing.T) {
	path := writeConfig(t, "node.json", `{
  "port": 5000,
  "silence_window": "150ms",
  "calibration_high": {"reading": 1000, "interval": "20ms"},
  "board": {"path": "/dev/ttyUSB0", "baud_rate": 9600, "leader_channel": "B"}
}`)

	cfg, err := LoadNodeConfig(path)
	if err != nil {
		t.Fatalf("LoadNodeConfig() error = %v", err)
	}
	if cfg.GetPort() != 5000 {
		t.Errorf("GetPort() = %d", cfg.GetPort())
	}
	if cfg.GetSilenceWindow() != 150*time.Millisecond {
		t.Errorf("GetSilenceWindow() = %v", cfg.GetSilenceWindow())
	}
	if cfg.GetQuiescencePeriod() != 3*time.Second {
		t.Errorf("omitted fields keep defaults, got %v", cfg.GetQuiescencePeriod())
	}
	if cfg.GetBoardPath() != "/dev/ttyUSB0" || cfg.GetBoardOptions().BaudRate != 9600 {
		t.Errorf("board = %q %+v", cfg.GetBoardPath(), cfg.GetBoardOptions())
	}
	if cfg.GetLeaderChannel() != "B" || cfg.GetIndicatorChannel() != "0" {
		t.Errorf("channels = %q/%q", cfg.GetIndicatorChannel(), cfg.GetLeaderChannel())
	}
	cal, err := cfg.Calibration()
	if err != nil {
		t.Fatalf("Calibration() error = %v", err)
	}
	if got := cal.Interval(1000); got != 20*time.Millisecond {
		t.Errorf("Interval(1000) = %v, want 20ms", got)
	}
}

func TestLoadNodeConfigRejects(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		body    string
		wantErr string
	}{
		{"wrong extension", "node.yaml", `{}`, ".json extension"},
		{"bad json", "node.json", `{`, "parse config JSON"},
		{"bad duration", "node.json", `{"silence_window": "soon"}`, "invalid silence_window"},
		{"zero silence", "node.json", `{"silence_window": "0s"}`, "silence_window must be positive"},
		{"port range", "node.json", `{"port": 70000}`, "port must be between"},
		{"capacity", "node.json", `{"capacity": 0}`, "capacity must be between"},
		{"clamp order", "node.json", `{"min_interval": "3s", "max_interval": "1s"}`, "exceeds max_interval"},
		{"rising calibration", "node.json", `{"calibration_low": {"reading": 0, "interval": "1ms"}}`, "calibration"},
		{"board parity", "node.json", `{"board": {"parity": "mark"}}`, "board"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadNodeConfig(writeConfig(t, tt.file, tt.body))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadConfigMissingAndOversized(t *testing.T) {
	if _, err := LoadNodeConfig(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}

	big := writeConfig(t, "big.json", `{"interface": "`+strings.Repeat("x", maxFileSize)+`"}`)
	_, err := LoadCollectorConfig(big)
	if err == nil || !strings.Contains(err.Error(), "too large") {
		t.Errorf("expected size error, got %v", err)
	}
}

func TestCollectorConfig(t *testing.T) {
	empty := EmptyCollectorConfig()
	if empty.GetDBPath() != DefaultDBPath || empty.GetHTTPAddr() != DefaultHTTPAddr || empty.GetGRPCAddr() != DefaultGRPCAddr {
		t.Errorf("addresses = %q %q %q", empty.GetDBPath(), empty.GetHTTPAddr(), empty.GetGRPCAddr())
	}
	if empty.GetResetPause() != 3*time.Second || empty.GetStatusInterval() != time.Second {
		t.Errorf("timings = %v %v", empty.GetResetPause(), empty.GetStatusInterval())
	}
	if empty.GetLEDChannels() != 3 || empty.GetResetChannel() != "RESET" {
		t.Errorf("leds = %d %q", empty.GetLEDChannels(), empty.GetResetChannel())
	}
	if err := DefaultCollectorConfig().Validate(); err != nil {
		t.Errorf("DefaultCollectorConfig().Validate() = %v", err)
	}

	cfg, err := LoadCollectorConfig(writeConfig(t, "collector.json", `{"led_channels": 5, "reset_pause": "500ms"}`))
	if err != nil {
		t.Fatalf("LoadCollectorConfig() error = %v", err)
	}
	if cfg.GetLEDChannels() != 5 || cfg.GetResetPause() != 500*time.Millisecond {
		t.Errorf("loaded = %d %v", cfg.GetLEDChannels(), cfg.GetResetPause())
	}

	if _, err := LoadCollectorConfig(writeConfig(t, "c.json", `{"led_channels": 0}`)); err == nil {
		t.Error("expected led_channels error")
	}
	if _, err := LoadCollectorConfig(writeConfig(t, "c.json", `{"db_path": ""}`)); err == nil {
		t.Error("expected db_path error")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("LIGHTSWARM_PORT", "4999")
	t.Setenv("LIGHTSWARM_SILENCE_WINDOW", "300ms")
	t.Setenv("LIGHTSWARM_BOARD", "/dev/ttyACM0")

	cfg := EmptyNodeConfig()
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatalf("ApplyEnv() error = %v", err)
	}
	if cfg.GetPort() != 4999 || cfg.GetSilenceWindow() != 300*time.Millisecond || cfg.GetBoardPath() != "/dev/ttyACM0" {
		t.Errorf("env not applied: port=%d window=%v board=%q", cfg.GetPort(), cfg.GetSilenceWindow(), cfg.GetBoardPath())
	}

	col := DefaultCollectorConfig()
	t.Setenv("LIGHTSWARM_DB_PATH", "/tmp/x.db")
	if err := col.ApplyEnv(); err != nil {
		t.Fatalf("collector ApplyEnv() error = %v", err)
	}
	if col.GetDBPath() != "/tmp/x.db" || col.GetPort() != 4999 {
		t.Errorf("collector env not applied: %q %d", col.GetDBPath(), col.GetPort())
	}

	t.Setenv("LIGHTSWARM_PORT", "many")
	if err := EmptyNodeConfig().ApplyEnv(); err == nil {
		t.Error("expected parse error for LIGHTSWARM_PORT")
	}
}

func TestLoadDotEnv(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Errorf("missing .env should be ignored, got %v", err)
	}

	path := writeConfig(t, ".env", "LIGHTSWARM_TEST_DOTENV=from-file\n")
	t.Setenv("LIGHTSWARM_TEST_DOTENV", "")
	os.Unsetenv("LIGHTSWARM_TEST_DOTENV")
	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv() error = %v", err)
	}
	if got := os.Getenv("LIGHTSWARM_TEST_DOTENV"); got != "from-file" {
		t.Errorf("LIGHTSWARM_TEST_DOTENV = %q", got)
	}
}

func TestCalibrationUsesFeedbackDefaults(t *testing.T) {
	cfg := &NodeConfig{CalibrationLow: &CalibrationPoint{Reading: 24}}
	cal, err := cfg.Calibration()
	if err != nil {
		t.Fatalf("Calibration() error = %v", err)
	}
	if got := cal.Interval(feedback.DefaultLow.Reading); got != feedback.DefaultLow.Interval {
		t.Errorf("empty interval should fall back to default, got %v", got)
	}
}
