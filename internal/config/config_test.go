package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func lookupMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestDefaultsDev(t *testing.T) {
	cfg, err := load(func(string) (string, bool) { return "", false }, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeDev {
		t.Fatalf("mode=%q, want %q", cfg.Mode, ModeDev)
	}
	if cfg.LogFormat != LogFormatText {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatText)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("logLevel=%v, want %v", cfg.LogLevel, slog.LevelDebug)
	}
	if cfg.ListenAddr != "0.0.0.0:8080" {
		t.Fatalf("ListenAddr=%q, want %q", cfg.ListenAddr, "0.0.0.0:8080")
	}
	if cfg.MaxMessageBytes != DefaultMaxMessageBytes {
		t.Fatalf("MaxMessageBytes=%d, want %d", cfg.MaxMessageBytes, DefaultMaxMessageBytes)
	}
	if cfg.MaxMessagesPerSecond != 0 || cfg.MaxQueuedMessages != 0 {
		t.Fatalf("limits=%d/%d, want 0/0", cfg.MaxMessagesPerSecond, cfg.MaxQueuedMessages)
	}
	if cfg.WSPingInterval != 0 || cfg.WSIdleTimeout != 0 {
		t.Fatalf("keepalive=%v/%v, want disabled", cfg.WSPingInterval, cfg.WSIdleTimeout)
	}
	if len(cfg.AllowedOrigins) != 0 {
		t.Fatalf("AllowedOrigins=%v, want empty", cfg.AllowedOrigins)
	}
	if cfg.ShutdownTimeout != DefaultShutdown {
		t.Fatalf("ShutdownTimeout=%v, want %v", cfg.ShutdownTimeout, DefaultShutdown)
	}
}

func TestDefaultsProdWhenModeFlagSet(t *testing.T) {
	cfg, err := load(func(string) (string, bool) { return "", false }, []string{"--mode", "prod"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeProd {
		t.Fatalf("mode=%q, want %q", cfg.Mode, ModeProd)
	}
	// Log format defaults are resolved before flags, from env mode only.
	if cfg.LogFormat != LogFormatText {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatText)
	}
}

func TestDefaultsProdFromEnv(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{envVarMode: "production"}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeProd || cfg.LogFormat != LogFormatJSON || cfg.LogLevel != slog.LevelInfo {
		t.Fatalf("mode=%q format=%q level=%v", cfg.Mode, cfg.LogFormat, cfg.LogLevel)
	}
}

func TestPortEnvSetsListenAddr(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{envVarPort: "9001"}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "0.0.0.0:9001" {
		t.Fatalf("ListenAddr=%q, want %q", cfg.ListenAddr, "0.0.0.0:9001")
	}
}

func TestInvalidPortIsRejected(t *testing.T) {
	for _, raw := range []string{"abc", "70000", "-1"} {
		if _, err := load(lookupMap(map[string]string{envVarPort: raw}), nil); err == nil {
			t.Fatalf("PORT=%q: expected error", raw)
		}
	}
}

func TestListenAddrOverridesPort(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarPort:       "9001",
		envVarListenAddr: "127.0.0.1:7000",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:7000" {
		t.Fatalf("ListenAddr=%q, want %q", cfg.ListenAddr, "127.0.0.1:7000")
	}

	cfg, err = load(lookupMap(map[string]string{envVarPort: "9001"}), []string{"--listen-addr", "127.0.0.1:7001"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:7001" {
		t.Fatalf("ListenAddr=%q, want %q", cfg.ListenAddr, "127.0.0.1:7001")
	}
}

func TestLimitsFromEnvAndFlags(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarMaxMessageBytes:      "4096",
		envVarMaxMessagesPerSecond: "20",
		envVarMaxQueuedMessages:    "64",
		envVarWSPingInterval:       "10s",
		envVarWSIdleTimeout:        "30s",
	}), []string{"--max-queued-messages", "128"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxMessageBytes != 4096 {
		t.Fatalf("MaxMessageBytes=%d, want 4096", cfg.MaxMessageBytes)
	}
	if cfg.MaxMessagesPerSecond != 20 {
		t.Fatalf("MaxMessagesPerSecond=%d, want 20", cfg.MaxMessagesPerSecond)
	}
	if cfg.MaxQueuedMessages != 128 {
		t.Fatalf("MaxQueuedMessages=%d, want 128", cfg.MaxQueuedMessages)
	}
	if cfg.WSPingInterval != 10*time.Second || cfg.WSIdleTimeout != 30*time.Second {
		t.Fatalf("keepalive=%v/%v", cfg.WSPingInterval, cfg.WSIdleTimeout)
	}
}

func TestValidationErrors(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		args []string
		want string
	}{
		{name: "zero max message bytes", env: map[string]string{envVarMaxMessageBytes: "0"}, want: envVarMaxMessageBytes},
		{name: "negative rate", args: []string{"--max-messages-per-second", "-1"}, want: envVarMaxMessagesPerSecond},
		{name: "negative queue", env: map[string]string{envVarMaxQueuedMessages: "-5"}, want: envVarMaxQueuedMessages},
		{name: "ping not below idle", env: map[string]string{envVarWSPingInterval: "30s", envVarWSIdleTimeout: "30s"}, want: envVarWSPingInterval},
		{name: "bad duration", env: map[string]string{envVarWSIdleTimeout: "soon"}, want: envVarWSIdleTimeout},
		{name: "bad listen addr", args: []string{"--listen-addr", "nope"}, want: envVarListenAddr},
		{name: "bad origin", env: map[string]string{envVarAllowedOrigins: "https://ok.example,/relative"}, want: envVarAllowedOrigins},
		{name: "bad mode", args: []string{"--mode", "staging"}, want: "invalid mode"},
		{name: "zero shutdown", args: []string{"--shutdown-timeout", "0s"}, want: "shutdown timeout"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := load(lookupMap(tc.env), tc.args)
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err=%q, want it to mention %q", err, tc.want)
			}
		})
	}
}

func TestParseAllowedOrigins_NormalizesAndValidates(t *testing.T) {
	got, err := parseAllowedOrigins(" HTTPS://App.Example.com:443 , http://localhost:5173/ ,, * ")
	if err != nil {
		t.Fatalf("parseAllowedOrigins: %v", err)
	}
	want := []string{"https://app.example.com", "http://localhost:5173", "*"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestConfigFileLayering(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yaml")
	t.Setenv("RELAY_TEST_ORIGIN", "https://from-env-expansion.example")
	writeFile(t, path, `
port: 9100
mode: prod
allowed_origins:
  - ${RELAY_TEST_ORIGIN}
log:
  level: warn
limits:
  max_message_bytes: 2048
  max_queued_messages: 16
websocket:
  ping_interval: 5s
  idle_timeout: 20s
`)

	cfg, err := load(lookupMap(map[string]string{
		envVarConfigFile:        path,
		envVarMaxQueuedMessages: "32",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ConfigFile != path {
		t.Fatalf("ConfigFile=%q, want %q", cfg.ConfigFile, path)
	}
	if cfg.ListenAddr != "0.0.0.0:9100" {
		t.Fatalf("ListenAddr=%q, want 0.0.0.0:9100", cfg.ListenAddr)
	}
	if cfg.Mode != ModeProd || cfg.LogFormat != LogFormatJSON || cfg.LogLevel != slog.LevelWarn {
		t.Fatalf("mode=%q format=%q level=%v", cfg.Mode, cfg.LogFormat, cfg.LogLevel)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "https://from-env-expansion.example" {
		t.Fatalf("AllowedOrigins=%v", cfg.AllowedOrigins)
	}
	if cfg.MaxMessageBytes != 2048 {
		t.Fatalf("MaxMessageBytes=%d, want 2048", cfg.MaxMessageBytes)
	}
	// Environment wins over the file.
	if cfg.MaxQueuedMessages != 32 {
		t.Fatalf("MaxQueuedMessages=%d, want 32", cfg.MaxQueuedMessages)
	}
	if cfg.WSPingInterval != 5*time.Second || cfg.WSIdleTimeout != 20*time.Second {
		t.Fatalf("keepalive=%v/%v", cfg.WSPingInterval, cfg.WSIdleTimeout)
	}
}

func TestConfigFileFromFlag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	writeFile(t, path, "listen_addr: 127.0.0.1:6000\n")

	for _, args := range [][]string{
		{"--config", path},
		{"-config=" + path},
	} {
		cfg, err := load(lookupMap(nil), args)
		if err != nil {
			t.Fatalf("load(%v): %v", args, err)
		}
		if cfg.ListenAddr != "127.0.0.1:6000" {
			t.Fatalf("load(%v) ListenAddr=%q", args, cfg.ListenAddr)
		}
	}
}

func TestConfigFileErrors(t *testing.T) {
	if _, err := load(lookupMap(map[string]string{envVarConfigFile: filepath.Join(t.TempDir(), "missing.yaml")}), nil); err == nil {
		t.Fatalf("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "relay.yaml")
	writeFile(t, path, "unknown_key: 1\n")
	if _, err := load(lookupMap(map[string]string{envVarConfigFile: path}), nil); err == nil {
		t.Fatalf("expected error for unknown key")
	}
}

func TestEmptyConfigFileIsAccepted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	writeFile(t, path, "")
	cfg, err := load(lookupMap(map[string]string{envVarConfigFile: path}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "0.0.0.0:8080" {
		t.Fatalf("ListenAddr=%q", cfg.ListenAddr)
	}
}

func TestNewLoggerWritesRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.log")
	cfg, err := load(lookupMap(map[string]string{envVarLogFile: path}), []string{"--log-format", "json"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	logger, closer, err := NewLogger(cfg)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	logger.Info("relay_test_record", "k", "v")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"relay_test_record"`) {
		t.Fatalf("log file missing record: %s", data)
	}
}

func TestNewLoggerRejectsUnknownFormat(t *testing.T) {
	if _, _, err := NewLogger(Config{LogFormat: "xml"}); err == nil {
		t.Fatalf("expected error")
	}
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}
