package config

import (
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/wilsonzlin/aero/proxy/ws-peer-relay/internal/origin"
)

const (
	envVarConfigFile      = "AERO_WS_PEER_RELAY_CONFIG"
	envVarPort            = "PORT"
	envVarListenAddr      = "AERO_WS_PEER_RELAY_LISTEN_ADDR"
	envVarMode            = "AERO_WS_PEER_RELAY_MODE"
	envVarLogFormat       = "AERO_WS_PEER_RELAY_LOG_FORMAT"
	envVarLogLevel        = "AERO_WS_PEER_RELAY_LOG_LEVEL"
	envVarShutdownTimeout = "AERO_WS_PEER_RELAY_SHUTDOWN_TIMEOUT"
	envVarAllowedOrigins  = "ALLOWED_ORIGINS"

	envVarMaxMessageBytes      = "MAX_MESSAGE_BYTES"
	envVarMaxMessagesPerSecond = "MAX_MESSAGES_PER_SECOND"
	envVarMaxQueuedMessages    = "MAX_QUEUED_MESSAGES"
	envVarWSPingInterval       = "WS_PING_INTERVAL"
	envVarWSIdleTimeout        = "WS_IDLE_TIMEOUT"

	// Optional rotating log file, written in addition to stdout.
	envVarLogFile       = "LOG_FILE"
	envVarLogMaxSizeMB  = "LOG_MAX_SIZE_MB"
	envVarLogMaxBackups = "LOG_MAX_BACKUPS"
	envVarLogMaxAgeDays = "LOG_MAX_AGE_DAYS"

	DefaultPort                 = 8080
	DefaultListenHost           = "0.0.0.0"
	DefaultShutdown             = 15 * time.Second
	DefaultMode            Mode = ModeDev
	DefaultMaxMessageBytes      = int64(1 << 20) // 1MiB
	DefaultLogMaxSizeMB         = 100
	DefaultLogMaxBackups        = 3
	DefaultLogMaxAgeDays        = 28
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type Config struct {
	// ConfigFile is the YAML file values were layered from, if any.
	ConfigFile string

	ListenAddr      string
	Mode            Mode
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration

	// AllowedOrigins lists normalized browser origins permitted to connect.
	// Empty allows every origin.
	AllowedOrigins []string

	// MaxMessageBytes caps a single inbound WebSocket message.
	MaxMessageBytes int64
	// MaxMessagesPerSecond caps inbound messages per peer (0 = unlimited).
	MaxMessagesPerSecond int
	// MaxQueuedMessages bounds each peer's outbound queue (0 = unbounded).
	MaxQueuedMessages int

	// WSPingInterval and WSIdleTimeout are disabled when zero.
	WSPingInterval time.Duration
	WSIdleTimeout  time.Duration

	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
}

// Load resolves configuration from, in increasing precedence: built-in
// defaults, an optional YAML file, environment variables, and flags.
func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	configFile := envOrDefault(lookup, envVarConfigFile, "")
	if p, ok := configPathFromArgs(args); ok {
		configFile = p
	}
	if configFile != "" {
		fileValues, err := readFile(configFile)
		if err != nil {
			return Config{}, err
		}
		lookup = layered(lookup, fileValues)
	}

	modeDefault := envOrDefault(lookup, envVarMode, string(DefaultMode))
	logFormatDefault := envOrDefault(lookup, envVarLogFormat, defaultLogFormatForMode(modeDefault))
	logLevelDefault := envOrDefault(lookup, envVarLogLevel, defaultLogLevelForMode(modeDefault))

	listenAddr := net.JoinHostPort(DefaultListenHost, strconv.Itoa(DefaultPort))
	if raw, ok := lookup(envVarPort); ok && strings.TrimSpace(raw) != "" {
		port, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 16)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarPort, raw, err)
		}
		listenAddr = net.JoinHostPort(DefaultListenHost, strconv.FormatUint(port, 10))
	}
	listenAddr = envOrDefault(lookup, envVarListenAddr, listenAddr)

	allowedOriginsStr := envOrDefault(lookup, envVarAllowedOrigins, "")

	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdown)
	if err != nil {
		return Config{}, err
	}
	maxMessageBytes := DefaultMaxMessageBytes
	if raw, ok := lookup(envVarMaxMessageBytes); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarMaxMessageBytes, raw, err)
		}
		maxMessageBytes = n
	}
	maxMessagesPerSecond, err := envIntOrDefault(lookup, envVarMaxMessagesPerSecond, 0)
	if err != nil {
		return Config{}, err
	}
	maxQueuedMessages, err := envIntOrDefault(lookup, envVarMaxQueuedMessages, 0)
	if err != nil {
		return Config{}, err
	}
	wsPingInterval, err := envDurationOrDefault(lookup, envVarWSPingInterval, 0)
	if err != nil {
		return Config{}, err
	}
	wsIdleTimeout, err := envDurationOrDefault(lookup, envVarWSIdleTimeout, 0)
	if err != nil {
		return Config{}, err
	}

	logFile := envOrDefault(lookup, envVarLogFile, "")
	logMaxSizeMB, err := envIntOrDefault(lookup, envVarLogMaxSizeMB, DefaultLogMaxSizeMB)
	if err != nil {
		return Config{}, err
	}
	logMaxBackups, err := envIntOrDefault(lookup, envVarLogMaxBackups, DefaultLogMaxBackups)
	if err != nil {
		return Config{}, err
	}
	logMaxAgeDays, err := envIntOrDefault(lookup, envVarLogMaxAgeDays, DefaultLogMaxAgeDays)
	if err != nil {
		return Config{}, err
	}

	fs := flag.NewFlagSet("aero-ws-peer-relay", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		modeStr      string
		logFormatStr string
		logLevelStr  string
	)

	fs.StringVar(&configFile, "config", configFile, "Optional YAML config file (env "+envVarConfigFile+")")
	fs.StringVar(&listenAddr, "listen-addr", listenAddr, "HTTP listen address (host:port; default 0.0.0.0:$"+envVarPort+")")
	fs.StringVar(&allowedOriginsStr, "allowed-origins", allowedOriginsStr, "Comma-separated list of allowed browser origins (env "+envVarAllowedOrigins+")")
	fs.StringVar(&modeStr, "mode", modeDefault, "Run mode: dev or prod")
	fs.StringVar(&logFormatStr, "log-format", logFormatDefault, "Log format: text or json")
	fs.StringVar(&logLevelStr, "log-level", logLevelDefault, "Log level: debug, info, warn, error")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout (e.g. 15s)")
	fs.Int64Var(&maxMessageBytes, "max-message-bytes", maxMessageBytes, "Max inbound WebSocket message size in bytes (env "+envVarMaxMessageBytes+")")
	fs.IntVar(&maxMessagesPerSecond, "max-messages-per-second", maxMessagesPerSecond, "Max inbound messages per second per peer (0 = unlimited; env "+envVarMaxMessagesPerSecond+")")
	fs.IntVar(&maxQueuedMessages, "max-queued-messages", maxQueuedMessages, "Max outbound messages queued per peer before it is disconnected (0 = unbounded; env "+envVarMaxQueuedMessages+")")
	fs.DurationVar(&wsPingInterval, "ws-ping-interval", wsPingInterval, "Send ping frames at this interval (0 = disabled; must be < --ws-idle-timeout; env "+envVarWSPingInterval+")")
	fs.DurationVar(&wsIdleTimeout, "ws-idle-timeout", wsIdleTimeout, "Close connections with no inbound traffic for this long (0 = disabled; env "+envVarWSIdleTimeout+")")
	fs.StringVar(&logFile, "log-file", logFile, "Also write logs to this file, rotated by size (env "+envVarLogFile+")")
	fs.IntVar(&logMaxSizeMB, "log-max-size-mb", logMaxSizeMB, "Rotate the log file after this many megabytes (env "+envVarLogMaxSizeMB+")")
	fs.IntVar(&logMaxBackups, "log-max-backups", logMaxBackups, "Rotated log files to keep (0 = all; env "+envVarLogMaxBackups+")")
	fs.IntVar(&logMaxAgeDays, "log-max-age-days", logMaxAgeDays, "Days to keep rotated log files (0 = forever; env "+envVarLogMaxAgeDays+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	mode, err := parseMode(modeStr)
	if err != nil {
		return Config{}, err
	}
	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return Config{}, err
	}
	logLevel, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}
	allowedOrigins, err := parseAllowedOrigins(allowedOriginsStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid %s/--allowed-origins: %w", envVarAllowedOrigins, err)
	}

	if listenAddr == "" {
		return Config{}, fmt.Errorf("listen address must not be empty")
	}
	if _, _, err := net.SplitHostPort(listenAddr); err != nil {
		return Config{}, fmt.Errorf("invalid %s/--listen-addr %q: %w", envVarListenAddr, listenAddr, err)
	}
	if shutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("shutdown timeout must be > 0")
	}
	if maxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("%s/--max-message-bytes must be > 0", envVarMaxMessageBytes)
	}
	if maxMessagesPerSecond < 0 {
		return Config{}, fmt.Errorf("%s/--max-messages-per-second must be >= 0", envVarMaxMessagesPerSecond)
	}
	if maxQueuedMessages < 0 {
		return Config{}, fmt.Errorf("%s/--max-queued-messages must be >= 0", envVarMaxQueuedMessages)
	}
	if wsPingInterval < 0 {
		return Config{}, fmt.Errorf("%s/--ws-ping-interval must be >= 0", envVarWSPingInterval)
	}
	if wsIdleTimeout < 0 {
		return Config{}, fmt.Errorf("%s/--ws-idle-timeout must be >= 0", envVarWSIdleTimeout)
	}
	if wsPingInterval > 0 && wsIdleTimeout > 0 && wsPingInterval >= wsIdleTimeout {
		return Config{}, fmt.Errorf("%s/--ws-ping-interval must be < %s/--ws-idle-timeout", envVarWSPingInterval, envVarWSIdleTimeout)
	}
	if logMaxSizeMB <= 0 {
		return Config{}, fmt.Errorf("%s/--log-max-size-mb must be > 0", envVarLogMaxSizeMB)
	}
	if logMaxBackups < 0 || logMaxAgeDays < 0 {
		return Config{}, fmt.Errorf("%s and %s must be >= 0", envVarLogMaxBackups, envVarLogMaxAgeDays)
	}

	return Config{
		ConfigFile:           configFile,
		ListenAddr:           listenAddr,
		Mode:                 mode,
		LogFormat:            logFormat,
		LogLevel:             logLevel,
		ShutdownTimeout:      shutdownTimeout,
		AllowedOrigins:       allowedOrigins,
		MaxMessageBytes:      maxMessageBytes,
		MaxMessagesPerSecond: maxMessagesPerSecond,
		MaxQueuedMessages:    maxQueuedMessages,
		WSPingInterval:       wsPingInterval,
		WSIdleTimeout:        wsIdleTimeout,
		LogFile:              logFile,
		LogMaxSizeMB:         logMaxSizeMB,
		LogMaxBackups:        logMaxBackups,
		LogMaxAgeDays:        logMaxAgeDays,
	}, nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func defaultLogFormatForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return string(LogFormatJSON)
	default:
		return string(LogFormatText)
	}
}

func defaultLogLevelForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return "info"
	default:
		return "debug"
	}
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}

func parseAllowedOrigins(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var out []string
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if entry == "*" {
			out = append(out, entry)
			continue
		}
		normalized, ok := origin.Normalize(entry)
		if !ok {
			return nil, fmt.Errorf("invalid origin %q (expected full origin like https://example.com)", entry)
		}
		out = append(out, normalized)
	}
	return out, nil
}
