package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// fileConfig is the YAML config file schema. Every field is optional; set
// fields fill in for the matching environment variable when that variable is
// unset.
type fileConfig struct {
	Port            *int     `yaml:"port"`
	ListenAddr      string   `yaml:"listen_addr"`
	Mode            string   `yaml:"mode"`
	ShutdownTimeout string   `yaml:"shutdown_timeout"`
	AllowedOrigins  []string `yaml:"allowed_origins"`

	Log struct {
		Format     string `yaml:"format"`
		Level      string `yaml:"level"`
		File       string `yaml:"file"`
		MaxSizeMB  *int   `yaml:"max_size_mb"`
		MaxBackups *int   `yaml:"max_backups"`
		MaxAgeDays *int   `yaml:"max_age_days"`
	} `yaml:"log"`

	Limits struct {
		MaxMessageBytes      *int64 `yaml:"max_message_bytes"`
		MaxMessagesPerSecond *int   `yaml:"max_messages_per_second"`
		MaxQueuedMessages    *int   `yaml:"max_queued_messages"`
	} `yaml:"limits"`

	WebSocket struct {
		PingInterval string `yaml:"ping_interval"`
		IdleTimeout  string `yaml:"idle_timeout"`
	} `yaml:"websocket"`
}

// readFile loads a YAML config file, expanding ${VAR} references, and returns
// its values keyed by the environment variable each one stands in for.
func readFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var fc fileConfig
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config yaml %s: %w", path, err)
	}
	return fc.values(), nil
}

func (fc fileConfig) values() map[string]string {
	out := make(map[string]string)
	setString := func(key, v string) {
		if v != "" {
			out[key] = v
		}
	}
	setInt := func(key string, v *int) {
		if v != nil {
			out[key] = strconv.Itoa(*v)
		}
	}

	setInt(envVarPort, fc.Port)
	setString(envVarListenAddr, fc.ListenAddr)
	setString(envVarMode, fc.Mode)
	setString(envVarShutdownTimeout, fc.ShutdownTimeout)
	setString(envVarAllowedOrigins, strings.Join(fc.AllowedOrigins, ","))

	setString(envVarLogFormat, fc.Log.Format)
	setString(envVarLogLevel, fc.Log.Level)
	setString(envVarLogFile, fc.Log.File)
	setInt(envVarLogMaxSizeMB, fc.Log.MaxSizeMB)
	setInt(envVarLogMaxBackups, fc.Log.MaxBackups)
	setInt(envVarLogMaxAgeDays, fc.Log.MaxAgeDays)

	if v := fc.Limits.MaxMessageBytes; v != nil {
		out[envVarMaxMessageBytes] = strconv.FormatInt(*v, 10)
	}
	setInt(envVarMaxMessagesPerSecond, fc.Limits.MaxMessagesPerSecond)
	setInt(envVarMaxQueuedMessages, fc.Limits.MaxQueuedMessages)

	setString(envVarWSPingInterval, fc.WebSocket.PingInterval)
	setString(envVarWSIdleTimeout, fc.WebSocket.IdleTimeout)
	return out
}

// layered returns a lookup that prefers env and falls back to file values.
func layered(env func(string) (string, bool), file map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		if v, ok := env(key); ok && strings.TrimSpace(v) != "" {
			return v, true
		}
		v, ok := file[key]
		return v, ok
	}
}

// configPathFromArgs finds -config/--config ahead of full flag parsing, since
// the file supplies flag defaults.
func configPathFromArgs(args []string) (string, bool) {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			break
		}
		name := strings.TrimLeft(arg, "-")
		if name == arg || len(arg)-len(name) > 2 {
			continue
		}
		if v, ok := strings.CutPrefix(name, "config="); ok {
			return v, true
		}
		if name == "config" && i+1 < len(args) {
			return args[i+1], true
		}
	}
	return "", false
}
