package main

import (
	"log/slog"
	"slices"

	"github.com/wilsonzlin/aero/proxy/ws-peer-relay/internal/config"
)

const largeMaxMessageBytes = 16 << 20 // 16MiB

func logStartupSecurityWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if len(cfg.AllowedOrigins) == 0 || slices.Contains(cfg.AllowedOrigins, "*") {
		logger.Warn("startup security warning: ALLOWED_ORIGINS is empty or contains '*' (allows any origin)",
			"warning_code", "allowed_origins_any",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.MaxMessagesPerSecond <= 0 {
		logger.Warn("startup security warning: MAX_MESSAGES_PER_SECOND is unset/0 (unlimited) while --mode=prod",
			"warning_code", "rate_limit_disabled_in_prod",
			"max_messages_per_second", cfg.MaxMessagesPerSecond,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.MaxQueuedMessages <= 0 {
		logger.Warn("startup security warning: MAX_QUEUED_MESSAGES is unset/0 (unbounded per-peer queues) while --mode=prod",
			"warning_code", "queue_unbounded_in_prod",
			"max_queued_messages", cfg.MaxQueuedMessages,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.WSIdleTimeout <= 0 {
		logger.Warn("startup security warning: WS_IDLE_TIMEOUT is unset/0 (half-open connections are never reaped) while --mode=prod",
			"warning_code", "idle_timeout_disabled_in_prod",
			"ws_idle_timeout", cfg.WSIdleTimeout,
			"mode", cfg.Mode,
		)
	}

	if cfg.MaxMessageBytes > largeMaxMessageBytes {
		logger.Warn("startup security warning: MAX_MESSAGE_BYTES is very large (every message is fanned out to all peers of a protocol)",
			"warning_code", "max_message_bytes_large",
			"max_message_bytes", cfg.MaxMessageBytes,
			"mode", cfg.Mode,
		)
	}
}
