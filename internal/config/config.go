// Package config loads process-level bootstrap settings from the
// environment. The orchestrator tunables read here are cold-start
// fallbacks; values in the Store's settings table (see
// internal/database) override them once the Store is open.
package config

import (
	"os"
	"time"
)

// Config holds bootstrap configuration needed before the Store can be
// opened and the orchestrator wired up.
type Config struct {
	LogLevel string

	// Database
	DatabasePath string

	// Media output
	OutputRoot string
	FFmpegPath string

	// Renderer defaults, overridable by the settings table once the
	// Store is open.
	RendererURL string

	// Notifier (Kafka). Empty brokers list means the notifier degrades
	// to a no-op.
	KafkaBrokers     []string
	KafkaTopicEvents string

	// HTTP
	HTTPRequestTimeout time.Duration
	DownloadTimeout    time.Duration

	// Orchestrator defaults (overridden by settings table values once
	// the Store is open; these are the process's cold-start fallback).
	DriverPollInterval    time.Duration
	StatusPollInterval    time.Duration
	QueueIdleWait         time.Duration
	SegmentExecTimeout    time.Duration
	RendererReconnectWait time.Duration
}

// Load reads configuration from environment variables, falling back to
// the built-in defaults.
func Load() *Config {
	return &Config{
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DatabasePath: getEnv("DATABASE_PATH", "comfyui_queue.db"),

		OutputRoot: getEnv("OUTPUT_ROOT", "output"),
		FFmpegPath: getEnv("FFMPEG_PATH", "ffmpeg"),

		RendererURL: getEnv("RENDERER_URL", "http://localhost:8188"),

		KafkaBrokers:     splitNonEmpty(getEnv("KAFKA_BROKERS", "")),
		KafkaTopicEvents: getEnv("KAFKA_TOPIC_EVENTS", "renderer.activity.v1"),

		HTTPRequestTimeout: getEnvDuration("HTTP_REQUEST_TIMEOUT", 30*time.Second),
		DownloadTimeout:    getEnvDuration("DOWNLOAD_TIMEOUT", 60*time.Second),

		DriverPollInterval:    getEnvDuration("DRIVER_POLL_INTERVAL", 2*time.Second),
		StatusPollInterval:    getEnvDuration("STATUS_POLL_INTERVAL", 1*time.Second),
		QueueIdleWait:         getEnvDuration("QUEUE_IDLE_WAIT", 1800*time.Second),
		SegmentExecTimeout:    getEnvDuration("SEGMENT_EXEC_TIMEOUT", 1200*time.Second),
		RendererReconnectWait: getEnvDuration("RENDERER_RECONNECT_WAIT", 600*time.Second),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
