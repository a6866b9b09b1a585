// Package config provides the configuration schema, loader and file watcher
// for the endpointing service.
package config

import (
	"time"

	"github.com/hugochiquito/clementine/pkg/endpointer"
	"github.com/hugochiquito/clementine/pkg/provider/vad/energy"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SessionLogBackend selects where finished session records are kept.
type SessionLogBackend string

const (
	// SessionLogNone discards records.
	SessionLogNone SessionLogBackend = "none"

	// SessionLogMemory keeps the most recent records in a ring buffer.
	SessionLogMemory SessionLogBackend = "memory"

	// SessionLogFile appends records to a JSON-lines file.
	SessionLogFile SessionLogBackend = "file"

	// SessionLogPostgres stores records in PostgreSQL.
	SessionLogPostgres SessionLogBackend = "postgres"
)

// IsValid reports whether b is a recognised backend.
func (b SessionLogBackend) IsValid() bool {
	switch b {
	case SessionLogNone, SessionLogMemory, SessionLogFile, SessionLogPostgres:
		return true
	}
	return false
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig      `yaml:"server"`
	Audio      AudioConfig       `yaml:"audio"`
	Endpointer endpointer.Config `yaml:"endpointer"`
	Classifier energy.Options    `yaml:"classifier"`
	SessionLog SessionLogConfig  `yaml:"session_log"`
	Telemetry  TelemetryConfig   `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// StatusInterval is the minimum gap between status messages sent to a
	// streaming client. Zero disables status messages.
	StatusInterval time.Duration `yaml:"status_interval"`

	// AutoEnd ends a streaming session as soon as it completes.
	AutoEnd bool `yaml:"auto_end"`

	// ReadLimit caps the size of one WebSocket message in bytes.
	ReadLimit int64 `yaml:"read_limit"`
}

// AudioConfig describes the audio the engine runs on. Client audio is
// converted to this format.
type AudioConfig struct {
	// SampleRate is the engine sample rate in Hz.
	SampleRate int `yaml:"sample_rate"`
}

// SessionLogConfig configures the session record store.
type SessionLogConfig struct {
	Backend SessionLogBackend `yaml:"backend"`

	// Path is the JSON-lines file for the file backend.
	Path string `yaml:"path"`

	// PostgresDSN is the connection string for the postgres backend.
	PostgresDSN string `yaml:"postgres_dsn"`

	// RecentLimit bounds how many records /v1/sessions/recent returns and
	// how many the memory backend keeps.
	RecentLimit int `yaml:"recent_limit"`
}

// TelemetryConfig configures the OpenTelemetry resource.
type TelemetryConfig struct {
	ServiceName string `yaml:"service_name"`
}

// Default values applied by [Default] and [ApplyDefaults].
const (
	DefaultListenAddr     = ":8080"
	DefaultSampleRate     = 16000
	DefaultStatusInterval = 100 * time.Millisecond
	DefaultReadLimit      = 1 << 20
	DefaultRecentLimit    = 100
	DefaultServiceName    = "endpointerd"
)

// Default returns a complete, valid configuration. [LoadFromReader] decodes
// on top of it, so omitted keys keep these values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:     DefaultListenAddr,
			LogLevel:       LogInfo,
			StatusInterval: DefaultStatusInterval,
			AutoEnd:        true,
			ReadLimit:      DefaultReadLimit,
		},
		Audio:      AudioConfig{SampleRate: DefaultSampleRate},
		Endpointer: endpointer.DefaultConfig(),
		Classifier: energy.DefaultOptions(),
		SessionLog: SessionLogConfig{
			Backend:     SessionLogMemory,
			RecentLimit: DefaultRecentLimit,
		},
		Telemetry: TelemetryConfig{ServiceName: DefaultServiceName},
	}
}

// ApplyDefaults fills fields that were explicitly set to an empty value and
// have no meaningful zero.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.ReadLimit == 0 {
		cfg.Server.ReadLimit = DefaultReadLimit
	}
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = DefaultSampleRate
	}
	if cfg.SessionLog.Backend == "" {
		cfg.SessionLog.Backend = SessionLogMemory
	}
	if cfg.SessionLog.RecentLimit == 0 {
		cfg.SessionLog.RecentLimit = DefaultRecentLimit
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
}
