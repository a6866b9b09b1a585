package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/hugochiquito/clementine/pkg/endpointer"
	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default] and
// validates the result. Unknown keys are rejected. An empty document yields
// the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.StatusInterval < 0 {
		errs = append(errs, fmt.Errorf("server.status_interval %v must not be negative", cfg.Server.StatusInterval))
	}
	if cfg.Server.ReadLimit < 0 {
		errs = append(errs, fmt.Errorf("server.read_limit %d must not be negative", cfg.Server.ReadLimit))
	}

	// Audio
	if !endpointer.ValidSampleRate(cfg.Audio.SampleRate) {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be a positive multiple of %d", cfg.Audio.SampleRate, endpointer.FrameRate))
	}

	// Endpointer and classifier carry their own validation.
	if err := cfg.Endpointer.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("endpointer: %w", err))
	}
	if err := cfg.Classifier.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("classifier: %w", err))
	}
	if cfg.Endpointer.PossiblyCompleteSilenceLength > cfg.Endpointer.CompleteSilenceLength {
		slog.Warn("endpointer.possibly_complete_silence_length exceeds complete_silence_length; the early signal is disabled",
			"possibly_complete", cfg.Endpointer.PossiblyCompleteSilenceLength,
			"complete", cfg.Endpointer.CompleteSilenceLength,
		)
	}
	if (cfg.Endpointer.LongSpeechLength > 0) != (cfg.Endpointer.LongSpeechCompleteSilenceLength > 0) {
		slog.Warn("only one of endpointer.long_speech_length and long_speech_complete_silence_length is set; the long speech switch is disabled")
	}

	// Session log
	sl := cfg.SessionLog
	if !sl.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("session_log.backend %q is invalid; valid values: none, memory, file, postgres", sl.Backend))
	}
	if sl.Backend == SessionLogFile && sl.Path == "" {
		errs = append(errs, errors.New("session_log.path is required when backend is file"))
	}
	if sl.Backend == SessionLogPostgres && sl.PostgresDSN == "" {
		errs = append(errs, errors.New("session_log.postgres_dsn is required when backend is postgres"))
	}
	if sl.RecentLimit < 0 {
		errs = append(errs, fmt.Errorf("session_log.recent_limit %d must not be negative", sl.RecentLimit))
	}

	return errors.Join(errs...)
}
