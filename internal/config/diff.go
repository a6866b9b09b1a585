package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// needs a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// EndpointerChanged is true if any silence threshold changed. New values
	// apply to sessions started after the reload.
	EndpointerChanged bool

	// ClassifierChanged is true if any energy classifier option changed.
	ClassifierChanged bool

	StatusIntervalChanged bool
	AutoEndChanged        bool

	// RestartRequired lists the top-level keys that changed but cannot be
	// applied to a running server.
	RestartRequired []string
}

// Changed reports whether any hot-reloadable setting differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.EndpointerChanged || d.ClassifierChanged ||
		d.StatusIntervalChanged || d.AutoEndChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.EndpointerChanged = old.Endpointer != new.Endpointer
	d.ClassifierChanged = old.Classifier != new.Classifier
	d.StatusIntervalChanged = old.Server.StatusInterval != new.Server.StatusInterval
	d.AutoEndChanged = old.Server.AutoEnd != new.Server.AutoEnd

	if old.Server.ListenAddr != new.Server.ListenAddr || old.Server.ReadLimit != new.Server.ReadLimit {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if old.SessionLog != new.SessionLog {
		d.RestartRequired = append(d.RestartRequired, "session_log")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}
	return d
}
