package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Only the log level is applied while running; every other change is listed
// in RestartRequired so the operator can be told.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// DisplayChanged is true when the display interval or log flag changed.
	DisplayChanged bool

	// RestartRequired names the top-level sections that changed but only take
	// effect after a restart.
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.DisplayChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Display.Interval != new.Display.Interval || old.Display.Log != new.Display.Log {
		d.DisplayChanged = true
	}

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	if oldServer != newServer {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Capture != new.Capture {
		d.RestartRequired = append(d.RestartRequired, "capture")
	}
	if old.VAD != new.VAD {
		d.RestartRequired = append(d.RestartRequired, "vad")
	}
	if old.Recording != new.Recording {
		d.RestartRequired = append(d.RestartRequired, "recording")
	}
	if old.Uploader != new.Uploader {
		d.RestartRequired = append(d.RestartRequired, "uploader")
	}
	if !reflect.DeepEqual(old.STT, new.STT) {
		d.RestartRequired = append(d.RestartRequired, "stt")
	}
	// Websocket origins are fixed when the hub is built.
	if !slices.Equal(old.Display.Origins, new.Display.Origins) {
		d.RestartRequired = append(d.RestartRequired, "display.origins")
	}

	return d
}
