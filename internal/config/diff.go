package config

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired lists the sections that changed but are only read at
	// startup.
	RestartRequired []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if old.Discord != new.Discord {
		d.RestartRequired = append(d.RestartRequired, "discord")
	}
	if old.Spotify != new.Spotify {
		d.RestartRequired = append(d.RestartRequired, "spotify")
	}
	if old.Cache != new.Cache {
		d.RestartRequired = append(d.RestartRequired, "cache")
	}
	if old.Bus != new.Bus {
		d.RestartRequired = append(d.RestartRequired, "bus")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	return d
}
