package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked: swapping
// providers or the memory backend requires a restart.
type ConfigDiff struct {
	WakePhraseChanged bool
	NewWakePhrase     string

	LogLevelChanged bool
	NewLogLevel     LogLevel

	PreferOfflineChanged bool
	NewPreferOffline     bool

	WeatherChanged bool
	NewWeather     WeatherConfig
}

// Empty reports whether the diff contains no changes.
func (d ConfigDiff) Empty() bool {
	return !d.WakePhraseChanged && !d.LogLevelChanged &&
		!d.PreferOfflineChanged && !d.WeatherChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Assistant.WakePhrase != new.Assistant.WakePhrase {
		d.WakePhraseChanged = true
		d.NewWakePhrase = new.Assistant.WakePhrase
	}
	if old.Assistant.LogLevel != new.Assistant.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Assistant.LogLevel
	}
	if old.Assistant.PreferOffline != new.Assistant.PreferOffline {
		d.PreferOfflineChanged = true
		d.NewPreferOffline = new.Assistant.PreferOffline
	}
	if old.Weather != new.Weather {
		d.WeatherChanged = true
		d.NewWeather = new.Weather
	}
	return d
}
