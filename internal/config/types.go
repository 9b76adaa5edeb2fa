package config

// Config is the on-disk YAML configuration.
//
// All durations are Go duration strings (e.g. "300ms", "30s", "1h").
// Unknown keys are rejected at load time so typos fail fast instead of
// silently falling back to defaults.
type Config struct {
	Log      LogConfig      `yaml:"log"`
	Registry RegistryConfig `yaml:"registry"`
	Broker   BrokerConfig   `yaml:"broker"`
	Jobs     JobsConfig     `yaml:"jobs"`
}

type LogConfig struct {
	Level   string        `yaml:"level"`
	Console bool          `yaml:"console"`
	File    LogFileConfig `yaml:"file"`
}

type LogFileConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// RegistryConfig configures the upstream registry API client.
//
// Defaults (when fields are omitted/zero):
//   - base_url: the public registry endpoint
//   - rate_per_sec: 1 (upstream crawler etiquette)
//   - timeout: "30s"
//
// UserAgent has no default on purpose: the upstream requires an
// identifying user agent, so an empty value is a validation error.
type RegistryConfig struct {
	BaseURL    string `yaml:"base_url"`
	UserAgent  string `yaml:"user_agent"`
	RatePerSec int    `yaml:"rate_per_sec"`
	Timeout    string `yaml:"timeout"`
}

// BrokerConfig configures the upstream request broker.
//
// Debounce is the quiet window applied to live search input before a
// search is sent upstream. MailboxSize bounds the command channel.
type BrokerConfig struct {
	Debounce    string `yaml:"debounce"`
	MailboxSize int    `yaml:"mailbox_size"`
}

// JobsConfig configures the background maintenance jobs.
//
// RefreshSchedule is either a Go duration ("1h") or a cron spec
// ("30 * * * *"). OutdatedAfter is the staleness threshold a followed
// package must exceed before the refresh job picks it up.
type JobsConfig struct {
	RefreshEnabled  bool   `yaml:"refresh_enabled"`
	RefreshSchedule string `yaml:"refresh_schedule"`
	OutdatedAfter   string `yaml:"outdated_after"`
}

func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Console: true},
		Jobs: JobsConfig{
			RefreshEnabled:  true,
			RefreshSchedule: "1h",
			OutdatedAfter:   "24h",
		},
	}
}
