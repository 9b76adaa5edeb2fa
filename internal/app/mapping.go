package app

import (
	"time"

	"regwatch/internal/broker"
	"regwatch/internal/config"
	"regwatch/internal/registry"
	"regwatch/pkg/logx"
)

const defaultOutdatedAfter = 24 * time.Hour

func mapLogConfig(c config.LogConfig) logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File: logx.FileConfig{
			Enabled: c.File.Enabled,
			Path:    c.File.Path,
		},
	}
}

func mapRegistryConfig(c config.RegistryConfig) registry.Config {
	// Timeout was validated at load; a parse error here cannot happen.
	timeout, _ := config.ParseDurationField("registry.timeout", c.Timeout)
	return registry.Config{
		BaseURL:    c.BaseURL,
		UserAgent:  c.UserAgent,
		RatePerSec: c.RatePerSec,
		Timeout:    timeout,
	}
}

func mapBrokerOptions(c config.BrokerConfig) (broker.Options, error) {
	debounce, err := config.ParseDurationField("broker.debounce", c.Debounce)
	if err != nil {
		return broker.Options{}, err
	}
	return broker.Options{
		Debounce:    debounce,
		MailboxSize: c.MailboxSize,
	}, nil
}
