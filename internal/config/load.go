package config

import (
	"bytes"
	"fmt"
	"os"

	yaml "go.yaml.in/yaml/v3"
)

// Decode parses a YAML config strictly: unknown fields are an error.
func Decode(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config decode: %w", err)
	}
	// Reject trailing documents (e.g. an accidental "---" paste).
	if err := dec.Decode(&struct{}{}); err == nil {
		return nil, fmt.Errorf("config decode: trailing document")
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func ReadFile(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Decode(b)
}

// validate checks the fields whose failure modes are confusing at
// runtime (a bad duration string would otherwise surface as a zero
// window long after load).
func validate(cfg *Config) error {
	if _, err := ParseDurationField("registry.timeout", cfg.Registry.Timeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("broker.debounce", cfg.Broker.Debounce); err != nil {
		return err
	}
	if _, err := ParseDurationField("jobs.outdated_after", cfg.Jobs.OutdatedAfter); err != nil {
		return err
	}
	if cfg.Registry.RatePerSec < 0 {
		return fmt.Errorf("registry.rate_per_sec: must be >= 0")
	}
	if cfg.Broker.MailboxSize < 0 {
		return fmt.Errorf("broker.mailbox_size: must be >= 0")
	}
	return nil
}
