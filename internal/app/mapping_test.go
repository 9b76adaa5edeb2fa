package app

import (
	"testing"
	"time"

	"regwatch/internal/config"
)

func TestMapRegistryConfig(t *testing.T) {
	rc := mapRegistryConfig(config.RegistryConfig{
		BaseURL:    "https://example.test/api/v1",
		UserAgent:  "regwatch",
		RatePerSec: 2,
		Timeout:    "10s",
	})
	if rc.Timeout != 10*time.Second {
		t.Fatalf("timeout not parsed: %v", rc.Timeout)
	}
	if rc.BaseURL != "https://example.test/api/v1" || rc.RatePerSec != 2 {
		t.Fatalf("unexpected mapping: %+v", rc)
	}
}

func TestMapBrokerOptions(t *testing.T) {
	opts, err := mapBrokerOptions(config.BrokerConfig{Debounce: "250ms", MailboxSize: 32})
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if opts.Debounce != 250*time.Millisecond || opts.MailboxSize != 32 {
		t.Fatalf("unexpected options: %+v", opts)
	}

	if _, err := mapBrokerOptions(config.BrokerConfig{Debounce: "soon"}); err == nil {
		t.Fatal("want error for bad debounce")
	}
}
