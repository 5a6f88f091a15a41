package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeOptions(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "options.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write options: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeOptions(t, `{"sites":[{"id":"shop1","url":"https://shop1.example/product"}]}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.BaseTopic != "price_tracker" {
		t.Fatalf("base_topic = %q", cfg.BaseTopic)
	}
	if cfg.ProductName != "Website Price Tracker" {
		t.Fatalf("product_name = %q", cfg.ProductName)
	}
	if cfg.MQTTHost != "core-mosquitto" || cfg.MQTTPort != 1883 {
		t.Fatalf("mqtt defaults = %s:%d", cfg.MQTTHost, cfg.MQTTPort)
	}
	if cfg.FetchTimeout() != 25*time.Second {
		t.Fatalf("fetch timeout = %v", cfg.FetchTimeout())
	}

	schedule := cfg.Schedule()
	if schedule.Mode != ScheduleInterval {
		t.Fatalf("mode = %v, want interval", schedule.Mode)
	}
	if schedule.Interval != 1800*time.Second {
		t.Fatalf("interval = %v", schedule.Interval)
	}
}

func TestLoadFixedTimeTakesPrecedence(t *testing.T) {
	path := writeOptions(t, `{
		"run_time": "07:30",
		"scan_interval": 600,
		"sites": [{"id":"shop1","url":"https://shop1.example/product"}]
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	schedule := cfg.Schedule()
	if schedule.Mode != ScheduleFixed {
		t.Fatalf("mode = %v, want fixed", schedule.Mode)
	}
	if schedule.Hour != 7 || schedule.Minute != 30 {
		t.Fatalf("run time = %02d:%02d", schedule.Hour, schedule.Minute)
	}
}

func TestLoadSiteOptions(t *testing.T) {
	path := writeOptions(t, `{
		"base_topic": " /shops/ ",
		"min_price": 50,
		"max_price": 500,
		"sites": [
			{"id":"shop1","url":"https://shop1.example/p","title":"Machine","price_divisor":100,
			 "headers":{"Referer":"https://shop1.example"}}
		]
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.BaseTopic != "shops" {
		t.Fatalf("base_topic = %q, want trimmed", cfg.BaseTopic)
	}
	site := cfg.Sites[0]
	if site.DisplayName() != "Machine" {
		t.Fatalf("display name = %q", site.DisplayName())
	}
	if site.Divisor() != 100 {
		t.Fatalf("divisor = %v", site.Divisor())
	}
	if site.Headers["Referer"] == "" {
		t.Fatalf("headers not loaded")
	}
}

func TestDivisorDefaultsToOne(t *testing.T) {
	site := Site{ID: "s", URL: "https://example.test"}
	if site.Divisor() != 1 {
		t.Fatalf("divisor = %v, want 1", site.Divisor())
	}

	// An explicit zero means unset, not an error.
	site.PriceDivisor = 0
	if site.Divisor() != 1 {
		t.Fatalf("divisor = %v, want 1 for explicit zero", site.Divisor())
	}
	cfg := &Config{
		ScanInterval:     1800,
		MQTTHost:         "core-mosquitto",
		MQTTPort:         1883,
		MaxPrice:         1e9,
		FetchTimeoutSecs: 25,
		UserAgent:        "test-agent",
		Sites:            []Site{{ID: "s", URL: "https://example.test/p", PriceDivisor: 0}},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("zero divisor rejected: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	valid := func() *Config {
		return &Config{
			ScanInterval:     1800,
			MQTTHost:         "core-mosquitto",
			MQTTPort:         1883,
			MaxPrice:         1e9,
			FetchTimeoutSecs: 25,
			UserAgent:        "test-agent",
			Sites: []Site{
				{ID: "shop1", URL: "https://shop1.example/p"},
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "bad run_time",
			mutate:  func(c *Config) { c.RunTime = "7h30" },
			wantErr: "run_time",
		},
		{
			name:    "run_time out of range",
			mutate:  func(c *Config) { c.RunTime = "25:00" },
			wantErr: "out of range",
		},
		{
			name:    "zero interval",
			mutate:  func(c *Config) { c.ScanInterval = 0 },
			wantErr: "scan_interval",
		},
		{
			name: "duplicate site id",
			mutate: func(c *Config) {
				c.Sites = append(c.Sites, Site{ID: "shop1", URL: "https://other.example/p"})
			},
			wantErr: "duplicate",
		},
		{
			name: "missing site id",
			mutate: func(c *Config) {
				c.Sites = []Site{{URL: "https://other.example/p"}}
			},
			wantErr: "id cannot be empty",
		},
		{
			name: "url without host",
			mutate: func(c *Config) {
				c.Sites = []Site{{ID: "shop1", URL: "not-a-url"}}
			},
			wantErr: "host",
		},
		{
			name: "negative divisor",
			mutate: func(c *Config) {
				c.Sites = []Site{{ID: "shop1", URL: "https://s.example/p", PriceDivisor: -2}}
			},
			wantErr: "price_divisor cannot be negative",
		},
		{
			name:    "min above max",
			mutate:  func(c *Config) { c.MinPrice = 100; c.MaxPrice = 50 },
			wantErr: "min_price",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want substring %q", err, tt.wantErr)
			}
		})
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}
