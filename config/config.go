// Package config loads and validates the tracker options document.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultOptionsPath is where the supervisor mounts the add-on options.
const DefaultOptionsPath = "/data/options.json"

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/127.0 Safari/537.36"

// ScheduleMode selects how sweep cycles are timed.
type ScheduleMode int

const (
	// ScheduleInterval repeats every ScanInterval, measured from the end
	// of the previous sweep.
	ScheduleInterval ScheduleMode = iota
	// ScheduleFixed runs once per day at a fixed local time.
	ScheduleFixed
)

// Schedule is the timing variant resolved at startup. The two modes are
// mutually exclusive; a configured run_time takes precedence over
// scan_interval.
type Schedule struct {
	Mode     ScheduleMode
	Hour     int
	Minute   int
	Interval time.Duration
}

// Site describes one configured product page. Immutable for the process
// lifetime; the id doubles as the topic and entity key.
type Site struct {
	ID           string            `mapstructure:"id"`
	URL          string            `mapstructure:"url"`
	Title        string            `mapstructure:"title"`
	Headers      map[string]string `mapstructure:"headers"`
	PriceDivisor float64           `mapstructure:"price_divisor"`
}

// DisplayName returns the configured title, falling back to the id.
func (s Site) DisplayName() string {
	if s.Title != "" {
		return s.Title
	}
	return s.ID
}

// Divisor returns the configured price divisor. Zero means unset and
// maps to 1.
func (s Site) Divisor() float64 {
	if s.PriceDivisor > 0 {
		return s.PriceDivisor
	}
	return 1
}

// Logbook configures the optional Home Assistant logbook sink.
type Logbook struct {
	Enabled      bool   `mapstructure:"enabled"`
	Name         string `mapstructure:"name"`
	EntityID     string `mapstructure:"entity_id"`
	Level        string `mapstructure:"level"`
	IncludeLevel bool   `mapstructure:"include_level"`
}

// Config holds the full tracker configuration.
type Config struct {
	RunTime          string  `mapstructure:"run_time"`
	ScanInterval     int     `mapstructure:"scan_interval"`
	LogLevel         string  `mapstructure:"log_level"`
	ProductName      string  `mapstructure:"product_name"`
	BaseTopic        string  `mapstructure:"base_topic"`
	MQTTHost         string  `mapstructure:"mqtt_host"`
	MQTTPort         int     `mapstructure:"mqtt_port"`
	MQTTUsername     string  `mapstructure:"mqtt_username"`
	MQTTPassword     string  `mapstructure:"mqtt_password"`
	MinPrice         float64 `mapstructure:"min_price"`
	MaxPrice         float64 `mapstructure:"max_price"`
	FetchTimeoutSecs int     `mapstructure:"fetch_timeout_secs"`
	UserAgent        string  `mapstructure:"user_agent"`
	MetricsAddr      string  `mapstructure:"metrics_addr"`
	Sites            []Site  `mapstructure:"sites"`
	Logbook          Logbook `mapstructure:"logbook"`

	schedule Schedule
}

// Load reads the options document and environment overrides, then
// validates the result. Path defaults to DefaultOptionsPath.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultOptionsPath
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	v.SetEnvPrefix("TRACKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("scan_interval", 1800)
	v.SetDefault("log_level", "info")
	v.SetDefault("product_name", "Website Price Tracker")
	v.SetDefault("base_topic", "price_tracker")
	v.SetDefault("mqtt_host", "core-mosquitto")
	v.SetDefault("mqtt_port", 1883)
	v.SetDefault("min_price", 0.0)
	v.SetDefault("max_price", 1e9)
	v.SetDefault("fetch_timeout_secs", 25)
	v.SetDefault("user_agent", defaultUserAgent)
	v.SetDefault("logbook.include_level", true)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read options %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal options: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate ensures all configuration values are coherent and resolves
// the schedule variant. It must run before Schedule is used.
func (c *Config) Validate() error {
	c.BaseTopic = strings.Trim(strings.TrimSpace(c.BaseTopic), "/")
	if c.BaseTopic == "" {
		c.BaseTopic = "price_tracker"
	}
	c.ProductName = strings.TrimSpace(c.ProductName)
	if c.ProductName == "" {
		c.ProductName = "Website Price Tracker"
	}

	if c.MQTTHost == "" {
		return fmt.Errorf("mqtt_host cannot be empty")
	}
	if c.MQTTPort <= 0 || c.MQTTPort > 65535 {
		return fmt.Errorf("mqtt_port %d out of range", c.MQTTPort)
	}
	if c.MinPrice < 0 {
		return fmt.Errorf("min_price cannot be negative")
	}
	if c.MaxPrice <= 0 {
		return fmt.Errorf("max_price must be positive")
	}
	if c.MinPrice > c.MaxPrice {
		return fmt.Errorf("min_price (%g) cannot exceed max_price (%g)", c.MinPrice, c.MaxPrice)
	}
	if c.FetchTimeoutSecs <= 0 {
		return fmt.Errorf("fetch_timeout_secs must be positive")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user_agent cannot be empty")
	}

	seen := make(map[string]struct{}, len(c.Sites))
	for i, site := range c.Sites {
		if strings.TrimSpace(site.ID) == "" {
			return fmt.Errorf("site %d: id cannot be empty", i)
		}
		if _, dup := seen[site.ID]; dup {
			return fmt.Errorf("site %q: duplicate id", site.ID)
		}
		seen[site.ID] = struct{}{}

		parsed, err := url.Parse(site.URL)
		if err != nil {
			return fmt.Errorf("site %q: invalid url: %w", site.ID, err)
		}
		if parsed.Host == "" {
			return fmt.Errorf("site %q: url must include a host", site.ID)
		}
		if site.PriceDivisor < 0 {
			return fmt.Errorf("site %q: price_divisor cannot be negative", site.ID)
		}
	}

	schedule, err := c.resolveSchedule()
	if err != nil {
		return err
	}
	c.schedule = schedule
	return nil
}

// Schedule returns the timing variant resolved by Validate.
func (c *Config) Schedule() Schedule {
	return c.schedule
}

// FetchTimeout returns the per-fetch timeout as a duration.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSecs) * time.Second
}

func (c *Config) resolveSchedule() (Schedule, error) {
	if c.RunTime != "" {
		var hour, minute int
		if _, err := fmt.Sscanf(c.RunTime, "%d:%d", &hour, &minute); err != nil {
			return Schedule{}, fmt.Errorf("run_time %q: expected HH:MM", c.RunTime)
		}
		if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
			return Schedule{}, fmt.Errorf("run_time %q: out of range", c.RunTime)
		}
		return Schedule{Mode: ScheduleFixed, Hour: hour, Minute: minute}, nil
	}

	if c.ScanInterval <= 0 {
		return Schedule{}, fmt.Errorf("scan_interval must be positive")
	}
	return Schedule{
		Mode:     ScheduleInterval,
		Interval: time.Duration(c.ScanInterval) * time.Second,
	}, nil
}
