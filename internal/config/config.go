package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// RadioConfig names the interfaces and tools used to run the AP and the uplink.
type RadioConfig struct {
	APInterface       string `json:"ap_interface"`
	STAInterface      string `json:"sta_interface"`
	CountryCode       string `json:"country_code"`
	RuntimeDir        string `json:"runtime_dir"`
	HostapdPath       string `json:"hostapd_path"`
	WPASupplicantPath string `json:"wpa_supplicant_path"`
	IPPath            string `json:"ip_path"`
	Disabled          bool   `json:"disabled"` // skip radio bring-up, poll only
}

// PresenceConfig tunes new-client detection.
type PresenceConfig struct {
	DedupTTL     string `json:"dedup_ttl"`
	DedupCap     int    `json:"dedup_cap"`
	FilterScript string `json:"filter_script"`
}

// ReportConfig tunes delivery to the attendance server.
type ReportConfig struct {
	Timeout     string  `json:"timeout"`
	RateLimit   float64 `json:"rate_limit"`
	RateBurst   int     `json:"rate_burst"`
	QueueSize   int     `json:"queue_size"`
	MaxAttempts int     `json:"max_attempts"`
	RetryDelay  string  `json:"retry_delay"`
}

// TimeConfig controls clock resynchronisation.
type TimeConfig struct {
	ResyncSpec string `json:"resync_spec"`
	Timeout    string `json:"timeout"`
}

// DashboardConfig is the on-site status page served on the AP network.
type DashboardConfig struct {
	Enabled        bool     `json:"enabled"`
	Port           string   `json:"port"`
	AllowedOrigins []string `json:"allowed_origins"`
}

// MQTTConfig - optional broker publishing of presence and delivery counters.
type MQTTConfig struct {
	Enabled     bool   `json:"enabled"`
	Broker      string `json:"broker"` // tcp://IP:PORT
	Username    string `json:"username"`
	Password    string `json:"password"`
	ClientID    string `json:"client_id"`
	TopicPrefix string `json:"topic_prefix"`

	HADiscoveryEnabled bool   `json:"ha_discovery_enabled"`
	HADiscoveryPrefix  string `json:"ha_discovery_prefix"`
}

// AttendanceConfig is the server side: roster store and HTTP listener.
type AttendanceConfig struct {
	Listen          string `json:"listen"`
	DatabasePath    string `json:"database_path"`
	UTCOffset       string `json:"utc_offset"` // "+05:30"
	VerificationTTL string `json:"verification_ttl"`
	SweepSpec       string `json:"sweep_spec"`
}

// Config is the runtime configuration. Site holds the compiled constants
// (optionally overridden); everything else is operational and may come
// from the JSON file.
type Config struct {
	Site Site `json:"-"`

	AllowSiteOverrides bool          `json:"allow_site_overrides"`
	SiteOverrides      SiteOverrides `json:"site"`

	Radio      RadioConfig      `json:"radio"`
	Presence   PresenceConfig   `json:"presence"`
	Report     ReportConfig     `json:"report"`
	Time       TimeConfig       `json:"time"`
	Dashboard  DashboardConfig  `json:"dashboard"`
	MQTT       MQTTConfig       `json:"mqtt"`
	Attendance AttendanceConfig `json:"attendance"`

	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`
}

// Default returns the configuration built purely from the compiled site
// constants and operational defaults.
func Default() *Config {
	cfg := &Config{Site: CompiledSite()}
	cfg.setDefaults()
	return cfg
}

// Load reads the JSON file at path and layers it over Default. A missing
// file is not an error.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to open config file '%s': %w", path, err)
	}
	defer file.Close()

	cfg := &Config{Site: CompiledSite()}
	dec := json.NewDecoder(file)
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode json: %w", err)
	}

	if !cfg.SiteOverrides.empty() {
		if !cfg.AllowSiteOverrides {
			return nil, fmt.Errorf("config error: 'site' overrides present but 'allow_site_overrides' is false")
		}
		if err := cfg.SiteOverrides.apply(&cfg.Site); err != nil {
			return nil, fmt.Errorf("config error: site.device_check_interval: %w", err)
		}
	}

	cfg.sanitize()
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) sanitize() {
	c.Radio.APInterface = strings.TrimSpace(c.Radio.APInterface)
	c.Radio.STAInterface = strings.TrimSpace(c.Radio.STAInterface)
	c.Radio.CountryCode = strings.ToUpper(strings.TrimSpace(c.Radio.CountryCode))
	c.Dashboard.Port = strings.TrimSpace(c.Dashboard.Port)
	c.Attendance.DatabasePath = strings.TrimSpace(c.Attendance.DatabasePath)
	c.Presence.FilterScript = strings.TrimSpace(c.Presence.FilterScript)
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	// SSIDs and passphrases are left untouched: leading and trailing
	// spaces are legal octets in both.
}

func (c *Config) setDefaults() {
	// Radio Defaults
	if c.Radio.APInterface == "" {
		c.Radio.APInterface = "wlan0"
	}
	if c.Radio.STAInterface == "" {
		c.Radio.STAInterface = "wlan1"
	}
	if c.Radio.CountryCode == "" {
		c.Radio.CountryCode = "IN"
	}
	if c.Radio.RuntimeDir == "" {
		c.Radio.RuntimeDir = "/run/rollcall"
	}
	if c.Radio.HostapdPath == "" {
		c.Radio.HostapdPath = "hostapd"
	}
	if c.Radio.WPASupplicantPath == "" {
		c.Radio.WPASupplicantPath = "wpa_supplicant"
	}
	if c.Radio.IPPath == "" {
		c.Radio.IPPath = "ip"
	}

	// Presence Defaults
	if c.Presence.DedupTTL == "" {
		c.Presence.DedupTTL = "10m"
	}
	if c.Presence.DedupCap <= 0 {
		c.Presence.DedupCap = 1024
	}

	// Report Defaults
	if c.Report.Timeout == "" {
		c.Report.Timeout = "10s"
	}
	if c.Report.RateLimit <= 0 {
		c.Report.RateLimit = 5.0
	}
	if c.Report.RateBurst <= 0 {
		c.Report.RateBurst = 10
	}
	if c.Report.QueueSize <= 0 {
		c.Report.QueueSize = 256
	}
	if c.Report.MaxAttempts <= 0 {
		c.Report.MaxAttempts = 5
	}
	if c.Report.RetryDelay == "" {
		c.Report.RetryDelay = "2s"
	}

	// Time Defaults
	if c.Time.ResyncSpec == "" {
		c.Time.ResyncSpec = "@every 1h"
	}
	if c.Time.Timeout == "" {
		c.Time.Timeout = "5s"
	}

	// Dashboard Defaults
	if c.Dashboard.Port == "" {
		c.Dashboard.Port = "8080"
	}

	// MQTT Defaults
	if c.MQTT.Broker == "" {
		c.MQTT.Broker = "tcp://localhost:1883"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "smart-roll-call"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "rollcall"
	}
	if c.MQTT.HADiscoveryPrefix == "" {
		c.MQTT.HADiscoveryPrefix = "homeassistant"
	}

	// Attendance server Defaults
	if c.Attendance.Listen == "" {
		c.Attendance.Listen = ":5000"
	}
	if c.Attendance.DatabasePath == "" {
		c.Attendance.DatabasePath = "attendance.db"
	}
	if c.Attendance.UTCOffset == "" {
		c.Attendance.UTCOffset = "+05:30"
	}
	if c.Attendance.VerificationTTL == "" {
		c.Attendance.VerificationTTL = "5m"
	}
	if c.Attendance.SweepSpec == "" {
		c.Attendance.SweepSpec = "@every 1m"
	}

	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
}

// validate rejects operational settings that would make the process
// misbehave. Site values are not checked here; see Check.
func (c *Config) validate() error {
	durations := map[string]string{
		"presence.dedup_ttl":          c.Presence.DedupTTL,
		"report.timeout":              c.Report.Timeout,
		"report.retry_delay":          c.Report.RetryDelay,
		"time.timeout":                c.Time.Timeout,
		"attendance.verification_ttl": c.Attendance.VerificationTTL,
	}
	for key, val := range durations {
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("config error: '%s': %w", key, err)
		}
		if d <= 0 {
			return fmt.Errorf("config error: '%s' must be positive", key)
		}
	}
	if _, err := ParseUTCOffset(c.Attendance.UTCOffset); err != nil {
		return fmt.Errorf("config error: 'attendance.utc_offset': %w", err)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config error: 'log_level': %w", err)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("config error: 'log_format' must be text or json, got %q", c.LogFormat)
	}
	return nil
}

// Duration parses one of the operational duration strings. Values have
// already been validated by Load, so the error path only fires for
// hand-built configs.
func Duration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// ParseUTCOffset parses "+05:30" / "-08:00" / "Z" into a fixed offset.
func ParseUTCOffset(s string) (time.Duration, error) {
	if s == "Z" || s == "" {
		return 0, nil
	}
	t, err := time.Parse("-07:00", s)
	if err != nil {
		return 0, fmt.Errorf("invalid offset %q: %w", s, err)
	}
	_, off := t.Zone()
	return time.Duration(off) * time.Second, nil
}
