package config

import "time"

// Site is the runtime view of the compiled site constants. Consumers take
// their radio, uplink, endpoint and timing parameters from here rather than
// from the constants directly so tests can substitute values.
type Site struct {
	ServerURL string

	APSSID         string
	APPassword     string
	APChannel      int
	HideSSID       bool
	MaxConnections int

	WiFiSSID     string
	WiFiPassword string

	NTPServer         string
	GMTOffsetSec      int
	DaylightOffsetSec int

	DeviceCheckInterval time.Duration
}

// CompiledSite returns the values baked into this binary.
func CompiledSite() Site {
	return Site{
		ServerURL:           ServerURL,
		APSSID:              APSSID,
		APPassword:          APPassword,
		APChannel:           APChannel,
		HideSSID:            HideSSID,
		MaxConnections:      MaxConnections,
		WiFiSSID:            WiFiSSID,
		WiFiPassword:        WiFiPassword,
		NTPServer:           NTPServer,
		GMTOffsetSec:        GMTOffsetSec,
		DaylightOffsetSec:   DaylightOffsetSec,
		DeviceCheckInterval: DeviceCheckInterval,
	}
}

// SiteOverrides replaces individual site values at runtime. It is only
// honoured when the config file sets allow_site_overrides.
type SiteOverrides struct {
	ServerURL           *string `json:"server_url,omitempty"`
	APSSID              *string `json:"ap_ssid,omitempty"`
	APPassword          *string `json:"ap_password,omitempty"`
	APChannel           *int    `json:"ap_channel,omitempty"`
	HideSSID            *bool   `json:"hide_ssid,omitempty"`
	MaxConnections      *int    `json:"max_connections,omitempty"`
	WiFiSSID            *string `json:"wifi_ssid,omitempty"`
	WiFiPassword        *string `json:"wifi_password,omitempty"`
	NTPServer           *string `json:"ntp_server,omitempty"`
	GMTOffsetSec        *int    `json:"gmt_offset_sec,omitempty"`
	DaylightOffsetSec   *int    `json:"daylight_offset_sec,omitempty"`
	DeviceCheckInterval *string `json:"device_check_interval,omitempty"` // e.g. "5s"
}

func (o SiteOverrides) apply(s *Site) error {
	if o.ServerURL != nil {
		s.ServerURL = *o.ServerURL
	}
	if o.APSSID != nil {
		s.APSSID = *o.APSSID
	}
	if o.APPassword != nil {
		s.APPassword = *o.APPassword
	}
	if o.APChannel != nil {
		s.APChannel = *o.APChannel
	}
	if o.HideSSID != nil {
		s.HideSSID = *o.HideSSID
	}
	if o.MaxConnections != nil {
		s.MaxConnections = *o.MaxConnections
	}
	if o.WiFiSSID != nil {
		s.WiFiSSID = *o.WiFiSSID
	}
	if o.WiFiPassword != nil {
		s.WiFiPassword = *o.WiFiPassword
	}
	if o.NTPServer != nil {
		s.NTPServer = *o.NTPServer
	}
	if o.GMTOffsetSec != nil {
		s.GMTOffsetSec = *o.GMTOffsetSec
	}
	if o.DaylightOffsetSec != nil {
		s.DaylightOffsetSec = *o.DaylightOffsetSec
	}
	if o.DeviceCheckInterval != nil {
		d, err := time.ParseDuration(*o.DeviceCheckInterval)
		if err != nil {
			return err
		}
		s.DeviceCheckInterval = d
	}
	return nil
}

func (o SiteOverrides) empty() bool {
	return o == SiteOverrides{}
}
