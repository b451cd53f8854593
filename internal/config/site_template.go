//go:build !site

// Template site configuration. Copy this file to site_local.go, change the
// build constraint to "site", fill in the values and build with -tags site.
// Placeholder values are left syntactically valid so that an unmodified
// build links but cannot reach a real server.

package config

import "time"

// Attendance server endpoint (the VM's address and port).
const ServerURL = "http://YOUR_VM_IP:5000/api/mark-attendance"

// Access point (hotspot) that students' phones join.
const (
	APSSID         = "Smart_Roll_Call_ESP32"
	APPassword     = "attendance123"
	APChannel      = 1
	HideSSID       = false
	MaxConnections = 10
)

// Upstream Wi-Fi used for internet access.
const (
	WiFiSSID     = "YOUR_HOME_WIFI_NAME"
	WiFiPassword = "YOUR_HOME_WIFI_PASSWORD"
)

// Time. DaylightOffsetSec is 0 for India.
const (
	NTPServer         = "pool.ntp.org"
	GMTOffsetSec      = 19800
	DaylightOffsetSec = 0
)

// DeviceCheckInterval is how often the association table is checked for new devices.
const DeviceCheckInterval = 5000 * time.Millisecond
