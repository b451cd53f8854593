package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Validation limits shared with the radio bring-up code.
const (
	MaxSSIDLength       = 32
	MinPassphraseLength = 8
	MaxPassphraseLength = 63
	MinAPChannel        = 1
)

// MaxChannel returns the highest 2.4 GHz channel the regulatory domain
// allows.
func MaxChannel(country string) int {
	switch strings.ToUpper(country) {
	case "JP":
		return 14
	case "US", "CA", "TW":
		return 11
	default:
		return 13
	}
}

// PlaceholderMarker is the prefix every template placeholder starts with.
const PlaceholderMarker = "YOUR_"

// IssueKind classifies a configuration problem.
type IssueKind string

const (
	IssuePlaceholder  IssueKind = "placeholder"
	IssueInvalid      IssueKind = "invalid"
	IssueInconsistent IssueKind = "inconsistent"
)

// Issue is one finding from Check.
type Issue struct {
	Kind    IssueKind
	Field   string
	Message string
}

func (i Issue) Error() string {
	return fmt.Sprintf("%s: %s: %s", i.Kind, i.Field, i.Message)
}

// Issues is the full result of Check. A nil Issues means the site looks
// deployable.
type Issues []Issue

// Has reports whether any issue of the given kind was found.
func (is Issues) Has(kind IssueKind) bool {
	for _, i := range is {
		if i.Kind == kind {
			return true
		}
	}
	return false
}

// Check inspects site values for template placeholders and values that the
// consuming subsystems would reject at startup. It never modifies anything
// and nothing calls it implicitly; consumers decide what to do with the
// result.
func Check(s Site, countryCode string) Issues {
	var out Issues
	add := func(kind IssueKind, field, format string, args ...any) {
		out = append(out, Issue{Kind: kind, Field: field, Message: fmt.Sprintf(format, args...)})
	}

	placeholders := []struct {
		field, value string
	}{
		{"ServerURL", s.ServerURL},
		{"APSSID", s.APSSID},
		{"APPassword", s.APPassword},
		{"WiFiSSID", s.WiFiSSID},
		{"WiFiPassword", s.WiFiPassword},
		{"NTPServer", s.NTPServer},
	}
	for _, p := range placeholders {
		if strings.Contains(p.value, PlaceholderMarker) {
			add(IssuePlaceholder, p.field, "template value %q was not replaced", p.value)
		}
	}

	if u, err := url.Parse(s.ServerURL); err != nil {
		add(IssueInvalid, "ServerURL", "not a URL: %v", err)
	} else if !u.IsAbs() || u.Host == "" {
		add(IssueInvalid, "ServerURL", "must be an absolute URL with a host")
	} else if u.Scheme != "http" && u.Scheme != "https" {
		add(IssueInvalid, "ServerURL", "unsupported scheme %q", u.Scheme)
	}

	if n := len(s.APSSID); n == 0 || n > MaxSSIDLength {
		add(IssueInvalid, "APSSID", "length %d outside 1..%d octets", n, MaxSSIDLength)
	}
	if n := len(s.APPassword); n != 0 && (n < MinPassphraseLength || n > MaxPassphraseLength) {
		add(IssueInvalid, "APPassword", "length %d: must be empty (open AP) or %d..%d characters",
			n, MinPassphraseLength, MaxPassphraseLength)
	}
	if maxCh := MaxChannel(countryCode); s.APChannel < MinAPChannel || s.APChannel > maxCh {
		add(IssueInvalid, "APChannel", "channel %d outside %d..%d for country %q",
			s.APChannel, MinAPChannel, maxCh, countryCode)
	}
	if s.MaxConnections < 1 {
		add(IssueInvalid, "MaxConnections", "must be at least 1, got %d", s.MaxConnections)
		if s.HideSSID {
			add(IssueInconsistent, "HideSSID", "hidden AP that accepts no clients is unreachable")
		}
	}

	if n := len(s.WiFiSSID); n > MaxSSIDLength {
		add(IssueInvalid, "WiFiSSID", "length %d exceeds %d octets", n, MaxSSIDLength)
	}
	if s.WiFiSSID == "" && s.WiFiPassword != "" {
		add(IssueInconsistent, "WiFiPassword", "set without WiFiSSID")
	}

	if s.DeviceCheckInterval <= 0 {
		add(IssueInvalid, "DeviceCheckInterval", "must be positive, got %s", s.DeviceCheckInterval)
	} else if s.DeviceCheckInterval < time.Second {
		add(IssueInconsistent, "DeviceCheckInterval",
			"%s is shorter than the association table settling time", s.DeviceCheckInterval)
	}

	if s.DaylightOffsetSec < -2*3600 || s.DaylightOffsetSec > 2*3600 {
		add(IssueInvalid, "DaylightOffsetSec", "%d seconds is not a plausible DST shift", s.DaylightOffsetSec)
	}
	if s.GMTOffsetSec < -12*3600 || s.GMTOffsetSec > 14*3600 {
		add(IssueInvalid, "GMTOffsetSec", "%d seconds outside UTC-12..UTC+14", s.GMTOffsetSec)
	}

	return out
}
