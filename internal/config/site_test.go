package config

import (
	"reflect"
	"testing"
	"time"
)

// Every site constant must keep its identifier and type; this fails to
// compile otherwise.
var (
	_ string        = ServerURL
	_ string        = APSSID
	_ string        = APPassword
	_ int           = APChannel
	_ bool          = HideSSID
	_ int           = MaxConnections
	_ string        = WiFiSSID
	_ string        = WiFiPassword
	_ string        = NTPServer
	_ int           = GMTOffsetSec
	_ int           = DaylightOffsetSec
	_ time.Duration = DeviceCheckInterval
)

func TestSite_FieldTypes(t *testing.T) {
	want := map[string]reflect.Kind{
		"ServerURL":           reflect.String,
		"APSSID":              reflect.String,
		"APPassword":          reflect.String,
		"APChannel":           reflect.Int,
		"HideSSID":            reflect.Bool,
		"MaxConnections":      reflect.Int,
		"WiFiSSID":            reflect.String,
		"WiFiPassword":        reflect.String,
		"NTPServer":           reflect.String,
		"GMTOffsetSec":        reflect.Int,
		"DaylightOffsetSec":   reflect.Int,
		"DeviceCheckInterval": reflect.Int64,
	}

	typ := reflect.TypeOf(Site{})
	if typ.NumField() != len(want) {
		t.Errorf("Site has %d fields, want %d", typ.NumField(), len(want))
	}
	for name, kind := range want {
		f, ok := typ.FieldByName(name)
		if !ok {
			t.Errorf("Site.%s missing", name)
			continue
		}
		if f.Type.Kind() != kind {
			t.Errorf("Site.%s kind = %s, want %s", name, f.Type.Kind(), kind)
		}
	}
	if f, _ := typ.FieldByName("DeviceCheckInterval"); f.Type != reflect.TypeOf(time.Duration(0)) {
		t.Errorf("DeviceCheckInterval type = %s, want time.Duration", f.Type)
	}
}

func TestCompiledSite_MirrorsConstants(t *testing.T) {
	s := CompiledSite()
	if s.ServerURL != ServerURL || s.APSSID != APSSID || s.APPassword != APPassword {
		t.Errorf("string constants not mirrored: %+v", s)
	}
	if s.APChannel != APChannel || s.MaxConnections != MaxConnections || s.HideSSID != HideSSID {
		t.Errorf("AP constants not mirrored: %+v", s)
	}
	if s.DeviceCheckInterval != DeviceCheckInterval || s.DaylightOffsetSec != DaylightOffsetSec {
		t.Errorf("timing constants not mirrored: %+v", s)
	}
	if Default().Site != s {
		t.Error("Default().Site differs from CompiledSite()")
	}
}

func scenarioA() Site {
	return Site{
		ServerURL:           "http://10.0.0.7:5000/api/mark-attendance",
		APSSID:              "Smart_Roll_Call_ESP32",
		APPassword:          "attendance123",
		APChannel:           1,
		HideSSID:            false,
		MaxConnections:      10,
		WiFiSSID:            "campus-net",
		WiFiPassword:        "correct horse",
		NTPServer:           "pool.ntp.org",
		GMTOffsetSec:        19800,
		DaylightOffsetSec:   0,
		DeviceCheckInterval: 5000 * time.Millisecond,
	}
}

func TestCheck_ScenarioAClean(t *testing.T) {
	if issues := Check(scenarioA(), "IN"); len(issues) != 0 {
		t.Errorf("Check(scenario A) = %v, want none", issues)
	}
}

func TestCheck_Findings(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(*Site)
		field string
		kind  IssueKind
	}{
		{"short passphrase", func(s *Site) { s.APPassword = "abc" }, "APPassword", IssueInvalid},
		{"long passphrase", func(s *Site) { s.APPassword = string(make([]byte, 64)) }, "APPassword", IssueInvalid},
		{"empty ssid", func(s *Site) { s.APSSID = "" }, "APSSID", IssueInvalid},
		{"channel zero", func(s *Site) { s.APChannel = 0 }, "APChannel", IssueInvalid},
		{"channel 15", func(s *Site) { s.APChannel = 15 }, "APChannel", IssueInvalid},
		{"zero interval", func(s *Site) { s.DeviceCheckInterval = 0 }, "DeviceCheckInterval", IssueInvalid},
		{"tiny interval", func(s *Site) { s.DeviceCheckInterval = 10 * time.Millisecond }, "DeviceCheckInterval", IssueInconsistent},
		{"relative url", func(s *Site) { s.ServerURL = "/api/mark-attendance" }, "ServerURL", IssueInvalid},
		{"placeholder url", func(s *Site) { s.ServerURL = "http://YOUR_VM_IP:5000/api/mark-attendance" }, "ServerURL", IssuePlaceholder},
		{"hidden and closed", func(s *Site) { s.HideSSID = true; s.MaxConnections = 0 }, "HideSSID", IssueInconsistent},
		{"password without ssid", func(s *Site) { s.WiFiSSID = "" }, "WiFiPassword", IssueInconsistent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := scenarioA()
			tt.edit(&s)
			issues := Check(s, "IN")
			for _, i := range issues {
				if i.Field == tt.field && i.Kind == tt.kind {
					return
				}
			}
			t.Errorf("Check() = %v, want %s issue on %s", issues, tt.kind, tt.field)
		})
	}
}

func TestCheck_OpenAPAllowed(t *testing.T) {
	s := scenarioA()
	s.APPassword = ""
	if issues := Check(s, "IN"); len(issues) != 0 {
		t.Errorf("open AP should be valid, got %v", issues)
	}
}

func TestCheck_ChannelFollowsCountry(t *testing.T) {
	tests := []struct {
		country string
		channel int
		ok      bool
	}{
		{"IN", 13, true},
		{"IN", 14, false},
		{"JP", 14, true},
		{"US", 11, true},
		{"US", 12, false},
		{"tw", 12, false},
		{"", 13, true},
	}
	for _, tt := range tests {
		s := scenarioA()
		s.APChannel = tt.channel
		flagged := false
		for _, i := range Check(s, tt.country) {
			if i.Field == "APChannel" {
				flagged = true
			}
		}
		if flagged == tt.ok {
			t.Errorf("Check(channel %d, %q) flagged = %v, want %v", tt.channel, tt.country, flagged, !tt.ok)
		}
	}
}

func TestMaxChannel(t *testing.T) {
	for country, want := range map[string]int{"JP": 14, "US": 11, "ca": 11, "IN": 13, "DE": 13} {
		if got := MaxChannel(country); got != want {
			t.Errorf("MaxChannel(%q) = %d, want %d", country, got, want)
		}
	}
}
