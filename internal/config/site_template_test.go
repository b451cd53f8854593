//go:build !site

package config

import (
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestTemplate_Values(t *testing.T) {
	s := CompiledSite()

	if s.APSSID != "Smart_Roll_Call_ESP32" {
		t.Errorf("APSSID = %q", s.APSSID)
	}
	if s.APPassword != "attendance123" {
		t.Errorf("APPassword = %q", s.APPassword)
	}
	if s.APChannel != 1 || s.HideSSID || s.MaxConnections != 10 {
		t.Errorf("AP = channel %d hidden %v max %d, want 1/false/10", s.APChannel, s.HideSSID, s.MaxConnections)
	}
	if s.DaylightOffsetSec != 0 {
		t.Errorf("DaylightOffsetSec = %d, want 0", s.DaylightOffsetSec)
	}
	if s.DeviceCheckInterval != 5*time.Second {
		t.Errorf("DeviceCheckInterval = %s, want 5s", s.DeviceCheckInterval)
	}
}

func TestTemplate_PlaceholdersAreUnresolvable(t *testing.T) {
	u, err := url.Parse(ServerURL)
	if err != nil {
		t.Fatalf("template ServerURL must stay syntactically valid: %v", err)
	}
	if u.Hostname() != "YOUR_VM_IP" {
		t.Errorf("template host = %q, want YOUR_VM_IP", u.Hostname())
	}
	// Underscores are not legal in hostnames, so no resolver will ever
	// answer for this name.
	if !strings.Contains(u.Hostname(), "_") {
		t.Errorf("template host %q should contain an underscore", u.Hostname())
	}
	if u.Path != "/api/mark-attendance" || u.Port() != "5000" {
		t.Errorf("template URL = %q, want port 5000 and /api/mark-attendance", ServerURL)
	}
}

func TestTemplate_CheckFlagsPlaceholders(t *testing.T) {
	issues := Check(CompiledSite(), "IN")
	if !issues.Has(IssuePlaceholder) {
		t.Fatal("Check(template) found no placeholders")
	}

	want := map[string]bool{"ServerURL": false, "WiFiSSID": false, "WiFiPassword": false}
	for _, i := range issues {
		if i.Kind != IssuePlaceholder {
			continue
		}
		if _, ok := want[i.Field]; ok {
			want[i.Field] = true
		}
	}
	for field, seen := range want {
		if !seen {
			t.Errorf("placeholder in %s not reported", field)
		}
	}
	if issues.Has(IssueInvalid) {
		t.Errorf("template should only contain placeholders, got %v", issues)
	}
}
