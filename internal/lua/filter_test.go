package lua

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeScript(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "filter.lua")
	if err := os.WriteFile(path, []byte(src), 0644); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestFilter_NoScriptAllows(t *testing.T) {
	if !NewFilter("", nil).Allow(context.Background(), "AA:BB:CC:DD:EE:FF", ClientInfo{}) {
		t.Error("empty path should allow")
	}
	missing := filepath.Join(t.TempDir(), "absent.lua")
	if !NewFilter(missing, nil).Allow(context.Background(), "AA:BB:CC:DD:EE:FF", ClientInfo{}) {
		t.Error("missing file should allow")
	}
	var nilFilter *Filter
	if !nilFilter.Allow(context.Background(), "AA:BB:CC:DD:EE:FF", ClientInfo{}) {
		t.Error("nil filter should allow")
	}
}

func TestFilter_SignalThreshold(t *testing.T) {
	path := writeScript(t, `
function should_report(mac, info)
  return info.signal > -75
end
`)
	f := NewFilter(path, nil)

	if !f.Allow(context.Background(), "AA:BB:CC:DD:EE:FF", ClientInfo{Signal: -50}) {
		t.Error("strong signal should be allowed")
	}
	if f.Allow(context.Background(), "AA:BB:CC:DD:EE:FF", ClientInfo{Signal: -90}) {
		t.Error("weak signal should be suppressed")
	}
}

func TestFilter_GoHelpers(t *testing.T) {
	path := writeScript(t, `
function should_report(mac, info)
  if normalize_mac(mac) ~= "DA:A1:19:00:00:01" then
    return false
  end
  return is_local_mac(mac) and info.locally_administered
end
`)
	f := NewFilter(path, nil)
	if !f.Allow(context.Background(), "da-a1-19-00-00-01", ClientInfo{LocallyAdministered: true}) {
		t.Error("helpers should normalise and detect the local bit")
	}
}

func TestFilter_ErrorsFailOpen(t *testing.T) {
	tests := map[string]string{
		"syntax error":  `function should_report(mac, info) return end end`,
		"missing func":  `x = 1`,
		"runtime error": `function should_report(mac, info) error("boom") end`,
		"infinite loop": `function should_report(mac, info) while true do end end`,
	}
	for name, src := range tests {
		t.Run(name, func(t *testing.T) {
			f := NewFilter(writeScript(t, src), nil)
			start := time.Now()
			if !f.Allow(context.Background(), "AA:BB:CC:DD:EE:FF", ClientInfo{}) {
				t.Error("failing script should allow")
			}
			if time.Since(start) > 2*time.Second {
				t.Error("script was not bounded by the timeout")
			}
		})
	}
}
