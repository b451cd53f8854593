package radio

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"smart-roll-call/internal/config"
)

// STASettings are the upstream network the gateway joins for internet
// access.
type STASettings struct {
	Interface  string
	SSID       string
	Passphrase string
}

// STASettingsFrom builds station settings from the site configuration.
func STASettingsFrom(site config.Site, radio config.RadioConfig) STASettings {
	return STASettings{
		Interface:  radio.STAInterface,
		SSID:       site.WiFiSSID,
		Passphrase: site.WiFiPassword,
	}
}

// SupplicantConfig renders a wpa_supplicant configuration for s.
func SupplicantConfig(s STASettings, ctrlDir string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "ctrl_interface=%s\n", ctrlDir)
	b.WriteString("update_config=0\n")
	b.WriteString("network={\n")
	fmt.Fprintf(&b, "\tssid=%s\n", hex.EncodeToString([]byte(s.SSID)))
	b.WriteString("\tscan_ssid=1\n")
	if s.Passphrase == "" {
		b.WriteString("\tkey_mgmt=NONE\n")
	} else {
		b.WriteString("\tkey_mgmt=WPA-PSK\n")
		fmt.Fprintf(&b, "\tpsk=%s\n", DerivePSK(s.Passphrase, s.SSID))
	}
	b.WriteString("}\n")
	return b.String()
}

// Station runs wpa_supplicant for the upstream link.
type Station struct {
	settings   STASettings
	runner     Runner
	supplicant string
	ip         string
	runtimeDir string
	logger     *slog.Logger

	mu   sync.Mutex
	proc Process
}

// NewStation creates a station controller. Nothing runs until Connect.
func NewStation(s STASettings, radio config.RadioConfig, runner Runner, logger *slog.Logger) *Station {
	if runner == nil {
		runner = ExecRunner{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Station{
		settings:   s,
		runner:     runner,
		supplicant: radio.WPASupplicantPath,
		ip:         radio.IPPath,
		runtimeDir: radio.RuntimeDir,
		logger:     logger,
	}
}

// Connect writes the supplicant config and launches wpa_supplicant. An
// empty SSID means station mode is not used.
func (st *Station) Connect(ctx context.Context) error {
	if st.settings.SSID == "" {
		return errors.New("station SSID is empty")
	}
	if len(st.settings.SSID) > config.MaxSSIDLength {
		return fmt.Errorf("%w: length %d", ErrInvalidSSID, len(st.settings.SSID))
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.proc != nil {
		select {
		case <-st.proc.Done():
		default:
			return fmt.Errorf("station %q: %w", st.settings.SSID, ErrAlreadyRunning)
		}
	}

	if err := os.MkdirAll(st.runtimeDir, 0700); err != nil {
		return fmt.Errorf("create runtime dir: %w", err)
	}
	confPath := filepath.Join(st.runtimeDir, "wpa_supplicant.conf")
	ctrlDir := filepath.Join(st.runtimeDir, "wpa_supplicant")
	if err := os.WriteFile(confPath, []byte(SupplicantConfig(st.settings, ctrlDir)), 0600); err != nil {
		return fmt.Errorf("write supplicant config: %w", err)
	}

	proc, err := st.runner.Start(ctx, st.supplicant, "-i", st.settings.Interface, "-c", confPath, "-D", "nl80211")
	if err != nil {
		return fmt.Errorf("station %q: %w", st.settings.SSID, err)
	}
	st.proc = proc

	st.logger.Info("station connecting", "ssid", st.settings.SSID, "interface", st.settings.Interface)
	return nil
}

// Stop terminates wpa_supplicant.
func (st *Station) Stop() error {
	st.mu.Lock()
	proc := st.proc
	st.proc = nil
	st.mu.Unlock()

	if proc == nil {
		return nil
	}
	if err := proc.Stop(); err != nil {
		return fmt.Errorf("stop wpa_supplicant: %w", err)
	}
	return nil
}

// Ping succeeds once the station interface holds an IPv4 lease.
func (st *Station) Ping(ctx context.Context) error {
	out, err := st.runner.Output(ctx, st.ip, "-4", "-o", "addr", "show", "dev", st.settings.Interface)
	if err != nil {
		return err
	}
	addr := parseInet(out)
	if addr == "" {
		return fmt.Errorf("no IPv4 lease on %s", st.settings.Interface)
	}
	return nil
}

// parseInet extracts the first "inet a.b.c.d/nn" address from `ip -o addr`.
func parseInet(out []byte) string {
	fields := strings.Fields(string(out))
	for i, f := range fields {
		if f == "inet" && i+1 < len(fields) {
			return fields[i+1]
		}
	}
	return ""
}
