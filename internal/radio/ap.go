// Package radio brings up the local access point and the upstream station
// link, and reads the access point's association table.
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

	"github.com/mdlayher/wifi"

	"smart-roll-call/internal/config"
)

// Validation errors returned by ValidateAP. Match with errors.Is.
var (
	ErrInvalidSSID           = errors.New("invalid SSID")
	ErrInvalidPassphrase     = errors.New("invalid passphrase")
	ErrInvalidChannel        = errors.New("channel not permitted")
	ErrInvalidMaxConnections = errors.New("invalid max connections")
	ErrAlreadyRunning        = errors.New("already running")
)

// APSettings are the parameters the access point is started with.
type APSettings struct {
	Interface      string
	CountryCode    string
	SSID           string
	Passphrase     string // empty means open network
	Channel        int
	Hidden         bool
	MaxConnections int
}

// Open reports whether the AP runs without encryption.
func (s APSettings) Open() bool {
	return s.Passphrase == ""
}

// APSettingsFrom builds AP settings from the site configuration.
func APSettingsFrom(site config.Site, radio config.RadioConfig) APSettings {
	return APSettings{
		Interface:      radio.APInterface,
		CountryCode:    radio.CountryCode,
		SSID:           site.APSSID,
		Passphrase:     site.APPassword,
		Channel:        site.APChannel,
		Hidden:         site.HideSSID,
		MaxConnections: site.MaxConnections,
	}
}

// ValidateAP checks settings against what the radio will accept.
func ValidateAP(s APSettings) error {
	if n := len(s.SSID); n == 0 || n > config.MaxSSIDLength {
		return fmt.Errorf("%w: length %d, want 1..%d octets", ErrInvalidSSID, n, config.MaxSSIDLength)
	}
	if !s.Open() {
		n := len(s.Passphrase)
		if n < config.MinPassphraseLength || n > config.MaxPassphraseLength {
			return fmt.Errorf("%w: length %d, want %d..%d characters",
				ErrInvalidPassphrase, n, config.MinPassphraseLength, config.MaxPassphraseLength)
		}
		for _, r := range s.Passphrase {
			if r < 0x20 || r > 0x7e {
				return fmt.Errorf("%w: non-printable character %q", ErrInvalidPassphrase, r)
			}
		}
	}
	if limit := config.MaxChannel(s.CountryCode); s.Channel < config.MinAPChannel || s.Channel > limit {
		return fmt.Errorf("%w: %d outside 1..%d for country %q", ErrInvalidChannel, s.Channel, limit, s.CountryCode)
	}
	if s.MaxConnections < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidMaxConnections, s.MaxConnections)
	}
	return nil
}

// HostapdConfig renders a hostapd configuration for s. The SSID is written
// hex-encoded and the passphrase is replaced by its derived PSK, so neither
// can break the file format and the plaintext secret never touches disk.
func HostapdConfig(s APSettings, ctrlDir string) string {
	ignore := 0
	if s.Hidden {
		ignore = 1
	}

	var b strings.Builder
	fmt.Fprintf(&b, "interface=%s\n", s.Interface)
	b.WriteString("driver=nl80211\n")
	fmt.Fprintf(&b, "ctrl_interface=%s\n", ctrlDir)
	fmt.Fprintf(&b, "ssid2=%s\n", hex.EncodeToString([]byte(s.SSID)))
	if s.CountryCode != "" {
		fmt.Fprintf(&b, "country_code=%s\n", s.CountryCode)
		b.WriteString("ieee80211d=1\n")
	}
	b.WriteString("hw_mode=g\n")
	fmt.Fprintf(&b, "channel=%d\n", s.Channel)
	fmt.Fprintf(&b, "ignore_broadcast_ssid=%d\n", ignore)
	fmt.Fprintf(&b, "max_num_sta=%d\n", s.MaxConnections)
	b.WriteString("auth_algs=1\n")
	if s.Open() {
		b.WriteString("wpa=0\n")
	} else {
		b.WriteString("wpa=2\n")
		b.WriteString("wpa_key_mgmt=WPA-PSK\n")
		b.WriteString("rsn_pairwise=CCMP\n")
		fmt.Fprintf(&b, "wpa_psk=%s\n", DerivePSK(s.Passphrase, s.SSID))
	}
	return b.String()
}

// AccessPoint runs hostapd for the local hotspot.
type AccessPoint struct {
	settings   APSettings
	runner     Runner
	nl         WiFi
	hostapd    string
	runtimeDir string
	logger     *slog.Logger

	mu   sync.Mutex
	proc Process
}

// NewAccessPoint creates an access point controller. Nothing runs until
// Start. A nil nl opens an nl80211 client on first use.
func NewAccessPoint(s APSettings, radio config.RadioConfig, runner Runner, nl WiFi, logger *slog.Logger) *AccessPoint {
	if runner == nil {
		runner = ExecRunner{}
	}
	if nl == nil {
		nl = &lazyWiFi{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AccessPoint{
		settings:   s,
		runner:     runner,
		nl:         nl,
		hostapd:    radio.HostapdPath,
		runtimeDir: radio.RuntimeDir,
		logger:     logger,
	}
}

// Settings returns the parameters the AP was configured with.
func (ap *AccessPoint) Settings() APSettings {
	return ap.settings
}

// Start validates the settings, writes hostapd.conf and launches hostapd.
// Invalid settings are refused before anything is written.
func (ap *AccessPoint) Start(ctx context.Context) error {
	if err := ValidateAP(ap.settings); err != nil {
		return fmt.Errorf("access point %q: %w", ap.settings.SSID, err)
	}

	ap.mu.Lock()
	defer ap.mu.Unlock()
	if ap.proc != nil {
		select {
		case <-ap.proc.Done():
		default:
			return fmt.Errorf("access point %q: %w", ap.settings.SSID, ErrAlreadyRunning)
		}
	}

	if err := os.MkdirAll(ap.runtimeDir, 0700); err != nil {
		return fmt.Errorf("create runtime dir: %w", err)
	}
	confPath := filepath.Join(ap.runtimeDir, "hostapd.conf")
	ctrlDir := filepath.Join(ap.runtimeDir, "hostapd")
	if err := os.WriteFile(confPath, []byte(HostapdConfig(ap.settings, ctrlDir)), 0600); err != nil {
		return fmt.Errorf("write hostapd config: %w", err)
	}

	proc, err := ap.runner.Start(ctx, ap.hostapd, confPath)
	if err != nil {
		return fmt.Errorf("access point %q: %w", ap.settings.SSID, err)
	}
	ap.proc = proc

	ap.logger.Info("access point started",
		"ssid", ap.settings.SSID,
		"interface", ap.settings.Interface,
		"channel", ap.settings.Channel,
		"hidden", ap.settings.Hidden,
		"open", ap.settings.Open(),
		"max_connections", ap.settings.MaxConnections,
	)
	return nil
}

// Stop terminates hostapd. Stopping an AP that is not running is a no-op.
func (ap *AccessPoint) Stop() error {
	ap.mu.Lock()
	proc := ap.proc
	ap.proc = nil
	ap.mu.Unlock()

	if proc == nil {
		return nil
	}
	if err := proc.Stop(); err != nil {
		return fmt.Errorf("stop hostapd: %w", err)
	}
	ap.logger.Info("access point stopped", "ssid", ap.settings.SSID)
	return nil
}

// Ping reports whether hostapd is alive and nl80211 reports the interface
// in AP mode.
func (ap *AccessPoint) Ping(ctx context.Context) error {
	ap.mu.Lock()
	proc := ap.proc
	ap.mu.Unlock()

	if proc == nil {
		return errors.New("hostapd not started")
	}
	select {
	case <-proc.Done():
		return errors.New("hostapd exited")
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	ifi, err := findInterface(ap.nl, ap.settings.Interface)
	if err != nil {
		return err
	}
	if ifi.Type != wifi.InterfaceTypeAP {
		return fmt.Errorf("interface %s is in %v mode, not AP", ap.settings.Interface, ifi.Type)
	}
	return nil
}

// Associations lists the stations currently associated with the AP.
func (ap *AccessPoint) Associations(ctx context.Context) ([]Association, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ifi, err := findInterface(ap.nl, ap.settings.Interface)
	if err != nil {
		return nil, err
	}
	infos, err := ap.nl.StationInfo(ifi)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// nl80211 reports an empty station table as "not exist".
			return nil, nil
		}
		return nil, fmt.Errorf("station info %s: %w", ifi.Name, err)
	}
	list := make([]Association, 0, len(infos))
	for _, si := range infos {
		if a, ok := fromStationInfo(si); ok {
			list = append(list, a)
		}
	}
	return list, nil
}

// Close releases the nl80211 socket. It does not stop hostapd.
func (ap *AccessPoint) Close() error {
	return ap.nl.Close()
}
