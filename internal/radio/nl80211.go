package radio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/mdlayher/wifi"
)

// ErrInterfaceNotFound is returned when the configured interface is not a
// wireless interface known to nl80211.
var ErrInterfaceNotFound = errors.New("wireless interface not found")

// WiFi is the nl80211 view of the radios. *wifi.Client implements it;
// tests substitute a fake.
type WiFi interface {
	Interfaces() ([]*wifi.Interface, error)
	StationInfo(ifi *wifi.Interface) ([]*wifi.StationInfo, error)
	Close() error
}

// lazyWiFi opens the generic netlink socket on first use, so building an
// AccessPoint never touches the kernel.
type lazyWiFi struct {
	mu sync.Mutex
	c  *wifi.Client
}

func (l *lazyWiFi) client() (*wifi.Client, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.c != nil {
		return l.c, nil
	}
	c, err := wifi.New()
	if err != nil {
		return nil, fmt.Errorf("open nl80211: %w", err)
	}
	l.c = c
	return c, nil
}

func (l *lazyWiFi) Interfaces() ([]*wifi.Interface, error) {
	c, err := l.client()
	if err != nil {
		return nil, err
	}
	return c.Interfaces()
}

func (l *lazyWiFi) StationInfo(ifi *wifi.Interface) ([]*wifi.StationInfo, error) {
	c, err := l.client()
	if err != nil {
		return nil, err
	}
	return c.StationInfo(ifi)
}

func (l *lazyWiFi) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.c == nil {
		return nil
	}
	err := l.c.Close()
	l.c = nil
	return err
}

// findInterface looks up name among the nl80211 interfaces.
func findInterface(w WiFi, name string) (*wifi.Interface, error) {
	ifis, err := w.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}
	for _, ifi := range ifis {
		if ifi.Name == name {
			return ifi, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrInterfaceNotFound, name)
}

// fromStationInfo converts one nl80211 station entry. Entries without a
// usable hardware address are skipped.
func fromStationInfo(si *wifi.StationInfo) (Association, bool) {
	if si == nil {
		return Association{}, false
	}
	mac, ok := NormalizeMAC(si.HardwareAddr.String())
	if !ok {
		return Association{}, false
	}
	return Association{
		MAC:       mac,
		Signal:    si.Signal,
		Inactive:  si.Inactive,
		Connected: si.Connected,
	}, true
}
