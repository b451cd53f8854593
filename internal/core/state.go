package core

import (
	"sync"
	"time"
)

// State holds the single source of truth for the gateway.
type State struct {
	mu sync.RWMutex

	APUp      bool      `json:"apUp"`
	UplinkUp  bool      `json:"uplinkUp"`
	Clients   int       `json:"clients"`
	Delivered int       `json:"delivered"`
	Rejected  int       `json:"rejected"`
	Failed    int       `json:"failed"`
	LastJoin  string    `json:"lastJoin,omitempty"`
	LastSync  time.Time `json:"lastSync"`
	ClockSkew string    `json:"clockSkew,omitempty"`
}

// NewState creates a new State instance.
func NewState() *State {
	return &State{}
}

// Clone returns a snapshot of the current state for safe reading.
func (s *State) Clone() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return State{
		APUp:      s.APUp,
		UplinkUp:  s.UplinkUp,
		Clients:   s.Clients,
		Delivered: s.Delivered,
		Rejected:  s.Rejected,
		Failed:    s.Failed,
		LastJoin:  s.LastJoin,
		LastSync:  s.LastSync,
		ClockSkew: s.ClockSkew,
	}
}

// SetAP updates the access point state.
func (s *State) SetAP(up bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.APUp = up
}

// SetUplink updates the station uplink state.
func (s *State) SetUplink(up bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.UplinkUp = up
}

// SetClients records the current association count and, when mac is not
// empty, the most recent joiner.
func (s *State) SetClients(count int, mac string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Clients = count
	if mac != "" {
		s.LastJoin = mac
	}
}

// RecordDelivered counts a report the server accepted.
func (s *State) RecordDelivered() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Delivered++
}

// RecordRejected counts a report the server definitively refused.
func (s *State) RecordRejected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Rejected++
}

// RecordFailed counts a report abandoned after retries.
func (s *State) RecordFailed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Failed++
}

// SetSync records a successful clock sync and the measured offset.
func (s *State) SetSync(at time.Time, skew time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastSync = at
	s.ClockSkew = skew.String()
}
