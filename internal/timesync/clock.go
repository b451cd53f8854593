package timesync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"smart-roll-call/internal/core"
)

// Clock is a wall clock anchored to the last successful sync. Between
// syncs it advances on the monotonic clock, so a system clock that jumps
// does not move it.
type Clock struct {
	zone *time.Location

	mu     sync.RWMutex
	ref    time.Time // reference UTC time at anchor
	anchor time.Time // local time.Now() with monotonic reading
	synced bool
}

// NewClock builds a clock whose local time is UTC shifted by gmtOffsetSec
// plus daylightOffsetSec.
func NewClock(gmtOffsetSec, daylightOffsetSec int) *Clock {
	off := gmtOffsetSec + daylightOffsetSec
	return &Clock{zone: time.FixedZone(zoneName(off), off)}
}

func zoneName(off int) string {
	sign := '+'
	if off < 0 {
		sign = '-'
		off = -off
	}
	return fmt.Sprintf("UTC%c%02d:%02d", sign, off/3600, off%3600/60)
}

// Set anchors the clock to ref.
func (c *Clock) Set(ref time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ref = ref.UTC()
	c.anchor = time.Now()
	c.synced = true
}

// Synced reports whether the clock has been set at least once.
func (c *Clock) Synced() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.synced
}

// Now returns the current UTC time. Before the first sync it is the system
// clock.
func (c *Clock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.synced {
		return time.Now().UTC()
	}
	return c.ref.Add(time.Since(c.anchor))
}

// Local returns Now in the configured zone.
func (c *Clock) Local() time.Time {
	return c.Now().In(c.zone)
}

// Syncer queries an NTP server and sets a Clock.
type Syncer struct {
	Server  string
	Timeout time.Duration
	Clock   *Clock

	Bus    *core.EventBus
	State  *core.State
	Logger *slog.Logger

	// query is replaced in tests.
	query func(ctx context.Context, server string) (Result, error)
}

// Sync performs one exchange and, on success, sets the clock.
func (s *Syncer) Sync(ctx context.Context) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	q := s.query
	if q == nil {
		q = Query
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	qctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := q(qctx, s.Server)
	if err != nil {
		logger.Warn("time sync failed", "server", s.Server, "error", err)
		return fmt.Errorf("sync with %s: %w", s.Server, err)
	}

	s.Clock.Set(res.Time)
	logger.Info("clock synchronised",
		"server", s.Server,
		"offset", res.Offset,
		"rtt", res.RTT,
		"stratum", res.Stratum,
		"local", s.Clock.Local().Format(time.RFC3339),
	)
	if s.State != nil {
		s.State.SetSync(res.Time, res.Offset)
	}
	if s.Bus != nil {
		s.Bus.Publish(core.Event{Type: core.ClockSyncedEvent, Payload: res})
	}
	return nil
}
