// Package presence watches the access point's association table and
// reports clients as they join.
package presence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"smart-roll-call/internal/config"
	"smart-roll-call/internal/core"
	"smart-roll-call/internal/lru"
	"smart-roll-call/internal/lua"
	"smart-roll-call/internal/radio"
)

// Lister returns the stations currently associated with the AP.
type Lister interface {
	Associations(ctx context.Context) ([]radio.Association, error)
}

// Reporter accepts a newly joined client for delivery. It must not block.
type Reporter interface {
	Report(mac string, detectedAt time.Time) bool
}

// Filter can veto reporting a client.
type Filter interface {
	Allow(ctx context.Context, mac string, info lua.ClientInfo) bool
}

// PollerConfig configures the presence poller.
type PollerConfig struct {
	// Lister provides the association table.
	Lister Lister

	// Reporter receives joined clients that pass dedup and the filter.
	Reporter Reporter

	// Interval is how often the table is read. Must be positive.
	Interval time.Duration

	// DedupTTL suppresses repeat reports of the same MAC.
	DedupTTL time.Duration
	DedupCap int

	// Filter is optional.
	Filter Filter

	// Now stamps detections. Defaults to time.Now.
	Now func() time.Time

	Bus    *core.EventBus
	State  *core.State
	Logger *slog.Logger
}

// ErrInvalidInterval is returned by NewPoller for a non-positive interval.
var ErrInvalidInterval = errors.New("poll interval must be positive")

// Poller diffs consecutive association tables. A MAC present now but not
// on the previous poll has joined; one that disappeared has left.
type Poller struct {
	cfg   PollerConfig
	dedup *lru.Cache

	mu      sync.Mutex
	current map[string]radio.Association
}

// NewPoller creates a presence poller.
func NewPoller(cfg PollerConfig) (*Poller, error) {
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("%w: got %s", ErrInvalidInterval, cfg.Interval)
	}
	if cfg.Lister == nil {
		return nil, errors.New("presence poller requires a lister")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Poller{
		cfg:     cfg,
		dedup:   lru.New(cfg.DedupCap, cfg.DedupTTL),
		current: make(map[string]radio.Association),
	}, nil
}

// Start runs the polling loop until ctx is cancelled. It blocks.
func (p *Poller) Start(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	// Poll immediately on start.
	p.Poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll reads the table once and emits joins and leaves. On error the
// previous table is kept so a transient failure does not look like every
// client leaving and rejoining.
func (p *Poller) Poll(ctx context.Context) {
	list, err := p.cfg.Lister.Associations(ctx)
	if err != nil {
		p.cfg.Logger.Warn("association poll failed", "error", err)
		return
	}

	next := make(map[string]radio.Association, len(list))
	for _, a := range list {
		next[a.MAC] = a
	}
	p.cfg.Logger.Log(ctx, config.LevelTrace, "association table", "count", len(next))

	p.mu.Lock()
	var joined, left []radio.Association
	for mac, a := range next {
		if _, ok := p.current[mac]; !ok {
			joined = append(joined, a)
		}
	}
	for mac, a := range p.current {
		if _, ok := next[mac]; !ok {
			left = append(left, a)
		}
	}
	p.current = next
	p.mu.Unlock()

	sort.Slice(joined, func(i, j int) bool { return joined[i].MAC < joined[j].MAC })
	sort.Slice(left, func(i, j int) bool { return left[i].MAC < left[j].MAC })

	count := len(next)
	for _, a := range left {
		p.cfg.Logger.Info("client left", "mac", a.MAC, "clients", count)
		p.publish(core.ClientLeftEvent, core.ClientPayload{MAC: a.MAC, Count: count})
	}
	for _, a := range joined {
		p.cfg.Logger.Info("client joined", "mac", a.MAC, "signal", a.Signal, "clients", count)
		p.publish(core.ClientJoinedEvent, core.ClientPayload{MAC: a.MAC, Signal: a.Signal, Count: count})
		p.handleJoin(ctx, a)
	}

	if p.cfg.State != nil {
		last := ""
		if len(joined) > 0 {
			last = joined[len(joined)-1].MAC
		}
		p.cfg.State.SetClients(count, last)
	}
}

func (p *Poller) handleJoin(ctx context.Context, a radio.Association) {
	if p.dedup.Seen(a.MAC) {
		p.cfg.Logger.Debug("client rejoined within dedup window", "mac", a.MAC)
		return
	}

	if p.cfg.Filter != nil {
		info := lua.ClientInfo{
			Signal:              a.Signal,
			Connected:           a.Connected,
			LocallyAdministered: radio.LocallyAdministered(a.MAC),
		}
		if !p.cfg.Filter.Allow(ctx, a.MAC, info) {
			// A veto is not an attendance mark; the next join is judged afresh.
			p.dedup.Forget(a.MAC)
			return
		}
	}

	if p.cfg.Reporter == nil {
		return
	}
	if !p.cfg.Reporter.Report(a.MAC, p.cfg.Now()) {
		// Dropped by a full queue; allow a retry on the next join.
		p.dedup.Forget(a.MAC)
	}
}

// Clients returns the MACs in the last successfully read table.
func (p *Poller) Clients() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.current))
	for mac := range p.current {
		out = append(out, mac)
	}
	sort.Strings(out)
	return out
}

func (p *Poller) publish(t core.EventType, payload core.ClientPayload) {
	if p.cfg.Bus == nil {
		return
	}
	p.cfg.Bus.Publish(core.Event{Type: t, Payload: payload})
}
