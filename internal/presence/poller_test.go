package presence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"smart-roll-call/internal/core"
	"smart-roll-call/internal/lua"
	"smart-roll-call/internal/radio"
)

type mockLister struct {
	mu    sync.Mutex
	table []radio.Association
	err   error
}

func (m *mockLister) Associations(_ context.Context) ([]radio.Association, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	cp := make([]radio.Association, len(m.table))
	copy(cp, m.table)
	return cp, nil
}

func (m *mockLister) set(macs ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = nil
	m.table = nil
	for _, mac := range macs {
		m.table = append(m.table, radio.Association{MAC: mac, Signal: -50})
	}
}

func (m *mockLister) fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

type mockReporter struct {
	mu     sync.Mutex
	macs   []string
	refuse bool
}

func (m *mockReporter) Report(mac string, _ time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refuse {
		return false
	}
	m.macs = append(m.macs, mac)
	return true
}

func (m *mockReporter) reported() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]string, len(m.macs))
	copy(cp, m.macs)
	return cp
}

type denyFilter struct{ deny string }

func (f denyFilter) Allow(_ context.Context, mac string, _ lua.ClientInfo) bool {
	return mac != f.deny
}

// switchFilter vetoes every client until allow is set.
type switchFilter struct {
	mu    sync.Mutex
	allow bool
}

func (f *switchFilter) Allow(context.Context, string, lua.ClientInfo) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.allow
}

func (f *switchFilter) set(allow bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allow = allow
}

const (
	macA = "AA:BB:CC:00:00:01"
	macB = "AA:BB:CC:00:00:02"
)

func newTestPoller(t *testing.T, lister Lister, rep Reporter, f Filter) (*Poller, *core.EventBus, *core.State) {
	t.Helper()
	bus := core.NewEventBus()
	state := core.NewState()
	p, err := NewPoller(PollerConfig{
		Lister:   lister,
		Reporter: rep,
		Interval: time.Hour,
		DedupTTL: 10 * time.Minute,
		DedupCap: 16,
		Filter:   f,
		Bus:      bus,
		State:    state,
	})
	if err != nil {
		t.Fatalf("NewPoller: %v", err)
	}
	return p, bus, state
}

func TestNewPoller_RejectsNonPositiveInterval(t *testing.T) {
	for _, d := range []time.Duration{0, -time.Second} {
		_, err := NewPoller(PollerConfig{Lister: &mockLister{}, Interval: d})
		if !errors.Is(err, ErrInvalidInterval) {
			t.Errorf("interval %s: err = %v, want ErrInvalidInterval", d, err)
		}
	}
}

func TestPoller_JoinReportsOnce(t *testing.T) {
	lister := &mockLister{}
	rep := &mockReporter{}
	p, _, state := newTestPoller(t, lister, rep, nil)

	lister.set(macA)
	p.Poll(context.Background())
	p.Poll(context.Background())

	got := rep.reported()
	if len(got) != 1 || got[0] != macA {
		t.Fatalf("reported = %v, want [%s]", got, macA)
	}
	snap := state.Clone()
	if snap.Clients != 1 || snap.LastJoin != macA {
		t.Errorf("state = %+v", snap)
	}
}

func TestPoller_RejoinWithinTTLSuppressed(t *testing.T) {
	lister := &mockLister{}
	rep := &mockReporter{}
	p, _, _ := newTestPoller(t, lister, rep, nil)

	lister.set(macA)
	p.Poll(context.Background())
	lister.set()
	p.Poll(context.Background())
	lister.set(macA)
	p.Poll(context.Background())

	if got := rep.reported(); len(got) != 1 {
		t.Errorf("reported = %v, want a single report", got)
	}
}

func TestPoller_EventsPublished(t *testing.T) {
	lister := &mockLister{}
	p, bus, _ := newTestPoller(t, lister, &mockReporter{}, nil)
	sub := bus.Subscribe(core.ClientJoinedEvent, core.ClientLeftEvent)

	lister.set(macA, macB)
	p.Poll(context.Background())
	lister.set(macB)
	p.Poll(context.Background())

	var joined, left int
	for i := 0; i < 3; i++ {
		select {
		case ev := <-sub:
			switch ev.Type {
			case core.ClientJoinedEvent:
				joined++
			case core.ClientLeftEvent:
				left++
				if pl := ev.Payload.(core.ClientPayload); pl.MAC != macA || pl.Count != 1 {
					t.Errorf("left payload = %+v", pl)
				}
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for events")
		}
	}
	if joined != 2 || left != 1 {
		t.Errorf("joined=%d left=%d, want 2 and 1", joined, left)
	}
}

func TestPoller_ErrorKeepsPreviousTable(t *testing.T) {
	lister := &mockLister{}
	rep := &mockReporter{}
	p, _, _ := newTestPoller(t, lister, rep, nil)

	lister.set(macA)
	p.Poll(context.Background())
	lister.fail(errors.New("iw: device busy"))
	p.Poll(context.Background())

	if got := p.Clients(); len(got) != 1 || got[0] != macA {
		t.Errorf("Clients() = %v after failed poll, want [%s]", got, macA)
	}
}

func TestPoller_FilterVetoes(t *testing.T) {
	lister := &mockLister{}
	rep := &mockReporter{}
	p, _, _ := newTestPoller(t, lister, rep, denyFilter{deny: macA})

	lister.set(macA, macB)
	p.Poll(context.Background())

	got := rep.reported()
	if len(got) != 1 || got[0] != macB {
		t.Errorf("reported = %v, want [%s]", got, macB)
	}
}

func TestPoller_VetoedClientReportedOnNextJoin(t *testing.T) {
	lister := &mockLister{}
	rep := &mockReporter{}
	f := &switchFilter{}
	p, _, _ := newTestPoller(t, lister, rep, f)

	lister.set(macA)
	p.Poll(context.Background())
	if got := rep.reported(); len(got) != 0 {
		t.Fatalf("vetoed client reported: %v", got)
	}

	f.set(true)
	lister.set()
	p.Poll(context.Background())
	lister.set(macA)
	p.Poll(context.Background())

	if got := rep.reported(); len(got) != 1 || got[0] != macA {
		t.Errorf("reported = %v, want [%s] once the filter allows it", got, macA)
	}
}

func TestPoller_DroppedReportRetriedOnNextJoin(t *testing.T) {
	lister := &mockLister{}
	rep := &mockReporter{refuse: true}
	p, _, _ := newTestPoller(t, lister, rep, nil)

	lister.set(macA)
	p.Poll(context.Background())

	rep.mu.Lock()
	rep.refuse = false
	rep.mu.Unlock()

	lister.set()
	p.Poll(context.Background())
	lister.set(macA)
	p.Poll(context.Background())

	if got := rep.reported(); len(got) != 1 {
		t.Errorf("reported = %v, want one report after queue recovered", got)
	}
}

func TestPoller_StartPollsImmediately(t *testing.T) {
	lister := &mockLister{}
	lister.set(macA)
	rep := &mockReporter{}
	p, _, _ := newTestPoller(t, lister, rep, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for len(rep.reported()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if len(rep.reported()) != 1 {
		t.Error("Start did not poll before the first tick")
	}
}
