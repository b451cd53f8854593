package report

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"smart-roll-call/internal/core"
	"smart-roll-call/internal/httpkit"
)

type fakeServer struct {
	mu       sync.Mutex
	requests []Request
	statuses []int // consumed in order; last one repeats
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req Request
	_ = json.NewDecoder(r.Body).Decode(&req)

	f.mu.Lock()
	f.requests = append(f.requests, req)
	status := f.statuses[0]
	if len(f.statuses) > 1 {
		f.statuses = f.statuses[1:]
	}
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	switch status {
	case http.StatusOK:
		json.NewEncoder(w).Encode(Response{
			Success:        true,
			Message:        "Pending verification created",
			VerificationID: "v-1",
			StudentName:    "Asha",
			ExpiresIn:      300,
		})
	case http.StatusNotFound:
		json.NewEncoder(w).Encode(Response{Error: "Student not found or no active class"})
	default:
		json.NewEncoder(w).Encode(Response{Error: "boom", Message: "Internal server error"})
	}
}

func (f *fakeServer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func newTestReporter(t *testing.T, url string, bus *core.EventBus, state *core.State) *Reporter {
	t.Helper()
	r, err := New(Config{
		ServerURL:   url,
		DeviceID:    "Smart_Roll_Call_ESP32",
		RateLimit:   1000,
		RateBurst:   10,
		QueueSize:   4,
		MaxAttempts: 3,
		RetryDelay:  5 * time.Millisecond,
		Bus:         bus,
		State:       state,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func TestNew_RejectsBadURL(t *testing.T) {
	for _, u := range []string{"", "not a url", "ftp://host/x", "/api/mark-attendance"} {
		if _, err := New(Config{ServerURL: u}); err == nil {
			t.Errorf("New(%q) succeeded, want error", u)
		}
	}
}

func TestSend_Success(t *testing.T) {
	fs := &fakeServer{statuses: []int{http.StatusOK}}
	srv := httptest.NewServer(fs)
	defer srv.Close()

	r := newTestReporter(t, srv.URL+"/api/mark-attendance", nil, nil)
	at := time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)
	resp, err := r.Send(context.Background(), "AA:BB:CC:DD:EE:FF", at)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.VerificationID != "v-1" || resp.StudentName != "Asha" {
		t.Errorf("response = %+v", resp)
	}
	got := fs.requests[0]
	if got.MACAddress != "AA:BB:CC:DD:EE:FF" || got.DeviceID != "Smart_Roll_Call_ESP32" || got.DetectedAt != "2026-03-02T09:15:00Z" {
		t.Errorf("request body = %+v", got)
	}
}

func TestSend_NotFoundIsRejected(t *testing.T) {
	srv := httptest.NewServer(&fakeServer{statuses: []int{http.StatusNotFound}})
	defer srv.Close()

	r := newTestReporter(t, srv.URL, nil, nil)
	_, err := r.Send(context.Background(), "AA:BB:CC:DD:EE:FF", time.Time{})
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("err = %v, want ErrRejected", err)
	}
}

func TestDeliver_RetriesThenSucceeds(t *testing.T) {
	fs := &fakeServer{statuses: []int{http.StatusInternalServerError, http.StatusOK}}
	srv := httptest.NewServer(fs)
	defer srv.Close()

	bus := core.NewEventBus()
	sub := bus.Subscribe(core.ReportDeliveredEvent)
	state := core.NewState()
	r := newTestReporter(t, srv.URL, bus, state)

	r.deliver(context.Background(), job{mac: "AA:BB:CC:DD:EE:FF", detectedAt: time.Now()})

	if fs.count() != 2 {
		t.Errorf("server saw %d requests, want 2", fs.count())
	}
	select {
	case ev := <-sub:
		if pl := ev.Payload.(core.ReportPayload); pl.Attempts != 2 || pl.VerificationID != "v-1" {
			t.Errorf("payload = %+v", pl)
		}
	default:
		t.Error("no ReportDelivered event")
	}
	if s := state.Clone(); s.Delivered != 1 {
		t.Errorf("Delivered = %d, want 1", s.Delivered)
	}
}

func TestDeliver_RejectionNotRetried(t *testing.T) {
	fs := &fakeServer{statuses: []int{http.StatusNotFound}}
	srv := httptest.NewServer(fs)
	defer srv.Close()

	state := core.NewState()
	r := newTestReporter(t, srv.URL, nil, state)
	r.deliver(context.Background(), job{mac: "AA:BB:CC:DD:EE:FF"})

	if fs.count() != 1 {
		t.Errorf("server saw %d requests, want 1", fs.count())
	}
	if s := state.Clone(); s.Rejected != 1 || s.Failed != 0 {
		t.Errorf("state = %+v", s)
	}
}

func TestDeliver_GivesUpAfterMaxAttempts(t *testing.T) {
	fs := &fakeServer{statuses: []int{http.StatusBadGateway}}
	srv := httptest.NewServer(fs)
	defer srv.Close()

	bus := core.NewEventBus()
	sub := bus.Subscribe(core.ReportFailedEvent)
	state := core.NewState()
	r := newTestReporter(t, srv.URL, bus, state)
	r.deliver(context.Background(), job{mac: "AA:BB:CC:DD:EE:FF"})

	if fs.count() != 3 {
		t.Errorf("server saw %d requests, want 3", fs.count())
	}
	if s := state.Clone(); s.Failed != 1 {
		t.Errorf("Failed = %d, want 1", s.Failed)
	}
	select {
	case ev := <-sub:
		if pl := ev.Payload.(core.ReportPayload); pl.Attempts != 3 || pl.Error == "" {
			t.Errorf("payload = %+v", pl)
		}
	default:
		t.Error("no ReportFailed event")
	}
}

func TestReport_QueueFullDrops(t *testing.T) {
	r := newTestReporter(t, "http://127.0.0.1:1/x", nil, nil)
	for i := 0; i < 4; i++ {
		if !r.Report("AA:BB:CC:DD:EE:FF", time.Now()) {
			t.Fatalf("report %d dropped before queue was full", i)
		}
	}
	if r.Report("AA:BB:CC:DD:EE:FF", time.Now()) {
		t.Error("report accepted past queue capacity")
	}
	if r.Pending() != 4 {
		t.Errorf("Pending() = %d, want 4", r.Pending())
	}
}

func TestStart_DrainsQueue(t *testing.T) {
	fs := &fakeServer{statuses: []int{http.StatusOK}}
	srv := httptest.NewServer(fs)
	defer srv.Close()

	r := newTestReporter(t, srv.URL, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Start(ctx)

	r.Report("AA:BB:CC:DD:EE:01", time.Now())
	r.Report("AA:BB:CC:DD:EE:02", time.Now())

	deadline := time.Now().Add(2 * time.Second)
	for fs.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if fs.count() != 2 {
		t.Errorf("server saw %d requests, want 2", fs.count())
	}
}

// The template server URL names a host that does not resolve; nothing is
// ever delivered to it.
func TestSend_PlaceholderHostNeverDelivered(t *testing.T) {
	tr := httpkit.NewTransport()
	resolver := &net.Resolver{
		PreferGo: true,
		Dial: func(context.Context, string, string) (net.Conn, error) {
			return nil, errors.New("no DNS on the test network")
		},
	}
	tr.DialContext = (&net.Dialer{Timeout: time.Second, Resolver: resolver}).DialContext

	state := core.NewState()
	r, err := New(Config{
		ServerURL:   "http://YOUR_VM_IP:5000/api/mark-attendance",
		MaxAttempts: 1,
		Client:      httpkit.NewClient(httpkit.WithTransport(tr), httpkit.WithTimeout(2*time.Second)),
		State:       state,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := r.Send(ctx, "AA:BB:CC:DD:EE:FF", time.Now()); err == nil || errors.Is(err, ErrRejected) {
		t.Fatalf("Send to placeholder host: err = %v, want transport error", err)
	}

	r.deliver(ctx, job{mac: "AA:BB:CC:DD:EE:FF"})
	if s := state.Clone(); s.Delivered != 0 || s.Failed != 1 {
		t.Errorf("state = %+v, want one failure and no deliveries", s)
	}
}
