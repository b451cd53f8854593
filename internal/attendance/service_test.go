package attendance

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

const testRoster = `
batches:
  - id: cs240-a
    name: Data Structures
    professor_id: prof-1
    professor_name: Dr. Rao
    students:
      - id: s1
        name: Asha
        enrollment: "21CS001"
        mac_address: aa-bb-cc-dd-ee-01
      - id: s2
        name: Vikram
        enrollment: "21CS002"
        mac_address: AABBCCDDEE02
    schedules:
      - id: mon-am
        day_of_week: Monday
        start_time: "09:00"
        end_time: "10:00"
        is_active: true
      - id: mon-pm
        day_of_week: Monday
        start_time: "14:00"
        end_time: "15:00"
        is_active: false
  - id: ph101
    name: ""
    students:
      - id: s3
        name: ""
        enrollment: "21PH003"
        mac_address: aa:bb:cc:dd:ee:03
    schedules:
      - id: tue
        day_of_week: Tuesday
        start_time: "09:00"
        end_time: "10:00"
        is_active: true
`

// ist is UTC+05:30. 2026-10-19 is a Monday.
const ist = 5*time.Hour + 30*time.Minute

func campus(hour, min int) time.Time {
	return time.Date(2026, 10, 19, hour, min, 0, 0, time.FixedZone("IST", int(ist/time.Second)))
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T) (*Service, *Store, *fakeClock) {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "attendance.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	roster, err := ParseRoster([]byte(testRoster))
	if err != nil {
		t.Fatalf("ParseRoster: %v", err)
	}
	if _, err := store.ImportRoster(context.Background(), roster); err != nil {
		t.Fatalf("ImportRoster: %v", err)
	}

	clock := &fakeClock{t: campus(9, 30).UTC()}
	svc := NewService(store, ServiceConfig{
		UTCOffset:       ist,
		VerificationTTL: 5 * time.Minute,
		Now:             clock.Now,
		Logger:          discard(),
	})
	return svc, store, clock
}

func TestMarkAttendance(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	res, err := svc.MarkAttendance(ctx, "aa:bb:cc:dd:ee:01")
	if err != nil {
		t.Fatalf("MarkAttendance: %v", err)
	}
	if !res.Created {
		t.Error("first detection should create a verification")
	}
	if res.Match.Student.Enrollment != "21CS001" {
		t.Errorf("enrollment = %q, want 21CS001", res.Match.Student.Enrollment)
	}
	if res.Match.Schedule.ID != "mon-am" {
		t.Errorf("schedule = %q, want mon-am", res.Match.Schedule.ID)
	}

	v, err := store.Verification(ctx, res.VerificationID)
	if err != nil {
		t.Fatalf("Verification: %v", err)
	}
	if v == nil {
		t.Fatal("verification not stored")
	}
	if v.Status != StatusPending {
		t.Errorf("status = %q, want %q", v.Status, StatusPending)
	}
	if v.MACAddress != "AA:BB:CC:DD:EE:01" {
		t.Errorf("mac = %q", v.MACAddress)
	}
	if v.ProfessorName != "Dr. Rao" || v.CourseName != "Data Structures" {
		t.Errorf("professor/course = %q/%q", v.ProfessorName, v.CourseName)
	}
	if got := v.ExpiresAt.Sub(v.DetectedAt); got != 5*time.Minute {
		t.Errorf("expiry window = %v, want 5m", got)
	}
}

func TestMarkAttendanceSameDayReturnsExisting(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	first, err := svc.MarkAttendance(ctx, "AA:BB:CC:DD:EE:01")
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	clock.Set(campus(9, 45).UTC())
	second, err := svc.MarkAttendance(ctx, "aabbccddee01")
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if second.Created {
		t.Error("second detection created a new verification")
	}
	if second.VerificationID != first.VerificationID {
		t.Errorf("id = %q, want %q", second.VerificationID, first.VerificationID)
	}
}

func TestMarkAttendanceScheduleBounds(t *testing.T) {
	tests := []struct {
		name   string
		at     time.Time
		wantOK bool
	}{
		{"start inclusive", campus(9, 0), true},
		{"end inclusive", campus(10, 0), true},
		{"before class", campus(8, 59), false},
		{"after class", campus(10, 1), false},
		{"inactive slot", campus(14, 30), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, clock := newTestService(t)
			clock.Set(tt.at.UTC())
			_, err := svc.MarkAttendance(context.Background(), "AA:BB:CC:DD:EE:02")
			if tt.wantOK && err != nil {
				t.Fatalf("MarkAttendance: %v", err)
			}
			if !tt.wantOK && !errors.Is(err, ErrNoMatch) {
				t.Fatalf("err = %v, want ErrNoMatch", err)
			}
		})
	}
}

func TestMarkAttendanceUsesCampusWeekday(t *testing.T) {
	svc, _, clock := newTestService(t)
	// Monday 23:00 UTC is already Tuesday 04:30 on campus; no class then.
	clock.Set(time.Date(2026, 10, 19, 23, 0, 0, 0, time.UTC))
	if _, err := svc.MarkAttendance(context.Background(), "AA:BB:CC:DD:EE:03"); !errors.Is(err, ErrNoMatch) {
		t.Fatalf("err = %v, want ErrNoMatch", err)
	}

	// Tuesday 09:15 campus time.
	clock.Set(time.Date(2026, 10, 20, 3, 45, 0, 0, time.UTC))
	res, err := svc.MarkAttendance(context.Background(), "AA:BB:CC:DD:EE:03")
	if err != nil {
		t.Fatalf("MarkAttendance: %v", err)
	}
	if res.Match.Schedule.ID != "tue" {
		t.Errorf("schedule = %q, want tue", res.Match.Schedule.ID)
	}
}

func TestMarkAttendanceDefaults(t *testing.T) {
	svc, store, clock := newTestService(t)
	clock.Set(time.Date(2026, 10, 20, 3, 45, 0, 0, time.UTC))

	res, err := svc.MarkAttendance(context.Background(), "AA:BB:CC:DD:EE:03")
	if err != nil {
		t.Fatalf("MarkAttendance: %v", err)
	}
	v, err := store.Verification(context.Background(), res.VerificationID)
	if err != nil || v == nil {
		t.Fatalf("Verification: %v, %v", v, err)
	}
	if v.StudentName != "Unknown" {
		t.Errorf("student name = %q, want Unknown", v.StudentName)
	}
	if v.CourseName != "Unknown Course" {
		t.Errorf("course = %q, want Unknown Course", v.CourseName)
	}
	if v.ProfessorName != "Unknown Professor" {
		t.Errorf("professor = %q, want Unknown Professor", v.ProfessorName)
	}
}

func TestMarkAttendanceErrors(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.MarkAttendance(ctx, "not-a-mac"); !errors.Is(err, ErrInvalidMAC) {
		t.Errorf("malformed mac: err = %v, want ErrInvalidMAC", err)
	}
	if _, err := svc.MarkAttendance(ctx, "11:22:33:44:55:66"); !errors.Is(err, ErrNoMatch) {
		t.Errorf("unknown mac: err = %v, want ErrNoMatch", err)
	}
}

func TestCleanupExpired(t *testing.T) {
	svc, store, clock := newTestService(t)
	ctx := context.Background()

	res, err := svc.MarkAttendance(ctx, "AA:BB:CC:DD:EE:01")
	if err != nil {
		t.Fatalf("MarkAttendance: %v", err)
	}

	n, err := svc.CleanupExpired(ctx, clock.Now().Add(4*time.Minute))
	if err != nil {
		t.Fatalf("CleanupExpired: %v", err)
	}
	if n != 0 {
		t.Errorf("expired %d before TTL, want 0", n)
	}

	clock.Set(clock.Now().Add(6 * time.Minute))
	svc.Sweep(ctx)

	v, err := store.Verification(ctx, res.VerificationID)
	if err != nil || v == nil {
		t.Fatalf("Verification: %v, %v", v, err)
	}
	if v.Status != StatusExpired {
		t.Errorf("status = %q, want %q", v.Status, StatusExpired)
	}
	if v.ExpiredAt == nil {
		t.Error("ExpiredAt not set")
	}

	// An expired verification no longer blocks a new one.
	res2, err := svc.MarkAttendance(ctx, "AA:BB:CC:DD:EE:01")
	if err != nil {
		t.Fatalf("MarkAttendance after expiry: %v", err)
	}
	if !res2.Created || res2.VerificationID == res.VerificationID {
		t.Errorf("expected a fresh verification, got %+v", res2)
	}
}

func TestVerificationUnknown(t *testing.T) {
	_, store, _ := newTestService(t)
	v, err := store.Verification(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Verification: %v", err)
	}
	if v != nil {
		t.Errorf("got %+v, want nil", v)
	}
}
