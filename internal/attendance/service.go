package attendance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"smart-roll-call/internal/radio"
)

// ErrNoMatch means the MAC belongs to no student with a class in session.
var ErrNoMatch = errors.New("student not found or no active class")

// ErrInvalidMAC is returned for a malformed MAC address.
var ErrInvalidMAC = errors.New("invalid MAC address")

// ServiceConfig configures a Service.
type ServiceConfig struct {
	// UTCOffset converts UTC to the campus' local time.
	UTCOffset time.Duration
	// VerificationTTL is how long a student has to confirm.
	VerificationTTL time.Duration
	Now             func() time.Time
	Logger          *slog.Logger
}

// Service implements the attendance rules on top of a Store.
type Service struct {
	store  *Store
	zone   *time.Location
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// NewService creates a service.
func NewService(store *Store, cfg ServiceConfig) *Service {
	if cfg.VerificationTTL <= 0 {
		cfg.VerificationTTL = 5 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		store:  store,
		zone:   time.FixedZone("campus", int(cfg.UTCOffset/time.Second)),
		ttl:    cfg.VerificationTTL,
		now:    cfg.Now,
		logger: cfg.Logger,
	}
}

// Now returns the current time in campus local time.
func (s *Service) Now() time.Time {
	return s.now().In(s.zone)
}

// TTL is how long a new verification stays pending.
func (s *Service) TTL() time.Duration {
	return s.ttl
}

// Match is a student with a class in session.
type Match struct {
	Student  Student
	Batch    Batch
	Schedule Schedule
}

// FindCurrentSchedule returns the batch's active schedule covering now, or
// nil when no class is in session. Weekday and HH:MM are taken in campus
// local time; both bounds are inclusive.
func (s *Service) FindCurrentSchedule(ctx context.Context, batchID string, now time.Time) (*Schedule, error) {
	local := now.In(s.zone)
	day := local.Weekday().String()
	hhmm := local.Format("15:04")

	schedules, err := s.store.activeSchedules(ctx, batchID, day)
	if err != nil {
		return nil, err
	}
	for _, sc := range schedules {
		if sc.StartTime <= hhmm && hhmm <= sc.EndTime {
			s.logger.Debug("active schedule found",
				"batch", batchID,
				"schedule", sc.ID,
				"start", sc.StartTime,
				"end", sc.EndTime,
			)
			return &sc, nil
		}
	}
	s.logger.Debug("no active schedule", "batch", batchID, "day", day, "time", hhmm)
	return nil, nil
}

// FindStudentByMAC searches every batch for a student registered with mac
// whose batch has a class in session. It returns nil when there is none.
func (s *Service) FindStudentByMAC(ctx context.Context, mac string, now time.Time) (*Match, error) {
	norm, ok := radio.NormalizeMAC(mac)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMAC, mac)
	}

	candidates, err := s.store.studentsByMAC(ctx, norm)
	if err != nil {
		return nil, err
	}
	for _, c := range candidates {
		sc, err := s.FindCurrentSchedule(ctx, c.Batch.ID, now)
		if err != nil {
			return nil, err
		}
		if sc == nil {
			s.logger.Debug("student found but no active class", "mac", norm, "batch", c.Batch.ID)
			continue
		}
		return &Match{Student: c.Student, Batch: c.Batch, Schedule: *sc}, nil
	}
	return nil, nil
}

// CreatePendingVerification records that m was detected at now. A second
// detection for the same enrollment and schedule on the same local day
// returns the existing verification instead of creating another.
func (s *Service) CreatePendingVerification(ctx context.Context, m *Match, now time.Time) (string, bool, error) {
	local := now.In(s.zone)
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.zone)
	dayEnd := dayStart.AddDate(0, 0, 1)

	v := Verification{
		ID:                uuid.NewString(),
		StudentID:         m.Student.ID,
		StudentName:       orDefault(m.Student.Name, "Unknown"),
		StudentEnrollment: orDefault(m.Student.Enrollment, "Unknown"),
		BatchID:           m.Batch.ID,
		CourseName:        orDefault(m.Batch.Name, "Unknown Course"),
		ScheduleID:        m.Schedule.ID,
		ProfessorID:       m.Batch.ProfessorID,
		ProfessorName:     orDefault(m.Batch.ProfessorName, "Unknown Professor"),
		MACAddress:        m.Student.MACAddress,
		DetectedAt:        now,
		ExpiresAt:         now.Add(s.ttl),
		Status:            StatusPending,
	}

	id, created, err := s.store.createPending(ctx, v, dayStart, dayEnd)
	if err != nil {
		return "", false, err
	}
	if created {
		s.logger.Info("pending verification created", "id", id, "student", v.StudentName, "enrollment", v.StudentEnrollment)
	} else {
		s.logger.Info("pending verification already exists", "id", id, "enrollment", v.StudentEnrollment)
	}
	return id, created, nil
}

// Result is the outcome of MarkAttendance.
type Result struct {
	VerificationID string
	Created        bool
	Match          Match
}

// MarkAttendance resolves mac to a student in class and records a pending
// verification. It returns ErrNoMatch when nobody matches.
func (s *Service) MarkAttendance(ctx context.Context, mac string) (*Result, error) {
	now := s.now()
	m, err := s.FindStudentByMAC(ctx, mac, now)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, ErrNoMatch
	}
	id, created, err := s.CreatePendingVerification(ctx, m, now)
	if err != nil {
		return nil, err
	}
	return &Result{VerificationID: id, Created: created, Match: *m}, nil
}

// CleanupExpired marks every pending verification that expired before now.
func (s *Service) CleanupExpired(ctx context.Context, now time.Time) (int, error) {
	n, err := s.store.expirePending(ctx, now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("expired pending verifications", "count", n)
	}
	return n, nil
}

// Sweep runs CleanupExpired at the current time; it is the scheduled job.
func (s *Service) Sweep(ctx context.Context) {
	if _, err := s.CleanupExpired(ctx, s.now()); err != nil {
		s.logger.Error("expiry sweep failed", "error", err)
	}
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
