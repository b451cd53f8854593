// Package attendance is the server side of the system: it keeps the class
// roster, matches reported MAC addresses to students with a class in
// session, and records pending verifications for the student app to
// confirm.
package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Verification statuses.
const (
	StatusPending = "pending"
	StatusExpired = "expired"
)

// Batch is a class group taught by one professor.
type Batch struct {
	ID            string `yaml:"id" json:"id"`
	Name          string `yaml:"name" json:"name"`
	ProfessorID   string `yaml:"professor_id" json:"professorId"`
	ProfessorName string `yaml:"professor_name" json:"professorName"`
}

// Student belongs to one batch and is identified on the network by MAC.
type Student struct {
	ID         string `yaml:"id" json:"id"`
	BatchID    string `yaml:"-" json:"batchId"`
	Name       string `yaml:"name" json:"name"`
	Enrollment string `yaml:"enrollment" json:"enrollment"`
	MACAddress string `yaml:"mac_address" json:"macAddress"`
}

// Schedule is a weekly class slot. Times are "HH:MM" in server local time.
type Schedule struct {
	ID        string `yaml:"id" json:"id"`
	BatchID   string `yaml:"-" json:"batchId"`
	DayOfWeek string `yaml:"day_of_week" json:"dayOfWeek"`
	StartTime string `yaml:"start_time" json:"startTime"`
	EndTime   string `yaml:"end_time" json:"endTime"`
	IsActive  bool   `yaml:"is_active" json:"isActive"`
}

// Verification is a pending (or resolved) attendance record.
type Verification struct {
	ID                string
	StudentID         string
	StudentName       string
	StudentEnrollment string
	BatchID           string
	CourseName        string
	ScheduleID        string
	ProfessorID       string
	ProfessorName     string
	MACAddress        string
	DetectedAt        time.Time
	ExpiresAt         time.Time
	Status            string
	VerifiedAt        *time.Time
	ExpiredAt         *time.Time
}

// Store is the roster and verification database. All methods are safe
// for concurrent use.
type Store struct {
	db *sql.DB
}

// NewStore opens (creating if needed) the SQLite database at path.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection serialises the check-then-insert in
	// CreatePendingVerification.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS batches (
		id             TEXT PRIMARY KEY,
		name           TEXT NOT NULL,
		professor_id   TEXT NOT NULL DEFAULT '',
		professor_name TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS students (
		id          TEXT NOT NULL,
		batch_id    TEXT NOT NULL REFERENCES batches(id) ON DELETE CASCADE,
		name        TEXT NOT NULL,
		enrollment  TEXT NOT NULL,
		mac_address TEXT NOT NULL,
		PRIMARY KEY (batch_id, id)
	);
	CREATE INDEX IF NOT EXISTS idx_students_mac ON students(mac_address);

	CREATE TABLE IF NOT EXISTS schedules (
		id          TEXT NOT NULL,
		batch_id    TEXT NOT NULL REFERENCES batches(id) ON DELETE CASCADE,
		day_of_week TEXT NOT NULL,
		start_time  TEXT NOT NULL,
		end_time    TEXT NOT NULL,
		is_active   INTEGER NOT NULL DEFAULT 1,
		PRIMARY KEY (batch_id, id)
	);

	CREATE TABLE IF NOT EXISTS pending_verifications (
		id                 TEXT PRIMARY KEY,
		student_id         TEXT NOT NULL,
		student_name       TEXT NOT NULL,
		student_enrollment TEXT NOT NULL,
		batch_id           TEXT NOT NULL,
		course_name        TEXT NOT NULL,
		schedule_id        TEXT NOT NULL,
		professor_id       TEXT NOT NULL,
		professor_name     TEXT NOT NULL,
		mac_address        TEXT NOT NULL,
		detected_at        TEXT NOT NULL,
		expires_at         TEXT NOT NULL,
		status             TEXT NOT NULL DEFAULT 'pending',
		verified_at        TEXT,
		expired_at         TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_pending_lookup
		ON pending_verifications(student_enrollment, schedule_id, status);
	CREATE INDEX IF NOT EXISTS idx_pending_expiry
		ON pending_verifications(status, expires_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// UpsertBatch inserts or replaces a batch.
func (s *Store) UpsertBatch(ctx context.Context, b Batch) error {
	return upsertBatch(ctx, s.db, b)
}

// UpsertStudent inserts or replaces a student. The MAC is stored as given;
// callers normalise it.
func (s *Store) UpsertStudent(ctx context.Context, st Student) error {
	return upsertStudent(ctx, s.db, st)
}

// UpsertSchedule inserts or replaces a schedule.
func (s *Store) UpsertSchedule(ctx context.Context, sc Schedule) error {
	return upsertSchedule(ctx, s.db, sc)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertBatch(ctx context.Context, db execer, b Batch) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO batches (id, name, professor_id, professor_name)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE
		 SET name = excluded.name,
		     professor_id = excluded.professor_id,
		     professor_name = excluded.professor_name`,
		b.ID, b.Name, b.ProfessorID, b.ProfessorName,
	)
	if err != nil {
		return fmt.Errorf("upsert batch %s: %w", b.ID, err)
	}
	return nil
}

func upsertStudent(ctx context.Context, db execer, st Student) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO students (id, batch_id, name, enrollment, mac_address)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (batch_id, id) DO UPDATE
		 SET name = excluded.name,
		     enrollment = excluded.enrollment,
		     mac_address = excluded.mac_address`,
		st.ID, st.BatchID, st.Name, st.Enrollment, st.MACAddress,
	)
	if err != nil {
		return fmt.Errorf("upsert student %s/%s: %w", st.BatchID, st.ID, err)
	}
	return nil
}

func upsertSchedule(ctx context.Context, db execer, sc Schedule) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO schedules (id, batch_id, day_of_week, start_time, end_time, is_active)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (batch_id, id) DO UPDATE
		 SET day_of_week = excluded.day_of_week,
		     start_time = excluded.start_time,
		     end_time = excluded.end_time,
		     is_active = excluded.is_active`,
		sc.ID, sc.BatchID, sc.DayOfWeek, sc.StartTime, sc.EndTime, sc.IsActive,
	)
	if err != nil {
		return fmt.Errorf("upsert schedule %s/%s: %w", sc.BatchID, sc.ID, err)
	}
	return nil
}

// studentMatch is a student joined with its batch.
type studentMatch struct {
	Student Student
	Batch   Batch
}

// studentsByMAC returns every student registered with mac, in batch order.
func (s *Store) studentsByMAC(ctx context.Context, mac string) ([]studentMatch, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.id, s.batch_id, s.name, s.enrollment, s.mac_address,
		        b.id, b.name, b.professor_id, b.professor_name
		 FROM students s JOIN batches b ON b.id = s.batch_id
		 WHERE s.mac_address = ?
		 ORDER BY b.id, s.id`,
		mac,
	)
	if err != nil {
		return nil, fmt.Errorf("query students by mac: %w", err)
	}
	defer rows.Close()

	var out []studentMatch
	for rows.Next() {
		var m studentMatch
		if err := rows.Scan(
			&m.Student.ID, &m.Student.BatchID, &m.Student.Name, &m.Student.Enrollment, &m.Student.MACAddress,
			&m.Batch.ID, &m.Batch.Name, &m.Batch.ProfessorID, &m.Batch.ProfessorName,
		); err != nil {
			return nil, fmt.Errorf("scan student: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// activeSchedules returns the active schedules of a batch on day.
func (s *Store) activeSchedules(ctx context.Context, batchID, day string) ([]Schedule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, batch_id, day_of_week, start_time, end_time, is_active
		 FROM schedules
		 WHERE batch_id = ? AND day_of_week = ? AND is_active = 1
		 ORDER BY start_time, id`,
		batchID, day,
	)
	if err != nil {
		return nil, fmt.Errorf("query schedules: %w", err)
	}
	defer rows.Close()

	var out []Schedule
	for rows.Next() {
		var sc Schedule
		if err := rows.Scan(&sc.ID, &sc.BatchID, &sc.DayOfWeek, &sc.StartTime, &sc.EndTime, &sc.IsActive); err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// createPending inserts v unless a pending verification for the same
// enrollment and schedule was detected on the same local day (dayStart
// inclusive to dayEnd exclusive). It returns the ID of the row that
// represents the detection and whether it was newly created.
func (s *Store) createPending(ctx context.Context, v Verification, dayStart, dayEnd time.Time) (string, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var existing string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM pending_verifications
		 WHERE student_enrollment = ? AND schedule_id = ? AND status = ?
		   AND detected_at >= ? AND detected_at < ?
		 ORDER BY detected_at LIMIT 1`,
		v.StudentEnrollment, v.ScheduleID, StatusPending,
		formatTime(dayStart), formatTime(dayEnd),
	).Scan(&existing)
	switch {
	case err == nil:
		return existing, false, nil
	case !errors.Is(err, sql.ErrNoRows):
		return "", false, fmt.Errorf("find existing verification: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO pending_verifications (
			id, student_id, student_name, student_enrollment, batch_id, course_name,
			schedule_id, professor_id, professor_name, mac_address,
			detected_at, expires_at, status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.StudentID, v.StudentName, v.StudentEnrollment, v.BatchID, v.CourseName,
		v.ScheduleID, v.ProfessorID, v.ProfessorName, v.MACAddress,
		formatTime(v.DetectedAt), formatTime(v.ExpiresAt), StatusPending,
	)
	if err != nil {
		return "", false, fmt.Errorf("insert verification: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", false, fmt.Errorf("commit: %w", err)
	}
	return v.ID, true, nil
}

// expirePending marks every pending row whose expiry is before now.
func (s *Store) expirePending(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pending_verifications
		 SET status = ?, expired_at = ?
		 WHERE status = ? AND expires_at < ?`,
		StatusExpired, formatTime(now), StatusPending, formatTime(now),
	)
	if err != nil {
		return 0, fmt.Errorf("expire verifications: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

// Verification loads one verification by ID. It returns nil, nil when the
// ID is unknown.
func (s *Store) Verification(ctx context.Context, id string) (*Verification, error) {
	var (
		v                     Verification
		detected, expires     string
		verifiedAt, expiredAt sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, student_id, student_name, student_enrollment, batch_id, course_name,
		        schedule_id, professor_id, professor_name, mac_address,
		        detected_at, expires_at, status, verified_at, expired_at
		 FROM pending_verifications WHERE id = ?`,
		id,
	).Scan(
		&v.ID, &v.StudentID, &v.StudentName, &v.StudentEnrollment, &v.BatchID, &v.CourseName,
		&v.ScheduleID, &v.ProfessorID, &v.ProfessorName, &v.MACAddress,
		&detected, &expires, &v.Status, &verifiedAt, &expiredAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get verification %s: %w", id, err)
	}

	if v.DetectedAt, err = parseTime(detected); err != nil {
		return nil, err
	}
	if v.ExpiresAt, err = parseTime(expires); err != nil {
		return nil, err
	}
	if v.VerifiedAt, err = parseNullTime(verifiedAt); err != nil {
		return nil, err
	}
	if v.ExpiredAt, err = parseNullTime(expiredAt); err != nil {
		return nil, err
	}
	return &v, nil
}

// Timestamps are stored as fixed-width UTC text so lexical order matches
// chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
	}
	return t, nil
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
