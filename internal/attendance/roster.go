package attendance

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"smart-roll-call/internal/radio"
)

// Roster is the YAML import format.
//
//	batches:
//	  - id: cs240-a
//	    name: Data Structures
//	    professor_id: prof-1
//	    professor_name: Dr. Rao
//	    students:
//	      - id: s1
//	        name: Asha
//	        enrollment: "21CS001"
//	        mac_address: aa:bb:cc:dd:ee:ff
//	    schedules:
//	      - id: mon-1
//	        day_of_week: Monday
//	        start_time: "09:00"
//	        end_time: "10:00"
//	        is_active: true
type Roster struct {
	Batches []RosterBatch `yaml:"batches"`
}

// RosterBatch is one batch with its students and schedules.
type RosterBatch struct {
	Batch     `yaml:",inline"`
	Students  []Student  `yaml:"students"`
	Schedules []Schedule `yaml:"schedules"`
}

// ImportStats counts what ImportRoster wrote.
type ImportStats struct {
	Batches   int
	Students  int
	Schedules int
}

var hhmm = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

// LoadRoster reads and validates a roster file. MAC addresses are
// normalised to upper-case colon form.
func LoadRoster(path string) (*Roster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}
	return ParseRoster(data)
}

// ParseRoster decodes and validates roster YAML.
func ParseRoster(data []byte) (*Roster, error) {
	var r Roster
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode roster: %w", err)
	}
	if err := r.normalize(); err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *Roster) normalize() error {
	var errs []error
	for bi := range r.Batches {
		b := &r.Batches[bi]
		if b.ID == "" {
			errs = append(errs, fmt.Errorf("batch #%d: id is required", bi+1))
			continue
		}
		for si := range b.Students {
			st := &b.Students[si]
			st.BatchID = b.ID
			if st.ID == "" {
				errs = append(errs, fmt.Errorf("batch %s student #%d: id is required", b.ID, si+1))
			}
			mac, ok := radio.NormalizeMAC(st.MACAddress)
			if !ok {
				errs = append(errs, fmt.Errorf("batch %s student %s: invalid mac_address %q", b.ID, st.ID, st.MACAddress))
				continue
			}
			st.MACAddress = mac
		}
		for si := range b.Schedules {
			sc := &b.Schedules[si]
			sc.BatchID = b.ID
			if sc.ID == "" {
				errs = append(errs, fmt.Errorf("batch %s schedule #%d: id is required", b.ID, si+1))
			}
			if !validWeekday(sc.DayOfWeek) {
				errs = append(errs, fmt.Errorf("batch %s schedule %s: invalid day_of_week %q", b.ID, sc.ID, sc.DayOfWeek))
			}
			if !hhmm.MatchString(sc.StartTime) || !hhmm.MatchString(sc.EndTime) {
				errs = append(errs, fmt.Errorf("batch %s schedule %s: times must be HH:MM", b.ID, sc.ID))
			} else if sc.EndTime < sc.StartTime {
				errs = append(errs, fmt.Errorf("batch %s schedule %s: end_time before start_time", b.ID, sc.ID))
			}
		}
	}
	return errors.Join(errs...)
}

// UnmarshalYAML makes is_active default to true when omitted.
func (sc *Schedule) UnmarshalYAML(value *yaml.Node) error {
	type plain Schedule
	p := plain{IsActive: true}
	if err := value.Decode(&p); err != nil {
		return err
	}
	*sc = Schedule(p)
	return nil
}

func validWeekday(s string) bool {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if d.String() == s {
			return true
		}
	}
	return false
}

// ImportRoster upserts every batch, student and schedule in one
// transaction.
func (s *Store) ImportRoster(ctx context.Context, r *Roster) (ImportStats, error) {
	var stats ImportStats

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return stats, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, b := range r.Batches {
		if err := upsertBatch(ctx, tx, b.Batch); err != nil {
			return ImportStats{}, err
		}
		stats.Batches++
		for _, st := range b.Students {
			if err := upsertStudent(ctx, tx, st); err != nil {
				return ImportStats{}, err
			}
			stats.Students++
		}
		for _, sc := range b.Schedules {
			if err := upsertSchedule(ctx, tx, sc); err != nil {
				return ImportStats{}, err
			}
			stats.Schedules++
		}
	}

	if err := tx.Commit(); err != nil {
		return ImportStats{}, fmt.Errorf("commit: %w", err)
	}
	return stats, nil
}
