package slotstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Assignment is the persistent profile of one controller slot.
type Assignment struct {
	Slot      int
	Profile   string
	UpdatedAt time.Time
}

// SaveAssignment records profile as slot's persistent profile.
func (s *Store) SaveAssignment(ctx context.Context, slot int, profile string) error {
	if slot < 1 {
		return fmt.Errorf("save assignment: invalid slot %d", slot)
	}
	profile = strings.TrimSpace(profile)
	if profile == "" {
		return errors.New("save assignment: profile is required")
	}
	_, err := s.execWithRetry(ctx,
		`INSERT INTO slot_assignments (slot, profile, updated_at) VALUES (?, ?, ?)
         ON CONFLICT(slot) DO UPDATE SET profile = excluded.profile, updated_at = excluded.updated_at`,
		slot, profile, formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("save assignment for slot %d: %w", slot, err)
	}
	return nil
}

// Assignments returns every stored assignment ordered by slot.
func (s *Store) Assignments(ctx context.Context) ([]Assignment, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT slot, profile, updated_at FROM slot_assignments ORDER BY slot`)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	defer rows.Close()

	var out []Assignment
	for rows.Next() {
		var (
			a       Assignment
			updated string
		)
		if err := rows.Scan(&a.Slot, &a.Profile, &updated); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		a.UpdatedAt = parseTime(updated)
		out = append(out, a)
	}
	return out, rows.Err()
}

// ClearAssignments removes every stored assignment.
func (s *Store) ClearAssignments(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM slot_assignments`)
	if err != nil {
		return 0, fmt.Errorf("clear assignments: %w", err)
	}
	return res.RowsAffected()
}
