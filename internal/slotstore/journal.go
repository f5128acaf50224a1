package slotstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Outcome classifies how the primary handled a journaled command.
type Outcome string

const (
	OutcomeApplied  Outcome = "applied"
	OutcomeRejected Outcome = "rejected"
	OutcomeDropped  Outcome = "dropped"
)

// JournalEntry is one handled command.
type JournalEntry struct {
	ID         int64
	ReceivedAt time.Time
	Verb       string
	Payload    string
	Outcome    Outcome
	Detail     string
}

// DefaultJournalKeep is how many entries PruneJournal keeps when asked for zero.
const DefaultJournalKeep = 500

// RecordCommand appends an entry to the command journal.
func (s *Store) RecordCommand(ctx context.Context, entry JournalEntry) error {
	if entry.ReceivedAt.IsZero() {
		entry.ReceivedAt = time.Now()
	}
	if strings.TrimSpace(entry.Verb) == "" {
		entry.Verb = "unknown"
	}
	if entry.Outcome == "" {
		entry.Outcome = OutcomeApplied
	}
	_, err := s.execWithRetry(ctx,
		`INSERT INTO command_journal (received_at, verb, payload, outcome, detail) VALUES (?, ?, ?, ?, ?)`,
		formatTime(entry.ReceivedAt), entry.Verb, entry.Payload, string(entry.Outcome), nullableString(entry.Detail),
	)
	if err != nil {
		return fmt.Errorf("record command: %w", err)
	}
	return nil
}

// RecentCommands returns up to limit entries, newest first.
func (s *Store) RecentCommands(ctx context.Context, limit int) ([]JournalEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT id, received_at, verb, payload, outcome, detail
         FROM command_journal ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list commands: %w", err)
	}
	defer rows.Close()

	var out []JournalEntry
	for rows.Next() {
		var (
			e        JournalEntry
			received string
			outcome  string
			detail   sql.NullString
		)
		if err := rows.Scan(&e.ID, &received, &e.Verb, &e.Payload, &outcome, &detail); err != nil {
			return nil, fmt.Errorf("scan command: %w", err)
		}
		e.ReceivedAt = parseTime(received)
		e.Outcome = Outcome(outcome)
		e.Detail = detail.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// PruneJournal deletes all but the newest keep entries.
func (s *Store) PruneJournal(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		keep = DefaultJournalKeep
	}
	res, err := s.execWithRetry(ctx,
		`DELETE FROM command_journal WHERE id NOT IN (
            SELECT id FROM command_journal ORDER BY id DESC LIMIT ?
        )`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune command journal: %w", err)
	}
	return res.RowsAffected()
}
