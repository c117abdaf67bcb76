package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/haulmark/backoffice/internal/platform/db"
)

// Ledger is append-only: there is deliberately no update or delete.
type Ledger interface {
	Append(ctx context.Context, record Record) (Record, error)
	List(ctx context.Context, filter Filter) ([]Record, error)
}

// Repository stores history in approval_history. It runs on a pool or inside
// a transition's transaction. The table has no foreign key to subjects so
// history outlives them.
type Repository struct {
	db db.DBTX
}

// NewRepository constructs a Ledger over conn.
func NewRepository(conn db.DBTX) *Repository {
	return &Repository{db: conn}
}

// Append inserts record and returns it with id and timestamp assigned.
func (r *Repository) Append(ctx context.Context, record Record) (Record, error) {
	if record.Kind == "" || record.SubjectID <= 0 || record.Action == "" {
		return Record{}, errors.New("audit: kind, subject and action are required")
	}
	var at *time.Time
	if !record.At.IsZero() {
		at = &record.At
	}
	err := r.db.QueryRow(ctx, `INSERT INTO approval_history
(kind, subject_id, action, actor_id, notes, reason, status_before, status_after, at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, COALESCE($9, NOW()))
RETURNING id, at`,
		record.Kind, record.SubjectID, string(record.Action), record.ActorID,
		record.Notes, record.Reason, record.StatusBefore, record.StatusAfter, at,
	).Scan(&record.ID, &record.At)
	if err != nil {
		return Record{}, fmt.Errorf("audit: append: %w", err)
	}
	return record, nil
}

// List returns matching records, most recent first, ties broken by id.
func (r *Repository) List(ctx context.Context, filter Filter) ([]Record, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.Kind != "" {
		where = append(where, "kind = "+arg(filter.Kind))
	}
	if filter.SubjectID > 0 {
		where = append(where, "subject_id = "+arg(filter.SubjectID))
	}
	if filter.ActorID > 0 {
		where = append(where, "actor_id = "+arg(filter.ActorID))
	}
	if filter.Action != "" {
		where = append(where, "action = "+arg(string(filter.Action)))
	}
	if !filter.From.IsZero() {
		where = append(where, "at >= "+arg(filter.From))
	}
	if !filter.To.IsZero() {
		where = append(where, "at < "+arg(filter.To))
	}
	query := `SELECT id, kind, subject_id, action, actor_id, notes, reason, status_before, status_after, at FROM approval_history`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY at DESC, id DESC LIMIT " + arg(ClampLimit(filter.Limit))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: list: %w", err)
	}
	defer rows.Close()
	records := make([]Record, 0)
	for rows.Next() {
		var (
			rec    Record
			action string
		)
		if err := rows.Scan(&rec.ID, &rec.Kind, &rec.SubjectID, &action, &rec.ActorID, &rec.Notes, &rec.Reason,
			&rec.StatusBefore, &rec.StatusAfter, &rec.At); err != nil {
			return nil, err
		}
		rec.Action = Action(action)
		records = append(records, rec)
	}
	return records, rows.Err()
}

var _ Ledger = (*Repository)(nil)
