package approval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/haulmark/backoffice/internal/audit"
	"github.com/haulmark/backoffice/internal/platform/db"
)

// Repository is the persistence port for workflow subjects.
type Repository interface {
	Get(ctx context.Context, kind Kind, id int64) (Subject, error)
	ListPending(ctx context.Context, filter PendingFilter) ([]Subject, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes transactional operations. Status and history written
// through it commit together or not at all.
type TxRepository interface {
	GetForUpdate(ctx context.Context, kind Kind, id int64) (Subject, error)
	Insert(ctx context.Context, subject Subject) (Subject, error)
	// Save persists subject if its Version is still current and returns it
	// with the bumped version. A stale version yields ErrConflict.
	Save(ctx context.Context, subject Subject) (Subject, error)
	AppendHistory(ctx context.Context, record audit.Record) (audit.Record, error)
}

// PGRepository implements Repository on PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

type txRepo struct {
	tx     pgx.Tx
	ledger *audit.Repository
}

// WithTx wraps callback in repeatable-read transaction.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx, ledger: audit.NewRepository(tx)})
	})
	if db.IsSerializationFailure(err) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

const subjectColumns = `kind, subject_id, reference, approval_status, is_disabled, COALESCE(lifecycle_status, ''),
COALESCE(created_by, 0), manager_approved_by, manager_approved_at, accounts_approved_by, accounts_approved_at,
rejected_by, rejected_at, COALESCE(rejection_reason, ''), disabled_by, disabled_at, version, created_at, updated_at`

func scanSubject(row pgx.Row) (Subject, error) {
	var (
		s         Subject
		kind      string
		status    string
		lifecycle string
	)
	err := row.Scan(&kind, &s.ID, &s.Reference, &status, &s.IsDisabled, &lifecycle,
		&s.CreatedBy, &s.ManagerApprovedBy, &s.ManagerApprovedAt, &s.AccountsApprovedBy, &s.AccountsApprovedAt,
		&s.RejectedBy, &s.RejectedAt, &s.RejectionReason, &s.DisabledBy, &s.DisabledAt, &s.Version, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Subject{}, ErrNotFound
		}
		return Subject{}, err
	}
	s.Kind = Kind(kind)
	s.Status = Status(status)
	s.Lifecycle = Lifecycle(lifecycle)
	return s, nil
}

// Get fetches a subject without locking.
func (r *PGRepository) Get(ctx context.Context, kind Kind, id int64) (Subject, error) {
	return scanSubject(r.pool.QueryRow(ctx, `SELECT `+subjectColumns+` FROM approval_subjects WHERE kind = $1 AND subject_id = $2`, string(kind), id))
}

// ListPending lists subjects of a kind in the given statuses, oldest first.
func (r *PGRepository) ListPending(ctx context.Context, filter PendingFilter) ([]Subject, error) {
	statuses := make([]string, 0, len(filter.Statuses)+1)
	for _, st := range filter.Statuses {
		statuses = append(statuses, string(st))
	}
	if filter.IncludeDisabled {
		statuses = append(statuses, string(StatusDisabled))
	}
	limit := filter.Limit
	if limit <= 0 || limit > audit.MaxLimit {
		limit = audit.MaxLimit
	}
	rows, err := r.pool.Query(ctx, `SELECT `+subjectColumns+` FROM approval_subjects
WHERE kind = $1 AND approval_status = ANY($2)
ORDER BY created_at ASC, subject_id ASC LIMIT $3`, string(filter.Kind), statuses, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	subjects := make([]Subject, 0)
	for rows.Next() {
		s, err := scanSubject(rows)
		if err != nil {
			return nil, err
		}
		subjects = append(subjects, s)
	}
	return subjects, rows.Err()
}

func (t *txRepo) GetForUpdate(ctx context.Context, kind Kind, id int64) (Subject, error) {
	return scanSubject(t.tx.QueryRow(ctx, `SELECT `+subjectColumns+` FROM approval_subjects WHERE kind = $1 AND subject_id = $2 FOR UPDATE`, string(kind), id))
}

func (t *txRepo) Insert(ctx context.Context, s Subject) (Subject, error) {
	row := t.tx.QueryRow(ctx, `INSERT INTO approval_subjects (kind, subject_id, reference, approval_status, is_disabled, lifecycle_status, created_by, version)
VALUES ($1, $2, $3, $4, FALSE, NULLIF($5, ''), NULLIF($6, 0), 1)
RETURNING `+subjectColumns, string(s.Kind), s.ID, s.Reference, string(s.Status), string(s.Lifecycle), s.CreatedBy)
	created, err := scanSubject(row)
	if db.IsUniqueViolation(err) {
		return Subject{}, fmt.Errorf("%w: %s is already registered", ErrConflict, s.DisplayName())
	}
	return created, err
}

func (t *txRepo) Save(ctx context.Context, s Subject) (Subject, error) {
	row := t.tx.QueryRow(ctx, `UPDATE approval_subjects SET
approval_status = $3, is_disabled = $4, lifecycle_status = NULLIF($5, ''),
manager_approved_by = $6, manager_approved_at = $7,
accounts_approved_by = $8, accounts_approved_at = $9,
rejected_by = $10, rejected_at = $11, rejection_reason = NULLIF($12, ''),
disabled_by = $13, disabled_at = $14,
version = version + 1, updated_at = $15
WHERE kind = $1 AND subject_id = $2 AND version = $16
RETURNING `+subjectColumns,
		string(s.Kind), s.ID, string(s.Status), s.IsDisabled, string(s.Lifecycle),
		s.ManagerApprovedBy, s.ManagerApprovedAt,
		s.AccountsApprovedBy, s.AccountsApprovedAt,
		s.RejectedBy, s.RejectedAt, s.RejectionReason,
		s.DisabledBy, s.DisabledAt,
		time.Now().UTC(), s.Version)
	saved, err := scanSubject(row)
	if errors.Is(err, ErrNotFound) {
		return Subject{}, fmt.Errorf("%w: %s changed since it was read", ErrConflict, s.DisplayName())
	}
	return saved, err
}

func (t *txRepo) AppendHistory(ctx context.Context, record audit.Record) (audit.Record, error) {
	return t.ledger.Append(ctx, record)
}

var _ Repository = (*PGRepository)(nil)
