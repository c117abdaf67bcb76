package notify

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository stores notifications in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const notificationColumns = `id, user_id, COALESCE(email, ''), type, title, message, COALESCE(link, ''), read, sender_id, is_custom, created_at`

func scanNotification(row pgx.Row) (Notification, error) {
	var (
		n        Notification
		severity string
	)
	if err := row.Scan(&n.ID, &n.UserID, &n.Email, &severity, &n.Title, &n.Message, &n.Link, &n.Read, &n.SenderID, &n.IsCustom, &n.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Notification{}, ErrNotFound
		}
		return Notification{}, err
	}
	n.Type = Severity(severity)
	return n, nil
}

// Create inserts a notification. The table enforces user_id or email.
func (r *Repository) Create(ctx context.Context, n Notification) (Notification, error) {
	return scanNotification(r.pool.QueryRow(ctx, `INSERT INTO notifications (user_id, email, type, title, message, link, read, sender_id, is_custom)
VALUES ($1, NULLIF($2, ''), $3, $4, $5, NULLIF($6, ''), FALSE, $7, $8)
RETURNING `+notificationColumns, n.UserID, n.Email, string(n.Type), n.Title, n.Message, n.Link, n.SenderID, n.IsCustom))
}

// ListForUser pages the user's inbox, newest first, and returns the total.
func (r *Repository) ListForUser(ctx context.Context, userID int64, filter ListFilter) ([]Notification, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND (NOT $2 OR NOT read)`,
		userID, filter.UnreadOnly).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+notificationColumns+` FROM notifications
WHERE user_id = $1 AND (NOT $2 OR NOT read)
ORDER BY created_at DESC, id DESC LIMIT $3 OFFSET $4`,
		userID, filter.UnreadOnly, filter.PerPage, (filter.Page-1)*filter.PerPage)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	items := make([]Notification, 0)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, n)
	}
	return items, total, rows.Err()
}

// UnreadCount counts unread notifications for the user.
func (r *Repository) UnreadCount(ctx context.Context, userID int64) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND NOT read`, userID).Scan(&count)
	return count, err
}

// MarkRead flags one of the user's notifications as read.
func (r *Repository) MarkRead(ctx context.Context, userID, id int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE notifications SET read = TRUE WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkAllRead flags every unread notification of the user as read.
func (r *Repository) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE notifications SET read = TRUE WHERE user_id = $1 AND NOT read`, userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Delete removes one of the user's notifications.
func (r *Repository) Delete(ctx context.Context, userID, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM notifications WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

var _ Store = (*Repository)(nil)
