package notify

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/docflow/internal/platform/db"
	"github.com/odyssey-erp/docflow/internal/shared"
	"github.com/odyssey-erp/docflow/internal/workflow"
)

// Store persists notifications.
type Store interface {
	Insert(ctx context.Context, batch []Notification) ([]Notification, error)
	List(ctx context.Context, userID int64, unreadOnly bool, page shared.Pagination) ([]Notification, int, error)
	MarkRead(ctx context.Context, userID, id int64) error
	MarkAllRead(ctx context.Context, userID int64) (int64, error)
	Delete(ctx context.Context, userID, id int64) error
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const notificationColumns = `id, user_id, kind, message, doc_type, rec_id, doc_no, action, read_at IS NOT NULL, created_at`

// Insert stores the batch in one transaction and returns it with ids assigned.
func (r *Repository) Insert(ctx context.Context, batch []Notification) ([]Notification, error) {
	if len(batch) == 0 {
		return nil, nil
	}
	out := make([]Notification, len(batch))
	copy(out, batch)
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		b := &pgx.Batch{}
		for i := range out {
			n := &out[i]
			b.Queue(`INSERT INTO notifications (user_id, kind, message, doc_type, rec_id, doc_no, action)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id, created_at`, n.UserID, string(n.Kind), n.Message, string(n.DocType), n.RecID, n.DocNo, string(n.Action)).
				QueryRow(func(row pgx.Row) error {
					return row.Scan(&n.ID, &n.CreatedAt)
				})
		}
		return tx.SendBatch(ctx, b).Close()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// List returns a page of a user's notifications, newest first, and the total count.
func (r *Repository) List(ctx context.Context, userID int64, unreadOnly bool, page shared.Pagination) ([]Notification, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM notifications
WHERE user_id = $1 AND ($2::bool = false OR read_at IS NULL)`, userID, unreadOnly).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+notificationColumns+` FROM notifications
WHERE user_id = $1 AND ($2::bool = false OR read_at IS NULL)
ORDER BY created_at DESC, id DESC
LIMIT $3 OFFSET $4`, userID, unreadOnly, page.Limit(), page.Offset())
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []Notification
	for rows.Next() {
		var n Notification
		var kind, docType, action string
		if err := rows.Scan(&n.ID, &n.UserID, &kind, &n.Message, &docType, &n.RecID, &n.DocNo, &action, &n.Read, &n.CreatedAt); err != nil {
			return nil, 0, err
		}
		n.Kind = Kind(kind)
		n.DocType = workflow.DocType(docType)
		n.Action = workflow.Action(action)
		items = append(items, n)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// MarkRead flags one notification as read. Marking twice is harmless.
func (r *Repository) MarkRead(ctx context.Context, userID, id int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE notifications SET read_at = COALESCE(read_at, NOW())
WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkAllRead flags every unread notification of a user.
func (r *Repository) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE notifications SET read_at = NOW() WHERE user_id = $1 AND read_at IS NULL`, userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Delete removes one notification of a user.
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

// PurgeBefore removes notifications created before cutoff.
func (r *Repository) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM notifications WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
