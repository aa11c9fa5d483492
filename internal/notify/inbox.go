package notify

import (
	"context"
	"errors"
	"time"

	"github.com/odyssey-erp/docflow/internal/shared"
)

// Inbox serves the recipient side: listing, reading and retention.
type Inbox struct {
	store     Store
	retention time.Duration
	now       func() time.Time
}

// NewInbox constructs an Inbox. retention bounds how long notifications live.
func NewInbox(store Store, retention time.Duration) *Inbox {
	return &Inbox{store: store, retention: retention, now: time.Now}
}

// Page is a slice of a user's notifications.
type Page struct {
	Items      []Notification    `json:"items"`
	Pagination shared.Pagination `json:"pagination"`
}

// List returns a page of the user's notifications.
func (i *Inbox) List(ctx context.Context, userID int64, unreadOnly bool, page shared.Pagination) (Page, error) {
	items, total, err := i.store.List(ctx, userID, unreadOnly, page)
	if err != nil {
		return Page{}, err
	}
	if items == nil {
		items = []Notification{}
	}
	return Page{Items: items, Pagination: shared.NewPagination(page.Page, page.PerPage, total)}, nil
}

// MarkRead flags one notification as read.
func (i *Inbox) MarkRead(ctx context.Context, userID, id int64) error {
	return i.store.MarkRead(ctx, userID, id)
}

// MarkAllRead flags every unread notification of the user.
func (i *Inbox) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	return i.store.MarkAllRead(ctx, userID)
}

// Delete removes one notification.
func (i *Inbox) Delete(ctx context.Context, userID, id int64) error {
	return i.store.Delete(ctx, userID, id)
}

// Purge removes notifications older than olderThan, or the configured
// retention when olderThan is zero.
func (i *Inbox) Purge(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		olderThan = i.retention
	}
	if olderThan <= 0 {
		return 0, errors.New("notify: purge requires a retention period")
	}
	return i.store.PurgeBefore(ctx, i.now().Add(-olderThan))
}
