// Package notify turns committed workflow transitions into per-user
// notifications: it picks recipients, suppresses duplicates, persists the
// notifications and pushes them to connected clients.
package notify

import (
	"errors"
	"time"

	"github.com/odyssey-erp/docflow/internal/workflow"
)

// Kind classifies a notification.
type Kind string

const (
	KindApprovalRequested Kind = "approval_requested"
	KindApproved          Kind = "approved"
	KindRejected          Kind = "rejected"
	KindRecalled          Kind = "recalled"
	KindPosted            Kind = "posted"
	KindClosed            Kind = "closed"
)

// Outcome labels reported to the Recorder.
const (
	OutcomeCreated      = "created"
	OutcomeDeduplicated = "deduplicated"
	OutcomePushFailed   = "push_failed"
	OutcomeStoreFailed  = "store_failed"
)

// ErrNotFound indicates the notification does not exist for the user.
var ErrNotFound = errors.New("notify: notification not found")

// Notification is one message addressed to one user.
type Notification struct {
	ID        int64            `json:"id"`
	UserID    int64            `json:"user_id"`
	Kind      Kind             `json:"kind"`
	Message   string           `json:"message"`
	DocType   workflow.DocType `json:"doc_type"`
	RecID     int64            `json:"rec_id"`
	DocNo     string           `json:"doc_no"`
	Action    workflow.Action  `json:"action"`
	Read      bool             `json:"read"`
	CreatedAt time.Time        `json:"created_at"`
}
