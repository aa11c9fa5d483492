package workflow

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Snapshot is the slice of document state the orchestrator reads before acting.
type Snapshot struct {
	RecID       int64
	DocNo       string
	DocType     DocType
	Status      Status
	OwnerID     int64
	SubmittedBy int64
	LineCount   int
}

// TransitionRecord is one append-only audit row per executed transition.
type TransitionRecord struct {
	ID      int64     `json:"id"`
	DocType DocType   `json:"doc_type"`
	RecID   int64     `json:"rec_id"`
	From    Status    `json:"from_status"`
	To      Status    `json:"to_status"`
	Action  Action    `json:"action"`
	ActorID int64     `json:"actor_id"`
	Notes   string    `json:"notes,omitempty"`
	At      time.Time `json:"at"`
}

// Store is the persistence collaborator for status changes.
type Store interface {
	GetDocument(ctx context.Context, docType DocType, recID int64) (Snapshot, error)
	// CommitTransition must update the status only when it still equals
	// rec.From and append rec in the same transaction. A mismatch returns
	// ErrConcurrentModification, as does a Submit whose document has no
	// lines left at commit time.
	CommitTransition(ctx context.Context, rec TransitionRecord) error
	// DeleteDraft removes a document still in DRAFT together with its lines.
	DeleteDraft(ctx context.Context, rec TransitionRecord) error
}

// CapabilityResolver returns what an actor may do on a document type.
type CapabilityResolver interface {
	Capabilities(ctx context.Context, actorID int64, docType DocType) (CapabilitySet, error)
}

// Event describes a committed transition for notification fan-out.
type Event struct {
	DocType     DocType   `json:"doc_type"`
	RecID       int64     `json:"rec_id"`
	DocNo       string    `json:"doc_no"`
	Action      Action    `json:"action"`
	From        Status    `json:"from_status"`
	To          Status    `json:"to_status"`
	ActorID     int64     `json:"actor_id"`
	OwnerID     int64     `json:"owner_id"`
	SubmittedBy int64     `json:"submitted_by"`
	Notes       string    `json:"notes,omitempty"`
	At          time.Time `json:"at"`
}

// Notifier turns a committed transition into notifications.
type Notifier interface {
	Dispatch(ctx context.Context, evt Event) error
}

// FanoutRetrier schedules an out-of-band retry of a failed fan-out.
type FanoutRetrier interface {
	EnqueueFanout(ctx context.Context, evt Event) error
}

// Recorder observes orchestrator outcomes, typically for metrics.
type Recorder interface {
	ObserveTransition(docType DocType, action Action, outcome string)
}

// Line is the ledger's view of a document line.
type Line struct {
	ID           int64
	DocumentID   int64
	DocType      DocType
	Quantity     decimal.Decimal
	SourceLineID *int64
}

// LedgerStore exposes the reads the ledger needs.
type LedgerStore interface {
	GetLine(ctx context.Context, lineID int64) (Line, error)
	SumDownstreamQuantity(ctx context.Context, upstreamLineID int64, exclude []Status) (decimal.Decimal, error)
	ListLines(ctx context.Context, documentRecID int64) ([]Line, error)
	SumDownstreamByHeader(ctx context.Context, documentRecID int64, exclude []Status) (map[int64]decimal.Decimal, error)
}
