// Package documents persists transactional document headers and lines and
// exposes them over HTTP. Status changes go through the workflow
// orchestrator; this package owns drafting, numbering and line maintenance.
package documents

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/docflow/internal/workflow"
)

// Document is a transactional header with its lines.
type Document struct {
	ID          int64            `json:"id"`
	DocNo       string           `json:"doc_no"`
	DocType     workflow.DocType `json:"doc_type"`
	Status      workflow.Status  `json:"status"`
	OwnerID     int64            `json:"owner_id"`
	SubmittedBy int64            `json:"submitted_by,omitempty"`
	Notes       string           `json:"notes,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	Lines       []Line           `json:"lines,omitempty"`
}

// Snapshot projects the header onto the orchestrator's view.
func (d Document) Snapshot() workflow.Snapshot {
	return workflow.Snapshot{
		RecID:       d.ID,
		DocNo:       d.DocNo,
		DocType:     d.DocType,
		Status:      d.Status,
		OwnerID:     d.OwnerID,
		SubmittedBy: d.SubmittedBy,
		LineCount:   len(d.Lines),
	}
}

// Line is one quantity-bearing row of a document.
type Line struct {
	ID           int64           `json:"id"`
	DocumentID   int64           `json:"document_id"`
	LineNo       int             `json:"line_no"`
	ItemCode     string          `json:"item_code"`
	Description  string          `json:"description,omitempty"`
	Quantity     decimal.Decimal `json:"quantity"`
	SourceLineID *int64          `json:"source_line_id,omitempty"`
}

// SourceLine is an upstream line together with the header fields that decide
// whether it may be consumed.
type SourceLine struct {
	ID             int64
	DocumentID     int64
	DocType        workflow.DocType
	DocumentStatus workflow.Status
	Quantity       decimal.Decimal
}

// OutstandingLine reports how much of a line downstream documents may still consume.
type OutstandingLine struct {
	Line
	Outstanding decimal.Decimal `json:"outstanding"`
}

// ListFilters narrows document listings.
type ListFilters struct {
	DocType workflow.DocType
	Status  workflow.Status
	OwnerID int64
}

// CreateDraftInput describes a new draft.
type CreateDraftInput struct {
	DocType workflow.DocType
	OwnerID int64
	Notes   string
	Lines   []LineInput
}

// LineInput describes a line to add to a draft.
type LineInput struct {
	ItemCode     string
	Description  string
	Quantity     decimal.Decimal
	SourceLineID *int64
}

// FormatDocNo renders the human readable number, e.g. PO-2024-0001.
func FormatDocNo(prefix string, year int, seq int64) string {
	return fmt.Sprintf("%s-%d-%04d", prefix, year, seq)
}
