// Package workflow implements the document lifecycle shared by purchase
// requisitions, purchase orders, customer orders, delivery orders and sales
// invoices: the status registry, the transition validator, the outstanding
// quantity ledger and the orchestrator that ties them to persistence and
// notifications.
package workflow

import "strings"

// DocType identifies a transactional document family.
type DocType string

const (
	DocPurchaseRequisition DocType = "PR"
	DocPurchaseOrder       DocType = "PO"
	DocCustomerOrder       DocType = "CO"
	DocDeliveryOrder       DocType = "DO"
	DocSalesInvoice        DocType = "SI"
)

// ParseDocType normalises user input such as "po" into a DocType.
func ParseDocType(raw string) (DocType, error) {
	dt := DocType(strings.ToUpper(strings.TrimSpace(raw)))
	switch dt {
	case DocPurchaseRequisition, DocPurchaseOrder, DocCustomerOrder, DocDeliveryOrder, DocSalesInvoice:
		return dt, nil
	default:
		return "", ErrUnknownDocType
	}
}

// Status represents a document lifecycle state.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusInReview  Status = "IN_REVIEW"
	StatusActive    Status = "ACTIVE"
	StatusRejected  Status = "REJECTED"
	StatusCancelled Status = "CANCELLED"
	StatusClosed    Status = "CLOSED"

	// StatusRemoved is the pseudo status returned for a deleted draft. It is
	// never stored.
	StatusRemoved Status = "REMOVED"
)

// IsTerminal reports whether no further workflow action is legal from s.
func IsTerminal(s Status) bool {
	switch s {
	case StatusClosed, StatusCancelled, StatusRejected:
		return true
	default:
		return false
	}
}

// ExcludedStatuses lists document statuses whose lines release their
// consumption of upstream quantity.
func ExcludedStatuses() []Status {
	return []Status{StatusRejected, StatusCancelled}
}

// Action is a requested workflow step.
type Action string

const (
	ActionSubmit  Action = "SUBMIT"
	ActionApprove Action = "APPROVE"
	ActionReject  Action = "REJECT"
	ActionRecall  Action = "RECALL"
	ActionClose   Action = "CLOSE"
	ActionDelete  Action = "DELETE"
)

// Actions returns every action in a stable order.
func Actions() []Action {
	return []Action{ActionSubmit, ActionApprove, ActionReject, ActionRecall, ActionClose, ActionDelete}
}

// ParseAction normalises user input such as "approve" into an Action.
func ParseAction(raw string) (Action, bool) {
	a := Action(strings.ToUpper(strings.TrimSpace(raw)))
	for _, known := range Actions() {
		if a == known {
			return a, true
		}
	}
	return "", false
}

// Capability is a workflow permission independent of document type.
type Capability string

const (
	CapView    Capability = "view"
	CapCreate  Capability = "create"
	CapSubmit  Capability = "submit"
	CapApprove Capability = "approve"
	CapClose   Capability = "close"
)

// CapabilitySet is the set of capabilities an actor holds for one document type.
type CapabilitySet map[Capability]struct{}

// NewCapabilitySet builds a set from the given capabilities.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	set := make(CapabilitySet, len(caps))
	for _, c := range caps {
		set[c] = struct{}{}
	}
	return set
}

// Has reports whether c is in the set. A nil set holds nothing.
func (s CapabilitySet) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}
