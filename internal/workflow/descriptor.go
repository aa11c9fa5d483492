package workflow

import (
	"fmt"

	"github.com/odyssey-erp/docflow/internal/shared"
)

// Descriptor is the configuration row that drives the engine for one document type.
type Descriptor struct {
	Type   DocType
	Name   string
	Prefix string
	// Review types pass through IN_REVIEW; the others post straight to ACTIVE.
	Review                bool
	Statuses              []Status
	ApprovalNotesRequired bool
	AllowSelfApproval     bool
	Permissions           map[Capability]string
	// Upstream is the document type lines may reference, empty when none.
	Upstream DocType
}

// HasStatus reports whether s is legal for the descriptor's type.
func (d Descriptor) HasStatus(s Status) bool {
	for _, st := range d.Statuses {
		if st == s {
			return true
		}
	}
	return false
}

// Permission returns the RBAC permission mapped to a capability, if any.
func (d Descriptor) Permission(c Capability) (string, bool) {
	p, ok := d.Permissions[c]
	return p, ok && p != ""
}

var reviewStatuses = []Status{StatusDraft, StatusInReview, StatusActive, StatusRejected, StatusClosed}

var postingStatuses = []Status{StatusDraft, StatusActive, StatusCancelled, StatusClosed}

func defaultDescriptors() []Descriptor {
	return []Descriptor{
		{
			Type:              DocPurchaseRequisition,
			Name:              "Purchase Requisition",
			Prefix:            "PR",
			Review:            true,
			Statuses:          reviewStatuses,
			AllowSelfApproval: false,
			Permissions: map[Capability]string{
				CapView:    shared.PermPRView,
				CapCreate:  shared.PermPRCreate,
				CapSubmit:  shared.PermPRSubmit,
				CapApprove: shared.PermPRApprove,
				CapClose:   shared.PermPRClose,
			},
		},
		{
			Type:                  DocPurchaseOrder,
			Name:                  "Purchase Order",
			Prefix:                "PO",
			Review:                true,
			Statuses:              reviewStatuses,
			ApprovalNotesRequired: true,
			AllowSelfApproval:     false,
			Permissions: map[Capability]string{
				CapView:    shared.PermPOView,
				CapCreate:  shared.PermPOCreate,
				CapSubmit:  shared.PermPOSubmit,
				CapApprove: shared.PermPOApprove,
				CapClose:   shared.PermPOClose,
			},
			Upstream: DocPurchaseRequisition,
		},
		{
			Type:              DocCustomerOrder,
			Name:              "Customer Order",
			Prefix:            "CO",
			Review:            true,
			Statuses:          reviewStatuses,
			AllowSelfApproval: true,
			Permissions: map[Capability]string{
				CapView:    shared.PermCOView,
				CapCreate:  shared.PermCOCreate,
				CapSubmit:  shared.PermCOSubmit,
				CapApprove: shared.PermCOApprove,
				CapClose:   shared.PermCOClose,
			},
		},
		{
			Type:     DocDeliveryOrder,
			Name:     "Delivery Order",
			Prefix:   "DO",
			Statuses: postingStatuses,
			Permissions: map[Capability]string{
				CapView:   shared.PermDOView,
				CapCreate: shared.PermDOCreate,
				CapSubmit: shared.PermDOSubmit,
				CapClose:  shared.PermDOClose,
			},
			Upstream: DocCustomerOrder,
		},
		{
			Type:     DocSalesInvoice,
			Name:     "Sales Invoice",
			Prefix:   "SI",
			Statuses: postingStatuses,
			Permissions: map[Capability]string{
				CapView:   shared.PermSIView,
				CapCreate: shared.PermSICreate,
				CapSubmit: shared.PermSISubmit,
				CapClose:  shared.PermSIClose,
			},
			Upstream: DocDeliveryOrder,
		},
	}
}

// Registry is an immutable lookup over document descriptors.
type Registry struct {
	byType map[DocType]Descriptor
	order  []DocType
}

// NewRegistry builds a registry from descriptors.
func NewRegistry(descriptors []Descriptor) (*Registry, error) {
	r := &Registry{byType: make(map[DocType]Descriptor, len(descriptors))}
	for _, d := range descriptors {
		if d.Type == "" {
			return nil, fmt.Errorf("workflow: descriptor without type")
		}
		if _, dup := r.byType[d.Type]; dup {
			return nil, fmt.Errorf("workflow: duplicate descriptor %s", d.Type)
		}
		if !d.HasStatus(StatusDraft) || !d.HasStatus(StatusActive) {
			return nil, fmt.Errorf("workflow: descriptor %s must include DRAFT and ACTIVE", d.Type)
		}
		if d.Review != d.HasStatus(StatusInReview) {
			return nil, fmt.Errorf("workflow: descriptor %s review flag disagrees with statuses", d.Type)
		}
		r.byType[d.Type] = d
		r.order = append(r.order, d.Type)
	}
	return r, nil
}

// DefaultRegistry returns the compiled-in descriptor table.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(defaultDescriptors())
	if err != nil {
		panic(err)
	}
	return r
}

// Descriptor returns the descriptor of docType.
func (r *Registry) Descriptor(docType DocType) (Descriptor, error) {
	d, ok := r.byType[docType]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrUnknownDocType, docType)
	}
	return d, nil
}

// Types lists the registered document types in declaration order.
func (r *Registry) Types() []DocType {
	return append([]DocType(nil), r.order...)
}

// LegalStatuses returns the closed set of statuses for docType.
func (r *Registry) LegalStatuses(docType DocType) ([]Status, error) {
	d, err := r.Descriptor(docType)
	if err != nil {
		return nil, err
	}
	return append([]Status(nil), d.Statuses...), nil
}

// IsLegal reports whether s is a defined status of docType.
func (r *Registry) IsLegal(docType DocType, s Status) bool {
	d, ok := r.byType[docType]
	return ok && d.HasStatus(s)
}
