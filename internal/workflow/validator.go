package workflow

import (
	"fmt"
	"strings"
)

// Check carries the facts the validator needs about the actor and the document.
type Check struct {
	ActorID      int64
	Capabilities CapabilitySet
	OwnerID      int64
	SubmittedBy  int64
	LineCount    int
	Notes        string
}

type transitionKey struct {
	from   Status
	action Action
}

type rule struct {
	to     func(Descriptor) Status
	guards []guard
}

type guard func(Descriptor, Check) error

func fixed(s Status) func(Descriptor) Status {
	return func(Descriptor) Status { return s }
}

// transitions is the single table every document type is validated against.
var transitions = map[transitionKey]rule{
	{StatusDraft, ActionSubmit}: {
		to: func(d Descriptor) Status {
			if d.Review {
				return StatusInReview
			}
			return StatusActive
		},
		guards: []guard{ownerOr(CapSubmit), hasLines},
	},
	{StatusInReview, ActionApprove}: {
		to:     fixed(StatusActive),
		guards: []guard{requires(CapApprove), selfApproval, approvalNotes},
	},
	{StatusInReview, ActionReject}: {
		to:     fixed(StatusRejected),
		guards: []guard{requires(CapApprove), notesPresent},
	},
	{StatusInReview, ActionRecall}: {
		to:     fixed(StatusDraft),
		guards: []guard{submitterOnly},
	},
	{StatusActive, ActionClose}: {
		to:     fixed(StatusClosed),
		guards: []guard{requires(CapClose)},
	},
	{StatusDraft, ActionDelete}: {
		to:     fixed(StatusRemoved),
		guards: []guard{ownerOr(CapCreate)},
	},
}

// Validator decides legality of actions. It holds no mutable state.
type Validator struct {
	registry *Registry
}

// NewValidator constructs a validator over registry.
func NewValidator(registry *Registry) Validator {
	return Validator{registry: registry}
}

// Validate returns the status that action produces from current, or the
// reason it may not be taken. It never mutates anything.
func (v Validator) Validate(docType DocType, current Status, action Action, chk Check) (Status, error) {
	d, err := v.registry.Descriptor(docType)
	if err != nil {
		return "", err
	}
	if !d.HasStatus(current) {
		return "", fmt.Errorf("%w: %s has undefined status %q", ErrInvariantViolation, docType, current)
	}
	r, ok := transitions[transitionKey{from: current, action: action}]
	if !ok {
		return "", fmt.Errorf("%w: cannot %s a %s in status %s", ErrIllegalTransition, strings.ToLower(string(action)), docType, current)
	}
	to := r.to(d)
	if to != StatusRemoved && !d.HasStatus(to) {
		return "", fmt.Errorf("%w: %s cannot reach %s", ErrIllegalTransition, docType, to)
	}
	for _, g := range r.guards {
		if err := g(d, chk); err != nil {
			return "", err
		}
	}
	return to, nil
}

// Allowed lists the actions that would pass validation for chk.
func (v Validator) Allowed(docType DocType, current Status, chk Check) []Action {
	var out []Action
	for _, a := range Actions() {
		if _, err := v.Validate(docType, current, a, chk); err == nil {
			out = append(out, a)
		}
	}
	return out
}

func requires(c Capability) guard {
	return func(d Descriptor, chk Check) error {
		if !chk.Capabilities.Has(c) {
			return fmt.Errorf("%w: %s capability required on %s", ErrForbidden, c, d.Type)
		}
		return nil
	}
}

func ownerOr(c Capability) guard {
	return func(d Descriptor, chk Check) error {
		if chk.ActorID != 0 && chk.ActorID == chk.OwnerID {
			return nil
		}
		return requires(c)(d, chk)
	}
}

func hasLines(d Descriptor, chk Check) error {
	if chk.LineCount < 1 {
		return fmt.Errorf("%w: %s has no lines", ErrIllegalTransition, d.Type)
	}
	return nil
}

func selfApproval(d Descriptor, chk Check) error {
	if d.AllowSelfApproval {
		return nil
	}
	if chk.SubmittedBy != 0 && chk.ActorID == chk.SubmittedBy {
		return fmt.Errorf("%w: submitter cannot approve own %s", ErrForbidden, d.Type)
	}
	return nil
}

func approvalNotes(d Descriptor, chk Check) error {
	if d.ApprovalNotesRequired && strings.TrimSpace(chk.Notes) == "" {
		return fmt.Errorf("%w: approving a %s requires notes", ErrMissingNotes, d.Type)
	}
	return nil
}

func notesPresent(d Descriptor, chk Check) error {
	if strings.TrimSpace(chk.Notes) == "" {
		return fmt.Errorf("%w: rejecting a %s requires notes", ErrMissingNotes, d.Type)
	}
	return nil
}

func submitterOnly(d Descriptor, chk Check) error {
	if chk.ActorID == 0 || chk.ActorID != chk.SubmittedBy {
		return fmt.Errorf("%w: only the submitter may recall a %s", ErrForbidden, d.Type)
	}
	return nil
}
