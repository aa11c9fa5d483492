package workflow

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	owner    int64 = 10
	approver int64 = 20
	outsider int64 = 30
)

func allCaps() CapabilitySet {
	return NewCapabilitySet(CapView, CapCreate, CapSubmit, CapApprove, CapClose)
}

func TestRegistryLegalStatuses(t *testing.T) {
	reg := DefaultRegistry()

	for _, dt := range []DocType{DocPurchaseRequisition, DocPurchaseOrder, DocCustomerOrder} {
		statuses, err := reg.LegalStatuses(dt)
		require.NoError(t, err)
		assert.Contains(t, statuses, StatusInReview, "%s uses review", dt)
		assert.Contains(t, statuses, StatusRejected)
	}
	for _, dt := range []DocType{DocDeliveryOrder, DocSalesInvoice} {
		statuses, err := reg.LegalStatuses(dt)
		require.NoError(t, err)
		assert.NotContains(t, statuses, StatusInReview, "%s posts directly", dt)
		assert.Contains(t, statuses, StatusCancelled)
	}

	_, err := reg.LegalStatuses(DocType("XX"))
	require.ErrorIs(t, err, ErrUnknownDocType)
}

func TestIsTerminal(t *testing.T) {
	for _, s := range []Status{StatusClosed, StatusCancelled, StatusRejected} {
		assert.True(t, IsTerminal(s), s)
	}
	for _, s := range []Status{StatusDraft, StatusActive, StatusInReview} {
		assert.False(t, IsTerminal(s), s)
	}
}

func TestValidateHappyPath(t *testing.T) {
	v := NewValidator(DefaultRegistry())
	chk := Check{ActorID: owner, Capabilities: allCaps(), OwnerID: owner, LineCount: 1}

	to, err := v.Validate(DocPurchaseOrder, StatusDraft, ActionSubmit, chk)
	require.NoError(t, err)
	assert.Equal(t, StatusInReview, to)

	to, err = v.Validate(DocDeliveryOrder, StatusDraft, ActionSubmit, chk)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, to)

	review := Check{ActorID: approver, Capabilities: allCaps(), OwnerID: owner, SubmittedBy: owner, Notes: "ok"}
	to, err = v.Validate(DocPurchaseOrder, StatusInReview, ActionApprove, review)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, to)

	to, err = v.Validate(DocPurchaseOrder, StatusInReview, ActionReject, review)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, to)

	to, err = v.Validate(DocPurchaseOrder, StatusInReview, ActionRecall, Check{ActorID: owner, SubmittedBy: owner})
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, to)

	to, err = v.Validate(DocSalesInvoice, StatusActive, ActionClose, review)
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, to)

	to, err = v.Validate(DocCustomerOrder, StatusDraft, ActionDelete, Check{ActorID: owner, OwnerID: owner})
	require.NoError(t, err)
	assert.Equal(t, StatusRemoved, to)
}

func TestValidateRejectsEveryPairOutsideTable(t *testing.T) {
	reg := DefaultRegistry()
	v := NewValidator(reg)
	legal := map[transitionKey]bool{
		{StatusDraft, ActionSubmit}:     true,
		{StatusInReview, ActionApprove}: true,
		{StatusInReview, ActionReject}:  true,
		{StatusInReview, ActionRecall}:  true,
		{StatusActive, ActionClose}:     true,
		{StatusDraft, ActionDelete}:     true,
	}
	// Everything allowed, so only the table decides.
	chk := Check{ActorID: owner, Capabilities: allCaps(), OwnerID: owner, SubmittedBy: owner, LineCount: 3, Notes: "n"}

	for _, dt := range reg.Types() {
		statuses, err := reg.LegalStatuses(dt)
		require.NoError(t, err)
		for _, s := range statuses {
			for _, a := range Actions() {
				_, err := v.Validate(dt, s, a, chk)
				if legal[transitionKey{s, a}] {
					assert.NotErrorIs(t, err, ErrIllegalTransition, "%s %s %s", dt, s, a)
					continue
				}
				assert.ErrorIs(t, err, ErrIllegalTransition, "%s %s %s", dt, s, a)
			}
		}
	}
}

func TestValidateEdgeCases(t *testing.T) {
	v := NewValidator(DefaultRegistry())

	t.Run("submit without lines", func(t *testing.T) {
		_, err := v.Validate(DocPurchaseRequisition, StatusDraft, ActionSubmit, Check{ActorID: owner, OwnerID: owner})
		require.ErrorIs(t, err, ErrIllegalTransition)
	})

	t.Run("duplicate submit", func(t *testing.T) {
		chk := Check{ActorID: owner, OwnerID: owner, Capabilities: allCaps(), LineCount: 1}
		_, err := v.Validate(DocPurchaseRequisition, StatusInReview, ActionSubmit, chk)
		require.ErrorIs(t, err, ErrIllegalTransition)
		_, err = v.Validate(DocPurchaseRequisition, StatusActive, ActionSubmit, chk)
		require.ErrorIs(t, err, ErrIllegalTransition)
	})

	t.Run("close only from active", func(t *testing.T) {
		_, err := v.Validate(DocCustomerOrder, StatusInReview, ActionClose, Check{Capabilities: allCaps()})
		require.ErrorIs(t, err, ErrIllegalTransition)
	})

	t.Run("submit by stranger without capability", func(t *testing.T) {
		_, err := v.Validate(DocCustomerOrder, StatusDraft, ActionSubmit, Check{ActorID: outsider, OwnerID: owner, LineCount: 1})
		require.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("submit by stranger with capability", func(t *testing.T) {
		_, err := v.Validate(DocCustomerOrder, StatusDraft, ActionSubmit, Check{ActorID: outsider, OwnerID: owner, LineCount: 1, Capabilities: NewCapabilitySet(CapSubmit)})
		require.NoError(t, err)
	})

	t.Run("approve requires capability", func(t *testing.T) {
		_, err := v.Validate(DocCustomerOrder, StatusInReview, ActionApprove, Check{ActorID: outsider, SubmittedBy: owner})
		require.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("po approval requires notes", func(t *testing.T) {
		_, err := v.Validate(DocPurchaseOrder, StatusInReview, ActionApprove, Check{ActorID: approver, SubmittedBy: owner, Capabilities: allCaps(), Notes: "   "})
		require.ErrorIs(t, err, ErrMissingNotes)
	})

	t.Run("pr approval notes optional", func(t *testing.T) {
		_, err := v.Validate(DocPurchaseRequisition, StatusInReview, ActionApprove, Check{ActorID: approver, SubmittedBy: owner, Capabilities: allCaps()})
		require.NoError(t, err)
	})

	t.Run("reject requires notes", func(t *testing.T) {
		_, err := v.Validate(DocCustomerOrder, StatusInReview, ActionReject, Check{ActorID: approver, SubmittedBy: owner, Capabilities: allCaps()})
		require.ErrorIs(t, err, ErrMissingNotes)
	})

	t.Run("recall by someone else", func(t *testing.T) {
		_, err := v.Validate(DocPurchaseOrder, StatusInReview, ActionRecall, Check{ActorID: approver, SubmittedBy: owner, Capabilities: allCaps()})
		require.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("self approval per type", func(t *testing.T) {
		chk := Check{ActorID: owner, SubmittedBy: owner, Capabilities: allCaps(), Notes: "mine"}
		_, err := v.Validate(DocPurchaseOrder, StatusInReview, ActionApprove, chk)
		require.ErrorIs(t, err, ErrForbidden)
		_, err = v.Validate(DocCustomerOrder, StatusInReview, ActionApprove, chk)
		require.NoError(t, err)
	})

	t.Run("undefined status", func(t *testing.T) {
		_, err := v.Validate(DocDeliveryOrder, StatusInReview, ActionApprove, Check{Capabilities: allCaps()})
		require.ErrorIs(t, err, ErrInvariantViolation)
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := v.Validate(DocType("ZZ"), StatusDraft, ActionSubmit, Check{})
		require.ErrorIs(t, err, ErrUnknownDocType)
	})
}

func TestRejectedIsFinal(t *testing.T) {
	v := NewValidator(DefaultRegistry())
	chk := Check{ActorID: approver, SubmittedBy: approver, Capabilities: allCaps(), Notes: "again", LineCount: 1}
	for _, a := range Actions() {
		_, err := v.Validate(DocPurchaseOrder, StatusRejected, a, chk)
		require.ErrorIs(t, err, ErrIllegalTransition, a)
	}
}

func TestAllowed(t *testing.T) {
	v := NewValidator(DefaultRegistry())
	actions := v.Allowed(DocPurchaseRequisition, StatusDraft, Check{ActorID: owner, OwnerID: owner, LineCount: 1})
	assert.ElementsMatch(t, []Action{ActionSubmit, ActionDelete}, actions)
}

func TestPolicyOverrides(t *testing.T) {
	policy, err := LoadPolicy(strings.NewReader(`
documents:
  PO:
    approval_notes_required: false
    allow_self_approval: true
  CO:
    allow_self_approval: false
`))
	require.NoError(t, err)

	reg, err := DefaultRegistry().WithPolicy(policy)
	require.NoError(t, err)

	po, err := reg.Descriptor(DocPurchaseOrder)
	require.NoError(t, err)
	assert.False(t, po.ApprovalNotesRequired)
	assert.True(t, po.AllowSelfApproval)

	co, err := reg.Descriptor(DocCustomerOrder)
	require.NoError(t, err)
	assert.False(t, co.AllowSelfApproval)

	v := NewValidator(reg)
	_, err = v.Validate(DocPurchaseOrder, StatusInReview, ActionApprove, Check{ActorID: owner, SubmittedBy: owner, Capabilities: allCaps()})
	require.NoError(t, err)

	// The compiled table is untouched.
	base, err := DefaultRegistry().Descriptor(DocPurchaseOrder)
	require.NoError(t, err)
	assert.True(t, base.ApprovalNotesRequired)
}

func TestPolicyRejectsUnknownEntries(t *testing.T) {
	policy, err := LoadPolicy(strings.NewReader("documents:\n  XX:\n    allow_self_approval: true\n"))
	require.NoError(t, err)
	_, err = DefaultRegistry().WithPolicy(policy)
	require.ErrorIs(t, err, ErrUnknownDocType)

	_, err = LoadPolicy(strings.NewReader("documents:\n  PO:\n    bogus: true\n"))
	require.Error(t, err)

	policy, err = LoadPolicy(strings.NewReader("documents:\n  DO:\n    approval_notes_required: true\n"))
	require.NoError(t, err)
	_, err = DefaultRegistry().WithPolicy(policy)
	require.Error(t, err)
}

func TestParseHelpers(t *testing.T) {
	dt, err := ParseDocType(" po ")
	require.NoError(t, err)
	assert.Equal(t, DocPurchaseOrder, dt)
	_, err = ParseDocType("grn")
	require.ErrorIs(t, err, ErrUnknownDocType)

	a, ok := ParseAction("approve")
	require.True(t, ok)
	assert.Equal(t, ActionApprove, a)
	_, ok = ParseAction("void")
	assert.False(t, ok)
}
