package workflow

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
)

// Outcome labels reported to the Recorder.
const (
	OutcomeCommitted = "committed"
	OutcomeRejected  = "rejected"
	OutcomeConflict  = "conflict"
	OutcomeError     = "error"
)

// OrchestratorConfig collects the orchestrator's collaborators.
type OrchestratorConfig struct {
	Registry     *Registry
	Store        Store
	Capabilities CapabilityResolver
	Notifier     Notifier
	Retrier      FanoutRetrier
	Recorder     Recorder
	Logger       *slog.Logger
	Now          func() time.Time
}

// Orchestrator executes one workflow action end to end. It is stateless and
// safe to share across concurrent requests; all serialisation happens in the
// Store's conditional update.
type Orchestrator struct {
	registry  *Registry
	validator Validator
	store     Store
	caps      CapabilityResolver
	notifier  Notifier
	retrier   FanoutRetrier
	recorder  Recorder
	logger    *slog.Logger
	now       func() time.Time
}

// NewOrchestrator constructs an Orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	registry := cfg.Registry
	if registry == nil {
		registry = DefaultRegistry()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		registry:  registry,
		validator: NewValidator(registry),
		store:     cfg.Store,
		caps:      cfg.Capabilities,
		notifier:  cfg.Notifier,
		retrier:   cfg.Retrier,
		recorder:  cfg.Recorder,
		logger:    logger,
		now:       now,
	}
}

// Registry exposes the descriptor table in use.
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// ExecuteAction validates action against the document's current status,
// commits the resulting status and fans out notifications.
func (o *Orchestrator) ExecuteAction(ctx context.Context, docType DocType, recID int64, action Action, actorID int64, notes string) (Status, error) {
	if _, err := o.registry.Descriptor(docType); err != nil {
		return "", err
	}
	snap, err := o.store.GetDocument(ctx, docType, recID)
	if err != nil {
		o.observe(docType, action, OutcomeError)
		return "", err
	}
	caps, err := o.caps.Capabilities(ctx, actorID, docType)
	if err != nil {
		o.observe(docType, action, OutcomeError)
		return "", err
	}

	notes = strings.TrimSpace(notes)
	to, err := o.validator.Validate(docType, snap.Status, action, Check{
		ActorID:      actorID,
		Capabilities: caps,
		OwnerID:      snap.OwnerID,
		SubmittedBy:  snap.SubmittedBy,
		LineCount:    snap.LineCount,
		Notes:        notes,
	})
	if err != nil {
		if errors.Is(err, ErrInvariantViolation) {
			o.logger.Error("workflow invariant",
				slog.String("doc_type", string(docType)),
				slog.Int64("rec_id", recID),
				slog.String("status", string(snap.Status)),
				slog.Any("error", err))
			o.observe(docType, action, OutcomeError)
		} else {
			o.observe(docType, action, OutcomeRejected)
		}
		return "", err
	}

	rec := TransitionRecord{
		DocType: docType,
		RecID:   recID,
		From:    snap.Status,
		To:      to,
		Action:  action,
		ActorID: actorID,
		Notes:   notes,
		At:      o.now(),
	}
	if action == ActionDelete {
		err = o.store.DeleteDraft(ctx, rec)
	} else {
		err = o.store.CommitTransition(ctx, rec)
	}
	if err != nil {
		if errors.Is(err, ErrConcurrentModification) {
			o.observe(docType, action, OutcomeConflict)
		} else {
			o.observe(docType, action, OutcomeError)
		}
		return "", err
	}
	o.observe(docType, action, OutcomeCommitted)

	submittedBy := snap.SubmittedBy
	if action == ActionSubmit {
		submittedBy = actorID
	}
	o.dispatch(ctx, Event{
		DocType:     docType,
		RecID:       recID,
		DocNo:       snap.DocNo,
		Action:      action,
		From:        snap.Status,
		To:          to,
		ActorID:     actorID,
		OwnerID:     snap.OwnerID,
		SubmittedBy: submittedBy,
		Notes:       notes,
		At:          rec.At,
	})
	return to, nil
}

// dispatch never fails the action: the status change is already committed.
func (o *Orchestrator) dispatch(ctx context.Context, evt Event) {
	if o.notifier == nil {
		return
	}
	err := o.notifier.Dispatch(ctx, evt)
	if err == nil {
		return
	}
	o.logger.Warn("notification fan-out failed",
		slog.String("doc_type", string(evt.DocType)),
		slog.Int64("rec_id", evt.RecID),
		slog.String("action", string(evt.Action)),
		slog.Any("error", err))
	if o.retrier == nil {
		return
	}
	// The request context may already be cancelled; the retry must still be queued.
	if err := o.retrier.EnqueueFanout(context.WithoutCancel(ctx), evt); err != nil {
		o.logger.Error("enqueue fan-out retry",
			slog.String("doc_type", string(evt.DocType)),
			slog.Int64("rec_id", evt.RecID),
			slog.Any("error", err))
	}
}

func (o *Orchestrator) observe(docType DocType, action Action, outcome string) {
	if o.recorder != nil {
		o.recorder.ObserveTransition(docType, action, outcome)
	}
}

// Submit moves a draft into review, or straight to ACTIVE for posting types.
func (o *Orchestrator) Submit(ctx context.Context, docType DocType, recID, actorID int64, notes string) (Status, error) {
	return o.ExecuteAction(ctx, docType, recID, ActionSubmit, actorID, notes)
}

// Approve activates a document under review.
func (o *Orchestrator) Approve(ctx context.Context, docType DocType, recID, actorID int64, notes string) (Status, error) {
	return o.ExecuteAction(ctx, docType, recID, ActionApprove, actorID, notes)
}

// Reject terminates a document under review. Notes are mandatory.
func (o *Orchestrator) Reject(ctx context.Context, docType DocType, recID, actorID int64, notes string) (Status, error) {
	return o.ExecuteAction(ctx, docType, recID, ActionReject, actorID, notes)
}

// Recall returns a document under review to its submitter as a draft.
func (o *Orchestrator) Recall(ctx context.Context, docType DocType, recID, actorID int64, notes string) (Status, error) {
	return o.ExecuteAction(ctx, docType, recID, ActionRecall, actorID, notes)
}

// Close finishes an active document.
func (o *Orchestrator) Close(ctx context.Context, docType DocType, recID, actorID int64, notes string) (Status, error) {
	return o.ExecuteAction(ctx, docType, recID, ActionClose, actorID, notes)
}

// Delete removes a draft and its lines.
func (o *Orchestrator) Delete(ctx context.Context, docType DocType, recID, actorID int64) error {
	_, err := o.ExecuteAction(ctx, docType, recID, ActionDelete, actorID, "")
	return err
}
