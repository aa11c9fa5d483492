package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/docflow/internal/workflow"
)

const pushConcurrency = 8

// RecipientResolver finds the users holding a capability on a document type.
type RecipientResolver interface {
	UsersWithCapability(ctx context.Context, docType workflow.DocType, c workflow.Capability) ([]int64, error)
}

// Claimer suppresses duplicates within a window.
type Claimer interface {
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, keys ...string) error
}

// Pusher delivers a stored notification in real time.
type Pusher interface {
	Push(ctx context.Context, n Notification) error
}

// PushRetrier schedules a failed push for redelivery.
type PushRetrier interface {
	EnqueuePush(ctx context.Context, n Notification) error
}

// Recorder observes fan-out outcomes.
type Recorder interface {
	ObserveNotification(kind, outcome string)
}

// FanoutConfig collects the fan-out collaborators. Dedup, Pusher, Retrier
// and Recorder are optional.
type FanoutConfig struct {
	Registry   *workflow.Registry
	Recipients RecipientResolver
	Store      Store
	Dedup      Claimer
	Pusher     Pusher
	Retrier    PushRetrier
	Messages   *Messages
	Recorder   Recorder
	Logger     *slog.Logger
}

// Fanout implements workflow.Notifier.
type Fanout struct {
	registry   *workflow.Registry
	recipients RecipientResolver
	store      Store
	dedup      Claimer
	pusher     Pusher
	retrier    PushRetrier
	messages   *Messages
	recorder   Recorder
	logger     *slog.Logger
}

// NewFanout constructs a Fanout.
func NewFanout(cfg FanoutConfig) (*Fanout, error) {
	if cfg.Store == nil || cfg.Recipients == nil {
		return nil, errors.New("notify: fanout requires store and recipient resolver")
	}
	registry := cfg.Registry
	if registry == nil {
		registry = workflow.DefaultRegistry()
	}
	messages := cfg.Messages
	if messages == nil {
		var err error
		if messages, err = NewMessages(defaultLocale); err != nil {
			return nil, err
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{
		registry:   registry,
		recipients: cfg.Recipients,
		store:      cfg.Store,
		dedup:      cfg.Dedup,
		pusher:     cfg.Pusher,
		retrier:    cfg.Retrier,
		messages:   messages,
		recorder:   cfg.Recorder,
		logger:     logger,
	}, nil
}

// Dispatch implements workflow.Notifier.
func (f *Fanout) Dispatch(ctx context.Context, evt workflow.Event) error {
	_, err := f.Notify(ctx, evt)
	return err
}

// Notify creates, stores and pushes the notifications evt calls for. A
// failure to store is returned; push failures are handed to the retrier.
func (f *Fanout) Notify(ctx context.Context, evt workflow.Event) ([]Notification, error) {
	kind, recipients, err := f.plan(ctx, evt)
	if err != nil || len(recipients) == 0 {
		return nil, err
	}
	d, err := f.registry.Descriptor(evt.DocType)
	if err != nil {
		return nil, err
	}

	var (
		batch   []Notification
		claimed []string
	)
	for _, userID := range recipients {
		key := DedupKey(userID, evt)
		if f.dedup != nil {
			ok, err := f.dedup.Claim(ctx, key)
			switch {
			case err != nil:
				// Prefer a rare duplicate over a lost notification.
				f.logger.Warn("notification dedup unavailable", slog.Int64("user_id", userID), slog.Any("error", err))
			case !ok:
				f.observe(kind, OutcomeDeduplicated)
				continue
			default:
				claimed = append(claimed, key)
			}
		}
		batch = append(batch, Notification{
			UserID:  userID,
			Kind:    kind,
			Message: f.messages.Render(kind, d.Name, evt.DocNo, evt.Notes),
			DocType: evt.DocType,
			RecID:   evt.RecID,
			DocNo:   evt.DocNo,
			Action:  evt.Action,
		})
	}
	if len(batch) == 0 {
		return nil, nil
	}

	stored, err := f.store.Insert(ctx, batch)
	if err != nil {
		f.observe(kind, OutcomeStoreFailed)
		if f.dedup != nil {
			if rerr := f.dedup.Release(context.WithoutCancel(ctx), claimed...); rerr != nil {
				f.logger.Warn("release dedup claims", slog.Any("error", rerr))
			}
		}
		return nil, fmt.Errorf("notify: store %s notifications: %w", kind, err)
	}
	for range stored {
		f.observe(kind, OutcomeCreated)
	}
	f.push(ctx, stored)
	return stored, nil
}

func (f *Fanout) push(ctx context.Context, batch []Notification) {
	if f.pusher == nil {
		return
	}
	var g errgroup.Group
	g.SetLimit(pushConcurrency)
	for _, n := range batch {
		g.Go(func() error {
			if err := f.pusher.Push(ctx, n); err != nil {
				f.observe(n.Kind, OutcomePushFailed)
				f.logger.Warn("notification push failed",
					slog.Int64("notification_id", n.ID),
					slog.Int64("user_id", n.UserID),
					slog.Any("error", err))
				if f.retrier != nil {
					if err := f.retrier.EnqueuePush(context.WithoutCancel(ctx), n); err != nil {
						f.logger.Error("enqueue push retry", slog.Int64("notification_id", n.ID), slog.Any("error", err))
					}
				}
			}
			return nil
		})
	}
	_ = g.Wait()
}

// plan decides the notification kind and its recipients. The actor is never
// among them.
func (f *Fanout) plan(ctx context.Context, evt workflow.Event) (Kind, []int64, error) {
	var (
		kind       Kind
		recipients []int64
	)
	switch {
	case evt.Action == workflow.ActionSubmit && evt.To == workflow.StatusInReview:
		kind = KindApprovalRequested
		ids, err := f.recipients.UsersWithCapability(ctx, evt.DocType, workflow.CapApprove)
		if err != nil {
			return "", nil, fmt.Errorf("notify: resolve approvers: %w", err)
		}
		recipients = ids
	case evt.Action == workflow.ActionSubmit:
		kind = KindPosted
		recipients = []int64{evt.OwnerID}
	case evt.Action == workflow.ActionApprove:
		kind = KindApproved
		recipients = []int64{evt.SubmittedBy}
	case evt.Action == workflow.ActionReject:
		kind = KindRejected
		recipients = []int64{evt.SubmittedBy}
	case evt.Action == workflow.ActionRecall:
		kind = KindRecalled
		ids, err := f.recipients.UsersWithCapability(ctx, evt.DocType, workflow.CapApprove)
		if err != nil {
			return "", nil, fmt.Errorf("notify: resolve approvers: %w", err)
		}
		recipients = ids
	case evt.Action == workflow.ActionClose:
		kind = KindClosed
		recipients = []int64{evt.OwnerID}
	default:
		return "", nil, nil
	}
	return kind, uniqueRecipients(recipients, evt.ActorID), nil
}

func uniqueRecipients(ids []int64, actorID int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 || id == actorID {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func (f *Fanout) observe(kind Kind, outcome string) {
	if f.recorder != nil {
		f.recorder.ObserveNotification(string(kind), outcome)
	}
}
