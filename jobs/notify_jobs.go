package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/docflow/internal/jobs"
	"github.com/odyssey-erp/docflow/internal/notify"
	"github.com/odyssey-erp/docflow/internal/workflow"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// FanoutNotifier is satisfied by *notify.Fanout.
type FanoutNotifier interface {
	Notify(ctx context.Context, evt workflow.Event) ([]notify.Notification, error)
}

// FanoutJob retries notification fan-out for a committed transition.
type FanoutJob struct {
	Notifier FanoutNotifier
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// Handle processes TaskNotifyFanout tasks.
func (j *FanoutJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Notifier == nil {
		return errors.New("notify fanout: handler not configured")
	}
	var payload FanoutPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("notify fanout payload: %v: %w", err, asynq.SkipRetry)
	}
	tracker := metricsOrDefault(j.Metrics).Track(TaskNotifyFanout)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	evt := payload.Event
	logger := jobLogger(j.Logger, TaskNotifyFanout).With(
		slog.String("doc_type", string(evt.DocType)),
		slog.Int64("rec_id", evt.RecID),
		slog.String("action", string(evt.Action)))
	created, err := j.Notifier.Notify(ctx, evt)
	if err != nil {
		logger.Warn("fan-out retry failed", slog.Any("error", err))
		return err
	}
	logger.Info("fan-out retried", slog.Int("notifications", len(created)))
	return nil
}

// PushJob redelivers a real-time push.
type PushJob struct {
	Pusher  notify.Pusher
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// Handle processes TaskNotifyPush tasks.
func (j *PushJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Pusher == nil {
		return errors.New("notify push: handler not configured")
	}
	var payload PushPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("notify push payload: %v: %w", err, asynq.SkipRetry)
	}
	tracker := metricsOrDefault(j.Metrics).Track(TaskNotifyPush)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()
	if err := j.Pusher.Push(ctx, payload.Notification); err != nil {
		jobLogger(j.Logger, TaskNotifyPush).Warn("push redelivery failed",
			slog.Int64("notification_id", payload.Notification.ID),
			slog.Int64("user_id", payload.Notification.UserID),
			slog.Any("error", err))
		return err
	}
	return nil
}

// NotificationPurger is satisfied by *notify.Inbox.
type NotificationPurger interface {
	Purge(ctx context.Context, olderThan time.Duration) (int64, error)
}

// KeyCleaner is satisfied by *shared.IdempotencyStore.
type KeyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// PurgeJob applies retention to notifications and idempotency keys.
type PurgeJob struct {
	Notifications NotificationPurger
	Keys          KeyCleaner
	KeyRetention  time.Duration
	Logger        *slog.Logger
	Metrics       *jobmetrics.Metrics
}

// Handle processes TaskNotifyPurge tasks.
func (j *PurgeJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Notifications == nil {
		return errors.New("notify purge: handler not configured")
	}
	var payload PurgePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("notify purge payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	metrics := metricsOrDefault(j.Metrics)
	tracker := metrics.Track(TaskNotifyPurge)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()
	logger := jobLogger(j.Logger, TaskNotifyPurge)

	removed, err := j.Notifications.Purge(ctx, time.Duration(payload.OlderThanSeconds)*time.Second)
	if err != nil {
		logger.Error("purge notifications", slog.Any("error", err))
		return err
	}
	metrics.AddPurged("notifications", removed)

	var keys int64
	if j.Keys != nil && j.KeyRetention > 0 {
		keys, err = j.Keys.Cleanup(ctx, j.KeyRetention)
		if err != nil {
			logger.Error("purge idempotency keys", slog.Any("error", err))
			return err
		}
		metrics.AddPurged("idempotency_keys", keys)
	}
	logger.Info("retention applied", slog.Int64("notifications", removed), slog.Int64("idempotency_keys", keys))
	return nil
}

func metricsOrDefault(m *jobmetrics.Metrics) *jobmetrics.Metrics {
	if m != nil {
		return m
	}
	return defaultJobMetrics
}

func jobLogger(logger *slog.Logger, job string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(slog.String("job", job))
}
