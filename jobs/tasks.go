package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/docflow/internal/notify"
	"github.com/odyssey-erp/docflow/internal/workflow"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueNotifications carries fan-out and push retries.
	QueueNotifications = "notifications"

	// TaskNotifyFanout re-runs a notification fan-out that failed inline.
	TaskNotifyFanout = "notify:fanout"
	// TaskNotifyPush redelivers one real-time push.
	TaskNotifyPush = "notify:push"
	// TaskNotifyPurge applies notification and idempotency key retention.
	TaskNotifyPurge = "notify:purge"
)

const (
	fanoutMaxRetry = 8
	pushMaxRetry   = 5
)

// taskNamespace scopes deterministic task ids.
var taskNamespace = uuid.MustParse("1b9d6bcd-bbfd-4b2d-9b5d-ab8dfbbd4bed")

// FanoutPayload carries the committed transition to notify about.
type FanoutPayload struct {
	Event workflow.Event `json:"event"`
}

// PushPayload carries a stored notification whose push failed.
type PushPayload struct {
	Notification notify.Notification `json:"notification"`
}

// PurgePayload overrides the configured retention when positive.
type PurgePayload struct {
	OlderThanSeconds int64 `json:"older_than_seconds,omitempty"`
}

// FanoutTaskID derives a stable id so the same transition is queued at most once.
func FanoutTaskID(evt workflow.Event) string {
	name := fmt.Sprintf("%s:%s:%d:%s:%d", TaskNotifyFanout, evt.DocType, evt.RecID, evt.Action, evt.At.UnixNano())
	return uuid.NewSHA1(taskNamespace, []byte(name)).String()
}

// PushTaskID derives a stable id per stored notification.
func PushTaskID(n notify.Notification) string {
	name := fmt.Sprintf("%s:%d", TaskNotifyPush, n.ID)
	return uuid.NewSHA1(taskNamespace, []byte(name)).String()
}

// NewFanoutTask builds a fan-out retry task.
func NewFanoutTask(evt workflow.Event) (*asynq.Task, error) {
	body, err := json.Marshal(FanoutPayload{Event: evt})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskNotifyFanout, body,
		asynq.Queue(QueueNotifications),
		asynq.TaskID(FanoutTaskID(evt)),
		asynq.MaxRetry(fanoutMaxRetry)), nil
}

// NewPushTask builds a push redelivery task.
func NewPushTask(n notify.Notification) (*asynq.Task, error) {
	body, err := json.Marshal(PushPayload{Notification: n})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskNotifyPush, body,
		asynq.Queue(QueueNotifications),
		asynq.TaskID(PushTaskID(n)),
		asynq.MaxRetry(pushMaxRetry)), nil
}

// NewPurgeTask builds a retention task. A zero olderThan uses the configured retention.
func NewPurgeTask(olderThan time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(PurgePayload{OlderThanSeconds: int64(olderThan / time.Second)})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskNotifyPurge, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}
