package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/odyssey-erp/docflow/internal/jobs"
	"github.com/odyssey-erp/docflow/internal/notify"
	"github.com/odyssey-erp/docflow/internal/workflow"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func sampleEvent() workflow.Event {
	return workflow.Event{
		DocType: workflow.DocPurchaseOrder,
		RecID:   42,
		DocNo:   "PO-2024-0042",
		Action:  workflow.ActionSubmit,
		From:    workflow.StatusDraft,
		To:      workflow.StatusInReview,
		ActorID: 7,
		OwnerID: 7,
		At:      time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.tasks = append(f.tasks, task)
	if f.err != nil {
		return nil, f.err
	}
	return &asynq.TaskInfo{Type: task.Type()}, nil
}

func (f *fakeEnqueuer) Close() error { return nil }

type fakeNotifier struct {
	events []workflow.Event
	err    error
}

func (f *fakeNotifier) Notify(ctx context.Context, evt workflow.Event) ([]notify.Notification, error) {
	f.events = append(f.events, evt)
	if f.err != nil {
		return nil, f.err
	}
	return []notify.Notification{{UserID: 9}}, nil
}

type fakePusher struct {
	pushed []notify.Notification
	err    error
}

func (f *fakePusher) Push(ctx context.Context, n notify.Notification) error {
	f.pushed = append(f.pushed, n)
	return f.err
}

type fakePurger struct {
	olderThan []time.Duration
	removed   int64
}

func (f *fakePurger) Purge(ctx context.Context, olderThan time.Duration) (int64, error) {
	f.olderThan = append(f.olderThan, olderThan)
	return f.removed, nil
}

type fakeCleaner struct {
	retention time.Duration
	err       error
}

func (f *fakeCleaner) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	f.retention = olderThan
	return 3, f.err
}

func TestTaskIDsAreDeterministic(t *testing.T) {
	evt := sampleEvent()
	assert.Equal(t, FanoutTaskID(evt), FanoutTaskID(evt))

	other := evt
	other.Action = workflow.ActionApprove
	assert.NotEqual(t, FanoutTaskID(evt), FanoutTaskID(other))

	assert.Equal(t, PushTaskID(notify.Notification{ID: 5}), PushTaskID(notify.Notification{ID: 5}))
	assert.NotEqual(t, PushTaskID(notify.Notification{ID: 5}), PushTaskID(notify.Notification{ID: 6}))
}

func TestClientEnqueue(t *testing.T) {
	ctx := context.Background()
	fake := &fakeEnqueuer{}
	client := &Client{client: fake}

	require.NoError(t, client.EnqueueFanout(ctx, sampleEvent()))
	require.NoError(t, client.EnqueuePush(ctx, notify.Notification{ID: 11, UserID: 3, Kind: notify.KindApproved}))
	_, err := client.EnqueuePurge(ctx, time.Hour)
	require.NoError(t, err)

	require.Len(t, fake.tasks, 3)
	assert.Equal(t, TaskNotifyFanout, fake.tasks[0].Type())
	assert.Equal(t, TaskNotifyPush, fake.tasks[1].Type())
	assert.Equal(t, TaskNotifyPurge, fake.tasks[2].Type())

	var payload FanoutPayload
	require.NoError(t, json.Unmarshal(fake.tasks[0].Payload(), &payload))
	assert.Equal(t, sampleEvent().DocNo, payload.Event.DocNo)
	assert.True(t, sampleEvent().At.Equal(payload.Event.At))

	var purge PurgePayload
	require.NoError(t, json.Unmarshal(fake.tasks[2].Payload(), &purge))
	assert.Equal(t, int64(3600), purge.OlderThanSeconds)
}

func TestClientTreatsDuplicateAsQueued(t *testing.T) {
	ctx := context.Background()
	client := &Client{client: &fakeEnqueuer{err: asynq.ErrTaskIDConflict}}
	require.NoError(t, client.EnqueueFanout(ctx, sampleEvent()))

	client = &Client{client: &fakeEnqueuer{err: errors.New("redis down")}}
	require.Error(t, client.EnqueuePush(ctx, notify.Notification{ID: 1}))
}

func TestFanoutJob(t *testing.T) {
	ctx := context.Background()
	notifier := &fakeNotifier{}
	job := &FanoutJob{Notifier: notifier, Logger: discard, Metrics: jobmetrics.NewMetrics(prometheus.NewRegistry())}

	task, err := NewFanoutTask(sampleEvent())
	require.NoError(t, err)
	require.NoError(t, job.Handle(ctx, task))
	require.Len(t, notifier.events, 1)
	assert.Equal(t, int64(42), notifier.events[0].RecID)

	notifier.err = errors.New("store down")
	require.Error(t, job.Handle(ctx, task))

	err = job.Handle(ctx, asynq.NewTask(TaskNotifyFanout, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	var unset *FanoutJob
	require.Error(t, unset.Handle(ctx, task))
}

func TestPushJob(t *testing.T) {
	ctx := context.Background()
	pusher := &fakePusher{}
	job := &PushJob{Pusher: pusher, Logger: discard, Metrics: jobmetrics.NewMetrics(prometheus.NewRegistry())}

	task, err := NewPushTask(notify.Notification{ID: 8, UserID: 4, Message: "hello"})
	require.NoError(t, err)
	require.NoError(t, job.Handle(ctx, task))
	require.Len(t, pusher.pushed, 1)
	assert.Equal(t, "hello", pusher.pushed[0].Message)

	pusher.err = errors.New("publish failed")
	require.Error(t, job.Handle(ctx, task))
}

func TestPurgeJob(t *testing.T) {
	ctx := context.Background()
	purger := &fakePurger{removed: 12}
	cleaner := &fakeCleaner{}
	job := &PurgeJob{
		Notifications: purger,
		Keys:          cleaner,
		KeyRetention:  72 * time.Hour,
		Logger:        discard,
		Metrics:       jobmetrics.NewMetrics(prometheus.NewRegistry()),
	}

	task, err := NewPurgeTask(0)
	require.NoError(t, err)
	require.NoError(t, job.Handle(ctx, task))
	assert.Equal(t, []time.Duration{0}, purger.olderThan)
	assert.Equal(t, 72*time.Hour, cleaner.retention)

	task, err = NewPurgeTask(48 * time.Hour)
	require.NoError(t, err)
	require.NoError(t, job.Handle(ctx, task))
	assert.Equal(t, 48*time.Hour, purger.olderThan[1])

	cleaner.err = errors.New("db down")
	require.Error(t, job.Handle(ctx, task))
}

type fakeInspector struct {
	infos map[string]*asynq.QueueInfo
	err   error
}

func (f fakeInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	info, ok := f.infos[queue]
	if !ok {
		return nil, asynq.ErrQueueNotFound
	}
	return info, nil
}

func TestHealthHandler(t *testing.T) {
	serve := func(inspector QueueInspector) *httptest.ResponseRecorder {
		r := chi.NewRouter()
		r.Route("/jobs", NewHandler(inspector, discard).MountRoutes)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
		return rec
	}

	rec := serve(fakeInspector{infos: map[string]*asynq.QueueInfo{
		QueueNotifications: {Queue: QueueNotifications, Pending: 4, Retry: 2},
	}})
	require.Equal(t, http.StatusOK, rec.Code)
	var out []queueHealth
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 2)
	assert.Equal(t, queueHealth{Queue: QueueNotifications, Pending: 4, Retry: 2}, out[0])
	assert.Equal(t, queueHealth{Queue: QueueDefault}, out[1])

	rec = serve(fakeInspector{err: errors.New("redis down")})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = serve(nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
