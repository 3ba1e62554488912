package tasks_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"greendrake/offers/internal/models"
	"greendrake/offers/internal/notify"
	"greendrake/offers/internal/services"
	"greendrake/offers/internal/store"
	"greendrake/offers/internal/tasks"
	"greendrake/offers/internal/telemetry"
	"greendrake/offers/internal/utils"
)

// --- Mocks ---

type MockEnqueuer struct {
	mock.Mock
}

func (m *MockEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	args := m.Called(ctx, task, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*asynq.TaskInfo), args.Error(1)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, n notify.Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

func ofType(typename string) interface{} {
	return mock.MatchedBy(func(t *asynq.Task) bool { return t.Type() == typename })
}

func newEntry() *models.OfferTimeline {
	return &models.OfferTimeline{
		ID:            utils.NewSixID(),
		OfferID:       utils.NewSixID(),
		EventType:     services.EventOfferAccepted,
		Title:         "Oferta aceptada",
		TriggeredBy:   utils.NewSixID(),
		TriggeredRole: models.RoleSeller,
		CreatedAt:     time.Now().UTC().Truncate(time.Millisecond),
	}
}

// --- Tests ---

func TestEnqueueTimelineAppend(t *testing.T) {
	q := new(MockEnqueuer)
	client := tasks.NewClient(q, 3)
	entry := newEntry()

	var queued *asynq.Task
	q.On("EnqueueContext", mock.Anything, ofType(tasks.TypeTimelineAppend), mock.Anything).
		Run(func(args mock.Arguments) {
			queued = args.Get(1).(*asynq.Task)
			assert.Len(t, args.Get(2).([]asynq.Option), 2)
		}).
		Return(&asynq.TaskInfo{ID: "task-1"}, nil)

	require.NoError(t, client.EnqueueTimelineAppend(context.Background(), entry))
	q.AssertExpectations(t)

	var got models.OfferTimeline
	require.NoError(t, json.Unmarshal(queued.Payload(), &got))
	assert.Equal(t, entry.ID, got.ID)
	assert.Equal(t, entry.EventType, got.EventType)
}

func TestEnqueueTimelineAppend_QueueDown(t *testing.T) {
	q := new(MockEnqueuer)
	client := tasks.NewClient(q, 0)
	q.On("EnqueueContext", mock.Anything, mock.Anything, mock.Anything).Return(nil, assert.AnError)

	err := client.EnqueueTimelineAppend(context.Background(), newEntry())
	assert.ErrorIs(t, err, assert.AnError)
}

func TestFailedAppendIsRetriedByWorker(t *testing.T) {
	st := store.NewMemoryStore()
	rec := telemetry.NewRecorder()
	timeline := services.NewTimelineService(st, rec)

	q := new(MockEnqueuer)
	var queued *asynq.Task
	q.On("EnqueueContext", mock.Anything, ofType(tasks.TypeTimelineAppend), mock.Anything).
		Run(func(args mock.Arguments) { queued = args.Get(1).(*asynq.Task) }).
		Return(&asynq.TaskInfo{ID: "task-1"}, nil)
	timeline.SetEnqueuer(tasks.NewClient(q, 5))

	entry := newEntry()
	st.FailNext(models.TableTimeline, &store.Error{Code: store.CodeUnavailable, Table: models.TableTimeline, Message: "connection reset"})
	timeline.Append(context.Background(), entry)

	require.NotNil(t, queued, "failed append should be queued")
	assert.Equal(t, int64(1), rec.Snapshot().Errors)
	list, err := timeline.List(context.Background(), entry.OfferID)
	require.NoError(t, err)
	assert.Empty(t, list)

	p := tasks.NewTaskProcessor(timeline, nil)
	require.NoError(t, p.HandleTimelineAppendTask(context.Background(), queued))
	// Redelivery of the same task does not duplicate the entry.
	require.NoError(t, p.HandleTimelineAppendTask(context.Background(), queued))

	list, err = timeline.List(context.Background(), entry.OfferID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, entry.ID, list[0].ID)
}

func TestHandleTimelineAppendTask_StoreDownIsRetried(t *testing.T) {
	st := store.NewMemoryStore()
	p := tasks.NewTaskProcessor(services.NewTimelineService(st, nil), nil)

	payload, err := json.Marshal(newEntry())
	require.NoError(t, err)
	st.FailNext(models.TableTimeline, &store.Error{Code: store.CodeUnavailable, Table: models.TableTimeline})

	err = p.HandleTimelineAppendTask(context.Background(), asynq.NewTask(tasks.TypeTimelineAppend, payload))
	require.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry))
}

func TestHandleTimelineAppendTask_BadPayload(t *testing.T) {
	p := tasks.NewTaskProcessor(services.NewTimelineService(store.NewMemoryStore(), nil), nil)

	err := p.HandleTimelineAppendTask(context.Background(), asynq.NewTask(tasks.TypeTimelineAppend, []byte("{")))
	assert.True(t, errors.Is(err, asynq.SkipRetry))

	err = p.HandleTimelineAppendTask(context.Background(), asynq.NewTask(tasks.TypeTimelineAppend, []byte(`{"title":"x"}`)))
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestQueueNotifier_RoundTrip(t *testing.T) {
	q := new(MockEnqueuer)
	var queued *asynq.Task
	q.On("EnqueueContext", mock.Anything, ofType(tasks.TypeNotificationDeliver), mock.Anything).
		Run(func(args mock.Arguments) { queued = args.Get(1).(*asynq.Task) }).
		Return(&asynq.TaskInfo{ID: "task-2"}, nil)

	n := tasks.NewQueueNotifier(tasks.NewClient(q, 0))
	require.NoError(t, n.Notify(context.Background(), notify.Notification{
		Kind: "document_uploaded", Title: "Nuevo documento", OfferID: "OFFER00001", Audience: []string{"seller"},
	}))
	require.NotNil(t, queued)

	notifier := new(MockNotifier)
	notifier.On("Notify", mock.Anything, mock.MatchedBy(func(n notify.Notification) bool {
		return n.Kind == "document_uploaded" && n.ID != "" && !n.CreatedAt.IsZero()
	})).Return(nil)

	p := tasks.NewTaskProcessor(nil, notifier)
	require.NoError(t, p.HandleNotificationDeliverTask(context.Background(), queued))
	notifier.AssertExpectations(t)
}

func TestHandleNotificationDeliverTask_Errors(t *testing.T) {
	notifier := new(MockNotifier)
	notifier.On("Notify", mock.Anything, mock.Anything).Return(assert.AnError)
	p := tasks.NewTaskProcessor(nil, notifier)

	payload, _ := json.Marshal(notify.Notification{Kind: "offer_accepted"})
	err := p.HandleNotificationDeliverTask(context.Background(), asynq.NewTask(tasks.TypeNotificationDeliver, payload))
	assert.ErrorIs(t, err, assert.AnError)

	err = p.HandleNotificationDeliverTask(context.Background(), asynq.NewTask(tasks.TypeNotificationDeliver, []byte("nope")))
	assert.True(t, errors.Is(err, asynq.SkipRetry))

	err = tasks.NewTaskProcessor(nil, nil).HandleNotificationDeliverTask(context.Background(), asynq.NewTask(tasks.TypeNotificationDeliver, payload))
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}
