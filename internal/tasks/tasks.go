package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"greendrake/offers/internal/models"
	"greendrake/offers/internal/notify"
	"greendrake/offers/internal/services"
)

// TaskType defines the type of a background task.
const (
	TypeTimelineAppend      = "timeline:append"
	TypeNotificationDeliver = "notification:deliver"
)

const (
	QueueCritical = "critical"
	QueueDefault  = "default"

	DefaultTimelineRetries = 5
)

// --- Task Client (Enqueuing tasks) ---

// Enqueuer is the part of *asynq.Client the client needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

func redisOpt(rdb *redis.Client) asynq.RedisClientOpt {
	o := rdb.Options()
	return asynq.RedisClientOpt{Addr: o.Addr, Password: o.Password, DB: o.DB}
}

// NewAsynqClient connects an asynq client to the same Redis as rdb.
func NewAsynqClient(rdb *redis.Client) *asynq.Client {
	return asynq.NewClient(redisOpt(rdb))
}

// Client enqueues the background work of the offer service.
type Client struct {
	q               Enqueuer
	timelineRetries int
}

// NewClient wraps q. timelineRetries bounds the redelivery of failed
// timeline writes (DefaultTimelineRetries when <= 0).
func NewClient(q Enqueuer, timelineRetries int) *Client {
	if timelineRetries <= 0 {
		timelineRetries = DefaultTimelineRetries
	}
	return &Client{q: q, timelineRetries: timelineRetries}
}

// EnqueueTimelineAppend queues entry for another persist attempt.
func (c *Client) EnqueueTimelineAppend(ctx context.Context, entry *models.OfferTimeline) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal timeline payload: %w", err)
	}
	task := asynq.NewTask(TypeTimelineAppend, payload)
	info, err := c.q.EnqueueContext(ctx, task, asynq.Queue(QueueCritical), asynq.MaxRetry(c.timelineRetries))
	if err != nil {
		return fmt.Errorf("failed to enqueue timeline entry %s: %w", entry.ID, err)
	}
	log.Printf("Enqueued timeline retry task %s for offer %s (%s)", info.ID, entry.OfferID, entry.EventType)
	return nil
}

// EnqueueNotification queues n for delivery by the worker.
func (c *Client) EnqueueNotification(ctx context.Context, n notify.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification payload: %w", err)
	}
	task := asynq.NewTask(TypeNotificationDeliver, payload)
	if _, err := c.q.EnqueueContext(ctx, task, asynq.Queue(QueueDefault)); err != nil {
		return fmt.Errorf("failed to enqueue notification %s: %w", n.Kind, err)
	}
	return nil
}

// QueueNotifier hands notifications to the worker instead of delivering them
// inline.
type QueueNotifier struct {
	client *Client
}

// NewQueueNotifier creates a notifier that enqueues on client.
func NewQueueNotifier(client *Client) notify.Notifier {
	return &QueueNotifier{client: client}
}

func (q *QueueNotifier) Notify(ctx context.Context, n notify.Notification) error {
	n.Stamp()
	return q.client.EnqueueNotification(ctx, n)
}

// --- Task Server (Processing tasks) ---

// TaskProcessor handles the processing of tasks.
type TaskProcessor struct {
	timeline services.ITimelineService
	notifier notify.Notifier
}

func NewTaskProcessor(timeline services.ITimelineService, notifier notify.Notifier) *TaskProcessor {
	return &TaskProcessor{timeline: timeline, notifier: notifier}
}

// NewServer configures an asynq server on the same Redis as rdb.
func NewServer(rdb *redis.Client, concurrency int) *asynq.Server {
	return asynq.NewServer(
		redisOpt(rdb),
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				QueueCritical: 6,
				QueueDefault:  3,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log.Printf("ERROR: task %s failed: %v", task.Type(), err)
			}),
		},
	)
}

// Mux registers every handler of p.
func (p *TaskProcessor) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeTimelineAppend, p.HandleTimelineAppendTask)
	mux.HandleFunc(TypeNotificationDeliver, p.HandleNotificationDeliverTask)
	return mux
}

// --- Task Handlers ---

// HandleTimelineAppendTask persists a timeline entry whose synchronous write
// failed. Persist is idempotent on the entry id, so redelivery is safe.
func (p *TaskProcessor) HandleTimelineAppendTask(ctx context.Context, t *asynq.Task) error {
	var entry models.OfferTimeline
	if err := json.Unmarshal(t.Payload(), &entry); err != nil {
		return fmt.Errorf("failed to unmarshal timeline payload: %v: %w", err, asynq.SkipRetry)
	}
	if entry.ID.IsZero() || entry.OfferID.IsZero() || entry.EventType == "" {
		return fmt.Errorf("incomplete timeline entry: %w", asynq.SkipRetry)
	}

	if err := p.timeline.Persist(ctx, &entry); err != nil {
		log.Printf("WARNING: timeline retry for offer %s (%s) failed: %v", entry.OfferID, entry.EventType, err)
		return err
	}
	log.Printf("Timeline entry %s for offer %s persisted on retry", entry.ID, entry.OfferID)
	return nil
}

// HandleNotificationDeliverTask delivers a queued notification.
func (p *TaskProcessor) HandleNotificationDeliverTask(ctx context.Context, t *asynq.Task) error {
	var n notify.Notification
	if err := json.Unmarshal(t.Payload(), &n); err != nil {
		return fmt.Errorf("failed to unmarshal notification payload: %v: %w", err, asynq.SkipRetry)
	}
	if p.notifier == nil {
		return fmt.Errorf("no notifier configured: %w", asynq.SkipRetry)
	}
	return p.notifier.Notify(ctx, n)
}
