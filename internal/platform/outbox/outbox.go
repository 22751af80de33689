// Package outbox queues SMS deliveries that were promised by a committed
// transaction. In-app notification rows are written inside the transaction;
// SMS leaves the process only after commit, through this queue.
package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/carelink/carelink/internal/platform/sms"
)

// Delivery is one pending SMS.
type Delivery struct {
	RecipientID uuid.UUID `json:"recipient_id"`
	Phone       string    `json:"phone"`
	Body        string    `json:"body"`
	ScheduleID  uuid.UUID `json:"schedule_id"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
}

// Queue accepts deliveries after commit and hands them to the worker in FIFO
// order. Order is global, which implies FIFO per recipient.
type Queue interface {
	Enqueue(ctx context.Context, d Delivery) error
	Dequeue(ctx context.Context) (*Delivery, error)
}

const redisKey = "carelink:sms:outbox"

// RedisQueue is the production queue. It survives process restarts, so
// deliveries promised by a committed transaction are not lost with the
// process.
type RedisQueue struct {
	client *redis.Client
}

func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client}
}

func (q *RedisQueue) Enqueue(ctx context.Context, d Delivery) error {
	d.EnqueuedAt = time.Now().UTC()
	payload, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return q.client.RPush(ctx, redisKey, payload).Err()
}

// Dequeue blocks up to five seconds for the next delivery. A nil delivery
// with nil error means the wait timed out.
func (q *RedisQueue) Dequeue(ctx context.Context) (*Delivery, error) {
	res, err := q.client.BLPop(ctx, 5*time.Second, redisKey).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	// BLPop returns [key, value].
	var d Delivery
	if err := json.Unmarshal([]byte(res[1]), &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// MemoryQueue is the in-process queue used in development and tests.
type MemoryQueue struct {
	ch chan Delivery
}

func NewMemoryQueue(size int) *MemoryQueue {
	return &MemoryQueue{ch: make(chan Delivery, size)}
}

func (q *MemoryQueue) Enqueue(_ context.Context, d Delivery) error {
	d.EnqueuedAt = time.Now().UTC()
	q.ch <- d
	return nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (*Delivery, error) {
	select {
	case d := <-q.ch:
		return &d, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(5 * time.Second):
		return nil, nil
	}
}

// Worker drains the queue and hands deliveries to the SMS gateway. A failed
// send is logged and dropped; the schedule change it announced has already
// committed and must not be undone.
type Worker struct {
	queue  Queue
	sender sms.Sender
	logger zerolog.Logger
}

func NewWorker(queue Queue, sender sms.Sender, logger zerolog.Logger) *Worker {
	return &Worker{queue: queue, sender: sender, logger: logger}
}

// Run consumes deliveries until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		d, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error().Err(err).Msg("sms outbox dequeue failed")
			time.Sleep(time.Second)
			continue
		}
		if d == nil {
			continue
		}

		if err := w.sender.Send(ctx, d.Phone, d.Body); err != nil {
			w.logger.Error().Err(err).
				Str("recipient_id", d.RecipientID.String()).
				Str("schedule_id", d.ScheduleID.String()).
				Msg("sms delivery failed")
		}
	}
}
