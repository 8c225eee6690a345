// Package queue is the Processing Queue (spec §4.G): a NATS
// JetStream-backed task queue with leasing, extension, nack-to-retry, and
// an explicit ToDLQ that moves a task to a dead-letter subject — the same
// shape as the teacher's engine/ingest.StartConsumer DLQ/retry loop, but
// built on JetStream's native AckWait/InProgress/Nak instead of a hand
// rolled X-Retry-Count header.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"

	"github.com/kunzeritter/manual2vector/internal/domain"
)

// DLQSubject is where ToDLQ publishes dead-lettered tasks.
const DLQSubject = "tasks.dlq"

// natsHeaderCarrier adapts nats.Msg headers for OTel propagation, the
// queue boundary's half of the correlation id propagation requirement.
type natsHeaderCarrier nats.Msg

func (c *natsHeaderCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *natsHeaderCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *natsHeaderCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

// Queue wraps a JetStream context bound to a single stream/subject pair.
type Queue struct {
	js      nats.JetStreamContext
	nc      *nats.Conn
	stream  string
	subject string
}

// Open connects to a NATS server and ensures the stream exists.
func Open(natsURL, streamName, subject string) (*Queue, error) {
	nc, err := nats.Connect(natsURL)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:     streamName,
		Subjects: []string{subject},
	})
	if err != nil && err != nats.ErrStreamNameAlreadyInUse {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}
	return &Queue{js: js, nc: nc, stream: streamName, subject: subject}, nil
}

// Close drains the underlying connection.
func (q *Queue) Close() { q.nc.Close() }

// Enqueue publishes a task, propagating the OTel trace context from ctx
// into message headers so a document's correlation id survives the queue
// boundary.
func (q *Queue) Enqueue(ctx context.Context, task domain.QueueTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	msg := &nats.Msg{Subject: q.subject, Data: data}
	otel.GetTextMapPropagator().Inject(ctx, (*natsHeaderCarrier)(msg))
	_, err = q.js.PublishMsg(msg)
	return err
}

// Lease is an in-flight dequeued task; the caller must Ack, Nack, or
// Extend it before AckWait elapses or JetStream redelivers it.
type Lease struct {
	Task domain.QueueTask
	Ctx  context.Context
	msg  *nats.Msg
}

// Ack acknowledges successful processing.
func (l *Lease) Ack() error { return l.msg.Ack() }

// Nack signals failure, asking JetStream to redeliver the message. The
// caller picks between Nack, Ack and ToDLQ; nothing in this package
// routes a task to the DLQ on its own.
func (l *Lease) Nack() error { return l.msg.Nak() }

// Extend pushes back the next redelivery deadline for a long-running task.
func (l *Lease) Extend() error { return l.msg.InProgress() }

// ToDLQ publishes the task to the dead-letter subject and acks the
// original message so it is not redelivered. Dead-letter visibility is a
// supplement to the queue's core contract (spec §6), not a durability
// guarantee, so this goes out over core NATS rather than claiming a
// second JetStream stream subject.
func (l *Lease) ToDLQ(q *Queue, reason string) error {
	dlq := struct {
		Task   domain.QueueTask `json:"task"`
		Reason string           `json:"reason"`
	}{Task: l.Task, Reason: reason}
	data, err := json.Marshal(dlq)
	if err != nil {
		return fmt.Errorf("marshal dlq entry: %w", err)
	}
	if err := q.nc.Publish(DLQSubject, data); err != nil {
		return fmt.Errorf("publish dlq: %w", err)
	}
	return l.msg.Ack()
}

// Dequeue starts a durable pull consumer and invokes handler for each
// delivered task, blocking until ctx is cancelled.
func (q *Queue) Dequeue(ctx context.Context, durableName string, ackWait time.Duration, handler func(*Lease)) error {
	sub, err := q.js.PullSubscribe(q.subject, durableName, nats.AckWait(ackWait), nats.ManualAck())
	if err != nil {
		return fmt.Errorf("pull subscribe: %w", err)
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msgs, err := sub.Fetch(1, nats.MaxWait(2*time.Second))
		if err != nil {
			if err == nats.ErrTimeout {
				continue
			}
			return fmt.Errorf("fetch: %w", err)
		}
		for _, msg := range msgs {
			var task domain.QueueTask
			if err := json.Unmarshal(msg.Data, &task); err != nil {
				_ = msg.Ack() // malformed message, drop it rather than poison-loop
				continue
			}
			taskCtx := otel.GetTextMapPropagator().Extract(ctx, (*natsHeaderCarrier)(msg))
			handler(&Lease{Task: task, Ctx: taskCtx, msg: msg})
		}
	}
}
