package queue

import (
	"context"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"

	"github.com/kunzeritter/manual2vector/internal/domain"
)

func startTestNATS(t *testing.T) *natsserver.Server {
	t.Helper()
	opts := &natsserver.Options{
		Port:      -1,
		JetStream: true,
		StoreDir:  t.TempDir(),
	}
	srv, err := natsserver.NewServer(opts)
	if err != nil {
		t.Fatal(err)
	}
	srv.Start()
	if !srv.ReadyForConnections(3 * time.Second) {
		t.Fatal("nats not ready")
	}
	t.Cleanup(srv.Shutdown)
	return srv
}

func openTestQueue(t *testing.T, srv *natsserver.Server, stream, subject string) *Queue {
	t.Helper()
	q, err := Open(srv.ClientURL(), stream, subject)
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	t.Cleanup(q.Close)
	return q
}

func TestEnqueueDequeueAck(t *testing.T) {
	srv := startTestNATS(t)
	q := openTestQueue(t, srv, "TEST_STREAM", "tasks.test")

	task := domain.QueueTask{ID: "task-1", TaskType: "process_stage", CorrelationID: "err-1-abc"}
	if err := q.Enqueue(context.Background(), task); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	received := make(chan *Lease, 1)
	go func() {
		_ = q.Dequeue(ctx, "test-consumer", 5*time.Second, func(l *Lease) {
			received <- l
		})
	}()

	select {
	case lease := <-received:
		if lease.Task.ID != "task-1" {
			t.Fatalf("got task id %q, want task-1", lease.Task.ID)
		}
		if err := lease.Ack(); err != nil {
			t.Fatalf("ack: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for dequeue")
	}
}

func TestLeaseToDLQPublishesAndAcks(t *testing.T) {
	srv := startTestNATS(t)
	q := openTestQueue(t, srv, "TEST_STREAM_DLQ", "tasks.dlqtest")

	task := domain.QueueTask{ID: "task-2", TaskType: "process_stage"}
	if err := q.Enqueue(context.Background(), task); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	dlqSub, err := q.nc.SubscribeSync(DLQSubject)
	if err != nil {
		t.Fatalf("subscribe dlq: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = q.Dequeue(ctx, "dlq-consumer", 5*time.Second, func(l *Lease) {
			_ = l.ToDLQ(q, "exhausted retries")
			close(done)
		})
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for DLQ handoff")
	}

	msg, err := dlqSub.NextMsg(3 * time.Second)
	if err != nil {
		t.Fatalf("expected dlq message: %v", err)
	}
	if len(msg.Data) == 0 {
		t.Fatal("expected non-empty dlq payload")
	}
}
