package jobs

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryQueueCoalescesRepeatRefreshes(t *testing.T) {
	ctx := context.Background()
	queue := NewMemoryQueue(4)
	enqueuer := NewEnqueuer(queue)

	if err := enqueuer.Enqueue(ctx, CredentialRefreshMessage("usr1")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	// Same subject while the first message is still in flight.
	if err := enqueuer.Enqueue(ctx, CredentialRefreshMessage("usr1")); err != nil {
		t.Fatalf("enqueue duplicate: %v", err)
	}
	if err := enqueuer.Enqueue(ctx, CredentialRefreshMessage("usr2")); err != nil {
		t.Fatalf("enqueue other subject: %v", err)
	}

	first, err := queue.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	second, err := queue.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if first.Message().Parameters["subject_id"] != "usr1" || second.Message().Parameters["subject_id"] != "usr2" {
		t.Fatalf("unexpected queue order: %v then %v", first.Message().Parameters, second.Message().Parameters)
	}

	drained, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := queue.Dequeue(drained); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected empty queue, got %v", err)
	}
}

func TestMemoryQueueAckReleasesIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	queue := NewMemoryQueue(4)
	enqueuer := NewEnqueuer(queue)

	if err := enqueuer.Enqueue(ctx, CredentialRefreshMessage("usr1")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	delivery, err := queue.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if err := delivery.Ack(ctx); err != nil {
		t.Fatalf("ack: %v", err)
	}

	// A later failure for the same subject queues a fresh attempt.
	if err := enqueuer.Enqueue(ctx, CredentialRefreshMessage("usr1")); err != nil {
		t.Fatalf("enqueue after ack: %v", err)
	}
	if _, err := queue.Dequeue(ctx); err != nil {
		t.Fatalf("dequeue after ack: %v", err)
	}
}

type signalingRefreshService struct {
	refreshed chan string
	err       error
}

func (s *signalingRefreshService) ValidAccessToken(_ context.Context, subjectID string) (string, error) {
	s.refreshed <- subjectID
	return "token", s.err
}

func TestWorkerRunsQueuedRefresh(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := NewMemoryQueue(4)
	service := &signalingRefreshService{refreshed: make(chan string, 1)}
	runner, err := NewRunner(service, &stubPendingAuthStore{})
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	worker, err := NewWorker(queue, runner, nil)
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}

	stopped := make(chan error, 1)
	go func() {
		stopped <- worker.Run(ctx)
	}()

	if err := NewEnqueuer(queue).Enqueue(ctx, CredentialRefreshMessage("usr1")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	select {
	case subjectID := <-service.refreshed:
		if subjectID != "usr1" {
			t.Fatalf("refreshed subject %q", subjectID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker never processed the queued refresh")
	}

	cancel()
	select {
	case err := <-stopped:
		if err != nil {
			t.Fatalf("worker run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop on cancel")
	}
}

func TestWorkerKeepsDrainingAfterJobFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := NewMemoryQueue(4)
	service := &signalingRefreshService{
		refreshed: make(chan string, 2),
		err:       errors.New("refresh exploded"),
	}
	runner, err := NewRunner(service, &stubPendingAuthStore{})
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	worker, err := NewWorker(queue, runner, nil)
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	go worker.Run(ctx)

	enqueuer := NewEnqueuer(queue)
	if err := enqueuer.Enqueue(ctx, CredentialRefreshMessage("usr1")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	select {
	case <-service.refreshed:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never ran the failing job")
	}

	// The failed message is not requeued and the worker stays alive.
	if err := enqueuer.Enqueue(ctx, CredentialRefreshMessage("usr2")); err != nil {
		t.Fatalf("enqueue second: %v", err)
	}
	select {
	case subjectID := <-service.refreshed:
		if subjectID != "usr2" {
			t.Fatalf("expected usr2 next, got %q", subjectID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker stopped after a failing job")
	}
}
