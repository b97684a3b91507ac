package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ternarybob/arbor"

	"github.com/probatio/probatio/internal/common"
	"github.com/probatio/probatio/internal/interfaces"
)

func setupRedisQueue(t *testing.T) *RedisQueue {
	t.Helper()
	srv := miniredis.RunT(t)
	q, err := NewRedisQueue(arbor.NewLogger(), &common.QueueConfig{
		Backend: "redis",
		Redis:   common.RedisQueue{Addr: srv.Addr()},
	})
	if err != nil {
		t.Fatalf("Failed to create redis queue: %v", err)
	}
	q.receiveTimeout = 50 * time.Millisecond
	t.Cleanup(func() { q.Close() })
	return q
}

func TestRedisQueue_PriorityOrder(t *testing.T) {
	q := setupRedisQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, QueueLow, envelope("job-low")); err != nil {
		t.Fatalf("Enqueue low failed: %v", err)
	}
	if err := q.Enqueue(ctx, QueueHigh, envelope("job-high")); err != nil {
		t.Fatalf("Enqueue high failed: %v", err)
	}
	if err := q.Enqueue(ctx, QueueNormal, envelope("job-normal")); err != nil {
		t.Fatalf("Enqueue normal failed: %v", err)
	}

	for _, want := range []string{"job-high", "job-normal", "job-low"} {
		msg, ack, err := q.Receive(ctx)
		if err != nil {
			t.Fatalf("Receive failed: %v", err)
		}
		if msg.JobID != want {
			t.Errorf("Expected %s, got %s", want, msg.JobID)
		}
		if err := ack(); err != nil {
			t.Fatalf("Ack failed: %v", err)
		}
	}

	if _, _, err := q.Receive(ctx); !errors.Is(err, interfaces.ErrNoMessage) {
		t.Errorf("Expected ErrNoMessage, got: %v", err)
	}
}

func TestRedisQueue_DelayedPromotion(t *testing.T) {
	q := setupRedisQueue(t)
	ctx := context.Background()

	if err := q.EnqueueWithDelay(ctx, QueueNormal, envelope("later"), 60*time.Millisecond); err != nil {
		t.Fatalf("EnqueueWithDelay failed: %v", err)
	}

	// Not yet due: counted in length but not receivable.
	length, err := q.Length(ctx, QueueNormal)
	if err != nil {
		t.Fatalf("Length failed: %v", err)
	}
	if length != 1 {
		t.Errorf("Expected length 1 including delayed, got %d", length)
	}
	if _, _, err := q.Receive(ctx); !errors.Is(err, interfaces.ErrNoMessage) {
		t.Errorf("Delayed message should not be receivable, got: %v", err)
	}

	time.Sleep(90 * time.Millisecond)

	msg, _, err := q.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive after delay failed: %v", err)
	}
	if msg.JobID != "later" {
		t.Errorf("Expected promoted message, got %s", msg.JobID)
	}
}

func TestRedisQueue_MalformedMessageSkipped(t *testing.T) {
	srv := miniredis.RunT(t)
	q, err := NewRedisQueue(arbor.NewLogger(), &common.QueueConfig{
		Backend: "redis",
		Redis:   common.RedisQueue{Addr: srv.Addr(), KeyPrefix: "test:"},
	})
	if err != nil {
		t.Fatalf("Failed to create redis queue: %v", err)
	}
	defer q.Close()
	q.receiveTimeout = 50 * time.Millisecond

	srv.Lpush("test:queue:normal", "not json")

	if _, _, err := q.Receive(context.Background()); !errors.Is(err, interfaces.ErrNoMessage) {
		t.Errorf("Malformed message should be dropped, got: %v", err)
	}
}

func TestRedisQueue_Stats(t *testing.T) {
	q := setupRedisQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, QueueHigh, envelope("a")); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := q.Enqueue(ctx, QueueHigh, envelope("b")); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := q.Enqueue(ctx, QueueLow, envelope("c")); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	stats, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats[QueueHigh] != 2 || stats[QueueNormal] != 0 || stats[QueueLow] != 1 {
		t.Errorf("Unexpected stats: %v", stats)
	}
}
