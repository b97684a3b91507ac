package interfaces

import (
	"context"
	"errors"
	"time"

	"github.com/probatio/probatio/internal/models"
)

// ErrNoMessage is returned by Receive when every queue is empty.
var ErrNoMessage = errors.New("no messages in queue")

// AckFunc acknowledges a received message, removing it from the queue.
// An unacked message redelivers after the backend's visibility timeout.
type AckFunc func() error

// QueueManager is the job transport. Messages carry only job ids; the job
// row in the database is authoritative, which makes duplicate delivery safe.
type QueueManager interface {
	// Enqueue pushes a message onto the named queue (high, normal, low).
	Enqueue(ctx context.Context, queueName string, msg *models.QueueMessage) error
	// EnqueueWithDelay makes the message visible only after the delay.
	EnqueueWithDelay(ctx context.Context, queueName string, msg *models.QueueMessage, delay time.Duration) error
	// Receive pulls the next visible message, draining queues in strict
	// priority order: high before normal before low. ErrNoMessage when all
	// queues are empty.
	Receive(ctx context.Context) (*models.QueueMessage, AckFunc, error)
	Length(ctx context.Context, queueName string) (int, error)
	Stats(ctx context.Context) (map[string]int, error)
	Close() error
}
