package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/probatio/probatio/internal/common"
	"github.com/probatio/probatio/internal/interfaces"
	"github.com/probatio/probatio/internal/models"
)

// storedMessage wraps the job envelope with queue bookkeeping.
type storedMessage struct {
	ID           string               `json:"id"`
	Envelope     *models.QueueMessage `json:"envelope"`
	EnqueuedAt   time.Time            `json:"enqueued_at"`
	VisibleAt    time.Time            `json:"visible_at"`
	ReceiveCount int                  `json:"receive_count"`
}

// BadgerQueue is the embedded queue backend. Three priority queues share one
// Badger database. Each message has a data key and a visibility-index key
// whose zero-padded timestamp makes lexicographic iteration time-ordered:
//
//	queue:{name}:msg:{id}              message JSON
//	queue:{name}:index:{%020d}:{id}    empty, timestamp = VisibleAt UnixNano
//	queue:{name}:dead:{id}             poison messages after maxReceive
//
// Received messages stay in the queue with VisibleAt pushed out by the
// visibility timeout; Ack removes them. A worker crash therefore redelivers
// after the timeout, and the job row's claim transition absorbs duplicates.
type BadgerQueue struct {
	db                *badger.DB
	visibilityTimeout time.Duration
	maxReceive        int
	logger            arbor.ILogger
}

// NewBadgerQueue opens the queue database at the configured path. The queue
// owns the database handle and closes it on Close.
func NewBadgerQueue(logger arbor.ILogger, config *common.QueueConfig) (*BadgerQueue, error) {
	path := config.Badger.Path
	if path == "" {
		return nil, errors.New("badger queue path is required")
	}

	if config.Badger.ResetOnStartup {
		if _, err := os.Stat(path); err == nil {
			logger.Debug().Str("path", path).Msg("Deleting existing queue database (reset_on_startup=true)")
			if err := os.RemoveAll(path); err != nil {
				logger.Warn().Err(err).Str("path", path).Msg("Failed to delete queue directory")
			}
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create queue directory: %w", err)
	}

	options := badger.DefaultOptions(path)
	options.Logger = nil

	db, err := badger.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %w", err)
	}

	visibility := config.VisibilityTimeoutDuration()
	maxReceive := config.MaxReceive
	if maxReceive <= 0 {
		maxReceive = 3
	}

	logger.Info().Str("path", path).Msg("Badger queue initialized")
	return &BadgerQueue{
		db:                db,
		visibilityTimeout: visibility,
		maxReceive:        maxReceive,
		logger:            logger,
	}, nil
}

func (q *BadgerQueue) Enqueue(ctx context.Context, queueName string, msg *models.QueueMessage) error {
	return q.EnqueueWithDelay(ctx, queueName, msg, 0)
}

func (q *BadgerQueue) EnqueueWithDelay(ctx context.Context, queueName string, msg *models.QueueMessage, delay time.Duration) error {
	if err := validQueueName(queueName); err != nil {
		return err
	}

	now := time.Now().UTC()
	stored := storedMessage{
		ID:         uuid.New().String(),
		Envelope:   msg,
		EnqueuedAt: now,
		VisibleAt:  now.Add(delay),
	}
	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to marshal queue message: %w", err)
	}

	return q.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(msgKey(queueName, stored.ID), data); err != nil {
			return err
		}
		return txn.Set(indexKey(queueName, stored.VisibleAt, stored.ID), []byte{})
	})
}

// Receive scans the priority queues in order and claims the first visible
// message. The claim bumps the receive count and pushes the visibility index
// forward so other consumers skip it until the timeout lapses.
func (q *BadgerQueue) Receive(ctx context.Context) (*models.QueueMessage, interfaces.AckFunc, error) {
	for _, queueName := range receiveOrder {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		msg, ack, err := q.receiveFrom(queueName)
		if err == nil {
			return msg, ack, nil
		}
		if !errors.Is(err, interfaces.ErrNoMessage) {
			return nil, nil, err
		}
	}
	return nil, nil, interfaces.ErrNoMessage
}

func (q *BadgerQueue) receiveFrom(queueName string) (*models.QueueMessage, interfaces.AckFunc, error) {
	var claimed storedMessage

	err := q.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := indexPrefix(queueName)
		it := txn.NewIterator(opts)
		defer it.Close()

		now := time.Now().UTC()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			visibleAt, id, err := parseIndexKey(queueName, key)
			if err != nil {
				continue
			}
			// Index keys sort by timestamp, so the first future entry ends
			// the scan for this queue.
			if visibleAt.After(now) {
				break
			}

			item, err := txn.Get(msgKey(queueName, id))
			if err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					// Orphaned index entry, drop it and keep scanning.
					if derr := txn.Delete(key); derr != nil {
						return derr
					}
					continue
				}
				return err
			}
			var stored storedMessage
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &stored)
			}); err != nil {
				return err
			}

			if stored.ReceiveCount >= q.maxReceive {
				if err := q.deadLetter(txn, queueName, key, &stored); err != nil {
					return err
				}
				continue
			}

			stored.ReceiveCount++
			stored.VisibleAt = now.Add(q.visibilityTimeout)
			data, err := json.Marshal(stored)
			if err != nil {
				return err
			}
			if err := txn.Set(msgKey(queueName, stored.ID), data); err != nil {
				return err
			}
			if err := txn.Delete(key); err != nil {
				return err
			}
			if err := txn.Set(indexKey(queueName, stored.VisibleAt, stored.ID), []byte{}); err != nil {
				return err
			}
			claimed = stored
			return nil
		}
		return interfaces.ErrNoMessage
	})
	if err != nil {
		return nil, nil, err
	}

	id := claimed.ID
	ack := func() error {
		return q.db.Update(func(txn *badger.Txn) error {
			return q.remove(txn, queueName, id)
		})
	}
	return claimed.Envelope, ack, nil
}

// deadLetter moves a poison message out of the active queue so it stops
// burning receive attempts but stays inspectable.
func (q *BadgerQueue) deadLetter(txn *badger.Txn, queueName string, idxKey []byte, stored *storedMessage) error {
	data, err := json.Marshal(stored)
	if err != nil {
		return err
	}
	if err := txn.Set(deadKey(queueName, stored.ID), data); err != nil {
		return err
	}
	if err := txn.Delete(idxKey); err != nil {
		return err
	}
	if err := txn.Delete(msgKey(queueName, stored.ID)); err != nil {
		return err
	}
	jobID := ""
	if stored.Envelope != nil {
		jobID = stored.Envelope.JobID
	}
	q.logger.Warn().
		Str("queue", queueName).
		Str("job_id", jobID).
		Int("receive_count", stored.ReceiveCount).
		Msg("Message exceeded max receives, moved to dead letter")
	return nil
}

func (q *BadgerQueue) remove(txn *badger.Txn, queueName, id string) error {
	item, err := txn.Get(msgKey(queueName, id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	}
	var stored storedMessage
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &stored)
	}); err != nil {
		return err
	}
	if err := txn.Delete(indexKey(queueName, stored.VisibleAt, id)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return err
	}
	return txn.Delete(msgKey(queueName, id))
}

// Length counts messages in the queue, including not-yet-visible ones.
func (q *BadgerQueue) Length(ctx context.Context, queueName string) (int, error) {
	if err := validQueueName(queueName); err != nil {
		return 0, err
	}
	count := 0
	err := q.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := indexPrefix(queueName)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

func (q *BadgerQueue) Stats(ctx context.Context) (map[string]int, error) {
	stats := make(map[string]int, len(receiveOrder)+1)
	dead := 0
	err := q.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for _, queueName := range receiveOrder {
			n := 0
			prefix := indexPrefix(queueName)
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				n++
			}
			stats[queueName] = n

			deadPrefix := []byte(fmt.Sprintf("queue:%s:dead:", queueName))
			for it.Seek(deadPrefix); it.ValidForPrefix(deadPrefix); it.Next() {
				dead++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	stats["dead"] = dead
	return stats, nil
}

func (q *BadgerQueue) Close() error {
	return q.db.Close()
}

func validQueueName(name string) error {
	switch name {
	case QueueHigh, QueueNormal, QueueLow:
		return nil
	default:
		return fmt.Errorf("unknown queue %q", name)
	}
}

func msgKey(queueName, id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:msg:%s", queueName, id))
}

func deadKey(queueName, id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:dead:%s", queueName, id))
}

func indexPrefix(queueName string) []byte {
	return []byte(fmt.Sprintf("queue:%s:index:", queueName))
}

// indexKey zero-pads the timestamp to 20 digits so byte ordering matches
// numeric ordering.
func indexKey(queueName string, visibleAt time.Time, id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:index:%020d:%s", queueName, visibleAt.UnixNano(), id))
}

func parseIndexKey(queueName string, key []byte) (time.Time, string, error) {
	prefix := indexPrefix(queueName)
	if len(key) <= len(prefix) {
		return time.Time{}, "", fmt.Errorf("invalid index key")
	}
	suffix := string(key[len(prefix):])
	if len(suffix) < 22 {
		return time.Time{}, "", fmt.Errorf("invalid index key")
	}
	var ts int64
	if _, err := fmt.Sscanf(suffix[:20], "%d", &ts); err != nil {
		return time.Time{}, "", err
	}
	return time.Unix(0, ts).UTC(), suffix[21:], nil
}
