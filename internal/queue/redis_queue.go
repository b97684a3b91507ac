package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ternarybob/arbor"

	"github.com/probatio/probatio/internal/common"
	"github.com/probatio/probatio/internal/interfaces"
	"github.com/probatio/probatio/internal/models"
)

// RedisQueue is the external queue backend for multi-node deployments. Each
// priority maps to a list; BRPOP across the three keys in order gives strict
// priority draining because Redis checks keys left to right. Delayed messages
// sit in a per-queue sorted set scored by their visible-at time and are
// promoted before each receive.
//
// Delivery is at-most-once per message: BRPOP removes the element, so Ack is
// a no-op. A worker dying mid-job loses the message, which the stale-job
// sweeper repairs from the authoritative job row.
type RedisQueue struct {
	client    *redis.Client
	keyPrefix string
	logger    arbor.ILogger

	// receiveTimeout bounds each BRPOP so Receive returns ErrNoMessage on an
	// idle queue instead of blocking forever.
	receiveTimeout time.Duration
}

// NewRedisQueue connects to Redis and verifies the connection.
func NewRedisQueue(logger arbor.ILogger, config *common.QueueConfig) (*RedisQueue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", config.Redis.Addr, err)
	}

	prefix := config.Redis.KeyPrefix
	if prefix == "" {
		prefix = "probatio:"
	}

	logger.Info().Str("addr", config.Redis.Addr).Msg("Redis queue initialized")
	return &RedisQueue{
		client:         client,
		keyPrefix:      prefix,
		logger:         logger,
		receiveTimeout: time.Second,
	}, nil
}

func (q *RedisQueue) listKey(queueName string) string {
	return q.keyPrefix + "queue:" + queueName
}

func (q *RedisQueue) delayedKey(queueName string) string {
	return q.keyPrefix + "queue:" + queueName + ":delayed"
}

func (q *RedisQueue) Enqueue(ctx context.Context, queueName string, msg *models.QueueMessage) error {
	if err := validQueueName(queueName); err != nil {
		return err
	}
	data, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to marshal queue message: %w", err)
	}
	if err := q.client.LPush(ctx, q.listKey(queueName), data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue: %w", err)
	}
	return nil
}

func (q *RedisQueue) EnqueueWithDelay(ctx context.Context, queueName string, msg *models.QueueMessage, delay time.Duration) error {
	if delay <= 0 {
		return q.Enqueue(ctx, queueName, msg)
	}
	if err := validQueueName(queueName); err != nil {
		return err
	}
	data, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to marshal queue message: %w", err)
	}
	score := float64(time.Now().UTC().Add(delay).UnixMilli())
	if err := q.client.ZAdd(ctx, q.delayedKey(queueName), redis.Z{Score: score, Member: data}).Err(); err != nil {
		return fmt.Errorf("failed to enqueue delayed: %w", err)
	}
	return nil
}

// promoteDue moves delayed messages whose time has come onto their lists.
// The promotion is not atomic with the read, so a crash between ZRem and
// LPush can drop a message; the stale-job sweeper requeues from the job row.
func (q *RedisQueue) promoteDue(ctx context.Context) error {
	nowScore := strconv.FormatInt(time.Now().UTC().UnixMilli(), 10)
	for _, queueName := range receiveOrder {
		due, err := q.client.ZRangeByScore(ctx, q.delayedKey(queueName), &redis.ZRangeBy{
			Min: "-inf",
			Max: nowScore,
		}).Result()
		if err != nil {
			return fmt.Errorf("failed to read delayed messages: %w", err)
		}
		for _, member := range due {
			removed, err := q.client.ZRem(ctx, q.delayedKey(queueName), member).Result()
			if err != nil {
				return err
			}
			// Another node may have promoted it first.
			if removed == 0 {
				continue
			}
			if err := q.client.LPush(ctx, q.listKey(queueName), member).Err(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (q *RedisQueue) Receive(ctx context.Context) (*models.QueueMessage, interfaces.AckFunc, error) {
	if err := q.promoteDue(ctx); err != nil {
		return nil, nil, err
	}

	keys := make([]string, 0, len(receiveOrder))
	for _, queueName := range receiveOrder {
		keys = append(keys, q.listKey(queueName))
	}

	result, err := q.client.BRPop(ctx, q.receiveTimeout, keys...).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil, interfaces.ErrNoMessage
		}
		return nil, nil, fmt.Errorf("failed to receive: %w", err)
	}
	// BRPop returns [key, value].
	if len(result) != 2 {
		return nil, nil, interfaces.ErrNoMessage
	}

	msg, err := models.QueueMessageFromJSON([]byte(result[1]))
	if err != nil {
		q.logger.Warn().Err(err).Str("key", result[0]).Msg("Dropping malformed queue message")
		return nil, nil, interfaces.ErrNoMessage
	}

	ack := func() error { return nil }
	return msg, ack, nil
}

func (q *RedisQueue) Length(ctx context.Context, queueName string) (int, error) {
	if err := validQueueName(queueName); err != nil {
		return 0, err
	}
	ready, err := q.client.LLen(ctx, q.listKey(queueName)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue length: %w", err)
	}
	delayed, err := q.client.ZCard(ctx, q.delayedKey(queueName)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get delayed count: %w", err)
	}
	return int(ready + delayed), nil
}

func (q *RedisQueue) Stats(ctx context.Context) (map[string]int, error) {
	stats := make(map[string]int, len(receiveOrder))
	for _, queueName := range receiveOrder {
		n, err := q.Length(ctx, queueName)
		if err != nil {
			return nil, err
		}
		stats[queueName] = n
	}
	return stats, nil
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}
