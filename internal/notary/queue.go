package notary

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultQueueKey = "notary:retry"

// Queue is the durable notarization retry queue. Entries survive process
// restarts; each carries its attempt count.
type Queue struct {
	Rdb *redis.Client
	Key string
}

func NewQueue(rdb *redis.Client) *Queue {
	return &Queue{Rdb: rdb, Key: defaultQueueKey}
}

type item struct {
	TxID     uuid.UUID
	Attempts int
}

func (i item) encode() string {
	return i.TxID.String() + ":" + strconv.Itoa(i.Attempts)
}

func decodeItem(s string) (item, error) {
	idx := strings.LastIndex(s, ":")
	if idx < 0 {
		return item{}, fmt.Errorf("malformed queue item %q", s)
	}
	id, err := uuid.Parse(s[:idx])
	if err != nil {
		return item{}, err
	}
	attempts, err := strconv.Atoi(s[idx+1:])
	if err != nil {
		return item{}, err
	}
	return item{TxID: id, Attempts: attempts}, nil
}

// Enqueue queues a fresh transaction for notarization.
func (q *Queue) Enqueue(ctx context.Context, txID uuid.UUID) error {
	return q.push(ctx, item{TxID: txID})
}

func (q *Queue) push(ctx context.Context, i item) error {
	return q.Rdb.LPush(ctx, q.Key, i.encode()).Err()
}

// pop takes the oldest entry. Returns redis.Nil when the queue is empty.
func (q *Queue) pop(ctx context.Context) (item, error) {
	s, err := q.Rdb.RPop(ctx, q.Key).Result()
	if err != nil {
		return item{}, err
	}
	return decodeItem(s)
}

// Len reports the queue depth (health view).
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.Rdb.LLen(ctx, q.Key).Result()
}
