package game

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// CheckGameQueueName is the FIFO job list shared by the game service (producer)
// and the check worker (consumer).
const CheckGameQueueName = "check_game_queue"

const JobKindCheckGame = "check_game"

// CheckGameJob asks the worker to re-evaluate a game for termination. The
// payload bytes are stable for a given game id so the job can be removed from
// the list by value once the game is over.
type CheckGameJob struct {
	Kind   string `json:"kind"`
	GameID string `json:"game_id"`
}

func NewCheckGameJob(gameID string) CheckGameJob {
	return CheckGameJob{Kind: JobKindCheckGame, GameID: gameID}
}

// JobQueue is a FIFO of check-game jobs. Enqueue appends to the back, Requeue
// puts a job at the head (next to pop), Pop returns nil when the queue is
// empty, Remove deletes all copies of a job by value.
type JobQueue interface {
	Enqueue(ctx context.Context, job CheckGameJob) error
	Requeue(ctx context.Context, job CheckGameJob) error
	Pop(ctx context.Context) (*CheckGameJob, error)
	Remove(ctx context.Context, job CheckGameJob) error
}

// RedisJobQueue keeps jobs in a Redis list: LPUSH producers, RPOP consumer.
type RedisJobQueue struct {
	rdb *redis.Client
}

func NewRedisJobQueue(rdb *redis.Client) *RedisJobQueue {
	return &RedisJobQueue{rdb: rdb}
}

func (q *RedisJobQueue) Enqueue(ctx context.Context, job CheckGameJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := q.rdb.LPush(ctx, CheckGameQueueName, data).Err(); err != nil {
		return fmt.Errorf("enqueue check-game job for %s: %w", job.GameID, err)
	}
	return nil
}

func (q *RedisJobQueue) Requeue(ctx context.Context, job CheckGameJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := q.rdb.RPush(ctx, CheckGameQueueName, data).Err(); err != nil {
		return fmt.Errorf("requeue check-game job for %s: %w", job.GameID, err)
	}
	return nil
}

func (q *RedisJobQueue) Pop(ctx context.Context) (*CheckGameJob, error) {
	data, err := q.rdb.RPop(ctx, CheckGameQueueName).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pop check-game job: %w", err)
	}

	var job CheckGameJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("decode check-game job: %w", err)
	}
	return &job, nil
}

func (q *RedisJobQueue) Remove(ctx context.Context, job CheckGameJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := q.rdb.LRem(ctx, CheckGameQueueName, 0, data).Err(); err != nil {
		return fmt.Errorf("remove check-game job for %s: %w", job.GameID, err)
	}
	return nil
}
