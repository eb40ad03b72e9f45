package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/podushkina/docextract/internal/task"
)

const (
	pendingKey    = "docextract:pending"
	processingKey = "docextract:processing"
	claimsKey     = "docextract:claims"
	taskPrefix    = "docextract:task:"

	taskTTL = 24 * time.Hour
)

var (
	ErrNotFound        = errors.New("task not found")
	ErrAlreadyTerminal = errors.New("task already terminal")
)

// Queue is a Redis-backed work queue with late acknowledgement: a
// claimed item stays in a processing list until Ack, so a worker
// crash leads to redelivery instead of a lost task. Claiming moves
// the id between the two lists atomically; an id is therefore never
// outside both structures.
type Queue struct {
	client *redis.Client
}

func New(addr, password string, db int) (*Queue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &Queue{client: client}, nil
}

func (q *Queue) Close() error {
	return q.client.Close()
}

// Enqueue creates a PENDING task record and pushes its id onto the
// pending list in one pipeline.
func (q *Queue) Enqueue(ctx context.Context, input task.InputRef) (*task.Task, error) {
	t := &task.Task{
		ID:        uuid.New().String(),
		Input:     input,
		State:     task.StatePending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("marshal task: %w", err)
	}

	pipe := q.client.Pipeline()
	pipe.Set(ctx, taskPrefix+t.ID, data, taskTTL)
	pipe.RPush(ctx, pendingKey, t.ID)

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("enqueue task: %w", err)
	}

	return t, nil
}

// Remove undoes an Enqueue. Used by the dispatcher to roll back a
// submission whose metadata write failed.
func (q *Queue) Remove(ctx context.Context, id string) error {
	pipe := q.client.Pipeline()
	pipe.LRem(ctx, pendingKey, 0, id)
	pipe.Del(ctx, taskPrefix+id)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("remove task: %w", err)
	}
	return nil
}

// Claim blocks up to timeout for a pending item and moves it into the
// processing list in a single BLMOVE, so the id lives in exactly one
// of the two lists at every instant. Returns nil when nothing is
// available or when the claimed record has aged out.
func (q *Queue) Claim(ctx context.Context, timeout time.Duration) (*task.Task, error) {
	id, err := q.client.BLMove(ctx, pendingKey, processingKey, "LEFT", "RIGHT", timeout).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim task: %w", err)
	}

	// The claim timestamp is advisory. If this write fails the id
	// still sits in the processing list and the reaper treats a
	// markerless claim as immediately stale, so the task cannot be
	// lost, only redelivered early.
	if err := q.client.ZAdd(ctx, claimsKey, redis.Z{
		Score:  float64(time.Now().Unix()),
		Member: id,
	}).Err(); err != nil {
		return nil, fmt.Errorf("mark claimed: %w", err)
	}

	t, err := q.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		// Record expired while the id sat in the queue. Nothing to do.
		q.dropClaim(ctx, id)
		return nil, nil
	}

	return t, nil
}

// Ack removes a claimed item from the processing list. Call it only
// after the terminal result has been written.
func (q *Queue) Ack(ctx context.Context, id string) error {
	if err := q.dropClaim(ctx, id); err != nil {
		return fmt.Errorf("ack task: %w", err)
	}
	return nil
}

// RequeueStale redelivers processing-list items claimed longer than
// visibility ago and never acknowledged. Items without a claim
// timestamp are stale by definition: the claiming worker died between
// the move and the marker write. Items whose task is already terminal
// or gone are dropped instead.
func (q *Queue) RequeueStale(ctx context.Context, visibility time.Duration) (int, error) {
	cutoff := time.Now().Add(-visibility).Unix()

	ids, err := q.client.LRange(ctx, processingKey, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("scan stale claims: %w", err)
	}

	requeued := 0
	for _, id := range ids {
		score, err := q.client.ZScore(ctx, claimsKey, id).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return requeued, fmt.Errorf("read claim marker: %w", err)
		}
		if err == nil && int64(score) > cutoff {
			continue
		}

		if err := q.dropClaim(ctx, id); err != nil {
			return requeued, fmt.Errorf("drop stale claim: %w", err)
		}

		t, err := q.Get(ctx, id)
		if err != nil {
			return requeued, err
		}
		if t == nil || t.State.Terminal() {
			continue
		}

		if err := q.client.RPush(ctx, pendingKey, id).Err(); err != nil {
			return requeued, fmt.Errorf("requeue task: %w", err)
		}
		requeued++
	}

	return requeued, nil
}

func (q *Queue) dropClaim(ctx context.Context, id string) error {
	pipe := q.client.Pipeline()
	pipe.LRem(ctx, processingKey, 0, id)
	pipe.ZRem(ctx, claimsKey, id)

	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	return nil
}

// Get returns the task record, or nil if unknown or aged out.
func (q *Queue) Get(ctx context.Context, id string) (*task.Task, error) {
	data, err := q.client.Get(ctx, taskPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get task: %w", err)
	}

	var t task.Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("unmarshal task: %w", err)
	}

	return &t, nil
}

// MarkStarted transitions a claimed task to STARTED and returns the
// refreshed record. Tasks already revoked or terminal are returned
// unchanged so the caller can decide what to do with them.
func (q *Queue) MarkStarted(ctx context.Context, id string) (*task.Task, error) {
	t, err := q.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, ErrNotFound
	}
	if t.State != task.StatePending {
		return t, nil
	}

	t.State = task.StateStarted
	if err := q.save(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// WriteResult writes the terminal state exactly once. A terminal
// write overrides REVOKED; a second terminal write from a redelivered
// claim is ignored so the first result observed is the only result.
func (q *Queue) WriteResult(ctx context.Context, id string, res *task.Result) error {
	t, err := q.Get(ctx, id)
	if err != nil {
		return err
	}
	if t == nil {
		return ErrNotFound
	}
	if t.State.Terminal() {
		return nil
	}

	if res.Failed {
		t.State = task.StateFailure
	} else {
		t.State = task.StateSuccess
	}
	t.Result = res

	return q.save(ctx, t)
}

// Revoke marks cancellation intent. It is advisory: a worker already
// past its revocation check still finishes and its terminal write
// wins.
func (q *Queue) Revoke(ctx context.Context, id string) error {
	t, err := q.Get(ctx, id)
	if err != nil {
		return err
	}
	if t == nil {
		return ErrNotFound
	}
	if t.State.Terminal() {
		return ErrAlreadyTerminal
	}
	if t.State == task.StateRevoked {
		return nil
	}

	t.State = task.StateRevoked
	return q.save(ctx, t)
}

func (q *Queue) save(ctx context.Context, t *task.Task) error {
	t.UpdatedAt = time.Now()

	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}

	if err := q.client.Set(ctx, taskPrefix+t.ID, data, taskTTL).Err(); err != nil {
		return fmt.Errorf("save task: %w", err)
	}
	return nil
}
