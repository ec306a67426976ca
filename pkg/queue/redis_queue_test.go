package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisJobQueueEnqueueStoresPayload(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	job, err := q.Enqueue(ctx, "email", []byte(`{"to":"a@example.com"}`))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	got, ok, err := q.GetJob(ctx, job.ID)
	if err != nil || !ok {
		t.Fatalf("get job: ok=%v err=%v", ok, err)
	}
	if got.Kind != "email" || got.Status != StatusQueued {
		t.Fatalf("unexpected job: %+v", got)
	}
	var body map[string]string
	if err := json.Unmarshal(got.Payload, &body); err != nil || body["to"] != "a@example.com" {
		t.Fatalf("payload not preserved: %s", got.Payload)
	}
}

func TestRedisJobQueueEnqueueRejectsBadInput(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	if _, err := q.Enqueue(ctx, "", []byte(`{}`)); err == nil {
		t.Fatalf("expected error for empty kind")
	}
	if _, err := q.Enqueue(ctx, "email", []byte(`not json`)); err == nil {
		t.Fatalf("expected error for invalid payload")
	}
}

func TestRedisJobQueueRequeueAndAckSuccess(t *testing.T) {
	q, ctx, msgID, jobID := newPendingQueueMessage(t)

	if err := q.requeueAndAck(ctx, msgID, jobID); err != nil {
		t.Fatalf("requeue and ack: %v", err)
	}

	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 0 {
		t.Fatalf("expected no pending messages, got %d", pending.Count)
	}

	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: "consumer-2",
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    0,
	}).Result()
	if err != nil {
		t.Fatalf("read requeued message: %v", err)
	}
	if len(streams) != 1 || len(streams[0].Messages) != 1 {
		t.Fatalf("expected one requeued message, got %+v", streams)
	}
	if got := streams[0].Messages[0].Values["job_id"]; got != jobID {
		t.Fatalf("unexpected requeued job id: %v", got)
	}
}

func TestRedisJobQueueRequeueAndAckFailureKeepsPendingMessage(t *testing.T) {
	q, ctx, msgID, jobID := newPendingQueueMessage(t)

	canceledCtx, cancel := context.WithCancel(ctx)
	cancel()
	if err := q.requeueAndAck(canceledCtx, msgID, jobID); err == nil {
		t.Fatalf("expected requeueAndAck to fail on canceled context")
	}

	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 1 {
		t.Fatalf("expected original message to remain pending, got %d", pending.Count)
	}
	streamLen, err := q.client.XLen(ctx, q.stream).Result()
	if err != nil {
		t.Fatalf("xlen: %v", err)
	}
	if streamLen != 1 {
		t.Fatalf("expected no new message in stream on failure, got len=%d", streamLen)
	}
}

func TestRedisJobQueueHandleMessageMarksFailedAfterRetries(t *testing.T) {
	q, ctx, msgID, jobID := newPendingQueueMessage(t)
	q.maxRetries = 1

	msg := redis.XMessage{ID: msgID, Values: map[string]any{"job_id": jobID}}
	q.handleMessage(ctx, msg, func(context.Context, Job) error { return errors.New("smtp down") })

	job, _, err := q.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != StatusFailed || job.ErrorMessage != "smtp down" || job.Attempts != 1 {
		t.Fatalf("unexpected job after failure: %+v", job)
	}
}

func TestRedisJobQueueRunProcessesJobs(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.ensureGroup(ctx); err != nil {
		t.Fatalf("ensure group: %v", err)
	}
	job, err := q.Enqueue(ctx, "email", []byte(`{}`))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	var handled atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- q.Run(ctx, 2, func(_ context.Context, j Job) error {
			if j.ID == job.ID {
				handled.Add(1)
				cancel()
			}
			return nil
		})
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
	if handled.Load() != 1 {
		t.Fatalf("expected job handled once, got %d", handled.Load())
	}
}

func TestRedisJobQueueRunConsumesBacklog(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	job, err := q.Enqueue(ctx, "email", []byte(`{"to":"a@example.com"}`))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- q.Run(ctx, 1, func(_ context.Context, j Job) error {
			if j.ID == job.ID {
				cancel()
			}
			return nil
		})
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("job enqueued before the consumer group existed was not processed")
	}
	if ctx.Err() != context.Canceled {
		t.Fatalf("run stopped without handling the backlog: %v", ctx.Err())
	}
}

func newTestQueue(t *testing.T) (*RedisJobQueue, *miniredis.Miniredis) {
	t.Helper()
	redisSrv := miniredis.RunT(t)
	q, err := NewRedisJobQueue(RedisQueueConfig{
		Addr:       redisSrv.Addr(),
		Stream:     "test:queue",
		Group:      "test-group",
		Consumer:   "consumer-1",
		RetryDelay: time.Millisecond,
		Block:      50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	return q, redisSrv
}

func newPendingQueueMessage(t *testing.T) (*RedisJobQueue, context.Context, string, string) {
	t.Helper()
	q, _ := newTestQueue(t)
	ctx := context.Background()
	if err := q.ensureGroup(ctx); err != nil {
		t.Fatalf("ensure group: %v", err)
	}

	job, err := q.Enqueue(ctx, "email", []byte(`{"to":"x@example.com"}`))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: "consumer-1",
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    0,
	}).Result()
	if err != nil {
		t.Fatalf("readgroup: %v", err)
	}
	if len(streams) != 1 || len(streams[0].Messages) != 1 {
		t.Fatalf("expected one pending message, got %+v", streams)
	}
	return q, ctx, streams[0].Messages[0].ID, job.ID
}
