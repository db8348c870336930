package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/draftloop/workflow"
)

// Subject layout for the work stream. Each document gets its own subject
// so stale-generation tasks can be traced per document in the stream.
const (
	taskSubjectPrefix = "workflow.task."
	taskSubjectFilter = "workflow.task.>"
	consumerName      = "draftloop-workers"
)

// JetStreamRunner is a workflow.Runner backed by a JetStream work stream.
// Tasks survive process restarts; a durable consumer with explicit acks
// and MaxAckPending 1 serializes execution, which also guarantees the
// per-document ordering the engine relies on. Infrastructure failures are
// NAKed with a backoff delay until the delivery limit, then terminated
// and reported exhausted.
type JetStreamRunner struct {
	js       jetstream.JetStream
	stream   string
	executor Executor
	opts     Options
	logger   *slog.Logger
}

// NewJetStreamRunner creates the runner and ensures the work stream
// exists. Call Consume to start executing tasks.
func NewJetStreamRunner(ctx context.Context, js jetstream.JetStream, stream string, executor Executor, opts Options, logger *slog.Logger) (*JetStreamRunner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts.normalize()

	_, err := js.Stream(ctx, stream)
	if err != nil {
		_, err = js.CreateStream(ctx, jetstream.StreamConfig{
			Name:      stream,
			Subjects:  []string{taskSubjectFilter},
			Retention: jetstream.WorkQueuePolicy,
			Storage:   jetstream.FileStorage,
		})
		if err != nil {
			return nil, fmt.Errorf("create work stream: %w", err)
		}
	}

	return &JetStreamRunner{
		js:       js,
		stream:   stream,
		executor: executor,
		opts:     opts,
		logger:   logger,
	}, nil
}

// Submit publishes the task to its document's subject. It returns once
// JetStream has acknowledged the publish.
func (r *JetStreamRunner) Submit(task workflow.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	_, err = r.js.Publish(context.Background(), taskSubjectPrefix+task.DocumentID, data)
	if err != nil {
		return fmt.Errorf("publish task: %w", err)
	}
	return nil
}

// Consume runs the worker loop until the context is cancelled. It blocks,
// so callers run it in its own goroutine.
func (r *JetStreamRunner) Consume(ctx context.Context) error {
	stream, err := r.js.Stream(ctx, r.stream)
	if err != nil {
		return fmt.Errorf("get work stream: %w", err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       consumerName,
		FilterSubject: taskSubjectFilter,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       2 * time.Minute,
		MaxDeliver:    r.opts.RetryLimit + 1,
		MaxAckPending: 1,
	})
	if err != nil {
		return fmt.Errorf("create work consumer: %w", err)
	}

	r.logger.Info("task consumer started", "stream", r.stream, "consumer", consumerName)

	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("task consumer stopping")
			return nil
		default:
		}

		// Fetch with a short timeout so we check ctx.Done regularly
		msgs, err := consumer.Fetch(1, jetstream.FetchMaxWait(5*time.Second))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			// Transient fetch errors are normal (timeouts, etc.)
			continue
		}

		for msg := range msgs.Messages() {
			r.processTask(ctx, msg)
		}
	}
}

// processTask executes a single task message and acks, naks, or
// terminates it depending on the outcome.
func (r *JetStreamRunner) processTask(ctx context.Context, msg jetstream.Msg) {
	var task workflow.Task
	if err := json.Unmarshal(msg.Data(), &task); err != nil {
		r.logger.Warn("dropping unparseable task", "error", err)
		_ = msg.Term()
		return
	}

	delivered := 1
	if meta, err := msg.Metadata(); err == nil {
		delivered = int(meta.NumDelivered)
	}
	task.Attempt = delivered

	err := r.executor.ExecuteTask(ctx, task)
	if err == nil || errors.Is(err, context.Canceled) {
		if ackErr := msg.Ack(); ackErr != nil {
			r.logger.Warn("failed to ack task", "task", task.Key(), "error", ackErr)
		}
		return
	}

	if delivered > r.opts.RetryLimit {
		r.logger.Error("stage task exhausted retries",
			"task", task.Key(),
			"deliveries", delivered,
			"error", err)
		_ = msg.Term()
		if r.opts.OnExhausted != nil {
			r.opts.OnExhausted(task, err)
		}
		return
	}

	delay := r.opts.backoffDelay(delivered)
	r.logger.Warn("stage task failed, scheduling redelivery",
		"task", task.Key(),
		"deliveries", delivered,
		"delay", delay,
		"error", err)
	if nakErr := msg.NakWithDelay(delay); nakErr != nil {
		r.logger.Warn("failed to nak task", "task", task.Key(), "error", nakErr)
	}
}
