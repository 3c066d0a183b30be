// Package queue provides the durable enrichment job queue on SQS.
// Jobs survive process restarts; a message not deleted before its
// visibility timeout expires is re-delivered to another worker.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"

	"github.com/screenvault/screenvault/internal/config"
	"github.com/screenvault/screenvault/internal/observability"
)

// EnrichmentJob is the unit of work flowing through the queue, keyed
// by screenshot id.
type EnrichmentJob struct {
	ScreenshotID uuid.UUID `json:"screenshot_id"`
	UserID       uuid.UUID `json:"user_id"`
	EnqueuedAt   time.Time `json:"enqueued_at"`
}

// Message pairs a decoded job with the receipt handle that
// acknowledges or extends its lease.
type Message struct {
	Job           EnrichmentJob
	ReceiptHandle string
}

// JobQueue is the queue contract the scheduler depends on.
type JobQueue interface {
	Enqueue(ctx context.Context, job EnrichmentJob) error
	Receive(ctx context.Context) ([]Message, error)
	Ack(ctx context.Context, receiptHandle string) error
	ExtendLease(ctx context.Context, receiptHandle string, d time.Duration) error
}

// SQSAPI is the slice of the SQS client used here, split out so tests
// can inject a fake.
type SQSAPI interface {
	SendMessage(ctx context.Context, input *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, input *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, input *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, input *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

// SQSQueue implements JobQueue on SQS.
type SQSQueue struct {
	client SQSAPI
	cfg    config.QueueConfig
	logger observability.Logger
}

// NewSQSQueue creates the SQS-backed job queue.
func NewSQSQueue(ctx context.Context, cfg config.QueueConfig, logger observability.Logger) (*SQSQueue, error) {
	if logger == nil {
		logger = observability.NewLogger("queue.sqs")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var options []func(*sqs.Options)
	if cfg.Endpoint != "" {
		options = append(options, func(o *sqs.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	return &SQSQueue{
		client: sqs.NewFromConfig(awsCfg, options...),
		cfg:    cfg,
		logger: logger,
	}, nil
}

// NewSQSQueueWithClient injects a custom SQS client. Used in tests.
func NewSQSQueueWithClient(client SQSAPI, cfg config.QueueConfig, logger observability.Logger) *SQSQueue {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &SQSQueue{client: client, cfg: cfg, logger: logger}
}

// Enqueue publishes a job.
func (q *SQSQueue) Enqueue(ctx context.Context, job EnrichmentJob) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.cfg.QueueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue job for %s: %w", job.ScreenshotID, err)
	}

	q.logger.Debug("Enqueued enrichment job", map[string]interface{}{
		"screenshot_id": job.ScreenshotID.String(),
	})
	return nil
}

// Receive long-polls for jobs. Each returned message holds a lease of
// the configured visibility timeout.
func (q *SQSQueue) Receive(ctx context.Context) ([]Message, error) {
	resp, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.cfg.QueueURL),
		MaxNumberOfMessages: q.cfg.MaxMessages,
		WaitTimeSeconds:     int32(q.cfg.WaitTime.Seconds()),
		VisibilityTimeout:   int32(q.cfg.VisibilityTimeout.Seconds()),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to receive messages: %w", err)
	}

	var out []Message
	for _, msg := range resp.Messages {
		if msg.Body == nil || msg.ReceiptHandle == nil {
			continue
		}
		var job EnrichmentJob
		if err := json.Unmarshal([]byte(*msg.Body), &job); err != nil {
			q.logger.Warn("Dropping malformed queue message", map[string]interface{}{
				"error": err.Error(),
			})
			// Ack it so a poison message does not loop forever.
			_ = q.Ack(ctx, *msg.ReceiptHandle)
			continue
		}
		out = append(out, Message{Job: job, ReceiptHandle: *msg.ReceiptHandle})
	}
	return out, nil
}

// Ack deletes the message, completing its lease.
func (q *SQSQueue) Ack(ctx context.Context, receiptHandle string) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.cfg.QueueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("failed to ack message: %w", err)
	}
	return nil
}

// ExtendLease pushes the visibility timeout out for a long-running job.
func (q *SQSQueue) ExtendLease(ctx context.Context, receiptHandle string, d time.Duration) error {
	_, err := q.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(q.cfg.QueueURL),
		ReceiptHandle:     aws.String(receiptHandle),
		VisibilityTimeout: int32(d.Seconds()),
	})
	if err != nil {
		return fmt.Errorf("failed to extend lease: %w", err)
	}
	return nil
}
