package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/screenvault/screenvault/internal/config"
)

// fakeSQS records calls and plays back queued messages.
type fakeSQS struct {
	sent       []sqs.SendMessageInput
	deleted    []string
	visibility map[string]int32
	messages   []types.Message
	receiveErr error
}

func newFakeSQS() *fakeSQS {
	return &fakeSQS{visibility: make(map[string]int32)}
}

func (f *fakeSQS) SendMessage(ctx context.Context, input *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.sent = append(f.sent, *input)
	return &sqs.SendMessageOutput{MessageId: aws.String("m1")}, nil
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, input *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	if f.receiveErr != nil {
		return nil, f.receiveErr
	}
	out := &sqs.ReceiveMessageOutput{Messages: f.messages}
	f.messages = nil
	return out, nil
}

func (f *fakeSQS) DeleteMessage(ctx context.Context, input *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.deleted = append(f.deleted, *input.ReceiptHandle)
	return &sqs.DeleteMessageOutput{}, nil
}

func (f *fakeSQS) ChangeMessageVisibility(ctx context.Context, input *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error) {
	f.visibility[*input.ReceiptHandle] = input.VisibilityTimeout
	return &sqs.ChangeMessageVisibilityOutput{}, nil
}

func testQueueConfig() config.QueueConfig {
	return config.QueueConfig{
		QueueURL:          "https://sqs.test/queue",
		WaitTime:          time.Second,
		VisibilityTimeout: 5 * time.Minute,
		MaxMessages:       10,
	}
}

func TestEnqueue(t *testing.T) {
	fake := newFakeSQS()
	q := NewSQSQueueWithClient(fake, testQueueConfig(), nil)

	job := EnrichmentJob{ScreenshotID: uuid.New(), UserID: uuid.New()}
	require.NoError(t, q.Enqueue(context.Background(), job))

	require.Len(t, fake.sent, 1)
	assert.Equal(t, "https://sqs.test/queue", *fake.sent[0].QueueUrl)

	var got EnrichmentJob
	require.NoError(t, json.Unmarshal([]byte(*fake.sent[0].MessageBody), &got))
	assert.Equal(t, job.ScreenshotID, got.ScreenshotID)
	assert.Equal(t, job.UserID, got.UserID)
	assert.False(t, got.EnqueuedAt.IsZero())
}

func TestReceive(t *testing.T) {
	fake := newFakeSQS()
	job := EnrichmentJob{ScreenshotID: uuid.New(), UserID: uuid.New(), EnqueuedAt: time.Now().UTC()}
	body, _ := json.Marshal(job)
	fake.messages = []types.Message{
		{Body: aws.String(string(body)), ReceiptHandle: aws.String("r1")},
	}

	q := NewSQSQueueWithClient(fake, testQueueConfig(), nil)
	msgs, err := q.Receive(context.Background())
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, job.ScreenshotID, msgs[0].Job.ScreenshotID)
	assert.Equal(t, "r1", msgs[0].ReceiptHandle)
}

func TestReceiveAcksPoisonMessages(t *testing.T) {
	fake := newFakeSQS()
	job := EnrichmentJob{ScreenshotID: uuid.New()}
	body, _ := json.Marshal(job)
	fake.messages = []types.Message{
		{Body: aws.String("{not json"), ReceiptHandle: aws.String("poison")},
		{Body: aws.String(string(body)), ReceiptHandle: aws.String("good")},
	}

	q := NewSQSQueueWithClient(fake, testQueueConfig(), nil)
	msgs, err := q.Receive(context.Background())
	require.NoError(t, err)

	// The poison message is removed so it never loops; the good one flows.
	require.Len(t, msgs, 1)
	assert.Equal(t, "good", msgs[0].ReceiptHandle)
	assert.Equal(t, []string{"poison"}, fake.deleted)
}

func TestAck(t *testing.T) {
	fake := newFakeSQS()
	q := NewSQSQueueWithClient(fake, testQueueConfig(), nil)

	require.NoError(t, q.Ack(context.Background(), "r42"))
	assert.Equal(t, []string{"r42"}, fake.deleted)
}

func TestExtendLease(t *testing.T) {
	fake := newFakeSQS()
	q := NewSQSQueueWithClient(fake, testQueueConfig(), nil)

	require.NoError(t, q.ExtendLease(context.Background(), "r1", 2*time.Minute))
	assert.Equal(t, int32(120), fake.visibility["r1"])
}
