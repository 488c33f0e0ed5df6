// Package dlq repurposes an SQS queue as the pipeline's dead-letter sink:
// messages whose Retry result exceeds CONSUMER_MAX_RETRY_ATTEMPTS land here
// instead of the batch consumer's commit path discarding them silently.
// Dropped events are never sent here.
package dlq

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	"github.com/Demonslyr/posthog/internal/config"
)

// sqsAPI is the narrow slice of *sqs.Client that Sink depends on, letting
// tests substitute a fake instead of a live queue.
type sqsAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, opts ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, opts ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, opts ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Sink publishes a retry-exhausted event's raw payload and its cause to an SQS
// queue for operator inspection and manual redrive. Grounded on teacher's
// internal/queue/sqs/client.go client construction, repurposed from the
// primary event queue to a dead-letter-only role.
type Sink struct {
	client   sqsAPI
	queueURL string
	log      *zap.Logger
}

func New(ctx context.Context, cfg config.SQSConfig, log *zap.Logger) (*Sink, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}

	var clientOpts []func(*sqs.Options)
	if cfg.Endpoint != "" {
		log.Info("configuring dlq sqs client for local development", zap.String("endpoint", cfg.Endpoint))
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("dummy", "dummy", "")))
		clientOpts = append(clientOpts, func(o *sqs.Options) { o.BaseEndpoint = aws.String(cfg.Endpoint) })
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config for dlq: %w", err)
	}

	return &Sink{
		client:   sqs.NewFromConfig(awsCfg, clientOpts...),
		queueURL: cfg.QueueURL,
		log:      log,
	}, nil
}

// newWithClient builds a Sink around an already-constructed sqsAPI,
// bypassing AWS config loading. Used by tests to inject a fake client.
func newWithClient(client sqsAPI, queueURL string, log *zap.Logger) *Sink {
	return &Sink{client: client, queueURL: queueURL, log: log}
}

// Send publishes raw (the original bus payload) to the DLQ with cause as a
// message attribute, for operators to inspect and redrive.
func (s *Sink) Send(ctx context.Context, raw []byte, cause string) error {
	_, err := s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueURL),
		MessageBody: aws.String(string(raw)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"DropCause": {
				DataType:    aws.String("String"),
				StringValue: aws.String(cause),
			},
		},
	})
	if err != nil {
		s.log.Error("failed to send message to dlq", zap.String("cause", cause), zap.Error(err))
		return fmt.Errorf("send to dlq: %w", err)
	}
	return nil
}

// Redrive reads up to maxMessages from the DLQ and replays their bodies
// through replay, deleting each message only after a successful replay
// (spec.md SUPPLEMENTED FEATURES: DLQ redrive path).
func (s *Sink) Redrive(ctx context.Context, maxMessages int32, replay func(ctx context.Context, raw []byte) error) (int, error) {
	out, err := s.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(s.queueURL),
		MaxNumberOfMessages: maxMessages,
		WaitTimeSeconds:     1,
	})
	if err != nil {
		return 0, fmt.Errorf("receive dlq messages: %w", err)
	}

	replayed := 0
	for _, msg := range out.Messages {
		if msg.Body == nil {
			continue
		}
		if err := replay(ctx, []byte(*msg.Body)); err != nil {
			s.log.Warn("dlq redrive replay failed, leaving message queued", zap.Error(err))
			continue
		}
		if _, err := s.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      aws.String(s.queueURL),
			ReceiptHandle: msg.ReceiptHandle,
		}); err != nil {
			s.log.Error("failed to delete redriven dlq message", zap.Error(err))
			continue
		}
		replayed++
	}
	return replayed, nil
}
