package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/Demonslyr/posthog/internal/config"
	"github.com/Demonslyr/posthog/internal/metrics"
	"github.com/Demonslyr/posthog/internal/pipeline"
)

// envelope pairs one fetched Kafka message with the runner's verdict,
// generalizing teacher's internal/consumer/envelope.go from an SQS
// ack/nack pair to a raw message pending commit.
type envelope struct {
	message kafkago.Message
	result  pipeline.Result
}

// Consumer runs a three-stage pipeline over a Kafka consumer group,
// generalizing teacher's internal/consumer/{receiver,parser_stage,
// batch_writer}.go from SQS receive/parse/batch-insert to Kafka
// fetch/process/batch-commit. A message that resolves Fatal stops the
// consumer; Retry leaves the message uncommitted for redelivery until it
// exhausts MaxRetryAttempts, at which point it is routed to the DLQ.
type Consumer struct {
	reader *kafkago.Reader
	runner *pipeline.Runner
	dlq    DeadLetterSink
	cfg    config.ConsumerConfig
	log    *zap.Logger

	fatalErr chan error

	retryMu       sync.Mutex
	retryAttempts map[string]int
}

// DeadLetterSink is the narrow interface the batch-commit stage needs to
// route a message that exhausted MaxRetryAttempts to the dead-letter queue.
type DeadLetterSink interface {
	Send(ctx context.Context, raw []byte, cause string) error
}

func NewConsumer(kafkaCfg config.KafkaConfig, consumerCfg config.ConsumerConfig, runner *pipeline.Runner, dlq DeadLetterSink, log *zap.Logger) *Consumer {
	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  kafkaCfg.Brokers,
		Topic:    kafkaCfg.ConsumerTopic,
		GroupID:  kafkaCfg.ConsumerGroupID,
		MinBytes: 1e3,
		MaxBytes: 10e6,
	})
	return &Consumer{
		reader:        reader,
		runner:        runner,
		dlq:           dlq,
		cfg:           consumerCfg,
		log:           log,
		fatalErr:      make(chan error, 1),
		retryAttempts: make(map[string]int),
	}
}

// Start runs the fetch -> process -> batch-commit pipeline until ctx is
// canceled or a Fatal result is produced, in which case it returns that
// error immediately so cmd/consumer can shut down the process.
func (c *Consumer) Start(ctx context.Context) error {
	msgChan := make(chan kafkago.Message, 100)
	envChan := make(chan envelope, 100)

	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		c.fetch(ctx, msgChan)
	}()
	go func() {
		defer wg.Done()
		c.process(ctx, msgChan, envChan)
	}()
	go func() {
		defer wg.Done()
		c.commitBatches(ctx, envChan)
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case err := <-c.fatalErr:
		return err
	case <-done:
		return nil
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

func (c *Consumer) fetch(ctx context.Context, out chan<- kafkago.Message) {
	defer close(out)
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Error("kafka fetch failed", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		select {
		case <-ctx.Done():
			return
		case out <- msg:
		}
	}
}

func (c *Consumer) process(ctx context.Context, in <-chan kafkago.Message, out chan<- envelope) {
	defer close(out)
	for msg := range in {
		start := time.Now()
		result, completions := c.runner.Run(ctx, msg.Value)
		metrics.StageDuration.WithLabelValues("pipeline_run").Observe(time.Since(start).Seconds())

		for _, completion := range completions {
			if err := completion.Wait(); err != nil {
				c.log.Warn("side-effect send failed", zap.Error(err))
			}
		}

		if result.Outcome() == pipeline.Fatal {
			select {
			case c.fatalErr <- result.Err():
			default:
			}
			return
		}

		select {
		case <-ctx.Done():
			return
		case out <- envelope{message: msg, result: result}:
		}
	}
}

// commitBatches buffers processed envelopes and commits their offsets in
// batches, matching teacher's internal/consumer/batch_writer.go size/
// timeout flush policy. A Retry envelope is left uncommitted for
// redelivery unless it has exhausted MaxRetryAttempts, in which case it is
// routed to the DLQ and committed instead (spec.md §4.1). Dropped
// envelopes are always terminal, counted drops and are never DLQ'd.
func (c *Consumer) commitBatches(ctx context.Context, in <-chan envelope) {
	timeout := time.Duration(c.cfg.BatchTimeoutSec) * time.Second
	ticker := time.NewTicker(timeout)
	defer ticker.Stop()

	batch := make([]envelope, 0, c.cfg.BatchSizeMax)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		c.commit(ctx, batch)
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case env, ok := <-in:
			if !ok {
				flush()
				return
			}
			if env.result.Outcome() == pipeline.Retry && !c.retriesExhausted(env) {
				// Left uncommitted; flush what has accumulated so far so a
				// stalled retry doesn't hold up already-settled offsets.
				flush()
				continue
			}
			batch = append(batch, env)
			if len(batch) >= c.cfg.BatchSizeMax {
				flush()
				ticker.Reset(timeout)
			}
		case <-ticker.C:
			flush()
		}
	}
}

// retriesExhausted records one more attempt for env's message and reports
// whether it has now exceeded MaxRetryAttempts. Attempts are tracked by
// topic+partition+offset, which stays stable across every redelivery of the same
// message until its offset is finally committed.
func (c *Consumer) retriesExhausted(env envelope) bool {
	key := fmt.Sprintf("%s/%d/%d", env.message.Topic, env.message.Partition, env.message.Offset)

	c.retryMu.Lock()
	c.retryAttempts[key]++
	attempts := c.retryAttempts[key]
	exhausted := attempts > c.cfg.MaxRetryAttempts
	if exhausted {
		delete(c.retryAttempts, key)
	}
	c.retryMu.Unlock()

	return exhausted
}

func (c *Consumer) commit(ctx context.Context, batch []envelope) {
	metrics.BatchSize.Observe(float64(len(batch)))
	messages := make([]kafkago.Message, 0, len(batch))
	for _, env := range batch {
		if env.result.Outcome() == pipeline.Retry && !env.result.DoNotSendToDLQ() {
			cause := fmt.Sprintf("retry_exhausted: %v", env.result.Err())
			if err := c.dlq.Send(ctx, env.message.Value, cause); err != nil {
				c.log.Error("dlq send failed after exhausting retries", zap.Error(err), zap.String("cause", cause))
			}
		}
		messages = append(messages, env.message)
	}
	if err := c.reader.CommitMessages(ctx, messages...); err != nil && !errors.Is(err, context.Canceled) {
		c.log.Error("kafka commit failed", zap.Int("batch_size", len(messages)), zap.Error(err))
	}
}
