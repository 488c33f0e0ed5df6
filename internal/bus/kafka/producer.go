// Package kafka implements the pipeline's message bus on segmentio/kafka-go:
// a consumer-group reader feeding the PipelineRunner, and a multi-topic
// producer fanning enriched events, ingestion warnings, heatmaps and
// exceptions out to their own topics.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/Demonslyr/posthog/internal/config"
	"github.com/Demonslyr/posthog/internal/domain"
	"github.com/Demonslyr/posthog/internal/pipeline"
)

// maxMessageBytes bounds a single produced message; anything larger is
// dropped with cause "message_size_too_large" instead of ever reaching the
// broker (spec.md §7).
const maxMessageBytes = 1 << 20

// completion is a channel-backed pipeline.Completion: the send happens on
// its own goroutine and Wait blocks until that goroutine reports its
// outcome, mirroring the source's future-per-send without a global
// collection of pending futures (DESIGN NOTES §9).
type completion struct {
	err chan error
}

func newCompletion() *completion {
	return &completion{err: make(chan error, 1)}
}

func (c *completion) resolve(err error) { c.err <- err }
func (c *completion) Wait() error       { return <-c.err }

// Producer fans enriched events, ingestion warnings, heatmap records and
// exception copies out to their own Kafka topics. Grounded on
// other_examples/quiby-ai-review-ingestor__kafka.go's kafka.Writer/
// kafka.TCP/kafka.LeastBytes construction.
type Producer struct {
	enrichedWriter  *kafkago.Writer
	warningsWriter  *kafkago.Writer
	heatmapsWriter  *kafkago.Writer
	exceptionWriter *kafkago.Writer
	log             *zap.Logger
}

func NewProducer(cfg config.KafkaConfig, log *zap.Logger) *Producer {
	newWriter := func(topic string) *kafkago.Writer {
		return &kafkago.Writer{
			Addr:                   kafkago.TCP(cfg.Brokers...),
			Topic:                  topic,
			Balancer:               &kafkago.LeastBytes{},
			AllowAutoTopicCreation: true,
		}
	}
	return &Producer{
		enrichedWriter:  newWriter(cfg.EnrichedEventsTopic),
		warningsWriter:  newWriter(cfg.IngestionWarningsTopic),
		heatmapsWriter:  newWriter(cfg.HeatmapsTopic),
		exceptionWriter: newWriter(cfg.ExceptionsTopic),
		log:             log,
	}
}

func (p *Producer) Close() error {
	for _, w := range []*kafkago.Writer{p.enrichedWriter, p.warningsWriter, p.heatmapsWriter, p.exceptionWriter} {
		if err := w.Close(); err != nil {
			return err
		}
	}
	return nil
}

func (p *Producer) SendEnrichedEvent(ev *domain.EnrichedEvent) pipeline.Completion {
	return p.sendJSON(p.enrichedWriter, ev.UUID, ev)
}

func (p *Producer) SendIngestionWarning(w domain.IngestionWarning) pipeline.Completion {
	return p.sendJSON(p.warningsWriter, fmt.Sprintf("%d:%s", w.TeamID, w.Type), w)
}

func (p *Producer) SendHeatmaps(records []domain.HeatmapRecord) pipeline.Completion {
	if len(records) == 0 {
		c := newCompletion()
		c.resolve(nil)
		return c
	}
	return p.sendJSON(p.heatmapsWriter, records[0].EventUUID, records)
}

func (p *Producer) SendException(ev *domain.EnrichedEvent) pipeline.Completion {
	return p.sendJSON(p.exceptionWriter, ev.UUID, ev)
}

func (p *Producer) sendJSON(w *kafkago.Writer, key string, payload any) pipeline.Completion {
	c := newCompletion()

	body, err := json.Marshal(payload)
	if err != nil {
		c.resolve(fmt.Errorf("marshal message: %w", err))
		return c
	}
	if len(body) > maxMessageBytes {
		c.resolve(pipeline.ErrMessageSizeTooLarge)
		return c
	}

	go func() {
		err := w.WriteMessages(context.Background(), kafkago.Message{Key: []byte(key), Value: body})
		if err != nil {
			p.log.Error("kafka produce failed", zap.String("topic", w.Topic), zap.Error(err))
		}
		c.resolve(err)
	}()

	return c
}
