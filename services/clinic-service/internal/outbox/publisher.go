package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/rakibhasan/clinicbook/libs/kafkax"
	"github.com/rakibhasan/clinicbook/libs/otelx"
)

const (
	batchSize      = 100
	pollInterval   = 2 * time.Second
	retentionAge   = 24 * time.Hour
	pruneFrequency = 500 // prune every N-th poll
)

// Publisher drains unpublished events to Kafka. One message per event, topic
// equal to the event type, key equal to the event ID so consumers dedup.
type Publisher struct {
	repo   *Repository
	writer *kafka.Writer
	logger *slog.Logger
}

func NewPublisher(repo *Repository, brokers []string, logger *slog.Logger) *Publisher {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Publisher{repo: repo, writer: writer, logger: logger}
}

// Run polls until ctx is cancelled. Errors are logged and the loop keeps
// going; an unreachable broker must not take the API down.
func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	defer p.writer.Close()

	polls := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := p.drainOnce(ctx); err != nil {
			p.logger.Error("outbox drain failed", "error", err)
		}
		polls++
		if polls%pruneFrequency == 0 {
			if n, err := p.repo.DeletePublishedBefore(ctx, time.Now().Add(-retentionAge)); err != nil {
				p.logger.Error("outbox prune failed", "error", err)
			} else if n > 0 {
				p.logger.Info("pruned published outbox events", "count", n)
			}
		}
	}
}

func (p *Publisher) drainOnce(ctx context.Context) error {
	tx, err := p.repo.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	events, err := p.repo.ClaimBatch(ctx, tx, batchSize)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	messages := make([]kafka.Message, 0, len(events))
	for _, ev := range events {
		msg := kafka.Message{
			Topic: ev.Type,
			Key:   []byte(ev.ID),
			Value: ev.Payload,
			Headers: []kafka.Header{
				{Key: "event_id", Value: []byte(ev.ID)},
				{Key: "event_type", Value: []byte(ev.Type)},
			},
		}
		evCtx := otelx.ContextWithTraceContext(ctx, ev.TraceParent, ev.TraceState)
		msg.Headers = kafkax.InjectTraceHeaders(evCtx, msg.Headers)
		messages = append(messages, msg)
	}

	if err := p.writer.WriteMessages(ctx, messages...); err != nil {
		return err
	}

	ids := make([]string, len(events))
	for i, ev := range events {
		ids[i] = ev.ID
	}
	if err := p.repo.MarkPublished(ctx, tx, ids); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	p.logger.Info("published outbox events", "count", len(events))
	return nil
}
