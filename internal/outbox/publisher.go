package outbox

import (
	"context"
	"time"

	"github.com/fjod/storefront/internal/store"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"
)

const (
	defaultBatchSize = 100
	HeaderEventType  = "event_type"
	HeaderEventID    = "event_id"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher relays outbox events written with order mutations to Kafka.
// Delivery is at least once: events are marked only after the broker accepted them.
type Publisher struct {
	events    store.OutboxStore
	writer    messageWriter
	eventTick time.Duration
	batchSize int
}

func NewPublisher(events store.OutboxStore, topic string, tick time.Duration, brokers ...string) *Publisher {
	w := &kafka.Writer{
		Addr:  kafka.TCP(brokers...),
		Topic: topic,
		// Keyed by order id so created and cancelled stay ordered
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		WriteTimeout:           10 * time.Second,
	}
	return &Publisher{events: events, writer: w, eventTick: tick, batchSize: defaultBatchSize}
}

func (p *Publisher) Run(ctx context.Context) {
	eventTicker := time.NewTicker(p.eventTick)
	defer eventTicker.Stop()
	for {
		select {
		case <-eventTicker.C:
			if _, err := p.publishPending(ctx); err != nil && ctx.Err() == nil {
				log.WithError(err).Warn("outbox publish failed")
			}
		case <-ctx.Done():
			return
		}
	}
}

// publishPending sends one batch and returns how many events were published
func (p *Publisher) publishPending(ctx context.Context) (int, error) {
	events, err := p.events.FetchUnpublished(ctx, p.batchSize)
	if err != nil {
		return 0, errors.Wrap(err, "failed to fetch events")
	}
	if len(events) == 0 {
		return 0, nil
	}

	msgs := make([]kafka.Message, 0, len(events))
	ids := make([]string, 0, len(events))
	for _, event := range events {
		msgs = append(msgs, kafka.Message{
			Key:   []byte(event.OrderID),
			Value: event.Payload,
			Headers: []kafka.Header{
				{Key: HeaderEventType, Value: []byte(event.Type)},
				{Key: HeaderEventID, Value: []byte(event.ID)},
			},
			Time: event.CreatedAt,
		})
		ids = append(ids, event.ID)
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return 0, errors.Wrapf(err, "failed to publish %d events", len(msgs))
	}
	if err := p.events.MarkPublished(ctx, ids); err != nil {
		return 0, errors.Wrap(err, "failed to mark events as published")
	}

	log.WithField("count", len(ids)).Debug("outbox events published")
	return len(ids), nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
