package history

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/outbox"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"
)

type projection interface {
	RecordCreated(ctx context.Context, e Entry) error
	MarkCancelled(ctx context.Context, orderID string, at time.Time) error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer projects order events into the history table. Offsets are committed only
// after the projection accepted the event, so a crash replays rather than loses.
type Consumer struct {
	repo         projection
	reader       messageReader
	retryInitial time.Duration
}

func NewConsumer(repo projection, topic, groupID string, brokers ...string) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{repo: repo, reader: reader, retryInitial: 500 * time.Millisecond}
}

func (c *Consumer) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).Warn("error reading message")
			time.Sleep(time.Second)
			continue
		}

		// Offsets only move forward, so a failing event is retried in place
		err = backoff.RetryNotify(func() error {
			return c.processMessage(ctx, m)
		}, backoff.WithContext(c.retryBackOff(), ctx), func(err error, next time.Duration) {
			log.WithError(err).WithFields(log.Fields{"offset": m.Offset, "retry_in": next}).Error("failed to project order event")
		})
		if err != nil {
			return
		}
		if err := c.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			log.WithError(err).Warn("failed to commit offset")
		}
	}
}

func (c *Consumer) retryBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryInitial
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return b
}

func (c *Consumer) Close() {
	if err := c.reader.Close(); err != nil {
		log.WithError(err).Warn("error closing kafka reader")
	}
}

func eventType(m kafka.Message) string {
	for _, h := range m.Headers {
		if h.Key == outbox.HeaderEventType {
			return string(h.Value)
		}
	}
	return ""
}

// processMessage returns an error only for failures worth redelivering
func (c *Consumer) processMessage(ctx context.Context, m kafka.Message) error {
	entry := log.WithField("order_id", string(m.Key))

	var order domain.Order
	if err := json.Unmarshal(m.Value, &order); err != nil {
		entry.WithError(err).Warn("skipping unparsable order event")
		return nil
	}

	switch typ := eventType(m); typ {
	case domain.EventOrderCreated:
		err := c.repo.RecordCreated(ctx, EntryFromOrder(order))
		if errors.Is(err, ErrDuplicateOrder) {
			entry.Info("order already recorded, skipping")
			return nil
		}
		if err != nil {
			return err
		}
		entry.Info("order recorded")
	case domain.EventOrderCancelled:
		at := m.Time
		if at.IsZero() {
			at = time.Now()
		}
		err := c.repo.MarkCancelled(ctx, order.ID, at)
		if errors.Is(err, ErrEntryNotFound) {
			entry.Warn("cancellation for unknown order, skipping")
			return nil
		}
		if err != nil {
			return err
		}
		entry.Info("order marked cancelled")
	default:
		entry.WithField("event_type", typ).Warn("skipping unknown event type")
	}
	return nil
}
