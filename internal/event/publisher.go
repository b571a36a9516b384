// Package event emits sync outcome events to Kafka for back-office
// consumers.
package event

import (
	"context"
	"log/slog"

	"github.com/Kellyhimself/POS-sub002/internal/domain"
	pkgkafka "github.com/Kellyhimself/POS-sub002/pkg/kafka"
	"github.com/Kellyhimself/POS-sub002/pkg/logger"
)

const source = "posd"

// Sync outcome event types.
const (
	ItemSynced   = "pos.sync.item_synced"
	ItemFailed   = "pos.sync.item_failed"
	ItemDeferred = "pos.sync.item_deferred"
)

// Producer publishes one event. *pkgkafka.Producer implements it.
type Producer interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// ItemOutcome is the payload of every sync outcome event.
type ItemOutcome struct {
	Domain         domain.Domain `json:"domain"`
	ItemID         string        `json:"item_id"`
	IdempotencyKey string        `json:"idempotency_key"`
	Attempts       int           `json:"attempts"`
	Reason         string        `json:"reason,omitempty"`
}

// Publisher turns queue outcomes into events. A nil producer disables it.
// Publishing is best effort: failures are logged and never affect the
// queue.
type Publisher struct {
	producer Producer
	topic    string
	storeID  string
	deviceID string
	logger   *slog.Logger
}

// NewPublisher creates a Publisher on topic.
func NewPublisher(producer Producer, topic, storeID, deviceID string, logger *slog.Logger) *Publisher {
	return &Publisher{
		producer: producer,
		topic:    topic,
		storeID:  storeID,
		deviceID: deviceID,
		logger:   logger,
	}
}

// Synced reports an item accepted upstream.
func (p *Publisher) Synced(ctx context.Context, item domain.QueueItem) {
	p.publish(ctx, ItemSynced, item, "")
}

// Failed reports an item rejected upstream.
func (p *Publisher) Failed(ctx context.Context, item domain.QueueItem, reason string) {
	p.publish(ctx, ItemFailed, item, reason)
}

// Deferred reports an item left pending for a later cycle.
func (p *Publisher) Deferred(ctx context.Context, item domain.QueueItem, cause error) {
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	p.publish(ctx, ItemDeferred, item, reason)
}

func (p *Publisher) publish(ctx context.Context, eventType string, item domain.QueueItem, reason string) {
	if p == nil || p.producer == nil {
		return
	}

	evt, err := pkgkafka.NewEvent(eventType, item.ID, string(item.Domain), source, ItemOutcome{
		Domain:         item.Domain,
		ItemID:         item.ID,
		IdempotencyKey: item.IdempotencyKey,
		Attempts:       item.Attempts,
		Reason:         reason,
	})
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to build sync event", slog.String("error", err.Error()))
		return
	}
	evt.WithStore(p.storeID, p.deviceID)
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		evt.WithCorrelationID(id)
	}

	if err := p.producer.Publish(ctx, p.topic, evt); err != nil {
		p.logger.WarnContext(ctx, "failed to publish sync event",
			slog.String("event_type", eventType),
			slog.String("item_id", item.ID),
			slog.String("error", err.Error()),
		)
	}
}
