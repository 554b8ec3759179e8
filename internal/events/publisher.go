package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/andreasstove999/ecommerce-system/services/warehouse-service-go/internal/warehouse"
)

// Sequencer hands out monotonically increasing sequences per partition key.
type Sequencer interface {
	Next(ctx context.Context, partitionKey string) (int64, error)
}

type publishChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher emits warehouse events. It implements warehouse.Notifier.
type Publisher struct {
	ch                 publishChannel
	seq                Sequencer
	publishEnveloped   bool
	producerIdentifier string
	now                func() time.Time
}

type PublisherOptions struct {
	PublishEnveloped bool
	Producer         string
}

func NewPublisher(conn *amqp.Connection, seq Sequencer, opts PublisherOptions) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := declareEventsExchange(ch); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare events exchange: %w", err)
	}

	return newPublisher(ch, seq, opts), nil
}

func newPublisher(ch publishChannel, seq Sequencer, opts PublisherOptions) *Publisher {
	producer := opts.Producer
	if producer == "" {
		producer = warehouseServiceName
	}
	return &Publisher{
		ch:                 ch,
		seq:                seq,
		publishEnveloped:   opts.PublishEnveloped,
		producerIdentifier: producer,
		now:                func() time.Time { return time.Now().UTC() },
	}
}

func (p *Publisher) Close() error {
	return p.ch.Close()
}

func productPartitionKey(id int64) string {
	return "product-" + strconv.FormatInt(id, 10)
}

func (p *Publisher) ProductCreated(ctx context.Context, product warehouse.Product) error {
	payload := ProductCreatedPayload{
		Product:   product,
		Timestamp: p.now(),
	}
	return p.publish(ctx, ProductCreatedRoutingKey, EventTypeProductCreated, productCreatedSchema, productPartitionKey(product.ID), payload)
}

func (p *Publisher) StockChanged(ctx context.Context, op warehouse.Operation, quantity int, product warehouse.Product) error {
	payload := StockChangedPayload{
		Action:           op,
		ProductID:        product.ID,
		Quantity:         quantity,
		InStockQuantity:  product.InStockQuantity,
		ReservedQuantity: product.ReservedQuantity,
		Timestamp:        p.now(),
	}
	return p.publish(ctx, StockChangedRoutingKey, EventTypeStockChanged, stockChangedSchema, productPartitionKey(product.ID), payload)
}

func (p *Publisher) PublishStockRejected(ctx context.Context, cmd StockCommand, reason warehouse.ErrorReason) error {
	payload := StockRejectedPayload{
		Action:      cmd.Action,
		ProductID:   cmd.ID,
		Quantity:    cmd.Quantity,
		ErrorReason: reason,
		Timestamp:   p.now(),
	}
	return p.publish(ctx, StockRejectedRoutingKey, EventTypeStockRejected, stockRejectedSchema, productPartitionKey(cmd.ID), payload)
}

func (p *Publisher) publish(ctx context.Context, routingKey, eventName, schema, partitionKey string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", eventName, err)
	}
	if !p.publishEnveloped {
		return p.publishJSON(ctx, routingKey, raw)
	}

	seq, err := p.seq.Next(ctx, partitionKey)
	if err != nil {
		return fmt.Errorf("reserve sequence: %w", err)
	}

	env := p.newEnvelope(ctx, eventName, schema, partitionKey, seq, raw)
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s envelope: %w", eventName, err)
	}
	return p.publishJSON(ctx, routingKey, body)
}

func (p *Publisher) newEnvelope(ctx context.Context, eventName, schema, partitionKey string, seq int64, payload json.RawMessage) EventEnvelope {
	meta := MetaFrom(ctx)
	if meta.CorrelationID == "" {
		meta.CorrelationID = uuid.NewString()
	}
	return EventEnvelope{
		EventName:     eventName,
		EventVersion:  1,
		EventID:       uuid.NewString(),
		CorrelationID: meta.CorrelationID,
		CausationID:   meta.CausationID,
		Producer:      p.producerIdentifier,
		PartitionKey:  partitionKey,
		Sequence:      seq,
		OccurredAt:    p.now(),
		Schema:        schema,
		Payload:       payload,
	}
}

func (p *Publisher) publishJSON(ctx context.Context, routingKey string, body []byte) error {
	pubCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return p.ch.PublishWithContext(
		pubCtx,
		EventsExchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
}
