package events

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type ConsumerOptions struct {
	ConsumeEnveloped bool
}

type consumeChannel interface {
	Cancel(consumer string, noWait bool) error
	Close() error
}

// Consumer delivers stock commands to a HandlerFunc until its context ends
// or Close is called.
type Consumer struct {
	ch   consumeChannel
	tag  string
	done chan struct{}
}

// StartStockCommandConsumer declares the command queue (with DLQ) and starts
// consuming in the background.
func StartStockCommandConsumer(ctx context.Context, conn *amqp.Connection, svc StockService, checkpoints Checkpoints, pub RejectionPublisher, logger *zap.Logger, opts ConsumerOptions) (*Consumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}

	queue := warehouseQueueName(StockCommandRoutingKey)
	if err := declareEventsExchange(ch); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare events exchange: %w", err)
	}
	if err := declareQueueWithDLQ(ch, queue, StockCommandRoutingKey); err != nil {
		_ = ch.Close()
		return nil, err
	}
	if err := ch.Qos(16, 0, false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("qos: %w", err)
	}

	msgs, err := ch.Consume(
		queue,
		stockCommandConsumerName, // consumer tag
		false,                    // autoAck
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("consume: %w", err)
	}

	handler := StockCommandHandler(svc, checkpoints, pub, logger, stockCommandConsumerName, opts.ConsumeEnveloped)
	c := &Consumer{ch: ch, tag: stockCommandConsumerName, done: make(chan struct{})}
	go func() {
		defer close(c.done)
		consume(ctx, msgs, handler, logger.With(zap.String("queue", queue)))
	}()

	logger.Info("consumer started", zap.String("queue", queue))
	return c, nil
}

// Close stops new deliveries, lets the message in flight finish and be acked,
// then closes the channel. Call it before cancelling the consumer's context.
func (c *Consumer) Close() error {
	cancelErr := c.ch.Cancel(c.tag, false)
	if cancelErr == nil {
		<-c.done
	}
	err := c.ch.Close()
	if cancelErr != nil {
		<-c.done
	}
	return errors.Join(cancelErr, err)
}

func consume(ctx context.Context, msgs <-chan amqp.Delivery, handler HandlerFunc, logger *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("stopping consumer")
			return
		case msg, ok := <-msgs:
			if !ok {
				logger.Info("messages channel closed")
				return
			}

			// A message already taken is finished even if shutdown starts meanwhile.
			if err := handler(context.WithoutCancel(ctx), msg.Body); err != nil {
				logger.Error("handle message", zap.Error(err))
				_ = msg.Nack(false, false) // dead-letter
				continue
			}
			_ = msg.Ack(false)
		}
	}
}
