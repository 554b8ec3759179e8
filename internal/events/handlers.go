package events

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/andreasstove999/ecommerce-system/services/warehouse-service-go/internal/warehouse"
)

// HandlerFunc processes one message body. Returning an error will NACK the
// message and it will be dead-lettered.
type HandlerFunc func(ctx context.Context, body []byte) error

// StockService is the part of warehouse.Service the command handler drives.
type StockService interface {
	GetProduct(ctx context.Context, id int64) (warehouse.Product, bool, error)
	Apply(ctx context.Context, op warehouse.Operation, p warehouse.Product, quantity int) (warehouse.Outcome, error)
}

// Checkpoints tracks the last processed sequence per consumer and partition.
type Checkpoints interface {
	Last(ctx context.Context, consumerName, partitionKey string) (int64, bool, error)
	Advance(ctx context.Context, consumerName, partitionKey string, newSeq int64) error
}

type RejectionPublisher interface {
	PublishStockRejected(ctx context.Context, cmd StockCommand, reason warehouse.ErrorReason) error
}

const stockCommandConsumerName = "warehouse-stock-command"

// StockCommandHandler runs order/ship/restock commands against the service.
// Business rejections are published as StockRejected; they are not errors.
func StockCommandHandler(svc StockService, checkpoints Checkpoints, pub RejectionPublisher, logger *zap.Logger, consumerName string, consumeEnveloped bool) HandlerFunc {
	return func(ctx context.Context, body []byte) error {
		msg, err := parseStockCommand(body, consumeEnveloped)
		if err != nil {
			return err
		}
		cmd := msg.Payload
		if !cmd.Action.Valid() {
			return fmt.Errorf("unknown action %q", cmd.Action)
		}

		var partitionKey string
		var incomingSeq int64
		meta := EventMeta{}
		if msg.Envelope != nil {
			partitionKey = msg.Envelope.PartitionKey
			incomingSeq = msg.Envelope.Sequence
			meta.CorrelationID = msg.Envelope.CorrelationID
			meta.CausationID = msg.Envelope.EventID
		}
		if meta.CorrelationID == "" {
			meta.CorrelationID = uuid.NewString()
		}
		ctx = WithMeta(ctx, meta)

		log := logger.With(
			zap.String("action", string(cmd.Action)),
			zap.Int64("product_id", cmd.ID),
			zap.Int("quantity", cmd.Quantity),
			zap.String("correlation_id", meta.CorrelationID),
		)

		if msg.Envelope != nil && incomingSeq != 0 {
			lastSeq, ok, err := checkpoints.Last(ctx, consumerName, partitionKey)
			if err != nil {
				return err
			}
			if ok {
				if incomingSeq <= lastSeq {
					log.Info("skip duplicate command", zap.String("partition", partitionKey), zap.Int64("seq", incomingSeq), zap.Int64("last", lastSeq))
					return nil
				}
				if incomingSeq > lastSeq+1 {
					log.Warn("sequence gap", zap.String("partition", partitionKey), zap.Int64("seq", incomingSeq), zap.Int64("last", lastSeq))
				}
			}
		}

		reason, err := runStockCommand(ctx, svc, cmd)
		if err != nil {
			return fmt.Errorf("%s product %d: %w", cmd.Action, cmd.ID, err)
		}

		if reason != "" {
			log.Info("stock command rejected", zap.String("reason", string(reason)))
			if err := pub.PublishStockRejected(ctx, cmd, reason); err != nil {
				return fmt.Errorf("publish StockRejected: %w", err)
			}
		} else {
			log.Info("stock command applied")
		}

		if msg.Envelope != nil && incomingSeq != 0 {
			if err := checkpoints.Advance(ctx, consumerName, partitionKey, incomingSeq); err != nil {
				return err
			}
		}
		return nil
	}
}

// runStockCommand mirrors the HTTP API: quantity first, then product lookup,
// then the transition itself.
func runStockCommand(ctx context.Context, svc StockService, cmd StockCommand) (warehouse.ErrorReason, error) {
	if cmd.Quantity < 0 {
		return warehouse.QuantityInvalid, nil
	}
	p, ok, err := svc.GetProduct(ctx, cmd.ID)
	if err != nil {
		return "", err
	}
	if !ok {
		return warehouse.InvalidRequest, nil
	}
	out, err := svc.Apply(ctx, cmd.Action, p, cmd.Quantity)
	if err != nil {
		return "", err
	}
	return out.Reason, nil
}
