package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/andreasstove999/ecommerce-system/services/warehouse-service-go/internal/warehouse"
)

const (
	EventTypeStockCommand   = "StockCommand"
	EventTypeProductCreated = "ProductCreated"
	EventTypeStockChanged   = "StockChanged"
	EventTypeStockRejected  = "StockRejected"

	productCreatedSchema = "warehouse.product.created.v1"
	stockChangedSchema   = "warehouse.stock.changed.v1"
	stockRejectedSchema  = "warehouse.stock.rejected.v1"
)

// StockCommand asks the warehouse to run one quantity transition.
type StockCommand struct {
	Action   warehouse.Operation `json:"action"`
	ID       int64               `json:"id"`
	Quantity int                 `json:"quantity"`
}

type ProductCreatedPayload struct {
	Product   warehouse.Product `json:"product"`
	Timestamp time.Time         `json:"timestamp"`
}

type StockChangedPayload struct {
	Action           warehouse.Operation `json:"action"`
	ProductID        int64               `json:"productId"`
	Quantity         int                 `json:"quantity"`
	InStockQuantity  int                 `json:"inStockQuantity"`
	ReservedQuantity int                 `json:"reservedQuantity"`
	Timestamp        time.Time           `json:"timestamp"`
}

type StockRejectedPayload struct {
	Action      warehouse.Operation   `json:"action"`
	ProductID   int64                 `json:"productId"`
	Quantity    int                   `json:"quantity"`
	ErrorReason warehouse.ErrorReason `json:"errorReason"`
	Timestamp   time.Time             `json:"timestamp"`
}

type parsedStockCommand struct {
	Envelope *EventEnvelope
	Payload  StockCommand
}

// parseStockCommand accepts an enveloped command, or a bare payload when
// consumeEnveloped is false or the body carries no eventName.
func parseStockCommand(body []byte, consumeEnveloped bool) (parsedStockCommand, error) {
	if consumeEnveloped {
		env, err := parseEnvelope(body)
		if err != nil {
			return parsedStockCommand{}, fmt.Errorf("decode envelope: %w", err)
		}
		if env.EventName != "" {
			if err := env.Validate(EventTypeStockCommand, 1); err != nil {
				return parsedStockCommand{}, err
			}
			var cmd StockCommand
			if err := json.Unmarshal(env.Payload, &cmd); err != nil {
				return parsedStockCommand{}, fmt.Errorf("decode payload: %w", err)
			}
			return parsedStockCommand{Envelope: &env, Payload: cmd}, nil
		}
	}

	var cmd StockCommand
	if err := json.Unmarshal(body, &cmd); err != nil {
		return parsedStockCommand{}, fmt.Errorf("decode command: %w", err)
	}
	return parsedStockCommand{Payload: cmd}, nil
}
