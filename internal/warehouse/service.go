package warehouse

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "warehouse-service-go/warehouse"

// Notifier is told about changes after they have been persisted.
type Notifier interface {
	ProductCreated(ctx context.Context, p Product) error
	StockChanged(ctx context.Context, op Operation, quantity int, p Product) error
}

type nopNotifier struct{}

func (nopNotifier) ProductCreated(context.Context, Product) error { return nil }
func (nopNotifier) StockChanged(context.Context, Operation, int, Product) error { return nil }

// Service enforces the quantity invariants and name uniqueness on top of a Store.
//
// Transitions on the same product id are serialised: the current copy is
// re-read from the store under the id lock, so a caller holding a stale
// Product can never push reserved above in-stock or in-stock below zero.
type Service struct {
	store    Store
	notifier Notifier
	logger   *zap.Logger
	tracer   trace.Tracer

	locks    *keyedMutex
	insertMu sync.Mutex
}

// NewService wires a Service. A nil notifier or logger is replaced by a no-op.
func NewService(store Store, notifier Notifier, logger *zap.Logger) *Service {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    store,
		notifier: notifier,
		logger:   logger,
		tracer:   otel.Tracer(tracerName),
		locks:    newKeyedMutex(),
	}
}

// GetProduct returns false when no product has the id. Ids below 1 are never assigned.
func (s *Service) GetProduct(ctx context.Context, id int64) (Product, bool, error) {
	if id < 1 {
		return Product{}, false, nil
	}
	p, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Product{}, false, nil
		}
		return Product{}, false, err
	}
	return p, true, nil
}

func (s *Service) ListAllProducts(ctx context.Context) ([]Product, error) {
	return s.store.List(ctx)
}

func (s *Service) QueryProducts(ctx context.Context, pred Predicate) ([]Product, error) {
	return s.store.Query(ctx, pred)
}

func (s *Service) GetInStock(ctx context.Context) ([]Product, error) {
	return s.store.Query(ctx, InStock)
}

// UpdateProductQuantities persists the quantities of p as they are. No validation.
func (s *Service) UpdateProductQuantities(ctx context.Context, p Product) error {
	return s.store.UpdateQuantities(ctx, p)
}

// OrderItem reserves quantity units of p.
func (s *Service) OrderItem(ctx context.Context, p Product, quantity int) (Outcome, error) {
	return s.transition(ctx, OperationOrder, p, quantity, func(cur *Product) ErrorReason {
		if cur.InStockQuantity < cur.ReservedQuantity+quantity {
			return NotEnoughQuantity
		}
		cur.ReservedQuantity += quantity
		return ""
	})
}

// ShipItem consumes quantity units of stock and releases as much of the
// reservation, never taking reserved below zero.
func (s *Service) ShipItem(ctx context.Context, p Product, quantity int) (Outcome, error) {
	return s.transition(ctx, OperationShip, p, quantity, func(cur *Product) ErrorReason {
		if cur.InStockQuantity-quantity < 0 {
			return NotEnoughQuantity
		}
		cur.InStockQuantity -= quantity
		cur.ReservedQuantity = max(0, cur.ReservedQuantity-quantity)
		return ""
	})
}

// RestockItem adds quantity units of stock.
func (s *Service) RestockItem(ctx context.Context, p Product, quantity int) (Outcome, error) {
	return s.transition(ctx, OperationRestock, p, quantity, func(cur *Product) ErrorReason {
		cur.InStockQuantity += quantity
		return ""
	})
}

// Apply dispatches op to the matching transition.
func (s *Service) Apply(ctx context.Context, op Operation, p Product, quantity int) (Outcome, error) {
	switch op {
	case OperationOrder:
		return s.OrderItem(ctx, p, quantity)
	case OperationShip:
		return s.ShipItem(ctx, p, quantity)
	case OperationRestock:
		return s.RestockItem(ctx, p, quantity)
	}
	return Outcome{}, fmt.Errorf("unknown operation %q", op)
}

func (s *Service) transition(ctx context.Context, op Operation, p Product, quantity int, apply func(*Product) ErrorReason) (out Outcome, err error) {
	ctx, span := s.tracer.Start(ctx, "warehouse."+string(op))
	defer func() { endSpan(span, out, err) }()
	span.SetAttributes(
		attribute.Int64("product.id", p.ID),
		attribute.Int("warehouse.quantity", quantity),
	)

	if quantity < 0 {
		return rejected(p, QuantityInvalid), nil
	}

	unlock := s.locks.Lock(p.ID)
	defer unlock()

	cur, err := s.store.Get(ctx, p.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return rejected(Product{}, InvalidRequest), nil
		}
		return Outcome{}, fmt.Errorf("%s product %d: %w", op, p.ID, err)
	}

	next := cur
	if reason := apply(&next); reason != "" {
		s.logger.Debug("transition rejected",
			zap.String("operation", string(op)),
			zap.Int64("product_id", cur.ID),
			zap.Int("quantity", quantity),
			zap.String("reason", string(reason)),
		)
		return rejected(cur, reason), nil
	}

	if err := s.UpdateProductQuantities(ctx, next); err != nil {
		if errors.Is(err, ErrNotFound) {
			return rejected(Product{}, InvalidRequest), nil
		}
		return Outcome{}, fmt.Errorf("%s product %d: %w", op, p.ID, err)
	}

	s.logger.Info("stock changed",
		zap.String("operation", string(op)),
		zap.Int64("product_id", next.ID),
		zap.Int("quantity", quantity),
		zap.Int("in_stock", next.InStockQuantity),
		zap.Int("reserved", next.ReservedQuantity),
	)
	if err := s.notifier.StockChanged(ctx, op, quantity, next); err != nil {
		s.logger.Warn("notify stock changed", zap.Int64("product_id", next.ID), zap.Error(err))
	}

	return Outcome{Product: next}, nil
}

// InsertProduct validates candidate, makes its name unique and stores it with
// nothing reserved. candidate.ID is ignored.
func (s *Service) InsertProduct(ctx context.Context, candidate Product) (out Outcome, err error) {
	ctx, span := s.tracer.Start(ctx, "warehouse.insert")
	defer func() { endSpan(span, out, err) }()

	if candidate.InStockQuantity < 0 {
		return rejected(Product{}, QuantityInvalid), nil
	}
	name := strings.TrimSpace(candidate.Name)
	if name == "" {
		return rejected(Product{}, InvalidRequest), nil
	}

	s.insertMu.Lock()
	defer s.insertMu.Unlock()

	unique, err := s.uniqueName(ctx, name)
	if err != nil {
		return Outcome{}, err
	}

	stored, err := s.store.Insert(ctx, Product{
		Name:             unique,
		InStockQuantity:  candidate.InStockQuantity,
		ReservedQuantity: 0,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("insert product %q: %w", unique, err)
	}
	span.SetAttributes(attribute.Int64("product.id", stored.ID))

	s.logger.Info("product created",
		zap.Int64("product_id", stored.ID),
		zap.String("name", stored.Name),
		zap.Int("in_stock", stored.InStockQuantity),
	)
	if err := s.notifier.ProductCreated(ctx, stored); err != nil {
		s.logger.Warn("notify product created", zap.Int64("product_id", stored.ID), zap.Error(err))
	}

	return Outcome{Product: stored}, nil
}

// uniqueName counts stored names that start with name and, if any do,
// appends the count in parentheses. Prefix matches count too, so "Widget"
// after "Widgets" becomes "Widget(1)".
func (s *Service) uniqueName(ctx context.Context, name string) (string, error) {
	matches, err := s.store.Query(ctx, func(p Product) bool {
		return strings.HasPrefix(strings.TrimSpace(p.Name), name)
	})
	if err != nil {
		return "", fmt.Errorf("count names like %q: %w", name, err)
	}
	if len(matches) == 0 {
		return name, nil
	}
	return fmt.Sprintf("%s(%d)", name, len(matches)), nil
}

func endSpan(span trace.Span, out Outcome, err error) {
	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case !out.OK():
		span.SetAttributes(attribute.String("warehouse.reason", string(out.Reason)))
	}
	span.End()
}
