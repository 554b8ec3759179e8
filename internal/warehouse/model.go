package warehouse

// Product is the only entity the warehouse tracks.
type Product struct {
	ID               int64  `json:"id"`
	Name             string `json:"name"`
	InStockQuantity  int    `json:"inStockQuantity"`
	ReservedQuantity int    `json:"reservedQuantity"`
}

// Predicate selects products in Store.Query.
type Predicate func(Product) bool

// InStock reports whether some stock is left over once reservations are honoured.
func InStock(p Product) bool {
	return p.InStockQuantity > 0 && p.InStockQuantity > p.ReservedQuantity
}

// ErrorReason is the business reason a request was rejected.
// The empty value means no rejection.
type ErrorReason string

const (
	QuantityInvalid   ErrorReason = "QuantityInvalid"
	NotEnoughQuantity ErrorReason = "NotEnoughQuantity"
	InvalidRequest    ErrorReason = "InvalidRequest"
)

// Operation names a quantity transition.
type Operation string

const (
	OperationOrder   Operation = "order"
	OperationShip    Operation = "ship"
	OperationRestock Operation = "restock"
)

func (o Operation) Valid() bool {
	switch o {
	case OperationOrder, OperationShip, OperationRestock:
		return true
	}
	return false
}

// Outcome is the result of a state-changing call.
// Product holds the stored state after the call; on rejection it is unchanged.
type Outcome struct {
	Product Product
	Reason  ErrorReason
}

func (o Outcome) OK() bool {
	return o.Reason == ""
}

func rejected(p Product, reason ErrorReason) Outcome {
	return Outcome{Product: p, Reason: reason}
}
