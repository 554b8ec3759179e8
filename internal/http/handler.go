package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/andreasstove999/ecommerce-system/services/warehouse-service-go/internal/warehouse"
)

// WarehouseService is the part of warehouse.Service the handlers call.
type WarehouseService interface {
	GetProduct(ctx context.Context, id int64) (warehouse.Product, bool, error)
	GetInStock(ctx context.Context) ([]warehouse.Product, error)
	Apply(ctx context.Context, op warehouse.Operation, p warehouse.Product, quantity int) (warehouse.Outcome, error)
	InsertProduct(ctx context.Context, candidate warehouse.Product) (warehouse.Outcome, error)
}

type Handler struct {
	svc    WarehouseService
	logger *zap.Logger
}

func NewHandler(svc WarehouseService, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// GetProduct answers null for ids that are malformed, negative or unknown.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 0 {
		writeJSON(w, http.StatusOK, nil)
		return
	}

	p, found, err := h.svc.GetProduct(r.Context(), id)
	if err != nil {
		h.internalError(w, "get product", err)
		return
	}
	if !found {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) ListInStock(w http.ResponseWriter, r *http.Request) {
	products, err := h.svc.GetInStock(r.Context())
	if err != nil {
		h.internalError(w, "list in stock", err)
		return
	}
	if products == nil {
		products = []warehouse.Product{}
	}
	writeJSON(w, http.StatusOK, products)
}

type stockRequest struct {
	ID       int64 `json:"id"`
	Quantity int   `json:"quantity"`
}

type operationResponse struct {
	Success     bool                  `json:"success"`
	ErrorReason warehouse.ErrorReason `json:"errorReason,omitempty"`
}

type addResponse struct {
	Success     bool                  `json:"success"`
	ErrorReason warehouse.ErrorReason `json:"errorReason,omitempty"`
	Model       *warehouse.Product    `json:"model"`
}

func (h *Handler) Order(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, warehouse.OperationOrder)
}

func (h *Handler) Ship(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, warehouse.OperationShip)
}

func (h *Handler) Restock(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, warehouse.OperationRestock)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, op warehouse.Operation) {
	var req stockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if req.Quantity < 0 {
		writeJSON(w, http.StatusOK, operationResponse{ErrorReason: warehouse.QuantityInvalid})
		return
	}

	p, found, err := h.svc.GetProduct(r.Context(), req.ID)
	if err != nil {
		h.internalError(w, string(op), err)
		return
	}
	if !found {
		writeJSON(w, http.StatusOK, operationResponse{ErrorReason: warehouse.InvalidRequest})
		return
	}

	out, err := h.svc.Apply(r.Context(), op, p, req.Quantity)
	if err != nil {
		h.internalError(w, string(op), err)
		return
	}
	writeJSON(w, http.StatusOK, operationResponse{Success: out.OK(), ErrorReason: out.Reason})
}

// Add inserts a new product. Any id in the body is ignored.
func (h *Handler) Add(w http.ResponseWriter, r *http.Request) {
	var candidate warehouse.Product
	if err := json.NewDecoder(r.Body).Decode(&candidate); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	out, err := h.svc.InsertProduct(r.Context(), candidate)
	if err != nil {
		h.internalError(w, "add product", err)
		return
	}

	res := addResponse{Success: out.OK(), ErrorReason: out.Reason}
	if out.OK() {
		res.Model = &out.Product
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) internalError(w http.ResponseWriter, action string, err error) {
	h.logger.Error("request failed", zap.String("action", action), zap.Error(err))
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
