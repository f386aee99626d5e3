package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"socheath/backend/internal/models"
	"socheath/backend/internal/repository"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type orderItemRequest struct {
	ProductID string `json:"productId" validate:"required"`
	Name      string `json:"name" validate:"required"`
	Quantity  int    `json:"quantity" validate:"gt=0"`
	Price     string `json:"price" validate:"required"`
	ImageURL  string `json:"imageUrl"`
}

type createOrderRequest struct {
	Items         []orderItemRequest `json:"items" validate:"required,min=1,dive"`
	Currency      string             `json:"currency" validate:"required"`
	Phone         string             `json:"phone" validate:"required"`
	Address       string             `json:"address" validate:"required"`
	PaymentMethod string             `json:"paymentMethod" validate:"required"`
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("create_order", "status", "invalid_json")
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		logger.Warn("create_order", "status", "validation_failed", "error", err)
		writeError(w, http.StatusBadRequest, "invalid order payload")
		return
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if !models.IsSupportedCurrency(currency) {
		writeError(w, http.StatusBadRequest, "unsupported currency")
		return
	}
	method := strings.ToUpper(strings.TrimSpace(req.PaymentMethod))
	if method != models.PaymentMethodKHQR && method != models.PaymentMethodTelegram {
		writeError(w, http.StatusBadRequest, "unsupported payment method")
		return
	}

	items := make([]models.OrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		price, err := decimal.NewFromString(strings.TrimSpace(item.Price))
		if err != nil || price.IsNegative() {
			writeError(w, http.StatusBadRequest, "invalid item price")
			return
		}
		items = append(items, models.OrderItem{
			ProductID: strings.TrimSpace(item.ProductID),
			Name:      strings.TrimSpace(item.Name),
			Quantity:  item.Quantity,
			Price:     price,
			ImageURL:  strings.TrimSpace(item.ImageURL),
		})
	}

	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	order, err := h.repo.CreateOrder(ctx, models.CreateOrderParams{
		Items:         items,
		Currency:      currency,
		Phone:         req.Phone,
		Address:       req.Address,
		PaymentMethod: method,
	})
	if err != nil {
		logger.Error("create_order", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create order")
		return
	}

	// Orders settled manually over Telegram are relayed to the shop chat right
	// away; the payment itself happens out of band.
	if method == models.PaymentMethodTelegram {
		if err := h.telegram.NotifyOrderPlaced(ctx, order); err != nil {
			logger.Warn("create_order_relay_failed", "order_id", order.ID, "error", err)
		}
	}

	logger.Info("order_created", "order_id", order.ID, "total", order.Total.String(), "currency", order.Currency, "method", method)
	writeJSON(w, http.StatusCreated, order)
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		writeError(w, http.StatusBadRequest, "order id is required")
		return
	}

	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	order, err := h.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		h.loggerForRequest(r).Error("get_order", "order_id", orderID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load order")
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		writeError(w, http.StatusBadRequest, "order id is required")
		return
	}

	// Stop any live polling session before touching the row.
	if s, ok := h.sessions.Get(orderID); ok {
		s.Cancel()
	}

	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	order, err := h.repo.CancelOrder(ctx, orderID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrOrderNotFound):
			writeError(w, http.StatusNotFound, "order not found")
		case errors.Is(err, repository.ErrInvalidTransition):
			writeError(w, http.StatusConflict, "order cannot be cancelled")
		default:
			logger.Error("cancel_order", "order_id", orderID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to cancel order")
		}
		return
	}

	logger.Info("order_cancelled", "order_id", order.ID)
	writeJSON(w, http.StatusOK, order)
}
