package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	CurrencyKHR = "KHR"
	CurrencyUSD = "USD"
)

const (
	PaymentMethodKHQR     = "KHQR"
	PaymentMethodTelegram = "TELEGRAM"
)

const (
	PaymentStatusUnpaid = "UNPAID"
	PaymentStatusPaid   = "PAID"
	PaymentStatusFailed = "FAILED"
)

const (
	OrderStatusPending   = "PENDING"
	OrderStatusConfirmed = "CONFIRMED"
	OrderStatusCanceled  = "CANCELED"
	OrderStatusDelivered = "DELIVERED"
	OrderStatusFailed    = "FAILED"
)

var validOrderTransitions = map[string]map[string]bool{
	OrderStatusPending:   {OrderStatusConfirmed: true, OrderStatusCanceled: true, OrderStatusFailed: true},
	OrderStatusConfirmed: {OrderStatusDelivered: true, OrderStatusFailed: true},
	OrderStatusCanceled:  {},
	OrderStatusDelivered: {},
	OrderStatusFailed:    {},
}

// CanTransitionOrderStatus reports whether an order may move between statuses.
func CanTransitionOrderStatus(from, to string) bool {
	return validOrderTransitions[from][to]
}

// IsSupportedCurrency reports whether the Bakong rail accepts the currency.
func IsSupportedCurrency(currency string) bool {
	return currency == CurrencyKHR || currency == CurrencyUSD
}

// OrderItem represents order item.
type OrderItem struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	ImageURL  string          `json:"imageUrl,omitempty"`
}

// Order represents order.
type Order struct {
	ID              string          `json:"id"`
	BillSeq         int64           `json:"billSeq"`
	Items           []OrderItem     `json:"items"`
	Total           decimal.Decimal `json:"total"`
	Currency        string          `json:"currency"`
	Phone           string          `json:"phone"`
	Address         string          `json:"address"`
	PaymentMethod   string          `json:"paymentMethod"`
	PaymentStatus   string          `json:"paymentStatus"`
	Status          string          `json:"status"`
	BillNumber      string          `json:"billNumber,omitempty"`
	Fingerprint     string          `json:"fingerprint,omitempty"`
	TransactionHash string          `json:"transactionHash,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// CreateOrderParams represents create order params.
type CreateOrderParams struct {
	Items         []OrderItem
	Currency      string
	Phone         string
	Address       string
	PaymentMethod string
}
