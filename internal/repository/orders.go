package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"socheath/backend/internal/models"
)

const orderColumns = `id::text, bill_seq, items, total::text, currency, phone, address,
payment_method, payment_status, status, bill_number, fingerprint, transaction_hash,
created_at, updated_at`

// CreateOrder inserts a new pending, unpaid order. The total is computed
// server-side from the submitted line items.
func (r *Repository) CreateOrder(ctx context.Context, params models.CreateOrderParams) (models.Order, error) {
	if len(params.Items) == 0 {
		return models.Order{}, fmt.Errorf("order requires at least one item")
	}

	total := decimal.Zero
	for _, item := range params.Items {
		if item.Quantity <= 0 {
			return models.Order{}, fmt.Errorf("invalid quantity %d for product %s", item.Quantity, item.ProductID)
		}
		if item.Price.IsNegative() {
			return models.Order{}, fmt.Errorf("negative price for product %s", item.ProductID)
		}
		total = total.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}

	itemsJSON, err := json.Marshal(params.Items)
	if err != nil {
		return models.Order{}, fmt.Errorf("encode order items: %w", err)
	}

	row := r.pool.QueryRow(ctx, `
INSERT INTO orders (id, items, total, currency, phone, address, payment_method, payment_status, status)
VALUES ($1::uuid, $2::jsonb, $3::numeric, $4, $5, $6, $7, $8, $9)
RETURNING `+orderColumns+`;`,
		uuid.NewString(),
		itemsJSON,
		total.String(),
		strings.TrimSpace(params.Currency),
		strings.TrimSpace(params.Phone),
		strings.TrimSpace(params.Address),
		strings.TrimSpace(params.PaymentMethod),
		models.PaymentStatusUnpaid,
		models.OrderStatusPending,
	)
	return scanOrder(row)
}

// GetOrderByID returns order by id.
func (r *Repository) GetOrderByID(ctx context.Context, orderID string) (models.Order, error) {
	row := r.pool.QueryRow(ctx, `
SELECT `+orderColumns+`
FROM orders
WHERE id = $1::uuid;`, strings.TrimSpace(orderID))
	out, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Order{}, ErrOrderNotFound
		}
		return models.Order{}, err
	}
	return out, nil
}

// SetPaymentRequest records the fingerprint and bill number of the latest QR
// attempt. Paid orders are never re-keyed.
func (r *Repository) SetPaymentRequest(ctx context.Context, orderID, fingerprint, billNumber string) (models.Order, error) {
	row := r.pool.QueryRow(ctx, `
UPDATE orders
SET fingerprint = $2,
	bill_number = $3,
	updated_at = now()
WHERE id = $1::uuid AND payment_status <> $4
RETURNING `+orderColumns+`;`,
		strings.TrimSpace(orderID),
		strings.TrimSpace(fingerprint),
		strings.TrimSpace(billNumber),
		models.PaymentStatusPaid,
	)
	out, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Order{}, ErrOrderNotFound
		}
		return models.Order{}, err
	}
	return out, nil
}

// MarkOrderPaid is the reconciliation compare-and-set: the row flips to paid
// only if it is not already, so concurrent finalizers elect one winner. The
// returned bool reports whether this call won the flip.
func (r *Repository) MarkOrderPaid(ctx context.Context, orderID, transactionHash string) (models.Order, bool, error) {
	row := r.pool.QueryRow(ctx, `
UPDATE orders
SET payment_status = $2,
	status = $3,
	transaction_hash = $4,
	updated_at = now()
WHERE id = $1::uuid AND payment_status <> $2
RETURNING `+orderColumns+`;`,
		strings.TrimSpace(orderID),
		models.PaymentStatusPaid,
		models.OrderStatusConfirmed,
		strings.TrimSpace(transactionHash),
	)
	out, err := scanOrder(row)
	if err == nil {
		return out, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.Order{}, false, err
	}

	// Zero rows: either the order does not exist or it is already paid.
	existing, err := r.GetOrderByID(ctx, orderID)
	if err != nil {
		return models.Order{}, false, err
	}
	if existing.PaymentStatus != models.PaymentStatusPaid {
		return models.Order{}, false, fmt.Errorf("order %s not paid after zero-row update", orderID)
	}
	return existing, false, nil
}

// UpdateOrderStatus transitions the order status with transition validation.
func (r *Repository) UpdateOrderStatus(ctx context.Context, orderID, next string) (models.Order, error) {
	current, err := r.GetOrderByID(ctx, orderID)
	if err != nil {
		return models.Order{}, err
	}
	if !models.CanTransitionOrderStatus(current.Status, next) {
		return models.Order{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, next)
	}

	row := r.pool.QueryRow(ctx, `
UPDATE orders
SET status = $2,
	updated_at = now()
WHERE id = $1::uuid AND status = $3
RETURNING `+orderColumns+`;`,
		strings.TrimSpace(orderID), next, current.Status)
	out, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Order{}, fmt.Errorf("%w: concurrent status change on order %s", ErrInvalidTransition, orderID)
		}
		return models.Order{}, err
	}
	return out, nil
}

// CancelOrder cancels a pending order. Paid or already-terminal orders are
// left untouched.
func (r *Repository) CancelOrder(ctx context.Context, orderID string) (models.Order, error) {
	return r.UpdateOrderStatus(ctx, orderID, models.OrderStatusCanceled)
}

func scanOrder(row pgx.Row) (models.Order, error) {
	var out models.Order
	var itemsJSON []byte
	var totalStr string
	var billNumber, fingerprint, transactionHash sql.NullString
	if err := row.Scan(
		&out.ID,
		&out.BillSeq,
		&itemsJSON,
		&totalStr,
		&out.Currency,
		&out.Phone,
		&out.Address,
		&out.PaymentMethod,
		&out.PaymentStatus,
		&out.Status,
		&billNumber,
		&fingerprint,
		&transactionHash,
		&out.CreatedAt,
		&out.UpdatedAt,
	); err != nil {
		return out, err
	}
	total, err := decimal.NewFromString(totalStr)
	if err != nil {
		return out, fmt.Errorf("decode order total: %w", err)
	}
	out.Total = total
	if len(itemsJSON) > 0 {
		if err := json.Unmarshal(itemsJSON, &out.Items); err != nil {
			return out, fmt.Errorf("decode order items: %w", err)
		}
	}
	if billNumber.Valid {
		out.BillNumber = billNumber.String
	}
	if fingerprint.Valid {
		out.Fingerprint = fingerprint.String
	}
	if transactionHash.Valid {
		out.TransactionHash = transactionHash.String
	}
	return out, nil
}
