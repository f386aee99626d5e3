package repository

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/shopspring/decimal"

	"socheath/backend/internal/db"
	"socheath/backend/internal/models"

	"github.com/jackc/pgx/v5/pgxpool"
)

func testRepo(t *testing.T) (*Repository, *pgxpool.Pool) {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	pool, err := db.NewPool(context.Background(), dsn)
	if err != nil {
		t.Fatalf("db connection: %v", err)
	}
	t.Cleanup(pool.Close)
	return New(pool), pool
}

func insertTestOrder(t *testing.T, repo *Repository, pool *pgxpool.Pool) models.Order {
	t.Helper()
	ctx := context.Background()
	order, err := repo.CreateOrder(ctx, models.CreateOrderParams{
		Items: []models.OrderItem{
			{ProductID: "prod-1", Name: "Jasmine Rice 5kg", Quantity: 2, Price: decimal.NewFromInt(2000)},
			{ProductID: "prod-2", Name: "Palm Sugar", Quantity: 1, Price: decimal.NewFromInt(1000)},
		},
		Currency:      models.CurrencyKHR,
		Phone:         "+855 12 345 678",
		Address:       "Phnom Penh",
		PaymentMethod: models.PaymentMethodKHQR,
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	t.Cleanup(func() {
		_, _ = pool.Exec(ctx, `DELETE FROM orders WHERE id = $1::uuid`, order.ID)
	})
	return order
}

func TestCreateOrderComputesTotal(t *testing.T) {
	repo, pool := testRepo(t)
	order := insertTestOrder(t, repo, pool)

	if !order.Total.Equal(decimal.NewFromInt(5000)) {
		t.Fatalf("expected total 5000, got %s", order.Total)
	}
	if order.PaymentStatus != models.PaymentStatusUnpaid || order.Status != models.OrderStatusPending {
		t.Fatalf("unexpected initial state: %s/%s", order.PaymentStatus, order.Status)
	}
	if order.BillSeq <= 0 {
		t.Fatalf("expected assigned bill sequence, got %d", order.BillSeq)
	}
	if len(order.Items) != 2 {
		t.Fatalf("expected items round-trip, got %d", len(order.Items))
	}
}

// TestMarkOrderPaidCompareAndSet verifies that only the first finalize wins
// and repeat calls return the stored order unchanged.
func TestMarkOrderPaidCompareAndSet(t *testing.T) {
	repo, pool := testRepo(t)
	order := insertTestOrder(t, repo, pool)
	ctx := context.Background()

	paid, confirmedNow, err := repo.MarkOrderPaid(ctx, order.ID, "hash-1")
	if err != nil {
		t.Fatalf("first mark paid: %v", err)
	}
	if !confirmedNow {
		t.Fatalf("first mark paid should win the CAS")
	}
	if paid.PaymentStatus != models.PaymentStatusPaid || paid.Status != models.OrderStatusConfirmed {
		t.Fatalf("unexpected paid state: %s/%s", paid.PaymentStatus, paid.Status)
	}
	if paid.TransactionHash != "hash-1" {
		t.Fatalf("transaction hash not recorded: %q", paid.TransactionHash)
	}

	again, confirmedNow, err := repo.MarkOrderPaid(ctx, order.ID, "hash-2")
	if err != nil {
		t.Fatalf("second mark paid: %v", err)
	}
	if confirmedNow {
		t.Fatalf("second mark paid must not win the CAS")
	}
	if again.TransactionHash != "hash-1" {
		t.Fatalf("repeat finalize must not overwrite the hash: %q", again.TransactionHash)
	}
}

func TestMarkOrderPaidUnknownOrder(t *testing.T) {
	repo, _ := testRepo(t)
	_, _, err := repo.MarkOrderPaid(context.Background(), "00000000-0000-0000-0000-000000000000", "hash")
	if err == nil {
		t.Fatalf("expected error for unknown order")
	}
}

func TestSetPaymentRequestSkipsPaidOrders(t *testing.T) {
	repo, pool := testRepo(t)
	order := insertTestOrder(t, repo, pool)
	ctx := context.Background()

	updated, err := repo.SetPaymentRequest(ctx, order.ID, "ffffffffffffffffffffffffffffffff", "ORDER_00001_1699000000000")
	if err != nil {
		t.Fatalf("set payment request: %v", err)
	}
	if updated.Fingerprint == "" || updated.BillNumber == "" {
		t.Fatalf("fingerprint and bill number should be recorded: %#v", updated)
	}

	if _, _, err := repo.MarkOrderPaid(ctx, order.ID, "hash-1"); err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	if _, err := repo.SetPaymentRequest(ctx, order.ID, "new-fingerprint", "ORDER_00001_1699000000001"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound re-keying a paid order, got %v", err)
	}
}

func TestCancelOrderTransitions(t *testing.T) {
	repo, pool := testRepo(t)
	order := insertTestOrder(t, repo, pool)
	ctx := context.Background()

	cancelled, err := repo.CancelOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("cancel order: %v", err)
	}
	if cancelled.Status != models.OrderStatusCanceled {
		t.Fatalf("expected CANCELED, got %s", cancelled.Status)
	}

	// Terminal: a second cancel is an invalid transition.
	if _, err := repo.CancelOrder(ctx, order.ID); err == nil {
		t.Fatalf("expected invalid transition cancelling twice")
	}
}
