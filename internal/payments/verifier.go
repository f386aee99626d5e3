// Package payments holds the confirmation core: transaction verification
// against the Bakong gateway, the per-order polling session, and the
// reconciler that marks orders paid exactly once.
package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"socheath/backend/internal/integrations/bakong"
)

// ClockSkewTolerance is the allowance for client/server clock drift when
// deciding whether a settled transaction predates the QR it matched.
const ClockSkewTolerance = 5 * time.Second

// Outcome classifies one verification attempt.
type Outcome string

const (
	OutcomeNotFound          Outcome = "NOT_FOUND"
	OutcomeRecipientMismatch Outcome = "RECIPIENT_MISMATCH"
	OutcomeStale             Outcome = "STALE"
	OutcomeConfirmed         Outcome = "CONFIRMED"
)

// Result is the verdict for one fingerprint check. Only OutcomeConfirmed
// carries transaction details.
type Result struct {
	Outcome   Outcome         `json:"outcome"`
	Hash      string          `json:"hash,omitempty"`
	Amount    decimal.Decimal `json:"amount,omitempty"`
	Currency  string          `json:"currency,omitempty"`
	SettledAt time.Time       `json:"settledAt,omitempty"`
}

// Confirmed reports whether the result is the terminal success.
func (r Result) Confirmed() bool {
	return r.Outcome == OutcomeConfirmed
}

// TransactionChecker is the slice of the Bakong client the verifier needs.
type TransactionChecker interface {
	CheckTransactionByMD5(ctx context.Context, md5 string) (bakong.Transaction, []byte, error)
}

// Verifier applies the acceptance gates, in order, each short-circuiting:
// upstream lookup, recipient match, freshness, then the advisory amount check.
type Verifier struct {
	checker   TransactionChecker
	recipient string
	skew      time.Duration
	logger    *slog.Logger
}

func NewVerifier(checker TransactionChecker, recipientAccountID string, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{
		checker:   checker,
		recipient: strings.TrimSpace(recipientAccountID),
		skew:      ClockSkewTolerance,
		logger:    logger,
	}
}

// Verify checks whether a transaction matching the fingerprint has settled
// and is acceptable for the request created at requestCreatedAt.
// bakong.ErrUpstreamUnavailable and bakong.ErrAuthFailure pass through so the
// polling loop can treat them as retryable rather than as rejections.
func (v *Verifier) Verify(ctx context.Context, md5 string, expectedAmount decimal.Decimal, currency string, requestCreatedAt time.Time) (Result, error) {
	if v.recipient == "" {
		return Result{}, fmt.Errorf("verifier recipient account id is required")
	}

	trx, _, err := v.checker.CheckTransactionByMD5(ctx, md5)
	if err != nil {
		if errors.Is(err, bakong.ErrTransactionNotFound) {
			return Result{Outcome: OutcomeNotFound}, nil
		}
		return Result{}, err
	}

	if trx.ToAccountID != v.recipient {
		v.logger.Warn("verify_recipient_mismatch", "md5", md5, "expected", v.recipient, "actual", trx.ToAccountID)
		return Result{Outcome: OutcomeRecipientMismatch}, nil
	}

	// Reject a stale settlement that collides on fingerprint with an earlier,
	// unrelated request for the same payload.
	if trx.SettledAt().Before(requestCreatedAt.Add(-v.skew)) {
		v.logger.Warn("verify_stale_transaction", "md5", md5, "settled_at", trx.SettledAt(), "request_created_at", requestCreatedAt)
		return Result{Outcome: OutcomeStale}, nil
	}

	settledAmount := decimal.NewFromFloat(trx.Amount)
	if !expectedAmount.IsZero() && (!settledAmount.Equal(expectedAmount) || trx.Currency != currency) {
		// Advisory only: a payer settling a USD QR in KHR reports the KHR
		// amount, so a mismatch is logged instead of rejected.
		v.logger.Warn("verify_amount_mismatch",
			"md5", md5,
			"expected", expectedAmount.String(), "expected_currency", currency,
			"actual", settledAmount.String(), "actual_currency", trx.Currency)
	}

	return Result{
		Outcome:   OutcomeConfirmed,
		Hash:      trx.Hash,
		Amount:    settledAmount,
		Currency:  trx.Currency,
		SettledAt: trx.SettledAt(),
	}, nil
}
