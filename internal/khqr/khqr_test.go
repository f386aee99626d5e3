package khqr

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func testGenerator() *Generator {
	g := NewGenerator(Config{
		AccountID:    "merchant_pool@devb",
		MerchantName: "Socheath Store",
		StoreLabel:   "Socheath Store",
	})
	g.now = func() time.Time { return time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC) }
	return g
}

// TestGenerateDeterministicFingerprint verifies that the fingerprint is a
// content digest: identical inputs at the same clock tick collide, and a
// different bill number is enough to split them.
func TestGenerateDeterministicFingerprint(t *testing.T) {
	t.Parallel()
	g := testGenerator()

	amount := decimal.NewFromInt(5000)
	first, err := g.Generate(amount, "KHR", "ORDER_00001_169900", 300*time.Second)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	second, err := g.Generate(amount, "KHR", "ORDER_00001_169900", 300*time.Second)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if first.MD5 != second.MD5 {
		t.Fatalf("identical inputs should produce identical fingerprints: %s vs %s", first.MD5, second.MD5)
	}

	third, err := g.Generate(amount, "KHR", "ORDER_00002_169901", 300*time.Second)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if third.MD5 == first.MD5 {
		t.Fatalf("different bill numbers must produce different fingerprints")
	}
	if len(first.MD5) != 32 {
		t.Fatalf("fingerprint should be a hex md5, got %q", first.MD5)
	}
}

// TestGenerateExpiryExactTTL verifies no drift between createdAt and expiresAt.
func TestGenerateExpiryExactTTL(t *testing.T) {
	t.Parallel()
	g := testGenerator()

	req, err := g.Generate(decimal.NewFromInt(5000), "KHR", "ORDER_00001_169900", 300*time.Second)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got := req.ExpiresAt.Sub(req.CreatedAt); got != 300*time.Second {
		t.Fatalf("expected ttl of exactly 300s, got %s", got)
	}
}

// TestGeneratePayloadStructure verifies payload structure behavior.
func TestGeneratePayloadStructure(t *testing.T) {
	t.Parallel()
	g := testGenerator()

	req, err := g.Generate(decimal.NewFromInt(5000), "KHR", "ORDER_00007_170000", 300*time.Second)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	payload := req.Payload

	if !strings.HasPrefix(payload, "000201"+"010212") {
		t.Fatalf("payload should open with format 01 and dynamic initiation 12: %s", payload)
	}
	if !strings.Contains(payload, "merchant_pool@devb") {
		t.Fatalf("payload should carry the bakong account id: %s", payload)
	}
	if !strings.Contains(payload, "5303116") {
		t.Fatalf("KHR payload should carry currency code 116: %s", payload)
	}
	if !strings.Contains(payload, "54045000") {
		t.Fatalf("payload should carry amount 5000: %s", payload)
	}
	if !strings.Contains(payload, "5802KH") {
		t.Fatalf("payload should carry country KH: %s", payload)
	}
	if !strings.Contains(payload, "ORDER_00007_170000") {
		t.Fatalf("payload should carry the bill number: %s", payload)
	}
	if !Verify(payload) {
		t.Fatalf("payload CRC should verify: %s", payload)
	}
}

// TestGenerateEmbedsTimestamps verifies that tag 99 carries creation and
// expiration epochs in milliseconds.
func TestGenerateEmbedsTimestamps(t *testing.T) {
	t.Parallel()
	g := testGenerator()

	req, err := g.Generate(decimal.NewFromInt(1000), "KHR", "ORDER_00003_169902", 120*time.Second)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	createdMs := req.CreatedAt.UnixMilli()
	expiresMs := req.ExpiresAt.UnixMilli()
	wantTimestamps := tlv("00", "1772357400000") + tlv("01", "1772357520000")
	if createdMs != 1772357400000 || expiresMs != 1772357520000 {
		t.Fatalf("unexpected epochs: created=%d expires=%d", createdMs, expiresMs)
	}
	if !strings.Contains(req.Payload, tlv("99", wantTimestamps)) {
		t.Fatalf("payload should carry timestamp tag 99: %s", req.Payload)
	}
}

// TestGenerateUSDCurrency verifies u s d currency behavior.
func TestGenerateUSDCurrency(t *testing.T) {
	t.Parallel()
	g := testGenerator()

	req, err := g.Generate(decimal.RequireFromString("12.50"), "USD", "ORDER_00004_169903", 300*time.Second)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.Contains(req.Payload, "5303840") {
		t.Fatalf("USD payload should carry currency code 840: %s", req.Payload)
	}
	if !strings.Contains(req.Payload, "540412.5") {
		t.Fatalf("USD payload should carry the decimal amount: %s", req.Payload)
	}
}

// TestGenerateRejectsInvalidInput verifies rejects invalid input behavior.
func TestGenerateRejectsInvalidInput(t *testing.T) {
	t.Parallel()
	g := testGenerator()

	cases := []struct {
		name     string
		amount   decimal.Decimal
		currency string
		bill     string
		ttl      time.Duration
	}{
		{"zero amount", decimal.Zero, "KHR", "ORDER_00001_1", 300 * time.Second},
		{"negative amount", decimal.NewFromInt(-5), "KHR", "ORDER_00001_1", 300 * time.Second},
		{"fractional KHR", decimal.RequireFromString("10.5"), "KHR", "ORDER_00001_1", 300 * time.Second},
		{"sub-cent USD", decimal.RequireFromString("1.005"), "USD", "ORDER_00001_1", 300 * time.Second},
		{"bad currency", decimal.NewFromInt(10), "EUR", "ORDER_00001_1", 300 * time.Second},
		{"empty bill number", decimal.NewFromInt(10), "KHR", "", 300 * time.Second},
		{"zero ttl", decimal.NewFromInt(10), "KHR", "ORDER_00001_1", 0},
	}
	for _, tc := range cases {
		if _, err := g.Generate(tc.amount, tc.currency, tc.bill, tc.ttl); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

// TestVerifyRejectsTamperedPayload verifies rejects tampered payload behavior.
func TestVerifyRejectsTamperedPayload(t *testing.T) {
	t.Parallel()
	g := testGenerator()

	req, err := g.Generate(decimal.NewFromInt(5000), "KHR", "ORDER_00005_169904", 300*time.Second)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	tampered := strings.Replace(req.Payload, "5000", "9000", 1)
	if Verify(tampered) {
		t.Fatalf("tampered payload should fail CRC verification")
	}
}
