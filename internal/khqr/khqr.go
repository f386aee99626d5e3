// Package khqr encodes Bakong KHQR payment payloads (EMVCo merchant-presented
// QR, KHQR profile) and derives the MD5 fingerprint the Bakong API uses to
// correlate transactions.
package khqr

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"socheath/backend/internal/models"
)

const (
	tagPayloadFormat     = "00"
	tagPointOfInitiation = "01"
	tagMerchantAccount   = "29"
	tagCategoryCode      = "52"
	tagCurrency          = "53"
	tagAmount            = "54"
	tagCountryCode       = "58"
	tagMerchantName      = "59"
	tagMerchantCity      = "60"
	tagAdditionalData    = "62"
	tagTimestamp         = "99"
	tagCRC               = "63"

	subTagAccountID     = "00"
	subTagBillNumber    = "01"
	subTagStoreLabel    = "03"
	subTagTerminalLabel = "07"
	subTagCreationTime  = "00"
	subTagExpiryTime    = "01"

	payloadFormatVersion = "01"
	initiationDynamic    = "12"
	countryCodeKH        = "KH"
)

const (
	currencyCodeKHR = "116"
	currencyCodeUSD = "840"
)

const (
	maxMerchantNameLen = 25
	maxMerchantCityLen = 15
	maxAccountIDLen    = 32
	maxBillNumberLen   = 25
)

// Config carries the merchant identity embedded into every payload.
type Config struct {
	AccountID     string
	MerchantName  string
	MerchantCity  string
	StoreLabel    string
	TerminalLabel string
	CategoryCode  string
}

// PaymentRequest is one generated QR attempt. The MD5 is a digest of the
// payload, not a nonce: two identical payloads collide, so the bill number
// must be unique per attempt.
type PaymentRequest struct {
	Payload    string          `json:"qr"`
	MD5        string          `json:"md5"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	BillNumber string          `json:"billNumber"`
	CreatedAt  time.Time       `json:"createdAt"`
	ExpiresAt  time.Time       `json:"expiresAt"`
}

// Generator represents generator.
type Generator struct {
	cfg Config
	now func() time.Time
}

// NewGenerator creates generator.
func NewGenerator(cfg Config) *Generator {
	if strings.TrimSpace(cfg.MerchantCity) == "" {
		cfg.MerchantCity = "PHNOM PENH"
	}
	if strings.TrimSpace(cfg.TerminalLabel) == "" {
		cfg.TerminalLabel = "Online Payment"
	}
	if strings.TrimSpace(cfg.CategoryCode) == "" {
		cfg.CategoryCode = "5999"
	}
	return &Generator{
		cfg: cfg,
		now: time.Now,
	}
}

// Generate builds the KHQR payload for one payment attempt.
// ExpiresAt is exactly CreatedAt + ttl.
func (g *Generator) Generate(amount decimal.Decimal, currency, billNumber string, ttl time.Duration) (PaymentRequest, error) {
	accountID := strings.TrimSpace(g.cfg.AccountID)
	if accountID == "" {
		return PaymentRequest{}, fmt.Errorf("khqr: bakong account id is required")
	}
	if len(accountID) > maxAccountIDLen {
		return PaymentRequest{}, fmt.Errorf("khqr: bakong account id exceeds %d characters", maxAccountIDLen)
	}
	merchantName := strings.TrimSpace(g.cfg.MerchantName)
	if merchantName == "" {
		return PaymentRequest{}, fmt.Errorf("khqr: merchant name is required")
	}
	billNumber = strings.TrimSpace(billNumber)
	if billNumber == "" {
		return PaymentRequest{}, fmt.Errorf("khqr: bill number is required")
	}
	if len(billNumber) > maxBillNumberLen {
		return PaymentRequest{}, fmt.Errorf("khqr: bill number exceeds %d characters", maxBillNumberLen)
	}
	if !models.IsSupportedCurrency(currency) {
		return PaymentRequest{}, fmt.Errorf("khqr: unsupported currency %q", currency)
	}
	if !amount.IsPositive() {
		return PaymentRequest{}, fmt.Errorf("khqr: amount must be positive, got %s", amount)
	}
	if ttl <= 0 {
		return PaymentRequest{}, fmt.Errorf("khqr: ttl must be positive")
	}

	amountStr, err := formatAmount(amount, currency)
	if err != nil {
		return PaymentRequest{}, err
	}

	createdAt := g.now()
	expiresAt := createdAt.Add(ttl)

	var b strings.Builder
	writeTLV(&b, tagPayloadFormat, payloadFormatVersion)
	writeTLV(&b, tagPointOfInitiation, initiationDynamic)
	writeTLV(&b, tagMerchantAccount, tlv(subTagAccountID, accountID))
	writeTLV(&b, tagCategoryCode, g.cfg.CategoryCode)
	writeTLV(&b, tagCurrency, currencyCode(currency))
	writeTLV(&b, tagAmount, amountStr)
	writeTLV(&b, tagCountryCode, countryCodeKH)
	writeTLV(&b, tagMerchantName, clamp(merchantName, maxMerchantNameLen))
	writeTLV(&b, tagMerchantCity, clamp(g.cfg.MerchantCity, maxMerchantCityLen))

	additional := tlv(subTagBillNumber, billNumber)
	if label := strings.TrimSpace(g.cfg.StoreLabel); label != "" {
		additional += tlv(subTagStoreLabel, clamp(label, maxMerchantNameLen))
	}
	additional += tlv(subTagTerminalLabel, clamp(g.cfg.TerminalLabel, maxMerchantNameLen))
	writeTLV(&b, tagAdditionalData, additional)

	timestamps := tlv(subTagCreationTime, strconv.FormatInt(createdAt.UnixMilli(), 10)) +
		tlv(subTagExpiryTime, strconv.FormatInt(expiresAt.UnixMilli(), 10))
	writeTLV(&b, tagTimestamp, timestamps)

	b.WriteString(tagCRC)
	b.WriteString("04")
	payload := b.String()
	payload += fmt.Sprintf("%04X", checksum([]byte(payload)))

	digest := md5.Sum([]byte(payload))

	return PaymentRequest{
		Payload:    payload,
		MD5:        hex.EncodeToString(digest[:]),
		Amount:     amount,
		Currency:   currency,
		BillNumber: billNumber,
		CreatedAt:  createdAt,
		ExpiresAt:  expiresAt,
	}, nil
}

// Verify reports whether the payload's trailing CRC matches its content.
func Verify(payload string) bool {
	if len(payload) < 8 {
		return false
	}
	body, crc := payload[:len(payload)-4], payload[len(payload)-4:]
	if !strings.HasSuffix(body, tagCRC+"04") {
		return false
	}
	return fmt.Sprintf("%04X", checksum([]byte(body))) == crc
}

// formatAmount renders the amount per KHQR rules: KHR carries no decimals,
// USD carries at most two.
func formatAmount(amount decimal.Decimal, currency string) (string, error) {
	switch currency {
	case models.CurrencyKHR:
		if !amount.Equal(amount.Truncate(0)) {
			return "", fmt.Errorf("khqr: KHR amount must be integral, got %s", amount)
		}
		return amount.Truncate(0).String(), nil
	case models.CurrencyUSD:
		if amount.Exponent() < -2 {
			return "", fmt.Errorf("khqr: USD amount has more than two decimal places: %s", amount)
		}
		return amount.String(), nil
	default:
		return "", fmt.Errorf("khqr: unsupported currency %q", currency)
	}
}

func currencyCode(currency string) string {
	if currency == models.CurrencyUSD {
		return currencyCodeUSD
	}
	return currencyCodeKHR
}

func writeTLV(b *strings.Builder, tag, value string) {
	b.WriteString(tlv(tag, value))
}

func tlv(tag, value string) string {
	return fmt.Sprintf("%s%02d%s", tag, len(value), value)
}

func clamp(value string, max int) string {
	if len(value) <= max {
		return value
	}
	return value[:max]
}

// checksum is CRC-16/CCITT-FALSE (poly 0x1021, init 0xFFFF), the EMVCo QR CRC.
func checksum(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, d := range data {
		crc ^= uint16(d) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
