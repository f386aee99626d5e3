// Package bakong talks to the Bakong open API: token exchange and
// transaction lookup by KHQR fingerprint.
package bakong

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"
)

// ErrUpstreamUnavailable marks transient upstream trouble: network errors,
// 5xx, block pages, bodies that fail to parse. Callers keep polling.
var ErrUpstreamUnavailable = errors.New("bakong upstream unavailable")

// ErrTransactionNotFound is returned when the API answers but knows nothing
// about the fingerprint yet.
var ErrTransactionNotFound = errors.New("bakong transaction not found")

const defaultBaseURL = "https://api-bakong.nbc.gov.kh/v1"

type Config struct {
	BaseURL string
}

type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bakong api status %d: %s", e.StatusCode, e.Body)
}

// Transaction is the settled-transaction shape returned by
// check_transaction_by_md5.
type Transaction struct {
	Hash               string  `json:"hash"`
	FromAccountID      string  `json:"fromAccountId"`
	ToAccountID        string  `json:"toAccountId"`
	Currency           string  `json:"currency"`
	Amount             float64 `json:"amount"`
	Description        string  `json:"description"`
	CreatedDateMs      int64   `json:"createdDateMs"`
	AcknowledgedDateMs int64   `json:"acknowledgedDateMs"`
	ExternalRef        string  `json:"externalRef"`
}

// SettledAt converts the settlement epoch to a time.Time.
func (t Transaction) SettledAt() time.Time {
	return time.UnixMilli(t.CreatedDateMs)
}

type checkEnvelope struct {
	ResponseCode    int          `json:"responseCode"`
	ResponseMessage string       `json:"responseMessage"`
	Data            *Transaction `json:"data"`
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     *TokenManager
	limiter    *rate.Limiter
	logger     *slog.Logger
}

func NewClient(cfg Config, tm *TokenManager, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		tokens:     tm,
		// The national gateway throttles aggressively; one poll cycle per
		// session every ~5s stays well under 5 rps with bursts absorbed.
		limiter: rate.NewLimiter(rate.Limit(5), 10),
		logger:  logger,
	}
}

// CheckURL is the endpoint a browser can call directly in degraded mode.
func (c *Client) CheckURL() string {
	return c.baseURL + "/check_transaction_by_md5"
}

// BearerToken exposes the current token for the client-side fallback path.
func (c *Client) BearerToken(ctx context.Context) (string, error) {
	if c.tokens == nil {
		return "", fmt.Errorf("bakong token manager is required")
	}
	return c.tokens.AccessToken(ctx)
}

// CheckTransactionByMD5 asks the gateway whether a transaction matching the
// fingerprint has settled. Absence is ErrTransactionNotFound; transport and
// parse failures are ErrUpstreamUnavailable.
func (c *Client) CheckTransactionByMD5(ctx context.Context, md5 string) (Transaction, []byte, error) {
	md5 = strings.TrimSpace(md5)
	if md5 == "" {
		return Transaction{}, nil, fmt.Errorf("md5 is required")
	}
	if c.tokens == nil {
		return Transaction{}, nil, fmt.Errorf("bakong token manager is required")
	}

	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return Transaction{}, nil, err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return Transaction{}, nil, err
	}

	payload, err := json.Marshal(map[string]string{"md5": md5})
	if err != nil {
		return Transaction{}, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.CheckURL(), bytes.NewReader(payload))
	if err != nil {
		return Transaction{}, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Transaction{}, nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Transaction{}, nil, fmt.Errorf("%w: read body: %v", ErrUpstreamUnavailable, err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return Transaction{}, body, ErrTransactionNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if title, ok := blockPageTitle(body); ok {
			if c.logger != nil {
				c.logger.Warn("bakong_block_page", "status", resp.StatusCode, "title", title)
			}
			return Transaction{}, body, fmt.Errorf("%w: block page %q (status %d)", ErrUpstreamUnavailable, title, resp.StatusCode)
		}
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		return Transaction{}, body, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, apiErr)
	}

	var parsed checkEnvelope
	if err := json.Unmarshal(body, &parsed); err != nil {
		if title, ok := blockPageTitle(body); ok {
			if c.logger != nil {
				c.logger.Warn("bakong_block_page", "status", resp.StatusCode, "title", title)
			}
			return Transaction{}, body, fmt.Errorf("%w: block page %q behind 2xx", ErrUpstreamUnavailable, title)
		}
		return Transaction{}, body, fmt.Errorf("%w: decode check response: %v", ErrUpstreamUnavailable, err)
	}

	if parsed.ResponseCode != 0 || parsed.Data == nil || strings.TrimSpace(parsed.Data.Hash) == "" {
		return Transaction{}, body, ErrTransactionNotFound
	}

	if c.logger != nil {
		c.logger.Debug("bakong_check", "md5", md5, "hash", parsed.Data.Hash)
	}
	return *parsed.Data, body, nil
}

// blockPageTitle recognizes an HTML interstitial (CDN block, maintenance
// page) masquerading as an API response and pulls its title for diagnostics.
func blockPageTitle(body []byte) (string, bool) {
	trimmed := strings.TrimSpace(string(body))
	lower := strings.ToLower(trimmed)
	if !strings.HasPrefix(lower, "<!doctype") && !strings.HasPrefix(lower, "<html") {
		return "", false
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(trimmed))
	if err != nil {
		return "html response", true
	}
	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = "html response"
	}
	return title, true
}
