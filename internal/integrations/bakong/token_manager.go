package bakong

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// ErrAuthFailure marks a rejected credential exchange. Nothing is cached and
// callers must not retry without backoff.
var ErrAuthFailure = errors.New("bakong auth failure")

// refreshSafetyMargin keeps a token out of use for the last minute of its
// provider-reported lifetime to absorb clock drift and in-flight latency.
const refreshSafetyMargin = 60 * time.Second

type TokenManagerConfig struct {
	MerchantID string
	Secret     string
	TokenURL   string
	// StaticToken bypasses the credential exchange entirely when set.
	StaticToken string
}

type tokenEnvelope struct {
	ResponseCode    int    `json:"responseCode"`
	ResponseMessage string `json:"responseMessage"`
	Data            *struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	} `json:"data"`
}

// TokenManager caches the Bakong bearer token for the process. The mutex is
// held across refresh, so concurrent callers never race duplicate exchanges.
type TokenManager struct {
	client       *http.Client
	cfg          TokenManagerConfig
	now          func() time.Time
	mu           sync.Mutex
	cachedToken  string
	cachedExpiry time.Time
}

func NewTokenManager(cfg TokenManagerConfig, client *http.Client) *TokenManager {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &TokenManager{
		client: client,
		cfg:    cfg,
		now:    time.Now,
	}
}

// AccessToken returns the cached token while it is still inside its safety
// margin, refreshing otherwise.
func (tm *TokenManager) AccessToken(ctx context.Context) (string, error) {
	if static := strings.TrimSpace(tm.cfg.StaticToken); static != "" {
		return static, nil
	}

	tm.mu.Lock()
	defer tm.mu.Unlock()

	if tm.cachedToken != "" && tm.now().Before(tm.cachedExpiry) {
		return tm.cachedToken, nil
	}

	if err := tm.refreshLocked(ctx); err != nil {
		return "", err
	}
	return tm.cachedToken, nil
}

func (tm *TokenManager) refreshLocked(ctx context.Context) error {
	if strings.TrimSpace(tm.cfg.MerchantID) == "" || strings.TrimSpace(tm.cfg.Secret) == "" {
		return fmt.Errorf("%w: merchant credentials are required", ErrAuthFailure)
	}

	payload, err := json.Marshal(map[string]string{
		"merchant_id": strings.TrimSpace(tm.cfg.MerchantID),
		"secret":      tm.cfg.Secret,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tm.cfg.TokenURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := tm.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuthFailure, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read token response: %v", ErrAuthFailure, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status=%d body=%s", ErrAuthFailure, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed tokenEnvelope
	if err := json.Unmarshal(body, &parsed); err != nil {
		return fmt.Errorf("%w: decode token response: %v", ErrAuthFailure, err)
	}
	if parsed.ResponseCode != 0 || parsed.Data == nil || strings.TrimSpace(parsed.Data.AccessToken) == "" {
		msg := strings.TrimSpace(parsed.ResponseMessage)
		if msg == "" {
			msg = "token response missing access_token"
		}
		return fmt.Errorf("%w: %s", ErrAuthFailure, msg)
	}

	expiresIn := parsed.Data.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 3600
	}
	tm.cachedToken = strings.TrimSpace(parsed.Data.AccessToken)
	tm.cachedExpiry = tm.now().Add(time.Duration(expiresIn)*time.Second - refreshSafetyMargin)
	return nil
}
