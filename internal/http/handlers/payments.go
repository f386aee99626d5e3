package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"socheath/backend/internal/integrations/bakong"
	"socheath/backend/internal/models"
	"socheath/backend/internal/payments"
	"socheath/backend/internal/repository"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type khqrResponse struct {
	OrderID    string    `json:"orderId"`
	Payload    string    `json:"qr"`
	MD5        string    `json:"md5"`
	BillNumber string    `json:"billNumber"`
	Amount     string    `json:"amount"`
	Currency   string    `json:"currency"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

type checkPaymentRequest struct {
	MD5 string `json:"md5" validate:"required,len=32,hexadecimal"`
	// Optional context for the full gate chain; without it only the upstream
	// and recipient gates apply.
	Amount           string `json:"amount"`
	Currency         string `json:"currency"`
	GenerationTimeMs int64  `json:"generationTimeMs"`
}

// checkPaymentFallback tells the browser to poll the gateway itself when the
// server cannot reach it (regional blocks on the egress IP, mostly).
type checkPaymentFallback struct {
	RequiresClientCheck bool   `json:"requiresClientCheck"`
	AccessToken         string `json:"accessToken"`
	CheckURL            string `json:"checkUrl"`
}

// GenerateKHQR issues a fresh QR for an unpaid order and starts the polling
// session. Regenerating abandons the previous fingerprint.
func (h *Handler) GenerateKHQR(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
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
		logger.Error("generate_khqr", "order_id", orderID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load order")
		return
	}

	if order.PaymentStatus == models.PaymentStatusPaid {
		writeError(w, http.StatusConflict, "order is already paid")
		return
	}
	if order.PaymentMethod != models.PaymentMethodKHQR {
		writeError(w, http.StatusBadRequest, "order is not payable by khqr")
		return
	}
	if !order.Total.IsPositive() {
		writeError(w, http.StatusBadRequest, "order amount must be positive")
		return
	}

	billNumber := payments.BillNumber(order.BillSeq, h.sessions.Now())
	req, err := h.generator.Generate(order.Total, order.Currency, billNumber, h.cfg.Bakong.QRTTL)
	if err != nil {
		logger.Error("generate_khqr", "order_id", orderID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to generate qr")
		return
	}

	if _, err := h.repo.SetPaymentRequest(ctx, order.ID, req.MD5, req.BillNumber); err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			writeError(w, http.StatusConflict, "order is already paid")
			return
		}
		logger.Error("generate_khqr_persist", "order_id", orderID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to record payment request")
		return
	}

	if _, err := h.sessions.Start(order.ID, req); err != nil {
		logger.Error("generate_khqr_session", "order_id", orderID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to start payment session")
		return
	}
	if err := h.cache.SetPaymentStatus(ctx, order.ID, string(payments.StatePolling)); err != nil {
		logger.Warn("generate_khqr_cache", "order_id", orderID, "error", err)
	}

	logger.Info("khqr_generated", "order_id", order.ID, "md5", req.MD5, "bill_number", req.BillNumber, "expires_at", req.ExpiresAt)
	writeJSON(w, http.StatusCreated, khqrResponse{
		OrderID:    order.ID,
		Payload:    req.Payload,
		MD5:        req.MD5,
		BillNumber: req.BillNumber,
		Amount:     req.Amount.String(),
		Currency:   req.Currency,
		ExpiresAt:  req.ExpiresAt,
	})
}

// PaymentStatus serves the session snapshot; once the session is gone it
// falls back to the stored order so a paid order never reads as unknown.
func (h *Handler) PaymentStatus(w http.ResponseWriter, r *http.Request) {
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		writeError(w, http.StatusBadRequest, "order id is required")
		return
	}

	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()

	if s, ok := h.sessions.Get(orderID); ok {
		snap := s.Snapshot(h.sessions.Now())
		if err := h.cache.SetPaymentStatus(ctx, orderID, string(snap.State)); err != nil {
			h.loggerForRequest(r).Warn("payment_status_cache", "order_id", orderID, "error", err)
		}
		writeJSON(w, http.StatusOK, snap)
		return
	}

	order, err := h.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		h.loggerForRequest(r).Error("payment_status", "order_id", orderID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load order")
		return
	}
	if order.PaymentStatus == models.PaymentStatusPaid {
		writeJSON(w, http.StatusOK, payments.Snapshot{
			OrderID:    order.ID,
			State:      payments.StateConfirmed,
			MD5:        order.Fingerprint,
			BillNumber: order.BillNumber,
			Order:      &order,
		})
		return
	}
	writeError(w, http.StatusNotFound, "no payment session for order")
}

// CancelPayment stops the live polling session without touching the order.
func (h *Handler) CancelPayment(w http.ResponseWriter, r *http.Request) {
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		writeError(w, http.StatusBadRequest, "order id is required")
		return
	}
	s, ok := h.sessions.Get(orderID)
	if !ok {
		writeError(w, http.StatusNotFound, "no payment session for order")
		return
	}
	s.Cancel()
	h.loggerForRequest(r).Info("payment_session_cancelled", "order_id", orderID)
	writeJSON(w, http.StatusOK, s.Snapshot(h.sessions.Now()))
}

// CheckPayment is the one-shot verification used by manual "I have paid"
// buttons. When the gateway is unreachable from the server it hands the
// browser what it needs to check directly.
func (h *Handler) CheckPayment(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)

	var req checkPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	req.MD5 = strings.ToLower(strings.TrimSpace(req.MD5))
	if err := h.validator.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "md5 must be a 32-character hex fingerprint")
		return
	}

	expectedAmount := decimal.Zero
	if req.Amount != "" {
		parsed, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
		if err != nil || parsed.IsNegative() {
			writeError(w, http.StatusBadRequest, "invalid amount")
			return
		}
		expectedAmount = parsed
	}
	var requestCreatedAt time.Time
	if req.GenerationTimeMs > 0 {
		requestCreatedAt = time.UnixMilli(req.GenerationTimeMs)
	}

	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	res, err := h.verifier.Verify(ctx, req.MD5, expectedAmount, strings.ToUpper(strings.TrimSpace(req.Currency)), requestCreatedAt)
	if err != nil {
		switch {
		case errors.Is(err, bakong.ErrUpstreamUnavailable):
			token, tokenErr := h.bakong.BearerToken(ctx)
			if tokenErr != nil {
				logger.Error("check_payment_fallback_token", "md5", req.MD5, "error", tokenErr)
				writeError(w, http.StatusBadGateway, "payment gateway unavailable")
				return
			}
			logger.Warn("check_payment_degraded", "md5", req.MD5, "error", err)
			writeJSON(w, http.StatusOK, checkPaymentFallback{
				RequiresClientCheck: true,
				AccessToken:         token,
				CheckURL:            h.bakong.CheckURL(),
			})
		case errors.Is(err, bakong.ErrAuthFailure):
			logger.Error("check_payment_auth", "md5", req.MD5, "error", err)
			writeError(w, http.StatusBadGateway, "payment gateway authentication failed")
		default:
			logger.Error("check_payment", "md5", req.MD5, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to check payment")
		}
		return
	}
	writeJSON(w, http.StatusOK, res)
}

const qrRenderEndpoint = "https://api.qrserver.com/v1/create-qr-code/"

// QRImage proxies QR rendering so the storefront never hands the payload to
// a third party from the browser. Responses are immutable per payload.
func (h *Handler) QRImage(w http.ResponseWriter, r *http.Request) {
	payload := r.URL.Query().Get("data")
	if payload == "" || len(payload) > 1024 {
		writeError(w, http.StatusBadRequest, "data query parameter is required")
		return
	}

	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	target := qrRenderEndpoint + "?size=300x300&data=" + url.QueryEscape(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to render qr")
		return
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		h.loggerForRequest(r).Error("qr_image_render", "error", err)
		writeError(w, http.StatusBadGateway, "qr renderer unavailable")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		h.loggerForRequest(r).Warn("qr_image_render", "status", resp.StatusCode)
		writeError(w, http.StatusBadGateway, "qr renderer unavailable")
		return
	}

	w.Header().Set("Content-Type", resp.Header.Get("Content-Type"))
	w.Header().Set("Cache-Control", "public, max-age=86400, immutable")
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, resp.Body)
}
