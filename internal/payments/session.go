package payments

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"socheath/backend/internal/khqr"
	"socheath/backend/internal/models"
)

// State is the client-visible payment session state.
type State string

const (
	StateCreated   State = "CREATED"
	StatePolling   State = "POLLING"
	StateConfirmed State = "CONFIRMED"
	StateExpired   State = "EXPIRED"
	StateCancelled State = "CANCELLED"
)

// Terminal reports whether no further transition is valid.
func (s State) Terminal() bool {
	return s == StateConfirmed || s == StateExpired || s == StateCancelled
}

const defaultPollInterval = 5 * time.Second

// SessionVerifier is what the poll loop calls each tick.
type SessionVerifier interface {
	Verify(ctx context.Context, md5 string, expectedAmount decimal.Decimal, currency string, requestCreatedAt time.Time) (Result, error)
}

// Finalizer settles the order once a verification confirms.
type Finalizer interface {
	Finalize(ctx context.Context, orderID string, res Result) (models.Order, bool, error)
}

// Session is one QR attempt for one order. A single goroutine owns the poll
// loop, so verifier calls within a session are strictly sequential.
type Session struct {
	OrderID string
	Request khqr.PaymentRequest

	mu     sync.Mutex
	state  State
	result *Result
	order  *models.Order

	cancel context.CancelFunc
	done   chan struct{}
}

// Snapshot is a point-in-time view served to the HTTP layer.
type Snapshot struct {
	OrderID          string        `json:"orderId"`
	State            State         `json:"state"`
	MD5              string        `json:"md5"`
	BillNumber       string        `json:"billNumber"`
	ExpiresAt        time.Time     `json:"expiresAt"`
	RemainingSeconds int64         `json:"remainingSeconds"`
	Result           *Result       `json:"result,omitempty"`
	Order            *models.Order `json:"order,omitempty"`
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot captures the session as of now.
func (s *Session) Snapshot(now time.Time) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	remaining := s.Request.ExpiresAt.Sub(now)
	if remaining < 0 || s.state.Terminal() {
		remaining = 0
	}
	return Snapshot{
		OrderID:          s.OrderID,
		State:            s.state,
		MD5:              s.Request.MD5,
		BillNumber:       s.Request.BillNumber,
		ExpiresAt:        s.Request.ExpiresAt,
		RemainingSeconds: int64(remaining / time.Second),
		Result:           s.result,
		Order:            s.order,
	}
}

// Cancel stops the poll loop. The timer never fires again after return of the
// loop goroutine; terminal states are left untouched.
func (s *Session) Cancel() {
	s.mu.Lock()
	if !s.state.Terminal() {
		s.state = StateCancelled
	}
	s.mu.Unlock()
	s.cancel()
	<-s.done
}

// transitionIf moves to next unless the session is already terminal.
func (s *Session) transitionIf(next State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return false
	}
	s.state = next
	return true
}

func (s *Session) confirm(res Result, order models.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return
	}
	s.state = StateConfirmed
	s.result = &res
	s.order = &order
}

// SessionManager owns the per-order session registry and the shared poll
// policy. Sessions share no mutable state beyond the injected collaborators.
type SessionManager struct {
	verifier  SessionVerifier
	finalizer Finalizer
	logger    *slog.Logger
	interval  time.Duration
	now       func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewSessionManager(verifier SessionVerifier, finalizer Finalizer, logger *slog.Logger) *SessionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionManager{
		verifier:  verifier,
		finalizer: finalizer,
		logger:    logger,
		interval:  defaultPollInterval,
		now:       time.Now,
		sessions:  make(map[string]*Session),
	}
}

// SetPollInterval overrides the default tick. Applies to sessions started
// after the call.
func (m *SessionManager) SetPollInterval(d time.Duration) {
	if d > 0 {
		m.interval = d
	}
}

// Start registers a new session for the order and begins polling. An earlier
// session for the same order is cancelled: its fingerprint is abandoned, not
// reused.
func (m *SessionManager) Start(orderID string, req khqr.PaymentRequest) (*Session, error) {
	if orderID == "" {
		return nil, fmt.Errorf("order id is required")
	}
	if req.MD5 == "" {
		return nil, fmt.Errorf("payment request fingerprint is required")
	}

	m.mu.Lock()
	prev := m.sessions[orderID]
	m.mu.Unlock()
	if prev != nil {
		prev.Cancel()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		OrderID: orderID,
		Request: req,
		state:   StateCreated,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	m.mu.Lock()
	m.sessions[orderID] = s
	m.mu.Unlock()

	s.transitionIf(StatePolling)
	go m.run(ctx, s)
	return s, nil
}

// Get returns the live session for an order.
func (m *SessionManager) Get(orderID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[orderID]
	return s, ok
}

// Now exposes the manager clock for snapshot computation.
func (m *SessionManager) Now() time.Time {
	return m.now()
}

// Shutdown cancels every live session and waits for their loops to stop.
func (m *SessionManager) Shutdown() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()
	for _, s := range sessions {
		s.Cancel()
	}
}

// run is the poll loop: deadline check, one serialized verify, then sleep
// until the next tick or the deadline, whichever is sooner.
func (m *SessionManager) run(ctx context.Context, s *Session) {
	defer close(s.done)

	timer := time.NewTimer(m.interval)
	defer timer.Stop()

	for {
		now := m.now()
		if !now.Before(s.Request.ExpiresAt) {
			if s.transitionIf(StateExpired) {
				m.logger.Info("payment_session_expired", "order_id", s.OrderID, "md5", s.Request.MD5)
			}
			return
		}

		res, err := m.verifier.Verify(ctx, s.Request.MD5, s.Request.Amount, s.Request.Currency, s.Request.CreatedAt)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			// Transient by policy: the user just keeps seeing "waiting".
			m.logger.Warn("payment_session_verify_failed", "order_id", s.OrderID, "md5", s.Request.MD5, "error", err)
		case res.Confirmed():
			order, confirmedNow, err := m.finalizer.Finalize(ctx, s.OrderID, res)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				// Do not report success while the order is not durably paid;
				// the next tick retries the finalize.
				m.logger.Error("payment_session_finalize_failed", "order_id", s.OrderID, "error", err)
			} else {
				s.confirm(res, order)
				m.logger.Info("payment_session_confirmed",
					"order_id", s.OrderID, "md5", s.Request.MD5, "hash", res.Hash, "confirmed_now", confirmedNow)
				return
			}
		default:
			m.logger.Debug("payment_session_poll", "order_id", s.OrderID, "md5", s.Request.MD5, "outcome", res.Outcome)
		}

		wait := m.interval
		if remaining := s.Request.ExpiresAt.Sub(m.now()); remaining < wait {
			wait = remaining
		}
		if wait < 0 {
			wait = 0
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}
}
