package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"socheath/backend/internal/cache"
	"socheath/backend/internal/config"
	"socheath/backend/internal/integrations"
	"socheath/backend/internal/integrations/bakong"
	"socheath/backend/internal/khqr"
	"socheath/backend/internal/payments"
	"socheath/backend/internal/repository"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
)

type Handler struct {
	repo      *repository.Repository
	generator *khqr.Generator
	bakong    *bakong.Client
	verifier  *payments.Verifier
	sessions  *payments.SessionManager
	telegram  *integrations.TelegramNotifier
	cache     *cache.Cache
	cfg       *config.Config
	logger    *slog.Logger
	validator *validator.Validate
}

func New(
	repo *repository.Repository,
	generator *khqr.Generator,
	bakongClient *bakong.Client,
	verifier *payments.Verifier,
	sessions *payments.SessionManager,
	telegram *integrations.TelegramNotifier,
	statusCache *cache.Cache,
	cfg *config.Config,
	logger *slog.Logger,
) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		repo:      repo,
		generator: generator,
		bakong:    bakongClient,
		verifier:  verifier,
		sessions:  sessions,
		telegram:  telegram,
		cache:     statusCache,
		cfg:       cfg,
		logger:    logger,
		validator: validator.New(),
	}
}

func (h *Handler) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, 5*time.Second)
}

func (h *Handler) loggerForRequest(r *http.Request) *slog.Logger {
	logger := h.logger
	if logger == nil {
		return slog.Default()
	}
	if reqID := chimw.GetReqID(r.Context()); reqID != "" {
		logger = logger.With("request_id", reqID)
	}
	return logger
}

// Healthz reports liveness plus database reachability.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.repo.Ping(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
