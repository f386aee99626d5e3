package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"socheath/backend/internal/cache"
	"socheath/backend/internal/config"
	"socheath/backend/internal/db"
	"socheath/backend/internal/events"
	"socheath/backend/internal/http/handlers"
	"socheath/backend/internal/http/middleware"
	"socheath/backend/internal/integrations"
	"socheath/backend/internal/integrations/bakong"
	"socheath/backend/internal/khqr"
	"socheath/backend/internal/logging"
	"socheath/backend/internal/payments"
	"socheath/backend/internal/repository"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, cleanup, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("log error: %v", err)
	}
	defer func() {
		_ = cleanup()
	}()
	logger = logger.With("service", "api")
	slog.SetDefault(logger)

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("db error", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	repo := repository.New(pool)

	var statusCache *cache.Cache
	if cfg.RedisURL != "" {
		statusCache, err = cache.New(cfg.RedisURL)
		if err != nil {
			logger.Error("redis error", "error", err)
			os.Exit(1)
		}
		defer func() {
			_ = statusCache.Close()
		}()
	}

	var publisher *events.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		publisher = events.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer func() {
			_ = publisher.Close()
		}()
	}

	var notifier *integrations.TelegramNotifier
	if cfg.TelegramToken != "" && cfg.TelegramChatID != 0 {
		notifier = integrations.NewTelegramNotifier(integrations.NewTelegramClient(cfg.TelegramToken), cfg.TelegramChatID)
	}

	tokenManager := bakong.NewTokenManager(bakong.TokenManagerConfig{
		MerchantID:  cfg.Bakong.MerchantID,
		Secret:      cfg.Bakong.Secret,
		TokenURL:    cfg.Bakong.BaseURL + "/token",
		StaticToken: cfg.Bakong.StaticToken,
	}, nil)
	bakongClient := bakong.NewClient(bakong.Config{BaseURL: cfg.Bakong.BaseURL}, tokenManager, nil, logger)

	generator := khqr.NewGenerator(khqr.Config{
		AccountID:    cfg.Bakong.AccountID,
		MerchantName: cfg.Bakong.MerchantName,
		MerchantCity: cfg.Bakong.MerchantCity,
		StoreLabel:   cfg.Bakong.StoreLabel,
	})

	verifier := payments.NewVerifier(bakongClient, cfg.Bakong.AccountID, logger)
	reconciler := payments.NewReconciler(repo, notifier, publisher, statusCache, logger)
	sessions := payments.NewSessionManager(verifier, reconciler, logger)
	sessions.SetPollInterval(cfg.Bakong.PollInterval)
	defer sessions.Shutdown()

	h := handlers.New(repo, generator, bakongClient, verifier, sessions, notifier, statusCache, cfg, logger)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(10 * time.Second))
	r.Use(corsMiddleware)

	r.Get("/healthz", h.Healthz)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/orders", h.CreateOrder)
		r.Get("/orders/{orderID}", h.GetOrder)
		r.Post("/orders/{orderID}/cancel", h.CancelOrder)
		r.Post("/orders/{orderID}/khqr", h.GenerateKHQR)
		r.Get("/orders/{orderID}/payment", h.PaymentStatus)
		r.Post("/orders/{orderID}/payment/cancel", h.CancelPayment)
		r.Post("/payments/check", h.CheckPayment)
		r.Get("/qr-image", h.QRImage)
	})

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	go func() {
		logger.Info("api_listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutdown", "service", "api")
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctxShutdown)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization,Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
