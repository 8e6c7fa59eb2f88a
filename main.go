package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/groupgate/group-gate-bot/internal/access"
	"github.com/groupgate/group-gate-bot/internal/config"
	"github.com/groupgate/group-gate-bot/internal/handlers"
	"github.com/groupgate/group-gate-bot/internal/middleware"
	"github.com/groupgate/group-gate-bot/internal/payments"
	"github.com/groupgate/group-gate-bot/internal/scheduler"
	"github.com/groupgate/group-gate-bot/internal/webhook"
	"github.com/groupgate/group-gate-bot/internal/wizard"
	"github.com/groupgate/group-gate-bot/store"
)

func main() {
	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	cfg := config.Load()
	if cfg.BotToken == "" {
		logger.Fatal("BOT_TOKEN is required")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rdb, err := store.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, "group_gate")
	if err != nil {
		logger.Fatal("redis connection failed", zap.Error(err))
	}
	defer rdb.Close()

	sessions := store.NewRedisSessionStore(rdb, cfg.SessionTTLHours)

	pgStore, err := store.NewPostgresStore(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("postgres connection failed", zap.Error(err))
	}
	defer pgStore.Close()

	httpClient := &http.Client{Timeout: 10 * time.Minute}
	pollTimeout := 50 * time.Second

	b, err := bot.New(
		cfg.BotToken,
		bot.WithHTTPClient(pollTimeout, httpClient),
	)
	if err != nil {
		logger.Fatal("bot creation failed", zap.Error(err))
	}

	notifyURL := ""
	returnURL := ""
	cancelURL := ""
	if cfg.PublicBaseURL != "" {
		notifyURL = cfg.PublicBaseURL + "/payfast/itn"
		returnURL = cfg.PublicBaseURL + "/payments/return"
		cancelURL = cfg.PublicBaseURL + "/payments/cancel"
	}

	registry := payments.NewRegistry(pgStore, logger)
	payfast := payments.NewPayFast(payments.PayFastConfig{
		MerchantID:     cfg.PayFastMerchantID,
		MerchantKey:    cfg.PayFastMerchantKey,
		Passphrase:     cfg.PayFastPassphrase,
		Sandbox:        cfg.PayFastSandbox,
		ReturnURL:      returnURL,
		CancelURL:      cancelURL,
		NotifyURL:      notifyURL,
		ValidateRemote: cfg.PayFastValidateRemote,
	}, logger)
	payfast.SetCredentialSource(payments.NewPolicyCredentials(pgStore))
	registry.Register(payfast, true)

	engine := access.NewEngine(pgStore, logger)
	wiz := wizard.NewWizard(sessions, pgStore, cfg.DefaultCurrency, logger)

	h := handlers.NewHandlers(pgStore, pgStore, engine, wiz, registry, b, handlers.Config{
		SubscriptionExtension: cfg.SubscriptionExtension,
	}, logger)
	registry.SetSuccessCallback(h.OnPaymentSettled)

	webhookServer := webhook.NewServer(registry, logger)
	go func() {
		if err := webhookServer.Start(ctx, cfg.WebhookAddr); err != nil {
			logger.Error("webhook server stopped", zap.Error(err))
			cancel()
		}
	}()

	sweeps := scheduler.NewScheduler(pgStore, pgStore, b, scheduler.Config{
		ExpiryInterval:  cfg.ExpirySweepInterval,
		RemovalInterval: cfg.RemovalSweepInterval,
	}, logger)
	sweeps.Start()
	defer sweeps.Stop()

	middlewares := middleware.NewMessageAnalyzer(pgStore, sessions, logger)
	handlerChain := middlewares.TrackUserMiddleware(
		middlewares.AnalyzeMessageMiddleware(
			h.MainHandler,
		),
	)

	b.RegisterHandlerMatchFunc(func(update *models.Update) bool {
		return update.Message != nil
	}, handlerChain)

	b.RegisterHandler(bot.HandlerTypeCallbackQueryData, "", bot.MatchTypePrefix, handlerChain)

	logger.Info("bot started")
	b.Start(ctx)
	logger.Info("bot stopped")
}
