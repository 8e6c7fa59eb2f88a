package webhook

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/groupgate/group-gate-bot/internal/payments"
)

const maxNotificationBody = 64 << 10

// Server exposes the inbound payment webhook surface: the generic
// /payments/webhook/:provider route plus each gateway's own fixed path.
// Both terminate in the same registry dispatch.
type Server struct {
	registry *payments.Registry
	logger   *zap.Logger
	server   *http.Server
}

func NewServer(registry *payments.Registry, logger *zap.Logger) *Server {
	return &Server{
		registry: registry,
		logger:   logger.Named("webhook"),
	}
}

func (s *Server) router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(RecoveryMiddleware(s.logger))

	router.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	// Post-checkout redirect targets handed to the gateways.
	router.GET("/payments/return", func(c *gin.Context) {
		c.String(http.StatusOK, "Payment received. You can close this page and return to Telegram.")
	})
	router.GET("/payments/cancel", func(c *gin.Context) {
		c.String(http.StatusOK, "Payment cancelled. You can close this page and return to Telegram.")
	})

	router.POST("/payments/webhook/:provider", func(c *gin.Context) {
		s.handleNotification(c, c.Param("provider"))
	})

	for _, gw := range s.registry.Gateways() {
		path := gw.WebhookPath()
		if path == "" {
			continue
		}
		provider := gw.Name()
		router.POST(path, func(c *gin.Context) {
			s.handleNotification(c, provider)
		})
	}

	return router
}

// Start runs the webhook listener until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("webhook server listening", zap.String("addr", addr))
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) handleNotification(c *gin.Context, provider string) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxNotificationBody))
	if err != nil {
		c.String(http.StatusBadRequest, "unreadable body")
		return
	}

	n, err := payments.ParseNotification(body)
	if err != nil {
		c.String(http.StatusBadRequest, "malformed notification")
		return
	}

	err = s.registry.Dispatch(provider, n)
	if err == nil {
		c.String(http.StatusOK, "OK")
		return
	}

	var formatErr *payments.FormatError
	switch {
	case errors.Is(err, payments.ErrUnknownProvider):
		c.String(http.StatusNotFound, "unknown provider")
	case errors.Is(err, payments.ErrBadSignature), errors.As(err, &formatErr):
		s.logger.Warn("rejected notification", zap.String("provider", provider), zap.Error(err))
		c.String(http.StatusBadRequest, "invalid notification")
	default:
		s.logger.Error("notification processing failed", zap.String("provider", provider), zap.Error(err))
		c.String(http.StatusInternalServerError, "processing failed")
	}
}
