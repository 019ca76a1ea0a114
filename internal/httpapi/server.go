// Package httpapi exposes the booking ledger as JSON endpoints.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/railbook/internal/oplog"
	"github.com/MarkoPoloResearchLab/railbook/pkg/ledger"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	headerRequestID   = "X-Request-ID"
	contextRequestID  = "request_id"
	maxRequestIDRunes = 128
)

// Run serves the facade until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, cfg Config, service *ledger.Service, logger *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	gin.SetMode(gin.ReleaseMode)
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           NewRouter(cfg, service, logger),
		ReadHeaderTimeout: cfg.RequestTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("railbook api listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// NewRouter builds the gin engine with every ledger route registered.
func NewRouter(cfg Config, service *ledger.Service, logger *zap.Logger) *gin.Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(requestLogger(logger))
	router.Use(cors.New(cors.Config{
		AllowOrigins:  cfg.AllowedOrigins,
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Content-Type", "Origin", "Accept", headerRequestID},
		ExposeHeaders: []string{headerRequestID},
		MaxAge:        12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	handler := &httpHandler{service: service, logger: logger, timeout: cfg.RequestTimeout}
	api := router.Group("/api")

	api.GET("/statuses", handler.handleStatuses)

	api.POST("/accounts", handler.handleCreateAccount)
	api.GET("/accounts", handler.handleListAccounts)
	api.GET("/accounts/:username", handler.handleGetAccount)
	api.PUT("/accounts/:username/password", handler.handleUpdatePassword)
	api.PUT("/accounts/:username/balance", handler.handleSetBalance)
	api.POST("/accounts/:username/adjustments", handler.handleApplyDelta)
	api.GET("/accounts/:username/records", handler.handleListAccountRecords)
	api.GET("/accounts/:username/statement", handler.handleStatement)

	api.POST("/bookings", handler.handleCreateBooking)
	api.GET("/bookings", handler.handleListBookings)
	api.GET("/bookings/:bookingID", handler.handleGetBooking)
	api.PATCH("/bookings/:bookingID", handler.handleUpdateBooking)
	api.DELETE("/bookings/:bookingID", handler.handleDeleteBooking)
	api.POST("/bookings/:bookingID/transitions", handler.handleTransition)
	api.GET("/bookings/:bookingID/record", handler.handleGetRecord)
	api.PUT("/bookings/:bookingID/record", handler.handleUpsertRecord)
	api.PUT("/bookings/:bookingID/refund", handler.handleSetRefund)
	api.DELETE("/bookings/:bookingID/refund", handler.handleClearRefund)

	api.DELETE("/records/:recordID", handler.handleDeleteRecord)

	api.POST("/groups", handler.handleCreateGroup)
	api.GET("/groups/:groupID", handler.handleGetGroup)
	api.DELETE("/groups/:groupID", handler.handleDissolveGroup)
	api.DELETE("/groups/:groupID/members/:bookingID", handler.handleRemoveFromGroup)
	api.POST("/groups/:groupID/split", handler.handleSplit)
	api.POST("/groups/:groupID/split-preview", handler.handleSplitPreview)
	api.PUT("/groups/:groupID/prepared-accounts", handler.handleSharedRequirements)

	return router
}

// requestIDMiddleware keeps a caller supplied X-Request-ID or mints one, and
// threads it into the request context for operation logs.
func requestIDMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		requestID := strings.TrimSpace(ctx.GetHeader(headerRequestID))
		if requestID == "" || len([]rune(requestID)) > maxRequestIDRunes {
			requestID = uuid.NewString()
		}
		ctx.Set(contextRequestID, requestID)
		ctx.Header(headerRequestID, requestID)
		ctx.Request = ctx.Request.WithContext(oplog.ContextWithRequestID(ctx.Request.Context(), requestID))
		ctx.Next()
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()
		status := ctx.Writer.Status()
		fields := []zap.Field{
			zap.String("method", ctx.Request.Method),
			zap.String("path", ctx.FullPath()),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", ctx.GetString(contextRequestID)),
		}
		switch {
		case status >= http.StatusInternalServerError:
			logger.Error("http request", fields...)
		case status >= http.StatusBadRequest:
			logger.Warn("http request", fields...)
		default:
			logger.Info("http request", fields...)
		}
	}
}
