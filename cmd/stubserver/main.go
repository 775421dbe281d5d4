package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/suPer8Hu/shoshchat-widget/internal/app"
	"github.com/suPer8Hu/shoshchat-widget/internal/config"
	"github.com/suPer8Hu/shoshchat-widget/internal/httpapi"
	"github.com/suPer8Hu/shoshchat-widget/internal/httpapi/handlers"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(2)
	}
	logger := app.NewLogger(os.Stderr, cfg.LogLevel)
	gin.SetMode(gin.ReleaseMode)

	h := handlers.NewHandler(handlers.Config{JWTSecret: cfg.JWTSecret, AccessTokenTTL: cfg.AccessTokenTTL},
		handlers.WithMailer(handlers.LogMailer{Logger: logger}))

	// demo owner
	username, password := cfg.Username, cfg.Password
	if username == "" {
		username, password = "owner", "owner-pass"
	}
	if _, err := h.AddUser(username, username+"@example.test", password); err != nil {
		logger.Error("seed user", "error", err)
		os.Exit(1)
	}
	if _, err := h.AddTenant(username, "Demo Tenant", cfg.TenantID); err != nil {
		logger.Error("seed tenant", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              cfg.StubAddr,
		Handler:           httpapi.NewRouter(h, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("stub backend listening", "addr", cfg.StubAddr, "api", httpapi.APIPrefix, "owner", username, "tenant", cfg.TenantID)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listen", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("stub backend shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown", "error", err)
	}
}
