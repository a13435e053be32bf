package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"chamafund/internal/api"
	"chamafund/internal/config"
	"chamafund/internal/logging"
	"chamafund/internal/notify"
	"chamafund/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Logging)

	ctx := context.Background()
	pool, err := store.NewPool(ctx, cfg.DB.URL)
	if err != nil {
		logger.Error("db error", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	dispatcher := notify.NewDispatcher(&notify.LogNotifier{Logger: logger}, logger, cfg.Notify.Buffer)
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	srv := api.NewServer(store.New(pool), dispatcher, cfg.Auth.Token, logger)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:           srv.Routes(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}

	go func() {
		logger.Info("listening", slog.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctxShutdown, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	_ = httpServer.Shutdown(ctxShutdown)
}
