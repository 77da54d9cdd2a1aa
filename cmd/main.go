package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"bank-sca/internal/app"
	"bank-sca/internal/config"
	"bank-sca/internal/handlers"
	"bank-sca/internal/logging"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Stdout)
	stop()
	if err != nil {
		log.Fatal(err)
	}
}

// run serves until ctx is cancelled. Deferred cleanup has finished by the
// time it returns.
func run(ctx context.Context, out io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	appLog := logging.New(out, cfg.Production(), cfg.LogLevel)

	a, err := app.New(cfg, appLog)
	if err != nil {
		return fmt.Errorf("failed to initialise: %w", err)
	}
	defer a.Close()

	h := handlers.NewHandler(a.Transfers, a.Auth, appLog)

	server := fiber.New(fiber.Config{
		ErrorHandler:          h.ErrorHandler,
		DisableStartupMessage: cfg.Production(),
	})

	server.Use(recover.New())
	server.Use(helmet.New())
	server.Use(cors.New(cors.Config{
		AllowOrigins: cfg.AllowedOrigins,
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		// Credentials cannot be combined with a wildcard origin.
		AllowCredentials: !strings.Contains(cfg.AllowedOrigins, "*"),
	}))
	server.Use(logger.New(logger.Config{Output: out}))

	h.Mount(server, handlers.RouteOptions{
		RateLimitEnabled:  cfg.RateLimitEnabled,
		InitiatePerMinute: cfg.RateLimitInitiate,
		ExecutePerMinute:  cfg.RateLimitExecute,
	})

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.ShutdownWithContext(shutdownCtx); err != nil {
			appLog.Error(shutdownCtx, "shutdown failed", "error", err)
		}
	}()

	appLog.Info(ctx, "server starting", "port", cfg.Port, "environment", cfg.Environment, "storage", cfg.StorageDriver)
	if err := server.Listen(":" + cfg.Port); err != nil {
		return fmt.Errorf("server stopped: %w", err)
	}
	return nil
}
