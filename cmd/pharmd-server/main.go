package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/pharmd/pharmd/internal/config"
	"github.com/pharmd/pharmd/internal/domain/catalog"
	"github.com/pharmd/pharmd/internal/domain/dispensing"
	"github.com/pharmd/pharmd/internal/domain/inventory"
	"github.com/pharmd/pharmd/internal/domain/prescription"
	"github.com/pharmd/pharmd/internal/domain/validation"
	"github.com/pharmd/pharmd/internal/platform/auth"
	"github.com/pharmd/pharmd/internal/platform/db"
	"github.com/pharmd/pharmd/internal/platform/middleware"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pharmd-server",
		Short: "Pharmacy inventory and dispensing API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s).\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func runServer() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			SigningKey: []byte(cfg.AuthSecret),
		}))
	}
	e.Use(middleware.Audit(logger))

	e.GET("/health", db.HealthHandler(pool))

	// Domain wiring: catalog feeds safety thresholds to inventory, inventory
	// feeds availability to validation, and the workflow drives all three.
	catalogSvc := catalog.NewService(catalog.NewMedicineRepoPG(pool))

	inventorySvc := inventory.NewService(
		inventory.NewPgRepository(pool),
		catalogSvc,
		logger,
		inventory.Options{
			Retries:        cfg.StockRetryAttempts,
			ExpiringWindow: time.Duration(cfg.ExpiringWindowDays) * 24 * time.Hour,
			HoldTTL:        time.Duration(cfg.ReservationTTLMin) * time.Minute,
		},
	)

	allergyRepo := prescription.NewPgAllergyRepository(pool)
	prescriptionSvc := prescription.NewService(prescription.NewPgRepository(pool), allergyRepo)

	pipeline := validation.NewPipeline(
		catalogSvc,
		inventorySvc,
		allergyRepo,
		validation.NewStaticInteractionCatalog(),
		validation.DefaultAllergenCatalog(),
		logger,
	)

	workflow := dispensing.NewWorkflow(
		dispensing.NewPgRepository(pool),
		inventorySvc,
		prescriptionSvc,
		pipeline,
		catalogSvc,
		logger,
	)

	apiV1 := e.Group("/api/v1")
	catalog.NewHandler(catalogSvc).RegisterRoutes(apiV1)
	inventory.NewHandler(inventorySvc).RegisterRoutes(apiV1)
	prescription.NewHandler(prescriptionSvc).RegisterRoutes(apiV1)
	dispensing.NewHandler(workflow).RegisterRoutes(apiV1)

	// Background sweeper for abandoned reservation holds.
	sweepCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				if swept := inventorySvc.SweepExpiredHolds(sweepCtx); swept > 0 {
					logger.Info().Int("count", swept).Msg("swept expired reservation holds")
				}
			}
		}
	}()

	// Start server with graceful shutdown.
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
