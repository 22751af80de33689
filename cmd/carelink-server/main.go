package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/carelink/carelink/internal/config"
	"github.com/carelink/carelink/internal/domain/audit"
	"github.com/carelink/carelink/internal/domain/billing"
	"github.com/carelink/carelink/internal/domain/careorders"
	"github.com/carelink/carelink/internal/domain/identity"
	"github.com/carelink/carelink/internal/domain/notification"
	"github.com/carelink/carelink/internal/domain/scheduling"
	"github.com/carelink/carelink/internal/platform/apperror"
	"github.com/carelink/carelink/internal/platform/auth"
	"github.com/carelink/carelink/internal/platform/db"
	"github.com/carelink/carelink/internal/platform/middleware"
	"github.com/carelink/carelink/internal/platform/outbox"
	"github.com/carelink/carelink/internal/platform/sms"
)

// Exit codes for the invoices run command.
const (
	exitOK             = 0
	exitConfig         = 1
	exitPartialFailure = 2
	exitFatal          = 3
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "carelink-server",
		Short:         "Home-care coordination API server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(invoicesCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger() zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" || os.Getenv("ENV") == "" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger
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

			count, err := db.NewMigrator(pool, dir).Up(ctx)
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

			statuses, err := db.NewMigrator(pool, dir).Status(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status, appliedAt := "pending", ""
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

// invoicesCmd runs the monthly invoice generation as a one-shot process, the
// way a cron entry invokes it. Exit codes: 0 success, 1 configuration error,
// 2 at least one patient skipped, 3 fatal.
func invoicesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invoices",
		Short: "Invoice jobs",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Generate invoices for a calendar month",
		Run: func(cmd *cobra.Command, args []string) {
			year, _ := cmd.Flags().GetInt("year")
			month, _ := cmd.Flags().GetInt("month")
			os.Exit(runInvoices(year, month))
		},
	}
	now := time.Now()
	runCmd.Flags().Int("year", now.Year(), "Target year")
	runCmd.Flags().Int("month", int(now.Month()), "Target month (1-12)")
	cmd.AddCommand(runCmd)

	return cmd
}

func runInvoices(year, month int) int {
	logger := newLogger()

	if month < 1 || month > 12 {
		logger.Error().Int("month", month).Msg("month out of range")
		return exitConfig
	}
	cfg, err := config.Load()
	if err != nil {
		logger.Error().Err(err).Msg("configuration error")
		return exitConfig
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Error().Err(err).Msg("database unavailable")
		return exitFatal
	}
	defer pool.Close()

	app, err := buildApp(cfg, pool, logger)
	if err != nil {
		logger.Error().Err(err).Msg("wiring failed")
		return exitFatal
	}

	runCtx := auth.WithActor(ctx, auth.SystemActor())
	result, err := app.billingSvc.GenerateMonthly(runCtx, year, time.Month(month))
	if err != nil {
		logger.Error().Err(err).Msg("monthly run failed")
		return exitFatal
	}
	if len(result.Skipped) > 0 {
		return exitPartialFailure
	}
	return exitOK
}

// app bundles the wired services so the server and the one-shot jobs share
// one construction path.
type app struct {
	identitySvc  *identity.Service
	careSvc      *careorders.CareService
	schedSvc     *scheduling.Service
	billingSvc   *billing.Service
	notifSvc     *notification.Service
	auditSvc     *audit.Service
	guard        *auth.Guard
	outboxWorker *outbox.Worker
	cronToken    string
}

func buildApp(cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) (*app, error) {
	runner := db.NewRunner(pool)

	users := identity.NewUserRepoPG(pool)
	patients := identity.NewPatientRepoPG(pool)
	family := identity.NewFamilyRepoPG(pool)
	providers := identity.NewProviderRepoPG(pool)

	schedules := scheduling.NewScheduleRepoPG(pool)
	slots := scheduling.NewTimeSlotRepoPG(pool)

	services := careorders.NewServiceRepoPG(pool)
	prescriptions := careorders.NewPrescriptionRepoPG(pool)
	demands := careorders.NewDemandRepoPG(pool)

	invoices := billing.NewInvoiceRepoPG(pool)
	lines := billing.NewLineRepoPG(pool)
	billables := billing.NewBillableRepoPG(pool)

	notifications := notification.NewRepoPG(pool)
	prefs := notification.NewPreferencesRepoPG(pool)

	auditRepo := audit.NewRepoPG(pool)
	auditSvc := audit.NewService(auditRepo, logger)

	rels := identity.NewRelationships(patients, family, providers, schedules)
	guard := auth.NewGuard(rels, logger)

	var sender sms.Sender
	if cfg.SMSGateway != "" {
		sender = sms.NewGatewayClient(cfg.SMSGateway, cfg.SMSAPIKey, cfg.SMSSender)
	} else {
		sender = &sms.MockSender{}
		logger.Warn().Msg("no SMS gateway configured, deliveries are dropped")
	}

	var queue outbox.Queue
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		queue = outbox.NewRedisQueue(redis.NewClient(opts))
	} else {
		queue = outbox.NewMemoryQueue(1024)
	}

	dispatcher := notification.NewDispatcher(notifications, prefs, users, patients,
		family, providers, services, queue, logger)

	resolver := billing.NewResolver(billing.DefaultHourlyRateServices)
	billingSvc := billing.NewService(invoices, lines, billables, patients, services,
		resolver, guard, runner, auditSvc, logger)

	return &app{
		identitySvc: identity.NewService(users, patients, family, providers,
			invoices, runner, auditSvc, logger),
		careSvc: careorders.NewCareService(services, prescriptions, demands,
			guard, runner, auditSvc),
		schedSvc: scheduling.NewService(schedules, slots, family, guard, runner,
			auditSvc, dispatcher, logger),
		billingSvc:   billingSvc,
		notifSvc:     notification.NewService(notifications, prefs),
		auditSvc:     auditSvc,
		guard:        guard,
		outboxWorker: outbox.NewWorker(queue, sender, logger),
		cronToken:    cfg.CronToken,
	}, nil
}

func runServer() error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	app, err := buildApp(cfg, pool, logger)
	if err != nil {
		return err
	}

	// SMS deliveries drain in the background until shutdown.
	go app.outboxWorker.Run(ctx)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = apperror.HTTPErrorHandler(logger)

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.RequestTimeout(30 * time.Second))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Cron-Token"},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	// The open group carries activation and the cron endpoint; everything
	// else requires a session.
	open := e.Group("/api/v1")

	var authMW echo.MiddlewareFunc
	if cfg.IsDev() && cfg.JWTSecret == "" {
		logger.Warn().Msg("running with development auth")
		authMW = auth.DevAuthMiddleware()
	} else {
		authMW = auth.JWTMiddleware([]byte(cfg.JWTSecret))
	}
	api := e.Group("/api/v1", authMW)

	identity.NewHandler(app.identitySvc, app.guard).RegisterRoutes(api, open)
	careorders.NewHandler(app.careSvc).RegisterRoutes(api)
	scheduling.NewHandler(app.schedSvc).RegisterRoutes(api)
	billing.NewHandler(app.billingSvc, app.cronToken).RegisterRoutes(api, open)
	notification.NewHandler(app.notifSvc).RegisterRoutes(api)
	audit.NewHandler(app.auditSvc).RegisterRoutes(api)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("server listening")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info().Msg("server stopped cleanly")
	return nil
}
