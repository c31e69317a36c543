package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/medgate/medgate/internal/config"
	"github.com/medgate/medgate/internal/domain/inference"
	"github.com/medgate/medgate/internal/domain/ingest"
	"github.com/medgate/medgate/internal/domain/payload"
	"github.com/medgate/medgate/internal/domain/remoteapp"
	"github.com/medgate/medgate/internal/domain/routing"
	"github.com/medgate/medgate/internal/platform/auth"
	"github.com/medgate/medgate/internal/platform/db"
	"github.com/medgate/medgate/internal/platform/extractor"
	"github.com/medgate/medgate/internal/platform/middleware"
	"github.com/medgate/medgate/internal/platform/mllp"
	"github.com/medgate/medgate/internal/platform/notify"
	"github.com/medgate/medgate/internal/platform/retry"
	"github.com/medgate/medgate/internal/platform/storage"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "medgate-server",
		Short: "MedGate clinical data ingestion gateway",
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway (MLLP listener and HTTP API)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}

	var migrationsDir string

	migrateUpCmd := &cobra.Command{
		Use:   "migrate-up",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(migrationsDir, func(ctx context.Context, m *db.Migrator) error {
				applied, err := m.Up(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("applied %d migration(s)\n", applied)
				return nil
			})
		},
	}
	migrateUpCmd.Flags().StringVar(&migrationsDir, "dir", "./migrations", "path to migrations directory")

	migrateStatusCmd := &cobra.Command{
		Use:   "migrate-status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(migrationsDir, func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return err
				}
				for _, s := range statuses {
					state := "pending"
					if s.Applied {
						state = fmt.Sprintf("applied %s", s.AppliedAt.Format(time.RFC3339))
					}
					fmt.Printf("%04d %-40s %s\n", s.Version, s.Name, state)
				}
				return nil
			})
		},
	}
	migrateStatusCmd.Flags().StringVar(&migrationsDir, "dir", "./migrations", "path to migrations directory")

	rootCmd.AddCommand(serveCmd, migrateUpCmd, migrateStatusCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runMigrate(dir string, fn func(context.Context, *db.Migrator) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.DatabaseBackend != config.BackendPostgres {
		return fmt.Errorf("migrations apply to the %s backend only, configured backend is %q",
			config.BackendPostgres, cfg.DatabaseBackend)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	return fn(ctx, db.NewMigrator(pool, dir))
}

func runServer() error {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.IsDev() {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen})
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	ctx := context.Background()

	var (
		payloadRepo   payload.Repository
		inferenceRepo inference.Repository
		execRepo      remoteapp.Repository
		configRepo    routing.ConfigRepository
		sourceRepo    routing.SourceRepository
		destRepo      routing.DestinationRepository
		dbHealth      echo.HandlerFunc
	)

	switch cfg.DatabaseBackend {
	case config.BackendPostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer pool.Close()
		logger.Info().Msg("connected to postgres")

		payloadRepo = payload.NewRepoPG(pool)
		inferenceRepo = inference.NewRepoPG(pool)
		execRepo = remoteapp.NewRepoPG(pool)
		configRepo = routing.NewConfigRepoPG(pool)
		sourceRepo = routing.NewSourceRepoPG(pool)
		destRepo = routing.NewDestinationRepoPG(pool)
		dbHealth = db.HealthHandler(pool)

	case config.BackendMongoDB:
		client, err := db.NewMongoClient(ctx, cfg.MongoURL)
		if err != nil {
			return fmt.Errorf("connect to mongodb: %w", err)
		}
		defer func() {
			disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = client.Disconnect(disconnectCtx)
		}()
		database := client.Database(cfg.MongoDatabase)
		if err := db.EnsureMongoIndexes(ctx, database); err != nil {
			return fmt.Errorf("ensure mongo indexes: %w", err)
		}
		logger.Info().Str("database", cfg.MongoDatabase).Msg("connected to mongodb")

		payloadRepo = payload.NewRepoMongo(database)
		inferenceRepo = inference.NewRepoMongo(database)
		execRepo = remoteapp.NewRepoMongo(database)
		configRepo = routing.NewConfigRepoMongo(database)
		sourceRepo = routing.NewSourceRepoMongo(database)
		destRepo = routing.NewDestinationRepoMongo(database)
	}

	store, err := storage.NewLocalStore(cfg.StoragePath)
	if err != nil {
		return fmt.Errorf("open payload storage: %w", err)
	}

	notifier, err := notify.NewNATSNotifier(cfg.NATSURL, cfg.NATSSubjectWorkflow, logger)
	if err != nil {
		return fmt.Errorf("connect to nats: %w", err)
	}
	defer notifier.Close()

	policy := retry.Policy{
		MaxAttempts:     cfg.RetryMaxAttempts,
		InitialInterval: cfg.RetryInitialDelay(),
		MaxInterval:     30 * time.Second,
	}

	routingSvc := routing.NewService(configRepo, sourceRepo, destRepo)
	execSvc := remoteapp.NewService(execRepo)
	tracker := inference.NewTracker(inferenceRepo, policy, cfg.InferenceMaxRetries, logger)
	ex := extractor.New(routingSvc, execSvc, store, logger)

	assembler := payload.NewAssembler(payload.Config{
		Timeout:    cfg.PayloadTimeout(),
		MaxFiles:   cfg.PayloadMaxFiles,
		MaxRetries: cfg.PayloadMaxRetries,
	}, payloadRepo, notifier, policy, logger)
	assembler.Start()
	defer assembler.Stop()

	mllpServer := mllp.NewServer(mllp.Config{
		Addr:              fmt.Sprintf(":%d", cfg.HL7Port),
		MaxConnections:    cfg.HL7MaxConnections,
		IdleTimeout:       cfg.HL7ClientTimeout(),
		BufferSize:        cfg.HL7BufferSize,
		MaxProtocolErrors: cfg.HL7MaxProtocolErrors,
	}, logger, func(clientID uuid.UUID, remoteAddr string, result mllp.Result) {
		// All messages from one session share the session's correlation
		// unless extraction links them back to an outbound export.
		sessionCtx := context.Background()
		for _, msg := range result.Messages {
			f, err := ex.ExtractHL7(sessionCtx, msg, clientID.String(), remoteAddr)
			if err != nil {
				logger.Warn().Err(err).
					Str("client_id", clientID.String()).
					Str("remote", remoteAddr).
					Msg("dropping clinical message")
				continue
			}
			assembler.Queue(sessionCtx, f.CorrelationID, f, cfg.PayloadTimeout())
		}
	})
	if err := mllpServer.Start(); err != nil {
		return fmt.Errorf("start mllp listener: %w", err)
	}
	defer mllpServer.Stop()
	logger.Info().Str("addr", mllpServer.Addr()).Msg("mllp listener started")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAuthorization, middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit("1M", "4G"))
	e.Use(middleware.RequestTimeout(30 * time.Second))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
			"backend": cfg.DatabaseBackend,
		})
	})
	if dbHealth != nil {
		e.GET("/health/db", dbHealth)
	}

	var authGuard echo.MiddlewareFunc
	if cfg.IsDev() && cfg.AuthSecret == "" {
		logger.Warn().Msg("running with development auth, all requests are admitted")
		authGuard = auth.DevAuthMiddleware()
	} else {
		authGuard = auth.JWTMiddleware([]byte(cfg.AuthSecret))
	}

	apiV1 := e.Group("/api/v1")

	// Ingestion endpoints are called by imaging devices and integration
	// engines that authenticate at the network layer.
	ingest.NewHandler(ex, assembler, logger).RegisterRoutes(apiV1)

	admin := apiV1.Group("", authGuard)
	routing.NewHandler(routingSvc).RegisterRoutes(admin)
	inference.NewHandler(tracker).RegisterRoutes(admin)
	payload.NewHandler(payloadRepo).RegisterRoutes(admin)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("http server started")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown failed")
	}
	if err := mllpServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("mllp shutdown failed")
	}
	assembler.Stop()

	logger.Info().Msg("shutdown complete")
	return nil
}
