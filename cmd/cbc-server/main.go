package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cbclite/cbclite/internal/config"
	"github.com/cbclite/cbclite/internal/domain/consent"
	"github.com/cbclite/cbclite/internal/domain/encounter"
	"github.com/cbclite/cbclite/internal/domain/patient"
	"github.com/cbclite/cbclite/internal/platform/auth"
	"github.com/cbclite/cbclite/internal/platform/codec"
	"github.com/cbclite/cbclite/internal/platform/db"
	"github.com/cbclite/cbclite/internal/platform/middleware"
	"github.com/cbclite/cbclite/internal/platform/validation"
	"github.com/cbclite/cbclite/internal/satusehat"
	"github.com/cbclite/cbclite/migrations"
	"github.com/cbclite/cbclite/pkg/pagination"
)

const version = "0.1.0"

// patientDirectory adapts patient.Service to satusehat.PatientDirectory so
// the registry package does not import the records domain.
type patientDirectory struct {
	svc *patient.Service
}

func newPatientDirectory(svc *patient.Service) *patientDirectory {
	return &patientDirectory{svc: svc}
}

func (d *patientDirectory) FindPatient(ctx context.Context, id uuid.UUID) (satusehat.PatientRecord, error) {
	p, err := d.svc.Get(ctx, id)
	if errors.Is(err, patient.ErrNotFound) {
		return satusehat.PatientRecord{}, satusehat.ErrPatientNotFound
	}
	if err != nil {
		return satusehat.PatientRecord{}, err
	}
	return toRecord(p), nil
}

func (d *patientDirectory) MarkSynced(ctx context.Context, id uuid.UUID, satuSehatID string) error {
	_, err := d.svc.MarkSynced(ctx, id, satuSehatID)
	switch {
	case errors.Is(err, patient.ErrNotFound):
		return satusehat.ErrPatientNotFound
	case errors.Is(err, patient.ErrAlreadySynced):
		return satusehat.ErrAlreadySynced
	}
	return err
}

func toRecord(p *patient.Patient) satusehat.PatientRecord {
	rec := satusehat.PatientRecord{
		ID:        p.ID,
		Name:      p.Name,
		NIK:       p.NIK,
		BirthDate: p.BirthDate,
		Gender:    p.Gender,
	}
	if p.Phone != nil {
		rec.Phone = *p.Phone
	}
	if p.SatuSehatID != nil {
		rec.SatuSehatID = *p.SatuSehatID
	}
	return rec
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "cbc-server",
		Short: "CBC Lite records API with Satu Sehat sync",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(satusehatCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
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

// migrationFiles returns the on-disk directory when one is given, otherwise
// the migrations compiled into the binary.
func migrationFiles(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
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

			count, err := db.NewMigrator(pool, migrationFiles(dir)).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Path to a migrations directory (default: embedded)")
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

			statuses, err := db.NewMigrator(pool, migrationFiles(dir)).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
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
	statusCmd.Flags().String("dir", "", "Path to a migrations directory (default: embedded)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func satusehatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "satusehat",
		Short: "Satu Sehat registry operations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "token",
		Short: "Acquire an access token and print its expiry",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Env)
			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			reg, err := newRegistry(ctx, cfg, pool, logger)
			if err != nil {
				return err
			}
			defer reg.Close()

			t, err := reg.tokens.Token(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Token valid until %s\n", t.ExpiresAt.UTC().Format(time.RFC3339))
			return nil
		},
	})

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Register one patient with Satu Sehat and store the returned id",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, _ := cmd.Flags().GetString("patient")
			patientID, err := uuid.Parse(raw)
			if err != nil {
				return fmt.Errorf("--patient must be a UUID: %w", err)
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Env)
			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			reg, err := newRegistry(ctx, cfg, pool, logger)
			if err != nil {
				return err
			}
			defer reg.Close()

			patientSvc := patient.NewService(patient.NewRepo(pool))
			syncSvc := satusehat.NewSyncService(newPatientDirectory(patientSvc), reg.client, satusehat.NewSyncLogPG(pool), logger)
			satuSehatID, err := syncSvc.SyncPatient(ctx, patientID)
			if err != nil {
				return err
			}
			fmt.Printf("Patient %s registered as %s\n", patientID, satuSehatID)
			return nil
		},
	}
	syncCmd.Flags().String("patient", "", "Patient UUID")
	cmd.AddCommand(syncCmd)

	return cmd
}

// registry bundles the Satu Sehat collaborators shared by the server and
// the CLI.
type registry struct {
	tokens *satusehat.TokenManager
	client *satusehat.Client
	redis  *redis.Client
}

func (r *registry) Close() {
	if r.redis != nil {
		_ = r.redis.Close()
	}
}

func newRegistry(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) (*registry, error) {
	creds := satusehat.NewCredentialStorePG(pool)
	if err := seedCredentials(ctx, creds, cfg); err != nil {
		return nil, err
	}

	reg := &registry{}
	var persister satusehat.TokenPersister
	if cfg.RedisURL != "" {
		rc, err := satusehat.NewRedisClient(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		reg.redis = rc
		persister = satusehat.NewRedisTokenPersister(rc, satusehat.DefaultTokenKey)
	}

	store := satusehat.NewTokenStore(persister)
	if err := store.Warm(ctx, time.Now()); err != nil {
		logger.Warn().Err(err).Msg("could not load persisted satusehat token")
	}

	reg.tokens = satusehat.NewTokenManager(cfg.SatuSehatAuthURL, creds, store,
		satusehat.WithTokenTimeout(cfg.SatuSehatTimeout),
		satusehat.WithTokenLogger(logger),
	)
	reg.client = satusehat.NewClient(cfg.SatuSehatFHIRURL, reg.tokens,
		satusehat.WithTimeout(cfg.SatuSehatTimeout),
		satusehat.WithLogger(logger),
		satusehat.WithIdentifierSystem(cfg.SatuSehatNIKSystem),
	)
	return reg, nil
}

// seedCredentials stores the configured credentials when none are stored
// yet. Credentials saved through the API take precedence afterwards.
func seedCredentials(ctx context.Context, store satusehat.CredentialStore, cfg *config.Config) error {
	seed := satusehat.Credentials{ClientID: cfg.SatuSehatClientID, ClientSecret: cfg.SatuSehatClientSecret}
	if !seed.Complete() {
		return nil
	}
	current, err := store.Load(ctx)
	if err != nil {
		return err
	}
	if current.Complete() {
		return nil
	}
	return store.Save(ctx, seed)
}

type handlers struct {
	patients   *patient.Handler
	encounters *encounter.Handler
	consents   *consent.Handler
	satusehat  *satusehat.Handler
	tokens     *satusehat.TokenManager
	dbHealth   echo.HandlerFunc
}

func newEcho(cfg *config.Config, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.JSONSerializer = codec.JSONSerializer{}
	e.Validator = validation.EchoValidator{}
	e.HTTPErrorHandler = middleware.HTTPErrorHandler(logger)

	e.Use(middleware.RequestID())
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders:  []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposeHeaders: []string{pagination.TotalCountHeader, pagination.NextOffsetHeader, middleware.RequestIDHeader},
	}))
	e.Use(echomw.BodyLimit("2M"))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	if cfg.IsDev() && cfg.AuthSigningKey == "" {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		}))
	}
	return e
}

func registerRoutes(e *echo.Echo, cfg *config.Config, h handlers) {
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":    "ok",
			"version":   version,
			"satusehat": h.tokens.Status(),
		})
	})
	e.GET("/health/db", h.dbHealth)

	rateLimitCfg := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		rateLimitCfg.RequestsPerSecond = cfg.RateLimitRPS
		rateLimitCfg.BurstSize = cfg.RateLimitBurst
	}
	api := e.Group("/api", middleware.RateLimit(rateLimitCfg))

	h.patients.RegisterRoutes(api)
	h.encounters.RegisterRoutes(api)
	h.consents.RegisterRoutes(api)
	h.satusehat.RegisterRoutes(api)
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	reg, err := newRegistry(ctx, cfg, pool, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up satusehat client")
	}
	defer reg.Close()

	patientSvc := patient.NewService(patient.NewRepo(pool))
	syncSvc := satusehat.NewSyncService(newPatientDirectory(patientSvc), reg.client, satusehat.NewSyncLogPG(pool), logger)

	e := newEcho(cfg, logger)
	registerRoutes(e, cfg, handlers{
		patients:   patient.NewHandler(patientSvc),
		encounters: encounter.NewHandler(encounter.NewService(encounter.NewRepo(pool))),
		consents:   consent.NewHandler(consent.NewService(consent.NewRepo(pool))),
		satusehat:  satusehat.NewHandler(reg.tokens, syncSvc, reg.client),
		tokens:     reg.tokens,
		dbHealth:   db.HealthHandler(pool),
	})

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("satusehat_fhir", cfg.SatuSehatFHIRURL).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
