package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"go.uber.org/zap"

	"github.com/terraconstructs/fhirapi/internal/auth"
	"github.com/terraconstructs/fhirapi/internal/authz"
	"github.com/terraconstructs/fhirapi/internal/db/bunx"
	"github.com/terraconstructs/fhirapi/internal/migrations"
	"github.com/terraconstructs/fhirapi/internal/repository"
	"github.com/terraconstructs/fhirapi/internal/server"
	"github.com/terraconstructs/fhirapi/internal/services/clinical"
	"github.com/terraconstructs/fhirapi/internal/services/validation"
	"github.com/terraconstructs/fhirapi/internal/telemetry"
)

var skipMigrations bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the FHIR API server",
	Long:  `Starts the HTTP server with the REST and Connect RPC endpoints.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.ValidateServe(); err != nil {
			return err
		}
		ctx := cmd.Context()

		shutdownTracing, err := telemetry.Init(ctx, cfg.OTel, logger)
		if err != nil {
			return fmt.Errorf("failed to initialise tracing: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(ctx); err != nil {
				logger.Warn("tracing shutdown failed", zap.Error(err))
			}
		}()

		db, err := openDB()
		if err != nil {
			return err
		}
		defer bunx.Close(db)
		logger.Info("connected to database", zap.String("type", string(bunx.DetectDatabaseType(cfg.DatabaseURL))))

		if !skipMigrations {
			group, err := migrations.Apply(ctx, db)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			if group.ID != 0 {
				logger.Info("applied migrations", zap.Int64("group", group.ID))
			}
		}

		services, err := buildServices(db)
		if err != nil {
			return err
		}

		issuer := auth.NewTokenIssuer(cfg.JWT.Secret, cfg.JWT.TTL)
		authenticator := auth.NewAuthenticator(repository.NewBunUserRepository(db), issuer, logger)
		verifier := auth.NewVerifier(cfg.JWT.Secret, cfg.TokenCacheSize, cfg.JWT.TTL)

		handler := server.NewH2CHandler(server.RouterOptions{
			Services:          services,
			Authenticator:     authenticator,
			Verifier:          verifier,
			Logger:            logger,
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		})

		srv := &http.Server{
			Addr:         cfg.ServerAddr,
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		serverErrors := make(chan error, 1)
		go func() {
			logger.Info("starting server", zap.String("addr", cfg.ServerAddr), zap.String("url", cfg.ServerURL))
			serverErrors <- srv.ListenAndServe()
		}()

		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(shutdown)

		select {
		case err := <-serverErrors:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("server error: %w", err)

		case sig := <-shutdown:
			logger.Info("shutting down gracefully", zap.String("signal", sig.String()))

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := srv.Shutdown(ctx); err != nil {
				_ = srv.Close()
				return fmt.Errorf("graceful shutdown failed: %w", err)
			}

			logger.Info("server stopped")
			return nil
		}
	},
}

// buildServices wires the clinical services to db.
func buildServices(db *bun.DB) (*clinical.Services, error) {
	validator, err := validation.NewResourceValidator(validation.DefaultCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to build resource validator: %w", err)
	}
	return clinical.New(clinical.Repositories{
		Patients:     repository.NewBunPatientRepository(db),
		Observations: repository.NewBunObservationRepository(db),
		Conditions:   repository.NewBunConditionRepository(db),
		Encounters:   repository.NewBunEncounterRepository(db),
	}, authz.DefaultRules(), validator, logger), nil
}

func init() {
	serveCmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "Do not apply pending migrations on startup")
	rootCmd.AddCommand(serveCmd)
}
