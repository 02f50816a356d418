//	@title			StaffHub API
//	@version		1.0
//	@description	HR backend: employee profiles and profile picture storage.
//
//	@host		localhost:8080
//	@BasePath	/api/v1
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				JWT Bearer token. Format: **Bearer {token}**

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/robfig/cron/v3"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/staffhub/service/internal/config"
	"github.com/staffhub/service/internal/db"
	"github.com/staffhub/service/internal/imaging"
	appMiddleware "github.com/staffhub/service/internal/middleware"
	"github.com/staffhub/service/internal/picture"
	"github.com/staffhub/service/internal/storage"
	"github.com/staffhub/service/internal/user"

	_ "github.com/staffhub/service/docs/swagger"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	level, err := parseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := newLogger(os.Stderr, level, cfg.IsProduction())
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := db.Migrate(cfg.DatabaseURL, logger); err != nil {
		return err
	}

	alloc, err := storage.NewAllocator(cfg.StorageRoot, cfg.StoragePublicBase)
	if err != nil {
		return err
	}
	store := storage.NewLocalStore(alloc.Root())

	// Wire dependencies: repository → service → handler
	userRepo := user.NewRepository(pool)
	userSvc := user.NewService(userRepo)
	userHandler := user.NewHandler(userSvc, logger)

	pictureSvc := picture.NewService(
		alloc,
		store,
		storage.NewReader(store),
		imaging.NewValidator(imaging.Policy{
			MaxBytes:     cfg.UploadMaxBytes,
			MinDimension: cfg.ImageMinDimension,
			MaxDimension: cfg.ImageMaxDimension,
		}),
		imaging.NewTransformer(cfg.TransformWorkers, cfg.TransformTimeout),
		userSvc,
		logger.With("component", "picture"),
	)
	pictureHandler := picture.NewHandler(pictureSvc, logger)
	uploadLimiter := appMiddleware.NewUserRateLimiter(cfg.UploadRatePerMin, cfg.UploadRateBurst)

	scheduler := cron.New(
		cron.WithLogger(cronLogger{logger: logger}),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger: logger})),
	)
	if cfg.SweepSchedule != "" {
		sweeper := picture.NewSweeper(store, userSvc, cfg.SweepGrace, logger.With("component", "sweep"))
		if _, err := scheduler.AddFunc(cfg.SweepSchedule, func() {
			if _, err := sweeper.Run(ctx); err != nil {
				logger.Error("profile picture sweep failed", "err", err)
			}
		}); err != nil {
			return err
		}
		scheduler.Start()
		defer func() { <-scheduler.Stop().Done() }()
	}

	// Router
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(appMiddleware.Logger(logger))
	r.Use(chiMiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	r.Route("/api/v1", func(r chi.Router) {
		// Stored assets are public; paths are unguessable.
		r.Get("/files/*", pictureHandler.Serve)
		r.Head("/files/*", pictureHandler.Serve)

		r.Route("/users", func(r chi.Router) {
			r.Use(appMiddleware.RequireAuth(cfg.JWTSecret))
			r.Get("/me", userHandler.GetMe)
			r.Delete("/me/profile-picture", pictureHandler.Remove)
			r.With(uploadLimiter.Middleware).Post("/me/profile-picture", pictureHandler.Upload)
			r.With(uploadLimiter.Middleware).Post("/me/avatar", pictureHandler.Upload)
		})
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr, "env", cfg.AppEnv, "storage_root", alloc.Root())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	logger.Info("server stopped")
	return nil
}
