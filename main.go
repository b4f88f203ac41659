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

	"sidequests/clock"
	"sidequests/config"
	"sidequests/handlers"
	"sidequests/middleware"
	"sidequests/routes"
	"sidequests/services"
	"sidequests/store"

	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "sidequests: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		port      string
		bind      string
		sweepOnce bool
	)
	flagSet := pflag.NewFlagSet("sidequests", pflag.ContinueOnError)
	flagSet.StringVar(&port, "port", "", "HTTP port (overrides PORT)")
	flagSet.StringVar(&bind, "bind", "", "bind address (overrides BIND_ADDRESS)")
	flagSet.BoolVar(&sweepOnce, "sweep-once", false, "run one expire and purge sweep, then exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if port != "" {
		cfg.Port = port
	}
	if bind != "" {
		cfg.BindAddress = bind
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)
	clk := clock.Real()

	// Initialize database
	db, err := config.InitDB(cfg, clk.Now)
	if err != nil {
		return err
	}
	if err := store.Migrate(db); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	st := store.New(db)

	var coordinator services.SweepCoordinator
	if redisClient := config.InitRedis(cfg); redisClient != nil {
		defer redisClient.Close()
		coordinator = services.NewRedisCoordinator(redisClient, "")
		logger.Info("sweep coordinated through redis", "addr", cfg.RedisAddr)
	} else {
		coordinator = services.NewLocalCoordinator(clk)
	}
	sweeper := services.NewSweeper(st, clk, coordinator, cfg.PurgeGrace, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if sweepOnce {
		report, err := sweeper.Sweep(ctx)
		if err != nil {
			return err
		}
		logger.Info("sweep finished", "expired", report.Expired, "deleted", report.Deleted)
		return nil
	}

	hub := services.NewHub(logger)
	go hub.Run(ctx)

	opts := services.Options{
		Events:          hub,
		Logger:          logger,
		DefaultDuration: cfg.DefaultQuestDuration,
		StartTimeSkew:   cfg.StartTimeSkew,
	}
	questService := services.NewQuestService(st, clk, opts)
	participantService := services.NewParticipantService(st, clk, opts)

	scheduler := services.NewSweepScheduler(sweeper, clk, services.SchedulerConfig{
		Interval:   cfg.SweepInterval,
		RetryDelay: cfg.SweepRetryDelay,
		LeaseTTL:   cfg.SweepLeaseTTL,
	})
	scheduler.Start(ctx)
	defer scheduler.Stop()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(logger), middleware.CORS(cfg.CORSOrigins))
	routes.SetupRoutes(router, routes.Handlers{
		Quests:       handlers.NewQuestHandler(questService, logger),
		Participants: handlers.NewParticipantHandler(participantService, hub, cfg.CORSOrigins, logger),
		Admin:        handlers.NewAdminHandler(sweeper, logger),
	}, cfg.JWTSecret, cfg.AdminToken)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
