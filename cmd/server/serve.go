package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	router "github.com/dkeye/coderoom/internal/adapters/http"
	wssignal "github.com/dkeye/coderoom/internal/adapters/signal"
	"github.com/dkeye/coderoom/internal/app"
	"github.com/dkeye/coderoom/internal/app/orch"
	"github.com/dkeye/coderoom/internal/config"
	"github.com/dkeye/coderoom/internal/metrics"
	"github.com/dkeye/coderoom/internal/sandbox"
	"github.com/dkeye/coderoom/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the room server",
		RunE: func(cmd *cobra.Command, args []string) error {
			configFile, _ := cmd.Flags().GetString("config")
			return serve(cmd.Context(), configFile, cmd)
		},
	}
}

func openStore(cfg config.Store) (store.Store, error) {
	switch cfg.Driver {
	case "":
		return nil, nil
	case "sqlite":
		return store.NewSQLite(cfg.SQLitePath)
	case "s3":
		client := store.NewS3Client(store.S3Config{
			Bucket:    cfg.S3.Bucket,
			Prefix:    cfg.S3.Prefix,
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
		})
		return store.NewS3(client, cfg.S3.Bucket, cfg.S3.Prefix)
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}

func serve(parent context.Context, configFile string, cmd *cobra.Command) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return err
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	} else {
		log.Warn().Str("level", cfg.LogLevel).Msg("unknown log level, keeping info")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	st, err := openStore(cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	opts := []app.ManagerOption{app.WithMetrics(m)}
	if st != nil {
		defer st.Close()
		opts = append(opts, app.WithStore(st))
	}
	manager := app.NewRoomManager(opts...)
	policy, err := app.PolicyByName(cfg.Backpressure)
	if err != nil {
		return err
	}

	o := &orch.Orchestrator{
		Registry: app.NewRegistry(),
		Rooms:    manager,
		Policy:   policy,
		Runner:   sandbox.New(cfg.Sandbox.URL, cfg.Sandbox.Timeout),
		Metrics:  m,
	}
	ctl := wssignal.NewSignalWSController(o, wssignal.NewRoomRateLimiter(cfg.RateLimit.Events, cfg.RateLimit.Interval), m, wssignal.Options{
		ReadLimit:   cfg.ReadLimit,
		PingPeriod:  cfg.PingPeriod,
		PongWait:    cfg.PongWait(),
		SendBuffer:  cfg.SendBuffer,
		ExecTimeout: cfg.Sandbox.Timeout,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r := router.SetupRouter(ctx, cfg, o, ctl, reg)
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var serveErr error
	var wg conc.WaitGroup
	wg.Go(func() {
		log.Info().Str("addr", addr).Msg("coderoom server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	})
	wg.Go(func() {
		manager.RunSweeper(ctx, cfg.RoomTTL, cfg.SweepInterval)
	})

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	wg.Wait()
	log.Info().Msg("Server exited gracefully")
	return serveErr
}
