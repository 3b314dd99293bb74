package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/chintondutta/drawsync/internal/auth"
	"github.com/chintondutta/drawsync/internal/canvas"
	"github.com/chintondutta/drawsync/internal/chat"
	"github.com/chintondutta/drawsync/internal/config"
	"github.com/chintondutta/drawsync/internal/db"
	"github.com/chintondutta/drawsync/internal/fanout"
	clog "github.com/chintondutta/drawsync/internal/log"
	"github.com/chintondutta/drawsync/internal/mw"
	"github.com/chintondutta/drawsync/internal/presence"
	"github.com/chintondutta/drawsync/internal/ratelimit"
	"github.com/chintondutta/drawsync/internal/server"
	"github.com/chintondutta/drawsync/internal/service"
	"github.com/chintondutta/drawsync/internal/store"
	"github.com/chintondutta/drawsync/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	shutdownTimeout = 10 * time.Second
	sweepInterval   = time.Minute
	bucketIdle      = 10 * time.Minute
)

func loadConfig() (config.Config, error) {
	cfg := config.LoadFrom(viper.GetViper())
	if err := config.Validate(cfg); err != nil {
		return cfg, err
	}
	clog.Init(cfg.Env, cfg.LogLevel)
	return cfg, nil
}

// openStore 按配置选择协调存储。memory 后端只适用于单进程部署。
func openStore(ctx context.Context, cfg config.Config) (store.Store, func(), error) {
	if cfg.StoreBackend == "memory" {
		log.Warn().Msg("using in-memory coordination store, cross-instance fan-out disabled")
		return store.NewMemory(), func() {}, nil
	}
	client, err := store.Dial(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return store.NewRedis(client), func() { _ = client.Close() }, nil
}

func runServer(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}

	gdb, err := db.Connect(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	if err := db.Migrate(gdb); err != nil {
		return fmt.Errorf("db migrate: %w", err)
	}
	if sqlDB, err := gdb.DB(); err == nil {
		defer sqlDB.Close()
	}

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	users := service.NewUserService(gdb)
	rooms := service.NewRoomService(gdb)
	pub := fanout.NewPublisher(st)
	engine := canvas.NewEngine(st, service.NewDrawingService(gdb), pub)
	flusher := canvas.NewFlusher(engine, st, cfg.FlushDelay, cfg.StoreTimeout)
	registry := ws.NewRegistry()
	router := fanout.NewRouter(st, registry, flusher)
	tracker := presence.NewTracker(st, rooms, pub)
	chatSvc := chat.NewService(st, service.NewMessageService(gdb), rooms, users, pub)
	limiter := ratelimit.New(cfg.RateCapacity, cfg.RatePerSec)
	verifier := auth.NewVerifier(cfg.JWTSecret, users)
	httpLimiter := mw.NewRateLimiter(rate.Limit(20), 40, 10*time.Minute)

	hub := ws.NewHub(ws.Deps{
		Verifier:       verifier,
		Directory:      service.NewDirectory(rooms, users),
		Registry:       registry,
		Presence:       tracker,
		Chat:           chatSvc,
		Canvas:         engine,
		Out:            pub,
		Limiter:        limiter,
		StoreTimeout:   cfg.StoreTimeout,
		AllowedOrigins: cfg.AllowedOrigins,
	})
	handler := server.NewHandler(rooms, tracker, engine, chatSvc, cfg.StoreTimeout)
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.SetupRouter(cfg, handler, hub, verifier, httpLimiter),
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	bgCtx, cancelBg := context.WithCancel(context.Background())
	defer cancelBg()

	g, gctx := errgroup.WithContext(signalCtx)
	g.Go(func() error { return router.Run(bgCtx) })
	g.Go(func() error {
		limiter.RunSweeper(bgCtx, sweepInterval, bucketIdle)
		return nil
	})
	g.Go(func() error {
		httpLimiter.RunGC(bgCtx, sweepInterval)
		return nil
	})
	g.Go(func() error {
		log.Info().Str("addr", httpServer.Addr).Str("store", cfg.StoreBackend).Msg("server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("http shutdown")
		}
		// 会话离开时仍需要协调存储，后台循环在连接全部关闭后再停止。
		if err := hub.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("hub shutdown")
		}
		cancelBg()
		flusher.Wait()
		return nil
	})
	return g.Wait()
}
