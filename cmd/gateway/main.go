// API Gatewayサービスのエントリポイント。
// 外部からアクセス可能な唯一のサービスであり、ルーティング、レート制限、
// トークンの事前確認を行ってからusersとordersへ転送する。
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Dan203302/control-system-backend/internal/config"
	"github.com/Dan203302/control-system-backend/internal/gateway"
	"github.com/Dan203302/control-system-backend/pkg/logger"
	"github.com/Dan203302/control-system-backend/pkg/metrics"
	"github.com/Dan203302/control-system-backend/pkg/ratelimit"
	"github.com/Dan203302/control-system-backend/pkg/serve"
	"github.com/Dan203302/control-system-backend/pkg/token"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Gatewayサービスの起動に失敗: %v", err)
	}
}

func run() error {
	cfg, err := config.Load("")
	if err != nil {
		return err
	}
	zl, err := logger.New(cfg.Log, "gateway")
	if err != nil {
		return err
	}
	defer func() { _ = zl.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	var store ratelimit.Store
	switch cfg.Gateway.RateLimit.Store {
	case "redis":
		rs := ratelimit.NewRedisStore(ratelimit.NewRedisPool(cfg.Redis.RedisOptions()), cfg.Redis.KeyPrefix)
		defer func() { _ = rs.Close() }()
		// 起動時に疎通できなくても、制限をかけずに転送を続ける。
		if err := rs.Ping(ctx); err != nil {
			zl.Warn("Redisに接続できません", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		store = rs
	default:
		ms := ratelimit.NewMemoryStore()
		g.Go(func() error {
			ms.Run(gctx, cfg.Gateway.RateLimit.JanitorInterval)
			return nil
		})
		store = ms
	}

	codec, err := token.NewCodec(cfg.JWT.Secret, cfg.JWT.Algorithm)
	if err != nil {
		return err
	}
	server, err := gateway.NewServer(gateway.Options{
		Routes:         gateway.DefaultRoutes(cfg.Gateway),
		Limiter:        ratelimit.New(store),
		Codec:          codec,
		ProxyTimeout:   cfg.Gateway.ProxyTimeout,
		CORSOrigins:    cfg.CORSOrigins,
		TrustedProxies: cfg.Gateway.TrustedProxies,
		Logger:         zl,
		Metrics:        metrics.New("gateway"),
	})
	if err != nil {
		return err
	}

	zl.Info("Gatewayサービスを起動します",
		zap.Int("port", cfg.Gateway.Port),
		zap.String("rate_limit_store", cfg.Gateway.RateLimit.Store),
	)
	g.Go(func() error {
		return serve.ListenAndServe(gctx, fmt.Sprintf(":%d", cfg.Gateway.Port), server.Handler(), zl)
	})
	return g.Wait()
}
