// ordersサービスのエントリポイント。
// 注文の作成、参照、状態管理を担当する。
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/Dan203302/control-system-backend/internal/config"
	"github.com/Dan203302/control-system-backend/internal/orders"
	"github.com/Dan203302/control-system-backend/pkg/database"
	"github.com/Dan203302/control-system-backend/pkg/logger"
	"github.com/Dan203302/control-system-backend/pkg/serve"
	"github.com/Dan203302/control-system-backend/pkg/token"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("ordersサービスの起動に失敗: %v", err)
	}
}

func run() error {
	cfg, err := config.Load("")
	if err != nil {
		return err
	}
	zl, err := logger.New(cfg.Log, "orders")
	if err != nil {
		return err
	}
	defer func() { _ = zl.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, cfg.Orders.DatabasePath)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	if _, err := orders.Migrate(ctx, db, zl); err != nil {
		return err
	}

	codec, err := token.NewCodec(cfg.JWT.Secret, cfg.JWT.Algorithm)
	if err != nil {
		return err
	}
	server, err := orders.NewServer(orders.Options{
		Store:       orders.NewStore(db),
		Codec:       codec,
		CORSOrigins: cfg.CORSOrigins,
		Logger:      zl,
	})
	if err != nil {
		return err
	}

	zl.Info("ordersサービスを起動します", zap.Int("port", cfg.Orders.Port))
	return serve.ListenAndServe(ctx, fmt.Sprintf(":%d", cfg.Orders.Port), server.Handler(), zl)
}
