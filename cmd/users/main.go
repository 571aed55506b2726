// usersサービスのエントリポイント。
// ユーザー登録、ログインとトークン発行、プロフィール管理を担当する。
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
	"github.com/Dan203302/control-system-backend/internal/users"
	"github.com/Dan203302/control-system-backend/pkg/database"
	"github.com/Dan203302/control-system-backend/pkg/logger"
	"github.com/Dan203302/control-system-backend/pkg/serve"
	"github.com/Dan203302/control-system-backend/pkg/token"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("usersサービスの起動に失敗: %v", err)
	}
}

func run() error {
	cfg, err := config.Load("")
	if err != nil {
		return err
	}
	zl, err := logger.New(cfg.Log, "users")
	if err != nil {
		return err
	}
	defer func() { _ = zl.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, cfg.Users.DatabasePath)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	if _, err := users.Migrate(ctx, db, zl); err != nil {
		return err
	}

	codec, err := token.NewCodec(cfg.JWT.Secret, cfg.JWT.Algorithm)
	if err != nil {
		return err
	}
	server, err := users.NewServer(users.Options{
		Store:       users.NewStore(db),
		Codec:       codec,
		TokenTTL:    cfg.JWT.TTL(),
		CORSOrigins: cfg.CORSOrigins,
		Logger:      zl,
	})
	if err != nil {
		return err
	}

	zl.Info("usersサービスを起動します", zap.Int("port", cfg.Users.Port))
	return serve.ListenAndServe(ctx, fmt.Sprintf(":%d", cfg.Users.Port), server.Handler(), zl)
}
