package users

import (
	"context"
	"database/sql"
	"embed"

	"go.uber.org/zap"

	"github.com/Dan203302/control-system-backend/pkg/migration"
)

// migrationsFS はusersサービスのマイグレーションファイル。
//
//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrationsDir はmigrationsFS内のディレクトリ名。
const migrationsDir = "migrations"

// Migrate は未適用のマイグレーションを適用する。
func Migrate(ctx context.Context, db *sql.DB, log *zap.Logger) (int, error) {
	return migration.Run(ctx, db, migrationsFS, migrationsDir, log)
}

// MigrationStatus はマイグレーションの適用状態を返す。
func MigrationStatus(ctx context.Context, db *sql.DB) ([]migration.Migration, error) {
	return migration.Status(ctx, db, migrationsFS, migrationsDir)
}
