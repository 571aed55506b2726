package main

import (
	"context"
	"database/sql"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Dan203302/control-system-backend/internal/orders"
	"github.com/Dan203302/control-system-backend/internal/users"
	"github.com/Dan203302/control-system-backend/pkg/database"
	"github.com/Dan203302/control-system-backend/pkg/logger"
	"github.com/Dan203302/control-system-backend/pkg/migration"
)

// migrator はサービスごとのマイグレーション操作。
type migrator struct {
	migrate func(context.Context, *sql.DB, *zap.Logger) (int, error)
	status  func(context.Context, *sql.DB) ([]migration.Migration, error)
}

// migrators はマイグレーション対象のサービス。
var migrators = map[string]migrator{
	"users":  {migrate: users.Migrate, status: users.MigrationStatus},
	"orders": {migrate: orders.Migrate, status: orders.MigrationStatus},
}

// newMigrateCmd はmigrateコマンドを生成する。
func newMigrateCmd(root *rootOptions) *cobra.Command {
	var (
		dbPath string
		status bool
	)
	cmd := &cobra.Command{
		Use:       "migrate users|orders",
		Short:     "サービスのデータベースにマイグレーションを適用する",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"users", "orders"},
		RunE: func(cmd *cobra.Command, args []string) error {
			service := args[0]
			m := migrators[service]

			cfg, err := root.load()
			if err != nil {
				return err
			}
			if dbPath == "" {
				dbPath = cfg.Users.DatabasePath
				if service == "orders" {
					dbPath = cfg.Orders.DatabasePath
				}
			}

			ctx := cmd.Context()
			db, err := database.Open(ctx, dbPath)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			out := cmd.OutOrStdout()
			if status {
				list, err := m.status(ctx, db)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "VERSION\tNAME\tAPPLIED")
				for _, mg := range list {
					fmt.Fprintf(w, "%d\t%s\t%t\n", mg.Version, mg.Name, mg.Applied)
				}
				return w.Flush()
			}

			zl, err := logger.New(cfg.Log, "controlctl")
			if err != nil {
				return err
			}
			defer func() { _ = zl.Sync() }()

			n, err := m.migrate(ctx, db, zl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(out, "%s: %d件のマイグレーションを適用しました\n", service, n)
			return err
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "データベースのパス（省略時は設定の値）")
	cmd.Flags().BoolVar(&status, "status", false, "適用せずに状態を表示する")
	return cmd
}
