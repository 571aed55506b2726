package main

import (
	"github.com/spf13/cobra"

	"github.com/Dan203302/control-system-backend/internal/config"
)

// rootOptions は全サブコマンド共通のフラグ。
type rootOptions struct {
	// configFile は設定ファイルのパス。空なら環境変数CONFIG_FILEを参照する。
	configFile string
}

// load は設定を読み込む。
func (o *rootOptions) load() (*config.Config, error) {
	return config.Load(o.configFile)
}

// newRootCmd はルートコマンドを生成する。
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:          "controlctl",
		Short:        "control-system-backendの運用ツール",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "設定ファイルのパス（省略時はCONFIG_FILE）")

	cmd.AddCommand(newTokenCmd(opts))
	cmd.AddCommand(newMigrateCmd(opts))
	return cmd
}
