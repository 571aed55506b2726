package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Dan203302/control-system-backend/pkg/token"
)

// newTokenCmd はtokenコマンドを生成する。
func newTokenCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "アクセストークンを操作する",
	}
	cmd.AddCommand(newTokenIssueCmd(root))
	return cmd
}

// newTokenIssueCmd はtoken issueコマンドを生成する。
func newTokenIssueCmd(root *rootOptions) *cobra.Command {
	var (
		subject string
		roles   []string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "設定の共有鍵でアクセストークンを発行する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			codec, err := token.NewCodec(cfg.JWT.Secret, cfg.JWT.Algorithm)
			if err != nil {
				return err
			}
			if ttl == 0 {
				ttl = cfg.JWT.TTL()
			}
			tok, err := codec.Issue(subject, roles, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return err
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "トークンの主体（ユーザーID）")
	cmd.Flags().StringSliceVar(&roles, "roles", nil, "付与するロール（カンマ区切り）")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "有効期間（省略時は設定のjwt.expires_seconds）")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
