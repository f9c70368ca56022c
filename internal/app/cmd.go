package app

import (
	"io"
	"os"

	"github.com/spf13/cobra"
)

// Command はperkledgerバイナリのサブコマンド。
type Command string

const (
	// CommandServe はAPIサーバーを起動する。
	CommandServe Command = "serve"
	// CommandWorker は保持期間のクリーンアップを定期実行する。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを適用する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は稼働中のサーバーの /health を確認する。
	// distrolessイメージにはcurlがないためバイナリ自身で行う。
	CommandHealthcheck Command = "healthcheck"
)

// NewRootCommand はサブコマンドを登録したルートコマンドを生成する。
// サブコマンドなしで実行した場合はserveとして動作する。
func NewRootCommand(w io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "perkledger",
		Short:         "Member perk ledger API server and maintenance tools",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return start(cmd.Context(), w, CommandServe)
		},
	}
	root.SetOut(w)
	root.SetErr(w)

	root.AddCommand(
		&cobra.Command{
			Use:   string(CommandServe),
			Short: "Start the HTTP API server",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return start(cmd.Context(), w, CommandServe)
			},
		},
		&cobra.Command{
			Use:   string(CommandWorker),
			Short: "Run the retention cleanup on a schedule",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return start(cmd.Context(), w, CommandWorker)
			},
		},
		&cobra.Command{
			Use:   string(CommandMigrate),
			Short: "Apply database migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return start(cmd.Context(), w, CommandMigrate)
			},
		},
		newHealthcheckCommand(),
	)
	return root
}

// newHealthcheckCommand は設定の読み込みを行わない軽量なヘルスチェックコマンドを生成する。
func newHealthcheckCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   string(CommandHealthcheck),
		Short: "Check the /health endpoint of a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			port, _ := cmd.Flags().GetString("port")
			return runHealthcheck(port)
		},
	}
	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8080"
	}
	cmd.Flags().StringP("port", "p", port, "Port of the running server")
	return cmd
}
