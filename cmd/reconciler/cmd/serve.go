package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"settlement-reconciler/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Serve exposes upload, reconciliation, summary, table, export and clear
endpoints under /api until interrupted.

Examples:
  reconciler serve
  reconciler serve --addr :8080 --store-driver mysql --dsn 'user:pass@tcp(db:3306)/recon?parseTime=true'`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "listen address (default :3001)")
	serveCmd.Flags().StringSlice("cors-origins", nil, "allowed CORS origins, * for any")
	serveCmd.Flags().Float64("rate-limit", 0, "requests per second before 429s, 0 to disable (default 10)")

	viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
	viper.BindPFlag("server.cors_origins", serveCmd.Flags().Lookup("cors-origins"))
	viper.BindPFlag("server.rate_limit", serveCmd.Flags().Lookup("rate-limit"))
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return withProcessApp(ctx, func(a *app) error {
		srv := api.NewServer(cfg.APIConfig(), a.store, a.ingest, a.engine, a.aggregator, a.log)
		return srv.ListenAndServe(ctx)
	})
}
