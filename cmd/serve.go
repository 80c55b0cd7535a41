package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/KaramelBytes/edaloom/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the web UI and JSON API",
	Long: `Serve the single-page EDALoom UI. Upload a CSV or a ZIP of CSV files in the
browser, read the analysis, ask follow-up questions and export the result as
a standalone HTML file.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireConfig()
		if err != nil {
			return err
		}
		log, err := newLogger(zap.InfoLevel)
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		defer func() { _ = log.Sync() }()

		a, providerName, err := newApp(c, log)
		if err != nil {
			return err
		}
		addr := c.ListenAddr
		if cmd.Flags().Changed("addr") && serveAddr != "" {
			addr = serveAddr
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		srv := server.New(a, server.Config{Addr: addr, MaxUploadBytes: c.MaxUploadBytes()}, log.Named("http"))
		fmt.Printf("✓ EDALoom listening on http://%s (provider %s, model %s)\n", addr, providerName, c.ResolveModel())
		if err := srv.ListenAndServe(ctx); err != nil {
			return err
		}
		fmt.Println("✓ Server stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config listen_addr)")
}
